package linkstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/agenthands/sigcas/internal/testkit"
	"github.com/agenthands/sigcas/pkg/core"
	"github.com/agenthands/sigcas/pkg/digest"
)

func benchBackends(b *testing.B) map[string]Links {
	b.Helper()
	dir, err := os.MkdirTemp("", "bench-linkstore-*")
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { os.RemoveAll(dir) })

	sym, err := OpenSymlinks(filepath.Join(dir, "objects"))
	if err != nil {
		b.Fatal(err)
	}
	peb, err := OpenPebble(filepath.Join(dir, "catalog"))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() {
		sym.Close()
		peb.Close()
	})
	return map[string]Links{"Symlink": sym, "Pebble": peb}
}

func randomPointers(n int) []core.Pointer {
	rng := testkit.RNG(int64(n))
	ptrs := make([]core.Pointer, n)
	for i := range ptrs {
		ptrs[i] = core.Pointer(digest.Sum(testkit.RandomBytes(rng, 32)))
	}
	return ptrs
}

func BenchmarkSet(b *testing.B) {
	const N = 512
	ptrs := randomPointers(N)
	targets := []core.Digest{digest.Sum([]byte("first")), digest.Sum([]byte("second"))}

	for name, l := range benchBackends(b) {
		b.Run(name, func(b *testing.B) {
			ctx := context.Background()

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				// Cycling over a fixed set exercises both first writes and repoints.
				if err := l.Set(ctx, ptrs[i%N], targets[(i/N)%2]); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkGet(b *testing.B) {
	const N = 512
	ptrs := randomPointers(N)
	target := digest.Sum([]byte("target"))

	for name, l := range benchBackends(b) {
		b.Run(name, func(b *testing.B) {
			ctx := context.Background()
			for _, p := range ptrs {
				if err := l.Set(ctx, p, target); err != nil {
					b.Fatal(err)
				}
			}

			b.ResetTimer()
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				if _, _, err := l.Get(ctx, ptrs[i%N]); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
