package sigcas

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/agenthands/sigcas/pkg/core"
	"github.com/agenthands/sigcas/pkg/digest"
	"github.com/agenthands/sigcas/pkg/linkstore"
)

// objectMode is applied to staged content before it is placed.
const objectMode = 0o444

const stagingPattern = ".staging-*"

type store struct {
	cfg   StoreConfig
	links linkstore.Links

	closed atomic.Bool
}

// Open initializes and opens a SigCAS store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	sc := cfg.Store
	if sc.Dir == "" {
		return nil, fmt.Errorf("%w: store directory not specified", ErrInvalidInput)
	}
	if sc.CatalogDir == "" {
		sc.CatalogDir = filepath.Join(sc.Dir, ".catalog")
	}

	if err := os.MkdirAll(sc.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	links, err := linkstore.Open(sc)
	if err != nil {
		return nil, fmt.Errorf("failed to open link store: %w", err)
	}

	return &store{cfg: sc, links: links}, nil
}

func (s *store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.links.Close()
}

func (s *store) PutImmutable(ctx context.Context, body io.Reader, expectedSize int64) (Record, error) {
	if s.closed.Load() {
		return Record{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	d, err := s.place(body, expectedSize)
	if err != nil {
		return Record{}, err
	}
	return Record{Digest: d}, nil
}

func (s *store) PutMutable(ctx context.Context, ptr Pointer, body io.Reader, expectedSize int64) (Record, error) {
	rec, err := s.PutImmutable(ctx, body, expectedSize)
	if err != nil {
		return Record{}, err
	}

	// The object stays retrievable by digest even if linking fails.
	if err := s.links.Set(ctx, ptr, rec.Digest); err != nil {
		if !errors.Is(err, ErrWrite) {
			err = fmt.Errorf("%w: %v", ErrWrite, err)
		}
		return rec, fmt.Errorf("linking %s: %w", ptr, err)
	}

	rec.Pointer = &ptr
	return rec, nil
}

func (s *store) Link(ctx context.Context, ptr Pointer, d Digest) error {
	if s.closed.Load() {
		return ErrClosed
	}
	ok, err := s.hasObject(d.Address())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: object %s", ErrNotFound, d)
	}
	return s.links.Set(ctx, ptr, d)
}

// place streams body into a private staging file and then moves it to its
// digest-named path. The staging file never outlives the call.
func (s *store) place(body io.Reader, expectedSize int64) (Digest, error) {
	tmp, err := os.CreateTemp(s.cfg.Dir, stagingPattern)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: creating staging file: %v", ErrWrite, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	d, _, err := digest.Copy(tmp, body, expectedSize)
	if err != nil {
		tmp.Close()
		return Digest{}, err
	}

	if s.cfg.Fsync {
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			return Digest{}, fmt.Errorf("%w: syncing staging file: %v", ErrWrite, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return Digest{}, fmt.Errorf("%w: closing staging file: %v", ErrWrite, err)
	}
	if err := os.Chmod(tmpPath, objectMode); err != nil {
		return Digest{}, fmt.Errorf("%w: %v", ErrWrite, err)
	}

	final := s.path(d.Address())
	if fi, err := os.Lstat(final); err == nil {
		if fi.Mode().IsRegular() {
			return d, nil
		}
		return Digest{}, fmt.Errorf("%w: %s exists and is not an object", ErrWrite, d)
	}

	// Link never replaces an existing name, so racing writers of the same
	// content leave exactly one object behind.
	if err := os.Link(tmpPath, final); err != nil {
		if errors.Is(err, os.ErrExist) {
			return d, nil
		}
		if err := os.Rename(tmpPath, final); err != nil {
			return Digest{}, fmt.Errorf("%w: placing object: %v", ErrWrite, err)
		}
	}

	if s.cfg.Fsync {
		if err := syncDir(s.cfg.Dir); err != nil {
			return Digest{}, fmt.Errorf("%w: syncing store directory: %v", ErrWrite, err)
		}
	}
	return d, nil
}

func (s *store) Get(ctx context.Context, addr Address) (io.ReadCloser, Info, error) {
	if s.closed.Load() {
		return nil, Info{}, ErrClosed
	}

	d, ptr, err := s.resolve(ctx, addr)
	if err != nil {
		return nil, Info{}, err
	}

	f, err := os.Open(s.path(d.Address()))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, Info{}, fmt.Errorf("%w: link target %s missing", ErrNotFound, d)
		}
		return nil, Info{}, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Info{}, err
	}

	return f, s.info(d, ptr, fi.Size()), nil
}

func (s *store) Stat(ctx context.Context, addr Address) (Info, error) {
	if s.closed.Load() {
		return Info{}, ErrClosed
	}

	d, ptr, err := s.resolve(ctx, addr)
	if err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(s.path(d.Address()))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Info{}, fmt.Errorf("%w: link target %s missing", ErrNotFound, d)
		}
		return Info{}, err
	}
	return s.info(d, ptr, fi.Size()), nil
}

// resolve looks addr up as a digest first and then as a pointer.
func (s *store) resolve(ctx context.Context, addr Address) (Digest, *Pointer, error) {
	ok, err := s.hasObject(addr)
	if err != nil {
		return Digest{}, nil, err
	}
	if ok {
		return Digest(addr), nil, nil
	}

	p := Pointer(addr)
	d, ok, err := s.links.Get(ctx, p)
	if err != nil {
		return Digest{}, nil, err
	}
	if !ok {
		return Digest{}, nil, ErrNotFound
	}
	return d, &p, nil
}

func (s *store) hasObject(addr Address) (bool, error) {
	fi, err := os.Lstat(s.path(addr))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return fi.Mode().IsRegular(), nil
}

func (s *store) info(d Digest, ptr *Pointer, size int64) Info {
	return Info{
		Digest:  d,
		Size:    size,
		Pointer: ptr,
		CID:     digest.CID(d).String(),
	}
}

func (s *store) Walk(ctx context.Context, fn func(d Digest) error) error {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !e.Type().IsRegular() {
			continue
		}
		d, err := core.ParseDigest(e.Name())
		if err != nil {
			continue // staging files
		}
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

func (s *store) WalkLinks(ctx context.Context, fn func(p Pointer, d Digest) error) error {
	return s.links.Iterate(ctx, fn)
}

func (s *store) path(addr Address) string {
	return filepath.Join(s.cfg.Dir, addr.String())
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
