package server_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/agenthands/sigcas/internal/testkit"
	"github.com/agenthands/sigcas/pkg/auth"
	"github.com/agenthands/sigcas/pkg/core"
	"github.com/agenthands/sigcas/pkg/router"
	"github.com/agenthands/sigcas/pkg/server"
	"github.com/agenthands/sigcas/pkg/sigcas"
	"github.com/klauspost/compress/zstd"
)

const (
	fooDigest      = "2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae"
	deadbeefFooPtr = "129208a8eac1bedd060645411baaae4aabc5d9e4c858942defe139b5ba15aba6"
)

func newTestServer(t *testing.T, cfg core.ServerConfig) (*server.Server, *httptest.Server) {
	t.Helper()
	store, err := sigcas.Open(context.Background(), sigcas.Config{
		Store: sigcas.StoreConfig{Dir: t.TempDir()},
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if cfg.SpoolDir == "" {
		cfg.SpoolDir = t.TempDir()
	}
	rt := router.New(store, auth.NewChain(auth.NewMock()), nil)
	srv := server.New(cfg, rt, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func do(t *testing.T, method, url string, body io.Reader, header http.Header) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(b)
}

func TestServer_Records(t *testing.T) {
	_, ts := newTestServer(t, core.ServerConfig{})

	t.Run("AnonymousPut", func(t *testing.T) {
		resp, body := do(t, http.MethodPut, ts.URL+"/", strings.NewReader("foo"), nil)
		if resp.StatusCode != http.StatusOK || body != fooDigest {
			t.Fatalf("PUT = %d %q", resp.StatusCode, body)
		}

		resp, body = do(t, http.MethodGet, ts.URL+"/"+fooDigest, nil, nil)
		if resp.StatusCode != http.StatusOK || body != "foo" {
			t.Fatalf("GET = %d %q", resp.StatusCode, body)
		}
		if etag := resp.Header.Get("ETag"); etag != `"`+fooDigest+`"` {
			t.Errorf("ETag = %q", etag)
		}
		if resp.Header.Get(server.HeaderPointer) != "" {
			t.Error("immutable read should not carry a pointer header")
		}
	})

	t.Run("NotModified", func(t *testing.T) {
		h := http.Header{"If-None-Match": {`"` + fooDigest + `"`}}
		resp, _ := do(t, http.MethodGet, ts.URL+"/"+fooDigest, nil, h)
		if resp.StatusCode != http.StatusNotModified {
			t.Errorf("status = %d, want 304", resp.StatusCode)
		}
	})

	t.Run("SignedPut", func(t *testing.T) {
		h := http.Header{"Authorization": {"PUBSIG mock:foo:foo"}}
		resp, body := do(t, http.MethodPut, ts.URL+"/deadbeef", strings.NewReader("foobar"), h)
		if resp.StatusCode != http.StatusOK || body != deadbeefFooPtr {
			t.Fatalf("PUT = %d %q", resp.StatusCode, body)
		}

		resp, body = do(t, http.MethodGet, ts.URL+"/"+deadbeefFooPtr, nil, nil)
		if resp.StatusCode != http.StatusOK || body != "foobar" {
			t.Fatalf("GET = %d %q", resp.StatusCode, body)
		}
		if resp.Header.Get(server.HeaderPointer) != deadbeefFooPtr {
			t.Errorf("pointer header = %q", resp.Header.Get(server.HeaderPointer))
		}
		if resp.Header.Get(server.HeaderCID) == "" {
			t.Error("missing CID header")
		}
	})

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		header http.Header
		want   int
	}{
		{"NonHex", http.MethodGet, "/teadbeef", "", nil, http.StatusBadRequest},
		{"NeverWritten", http.MethodGet, "/" + strings.Repeat("ab", 32), "", nil, http.StatusNotFound},
		{"ShortHex", http.MethodGet, "/deadbeef", "", nil, http.StatusNotFound},
		{"Malformed", http.MethodPut, "/x", "body", http.Header{"Authorization": {"PUBSIG mock"}}, http.StatusForbidden},
		{"Mismatch", http.MethodPut, "/x", "body", http.Header{"Authorization": {"PUBSIG mock:foo:bar"}}, http.StatusForbidden},
		{"EmptyKey", http.MethodPut, "/x", "body", http.Header{"Authorization": {"PUBSIG mock::"}}, http.StatusForbidden},
		{"Post", http.MethodPost, "/x", "body", nil, http.StatusBadRequest},
		{"Delete", http.MethodDelete, "/" + fooDigest, "", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body io.Reader
			if tc.body != "" {
				body = strings.NewReader(tc.body)
			}
			resp, _ := do(t, tc.method, ts.URL+tc.path, body, tc.header)
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestServer_RequestID(t *testing.T) {
	_, ts := newTestServer(t, core.ServerConfig{})

	resp, _ := do(t, http.MethodGet, ts.URL+"/"+fooDigest, nil, nil)
	if resp.Header.Get(server.HeaderRequestID) == "" {
		t.Error("expected a generated request id")
	}

	resp, _ = do(t, http.MethodGet, ts.URL+"/"+fooDigest, nil, http.Header{server.HeaderRequestID: {"abc-123"}})
	if got := resp.Header.Get(server.HeaderRequestID); got != "abc-123" {
		t.Errorf("request id = %q, want it echoed", got)
	}
}

func TestServer_Encodings(t *testing.T) {
	_, ts := newTestServer(t, core.ServerConfig{CompressResponses: true, MaxBodyBytes: 1 << 20})
	data := testkit.CompressibleBytes(testkit.RNG(7), 256<<10)
	sum := sha256.Sum256(data)
	want := hex.EncodeToString(sum[:])

	t.Run("ZstdRequest", func(t *testing.T) {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			t.Fatal(err)
		}
		compressed := enc.EncodeAll(data, nil)
		enc.Close()

		h := http.Header{"Content-Encoding": {"zstd"}}
		resp, body := do(t, http.MethodPut, ts.URL+"/", bytes.NewReader(compressed), h)
		if resp.StatusCode != http.StatusOK || body != want {
			t.Fatalf("PUT = %d %q, want %s", resp.StatusCode, body, want)
		}
	})

	t.Run("GzipResponse", func(t *testing.T) {
		// Setting Accept-Encoding by hand disables the client's transparent
		// decompression.
		h := http.Header{"Accept-Encoding": {"gzip"}}
		resp, body := do(t, http.MethodGet, ts.URL+"/"+want, nil, h)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET = %d", resp.StatusCode)
		}
		if resp.Header.Get("Content-Encoding") != "gzip" {
			t.Errorf("Content-Encoding = %q", resp.Header.Get("Content-Encoding"))
		}
		if len(body) >= len(data) {
			t.Errorf("compressed body is %d bytes for %d input", len(body), len(data))
		}
	})

	t.Run("UnknownEncoding", func(t *testing.T) {
		h := http.Header{"Content-Encoding": {"br"}}
		resp, _ := do(t, http.MethodPut, ts.URL+"/", strings.NewReader("x"), h)
		if resp.StatusCode != http.StatusUnsupportedMediaType {
			t.Errorf("status = %d, want 415", resp.StatusCode)
		}
	})

	t.Run("CorruptZstd", func(t *testing.T) {
		h := http.Header{"Content-Encoding": {"zstd"}}
		resp, _ := do(t, http.MethodPut, ts.URL+"/", strings.NewReader("definitely not zstd"), h)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})
}

func TestServer_MaxBody(t *testing.T) {
	spool := t.TempDir()
	_, ts := newTestServer(t, core.ServerConfig{MaxBodyBytes: 16, SpoolDir: spool})

	resp, _ := do(t, http.MethodPut, ts.URL+"/", strings.NewReader(strings.Repeat("x", 32)), nil)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPut, ts.URL+"/", strings.NewReader(strings.Repeat("x", 16)), nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 at the limit", resp.StatusCode)
	}

	entries, err := os.ReadDir(spool)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("%d files left in spool dir", len(entries))
	}
}

func TestServer_MaxInflight(t *testing.T) {
	_, ts := newTestServer(t, core.ServerConfig{MaxInflight: 1})

	body, unpause := testkit.NewPauseReader(strings.NewReader("held"))
	done := make(chan int, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPut, ts.URL+"/", body)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()

	busy := false
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, _ := do(t, http.MethodGet, ts.URL+"/"+fooDigest, nil, nil)
		if resp.StatusCode == http.StatusServiceUnavailable {
			busy = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	unpause()

	if !busy {
		t.Error("second request was never turned away")
	}
	if status := <-done; status != http.StatusOK {
		t.Errorf("held request finished with %d", status)
	}
}

func TestServer_Metrics(t *testing.T) {
	srv, ts := newTestServer(t, core.ServerConfig{})
	do(t, http.MethodPut, ts.URL+"/", strings.NewReader("foo"), nil)
	do(t, http.MethodGet, ts.URL+"/zz", nil, nil)

	rec := httptest.NewRecorder()
	srv.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	out := rec.Body.String()

	for _, want := range []string{
		`sigcas_requests_total{method="PUT",result="changed"} 1`,
		`sigcas_requests_total{method="GET",result="input_error"} 1`,
		`sigcas_stored_bytes_total 3`,
		`sigcas_request_duration_seconds_count{method="PUT"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestServer_Serve(t *testing.T) {
	store, err := sigcas.Open(context.Background(), sigcas.Config{Store: sigcas.StoreConfig{Dir: t.TempDir()}})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	srv := server.New(core.ServerConfig{ShutdownTimeout: time.Second}, router.New(store, nil, nil), nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	mln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.ServeListeners(ctx, ln, mln) }()

	resp, body := do(t, http.MethodPut, "http://"+ln.Addr().String()+"/", strings.NewReader("foo"), nil)
	if resp.StatusCode != http.StatusOK || body != fooDigest {
		t.Errorf("PUT = %d %q", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodGet, "http://"+mln.Addr().String()+"/metrics", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[router.Kind]int{
		router.Found:       http.StatusOK,
		router.Changed:     http.StatusOK,
		router.AuthError:   http.StatusForbidden,
		router.InputError:  http.StatusBadRequest,
		router.RecordError: http.StatusNotFound,
		router.WriteError:  http.StatusInternalServerError,
	}
	for k, want := range cases {
		if got := server.StatusFor(k); got != want {
			t.Errorf("StatusFor(%s) = %d, want %d", k, got, want)
		}
	}
}
