package auth

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/agenthands/sigcas/pkg/core"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func TestParseSpec(t *testing.T) {
	t.Run("WellFormed", func(t *testing.T) {
		s, err := ParseSpec("PUBSIG mock:bar:baz")
		if err != nil {
			t.Fatalf("ParseSpec failed: %v", err)
		}
		if s.Method != "mock" || s.Key != "bar" || s.Signature != "baz" {
			t.Errorf("unexpected spec %+v", s)
		}
		if !s.Valid() {
			t.Error("expected spec with key to be valid")
		}
	})

	t.Run("EmptyKeyIsInvalid", func(t *testing.T) {
		s, err := ParseSpec("PUBSIG mock::baz")
		if err != nil {
			t.Fatalf("ParseSpec failed: %v", err)
		}
		if s.Valid() {
			t.Error("expected spec with empty key to be invalid")
		}
	})

	malformed := []string{
		"",
		"PUBSIG",
		"foo:bar:baz",
		"BEARER mock:bar:bar",
		"PUBSIG mock:bar",
		"PUBSIG mock:bar:baz:qux",
		"PUBSIG mock:bar:bar extra",
		"PUBSIG  mock:bar:bar",
	}
	for _, h := range malformed {
		if _, err := ParseSpec(h); !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseSpec(%q): expected ErrMalformed, got %v", h, err)
		}
	}

	t.Run("SpecFromHeaderFallsBackToEmptyKey", func(t *testing.T) {
		s, err := SpecFromHeader("garbage", "PUT")
		if err == nil {
			t.Fatal("expected parse error")
		}
		if s.Valid() || s.Method != "PUT" {
			t.Errorf("unexpected fallback spec %+v", s)
		}
	})
}

func TestMock(t *testing.T) {
	m := NewMock()

	if _, err := m.Verify(Spec{Method: "foo", Key: "bar", Signature: "baz"}, nil); !errors.Is(err, ErrUnsupportedMethod) {
		t.Errorf("expected ErrUnsupportedMethod, got %v", err)
	}
	if _, err := m.Verify(Spec{Method: "mock", Key: "bar", Signature: "baz"}, nil); !errors.Is(err, ErrSignatureMismatch) {
		t.Errorf("expected ErrSignatureMismatch, got %v", err)
	}
	id, err := m.Verify(Spec{Method: "mock", Key: "bar", Signature: "bar"}, nil)
	if err != nil {
		t.Fatalf("expected mock credential to verify: %v", err)
	}
	if string(id) != "bar" {
		t.Errorf("identity = %q, want %q", id, "bar")
	}
}

func TestSecp256k1(t *testing.T) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	body := []byte("foobar")

	header, err := SignSecp256k1(priv, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	spec, err := ParseSpec(header)
	if err != nil {
		t.Fatalf("signed header did not parse: %v", err)
	}

	v := NewSecp256k1()

	t.Run("Valid", func(t *testing.T) {
		id, err := v.Verify(spec, bytes.NewReader(body))
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if !bytes.Equal(id, priv.PubKey().SerializeCompressed()) {
			t.Error("identity is not the compressed public key")
		}
	})

	t.Run("TamperedBody", func(t *testing.T) {
		if _, err := v.Verify(spec, bytes.NewReader([]byte("foobaz"))); !errors.Is(err, ErrSignatureMismatch) {
			t.Errorf("expected ErrSignatureMismatch, got %v", err)
		}
	})

	t.Run("OtherKey", func(t *testing.T) {
		other, _ := secp256k1.GeneratePrivateKey()
		forged := spec
		forged.Key = hexKey(other)
		if _, err := v.Verify(forged, bytes.NewReader(body)); !errors.Is(err, ErrSignatureMismatch) {
			t.Errorf("expected ErrSignatureMismatch, got %v", err)
		}
	})

	t.Run("GarbageKey", func(t *testing.T) {
		bad := spec
		bad.Key = "zz"
		if _, err := v.Verify(bad, bytes.NewReader(body)); !errors.Is(err, ErrInvalidCredential) {
			t.Errorf("expected ErrInvalidCredential, got %v", err)
		}
	})
}

func TestEd25519(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	body := []byte("some payload to sign")

	header, err := SignEd25519(priv, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	spec, err := ParseSpec(header)
	if err != nil {
		t.Fatal(err)
	}

	v := NewEd25519()
	id, err := v.Verify(spec, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !bytes.Equal(id, priv.Public().(ed25519.PublicKey)) {
		t.Error("identity is not the public key")
	}

	if _, err := v.Verify(spec, bytes.NewReader([]byte("other payload"))); !errors.Is(err, ErrSignatureMismatch) {
		t.Errorf("expected ErrSignatureMismatch, got %v", err)
	}
}

func TestChainResolve(t *testing.T) {
	body := bytes.NewReader([]byte("foobar"))
	str := func(s string) *string { return &s }

	t.Run("NoCredentialIsAnonymous", func(t *testing.T) {
		o := NewChain().Resolve(nil, "PUT", body)
		if o.State != Anonymous {
			t.Errorf("state = %s, want anonymous", o.State)
		}
	})

	t.Run("MalformedIsRejected", func(t *testing.T) {
		o := NewChain(NewMock()).Resolve(str("PUBSIG mock:bar"), "PUT", body)
		if o.State != Rejected || !errors.Is(o.Err, ErrMalformed) {
			t.Errorf("got %s (%v), want rejected/malformed", o.State, o.Err)
		}
	})

	t.Run("EmptyKeyIsRejected", func(t *testing.T) {
		o := NewChain(NewMock()).Resolve(str("PUBSIG mock::"), "PUT", body)
		if o.State != Rejected {
			t.Errorf("state = %s, want rejected", o.State)
		}
	})

	t.Run("NoBackendsIsRejected", func(t *testing.T) {
		o := NewChain().Resolve(str("PUBSIG mock:foo:foo"), "PUT", body)
		if o.State != Rejected || !errors.Is(o.Err, ErrNoBackends) {
			t.Errorf("got %s (%v), want rejected/no backends", o.State, o.Err)
		}
	})

	t.Run("FirstSuccessWins", func(t *testing.T) {
		c := NewChain(NewSecp256k1(), NewEd25519(), NewMock())
		o := c.Resolve(str("PUBSIG mock:foo:foo"), "PUT", body)
		if o.State != Authenticated {
			t.Fatalf("state = %s (%v), want authenticated", o.State, o.Err)
		}
		if string(o.Identity) != "foo" {
			t.Errorf("identity = %q", o.Identity)
		}
	})

	t.Run("ExhaustedIsRejected", func(t *testing.T) {
		c := NewChain(NewSecp256k1(), NewMock())
		o := c.Resolve(str("PUBSIG mock:foo:bar"), "PUT", body)
		if o.State != Rejected {
			t.Errorf("state = %s, want rejected", o.State)
		}
	})

	t.Run("EmptyIdentityIsNotAccepted", func(t *testing.T) {
		c := NewChain(emptyVerifier{})
		o := c.Resolve(str("PUBSIG empty:k:s"), "PUT", body)
		if o.State != Rejected {
			t.Errorf("state = %s, want rejected", o.State)
		}
	})

	t.Run("BodyRewoundForEachBackend", func(t *testing.T) {
		rec := &recordingVerifier{}
		c := NewChain(rec, rec)
		src := bytes.NewReader([]byte("payload"))
		c.Resolve(str("PUBSIG rec:k:s"), "PUT", src)

		if len(rec.seen) != 2 || rec.seen[0] != "payload" || rec.seen[1] != "payload" {
			t.Errorf("backends saw %q", rec.seen)
		}
		if pos, _ := src.Seek(0, io.SeekCurrent); pos != 0 {
			t.Errorf("body left at offset %d", pos)
		}
	})
}

func TestNewChainFromNames(t *testing.T) {
	c, err := NewChainFromNames([]string{"secp256k1", "ed25519", "mock"})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(c.Methods(), ","); got != "secp256k1,ed25519,mock" {
		t.Errorf("methods = %s", got)
	}

	if _, err := NewChainFromNames([]string{"pgp"}); err == nil {
		t.Error("expected unknown backend to fail")
	}
}

type emptyVerifier struct{}

func (emptyVerifier) Method() string { return "empty" }
func (emptyVerifier) Verify(Spec, io.ReadSeeker) (core.Identity, error) {
	return nil, nil
}

type recordingVerifier struct {
	seen []string
}

func (r *recordingVerifier) Method() string { return "rec" }
func (r *recordingVerifier) Verify(_ Spec, body io.ReadSeeker) (core.Identity, error) {
	b, _ := io.ReadAll(body)
	r.seen = append(r.seen, string(b))
	return nil, ErrSignatureMismatch
}

func hexKey(priv *secp256k1.PrivateKey) string {
	return hex.EncodeToString(priv.PubKey().SerializeCompressed())
}
