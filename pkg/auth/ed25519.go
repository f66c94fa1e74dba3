package auth

import (
	"crypto"
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/agenthands/sigcas/pkg/core"
)

const MethodEd25519 = "ed25519"

// Ed25519 verifies an Ed25519ph signature, which signs SHA-512(body) and so
// lets the body be streamed. The key is the hex public key.
type Ed25519 struct{}

func NewEd25519() *Ed25519 { return &Ed25519{} }

func (*Ed25519) Method() string { return MethodEd25519 }

func (*Ed25519) Verify(spec Spec, body io.ReadSeeker) (core.Identity, error) {
	if spec.Method != MethodEd25519 {
		return nil, ErrUnsupportedMethod
	}

	pub, err := hex.DecodeString(spec.Key)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: key must be %d hex bytes", ErrInvalidCredential, ed25519.PublicKeySize)
	}
	sig, err := hex.DecodeString(spec.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: signature must be %d hex bytes", ErrInvalidCredential, ed25519.SignatureSize)
	}

	h := sha512.New()
	if _, err := io.Copy(h, body); err != nil {
		return nil, fmt.Errorf("hashing body: %w", err)
	}
	if err := ed25519.VerifyWithOptions(ed25519.PublicKey(pub), h.Sum(nil), sig, &ed25519.Options{Hash: crypto.SHA512}); err != nil {
		return nil, ErrSignatureMismatch
	}

	return core.Identity(pub), nil
}

// SignEd25519 produces a credential header for body.
func SignEd25519(priv ed25519.PrivateKey, body io.Reader) (string, error) {
	h := sha512.New()
	if _, err := io.Copy(h, body); err != nil {
		return "", fmt.Errorf("hashing body: %w", err)
	}
	sig, err := priv.Sign(nil, h.Sum(nil), &ed25519.Options{Hash: crypto.SHA512})
	if err != nil {
		return "", err
	}
	pub := priv.Public().(ed25519.PublicKey)
	return FormatHeader(MethodEd25519, hex.EncodeToString(pub), hex.EncodeToString(sig)), nil
}
