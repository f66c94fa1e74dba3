package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/agenthands/sigcas/pkg/core"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

const MethodSecp256k1 = "secp256k1"

// Secp256k1 verifies a DER encoded ECDSA signature over SHA-256(body). The
// key is a hex compressed public key, which is also the identity.
type Secp256k1 struct{}

func NewSecp256k1() *Secp256k1 { return &Secp256k1{} }

func (*Secp256k1) Method() string { return MethodSecp256k1 }

func (*Secp256k1) Verify(spec Spec, body io.ReadSeeker) (core.Identity, error) {
	if spec.Method != MethodSecp256k1 {
		return nil, ErrUnsupportedMethod
	}

	keyBytes, err := hex.DecodeString(spec.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: key is not hex: %v", ErrInvalidCredential, err)
	}
	pub, err := secp256k1.ParsePubKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	sigBytes, err := hex.DecodeString(spec.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not hex: %v", ErrInvalidCredential, err)
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	h := sha256.New()
	if _, err := io.Copy(h, body); err != nil {
		return nil, fmt.Errorf("hashing body: %w", err)
	}
	if !sig.Verify(h.Sum(nil), pub) {
		return nil, ErrSignatureMismatch
	}

	return core.Identity(pub.SerializeCompressed()), nil
}

// SignSecp256k1 produces a credential header for body.
func SignSecp256k1(priv *secp256k1.PrivateKey, body io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, body); err != nil {
		return "", fmt.Errorf("hashing body: %w", err)
	}
	sig := ecdsa.Sign(priv, h.Sum(nil))
	return FormatHeader(MethodSecp256k1,
		hex.EncodeToString(priv.PubKey().SerializeCompressed()),
		hex.EncodeToString(sig.Serialize())), nil
}

// FormatHeader renders a credential in wire form.
func FormatHeader(method, key, signature string) string {
	return fmt.Sprintf("%s %s:%s:%s", Scheme, method, key, signature)
}
