package auth

import (
	"io"

	"github.com/agenthands/sigcas/pkg/core"
)

const MethodMock = "mock"

// Mock accepts any credential whose key equals its signature and uses the key
// as the identity. For development setups only.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (*Mock) Method() string { return MethodMock }

func (*Mock) Verify(spec Spec, _ io.ReadSeeker) (core.Identity, error) {
	if spec.Method != MethodMock {
		return nil, ErrUnsupportedMethod
	}
	if !spec.Valid() {
		return nil, ErrInvalidCredential
	}
	if spec.Key != spec.Signature {
		return nil, ErrSignatureMismatch
	}
	return core.Identity(spec.Key), nil
}
