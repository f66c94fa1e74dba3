package auth

import (
	"errors"
	"fmt"
	"io"

	"github.com/agenthands/sigcas/pkg/core"
)

// Chain tries verifiers in order and accepts the first success.
type Chain struct {
	verifiers []Verifier
}

// NewChain builds a chain from an ordered list of verifiers.
func NewChain(verifiers ...Verifier) *Chain {
	return &Chain{verifiers: verifiers}
}

// NewChainFromNames builds a chain from configured backend names.
func NewChainFromNames(names []string) (*Chain, error) {
	vs := make([]Verifier, 0, len(names))
	for _, name := range names {
		switch name {
		case MethodMock:
			vs = append(vs, NewMock())
		case MethodSecp256k1:
			vs = append(vs, NewSecp256k1())
		case MethodEd25519:
			vs = append(vs, NewEd25519())
		default:
			return nil, fmt.Errorf("unknown auth backend %q", name)
		}
	}
	return NewChain(vs...), nil
}

// Methods lists the configured backends in priority order.
func (c *Chain) Methods() []string {
	out := make([]string, len(c.verifiers))
	for i, v := range c.verifiers {
		out[i] = v.Method()
	}
	return out
}

// Verify runs spec through every verifier until one succeeds. The body is
// rewound before each attempt and once more before returning.
func (c *Chain) Verify(spec Spec, body io.ReadSeeker) (id core.Identity, err error) {
	if !spec.Valid() {
		return nil, ErrInvalidCredential
	}

	defer func() {
		if _, serr := body.Seek(0, io.SeekStart); serr != nil && err == nil {
			id, err = nil, fmt.Errorf("rewinding body: %w", serr)
		}
	}()

	var errs []error
	for _, v := range c.verifiers {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewinding body: %w", err)
		}
		id, err := v.Verify(spec, body)
		if err == nil && len(id) > 0 {
			return id, nil
		}
		if err == nil {
			err = fmt.Errorf("%s returned an empty identity", v.Method())
		}
		errs = append(errs, fmt.Errorf("%s: %w", v.Method(), err))
	}

	if len(errs) == 0 {
		return nil, ErrNoBackends
	}
	return nil, fmt.Errorf("%w: %w", ErrNoBackends, errors.Join(errs...))
}

// Resolve maps a request credential to an Outcome. credential is nil when the
// request carried no credential at all; verb names the request method and is
// recorded on specs that fail to parse.
func (c *Chain) Resolve(credential *string, verb string, body io.ReadSeeker) Outcome {
	if credential == nil {
		return Outcome{State: Anonymous}
	}

	spec, err := SpecFromHeader(*credential, verb)
	if err != nil {
		return Outcome{State: Rejected, Err: err}
	}
	if !spec.Valid() {
		return Outcome{State: Rejected, Err: ErrInvalidCredential}
	}

	id, err := c.Verify(spec, body)
	if err != nil {
		return Outcome{State: Rejected, Err: err}
	}
	return Outcome{State: Authenticated, Identity: id}
}
