// Package auth decides whether a write is anonymous or bound to a verified
// identity.
//
// Credentials arrive as a header value of the form
//
//	PUBSIG method:key:signature
//
// and are checked by a Chain of pluggable Verifiers, tried in priority order.
package auth

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/agenthands/sigcas/pkg/core"
)

// Scheme is the only accepted credential prefix.
const Scheme = "PUBSIG"

var (
	ErrMalformed         = errors.New("auth: credential malformed")
	ErrInvalidCredential = errors.New("auth: credential invalid")
	ErrUnsupportedMethod = errors.New("auth: unsupported method")
	ErrSignatureMismatch = errors.New("auth: key signature mismatch")
	ErrNoBackends        = errors.New("auth: no backend accepted the credential")
)

// Spec is a parsed credential.
type Spec struct {
	Method    string
	Key       string
	Signature string
}

// Valid reports whether the credential carries key material. A Spec with an
// empty key is invalid regardless of backend.
func (s Spec) Valid() bool {
	return len(s.Key) > 0
}

func (s Spec) String() string {
	return fmt.Sprintf("%s key %q", s.Method, s.Key)
}

// ParseSpec parses the wire encoding of a credential.
func ParseSpec(header string) (Spec, error) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != Scheme {
		return Spec{}, fmt.Errorf("%w: want %q prefix and one triple", ErrMalformed, Scheme)
	}

	fields := strings.Split(parts[1], ":")
	if len(fields) != 3 {
		return Spec{}, fmt.Errorf("%w: want 3 colon separated fields, got %d", ErrMalformed, len(fields))
	}

	return Spec{
		Method:    fields[0],
		Key:       fields[1],
		Signature: fields[2],
	}, nil
}

// SpecFromHeader parses header, turning a parse failure into a Spec with an
// empty key so that it resolves to Rejected rather than Anonymous.
func SpecFromHeader(header, verb string) (Spec, error) {
	s, err := ParseSpec(header)
	if err != nil {
		return Spec{Method: verb}, err
	}
	return s, nil
}

// Verifier checks a credential against the request body. body is positioned
// at the start on entry; implementations may read it to the end.
//
// A nil error must come with a non-empty identity.
type Verifier interface {
	Method() string
	Verify(spec Spec, body io.ReadSeeker) (core.Identity, error)
}

// State is the tri-state outcome of authentication.
type State int

const (
	Anonymous State = iota
	Authenticated
	Rejected
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome is the result of resolving a request's credential.
type Outcome struct {
	State    State
	Identity core.Identity // set only when State == Authenticated
	Err      error         // why the credential was rejected
}
