package router

import (
	"fmt"
	"io"

	"github.com/agenthands/sigcas/pkg/sigcas"
)

// Kind classifies the outcome of a request.
type Kind int

const (
	Found Kind = iota
	Changed
	AuthError
	InputError
	RecordError
	WriteError
)

func (k Kind) String() string {
	switch k {
	case Found:
		return "found"
	case Changed:
		return "changed"
	case AuthError:
		return "auth_error"
	case InputError:
		return "input_error"
	case RecordError:
		return "record_error"
	case WriteError:
		return "write_error"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// OK reports whether the request succeeded.
func (k Kind) OK() bool {
	return k == Found || k == Changed
}

// Result is what the router hands back to the transport. Payload carries the
// hex reference for Changed and a short diagnostic for failures. Content is
// set only for Found and must be closed by the caller.
type Result struct {
	Kind    Kind
	Payload string
	Content io.ReadCloser
	Info    *sigcas.Info
}
