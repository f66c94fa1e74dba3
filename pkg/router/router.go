// Package router turns a parsed request into a store operation and classifies
// the outcome for the transport layer.
package router

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/agenthands/sigcas/pkg/auth"
	"github.com/agenthands/sigcas/pkg/core"
	"github.com/agenthands/sigcas/pkg/logging"
	"github.com/agenthands/sigcas/pkg/resource"
	"github.com/agenthands/sigcas/pkg/sigcas"
	"go.uber.org/zap"
)

// Verb is the operation a request asks for.
type Verb int

const (
	Read Verb = iota
	Write
)

var ErrUnsupportedVerb = errors.New("router: unsupported verb")

// ParseVerb maps a transport method to a verb.
func ParseVerb(method string) (Verb, error) {
	switch method {
	case "GET":
		return Read, nil
	case "PUT":
		return Write, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedVerb, method)
	}
}

// Request is one read or write as delivered by the transport.
type Request struct {
	Method string
	// Name is the resource name for writes and the hex address for reads.
	Name string
	// Body must be seekable: auth backends may read it before it is stored.
	Body         io.ReadSeeker
	ExpectedSize int64
	// Credential is nil when the request carried none.
	Credential *string
}

// Router routes requests to the store.
type Router struct {
	store sigcas.Store
	auth  *auth.Chain
	log   *zap.Logger
}

// New returns a router. A nil chain rejects every credential.
func New(store sigcas.Store, chain *auth.Chain, log *zap.Logger) *Router {
	if chain == nil {
		chain = auth.NewChain()
	}
	return &Router{
		store: store,
		auth:  chain,
		log:   logging.OrNop(log),
	}
}

// Handle processes one request to completion.
func (r *Router) Handle(ctx context.Context, req Request) Result {
	verb, err := ParseVerb(req.Method)
	if err != nil {
		r.log.Debug("unsupported verb", zap.String("method", req.Method))
		return Result{Kind: InputError, Payload: "unsupported method"}
	}

	if verb == Read {
		return r.read(ctx, req.Name)
	}
	return r.write(ctx, req)
}

func (r *Router) write(ctx context.Context, req Request) Result {
	body := req.Body
	if body == nil {
		body = bytes.NewReader(nil)
	}

	outcome := r.auth.Resolve(req.Credential, req.Method, body)
	switch outcome.State {
	case auth.Rejected:
		r.log.Info("credential rejected", zap.String("name", req.Name), zap.Error(outcome.Err))
		return Result{Kind: AuthError, Payload: "credential rejected"}

	case auth.Authenticated:
		key := resource.DeriveKey(req.Name)
		ptr := key.Pointer(outcome.Identity)
		r.log.Debug("mutable put",
			zap.Stringer("identity", outcome.Identity),
			zap.String("name", req.Name),
			zap.Stringer("key", key),
			zap.Stringer("pointer", ptr))

		rec, err := r.store.PutMutable(ctx, ptr, body, req.ExpectedSize)
		if err != nil {
			return r.writeFailure(rec, err)
		}
		r.log.Info("mutable record changed", zap.Stringer("pointer", ptr), zap.Stringer("digest", rec.Digest))
		return Result{Kind: Changed, Payload: ptr.String()}

	default:
		rec, err := r.store.PutImmutable(ctx, body, req.ExpectedSize)
		if err != nil {
			return r.writeFailure(rec, err)
		}
		r.log.Info("immutable record stored", zap.Stringer("digest", rec.Digest))
		return Result{Kind: Changed, Payload: rec.Digest.String()}
	}
}

func (r *Router) writeFailure(rec sigcas.Record, err error) Result {
	r.log.Error("write failed", zap.Error(err))

	switch {
	case errors.Is(err, core.ErrRead):
		return Result{Kind: RecordError, Payload: "cannot read request body"}
	case errors.Is(err, core.ErrWrite) && !rec.Digest.IsZero():
		// The object landed but its pointer did not move.
		return Result{Kind: WriteError, Payload: fmt.Sprintf("stored %s but could not update pointer", rec.Digest)}
	case errors.Is(err, core.ErrWrite):
		return Result{Kind: WriteError, Payload: "cannot store record"}
	default:
		return Result{Kind: RecordError, Payload: "cannot store record"}
	}
}

func (r *Router) read(ctx context.Context, name string) Result {
	raw, err := hex.DecodeString(name)
	if err != nil {
		return Result{Kind: InputError, Payload: "name is not valid hex"}
	}
	if len(raw) != core.Size {
		return Result{Kind: RecordError, Payload: "no such record"}
	}

	var addr core.Address
	copy(addr[:], raw)

	rc, info, err := r.store.Get(ctx, addr)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			r.log.Error("read failed", zap.Stringer("address", addr), zap.Error(err))
		}
		return Result{Kind: RecordError, Payload: "no such record"}
	}

	r.log.Debug("record found", zap.Stringer("address", addr), zap.Stringer("digest", info.Digest))
	return Result{Kind: Found, Content: rc, Info: &info}
}
