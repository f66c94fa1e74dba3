package sigcas

import (
	"context"
	"io"

	"github.com/agenthands/sigcas/pkg/core"
)

type Digest = core.Digest
type Pointer = core.Pointer
type Address = core.Address
type Identity = core.Identity

// Record is the result of a successful write.
type Record struct {
	Digest  Digest
	Pointer *Pointer // set for mutable writes
}

// Info describes a stored object.
type Info struct {
	Digest  Digest
	Size    int64
	Pointer *Pointer // set when the lookup went through a mutable link
	CID     string   // CIDv1 (raw codec) form of Digest
}

// Store is the primary interface for SigCAS.
type Store interface {
	// PutImmutable stores body under its content digest. expectedSize > 0
	// requires the body to be exactly that long.
	PutImmutable(ctx context.Context, body io.Reader, expectedSize int64) (Record, error)
	// PutMutable stores body and points ptr at it.
	PutMutable(ctx context.Context, ptr Pointer, body io.Reader, expectedSize int64) (Record, error)
	// Link points ptr at an object that is already stored.
	Link(ctx context.Context, ptr Pointer, d Digest) error

	Get(ctx context.Context, addr Address) (io.ReadCloser, Info, error)
	Stat(ctx context.Context, addr Address) (Info, error)

	Walk(ctx context.Context, fn func(d Digest) error) error
	WalkLinks(ctx context.Context, fn func(p Pointer, d Digest) error) error

	Close() error
}
