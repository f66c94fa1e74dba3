package sigcas

import (
	"github.com/agenthands/sigcas/pkg/core"
)

var (
	ErrNotFound     = core.ErrNotFound
	ErrInvalidInput = core.ErrInvalidInput
	ErrRead         = core.ErrRead
	ErrWrite        = core.ErrWrite
	ErrCorrupt      = core.ErrCorrupt
	ErrClosed       = core.ErrClosed
)
