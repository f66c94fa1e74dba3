package linkstore

import (
	"context"
	"fmt"

	"github.com/agenthands/sigcas/pkg/core"
)

// Links is the mutable indirection layer: each pointer designates exactly one
// immutable object digest at a time. Set replaces atomically; a concurrent Get
// sees either the old or the new target, never a partial record.
type Links interface {
	Set(ctx context.Context, p core.Pointer, d core.Digest) error
	Get(ctx context.Context, p core.Pointer) (core.Digest, bool, error)
	Iterate(ctx context.Context, fn func(p core.Pointer, d core.Digest) error) error
	Close() error
}

// Open returns the backend named by cfg.Links.
func Open(cfg core.StoreConfig) (Links, error) {
	switch cfg.Links {
	case core.LinksSymlink, "":
		return OpenSymlinks(cfg.Dir)
	case core.LinksPebble:
		return OpenPebble(cfg.CatalogDir)
	default:
		return nil, fmt.Errorf("unsupported link backend: %s", cfg.Links)
	}
}
