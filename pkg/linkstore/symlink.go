package linkstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agenthands/sigcas/pkg/core"
	"github.com/google/uuid"
)

// symlinks keeps each link as <dir>/<pointer hex> -> <digest hex>.
type symlinks struct {
	dir string
}

// OpenSymlinks uses filesystem symbolic links inside dir.
func OpenSymlinks(dir string) (Links, error) {
	if dir == "" {
		return nil, fmt.Errorf("link directory not specified")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create link directory: %w", err)
	}
	return &symlinks{dir: dir}, nil
}

func (s *symlinks) Close() error { return nil }

func (s *symlinks) Set(ctx context.Context, p core.Pointer, d core.Digest) error {
	final := filepath.Join(s.dir, p.String())

	// A pointer never overwrites an object file.
	if fi, err := os.Lstat(final); err == nil && fi.Mode().IsRegular() {
		return fmt.Errorf("%w: pointer %s collides with an object", core.ErrWrite, p)
	}

	tmp := filepath.Join(s.dir, ".link-"+uuid.NewString())
	if err := os.Symlink(d.String(), tmp); err != nil {
		return fmt.Errorf("%w: creating link: %v", core.ErrWrite, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: placing link: %v", core.ErrWrite, err)
	}
	return nil
}

func (s *symlinks) Get(ctx context.Context, p core.Pointer) (core.Digest, bool, error) {
	return s.read(p.String())
}

func (s *symlinks) read(name string) (core.Digest, bool, error) {
	fi, err := os.Lstat(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return core.Digest{}, false, nil
		}
		return core.Digest{}, false, err
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		return core.Digest{}, false, nil
	}

	target, err := os.Readlink(filepath.Join(s.dir, name))
	if err != nil {
		return core.Digest{}, false, err
	}
	d, err := core.ParseDigest(filepath.Base(target))
	if err != nil {
		return core.Digest{}, false, fmt.Errorf("%w: link %s has target %q", core.ErrCorrupt, name, target)
	}
	return d, true, nil
}

func (s *symlinks) Iterate(ctx context.Context, fn func(p core.Pointer, d core.Digest) error) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.Type()&os.ModeSymlink == 0 {
			continue
		}
		p, err := core.ParsePointer(e.Name())
		if err != nil {
			continue // staging link or foreign file
		}
		d, ok, err := s.read(e.Name())
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := fn(p, d); err != nil {
			return err
		}
	}
	return nil
}
