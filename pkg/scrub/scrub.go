// Package scrub checks a store's integrity in the background. It reports
// problems but never deletes or rewrites anything.
package scrub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agenthands/sigcas/pkg/core"
	"github.com/agenthands/sigcas/pkg/digest"
	"github.com/agenthands/sigcas/pkg/logging"
	"github.com/agenthands/sigcas/pkg/sigcas"
	"go.uber.org/zap"
)

// Result contains statistics from a scrub pass.
type Result struct {
	Objects int
	Links   int
	Bytes   int64

	// Corrupt lists objects whose content no longer hashes to their name.
	Corrupt []sigcas.Digest
	// Dangling lists pointers whose target object is missing.
	Dangling []sigcas.Pointer
}

// Clean reports whether the pass found nothing wrong.
func (r Result) Clean() bool {
	return len(r.Corrupt) == 0 && len(r.Dangling) == 0
}

// Runner defines the scrub interface.
type Runner interface {
	RunOnce(ctx context.Context) (Result, error)
	Start(ctx context.Context)
	Stop()
}

type runner struct {
	cfg   core.ScrubConfig
	store sigcas.Store
	log   *zap.Logger

	mu      sync.Mutex // serialises passes
	stateMu sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewRunner creates a new scrub runner.
func NewRunner(cfg core.ScrubConfig, store sigcas.Store, log *zap.Logger) Runner {
	if cfg.RunEvery <= 0 {
		cfg.RunEvery = time.Hour
	}
	return &runner{
		cfg:   cfg,
		store: store,
		log:   logging.OrNop(log),
	}
}

func (r *runner) RunOnce(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	var res Result

	err := r.store.Walk(ctx, func(d sigcas.Digest) error {
		res.Objects++
		size, err := r.check(ctx, d)
		res.Bytes += size
		switch {
		case errors.Is(err, core.ErrCorrupt):
			r.log.Warn("corrupt object", zap.Stringer("digest", d))
			res.Corrupt = append(res.Corrupt, d)
		case errors.Is(err, core.ErrNotFound):
			// Removed by an operator mid-pass.
			res.Objects--
		case err != nil:
			return err
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("checking objects: %w", err)
	}

	err = r.store.WalkLinks(ctx, func(p sigcas.Pointer, d sigcas.Digest) error {
		res.Links++
		info, err := r.store.Stat(ctx, d.Address())
		switch {
		case errors.Is(err, core.ErrNotFound), err == nil && info.Digest != d:
			r.log.Warn("dangling link", zap.Stringer("pointer", p), zap.Stringer("digest", d))
			res.Dangling = append(res.Dangling, p)
		case err != nil:
			return err
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("checking links: %w", err)
	}

	r.log.Info("scrub finished",
		zap.Int("objects", res.Objects),
		zap.Int("links", res.Links),
		zap.Int64("bytes", res.Bytes),
		zap.Int("corrupt", len(res.Corrupt)),
		zap.Int("dangling", len(res.Dangling)),
		zap.Duration("took", time.Since(start)))
	return res, nil
}

// check rehashes one object and returns its size.
func (r *runner) check(ctx context.Context, d sigcas.Digest) (int64, error) {
	rc, info, err := r.store.Get(ctx, d.Address())
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	// A lookup that fell through to a link means the object file is gone.
	if info.Pointer != nil {
		return 0, core.ErrNotFound
	}
	return info.Size, digest.Verify(d, rc)
}

func (r *runner) Start(ctx context.Context) {
	r.stateMu.Lock()
	if r.running || !r.cfg.Enabled {
		r.stateMu.Unlock()
		return
	}
	r.running = true
	stopCh := make(chan struct{})
	done := make(chan struct{})
	r.stopCh, r.done = stopCh, done
	r.stateMu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			// A cancelled ctx ends the loop without Stop; clear the flag so
			// the runner can be started again.
			r.stateMu.Lock()
			if r.done == done {
				r.running = false
			}
			r.stateMu.Unlock()
		}()
		ticker := time.NewTicker(r.cfg.RunEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
					r.log.Error("scrub failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop halts the background loop and waits for an in-progress pass.
func (r *runner) Stop() {
	r.stateMu.Lock()
	if !r.running {
		r.stateMu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	done := r.done
	r.stateMu.Unlock()
	<-done
}
