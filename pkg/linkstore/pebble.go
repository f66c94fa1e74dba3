package linkstore

import (
	"context"
	"fmt"
	"time"

	"github.com/agenthands/sigcas/pkg/core"
	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"
)

var PrefixP2D = []byte("p2d:")

// record is the on-disk value of one link.
type record struct {
	Version   uint16 `cbor:"version"`
	Digest    []byte `cbor:"digest"`
	UpdatedAt int64  `cbor:"updated_at"`
}

type pebbleLinks struct {
	db      *pebble.DB
	encMode cbor.EncMode
}

// OpenPebble keeps links as CBOR records in a pebble database, for hosts where
// symbolic links are unavailable.
func OpenPebble(dir string) (Links, error) {
	if dir == "" {
		return nil, fmt.Errorf("catalog directory not specified")
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}
	em, _ := cbor.CanonicalEncOptions().EncMode()
	return &pebbleLinks{db: db, encMode: em}, nil
}

func (l *pebbleLinks) Close() error {
	return l.db.Close()
}

func (l *pebbleLinks) Set(ctx context.Context, p core.Pointer, d core.Digest) error {
	val, err := l.encMode.Marshal(record{
		Version:   1,
		Digest:    d[:],
		UpdatedAt: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("%w: encoding link: %v", core.ErrWrite, err)
	}
	if err := l.db.Set(pointerKey(p), val, pebble.Sync); err != nil {
		return fmt.Errorf("%w: %v", core.ErrWrite, err)
	}
	return nil
}

func (l *pebbleLinks) Get(ctx context.Context, p core.Pointer) (core.Digest, bool, error) {
	val, closer, err := l.db.Get(pointerKey(p))
	if err != nil {
		if err == pebble.ErrNotFound {
			return core.Digest{}, false, nil
		}
		return core.Digest{}, false, err
	}
	defer closer.Close()

	d, err := decodeRecord(val)
	if err != nil {
		return core.Digest{}, false, err
	}
	return d, true, nil
}

func (l *pebbleLinks) Iterate(ctx context.Context, fn func(p core.Pointer, d core.Digest) error) error {
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: PrefixP2D,
		UpperBound: incrementByte(PrefixP2D),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		k := iter.Key()[len(PrefixP2D):]
		if len(k) != core.Size {
			continue
		}
		var p core.Pointer
		copy(p[:], k)

		d, err := decodeRecord(iter.Value())
		if err != nil {
			return err
		}
		if err := fn(p, d); err != nil {
			return err
		}
	}
	return iter.Error()
}

func decodeRecord(val []byte) (core.Digest, error) {
	var rec record
	if err := cbor.Unmarshal(val, &rec); err != nil {
		return core.Digest{}, fmt.Errorf("%w: failed to unmarshal link: %v", core.ErrCorrupt, err)
	}
	if rec.Version != 1 {
		return core.Digest{}, fmt.Errorf("%w: unsupported link version %d", core.ErrCorrupt, rec.Version)
	}
	if len(rec.Digest) != core.Size {
		return core.Digest{}, fmt.Errorf("%w: invalid digest length %d", core.ErrCorrupt, len(rec.Digest))
	}
	var d core.Digest
	copy(d[:], rec.Digest)
	return d, nil
}

func pointerKey(p core.Pointer) []byte {
	key := make([]byte, 0, len(PrefixP2D)+core.Size)
	key = append(key, PrefixP2D...)
	return append(key, p[:]...)
}

func incrementByte(b []byte) []byte {
	res := make([]byte, len(b))
	copy(res, b)
	for i := len(res) - 1; i >= 0; i-- {
		res[i]++
		if res[i] != 0 {
			return res
		}
	}
	return nil
}
