// Package archive moves a store's contents in and out of CARv2 files.
//
// Objects are split into content-defined chunks, and every chunk becomes a
// raw block addressed by the CIDv1 of its sha2-256 digest. The link table
// travels as a single DagCBOR root block that lists each object's digest and
// chunk CIDs next to the pointer table, so an archive can be restored into an
// empty directory without knowing the identities that produced the pointers.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/agenthands/sigcas/pkg/core"
	"github.com/agenthands/sigcas/pkg/digest"
	"github.com/agenthands/sigcas/pkg/sigcas"
	"github.com/fxamacker/cbor/v2"
	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	carv2 "github.com/ipld/go-car/v2"
	"github.com/ipld/go-car/v2/blockstore"
	"github.com/multiformats/go-multihash"
)

// TableVersion is the link table format written by Export.
const TableVersion = 2

// MaxSection bounds every block Export writes and Import accepts. Chunks are
// far below it; only a very large link table can reach it.
const MaxSection = 32 << 20

var (
	ErrNoTable       = errors.New("archive: no link table root")
	ErrBadTable      = errors.New("archive: malformed link table")
	ErrUnknownCode   = errors.New("archive: unexpected block codec")
	ErrTableTooLarge = errors.New("archive: link table exceeds section limit")
	ErrMissingChunk  = errors.New("archive: chunk missing from archive")
)

// Stats summarises an export or import.
type Stats struct {
	Objects int
	Links   int
	Chunks  int
	Bytes   int64
}

type linkTable struct {
	Version uint16        `cbor:"version"`
	Objects []objectEntry `cbor:"objects"`
	Links   []linkEntry   `cbor:"links"`
}

type objectEntry struct {
	Digest []byte   `cbor:"digest"`
	Size   int64    `cbor:"size"`
	Chunks [][]byte `cbor:"chunks"`
}

type linkEntry struct {
	Pointer []byte `cbor:"pointer"`
	Digest  []byte `cbor:"digest"`
}

var tablePrefix = cid.Prefix{
	Version:  1,
	Codec:    cid.DagCBOR,
	MhType:   multihash.SHA2_256,
	MhLength: -1,
}

// Export writes every object and link in store to a new CARv2 file at path
// using DefaultChunking.
func Export(ctx context.Context, store sigcas.Store, path string) (Stats, error) {
	return ExportWith(ctx, store, path, DefaultChunking)
}

// ExportWith is Export with explicit chunk bounds.
func ExportWith(ctx context.Context, store sigcas.Store, path string, chunking Chunking) (Stats, error) {
	var st Stats

	if err := chunking.validate(); err != nil {
		return st, err
	}

	// The table is only known once every object has been chunked. The header
	// starts with a placeholder of the same encoded size and is swapped for
	// the real root after Finalize.
	placeholder, err := tablePrefix.Sum(nil)
	if err != nil {
		return st, err
	}
	bs, err := blockstore.OpenReadWrite(path, []cid.Cid{placeholder})
	if err != nil {
		return st, fmt.Errorf("creating archive: %w", err)
	}
	fail := func(err error) (Stats, error) {
		bs.Discard()
		os.Remove(path)
		return st, err
	}

	table := linkTable{Version: TableVersion}
	err = store.Walk(ctx, func(d sigcas.Digest) error {
		entry, n, err := exportObject(ctx, bs, store, d, chunking)
		if err != nil {
			return err
		}
		table.Objects = append(table.Objects, entry)
		st.Objects++
		st.Chunks += n
		st.Bytes += entry.Size
		return nil
	})
	if err != nil {
		return fail(err)
	}

	err = store.WalkLinks(ctx, func(p sigcas.Pointer, d sigcas.Digest) error {
		table.Links = append(table.Links, linkEntry{Pointer: p[:], Digest: d[:]})
		return nil
	})
	if err != nil {
		return fail(fmt.Errorf("listing links: %w", err))
	}

	root, err := encodeTable(table)
	if err != nil {
		return fail(err)
	}
	if err := bs.Put(ctx, root); err != nil {
		return fail(fmt.Errorf("writing link table: %w", err))
	}
	if err := bs.Finalize(); err != nil {
		os.Remove(path)
		return st, fmt.Errorf("finalizing archive: %w", err)
	}
	if err := carv2.ReplaceRootsInFile(path, []cid.Cid{root.Cid()}); err != nil {
		os.Remove(path)
		return st, fmt.Errorf("writing archive root: %w", err)
	}

	st.Links = len(table.Links)
	return st, nil
}

// exportObject streams one object through the chunker into bs. The object is
// rehashed on the way so a corrupt file never reaches the archive.
func exportObject(ctx context.Context, bs *blockstore.ReadWrite, store sigcas.Store, d sigcas.Digest, chunking Chunking) (objectEntry, int, error) {
	entry := objectEntry{Digest: d[:]}

	rc, _, err := store.Get(ctx, d.Address())
	if err != nil {
		return entry, 0, fmt.Errorf("reading %s: %w", d, err)
	}
	defer rc.Close()

	h := digest.New()
	err = chunking.split(ctx, io.TeeReader(rc, h), func(data []byte) error {
		c := digest.CID(digest.Sum(data))
		blk, err := blocks.NewBlockWithCid(data, c)
		if err != nil {
			return err
		}
		if err := bs.Put(ctx, blk); err != nil {
			return fmt.Errorf("writing chunk of %s: %w", d, err)
		}
		entry.Chunks = append(entry.Chunks, c.Bytes())
		entry.Size += int64(len(data))
		return nil
	})
	if err != nil {
		return entry, 0, fmt.Errorf("exporting %s: %w", d, err)
	}

	var got core.Digest
	copy(got[:], h.Sum(nil))
	if got != d {
		return entry, 0, fmt.Errorf("%w: %s hashes to %s", core.ErrCorrupt, d, got)
	}
	return entry, len(entry.Chunks), nil
}

// Import loads an archive written by Export into store. Each object is
// reassembled chunk by chunk straight into the store, and every chunk and
// the whole object are checked against their digests on the way; links are
// restored last so each one lands on an object that is already present.
func Import(ctx context.Context, path string, store sigcas.Store) (Stats, error) {
	var st Stats

	bs, err := blockstore.OpenReadOnly(path, carv2.MaxAllowedSectionSize(MaxSection))
	if err != nil {
		return st, fmt.Errorf("opening archive: %w", err)
	}
	defer bs.Close()

	roots, err := bs.Roots()
	if err != nil {
		return st, fmt.Errorf("reading archive header: %w", err)
	}
	if len(roots) != 1 {
		return st, fmt.Errorf("%w: archive has %d roots", ErrNoTable, len(roots))
	}
	blk, err := bs.Get(ctx, roots[0])
	if err != nil {
		return st, fmt.Errorf("%w: %v", ErrNoTable, err)
	}
	table, err := decodeTable(blk)
	if err != nil {
		return st, err
	}

	for _, e := range table.Objects {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		var want core.Digest
		copy(want[:], e.Digest)

		r := newChunkReader(ctx, bs, want, e.Chunks)
		if _, err := store.PutImmutable(ctx, r, e.Size); err != nil {
			if r.err != nil {
				return st, fmt.Errorf("object %s: %w", want, r.err)
			}
			return st, fmt.Errorf("storing %s: %w", want, err)
		}
		st.Objects++
		st.Chunks += len(e.Chunks)
		st.Bytes += e.Size
	}

	for _, e := range table.Links {
		var p core.Pointer
		var d core.Digest
		copy(p[:], e.Pointer)
		copy(d[:], e.Digest)
		if err := store.Link(ctx, p, d); err != nil {
			return st, fmt.Errorf("restoring link %s: %w", p, err)
		}
		st.Links++
	}
	return st, nil
}

func encodeTable(t linkTable) (blocks.Block, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	data, err := em.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encoding link table: %w", err)
	}
	if len(data) > MaxSection {
		return nil, fmt.Errorf("%w: %d bytes", ErrTableTooLarge, len(data))
	}
	c, err := tablePrefix.Sum(data)
	if err != nil {
		return nil, err
	}
	return blocks.NewBlockWithCid(data, c)
}

func decodeTable(blk blocks.Block) (*linkTable, error) {
	if blk.Cid().Prefix().Codec != cid.DagCBOR {
		return nil, fmt.Errorf("%w: root is not dag-cbor", ErrBadTable)
	}
	sum, err := tablePrefix.Sum(blk.RawData())
	if err != nil || !sum.Equals(blk.Cid()) {
		return nil, fmt.Errorf("%w: root hash mismatch", ErrBadTable)
	}

	var t linkTable
	if err := cbor.Unmarshal(blk.RawData(), &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadTable, err)
	}
	if t.Version != TableVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadTable, t.Version)
	}
	for _, e := range t.Objects {
		if len(e.Digest) != core.Size || e.Size < 0 {
			return nil, fmt.Errorf("%w: bad object entry", ErrBadTable)
		}
		for _, raw := range e.Chunks {
			c, err := cid.Cast(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadTable, err)
			}
			if c.Prefix().Codec != cid.Raw {
				return nil, fmt.Errorf("%w: chunk %s", ErrUnknownCode, c)
			}
		}
	}
	for _, e := range t.Links {
		if len(e.Pointer) != core.Size || len(e.Digest) != core.Size {
			return nil, fmt.Errorf("%w: entry has wrong field length", ErrBadTable)
		}
	}
	return &t, nil
}
