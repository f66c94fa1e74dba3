package archive

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/agenthands/sigcas/pkg/core"
	"github.com/agenthands/sigcas/pkg/digest"
	"github.com/ipfs/go-cid"
	"github.com/ipld/go-car/v2/blockstore"
	"github.com/jotfs/fastcdc-go"
)

// Chunking defines the content-defined chunk bounds used on export.
type Chunking struct {
	Min int
	Avg int
	Max int
}

// DefaultChunking keeps every block well under the section limit.
var DefaultChunking = Chunking{Min: 64 << 10, Avg: 256 << 10, Max: 1 << 20}

func (c Chunking) validate() error {
	if c.Max <= 0 || c.Max > MaxSection {
		return fmt.Errorf("archive: chunk max %d outside (0, %d]", c.Max, MaxSection)
	}
	return nil
}

// split feeds r through fastcdc and hands every chunk to fn. The slice passed
// to fn is only valid until fn returns.
func (c Chunking) split(ctx context.Context, r io.Reader, fn func([]byte) error) error {
	cdc, err := fastcdc.NewChunker(r, fastcdc.Options{
		MinSize:     c.Min,
		AverageSize: c.Avg,
		MaxSize:     c.Max,
	})
	if err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := cdc.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(chunk.Data); err != nil {
			return err
		}
	}
}

// chunkReader reassembles one object from its chunk blocks, holding at most
// one chunk in memory. Each chunk is checked against its CID as it is loaded
// and the whole stream against the object digest at the end. The first
// failure sticks in err so callers can tell it apart from store errors.
type chunkReader struct {
	ctx    context.Context
	bs     *blockstore.ReadOnly
	want   core.Digest
	chunks [][]byte
	h      hash.Hash
	buf    []byte
	err    error
}

func newChunkReader(ctx context.Context, bs *blockstore.ReadOnly, want core.Digest, chunks [][]byte) *chunkReader {
	return &chunkReader{ctx: ctx, bs: bs, want: want, chunks: chunks, h: digest.New()}
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if len(r.chunks) == 0 {
			var got core.Digest
			copy(got[:], r.h.Sum(nil))
			if got != r.want {
				r.err = fmt.Errorf("%w: chunks hash to %s", core.ErrCorrupt, got)
				return 0, r.err
			}
			return 0, io.EOF
		}
		r.err = r.load()
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *chunkReader) load() error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	c, err := cid.Cast(r.chunks[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadTable, err)
	}
	r.chunks = r.chunks[1:]

	blk, err := r.bs.Get(r.ctx, c)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMissingChunk, c, err)
	}
	data := blk.RawData()
	if err := digest.VerifyCID(c, data); err != nil {
		return fmt.Errorf("chunk %s: %w", c, err)
	}
	r.h.Write(data)
	r.buf = data
	return nil
}
