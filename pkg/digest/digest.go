package digest

import (
	"bytes"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/agenthands/sigcas/pkg/core"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ChunkSize is the read size used when streaming content through the hasher.
const ChunkSize = 64 << 10

// Code is the multihash code of the addressing primitive.
const Code = multihash.SHA2_256

// New returns a fresh incremental hash state for the addressing primitive.
func New() hash.Hash {
	h, err := multihash.GetHasher(Code)
	if err != nil {
		// sha2-256 is always registered by go-multihash.
		panic(fmt.Sprintf("digest: sha2-256 hasher unavailable: %v", err))
	}
	return h
}

// Sum hashes a byte slice.
func Sum(b []byte) core.Digest {
	h := New()
	h.Write(b)
	return fromHash(h)
}

// Copy streams src into dst in ChunkSize pieces, hashing every chunk as it is
// written. If expected is positive the number of bytes consumed must match it.
func Copy(dst io.Writer, src io.Reader, expected int64) (core.Digest, int64, error) {
	h := New()
	buf := make([]byte, ChunkSize)
	var total int64

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			h.Write(chunk)
			if _, err := dst.Write(chunk); err != nil {
				return core.Digest{}, total, fmt.Errorf("%w: %v", core.ErrWrite, err)
			}
			total += int64(n)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return core.Digest{}, total, fmt.Errorf("%w: %v", core.ErrRead, rerr)
		}
	}

	if expected > 0 && expected != total {
		return core.Digest{}, total, fmt.Errorf("%w: expected %d bytes, read %d", core.ErrRead, expected, total)
	}

	return fromHash(h), total, nil
}

// Verify rehashes r and checks it against d.
func Verify(d core.Digest, r io.Reader) error {
	got, _, err := Copy(io.Discard, r, 0)
	if err != nil {
		return err
	}
	if got != d {
		return fmt.Errorf("%w: content hashes to %s, want %s", core.ErrCorrupt, got, d)
	}
	return nil
}

// CID renders a digest as a CIDv1 with the raw codec.
func CID(d core.Digest) cid.Cid {
	mh, err := multihash.Encode(d[:], Code)
	if err != nil {
		panic(fmt.Sprintf("digest: encoding multihash: %v", err))
	}
	return cid.NewCidV1(cid.Raw, mh)
}

// FromCID extracts the digest from a sha2-256 CID.
func FromCID(c cid.Cid) (core.Digest, error) {
	dm, err := multihash.Decode(c.Hash())
	if err != nil {
		return core.Digest{}, fmt.Errorf("%w: invalid multihash: %v", core.ErrCorrupt, err)
	}
	if dm.Code != Code || len(dm.Digest) != core.Size {
		return core.Digest{}, fmt.Errorf("%w: unsupported multihash %s/%d", core.ErrInvalidInput, dm.Name, dm.Length)
	}
	var d core.Digest
	copy(d[:], dm.Digest)
	return d, nil
}

// VerifyCID checks that data hashes to the digest carried by c, whatever
// hash function c names.
func VerifyCID(c cid.Cid, data []byte) error {
	prefix := c.Prefix()
	sum, err := multihash.Sum(data, prefix.MhType, prefix.MhLength)
	if err != nil {
		return fmt.Errorf("failed to compute multihash for verification: %w", err)
	}
	if !bytes.Equal(c.Hash(), sum) {
		return fmt.Errorf("%w: CID mismatch", core.ErrCorrupt)
	}
	return nil
}

func fromHash(h hash.Hash) core.Digest {
	var d core.Digest
	copy(d[:], h.Sum(nil))
	return d
}
