// Package resource derives mutable pointer addresses from caller-chosen
// resource names and authenticated identities.
package resource

import (
	"encoding/hex"

	"github.com/agenthands/sigcas/pkg/core"
	"github.com/agenthands/sigcas/pkg/digest"
)

// Key is the hash of a resource name.
type Key [core.Size]byte

// DeriveKey hashes the bytes of name.
func DeriveKey(name string) Key {
	return Key(digest.Sum([]byte(name)))
}

// Pointer returns hash(key || identity). Distinct identities writing the same
// name get distinct pointers; the same pair always maps to the same pointer.
func (k Key) Pointer(id core.Identity) core.Pointer {
	h := digest.New()
	h.Write(k[:])
	h.Write(id)

	var p core.Pointer
	copy(p[:], h.Sum(nil))
	return p
}

func (k Key) String() string { return hex.EncodeToString(k[:]) }
