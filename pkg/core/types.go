package core

import (
	"encoding/hex"
	"fmt"
)

// Size is the byte length of every address in the store.
const Size = 32

// Address is a lookup key for Get and Stat. It names either an immutable
// object (a Digest) or a mutable link (a Pointer).
type Address [Size]byte

func (a Address) String() string { return hex.EncodeToString(a[:]) }

// Digest is the SHA-256 of an object's content and its storage address.
type Digest [Size]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }
func (d Digest) Address() Address { return Address(d) }
func (d Digest) IsZero() bool { return d == Digest{} }

// Pointer is the address of a mutable link, derived from a resource key and
// the identity that wrote it.
type Pointer [Size]byte

func (p Pointer) String() string   { return hex.EncodeToString(p[:]) }
func (p Pointer) Address() Address { return Address(p) }

// Identity is the opaque token produced by a successful credential check.
// A zero-length identity means the caller is anonymous.
type Identity []byte

func (id Identity) IsAnonymous() bool { return len(id) == 0 }

func (id Identity) String() string { return hex.EncodeToString(id) }

// ParseAddress decodes a 64 character hex string.
func ParseAddress(s string) (Address, error) {
	var a Address
	if len(s) != 2*Size {
		return a, fmt.Errorf("%w: address must be %d hex characters, got %d", ErrInvalidInput, 2*Size, len(s))
	}
	if _, err := hex.Decode(a[:], []byte(s)); err != nil {
		return a, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return a, nil
}

// ParseDigest decodes a 64 character hex digest.
func ParseDigest(s string) (Digest, error) {
	a, err := ParseAddress(s)
	return Digest(a), err
}

// ParsePointer decodes a 64 character hex pointer address.
func ParsePointer(s string) (Pointer, error) {
	a, err := ParseAddress(s)
	return Pointer(a), err
}
