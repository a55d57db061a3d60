// Package block defines the reference types shared by every layer of the
// index: the content address of a persisted block, the fixed-width lookup
// key, and the opaque leaf value. The Handle that ties a possibly-resident
// object to its address lives in package nodule.
package block

import (
	"encoding/hex"
	"fmt"
)

// addrState distinguishes the three address shapes described in spec.md §3.
type addrState uint8

const (
	addrNull addrState = iota
	addrPending
	addrReal
)

// Size of a real content address (BLAKE2b-256 digest, see crypto.Services.Hash).
const HashSize = 32

// Address is the content address of a block, or one of the two sentinels
// required while a block is still Dirty:
//
//   - Null    — no block (an empty reference).
//   - Pending — a block exists but is Dirty; its final hash has not been
//     computed yet. Pending addresses never compare equal to anything but
//     themselves (no stable identity).
//   - a real Address is the cryptographic hash of the fully serialized,
//     encrypted, signed envelope.
type Address struct {
	state addrState
	hash  [HashSize]byte
	// token distinguishes distinct Pending addresses from one another; two
	// Pending Handles must never be considered equal even though neither
	// carries a real hash yet.
	token uint64
}

// NullAddress is the zero value and the distinguished "no block" sentinel.
var NullAddress = Address{state: addrNull}

var pendingTokens uint64

// nextPendingToken hands out a monotonically increasing token for newly
// allocated Pending addresses. It is not cryptographically meaningful; it
// only needs to be unique within one process lifetime.
func nextPendingToken() uint64 {
	pendingTokens++
	return pendingTokens
}

// PendingAddress returns a fresh Address in the Pending state: "a block
// exists here but its address has not yet been computed because the block
// is still dirty" (spec.md §3).
func PendingAddress() Address {
	return Address{state: addrPending, token: nextPendingToken()}
}

// RealAddress wraps an already-computed content hash.
func RealAddress(hash [HashSize]byte) Address {
	return Address{state: addrReal, hash: hash}
}

// IsNull reports whether a refers to no block.
func (a Address) IsNull() bool { return a.state == addrNull }

// IsPending reports whether a is a placeholder for a Dirty, unwritten block.
func (a Address) IsPending() bool { return a.state == addrPending }

// IsReal reports whether a carries a real content hash.
func (a Address) IsReal() bool { return a.state == addrReal }

// Hash returns the real content hash and true, or the zero hash and false
// if a is not real.
func (a Address) Hash() ([HashSize]byte, bool) {
	if a.state != addrReal {
		return [HashSize]byte{}, false
	}
	return a.hash, true
}

// Equal implements the equality rule from spec.md §4.1: two real addresses
// are equal iff their hashes match; Null equals Null; Pending addresses are
// never equal to anything except the exact same Pending instance.
func (a Address) Equal(o Address) bool {
	if a.state != o.state {
		return false
	}
	switch a.state {
	case addrNull:
		return true
	case addrReal:
		return a.hash == o.hash
	default: // addrPending
		return a.token == o.token
	}
}

func (a Address) String() string {
	switch a.state {
	case addrNull:
		return "addr:null"
	case addrPending:
		return fmt.Sprintf("addr:pending#%d", a.token)
	default:
		return "addr:" + hex.EncodeToString(a.hash[:])
	}
}
