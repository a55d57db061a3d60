// Package nodule implements the common node representation of the
// Porcupine index: Seam (internal) and Quill (leaf) nodules, their inlets,
// and the single-node insert/delete/split/merge/propagate operations that
// spec.md §4.3 assigns to "the nodule itself" as opposed to the tree-level
// algorithms in package porcupine.
package nodule

import (
	"fmt"

	"github.com/n1e/porcupine/block"
	"github.com/n1e/porcupine/errs"
)

// State is the dirty/clean lifecycle state of a resident nodule
// (spec.md §3, invariant 6).
type State uint8

const (
	// Clean nodules have a real Address and match what was last written
	// to the block repository.
	Clean State = iota
	// Dirty nodules have been mutated since their last write-back; their
	// self address is Pending until the next successful checkpoint.
	Dirty
)

func (s State) String() string {
	if s == Dirty {
		return "dirty"
	}
	return "clean"
}

// Fixed bookkeeping costs used by footprint accounting (spec.md §3,
// "a footprint (running sum of inlet footprints plus node overhead)").
const (
	// NodeOverhead accounts for the envelope tag, revision counter, and
	// sibling/parent address slots charged against every nodule regardless
	// of how many inlets it holds.
	NodeOverhead = 64

	// seamInletOverhead is the bookkeeping cost of one seam inlet beyond
	// its key: the child's content address plus a length prefix.
	seamInletOverhead = block.HashSize + 4

	// quillInletOverhead is the bookkeeping cost of one quill inlet beyond
	// its key: a length prefix for the inline value.
	quillInletOverhead = 4
)

// Kind distinguishes the two nodule shapes for the envelope's component tag
// (spec.md §4.5) and for factory dispatch on load.
type Kind uint8

const (
	KindQuill Kind = iota
	KindSeam
)

func (k Kind) String() string {
	if k == KindSeam {
		return "seam"
	}
	return "quill"
}

// Nodule is the operations common to Seam and Quill. Type-specific
// operations (Seam.Locate/Search, Quill.Exist/Locate) are reached by type
// switch, matching spec.md §4.3's split between common and per-kind methods.
type Nodule interface {
	// Kind reports whether this nodule is a Seam or a Quill.
	Kind() Kind

	// Footprint returns the current total byte footprint: the sum of every
	// inlet's footprint plus NodeOverhead.
	Footprint() int

	// Len returns the number of inlets currently held.
	Len() int

	// State returns Clean or Dirty.
	State() State

	// MarkDirty transitions the nodule to Dirty and invalidates any
	// previously-real self address back to Pending (invariant 6). The
	// Quill/Seam mutators call it themselves; Nest.MarkDirty calls it and
	// also records the nodule in the Nest's dirty set.
	MarkDirty()

	// SelfAddress returns this nodule's own current address: Pending while
	// Dirty, the real content hash once a checkpoint has written it.
	SelfAddress() block.Address

	// SetSelfAddress is called by envelope.Decode (the hash the block was
	// loaded under) and by the Nest after a successful checkpoint write
	// (the real hash).
	SetSelfAddress(block.Address)

	// Parent returns the handle to this nodule's parent seam, or nil at
	// the root.
	Parent() *Handle
	SetParent(*Handle)

	// Left and Right are the sibling chain links (invariant 4).
	Left() *Handle
	Right() *Handle
	SetLeft(*Handle)
	SetRight(*Handle)

	// Mayor returns the largest key currently held; Maiden the smallest.
	// Both fail with errs.Empty when the nodule holds no inlets.
	Mayor() (block.Key, error)
	Maiden() (block.Key, error)

	// Revision returns the envelope revision counter last assigned to this
	// nodule (spec.md §4.5's "revision" field), monotonically increasing
	// across successful checkpoint writes.
	Revision() uint64
	SetRevision(uint64)
}

// base holds the fields and bookkeeping shared by Seam and Quill. It is
// embedded, not used directly, mirroring the way hivekit's allocator shares
// size-class bookkeeping across cell kinds.
type base struct {
	self      block.Address
	state     State
	parent    *Handle
	left      *Handle
	right     *Handle
	footprint int // NodeOverhead + sum of inlet footprints
	revision  uint64
}

func newBase() base {
	return base{self: block.PendingAddress(), state: Dirty, footprint: NodeOverhead}
}

func (b *base) State() State                { return b.state }
func (b *base) MarkDirty()                  { b.state = Dirty; b.self = block.PendingAddress() }
func (b *base) SelfAddress() block.Address  { return b.self }
func (b *base) SetSelfAddress(a block.Address) {
	b.self = a
	if a.IsReal() {
		b.state = Clean
	}
}
func (b *base) Parent() *Handle         { return b.parent }
func (b *base) SetParent(h *Handle)     { b.parent = h }
func (b *base) Left() *Handle           { return b.left }
func (b *base) Right() *Handle          { return b.right }
func (b *base) SetLeft(h *Handle)       { b.left = h }
func (b *base) SetRight(h *Handle)      { b.right = h }
func (b *base) Footprint() int          { return b.footprint }
func (b *base) Revision() uint64        { return b.revision }
func (b *base) SetRevision(r uint64)    { b.revision = r }

// wrapEmpty turns a bare errs.Empty into a contextualized error without
// ever letting a different kind masquerade as Empty; errs.Empty must never
// leak outside a mutation per spec.md §7, so callers in package porcupine
// are the ones responsible for containing it, not this helper.
func wrapEmpty(op string) error {
	return fmt.Errorf("%s: %w", op, errs.Empty)
}
