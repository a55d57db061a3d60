// Package store defines the block repository boundary (spec.md §6): the
// durable, content-addressed key/value surface that package nest writes
// sealed envelopes to and reads them back from. Two implementations are
// provided: memstore (an in-process map, for tests and ephemeral trees)
// and filestore (a single backing file with its own free-list allocator,
// grounded on the teacher's hive/alloc + internal/mmfile + hive/dirty
// trio).
package store

import (
	"context"

	"github.com/n1e/porcupine/block"
)

// Lineage names a root pointer slot: a durable tree keeps exactly one
// lineage ("root") mapping to the address of its current root nodule,
// letting a reopened store recover where the tree left off (spec.md §6,
// "used to recover the current root address on reopen").
type Lineage string

// RootLineage is the lineage every Porcupine tree registers its root
// address under.
const RootLineage Lineage = "root"

// Repository is the durable store a Nest writes sealed envelopes to.
// Content addressing makes Put idempotent: putting the same bytes twice
// is safe and returns the same address both times.
type Repository interface {
	// Get returns the raw envelope bytes previously stored at addr, or
	// errs.NotFound if nothing lives there.
	Get(ctx context.Context, addr block.Address) ([]byte, error)

	// Put stores a sealed envelope and returns its content address (the
	// hash of envelope, per spec.md §6). Calling Put twice with identical
	// bytes is a no-op on the second call and returns the same address.
	Put(ctx context.Context, envelope []byte) (block.Address, error)

	// Erase removes the envelope at addr. Erasing an address that isn't
	// present is not an error (idempotent, matching Put).
	Erase(ctx context.Context, addr block.Address) error

	// Latest returns the address currently registered under lineage, or
	// errs.NotFound if the lineage has never been set.
	Latest(ctx context.Context, lineage Lineage) (block.Address, error)

	// SetLatest registers addr as the current address for lineage. A
	// checkpoint calls this once, after every nodule in the batch has
	// been written, so that a crash between individual Puts never
	// advances the recoverable root (spec.md §4.6's all-or-nothing rule).
	SetLatest(ctx context.Context, lineage Lineage, addr block.Address) error

	// Close releases any resources (file handles, mappings) held by the
	// repository.
	Close() error
}
