// Package errs collects the sentinel error kinds shared across the
// block-index packages (nodule, nest, porcupine, envelope, store).
//
// A single shared taxonomy, rather than one sentinel set per package,
// mirrors the way the index is actually consumed: a caller descending
// through Porcupine.Locate sees NotFound/LoadFailure bubble up from nest
// and store alike, and wants a single errors.Is check regardless of which
// layer raised it. Every error returned across a package boundary wraps
// one of these with fmt.Errorf("%w") so the originating context survives.
package errs

import "errors"

var (
	// NotFound is returned when a lookup, removal, or block fetch targets
	// a key or address that does not exist.
	NotFound = errors.New("porcupine: not found")

	// AlreadyExists is returned by Add when the key is already present in
	// the responsible quill.
	AlreadyExists = errors.New("porcupine: already exists")

	// Empty is returned by mayor/maiden/locate on a nodule or seam with no
	// inlets. It is internal-only and must never cross a Porcupine public
	// method back to a caller.
	Empty = errors.New("porcupine: nodule empty")

	// IntegrityFailure is returned when a loaded block's signature, hash,
	// or decryption cannot be verified.
	IntegrityFailure = errors.New("porcupine: integrity failure")

	// StoreFailure wraps an underlying block repository I/O error. It is
	// retryable: the tree's in-memory Dirty state is unaffected.
	StoreFailure = errors.New("porcupine: store failure")

	// LoadFailure is returned when the Nest cannot materialize a
	// referenced block (decode error, factory mismatch, or wrapped
	// StoreFailure/IntegrityFailure from below).
	LoadFailure = errors.New("porcupine: load failure")

	// InvariantViolation is raised by Check() when a structural invariant
	// of the tree does not hold. It is fatal and intended for tests and
	// audit paths, never for ordinary traversal.
	InvariantViolation = errors.New("porcupine: invariant violation")
)
