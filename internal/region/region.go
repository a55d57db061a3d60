// Package region implements the scoped-acquisition/guaranteed-release
// discipline spec.md §9 calls "Waive"/"escape" control flow: a resource
// is acquired once, and every exit path — success, error return, or
// panic — releases it exactly once. hive/tx realizes the same shape
// around REGF sequence numbers with Begin/Commit/Rollback; package
// porcupine has no header protocol to protect, only resident nodules
// that must not be evicted mid-mutation, so region.Guard wraps
// nest.Nest's Pin/Unpin instead and is driven with a plain defer rather
// than an explicit Commit call.
package region

import "github.com/n1e/porcupine/nodule"

// pinner is the subset of nest.Nest a Guard needs. Package porcupine
// supplies its *nest.Nest directly; the interface exists so region does
// not import nest and create a cycle (nest already depends on nodule
// the way region does).
type pinner interface {
	Pin(nodule.Nodule)
	Unpin(nodule.Nodule)
}

// Guard holds one pin taken against a resident nodule for the lifetime
// of a scope. Release is idempotent, so a deferred Release paired with
// an early explicit Release on a fast path never double-unpins.
type Guard struct {
	nest     pinner
	resident nodule.Nodule
	released bool
}

// Acquire pins n and returns a Guard. Typical use:
//
//	guard := region.Acquire(nest, n)
//	defer guard.Release()
func Acquire(nest pinner, n nodule.Nodule) *Guard {
	nest.Pin(n)
	return &Guard{nest: nest, resident: n}
}

// Release unpins the guarded nodule. Calling Release more than once, or
// on a nil Guard, is a no-op — every exit path can defer it
// unconditionally without tracking whether an earlier path already did.
func (g *Guard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	g.nest.Unpin(g.resident)
}
