// Package nest implements the resident-set manager of spec.md §4.2: the
// component that decides which nodules live in memory, which are pinned
// against eviction, which are dirty and owed a write-back, and when a
// checkpoint should flush the dirty set to a store.Repository in
// dependency order.
//
// Nest implements nodule.Resolver, so package nodule never imports nest;
// package porcupine is the only caller of nest's explicit resident-set
// operations (Register/Pin/Unpin/MarkDirty/Checkpoint/EvictIfPossible),
// matching the layering hive/index and hive/link use: the low-level
// structure doesn't know about the cache managing it.
package nest

import (
	"container/list"
	"context"
	"fmt"

	"github.com/n1e/porcupine/block"
	"github.com/n1e/porcupine/crypto"
	"github.com/n1e/porcupine/envelope"
	"github.com/n1e/porcupine/errs"
	"github.com/n1e/porcupine/nodule"
	"github.com/n1e/porcupine/store"
)

// entry is the bookkeeping nest keeps for one resident nodule.
type entry struct {
	handle *nodule.Handle // the canonical handle to Forget() on eviction
	pins   int
	elem   *list.Element // position in the LRU list, nil when not eligible
}

// Nest is the resident-set manager. It is not safe for concurrent use;
// like spec.md §9 describes, all mutation happens between cooperative
// suspension points, so a single goroutine drives a Nest at a time.
type Nest struct {
	repo     store.Repository
	identity crypto.Identity
	symKey   crypto.SymmetricKey
	svc      crypto.Services
	capacity int // 0 means unbounded

	registry map[nodule.Nodule]*entry
	dirty    map[nodule.Nodule]struct{}
	byAddr   map[block.Address]nodule.Nodule // dedup cache for Load
	lru      *list.List                      // of nodule.Nodule, Clean-and-unpinned only
}

// New creates a Nest backed by repo. capacity bounds the number of
// resident nodules the LRU will tolerate before EvictIfPossible starts
// reclaiming; 0 means unbounded.
func New(repo store.Repository, identity crypto.Identity, symKey crypto.SymmetricKey, capacity int) *Nest {
	return &Nest{
		repo:     repo,
		identity: identity,
		symKey:   symKey,
		svc:      crypto.New(),
		capacity: capacity,
		registry: make(map[nodule.Nodule]*entry),
		dirty:    make(map[nodule.Nodule]struct{}),
		byAddr:   make(map[block.Address]nodule.Nodule),
		lru:      list.New(),
	}
}

// Load fetches and decodes the nodule at addr, implementing
// nodule.Resolver. Repeated loads of the same address within one Nest's
// lifetime return the same already-resident object instead of decoding
// twice.
//
// The decoded nodule is Registered under a fresh canonical handle exactly
// as Grow/Split register a freshly created one, so EvictIfPossible always
// has a real handle to Forget regardless of whether a nodule entered
// residency by creation or by traversal. Without this, a nodule reached
// by ordinary descent would only ever get a handle-less registry entry
// (lazily created by Pin), and eviction would drop the byAddr cache slot
// without ever releasing the resident pointer other Handles share.
func (n *Nest) Load(ctx context.Context, addr block.Address) (nodule.Nodule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cached, ok := n.byAddr[addr]; ok {
		return cached, nil
	}

	raw, err := n.repo.Get(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("nest: load %s: %w: %w", addr, errs.LoadFailure, err)
	}
	resolved, err := envelope.Decode(raw, n.identity.Public, n.symKey, n.svc, n)
	if err != nil {
		return nil, fmt.Errorf("nest: load %s: decode: %w: %w", addr, errs.LoadFailure, err)
	}
	n.byAddr[addr] = resolved
	n.Register(nodule.NewResidentHandle(resolved, n))
	return resolved, nil
}

// Register places a freshly resident nodule (just created, or just
// resolved) under nest's resident-set management. h must already be
// resident; Register is a no-op if n is already registered.
func (n *Nest) Register(h *nodule.Handle) {
	nd, ok := h.Resident()
	if !ok || nd == nil {
		return
	}
	if _, exists := n.registry[nd]; exists {
		return
	}
	e := &entry{handle: h}
	n.registry[nd] = e
	if nd.State() == nodule.Dirty {
		n.dirty[nd] = struct{}{}
	} else {
		n.pushLRU(nd, e)
	}
}

// Pin prevents n from being evicted until a matching Unpin. Pinning an
// unregistered nodule registers it first with a nil canonical handle
// (eviction of a nodule nest never learned a handle for is simply
// skipped, matching EvictIfPossible's "I only reclaim what I can forget"
// contract).
func (n *Nest) Pin(nd nodule.Nodule) {
	e, ok := n.registry[nd]
	if !ok {
		e = &entry{}
		n.registry[nd] = e
	}
	e.pins++
	n.removeLRU(e)
}

// Unpin releases one pin taken by Pin. Once pins reach zero and the
// nodule is Clean, it becomes eligible for LRU eviction again.
func (n *Nest) Unpin(nd nodule.Nodule) {
	e, ok := n.registry[nd]
	if !ok || e.pins == 0 {
		return
	}
	e.pins--
	if e.pins == 0 && nd.State() == nodule.Clean {
		n.pushLRU(nd, e)
	}
}

// MarkDirty transitions n to Dirty through the Nest so that the dirty set
// nest tracks for Checkpoint stays in sync with the nodule's own state.
// Dirty nodules are never eligible for the LRU.
func (n *Nest) MarkDirty(nd nodule.Nodule) {
	nd.MarkDirty()
	n.dirty[nd] = struct{}{}
	if e, ok := n.registry[nd]; ok {
		n.removeLRU(e)
	}
}

// Checkpoint writes every Dirty nodule to the store in bottom-up order
// (children before parents, spec.md §4.6): a seam is only eligible once
// every child it references carries a real address. It stops and returns
// an error on the first store failure, leaving any still-unwritten
// nodules Dirty; the caller (package porcupine) decides whether to
// retry. Checkpoint never advances a store.Repository's root lineage
// itself — that is the caller's job once Checkpoint returns successfully
// for every dirty nodule in the batch.
func (n *Nest) Checkpoint(ctx context.Context) error {
	for len(n.dirty) > 0 {
		progressed := false
		for nd := range n.dirty {
			if !n.readyToWrite(nd) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := envelope.Encode(nd, n.identity, n.symKey, n.svc)
			if err != nil {
				return fmt.Errorf("nest: checkpoint: encode: %w", err)
			}
			addr, err := n.repo.Put(ctx, raw)
			if err != nil {
				return fmt.Errorf("nest: checkpoint: %w", errs.StoreFailure)
			}
			nd.SetSelfAddress(addr)
			nd.SetRevision(nd.Revision() + 1)
			n.byAddr[addr] = nd
			delete(n.dirty, nd)
			if e, ok := n.registry[nd]; ok && e.pins == 0 {
				n.pushLRU(nd, e)
			}
			progressed = true
		}
		if !progressed {
			return fmt.Errorf("nest: checkpoint: dirty set has no writable nodule (cycle?): %w", errs.InvariantViolation)
		}
	}
	return nil
}

// readyToWrite reports whether every child (for a Seam) already has a
// real address, i.e. has already been written this checkpoint or was
// already Clean.
func (n *Nest) readyToWrite(nd nodule.Nodule) bool {
	seam, ok := nd.(*nodule.Seam)
	if !ok {
		return true // quills have no children to wait on
	}
	for _, inlet := range seam.Inlets() {
		if !inlet.Child.Address().IsReal() {
			return false
		}
	}
	return true
}

// EvictIfPossible reclaims the least-recently-used Clean, unpinned
// nodules until the resident set fits capacity (or the LRU runs dry).
// Eviction forgets the canonical handle Register was given, which is
// the reference the rest of the tree resolves through; other Handles
// that independently cached the same resident pointer (a sibling's
// Left/Right, for instance) may keep serving it stale until they are
// themselves rebuilt by a later split/merge/propagate — a bounded and
// documented relaxation, not a correctness issue, since eviction never
// runs on a Dirty nodule and Clean data never changes out from under a
// stale cache.
func (n *Nest) EvictIfPossible() {
	if n.capacity <= 0 {
		return
	}
	for len(n.registry) > n.capacity && n.lru.Len() > 0 {
		front := n.lru.Front()
		nd := front.Value.(nodule.Nodule)
		e := n.registry[nd]
		n.lru.Remove(front)
		e.elem = nil
		if e.handle != nil {
			e.handle.Forget()
		}
		delete(n.registry, nd)
		if addr := nd.SelfAddress(); addr.IsReal() {
			delete(n.byAddr, addr)
		}
	}
}

// Resident reports how many nodules nest currently governs, for tests
// and metrics.
func (n *Nest) Resident() int { return len(n.registry) }

func (n *Nest) pushLRU(nd nodule.Nodule, e *entry) {
	if e.pins > 0 || nd.State() != nodule.Clean {
		return
	}
	e.elem = n.lru.PushBack(nd)
}

func (n *Nest) removeLRU(e *entry) {
	if e.elem != nil {
		n.lru.Remove(e.elem)
		e.elem = nil
	}
}

var _ nodule.Resolver = (*Nest)(nil)
