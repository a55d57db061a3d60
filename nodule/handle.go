package nodule

import (
	"context"
	"fmt"

	"github.com/n1e/porcupine/block"
)

// Resolver is the callback surface a Handle needs from its owning resident
// set in order to materialize a non-resident nodule on demand. Package nest
// implements this interface; nodule only declares what it consumes, so
// nest (the "accept interfaces, return structs" consumer) depends on
// nodule and not the reverse.
type Resolver interface {
	// Load fetches and decodes the nodule at addr and returns it; it does
	// not pin it (callers pin through the Nest). It fails with errs.LoadFailure (wrapping errs.NotFound or
	// errs.IntegrityFailure) when the block cannot be retrieved or
	// decoded.
	Load(ctx context.Context, addr block.Address) (Nodule, error)
}

// Handle is the universal tree-internal reference described in spec.md
// §4.1. A Handle either carries a resident nodule directly, or an Address
// to be resolved through a Resolver the first time it is needed.
//
// Equality is by Address: two real addresses compare by hash; Null equals
// Null; Pending Handles only equal themselves because Address.Equal
// implements exactly that rule.
type Handle struct {
	addr     block.Address
	resident Nodule
	resolver Resolver
}

// NewHandle wraps a real, not-yet-resolved address.
func NewHandle(addr block.Address, resolver Resolver) *Handle {
	return &Handle{addr: addr, resolver: resolver}
}

// NewResidentHandle wraps a nodule that is already materialized (freshly
// created by Grow/Split, or just loaded by the Nest).
func NewResidentHandle(n Nodule, resolver Resolver) *Handle {
	return &Handle{resident: n, resolver: resolver}
}

// IsNull reports whether the handle refers to no block at all.
func (h *Handle) IsNull() bool {
	if h == nil {
		return true
	}
	return h.resident == nil && h.addr.IsNull()
}

// Address returns the handle's current address. While resident, the
// address is read live off the resident nodule's own SelfAddress, which is
// how a checkpoint write-back becomes visible to every Handle that shares
// the same resident pointer without a separate fix-up pass.
func (h *Handle) Address() block.Address {
	if h == nil {
		return block.NullAddress
	}
	if h.resident != nil {
		return h.resident.SelfAddress()
	}
	return h.addr
}

// Resident reports the materialized nodule and true if one is already
// attached, without triggering a load.
func (h *Handle) Resident() (Nodule, bool) {
	if h == nil {
		return nil, false
	}
	return h.resident, h.resident != nil
}

// Resolve returns the resident nodule, loading it through the Resolver if
// necessary. A Null handle resolves to (nil, nil).
func (h *Handle) Resolve(ctx context.Context) (Nodule, error) {
	if h == nil || h.IsNull() {
		return nil, nil
	}
	if h.resident != nil {
		return h.resident, nil
	}
	n, err := h.resolver.Load(ctx, h.addr)
	if err != nil {
		return nil, fmt.Errorf("handle resolve %s: %w", h.addr, err)
	}
	h.resident = n
	return n, nil
}

// Forget drops the local resident pointer, allowing the owning Nest to
// evict the object once no other handle or pin keeps it resident. It does
// not itself evict anything; eviction remains the Nest's sole
// responsibility (spec.md §4.2). The resident's current self address is
// copied into addr first, so the handle remains a lazily-resolvable
// reference to the same block rather than collapsing into a Null handle.
func (h *Handle) Forget() {
	if h == nil {
		return
	}
	if h.resident != nil {
		h.addr = h.resident.SelfAddress()
	}
	h.resident = nil
}

// Attach binds a resolver to a handle that was constructed with
// NewHandle before a Resolver existed (a nil resolver).
func (h *Handle) Attach(r Resolver) {
	if h == nil {
		return
	}
	h.resolver = r
}

// Equal implements the Address-based equality rule of spec.md §4.1.
func (h *Handle) Equal(o *Handle) bool {
	if h.IsNull() && o.IsNull() {
		return true
	}
	if h.IsNull() || o.IsNull() {
		return false
	}
	return h.Address().Equal(o.Address())
}
