package nodule

import "github.com/n1e/porcupine/block"

// SeamInlet is an internal-node entry: a summary key paired with a handle
// to the child nodule it dominates (spec.md §3).
type SeamInlet struct {
	Key   block.Key
	Child *Handle
}

// Footprint is the key size plus the bookkeeping cost of one child
// reference (address + length prefix).
func (i SeamInlet) Footprint() int {
	return block.KeySize + seamInletOverhead
}

// QuillInlet is a leaf entry: a key paired with its inline value
// (spec.md §3 permits either an inline value or a Handle{value}; this
// implementation always stores values inline, since footprint accounting
// already treats the value's own Footprint() as the variable cost and an
// indirection would only add bookkeeping without changing any observable
// behavior the spec requires).
type QuillInlet struct {
	Key   block.Key
	Value block.Value
}

// Footprint is the key size, the value's own footprint, and a length
// prefix for the inline value.
func (i QuillInlet) Footprint() int {
	return block.KeySize + quillInletOverhead + i.Value.Footprint()
}
