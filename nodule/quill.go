package nodule

import (
	"fmt"
	"sort"

	"github.com/n1e/porcupine/block"
	"github.com/n1e/porcupine/errs"
)

// Quill is a leaf nodule: inlets map keys to values.
type Quill struct {
	base
	inlets []QuillInlet // kept sorted by Key
}

// NewQuill creates an empty, Dirty quill.
func NewQuill() *Quill {
	return &Quill{base: newBase()}
}

func (q *Quill) Kind() Kind { return KindQuill }
func (q *Quill) Len() int   { return len(q.inlets) }

func (q *Quill) Mayor() (block.Key, error) {
	if len(q.inlets) == 0 {
		return block.Key{}, wrapEmpty("quill.Mayor")
	}
	return q.inlets[len(q.inlets)-1].Key, nil
}

func (q *Quill) Maiden() (block.Key, error) {
	if len(q.inlets) == 0 {
		return block.Key{}, wrapEmpty("quill.Maiden")
	}
	return q.inlets[0].Key, nil
}

// indexOf returns the position of key in the sorted inlet slice and true,
// or the insertion point and false.
func (q *Quill) indexOf(key block.Key) (int, bool) {
	i := sort.Search(len(q.inlets), func(i int) bool { return !q.inlets[i].Key.Less(key) })
	if i < len(q.inlets) && q.inlets[i].Key == key {
		return i, true
	}
	return i, false
}

// Exist reports whether key is present, without materializing anything
// beyond this already-resident quill.
func (q *Quill) Exist(key block.Key) bool {
	_, ok := q.indexOf(key)
	return ok
}

// Locate returns the value stored for key, failing errs.NotFound if absent.
func (q *Quill) Locate(key block.Key) (block.Value, error) {
	i, ok := q.indexOf(key)
	if !ok {
		return nil, fmt.Errorf("quill.Locate %s: %w", key, errs.NotFound)
	}
	return q.inlets[i].Value, nil
}

// Insert places an inlet in key order, marks the quill Dirty, and updates
// the footprint. Insert does not itself check for overflow; the caller
// (package porcupine) decides whether to split first.
func (q *Quill) Insert(key block.Key, value block.Value) {
	inlet := QuillInlet{Key: key, Value: value}
	i, ok := q.indexOf(key)
	if ok {
		q.footprint += inlet.Footprint() - q.inlets[i].Footprint()
		q.inlets[i] = inlet
	} else {
		q.inlets = append(q.inlets, QuillInlet{})
		copy(q.inlets[i+1:], q.inlets[i:])
		q.inlets[i] = inlet
		q.footprint += inlet.Footprint()
	}
	q.MarkDirty()
}

// Delete removes key, failing errs.NotFound if absent.
func (q *Quill) Delete(key block.Key) error {
	i, ok := q.indexOf(key)
	if !ok {
		return fmt.Errorf("quill.Delete %s: %w", key, errs.NotFound)
	}
	q.footprint -= q.inlets[i].Footprint()
	q.inlets = append(q.inlets[:i], q.inlets[i+1:]...)
	q.MarkDirty()
	return nil
}

// IsEmpty reports whether the quill holds no inlets.
func (q *Quill) IsEmpty() bool { return len(q.inlets) == 0 }

// Inlets returns the quill's inlets in key order, for callers (package
// envelope) that need to walk every entry rather than look one up.
func (q *Quill) Inlets() []QuillInlet { return q.inlets }

// splitIndex chooses the smallest index i such that the left prefix
// footprint (NodeOverhead plus inlets[:i]) stays below half of extent plus
// a node's worth of overhead, per spec.md §4.3's "Policy" paragraph. Ties
// are broken by preferring the left-heavier split (advance i while the
// next inlet still fits the left half exactly as well).
func splitIndex(footprints []int, extent int) int {
	target := extent/2 + NodeOverhead
	running := NodeOverhead
	i := 0
	for i < len(footprints) {
		next := running + footprints[i]
		if next > target {
			break
		}
		running = next
		i++
	}
	if i == 0 && len(footprints) > 0 {
		i = 1 // never produce an empty left half from a non-empty node
	}
	return i
}

// Split moves the upper half of the inlets into a new, Dirty right sibling
// and returns it. The new sibling's parent is left Null until the caller
// reattaches it (spec.md §4.3).
func (q *Quill) Split() *Quill {
	// extent is not known to the nodule itself (it's a Descriptor concern);
	// the caller pre-computes the split point via SplitAt when it knows the
	// extent. Split() is kept as a half/half fallback for callers that
	// don't need extent-aware placement (e.g. tests).
	i := len(q.inlets) / 2
	if i == 0 && len(q.inlets) > 0 {
		i = 1
	}
	return q.splitAtIndex(i)
}

// SplitAt splits using the extent-aware policy from spec.md §4.3.
func (q *Quill) SplitAt(extent int) *Quill {
	footprints := make([]int, len(q.inlets))
	for i, inlet := range q.inlets {
		footprints[i] = inlet.Footprint()
	}
	i := splitIndex(footprints, extent)
	return q.splitAtIndex(i)
}

func (q *Quill) splitAtIndex(i int) *Quill {
	right := NewQuill()
	moved := append([]QuillInlet(nil), q.inlets[i:]...)
	right.inlets = moved
	for _, inlet := range moved {
		right.footprint += inlet.Footprint()
	}
	q.inlets = q.inlets[:i:i]
	sum := NodeOverhead
	for _, inlet := range q.inlets {
		sum += inlet.Footprint()
	}
	q.footprint = sum
	q.MarkDirty()
	return right
}

// Merge absorbs other's inlets into q. Both must share the same parent
// (checked by the caller) and their combined footprint must fit extent;
// the caller is responsible for that check since only it knows extent.
func (q *Quill) Merge(other *Quill) {
	q.inlets = append(q.inlets, other.inlets...)
	sort.Slice(q.inlets, func(i, j int) bool { return q.inlets[i].Key.Less(q.inlets[j].Key) })
	sum := NodeOverhead
	for _, inlet := range q.inlets {
		sum += inlet.Footprint()
	}
	q.footprint = sum
	other.inlets = nil
	other.footprint = NodeOverhead
	q.MarkDirty()
	other.MarkDirty()
}

// CombinedFootprint reports what q's footprint would be after absorbing
// other's inlets, without mutating either — used by porcupine to decide
// whether a merge candidate actually fits extent before committing to it.
func (q *Quill) CombinedFootprint(other *Quill) int {
	return q.footprint + other.footprint - NodeOverhead
}

var _ Nodule = (*Quill)(nil)
