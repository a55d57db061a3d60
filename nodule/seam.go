package nodule

import (
	"context"
	"fmt"
	"sort"

	"github.com/n1e/porcupine/block"
	"github.com/n1e/porcupine/errs"
)

// Seam is an internal nodule: inlets map summary keys to child nodules.
type Seam struct {
	base
	inlets []SeamInlet // kept sorted by Key
}

// NewSeam creates an empty, Dirty seam.
func NewSeam() *Seam {
	return &Seam{base: newBase()}
}

func (s *Seam) Kind() Kind { return KindSeam }
func (s *Seam) Len() int   { return len(s.inlets) }

func (s *Seam) Mayor() (block.Key, error) {
	if len(s.inlets) == 0 {
		return block.Key{}, wrapEmpty("seam.Mayor")
	}
	return s.inlets[len(s.inlets)-1].Key, nil
}

func (s *Seam) Maiden() (block.Key, error) {
	if len(s.inlets) == 0 {
		return block.Key{}, wrapEmpty("seam.Maiden")
	}
	return s.inlets[0].Key, nil
}

func (s *Seam) IsEmpty() bool { return len(s.inlets) == 0 }

// Inlets returns the seam's inlets in key order, for callers (package
// envelope) that need to walk every entry rather than look one up.
func (s *Seam) Inlets() []SeamInlet { return s.inlets }

// Locate returns the inlet whose summary key is the least one >= key; if
// none exists, the largest inlet (so the rightmost subtree catches
// out-of-range lookups). An exact match wins over a greater-than match,
// which sort.Search already guarantees since it returns the first index
// satisfying the predicate. Fails errs.Empty on an empty seam.
func (s *Seam) Locate(key block.Key) (*SeamInlet, error) {
	if len(s.inlets) == 0 {
		return nil, wrapEmpty("seam.Locate")
	}
	i := sort.Search(len(s.inlets), func(i int) bool { return !s.inlets[i].Key.Less(key) })
	if i == len(s.inlets) {
		i = len(s.inlets) - 1
	}
	return &s.inlets[i], nil
}

// InletForChild returns the inlet referencing child (by Address equality),
// or errs.NotFound. Used to enforce invariant 1 and to implement Propagate.
func (s *Seam) InletForChild(child *Handle) (int, error) {
	for i := range s.inlets {
		if s.inlets[i].Child.Equal(child) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("seam.InletForChild: %w", errs.NotFound)
}

// Search recursively descends by Locate until a Quill is reached.
func (s *Seam) Search(ctx context.Context, key block.Key) (*Quill, error) {
	inlet, err := s.Locate(key)
	if err != nil {
		return nil, fmt.Errorf("seam.Search: %w", err)
	}
	child, err := inlet.Child.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("seam.Search: %w", err)
	}
	switch n := child.(type) {
	case *Quill:
		return n, nil
	case *Seam:
		return n.Search(ctx, key)
	default:
		return nil, fmt.Errorf("seam.Search: unknown child kind")
	}
}

func (s *Seam) indexOfKey(key block.Key) (int, bool) {
	i := sort.Search(len(s.inlets), func(i int) bool { return !s.inlets[i].Key.Less(key) })
	if i < len(s.inlets) && s.inlets[i].Key == key {
		return i, true
	}
	return i, false
}

// Insert places a (key, child) inlet in key order, marks the seam Dirty.
func (s *Seam) Insert(key block.Key, child *Handle) {
	inlet := SeamInlet{Key: key, Child: child}
	i, ok := s.indexOfKey(key)
	if ok {
		s.footprint += inlet.Footprint() - s.inlets[i].Footprint()
		s.inlets[i] = inlet
	} else {
		s.inlets = append(s.inlets, SeamInlet{})
		copy(s.inlets[i+1:], s.inlets[i:])
		s.inlets[i] = inlet
		s.footprint += inlet.Footprint()
	}
	if n, ok := child.Resident(); ok && n != nil {
		n.SetParent(NewResidentHandle(anyToNodule(s), nil))
	}
	s.MarkDirty()
}

// Delete removes the inlet whose summary key equals key, failing
// errs.NotFound if absent.
func (s *Seam) Delete(key block.Key) error {
	i, ok := s.indexOfKey(key)
	if !ok {
		return fmt.Errorf("seam.Delete %s: %w", key, errs.NotFound)
	}
	s.footprint -= s.inlets[i].Footprint()
	s.inlets = append(s.inlets[:i], s.inlets[i+1:]...)
	s.MarkDirty()
	return nil
}

// Propagate rekeys the inlet that referenced oldKey to newKey, reordering
// the container if necessary, then recurses upward when newKey becomes
// this seam's own new mayor (spec.md §4.3).
func (s *Seam) Propagate(oldKey, newKey block.Key) error {
	i, ok := s.indexOfKey(oldKey)
	if !ok {
		return fmt.Errorf("seam.Propagate %s: %w", oldKey, errs.NotFound)
	}
	oldMayor, err := s.Mayor()
	if err != nil {
		return err
	}
	inlet := s.inlets[i]
	inlet.Key = newKey
	s.inlets = append(s.inlets[:i], s.inlets[i+1:]...)
	j := sort.Search(len(s.inlets), func(j int) bool { return !s.inlets[j].Key.Less(newKey) })
	s.inlets = append(s.inlets, SeamInlet{})
	copy(s.inlets[j+1:], s.inlets[j:])
	s.inlets[j] = inlet
	s.MarkDirty()

	newMayor, err := s.Mayor()
	if err != nil {
		return err
	}
	if newMayor != oldMayor {
		if parent, ok := s.parentSeam(); ok {
			return parent.Propagate(oldMayor, newMayor)
		}
	}
	return nil
}

func (s *Seam) parentSeam() (*Seam, bool) {
	if s.parent == nil || s.parent.IsNull() {
		return nil, false
	}
	n, ok := s.parent.Resident()
	if !ok {
		return nil, false
	}
	seam, ok := n.(*Seam)
	return seam, ok
}

// SplitAt mirrors quill's extent-aware split policy for seam inlets.
func (s *Seam) SplitAt(extent int) *Seam {
	footprints := make([]int, len(s.inlets))
	for i, inlet := range s.inlets {
		footprints[i] = inlet.Footprint()
	}
	i := splitIndex(footprints, extent)
	right := NewSeam()
	moved := append([]SeamInlet(nil), s.inlets[i:]...)
	right.inlets = moved
	for _, inlet := range moved {
		right.footprint += inlet.Footprint()
		if n, ok := inlet.Child.Resident(); ok && n != nil {
			n.SetParent(NewResidentHandle(anyToNodule(right), nil))
		}
	}
	s.inlets = s.inlets[:i:i]
	sum := NodeOverhead
	for _, inlet := range s.inlets {
		sum += inlet.Footprint()
	}
	s.footprint = sum
	s.MarkDirty()
	return right
}

// Merge absorbs other's inlets into s, reparenting each moved child.
func (s *Seam) Merge(other *Seam) {
	for _, inlet := range other.inlets {
		if n, ok := inlet.Child.Resident(); ok && n != nil {
			n.SetParent(NewResidentHandle(anyToNodule(s), nil))
		}
	}
	s.inlets = append(s.inlets, other.inlets...)
	sort.Slice(s.inlets, func(i, j int) bool { return s.inlets[i].Key.Less(s.inlets[j].Key) })
	sum := NodeOverhead
	for _, inlet := range s.inlets {
		sum += inlet.Footprint()
	}
	s.footprint = sum
	other.inlets = nil
	other.footprint = NodeOverhead
	s.MarkDirty()
	other.MarkDirty()
}

// CombinedFootprint reports what s's footprint would be after absorbing
// other's inlets, without mutating either.
func (s *Seam) CombinedFootprint(other *Seam) int {
	return s.footprint + other.footprint - NodeOverhead
}

// anyToNodule is a tiny identity helper so Seam can store a *Seam as a
// Nodule without an import cycle between the concrete type and the
// interface it implements.
func anyToNodule(n Nodule) Nodule { return n }

var _ Nodule = (*Seam)(nil)
