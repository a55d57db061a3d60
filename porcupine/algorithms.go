package porcupine

import (
	"context"
	"fmt"

	"github.com/n1e/porcupine/block"
	"github.com/n1e/porcupine/errs"
	"github.com/n1e/porcupine/internal/region"
	"github.com/n1e/porcupine/nodule"
)

// search descends from the root to the quill responsible for key,
// pinning each level in turn so that a suspension point crossed while
// resolving a child can never invalidate the parent pointer still in
// hand (spec.md §5). An empty tree is grown to a single empty root
// quill first (spec.md §4.4, "Search... growing an empty tree to
// height 1 on first use").
func (p *Porcupine) search(ctx context.Context, key block.Key) (*nodule.Quill, error) {
	if p.height == 0 {
		if err := p.Grow(ctx); err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
	}
	current, err := p.root.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	guard := region.Acquire(p.nest, current)
	for {
		if quill, ok := current.(*nodule.Quill); ok {
			guard.Release()
			return quill, nil
		}
		seam := current.(*nodule.Seam)
		inlet, err := seam.Locate(key)
		if err != nil {
			guard.Release()
			return nil, fmt.Errorf("search: %w", err)
		}
		child, err := inlet.Child.Resolve(ctx)
		if err != nil {
			guard.Release()
			return nil, fmt.Errorf("search: %w", err)
		}
		if child.Parent() == nil || child.Parent().IsNull() {
			// A nodule decoded from the store carries no parent link;
			// rebuild it from the seam it was reached through.
			child.SetParent(nodule.NewResidentHandle(seam, p.nest))
		}
		next := region.Acquire(p.nest, child)
		guard.Release()
		guard = next
		current = child
	}
}

// insert places a new inlet, identified by key and its footprint, into
// current, splitting and propagating as spec.md §4.4 describes. apply
// performs the actual placement once insert has decided which of
// current or its freshly split right sibling the inlet belongs in; it
// type-asserts to *nodule.Quill or *nodule.Seam as appropriate for the
// level being inserted into.
func (p *Porcupine) insert(ctx context.Context, current nodule.Nodule, key block.Key, footprint int, apply func(nodule.Nodule)) error {
	if current.Footprint()+footprint <= p.descriptor.Extent {
		return p.insertNoOverflow(ctx, current, apply)
	}
	return p.insertOverflow(ctx, current, key, apply)
}

func (p *Porcupine) insertNoOverflow(ctx context.Context, current nodule.Nodule, apply func(nodule.Nodule)) error {
	wasEmpty := current.Len() == 0
	var oldMayor block.Key
	if !wasEmpty {
		var err error
		oldMayor, err = current.Mayor()
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
	}

	apply(current)
	p.nest.MarkDirty(current)

	if wasEmpty {
		return nil
	}
	newMayor, err := current.Mayor()
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	if newMayor == oldMayor {
		return nil
	}
	return p.propagate(ctx, current, oldMayor, newMayor)
}

func (p *Porcupine) insertOverflow(ctx context.Context, current nodule.Nodule, key block.Key, apply func(nodule.Nodule)) error {
	oldMayor, err := current.Mayor()
	if err != nil {
		return fmt.Errorf("insert: overflow on empty nodule: %w", err)
	}

	right := p.splitNodule(current)
	rightHandle, err := p.relinkAfterSplit(ctx, current, right)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}

	currentMayor, err := current.Mayor()
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	if key.Less(currentMayor) {
		apply(current)
		p.nest.MarkDirty(current)
	} else {
		apply(right)
		p.nest.MarkDirty(right)
	}

	parent := current.Parent()
	if parent == nil || parent.IsNull() {
		return p.growWithSplitChildren(current, rightHandle)
	}

	newCurrentMayor, err := current.Mayor()
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	parentNode, err := parent.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	if newCurrentMayor != oldMayor {
		seam, ok := parentNode.(*nodule.Seam)
		if !ok {
			return fmt.Errorf("insert: parent not a seam: %w", errs.InvariantViolation)
		}
		if err := seam.Propagate(oldMayor, newCurrentMayor); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
	}

	rightMayor, err := right.Mayor()
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	childInlet := nodule.SeamInlet{Key: rightMayor, Child: rightHandle}
	return p.insert(ctx, parentNode, rightMayor, childInlet.Footprint(), func(n nodule.Nodule) {
		n.(*nodule.Seam).Insert(rightMayor, rightHandle)
	})
}

// propagate rekeys current's entry in its parent from oldMayor to
// newMayor, recursing no further itself — Seam.Propagate already walks
// upward on its own whenever the rekey changes the parent's own mayor
// in turn (spec.md §4.3).
func (p *Porcupine) propagate(ctx context.Context, current nodule.Nodule, oldMayor, newMayor block.Key) error {
	parent := current.Parent()
	if parent == nil || parent.IsNull() {
		return nil
	}
	parentNode, err := parent.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("propagate: %w", err)
	}
	seam, ok := parentNode.(*nodule.Seam)
	if !ok {
		return fmt.Errorf("propagate: parent not a seam: %w", errs.InvariantViolation)
	}
	return seam.Propagate(oldMayor, newMayor)
}

func (p *Porcupine) splitNodule(current nodule.Nodule) nodule.Nodule {
	switch t := current.(type) {
	case *nodule.Quill:
		return t.SplitAt(p.descriptor.Extent)
	case *nodule.Seam:
		return t.SplitAt(p.descriptor.Extent)
	default:
		panic(fmt.Sprintf("porcupine: unknown nodule type %T", current))
	}
}

// relinkAfterSplit wires right into the sibling chain immediately to
// current's right, reattaching whatever used to be there (invariant 4).
// The returned Handle is the single canonical reference to right: the
// same pointer is later installed as the parent seam's child inlet, so
// nest never tracks two Handles for one freshly split nodule.
func (p *Porcupine) relinkAfterSplit(ctx context.Context, current, right nodule.Nodule) (*nodule.Handle, error) {
	oldRight := current.Right()
	currentHandle := nodule.NewResidentHandle(current, p.nest)
	rightHandle := nodule.NewResidentHandle(right, p.nest)

	current.SetRight(rightHandle)
	right.SetLeft(currentHandle)
	right.SetRight(oldRight)

	if oldRight != nil && !oldRight.IsNull() {
		oldRightNode, err := oldRight.Resolve(ctx)
		if err != nil {
			return nil, err
		}
		oldRightNode.SetLeft(rightHandle)
		p.nest.MarkDirty(oldRightNode)
	}

	p.nest.MarkDirty(current)
	p.nest.Register(rightHandle)
	p.nest.MarkDirty(right)
	return rightHandle, nil
}

// growWithSplitChildren handles the root-overflow case of Insert
// (spec.md §4.4): current was the root, so the new seam parent is built
// directly with both current and right as its two children, rather than
// via a plain Grow() plus a second recursive Insert.
func (p *Porcupine) growWithSplitChildren(current nodule.Nodule, rightHandle *nodule.Handle) error {
	currentMayor, err := current.Mayor()
	if err != nil {
		return fmt.Errorf("grow: %w", err)
	}
	rightNode, ok := rightHandle.Resident()
	if !ok {
		return fmt.Errorf("grow: right sibling not resident: %w", errs.InvariantViolation)
	}
	rightMayor, err := rightNode.Mayor()
	if err != nil {
		return fmt.Errorf("grow: %w", err)
	}

	newRoot := nodule.NewSeam()
	newRoot.Insert(currentMayor, p.root)
	newRoot.Insert(rightMayor, rightHandle)

	newRootHandle := nodule.NewResidentHandle(newRoot, p.nest)
	p.nest.Register(newRootHandle)
	p.nest.MarkDirty(newRoot)

	p.root = newRootHandle
	p.height++
	return nil
}

// Grow adds one level to the tree (spec.md §4.4). On an empty tree it
// creates the first, empty root quill. Otherwise it wraps the current
// root in a new seam holding a single inlet keyed by the root's own
// mayor, installing the new seam as root.
func (p *Porcupine) Grow(ctx context.Context) error {
	if p.height == 0 {
		quill := nodule.NewQuill()
		handle := nodule.NewResidentHandle(quill, p.nest)
		p.nest.Register(handle)
		p.nest.MarkDirty(quill)
		p.root = handle
		p.height = 1
		return nil
	}

	oldRoot, err := p.root.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("grow: %w", err)
	}
	mayor, err := oldRoot.Mayor()
	if err != nil {
		return fmt.Errorf("grow: %w", err)
	}

	newRoot := nodule.NewSeam()
	oldRootHandle := p.root
	newRoot.Insert(mayor, oldRootHandle)

	newRootHandle := nodule.NewResidentHandle(newRoot, p.nest)
	p.nest.Register(newRootHandle)
	p.nest.MarkDirty(newRoot)

	p.root = newRootHandle
	p.height++
	return nil
}

// Shrink removes one level from the tree (spec.md §4.4). It is a no-op
// below height 2. A root seam left with more than one child by a string
// of merges is not yet collapsible and is also left alone; Shrink only
// ever fires once merging has reduced the root to its sole surviving
// child.
func (p *Porcupine) Shrink(ctx context.Context) error {
	if p.height < 2 {
		return nil
	}
	rootNode, err := p.root.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("shrink: %w", err)
	}
	seam, ok := rootNode.(*nodule.Seam)
	if !ok {
		return fmt.Errorf("shrink: root not a seam at height %d: %w", p.height, errs.InvariantViolation)
	}
	if seam.Len() != 1 {
		return nil
	}

	maiden := seam.Inlets()[0].Child
	maidenNode, err := maiden.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("shrink: %w", err)
	}
	maidenNode.SetParent(nil)

	p.root = maiden
	p.height--

	// The old root seam is now unreachable from anywhere in the tree;
	// nothing will ever resolve its handle again, so there is no reason
	// to wait for capacity pressure to reclaim it.
	p.nest.EvictIfPossible()
	return nil
}

// delete removes key from current, which is the quill reached by
// search on the first call and, on every recursive call thereafter, the
// seam whose inlet named the nodule that just went empty or under
// merging threshold (spec.md §4.4).
func (p *Porcupine) delete(ctx context.Context, current nodule.Nodule, key block.Key) error {
	oldMayor, err := current.Mayor()
	if err != nil {
		return fmt.Errorf("delete: %w", errs.InvariantViolation)
	}

	switch t := current.(type) {
	case *nodule.Quill:
		if err := t.Delete(key); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
	case *nodule.Seam:
		if err := t.Delete(key); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
	}
	p.nest.MarkDirty(current)

	if current.Len() == 0 {
		return p.deleteEmptied(ctx, current, oldMayor)
	}

	threshold := int(float64(p.descriptor.Extent) * p.descriptor.Balancing)
	if current.Footprint() < threshold {
		parent := current.Parent()
		if parent == nil || parent.IsNull() {
			return p.Shrink(ctx)
		}
		merged, err := p.tryMerge(ctx, current, oldMayor)
		if err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		if merged {
			return nil
		}
	}

	newMayor, err := current.Mayor()
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if newMayor == oldMayor {
		return nil
	}
	return p.propagate(ctx, current, oldMayor, newMayor)
}

// deleteEmptied handles a nodule that lost its last inlet: the root
// collapses to height 0, a non-root nodule is unlinked from the sibling
// chain and its now-stale inlet removed from the parent recursively.
func (p *Porcupine) deleteEmptied(ctx context.Context, current nodule.Nodule, mayor block.Key) error {
	parent := current.Parent()
	if parent == nil || parent.IsNull() {
		p.root = nodule.NewHandle(block.NullAddress, p.nest)
		p.height = 0
		return nil
	}
	if err := p.unlinkSibling(ctx, current); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	parentNode, err := parent.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return p.delete(ctx, parentNode, mayor)
}

// unlinkSibling removes current from the sibling chain, reattaching its
// left and right neighbors to one another (invariant 4).
func (p *Porcupine) unlinkSibling(ctx context.Context, current nodule.Nodule) error {
	left := current.Left()
	right := current.Right()
	if left != nil && !left.IsNull() {
		leftNode, err := left.Resolve(ctx)
		if err != nil {
			return err
		}
		leftNode.SetRight(right)
		p.nest.MarkDirty(leftNode)
	}
	if right != nil && !right.IsNull() {
		rightNode, err := right.Resolve(ctx)
		if err != nil {
			return err
		}
		rightNode.SetLeft(left)
		p.nest.MarkDirty(rightNode)
	}
	return nil
}

// tryMerge attempts to absorb current into an eligible sibling sharing
// the same parent (spec.md §4.4's delete-time balancing step). Preference
// goes to whichever eligible side is already Dirty (avoiding a write-back
// the checkpoint would otherwise owe), defaulting to the left sibling
// when both or neither are dirty. It reports false, having done nothing,
// when no sibling is eligible, letting the caller fall through to the
// normal mayor-propagation path. parentKey is the key current's parent
// inlet still carries: current's mayor from before the delete.
func (p *Porcupine) tryMerge(ctx context.Context, current nodule.Nodule, parentKey block.Key) (bool, error) {
	left, leftOK, err := p.mergeCandidate(ctx, current, current.Left())
	if err != nil {
		return false, err
	}
	right, rightOK, err := p.mergeCandidate(ctx, current, current.Right())
	if err != nil {
		return false, err
	}

	switch {
	case leftOK && rightOK:
		if right.State() == nodule.Dirty && left.State() != nodule.Dirty {
			return true, p.mergeRight(ctx, current, right, parentKey)
		}
		return true, p.mergeLeft(ctx, left, current, parentKey)
	case leftOK:
		return true, p.mergeLeft(ctx, left, current, parentKey)
	case rightOK:
		return true, p.mergeRight(ctx, current, right, parentKey)
	default:
		return false, nil
	}
}

// mergeCandidate resolves the sibling referenced by h, if any, and
// reports whether it shares current's parent and would fit within
// extent once merged.
func (p *Porcupine) mergeCandidate(ctx context.Context, current nodule.Nodule, h *nodule.Handle) (nodule.Nodule, bool, error) {
	if h == nil || h.IsNull() {
		return nil, false, nil
	}
	sibling, err := h.Resolve(ctx)
	if err != nil {
		return nil, false, err
	}
	if !current.Parent().Equal(sibling.Parent()) {
		return nil, false, nil
	}
	combined, err := combinedFootprint(current, sibling)
	if err != nil {
		return nil, false, nil
	}
	if combined > p.descriptor.Extent {
		return nil, false, nil
	}
	return sibling, true, nil
}

func combinedFootprint(a, b nodule.Nodule) (int, error) {
	switch x := a.(type) {
	case *nodule.Quill:
		y, ok := b.(*nodule.Quill)
		if !ok {
			return 0, fmt.Errorf("combinedFootprint: mismatched kinds")
		}
		return x.CombinedFootprint(y), nil
	case *nodule.Seam:
		y, ok := b.(*nodule.Seam)
		if !ok {
			return 0, fmt.Errorf("combinedFootprint: mismatched kinds")
		}
		return x.CombinedFootprint(y), nil
	default:
		return 0, fmt.Errorf("combinedFootprint: unknown kind %T", a)
	}
}

// mergeLeft absorbs current into its left sibling, which survives.
// Left-merge always propagates: current's removal from the parent can
// leave the parent's own inlet for left keyed by left's stale,
// pre-merge mayor, since left's mayor grows to current's old mayor.
func (p *Porcupine) mergeLeft(ctx context.Context, left, current nodule.Nodule, parentKey block.Key) error {
	oldLeftMayor, err := left.Mayor()
	if err != nil {
		return fmt.Errorf("mergeLeft: %w", err)
	}

	if err := mergeInto(left, current); err != nil {
		return fmt.Errorf("mergeLeft: %w", err)
	}

	if err := p.unlinkSibling(ctx, current); err != nil {
		return fmt.Errorf("mergeLeft: %w", err)
	}
	parent := current.Parent()
	if parent != nil && !parent.IsNull() {
		parentNode, err := parent.Resolve(ctx)
		if err != nil {
			return fmt.Errorf("mergeLeft: %w", err)
		}
		if err := p.delete(ctx, parentNode, parentKey); err != nil {
			return fmt.Errorf("mergeLeft: %w", err)
		}
	}

	newLeftMayor, err := left.Mayor()
	if err != nil {
		return fmt.Errorf("mergeLeft: %w", err)
	}
	leftParent := left.Parent()
	if leftParent == nil || leftParent.IsNull() {
		// left itself became the root (its own parent emptied out and
		// collapsed) during the recursive delete above; nothing left to
		// propagate to.
		return nil
	}
	leftParentNode, err := leftParent.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("mergeLeft: %w", err)
	}
	seam, ok := leftParentNode.(*nodule.Seam)
	if !ok {
		return fmt.Errorf("mergeLeft: parent not a seam: %w", errs.InvariantViolation)
	}
	if newLeftMayor == oldLeftMayor {
		return nil
	}
	return seam.Propagate(oldLeftMayor, newLeftMayor)
}

// mergeRight absorbs current into its right sibling, which survives.
// Right-merge never needs to propagate: right only gains smaller keys,
// so its own mayor (and its parent's inlet for it) is unchanged.
func (p *Porcupine) mergeRight(ctx context.Context, current, right nodule.Nodule, parentKey block.Key) error {
	if err := mergeInto(right, current); err != nil {
		return fmt.Errorf("mergeRight: %w", err)
	}

	if err := p.unlinkSibling(ctx, current); err != nil {
		return fmt.Errorf("mergeRight: %w", err)
	}
	parent := current.Parent()
	if parent == nil || parent.IsNull() {
		return nil
	}
	parentNode, err := parent.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("mergeRight: %w", err)
	}
	return p.delete(ctx, parentNode, parentKey)
}

func mergeInto(survivor, absorbed nodule.Nodule) error {
	switch s := survivor.(type) {
	case *nodule.Quill:
		a, ok := absorbed.(*nodule.Quill)
		if !ok {
			return fmt.Errorf("mergeInto: mismatched kinds")
		}
		s.Merge(a)
	case *nodule.Seam:
		a, ok := absorbed.(*nodule.Seam)
		if !ok {
			return fmt.Errorf("mergeInto: mismatched kinds")
		}
		s.Merge(a)
	default:
		return fmt.Errorf("mergeInto: unknown kind %T", survivor)
	}
	return nil
}
