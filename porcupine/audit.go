package porcupine

import (
	"context"
	"fmt"

	"github.com/n1e/porcupine/block"
	"github.com/n1e/porcupine/errs"
	"github.com/n1e/porcupine/nodule"
)

// Entry is one (key, value) pair yielded by Consult.
type Entry struct {
	Key   block.Key
	Value block.Value
}

// Consult returns up to count entries starting at offset in key order,
// walking the leaf (quill) right-sibling chain (spec.md §6). It always
// starts from the leftmost quill rather than from the tree root, since
// paging is defined purely in terms of the sibling chain once it is
// reached.
func (p *Porcupine) Consult(ctx context.Context, offset, count int) ([]Entry, error) {
	if p.height == 0 || count <= 0 {
		return nil, nil
	}
	current, err := p.leftmostQuill(ctx)
	if err != nil {
		return nil, fmt.Errorf("porcupine: consult: %w", err)
	}

	skipped := 0
	var out []Entry
	for current != nil {
		for _, inlet := range current.Inlets() {
			if skipped < offset {
				skipped++
				continue
			}
			out = append(out, Entry{Key: inlet.Key, Value: inlet.Value})
			if len(out) == count {
				return out, nil
			}
		}
		right := current.Right()
		if right == nil || right.IsNull() {
			break
		}
		next, err := right.Resolve(ctx)
		if err != nil {
			return nil, fmt.Errorf("porcupine: consult: %w", err)
		}
		current = next.(*nodule.Quill)
	}
	return out, nil
}

func (p *Porcupine) leftmostQuill(ctx context.Context) (*nodule.Quill, error) {
	current, err := p.root.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	for {
		if quill, ok := current.(*nodule.Quill); ok {
			return quill, nil
		}
		seam := current.(*nodule.Seam)
		if seam.IsEmpty() {
			return nil, fmt.Errorf("leftmostQuill: empty seam: %w", errs.InvariantViolation)
		}
		child, err := seam.Inlets()[0].Child.Resolve(ctx)
		if err != nil {
			return nil, err
		}
		current = child
	}
}

// Check walks the whole tree and verifies the structural invariants of
// spec.md §3: parent/child consistency, inlet-key-equals-child-mayor,
// footprint within extent for non-root nodules, and uniform leaf height.
// Inlet ordering, the sibling chain and real addresses are not checked.
// It returns the first violation found, wrapped in
// errs.InvariantViolation, or nil if the tree is consistent.
func (p *Porcupine) Check(ctx context.Context) error {
	if p.height == 0 {
		return nil
	}
	root, err := p.root.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("porcupine: check: %w", err)
	}
	if root.Parent() != nil && !root.Parent().IsNull() {
		return fmt.Errorf("porcupine: check: root has a parent: %w", errs.InvariantViolation)
	}
	depth, err := p.checkSubtree(ctx, root, p.root)
	if err != nil {
		return fmt.Errorf("porcupine: check: %w", err)
	}
	if depth != p.height {
		return fmt.Errorf("porcupine: check: computed height %d, tracked height %d: %w", depth, p.height, errs.InvariantViolation)
	}
	return nil
}

// checkSubtree verifies n (reached through handle) and everything below
// it, returning the subtree's height.
func (p *Porcupine) checkSubtree(ctx context.Context, n nodule.Nodule, handle *nodule.Handle) (int, error) {
	if n.Footprint() > p.descriptor.Extent {
		// The root is allowed to sit at an oversized footprint only
		// transiently, right after a top-level insert and before the
		// overflow split that follows it; any non-root overflow found
		// here is a real violation.
		if n.Parent() != nil && !n.Parent().IsNull() {
			return 0, fmt.Errorf("footprint %d exceeds extent %d: %w", n.Footprint(), p.descriptor.Extent, errs.InvariantViolation)
		}
	}

	seam, ok := n.(*nodule.Seam)
	if !ok {
		return 1, nil
	}
	if seam.IsEmpty() {
		return 0, fmt.Errorf("internal seam with no inlets: %w", errs.InvariantViolation)
	}

	var childHeight = -1
	for _, inlet := range seam.Inlets() {
		child, err := inlet.Child.Resolve(ctx)
		if err != nil {
			return 0, err
		}
		if !child.Parent().Equal(nodule.NewResidentHandle(n, nil)) {
			return 0, fmt.Errorf("child parent mismatch under key %s: %w", inlet.Key, errs.InvariantViolation)
		}
		mayor, err := child.Mayor()
		if err != nil {
			return 0, err
		}
		if mayor != inlet.Key {
			return 0, fmt.Errorf("inlet key %s does not match child mayor %s: %w", inlet.Key, mayor, errs.InvariantViolation)
		}
		height, err := p.checkSubtree(ctx, child, inlet.Child)
		if err != nil {
			return 0, err
		}
		if childHeight == -1 {
			childHeight = height
		} else if childHeight != height {
			return 0, fmt.Errorf("sibling subtrees at uneven heights: %w", errs.InvariantViolation)
		}
	}
	return childHeight + 1, nil
}
