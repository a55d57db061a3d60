// Package porcupine implements the tree driver of spec.md §4.4: Search,
// Insert, Delete, Grow, Shrink, and the externally visible
// Add/Exist/Locate/Remove/Check/Consult operations built on top of them.
// It owns no storage or cryptography itself; it drives a nest.Nest
// (resident-set management, write-back) and a store.Repository (durable
// root-lineage pointer) that are handed to it at construction.
package porcupine

import (
	"context"
	"errors"
	"fmt"

	"github.com/n1e/porcupine/block"
	"github.com/n1e/porcupine/config"
	"github.com/n1e/porcupine/errs"
	"github.com/n1e/porcupine/internal/logging"
	"github.com/n1e/porcupine/internal/region"
	"github.com/n1e/porcupine/nest"
	"github.com/n1e/porcupine/nodule"
	"github.com/n1e/porcupine/store"
)

// Porcupine is one content-addressed ordered map: a root Handle, a
// height, and the Nest/Repository pair it drives (spec.md §3).
type Porcupine struct {
	root   *nodule.Handle
	height int

	nest       *nest.Nest
	repository store.Repository
	lineage    store.Lineage
	descriptor config.Descriptor
}

// Open constructs a Porcupine over repo under lineage, recovering the
// root from the store's latest-address pointer if one is already
// registered (spec.md §6, "used to recover the current root address on
// reopen"), or starting empty otherwise.
func Open(ctx context.Context, repo store.Repository, n *nest.Nest, lineage store.Lineage, descriptor config.Descriptor) (*Porcupine, error) {
	if err := descriptor.Validate(); err != nil {
		return nil, fmt.Errorf("porcupine: open: %w", err)
	}
	p := &Porcupine{
		root:       nodule.NewHandle(block.NullAddress, n),
		nest:       n,
		repository: repo,
		lineage:    lineage,
		descriptor: descriptor,
	}

	addr, err := repo.Latest(ctx, lineage)
	if err != nil {
		if errors.Is(err, errs.NotFound) {
			logging.Debug("porcupine: no existing root, starting empty", "lineage", lineage)
			return p, nil
		}
		return nil, fmt.Errorf("porcupine: open: %w", err)
	}
	root, err := n.Load(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("porcupine: open: load root: %w", err)
	}
	p.root = nodule.NewResidentHandle(root, n)
	n.Register(p.root)
	p.height, err = heightOf(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("porcupine: open: height: %w", err)
	}
	return p, nil
}

// heightOf walks down the leftmost spine, loading each level as needed,
// to recompute height after a reopen, where no in-memory height counter
// survives.
func heightOf(ctx context.Context, n nodule.Nodule) (int, error) {
	height := 1
	for {
		seam, ok := n.(*nodule.Seam)
		if !ok || seam.IsEmpty() {
			return height, nil
		}
		child, err := seam.Inlets()[0].Child.Resolve(ctx)
		if err != nil {
			return 0, err
		}
		n = child
		height++
	}
}

// Add inserts (key, value), failing errs.AlreadyExists if key is already
// present in the responsible quill.
func (p *Porcupine) Add(ctx context.Context, key block.Key, value block.Value) error {
	quill, err := p.search(ctx, key)
	if err != nil {
		return fmt.Errorf("porcupine: add: %w", err)
	}
	if quill.Exist(key) {
		return fmt.Errorf("porcupine: add %s: %w", key, errs.AlreadyExists)
	}
	guard := region.Acquire(p.nest, asNodule(quill))
	defer guard.Release()
	inlet := nodule.QuillInlet{Key: key, Value: value}
	if err := p.insert(ctx, asNodule(quill), key, inlet.Footprint(), func(target nodule.Nodule) {
		target.(*nodule.Quill).Insert(key, value)
	}); err != nil {
		return fmt.Errorf("porcupine: add: %w", err)
	}
	if p.descriptor.CheckpointPolicy == config.CheckpointEveryWrite {
		if err := p.Checkpoint(ctx); err != nil {
			return fmt.Errorf("porcupine: add: %w", err)
		}
	}
	return nil
}

// Exist reports whether key is present, without surfacing errors for a
// routine absence: a NotFound or LoadFailure met while descending is
// reported as false.
func (p *Porcupine) Exist(ctx context.Context, key block.Key) (bool, error) {
	quill, err := p.search(ctx, key)
	if err != nil {
		if errors.Is(err, errs.NotFound) || errors.Is(err, errs.LoadFailure) {
			return false, nil
		}
		return false, fmt.Errorf("porcupine: exist: %w", err)
	}
	return quill.Exist(key), nil
}

// Locate fetches the value stored for key, failing errs.NotFound.
func (p *Porcupine) Locate(ctx context.Context, key block.Key) (block.Value, error) {
	quill, err := p.search(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("porcupine: locate: %w", err)
	}
	value, err := quill.Locate(key)
	if err != nil {
		return nil, fmt.Errorf("porcupine: locate: %w", err)
	}
	return value, nil
}

// Remove deletes key, failing errs.NotFound if absent.
func (p *Porcupine) Remove(ctx context.Context, key block.Key) error {
	quill, err := p.search(ctx, key)
	if err != nil {
		return fmt.Errorf("porcupine: remove: %w", err)
	}
	if !quill.Exist(key) {
		return fmt.Errorf("porcupine: remove %s: %w", key, errs.NotFound)
	}
	guard := region.Acquire(p.nest, asNodule(quill))
	defer guard.Release()
	if err := p.delete(ctx, asNodule(quill), key); err != nil {
		return fmt.Errorf("porcupine: remove: %w", err)
	}
	if p.descriptor.CheckpointPolicy == config.CheckpointEveryWrite {
		if err := p.Checkpoint(ctx); err != nil {
			return fmt.Errorf("porcupine: remove: %w", err)
		}
	}
	return nil
}

// Checkpoint flushes every Dirty nodule to the repository in dependency
// order, then advances the lineage's latest address to the (now Clean)
// root — the atomic step that makes a checkpoint all-or-nothing
// (spec.md §4.6 step 4): if nest.Checkpoint fails, the lineage pointer
// is left untouched and the tree stays Dirty, retryable.
func (p *Porcupine) Checkpoint(ctx context.Context) error {
	if p.height == 0 {
		return nil
	}
	if err := p.nest.Checkpoint(ctx); err != nil {
		return fmt.Errorf("porcupine: checkpoint: %w", err)
	}
	rootAddr := p.root.Address()
	if !rootAddr.IsReal() {
		return fmt.Errorf("porcupine: checkpoint: root address not real after checkpoint: %w", errs.InvariantViolation)
	}
	if err := p.repository.SetLatest(ctx, p.lineage, rootAddr); err != nil {
		return fmt.Errorf("porcupine: checkpoint: %w", err)
	}
	return nil
}

// Height reports the current tree height (0 = empty).
func (p *Porcupine) Height() int { return p.height }

func asNodule(q *nodule.Quill) nodule.Nodule { return q }
