// Package config holds the tuning knobs package porcupine needs to turn
// on (extent, balancing, resident capacity, checkpoint policy), grounded
// on hive/merge's Options/DefaultOptions shape: a plain struct with a
// documented default constructor, loadable from YAML for callers (like
// porcupinectl) that want it externalized.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CheckpointPolicy selects when a tree flushes its dirty set.
type CheckpointPolicy int

const (
	// CheckpointManual only flushes when the caller explicitly invokes
	// Porcupine.Checkpoint. Default: safest for callers batching many
	// mutations before a single durability point.
	CheckpointManual CheckpointPolicy = iota

	// CheckpointEveryWrite flushes after every Add/Remove. Simplest
	// durability model, at the cost of a store round trip per mutation.
	CheckpointEveryWrite
)

const (
	// defaultExtent is the maximum nodule footprint in bytes before a
	// split is considered (spec.md §2). 64KiB keeps nodules small enough
	// to encrypt, sign, and transfer cheaply while still holding a
	// useful number of inlets.
	defaultExtent = 64 * 1024

	// defaultBalancing is the merge-threshold fraction (spec.md §2): a
	// nodule under this fraction of extent is a merge candidate.
	defaultBalancing = 0.4

	// defaultResidentCapacity bounds how many nodules Nest keeps resident
	// before EvictIfPossible starts reclaiming. 0 would mean unbounded.
	defaultResidentCapacity = 4096
)

// Descriptor is the full set of tuning parameters for one Porcupine tree.
type Descriptor struct {
	// Extent is the maximum footprint, in bytes, a nodule may reach
	// before package porcupine splits it (spec.md §2).
	Extent int `yaml:"extent"`

	// Balancing is the fraction of Extent below which a nodule becomes a
	// merge candidate (spec.md §2). Must be in (0, 0.5) for the split
	// and merge thresholds to never overlap.
	Balancing float64 `yaml:"balancing"`

	// ResidentCapacity bounds Nest's resident set (spec.md §4.2).
	ResidentCapacity int `yaml:"resident_capacity"`

	// CheckpointPolicy selects when dirty nodules are flushed.
	CheckpointPolicy CheckpointPolicy `yaml:"checkpoint_policy"`
}

// DefaultDescriptor returns production-ready defaults.
func DefaultDescriptor() Descriptor {
	return Descriptor{
		Extent:           defaultExtent,
		Balancing:        defaultBalancing,
		ResidentCapacity: defaultResidentCapacity,
		CheckpointPolicy: CheckpointManual,
	}
}

// Validate checks the invariants package porcupine relies on.
func (d Descriptor) Validate() error {
	if d.Extent <= 0 {
		return fmt.Errorf("config: extent must be positive, got %d", d.Extent)
	}
	if d.Balancing <= 0 || d.Balancing >= 0.5 {
		return fmt.Errorf("config: balancing must be in (0, 0.5), got %f", d.Balancing)
	}
	return nil
}

// Load reads a Descriptor from a YAML file, starting from
// DefaultDescriptor so that a partial file only overrides what it names.
func Load(path string) (Descriptor, error) {
	d := DefaultDescriptor()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return Descriptor{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}
