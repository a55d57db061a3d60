// Package memstore is an in-process, map-backed store.Repository: no
// durability, no allocator, just a mutex-guarded map. It is grounded on
// the same shape as hive/index's ReadOnlyIndex (an in-memory lookup
// structure guarded by a single mutex) rather than on any on-disk format,
// since nothing needs to survive a process exit.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/n1e/porcupine/block"
	"github.com/n1e/porcupine/errs"
	"github.com/n1e/porcupine/store"
)

// Store is a non-durable store.Repository backed by an in-memory map.
type Store struct {
	mu       sync.Mutex
	objects  map[block.Address][]byte
	lineages map[store.Lineage]block.Address
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		objects:  make(map[block.Address][]byte),
		lineages: make(map[store.Lineage]block.Address),
	}
}

func (s *Store) Get(_ context.Context, addr block.Address) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.objects[addr]
	if !ok {
		return nil, fmt.Errorf("memstore: get %s: %w", addr, errs.NotFound)
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (s *Store) Put(_ context.Context, envelope []byte) (block.Address, error) {
	addr := block.RealAddress(blake2b.Sum256(envelope))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[addr]; !exists {
		cp := make([]byte, len(envelope))
		copy(cp, envelope)
		s.objects[addr] = cp
	}
	return addr, nil
}

func (s *Store) Erase(_ context.Context, addr block.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, addr)
	return nil
}

func (s *Store) Latest(_ context.Context, lineage store.Lineage) (block.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.lineages[lineage]
	if !ok {
		return block.Address{}, fmt.Errorf("memstore: latest %s: %w", lineage, errs.NotFound)
	}
	return addr, nil
}

func (s *Store) SetLatest(_ context.Context, lineage store.Lineage, addr block.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lineages[lineage] = addr
	return nil
}

func (s *Store) Close() error { return nil }
