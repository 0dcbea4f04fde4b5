// Package memory provides map-backed repositories guarded by mutexes.
// They back tests and brokerless local runs; the postgres package is
// the production counterpart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/domain/inventory"
)

type InventoryStore struct {
	mu      sync.RWMutex
	records map[string]*inventory.Record
}

func NewInventoryStore() *InventoryStore {
	return &InventoryStore{records: make(map[string]*inventory.Record)}
}

func (s *InventoryStore) Get(_ context.Context, productID string) (*inventory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[productID]
	if !ok {
		return nil, fmt.Errorf("inventory %s: %w", productID, inventory.ErrNotFound)
	}
	clone := *rec
	return &clone, nil
}

func (s *InventoryStore) Create(_ context.Context, rec *inventory.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ProductID]; ok {
		return fmt.Errorf("inventory %s: %w", rec.ProductID, inventory.ErrAlreadyExists)
	}
	clone := *rec
	s.records[rec.ProductID] = &clone
	return nil
}

func (s *InventoryStore) List(_ context.Context) ([]*inventory.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*inventory.Record, 0, len(s.records))
	for _, rec := range s.records {
		clone := *rec
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// Apply performs the validate-and-mutate step as a single critical
// section, so concurrent reservations can never take the reserved count
// past the on-hand quantity.
func (s *InventoryStore) Apply(_ context.Context, productID string, op inventory.Operation, quantity int) (*inventory.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[productID]
	if !ok {
		return nil, fmt.Errorf("inventory %s: %w", productID, inventory.ErrNotFound)
	}
	if err := rec.Apply(op, quantity); err != nil {
		return nil, err
	}
	clone := *rec
	return &clone, nil
}
