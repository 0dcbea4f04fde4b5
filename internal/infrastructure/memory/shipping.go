package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/domain/shipping"
)

type ShippingStore struct {
	mu      sync.RWMutex
	records map[string]*shipping.Record
}

func NewShippingStore() *ShippingStore {
	return &ShippingStore{records: make(map[string]*shipping.Record)}
}

func (s *ShippingStore) GetByOrderID(_ context.Context, orderID string) (*shipping.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[orderID]
	if !ok {
		return nil, fmt.Errorf("shipping for order %s: %w", orderID, shipping.ErrNotFound)
	}
	return cloneShipping(rec), nil
}

func (s *ShippingStore) Save(_ context.Context, rec *shipping.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.OrderID] = cloneShipping(rec)
	return nil
}

// cloneShipping copies the record including its history slice, so a
// caller appending history never mutates the stored copy.
func cloneShipping(rec *shipping.Record) *shipping.Record {
	clone := *rec
	clone.History = append([]shipping.HistoryEntry(nil), rec.History...)
	return &clone
}
