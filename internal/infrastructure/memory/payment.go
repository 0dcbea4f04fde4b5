package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/domain/payment"
)

type PaymentStore struct {
	mu      sync.RWMutex
	records map[string]*payment.Record
}

func NewPaymentStore() *PaymentStore {
	return &PaymentStore{records: make(map[string]*payment.Record)}
}

func (s *PaymentStore) GetByOrderID(_ context.Context, orderID string) (*payment.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[orderID]
	if !ok {
		return nil, fmt.Errorf("payment for order %s: %w", orderID, payment.ErrNotFound)
	}
	clone := *rec
	return &clone, nil
}

func (s *PaymentStore) Save(_ context.Context, rec *payment.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *rec
	s.records[rec.OrderID] = &clone
	return nil
}
