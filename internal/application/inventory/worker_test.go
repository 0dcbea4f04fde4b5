package inventory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/domain/order"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/messaging"
)

// handlerTable records the handlers a worker binds, keyed by queue, so
// tests can drive them directly.
type handlerTable struct {
	mu       sync.Mutex
	handlers map[string]messaging.Handler
}

func newHandlerTable() *handlerTable {
	return &handlerTable{handlers: make(map[string]messaging.Handler)}
}

func (c *handlerTable) Consume(_ context.Context, queue, _ string, h messaging.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[queue] = h
	return nil
}

func (c *handlerTable) deliver(t *testing.T, queue string, payload any) error {
	t.Helper()
	c.mu.Lock()
	h, ok := c.handlers[queue]
	c.mu.Unlock()
	require.True(t, ok, "no handler bound for %s", queue)

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return h(context.Background(), messaging.Delivery{Queue: queue, Body: body})
}

type staticLookup struct {
	details map[string]*order.Details
}

func (l *staticLookup) FetchOrderDetails(_ context.Context, orderID string) (*order.Details, error) {
	d, ok := l.details[orderID]
	if !ok {
		return nil, order.ErrNotFound
	}
	return d, nil
}

func newTestWorker(t *testing.T, lookup order.Lookup) (*Worker, *Service, *handlerTable) {
	t.Helper()
	svc, _, _ := newTestService(t)
	w := NewWorker(svc, lookup, nil)
	table := newHandlerTable()
	require.NoError(t, w.Register(context.Background(), table))
	return w, svc, table
}

func TestOrderCreatedReservesEachLine(t *testing.T) {
	_, svc, table := newTestWorker(t, nil)
	seed(t, svc, "prod-1", 10)
	seed(t, svc, "prod-2", 10)

	err := table.deliver(t, messaging.QueueOrderCreated, order.CreatedEvent{
		OrderID: "order-1",
		Items: []order.Line{
			{ProductID: "prod-1", Quantity: 2},
			{ProductID: "prod-2", Quantity: 3},
		},
	})
	require.NoError(t, err)

	rec, err := svc.Get(context.Background(), "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.ReservedQuantity)

	rec, err = svc.Get(context.Background(), "prod-2")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.ReservedQuantity)
}

func TestOrderCreatedInsufficientIsPermanentAndRollsBack(t *testing.T) {
	_, svc, table := newTestWorker(t, nil)
	seed(t, svc, "prod-1", 10)
	seed(t, svc, "prod-2", 1)

	err := table.deliver(t, messaging.QueueOrderCreated, order.CreatedEvent{
		OrderID: "order-1",
		Items: []order.Line{
			{ProductID: "prod-1", Quantity: 2},
			{ProductID: "prod-2", Quantity: 5},
		},
	})
	require.Error(t, err)
	assert.True(t, messaging.IsPermanent(err))

	// The first line's reservation was rolled back.
	rec, err := svc.Get(context.Background(), "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.ReservedQuantity)
}

func TestMalformedPayloadIsPermanent(t *testing.T) {
	_, _, table := newTestWorker(t, nil)

	h := table.handlers[messaging.QueueOrderCreated]
	err := h(context.Background(), messaging.Delivery{
		Queue: messaging.QueueOrderCreated,
		Body:  []byte("{not json"),
	})
	require.Error(t, err)
	assert.True(t, messaging.IsPermanent(err))
}

func TestPaymentCompletedConfirmsDeductionViaOrderLookup(t *testing.T) {
	lookup := &staticLookup{details: map[string]*order.Details{
		"order-1": {OrderID: "order-1", Items: []order.Line{{ProductID: "prod-1", Quantity: 4}}},
	}}
	_, svc, table := newTestWorker(t, lookup)
	seed(t, svc, "prod-1", 10)

	_, err := svc.Reserve(context.Background(), "prod-1", 4)
	require.NoError(t, err)

	err = table.deliver(t, messaging.QueuePaymentCompleted, payment.CompletedEvent{OrderID: "order-1"})
	require.NoError(t, err)

	rec, err := svc.Get(context.Background(), "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 6, rec.Quantity)
	assert.Equal(t, 0, rec.ReservedQuantity)
}

func TestPaymentCompletedUnknownOrderIsPermanent(t *testing.T) {
	_, _, table := newTestWorker(t, &staticLookup{})

	err := table.deliver(t, messaging.QueuePaymentCompleted, payment.CompletedEvent{OrderID: "ghost"})
	require.Error(t, err)
	assert.True(t, messaging.IsPermanent(err))
}

func TestOrderCancelledReleasesAndTolerateRedelivery(t *testing.T) {
	_, svc, table := newTestWorker(t, nil)
	seed(t, svc, "prod-1", 10)

	_, err := svc.Reserve(context.Background(), "prod-1", 3)
	require.NoError(t, err)

	evt := order.CancelledEvent{
		OrderID: "order-1",
		Items:   []order.Line{{ProductID: "prod-1", Quantity: 3}},
	}
	require.NoError(t, table.deliver(t, messaging.QueueOrderCancelled, evt))
	// Redelivery of the same cancellation is harmless.
	require.NoError(t, table.deliver(t, messaging.QueueOrderCancelled, evt))

	rec, err := svc.Get(context.Background(), "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.ReservedQuantity)
	assert.Equal(t, 10, rec.AvailableQuantity())
}
