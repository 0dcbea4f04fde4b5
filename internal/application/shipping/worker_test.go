package shipping

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/domain/order"
	dompay "github.com/Zhima-Mochi/fulfillment-saga/internal/domain/payment"
	domship "github.com/Zhima-Mochi/fulfillment-saga/internal/domain/shipping"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/messaging"
)

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

func newTestWorker(t *testing.T) (*Service, *handlerTable) {
	t.Helper()
	svc, _ := newTestService()
	w := NewWorker(svc, nil)
	table := newHandlerTable()
	require.NoError(t, w.Register(context.Background(), table))
	return svc, table
}

func TestPaymentCompletedStartsProcessing(t *testing.T) {
	svc, table := newTestWorker(t)
	createShipment(t, svc, "order-1")

	err := table.deliver(t, messaging.QueuePaymentCompleted, dompay.CompletedEvent{OrderID: "order-1"})
	require.NoError(t, err)

	rec, err := svc.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domship.StatusProcessing, rec.Status)
}

func TestPaymentCompletedBeforeShipmentCreatedIsTransient(t *testing.T) {
	_, table := newTestWorker(t)

	err := table.deliver(t, messaging.QueuePaymentCompleted, dompay.CompletedEvent{OrderID: "order-1"})
	require.Error(t, err)
	assert.False(t, messaging.IsPermanent(err))
}

func TestStatusUpdateAdvancesShipment(t *testing.T) {
	svc, table := newTestWorker(t)
	createShipment(t, svc, "order-1")

	require.NoError(t, table.deliver(t, messaging.QueuePaymentCompleted, dompay.CompletedEvent{OrderID: "order-1"}))
	require.NoError(t, table.deliver(t, messaging.QueueShippingStatus, StatusEvent{
		OrderID:  "order-1",
		Status:   domship.StatusShipped,
		Location: "warehouse",
	}))

	rec, err := svc.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domship.StatusShipped, rec.Status)
	assert.NotEmpty(t, rec.TrackingNumber)
}

func TestInvalidStatusTransitionIsPermanent(t *testing.T) {
	svc, table := newTestWorker(t)
	createShipment(t, svc, "order-1")

	// Shipped is not reachable from pending.
	err := table.deliver(t, messaging.QueueShippingStatus, StatusEvent{
		OrderID: "order-1",
		Status:  domship.StatusShipped,
	})
	require.Error(t, err)
	assert.True(t, messaging.IsPermanent(err))
}

func TestStatusUpdateMissingFieldsIsPermanent(t *testing.T) {
	_, table := newTestWorker(t)

	err := table.deliver(t, messaging.QueueShippingStatus, StatusEvent{OrderID: "order-1"})
	require.Error(t, err)
	assert.True(t, messaging.IsPermanent(err))
}

func TestOrderCancelledCancelsShipment(t *testing.T) {
	svc, table := newTestWorker(t)
	createShipment(t, svc, "order-1")

	evt := order.CancelledEvent{OrderID: "order-1"}
	require.NoError(t, table.deliver(t, messaging.QueueOrderCancelled, evt))
	// Redelivery acks quietly.
	require.NoError(t, table.deliver(t, messaging.QueueOrderCancelled, evt))

	rec, err := svc.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, domship.StatusCancelled, rec.Status)
}

func TestOrderCancelledWithoutShipmentAcks(t *testing.T) {
	_, table := newTestWorker(t)

	err := table.deliver(t, messaging.QueueOrderCancelled, order.CancelledEvent{OrderID: "ghost"})
	assert.NoError(t, err)
}
