package payment

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/domain/order"
	dompay "github.com/Zhima-Mochi/fulfillment-saga/internal/domain/payment"
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

func newTestWorker(t *testing.T, gw *fakeGateway) (*Service, *capturePublisher, *handlerTable) {
	t.Helper()
	svc, _, pub := newTestService(gw)
	w := NewWorker(svc, nil)
	table := newHandlerTable()
	require.NoError(t, w.Register(context.Background(), table))
	return svc, pub, table
}

func TestPaymentRequestedChargesAndPublishes(t *testing.T) {
	gw := &fakeGateway{}
	svc, pub, table := newTestWorker(t, gw)

	err := table.deliver(t, messaging.QueueOrderPayment, dompay.RequestedEvent{
		OrderID:       "order-1",
		CustomerID:    "cust-1",
		Amount:        2500,
		PaymentMethod: "credit_card",
	})
	require.NoError(t, err)

	rec, err := svc.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, dompay.StatusCompleted, rec.Status)
	assert.Len(t, pub.byQueue(messaging.QueuePaymentCompleted), 1)
}

func TestPaymentRequestedRedeliveryDoesNotDoubleCharge(t *testing.T) {
	gw := &fakeGateway{}
	_, pub, table := newTestWorker(t, gw)

	evt := dompay.RequestedEvent{OrderID: "order-1", Amount: 2500, PaymentMethod: "credit_card"}
	require.NoError(t, table.deliver(t, messaging.QueueOrderPayment, evt))
	require.NoError(t, table.deliver(t, messaging.QueueOrderPayment, evt))

	assert.Equal(t, 1, gw.charges)
	assert.Len(t, pub.byQueue(messaging.QueuePaymentCompleted), 1)
}

func TestPaymentRequestedMissingOrderIDIsPermanent(t *testing.T) {
	gw := &fakeGateway{}
	_, _, table := newTestWorker(t, gw)

	err := table.deliver(t, messaging.QueueOrderPayment, dompay.RequestedEvent{Amount: 100})
	require.Error(t, err)
	assert.True(t, messaging.IsPermanent(err))
	assert.Equal(t, 0, gw.charges)
}

func TestOrderCancelledRefundsCompletedPayment(t *testing.T) {
	gw := &fakeGateway{}
	svc, pub, table := newTestWorker(t, gw)

	require.NoError(t, table.deliver(t, messaging.QueueOrderPayment, dompay.RequestedEvent{
		OrderID: "order-1", Amount: 2500, PaymentMethod: "credit_card",
	}))

	err := table.deliver(t, messaging.QueueOrderCancelled, order.CancelledEvent{OrderID: "order-1"})
	require.NoError(t, err)

	rec, err := svc.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, dompay.StatusRefunded, rec.Status)
	assert.Equal(t, 1, gw.refunds)
	assert.Len(t, pub.byQueue(messaging.QueuePaymentRefunded), 1)
}

func TestOrderCancelledWithoutPaymentAcks(t *testing.T) {
	gw := &fakeGateway{}
	_, _, table := newTestWorker(t, gw)

	err := table.deliver(t, messaging.QueueOrderCancelled, order.CancelledEvent{OrderID: "ghost"})
	assert.NoError(t, err)
	assert.Equal(t, 0, gw.refunds)
}

func TestOrderCancelledWithFailedPaymentNeedsNoRefund(t *testing.T) {
	gw := &fakeGateway{fail: errDeclined}
	svc, _, table := newTestWorker(t, gw)

	require.NoError(t, table.deliver(t, messaging.QueueOrderPayment, dompay.RequestedEvent{
		OrderID: "order-1", Amount: 2500, PaymentMethod: "credit_card",
	}))

	err := table.deliver(t, messaging.QueueOrderCancelled, order.CancelledEvent{OrderID: "order-1"})
	require.NoError(t, err)

	rec, err := svc.GetByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, dompay.StatusFailed, rec.Status)
	assert.Equal(t, 0, gw.refunds)
}
