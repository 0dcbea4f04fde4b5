package rabbit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/messaging"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/observability"
)

type nackRecord struct {
	tag     uint64
	requeue bool
}

type fakeAcker struct {
	mu    sync.Mutex
	acks  []uint64
	nacks []nackRecord
}

func (a *fakeAcker) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)
	return nil
}

func (a *fakeAcker) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, nackRecord{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func newTestChannel() *Channel {
	return &Channel{log: observability.NopLogger(), done: make(chan struct{})}
}

func runDispatch(c *Channel, b binding, deliveries chan amqp.Delivery) {
	c.wg.Add(1)
	go c.dispatch(deliveries, b)
}

func TestDispatchAcksAndNacksByOutcome(t *testing.T) {
	c := newTestChannel()
	acker := &fakeAcker{}
	deliveries := make(chan amqp.Delivery)

	handler := func(_ context.Context, d messaging.Delivery) error {
		switch string(d.Body) {
		case "ok":
			return nil
		case "malformed":
			return messaging.Permanent(errors.New("malformed payload"))
		default:
			return errors.New("transient glitch")
		}
	}
	runDispatch(c, binding{
		ctx:     context.Background(),
		queue:   messaging.QueueOrderCreated,
		service: "inventory",
		handler: handler,
	}, deliveries)

	for tag, body := range map[uint64]string{1: "ok", 2: "malformed", 3: "glitch"} {
		deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: tag, Body: []byte(body)}
	}
	close(deliveries)
	c.wg.Wait()

	acker.mu.Lock()
	defer acker.mu.Unlock()
	assert.Equal(t, []uint64{1}, acker.acks)
	assert.ElementsMatch(t, []nackRecord{
		{tag: 2, requeue: false},
		{tag: 3, requeue: true},
	}, acker.nacks)
}

func TestDispatchHandlerSeesConsumerContext(t *testing.T) {
	type ctxKey struct{}

	c := newTestChannel()
	deliveries := make(chan amqp.Delivery)

	var mu sync.Mutex
	var seen any
	handler := func(ctx context.Context, _ messaging.Delivery) error {
		mu.Lock()
		seen = ctx.Value(ctxKey{})
		mu.Unlock()
		return nil
	}
	ctx := context.WithValue(context.Background(), ctxKey{}, "fulfillment")
	runDispatch(c, binding{
		ctx:     ctx,
		queue:   messaging.QueueOrderPayment,
		service: "payment",
		handler: handler,
	}, deliveries)

	deliveries <- amqp.Delivery{Acknowledger: &fakeAcker{}, DeliveryTag: 1, Body: []byte("{}")}
	close(deliveries)
	c.wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "fulfillment", seen)
}

func TestDispatchReturnsBacklogOnContextCancel(t *testing.T) {
	c := newTestChannel()
	acker := &fakeAcker{}
	deliveries := make(chan amqp.Delivery)

	var calls int
	handler := func(context.Context, messaging.Delivery) error {
		calls++
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runDispatch(c, binding{
		ctx:     ctx,
		queue:   messaging.QueuePaymentCompleted,
		service: "shipping",
		handler: handler,
	}, deliveries)

	select {
	case deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 9, Body: []byte("{}")}:
	case <-time.After(time.Second):
		t.Fatal("dispatch did not pick up the delivery")
	}
	c.wg.Wait()

	acker.mu.Lock()
	defer acker.mu.Unlock()
	require.Empty(t, acker.acks)
	require.Equal(t, []nackRecord{{tag: 9, requeue: true}}, acker.nacks)
	assert.Zero(t, calls)
}
