package membus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/messaging"
)

type payload struct {
	Seq int `json:"seq"`
}

func collect(t *testing.T, bus *Bus, queue, service string, n int) <-chan payload {
	t.Helper()
	out := make(chan payload, n)
	err := bus.Consume(context.Background(), queue, service, func(_ context.Context, d messaging.Delivery) error {
		var p payload
		if err := json.Unmarshal(d.Body, &p); err != nil {
			return messaging.Permanent(err)
		}
		out <- p
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestPublishDeliversInOrder(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	out := collect(t, bus, messaging.QueueInventoryUpdated, "audit", 5)

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(context.Background(), messaging.QueueInventoryUpdated, payload{Seq: i}))
	}

	for i := 0; i < 5; i++ {
		select {
		case p := <-out:
			assert.Equal(t, i, p.Seq)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestPublishFansOutPerService(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	first := collect(t, bus, messaging.QueuePaymentCompleted, "inventory", 1)
	second := collect(t, bus, messaging.QueuePaymentCompleted, "shipping", 1)

	require.NoError(t, bus.Publish(context.Background(), messaging.QueuePaymentCompleted, payload{Seq: 7}))

	for _, out := range []<-chan payload{first, second} {
		select {
		case p := <-out:
			assert.Equal(t, 7, p.Seq)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive its copy")
		}
	}
}

func TestPublishDropsWithoutSubscriber(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	assert.NoError(t, bus.Publish(context.Background(), messaging.QueueLowStockAlert, payload{Seq: 1}))
}

func TestTransientErrorRequeuesWithRedeliveredFlag(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	var mu sync.Mutex
	var attempts []bool
	done := make(chan struct{})

	err := bus.Consume(context.Background(), messaging.QueueOrderCreated, "inventory", func(_ context.Context, d messaging.Delivery) error {
		mu.Lock()
		attempts = append(attempts, d.Redelivered)
		n := len(attempts)
		mu.Unlock()
		if n == 1 {
			return errors.New("transient glitch")
		}
		close(done)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), messaging.QueueOrderCreated, payload{Seq: 1}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("message was not redelivered")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, attempts, 2)
	assert.False(t, attempts[0])
	assert.True(t, attempts[1])
}

func TestRedeliveryWaitsOutTheRequeueDelay(t *testing.T) {
	bus := New(nil)
	defer bus.Close()
	bus.requeueDelay = 50 * time.Millisecond

	var mu sync.Mutex
	var stamps []time.Time
	done := make(chan struct{})

	err := bus.Consume(context.Background(), messaging.QueueOrderPayment, "payment", func(_ context.Context, _ messaging.Delivery) error {
		mu.Lock()
		stamps = append(stamps, time.Now())
		n := len(stamps)
		mu.Unlock()
		if n == 1 {
			return errors.New("transient glitch")
		}
		close(done)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), messaging.QueueOrderPayment, payload{Seq: 1}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("message was not redelivered")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 2)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 50*time.Millisecond)
}

func TestPermanentErrorIsNotRequeued(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	calls := make(chan struct{}, 4)
	err := bus.Consume(context.Background(), messaging.QueueOrderPayment, "payment", func(_ context.Context, _ messaging.Delivery) error {
		calls <- struct{}{}
		return messaging.Permanent(errors.New("malformed payload"))
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), messaging.QueueOrderPayment, payload{Seq: 1}))

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}

	select {
	case <-calls:
		t.Fatal("permanently failed message was redelivered")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandlerPanicIsDropped(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	calls := make(chan struct{}, 4)
	err := bus.Consume(context.Background(), messaging.QueueShippingStatus, "shipping", func(_ context.Context, _ messaging.Delivery) error {
		calls <- struct{}{}
		panic("boom")
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), messaging.QueueShippingStatus, payload{Seq: 1}))

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}

	select {
	case <-calls:
		t.Fatal("panicking handler was retried")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	bus := New(nil)
	_ = collect(t, bus, messaging.QueueOrderCreated, "inventory", 1)
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), messaging.QueueOrderCreated, payload{Seq: 1})
	assert.ErrorIs(t, err, messaging.ErrChannelUnavailable)
}
