// Package membus is an in-memory implementation of the messaging
// contract for tests and brokerless runs. It keeps the same ack /
// reject-with-requeue semantics as the broker-backed channel; it is not
// durable.
package membus

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/messaging"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/observability"
)

const (
	componentBus = "membus"

	// defaultRequeueDelay spaces redeliveries so a persistently failing
	// handler does not spin against its own backlog.
	defaultRequeueDelay = 200 * time.Millisecond
)

type subscription struct {
	service string
	ch      chan messaging.Delivery
}

// Bus dispatches each queue's messages to its subscribers. Every
// (queue, service) pair gets its own buffered channel and a single
// dispatch goroutine, so delivery within one subscription is FIFO and
// fan-out consumers never block each other.
type Bus struct {
	log          observability.Logger
	requeueDelay time.Duration

	mu    sync.RWMutex
	subs  map[string][]*subscription
	done  chan struct{}
	close sync.Once
	wg    sync.WaitGroup
}

func New(logger observability.Logger) *Bus {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Bus{
		log:          logger.With(observability.F("component", componentBus)),
		requeueDelay: defaultRequeueDelay,
		subs:         make(map[string][]*subscription),
		done:         make(chan struct{}),
	}
}

func (b *Bus) Publish(ctx context.Context, queue string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("membus: marshal: %w", err)
	}

	select {
	case <-b.done:
		return messaging.ErrChannelUnavailable
	default:
	}

	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[queue]...)
	b.mu.RUnlock()

	if len(subs) == 0 {
		b.log.Debug("message_dropped_no_subscriber", observability.F("queue", queue))
		return nil
	}

	d := messaging.Delivery{Queue: queue, Body: body}
	for _, sub := range subs {
		select {
		case sub.ch <- d:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return messaging.ErrChannelUnavailable
		}
	}
	return nil
}

func (b *Bus) Consume(ctx context.Context, queue, service string, h messaging.Handler) error {
	if h == nil {
		return fmt.Errorf("membus: nil handler for queue %s", queue)
	}

	sub := &subscription{service: service, ch: make(chan messaging.Delivery, 1024)}

	b.mu.Lock()
	b.subs[queue] = append(b.subs[queue], sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.dispatch(ctx, queue, sub, h)
	return nil
}

func (b *Bus) dispatch(ctx context.Context, queue string, sub *subscription, h messaging.Handler) {
	defer b.wg.Done()

	log := b.log.With(
		observability.F("queue", queue),
		observability.F("service", sub.service),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case d := <-sub.ch:
			err := b.handle(ctx, h, d)
			if err == nil {
				continue
			}
			if messaging.IsPermanent(err) {
				log.Warn("message_rejected", observability.F("error", err.Error()))
				continue
			}

			// Transient failure: back onto the queue for redelivery,
			// after a pause so a stuck handler cannot hot-loop.
			d.Redelivered = true
			log.Debug("message_requeued", observability.F("error", err.Error()))
			b.requeueLater(sub, d, log)
		}
	}
}

func (b *Bus) requeueLater(sub *subscription, d messaging.Delivery, log observability.Logger) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		timer := time.NewTimer(b.requeueDelay)
		defer timer.Stop()
		select {
		case <-b.done:
		case <-timer.C:
			select {
			case sub.ch <- d:
			default:
				log.Error("message_requeue_overflow")
			}
		}
	}()
}

func (b *Bus) handle(ctx context.Context, h messaging.Handler, d messaging.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("handler_panic",
				observability.F("queue", d.Queue),
				observability.F("panic", r),
				observability.F("stack", string(debug.Stack())),
			)
			err = messaging.Permanent(fmt.Errorf("membus: handler panic: %v", r))
		}
	}()
	return h(ctx, d)
}

func (b *Bus) Close() error {
	b.close.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
	return nil
}
