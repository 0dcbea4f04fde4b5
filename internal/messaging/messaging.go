// Package messaging defines the durable queue contract the saga runs
// on: JSON payloads, at-least-once delivery, explicit ack/reject with a
// requeue decision.
package messaging

import (
	"context"
	"errors"
)

// Queue names shared across the fulfillment services.
const (
	QueueOrderCreated     = "order-created"
	QueueOrderCancelled   = "order-cancelled"
	QueueOrderPayment     = "order-payment"
	QueuePaymentCompleted = "payment-completed"
	QueuePaymentFailed    = "payment-failed"
	QueuePaymentRefunded  = "payment-refunded"
	QueueInventoryUpdated = "inventory-updated"
	QueueLowStockAlert    = "low-stock-alert"
	QueueShippingUpdated  = "shipping-updated"
	QueueShippingStatus   = "shipping-status"
)

// ErrChannelUnavailable reports that the broker connection is down.
// Callers must reconnect (or let the channel reconnect) rather than
// silently drop the message.
var ErrChannelUnavailable = errors.New("messaging: channel unavailable")

// Delivery is one message handed to a consumer.
type Delivery struct {
	Queue       string
	Body        []byte
	Redelivered bool
}

// Handler processes one delivery. A nil return acknowledges the
// message. A permanent error (see Permanent) rejects it without
// requeue; any other error rejects it back onto the queue for
// redelivery. Handlers run under at-least-once delivery and must
// tolerate duplicates.
type Handler func(ctx context.Context, d Delivery) error

type Publisher interface {
	Publish(ctx context.Context, queue string, payload any) error
}

// Consumer registers a handler for a queue. The service name keeps
// bindings independent: two services consuming the same event each get
// their own durable queue, so fan-out consumers never compete.
type Consumer interface {
	Consume(ctx context.Context, queue, service string, h Handler) error
}

type Channel interface {
	Publisher
	Consumer
	Close() error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as a permanent failure: redelivering the message
// could never succeed, so it must be rejected without requeue.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the no-requeue marker.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
