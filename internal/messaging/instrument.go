package messaging

import (
	"context"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/observability"
)

type instrumentedChannel struct {
	ch        Channel
	published observability.Counter // messages_published_total{queue,outcome}
	consumed  observability.Counter // messages_consumed_total{queue,service,outcome}
}

// Instrument wraps a channel with publish/consume counters.
func Instrument(ch Channel, metrics observability.Metrics) Channel {
	if metrics == nil {
		return ch
	}
	return &instrumentedChannel{
		ch:        ch,
		published: metrics.Counter(observability.MMessagesPublished),
		consumed:  metrics.Counter(observability.MMessagesConsumed),
	}
}

func (c *instrumentedChannel) Publish(ctx context.Context, queue string, payload any) error {
	err := c.ch.Publish(ctx, queue, payload)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.published.Add(1,
		observability.L("queue", queue),
		observability.L("outcome", outcome),
	)
	return err
}

func (c *instrumentedChannel) Consume(ctx context.Context, queue, service string, h Handler) error {
	wrapped := func(ctx context.Context, d Delivery) error {
		err := h(ctx, d)
		outcome := "ack"
		switch {
		case err == nil:
		case IsPermanent(err):
			outcome = "reject"
		default:
			outcome = "requeue"
		}
		c.consumed.Add(1,
			observability.L("queue", queue),
			observability.L("service", service),
			observability.L("outcome", outcome),
		)
		return err
	}
	return c.ch.Consume(ctx, queue, service, wrapped)
}

func (c *instrumentedChannel) Close() error { return c.ch.Close() }
