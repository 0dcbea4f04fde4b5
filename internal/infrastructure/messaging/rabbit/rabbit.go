// Package rabbit implements the messaging contract on RabbitMQ.
//
// Each logical queue maps to a durable fanout exchange of the same
// name; every consuming service binds its own durable queue
// "<queue>.<service>" to that exchange, so independent consumers each
// get their own copy of every message and requeue only into their own
// backlog.
package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/messaging"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/observability"
)

const (
	componentRabbit = "rabbit"

	reconnectDelay = 3 * time.Second
	contentType    = "application/json"
)

type binding struct {
	ctx     context.Context
	queue   string
	service string
	handler messaging.Handler
}

// Channel is a reconnecting RabbitMQ connection. Publish and Consume
// survive broker restarts; while disconnected, Publish reports
// messaging.ErrChannelUnavailable and callers decide whether to retry.
type Channel struct {
	uri string
	log observability.Logger

	mu       sync.RWMutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	bindings []binding

	done  chan struct{}
	close sync.Once
	wg    sync.WaitGroup
}

func Dial(uri string, logger observability.Logger) (*Channel, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	c := &Channel{
		uri:  uri,
		log:  logger.With(observability.F("component", componentRabbit)),
		done: make(chan struct{}),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.reconnectLoop()
	return c, nil
}

func (c *Channel) connect() error {
	conn, err := amqp.Dial(c.uri)
	if err != nil {
		return fmt.Errorf("rabbit: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("rabbit: open channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("rabbit: set qos: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.ch = ch
	bindings := append([]binding(nil), c.bindings...)
	c.mu.Unlock()

	for _, b := range bindings {
		if err := c.startConsumer(ch, b); err != nil {
			return err
		}
	}
	return nil
}

// reconnectLoop watches the live connection and re-establishes it,
// re-declaring all topology, until Close is called.
func (c *Channel) reconnectLoop() {
	defer c.wg.Done()

	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		var errCh chan *amqp.Error
		if conn != nil {
			errCh = conn.NotifyClose(make(chan *amqp.Error, 1))
		}

		select {
		case <-c.done:
			return
		case amqpErr := <-errCh:
			if amqpErr != nil {
				c.log.Warn("connection_lost", observability.F("error", amqpErr.Error()))
			}
		}

		c.mu.Lock()
		c.conn = nil
		c.ch = nil
		c.mu.Unlock()

		for {
			select {
			case <-c.done:
				return
			case <-time.After(reconnectDelay):
			}
			if err := c.connect(); err != nil {
				c.log.Warn("reconnect_failed", observability.F("error", err.Error()))
				continue
			}
			c.log.Info("reconnected")
			break
		}
	}
}

func (c *Channel) declare(ch *amqp.Channel, queue, service string) (string, error) {
	if err := ch.ExchangeDeclare(queue, "fanout", true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("rabbit: declare exchange %s: %w", queue, err)
	}
	name := queue + "." + service
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return "", fmt.Errorf("rabbit: declare queue %s: %w", name, err)
	}
	if err := ch.QueueBind(name, "", queue, false, nil); err != nil {
		return "", fmt.Errorf("rabbit: bind queue %s: %w", name, err)
	}
	return name, nil
}

func (c *Channel) Publish(ctx context.Context, queue string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("rabbit: marshal: %w", err)
	}

	c.mu.RLock()
	ch := c.ch
	c.mu.RUnlock()
	if ch == nil {
		return fmt.Errorf("rabbit: publish to %s: %w", queue, messaging.ErrChannelUnavailable)
	}

	if err := ch.ExchangeDeclare(queue, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbit: publish to %s: %w", queue, messaging.ErrChannelUnavailable)
	}

	err = ch.PublishWithContext(ctx, queue, "", false, false, amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("rabbit: publish to %s: %w", queue, messaging.ErrChannelUnavailable)
	}
	return nil
}

func (c *Channel) Consume(ctx context.Context, queue, service string, h messaging.Handler) error {
	if h == nil {
		return fmt.Errorf("rabbit: nil handler for queue %s", queue)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	b := binding{ctx: ctx, queue: queue, service: service, handler: h}

	c.mu.Lock()
	c.bindings = append(c.bindings, b)
	ch := c.ch
	c.mu.Unlock()

	if ch == nil {
		// The reconnect loop will start the consumer once connected.
		return nil
	}
	return c.startConsumer(ch, b)
}

func (c *Channel) startConsumer(ch *amqp.Channel, b binding) error {
	name, err := c.declare(ch, b.queue, b.service)
	if err != nil {
		return err
	}
	deliveries, err := ch.Consume(name, b.service, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbit: consume %s: %w", name, err)
	}

	c.wg.Add(1)
	go c.dispatch(deliveries, b)
	return nil
}

func (c *Channel) dispatch(deliveries <-chan amqp.Delivery, b binding) {
	defer c.wg.Done()

	log := c.log.With(
		observability.F("queue", b.queue),
		observability.F("service", b.service),
	)

	for d := range deliveries {
		// On shutdown the in-flight backlog goes back to the broker.
		if b.ctx.Err() != nil {
			if nackErr := d.Nack(false, true); nackErr != nil {
				log.Warn("nack_failed", observability.F("error", nackErr.Error()))
			}
			return
		}

		err := c.handle(b.ctx, b.handler, messaging.Delivery{
			Queue:       b.queue,
			Body:        d.Body,
			Redelivered: d.Redelivered,
		})
		if err == nil {
			if ackErr := d.Ack(false); ackErr != nil {
				log.Warn("ack_failed", observability.F("error", ackErr.Error()))
			}
			continue
		}

		requeue := !messaging.IsPermanent(err)
		if requeue {
			log.Debug("message_requeued", observability.F("error", err.Error()))
		} else {
			log.Warn("message_rejected", observability.F("error", err.Error()))
		}
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			log.Warn("nack_failed", observability.F("error", nackErr.Error()))
		}
	}
}

func (c *Channel) handle(ctx context.Context, h messaging.Handler, d messaging.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("handler_panic",
				observability.F("queue", d.Queue),
				observability.F("panic", r),
			)
			err = messaging.Permanent(fmt.Errorf("rabbit: handler panic: %v", r))
		}
	}()
	return h(ctx, d)
}

func (c *Channel) Close() error {
	var err error
	c.close.Do(func() {
		close(c.done)
		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.ch = nil
		c.mu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	c.wg.Wait()
	return err
}
