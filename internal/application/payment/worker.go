package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/domain/order"
	dompay "github.com/Zhima-Mochi/fulfillment-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/messaging"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/observability"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/observability/logctx"
)

const consumerName = "payment"

// Worker charges orders when payment is requested and refunds them
// when a paid order is cancelled.
type Worker struct {
	service *Service
	log     observability.Logger
}

func NewWorker(service *Service, logger observability.Logger) *Worker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Worker{
		service: service,
		log:     logger.With(observability.F("component", "payment_worker")),
	}
}

func (w *Worker) Register(ctx context.Context, consumer messaging.Consumer) error {
	handlers := map[string]messaging.Handler{
		messaging.QueueOrderPayment:   w.handlePaymentRequested,
		messaging.QueueOrderCancelled: w.handleOrderCancelled,
	}
	for queue, h := range handlers {
		if err := consumer.Consume(ctx, queue, consumerName, h); err != nil {
			return fmt.Errorf("payment worker: bind %s: %w", queue, err)
		}
	}
	return nil
}

func (w *Worker) handlePaymentRequested(ctx context.Context, d messaging.Delivery) error {
	var evt dompay.RequestedEvent
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		return messaging.Permanent(fmt.Errorf("payment worker: decode %s: %w", d.Queue, err))
	}
	if evt.OrderID == "" {
		return messaging.Permanent(errors.New("payment worker: payment request missing order id"))
	}
	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("event", messaging.QueueOrderPayment),
		observability.F("order_id", evt.OrderID),
	)

	if _, err := w.service.CreateIfAbsent(ctx, evt); err != nil {
		return fmt.Errorf("payment worker: prepare %s: %w", evt.OrderID, err)
	}

	rec, err := w.service.Process(ctx, evt.OrderID)
	if err != nil {
		logger.Warn("payment_processing_failed", observability.F("error", err.Error()))
		return err
	}

	logger.Info("payment_processed", observability.F("status", string(rec.Status)))
	return nil
}

// handleOrderCancelled refunds the order's payment when it had already
// settled. Orders with no payment record, or whose payment never
// completed, need no compensation.
func (w *Worker) handleOrderCancelled(ctx context.Context, d messaging.Delivery) error {
	var evt order.CancelledEvent
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		return messaging.Permanent(fmt.Errorf("payment worker: decode %s: %w", d.Queue, err))
	}
	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("event", messaging.QueueOrderCancelled),
		observability.F("order_id", evt.OrderID),
	)

	rec, err := w.service.GetByOrderID(ctx, evt.OrderID)
	if errors.Is(err, dompay.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("payment worker: lookup %s: %w", evt.OrderID, err)
	}

	switch rec.Status {
	case dompay.StatusCompleted:
	case dompay.StatusRefunded:
		return nil
	default:
		return nil
	}

	if _, err := w.service.Refund(ctx, evt.OrderID, "order cancelled"); err != nil {
		if errors.Is(err, dompay.ErrInvalidState) {
			// Raced with another transition; nothing left to reverse.
			return nil
		}
		logger.Warn("refund_failed", observability.F("error", err.Error()))
		return err
	}

	logger.Info("payment_refunded")
	return nil
}
