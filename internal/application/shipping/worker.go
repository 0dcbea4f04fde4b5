package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/domain/order"
	dompay "github.com/Zhima-Mochi/fulfillment-saga/internal/domain/payment"
	domship "github.com/Zhima-Mochi/fulfillment-saga/internal/domain/shipping"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/messaging"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/observability"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/observability/logctx"
)

const consumerName = "shipping"

// StatusEvent arrives on the shipping-status queue from carrier
// integrations.
type StatusEvent struct {
	OrderID  string         `json:"orderId"`
	Status   domship.Status `json:"status"`
	Location string         `json:"location,omitempty"`
	Notes    string         `json:"notes,omitempty"`
}

// Worker runs shipping's side of the saga: start fulfillment when
// payment settles, apply carrier status updates, cancel with the order.
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
		log:     logger.With(observability.F("component", "shipping_worker")),
	}
}

func (w *Worker) Register(ctx context.Context, consumer messaging.Consumer) error {
	handlers := map[string]messaging.Handler{
		messaging.QueuePaymentCompleted: w.handlePaymentCompleted,
		messaging.QueueShippingStatus:   w.handleStatusUpdate,
		messaging.QueueOrderCancelled:   w.handleOrderCancelled,
	}
	for queue, h := range handlers {
		if err := consumer.Consume(ctx, queue, consumerName, h); err != nil {
			return fmt.Errorf("shipping worker: bind %s: %w", queue, err)
		}
	}
	return nil
}

// handlePaymentCompleted starts fulfillment. A missing shipment stays
// transient: the shipment may be created after payment under
// at-least-once ordering, and the redelivery will find it.
func (w *Worker) handlePaymentCompleted(ctx context.Context, d messaging.Delivery) error {
	var evt dompay.CompletedEvent
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		return messaging.Permanent(fmt.Errorf("shipping worker: decode %s: %w", d.Queue, err))
	}
	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("event", messaging.QueuePaymentCompleted),
		observability.F("order_id", evt.OrderID),
	)

	rec, err := w.service.Process(ctx, evt.OrderID)
	if err != nil {
		logger.Warn("shipping_processing_failed", observability.F("error", err.Error()))
		return classify(err)
	}

	logger.Info("shipping_processing", observability.F("status", string(rec.Status)))
	return nil
}

func (w *Worker) handleStatusUpdate(ctx context.Context, d messaging.Delivery) error {
	var evt StatusEvent
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		return messaging.Permanent(fmt.Errorf("shipping worker: decode %s: %w", d.Queue, err))
	}
	if evt.OrderID == "" || evt.Status == "" {
		return messaging.Permanent(errors.New("shipping worker: status update missing order id or status"))
	}
	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("event", messaging.QueueShippingStatus),
		observability.F("order_id", evt.OrderID),
	)

	rec, err := w.service.UpdateStatus(ctx, evt.OrderID, evt.Status, evt.Location, evt.Notes)
	if err != nil {
		logger.Warn("shipping_status_update_failed",
			observability.F("status", string(evt.Status)),
			observability.F("error", err.Error()),
		)
		return classify(err)
	}

	logger.Info("shipping_status_updated", observability.F("status", string(rec.Status)))
	return nil
}

func (w *Worker) handleOrderCancelled(ctx context.Context, d messaging.Delivery) error {
	var evt order.CancelledEvent
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		return messaging.Permanent(fmt.Errorf("shipping worker: decode %s: %w", d.Queue, err))
	}
	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("event", messaging.QueueOrderCancelled),
		observability.F("order_id", evt.OrderID),
	)

	_, err := w.service.Cancel(ctx, evt.OrderID, "Order cancelled")
	switch {
	case err == nil:
		logger.Info("shipping_cancelled")
		return nil
	case errors.Is(err, domship.ErrNotFound):
		// No shipment was ever created for this order.
		return nil
	case errors.Is(err, domship.ErrInvalidTransition):
		// Terminal shipment; cancellation can no longer apply.
		logger.Warn("shipping_cancel_rejected", observability.F("error", err.Error()))
		return nil
	default:
		logger.Warn("shipping_cancel_failed", observability.F("error", err.Error()))
		return err
	}
}

// classify keeps impossible transitions out of the requeue loop while
// missing shipments stay transient.
func classify(err error) error {
	if errors.Is(err, domship.ErrInvalidTransition) {
		return messaging.Permanent(err)
	}
	return err
}
