package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	dominv "github.com/Zhima-Mochi/fulfillment-saga/internal/domain/inventory"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/domain/order"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/messaging"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/observability"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/observability/logctx"
)

// consumerName is the binding identity on shared event queues.
const consumerName = "inventory"

// Worker runs inventory's side of the saga: reserve on order creation,
// convert reservations to deductions when payment settles, release on
// cancellation.
type Worker struct {
	service *Service
	orders  order.Lookup
	log     observability.Logger
}

func NewWorker(service *Service, orders order.Lookup, logger observability.Logger) *Worker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Worker{
		service: service,
		orders:  orders,
		log:     logger.With(observability.F("component", "inventory_worker")),
	}
}

// Register binds the worker's handlers to their queues.
func (w *Worker) Register(ctx context.Context, consumer messaging.Consumer) error {
	handlers := map[string]messaging.Handler{
		messaging.QueueOrderCreated:     w.handleOrderCreated,
		messaging.QueuePaymentCompleted: w.handlePaymentCompleted,
		messaging.QueueOrderCancelled:   w.handleOrderCancelled,
	}
	for queue, h := range handlers {
		if err := consumer.Consume(ctx, queue, consumerName, h); err != nil {
			return fmt.Errorf("inventory worker: bind %s: %w", queue, err)
		}
	}
	return nil
}

// handleOrderCreated reserves stock for every order line. A failed line
// releases the lines already reserved, so a rejected order leaves no
// stranded reservations.
func (w *Worker) handleOrderCreated(ctx context.Context, d messaging.Delivery) error {
	var evt order.CreatedEvent
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		return messaging.Permanent(fmt.Errorf("inventory worker: decode %s: %w", d.Queue, err))
	}
	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("event", messaging.QueueOrderCreated),
		observability.F("order_id", evt.OrderID),
	)

	items, err := w.resolveItems(ctx, evt.OrderID, evt.Items)
	if err != nil {
		return err
	}

	var reserved []order.Line
	for _, item := range items {
		if _, err := w.service.Reserve(ctx, item.ProductID, item.Quantity); err != nil {
			w.rollbackReservations(ctx, logger, reserved)
			logger.Warn("reservation_failed",
				observability.F("product_id", item.ProductID),
				observability.F("error", err.Error()),
			)
			return classify(err)
		}
		reserved = append(reserved, item)
	}

	logger.Info("order_reserved", observability.F("items", len(items)))
	return nil
}

// handlePaymentCompleted turns the order's reservations into real
// deductions. Order lines come from the order service; the payment
// event carries only identifiers.
func (w *Worker) handlePaymentCompleted(ctx context.Context, d messaging.Delivery) error {
	var evt payment.CompletedEvent
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		return messaging.Permanent(fmt.Errorf("inventory worker: decode %s: %w", d.Queue, err))
	}
	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("event", messaging.QueuePaymentCompleted),
		observability.F("order_id", evt.OrderID),
	)

	items, err := w.resolveItems(ctx, evt.OrderID, nil)
	if err != nil {
		return err
	}

	for _, item := range items {
		if _, err := w.service.ConfirmDeduction(ctx, item.ProductID, item.Quantity); err != nil {
			logger.Warn("deduction_failed",
				observability.F("product_id", item.ProductID),
				observability.F("error", err.Error()),
			)
			return classify(err)
		}
	}

	logger.Info("deduction_confirmed", observability.F("items", len(items)))
	return nil
}

// handleOrderCancelled releases the order's reservations. Release
// clamps at zero, so a redelivered cancellation is a no-op.
func (w *Worker) handleOrderCancelled(ctx context.Context, d messaging.Delivery) error {
	var evt order.CancelledEvent
	if err := json.Unmarshal(d.Body, &evt); err != nil {
		return messaging.Permanent(fmt.Errorf("inventory worker: decode %s: %w", d.Queue, err))
	}
	logger := logctx.FromOr(ctx, w.log).With(
		observability.F("event", messaging.QueueOrderCancelled),
		observability.F("order_id", evt.OrderID),
	)

	items, err := w.resolveItems(ctx, evt.OrderID, evt.Items)
	if err != nil {
		return err
	}

	for _, item := range items {
		if _, err := w.service.Release(ctx, item.ProductID, item.Quantity); err != nil {
			if errors.Is(err, dominv.ErrNotFound) {
				// Product vanished; nothing left to release.
				continue
			}
			logger.Warn("release_failed",
				observability.F("product_id", item.ProductID),
				observability.F("error", err.Error()),
			)
			return classify(err)
		}
	}

	logger.Info("reservations_released", observability.F("items", len(items)))
	return nil
}

// resolveItems uses the event's inline lines when present, otherwise
// asks the order service.
func (w *Worker) resolveItems(ctx context.Context, orderID string, inline []order.Line) ([]order.Line, error) {
	if len(inline) > 0 {
		return inline, nil
	}
	if w.orders == nil {
		return nil, messaging.Permanent(fmt.Errorf("inventory worker: order %s: no items and no order lookup", orderID))
	}
	details, err := w.orders.FetchOrderDetails(ctx, orderID)
	if errors.Is(err, order.ErrNotFound) {
		return nil, messaging.Permanent(fmt.Errorf("inventory worker: fetch order %s: %w", orderID, err))
	}
	if err != nil {
		return nil, fmt.Errorf("inventory worker: fetch order %s: %w", orderID, err)
	}
	return details.Items, nil
}

func (w *Worker) rollbackReservations(ctx context.Context, logger observability.Logger, reserved []order.Line) {
	for _, item := range reserved {
		if _, err := w.service.Release(ctx, item.ProductID, item.Quantity); err != nil {
			logger.Error("reservation_rollback_failed",
				observability.F("product_id", item.ProductID),
				observability.F("error", err.Error()),
			)
		}
	}
}

// classify maps business rejections to permanent failures so they are
// not redelivered; everything else stays transient and requeues.
func classify(err error) error {
	switch {
	case errors.Is(err, dominv.ErrNotFound),
		errors.Is(err, dominv.ErrInvalidQuantity),
		errors.Is(err, dominv.ErrInsufficientStock),
		errors.Is(err, dominv.ErrInsufficientAvailable),
		errors.Is(err, dominv.ErrInvalidOperation):
		return messaging.Permanent(err)
	default:
		return err
	}
}
