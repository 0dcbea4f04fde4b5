package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/application"
	dompay "github.com/Zhima-Mochi/fulfillment-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/messaging"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/observability"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/resilience"
)

const paymentService = "payment-service"

// NewCaller builds the gateway-guarding caller. Declined charges are
// final, so they must not consume retry attempts; extra sentinels (the
// gateway client's decline error) come from the composition root.
func NewCaller(opts resilience.BreakerOptions, nonRetryable ...error) *resilience.Caller {
	retry := resilience.DefaultRetry()
	retry.NonRetryable = nonRetryable
	return resilience.NewCaller(resilience.NewBreaker(paymentService, opts), retry)
}

type Service struct {
	repo      dompay.Repository
	gateway   dompay.Gateway
	publisher messaging.Publisher
	caller    *resilience.Caller
	obs       *application.Observed
}

func NewService(repo dompay.Repository, gateway dompay.Gateway, publisher messaging.Publisher, caller *resilience.Caller, tel observability.Observability) *Service {
	return &Service{
		repo:      repo,
		gateway:   gateway,
		publisher: publisher,
		caller:    caller,
		obs:       application.NewObserved(tel, paymentService),
	}
}

func (s *Service) GetByOrderID(ctx context.Context, orderID string) (_ *dompay.Record, err error) {
	ctx, done := s.obs.Track(ctx, "payment.get", attribute.String("order.id", orderID))
	defer func() { done(err) }()
	return s.repo.GetByOrderID(ctx, orderID)
}

// Process charges a pending payment through the guarded gateway call
// and publishes the outcome. Non-pending records are returned
// unchanged: redelivered payment requests are no-ops.
//
// A gateway charge can fail two ways. When the downstream is unhealthy
// (open breaker, call timeout), the record stays pending and the error
// surfaces so the message requeues. Any other failure is final: the
// record is marked failed and the failure event published.
func (s *Service) Process(ctx context.Context, orderID string) (_ *dompay.Record, err error) {
	ctx, done := s.obs.Track(ctx, "payment.process", attribute.String("order.id", orderID))
	defer func() { done(err) }()

	rec, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !rec.Pending() {
		s.obs.Logger().Info("payment_already_processed",
			observability.F("order_id", orderID),
			observability.F("status", string(rec.Status)),
		)
		return rec, nil
	}

	var result *dompay.ChargeResult
	chargeErr := s.caller.Do(ctx, func(ctx context.Context) error {
		var callErr error
		result, callErr = s.gateway.Charge(ctx, dompay.ChargeRequest{
			OrderID:       rec.OrderID,
			Amount:        rec.Amount,
			PaymentMethod: rec.PaymentMethod,
		})
		return callErr
	})

	switch {
	case chargeErr == nil:
		if err = rec.MarkCompleted(result.TransactionID); err != nil {
			return nil, err
		}
	case errors.Is(chargeErr, resilience.ErrServiceUnavailable),
		errors.Is(chargeErr, resilience.ErrTimeout):
		// Downstream unhealthy; keep the record pending and let the
		// message come back later.
		err = fmt.Errorf("payment %s: charge: %w", orderID, chargeErr)
		return nil, err
	default:
		if err = rec.MarkFailed(chargeErr.Error()); err != nil {
			return nil, err
		}
	}

	if err = s.repo.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("payment %s: save: %w", orderID, err)
	}
	s.publishOutcome(ctx, rec)
	return rec, nil
}

// Refund reverses a completed payment, as compensation for a cancelled
// order. Already-refunded records are no-ops; pending and failed
// records have nothing to reverse.
func (s *Service) Refund(ctx context.Context, orderID, reason string) (_ *dompay.Record, err error) {
	ctx, done := s.obs.Track(ctx, "payment.refund", attribute.String("order.id", orderID))
	defer func() { done(err) }()

	rec, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case dompay.StatusRefunded:
		return rec, nil
	case dompay.StatusCompleted:
	default:
		return nil, fmt.Errorf("payment %s: refund from %s: %w", orderID, rec.Status, dompay.ErrInvalidState)
	}

	err = s.caller.Do(ctx, func(ctx context.Context) error {
		return s.gateway.Refund(ctx, rec.TransactionID, reason)
	})
	if err != nil {
		return nil, fmt.Errorf("payment %s: refund: %w", orderID, err)
	}

	if err = rec.MarkRefunded(reason); err != nil {
		return nil, err
	}
	if err = s.repo.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("payment %s: save: %w", orderID, err)
	}
	s.publishRefunded(ctx, rec)
	return rec, nil
}

// CreateIfAbsent returns the order's payment record, creating a pending
// one when none exists yet.
func (s *Service) CreateIfAbsent(ctx context.Context, evt dompay.RequestedEvent) (*dompay.Record, error) {
	rec, err := s.repo.GetByOrderID(ctx, evt.OrderID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, dompay.ErrNotFound) {
		return nil, err
	}

	rec, err = dompay.NewRecord(uuid.NewString(), evt.OrderID, evt.CustomerID, evt.Amount, evt.PaymentMethod)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("payment %s: save: %w", evt.OrderID, err)
	}
	return rec, nil
}

func (s *Service) publishOutcome(ctx context.Context, rec *dompay.Record) {
	if s.publisher == nil {
		return
	}
	log := s.obs.Logger().With(observability.F("order_id", rec.OrderID))

	var queue string
	var payload any
	switch rec.Status {
	case dompay.StatusCompleted:
		queue, payload = messaging.QueuePaymentCompleted, dompay.NewCompletedEvent(rec)
	case dompay.StatusFailed:
		queue, payload = messaging.QueuePaymentFailed, dompay.NewFailedEvent(rec)
	default:
		return
	}
	if err := s.publisher.Publish(ctx, queue, payload); err != nil {
		log.Warn("payment_outcome_publish_failed",
			observability.F("queue", queue),
			observability.F("error", err.Error()),
		)
	}
}

func (s *Service) publishRefunded(ctx context.Context, rec *dompay.Record) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, messaging.QueuePaymentRefunded, dompay.NewRefundedEvent(rec)); err != nil {
		s.obs.Logger().Warn("payment_refunded_publish_failed",
			observability.F("order_id", rec.OrderID),
			observability.F("error", err.Error()),
		)
	}
}
