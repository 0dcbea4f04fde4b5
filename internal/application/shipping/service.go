package shipping

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/application"
	domship "github.com/Zhima-Mochi/fulfillment-saga/internal/domain/shipping"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/messaging"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/observability"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/resilience"
)

const shippingService = "shipping-service"

// Sentinels the guarded caller must surface immediately: retrying a
// missing shipment or an impossible transition cannot change the
// outcome.
func nonRetryable() []error {
	return []error{
		domship.ErrNotFound,
		domship.ErrInvalidTransition,
	}
}

// NewCaller builds the store-guarding caller all shipping transitions
// share, so store trouble trips one breaker for the whole service.
func NewCaller(opts resilience.BreakerOptions) *resilience.Caller {
	retry := resilience.DefaultRetry()
	retry.NonRetryable = nonRetryable()
	return resilience.NewCaller(resilience.NewBreaker(shippingService, opts), retry)
}

type Service struct {
	repo      domship.Repository
	publisher messaging.Publisher
	caller    *resilience.Caller
	obs       *application.Observed
}

func NewService(repo domship.Repository, publisher messaging.Publisher, caller *resilience.Caller, tel observability.Observability) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		caller:    caller,
		obs:       application.NewObserved(tel, shippingService),
	}
}

type CreateShipmentInput struct {
	OrderID    string
	CustomerID string
	Address    domship.Address
	Method     domship.Method
	Carrier    string
}

func (s *Service) Create(ctx context.Context, in CreateShipmentInput) (_ *domship.Record, err error) {
	ctx, done := s.obs.Track(ctx, "shipping.create", attribute.String("order.id", in.OrderID))
	defer func() { done(err) }()

	rec, err := domship.NewRecord(in.OrderID, in.CustomerID, in.Address, in.Method, in.Carrier)
	if err != nil {
		return nil, err
	}
	if err = s.save(ctx, rec); err != nil {
		return nil, fmt.Errorf("shipping %s: save: %w", in.OrderID, err)
	}
	s.publishUpdated(ctx, rec)
	return rec, nil
}

func (s *Service) GetByOrderID(ctx context.Context, orderID string) (_ *domship.Record, err error) {
	ctx, done := s.obs.Track(ctx, "shipping.get", attribute.String("order.id", orderID))
	defer func() { done(err) }()
	return s.get(ctx, orderID)
}

// Process moves a shipment into fulfillment once its payment settles.
// A shipment already past pending is left alone, so redelivered
// payment events are no-ops.
func (s *Service) Process(ctx context.Context, orderID string) (_ *domship.Record, err error) {
	ctx, done := s.obs.Track(ctx, "shipping.process", attribute.String("order.id", orderID))
	defer func() { done(err) }()

	rec, err := s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if rec.Status != domship.StatusPending {
		return rec, nil
	}
	return s.transition(ctx, rec, domship.StatusProcessing, "", "Payment completed")
}

// UpdateStatus advances a shipment along its lifecycle.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status domship.Status, location, notes string) (_ *domship.Record, err error) {
	ctx, done := s.obs.Track(ctx, "shipping.update_status",
		attribute.String("order.id", orderID),
		attribute.String("shipping.status", string(status)))
	defer func() { done(err) }()

	rec, err := s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, rec, status, location, notes)
}

// UpdateTracking corrects the carrier assignment on an existing
// shipment without touching the status lifecycle.
func (s *Service) UpdateTracking(ctx context.Context, orderID, trackingNumber, carrier string) (_ *domship.Record, err error) {
	ctx, done := s.obs.Track(ctx, "shipping.update_tracking", attribute.String("order.id", orderID))
	defer func() { done(err) }()

	rec, err := s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err = rec.SetTracking(trackingNumber, carrier); err != nil {
		return nil, err
	}
	if err = s.save(ctx, rec); err != nil {
		return nil, fmt.Errorf("shipping %s: save: %w", orderID, err)
	}
	s.publishUpdated(ctx, rec)
	return rec, nil
}

// Cancel stops a shipment as compensation for a cancelled order.
// Already-cancelled shipments are no-ops.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (_ *domship.Record, err error) {
	ctx, done := s.obs.Track(ctx, "shipping.cancel", attribute.String("order.id", orderID))
	defer func() { done(err) }()

	rec, err := s.get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if rec.Status == domship.StatusCancelled {
		return rec, nil
	}
	return s.transition(ctx, rec, domship.StatusCancelled, "", reason)
}

func (s *Service) transition(ctx context.Context, rec *domship.Record, status domship.Status, location, notes string) (*domship.Record, error) {
	if err := rec.UpdateStatus(status, location, notes); err != nil {
		return nil, err
	}
	if err := s.save(ctx, rec); err != nil {
		return nil, fmt.Errorf("shipping %s: save: %w", rec.OrderID, err)
	}
	s.publishUpdated(ctx, rec)
	return rec, nil
}

func (s *Service) get(ctx context.Context, orderID string) (*domship.Record, error) {
	var rec *domship.Record
	err := s.caller.Do(ctx, func(ctx context.Context) error {
		var callErr error
		rec, callErr = s.repo.GetByOrderID(ctx, orderID)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) save(ctx context.Context, rec *domship.Record) error {
	return s.caller.Do(ctx, func(ctx context.Context) error {
		return s.repo.Save(ctx, rec)
	})
}

func (s *Service) publishUpdated(ctx context.Context, rec *domship.Record) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, messaging.QueueShippingUpdated, domship.NewUpdatedEvent(rec)); err != nil {
		s.obs.Logger().Warn("shipping_updated_publish_failed",
			observability.F("order_id", rec.OrderID),
			observability.F("error", err.Error()),
		)
	}
}
