package inventory

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/application"
	dominv "github.com/Zhima-Mochi/fulfillment-saga/internal/domain/inventory"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/messaging"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/observability"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/resilience"
)

const inventoryService = "inventory-service"

// Sentinels the guarded caller must surface immediately: retrying a
// business rejection cannot change the outcome.
func nonRetryable() []error {
	return []error{
		dominv.ErrNotFound,
		dominv.ErrInvalidQuantity,
		dominv.ErrInsufficientStock,
		dominv.ErrInsufficientAvailable,
		dominv.ErrInvalidOperation,
		dominv.ErrAlreadyExists,
	}
}

// NewCaller builds the store-guarding caller all inventory operations
// share, so store trouble trips one breaker for the whole service.
func NewCaller(opts resilience.BreakerOptions) *resilience.Caller {
	retry := resilience.DefaultRetry()
	retry.NonRetryable = nonRetryable()
	return resilience.NewCaller(resilience.NewBreaker(inventoryService, opts), retry)
}

type Service struct {
	repo      dominv.Repository
	publisher messaging.Publisher
	caller    *resilience.Caller
	obs       *application.Observed
}

func NewService(repo dominv.Repository, publisher messaging.Publisher, caller *resilience.Caller, tel observability.Observability) *Service {
	return &Service{
		repo:      repo,
		publisher: publisher,
		caller:    caller,
		obs:       application.NewObserved(tel, inventoryService),
	}
}

func (s *Service) CreateProduct(ctx context.Context, productID string, quantity int, location string, lowStockThreshold int) (_ *dominv.Record, err error) {
	ctx, done := s.obs.Track(ctx, "inventory.create",
		attribute.String("product.id", productID))
	defer func() { done(err) }()

	rec, err := dominv.NewRecord(productID, quantity, location, lowStockThreshold)
	if err != nil {
		return nil, err
	}
	err = s.caller.Do(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	s.publishStockEvents(ctx, rec)
	return rec, nil
}

func (s *Service) Get(ctx context.Context, productID string) (_ *dominv.Record, err error) {
	ctx, done := s.obs.Track(ctx, "inventory.get",
		attribute.String("product.id", productID))
	defer func() { done(err) }()

	var rec *dominv.Record
	err = s.caller.Do(ctx, func(ctx context.Context) error {
		var callErr error
		rec, callErr = s.repo.Get(ctx, productID)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) List(ctx context.Context) (_ []*dominv.Record, err error) {
	ctx, done := s.obs.Track(ctx, "inventory.list")
	defer func() { done(err) }()

	var recs []*dominv.Record
	err = s.caller.Do(ctx, func(ctx context.Context) error {
		var callErr error
		recs, callErr = s.repo.List(ctx)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// GetLowStockItems lists the products whose available stock has fallen
// to their threshold.
func (s *Service) GetLowStockItems(ctx context.Context) (_ []*dominv.Record, err error) {
	ctx, done := s.obs.Track(ctx, "inventory.low_stock")
	defer func() { done(err) }()

	var recs []*dominv.Record
	err = s.caller.Do(ctx, func(ctx context.Context) error {
		var callErr error
		recs, callErr = s.repo.List(ctx)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	low := make([]*dominv.Record, 0, len(recs))
	for _, rec := range recs {
		if rec.IsLowStock() {
			low = append(low, rec)
		}
	}
	return low, nil
}

// AddStock restocks a product.
func (s *Service) AddStock(ctx context.Context, productID string, quantity int) (*dominv.Record, error) {
	return s.apply(ctx, "inventory.add_stock", productID, dominv.OpIncrement, quantity)
}

// RemoveStock deducts on-hand stock directly, without going through a
// reservation.
func (s *Service) RemoveStock(ctx context.Context, productID string, quantity int) (*dominv.Record, error) {
	return s.apply(ctx, "inventory.remove_stock", productID, dominv.OpDecrement, quantity)
}

// Reserve pledges available stock to an order awaiting payment.
func (s *Service) Reserve(ctx context.Context, productID string, quantity int) (*dominv.Record, error) {
	return s.apply(ctx, "inventory.reserve", productID, dominv.OpReserve, quantity)
}

// Release returns a reservation to available stock. Releasing more
// than is reserved clamps at zero, so redeliveries stay harmless.
func (s *Service) Release(ctx context.Context, productID string, quantity int) (*dominv.Record, error) {
	return s.apply(ctx, "inventory.release", productID, dominv.OpRelease, quantity)
}

// ConfirmDeduction converts a reservation into a real deduction after
// payment settles: release the pledge, then decrement on-hand stock.
// The two mutations are separately guarded; a decrement failure leaves
// the release in place and surfaces the error for redelivery.
func (s *Service) ConfirmDeduction(ctx context.Context, productID string, quantity int) (_ *dominv.Record, err error) {
	ctx, done := s.obs.Track(ctx, "inventory.confirm_deduction",
		attribute.String("product.id", productID),
		attribute.Int("quantity", quantity))
	defer func() { done(err) }()

	if _, err = s.applyGuarded(ctx, productID, dominv.OpRelease, quantity); err != nil {
		return nil, fmt.Errorf("confirm deduction %s: release: %w", productID, err)
	}
	rec, err := s.applyGuarded(ctx, productID, dominv.OpDecrement, quantity)
	if err != nil {
		return nil, fmt.Errorf("confirm deduction %s: decrement: %w", productID, err)
	}
	s.publishStockEvents(ctx, rec)
	return rec, nil
}

func (s *Service) apply(ctx context.Context, useCase, productID string, op dominv.Operation, quantity int) (_ *dominv.Record, err error) {
	ctx, done := s.obs.Track(ctx, useCase,
		attribute.String("product.id", productID),
		attribute.Int("quantity", quantity))
	defer func() { done(err) }()

	rec, err := s.applyGuarded(ctx, productID, op, quantity)
	if err != nil {
		return nil, err
	}
	s.publishStockEvents(ctx, rec)
	return rec, nil
}

func (s *Service) applyGuarded(ctx context.Context, productID string, op dominv.Operation, quantity int) (*dominv.Record, error) {
	var rec *dominv.Record
	err := s.caller.Do(ctx, func(ctx context.Context) error {
		var callErr error
		rec, callErr = s.repo.Apply(ctx, productID, op, quantity)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// publishStockEvents emits the stock-changed event and, when available
// stock has fallen to the threshold, a low-stock alert. Publish
// failures are logged, not surfaced: the mutation already happened.
func (s *Service) publishStockEvents(ctx context.Context, rec *dominv.Record) {
	if s.publisher == nil {
		return
	}
	log := s.obs.Logger().With(observability.F("product_id", rec.ProductID))

	if err := s.publisher.Publish(ctx, messaging.QueueInventoryUpdated, dominv.NewUpdatedEvent(rec)); err != nil {
		log.Warn("inventory_updated_publish_failed", observability.F("error", err.Error()))
	}
	if !rec.IsLowStock() {
		return
	}
	log.Warn("low_stock",
		observability.F("available", rec.AvailableQuantity()),
		observability.F("threshold", rec.LowStockThreshold),
	)
	if err := s.publisher.Publish(ctx, messaging.QueueLowStockAlert, dominv.NewLowStockEvent(rec)); err != nil {
		log.Warn("low_stock_alert_publish_failed", observability.F("error", err.Error()))
	}
}
