package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/domain/shipping"
)

type ShippingStore struct {
	pool *pgxpool.Pool
}

func NewShippingStore(pool *pgxpool.Pool) *ShippingStore {
	return &ShippingStore{pool: pool}
}

func (s *ShippingStore) GetByOrderID(ctx context.Context, orderID string) (*shipping.Record, error) {
	var rec shipping.Record
	err := s.pool.QueryRow(ctx,
		`SELECT order_id, customer_id, address, status, tracking_number, carrier, method,
		        estimated_delivery, actual_delivery, history, created_at, updated_at
		 FROM shippings WHERE order_id = $1`, orderID).
		Scan(
			&rec.OrderID,
			&rec.CustomerID,
			&rec.Address,
			&rec.Status,
			&rec.TrackingNumber,
			&rec.Carrier,
			&rec.Method,
			&rec.EstimatedDelivery,
			&rec.ActualDelivery,
			&rec.History,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("shipping for order %s: %w", orderID, shipping.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("shipping for order %s: %w", orderID, err)
	}
	return &rec, nil
}

func (s *ShippingStore) Save(ctx context.Context, rec *shipping.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO shippings (order_id, customer_id, address, status, tracking_number, carrier, method,
		                        estimated_delivery, actual_delivery, history, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (order_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   tracking_number = EXCLUDED.tracking_number,
		   estimated_delivery = EXCLUDED.estimated_delivery,
		   actual_delivery = EXCLUDED.actual_delivery,
		   history = EXCLUDED.history,
		   updated_at = EXCLUDED.updated_at`,
		rec.OrderID, rec.CustomerID, rec.Address, rec.Status, rec.TrackingNumber, rec.Carrier, rec.Method,
		rec.EstimatedDelivery, rec.ActualDelivery, rec.History, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("shipping for order %s: save: %w", rec.OrderID, err)
	}
	return nil
}
