package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/domain/payment"
)

type PaymentStore struct {
	pool *pgxpool.Pool
}

func NewPaymentStore(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{pool: pool}
}

func (s *PaymentStore) GetByOrderID(ctx context.Context, orderID string) (*payment.Record, error) {
	var rec payment.Record
	err := s.pool.QueryRow(ctx,
		`SELECT id, order_id, customer_id, amount, payment_method, status, transaction_id, metadata, created_at, updated_at
		 FROM payments WHERE order_id = $1`, orderID).
		Scan(
			&rec.ID,
			&rec.OrderID,
			&rec.CustomerID,
			&rec.Amount,
			&rec.PaymentMethod,
			&rec.Status,
			&rec.TransactionID,
			&rec.Metadata,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("payment for order %s: %w", orderID, payment.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("payment for order %s: %w", orderID, err)
	}
	return &rec, nil
}

func (s *PaymentStore) Save(ctx context.Context, rec *payment.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO payments (id, order_id, customer_id, amount, payment_method, status, transaction_id, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (order_id) DO UPDATE SET
		   status = EXCLUDED.status,
		   transaction_id = EXCLUDED.transaction_id,
		   metadata = EXCLUDED.metadata,
		   updated_at = EXCLUDED.updated_at`,
		rec.ID, rec.OrderID, rec.CustomerID, rec.Amount, rec.PaymentMethod,
		rec.Status, rec.TransactionID, rec.Metadata, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("payment for order %s: save: %w", rec.OrderID, err)
	}
	return nil
}
