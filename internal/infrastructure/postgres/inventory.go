package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/domain/inventory"
)

type InventoryStore struct {
	pool *pgxpool.Pool
}

func NewInventoryStore(pool *pgxpool.Pool) *InventoryStore {
	return &InventoryStore{pool: pool}
}

const inventoryColumns = `product_id, quantity, reserved_quantity, location, low_stock_threshold, last_updated`

func scanInventory(row pgx.Row) (*inventory.Record, error) {
	var rec inventory.Record
	err := row.Scan(
		&rec.ProductID,
		&rec.Quantity,
		&rec.ReservedQuantity,
		&rec.Location,
		&rec.LowStockThreshold,
		&rec.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *InventoryStore) Get(ctx context.Context, productID string) (*inventory.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+inventoryColumns+` FROM inventory WHERE product_id = $1`, productID)
	rec, err := scanInventory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("inventory %s: %w", productID, inventory.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("inventory %s: %w", productID, err)
	}
	return rec, nil
}

func (s *InventoryStore) Create(ctx context.Context, rec *inventory.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO inventory (`+inventoryColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ProductID, rec.Quantity, rec.ReservedQuantity, rec.Location, rec.LowStockThreshold, rec.LastUpdated)
	if isUniqueViolation(err) {
		return fmt.Errorf("inventory %s: %w", rec.ProductID, inventory.ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("inventory %s: %w", rec.ProductID, err)
	}
	return nil
}

func (s *InventoryStore) List(ctx context.Context) ([]*inventory.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+inventoryColumns+` FROM inventory ORDER BY product_id`)
	if err != nil {
		return nil, fmt.Errorf("inventory list: %w", err)
	}
	defer rows.Close()

	var out []*inventory.Record
	for rows.Next() {
		rec, err := scanInventory(rows)
		if err != nil {
			return nil, fmt.Errorf("inventory list: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("inventory list: %w", err)
	}
	return out, nil
}

// applyStatements maps each stock mutation to one conditional UPDATE.
// The WHERE clause carries the operation's precondition, so the check
// and the write happen in a single statement and concurrent consumers
// cannot interleave between them.
var applyStatements = map[inventory.Operation]string{
	inventory.OpIncrement: `UPDATE inventory
		SET quantity = quantity + $2, last_updated = now()
		WHERE product_id = $1
		RETURNING ` + inventoryColumns,
	inventory.OpDecrement: `UPDATE inventory
		SET quantity = quantity - $2, last_updated = now()
		WHERE product_id = $1 AND quantity >= $2
		RETURNING ` + inventoryColumns,
	inventory.OpReserve: `UPDATE inventory
		SET reserved_quantity = reserved_quantity + $2, last_updated = now()
		WHERE product_id = $1 AND quantity - reserved_quantity >= $2
		RETURNING ` + inventoryColumns,
	inventory.OpRelease: `UPDATE inventory
		SET reserved_quantity = GREATEST(reserved_quantity - $2, 0), last_updated = now()
		WHERE product_id = $1
		RETURNING ` + inventoryColumns,
}

// insufficientErrs tells a failed conditional update apart from a
// missing product: when the UPDATE matched no row but the product
// exists, the precondition failed.
var insufficientErrs = map[inventory.Operation]error{
	inventory.OpDecrement: inventory.ErrInsufficientStock,
	inventory.OpReserve:   inventory.ErrInsufficientAvailable,
}

func (s *InventoryStore) Apply(ctx context.Context, productID string, op inventory.Operation, quantity int) (*inventory.Record, error) {
	if quantity <= 0 {
		return nil, inventory.ErrInvalidQuantity
	}
	stmt, ok := applyStatements[op]
	if !ok {
		return nil, inventory.ErrInvalidOperation
	}

	rec, err := scanInventory(s.pool.QueryRow(ctx, stmt, productID, quantity))
	if errors.Is(err, pgx.ErrNoRows) {
		if insufficient, ok := insufficientErrs[op]; ok {
			if _, getErr := s.Get(ctx, productID); getErr == nil {
				return nil, insufficient
			}
		}
		return nil, fmt.Errorf("inventory %s: %w", productID, inventory.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("inventory %s %s: %w", op, productID, err)
	}
	return rec, nil
}
