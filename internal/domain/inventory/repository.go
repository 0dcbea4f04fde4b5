package inventory

import "context"

// Repository is the inventory record store. Apply must execute the
// operation's check and write as one atomic conditional update; a plain
// read-modify-write across two round trips loses updates under
// concurrent consumers.
type Repository interface {
	Get(ctx context.Context, productID string) (*Record, error)
	Create(ctx context.Context, record *Record) error
	List(ctx context.Context) ([]*Record, error)
	Apply(ctx context.Context, productID string, op Operation, quantity int) (*Record, error)
}
