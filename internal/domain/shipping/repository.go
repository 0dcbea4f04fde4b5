package shipping

import "context"

type Repository interface {
	GetByOrderID(ctx context.Context, orderID string) (*Record, error)
	Save(ctx context.Context, record *Record) error
}
