package inventory

import (
	"errors"
	"time"
)

var (
	ErrNotFound              = errors.New("inventory: product not found")
	ErrInvalidQuantity       = errors.New("inventory: quantity must be greater than zero")
	ErrInsufficientStock     = errors.New("inventory: insufficient stock")
	ErrInsufficientAvailable = errors.New("inventory: insufficient available stock")
	ErrInvalidOperation      = errors.New("inventory: invalid operation")
	ErrAlreadyExists         = errors.New("inventory: record already exists")
)

const defaultLowStockThreshold = 5

// Operation names one of the four stock mutations. A store must apply
// an Operation as a single conditional update so concurrent consumers
// cannot interleave between the check and the write.
type Operation string

const (
	OpIncrement Operation = "increment"
	OpDecrement Operation = "decrement"
	OpReserve   Operation = "reserve"
	OpRelease   Operation = "release"
)

// Record is the per-product stock ledger entry. ReservedQuantity counts
// units pledged to orders whose payment has not completed yet.
type Record struct {
	ProductID         string
	Quantity          int
	ReservedQuantity  int
	Location          string
	LowStockThreshold int
	LastUpdated       time.Time
}

func NewRecord(productID string, quantity int, location string, lowStockThreshold int) (*Record, error) {
	if productID == "" {
		return nil, errors.New("inventory: product id is required")
	}
	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}
	if location == "" {
		location = "main-warehouse"
	}
	if lowStockThreshold <= 0 {
		lowStockThreshold = defaultLowStockThreshold
	}
	return &Record{
		ProductID:         productID,
		Quantity:          quantity,
		Location:          location,
		LowStockThreshold: lowStockThreshold,
		LastUpdated:       time.Now().UTC(),
	}, nil
}

// AvailableQuantity is the stock not pledged to unconfirmed orders.
func (r *Record) AvailableQuantity() int {
	if r.Quantity < r.ReservedQuantity {
		return 0
	}
	return r.Quantity - r.ReservedQuantity
}

// InStock reports whether the requested quantity could be reserved now.
func (r *Record) InStock(quantity int) bool {
	return r.AvailableQuantity() >= quantity
}

// IsLowStock reports whether available stock has fallen to the threshold.
func (r *Record) IsLowStock() bool {
	return r.AvailableQuantity() <= r.LowStockThreshold
}

// Apply performs one stock mutation in place, enforcing the operation's
// precondition. Release never fails: it clamps at zero so redelivered
// release messages stay harmless.
func (r *Record) Apply(op Operation, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	switch op {
	case OpIncrement:
		r.Quantity += quantity
	case OpDecrement:
		if r.Quantity < quantity {
			return ErrInsufficientStock
		}
		r.Quantity -= quantity
	case OpReserve:
		if r.AvailableQuantity() < quantity {
			return ErrInsufficientAvailable
		}
		r.ReservedQuantity += quantity
	case OpRelease:
		r.ReservedQuantity -= quantity
		if r.ReservedQuantity < 0 {
			r.ReservedQuantity = 0
		}
	default:
		return ErrInvalidOperation
	}

	r.LastUpdated = time.Now().UTC()
	return nil
}
