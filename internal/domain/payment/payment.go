package payment

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("payment: not found")
	ErrInvalidState = errors.New("payment: invalid state for transition")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Metadata carries free-form processing annotations on a payment.
type Metadata struct {
	Error        string     `json:"error,omitempty"`
	RefundReason string     `json:"refundReason,omitempty"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
	RefundedAt   *time.Time `json:"refundedAt,omitempty"`
}

// Record is the per-order payment lifecycle entry.
type Record struct {
	ID            string
	OrderID       string
	CustomerID    string
	Amount        int64
	PaymentMethod string
	Status        Status
	TransactionID string
	Metadata      Metadata
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewRecord(id, orderID, customerID string, amount int64, method string) (*Record, error) {
	if orderID == "" {
		return nil, errors.New("payment: order id is required")
	}
	if amount < 0 {
		return nil, errors.New("payment: amount must be zero or greater")
	}

	now := time.Now().UTC()
	return &Record{
		ID:            id,
		OrderID:       orderID,
		CustomerID:    customerID,
		Amount:        amount,
		PaymentMethod: method,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Pending reports whether the record still awaits processing.
// Non-pending records make duplicate process requests no-ops.
func (r *Record) Pending() bool { return r.Status == StatusPending }

// MarkCompleted moves a pending payment to completed with the gateway's
// transaction id.
func (r *Record) MarkCompleted(transactionID string) error {
	if r.Status != StatusPending {
		return ErrInvalidState
	}
	now := time.Now().UTC()
	r.Status = StatusCompleted
	r.TransactionID = transactionID
	r.Metadata.ProcessedAt = &now
	r.touch(now)
	return nil
}

// MarkFailed moves a pending payment to failed, recording the cause.
func (r *Record) MarkFailed(reason string) error {
	if r.Status != StatusPending {
		return ErrInvalidState
	}
	now := time.Now().UTC()
	r.Status = StatusFailed
	r.Metadata.Error = reason
	r.Metadata.ProcessedAt = &now
	r.touch(now)
	return nil
}

// MarkRefunded moves a completed payment to refunded. Any other
// starting state is rejected.
func (r *Record) MarkRefunded(reason string) error {
	if r.Status != StatusCompleted {
		return ErrInvalidState
	}
	now := time.Now().UTC()
	r.Status = StatusRefunded
	r.Metadata.RefundReason = reason
	r.Metadata.RefundedAt = &now
	r.touch(now)
	return nil
}

func (r *Record) touch(now time.Time) { r.UpdatedAt = now }
