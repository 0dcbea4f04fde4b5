package payment

import "context"

type Repository interface {
	GetByOrderID(ctx context.Context, orderID string) (*Record, error)
	Save(ctx context.Context, record *Record) error
}

// Gateway is the external payment processor behind the guarded call.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Refund(ctx context.Context, transactionID, reason string) error
}

type ChargeRequest struct {
	OrderID       string `json:"orderId"`
	Amount        int64  `json:"amount"`
	PaymentMethod string `json:"paymentMethod"`
}

type ChargeResult struct {
	TransactionID string `json:"transactionId"`
}
