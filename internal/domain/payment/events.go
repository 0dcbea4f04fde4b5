package payment

// RequestedEvent arrives on the order-payment queue when an order needs
// to be charged.
type RequestedEvent struct {
	OrderID       string `json:"orderId"`
	CustomerID    string `json:"customerId"`
	Amount        int64  `json:"amount"`
	PaymentMethod string `json:"paymentMethod"`
}

// CompletedEvent is published when a payment settles. Inventory and
// shipping both consume it independently.
type CompletedEvent struct {
	OrderID       string `json:"orderId"`
	PaymentID     string `json:"paymentId"`
	Status        Status `json:"status"`
	TransactionID string `json:"transactionId"`
}

func NewCompletedEvent(r *Record) CompletedEvent {
	return CompletedEvent{
		OrderID:       r.OrderID,
		PaymentID:     r.ID,
		Status:        r.Status,
		TransactionID: r.TransactionID,
	}
}

// FailedEvent is published when processing exhausts its retries.
type FailedEvent struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Status    Status `json:"status"`
	Error     string `json:"error"`
}

func NewFailedEvent(r *Record) FailedEvent {
	return FailedEvent{
		OrderID:   r.OrderID,
		PaymentID: r.ID,
		Status:    r.Status,
		Error:     r.Metadata.Error,
	}
}

// RefundedEvent is published after a completed payment is refunded.
type RefundedEvent struct {
	OrderID      string `json:"orderId"`
	PaymentID    string `json:"paymentId"`
	Status       Status `json:"status"`
	RefundReason string `json:"refundReason"`
}

func NewRefundedEvent(r *Record) RefundedEvent {
	return RefundedEvent{
		OrderID:      r.OrderID,
		PaymentID:    r.ID,
		Status:       r.Status,
		RefundReason: r.Metadata.RefundReason,
	}
}
