package inventory

import "time"

// UpdatedEvent is published after every successful stock mutation.
type UpdatedEvent struct {
	ProductID         string    `json:"productId"`
	Quantity          int       `json:"quantity"`
	AvailableQuantity int       `json:"availableQuantity"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

func NewUpdatedEvent(r *Record) UpdatedEvent {
	return UpdatedEvent{
		ProductID:         r.ProductID,
		Quantity:          r.Quantity,
		AvailableQuantity: r.AvailableQuantity(),
		LastUpdated:       r.LastUpdated,
	}
}

// LowStockEvent is published when available stock falls to the
// record's threshold.
type LowStockEvent struct {
	ProductID         string    `json:"productId"`
	CurrentQuantity   int       `json:"currentQuantity"`
	AvailableQuantity int       `json:"availableQuantity"`
	Threshold         int       `json:"threshold"`
	Timestamp         time.Time `json:"timestamp"`
}

func NewLowStockEvent(r *Record) LowStockEvent {
	return LowStockEvent{
		ProductID:         r.ProductID,
		CurrentQuantity:   r.Quantity,
		AvailableQuantity: r.AvailableQuantity(),
		Threshold:         r.LowStockThreshold,
		Timestamp:         time.Now().UTC(),
	}
}
