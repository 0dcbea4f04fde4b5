package shipping

import "time"

// UpdatedEvent is published on every shipment transition the saga performs.
type UpdatedEvent struct {
	OrderID           string       `json:"orderId"`
	Status            Status       `json:"status"`
	TrackingNumber    string       `json:"trackingNumber,omitempty"`
	Carrier           string       `json:"carrier"`
	EstimatedDelivery *time.Time   `json:"estimatedDelivery,omitempty"`
	LastUpdate        HistoryEntry `json:"lastUpdate"`
}

func NewUpdatedEvent(r *Record) UpdatedEvent {
	return UpdatedEvent{
		OrderID:           r.OrderID,
		Status:            r.Status,
		TrackingNumber:    r.TrackingNumber,
		Carrier:           r.Carrier,
		EstimatedDelivery: r.EstimatedDelivery,
		LastUpdate:        r.LastUpdate(),
	}
}
