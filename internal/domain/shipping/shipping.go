package shipping

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("shipping: not found")
	ErrInvalidTransition = errors.New("shipping: invalid status transition")
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusReturned   Status = "returned"
)

type Method string

const (
	MethodStandard  Method = "standard"
	MethodExpress   Method = "express"
	MethodOvernight Method = "overnight"
)

// deliveryDays maps a shipping method to its estimated transit time.
var deliveryDays = map[Method]int{
	MethodStandard:  5,
	MethodExpress:   2,
	MethodOvernight: 1,
}

// transitions lists the legal next statuses. Terminal statuses have no
// entries; cancelled and returned are reachable from every non-terminal
// status.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled, StatusReturned},
	StatusProcessing: {StatusShipped, StatusCancelled, StatusReturned},
	StatusShipped:    {StatusDelivered, StatusCancelled, StatusReturned},
}

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

// HistoryEntry is one line of the append-only audit trail.
type HistoryEntry struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Location  string    `json:"location,omitempty"`
	Notes     string    `json:"notes,omitempty"`
}

// Record is the per-order shipment with its full status history.
type Record struct {
	OrderID           string
	CustomerID        string
	Address           Address
	Status            Status
	TrackingNumber    string
	Carrier           string
	Method            Method
	EstimatedDelivery *time.Time
	ActualDelivery    *time.Time
	History           []HistoryEntry
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func NewRecord(orderID, customerID string, address Address, method Method, carrier string) (*Record, error) {
	if orderID == "" {
		return nil, errors.New("shipping: order id is required")
	}
	if customerID == "" {
		return nil, errors.New("shipping: customer id is required")
	}
	if _, ok := deliveryDays[method]; !ok {
		if method == "" {
			method = MethodStandard
		} else {
			return nil, fmt.Errorf("shipping: unknown method %q", method)
		}
	}
	if carrier == "" {
		carrier = "default-carrier"
	}

	now := time.Now().UTC()
	return &Record{
		OrderID:    orderID,
		CustomerID: customerID,
		Address:    address,
		Status:     StatusPending,
		Carrier:    carrier,
		Method:     method,
		History: []HistoryEntry{{
			Status:    StatusPending,
			Timestamp: now,
			Notes:     "Shipping created",
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Terminal reports whether no further transitions are possible.
func (r *Record) Terminal() bool {
	_, ok := transitions[r.Status]
	return !ok
}

func (r *Record) canTransition(to Status) bool {
	for _, s := range transitions[r.Status] {
		if s == to {
			return true
		}
	}
	return false
}

// UpdateStatus advances the shipment and appends exactly one history
// entry. Transitioning to shipped assigns a tracking number when absent
// and computes the estimated delivery from the shipping method;
// delivered stamps the actual delivery time.
func (r *Record) UpdateStatus(status Status, location, notes string) error {
	if !r.canTransition(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, status)
	}

	now := time.Now().UTC()
	r.Status = status
	r.History = append(r.History, HistoryEntry{
		Status:    status,
		Timestamp: now,
		Location:  location,
		Notes:     notes,
	})

	switch status {
	case StatusShipped:
		if r.TrackingNumber == "" {
			r.TrackingNumber = newTrackingNumber()
		}
		eta := now.AddDate(0, 0, deliveryDays[r.Method])
		r.EstimatedDelivery = &eta
	case StatusDelivered:
		r.ActualDelivery = &now
	}

	r.UpdatedAt = now
	return nil
}

// SetTracking assigns or corrects carrier details. It is not a status
// transition and appends no history entry.
func (r *Record) SetTracking(trackingNumber, carrier string) error {
	if trackingNumber == "" {
		return errors.New("shipping: tracking number is required")
	}
	r.TrackingNumber = trackingNumber
	if carrier != "" {
		r.Carrier = carrier
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// LastUpdate returns the newest history entry.
func (r *Record) LastUpdate() HistoryEntry {
	return r.History[len(r.History)-1]
}

func newTrackingNumber() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "TRK" + id[:12]
}
