// Package order holds the order-service collaborator contract. Order
// CRUD itself lives in another service; the saga only consumes its
// events and looks up order lines.
package order

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("order: not found")

type Line struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Details is the order projection returned by the order service.
type Details struct {
	OrderID string `json:"orderId"`
	Items   []Line `json:"items"`
}

// Lookup fetches order lines from the order service. Calls are
// fallible and retried at the transport layer.
type Lookup interface {
	FetchOrderDetails(ctx context.Context, orderID string) (*Details, error)
}

// CreatedEvent arrives on the order-created queue.
type CreatedEvent struct {
	OrderID    string `json:"orderId"`
	CustomerID string `json:"customerId"`
	Items      []Line `json:"items"`
}

// CancelledEvent arrives on the order-cancelled queue. Items lists the
// reserved lines to release.
type CancelledEvent struct {
	OrderID string `json:"orderId"`
	Items   []Line `json:"items"`
}
