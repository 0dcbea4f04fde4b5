package httppresentation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	dominv "github.com/Zhima-Mochi/fulfillment-saga/internal/domain/inventory"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/domain/order"
	dompay "github.com/Zhima-Mochi/fulfillment-saga/internal/domain/payment"
	domship "github.com/Zhima-Mochi/fulfillment-saga/internal/domain/shipping"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/messaging"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/resilience"
)

// decodeJSON reads the request body. An empty body decodes to the zero
// value, so optional-body endpoints stay callable without one.
func decodeJSON(r *http.Request, out any) error {
	err := json.NewDecoder(r.Body).Decode(out)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeDomainError maps errors to statuses: missing records are 404,
// business rejections 400 or 409, an unhealthy downstream 503.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dominv.ErrNotFound),
		errors.Is(err, dompay.ErrNotFound),
		errors.Is(err, domship.ErrNotFound),
		errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, dominv.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, dominv.ErrInvalidQuantity),
		errors.Is(err, dominv.ErrInsufficientStock),
		errors.Is(err, dominv.ErrInsufficientAvailable),
		errors.Is(err, dominv.ErrInvalidOperation),
		errors.Is(err, dompay.ErrInvalidState),
		errors.Is(err, domship.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, resilience.ErrServiceUnavailable),
		errors.Is(err, resilience.ErrTimeout),
		errors.Is(err, messaging.ErrChannelUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func paymentResponse(rec *dompay.Record) map[string]any {
	return map[string]any{
		"id":            rec.ID,
		"orderId":       rec.OrderID,
		"customerId":    rec.CustomerID,
		"amount":        rec.Amount,
		"paymentMethod": rec.PaymentMethod,
		"status":        rec.Status,
		"transactionId": rec.TransactionID,
		"metadata":      rec.Metadata,
		"createdAt":     rec.CreatedAt,
		"updatedAt":     rec.UpdatedAt,
	}
}

func shipmentResponse(rec *domship.Record) map[string]any {
	return map[string]any{
		"orderId":           rec.OrderID,
		"customerId":        rec.CustomerID,
		"address":           rec.Address,
		"status":            rec.Status,
		"trackingNumber":    rec.TrackingNumber,
		"carrier":           rec.Carrier,
		"method":            rec.Method,
		"estimatedDelivery": rec.EstimatedDelivery,
		"actualDelivery":    rec.ActualDelivery,
		"history":           rec.History,
		"createdAt":         rec.CreatedAt,
		"updatedAt":         rec.UpdatedAt,
	}
}
