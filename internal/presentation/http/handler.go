// Package httppresentation exposes the saga's management API: stock
// operations, payment lookup and refund, shipment lifecycle. Saga
// transitions themselves run over the message channel; this surface is
// for operators and upstream services.
package httppresentation

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	appinv "github.com/Zhima-Mochi/fulfillment-saga/internal/application/inventory"
	apppay "github.com/Zhima-Mochi/fulfillment-saga/internal/application/payment"
	appship "github.com/Zhima-Mochi/fulfillment-saga/internal/application/shipping"
	dominv "github.com/Zhima-Mochi/fulfillment-saga/internal/domain/inventory"
	dompay "github.com/Zhima-Mochi/fulfillment-saga/internal/domain/payment"
	domship "github.com/Zhima-Mochi/fulfillment-saga/internal/domain/shipping"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/observability"
)

const componentHTTPHandler = "http_server"

var errOrderIDRequired = errors.New("order id is required")

type Handler struct {
	inventory *appinv.Service
	payments  *apppay.Service
	shippings *appship.Service
	log       observability.Logger
	tel       observability.Observability
}

func NewHandler(inventorySvc *appinv.Service, paymentSvc *apppay.Service, shippingSvc *appship.Service, logger observability.Logger, tel observability.Observability) *Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handler{
		inventory: inventorySvc,
		payments:  paymentSvc,
		shippings: shippingSvc,
		log:       logger.With(observability.F("component", componentHTTPHandler)),
		tel:       tel,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(ObservabilityMiddleware(h.log, h.tel))

	r.Get("/health", h.handleHealth)

	r.Route("/api/inventory", func(r chi.Router) {
		r.Post("/", h.handleCreateProduct)
		r.Get("/", h.handleListInventory)
		r.Get("/low-stock", h.handleLowStock)
		r.Get("/{productID}", h.handleGetInventory)
		r.Post("/{productID}/add", h.stockOp(h.inventory.AddStock))
		r.Post("/{productID}/remove", h.stockOp(h.inventory.RemoveStock))
		r.Post("/{productID}/reserve", h.stockOp(h.inventory.Reserve))
		r.Post("/{productID}/release", h.stockOp(h.inventory.Release))
	})

	r.Route("/api/payments", func(r chi.Router) {
		r.Post("/", h.handleCreatePayment)
		r.Get("/{orderID}", h.handleGetPayment)
		r.Post("/{orderID}/process", h.handleProcessPayment)
		r.Post("/{orderID}/refund", h.handleRefundPayment)
	})

	r.Route("/api/shippings", func(r chi.Router) {
		r.Post("/", h.handleCreateShipment)
		r.Get("/{orderID}", h.handleGetShipment)
		r.Put("/{orderID}/status", h.handleUpdateShipmentStatus)
		r.Put("/{orderID}/tracking", h.handleUpdateShipmentTracking)
		r.Post("/{orderID}/cancel", h.handleCancelShipment)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createProductRequest struct {
	ProductID         string `json:"productId"`
	Quantity          int    `json:"quantity"`
	Location          string `json:"location,omitempty"`
	LowStockThreshold int    `json:"lowStockThreshold,omitempty"`
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.inventory.CreateProduct(r.Context(), req.ProductID, req.Quantity, req.Location, req.LowStockThreshold)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inventoryResponse(rec))
}

func (h *Handler) handleListInventory(w http.ResponseWriter, r *http.Request) {
	recs, err := h.inventory.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		out = append(out, inventoryResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetInventory(w http.ResponseWriter, r *http.Request) {
	rec, err := h.inventory.Get(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inventoryResponse(rec))
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

// stockOp adapts the four quantity-shaped inventory mutations to one
// handler shape.
func (h *Handler) stockOp(op func(ctx context.Context, productID string, quantity int) (*dominv.Record, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req quantityRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rec, err := op(r.Context(), chi.URLParam(r, "productID"), req.Quantity)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, inventoryResponse(rec))
	}
}

func inventoryResponse(rec *dominv.Record) map[string]any {
	return map[string]any{
		"productId":         rec.ProductID,
		"quantity":          rec.Quantity,
		"reservedQuantity":  rec.ReservedQuantity,
		"availableQuantity": rec.AvailableQuantity(),
		"location":          rec.Location,
		"lowStockThreshold": rec.LowStockThreshold,
		"lastUpdated":       rec.LastUpdated,
	}
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	recs, err := h.inventory.GetLowStockItems(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		out = append(out, inventoryResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

type createPaymentRequest struct {
	OrderID       string `json:"orderId"`
	CustomerID    string `json:"customerId"`
	Amount        int64  `json:"amount"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
}

func (h *Handler) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, errOrderIDRequired)
		return
	}
	rec, err := h.payments.CreateIfAbsent(r.Context(), dompay.RequestedEvent{
		OrderID:       req.OrderID,
		CustomerID:    req.CustomerID,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentResponse(rec))
}

func (h *Handler) handleProcessPayment(w http.ResponseWriter, r *http.Request) {
	rec, err := h.payments.Process(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentResponse(rec))
}

func (h *Handler) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	rec, err := h.payments.GetByOrderID(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentResponse(rec))
}

type refundRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleRefundPayment(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "requested by operator"
	}
	rec, err := h.payments.Refund(r.Context(), chi.URLParam(r, "orderID"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentResponse(rec))
}

type createShipmentRequest struct {
	OrderID    string          `json:"orderId"`
	CustomerID string          `json:"customerId"`
	Address    domship.Address `json:"address"`
	Method     domship.Method  `json:"method,omitempty"`
	Carrier    string          `json:"carrier,omitempty"`
}

func (h *Handler) handleCreateShipment(w http.ResponseWriter, r *http.Request) {
	var req createShipmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.shippings.Create(r.Context(), appship.CreateShipmentInput{
		OrderID:    req.OrderID,
		CustomerID: req.CustomerID,
		Address:    req.Address,
		Method:     req.Method,
		Carrier:    req.Carrier,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, shipmentResponse(rec))
}

func (h *Handler) handleGetShipment(w http.ResponseWriter, r *http.Request) {
	rec, err := h.shippings.GetByOrderID(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shipmentResponse(rec))
}

type updateShipmentRequest struct {
	Status   domship.Status `json:"status"`
	Location string         `json:"location,omitempty"`
	Notes    string         `json:"notes,omitempty"`
}

func (h *Handler) handleUpdateShipmentStatus(w http.ResponseWriter, r *http.Request) {
	var req updateShipmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := h.shippings.UpdateStatus(r.Context(), chi.URLParam(r, "orderID"), req.Status, req.Location, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shipmentResponse(rec))
}

type trackingRequest struct {
	TrackingNumber string `json:"trackingNumber"`
	Carrier        string `json:"carrier,omitempty"`
}

func (h *Handler) handleUpdateShipmentTracking(w http.ResponseWriter, r *http.Request) {
	var req trackingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.TrackingNumber == "" {
		writeError(w, http.StatusBadRequest, errors.New("tracking number is required"))
		return
	}
	rec, err := h.shippings.UpdateTracking(r.Context(), chi.URLParam(r, "orderID"), req.TrackingNumber, req.Carrier)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shipmentResponse(rec))
}

func (h *Handler) handleCancelShipment(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "Cancelled by operator"
	}
	rec, err := h.shippings.Cancel(r.Context(), chi.URLParam(r, "orderID"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shipmentResponse(rec))
}
