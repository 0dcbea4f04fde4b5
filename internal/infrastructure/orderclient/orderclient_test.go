package orderclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/domain/order"
)

func TestFetchOrderDetails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/orders/order-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"orderId":"order-1","items":[{"productId":"prod-1","quantity":2}]}`))
	}))
	defer srv.Close()

	details, err := New(srv.URL, nil).FetchOrderDetails(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", details.OrderID)
	require.Len(t, details.Items, 1)
	assert.Equal(t, "prod-1", details.Items[0].ProductID)
	assert.Equal(t, 2, details.Items[0].Quantity)
}

func TestFetchOrderDetailsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).FetchOrderDetails(context.Background(), "missing")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestFetchOrderDetailsRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"orderId":"order-1","items":[]}`))
	}))
	defer srv.Close()

	details, err := New(srv.URL, nil).FetchOrderDetails(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", details.OrderID)
	assert.Equal(t, int32(2), calls.Load())
}
