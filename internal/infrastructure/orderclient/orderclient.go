// Package orderclient is the HTTP client for the order service. Order
// lookups are safe GETs, so transport-level retries are delegated to
// retryablehttp.
package orderclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/domain/order"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/observability"
)

const peerName = "order-service"

type Client struct {
	baseURL string
	http    *http.Client

	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

func New(baseURL string, tel observability.Observability) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.Logger = nil

	if tel == nil {
		tel = observability.Nop()
	}
	return &Client{
		baseURL:      baseURL,
		http:         rc.StandardClient(),
		extCounter:   tel.Metrics().Counter(observability.MExternalRequests),
		extHistogram: tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
}

func (c *Client) FetchOrderDetails(ctx context.Context, orderID string) (_ *order.Details, err error) {
	const endpoint = "/api/orders/{id}"
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		c.extCounter.Add(1,
			observability.L("peer", peerName),
			observability.L("endpoint", endpoint),
			observability.L("outcome", outcome),
		)
		c.extHistogram.Observe(time.Since(start).Seconds(),
			observability.L("peer", peerName),
			observability.L("endpoint", endpoint),
		)
	}()
	url := fmt.Sprintf("%s/api/orders/%s", c.baseURL, orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("orderclient: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("orderclient: fetch order %s: %w", orderID, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("order %s: %w", orderID, order.ErrNotFound)
	default:
		return nil, fmt.Errorf("orderclient: fetch order %s: unexpected status %d", orderID, resp.StatusCode)
	}

	var details order.Details
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("orderclient: decode order %s: %w", orderID, err)
	}
	return &details, nil
}
