// Package paygate is the HTTP client for the external payment gateway.
// Charge is a non-idempotent POST, so there are no transport-level
// retries here: retry policy lives in the guarded caller, where the
// circuit breaker can veto further attempts.
package paygate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/domain/payment"
	"github.com/Zhima-Mochi/fulfillment-saga/internal/observability"
)

const peerName = "payment-gateway"

// ErrDeclined marks a charge the gateway rejected on business grounds.
// Declines are final; retrying cannot change the outcome.
var ErrDeclined = errors.New("paygate: charge declined")

type Client struct {
	baseURL string
	http    *http.Client

	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

func New(baseURL string, tel observability.Observability) *Client {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Client{
		baseURL:      baseURL,
		http:         &http.Client{Timeout: 10 * time.Second},
		extCounter:   tel.Metrics().Counter(observability.MExternalRequests),
		extHistogram: tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
}

func (c *Client) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	var result payment.ChargeResult
	if err := c.post(ctx, "/api/charges", req, &result); err != nil {
		return nil, err
	}
	if result.TransactionID == "" {
		return nil, errors.New("paygate: charge response missing transaction id")
	}
	return &result, nil
}

func (c *Client) Refund(ctx context.Context, transactionID, reason string) error {
	body := struct {
		TransactionID string `json:"transactionId"`
		Reason        string `json:"reason"`
	}{TransactionID: transactionID, Reason: reason}
	return c.post(ctx, "/api/refunds", body, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		c.extCounter.Add(1,
			observability.L("peer", peerName),
			observability.L("endpoint", path),
			observability.L("outcome", outcome),
		)
		c.extHistogram.Observe(time.Since(start).Seconds(),
			observability.L("peer", peerName),
			observability.L("endpoint", path),
		)
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("paygate: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("paygate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("paygate: %s: %w", path, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%s: %w", path, ErrDeclined)
	default:
		return fmt.Errorf("paygate: %s: unexpected status %d", path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("paygate: decode response: %w", err)
	}
	return nil
}
