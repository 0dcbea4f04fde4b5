package paygate

import (
	"context"

	"github.com/google/uuid"

	"github.com/Zhima-Mochi/fulfillment-saga/internal/domain/payment"
)

// Sandbox approves every charge and refund. It stands in for the real
// gateway in local runs where no gateway URL is configured.
type Sandbox struct{}

func (Sandbox) Charge(_ context.Context, _ payment.ChargeRequest) (*payment.ChargeResult, error) {
	return &payment.ChargeResult{TransactionID: "sandbox-" + uuid.NewString()}, nil
}

func (Sandbox) Refund(context.Context, string, string) error { return nil }
