package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
)

// CheckoutResult is returned to the caller initiating payment.
type CheckoutResult struct {
	Provider    string
	ExternalRef string
	RedirectURL string
	Captured    bool
}

// Service is the gateway entry point used by the HTTP layer.
type Service interface {
	// CreateCheckout creates a provider payment resource for the order and
	// returns the redirect URL (or immediate capture). Any previously active
	// attempt for the order is marked abandoned.
	CreateCheckout(ctx context.Context, orderID snowflake.ID, provider string) (*CheckoutResult, error)

	// Refund refunds up to the captured amount, merchant initiated.
	Refund(ctx context.Context, orderID snowflake.ID, amount int64, reason string) (*RefundResult, error)

	// IngestWebhook verifies, dedupes, and applies one webhook delivery.
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}
