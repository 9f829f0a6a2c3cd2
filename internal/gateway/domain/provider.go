package domain

import (
	"context"
	"net/http"

	orderdomain "github.com/thanhtoan69/ahihi-sub023/internal/order/domain"
)

// NormalizedStatus is the provider-agnostic payment status derived from each
// provider's raw status strings and codes.
type NormalizedStatus string

const (
	StatusPending   NormalizedStatus = "pending"
	StatusApproved  NormalizedStatus = "approved"
	StatusCaptured  NormalizedStatus = "captured"
	StatusFailed    NormalizedStatus = "failed"
	StatusCancelled NormalizedStatus = "cancelled"
	StatusRefunded  NormalizedStatus = "refunded"
	StatusUnknown   NormalizedStatus = "unknown"
)

// CreatePaymentRequest carries everything a provider needs to create its
// payment resource. Amount is in the order currency's minor units; each
// provider converts to its own convention (Stripe/PayPal keep minor units,
// the Vietnamese gateways take whole dong, VNPay multiplies by 100).
type CreatePaymentRequest struct {
	OrderID     string
	OrderNumber string
	Amount      int64
	Currency    string
	Description string
	ReturnURL   string
	CancelURL   string
	IPNURL      string
}

// CreatePaymentResult normalizes the provider response. Exactly one of
// RedirectURL or Captured is meaningful: a redirect means the shopper must
// approve on the provider's page; Captured means funds moved immediately.
type CreatePaymentResult struct {
	ExternalRef string
	RedirectURL string
	Captured    bool
	CaptureRef  string
}

// RefundRequest targets a previously captured payment.
type RefundRequest struct {
	ExternalRef string
	CaptureRef  string
	Amount      int64
	Currency    string
	Reason      string
}

// RefundResult reports the provider refund reference.
type RefundResult struct {
	RefundRef string
	Status    NormalizedStatus
}

// Provider is one payment gateway strategy. Implementations are stateless
// apart from an optional token cache and hold their credentials from
// construction; they never mutate the order directly.
type Provider interface {
	Name() string

	// SupportsCurrency gates checkout before any network I/O happens.
	SupportsCurrency(currency string) bool

	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error)
	QueryStatus(ctx context.Context, externalRef string) (NormalizedStatus, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)

	// Verify authenticates a webhook delivery. It must run before Parse and
	// must compare signatures in constant time.
	Verify(ctx context.Context, payload []byte, headers http.Header) error

	// Parse decodes a verified payload into a normalized webhook event.
	Parse(ctx context.Context, payload []byte) (*WebhookEvent, error)

	// Capture finalizes an approved payment (PayPal's approve-then-capture
	// flow). Providers that capture on creation return ErrEventIgnored.
	Capture(ctx context.Context, externalRef string) (*CaptureResult, error)
}

// CaptureResult reports the capture reference for approve-then-capture flows.
type CaptureResult struct {
	CaptureRef string
	Status     NormalizedStatus
}

// WebhookEvent is the canonical event parsed by provider adapters.
// ExternalRef matches a persisted payment attempt; OrderNumber is a fallback
// for providers whose later events reference a different object than the one
// created at checkout (Stripe's payment intent vs checkout session).
type WebhookEvent struct {
	Provider        string
	ProviderEventID string
	Kind            orderdomain.EventKind
	ExternalRef     string
	OrderNumber     string
	CaptureRef      string
	RefundRef       string
	Amount          int64
	Currency        string
	RawStatus       string
	Reason          string
}
