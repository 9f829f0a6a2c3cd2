package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrMissingCredentials    = errors.New("missing_credentials")
	ErrUnsupportedCurrency   = errors.New("unsupported_currency")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrMalformedPayload      = errors.New("malformed_payload")
	ErrNoTransactionID       = errors.New("no_transaction_id")
	ErrRefundRejected        = errors.New("refund_rejected")
	ErrRefundAmountTooLarge  = errors.New("refund_amount_too_large")
	ErrNetworkTimeout        = errors.New("network_timeout")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrCaptureNotSupported   = errors.New("capture_not_supported")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrProviderRejected      = errors.New("provider_rejected")
)

// ProviderError carries the provider's own rejection details alongside the
// ErrProviderRejected sentinel so callers can match with errors.Is and still
// surface the provider message to the merchant.
type ProviderError struct {
	Provider string
	Code     string
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s rejected request (%s): %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s rejected request: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return ErrProviderRejected }

// NewProviderError builds a ProviderError.
func NewProviderError(provider, code, message string) error {
	return &ProviderError{Provider: provider, Code: code, Message: message}
}
