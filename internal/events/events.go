package events

// Domain event types emitted through the outbox.
const (
	EventPaymentSettled       = "payment_settled"
	EventPaymentFailed        = "payment_failed"
	EventRefundSettled        = "refund_settled"
	EventCarbonOffsetDonation = "carbon_offset_donation"
	EventCheckoutAbandoned    = "checkout_abandoned"
)

// CarbonOffsetPayload is consumed by the external donation ledger.
type CarbonOffsetPayload struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// ToMap converts the payload into an outbox-friendly map.
func (p CarbonOffsetPayload) ToMap() map[string]any {
	return map[string]any{
		"order_id": p.OrderID,
		"amount":   p.Amount,
		"currency": p.Currency,
	}
}

// PaymentSettledPayload records a captured or refunded payment for downstream
// consumers.
type PaymentSettledPayload struct {
	OrderID    string `json:"order_id"`
	Provider   string `json:"provider"`
	CaptureRef string `json:"capture_ref,omitempty"`
	RefundRef  string `json:"refund_ref,omitempty"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
}

// ToMap converts the payload into an outbox-friendly map.
func (p PaymentSettledPayload) ToMap() map[string]any {
	payload := map[string]any{
		"order_id": p.OrderID,
		"provider": p.Provider,
		"amount":   p.Amount,
		"currency": p.Currency,
	}
	if p.CaptureRef != "" {
		payload["capture_ref"] = p.CaptureRef
	}
	if p.RefundRef != "" {
		payload["refund_ref"] = p.RefundRef
	}
	return payload
}
