package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the local order lifecycle state.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusProcessing     Status = "processing"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
	StatusRefunded       Status = "refunded"
)

// EventKind is the normalized lifecycle event vocabulary shared by all
// provider adapters. Provider-specific statuses map onto these before any
// transition is attempted.
type EventKind string

const (
	EventOrderApproved    EventKind = "order_approved"
	EventPaymentCaptured  EventKind = "payment_captured"
	EventPaymentFailed    EventKind = "payment_failed"
	EventPaymentCancelled EventKind = "payment_cancelled"
	EventRefundCompleted  EventKind = "refund_completed"
)

// Payment attempt states. At most one attempt per order is active; a new
// checkout abandons the previous attempt instead of orphaning it.
const (
	AttemptStatusActive    = "active"
	AttemptStatusAbandoned = "abandoned"
	AttemptStatusCaptured  = "captured"
	AttemptStatusFailed    = "failed"
)

var (
	ErrOrderNotFound      = errors.New("order_not_found")
	ErrOrderNotPayable    = errors.New("order_not_payable")
	ErrInvalidTransition  = errors.New("invalid_transition")
	ErrAlreadyApplied     = errors.New("transition_already_applied")
	ErrNoActiveAttempt    = errors.New("no_active_attempt")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidCurrency    = errors.New("invalid_currency")
	ErrAttemptRefNotFound = errors.New("attempt_ref_not_found")
)

// Order mirrors the merchant order. This service only reads the totals and
// mutates the payment lifecycle fields (status, refs, timestamps).
type Order struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	OrderNumber    string       `gorm:"type:text;not null;uniqueIndex:ux_orders_order_number"`
	TotalAmount    int64        `gorm:"not null"`
	Currency       string       `gorm:"type:text;not null"`
	Status         Status       `gorm:"type:text;not null"`
	Provider       string       `gorm:"type:text"`
	CaptureRef     string       `gorm:"type:text"`
	RefundRef      string       `gorm:"type:text"`
	RefundedAmount int64        `gorm:"not null;default:0"`
	FailureReason  string       `gorm:"type:text"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	PaidAt         *time.Time
	RefundedAt     *time.Time
}

func (Order) TableName() string { return "orders" }

// Payable reports whether a checkout can be initiated for the order.
func (o *Order) Payable() bool {
	return o != nil && (o.Status == StatusPendingPayment || o.Status == StatusFailed)
}

// PaymentAttempt records one provider-side payment resource created for an
// order. ExternalRef holds the exact provider identifier (PayPal order ID,
// Stripe payment intent, ZaloPay app_trans_id, ...) so later lookups never
// have to reconstruct it.
type PaymentAttempt struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	OrderID     snowflake.ID `gorm:"not null;index:ix_payment_attempts_order_id"`
	Provider    string       `gorm:"type:text;not null;uniqueIndex:ux_payment_attempts_provider_ref,priority:1"`
	ExternalRef string       `gorm:"type:text;not null;uniqueIndex:ux_payment_attempts_provider_ref,priority:2"`
	Status      string       `gorm:"type:text;not null"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PaymentAttempt) TableName() string { return "payment_attempts" }
