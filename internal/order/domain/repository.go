package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists orders and payment attempts. Status mutations are
// compare-and-set on the current status so concurrent duplicate webhook
// deliveries can never double-apply a transition: the caller learns from the
// returned bool whether its update actually won.
type Repository interface {
	Create(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindByNumber(ctx context.Context, db *gorm.DB, orderNumber string) (*Order, error)
	FindByProviderRef(ctx context.Context, db *gorm.DB, provider, externalRef string) (*Order, error)

	MarkPendingPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	MarkProcessing(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, captureRef string, paidAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string) (bool, error)
	MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	MarkRefunded(ctx context.Context, db *gorm.DB, id snowflake.ID, refundRef string, amount int64, refundedAt time.Time) (bool, error)

	CreateAttempt(ctx context.Context, db *gorm.DB, attempt *PaymentAttempt) error
	AbandonActiveAttempts(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (int64, error)
	FindAttemptByRef(ctx context.Context, db *gorm.DB, provider, externalRef string) (*PaymentAttempt, error)
	FindLatestAttempt(ctx context.Context, db *gorm.DB, orderID snowflake.ID, statuses ...string) (*PaymentAttempt, error)
	MarkAttemptStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string) error
	SetProvider(ctx context.Context, db *gorm.DB, id snowflake.ID, provider string) error
}
