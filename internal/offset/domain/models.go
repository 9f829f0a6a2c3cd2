// Package domain defines the carbon-offset donation ledger: one record per
// captured order, computed as a configured percentage of the order total.
package domain

import (
	"context"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	orderdomain "github.com/thanhtoan69/ahihi-sub023/internal/order/domain"
)

// CarbonOffsetRecord is one donation owed for a captured payment. The unique
// index on order_id is the idempotency guard: a recaptured or redelivered
// webhook can never produce a second donation.
type CarbonOffsetRecord struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	OrderID     snowflake.ID `gorm:"not null;uniqueIndex:ux_carbon_offset_records_order"`
	Amount      int64        `gorm:"not null"`
	Currency    string       `gorm:"type:text;not null"`
	Processed   bool         `gorm:"not null;default:false"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ProcessedAt *time.Time
}

func (CarbonOffsetRecord) TableName() string { return "carbon_offset_records" }

// Service records offset donations for captured payments.
type Service interface {
	// RecordCapture creates the donation record for a captured order. The
	// returned bool is false when a record already existed. A zero computed
	// donation creates nothing and is not an error.
	RecordCapture(ctx context.Context, tx *gorm.DB, order *orderdomain.Order) (bool, error)
}

// ComputeDonation returns the donation in minor units for an order total.
// Percent is whole percents; the result rounds half up on the minor unit, so
// 10000 at 2% gives 200 and 99 at 1.5% gives 1.
func ComputeDonation(total int64, percent float64) int64 {
	if total <= 0 || percent <= 0 {
		return 0
	}
	basisPoints := int64(math.Round(percent * 100))
	return (total*basisPoints + 5000) / 10000
}
