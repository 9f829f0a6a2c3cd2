package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventRecord stores one webhook delivery for dedupe and audit. The unique
// index over (provider, provider_event_id, event_type) is what makes event
// application idempotent under provider retry storms.
type EventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey"`
	Provider        string         `gorm:"type:text;not null;uniqueIndex:ux_payment_webhook_events_dedupe,priority:1"`
	ProviderEventID string         `gorm:"type:text;not null;uniqueIndex:ux_payment_webhook_events_dedupe,priority:2"`
	EventType       string         `gorm:"type:text;not null;uniqueIndex:ux_payment_webhook_events_dedupe,priority:3"`
	ExternalRef     string         `gorm:"type:text;not null"`
	OrderID         *snowflake.ID  `gorm:"index"`
	Payload         datatypes.JSON `gorm:"type:jsonb"`
	ReceivedAt      time.Time      `gorm:"not null"`
	ProcessedAt     *time.Time
}

func (EventRecord) TableName() string { return "payment_webhook_events" }
