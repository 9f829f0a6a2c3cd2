package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	gatewaydomain "github.com/thanhtoan69/ahihi-sub023/internal/gateway/domain"
)

type repository struct{}

// Provide builds the webhook event repository.
func Provide() gatewaydomain.Repository {
	return &repository{}
}

func (r *repository) InsertEvent(ctx context.Context, db *gorm.DB, event *gatewaydomain.EventRecord) (bool, error) {
	if event == nil {
		return false, gatewaydomain.ErrMalformedPayload
	}
	tx := db.WithContext(ctx).Exec(
		`INSERT INTO payment_webhook_events
		 (id, provider, provider_event_id, event_type, external_ref, order_id, payload, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider, provider_event_id, event_type) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.ExternalRef,
		event.OrderID,
		event.Payload,
		event.ReceivedAt,
	)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *repository) FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID, eventType string) (*gatewaydomain.EventRecord, error) {
	var record gatewaydomain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payment_webhook_events
		 WHERE provider = ? AND provider_event_id = ? AND event_type = ?
		 LIMIT 1`,
		provider,
		providerEventID,
		eventType,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repository) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_webhook_events SET processed_at = ? WHERE id = ?`,
		processedAt,
		id,
	).Error
}
