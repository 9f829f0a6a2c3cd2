package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/thanhtoan69/ahihi-sub023/internal/events"
	"github.com/thanhtoan69/ahihi-sub023/internal/logger"
	"github.com/thanhtoan69/ahihi-sub023/internal/observability/metrics"
	offsetdomain "github.com/thanhtoan69/ahihi-sub023/internal/offset/domain"
	orderdomain "github.com/thanhtoan69/ahihi-sub023/internal/order/domain"
)

type service struct {
	genID   *snowflake.Node
	outbox  *events.Outbox
	logger  *zap.Logger
	percent float64
}

// Provide builds the offset service.
func Provide(genID *snowflake.Node, outbox *events.Outbox, logger *zap.Logger, percent float64) offsetdomain.Service {
	return &service{
		genID:   genID,
		outbox:  outbox,
		logger:  logger,
		percent: percent,
	}
}

// RecordCapture writes the donation row and queues the donation event in the
// same transaction as the capture it rides on. The insert is ON CONFLICT DO
// NOTHING on order_id, so only the first capture of an order produces a
// donation regardless of how many deliveries race here.
func (s *service) RecordCapture(ctx context.Context, tx *gorm.DB, order *orderdomain.Order) (bool, error) {
	if order == nil {
		return false, orderdomain.ErrOrderNotFound
	}

	donation := offsetdomain.ComputeDonation(order.TotalAmount, s.percent)
	if donation == 0 {
		return false, nil
	}

	// The row is born processed: the donation event commits in the same
	// transaction, so there is no window where the side effect is pending.
	now := time.Now().UTC()
	result := tx.WithContext(ctx).Exec(
		`INSERT INTO carbon_offset_records (id, order_id, amount, currency, processed, created_at, processed_at)
		 VALUES (?, ?, ?, ?, true, ?, ?)
		 ON CONFLICT (order_id) DO NOTHING`,
		s.genID.Generate(),
		order.ID,
		donation,
		order.Currency,
		now,
		now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	err := s.outbox.PublishTx(ctx, tx, events.Event{
		Type: events.EventCarbonOffsetDonation,
		Payload: events.CarbonOffsetPayload{
			OrderID:  order.ID.String(),
			Amount:   donation,
			Currency: order.Currency,
		}.ToMap(),
		DedupeKey: "offset:" + order.ID.String(),
	})
	if err != nil {
		return false, err
	}

	metrics.Gateway().IncOffsetDonation(order.Currency)
	logger.WithTrace(ctx, s.logger).Info("carbon offset donation recorded",
		zap.String("order_id", order.ID.String()),
		zap.Int64("amount", donation),
		zap.String("currency", order.Currency),
	)
	return true, nil
}
