package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	orderdomain "github.com/thanhtoan69/ahihi-sub023/internal/order/domain"
)

type repository struct{}

// Provide builds the order repository.
func Provide() orderdomain.Repository {
	return &repository{}
}

func (r *repository) Create(ctx context.Context, db *gorm.DB, order *orderdomain.Order) error {
	if order == nil {
		return orderdomain.ErrOrderNotFound
	}
	return db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*orderdomain.Order, error) {
	var order orderdomain.Order
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM orders WHERE id = ? LIMIT 1`, id).
		Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, orderdomain.ErrOrderNotFound
	}
	return &order, nil
}

func (r *repository) FindByNumber(ctx context.Context, db *gorm.DB, orderNumber string) (*orderdomain.Order, error) {
	var order orderdomain.Order
	err := db.WithContext(ctx).
		Raw(`SELECT * FROM orders WHERE order_number = ? LIMIT 1`, orderNumber).
		Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, orderdomain.ErrOrderNotFound
	}
	return &order, nil
}

func (r *repository) FindByProviderRef(ctx context.Context, db *gorm.DB, provider, externalRef string) (*orderdomain.Order, error) {
	var order orderdomain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT o.*
		 FROM orders o
		 JOIN payment_attempts pa ON pa.order_id = o.id
		 WHERE pa.provider = ? AND pa.external_ref = ?
		 LIMIT 1`,
		provider,
		externalRef,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, orderdomain.ErrOrderNotFound
	}
	return &order, nil
}

// casStatus applies a compare-and-set status update. The boolean result is
// whether this call performed the transition; false means another delivery
// got there first or the precondition no longer holds.
func casStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []orderdomain.Status, set map[string]any) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("missing_precondition")
	}
	set["updated_at"] = time.Now().UTC()
	tx := db.WithContext(ctx).
		Table("orders").
		Where("id = ? AND status IN ?", id, from).
		Updates(set)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// MarkPendingPayment reopens a failed order so a fresh checkout attempt can
// run the capture path again.
func (r *repository) MarkPendingPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	return casStatus(ctx, db, id,
		[]orderdomain.Status{orderdomain.StatusFailed},
		map[string]any{
			"status":         orderdomain.StatusPendingPayment,
			"failure_reason": "",
		},
	)
}

func (r *repository) MarkProcessing(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	return casStatus(ctx, db, id,
		[]orderdomain.Status{orderdomain.StatusPendingPayment},
		map[string]any{"status": orderdomain.StatusProcessing},
	)
}

func (r *repository) MarkPaid(ctx context.Context, db *gorm.DB, id snowflake.ID, captureRef string, paidAt time.Time) (bool, error) {
	return casStatus(ctx, db, id,
		[]orderdomain.Status{orderdomain.StatusPendingPayment, orderdomain.StatusProcessing},
		map[string]any{
			"status":      orderdomain.StatusCompleted,
			"capture_ref": captureRef,
			"paid_at":     paidAt,
		},
	)
}

func (r *repository) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string) (bool, error) {
	return casStatus(ctx, db, id,
		[]orderdomain.Status{
			orderdomain.StatusPendingPayment,
			orderdomain.StatusProcessing,
		},
		map[string]any{
			"status":         orderdomain.StatusFailed,
			"failure_reason": reason,
		},
	)
}

func (r *repository) MarkCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	return casStatus(ctx, db, id,
		[]orderdomain.Status{
			orderdomain.StatusPendingPayment,
			orderdomain.StatusProcessing,
			orderdomain.StatusCompleted,
			orderdomain.StatusFailed,
		},
		map[string]any{"status": orderdomain.StatusCancelled},
	)
}

func (r *repository) MarkRefunded(ctx context.Context, db *gorm.DB, id snowflake.ID, refundRef string, amount int64, refundedAt time.Time) (bool, error) {
	return casStatus(ctx, db, id,
		[]orderdomain.Status{orderdomain.StatusCompleted},
		map[string]any{
			"status":          orderdomain.StatusRefunded,
			"refund_ref":      refundRef,
			"refunded_amount": amount,
			"refunded_at":     refundedAt,
		},
	)
}

func (r *repository) CreateAttempt(ctx context.Context, db *gorm.DB, attempt *orderdomain.PaymentAttempt) error {
	if attempt == nil {
		return orderdomain.ErrNoActiveAttempt
	}
	return db.WithContext(ctx).Create(attempt).Error
}

func (r *repository) AbandonActiveAttempts(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (int64, error) {
	tx := db.WithContext(ctx).Exec(
		`UPDATE payment_attempts
		 SET status = ?, updated_at = ?
		 WHERE order_id = ? AND status = ?`,
		orderdomain.AttemptStatusAbandoned,
		time.Now().UTC(),
		orderID,
		orderdomain.AttemptStatusActive,
	)
	return tx.RowsAffected, tx.Error
}

func (r *repository) FindAttemptByRef(ctx context.Context, db *gorm.DB, provider, externalRef string) (*orderdomain.PaymentAttempt, error) {
	var attempt orderdomain.PaymentAttempt
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM payment_attempts WHERE provider = ? AND external_ref = ? LIMIT 1`,
		provider,
		externalRef,
	).Scan(&attempt).Error
	if err != nil {
		return nil, err
	}
	if attempt.ID == 0 {
		return nil, orderdomain.ErrAttemptRefNotFound
	}
	return &attempt, nil
}

func (r *repository) FindLatestAttempt(ctx context.Context, db *gorm.DB, orderID snowflake.ID, statuses ...string) (*orderdomain.PaymentAttempt, error) {
	query := db.WithContext(ctx).
		Table("payment_attempts").
		Where("order_id = ?", orderID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	var attempt orderdomain.PaymentAttempt
	err := query.Order("created_at DESC, id DESC").Limit(1).Scan(&attempt).Error
	if err != nil {
		return nil, err
	}
	if attempt.ID == 0 {
		return nil, orderdomain.ErrAttemptRefNotFound
	}
	return &attempt, nil
}

func (r *repository) MarkAttemptStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_attempts SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		time.Now().UTC(),
		id,
	).Error
}

func (r *repository) SetProvider(ctx context.Context, db *gorm.DB, id snowflake.ID, provider string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders SET provider = ?, updated_at = ? WHERE id = ?`,
		provider,
		time.Now().UTC(),
		id,
	).Error
}
