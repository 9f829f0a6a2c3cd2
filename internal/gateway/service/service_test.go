package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/thanhtoan69/ahihi-sub023/internal/clock"
	"github.com/thanhtoan69/ahihi-sub023/internal/events"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/adapters"
	gatewaydomain "github.com/thanhtoan69/ahihi-sub023/internal/gateway/domain"
	gatewayrepo "github.com/thanhtoan69/ahihi-sub023/internal/gateway/repository"
	offsetservice "github.com/thanhtoan69/ahihi-sub023/internal/offset/service"
	orderdomain "github.com/thanhtoan69/ahihi-sub023/internal/order/domain"
	orderrepo "github.com/thanhtoan69/ahihi-sub023/internal/order/repository"
)

// fakeProvider is a scriptable gateway strategy.
type fakeProvider struct {
	name          string
	currencies    map[string]bool
	verifyErr     error
	parseEvent    *gatewaydomain.WebhookEvent
	parseErr      error
	createResult  *gatewaydomain.CreatePaymentResult
	createErr     error
	captureResult *gatewaydomain.CaptureResult
	captureErr    error
	refundResult  *gatewaydomain.RefundResult
	refundErr     error

	createCalls  int
	captureCalls int
	refundCalls  int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) SupportsCurrency(currency string) bool {
	return f.currencies[currency]
}

func (f *fakeProvider) CreatePayment(ctx context.Context, req gatewaydomain.CreatePaymentRequest) (*gatewaydomain.CreatePaymentResult, error) {
	f.createCalls++
	return f.createResult, f.createErr
}

func (f *fakeProvider) QueryStatus(ctx context.Context, externalRef string) (gatewaydomain.NormalizedStatus, error) {
	return gatewaydomain.StatusUnknown, nil
}

func (f *fakeProvider) Refund(ctx context.Context, req gatewaydomain.RefundRequest) (*gatewaydomain.RefundResult, error) {
	f.refundCalls++
	return f.refundResult, f.refundErr
}

func (f *fakeProvider) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	return f.verifyErr
}

func (f *fakeProvider) Parse(ctx context.Context, payload []byte) (*gatewaydomain.WebhookEvent, error) {
	return f.parseEvent, f.parseErr
}

func (f *fakeProvider) Capture(ctx context.Context, externalRef string) (*gatewaydomain.CaptureResult, error) {
	f.captureCalls++
	return f.captureResult, f.captureErr
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE orders (
			id BIGINT PRIMARY KEY,
			order_number TEXT NOT NULL UNIQUE,
			total_amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending_payment',
			provider TEXT,
			capture_ref TEXT,
			refund_ref TEXT,
			refunded_amount BIGINT NOT NULL DEFAULT 0,
			failure_reason TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			paid_at TIMESTAMP,
			refunded_at TIMESTAMP
		)`,
		`CREATE TABLE payment_attempts (
			id BIGINT PRIMARY KEY,
			order_id BIGINT NOT NULL,
			provider TEXT NOT NULL,
			external_ref TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (provider, external_ref)
		)`,
		`CREATE TABLE payment_webhook_events (
			id BIGINT PRIMARY KEY,
			provider TEXT NOT NULL,
			provider_event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			external_ref TEXT NOT NULL,
			order_id BIGINT,
			payload TEXT,
			received_at TIMESTAMP NOT NULL,
			processed_at TIMESTAMP,
			UNIQUE (provider, provider_event_id, event_type)
		)`,
		`CREATE TABLE carbon_offset_records (
			id BIGINT PRIMARY KEY,
			order_id BIGINT NOT NULL UNIQUE,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			processed_at TIMESTAMP
		)`,
		`CREATE TABLE domain_events (
			id BIGINT PRIMARY KEY,
			event_type TEXT NOT NULL,
			payload TEXT,
			dedupe_key TEXT UNIQUE,
			published BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type fixture struct {
	db       *gorm.DB
	svc      gatewaydomain.Service
	provider *fakeProvider
	orders   orderdomain.Repository
	node     *snowflake.Node
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	provider := &fakeProvider{
		name:       "fakepay",
		currencies: map[string]bool{"USD": true},
		createResult: &gatewaydomain.CreatePaymentResult{
			ExternalRef: "fp-ref-1",
			RedirectURL: "https://fakepay.example.com/pay/fp-ref-1",
		},
		refundResult: &gatewaydomain.RefundResult{RefundRef: "fp-rf-1", Status: gatewaydomain.StatusRefunded},
	}

	outbox := events.NewOutbox(db, node)
	offset := offsetservice.Provide(node, outbox, zap.NewNop(), 2)
	orders := orderrepo.Provide()

	svc := Provide(
		db,
		node,
		adapters.NewRegistry(provider),
		orders,
		gatewayrepo.Provide(),
		offset,
		outbox,
		zap.NewNop(),
		clock.FixedClock{At: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)},
		NewCheckoutURLs("https://pay.example.com"),
	)

	return &fixture{db: db, svc: svc, provider: provider, orders: orders, node: node}
}

func (f *fixture) createOrder(t *testing.T, status orderdomain.Status) *orderdomain.Order {
	t.Helper()
	order := &orderdomain.Order{
		ID:          f.node.Generate(),
		OrderNumber: "GP-" + f.node.Generate().String(),
		TotalAmount: 10000,
		Currency:    "USD",
		Status:      status,
	}
	require.NoError(t, f.orders.Create(context.Background(), f.db, order))
	return order
}

func (f *fixture) createAttempt(t *testing.T, order *orderdomain.Order, externalRef, status string) {
	t.Helper()
	require.NoError(t, f.orders.CreateAttempt(context.Background(), f.db, &orderdomain.PaymentAttempt{
		ID:          f.node.Generate(),
		OrderID:     order.ID,
		Provider:    "fakepay",
		ExternalRef: externalRef,
		Status:      status,
	}))
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) *orderdomain.Order {
	t.Helper()
	order, err := f.orders.FindByID(context.Background(), f.db, id)
	require.NoError(t, err)
	return order
}

func capturedEvent(order *orderdomain.Order, eventID, externalRef string) *gatewaydomain.WebhookEvent {
	return &gatewaydomain.WebhookEvent{
		Provider:        "fakepay",
		ProviderEventID: eventID,
		Kind:            orderdomain.EventPaymentCaptured,
		ExternalRef:     externalRef,
		CaptureRef:      "fp-cap-1",
		Amount:          order.TotalAmount,
		Currency:        order.Currency,
	}
}

func TestCreateCheckoutHappyPath(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t, orderdomain.StatusPendingPayment)

	result, err := f.svc.CreateCheckout(context.Background(), order.ID, "fakepay")
	require.NoError(t, err)
	assert.Equal(t, "fp-ref-1", result.ExternalRef)
	assert.Equal(t, "https://fakepay.example.com/pay/fp-ref-1", result.RedirectURL)

	attempt, err := f.orders.FindAttemptByRef(context.Background(), f.db, "fakepay", "fp-ref-1")
	require.NoError(t, err)
	assert.Equal(t, orderdomain.AttemptStatusActive, attempt.Status)
	assert.Equal(t, order.ID, attempt.OrderID)

	assert.Equal(t, "fakepay", f.reload(t, order.ID).Provider)
}

func TestCreateCheckoutUnknownProvider(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t, orderdomain.StatusPendingPayment)

	_, err := f.svc.CreateCheckout(context.Background(), order.ID, "nopay")
	assert.ErrorIs(t, err, gatewaydomain.ErrProviderNotFound)
}

func TestCreateCheckoutNotPayable(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t, orderdomain.StatusCompleted)

	_, err := f.svc.CreateCheckout(context.Background(), order.ID, "fakepay")
	assert.ErrorIs(t, err, orderdomain.ErrOrderNotPayable)
	assert.Zero(t, f.provider.createCalls)
}

func TestCreateCheckoutCurrencyGatePrecedesNetwork(t *testing.T) {
	f := setup(t)
	order := &orderdomain.Order{
		ID:          f.node.Generate(),
		OrderNumber: "GP-XYZ",
		TotalAmount: 10000,
		Currency:    "XYZ",
		Status:      orderdomain.StatusPendingPayment,
	}
	require.NoError(t, f.orders.Create(context.Background(), f.db, order))

	_, err := f.svc.CreateCheckout(context.Background(), order.ID, "fakepay")
	assert.ErrorIs(t, err, gatewaydomain.ErrUnsupportedCurrency)
	assert.Zero(t, f.provider.createCalls)
}

func TestCreateCheckoutAbandonsPreviousAttempt(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t, orderdomain.StatusPendingPayment)
	f.createAttempt(t, order, "fp-ref-0", orderdomain.AttemptStatusActive)

	_, err := f.svc.CreateCheckout(context.Background(), order.ID, "fakepay")
	require.NoError(t, err)

	previous, err := f.orders.FindAttemptByRef(context.Background(), f.db, "fakepay", "fp-ref-0")
	require.NoError(t, err)
	assert.Equal(t, orderdomain.AttemptStatusAbandoned, previous.Status)

	current, err := f.orders.FindAttemptByRef(context.Background(), f.db, "fakepay", "fp-ref-1")
	require.NoError(t, err)
	assert.Equal(t, orderdomain.AttemptStatusActive, current.Status)
}

func TestCreateCheckoutReopensFailedOrder(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t, orderdomain.StatusFailed)
	f.createAttempt(t, order, "fp-ref-0", orderdomain.AttemptStatusFailed)
	require.NoError(t, f.db.Exec(`UPDATE orders SET failure_reason = ? WHERE id = ?`, "card declined", order.ID).Error)

	_, err := f.svc.CreateCheckout(context.Background(), order.ID, "fakepay")
	require.NoError(t, err)

	reopened := f.reload(t, order.ID)
	assert.Equal(t, orderdomain.StatusPendingPayment, reopened.Status)
	assert.Empty(t, reopened.FailureReason)

	// The shopper pays on the retried attempt; the capture must land.
	f.provider.parseEvent = capturedEvent(order, "evt-retry-1", "fp-ref-1")
	require.NoError(t, f.svc.IngestWebhook(context.Background(), "fakepay", []byte(`{}`), http.Header{}))

	reloaded := f.reload(t, order.ID)
	assert.Equal(t, orderdomain.StatusCompleted, reloaded.Status)
	assert.Equal(t, "fp-cap-1", reloaded.CaptureRef)
}

func TestIngestWebhookCapturedCompletesOrder(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t, orderdomain.StatusPendingPayment)
	f.createAttempt(t, order, "fp-ref-1", orderdomain.AttemptStatusActive)
	f.provider.parseEvent = capturedEvent(order, "evt-1", "fp-ref-1")

	require.NoError(t, f.svc.IngestWebhook(context.Background(), "fakepay", []byte(`{}`), http.Header{}))

	reloaded := f.reload(t, order.ID)
	assert.Equal(t, orderdomain.StatusCompleted, reloaded.Status)
	assert.Equal(t, "fp-cap-1", reloaded.CaptureRef)
	assert.Equal(t, "fakepay", reloaded.Provider)
	require.NotNil(t, reloaded.PaidAt)

	attempt, err := f.orders.FindAttemptByRef(context.Background(), f.db, "fakepay", "fp-ref-1")
	require.NoError(t, err)
	assert.Equal(t, orderdomain.AttemptStatusCaptured, attempt.Status)

	// 2% of 10000 minor units.
	var offsetAmount int64
	require.NoError(t, f.db.Raw(`SELECT amount FROM carbon_offset_records WHERE order_id = ?`, order.ID).Scan(&offsetAmount).Error)
	assert.Equal(t, int64(200), offsetAmount)

	var settled int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM domain_events WHERE event_type = ?`, events.EventPaymentSettled).Scan(&settled).Error)
	assert.Equal(t, int64(1), settled)
}

func TestIngestWebhookRedeliveryIsNoop(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t, orderdomain.StatusPendingPayment)
	f.createAttempt(t, order, "fp-ref-1", orderdomain.AttemptStatusActive)
	f.provider.parseEvent = capturedEvent(order, "evt-1", "fp-ref-1")

	require.NoError(t, f.svc.IngestWebhook(context.Background(), "fakepay", []byte(`{}`), http.Header{}))

	for i := 0; i < 3; i++ {
		err := f.svc.IngestWebhook(context.Background(), "fakepay", []byte(`{}`), http.Header{})
		assert.ErrorIs(t, err, gatewaydomain.ErrEventAlreadyProcessed)
	}

	var offsets int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM carbon_offset_records WHERE order_id = ?`, order.ID).Scan(&offsets).Error)
	assert.Equal(t, int64(1), offsets)

	var eventRows int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM payment_webhook_events`).Scan(&eventRows).Error)
	assert.Equal(t, int64(1), eventRows)
}

func TestIngestWebhookRejectsBadSignature(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t, orderdomain.StatusPendingPayment)
	f.createAttempt(t, order, "fp-ref-1", orderdomain.AttemptStatusActive)
	f.provider.verifyErr = gatewaydomain.ErrInvalidSignature
	f.provider.parseEvent = capturedEvent(order, "evt-1", "fp-ref-1")

	err := f.svc.IngestWebhook(context.Background(), "fakepay", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, gatewaydomain.ErrInvalidSignature)

	// Nothing may be recorded or mutated on a rejected delivery.
	assert.Equal(t, orderdomain.StatusPendingPayment, f.reload(t, order.ID).Status)
	var eventRows int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM payment_webhook_events`).Scan(&eventRows).Error)
	assert.Zero(t, eventRows)
}

func TestIngestWebhookApprovedTriggersCapture(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t, orderdomain.StatusPendingPayment)
	f.createAttempt(t, order, "fp-ref-1", orderdomain.AttemptStatusActive)
	f.provider.parseEvent = &gatewaydomain.WebhookEvent{
		Provider:        "fakepay",
		ProviderEventID: "evt-appr-1",
		Kind:            orderdomain.EventOrderApproved,
		ExternalRef:     "fp-ref-1",
	}
	f.provider.captureResult = &gatewaydomain.CaptureResult{
		CaptureRef: "fp-cap-2",
		Status:     gatewaydomain.StatusCaptured,
	}

	require.NoError(t, f.svc.IngestWebhook(context.Background(), "fakepay", []byte(`{}`), http.Header{}))

	assert.Equal(t, 1, f.provider.captureCalls)
	reloaded := f.reload(t, order.ID)
	assert.Equal(t, orderdomain.StatusCompleted, reloaded.Status)
	assert.Equal(t, "fp-cap-2", reloaded.CaptureRef)
}

func TestIngestWebhookFailedAfterCompletedIsInvalid(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t, orderdomain.StatusCompleted)
	f.createAttempt(t, order, "fp-ref-1", orderdomain.AttemptStatusCaptured)
	f.provider.parseEvent = &gatewaydomain.WebhookEvent{
		Provider:        "fakepay",
		ProviderEventID: "evt-fail-1",
		Kind:            orderdomain.EventPaymentFailed,
		ExternalRef:     "fp-ref-1",
		Reason:          "card declined",
	}

	err := f.svc.IngestWebhook(context.Background(), "fakepay", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, orderdomain.ErrInvalidTransition)
	assert.Equal(t, orderdomain.StatusCompleted, f.reload(t, order.ID).Status)
}

func TestIngestWebhookFailedMarksOrderAndAttempt(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t, orderdomain.StatusPendingPayment)
	f.createAttempt(t, order, "fp-ref-1", orderdomain.AttemptStatusActive)
	f.provider.parseEvent = &gatewaydomain.WebhookEvent{
		Provider:        "fakepay",
		ProviderEventID: "evt-fail-2",
		Kind:            orderdomain.EventPaymentFailed,
		ExternalRef:     "fp-ref-1",
		Reason:          "card declined",
	}

	require.NoError(t, f.svc.IngestWebhook(context.Background(), "fakepay", []byte(`{}`), http.Header{}))

	reloaded := f.reload(t, order.ID)
	assert.Equal(t, orderdomain.StatusFailed, reloaded.Status)
	assert.Equal(t, "card declined", reloaded.FailureReason)

	attempt, err := f.orders.FindAttemptByRef(context.Background(), f.db, "fakepay", "fp-ref-1")
	require.NoError(t, err)
	assert.Equal(t, orderdomain.AttemptStatusFailed, attempt.Status)
}

func TestIngestWebhookUnknownOrder(t *testing.T) {
	f := setup(t)
	f.provider.parseEvent = &gatewaydomain.WebhookEvent{
		Provider:        "fakepay",
		ProviderEventID: "evt-ghost",
		Kind:            orderdomain.EventPaymentCaptured,
		ExternalRef:     "fp-ref-missing",
	}

	err := f.svc.IngestWebhook(context.Background(), "fakepay", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, orderdomain.ErrOrderNotFound)
}

func TestIngestWebhookResolvesByOrderNumberFallback(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t, orderdomain.StatusPendingPayment)
	f.provider.parseEvent = &gatewaydomain.WebhookEvent{
		Provider:        "fakepay",
		ProviderEventID: "evt-meta-1",
		Kind:            orderdomain.EventPaymentCaptured,
		OrderNumber:     order.OrderNumber,
		CaptureRef:      "fp-cap-3",
		Amount:          order.TotalAmount,
		Currency:        order.Currency,
	}

	require.NoError(t, f.svc.IngestWebhook(context.Background(), "fakepay", []byte(`{}`), http.Header{}))
	assert.Equal(t, orderdomain.StatusCompleted, f.reload(t, order.ID).Status)
}

func TestRefundHappyPath(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t, orderdomain.StatusPendingPayment)
	f.createAttempt(t, order, "fp-ref-1", orderdomain.AttemptStatusActive)
	f.provider.parseEvent = capturedEvent(order, "evt-1", "fp-ref-1")
	require.NoError(t, f.svc.IngestWebhook(context.Background(), "fakepay", []byte(`{}`), http.Header{}))

	result, err := f.svc.Refund(context.Background(), order.ID, 10000, "customer request")
	require.NoError(t, err)
	assert.Equal(t, "fp-rf-1", result.RefundRef)

	reloaded := f.reload(t, order.ID)
	assert.Equal(t, orderdomain.StatusRefunded, reloaded.Status)
	assert.Equal(t, int64(10000), reloaded.RefundedAmount)
	assert.Equal(t, "fp-rf-1", reloaded.RefundRef)

	var refundEvents int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM domain_events WHERE event_type = ?`, events.EventRefundSettled).Scan(&refundEvents).Error)
	assert.Equal(t, int64(1), refundEvents)
}

func TestRefundAmountTooLarge(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t, orderdomain.StatusPendingPayment)
	f.createAttempt(t, order, "fp-ref-1", orderdomain.AttemptStatusActive)
	f.provider.parseEvent = capturedEvent(order, "evt-1", "fp-ref-1")
	require.NoError(t, f.svc.IngestWebhook(context.Background(), "fakepay", []byte(`{}`), http.Header{}))

	_, err := f.svc.Refund(context.Background(), order.ID, 10001, "too much")
	assert.ErrorIs(t, err, gatewaydomain.ErrRefundAmountTooLarge)
	assert.Zero(t, f.provider.refundCalls)
}

func TestRefundBeforeCapture(t *testing.T) {
	f := setup(t)
	order := f.createOrder(t, orderdomain.StatusPendingPayment)

	_, err := f.svc.Refund(context.Background(), order.ID, 100, "nope")
	assert.ErrorIs(t, err, orderdomain.ErrInvalidTransition)
	assert.Zero(t, f.provider.refundCalls)
}
