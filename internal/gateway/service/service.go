package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/thanhtoan69/ahihi-sub023/internal/clock"
	"github.com/thanhtoan69/ahihi-sub023/internal/events"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/adapters"
	gatewaydomain "github.com/thanhtoan69/ahihi-sub023/internal/gateway/domain"
	"github.com/thanhtoan69/ahihi-sub023/internal/logger"
	"github.com/thanhtoan69/ahihi-sub023/internal/observability/metrics"
	offsetdomain "github.com/thanhtoan69/ahihi-sub023/internal/offset/domain"
	orderdomain "github.com/thanhtoan69/ahihi-sub023/internal/order/domain"
)

// CheckoutURLs are the externally reachable endpoints handed to providers at
// payment creation.
type CheckoutURLs struct {
	ReturnURL  string
	CancelURL  string
	IPNBaseURL string
}

type service struct {
	db       *gorm.DB
	genID    *snowflake.Node
	registry *adapters.Registry
	orders   orderdomain.Repository
	records  gatewaydomain.Repository
	offset   offsetdomain.Service
	outbox   *events.Outbox
	logger   *zap.Logger
	clock    clock.Clock
	urls     CheckoutURLs
}

// Provide builds the gateway service.
func Provide(
	db *gorm.DB,
	genID *snowflake.Node,
	registry *adapters.Registry,
	orders orderdomain.Repository,
	records gatewaydomain.Repository,
	offset offsetdomain.Service,
	outbox *events.Outbox,
	logger *zap.Logger,
	clk clock.Clock,
	urls CheckoutURLs,
) gatewaydomain.Service {
	return &service{
		db:       db,
		genID:    genID,
		registry: registry,
		orders:   orders,
		records:  records,
		offset:   offset,
		outbox:   outbox,
		logger:   logger,
		clock:    clk,
		urls:     urls,
	}
}

// CreateCheckout creates a provider payment resource for the order. The
// currency gate runs before any network call; a new attempt abandons whatever
// attempt was active so at most one attempt per order is live.
func (s *service) CreateCheckout(ctx context.Context, orderID snowflake.ID, providerName string) (*gatewaydomain.CheckoutResult, error) {
	strategy, ok := s.registry.Get(providerName)
	if !ok {
		return nil, fmt.Errorf("%s: %w", providerName, gatewaydomain.ErrProviderNotFound)
	}

	order, err := s.orders.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Payable() {
		return nil, fmt.Errorf("order %s in status %s: %w", order.ID, order.Status, orderdomain.ErrOrderNotPayable)
	}
	if order.TotalAmount <= 0 {
		return nil, orderdomain.ErrInvalidAmount
	}
	if !strategy.SupportsCurrency(order.Currency) {
		return nil, fmt.Errorf("%s does not settle %s: %w", strategy.Name(), order.Currency, gatewaydomain.ErrUnsupportedCurrency)
	}

	started := s.clock.Now()
	result, err := strategy.CreatePayment(ctx, gatewaydomain.CreatePaymentRequest{
		OrderID:     order.ID.String(),
		OrderNumber: order.OrderNumber,
		Amount:      order.TotalAmount,
		Currency:    order.Currency,
		Description: "order " + order.OrderNumber,
		ReturnURL:   s.urls.ReturnURL,
		CancelURL:   s.urls.CancelURL,
		IPNURL:      s.urls.IPNBaseURL + "/webhook/" + strategy.Name(),
	})
	metrics.Gateway().ObserveProviderRequest(strategy.Name(), "create", s.clock.Now().Sub(started))
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		// A retried checkout reopens a failed order; the capture CAS only
		// matches pending_payment/processing, so the shopper's second payment
		// must land on a reopened order, not a terminal one.
		if order.Status == orderdomain.StatusFailed {
			if _, err := s.orders.MarkPendingPayment(ctx, tx, order.ID); err != nil {
				return err
			}
		}

		abandoned, err := s.orders.AbandonActiveAttempts(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if abandoned > 0 {
			if err := s.outbox.PublishTx(ctx, tx, events.Event{
				Type:      events.EventCheckoutAbandoned,
				Payload:   map[string]any{"order_id": order.ID.String(), "provider": strategy.Name()},
				DedupeKey: "abandon:" + order.ID.String() + ":" + result.ExternalRef,
			}); err != nil {
				return err
			}
		}

		attempt := &orderdomain.PaymentAttempt{
			ID:          s.genID.Generate(),
			OrderID:     order.ID,
			Provider:    strategy.Name(),
			ExternalRef: result.ExternalRef,
			Status:      orderdomain.AttemptStatusActive,
		}
		if err := s.orders.CreateAttempt(ctx, tx, attempt); err != nil {
			return err
		}
		if err := s.orders.SetProvider(ctx, tx, order.ID, strategy.Name()); err != nil {
			return err
		}

		if result.Captured {
			return s.applyCaptured(ctx, tx, order, strategy.Name(), result.ExternalRef, result.CaptureRef)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithTrace(ctx, s.logger).Info("checkout created",
		zap.String("order_id", order.ID.String()),
		zap.String("provider", strategy.Name()),
		zap.String("external_ref", result.ExternalRef),
		zap.Bool("captured", result.Captured),
	)
	return &gatewaydomain.CheckoutResult{
		Provider:    strategy.Name(),
		ExternalRef: result.ExternalRef,
		RedirectURL: result.RedirectURL,
		Captured:    result.Captured,
	}, nil
}

// Refund reverses up to the remaining captured amount, merchant initiated.
func (s *service) Refund(ctx context.Context, orderID snowflake.ID, amount int64, reason string) (*gatewaydomain.RefundResult, error) {
	order, err := s.orders.FindByID(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := orderdomain.Transition(order.Status, orderdomain.EventRefundCompleted); err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, orderdomain.ErrInvalidAmount
	}
	if amount > order.TotalAmount-order.RefundedAmount {
		return nil, gatewaydomain.ErrRefundAmountTooLarge
	}

	strategy, ok := s.registry.Get(order.Provider)
	if !ok {
		return nil, fmt.Errorf("%s: %w", order.Provider, gatewaydomain.ErrProviderNotFound)
	}

	externalRef := ""
	attempt, err := s.orders.FindLatestAttempt(ctx, s.db, order.ID,
		orderdomain.AttemptStatusCaptured, orderdomain.AttemptStatusActive)
	if err == nil {
		externalRef = attempt.ExternalRef
	}
	if externalRef == "" && order.CaptureRef == "" {
		return nil, fmt.Errorf("order %s was never captured: %w", order.ID, gatewaydomain.ErrNoTransactionID)
	}

	started := s.clock.Now()
	result, err := strategy.Refund(ctx, gatewaydomain.RefundRequest{
		ExternalRef: externalRef,
		CaptureRef:  order.CaptureRef,
		Amount:      amount,
		Currency:    order.Currency,
		Reason:      reason,
	})
	metrics.Gateway().ObserveProviderRequest(strategy.Name(), "refund", s.clock.Now().Sub(started))
	if err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		won, err := s.orders.MarkRefunded(ctx, tx, order.ID, result.RefundRef, order.RefundedAmount+amount, s.clock.Now())
		if err != nil {
			return err
		}
		if !won {
			return nil
		}
		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type: events.EventRefundSettled,
			Payload: events.PaymentSettledPayload{
				OrderID:   order.ID.String(),
				Provider:  strategy.Name(),
				RefundRef: result.RefundRef,
				Amount:    amount,
				Currency:  order.Currency,
			}.ToMap(),
			DedupeKey: "refund:" + order.ID.String() + ":" + result.RefundRef,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.WithTrace(ctx, s.logger).Info("refund settled",
		zap.String("order_id", order.ID.String()),
		zap.String("provider", strategy.Name()),
		zap.String("refund_ref", result.RefundRef),
		zap.Int64("amount", amount),
	)
	return result, nil
}

// IngestWebhook verifies, dedupes, and applies one provider delivery. The
// order is strict: nothing in the payload is acted on before the signature
// checks out, and the event record insert is what makes redelivery a no-op.
func (s *service) IngestWebhook(ctx context.Context, providerName string, payload []byte, headers http.Header) error {
	m := metrics.Gateway()

	strategy, ok := s.registry.Get(providerName)
	if !ok {
		m.IncWebhookProcessed(providerName, "rejected")
		return fmt.Errorf("%s: %w", providerName, gatewaydomain.ErrProviderNotFound)
	}
	name := strategy.Name()

	started := s.clock.Now()
	err := strategy.Verify(ctx, payload, headers)
	m.ObserveProviderRequest(name, "verify", s.clock.Now().Sub(started))
	if err != nil {
		m.IncWebhookProcessed(name, "rejected")
		logger.WithTrace(ctx, s.logger).Warn("webhook rejected", zap.String("provider", name), zap.Error(err))
		return err
	}

	event, err := strategy.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, gatewaydomain.ErrEventIgnored) {
			m.IncWebhookProcessed(name, "ignored")
			return err
		}
		m.IncWebhookProcessed(name, "malformed")
		return err
	}

	order, err := s.resolveOrder(ctx, event)
	if err != nil {
		m.IncWebhookProcessed(name, "failed")
		logger.WithTrace(ctx, s.logger).Warn("webhook order not found",
			zap.String("provider", name),
			zap.String("external_ref", event.ExternalRef),
			zap.String("order_number", event.OrderNumber),
		)
		return err
	}

	record := &gatewaydomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        name,
		ProviderEventID: event.ProviderEventID,
		EventType:       string(event.Kind),
		ExternalRef:     event.ExternalRef,
		OrderID:         &order.ID,
		Payload:         recordPayload(payload),
		ReceivedAt:      s.clock.Now(),
	}
	inserted, err := s.records.InsertEvent(ctx, s.db, record)
	if err != nil {
		return err
	}
	if !inserted {
		existing, err := s.records.FindEvent(ctx, s.db, name, event.ProviderEventID, string(event.Kind))
		if err != nil {
			return err
		}
		if existing == nil || existing.ProcessedAt != nil {
			m.IncWebhookProcessed(name, "duplicate")
			return gatewaydomain.ErrEventAlreadyProcessed
		}
		// A record without processed_at means a previous attempt died before
		// finishing; pick its row up and apply again.
		record = existing
	}

	if err := s.apply(ctx, strategy, order, event); err != nil {
		m.IncWebhookProcessed(name, "failed")
		return err
	}

	if err := s.records.MarkProcessed(ctx, s.db, record.ID, s.clock.Now()); err != nil {
		return err
	}
	m.IncWebhookProcessed(name, "processed")
	logger.WithTrace(ctx, s.logger).Info("webhook applied",
		zap.String("provider", name),
		zap.String("event", string(event.Kind)),
		zap.String("order_id", order.ID.String()),
	)
	return nil
}

// recordPayload stores the delivery body as JSON. Query-string callbacks
// (VNPay) are not JSON, so they get wrapped.
func recordPayload(payload []byte) datatypes.JSON {
	if json.Valid(payload) {
		return datatypes.JSON(payload)
	}
	wrapped, err := json.Marshal(map[string]string{"raw": string(payload)})
	if err != nil {
		return nil
	}
	return datatypes.JSON(wrapped)
}

func (s *service) resolveOrder(ctx context.Context, event *gatewaydomain.WebhookEvent) (*orderdomain.Order, error) {
	if event.ExternalRef != "" {
		order, err := s.orders.FindByProviderRef(ctx, s.db, event.Provider, event.ExternalRef)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, orderdomain.ErrOrderNotFound) {
			return nil, err
		}
	}
	if event.OrderNumber != "" {
		return s.orders.FindByNumber(ctx, s.db, event.OrderNumber)
	}
	return nil, orderdomain.ErrOrderNotFound
}

// apply runs the state machine for one event. A transition that reports
// ErrAlreadyApplied is a clean no-op; losing a CAS race means a concurrent
// delivery applied it first and is equally a no-op.
func (s *service) apply(ctx context.Context, strategy gatewaydomain.Provider, order *orderdomain.Order, event *gatewaydomain.WebhookEvent) error {
	// An approved order sitting in processing means an earlier capture call
	// died; the redelivery must retry the capture, so it bypasses the
	// already-applied short circuit below.
	if event.Kind == orderdomain.EventOrderApproved && order.Status == orderdomain.StatusProcessing {
		return s.applyApproved(ctx, strategy, order, event)
	}

	if _, err := orderdomain.Transition(order.Status, event.Kind); err != nil {
		if errors.Is(err, orderdomain.ErrAlreadyApplied) {
			return nil
		}
		return fmt.Errorf("order %s: %s on %s: %w", order.ID, event.Kind, order.Status, err)
	}

	switch event.Kind {
	case orderdomain.EventOrderApproved:
		return s.applyApproved(ctx, strategy, order, event)

	case orderdomain.EventPaymentCaptured:
		return s.db.Transaction(func(tx *gorm.DB) error {
			return s.applyCaptured(ctx, tx, order, event.Provider, event.ExternalRef, event.CaptureRef)
		})

	case orderdomain.EventPaymentFailed:
		return s.db.Transaction(func(tx *gorm.DB) error {
			won, err := s.orders.MarkFailed(ctx, tx, order.ID, event.Reason)
			if err != nil || !won {
				return err
			}
			if err := s.failAttempt(ctx, tx, event); err != nil {
				return err
			}
			return s.outbox.PublishTx(ctx, tx, events.Event{
				Type: events.EventPaymentFailed,
				Payload: map[string]any{
					"order_id": order.ID.String(),
					"provider": event.Provider,
					"reason":   event.Reason,
				},
				DedupeKey: "failed:" + event.Provider + ":" + event.ProviderEventID,
			})
		})

	case orderdomain.EventPaymentCancelled:
		return s.db.Transaction(func(tx *gorm.DB) error {
			won, err := s.orders.MarkCancelled(ctx, tx, order.ID)
			if err != nil || !won {
				return err
			}
			_, err = s.orders.AbandonActiveAttempts(ctx, tx, order.ID)
			return err
		})

	case orderdomain.EventRefundCompleted:
		amount := event.Amount
		if amount == 0 {
			amount = order.TotalAmount
		}
		return s.db.Transaction(func(tx *gorm.DB) error {
			won, err := s.orders.MarkRefunded(ctx, tx, order.ID, event.RefundRef, amount, s.clock.Now())
			if err != nil || !won {
				return err
			}
			return s.outbox.PublishTx(ctx, tx, events.Event{
				Type: events.EventRefundSettled,
				Payload: events.PaymentSettledPayload{
					OrderID:   order.ID.String(),
					Provider:  event.Provider,
					RefundRef: event.RefundRef,
					Amount:    amount,
					Currency:  order.Currency,
				}.ToMap(),
				DedupeKey: "refund:" + order.ID.String() + ":" + event.RefundRef,
			})
		})
	}

	return fmt.Errorf("event %s: %w", event.Kind, orderdomain.ErrInvalidTransition)
}

// applyApproved handles approve-then-capture providers: claim the order by
// moving it to processing, then call out for the capture. If the capture call
// fails the order stays processing and the provider's redelivery retries it.
func (s *service) applyApproved(ctx context.Context, strategy gatewaydomain.Provider, order *orderdomain.Order, event *gatewaydomain.WebhookEvent) error {
	if orderdomain.CaptureTriggerNeeded(event.Kind, order.Status) {
		won, err := s.orders.MarkProcessing(ctx, s.db, order.ID)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}
	}

	started := s.clock.Now()
	capture, err := strategy.Capture(ctx, event.ExternalRef)
	metrics.Gateway().ObserveProviderRequest(strategy.Name(), "capture", s.clock.Now().Sub(started))
	if err != nil {
		return fmt.Errorf("capture %s: %w", event.ExternalRef, err)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		return s.applyCaptured(ctx, tx, order, event.Provider, event.ExternalRef, capture.CaptureRef)
	})
}

// applyCaptured finishes a capture: completes the order, settles the attempt,
// records the carbon offset donation, and queues the settled event, all in
// one transaction. Only the CAS winner performs the side effects.
func (s *service) applyCaptured(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, provider, externalRef, captureRef string) error {
	won, err := s.orders.MarkPaid(ctx, tx, order.ID, captureRef, s.clock.Now())
	if err != nil || !won {
		return err
	}

	// The capturing provider becomes the order's provider of record so a later
	// refund resolves the right strategy even when the capture arrived without
	// a checkout through this service.
	if err := s.orders.SetProvider(ctx, tx, order.ID, provider); err != nil {
		return err
	}

	if attempt, err := s.orders.FindAttemptByRef(ctx, tx, provider, externalRef); err == nil {
		if err := s.orders.MarkAttemptStatus(ctx, tx, attempt.ID, orderdomain.AttemptStatusCaptured); err != nil {
			return err
		}
	}

	if _, err := s.offset.RecordCapture(ctx, tx, order); err != nil {
		return err
	}

	return s.outbox.PublishTx(ctx, tx, events.Event{
		Type: events.EventPaymentSettled,
		Payload: events.PaymentSettledPayload{
			OrderID:    order.ID.String(),
			Provider:   provider,
			CaptureRef: captureRef,
			Amount:     order.TotalAmount,
			Currency:   order.Currency,
		}.ToMap(),
		DedupeKey: "settled:" + order.ID.String(),
	})
}

func (s *service) failAttempt(ctx context.Context, tx *gorm.DB, event *gatewaydomain.WebhookEvent) error {
	if event.ExternalRef == "" {
		return nil
	}
	attempt, err := s.orders.FindAttemptByRef(ctx, tx, event.Provider, event.ExternalRef)
	if err != nil {
		if errors.Is(err, orderdomain.ErrAttemptRefNotFound) {
			return nil
		}
		return err
	}
	return s.orders.MarkAttemptStatus(ctx, tx, attempt.ID, orderdomain.AttemptStatusFailed)
}

// NewCheckoutURLs derives the provider-facing URLs from the public base URL.
func NewCheckoutURLs(publicBaseURL string) CheckoutURLs {
	base := strings.TrimRight(publicBaseURL, "/")
	return CheckoutURLs{
		ReturnURL:  base + "/payment/return",
		CancelURL:  base + "/payment/cancel",
		IPNBaseURL: base,
	}
}
