// Package stripe implements the Stripe gateway via Checkout Sessions. The
// wire format is form-encoded with bracketed nested keys, amounts stay in
// minor units, and webhooks are authenticated with the Stripe-Signature
// timestamped HMAC scheme.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/thanhtoan69/ahihi-sub023/internal/clock"
	gatewaydomain "github.com/thanhtoan69/ahihi-sub023/internal/gateway/domain"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/httpx"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/sign"
	orderdomain "github.com/thanhtoan69/ahihi-sub023/internal/order/domain"
)

const (
	ProviderName = "stripe"

	defaultBaseURL = "https://api.stripe.com"

	// signatureTolerance bounds how stale a webhook timestamp may be before
	// the delivery is treated as a replay.
	signatureTolerance = 5 * time.Minute

	eventCheckoutCompleted = "checkout.session.completed"
	eventSessionExpired    = "checkout.session.expired"
	eventPaymentFailed     = "payment_intent.payment_failed"
	eventChargeRefunded    = "charge.refunded"

	metadataOrderNumber = "order_number"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	// BaseURL overrides the API host. Empty means api.stripe.com; live and
	// test traffic are separated by the key, not the host.
	BaseURL string
}

type Provider struct {
	cfg     Config
	baseURL string
	client  *http.Client
	clock   clock.Clock
}

func New(cfg Config, client *http.Client, clk clock.Clock) (*Provider, error) {
	if cfg.SecretKey == "" || cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("stripe: %w", gatewaydomain.ErrMissingCredentials)
	}
	if client == nil {
		client = httpx.NewClient()
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{cfg: cfg, baseURL: baseURL, client: client, clock: clk}, nil
}

func (p *Provider) Name() string { return ProviderName }

// SupportsCurrency accepts any ISO 4217 code; Stripe itself rejects the few
// it cannot settle.
func (p *Provider) SupportsCurrency(currency string) bool {
	if len(currency) != 3 {
		return false
	}
	for _, r := range currency {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

func (p *Provider) authHeader() http.Header {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.cfg.SecretKey)
	return headers
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Provider) rejection(resp *httpx.Response) error {
	var body errorBody
	_ = resp.DecodeInto(&body)
	code := body.Error.Code
	if code == "" {
		code = fmt.Sprintf("http_%d", resp.StatusCode)
	}
	return gatewaydomain.NewProviderError(ProviderName, code, body.Error.Message)
}

type sessionObject struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	PaymentIntent string `json:"payment_intent"`
	PaymentStatus string `json:"payment_status"`
	Status        string `json:"status"`
	AmountTotal   int64  `json:"amount_total"`
	Currency      string `json:"currency"`
}

// CreatePayment opens a Checkout Session. The session ID is the external
// reference; the shopper pays on Stripe's hosted page.
func (p *Provider) CreatePayment(ctx context.Context, req gatewaydomain.CreatePaymentRequest) (*gatewaydomain.CreatePaymentResult, error) {
	if !p.SupportsCurrency(req.Currency) {
		return nil, fmt.Errorf("stripe: %s: %w", req.Currency, gatewaydomain.ErrUnsupportedCurrency)
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", req.OrderNumber)
	form.Set("success_url", req.ReturnURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.Amount, 10))
	form.Set("line_items[0][price_data][product_data][name]", req.Description)
	form.Set("metadata["+metadataOrderNumber+"]", req.OrderNumber)
	form.Set("payment_intent_data[metadata]["+metadataOrderNumber+"]", req.OrderNumber)

	resp, err := httpx.DoForm(ctx, p.client, http.MethodPost, p.baseURL+"/v1/checkout/sessions", p.authHeader(), form)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, p.rejection(resp)
	}

	var session sessionObject
	if err := resp.DecodeInto(&session); err != nil {
		return nil, err
	}
	if session.ID == "" || session.URL == "" {
		return nil, gatewaydomain.NewProviderError(ProviderName, "bad_session", "session response missing id or url")
	}

	return &gatewaydomain.CreatePaymentResult{
		ExternalRef: session.ID,
		RedirectURL: session.URL,
	}, nil
}

func (p *Provider) QueryStatus(ctx context.Context, externalRef string) (gatewaydomain.NormalizedStatus, error) {
	resp, err := httpx.Get(ctx, p.client, p.baseURL+"/v1/checkout/sessions/"+url.PathEscape(externalRef), p.authHeader())
	if err != nil {
		return gatewaydomain.StatusUnknown, err
	}
	if resp.StatusCode != http.StatusOK {
		return gatewaydomain.StatusUnknown, p.rejection(resp)
	}

	var session sessionObject
	if err := resp.DecodeInto(&session); err != nil {
		return gatewaydomain.StatusUnknown, err
	}
	switch {
	case session.PaymentStatus == "paid":
		return gatewaydomain.StatusCaptured, nil
	case session.Status == "expired":
		return gatewaydomain.StatusCancelled, nil
	default:
		return gatewaydomain.StatusPending, nil
	}
}

type refundObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Refund reverses a captured payment by payment intent. CaptureRef is the
// pi_ identifier recorded when the session completed.
func (p *Provider) Refund(ctx context.Context, req gatewaydomain.RefundRequest) (*gatewaydomain.RefundResult, error) {
	if req.CaptureRef == "" {
		return nil, fmt.Errorf("stripe: %w", gatewaydomain.ErrNoTransactionID)
	}

	form := url.Values{}
	form.Set("payment_intent", req.CaptureRef)
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	if req.Reason != "" {
		form.Set("metadata[reason]", req.Reason)
	}

	resp, err := httpx.DoForm(ctx, p.client, http.MethodPost, p.baseURL+"/v1/refunds", p.authHeader(), form)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", gatewaydomain.ErrRefundRejected, p.rejection(resp))
	}

	var refund refundObject
	if err := resp.DecodeInto(&refund); err != nil {
		return nil, err
	}
	status := gatewaydomain.StatusRefunded
	if refund.Status == "pending" {
		status = gatewaydomain.StatusPending
	}
	return &gatewaydomain.RefundResult{RefundRef: refund.ID, Status: status}, nil
}

// Verify checks the Stripe-Signature header: HMAC-SHA256 of "<t>.<body>" with
// the webhook secret, any v1 candidate accepted, timestamp bounded by the
// replay tolerance.
func (p *Provider) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	header := headers.Get("Stripe-Signature")
	if header == "" {
		return fmt.Errorf("stripe: missing Stripe-Signature: %w", gatewaydomain.ErrInvalidSignature)
	}

	var timestamp string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			candidates = append(candidates, value)
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return fmt.Errorf("stripe: malformed Stripe-Signature: %w", gatewaydomain.ErrInvalidSignature)
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("stripe: malformed Stripe-Signature: %w", gatewaydomain.ErrInvalidSignature)
	}
	age := p.clock.Now().Sub(time.Unix(unix, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return fmt.Errorf("stripe: stale webhook timestamp: %w", gatewaydomain.ErrInvalidSignature)
	}

	expected := sign.HMACSHA256Hex(p.cfg.WebhookSecret, timestamp+"."+string(payload))
	for _, candidate := range candidates {
		if sign.Equal(expected, candidate) {
			return nil
		}
	}
	return fmt.Errorf("stripe: %w", gatewaydomain.ErrInvalidSignature)
}

type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type paymentIntentObject struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type chargeObject struct {
	ID             string            `json:"id"`
	PaymentIntent  string            `json:"payment_intent"`
	AmountRefunded int64             `json:"amount_refunded"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
	Refunds        struct {
		Data []refundObject `json:"data"`
	} `json:"refunds"`
}

func (p *Provider) Parse(ctx context.Context, payload []byte) (*gatewaydomain.WebhookEvent, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("stripe: %w", gatewaydomain.ErrMalformedPayload)
	}
	if envelope.ID == "" || envelope.Type == "" {
		return nil, fmt.Errorf("stripe: %w", gatewaydomain.ErrMalformedPayload)
	}

	event := &gatewaydomain.WebhookEvent{
		Provider:        ProviderName,
		ProviderEventID: envelope.ID,
		RawStatus:       envelope.Type,
	}

	switch envelope.Type {
	case eventCheckoutCompleted:
		var session sessionObject
		if err := json.Unmarshal(envelope.Data.Object, &session); err != nil || session.ID == "" {
			return nil, fmt.Errorf("stripe: %w", gatewaydomain.ErrMalformedPayload)
		}
		event.Kind = orderdomain.EventPaymentCaptured
		event.ExternalRef = session.ID
		event.CaptureRef = session.PaymentIntent
		event.Amount = session.AmountTotal
		event.Currency = strings.ToUpper(session.Currency)

	case eventSessionExpired:
		var session sessionObject
		if err := json.Unmarshal(envelope.Data.Object, &session); err != nil || session.ID == "" {
			return nil, fmt.Errorf("stripe: %w", gatewaydomain.ErrMalformedPayload)
		}
		event.Kind = orderdomain.EventPaymentCancelled
		event.ExternalRef = session.ID
		event.Reason = "checkout session expired"

	case eventPaymentFailed:
		var intent paymentIntentObject
		if err := json.Unmarshal(envelope.Data.Object, &intent); err != nil || intent.ID == "" {
			return nil, fmt.Errorf("stripe: %w", gatewaydomain.ErrMalformedPayload)
		}
		event.Kind = orderdomain.EventPaymentFailed
		event.OrderNumber = intent.Metadata[metadataOrderNumber]
		event.Amount = intent.Amount
		event.Currency = strings.ToUpper(intent.Currency)
		event.Reason = intent.LastPaymentError.Message

	case eventChargeRefunded:
		var charge chargeObject
		if err := json.Unmarshal(envelope.Data.Object, &charge); err != nil || charge.ID == "" {
			return nil, fmt.Errorf("stripe: %w", gatewaydomain.ErrMalformedPayload)
		}
		event.Kind = orderdomain.EventRefundCompleted
		event.OrderNumber = charge.Metadata[metadataOrderNumber]
		event.CaptureRef = charge.PaymentIntent
		event.Amount = charge.AmountRefunded
		event.Currency = strings.ToUpper(charge.Currency)
		if len(charge.Refunds.Data) > 0 {
			event.RefundRef = charge.Refunds.Data[0].ID
		}

	default:
		return nil, fmt.Errorf("stripe: %s: %w", envelope.Type, gatewaydomain.ErrEventIgnored)
	}
	return event, nil
}

// Capture is a no-op: checkout sessions capture when the shopper completes
// payment.
func (p *Provider) Capture(ctx context.Context, externalRef string) (*gatewaydomain.CaptureResult, error) {
	return nil, fmt.Errorf("stripe: %w", gatewaydomain.ErrCaptureNotSupported)
}
