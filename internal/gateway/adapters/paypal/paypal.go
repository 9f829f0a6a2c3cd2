// Package paypal implements the PayPal gateway over the Orders v2 API.
// Checkout is approve-then-capture: the shopper approves on PayPal, the
// CHECKOUT.ORDER.APPROVED webhook arrives, and the capture call moves funds.
// Webhook deliveries are verified through PayPal's own
// verify-webhook-signature endpoint against the configured webhook ID.
package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	gatewaydomain "github.com/thanhtoan69/ahihi-sub023/internal/gateway/domain"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/httpx"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/oauth"
	orderdomain "github.com/thanhtoan69/ahihi-sub023/internal/order/domain"
)

const (
	ProviderName = "paypal"

	sandboxBaseURL = "https://api-m.sandbox.paypal.com"
	liveBaseURL    = "https://api-m.paypal.com"

	eventOrderApproved   = "CHECKOUT.ORDER.APPROVED"
	eventCaptureComplete = "PAYMENT.CAPTURE.COMPLETED"
	eventCaptureDenied   = "PAYMENT.CAPTURE.DENIED"
	eventCaptureRefunded = "PAYMENT.CAPTURE.REFUNDED"
)

// supportedCurrencies is PayPal's settlement currency list. VND is notably
// absent.
var supportedCurrencies = map[string]bool{
	"AUD": true, "BRL": true, "CAD": true, "CHF": true, "CZK": true,
	"DKK": true, "EUR": true, "GBP": true, "HKD": true, "HUF": true,
	"ILS": true, "JPY": true, "MXN": true, "MYR": true, "NOK": true,
	"NZD": true, "PHP": true, "PLN": true, "SEK": true, "SGD": true,
	"THB": true, "TWD": true, "USD": true,
}

// zeroDecimal lists PayPal currencies whose amounts carry no fraction.
var zeroDecimal = map[string]bool{"HUF": true, "JPY": true, "TWD": true}

type Config struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	Live         bool
}

type Provider struct {
	cfg     Config
	baseURL string
	client  *http.Client
	tokens  *oauth.TokenSource
	logger  *zap.Logger
}

// New builds the PayPal strategy. A live configuration without a webhook ID
// is refused here as well as at config validation: without it no delivery can
// be authenticated.
func New(cfg Config, client *http.Client, logger *zap.Logger) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("paypal: %w", gatewaydomain.ErrMissingCredentials)
	}
	if cfg.Live && cfg.WebhookID == "" {
		return nil, fmt.Errorf("paypal: live mode requires a webhook id: %w", gatewaydomain.ErrMissingCredentials)
	}
	if client == nil {
		client = httpx.NewClient()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := sandboxBaseURL
	if cfg.Live {
		baseURL = liveBaseURL
	}
	tokens, err := oauth.NewTokenSource(client, baseURL+"/v1/oauth2/token", cfg.ClientID, cfg.ClientSecret)
	if err != nil {
		return nil, err
	}
	return &Provider{cfg: cfg, baseURL: baseURL, client: client, tokens: tokens, logger: logger}, nil
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) SupportsCurrency(currency string) bool {
	return supportedCurrencies[strings.ToUpper(currency)]
}

// doAuthed performs an authenticated JSON call, refreshing the token once if
// PayPal reports it expired mid-lifetime.
func (p *Provider) doAuthed(ctx context.Context, method, path string, headers http.Header, body any) (*httpx.Response, error) {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := p.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		if headers == nil {
			headers = http.Header{}
		}
		headers.Set("Authorization", "Bearer "+token)

		resp, err := httpx.DoJSON(ctx, p.client, method, p.baseURL+path, headers, body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			p.tokens.Invalidate()
			continue
		}
		return resp, nil
	}
	return nil, gatewaydomain.NewProviderError(ProviderName, "unauthorized", "token rejected after refresh")
}

type errorBody struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func rejection(resp *httpx.Response) error {
	var body errorBody
	_ = resp.DecodeInto(&body)
	name := body.Name
	if name == "" {
		name = fmt.Sprintf("http_%d", resp.StatusCode)
	}
	return gatewaydomain.NewProviderError(ProviderName, name, body.Message)
}

type amountObject struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type linkObject struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type orderResponse struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []linkObject `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// CreatePayment creates a CAPTURE-intent order. The PayPal-Request-Id header
// makes the create idempotent on PayPal's side if the response is lost.
func (p *Provider) CreatePayment(ctx context.Context, req gatewaydomain.CreatePaymentRequest) (*gatewaydomain.CreatePaymentResult, error) {
	currency := strings.ToUpper(req.Currency)
	if !p.SupportsCurrency(currency) {
		return nil, fmt.Errorf("paypal: %s: %w", req.Currency, gatewaydomain.ErrUnsupportedCurrency)
	}

	headers := http.Header{}
	headers.Set("PayPal-Request-Id", uuid.NewString())

	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.OrderNumber,
			"custom_id":    req.OrderNumber,
			"description":  req.Description,
			"amount": amountObject{
				CurrencyCode: currency,
				Value:        amountValue(req.Amount, currency),
			},
		}},
		"payment_source": map[string]any{
			"paypal": map[string]any{
				"experience_context": map[string]any{
					"return_url":  req.ReturnURL,
					"cancel_url":  req.CancelURL,
					"user_action": "PAY_NOW",
				},
			},
		},
	}

	resp, err := p.doAuthed(ctx, http.MethodPost, "/v2/checkout/orders", headers, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, rejection(resp)
	}

	var order orderResponse
	if err := resp.DecodeInto(&order); err != nil {
		return nil, err
	}
	approveURL := ""
	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			approveURL = link.Href
			break
		}
	}
	if order.ID == "" || approveURL == "" {
		return nil, gatewaydomain.NewProviderError(ProviderName, "bad_order", "order response missing id or approve link")
	}

	return &gatewaydomain.CreatePaymentResult{
		ExternalRef: order.ID,
		RedirectURL: approveURL,
	}, nil
}

func (p *Provider) QueryStatus(ctx context.Context, externalRef string) (gatewaydomain.NormalizedStatus, error) {
	resp, err := p.doAuthed(ctx, http.MethodGet, "/v2/checkout/orders/"+externalRef, nil, nil)
	if err != nil {
		return gatewaydomain.StatusUnknown, err
	}
	if resp.StatusCode != http.StatusOK {
		return gatewaydomain.StatusUnknown, rejection(resp)
	}

	var order orderResponse
	if err := resp.DecodeInto(&order); err != nil {
		return gatewaydomain.StatusUnknown, err
	}
	switch order.Status {
	case "COMPLETED":
		return gatewaydomain.StatusCaptured, nil
	case "APPROVED":
		return gatewaydomain.StatusApproved, nil
	case "CREATED", "SAVED", "PAYER_ACTION_REQUIRED":
		return gatewaydomain.StatusPending, nil
	case "VOIDED":
		return gatewaydomain.StatusCancelled, nil
	default:
		return gatewaydomain.StatusUnknown, nil
	}
}

// Capture finalizes an approved order and returns the capture reference the
// refund path needs later.
func (p *Provider) Capture(ctx context.Context, externalRef string) (*gatewaydomain.CaptureResult, error) {
	headers := http.Header{}
	headers.Set("PayPal-Request-Id", uuid.NewString())

	resp, err := p.doAuthed(ctx, http.MethodPost, "/v2/checkout/orders/"+externalRef+"/capture", headers, struct{}{})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, rejection(resp)
	}

	var order orderResponse
	if err := resp.DecodeInto(&order); err != nil {
		return nil, err
	}
	captureRef := ""
	for _, unit := range order.PurchaseUnits {
		if len(unit.Payments.Captures) > 0 {
			captureRef = unit.Payments.Captures[0].ID
			break
		}
	}
	if captureRef == "" {
		return nil, gatewaydomain.NewProviderError(ProviderName, "no_capture", "capture response carried no capture id")
	}
	return &gatewaydomain.CaptureResult{
		CaptureRef: captureRef,
		Status:     gatewaydomain.StatusCaptured,
	}, nil
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Refund reverses a capture. CaptureRef is the capture id recorded when the
// PAYMENT.CAPTURE.COMPLETED webhook (or the capture call) came back.
func (p *Provider) Refund(ctx context.Context, req gatewaydomain.RefundRequest) (*gatewaydomain.RefundResult, error) {
	if req.CaptureRef == "" {
		return nil, fmt.Errorf("paypal: %w", gatewaydomain.ErrNoTransactionID)
	}

	currency := strings.ToUpper(req.Currency)
	headers := http.Header{}
	headers.Set("PayPal-Request-Id", uuid.NewString())

	body := map[string]any{
		"amount": amountObject{CurrencyCode: currency, Value: amountValue(req.Amount, currency)},
	}
	if req.Reason != "" {
		body["note_to_payer"] = req.Reason
	}

	resp, err := p.doAuthed(ctx, http.MethodPost, "/v2/payments/captures/"+req.CaptureRef+"/refund", headers, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: %s", gatewaydomain.ErrRefundRejected, rejection(resp))
	}

	var refund refundResponse
	if err := resp.DecodeInto(&refund); err != nil {
		return nil, err
	}
	status := gatewaydomain.StatusRefunded
	if refund.Status == "PENDING" {
		status = gatewaydomain.StatusPending
	}
	return &gatewaydomain.RefundResult{RefundRef: refund.ID, Status: status}, nil
}

type verifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

// Verify authenticates a delivery through PayPal's verification endpoint. In
// sandbox without a configured webhook ID verification is skipped with a
// warning; live mode cannot reach this state because construction refuses it.
func (p *Provider) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if p.cfg.WebhookID == "" {
		p.logger.Warn("paypal webhook verification skipped: no webhook id configured (sandbox)")
		return nil
	}

	body := map[string]any{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        p.cfg.WebhookID,
		"webhook_event":     json.RawMessage(payload),
	}

	resp, err := p.doAuthed(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", nil, body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return rejection(resp)
	}

	var verdict verifyResponse
	if err := resp.DecodeInto(&verdict); err != nil {
		return err
	}
	if verdict.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("paypal: verification_status %s: %w", verdict.VerificationStatus, gatewaydomain.ErrInvalidSignature)
	}
	return nil
}

type webhookEnvelope struct {
	ID           string `json:"id"`
	EventType    string `json:"event_type"`
	ResourceType string `json:"resource_type"`
	Resource     struct {
		ID                string       `json:"id"`
		Status            string       `json:"status"`
		Amount            amountObject `json:"amount"`
		CustomID          string       `json:"custom_id"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

func (p *Provider) Parse(ctx context.Context, payload []byte) (*gatewaydomain.WebhookEvent, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("paypal: %w", gatewaydomain.ErrMalformedPayload)
	}
	if envelope.ID == "" || envelope.EventType == "" || envelope.Resource.ID == "" {
		return nil, fmt.Errorf("paypal: %w", gatewaydomain.ErrMalformedPayload)
	}

	event := &gatewaydomain.WebhookEvent{
		Provider:        ProviderName,
		ProviderEventID: envelope.ID,
		RawStatus:       envelope.EventType,
		OrderNumber:     envelope.Resource.CustomID,
	}
	if envelope.Resource.Amount.Value != "" {
		currency := strings.ToUpper(envelope.Resource.Amount.CurrencyCode)
		minor, err := amountMinor(envelope.Resource.Amount.Value, currency)
		if err != nil {
			return nil, fmt.Errorf("paypal: %w", gatewaydomain.ErrMalformedPayload)
		}
		event.Amount = minor
		event.Currency = currency
	}

	relatedOrder := envelope.Resource.SupplementaryData.RelatedIDs.OrderID

	switch envelope.EventType {
	case eventOrderApproved:
		event.Kind = orderdomain.EventOrderApproved
		event.ExternalRef = envelope.Resource.ID
	case eventCaptureComplete:
		event.Kind = orderdomain.EventPaymentCaptured
		event.ExternalRef = relatedOrder
		event.CaptureRef = envelope.Resource.ID
	case eventCaptureDenied:
		event.Kind = orderdomain.EventPaymentFailed
		event.ExternalRef = relatedOrder
		event.CaptureRef = envelope.Resource.ID
		event.Reason = "capture denied"
	case eventCaptureRefunded:
		event.Kind = orderdomain.EventRefundCompleted
		event.ExternalRef = relatedOrder
		event.RefundRef = envelope.Resource.ID
	default:
		return nil, fmt.Errorf("paypal: %s: %w", envelope.EventType, gatewaydomain.ErrEventIgnored)
	}
	return event, nil
}

// amountValue renders minor units as PayPal's decimal string.
func amountValue(minor int64, currency string) string {
	if zeroDecimal[currency] {
		return strconv.FormatInt(minor, 10)
	}
	sign := ""
	if minor < 0 {
		sign, minor = "-", -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// amountMinor parses PayPal's decimal string back into minor units.
func amountMinor(value, currency string) (int64, error) {
	whole, frac, _ := strings.Cut(value, ".")
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	if zeroDecimal[currency] {
		return units, nil
	}
	frac = (frac + "00")[:2]
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, err
	}
	if units < 0 || strings.HasPrefix(whole, "-") {
		return units*100 - cents, nil
	}
	return units*100 + cents, nil
}
