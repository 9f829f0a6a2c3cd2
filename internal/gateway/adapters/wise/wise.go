// Package wise implements the Wise gateway through its payment-request
// (acquiring) API. Amounts cross the wire as decimal strings, and webhook
// deliveries carry an HMAC-SHA256 of the raw body in X-Signature-SHA256.
package wise

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	gatewaydomain "github.com/thanhtoan69/ahihi-sub023/internal/gateway/domain"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/httpx"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/sign"
	orderdomain "github.com/thanhtoan69/ahihi-sub023/internal/order/domain"
)

const (
	ProviderName = "wise"

	sandboxBaseURL = "https://api.sandbox.transferwise.tech"
	liveBaseURL    = "https://api.transferwise.com"

	signatureHeader = "X-Signature-SHA256"

	stateCompleted   = "completed"
	stateExpired     = "expired"
	stateInvalidated = "invalidated"
	stateRefunded    = "funds_refunded"
)

// supportedCurrencies is the subset of Wise balances the platform settles
// into. Anything else fails before a quote is attempted.
var supportedCurrencies = map[string]bool{
	"AUD": true, "CAD": true, "CHF": true, "EUR": true, "GBP": true,
	"JPY": true, "NZD": true, "SGD": true, "USD": true,
}

var zeroDecimal = map[string]bool{"JPY": true}

type Config struct {
	APIToken      string
	WebhookSecret string
	ProfileID     string
	Live          bool
}

type Provider struct {
	cfg     Config
	baseURL string
	client  *http.Client
}

func New(cfg Config, client *http.Client) (*Provider, error) {
	if cfg.APIToken == "" || cfg.WebhookSecret == "" || cfg.ProfileID == "" {
		return nil, fmt.Errorf("wise: %w", gatewaydomain.ErrMissingCredentials)
	}
	if client == nil {
		client = httpx.NewClient()
	}
	baseURL := sandboxBaseURL
	if cfg.Live {
		baseURL = liveBaseURL
	}
	return &Provider{cfg: cfg, baseURL: baseURL, client: client}, nil
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) SupportsCurrency(currency string) bool {
	return supportedCurrencies[strings.ToUpper(currency)]
}

func (p *Provider) authHeader() http.Header {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.cfg.APIToken)
	return headers
}

func (p *Provider) requestsPath() string {
	return "/v1/profiles/" + p.cfg.ProfileID + "/payment-requests"
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func rejection(resp *httpx.Response) error {
	var body errorBody
	_ = resp.DecodeInto(&body)
	code := body.Code
	if code == "" {
		code = fmt.Sprintf("http_%d", resp.StatusCode)
	}
	return gatewaydomain.NewProviderError(ProviderName, code, body.Message)
}

type amountObject struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type paymentRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Link   string `json:"link"`
}

// CreatePayment opens a payment request and returns its pay link.
func (p *Provider) CreatePayment(ctx context.Context, req gatewaydomain.CreatePaymentRequest) (*gatewaydomain.CreatePaymentResult, error) {
	currency := strings.ToUpper(req.Currency)
	if !p.SupportsCurrency(currency) {
		return nil, fmt.Errorf("wise: %s: %w", req.Currency, gatewaydomain.ErrUnsupportedCurrency)
	}

	body := map[string]any{
		"amount":      amountObject{Value: amountValue(req.Amount, currency), Currency: currency},
		"description": req.Description,
		"reference":   req.OrderNumber,
	}

	resp, err := httpx.DoJSON(ctx, p.client, http.MethodPost, p.baseURL+p.requestsPath(), p.authHeader(), body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, rejection(resp)
	}

	var request paymentRequest
	if err := resp.DecodeInto(&request); err != nil {
		return nil, err
	}
	if request.ID == "" || request.Link == "" {
		return nil, gatewaydomain.NewProviderError(ProviderName, "bad_payment_request", "response missing id or link")
	}

	return &gatewaydomain.CreatePaymentResult{
		ExternalRef: request.ID,
		RedirectURL: request.Link,
	}, nil
}

func (p *Provider) QueryStatus(ctx context.Context, externalRef string) (gatewaydomain.NormalizedStatus, error) {
	resp, err := httpx.Get(ctx, p.client, p.baseURL+p.requestsPath()+"/"+externalRef, p.authHeader())
	if err != nil {
		return gatewaydomain.StatusUnknown, err
	}
	if resp.StatusCode != http.StatusOK {
		return gatewaydomain.StatusUnknown, rejection(resp)
	}

	var request paymentRequest
	if err := resp.DecodeInto(&request); err != nil {
		return gatewaydomain.StatusUnknown, err
	}
	switch strings.ToLower(request.Status) {
	case stateCompleted:
		return gatewaydomain.StatusCaptured, nil
	case stateExpired, stateInvalidated:
		return gatewaydomain.StatusCancelled, nil
	default:
		return gatewaydomain.StatusPending, nil
	}
}

type refundObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Refund reverses a completed payment request.
func (p *Provider) Refund(ctx context.Context, req gatewaydomain.RefundRequest) (*gatewaydomain.RefundResult, error) {
	if req.ExternalRef == "" {
		return nil, fmt.Errorf("wise: %w", gatewaydomain.ErrNoTransactionID)
	}

	currency := strings.ToUpper(req.Currency)
	body := map[string]any{
		"amount": amountObject{Value: amountValue(req.Amount, currency), Currency: currency},
		"reason": req.Reason,
	}

	resp, err := httpx.DoJSON(ctx, p.client, http.MethodPost,
		p.baseURL+p.requestsPath()+"/"+req.ExternalRef+"/refunds", p.authHeader(), body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: %s", gatewaydomain.ErrRefundRejected, rejection(resp))
	}

	var refund refundObject
	if err := resp.DecodeInto(&refund); err != nil {
		return nil, err
	}
	return &gatewaydomain.RefundResult{RefundRef: refund.ID, Status: gatewaydomain.StatusRefunded}, nil
}

// Verify checks the raw-body HMAC in X-Signature-SHA256.
func (p *Provider) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	presented := headers.Get(signatureHeader)
	if presented == "" {
		return fmt.Errorf("wise: missing %s: %w", signatureHeader, gatewaydomain.ErrInvalidSignature)
	}
	if !sign.Equal(sign.HMACSHA256Bytes(p.cfg.WebhookSecret, payload), presented) {
		return fmt.Errorf("wise: %w", gatewaydomain.ErrInvalidSignature)
	}
	return nil
}

type webhookEnvelope struct {
	Data struct {
		Resource struct {
			ID       string `json:"id"`
			Type     string `json:"type"`
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"resource"`
		CurrentState string `json:"current_state"`
		OccurredAt   string `json:"occurred_at"`
	} `json:"data"`
	EventType string `json:"event_type"`
}

func (p *Provider) Parse(ctx context.Context, payload []byte) (*gatewaydomain.WebhookEvent, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("wise: %w", gatewaydomain.ErrMalformedPayload)
	}
	resource := envelope.Data.Resource
	state := strings.ToLower(envelope.Data.CurrentState)
	if resource.ID == "" || state == "" {
		return nil, fmt.Errorf("wise: %w", gatewaydomain.ErrMalformedPayload)
	}

	event := &gatewaydomain.WebhookEvent{
		Provider:        ProviderName,
		ProviderEventID: resource.ID + ":" + state,
		ExternalRef:     resource.ID,
		RawStatus:       state,
	}
	if resource.Amount != "" {
		currency := strings.ToUpper(resource.Currency)
		minor, err := amountMinor(resource.Amount, currency)
		if err != nil {
			return nil, fmt.Errorf("wise: %w", gatewaydomain.ErrMalformedPayload)
		}
		event.Amount = minor
		event.Currency = currency
	}

	switch state {
	case stateCompleted:
		event.Kind = orderdomain.EventPaymentCaptured
		event.CaptureRef = resource.ID
	case stateExpired, stateInvalidated:
		event.Kind = orderdomain.EventPaymentCancelled
		event.Reason = "payment request " + state
	case stateRefunded:
		event.Kind = orderdomain.EventRefundCompleted
		event.RefundRef = resource.ID
	default:
		return nil, fmt.Errorf("wise: state %s: %w", state, gatewaydomain.ErrEventIgnored)
	}
	return event, nil
}

// Capture is a no-op: payment requests settle when the payer completes them.
func (p *Provider) Capture(ctx context.Context, externalRef string) (*gatewaydomain.CaptureResult, error) {
	return nil, fmt.Errorf("wise: %w", gatewaydomain.ErrCaptureNotSupported)
}

func amountValue(minor int64, currency string) string {
	if zeroDecimal[currency] {
		return strconv.FormatInt(minor, 10)
	}
	neg := ""
	if minor < 0 {
		neg, minor = "-", -minor
	}
	return fmt.Sprintf("%s%d.%02d", neg, minor/100, minor%100)
}

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
	if strings.HasPrefix(whole, "-") {
		return units*100 - cents, nil
	}
	return units*100 + cents, nil
}
