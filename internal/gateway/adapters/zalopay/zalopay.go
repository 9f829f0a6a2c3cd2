// Package zalopay implements the ZaloPay gateway. Requests are MACed with
// key1 over pipe-joined fields, the success callback is MACed with key2 over
// the raw data string, and amounts are whole VND.
//
// The app_trans_id generated at checkout is returned as the external
// reference and persisted with the payment attempt; refunds and queries use
// the stored value and never rebuild it from the order date.
package zalopay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/thanhtoan69/ahihi-sub023/internal/clock"
	gatewaydomain "github.com/thanhtoan69/ahihi-sub023/internal/gateway/domain"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/httpx"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/sign"
	orderdomain "github.com/thanhtoan69/ahihi-sub023/internal/order/domain"
)

const (
	ProviderName = "zalopay"

	sandboxBaseURL = "https://sb-openapi.zalopay.vn"
	liveBaseURL    = "https://openapi.zalopay.vn"

	appUser = "greenpay"

	returnCodeSuccess    = 1
	returnCodeFailed     = 2
	returnCodeProcessing = 3
)

type Config struct {
	AppID int
	Key1  string
	Key2  string
	Live  bool
}

type Provider struct {
	cfg     Config
	baseURL string
	client  *http.Client
	clock   clock.Clock
}

func New(cfg Config, client *http.Client, clk clock.Clock) (*Provider, error) {
	if cfg.AppID == 0 || cfg.Key1 == "" || cfg.Key2 == "" {
		return nil, fmt.Errorf("zalopay: %w", gatewaydomain.ErrMissingCredentials)
	}
	if client == nil {
		client = httpx.NewClient()
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	baseURL := sandboxBaseURL
	if cfg.Live {
		baseURL = liveBaseURL
	}
	return &Provider{cfg: cfg, baseURL: baseURL, client: client, clock: clk}, nil
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) SupportsCurrency(currency string) bool {
	return strings.EqualFold(currency, "VND")
}

func (p *Provider) mac(key string, fields ...string) string {
	return sign.HMACSHA256Hex(key, strings.Join(fields, "|"))
}

type createResponse struct {
	ReturnCode       int    `json:"return_code"`
	ReturnMessage    string `json:"return_message"`
	SubReturnCode    int    `json:"sub_return_code"`
	SubReturnMessage string `json:"sub_return_message"`
	OrderURL         string `json:"order_url"`
	ZpTransToken     string `json:"zp_trans_token"`
}

// CreatePayment creates an order and returns its pay URL. The app_trans_id is
// prefixed with the creation date in yymmdd, which ZaloPay requires, and is
// the identifier the caller must persist.
func (p *Provider) CreatePayment(ctx context.Context, req gatewaydomain.CreatePaymentRequest) (*gatewaydomain.CreatePaymentResult, error) {
	if !p.SupportsCurrency(req.Currency) {
		return nil, fmt.Errorf("zalopay: %s: %w", req.Currency, gatewaydomain.ErrUnsupportedCurrency)
	}

	now := p.clock.Now()
	appTransID := fmt.Sprintf("%s_%s-%s", now.Format("060102"), req.OrderNumber, uuid.NewString()[:8])
	appTime := strconv.FormatInt(now.UnixMilli(), 10)
	amount := strconv.FormatInt(req.Amount, 10)
	embedData := "{}"
	item := "[]"

	form := url.Values{}
	form.Set("app_id", strconv.Itoa(p.cfg.AppID))
	form.Set("app_user", appUser)
	form.Set("app_trans_id", appTransID)
	form.Set("app_time", appTime)
	form.Set("amount", amount)
	form.Set("item", item)
	form.Set("embed_data", embedData)
	form.Set("description", req.Description)
	form.Set("callback_url", req.IPNURL)
	form.Set("mac", p.mac(p.cfg.Key1,
		strconv.Itoa(p.cfg.AppID), appTransID, appUser, amount, appTime, embedData, item))

	resp, err := httpx.DoForm(ctx, p.client, http.MethodPost, p.baseURL+"/v2/create", nil, form)
	if err != nil {
		return nil, err
	}
	var decoded createResponse
	if err := resp.DecodeInto(&decoded); err != nil {
		return nil, err
	}
	if decoded.ReturnCode != returnCodeSuccess {
		return nil, gatewaydomain.NewProviderError(ProviderName,
			strconv.Itoa(decoded.SubReturnCode), decoded.SubReturnMessage)
	}
	if decoded.OrderURL == "" {
		return nil, gatewaydomain.NewProviderError(ProviderName, "missing_order_url", "create response had no order_url")
	}

	return &gatewaydomain.CreatePaymentResult{
		ExternalRef: appTransID,
		RedirectURL: decoded.OrderURL,
	}, nil
}

type queryResponse struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
	ZpTransID     int64  `json:"zp_trans_id"`
	Amount        int64  `json:"amount"`
}

func (p *Provider) QueryStatus(ctx context.Context, externalRef string) (gatewaydomain.NormalizedStatus, error) {
	form := url.Values{}
	form.Set("app_id", strconv.Itoa(p.cfg.AppID))
	form.Set("app_trans_id", externalRef)
	form.Set("mac", p.mac(p.cfg.Key1, strconv.Itoa(p.cfg.AppID), externalRef, p.cfg.Key1))

	resp, err := httpx.DoForm(ctx, p.client, http.MethodPost, p.baseURL+"/v2/query", nil, form)
	if err != nil {
		return gatewaydomain.StatusUnknown, err
	}
	var decoded queryResponse
	if err := resp.DecodeInto(&decoded); err != nil {
		return gatewaydomain.StatusUnknown, err
	}
	switch decoded.ReturnCode {
	case returnCodeSuccess:
		return gatewaydomain.StatusCaptured, nil
	case returnCodeProcessing:
		return gatewaydomain.StatusPending, nil
	default:
		return gatewaydomain.StatusFailed, nil
	}
}

type refundResponse struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
	RefundID      int64  `json:"refund_id"`
}

// Refund reverses a captured payment. CaptureRef is ZaloPay's numeric
// zp_trans_id recorded from the callback.
func (p *Provider) Refund(ctx context.Context, req gatewaydomain.RefundRequest) (*gatewaydomain.RefundResult, error) {
	if req.CaptureRef == "" {
		return nil, fmt.Errorf("zalopay: %w", gatewaydomain.ErrNoTransactionID)
	}

	now := p.clock.Now()
	mRefundID := fmt.Sprintf("%s_%d_%s", now.Format("060102"), p.cfg.AppID, uuid.NewString()[:8])
	timestamp := strconv.FormatInt(now.UnixMilli(), 10)
	amount := strconv.FormatInt(req.Amount, 10)

	form := url.Values{}
	form.Set("app_id", strconv.Itoa(p.cfg.AppID))
	form.Set("m_refund_id", mRefundID)
	form.Set("zp_trans_id", req.CaptureRef)
	form.Set("amount", amount)
	form.Set("timestamp", timestamp)
	form.Set("description", req.Reason)
	form.Set("mac", p.mac(p.cfg.Key1,
		strconv.Itoa(p.cfg.AppID), req.CaptureRef, amount, req.Reason, timestamp))

	resp, err := httpx.DoForm(ctx, p.client, http.MethodPost, p.baseURL+"/v2/refund", nil, form)
	if err != nil {
		return nil, err
	}
	var decoded refundResponse
	if err := resp.DecodeInto(&decoded); err != nil {
		return nil, err
	}

	switch decoded.ReturnCode {
	case returnCodeSuccess:
		return &gatewaydomain.RefundResult{
			RefundRef: strconv.FormatInt(decoded.RefundID, 10),
			Status:    gatewaydomain.StatusRefunded,
		}, nil
	case returnCodeProcessing:
		return &gatewaydomain.RefundResult{
			RefundRef: strconv.FormatInt(decoded.RefundID, 10),
			Status:    gatewaydomain.StatusPending,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s",
			gatewaydomain.ErrRefundRejected,
			gatewaydomain.NewProviderError(ProviderName, strconv.Itoa(decoded.ReturnCode), decoded.ReturnMessage))
	}
}

// callbackEnvelope wraps the success callback: data is a JSON string and mac
// is HMAC(key2, data) over those exact bytes.
type callbackEnvelope struct {
	Data string `json:"data"`
	Mac  string `json:"mac"`
	Type int    `json:"type"`
}

type callbackData struct {
	AppID      int    `json:"app_id"`
	AppTransID string `json:"app_trans_id"`
	AppUser    string `json:"app_user"`
	Amount     int64  `json:"amount"`
	AppTime    int64  `json:"app_time"`
	ZpTransID  int64  `json:"zp_trans_id"`
	ServerTime int64  `json:"server_time"`
	Channel    int    `json:"channel"`
}

func decodeCallback(payload []byte) (callbackEnvelope, error) {
	var envelope callbackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return callbackEnvelope{}, fmt.Errorf("zalopay: %w", gatewaydomain.ErrMalformedPayload)
	}
	if envelope.Data == "" || envelope.Mac == "" {
		return callbackEnvelope{}, fmt.Errorf("zalopay: %w", gatewaydomain.ErrMalformedPayload)
	}
	return envelope, nil
}

// Verify checks the callback mac with key2 before the data string is decoded.
func (p *Provider) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	envelope, err := decodeCallback(payload)
	if err != nil {
		return err
	}
	if !sign.Equal(sign.HMACSHA256Hex(p.cfg.Key2, envelope.Data), envelope.Mac) {
		return fmt.Errorf("zalopay: %w", gatewaydomain.ErrInvalidSignature)
	}
	return nil
}

// Parse decodes the callback data. ZaloPay only calls back on success, so
// every event is a capture.
func (p *Provider) Parse(ctx context.Context, payload []byte) (*gatewaydomain.WebhookEvent, error) {
	envelope, err := decodeCallback(payload)
	if err != nil {
		return nil, err
	}
	var data callbackData
	if err := json.Unmarshal([]byte(envelope.Data), &data); err != nil {
		return nil, fmt.Errorf("zalopay: %w", gatewaydomain.ErrMalformedPayload)
	}
	if data.AppTransID == "" || data.ZpTransID == 0 {
		return nil, fmt.Errorf("zalopay: %w", gatewaydomain.ErrMalformedPayload)
	}

	return &gatewaydomain.WebhookEvent{
		Provider:        ProviderName,
		ProviderEventID: strconv.FormatInt(data.ZpTransID, 10),
		Kind:            orderdomain.EventPaymentCaptured,
		ExternalRef:     data.AppTransID,
		CaptureRef:      strconv.FormatInt(data.ZpTransID, 10),
		Amount:          data.Amount,
		Currency:        "VND",
		RawStatus:       "callback",
	}, nil
}

// Capture is a no-op: the pay page settles immediately on success.
func (p *Provider) Capture(ctx context.Context, externalRef string) (*gatewaydomain.CaptureResult, error) {
	return nil, fmt.Errorf("zalopay: %w", gatewaydomain.ErrCaptureNotSupported)
}
