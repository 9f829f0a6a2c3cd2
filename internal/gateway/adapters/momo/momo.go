// Package momo implements the MoMo wallet gateway. Amounts are whole VND and
// every request and IPN carries an HMAC-SHA256 signature over a canonical
// string whose field order is fixed by MoMo's API contract.
package momo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	gatewaydomain "github.com/thanhtoan69/ahihi-sub023/internal/gateway/domain"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/httpx"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/sign"
	orderdomain "github.com/thanhtoan69/ahihi-sub023/internal/order/domain"
)

const (
	ProviderName = "momo"

	sandboxBaseURL = "https://test-payment.momo.vn"
	liveBaseURL    = "https://payment.momo.vn"

	requestTypeCaptureWallet = "captureWallet"

	// Result codes from the IPN contract. 0 is success, 1006 is the shopper
	// declining on the MoMo app; everything else is a hard failure.
	resultCodeSuccess       = 0
	resultCodeUserDeclined  = 1006
	resultCodeUserCancelled = 1005
)

type Config struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Live        bool
}

type Provider struct {
	cfg     Config
	baseURL string
	client  *http.Client
}

func New(cfg Config, client *http.Client) (*Provider, error) {
	if cfg.PartnerCode == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("momo: %w", gatewaydomain.ErrMissingCredentials)
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
	return strings.EqualFold(currency, "VND")
}

type createResponse struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	RequestID   string `json:"requestId"`
	PayURL      string `json:"payUrl"`
	ResultCode  int    `json:"resultCode"`
	Message     string `json:"message"`
}

// CreatePayment creates a captureWallet payment. The orderId we send becomes
// the external reference every later IPN and query is keyed on.
func (p *Provider) CreatePayment(ctx context.Context, req gatewaydomain.CreatePaymentRequest) (*gatewaydomain.CreatePaymentResult, error) {
	if !p.SupportsCurrency(req.Currency) {
		return nil, fmt.Errorf("momo: %s: %w", req.Currency, gatewaydomain.ErrUnsupportedCurrency)
	}

	requestID := uuid.NewString()
	momoOrderID := req.OrderNumber + "-" + requestID[:8]
	amount := strconv.FormatInt(req.Amount, 10)

	signature := sign.HMACSHA256Hex(p.cfg.SecretKey, sign.Canonical([]sign.Pair{
		{Key: "accessKey", Value: p.cfg.AccessKey},
		{Key: "amount", Value: amount},
		{Key: "extraData", Value: ""},
		{Key: "ipnUrl", Value: req.IPNURL},
		{Key: "orderId", Value: momoOrderID},
		{Key: "orderInfo", Value: req.Description},
		{Key: "partnerCode", Value: p.cfg.PartnerCode},
		{Key: "redirectUrl", Value: req.ReturnURL},
		{Key: "requestId", Value: requestID},
		{Key: "requestType", Value: requestTypeCaptureWallet},
	}))

	body := map[string]any{
		"partnerCode": p.cfg.PartnerCode,
		"requestId":   requestID,
		"amount":      req.Amount,
		"orderId":     momoOrderID,
		"orderInfo":   req.Description,
		"redirectUrl": req.ReturnURL,
		"ipnUrl":      req.IPNURL,
		"requestType": requestTypeCaptureWallet,
		"extraData":   "",
		"lang":        "en",
		"signature":   signature,
	}

	resp, err := httpx.DoJSON(ctx, p.client, http.MethodPost, p.baseURL+"/v2/gateway/api/create", nil, body)
	if err != nil {
		return nil, err
	}

	var decoded createResponse
	if err := resp.DecodeInto(&decoded); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK || decoded.ResultCode != resultCodeSuccess {
		return nil, gatewaydomain.NewProviderError(ProviderName, strconv.Itoa(decoded.ResultCode), decoded.Message)
	}
	if decoded.PayURL == "" {
		return nil, gatewaydomain.NewProviderError(ProviderName, "missing_pay_url", "create response had no payUrl")
	}

	return &gatewaydomain.CreatePaymentResult{
		ExternalRef: momoOrderID,
		RedirectURL: decoded.PayURL,
	}, nil
}

type queryResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	TransID    int64  `json:"transId"`
}

func (p *Provider) QueryStatus(ctx context.Context, externalRef string) (gatewaydomain.NormalizedStatus, error) {
	requestID := uuid.NewString()
	signature := sign.HMACSHA256Hex(p.cfg.SecretKey, sign.Canonical([]sign.Pair{
		{Key: "accessKey", Value: p.cfg.AccessKey},
		{Key: "orderId", Value: externalRef},
		{Key: "partnerCode", Value: p.cfg.PartnerCode},
		{Key: "requestId", Value: requestID},
	}))

	body := map[string]any{
		"partnerCode": p.cfg.PartnerCode,
		"requestId":   requestID,
		"orderId":     externalRef,
		"lang":        "en",
		"signature":   signature,
	}

	resp, err := httpx.DoJSON(ctx, p.client, http.MethodPost, p.baseURL+"/v2/gateway/api/query", nil, body)
	if err != nil {
		return gatewaydomain.StatusUnknown, err
	}
	var decoded queryResponse
	if err := resp.DecodeInto(&decoded); err != nil {
		return gatewaydomain.StatusUnknown, err
	}
	return normalizeResultCode(decoded.ResultCode), nil
}

type refundResponse struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
	TransID    int64  `json:"transId"`
}

// Refund reverses a captured payment. CaptureRef is MoMo's numeric transId
// recorded when the capture IPN arrived.
func (p *Provider) Refund(ctx context.Context, req gatewaydomain.RefundRequest) (*gatewaydomain.RefundResult, error) {
	if req.CaptureRef == "" {
		return nil, fmt.Errorf("momo: %w", gatewaydomain.ErrNoTransactionID)
	}
	transID, err := strconv.ParseInt(req.CaptureRef, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("momo: capture ref %q: %w", req.CaptureRef, gatewaydomain.ErrNoTransactionID)
	}

	requestID := uuid.NewString()
	refundOrderID := req.ExternalRef + "-rf-" + requestID[:8]
	amount := strconv.FormatInt(req.Amount, 10)

	signature := sign.HMACSHA256Hex(p.cfg.SecretKey, sign.Canonical([]sign.Pair{
		{Key: "accessKey", Value: p.cfg.AccessKey},
		{Key: "amount", Value: amount},
		{Key: "description", Value: req.Reason},
		{Key: "orderId", Value: refundOrderID},
		{Key: "partnerCode", Value: p.cfg.PartnerCode},
		{Key: "requestId", Value: requestID},
		{Key: "transId", Value: strconv.FormatInt(transID, 10)},
	}))

	body := map[string]any{
		"partnerCode": p.cfg.PartnerCode,
		"requestId":   requestID,
		"orderId":     refundOrderID,
		"amount":      req.Amount,
		"transId":     transID,
		"description": req.Reason,
		"lang":        "en",
		"signature":   signature,
	}

	resp, err := httpx.DoJSON(ctx, p.client, http.MethodPost, p.baseURL+"/v2/gateway/api/refund", nil, body)
	if err != nil {
		return nil, err
	}
	var decoded refundResponse
	if err := resp.DecodeInto(&decoded); err != nil {
		return nil, err
	}
	if decoded.ResultCode != resultCodeSuccess {
		return nil, fmt.Errorf("%w: %s",
			gatewaydomain.ErrRefundRejected,
			gatewaydomain.NewProviderError(ProviderName, strconv.Itoa(decoded.ResultCode), decoded.Message))
	}
	return &gatewaydomain.RefundResult{
		RefundRef: strconv.FormatInt(decoded.TransID, 10),
		Status:    gatewaydomain.StatusRefunded,
	}, nil
}

// ipnPayload is the IPN body. Every field below participates in the signature,
// in the exact order verifySignature lists them.
type ipnPayload struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

func (p *Provider) verifySignature(ipn ipnPayload) bool {
	expected := sign.HMACSHA256Hex(p.cfg.SecretKey, sign.Canonical([]sign.Pair{
		{Key: "accessKey", Value: p.cfg.AccessKey},
		{Key: "amount", Value: strconv.FormatInt(ipn.Amount, 10)},
		{Key: "extraData", Value: ipn.ExtraData},
		{Key: "message", Value: ipn.Message},
		{Key: "orderId", Value: ipn.OrderID},
		{Key: "orderInfo", Value: ipn.OrderInfo},
		{Key: "orderType", Value: ipn.OrderType},
		{Key: "partnerCode", Value: ipn.PartnerCode},
		{Key: "payType", Value: ipn.PayType},
		{Key: "requestId", Value: ipn.RequestID},
		{Key: "responseTime", Value: strconv.FormatInt(ipn.ResponseTime, 10)},
		{Key: "resultCode", Value: strconv.Itoa(ipn.ResultCode)},
		{Key: "transId", Value: strconv.FormatInt(ipn.TransID, 10)},
	}))
	return sign.Equal(expected, ipn.Signature)
}

// Verify checks the IPN's embedded signature. MoMo signs a canonical string
// rebuilt from the body fields rather than signing the raw bytes, so decoding
// here is part of verification, not processing.
func (p *Provider) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	ipn, err := decodeIPN(payload)
	if err != nil {
		return err
	}
	if !p.verifySignature(ipn) {
		return fmt.Errorf("momo: %w", gatewaydomain.ErrInvalidSignature)
	}
	return nil
}

func (p *Provider) Parse(ctx context.Context, payload []byte) (*gatewaydomain.WebhookEvent, error) {
	ipn, err := decodeIPN(payload)
	if err != nil {
		return nil, err
	}

	event := &gatewaydomain.WebhookEvent{
		Provider:        ProviderName,
		ProviderEventID: eventID(ipn),
		ExternalRef:     ipn.OrderID,
		Amount:          ipn.Amount,
		Currency:        "VND",
		RawStatus:       strconv.Itoa(ipn.ResultCode),
	}

	switch ipn.ResultCode {
	case resultCodeSuccess:
		event.Kind = orderdomain.EventPaymentCaptured
		event.CaptureRef = strconv.FormatInt(ipn.TransID, 10)
	case resultCodeUserDeclined, resultCodeUserCancelled:
		event.Kind = orderdomain.EventPaymentCancelled
		event.Reason = ipn.Message
	default:
		event.Kind = orderdomain.EventPaymentFailed
		event.Reason = ipn.Message
	}
	return event, nil
}

// Capture is a no-op: captureWallet settles at approval time.
func (p *Provider) Capture(ctx context.Context, externalRef string) (*gatewaydomain.CaptureResult, error) {
	return nil, fmt.Errorf("momo: %w", gatewaydomain.ErrCaptureNotSupported)
}

func decodeIPN(payload []byte) (ipnPayload, error) {
	var ipn ipnPayload
	if err := json.Unmarshal(payload, &ipn); err != nil {
		return ipnPayload{}, fmt.Errorf("momo: %w", gatewaydomain.ErrMalformedPayload)
	}
	if ipn.OrderID == "" || ipn.Signature == "" {
		return ipnPayload{}, fmt.Errorf("momo: %w", gatewaydomain.ErrMalformedPayload)
	}
	return ipn, nil
}

// eventID keys IPN dedupe. Failed IPNs carry transId 0, so the order and
// result code stand in for it there.
func eventID(ipn ipnPayload) string {
	if ipn.TransID != 0 {
		return strconv.FormatInt(ipn.TransID, 10)
	}
	return ipn.OrderID + ":" + strconv.Itoa(ipn.ResultCode)
}

func normalizeResultCode(code int) gatewaydomain.NormalizedStatus {
	switch code {
	case resultCodeSuccess:
		return gatewaydomain.StatusCaptured
	case 1000:
		return gatewaydomain.StatusPending
	case resultCodeUserDeclined, resultCodeUserCancelled:
		return gatewaydomain.StatusCancelled
	default:
		return gatewaydomain.StatusFailed
	}
}
