// Package vnpay implements the VNPay gateway. Checkout is a signed redirect
// URL built locally, the return/IPN callback is a signed query string, and
// amounts are VND multiplied by 100 on the wire.
package vnpay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
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
	ProviderName = "vnpay"

	sandboxPayURL = "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"
	livePayURL    = "https://pay.vnpay.vn/vpcpay.html"

	sandboxAPIURL = "https://sandbox.vnpayment.vn/merchant_webapi/api/transaction"
	liveAPIURL    = "https://merchant.vnpay.vn/merchant_webapi/api/transaction"

	apiVersion = "2.1.0"

	// Response codes on the callback. 00 is success and 24 is the shopper
	// backing out at the bank or QR screen.
	codeSuccess        = "00"
	codeShopperAborted = "24"

	timeLayout = "20060102150405"
)

type Config struct {
	TMNCode    string
	HashSecret string
	ReturnURL  string
	Live       bool
}

type Provider struct {
	cfg    Config
	payURL string
	apiURL string
	client *http.Client
	clock  clock.Clock
}

func New(cfg Config, client *http.Client, clk clock.Clock) (*Provider, error) {
	if cfg.TMNCode == "" || cfg.HashSecret == "" {
		return nil, fmt.Errorf("vnpay: %w", gatewaydomain.ErrMissingCredentials)
	}
	if client == nil {
		client = httpx.NewClient()
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	payURL, apiURL := sandboxPayURL, sandboxAPIURL
	if cfg.Live {
		payURL, apiURL = livePayURL, liveAPIURL
	}
	return &Provider{cfg: cfg, payURL: payURL, apiURL: apiURL, client: client, clock: clk}, nil
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) SupportsCurrency(currency string) bool {
	return strings.EqualFold(currency, "VND")
}

// hashParams canonicalizes callback/redirect parameters for signing: vnp_
// fields sorted by name, query-escaped values, secure-hash fields excluded.
func hashParams(values url.Values) []sign.Pair {
	keys := make([]string, 0, len(values))
	for key := range values {
		if key == "vnp_SecureHash" || key == "vnp_SecureHashType" {
			continue
		}
		if !strings.HasPrefix(key, "vnp_") {
			continue
		}
		if values.Get(key) == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]sign.Pair, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, sign.Pair{Key: key, Value: url.QueryEscape(values.Get(key))})
	}
	return pairs
}

// CreatePayment builds the signed redirect URL. No network I/O happens here;
// VNPay learns about the payment when the shopper lands on the pay page.
func (p *Provider) CreatePayment(ctx context.Context, req gatewaydomain.CreatePaymentRequest) (*gatewaydomain.CreatePaymentResult, error) {
	if !p.SupportsCurrency(req.Currency) {
		return nil, fmt.Errorf("vnpay: %s: %w", req.Currency, gatewaydomain.ErrUnsupportedCurrency)
	}

	txnRef := req.OrderNumber + "-" + uuid.NewString()[:8]
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = p.cfg.ReturnURL
	}

	params := url.Values{}
	params.Set("vnp_Version", apiVersion)
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", p.cfg.TMNCode)
	params.Set("vnp_Amount", strconv.FormatInt(req.Amount*100, 10))
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_TxnRef", txnRef)
	params.Set("vnp_OrderInfo", req.Description)
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", "vn")
	params.Set("vnp_ReturnUrl", returnURL)
	params.Set("vnp_IpAddr", "127.0.0.1")
	params.Set("vnp_CreateDate", p.clock.Now().Format(timeLayout))

	secureHash := sign.HMACSHA256Hex(p.cfg.HashSecret, sign.Canonical(hashParams(params)))
	params.Set("vnp_SecureHash", secureHash)

	return &gatewaydomain.CreatePaymentResult{
		ExternalRef: txnRef,
		RedirectURL: p.payURL + "?" + params.Encode(),
	}, nil
}

type apiResponse struct {
	ResponseCode      string `json:"vnp_ResponseCode"`
	Message           string `json:"vnp_Message"`
	TransactionNo     string `json:"vnp_TransactionNo"`
	TransactionStatus string `json:"vnp_TransactionStatus"`
}

// apiChecksum signs querydr/refund requests. The API contract pipes the
// fields together in this order.
func (p *Provider) apiChecksum(fields ...string) string {
	return sign.HMACSHA256Hex(p.cfg.HashSecret, strings.Join(fields, "|"))
}

func (p *Provider) QueryStatus(ctx context.Context, externalRef string) (gatewaydomain.NormalizedStatus, error) {
	requestID := uuid.NewString()
	createDate := p.clock.Now().Format(timeLayout)
	orderInfo := "query " + externalRef

	body := map[string]any{
		"vnp_RequestId":  requestID,
		"vnp_Version":    apiVersion,
		"vnp_Command":    "querydr",
		"vnp_TmnCode":    p.cfg.TMNCode,
		"vnp_TxnRef":     externalRef,
		"vnp_OrderInfo":  orderInfo,
		"vnp_CreateDate": createDate,
		"vnp_IpAddr":     "127.0.0.1",
		"vnp_SecureHash": p.apiChecksum(requestID, apiVersion, "querydr", p.cfg.TMNCode, externalRef, orderInfo, createDate, "127.0.0.1"),
	}

	resp, err := httpx.DoJSON(ctx, p.client, http.MethodPost, p.apiURL, nil, body)
	if err != nil {
		return gatewaydomain.StatusUnknown, err
	}
	var decoded apiResponse
	if err := resp.DecodeInto(&decoded); err != nil {
		return gatewaydomain.StatusUnknown, err
	}
	if decoded.ResponseCode != codeSuccess {
		return gatewaydomain.StatusUnknown, gatewaydomain.NewProviderError(ProviderName, decoded.ResponseCode, decoded.Message)
	}
	switch decoded.TransactionStatus {
	case "00":
		return gatewaydomain.StatusCaptured, nil
	case "01":
		return gatewaydomain.StatusPending, nil
	case "05", "06", "07":
		return gatewaydomain.StatusRefunded, nil
	default:
		return gatewaydomain.StatusFailed, nil
	}
}

// Refund issues a full or partial reversal against the original capture.
// CaptureRef is VNPay's vnp_TransactionNo from the callback.
func (p *Provider) Refund(ctx context.Context, req gatewaydomain.RefundRequest) (*gatewaydomain.RefundResult, error) {
	if req.CaptureRef == "" {
		return nil, fmt.Errorf("vnpay: %w", gatewaydomain.ErrNoTransactionID)
	}

	requestID := uuid.NewString()
	createDate := p.clock.Now().Format(timeLayout)
	amount := strconv.FormatInt(req.Amount*100, 10)
	orderInfo := "refund " + req.ExternalRef
	transactionType := "02"

	body := map[string]any{
		"vnp_RequestId":       requestID,
		"vnp_Version":         apiVersion,
		"vnp_Command":         "refund",
		"vnp_TmnCode":         p.cfg.TMNCode,
		"vnp_TransactionType": transactionType,
		"vnp_TxnRef":          req.ExternalRef,
		"vnp_Amount":          amount,
		"vnp_TransactionNo":   req.CaptureRef,
		"vnp_OrderInfo":       orderInfo,
		"vnp_CreateBy":        "greenpay",
		"vnp_CreateDate":      createDate,
		"vnp_IpAddr":          "127.0.0.1",
		"vnp_SecureHash": p.apiChecksum(requestID, apiVersion, "refund", p.cfg.TMNCode,
			transactionType, req.ExternalRef, amount, req.CaptureRef, orderInfo, createDate, "127.0.0.1"),
	}

	resp, err := httpx.DoJSON(ctx, p.client, http.MethodPost, p.apiURL, nil, body)
	if err != nil {
		return nil, err
	}
	var decoded apiResponse
	if err := resp.DecodeInto(&decoded); err != nil {
		return nil, err
	}
	if decoded.ResponseCode != codeSuccess {
		return nil, fmt.Errorf("%w: %s",
			gatewaydomain.ErrRefundRejected,
			gatewaydomain.NewProviderError(ProviderName, decoded.ResponseCode, decoded.Message))
	}
	return &gatewaydomain.RefundResult{
		RefundRef: decoded.TransactionNo,
		Status:    gatewaydomain.StatusRefunded,
	}, nil
}

// Verify checks vnp_SecureHash over the callback query string. The payload is
// the raw query string of the return/IPN request.
func (p *Provider) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return fmt.Errorf("vnpay: %w", gatewaydomain.ErrMalformedPayload)
	}
	presented := values.Get("vnp_SecureHash")
	if presented == "" || values.Get("vnp_TxnRef") == "" {
		return fmt.Errorf("vnpay: %w", gatewaydomain.ErrMalformedPayload)
	}
	if !sign.VerifyCanonical(p.cfg.HashSecret, hashParams(values), presented) {
		return fmt.Errorf("vnpay: %w", gatewaydomain.ErrInvalidSignature)
	}
	return nil
}

func (p *Provider) Parse(ctx context.Context, payload []byte) (*gatewaydomain.WebhookEvent, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, fmt.Errorf("vnpay: %w", gatewaydomain.ErrMalformedPayload)
	}
	txnRef := values.Get("vnp_TxnRef")
	if txnRef == "" {
		return nil, fmt.Errorf("vnpay: %w", gatewaydomain.ErrMalformedPayload)
	}

	responseCode := values.Get("vnp_ResponseCode")
	transactionNo := values.Get("vnp_TransactionNo")

	// vnp_Amount is minor-units-free VND scaled by 100 on the wire.
	var amount int64
	if raw := values.Get("vnp_Amount"); raw != "" {
		scaled, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("vnpay: %w", gatewaydomain.ErrMalformedPayload)
		}
		amount = scaled / 100
	}

	event := &gatewaydomain.WebhookEvent{
		Provider:        ProviderName,
		ProviderEventID: txnRef + ":" + responseCode,
		ExternalRef:     txnRef,
		Amount:          amount,
		Currency:        "VND",
		RawStatus:       responseCode,
	}

	switch responseCode {
	case codeSuccess:
		event.Kind = orderdomain.EventPaymentCaptured
		event.CaptureRef = transactionNo
	case codeShopperAborted:
		event.Kind = orderdomain.EventPaymentCancelled
		event.Reason = "shopper cancelled at gateway"
	default:
		event.Kind = orderdomain.EventPaymentFailed
		event.Reason = "gateway response code " + responseCode
	}
	return event, nil
}

// Capture is a no-op: the pay page settles immediately on success.
func (p *Provider) Capture(ctx context.Context, externalRef string) (*gatewaydomain.CaptureResult, error) {
	return nil, fmt.Errorf("vnpay: %w", gatewaydomain.ErrCaptureNotSupported)
}
