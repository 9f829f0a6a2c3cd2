package zalopay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thanhtoan69/ahihi-sub023/internal/clock"
	gatewaydomain "github.com/thanhtoan69/ahihi-sub023/internal/gateway/domain"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/sign"
	orderdomain "github.com/thanhtoan69/ahihi-sub023/internal/order/domain"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	client := &http.Client{}
	gock.InterceptClient(client)
	p, err := New(Config{
		AppID: 2553,
		Key1:  "key-one",
		Key2:  "key-two",
	}, client, clock.FixedClock{At: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	return p
}

func signedCallback(t *testing.T, p *Provider) []byte {
	t.Helper()
	data, err := json.Marshal(callbackData{
		AppID:      p.cfg.AppID,
		AppTransID: "240601_GP-4004-deadbeef",
		AppUser:    appUser,
		Amount:     750000,
		AppTime:    1717243200000,
		ZpTransID:  240601000001234,
		ServerTime: 1717243260000,
		Channel:    38,
	})
	require.NoError(t, err)

	envelope, err := json.Marshal(callbackEnvelope{
		Data: string(data),
		Mac:  sign.HMACSHA256Hex(p.cfg.Key2, string(data)),
		Type: 1,
	})
	require.NoError(t, err)
	return envelope
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{AppID: 2553, Key1: "key-one"}, nil, nil)
	assert.ErrorIs(t, err, gatewaydomain.ErrMissingCredentials)
}

func TestCreatePaymentReturnsRedirectAndAppTransID(t *testing.T) {
	defer gock.Off()

	gock.New(sandboxBaseURL).
		Post("/v2/create").
		Reply(200).
		JSON(map[string]any{
			"return_code":    1,
			"return_message": "success",
			"order_url":      "https://sb-openapi.zalopay.vn/pay/xyz",
			"zp_trans_token": "token-abc",
		})

	p := newTestProvider(t)
	result, err := p.CreatePayment(context.Background(), gatewaydomain.CreatePaymentRequest{
		OrderNumber: "GP-4004",
		Amount:      750000,
		Currency:    "VND",
		Description: "order GP-4004",
		IPNURL:      "https://shop.example.com/webhook/zalopay",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://sb-openapi.zalopay.vn/pay/xyz", result.RedirectURL)

	// The external ref carries the fixed-clock date prefix and is what gets
	// persisted for later queries and refunds.
	assert.True(t, strings.HasPrefix(result.ExternalRef, "240601_GP-4004-"))
	assert.True(t, gock.IsDone())
}

func TestCreatePaymentRejectsForeignCurrency(t *testing.T) {
	p := newTestProvider(t)
	_, err := p.CreatePayment(context.Background(), gatewaydomain.CreatePaymentRequest{
		OrderNumber: "GP-4004",
		Amount:      100,
		Currency:    "USD",
	})
	assert.ErrorIs(t, err, gatewaydomain.ErrUnsupportedCurrency)
}

func TestCreatePaymentSurfacesProviderRejection(t *testing.T) {
	defer gock.Off()

	gock.New(sandboxBaseURL).
		Post("/v2/create").
		Reply(200).
		JSON(map[string]any{
			"return_code":        2,
			"sub_return_code":    -402,
			"sub_return_message": "invalid mac",
		})

	p := newTestProvider(t)
	_, err := p.CreatePayment(context.Background(), gatewaydomain.CreatePaymentRequest{
		OrderNumber: "GP-4004",
		Amount:      750000,
		Currency:    "VND",
	})
	assert.ErrorIs(t, err, gatewaydomain.ErrProviderRejected)
}

func TestVerifyAcceptsSignedCallback(t *testing.T) {
	p := newTestProvider(t)
	assert.NoError(t, p.Verify(context.Background(), signedCallback(t, p), nil))
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	p := newTestProvider(t)
	payload := signedCallback(t, p)

	var envelope callbackEnvelope
	require.NoError(t, json.Unmarshal(payload, &envelope))
	envelope.Data = strings.Replace(envelope.Data, "750000", "1", 1)
	tampered, err := json.Marshal(envelope)
	require.NoError(t, err)

	assert.ErrorIs(t, p.Verify(context.Background(), tampered, nil), gatewaydomain.ErrInvalidSignature)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	p := newTestProvider(t)
	payload := signedCallback(t, p)

	var envelope callbackEnvelope
	require.NoError(t, json.Unmarshal(payload, &envelope))
	envelope.Mac = sign.HMACSHA256Hex("not-key-two", envelope.Data)
	forged, err := json.Marshal(envelope)
	require.NoError(t, err)

	assert.ErrorIs(t, p.Verify(context.Background(), forged, nil), gatewaydomain.ErrInvalidSignature)
}

func TestParseCapture(t *testing.T) {
	p := newTestProvider(t)
	event, err := p.Parse(context.Background(), signedCallback(t, p))
	require.NoError(t, err)

	assert.Equal(t, orderdomain.EventPaymentCaptured, event.Kind)
	assert.Equal(t, "240601_GP-4004-deadbeef", event.ExternalRef)
	assert.Equal(t, "240601000001234", event.CaptureRef)
	assert.Equal(t, "240601000001234", event.ProviderEventID)
	assert.Equal(t, int64(750000), event.Amount)
}

func TestRefundRequiresCaptureRef(t *testing.T) {
	p := newTestProvider(t)
	_, err := p.Refund(context.Background(), gatewaydomain.RefundRequest{
		ExternalRef: "240601_GP-4004-deadbeef",
		Amount:      750000,
		Currency:    "VND",
	})
	assert.ErrorIs(t, err, gatewaydomain.ErrNoTransactionID)
}

func TestRefundSuccess(t *testing.T) {
	defer gock.Off()

	gock.New(sandboxBaseURL).
		Post("/v2/refund").
		Reply(200).
		JSON(map[string]any{"return_code": 1, "refund_id": 987654})

	p := newTestProvider(t)
	result, err := p.Refund(context.Background(), gatewaydomain.RefundRequest{
		ExternalRef: "240601_GP-4004-deadbeef",
		CaptureRef:  "240601000001234",
		Amount:      750000,
		Currency:    "VND",
		Reason:      "customer request",
	})
	require.NoError(t, err)
	assert.Equal(t, "987654", result.RefundRef)
	assert.Equal(t, gatewaydomain.StatusRefunded, result.Status)
}

func TestQueryStatusProcessing(t *testing.T) {
	defer gock.Off()

	gock.New(sandboxBaseURL).
		Post("/v2/query").
		Reply(200).
		JSON(map[string]any{"return_code": 3, "return_message": "processing"})

	p := newTestProvider(t)
	status, err := p.QueryStatus(context.Background(), "240601_GP-4004-deadbeef")
	require.NoError(t, err)
	assert.Equal(t, gatewaydomain.StatusPending, status)
}

func TestCaptureNotSupported(t *testing.T) {
	p := newTestProvider(t)
	_, err := p.Capture(context.Background(), "240601_GP-4004-deadbeef")
	assert.ErrorIs(t, err, gatewaydomain.ErrCaptureNotSupported)
}
