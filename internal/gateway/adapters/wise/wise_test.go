package wise

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gatewaydomain "github.com/thanhtoan69/ahihi-sub023/internal/gateway/domain"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/sign"
	orderdomain "github.com/thanhtoan69/ahihi-sub023/internal/order/domain"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	client := &http.Client{}
	gock.InterceptClient(client)
	p, err := New(Config{
		APIToken:      "api-token",
		WebhookSecret: "webhook-secret",
		ProfileID:     "16521"},
		client)
	require.NoError(t, err)
	return p
}

func signedEvent(t *testing.T, p *Provider, state string) ([]byte, http.Header) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event_type": "payment-request#status-change",
		"data": map[string]any{
			"resource": map[string]any{
				"id":       "pr-7788",
				"type":     "payment-request",
				"amount":   "89.50",
				"currency": "EUR",
			},
			"current_state": state,
			"occurred_at":   "2024-06-01T12:05:00Z",
		},
	})
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set(signatureHeader, sign.HMACSHA256Bytes(p.cfg.WebhookSecret, body))
	return body, headers
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{APIToken: "api-token"}, nil)
	assert.ErrorIs(t, err, gatewaydomain.ErrMissingCredentials)
}

func TestSupportsCurrencyGatesBeforeNetwork(t *testing.T) {
	p := newTestProvider(t)
	assert.True(t, p.SupportsCurrency("USD"))
	assert.True(t, p.SupportsCurrency("eur"))
	assert.False(t, p.SupportsCurrency("XYZ"))
	assert.False(t, p.SupportsCurrency("VND"))

	// No gock mocks are registered, so reaching the network would fail loudly.
	_, err := p.CreatePayment(context.Background(), gatewaydomain.CreatePaymentRequest{
		OrderNumber: "GP-7007",
		Amount:      8950,
		Currency:    "XYZ",
	})
	assert.ErrorIs(t, err, gatewaydomain.ErrUnsupportedCurrency)
}

func TestCreatePaymentReturnsPayLink(t *testing.T) {
	defer gock.Off()

	gock.New(sandboxBaseURL).
		Post("/v1/profiles/16521/payment-requests").
		MatchHeader("Authorization", "Bearer api-token").
		Reply(201).
		JSON(map[string]any{
			"id":     "pr-7788",
			"status": "published",
			"link":   "https://wise.com/pay/r/pr-7788",
		})

	p := newTestProvider(t)
	result, err := p.CreatePayment(context.Background(), gatewaydomain.CreatePaymentRequest{
		OrderNumber: "GP-7007",
		Amount:      8950,
		Currency:    "EUR",
		Description: "order GP-7007",
	})
	require.NoError(t, err)
	assert.Equal(t, "pr-7788", result.ExternalRef)
	assert.Equal(t, "https://wise.com/pay/r/pr-7788", result.RedirectURL)
	assert.True(t, gock.IsDone())
}

func TestVerifyAcceptsSignedBody(t *testing.T) {
	p := newTestProvider(t)
	body, headers := signedEvent(t, p, stateCompleted)
	assert.NoError(t, p.Verify(context.Background(), body, headers))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	p := newTestProvider(t)
	body, headers := signedEvent(t, p, stateCompleted)

	tampered := append([]byte{}, body...)
	tampered[len(tampered)-2] ^= 0x01

	assert.ErrorIs(t, p.Verify(context.Background(), tampered, headers), gatewaydomain.ErrInvalidSignature)
}

func TestVerifyRejectsMissingHeader(t *testing.T) {
	p := newTestProvider(t)
	body, _ := signedEvent(t, p, stateCompleted)
	assert.ErrorIs(t, p.Verify(context.Background(), body, http.Header{}), gatewaydomain.ErrInvalidSignature)
}

func TestParseMapsStates(t *testing.T) {
	p := newTestProvider(t)

	body, _ := signedEvent(t, p, stateCompleted)
	completed, err := p.Parse(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.EventPaymentCaptured, completed.Kind)
	assert.Equal(t, "pr-7788", completed.ExternalRef)
	assert.Equal(t, "pr-7788", completed.CaptureRef)
	assert.Equal(t, int64(8950), completed.Amount)
	assert.Equal(t, "pr-7788:completed", completed.ProviderEventID)

	body, _ = signedEvent(t, p, stateExpired)
	expired, err := p.Parse(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.EventPaymentCancelled, expired.Kind)

	body, _ = signedEvent(t, p, stateRefunded)
	refunded, err := p.Parse(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.EventRefundCompleted, refunded.Kind)
	assert.Equal(t, "pr-7788", refunded.RefundRef)
	assert.Equal(t, int64(8950), refunded.Amount)

	body, _ = signedEvent(t, p, "published")
	_, err = p.Parse(context.Background(), body)
	assert.ErrorIs(t, err, gatewaydomain.ErrEventIgnored)
}

func TestRefundSuccess(t *testing.T) {
	defer gock.Off()

	gock.New(sandboxBaseURL).
		Post("/v1/profiles/16521/payment-requests/pr-7788/refunds").
		Reply(201).
		JSON(map[string]any{"id": "rf-31", "status": "completed"})

	p := newTestProvider(t)
	result, err := p.Refund(context.Background(), gatewaydomain.RefundRequest{
		ExternalRef: "pr-7788",
		Amount:      8950,
		Currency:    "EUR",
		Reason:      "customer request",
	})
	require.NoError(t, err)
	assert.Equal(t, "rf-31", result.RefundRef)
}

func TestQueryStatus(t *testing.T) {
	defer gock.Off()

	gock.New(sandboxBaseURL).
		Get("/v1/profiles/16521/payment-requests/pr-7788").
		Reply(200).
		JSON(map[string]any{"id": "pr-7788", "status": "completed"})

	p := newTestProvider(t)
	status, err := p.QueryStatus(context.Background(), "pr-7788")
	require.NoError(t, err)
	assert.Equal(t, gatewaydomain.StatusCaptured, status)
}
