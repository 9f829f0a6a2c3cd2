// Package httpx is the thin outbound HTTP layer shared by the provider
// clients: bounded timeouts, JSON/form encoding, and timeout classification.
// Calls are never retried here; checkout surfaces failures to the caller and
// webhooks rely on the provider's own redelivery.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	gatewaydomain "github.com/thanhtoan69/ahihi-sub023/internal/gateway/domain"
)

// DefaultTimeout bounds every outbound provider call.
const DefaultTimeout = 30 * time.Second

// NewClient builds the default outbound client.
func NewClient() *http.Client {
	return &http.Client{Timeout: DefaultTimeout}
}

// Response is the decoded provider reply. Body is retained raw so callers can
// log or re-decode provider-specific shapes.
type Response struct {
	StatusCode int
	Body       []byte
}

// DecodeInto unmarshals the response body.
func (r *Response) DecodeInto(out any) error {
	if out == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}

// DoJSON sends a JSON request and reads the full response.
func DoJSON(ctx context.Context, client *http.Client, method, rawURL string, headers http.Header, body any) (*Response, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	applyHeaders(req, headers)
	return do(client, req)
}

// DoForm sends an application/x-www-form-urlencoded request (Stripe, PayPal
// token endpoint).
func DoForm(ctx context.Context, client *http.Client, method, rawURL string, headers http.Header, form url.Values) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	applyHeaders(req, headers)
	return do(client, req)
}

// Get sends a plain GET (VNPay querydr-style APIs encode everything in the
// query string).
func Get(ctx context.Context, client *http.Client, rawURL string, headers http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	applyHeaders(req, headers)
	return do(client, req)
}

func applyHeaders(req *http.Request, headers http.Header) {
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
}

func do(client *http.Client, req *http.Request) (*Response, error) {
	if client == nil {
		client = NewClient()
	}
	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Host, gatewaydomain.ErrNetworkTimeout)
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
