package logger

import (
	"net/http"
	"strings"
)

var sensitiveKeys = []string{
	"secret",
	"token",
	"api_key",
	"access_key",
	"webhook_secret",
	"authorization",
	"signature",
	"securehash",
	"mac",
}

// signatureHeaders are the per-provider webhook signature headers. Their
// values are HMACs over secret material and must never reach the logs whole.
var signatureHeaders = []string{
	"stripe-signature",
	"x-signature-sha256",
	"x-signature",
	"paypal-transmission-sig",
	"authorization",
}

// MaskAuthorization masks bearer tokens, preserving the scheme.
func MaskAuthorization(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	parts := strings.Fields(value)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return "Bearer " + maskLast4(parts[1])
	}
	return maskLast4(value)
}

// MaskSignature masks a webhook signature value, preserving only a tail for
// correlation with provider dashboards.
func MaskSignature(value string) string {
	return maskLast4(value)
}

// MaskHeaders returns a copy of headers with signature and credential values
// masked. Non-sensitive headers pass through untouched.
func MaskHeaders(headers http.Header) map[string]string {
	masked := make(map[string]string, len(headers))
	for key, values := range headers {
		joined := strings.Join(values, ",")
		if isSignatureHeader(key) {
			masked[key] = MaskSignature(joined)
			continue
		}
		masked[key] = joined
	}
	return masked
}

// MaskQuery masks sensitive parameters in a provider return/IPN query string
// without reordering it.
func MaskQuery(raw string) string {
	if raw == "" {
		return ""
	}
	pairs := strings.Split(raw, "&")
	for i, pair := range pairs {
		idx := strings.Index(pair, "=")
		if idx < 0 {
			continue
		}
		if isSensitiveKey(pair[:idx]) {
			pairs[i] = pair[:idx] + "=" + maskLast4(pair[idx+1:])
		}
	}
	return strings.Join(pairs, "&")
}

func isSignatureHeader(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, h := range signatureHeaders {
		if key == h {
			return true
		}
	}
	return false
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, needle := range sensitiveKeys {
		if strings.Contains(key, needle) {
			return true
		}
	}
	return false
}

func maskLast4(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****" + value
	}
	return "****" + value[len(value)-4:]
}
