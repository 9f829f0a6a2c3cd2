// Package oauth implements the client-credentials token flow used by the
// PayPal adapter. Tokens are cached until 85% of their advertised lifetime;
// expiry is handled by recomputation on the next call, never by a background
// refresher.
package oauth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/thanhtoan69/ahihi-sub023/internal/cache"
	gatewaydomain "github.com/thanhtoan69/ahihi-sub023/internal/gateway/domain"
	"github.com/thanhtoan69/ahihi-sub023/internal/gateway/httpx"
)

// lifetimeFraction is how much of the advertised token lifetime we trust
// before recomputing.
const lifetimeFraction = 0.85

// TokenSource fetches and caches bearer tokens for one credential pair.
type TokenSource struct {
	mu           sync.Mutex
	client       *http.Client
	tokens       *cache.TTLCache[string, string]
	tokenURL     string
	clientID     string
	clientSecret string
}

// NewTokenSource builds a token source. client may be nil to use the default
// bounded client.
func NewTokenSource(client *http.Client, tokenURL, clientID, clientSecret string) (*TokenSource, error) {
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(clientSecret) == "" {
		return nil, gatewaydomain.ErrMissingCredentials
	}
	if client == nil {
		client = httpx.NewClient()
	}
	return &TokenSource{
		client:       client,
		tokens:       cache.NewTTLCache[string, string](),
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
	}, nil
}

func (s *TokenSource) cacheKey() string { return s.tokenURL + "|" + s.clientID }

// Token returns a valid bearer token, fetching one only when the cache has
// expired. Concurrent callers inside a token's validity window share the
// cached value; the fetch itself is serialized so the token endpoint is hit
// once per expiry.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if token, ok := s.tokens.Get(s.cacheKey()); ok {
		return token, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token, ok := s.tokens.Get(s.cacheKey()); ok {
		return token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	headers := http.Header{}
	headers.Set("Authorization", "Basic "+basicAuth(s.clientID, s.clientSecret))

	resp, err := httpx.DoForm(ctx, s.client, http.MethodPost, s.tokenURL, headers, form)
	if err != nil {
		return "", fmt.Errorf("token endpoint: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", gatewaydomain.NewProviderError("oauth", fmt.Sprintf("http_%d", resp.StatusCode), "token request rejected")
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := resp.DecodeInto(&payload); err != nil {
		return "", err
	}
	if payload.AccessToken == "" || payload.ExpiresIn <= 0 {
		return "", gatewaydomain.NewProviderError("oauth", "bad_token_response", "missing access_token or expires_in")
	}

	ttl := time.Duration(float64(payload.ExpiresIn)*lifetimeFraction) * time.Second
	s.tokens.Set(s.cacheKey(), payload.AccessToken, ttl)
	return payload.AccessToken, nil
}

// Invalidate drops the cached token, forcing a refetch on the next call.
func (s *TokenSource) Invalidate() {
	s.tokens.Delete(s.cacheKey())
}

func basicAuth(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
}
