package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Martian-dev/graph-mail-sync/internal/sync"
)

// Provider represents OAuth providers
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
)

// BetterAuthClient fetches OAuth tokens from a BetterAuth token broker.
// The broker owns storage and refresh; this client only asks for the current token.
type BetterAuthClient struct {
	baseURL  string
	userJWT  string
	provider Provider
	client   *http.Client
}

// NewBetterAuthClient creates a client for one connected account
func NewBetterAuthClient(authServerURL, userJWT string, provider Provider) *BetterAuthClient {
	return &BetterAuthClient{
		baseURL:  authServerURL,
		userJWT:  userJWT,
		provider: provider,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Acquire fetches the account's access token from the broker
func (c *BetterAuthClient) Acquire(ctx context.Context) (sync.Token, error) {
	tok, err := c.getToken(ctx)
	if err != nil {
		return sync.Token{}, &sync.AuthError{Err: err}
	}
	return tok, nil
}

func (c *BetterAuthClient) getToken(ctx context.Context) (sync.Token, error) {
	url := fmt.Sprintf("%s/api/auth/accounts/%s/token", c.baseURL, c.provider)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return sync.Token{}, fmt.Errorf("create request: %w", err)
	}
	if c.userJWT != "" {
		req.Header.Set("Authorization", "Bearer "+c.userJWT)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return sync.Token{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return sync.Token{}, fmt.Errorf("no %s account connected", c.provider)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return sync.Token{}, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"` // unix timestamp
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return sync.Token{}, fmt.Errorf("decode response: %w", err)
	}
	if result.AccessToken == "" {
		return sync.Token{}, fmt.Errorf("broker returned an empty access token")
	}

	tok := sync.Token{AccessToken: result.AccessToken}
	if result.ExpiresAt > 0 {
		tok.Expiry = time.Unix(result.ExpiresAt, 0)
	}
	return tok, nil
}
