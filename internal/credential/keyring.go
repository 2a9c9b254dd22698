package credential

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

const serviceName = "graph-mail-sync"

// Open returns a keyring that falls back to an encrypted file store under dir.
func Open(dir string) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KeychainBackend,
			keyring.WinCredBackend,
			keyring.FileBackend,
		},
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(serviceName + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// TokenCache persists OAuth2 tokens in a keyring
type TokenCache struct {
	ring keyring.Keyring
}

// NewTokenCache wraps ring
func NewTokenCache(ring keyring.Keyring) *TokenCache {
	return &TokenCache{ring: ring}
}

// Load returns the token stored under key, or nil if none is stored
func (c *TokenCache) Load(key string) (*oauth2.Token, error) {
	item, err := c.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential %q: %w", key, err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(item.Data, &tok); err != nil {
		return nil, fmt.Errorf("decoding credential %q: %w", key, err)
	}
	return &tok, nil
}

// Save stores tok under key
func (c *TokenCache) Save(key string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding credential %q: %w", key, err)
	}
	if err := c.ring.Set(keyring.Item{Key: key, Data: data, Label: "graph-mail-sync token"}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes the token stored under key
func (c *TokenCache) Delete(key string) error {
	if err := c.ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}
