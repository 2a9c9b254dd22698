package auth

import (
	"context"
	"fmt"
	gosync "sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/Martian-dev/graph-mail-sync/internal/sync"
)

// TokenStore persists delegated tokens between restarts
type TokenStore interface {
	Load(key string) (*oauth2.Token, error)
	Save(key string, tok *oauth2.Token) error
	Delete(key string) error
}

// DevicePrompt tells the operator where to enter the user code
type DevicePrompt func(resp *oauth2.DeviceAuthResponse)

// DeviceCodeProvider acquires delegated tokens with the device authorization grant.
// A cached refresh token is used silently; the interactive flow only runs when none works.
type DeviceCodeProvider struct {
	conf   *oauth2.Config
	store  TokenStore
	key    string
	prompt DevicePrompt

	mu   gosync.Mutex
	src  oauth2.TokenSource
	last string
}

// NewDeviceCodeProvider creates a provider. store may be nil to disable persistence.
func NewDeviceCodeProvider(clientID, deviceAuthURL, tokenURL string, scopes []string, store TokenStore, prompt DevicePrompt) *DeviceCodeProvider {
	if prompt == nil {
		prompt = logPrompt
	}
	return &DeviceCodeProvider{
		conf: &oauth2.Config{
			ClientID: clientID,
			Scopes:   scopes,
			Endpoint: oauth2.Endpoint{
				DeviceAuthURL: deviceAuthURL,
				TokenURL:      tokenURL,
				AuthStyle:     oauth2.AuthStyleInParams,
			},
		},
		store:  store,
		key:    "device:" + clientID,
		prompt: prompt,
	}
}

func logPrompt(resp *oauth2.DeviceAuthResponse) {
	logrus.WithFields(logrus.Fields{
		"verification_uri": resp.VerificationURI,
		"user_code":        resp.UserCode,
	}).Warn(fmt.Sprintf("To sign in, open %s and enter the code %s", resp.VerificationURI, resp.UserCode))
}

// Acquire returns a valid access token, refreshing or re-authorizing as needed
func (p *DeviceCodeProvider) Acquire(ctx context.Context) (sync.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.src == nil {
		tok, err := p.cached()
		if err != nil {
			return sync.Token{}, &sync.AuthError{Err: err}
		}
		if tok == nil {
			if tok, err = p.authorize(ctx); err != nil {
				return sync.Token{}, &sync.AuthError{Err: err}
			}
		}
		p.src = p.conf.TokenSource(context.Background(), tok)
	}

	tok, err := p.src.Token()
	if err != nil {
		// drop the source and the stored token so the next call starts a new device flow
		p.src = nil
		p.last = ""
		if p.store != nil {
			if derr := p.store.Delete(p.key); derr != nil {
				logrus.WithError(derr).Warn("failed to discard rejected device token")
			}
		}
		return sync.Token{}, &sync.AuthError{Err: describeTokenError(err)}
	}

	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		if p.store != nil {
			if err := p.store.Save(p.key, tok); err != nil {
				logrus.WithError(err).Warn("failed to cache device token")
			}
		}
	}
	return fromOAuth2(tok)
}

func (p *DeviceCodeProvider) cached() (*oauth2.Token, error) {
	if p.store == nil {
		return nil, nil
	}
	tok, err := p.store.Load(p.key)
	if err != nil {
		return nil, err
	}
	if tok == nil || (!tok.Valid() && tok.RefreshToken == "") {
		return nil, nil
	}
	return tok, nil
}

func (p *DeviceCodeProvider) authorize(ctx context.Context) (*oauth2.Token, error) {
	resp, err := p.conf.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("start device flow: %w", describeTokenError(err))
	}
	p.prompt(resp)

	tok, err := p.conf.DeviceAccessToken(ctx, resp)
	if err != nil {
		return nil, fmt.Errorf("complete device flow: %w", describeTokenError(err))
	}
	return tok, nil
}
