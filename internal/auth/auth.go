package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Martian-dev/graph-mail-sync/internal/sync"
)

// ClientCredentialsProvider acquires app-only tokens with the OAuth2 client credentials grant.
// Tokens are cached until shortly before expiry.
type ClientCredentialsProvider struct {
	src oauth2.TokenSource
}

// NewClientCredentialsProvider creates a provider against tokenURL
func NewClientCredentialsProvider(clientID, clientSecret, tokenURL string, scopes []string) *ClientCredentialsProvider {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return &ClientCredentialsProvider{src: cfg.TokenSource(context.Background())}
}

// Acquire returns a cached or freshly issued token
func (p *ClientCredentialsProvider) Acquire(ctx context.Context) (sync.Token, error) {
	if err := ctx.Err(); err != nil {
		return sync.Token{}, &sync.AuthError{Err: err}
	}
	tok, err := p.src.Token()
	if err != nil {
		return sync.Token{}, &sync.AuthError{Err: describeTokenError(err)}
	}
	return fromOAuth2(tok)
}

func fromOAuth2(tok *oauth2.Token) (sync.Token, error) {
	if tok == nil || tok.AccessToken == "" {
		return sync.Token{}, &sync.AuthError{Err: errors.New("token response has no access_token")}
	}
	return sync.Token{AccessToken: tok.AccessToken, Expiry: tok.Expiry}, nil
}

func describeTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode != "" {
		return fmt.Errorf("%s: %s: %w", re.ErrorCode, re.ErrorDescription, err)
	}
	return err
}
