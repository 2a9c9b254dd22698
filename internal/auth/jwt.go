package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ContextUserKey is the gin context key holding the authenticated *User
const ContextUserKey = "auth.user"

// User represents an authenticated caller from a JWT
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// JWTVerifier verifies bearer tokens against a JWKS.
// Keys are cached and refreshed in the background until the context passed to NewJWTVerifier ends.
type JWTVerifier struct {
	jwksURL    string
	refreshTTL time.Duration
	keys       func(ctx context.Context) (jwk.Set, error)
}

// NewJWTVerifier registers jwksURL with a refreshing cache and warms it
func NewJWTVerifier(ctx context.Context, jwksURL string) (*JWTVerifier, error) {
	v := &JWTVerifier{
		jwksURL:    jwksURL,
		refreshTTL: 5 * time.Minute,
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(v.refreshTTL)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	warmCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cache.Refresh(warmCtx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed initial JWKS fetch: %w", err)
	}

	v.keys = func(ctx context.Context) (jwk.Set, error) {
		return cache.Get(ctx, jwksURL)
	}
	return v, nil
}

// NewStaticJWTVerifier verifies against a fixed key set
func NewStaticJWTVerifier(set jwk.Set) *JWTVerifier {
	return &JWTVerifier{
		keys: func(context.Context) (jwk.Set, error) { return set, nil },
	}
}

// UserFromRequest extracts and validates the bearer token on r
func (v *JWTVerifier) UserFromRequest(r *http.Request) (*User, error) {
	set, err := v.keys(r.Context())
	if err != nil {
		return nil, fmt.Errorf("loading JWKS: %w", err)
	}

	token, err := jwt.ParseRequest(
		r,
		jwt.WithKeySet(set),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT: %w", err)
	}

	userID := token.Subject()
	if userID == "" {
		return nil, fmt.Errorf("token missing user ID (subject)")
	}

	var email, name string
	if claim, ok := token.Get("email"); ok {
		email, _ = claim.(string)
	}
	if claim, ok := token.Get("name"); ok {
		name, _ = claim.(string)
	}

	return &User{ID: userID, Email: email, Name: name}, nil
}

// Middleware rejects requests without a valid bearer token
func (v *JWTVerifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := v.UserFromRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(ContextUserKey, user)
		c.Next()
	}
}
