package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signer struct {
	key jwk.Key
	set jwk.Set
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	priv, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, priv.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, priv.Set(jwk.AlgorithmKey, jwa.RS256))

	pub, err := jwk.PublicKeyOf(priv)
	require.NoError(t, err)

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))
	return &signer{key: priv, set: set}
}

func (s *signer) sign(t *testing.T, subject string, exp time.Time) string {
	t.Helper()
	tok := jwt.New()
	if subject != "" {
		require.NoError(t, tok.Set(jwt.SubjectKey, subject))
	}
	require.NoError(t, tok.Set(jwt.ExpirationKey, exp))
	require.NoError(t, tok.Set("email", "ada@example.com"))
	require.NoError(t, tok.Set("name", "Ada"))

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, s.key))
	require.NoError(t, err)
	return string(signed)
}

func bearer(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/emails", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestJWTVerifier_UserFromRequest(t *testing.T) {
	s := newSigner(t)
	v := NewStaticJWTVerifier(s.set)

	user, err := v.UserFromRequest(bearer(s.sign(t, "user-1", time.Now().Add(time.Hour))))
	require.NoError(t, err)
	assert.Equal(t, &User{ID: "user-1", Email: "ada@example.com", Name: "Ada"}, user)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"missing header", bearer("")},
		{"expired", bearer(s.sign(t, "user-1", time.Now().Add(-time.Hour)))},
		{"no subject", bearer(s.sign(t, "", time.Now().Add(time.Hour)))},
		{"foreign key", bearer(newSigner(t).sign(t, "user-1", time.Now().Add(time.Hour)))},
		{"garbage", bearer("not.a.jwt")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.UserFromRequest(tt.req)
			assert.Error(t, err)
		})
	}
}

func TestJWTVerifier_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newSigner(t)
	v := NewStaticJWTVerifier(s.set)

	r := gin.New()
	r.GET("/emails", v.Middleware(), func(c *gin.Context) {
		user := c.MustGet(ContextUserKey).(*User)
		c.String(http.StatusOK, user.ID)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, bearer(s.sign(t, "user-7", time.Now().Add(time.Hour))))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-7", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, bearer(""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())
}
