package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, claims jwt.MapClaims, key string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func newRouter(cfg JWTConfig, extra ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	l := logrus.New()
	l.SetOutput(io.Discard)
	r.Use(RequestLogger(l))
	chain := append([]gin.HandlerFunc{JWTAuth(cfg)}, extra...)
	chain = append(chain, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id"), "role": c.GetString("role")})
	})
	r.GET("/me", chain...)
	return r
}

func get(r *gin.Engine, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := newRouter(JWTConfig{Secret: secret})
	exp := time.Now().Add(time.Hour).Unix()

	w := get(r, "/me", sign(t, jwt.MapClaims{"sub": "u1", "exp": exp}, secret))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"u1","role":"user"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	w = get(r, "/me", sign(t, jwt.MapClaims{"sub": "u1", "exp": exp}, "other"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(r, "/me", sign(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Minute).Unix()}, secret))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(r, "/me", sign(t, jwt.MapClaims{"exp": exp}, secret))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(r, "/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuth_MissingSecret(t *testing.T) {
	w := get(newRouter(JWTConfig{}), "/me", "x")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestJWTAuth_IssuerAndAudience(t *testing.T) {
	r := newRouter(JWTConfig{Secret: secret, Issuer: "https://x.supabase.co/auth/v1", Audience: "authenticated"})
	exp := time.Now().Add(time.Hour).Unix()

	ok := sign(t, jwt.MapClaims{"sub": "u1", "exp": exp, "iss": "https://x.supabase.co/auth/v1", "aud": "authenticated"}, secret)
	assert.Equal(t, http.StatusOK, get(r, "/me", ok).Code)

	wrongAud := sign(t, jwt.MapClaims{"sub": "u1", "exp": exp, "iss": "https://x.supabase.co/auth/v1", "aud": "anon"}, secret)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/me", wrongAud).Code)
}

func TestJWTAuth_WebsocketQueryToken(t *testing.T) {
	r := newRouter(JWTConfig{Secret: secret})
	tok := sign(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(time.Hour).Unix()}, secret)

	req := httptest.NewRequest(http.MethodGet, "/me?access_token="+tok, nil)
	req.Header.Set("Upgrade", "websocket")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusUnauthorized, get(r, "/me?access_token="+tok, "").Code)
}

func TestRequireAdmin(t *testing.T) {
	r := newRouter(JWTConfig{Secret: secret}, RequireAdmin())
	exp := time.Now().Add(time.Hour).Unix()

	admin := sign(t, jwt.MapClaims{"sub": "ops", "exp": exp, "app_metadata": map[string]any{"role": "Admin"}}, secret)
	w := get(r, "/me", admin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"ops","role":"admin"}`, w.Body.String())

	user := sign(t, jwt.MapClaims{"sub": "u1", "exp": exp}, secret)
	assert.Equal(t, http.StatusForbidden, get(r, "/me", user).Code)
}
