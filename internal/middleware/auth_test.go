package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func gatedHandler(t *testing.T, cfg AuthConfig) (http.Handler, *AuthContext) {
	t.Helper()
	var captured AuthContext
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth, ok := AuthFromContext(r.Context()); ok {
			captured = auth
		}
		w.WriteHeader(http.StatusOK)
	})
	mw, err := AuthMiddleware(cfg)
	require.NoError(t, err)
	return mw(inner), &captured
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	handler, _ := gatedHandler(t, AuthConfig{Enabled: false})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/query/preview", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_RequiresCredentialConfig(t *testing.T) {
	_, err := AuthMiddleware(AuthConfig{Enabled: true})
	require.Error(t, err)
}

func TestAuthMiddleware_ValidJWT(t *testing.T) {
	handler, captured := gatedHandler(t, AuthConfig{Enabled: true, Secret: testSecret})

	token := signToken(t, testSecret, jwt.MapClaims{
		"sub": "analyst-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodPost, "/query/aggregate", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "analyst-1", captured.Subject)
	assert.Equal(t, "jwt", captured.Method)
}

func TestAuthMiddleware_RejectsBadJWT(t *testing.T) {
	handler, _ := gatedHandler(t, AuthConfig{Enabled: true, Secret: testSecret})

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", signToken(t, "other-secret", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})},
		{"expired", signToken(t, testSecret, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})},
		{"no expiry", signToken(t, testSecret, jwt.MapClaims{"sub": "x"})},
		{"garbage", "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/query/aggregate", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.JSONEq(t, `{"error":"unauthorized"}`, rec.Body.String())
		})
	}
}

func TestAuthMiddleware_AudienceCheck(t *testing.T) {
	handler, _ := gatedHandler(t, AuthConfig{Enabled: true, Secret: testSecret, Audience: "reportql"})

	token := signToken(t, testSecret, jwt.MapClaims{
		"aud": "something-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodPost, "/query/preview", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_SharedToken(t *testing.T) {
	handler, captured := gatedHandler(t, AuthConfig{Enabled: true, SharedToken: "s3cret"})

	req := httptest.NewRequest(http.MethodGet, "/schema", nil)
	req.Header.Set(defaultTokenHeader, "s3cret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "shared_token", captured.Method)

	req = httptest.NewRequest(http.MethodGet, "/schema", nil)
	req.Header.Set(defaultTokenHeader, "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_CustomHeaderName(t *testing.T) {
	handler, _ := gatedHandler(t, AuthConfig{Enabled: true, SharedToken: "s3cret", HeaderName: "X-Report-Key"})

	req := httptest.NewRequest(http.MethodGet, "/schema", nil)
	req.Header.Set("X-Report-Key", "s3cret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_MissingCredentials(t *testing.T) {
	handler, _ := gatedHandler(t, AuthConfig{Enabled: true, Secret: testSecret, SharedToken: "s3cret"})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/query/preview", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
