package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenHeader = "X-Api-Token"

// AuthConfig controls the access gate in front of the query endpoints.
// Either a bearer JWT signed with Secret or a shared token in the configured
// header grants access; when both are set, either suffices.
type AuthConfig struct {
	Enabled     bool
	Secret      string
	Audience    string
	ClockSkew   time.Duration
	SharedToken string
	HeaderName  string
}

type authContextKey struct{}

// AuthContext carries the validated caller identity.
type AuthContext struct {
	Subject string
	Method  string
	Claims  map[string]any
}

// WithAuthContext stores the auth context on a request context.
func WithAuthContext(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// AuthFromContext returns the auth context from a request context.
func AuthFromContext(ctx context.Context) (AuthContext, bool) {
	value := ctx.Value(authContextKey{})
	if value == nil {
		return AuthContext{}, false
	}
	auth, ok := value.(AuthContext)
	return auth, ok
}

// AuthMiddleware gates requests on a valid bearer JWT or shared token.
func AuthMiddleware(cfg AuthConfig) (func(http.Handler) http.Handler, error) {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	if cfg.Secret == "" && cfg.SharedToken == "" {
		return nil, errors.New("auth enabled but no jwt secret or shared token configured")
	}

	headerName := strings.TrimSpace(cfg.HeaderName)
	if headerName == "" {
		headerName = defaultTokenHeader
	}
	clockSkew := cfg.ClockSkew
	if clockSkew == 0 {
		clockSkew = 2 * time.Minute
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
	}
	if cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(parserOpts...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.SharedToken != "" {
				provided := strings.TrimSpace(r.Header.Get(headerName))
				if provided != "" && constantTimeTokenMatch(provided, cfg.SharedToken) {
					ctx := WithAuthContext(r.Context(), AuthContext{
						Subject: "shared_token",
						Method:  "shared_token",
					})
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			if cfg.Secret != "" {
				tokenString := bearerToken(r.Header.Get("Authorization"))
				if tokenString != "" {
					claims := jwt.MapClaims{}
					token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
						return []byte(cfg.Secret), nil
					})
					if err == nil && token.Valid {
						subject, _ := claims.GetSubject()
						ctx := WithAuthContext(r.Context(), AuthContext{
							Subject: subject,
							Method:  "jwt",
							Claims:  claims,
						})
						next.ServeHTTP(w, r.WithContext(ctx))
						return
					}
				}
			}

			writeUnauthorized(w)
		})
	}, nil
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func constantTimeTokenMatch(provided, expected string) bool {
	providedDigest := sha256.Sum256([]byte(provided))
	expectedDigest := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(providedDigest[:], expectedDigest[:]) == 1
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprint(w, `{"error":"unauthorized"}`)
}
