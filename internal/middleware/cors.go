package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// Browser dashboards are the only cross-origin callers of the query API, so
// the fallback policy covers exactly what they send: the query methods plus
// preflight, and the auth and content headers. Responses expose the request
// ID for correlation and Retry-After for rate-limit backoff.
var (
	defaultAllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	defaultAllowedHeaders = []string{"Authorization", "Content-Type", defaultTokenHeader, RequestIDHeader}
	defaultExposeHeaders  = []string{RequestIDHeader, "Retry-After"}
)

// CORSConfig configures cross-origin access to the query endpoints. Empty
// method, header, and expose lists fall back to the query API defaults.
type CORSConfig struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int
}

// corsPolicy is the precomputed form of a CORSConfig.
type corsPolicy struct {
	allowAll         bool
	origins          map[string]struct{}
	methodsHeader    string
	headersHeader    string
	exposeHeader     string
	maxAgeHeader     string
	allowCredentials bool
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{
		origins:          make(map[string]struct{}),
		methodsHeader:    strings.Join(listOrDefault(cfg.AllowedMethods, defaultAllowedMethods), ", "),
		headersHeader:    strings.Join(listOrDefault(cfg.AllowedHeaders, defaultAllowedHeaders), ", "),
		exposeHeader:     strings.Join(listOrDefault(cfg.ExposeHeaders, defaultExposeHeaders), ", "),
		allowCredentials: cfg.AllowCredentials,
	}
	if cfg.MaxAge > 0 {
		p.maxAgeHeader = strconv.Itoa(cfg.MaxAge)
	}
	for _, origin := range cfg.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin == "*" {
			p.allowAll = true
			break
		}
		p.origins[origin] = struct{}{}
	}
	return p
}

func listOrDefault(values, fallback []string) []string {
	if len(values) > 0 {
		return values
	}
	return fallback
}

func (p *corsPolicy) allows(origin string) bool {
	if p.allowAll {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

// CORSMiddleware answers preflights and stamps CORS headers on cross-origin
// requests against the configured policy.
func CORSMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	policy := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed := policy.allows(origin)
			if allowed {
				if policy.allowAll {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
				if policy.allowCredentials && !policy.allowAll {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				w.Header().Set("Access-Control-Expose-Headers", policy.exposeHeader)
			}

			if r.Method == http.MethodOptions {
				if allowed {
					w.Header().Set("Access-Control-Allow-Methods", policy.methodsHeader)
					w.Header().Set("Access-Control-Allow-Headers", policy.headersHeader)
					if policy.maxAgeHeader != "" {
						w.Header().Set("Access-Control-Max-Age", policy.maxAgeHeader)
					}
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
