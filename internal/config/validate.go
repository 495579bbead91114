package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) addError(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) addWarning(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Database.validate(result)
	c.Server.validate(result)
	c.Cache.validate(result)
	c.Observability.validate(result)

	return result
}

var validSSLModes = map[string]bool{
	"":            true,
	"disable":     true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	if d.ConnectionString == "" {
		if d.Host == "" {
			result.addError("database.host", "host is required when dsn is not set", "")
		}
		if d.Port < 1 || d.Port > 65535 {
			result.addError("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
		}
		if d.User == "" {
			result.addError("database.user", "user is required when dsn is not set", "")
		}
	}

	if _, err := d.EffectiveDatabaseName(); err != nil {
		result.addError("database.database", err.Error(), "")
	}

	if !validSSLModes[d.SSLMode] {
		result.addError("database.ssl_mode",
			fmt.Sprintf("unsupported sslmode %q", d.SSLMode),
			"use disable, require, verify-ca, or verify-full")
	}
	if d.SSLMode == "disable" || d.SSLMode == "" {
		result.addWarning("database.ssl_mode", "database connection is not encrypted",
			"set database.ssl_mode to require or stronger for production")
	}

	if d.Pool.MaxOpen < 0 {
		result.addError("database.pool.max_open", "must not be negative", "")
	}
	if d.Pool.MaxIdle < 0 {
		result.addError("database.pool.max_idle", "must not be negative", "")
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.addWarning("database.pool.max_idle", "max_idle exceeds max_open; the extra idle slots are unusable", "")
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.addError("server.port", fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port), "")
	}

	if s.Auth.Enabled && s.Auth.JWTSecret == "" && s.Auth.SharedToken == "" {
		result.addError("server.auth", "auth enabled but no jwt_secret or shared_token configured",
			"set server.auth.jwt_secret or server.auth.shared_token")
	}
	if !s.Auth.Enabled {
		result.addWarning("server.auth.enabled", "query endpoints are unauthenticated",
			"enable server.auth for production")
	}
	if s.Auth.JWTSecret != "" && len(s.Auth.JWTSecret) < 32 {
		result.addWarning("server.auth.jwt_secret", "secret is shorter than 32 bytes",
			"use a longer random secret")
	}

	if s.RateLimitEnabled {
		if s.RateLimitRPS <= 0 {
			result.addError("server.rate_limit_rps", "must be positive when rate limiting is enabled", "")
		}
		if s.RateLimitBurst <= 0 {
			result.addError("server.rate_limit_burst", "must be positive when rate limiting is enabled", "")
		}
		if s.RateLimitJobCost < 0 {
			result.addError("server.rate_limit_job_cost", "must not be negative", "")
		}
	}

	if s.CORSEnabled && len(s.CORSAllowedOrigins) == 0 {
		result.addError("server.cors_allowed_origins", "CORS enabled but no origins allowed",
			"list allowed origins or use *")
	}

	for field, d := range map[string]int64{
		"server.read_timeout":     int64(s.ReadTimeout),
		"server.write_timeout":    int64(s.WriteTimeout),
		"server.idle_timeout":     int64(s.IdleTimeout),
		"server.shutdown_timeout": int64(s.ShutdownTimeout),
	} {
		if d < 0 {
			result.addError(field, "must not be negative", "")
		}
	}
}

func (c *CacheConfig) validate(result *ValidationResult) {
	if c.Enabled && c.ResultTTL <= 0 {
		result.addError("cache.result_ttl", "must be positive when the cache is enabled", "")
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	if o.ServiceName == "" {
		result.addError("observability.service_name", "service name is required", "")
	}
	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.addError("observability.trace_sample_ratio",
			fmt.Sprintf("ratio %g is out of range [0, 1]", o.TraceSampleRatio), "")
	}

	switch o.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		result.addError("observability.logging.level",
			fmt.Sprintf("unknown level %q", o.Logging.Level),
			"use debug, info, warn, or error")
	}
	switch o.Logging.Format {
	case "", "json", "text":
	default:
		result.addError("observability.logging.format",
			fmt.Sprintf("unknown format %q", o.Logging.Format), "use json or text")
	}

	for _, otlp := range []struct {
		field string
		cfg   OTLPConfig
	}{
		{"observability.otlp", o.OTLP},
		{"observability.traces", o.GetTracesConfig()},
		{"observability.logs", o.GetLogsConfig()},
	} {
		switch otlp.cfg.Protocol {
		case "", "grpc", "http/protobuf":
		default:
			result.addError(otlp.field+".protocol",
				fmt.Sprintf("unknown protocol %q", otlp.cfg.Protocol),
				"use grpc or http/protobuf")
		}
		switch otlp.cfg.Compression {
		case "", "none", "gzip":
		default:
			result.addError(otlp.field+".compression",
				fmt.Sprintf("unknown compression %q", otlp.cfg.Compression),
				"use none or gzip")
		}
	}

	if (o.TracingEnabled || o.Logging.ExportsEnabled) && o.GetTracesConfig().Endpoint == "" {
		result.addError("observability.otlp.endpoint", "OTLP export enabled but no endpoint configured", "")
	}
}
