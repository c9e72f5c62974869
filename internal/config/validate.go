package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"tidb-datatables/internal/sqlutil"
	"tidb-datatables/internal/viewdef"
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

// Validate checks the configuration and returns fatal errors and non-fatal warnings.
// View definitions declared inline are checked here; views_dirs files are
// checked when they are loaded.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Database.validate(result)
	c.Server.validate(result)
	c.Observability.validate(result)
	c.validateViews(result)

	return result
}

func (c *Config) validateViews(result *ValidationResult) {
	if len(c.Views) == 0 && len(c.ViewsDirs) == 0 {
		result.addWarning("views", "no views configured", "declare views inline or point views_dirs at YAML definitions")
	}
	if err := viewdef.Validate(c.Views); err != nil {
		result.addError("views", err.Error(), "")
	}
	for i, dir := range c.ViewsDirs {
		if strings.TrimSpace(dir) == "" {
			result.addError(fmt.Sprintf("views_dirs[%d]", i), "directory cannot be empty", "")
		}
	}
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	dialect, err := d.Dialect()
	if err != nil {
		result.addError("database.driver", err.Error(), "valid values are: mysql, postgres, sqlite")
		return
	}

	if d.ConnectionString != "" {
		if _, err := d.DSN(); err != nil {
			result.addError("database.dsn", err.Error(), "")
		}
	} else if dialect == sqlutil.SQLite {
		if strings.TrimSpace(d.Database) == "" {
			result.addError("database.database", "sqlite requires a database file path", "set database.database or database.dsn")
		}
	} else {
		if d.Port < 1 || d.Port > 65535 {
			result.addError("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
		}
		if strings.TrimSpace(d.Database) == "" {
			result.addError("database.database", "database name is required", "set database.database or include it in database.dsn")
		}
	}

	d.TLS.validate(dialect, result)

	if d.Pool.MaxOpen < 0 {
		result.addError("database.pool.max_open", "max_open cannot be negative", "")
	}
	if d.Pool.MaxIdle < 0 {
		result.addError("database.pool.max_idle", "max_idle cannot be negative", "")
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.addWarning("database.pool.max_idle", "max_idle is greater than max_open", "idle connections will be limited to max_open")
	}

	if d.ConnectionTimeout < 0 {
		result.addError("database.connection_timeout", "connection_timeout cannot be negative", "")
	}
	if d.ConnectionRetryInterval < 0 {
		result.addError("database.connection_retry_interval", "connection_retry_interval cannot be negative", "")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.addError("database.connection_retry_interval",
			"connection_retry_interval must be greater than 0 when connection_timeout is set",
			"set a retry interval such as 2s, or set connection_timeout to 0 to disable retries")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.addWarning("database.connection_retry_interval",
			"connection_retry_interval is greater than connection_timeout",
			"only one connection attempt will be made")
	}
	if d.QueryTimeout < 0 {
		result.addError("database.query_timeout", "query_timeout cannot be negative", "")
	}
}

func (t *DatabaseTLSConfig) validate(dialect sqlutil.Dialect, result *ValidationResult) {
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.addError("database.tls.mode", fmt.Sprintf("invalid TLS mode %q", t.Mode), "valid values are: off, skip-verify, verify-ca, verify-full")
		return
	}
	if t.Mode != "" && t.Mode != "off" && dialect == sqlutil.SQLite {
		result.addWarning("database.tls.mode", "TLS settings are ignored for sqlite", "")
		return
	}
	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.CAFile == "" {
		result.addError("database.tls.ca_file", "CA file is required for verify-ca and verify-full modes", "set ca_file to the CA certificate path")
	}
	if (t.CertFile != "") != (t.KeyFile != "") {
		result.addError("database.tls.cert_file",
			"both cert_file and key_file must be specified for client certificate authentication",
			"provide both cert_file and key_file, or neither")
	}
	if t.Mode == "skip-verify" {
		result.addWarning("database.tls.mode", "skip-verify mode does not verify server certificates", "use verify-ca or verify-full in production")
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.addError("server.port", fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port), "")
	}

	if s.RateLimitEnabled {
		if s.RateLimitRPS <= 0 {
			result.addError("server.rate_limit_rps", "rate_limit_rps must be greater than 0 when rate limiting is enabled", "")
		}
		if s.RateLimitBurst <= 0 {
			result.addError("server.rate_limit_burst", "rate_limit_burst must be greater than 0 when rate limiting is enabled", "")
		}
	} else if s.RateLimitRPS > 0 || s.RateLimitBurst > 0 || s.RateLimitPerClient {
		result.addWarning("server.rate_limit_enabled",
			"rate limit values are set but rate limiting is disabled",
			"enable server.rate_limit_enabled to apply rate limits")
	}

	if s.CORSEnabled {
		if len(s.CORSAllowedOrigins) == 0 {
			result.addError("server.cors_allowed_origins", "CORS enabled but no allowed origins configured", "set cors_allowed_origins or disable CORS")
		}
		hasWildcard := false
		for _, origin := range s.CORSAllowedOrigins {
			if strings.TrimSpace(origin) == "*" {
				hasWildcard = true
				break
			}
		}
		if hasWildcard && s.CORSAllowCredentials {
			result.addError("server.cors_allowed_origins",
				"wildcard origin (*) cannot be used with credentials",
				"use specific origins with credentials, or wildcard without credentials")
		}
		if hasWildcard {
			result.addWarning("server.cors_allowed_origins", "CORS wildcard origin enabled", "use specific origins in production for better security")
		}
	}

	if s.ExportMaxRows < 0 {
		result.addError("server.export_max_rows", "export_max_rows cannot be negative", "use 0 for no limit")
	}
	if s.ExportEnabled && s.ExportMaxRows == 0 {
		result.addWarning("server.export_max_rows", "exports are unbounded", "set export_max_rows to cap workbook size")
	}

	validTLSModes := map[string]bool{"": true, "off": true, "file": true, "selfsigned": true}
	if !validTLSModes[s.TLSMode] {
		result.addError("server.tls_mode", fmt.Sprintf("invalid TLS mode %q", s.TLSMode), "valid values are: off, file, selfsigned")
	}
	if s.TLSMode == "selfsigned" {
		result.addWarning("server.tls_mode", "self-signed certificate in use", "use file mode with a CA-issued certificate in production")
	}
	if s.TLSMode == "file" {
		if s.TLSCertFile == "" {
			result.addError("server.tls_cert_file", "TLS cert file required when tls_mode is 'file'", "")
		}
		if s.TLSKeyFile == "" {
			result.addError("server.tls_key_file", "TLS key file required when tls_mode is 'file'", "")
		}
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.addError("observability.logging.level", fmt.Sprintf("invalid log level %q", o.Logging.Level), "valid values are: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.addError("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format), "valid values are: json, text")
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.addError("observability.trace_sample_ratio", fmt.Sprintf("trace_sample_ratio %v is outside 0.0-1.0", o.TraceSampleRatio), "")
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.addError(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol), "valid values are: grpc, http/protobuf")
	}

	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.addError(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint), "use host:port or a full URL")
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.addError(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression), "valid values are: none, gzip")
	}

	if o.RetryMaxAttempts < 0 {
		result.addError(prefix+".retry_max_attempts", "retry_max_attempts cannot be negative", "")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
