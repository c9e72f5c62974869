package config

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// EnvPrefix prefixes every environment variable, e.g. TIDT_DATABASE_HOST.
const EnvPrefix = "TIDT"

var defineFlagsOnce sync.Once

// processFlags steer the binary and are never configuration keys.
var processFlags = map[string]bool{"config": true, "version": true, "check": true}

// Load loads configuration from multiple sources with the following precedence:
// 1. Explicit overrides (v.Set) – used only for secret files and the password prompt
// 2. Command line flags
// 3. Environment variables
// 4. Config file
// 5. Default values
func Load() (*Config, error) {
	defineFlagsOnce.Do(func() {
		defineFlags(pflag.CommandLine)
	})
	if !pflag.Parsed() {
		pflag.Parse()
	}
	return load(pflag.CommandLine)
}

// load reads configuration using an already-parsed flag set.
func load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// --- Config file ---
	cfgPath, _ := flags.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("tidb-datatables")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/tidb-datatables/")
		v.AddConfigPath("$HOME/.tidb-datatables")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// --- Environment variables ---
	// Canonical keys: dot + snake_case
	// Env vars: TIDT_DATABASE_POOL_MAX_OPEN
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// --- Flags binding (highest normal priority) ---
	bindChangedFlagsToViper(v, flags)
	if err := validateSingleStdinFileSource(v); err != nil {
		return nil, err
	}

	// --- Secrets from files (explicit override) ---
	if v.GetString("database.dsn") == "" && v.GetString("database.dsn_file") != "" {
		dsn, err := readSecretFile(v.GetString("database.dsn_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database DSN file: %w", err)
		}
		v.Set("database.dsn", dsn)
	}
	if v.GetString("database.password") == "" && v.GetString("database.password_file") != "" {
		pwd, err := readSecretFile(v.GetString("database.password_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database password file: %w", err)
		}
		v.Set("database.password", pwd)
	}
	if v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("database.password", pwd)
	}

	// --- Unmarshal (strict) ---
	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringSliceHookFunc(","),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// bindChangedFlagsToViper copies only explicitly-set flags into Viper,
// preserving precedence: flags > env > file > defaults.
func bindChangedFlagsToViper(v *viper.Viper, flags *pflag.FlagSet) {
	flags.Visit(func(f *pflag.Flag) {
		if processFlags[f.Name] {
			return
		}

		switch f.Value.Type() {
		case "string":
			val, _ := flags.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := flags.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := flags.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := flags.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := flags.GetDuration(f.Name)
			v.Set(f.Name, val)
		case "stringSlice":
			val, _ := flags.GetStringSlice(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// defineFlags defines all command line flags using canonical snake_case keys.
func defineFlags(fs *pflag.FlagSet) {
	// Database connection flags
	fs.String("database.driver", "", "Database driver (mysql, postgres, sqlite)")
	fs.String("database.dsn", "", "Complete driver DSN")
	fs.String("database.dsn_file", "", "Path to file containing database DSN (use @- for stdin)")
	fs.String("database.host", "", "Database host")
	fs.Int("database.port", 0, "Database port")
	fs.String("database.user", "", "Database user")
	fs.String("database.password", "", "Database password")
	fs.String("database.password_file", "", "Path to file containing database password (use @- for stdin)")
	fs.Bool("database.password_prompt", false, "Prompt for database password securely")
	fs.String("database.database", "", "Database name (file path for sqlite)")

	// Database TLS flags
	fs.String("database.tls.mode", "", "TLS mode (off, skip-verify, verify-ca, verify-full)")
	fs.String("database.tls.ca_file", "", "Path to CA certificate for server verification")
	fs.String("database.tls.cert_file", "", "Path to client certificate for mTLS")
	fs.String("database.tls.key_file", "", "Path to client private key for mTLS")
	fs.String("database.tls.server_name", "", "Override TLS server name for verification")

	// Database pool and timing flags
	fs.Int("database.pool.max_open", 0, "Maximum open database connections")
	fs.Int("database.pool.max_idle", 0, "Maximum idle connections in pool")
	fs.Duration("database.pool.max_lifetime", 0, "Connection max lifetime (e.g. 5m, 30s)")
	fs.Duration("database.connection_timeout", 0, "Max time to wait for database on startup (0 = fail immediately)")
	fs.Duration("database.connection_retry_interval", 0, "Initial interval between connection retries")
	fs.Duration("database.query_timeout", 0, "Per-query timeout for view row sources (0 = request deadline only)")
	fs.Bool("database.verify_views", false, "Probe every view's table and attributes at startup")

	// Server flags
	fs.Int("server.port", 0, "HTTP server port")
	fs.Bool("server.rate_limit_enabled", false, "Enable rate limiting for all HTTP endpoints")
	fs.Float64("server.rate_limit_rps", 0, "Rate limit requests per second")
	fs.Int("server.rate_limit_burst", 0, "Rate limit burst size")
	fs.Bool("server.rate_limit_per_client", false, "Apply the rate limit per client address instead of globally")
	fs.Bool("server.cors_enabled", false, "Enable CORS (Cross-Origin Resource Sharing)")
	fs.StringSlice("server.cors_allowed_origins", nil, "Allowed CORS origins (comma-separated or repeated)")
	fs.StringSlice("server.cors_allowed_methods", nil, "Allowed CORS methods (comma-separated or repeated)")
	fs.StringSlice("server.cors_allowed_headers", nil, "Allowed CORS headers (comma-separated or repeated)")
	fs.StringSlice("server.cors_expose_headers", nil, "CORS headers to expose to browser (comma-separated or repeated)")
	fs.Bool("server.cors_allow_credentials", false, "Allow credentials in CORS requests")
	fs.Int("server.cors_max_age", 0, "CORS preflight cache duration (seconds)")
	fs.Duration("server.read_timeout", 0, "HTTP server read timeout")
	fs.Duration("server.write_timeout", 0, "HTTP server write timeout")
	fs.Duration("server.idle_timeout", 0, "HTTP server idle timeout")
	fs.Duration("server.shutdown_timeout", 0, "HTTP server graceful shutdown timeout")
	fs.Duration("server.health_check_timeout", 0, "Health check timeout")
	fs.Bool("server.export_enabled", false, "Enable XLSX export endpoints")
	fs.Int("server.export_max_rows", 0, "Maximum rows per export (0 = unbounded)")
	fs.String("server.tls_mode", "", "TLS mode: off, file, selfsigned (default: off)")
	fs.String("server.tls_cert_file", "", "Path to TLS certificate file (for file mode)")
	fs.String("server.tls_key_file", "", "Path to TLS private key file (for file mode)")
	fs.StringSlice("server.tls_selfsigned_hosts", nil, "Hostnames and IPs for the self-signed certificate")

	// Views
	fs.StringSlice("views_dirs", nil, "Directories holding view definition YAML files")

	// Observability flags
	fs.String("observability.service_name", "", "Service name for observability")
	fs.String("observability.service_version", "", "Service version for observability")
	fs.String("observability.environment", "", "Environment name (dev, staging, prod)")
	fs.Bool("observability.metrics_enabled", false, "Enable metrics collection")
	fs.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
	fs.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio from 0.0 to 1.0")
	fs.Bool("observability.sqlcommenter_enabled", false, "Inject trace context into SQL queries")
	fs.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
	fs.String("observability.logging.format", "", "Log format (json, text)")
	fs.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")

	// Global OTLP flags
	fs.String("observability.otlp.endpoint", "", "OTLP endpoint for all signals (e.g., localhost:4317)")
	fs.String("observability.otlp.protocol", "", "OTLP protocol for all signals (grpc, http/protobuf)")
	fs.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
	fs.String("observability.otlp.tls_cert_file", "", "Path to TLS certificate file for server verification")
	fs.String("observability.otlp.tls_client_cert_file", "", "Path to client certificate file for mTLS")
	fs.String("observability.otlp.tls_client_key_file", "", "Path to client key file for mTLS")
	fs.Duration("observability.otlp.timeout", 0, "OTLP export timeout")
	fs.String("observability.otlp.compression", "", "OTLP compression (none, gzip)")
	fs.Bool("observability.otlp.retry_enabled", false, "Enable retry on transient errors")
	fs.Int("observability.otlp.retry_max_attempts", 0, "Maximum retry attempts")

	// Signal-specific OTLP flags
	fs.String("observability.traces.endpoint", "", "OTLP endpoint for traces only")
	fs.String("observability.traces.protocol", "", "OTLP protocol for traces (grpc, http/protobuf)")
	fs.Bool("observability.traces.insecure", false, "Use insecure connection for traces")
	fs.Duration("observability.traces.timeout", 0, "Timeout for trace exports")
	fs.String("observability.logs.endpoint", "", "OTLP endpoint for logs only")
	fs.String("observability.logs.protocol", "", "OTLP protocol for logs (grpc, http/protobuf)")
	fs.Bool("observability.logs.insecure", false, "Use insecure connection for logs")
	fs.Duration("observability.logs.timeout", 0, "Timeout for log exports")

	fs.StringP("config", "c", "", "Config file path")
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.dsn_file", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 4000)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.password_file", "")
	v.SetDefault("database.password_prompt", false)
	v.SetDefault("database.database", "test")

	v.SetDefault("database.tls.mode", "")
	v.SetDefault("database.tls.ca_file", "")
	v.SetDefault("database.tls.cert_file", "")
	v.SetDefault("database.tls.key_file", "")
	v.SetDefault("database.tls.server_name", "")

	v.SetDefault("database.pool.max_open", 25)
	v.SetDefault("database.pool.max_idle", 5)
	v.SetDefault("database.pool.max_lifetime", 5*time.Minute)
	v.SetDefault("database.connection_timeout", 60*time.Second)
	v.SetDefault("database.connection_retry_interval", 2*time.Second)
	v.SetDefault("database.query_timeout", 30*time.Second)
	v.SetDefault("database.verify_views", true)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_enabled", false)
	v.SetDefault("server.rate_limit_rps", 0.0)
	v.SetDefault("server.rate_limit_burst", 0)
	v.SetDefault("server.rate_limit_per_client", false)
	v.SetDefault("server.cors_enabled", false)
	v.SetDefault("server.cors_allowed_origins", []string{})
	v.SetDefault("server.cors_allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("server.cors_allowed_headers", []string{"Content-Type", "X-Requested-With", "X-Request-ID"})
	v.SetDefault("server.cors_expose_headers", []string{})
	v.SetDefault("server.cors_allow_credentials", false)
	v.SetDefault("server.cors_max_age", 86400)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.health_check_timeout", 2*time.Second)
	v.SetDefault("server.export_enabled", false)
	v.SetDefault("server.export_max_rows", 10000)
	v.SetDefault("server.tls_mode", "off")
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")
	v.SetDefault("server.tls_selfsigned_hosts", []string{"localhost", "127.0.0.1", "::1"})

	v.SetDefault("views", []map[string]any{})
	v.SetDefault("views_dirs", []string{})

	v.SetDefault("observability.service_name", "tidb-datatables")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.sqlcommenter_enabled", true)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.exports_enabled", false)

	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.tls_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_key_file", "")
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")
	v.SetDefault("observability.otlp.retry_enabled", true)
	v.SetDefault("observability.otlp.retry_max_attempts", 3)
}

// promptPassword prompts the user for a password without echoing to terminal.
func promptPassword() (string, error) {
	fmt.Print("Enter database password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

// readSecretFile reads a trimmed secret from path, or from stdin for "@-".
func readSecretFile(path string) (string, error) {
	var data []byte
	var err error

	if path == "@-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func validateSingleStdinFileSource(v *viper.Viper) error {
	stdinBackedKeys := []string{
		"database.dsn_file",
		"database.password_file",
	}

	var configured []string
	for _, key := range stdinBackedKeys {
		if strings.TrimSpace(v.GetString(key)) == "@-" {
			configured = append(configured, key)
		}
	}

	if len(configured) > 1 {
		return fmt.Errorf(
			"multiple stdin-backed file settings use @- (%s); only one @- source is allowed",
			strings.Join(configured, ", "),
		)
	}

	return nil
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}

		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}

		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}
