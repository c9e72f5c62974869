// Package observability provides OpenTelemetry integration for metrics, tracing, and logging.
// Traces and logs leave through OTLP (gRPC or HTTP); metrics are scraped through Prometheus.
package observability

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc/credentials"
)

// Config holds OpenTelemetry configuration
type Config struct {
	ServiceName      string
	ServiceVersion   string
	Environment      string
	TraceSampleRatio float64
	OTLPConfig       OTLPExporterConfig
}

// OTLPExporterConfig holds OTLP exporter configuration options
type OTLPExporterConfig struct {
	Endpoint          string
	Protocol          string
	Insecure          bool
	TLSCertFile       string
	TLSClientCertFile string
	TLSClientKeyFile  string
	Headers           map[string]string
	Timeout           time.Duration
	Compression       string
	RetryEnabled      bool
	RetryMaxAttempts  int
}

const shutdownTimeout = 5 * time.Second

func newResource(cfg Config) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func shutdownWithTimeout(ctx context.Context, logger *slog.Logger, name string, shutdown func(context.Context) error) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown "+name+" provider", slog.String("error", err.Error()))
		return err
	}
	logger.Info(name + " provider shutdown successfully")
	return nil
}

// MeterProvider wraps the OpenTelemetry meter provider
type MeterProvider struct {
	provider *metric.MeterProvider
	exporter *prometheus.Exporter
}

// InitMeterProvider initializes OpenTelemetry metrics with a Prometheus
// exporter and installs it as the global meter provider.
func InitMeterProvider(cfg Config) (*MeterProvider, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	return &MeterProvider{provider: provider, exporter: exporter}, nil
}

// Shutdown gracefully shuts down the meter provider
func (mp *MeterProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return shutdownWithTimeout(ctx, logger, "meter", mp.provider.Shutdown)
}

// Exporter returns the Prometheus exporter for metrics HTTP handler
func (mp *MeterProvider) Exporter() *prometheus.Exporter {
	return mp.exporter
}

type otlpProtocol string

const (
	otlpProtocolGRPC otlpProtocol = "grpc"
	otlpProtocolHTTP otlpProtocol = "http/protobuf"
)

func parseOTLPProtocol(value string) (otlpProtocol, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(otlpProtocolGRPC):
		return otlpProtocolGRPC, nil
	case "http", string(otlpProtocolHTTP):
		return otlpProtocolHTTP, nil
	default:
		return "", fmt.Errorf("unsupported OTLP protocol %q (use grpc or http/protobuf)", value)
	}
}

func buildTLSConfig(cfg OTLPExporterConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.TLSCertFile != "" {
		certPool := x509.NewCertPool()
		caCert, err := os.ReadFile(cfg.TLSCertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read OTLP TLS CA file: %w", err)
		}
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse OTLP TLS CA file")
		}
		tlsConfig.RootCAs = certPool
	}

	if cfg.TLSClientCertFile != "" || cfg.TLSClientKeyFile != "" {
		if cfg.TLSClientCertFile == "" || cfg.TLSClientKeyFile == "" {
			return nil, fmt.Errorf("OTLP TLS client cert and key must both be set")
		}
		cert, err := tls.LoadX509KeyPair(cfg.TLSClientCertFile, cfg.TLSClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load OTLP TLS client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// exporterSettings is an OTLPExporterConfig resolved once and shared by
// the trace and log exporters.
type exporterSettings struct {
	cfg      OTLPExporterConfig
	protocol otlpProtocol
	tls      *tls.Config
	retry    bool
	gzip     bool
	endpoint string
	isURL    bool
}

func resolveExporterSettings(cfg OTLPExporterConfig) (exporterSettings, error) {
	protocol, err := parseOTLPProtocol(cfg.Protocol)
	if err != nil {
		return exporterSettings{}, err
	}

	s := exporterSettings{
		cfg:      cfg,
		protocol: protocol,
		retry:    cfg.RetryEnabled && cfg.RetryMaxAttempts > 0,
		gzip:     cfg.Compression == "gzip",
		endpoint: cfg.Endpoint,
		isURL:    strings.HasPrefix(cfg.Endpoint, "http://") || strings.HasPrefix(cfg.Endpoint, "https://"),
	}
	if !cfg.Insecure {
		s.tls, err = buildTLSConfig(cfg)
		if err != nil {
			return exporterSettings{}, err
		}
	}
	return s, nil
}

const (
	retryInitialInterval = 1 * time.Second
	retryMaxInterval     = 5 * time.Second
	retryMaxElapsed      = 30 * time.Second
)

func (s exporterSettings) traceGRPCOptions() []otlptracegrpc.Option {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(s.endpoint)}
	if s.tls == nil {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(s.tls)))
	}
	if len(s.cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(s.cfg.Headers))
	}
	if s.cfg.Timeout > 0 {
		opts = append(opts, otlptracegrpc.WithTimeout(s.cfg.Timeout))
	}
	if s.gzip {
		opts = append(opts, otlptracegrpc.WithCompressor("gzip"))
	}
	if s.retry {
		opts = append(opts, otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: retryInitialInterval,
			MaxInterval:     retryMaxInterval,
			MaxElapsedTime:  retryMaxElapsed,
		}))
	}
	return opts
}

func (s exporterSettings) traceHTTPOptions() []otlptracehttp.Option {
	var opts []otlptracehttp.Option
	if s.isURL {
		opts = append(opts, otlptracehttp.WithEndpointURL(s.endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(s.endpoint))
	}
	if s.tls == nil {
		opts = append(opts, otlptracehttp.WithInsecure())
	} else {
		opts = append(opts, otlptracehttp.WithTLSClientConfig(s.tls))
	}
	if len(s.cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(s.cfg.Headers))
	}
	if s.cfg.Timeout > 0 {
		opts = append(opts, otlptracehttp.WithTimeout(s.cfg.Timeout))
	}
	if s.gzip {
		opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
	}
	if s.retry {
		opts = append(opts, otlptracehttp.WithRetry(otlptracehttp.RetryConfig{
			Enabled:         true,
			InitialInterval: retryInitialInterval,
			MaxInterval:     retryMaxInterval,
			MaxElapsedTime:  retryMaxElapsed,
		}))
	}
	return opts
}

func (s exporterSettings) logGRPCOptions() []otlploggrpc.Option {
	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(s.endpoint)}
	if s.tls == nil {
		opts = append(opts, otlploggrpc.WithInsecure())
	} else {
		opts = append(opts, otlploggrpc.WithTLSCredentials(credentials.NewTLS(s.tls)))
	}
	if len(s.cfg.Headers) > 0 {
		opts = append(opts, otlploggrpc.WithHeaders(s.cfg.Headers))
	}
	if s.cfg.Timeout > 0 {
		opts = append(opts, otlploggrpc.WithTimeout(s.cfg.Timeout))
	}
	if s.gzip {
		opts = append(opts, otlploggrpc.WithCompressor("gzip"))
	}
	if s.retry {
		opts = append(opts, otlploggrpc.WithRetry(otlploggrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: retryInitialInterval,
			MaxInterval:     retryMaxInterval,
			MaxElapsedTime:  retryMaxElapsed,
		}))
	}
	return opts
}

func (s exporterSettings) logHTTPOptions() []otlploghttp.Option {
	var opts []otlploghttp.Option
	if s.isURL {
		opts = append(opts, otlploghttp.WithEndpointURL(s.endpoint))
	} else {
		opts = append(opts, otlploghttp.WithEndpoint(s.endpoint))
	}
	if s.tls == nil {
		opts = append(opts, otlploghttp.WithInsecure())
	} else {
		opts = append(opts, otlploghttp.WithTLSClientConfig(s.tls))
	}
	if len(s.cfg.Headers) > 0 {
		opts = append(opts, otlploghttp.WithHeaders(s.cfg.Headers))
	}
	if s.cfg.Timeout > 0 {
		opts = append(opts, otlploghttp.WithTimeout(s.cfg.Timeout))
	}
	if s.gzip {
		opts = append(opts, otlploghttp.WithCompression(otlploghttp.GzipCompression))
	}
	if s.retry {
		opts = append(opts, otlploghttp.WithRetry(otlploghttp.RetryConfig{
			Enabled:         true,
			InitialInterval: retryInitialInterval,
			MaxInterval:     retryMaxInterval,
			MaxElapsedTime:  retryMaxElapsed,
		}))
	}
	return opts
}

// TracerProvider wraps the OpenTelemetry tracer provider
type TracerProvider struct {
	provider *sdktrace.TracerProvider
}

// InitTracerProvider initializes OpenTelemetry tracing with an OTLP exporter
// and installs it as the global tracer provider.
func InitTracerProvider(cfg Config) (*TracerProvider, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}
	settings, err := resolveExporterSettings(cfg.OTLPConfig)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	switch settings.protocol {
	case otlpProtocolHTTP:
		exporter, err = otlptracehttp.New(ctx, settings.traceHTTPOptions()...)
	default:
		exporter, err = otlptracegrpc.New(ctx, settings.traceGRPCOptions()...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(traceSamplerForRatio(cfg.TraceSampleRatio)),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{provider: provider}, nil
}

func traceSamplerForRatio(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.NeverSample()
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// Shutdown gracefully shuts down the tracer provider
func (tp *TracerProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return shutdownWithTimeout(ctx, logger, "tracer", tp.provider.Shutdown)
}

// LoggerProvider wraps the OpenTelemetry logger provider
type LoggerProvider struct {
	provider *log.LoggerProvider
}

// InitLoggerProvider initializes OpenTelemetry logging with an OTLP exporter.
// The provider is handed to the slog bridge rather than installed globally.
func InitLoggerProvider(cfg Config) (*LoggerProvider, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}
	settings, err := resolveExporterSettings(cfg.OTLPConfig)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	var exporter log.Exporter
	switch settings.protocol {
	case otlpProtocolHTTP:
		exporter, err = otlploghttp.New(ctx, settings.logHTTPOptions()...)
	default:
		exporter, err = otlploggrpc.New(ctx, settings.logGRPCOptions()...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}

	provider := log.NewLoggerProvider(
		log.WithResource(res),
		log.WithProcessor(log.NewBatchProcessor(exporter)),
	)
	return &LoggerProvider{provider: provider}, nil
}

// Shutdown gracefully shuts down the logger provider
func (lp *LoggerProvider) Shutdown(ctx context.Context, logger *slog.Logger) error {
	return shutdownWithTimeout(ctx, logger, "logger", lp.provider.Shutdown)
}

// Provider returns the underlying logger provider
func (lp *LoggerProvider) Provider() *log.LoggerProvider {
	return lp.provider
}
