package serverapp

import (
	"log/slog"

	"tidb-datatables/internal/config"
	"tidb-datatables/internal/logging"
	"tidb-datatables/internal/observability"
)

// InitLogger builds the process logger and, when log export is enabled,
// rebuilds it on top of an OTLP logger provider.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(otelConfig(cfg, logsConfig))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)
	logger.Info("OpenTelemetry logging initialized")

	return logger, loggerProvider, nil
}

func otelConfig(cfg *config.Config, otlp config.OTLPConfig) observability.Config {
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          otlp.Endpoint,
			Protocol:          otlp.Protocol,
			Insecure:          otlp.Insecure,
			TLSCertFile:       otlp.TLSCertFile,
			TLSClientCertFile: otlp.TLSClientCertFile,
			TLSClientKeyFile:  otlp.TLSClientKeyFile,
			Headers:           otlp.Headers,
			Timeout:           otlp.Timeout,
			Compression:       otlp.Compression,
			RetryEnabled:      otlp.RetryEnabled,
			RetryMaxAttempts:  otlp.RetryMaxAttempts,
		},
	}
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.ViewMetrics, *observability.TrafficMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil, nil
	}

	meterProvider, err := observability.InitMeterProvider(otelConfig(cfg, config.OTLPConfig{}))
	if err != nil {
		return nil, nil, nil, err
	}

	viewMetrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		return nil, nil, nil, err
	}

	trafficMetrics, err := observability.InitTrafficMetrics()
	if err != nil {
		return nil, nil, nil, err
	}

	logger.Info("OpenTelemetry metrics initialized",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("environment", cfg.Observability.Environment),
	)
	return meterProvider, viewMetrics, trafficMetrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	tracerProvider, err := observability.InitTracerProvider(otelConfig(cfg, tracesConfig))
	if err != nil {
		return nil, err
	}

	logger.Info("OpenTelemetry tracing initialized",
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)
	return tracerProvider, nil
}
