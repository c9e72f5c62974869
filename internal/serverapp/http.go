package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tidb-datatables/internal/config"
	"tidb-datatables/internal/dtapi"
	"tidb-datatables/internal/logging"
	"tidb-datatables/internal/middleware"
	"tidb-datatables/internal/observability"
	"tidb-datatables/internal/tlscert"
	"tidb-datatables/internal/viewdef"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func buildRouter(cfg *config.Config, logger *logging.Logger, db *sql.DB, registry *viewdef.Registry, viewMetrics *observability.ViewMetrics, meterProvider *observability.MeterProvider) *http.ServeMux {
	mux := http.NewServeMux()

	dtapi.New(registry, dtapi.Options{
		ExportEnabled: cfg.Server.ExportEnabled,
		ExportMaxRows: cfg.Server.ExportMaxRows,
		Metrics:       viewMetrics,
	}).Register(mux)

	mux.HandleFunc("GET /health", healthHandler(db, cfg.Server.HealthCheckTimeout))

	if cfg.Observability.MetricsEnabled && meterProvider != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", "/metrics"))
	}

	return mux
}

// wrapHTTPHandler applies, from the inside out: request logging,
// OpenTelemetry instrumentation, CORS, and rate limiting.
func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, trafficMetrics *observability.TrafficMetrics, handler http.Handler) http.Handler {
	handler = middleware.LoggingMiddleware(logger)(handler)

	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	handler = middleware.CORSMiddleware(middleware.CORSConfig{
		Enabled:          cfg.Server.CORSEnabled,
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   cfg.Server.CORSAllowedMethods,
		AllowedHeaders:   cfg.Server.CORSAllowedHeaders,
		ExposeHeaders:    cfg.Server.CORSExposeHeaders,
		AllowCredentials: cfg.Server.CORSAllowCredentials,
		MaxAge:           cfg.Server.CORSMaxAge,
		Metrics:          trafficMetrics,
	})(handler)

	handler = middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Enabled:   cfg.Server.RateLimitEnabled,
		RPS:       cfg.Server.RateLimitRPS,
		Burst:     cfg.Server.RateLimitBurst,
		PerClient: cfg.Server.RateLimitPerClient,
		Metrics:   trafficMetrics,
	})(handler)

	return handler
}

func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}

	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}

	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

// normalizeHTTPSpanRoute collapses view names so span names stay low-cardinality.
func normalizeHTTPSpanRoute(rawPath string) string {
	switch rawPath {
	case "/views", "/health", "/metrics":
		return rawPath
	}

	rest, ok := strings.CutPrefix(rawPath, "/views/")
	if !ok || rest == "" {
		return "/*"
	}
	name, tail, nested := strings.Cut(rest, "/")
	switch {
	case name == "":
		return "/*"
	case !nested:
		return "/views/{name}"
	case tail == "export.xlsx":
		return "/views/{name}/export.xlsx"
	default:
		return "/*"
	}
}

func buildServer(cfg *config.Config, logger *logging.Logger, handler http.Handler, serverAddr string) (*http.Server, error) {
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	if !tlsEnabled(cfg) {
		return srv, nil
	}

	tlsCfg, desc, err := tlscert.ServerConfig(tlscert.Config{
		Mode:     tlscert.Mode(cfg.Server.TLSMode),
		CertFile: cfg.Server.TLSCertFile,
		KeyFile:  cfg.Server.TLSKeyFile,
		Hosts:    cfg.Server.TLSSelfSignedHosts,
	}, logger.Logger)
	if err != nil {
		return nil, err
	}
	logger.Info("TLS enabled", slog.String("certificate", desc))
	srv.TLSConfig = tlsCfg
	return srv, nil
}

func tlsEnabled(cfg *config.Config) bool {
	return cfg.Server.TLSMode != "" && cfg.Server.TLSMode != "off"
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server, serverAddr string) chan error {
	serverErrors := make(chan error, 1)
	useTLS := tlsEnabled(cfg)

	go func() {
		protocol := "http"
		if useTLS {
			protocol = "https"
		}

		logAttrs := []any{
			slog.String("protocol", protocol),
			slog.String("address", serverAddr),
			slog.String("views_endpoint", "/views"),
			slog.String("health_endpoint", "/health"),
			slog.Bool("export_enabled", cfg.Server.ExportEnabled),
			slog.String("log_level", cfg.Observability.Logging.Level),
		}
		if cfg.Observability.MetricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", "/metrics"))
		}
		if cfg.Server.RateLimitEnabled {
			logAttrs = append(logAttrs,
				slog.Float64("rate_limit_rps", cfg.Server.RateLimitRPS),
				slog.Int("rate_limit_burst", cfg.Server.RateLimitBurst),
				slog.Bool("rate_limit_per_client", cfg.Server.RateLimitPerClient),
			)
		}
		logger.Info("server starting", logAttrs...)

		var err error
		if useTLS {
			// Certificates come from srv.TLSConfig.
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}

// healthHandler reports database reachability.
func healthHandler(db *sql.DB, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			reqLogger.Error("health check failed",
				slog.String("error", err.Error()),
				slog.String("check", "database"),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprint(w, `{"status":"unhealthy","database":"failed"}`)
			return
		}

		reqLogger.Debug("health check passed")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `{"status":"healthy","database":"ok"}`)
	}
}
