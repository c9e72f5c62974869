package serverapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, viewMetrics, trafficMetrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	// Views are loaded before connecting so definition errors fail fast.
	defs, err := loadViewDefinitions(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to load view definitions: %w", err)
	}

	a.logger.Info("connecting to database",
		slog.String("driver", string(a.dialect)),
		slog.String("host", a.cfg.Database.Host),
		slog.Int("port", a.cfg.Database.Port),
		slog.String("database", a.cfg.Database.DatabaseName()),
		slog.Bool("dsn_present", strings.TrimSpace(a.cfg.Database.ConnectionString) != ""),
	)

	db, dbStatsReg, err := connectDB(a.cfg, a.logger, a.dialect)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup.push("database", func(_ context.Context) error {
		if dbStatsReg != nil {
			if err := dbStatsReg.Unregister(); err != nil {
				a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
		}
		return db.Close()
	})

	if err := configureDatabase(ctx, a.cfg, a.logger, db); err != nil {
		return fmt.Errorf("failed to verify database connection: %w", err)
	}

	registry, err := buildRegistry(a.cfg, a.dialect, db, defs)
	if err != nil {
		return fmt.Errorf("failed to build view registry: %w", err)
	}
	if a.cfg.Database.VerifyViews {
		if err := verifyViews(ctx, a.logger, registry); err != nil {
			return fmt.Errorf("failed to verify views: %w", err)
		}
	}
	a.logger.Info("views registered", slog.Int("count", registry.Len()))

	mux := buildRouter(a.cfg, a.logger, db, registry, viewMetrics, meterProvider)
	handler := wrapHTTPHandler(a.cfg, a.logger, trafficMetrics, mux)

	serverAddr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv, err := buildServer(a.cfg, a.logger, handler, serverAddr)
	if err != nil {
		return fmt.Errorf("failed to configure HTTPS: %w", err)
	}
	cleanup.push("HTTP server", func(shutdownCtx context.Context) error {
		return srv.Shutdown(shutdownCtx)
	})

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.viewMetrics = viewMetrics
	a.trafficMetrics = trafficMetrics
	a.tracerProvider = tracerProvider
	a.db = db
	a.dbStatsReg = dbStatsReg
	a.registry = registry
	a.mux = mux
	a.handler = handler
	a.serverAddr = serverAddr
	a.srv = srv
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
