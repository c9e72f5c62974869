package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"tidb-datatables/internal/config"
	"tidb-datatables/internal/logging"
	"tidb-datatables/internal/sqlutil"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	_ "modernc.org/sqlite"
)

const maxRetryInterval = 30 * time.Second

// driverFor returns the registered database/sql driver name and the
// semantic-convention db.system attribute for a dialect.
func driverFor(dialect sqlutil.Dialect) (string, attribute.KeyValue) {
	switch dialect {
	case sqlutil.Postgres:
		return "pgx", semconv.DBSystemPostgreSQL
	case sqlutil.SQLite:
		return "sqlite", semconv.DBSystemSqlite
	default:
		return "mysql", semconv.DBSystemMySQL
	}
}

func connectDB(cfg *config.Config, logger *logging.Logger, dialect sqlutil.Dialect) (*sql.DB, interface{ Unregister() error }, error) {
	if err := cfg.Database.RegisterTLS(); err != nil {
		return nil, nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}

	dsn, err := cfg.Database.DSN()
	if err != nil {
		return nil, nil, err
	}
	driverName, system := driverFor(dialect)

	if !cfg.Observability.MetricsEnabled && !cfg.Observability.TracingEnabled {
		db, err := sql.Open(driverName, dsn)
		if err != nil {
			return nil, nil, err
		}
		return db, nil, nil
	}

	opts := []otelsql.Option{otelsql.WithAttributes(system)}
	if cfg.Observability.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
		}))
	}

	sqlCommenter := cfg.Observability.SQLCommenterEnabled && cfg.Observability.TracingEnabled
	if sqlCommenter {
		opts = append(opts, otelsql.WithSQLCommenter(true))
	} else if cfg.Observability.SQLCommenterEnabled {
		logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
	}

	db, err := otelsql.Open(driverName, dsn, opts...)
	if err != nil {
		return nil, nil, err
	}

	var dbStatsReg interface{ Unregister() error }
	if cfg.Observability.MetricsEnabled {
		dbStatsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(system))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		}
	}

	logger.Info("database instrumentation enabled",
		slog.String("driver", driverName),
		slog.Bool("metrics", cfg.Observability.MetricsEnabled),
		slog.Bool("tracing", cfg.Observability.TracingEnabled),
		slog.Bool("sqlcommenter", sqlCommenter),
	)
	return db, dbStatsReg, nil
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	db.SetMaxOpenConns(cfg.Database.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg.Database.ConnectionTimeout, cfg.Database.ConnectionRetryInterval, logger, db.PingContext); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.String("database", cfg.Database.DatabaseName()),
		slog.Int("pool_max_open", cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Database.Pool.MaxLifetime),
		slog.Duration("query_timeout", cfg.Database.QueryTimeout),
	)
	return nil
}

// waitForDatabase retries ping with exponential backoff until timeout.
// A zero timeout makes a single attempt.
func waitForDatabase(ctx context.Context, timeout, interval time.Duration, logger *logging.Logger, ping func(context.Context) error) error {
	if timeout == 0 {
		return ping(ctx)
	}

	deadline := time.Now().Add(timeout)
	attempt := 0

	for {
		attempt++
		err := ping(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		interval = min(interval*2, maxRetryInterval)
	}
}
