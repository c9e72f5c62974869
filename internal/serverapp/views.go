package serverapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"tidb-datatables/internal/config"
	"tidb-datatables/internal/datatables"
	"tidb-datatables/internal/dbexec"
	"tidb-datatables/internal/logging"
	"tidb-datatables/internal/rowsource"
	"tidb-datatables/internal/sqlutil"
	"tidb-datatables/internal/viewdef"
)

// prober is implemented by row sources that can check their attributes up front.
type prober interface {
	Probe(ctx context.Context, attributes []string) error
}

// loadViewDefinitions merges inline views with those found under views_dirs.
func loadViewDefinitions(cfg *config.Config, logger *logging.Logger) ([]viewdef.Definition, error) {
	defs := append([]viewdef.Definition(nil), cfg.Views...)
	if len(cfg.ViewsDirs) == 0 {
		return defs, nil
	}

	fromFiles, err := viewdef.NewLoader().LoadAll(cfg.ViewsDirs)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded view definition files",
		slog.Any("dirs", cfg.ViewsDirs),
		slog.Int("views", len(fromFiles)),
	)
	return append(defs, fromFiles...), nil
}

// buildRegistry backs every definition with a SQL row source over db.
func buildRegistry(cfg *config.Config, dialect sqlutil.Dialect, db *sql.DB, defs []viewdef.Definition) (*viewdef.Registry, error) {
	exec := dbexec.WithTimeout(dbexec.NewStandardExecutor(db), cfg.Database.QueryTimeout)
	return newRegistry(exec, dialect, defs)
}

func newRegistry(exec dbexec.QueryExecutor, dialect sqlutil.Dialect, defs []viewdef.Definition) (*viewdef.Registry, error) {
	return viewdef.NewRegistry(defs, func(def viewdef.Definition) (datatables.RowSource, error) {
		return rowsource.NewSQLSource(exec, dialect, def.Table)
	})
}

// verifyViews probes each view so a missing table or attribute fails startup
// instead of surfacing as a contract violation on the first request.
func verifyViews(ctx context.Context, logger *logging.Logger, registry *viewdef.Registry) error {
	var errs []error
	for _, entry := range registry.List() {
		p, ok := entry.View.Source.(prober)
		if !ok {
			continue
		}
		attrs := entry.View.Columns.RequiredAttributes()
		if err := p.Probe(ctx, attrs); err != nil {
			errs = append(errs, fmt.Errorf("view %q: %w", entry.Definition.Name, err))
			continue
		}
		logger.Debug("view verified",
			slog.String("view", entry.Definition.Name),
			slog.String("table", entry.Definition.Table),
			slog.Int("attributes", len(attrs)),
		)
	}
	return errors.Join(errs...)
}

// CheckViews loads and validates every view definition without touching the
// database, returning how many views would be served.
func CheckViews(cfg *config.Config, logger *logging.Logger) (int, error) {
	defs, err := loadViewDefinitions(cfg, logger)
	if err != nil {
		return 0, err
	}
	if err := viewdef.Validate(defs); err != nil {
		return 0, err
	}
	return len(defs), nil
}
