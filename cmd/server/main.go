package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"tidb-datatables/internal/config"
	"tidb-datatables/internal/serverapp"

	"github.com/spf13/pflag"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	pflag.Bool("version", false, "Print version and exit")
	pflag.Bool("check", false, "Validate configuration and view definitions, then exit")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if showVersion, _ := pflag.CommandLine.GetBool("version"); showVersion {
		fmt.Printf("tidb-datatables %s (%s)\n", Version, Commit)
		return nil
	}

	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	if err := reportValidation(cfg.Validate()); err != nil {
		return err
	}

	logger, loggerProvider, err := serverapp.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	if checkOnly, _ := pflag.CommandLine.GetBool("check"); checkOnly {
		if loggerProvider != nil {
			defer func() { _ = loggerProvider.Shutdown(context.Background(), logger.Logger) }()
		}
		count, err := serverapp.CheckViews(cfg, logger)
		if err != nil {
			return err
		}
		fmt.Printf("configuration ok: %d views\n", count)
		return nil
	}

	app, err := serverapp.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return err
	}
	app.AttachLoggerProvider(loggerProvider)

	// Signals during Init abort the database wait instead of being queued.
	initCtx, cancelInit := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = app.Init(initCtx)
	cancelInit()
	if err != nil {
		return err
	}

	serverErrors, err := app.Start()
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = app.Shutdown(shutdownCtx)
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	_, waitErr := app.WaitForStop(stop, serverErrors)

	logger.Info("shutting down server gracefully")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	shutdownErr := app.Shutdown(shutdownCtx)
	shutdownCancel()

	if waitErr != nil {
		return waitErr
	}
	if shutdownErr != nil {
		return shutdownErr
	}

	logger.Info("server stopped gracefully")
	return nil
}

func reportValidation(result *config.ValidationResult) error {
	for _, warn := range result.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if !result.HasErrors() {
		return nil
	}
	for _, err := range result.Errors {
		slog.Error("configuration error",
			slog.String("field", err.Field),
			slog.String("message", err.Message),
			slog.String("hint", err.Hint),
		)
	}
	return fmt.Errorf("configuration validation failed")
}
