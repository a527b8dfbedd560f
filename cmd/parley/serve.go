package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
)

// shutdownTimeout bounds backend cleanup after the server stops.
const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API",
	Long: `Run the HTTP control API in front of the session engine.

Endpoints:
  POST   /v1/session/start   start talking
  POST   /v1/session/stop    hang up
  GET    /v1/session         current state, status and transcript
  GET    /v1/session/events  websocket feed of state changes
  GET    /v1/history         completed exchanges
  DELETE /v1/history         clear the history
  GET    /healthz, /readyz   probes
  GET    /metrics            Prometheus metrics

Edits to the config file are picked up while running.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, file, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	slog.Info("parley starting",
		"version", version,
		"config", file,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Backend:        cfg.Channel.Name,
		Model:          cfg.Channel.Model,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		return err
	}

	printStartupSummary(cmd.OutOrStdout(), cfg, file)

	opts := []app.Option{app.WithLogLevel(level)}
	if file != "" {
		opts = append(opts, app.WithConfigFile(file, 0))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		closeProviders(providers)
		return err
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	} else {
		runErr = nil
	}

	slog.Info("stopping")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(sctx); err != nil {
		return errors.Join(runErr, err)
	}
	slog.Info("goodbye")
	return runErr
}
