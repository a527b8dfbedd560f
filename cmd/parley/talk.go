package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/console"
	"github.com/MrWong99/parley/internal/session"
)

var talkCmd = &cobra.Command{
	Use:   "talk",
	Short: "Hold a conversation in the terminal",
	Long: `Start a session immediately and print the conversation as it happens.

Press Ctrl+C to hang up. The session also ends when the remote side closes
it or an error occurs; completed exchanges are saved to the history.`,
	Args: cobra.NoArgs,
	RunE: runTalk,
}

func runTalk(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		return err
	}
	application, err := app.New(ctx, cfg, providers, app.WithLogLevel(level))
	if err != nil {
		closeProviders(providers)
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		_ = application.Shutdown(sctx)
	}()

	eng := application.Engine()
	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()
	_ = eng.LoadHistory(ctx)

	sub, unsubscribe := eng.Subscribe()
	defer unsubscribe()

	styles := console.NewStyles(console.DefaultTheme)
	fmt.Fprintln(cmd.OutOrStdout(), styles.Help.Render("Press Ctrl+C to hang up."))
	if err := eng.Start(ctx); err != nil {
		return err
	}

	// Start has published the connecting snapshot, so the next idle one
	// means the session is over.
	printer := console.NewPrinter(cmd.OutOrStdout(), styles)
	var last session.Snapshot
	for s := range sub {
		if err := printer.Update(s); err != nil {
			return err
		}
		if s.State == session.StateIdle {
			cancel()
		}
		last = s
	}

	select {
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case <-time.After(shutdownTimeout):
		return errors.New("engine did not stop")
	}
	if strings.HasPrefix(last.Status, "Error:") {
		return errors.New(last.Status)
	}
	return nil
}
