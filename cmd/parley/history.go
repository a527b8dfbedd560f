package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/console"
	"github.com/MrWong99/parley/pkg/memory"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect or clear the stored transcript history",
	Long: `Inspect or clear the transcript history kept by the configured history
backend. The memory backend keeps nothing between runs.`,
}

var historyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withHistory(cmd, func(ctx context.Context, store memory.HistoryStore) error {
			records, err := store.Load(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.RenderHistory(console.NewStyles(console.DefaultTheme), records))
			return nil
		})
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the stored history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withHistory(cmd, func(ctx context.Context, store memory.HistoryStore) error {
			if err := store.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
			return nil
		})
	},
}

func init() {
	historyCmd.AddCommand(historyShowCmd, historyClearCmd)
}

// withHistory opens only the configured history store, runs fn and closes
// the store again.
func withHistory(cmd *cobra.Command, fn func(context.Context, memory.HistoryStore) error) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	store, err := openHistory(ctx, cfg, reg)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("history backend %q keeps nothing between runs", cfg.History.Backend)
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}
	return fn(ctx, store)
}
