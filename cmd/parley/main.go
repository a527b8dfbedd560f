// Command parley runs a real-time voice conversation with a Gemini Live
// model.
//
// Usage:
//
//	parley [flags] <command>
//
// Commands:
//
//	serve         - run the control API (start/stop, event feed, history)
//	talk          - hold a conversation in the terminal
//	history show  - print the stored transcript history
//	history clear - delete the stored transcript history
//	version       - print the build version
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
)

// version is overridden at link time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	logLevel   string

	// level backs the default logger so config reloads can change it.
	level = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Real-time voice conversations with a Gemini Live model",
	Long: `parley streams microphone audio to a Gemini Live model and plays the
spoken reply, keeping a transcript of every completed exchange.

Configuration is read from a YAML file (see --config). The API key may be
supplied through GEMINI_API_KEY or API_KEY instead of the file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, talkCmd, historyCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "parley", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "parley:", err)
		os.Exit(1)
	}
}

// loadConfig reads --config and installs the logger. It returns the path of
// the file actually read, or "" when defaults were used. A missing file is
// only an error when --config was given explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path := configPath
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		path = ""
		cfg, err = config.Default()
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("config file %q not found", configPath)
		}
		return nil, "", err
	}
	if logLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(logLevel)
		if !cfg.Server.LogLevel.IsValid() {
			return nil, "", fmt.Errorf("invalid --log-level %q", logLevel)
		}
	}

	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, path, nil
}
