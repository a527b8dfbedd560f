package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/portaudio"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/memory/badger"
	"github.com/MrWong99/parley/pkg/memory/postgres"
	"github.com/MrWong99/parley/pkg/provider/live"
	"github.com/MrWong99/parley/pkg/provider/live/gemini"
	"github.com/MrWong99/parley/pkg/provider/live/genailive"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires every shipped backend into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Channel ───────────────────────────────────────────────────────────────

	// gemini speaks the Live websocket protocol directly.
	reg.RegisterChannel("gemini", func(_ context.Context, c config.ChannelConfig) (live.Provider, error) {
		var opts []gemini.Option
		if c.Model != "" {
			opts = append(opts, gemini.WithModel(c.Model))
		}
		if c.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(c.BaseURL))
		}
		return gemini.New(c.APIKey, opts...), nil
	})

	// genai goes through the official Go SDK.
	reg.RegisterChannel("genai", func(ctx context.Context, c config.ChannelConfig) (live.Provider, error) {
		var opts []genailive.Option
		if c.Model != "" {
			opts = append(opts, genailive.WithModel(c.Model))
		}
		if c.BaseURL != "" {
			opts = append(opts, genailive.WithBaseURL(c.BaseURL))
		}
		return genailive.New(ctx, c.APIKey, opts...)
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("portaudio", func(config.AudioConfig) (audio.Device, error) {
		return portaudio.New()
	})

	// ── History ───────────────────────────────────────────────────────────────

	// memory returns no store; the engine keeps history for the process
	// lifetime only.
	reg.RegisterHistory(config.HistoryMemory, func(context.Context, config.HistoryConfig) (memory.HistoryStore, error) {
		return nil, nil
	})

	reg.RegisterHistory(config.HistoryBadger, func(_ context.Context, h config.HistoryConfig) (memory.HistoryStore, error) {
		return badger.Open(badger.Options{Dir: h.Dir, Key: h.Key})
	})

	reg.RegisterHistory(config.HistoryPostgres, func(ctx context.Context, h config.HistoryConfig) (memory.HistoryStore, error) {
		return postgres.NewStore(ctx, h.DSN, h.Key)
	})

	slog.Debug("registered channels", "names", reg.Channels())
}

// buildProviders instantiates the backends named in cfg. On error, anything
// already opened is closed again.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (_ *app.Providers, err error) {
	ps := &app.Providers{}
	defer func() {
		if err != nil {
			closeProviders(ps)
		}
	}()

	if ps.Store, err = openHistory(ctx, cfg, reg); err != nil {
		return nil, err
	}

	device, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio backend %q: %w", cfg.Audio.Backend, err)
	}
	ps.Device = device
	slog.Info("provider created", "kind", "audio", "name", cfg.Audio.Backend)

	channel, err := reg.CreateChannel(ctx, cfg.Channel)
	if err != nil {
		return nil, fmt.Errorf("create channel %q: %w", cfg.Channel.Name, err)
	}
	ps.Channel = channel
	slog.Info("provider created", "kind", "channel", "name", cfg.Channel.Name, "model", cfg.Channel.Model)

	if len(cfg.Channel.Fallbacks) == 0 {
		return ps, nil
	}
	group := resilience.NewLiveFallback(cfg.Channel.Name, channel, resilience.BreakerConfig{})
	ps.Channel = group
	for _, name := range cfg.Channel.Fallbacks {
		fb := cfg.Channel
		fb.Name = name
		p, err := reg.CreateChannel(ctx, fb)
		if err != nil {
			return nil, fmt.Errorf("create fallback channel %q: %w", name, err)
		}
		group.AddFallback(name, p)
	}
	slog.Info("channel failover enabled", "order", group.Backends())
	return ps, nil
}

// openHistory opens only the history store. A nil store means the memory
// backend.
func openHistory(ctx context.Context, cfg *config.Config, reg *config.Registry) (memory.HistoryStore, error) {
	store, err := reg.CreateHistory(ctx, cfg.History)
	if err != nil {
		return nil, fmt.Errorf("open history backend %q: %w", cfg.History.Backend, err)
	}
	slog.Info("provider created", "kind", "history", "name", cfg.History.Backend)
	return store, nil
}

func closeProviders(ps *app.Providers) {
	for _, v := range []any{ps.Store, ps.Device, ps.Channel} {
		if c, ok := v.(io.Closer); ok {
			if err := c.Close(); err != nil {
				slog.Warn("close provider", "err", err)
			}
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config, configFile string) {
	if configFile == "" {
		configFile = "(defaults)"
	}
	apiKey := "set"
	if cfg.Channel.APIKey == "" {
		apiKey = "(missing)"
	}
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         parley — startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "Config", configFile)
	printRow(w, "Channel", cfg.Channel.Name+" / "+cfg.Channel.Model)
	for _, fb := range cfg.Channel.Fallbacks {
		printRow(w, "  fallback", fb)
	}
	printRow(w, "Voice", cfg.Channel.Voice)
	printRow(w, "API key", apiKey)
	printRow(w, "Audio", cfg.Audio.Backend)
	printRow(w, "History", string(cfg.History.Backend))
	if cfg.Server.ListenAddr != "" {
		printRow(w, "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRow(w io.Writer, label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", label, value)
}
