// Package app wires the parley subsystems into a running server.
//
// The App owns the full lifecycle: New builds the session engine from the
// config and the provider set, Run serves the control API alongside the
// engine loop and the config watcher, and Shutdown releases the backends in
// order.
//
// For testing, inject doubles through [Providers] and the functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/capture"
	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/prompt"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/audio/pcm"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/provider/live"
)

// shutdownGrace bounds the HTTP server drain when Run's context ends.
const shutdownGrace = 10 * time.Second

// Providers holds the backends the engine drives. Populated by main via the
// config registry.
type Providers struct {
	Channel live.Provider
	Device  audio.Device
	Store   memory.HistoryStore
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	level     *slog.LevelVar
	listener  net.Listener

	configPath    string
	watchInterval time.Duration
	watcher       *config.Watcher

	engine *session.Engine
	health *health.Handler
	server *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics overrides the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads adjust the level of the installed logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigFile watches path and applies valid edits while running. A zero
// interval uses the watcher default.
func WithConfigFile(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// WithListener serves the control API on l instead of server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds an App from cfg and providers. Channel and device are required;
// a nil store keeps history in memory.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if providers == nil || providers.Channel == nil {
		return nil, errors.New("app: no channel provider configured")
	}
	if providers.Device == nil {
		return nil, errors.New("app: no audio device configured")
	}

	chCfg, err := ChannelSettings(cfg.Channel)
	if err != nil {
		return nil, fmt.Errorf("app: channel settings: %w", err)
	}

	a.engine = session.New(session.Deps{
		Capturer: providers.Device,
		Player:   providers.Device,
		Provider: providers.Channel,
		Store:    providers.Store,
		Metrics:  a.metrics,
	},
		session.WithChannelConfig(chCfg),
		session.WithCaptureOptions(CaptureOptions(cfg.Audio)),
		session.WithOutputConfig(audio.OutputConfig{
			DeviceName: cfg.Audio.OutputDevice,
			SampleRate: pcm.PlaybackSampleRate,
			Channels:   1,
		}),
	)

	checkers := []health.Checker{health.Running("engine", a.engine.Done())}
	if p, ok := providers.Store.(health.Pinger); ok {
		checkers = append(checkers, health.Ping("history", p))
	}
	if p, ok := providers.Channel.(health.Pinger); ok {
		checkers = append(checkers, health.Ping("channel", p))
	}
	a.health = health.New(checkers...)

	if c, ok := providers.Store.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
	a.closers = append(a.closers, providers.Device.Close)
	if c, ok := providers.Channel.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, func(old, new *config.Config) {
			a.ApplyConfig(ctx, old, new)
		}, config.WithInterval(a.watchInterval))
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
	}

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	return a, nil
}

// ChannelSettings turns the channel section into the per-session channel
// config: the system prompt is loaded and the assistant name substituted.
func ChannelSettings(c config.ChannelConfig) (live.Config, error) {
	instructions, err := prompt.Load(c.InstructionsFile, c.AssistantName)
	if err != nil {
		return live.Config{}, err
	}
	return live.Config{
		Model:               c.Model,
		Voice:               c.Voice,
		Instructions:        instructions,
		InputTranscription:  true,
		OutputTranscription: true,
	}, nil
}

// CaptureOptions maps the audio section onto microphone settings.
func CaptureOptions(c config.AudioConfig) capture.Options {
	opts := capture.DefaultOptions()
	opts.DeviceName = c.InputDevice
	if c.FrameSize > 0 {
		opts.FrameSize = c.FrameSize
	}
	if c.EchoCancellation != nil {
		opts.EchoCancellation = *c.EchoCancellation
	}
	if c.NoiseSuppression != nil {
		opts.NoiseSuppression = *c.NoiseSuppression
	}
	if c.AutoGainControl != nil {
		opts.AutoGainControl = *c.AutoGainControl
	}
	return opts
}

// Engine returns the session engine.
func (a *App) Engine() *session.Engine { return a.engine }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control API, runs the engine loop with the stored history
// loaded and, if configured, the config watcher until ctx is cancelled or one
// of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.engine.Run(ctx)
	})

	// Stored history is shown before the first session, as on page load.
	// A failed load is logged by the engine and leaves the history empty.
	g.Go(func() error {
		_ = a.engine.LoadHistory(ctx)
		return nil
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(ctx) })
	}

	g.Go(func() error {
		ln := a.listener
		if ln == nil {
			var err error
			if ln, err = net.Listen("tcp", a.server.Addr); err != nil {
				return fmt.Errorf("app: listen: %w", err)
			}
		}
		slog.Info("control API listening", "addr", ln.Addr().String())

		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return a.server.Shutdown(sctx)
	})

	return g.Wait()
}

// ApplyConfig applies a reloaded config. The log level changes immediately;
// channel settings apply from the next session start. Other sections need a
// restart and are only reported.
func (a *App) ApplyConfig(ctx context.Context, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.ChannelChanged {
		if d.Channel.ProviderChanged {
			slog.Warn("channel provider settings changed; restart to apply")
		}
		chCfg, err := ChannelSettings(new.Channel)
		if err != nil {
			slog.Warn("reloaded channel settings rejected", "err", err)
		} else if err := a.engine.SetChannelConfig(ctx, chCfg); err != nil {
			slog.Warn("apply channel settings", "err", err)
		} else {
			slog.Info("channel settings updated", "model", chCfg.Model, "voice", chCfg.Voice)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed that require a restart", "sections", d.RestartRequired)
	}
}

// SlogLevel converts a config level to a slog level.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown releases the backends in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned. Call it after Run returns.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
