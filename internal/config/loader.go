package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// APIKeyEnvVars are consulted in order when channel.api_key is empty.
var APIKeyEnvVars = []string{"GEMINI_API_KEY", "API_KEY"}

// ValidBackendNames lists known backend names per kind.
// Used by [Validate] to warn about unrecognised names.
var ValidBackendNames = map[string][]string{
	"channel": {"gemini", "genai"},
	"audio":   {"portaudio"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the API
// key environment fallback, and validates the result. An empty document
// yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return finish(cfg)
}

// Default returns the configuration used when no file is given.
func Default() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	ApplyDefaults(cfg)
	ResolveAPIKey(cfg, os.LookupEnv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveAPIKey fills an empty channel.api_key from the first set variable in
// [APIKeyEnvVars].
func ResolveAPIKey(cfg *Config, lookup func(string) (string, bool)) {
	if cfg.Channel.APIKey != "" {
		return
	}
	for _, name := range APIKeyEnvVars {
		if v, ok := lookup(name); ok && v != "" {
			cfg.Channel.APIKey = v
			return
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Channel
	validateBackendName("channel", cfg.Channel.Name)
	for i, fb := range cfg.Channel.Fallbacks {
		switch {
		case fb == "":
			errs = append(errs, fmt.Errorf("channel.fallbacks[%d] is empty", i))
		case fb == cfg.Channel.Name || slices.Contains(cfg.Channel.Fallbacks[:i], fb):
			errs = append(errs, fmt.Errorf("channel.fallbacks[%d] %q is listed twice", i, fb))
		default:
			validateBackendName("channel", fb)
		}
	}
	if cfg.Channel.APIKey == "" {
		slog.Warn("channel.api_key is empty and no API key environment variable is set; sessions will fail to connect")
	}

	// Audio
	validateBackendName("audio", cfg.Audio.Backend)
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d must not be negative", cfg.Audio.FrameSize))
	}

	// History
	switch b := cfg.History.Backend; {
	case b != "" && !b.IsValid():
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: memory, badger, postgres", b))
	case b == HistoryBadger && cfg.History.Dir == "":
		errs = append(errs, errors.New("history.dir is required when backend is badger"))
	case b == HistoryPostgres && cfg.History.DSN == "":
		errs = append(errs, errors.New("history.dsn is required when backend is postgres"))
	case b == HistoryMemory && (cfg.History.Dir != "" || cfg.History.DSN != ""):
		slog.Warn("history.dir and history.dsn are ignored by the memory backend")
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not found in
// the [ValidBackendNames] list for the given kind.
func validateBackendName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidBackendNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name; may be a typo or third-party backend",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
