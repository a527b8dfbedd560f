package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/provider/live"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// ChannelFactory builds a live channel provider.
type ChannelFactory func(ctx context.Context, cfg ChannelConfig) (live.Provider, error)

// AudioFactory opens an audio device.
type AudioFactory func(cfg AudioConfig) (audio.Device, error)

// HistoryFactory opens a history store. The returned store may implement
// io.Closer; callers close it on shutdown.
type HistoryFactory func(ctx context.Context, cfg HistoryConfig) (memory.HistoryStore, error)

// Registry maps backend names to their constructor functions. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	channel map[string]ChannelFactory
	audio   map[string]AudioFactory
	history map[HistoryBackend]HistoryFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		channel: make(map[string]ChannelFactory),
		audio:   make(map[string]AudioFactory),
		history: make(map[HistoryBackend]HistoryFactory),
	}
}

// RegisterChannel registers a channel provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterChannel(name string, factory ChannelFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channel[name] = factory
}

// RegisterAudio registers an audio device factory under name.
func (r *Registry) RegisterAudio(name string, factory AudioFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// RegisterHistory registers a history store factory for backend.
func (r *Registry) RegisterHistory(backend HistoryBackend, factory HistoryFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[backend] = factory
}

// CreateChannel instantiates the channel provider registered under cfg.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateChannel(ctx context.Context, cfg ChannelConfig) (live.Provider, error) {
	r.mu.RLock()
	factory, ok := r.channel[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: channel/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(ctx, cfg)
}

// CreateAudio opens the audio device registered under cfg.Backend.
func (r *Registry) CreateAudio(cfg AudioConfig) (audio.Device, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(cfg)
}

// CreateHistory opens the history store registered under cfg.Backend.
func (r *Registry) CreateHistory(ctx context.Context, cfg HistoryConfig) (memory.HistoryStore, error) {
	r.mu.RLock()
	factory, ok := r.history[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: history/%q", ErrProviderNotRegistered, cfg.Backend)
	}
	return factory(ctx, cfg)
}

// Channels returns the registered channel names.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.channel))
	for n := range r.channel {
		names = append(names, n)
	}
	return names
}
