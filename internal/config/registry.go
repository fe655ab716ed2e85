package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/lingocast/pkg/audio"
	"github.com/MrWong99/lingocast/pkg/blobstore"
	"github.com/MrWong99/lingocast/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// StoreFactory opens a blob store. The returned close function releases its
// resources and may be nil.
type StoreFactory func(ctx context.Context, cfg StorageConfig) (blobstore.Store, func(), error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	synth   map[string]func(ProviderEntry) (tts.Synthesizer, error)
	toolkit map[string]func(AudioConfig) (audio.Toolkit, error)
	store   map[string]StoreFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		synth:   make(map[string]func(ProviderEntry) (tts.Synthesizer, error)),
		toolkit: make(map[string]func(AudioConfig) (audio.Toolkit, error)),
		store:   make(map[string]StoreFactory),
	}
}

// RegisterSynthesizer registers a TTS provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSynthesizer(name string, factory func(ProviderEntry) (tts.Synthesizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synth[name] = factory
}

// RegisterToolkit registers an audio toolkit factory under name.
func (r *Registry) RegisterToolkit(name string, factory func(AudioConfig) (audio.Toolkit, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolkit[name] = factory
}

// RegisterStore registers a blob store factory under name.
func (r *Registry) RegisterStore(name string, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store[name] = factory
}

// CreateSynthesizer instantiates the synthesizer named by entry.Name.
// Returns [ErrProviderNotRegistered] if the name is unknown.
func (r *Registry) CreateSynthesizer(entry ProviderEntry) (tts.Synthesizer, error) {
	r.mu.RLock()
	f, ok := r.synth[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: synthesizer %q", ErrProviderNotRegistered, entry.Name)
	}
	return f(entry)
}

// CreateToolkit instantiates the audio toolkit named by cfg.Backend.
func (r *Registry) CreateToolkit(cfg AudioConfig) (audio.Toolkit, error) {
	r.mu.RLock()
	f, ok := r.toolkit[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio backend %q", ErrProviderNotRegistered, cfg.Backend)
	}
	return f(cfg)
}

// CreateStore opens the blob store named by cfg.Backend. The returned close
// function is never nil.
func (r *Registry) CreateStore(ctx context.Context, cfg StorageConfig) (blobstore.Store, func(), error) {
	r.mu.RLock()
	f, ok := r.store[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: storage backend %q", ErrProviderNotRegistered, cfg.Backend)
	}
	s, closeFn, err := f(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if closeFn == nil {
		closeFn = func() {}
	}
	return s, closeFn, nil
}
