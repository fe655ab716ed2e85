package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per kind.
// Used by [Validate] to reject unrecognised names.
var ValidProviderNames = map[string][]string{
	"synthesizer": {"openai", "elevenlabs", "coqui", "piper"},
	"audio":       {"native", "ffmpeg"},
	"storage":     {"fs", "postgres", "memory"},
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

// LoadFromReader decodes a YAML config from r, expands environment
// references, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces ${VAR} references in fields that commonly carry
// secrets or machine-specific locations.
func expandEnv(cfg *Config) {
	expand := func(entry *ProviderEntry) {
		entry.APIKey = os.ExpandEnv(entry.APIKey)
		entry.BaseURL = os.ExpandEnv(entry.BaseURL)
	}
	expand(&cfg.Synthesizer)
	for i := range cfg.Fallbacks {
		expand(&cfg.Fallbacks[i])
	}
	cfg.Storage.Root = os.ExpandEnv(cfg.Storage.Root)
	cfg.Storage.PostgresDSN = os.ExpandEnv(cfg.Storage.PostgresDSN)
}

// ApplyDefaults fills unset fields with their documented defaults.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Server.LogFormat, LogFormatText)

	setDefault(&cfg.Storage.Backend, "fs")
	if cfg.Storage.Backend == "fs" {
		setDefault(&cfg.Storage.Root, "./data")
	}

	setDefault(&cfg.Audio.Backend, "native")
	setDefault(&cfg.Audio.SampleRate, 24000)
	setDefault(&cfg.Audio.Channels, 1)
	if cfg.Audio.LeadingSilenceMs == nil {
		ms := 500
		cfg.Audio.LeadingSilenceMs = &ms
	}
	if cfg.Audio.Backend == "ffmpeg" {
		setDefault(&cfg.Audio.FFmpegPath, "ffmpeg")
		setDefault(&cfg.Audio.FFprobePath, "ffprobe")
		setDefault(&cfg.Audio.Extension, ".wav")
	}

	setDefault(&cfg.Synthesis.Throttle, 250*time.Millisecond)
	setDefault(&cfg.Synthesis.MaxAttempts, 4)
	setDefault(&cfg.Synthesis.RetryBaseDelay, time.Second)
	setDefault(&cfg.Synthesis.RetryMaxDelay, 20*time.Second)

	setDefault(&cfg.Corruption.MinBytes, 2048)
	setDefault(&cfg.Corruption.SilenceThresholdDB, -45)
	setDefault(&cfg.Corruption.RepairCooldown, 2*time.Second)

	setDefault(&cfg.Generation.ParallelScopes, 1)
}

func setDefault[T comparable](field *T, v T) {
	var zero T
	if *field == zero {
		*field = v
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
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	// Storage
	errs = appendNameErr(errs, "storage", "storage.backend", cfg.Storage.Backend)
	switch cfg.Storage.Backend {
	case "fs":
		if cfg.Storage.Root == "" {
			errs = append(errs, errors.New("storage.root is required for the fs backend"))
		}
	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres backend"))
		}
	case "memory":
		slog.Warn("storage.backend is memory; nothing will be persisted")
	}

	// Synthesizers
	if cfg.Synthesizer.Name == "" {
		errs = append(errs, errors.New("synthesizer.name is required"))
	} else {
		errs = appendNameErr(errs, "synthesizer", "synthesizer.name", cfg.Synthesizer.Name)
	}
	for i, fb := range cfg.Fallbacks {
		prefix := fmt.Sprintf("fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		errs = appendNameErr(errs, "synthesizer", prefix+".name", fb.Name)
	}

	// Audio
	errs = appendNameErr(errs, "audio", "audio.backend", cfg.Audio.Backend)
	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels != 0 && cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1, 2", cfg.Audio.Channels))
	}
	if ms := cfg.Audio.LeadingSilenceMs; ms != nil && *ms < 0 {
		errs = append(errs, fmt.Errorf("audio.leading_silence_ms %d must not be negative", *ms))
	}
	if ext := cfg.Audio.Extension; ext != "" && (len(ext) < 2 || ext[0] != '.') {
		errs = append(errs, fmt.Errorf("audio.extension %q must start with a dot", ext))
	}

	// Synthesis
	if cfg.Synthesis.Throttle < 0 {
		errs = append(errs, errors.New("synthesis.throttle must not be negative"))
	}
	if cfg.Synthesis.MaxAttempts < 0 {
		errs = append(errs, errors.New("synthesis.max_attempts must not be negative"))
	}
	if cfg.Synthesis.RetryMaxDelay != 0 && cfg.Synthesis.RetryMaxDelay < cfg.Synthesis.RetryBaseDelay {
		errs = append(errs, fmt.Errorf("synthesis.retry_max_delay %s is below retry_base_delay %s",
			cfg.Synthesis.RetryMaxDelay, cfg.Synthesis.RetryBaseDelay))
	}

	// Corruption
	if cfg.Corruption.MinBytes < 0 {
		errs = append(errs, errors.New("corruption.min_bytes must not be negative"))
	}
	if cfg.Corruption.SilenceThresholdDB > 0 {
		errs = append(errs, fmt.Errorf("corruption.silence_threshold_db %.1f must be below 0 dBFS", cfg.Corruption.SilenceThresholdDB))
	}
	if cfg.Corruption.RepairCooldown < 0 {
		errs = append(errs, errors.New("corruption.repair_cooldown must not be negative"))
	}

	// Generation
	if cfg.Generation.ParallelScopes < 0 {
		errs = append(errs, errors.New("generation.parallel_scopes must not be negative"))
	}

	// Scopes
	if len(cfg.Scopes) == 0 {
		errs = append(errs, errors.New("at least one scope is required"))
	}
	seen := make(map[string]int, len(cfg.Scopes))
	for i, sc := range cfg.Scopes {
		prefix := fmt.Sprintf("scopes[%d]", i)
		if err := sc.Scope().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
			continue
		}
		key := sc.Scope().String()
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("%s %q is a duplicate of scopes[%d]", prefix, key, prev))
		}
		seen[key] = i
		if sc.Voice == "" {
			errs = append(errs, fmt.Errorf("%s.voice is required", prefix))
		}
		if sc.SpeedFactor != 0 && (sc.SpeedFactor < 0.5 || sc.SpeedFactor > 2.0) {
			errs = append(errs, fmt.Errorf("%s.speed_factor %.2f is out of range [0.5, 2.0]", prefix, sc.SpeedFactor))
		}
	}

	return errors.Join(errs...)
}

// appendNameErr appends an error when name is set but not found in the
// [ValidProviderNames] list for kind.
func appendNameErr(errs []error, kind, field, name string) []error {
	if name == "" || slices.Contains(ValidProviderNames[kind], name) {
		return errs
	}
	return append(errs, fmt.Errorf("%s %q is invalid; valid values: %v", field, name, ValidProviderNames[kind]))
}
