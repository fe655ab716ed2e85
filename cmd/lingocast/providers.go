package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/lingocast/internal/config"
	"github.com/MrWong99/lingocast/pkg/audio"
	"github.com/MrWong99/lingocast/pkg/audio/ffmpeg"
	"github.com/MrWong99/lingocast/pkg/audio/native"
	"github.com/MrWong99/lingocast/pkg/blobstore"
	"github.com/MrWong99/lingocast/pkg/blobstore/fs"
	"github.com/MrWong99/lingocast/pkg/blobstore/memory"
	"github.com/MrWong99/lingocast/pkg/blobstore/postgres"
	"github.com/MrWong99/lingocast/pkg/provider/tts"
	"github.com/MrWong99/lingocast/pkg/provider/tts/coqui"
	"github.com/MrWong99/lingocast/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/lingocast/pkg/provider/tts/openai"
	"github.com/MrWong99/lingocast/pkg/provider/tts/piper"
)

// registerBuiltinProviders wires every shipped synthesizer, audio toolkit
// and blob store into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Synthesizers ──────────────────────────────────────────────────────────

	reg.RegisterSynthesizer("openai", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if ins := optString(entry.Options, "instructions"); ins != "" {
			opts = append(opts, openai.WithInstructions(ins))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSynthesizer("elevenlabs", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, elevenlabs.WithLanguage(lang))
		}
		stability, okS := optFloat(entry.Options, "stability")
		similarity, okB := optFloat(entry.Options, "similarity_boost")
		if okS || okB {
			if !okS {
				stability = 0.5
			}
			if !okB {
				similarity = 0.75
			}
			opts = append(opts, elevenlabs.WithVoiceSettings(stability, similarity))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, elevenlabs.WithHTTPClient(&http.Client{Timeout: d}))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterSynthesizer("coqui", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, coqui.WithTimeout(d))
		}
		if rate, ok := optFloat(entry.Options, "output_sample_rate"); ok {
			opts = append(opts, coqui.WithOutputSampleRate(int(rate)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterSynthesizer("piper", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []piper.Option
		if speaker := optString(entry.Options, "speaker"); speaker != "" {
			opts = append(opts, piper.WithSpeaker(speaker))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, piper.WithTimeout(d))
		}
		return piper.New(entry.BaseURL, opts...)
	})

	// ── Audio toolkits ────────────────────────────────────────────────────────

	reg.RegisterToolkit("native", func(cfg config.AudioConfig) (audio.Toolkit, error) {
		return native.New(audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels})
	})

	reg.RegisterToolkit("ffmpeg", func(cfg config.AudioConfig) (audio.Toolkit, error) {
		return ffmpeg.New(
			ffmpeg.WithBinaries(cfg.FFmpegPath, cfg.FFprobePath),
			ffmpeg.WithFormat(audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels}),
			ffmpeg.WithExtension(cfg.Extension),
		)
	})

	// ── Blob stores ───────────────────────────────────────────────────────────

	reg.RegisterStore("fs", func(_ context.Context, cfg config.StorageConfig) (blobstore.Store, func(), error) {
		s, err := fs.New(cfg.Root)
		return s, nil, err
	})

	reg.RegisterStore("postgres", func(ctx context.Context, cfg config.StorageConfig) (blobstore.Store, func(), error) {
		s, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	})

	reg.RegisterStore("memory", func(context.Context, config.StorageConfig) (blobstore.Store, func(), error) {
		return memory.New(), nil, nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration reads a Go duration string such as "30s" from opts. Missing or
// malformed values yield 0.
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}

// optFloat reads a number from opts. YAML integers are accepted too.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
