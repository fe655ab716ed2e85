// Package openai provides a Synthesizer backed by the OpenAI speech API.
//
// Speech is requested as raw 24 kHz 16-bit mono PCM and wrapped in a WAV
// container, so callers never see the provider's streaming WAV headers.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/lingocast/pkg/audio"
	"github.com/MrWong99/lingocast/pkg/provider/tts"
)

// DefaultModel is the default OpenAI speech model.
const DefaultModel = oai.SpeechModelGPT4oMiniTTS

// pcmRate is the fixed sample rate of the "pcm" response format.
const pcmRate = 24000

var (
	_ tts.Synthesizer = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

// knownVoices is the built-in voice catalogue. The API has no list endpoint.
var knownVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer", "verse"}

// Provider implements tts.Synthesizer using the OpenAI API.
type Provider struct {
	client       oai.Client
	model        string
	instructions string
}

type config struct {
	baseURL      string
	organization string
	instructions string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithInstructions sets delivery instructions (e.g. "speak slowly and
// clearly") for models that accept them.
func WithInstructions(s string) Option {
	return func(c *config) {
		c.instructions = s
	}
}

// New constructs a new OpenAI speech Provider. If model is empty,
// DefaultModel is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	// Retries are owned by the caller, which knows about throttling.
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:       oai.NewClient(reqOpts...),
		model:        model,
		instructions: cfg.instructions,
	}, nil
}

// Synthesize implements tts.Synthesizer.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	if voice.ID == "" {
		return nil, errors.New("openai tts: voice.ID must not be empty")
	}
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          p.model,
		Voice:          oai.AudioSpeechNewParamsVoice(voice.ID),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.SpeedFactor > 0 && voice.SpeedFactor != 1 {
		params.Speed = param.NewOpt(voice.SpeedFactor)
	}
	if p.instructions != "" {
		params.Instructions = param.NewOpt(p.instructions)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai tts: synthesize: %w", classify(err))
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read body: %w", tts.ClassifyNetError(err))
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("openai tts: %w", tts.ErrEmptyAudio)
	}
	// An odd trailing byte cannot form a sample.
	pcm = pcm[:len(pcm)&^1]
	return audio.EncodeWAV(audio.Clip{
		Format: audio.Format{SampleRate: pcmRate, Channels: 1},
		PCM:    pcm,
	}), nil
}

// ListVoices returns the built-in voice catalogue.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	out := make([]tts.VoiceProfile, 0, len(knownVoices))
	for _, v := range knownVoices {
		out = append(out, tts.VoiceProfile{ID: v, Name: v, Provider: "openai"})
	}
	return out, nil
}

// classify maps API errors onto tts.StatusError so that rate limits and
// server errors are retried.
func classify(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return &tts.StatusError{Provider: "openai", StatusCode: apiErr.StatusCode, Body: apiErr.Message}
	}
	return tts.ClassifyNetError(err)
}
