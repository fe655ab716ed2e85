// Package coqui synthesizes speech with a self-hosted Coqui TTS server.
//
// The standard server (ghcr.io/coqui-ai/tts-cpu) is used by default. It is
// called with GET /api/tts and describes its model on GET /details. The XTTS
// v2 API server is selected with [WithAPIMode]([APIModeXTTS]); it takes a
// JSON body on POST /tts_to_audio/ and lists speakers on GET /studio_speakers.
//
// Both answer with a RIFF/WAVE file. Synthesize checks that it holds audio
// and resamples it when [WithOutputSampleRate] is set.
//
//	s, err := coqui.New("http://localhost:5002", coqui.WithLanguage("el"))
//	clip, err := s.Synthesize(ctx, "Καλημέρα", tts.VoiceProfile{ID: "p225"})
package coqui

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/lingocast/pkg/audio"
	"github.com/MrWong99/lingocast/pkg/provider/tts"
)

var (
	_ tts.Synthesizer = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

const (
	apiTTSPath         = "/api/tts"
	detailsPath        = "/details"
	xttsPath           = "/tts_to_audio/"
	studioSpeakersPath = "/studio_speakers"
)

// APIMode selects the Coqui server flavour.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

// Option configures a [Provider].
type Option func(*Provider)

// WithLanguage sets the language code sent with every phrase. Default: "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout bounds each HTTP request. Default: 60s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

// WithAPIMode selects the server API. Default: [APIModeStandard].
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.mode = mode }
}

// WithOutputSampleRate resamples every clip to rate Hz. 0 keeps the model's
// native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// api is the part of the protocol that differs between server flavours.
type api interface {
	request(ctx context.Context, base, language, text string, voice tts.VoiceProfile) (*http.Request, error)
	voices(ctx context.Context, p *Provider) ([]tts.VoiceProfile, error)
}

// Provider is a [tts.Synthesizer] for one Coqui server. It is safe for
// concurrent use.
type Provider struct {
	base       string
	language   string
	mode       APIMode
	api        api
	outputRate int
	client     *http.Client
}

// New creates a Provider for the server at serverURL, e.g.
// "http://localhost:5002".
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: server URL must not be empty")
	}
	p := &Provider{
		base:     strings.TrimRight(serverURL, "/"),
		language: "en",
		mode:     APIModeStandard,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.mode {
	case APIModeStandard:
		p.api = standardAPI{}
	case APIModeXTTS:
		p.api = xttsAPI{}
	default:
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.mode)
	}
	return p, nil
}

// Synthesize renders text as a WAV clip. The XTTS server needs a studio
// speaker in voice.ID; the standard server uses it only for multi-speaker
// models.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("coqui: text must not be empty")
	}
	req, err := p.api.request(ctx, p.base, p.language, text, voice)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, tts.ClassifyNetError(err))
	}
	defer resp.Body.Close()
	if err := tts.CheckResponse("coqui", resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read audio: %w", tts.ClassifyNetError(err))
	}
	return p.resample(body)
}

func (p *Provider) resample(wav []byte) ([]byte, error) {
	clip, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	if len(clip.PCM) == 0 {
		return nil, fmt.Errorf("coqui: %w", tts.ErrEmptyAudio)
	}
	if p.outputRate <= 0 || p.outputRate == clip.Format.SampleRate {
		return wav, nil
	}
	to := audio.Format{SampleRate: p.outputRate, Channels: clip.Format.Channels}
	return audio.EncodeWAV(audio.Clip{Format: to, PCM: audio.Convert(clip.PCM, clip.Format, to)}), nil
}

// ListVoices returns the speakers the server offers, sorted by ID. A
// single-speaker standard model is reported as one voice named after the
// model.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return p.api.voices(ctx, p)
}

func (p *Provider) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.base+path, nil)
	if err != nil {
		return fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", path, tts.ClassifyNetError(err))
	}
	defer resp.Body.Close()
	if err := tts.CheckResponse("coqui", resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", path, err)
	}
	return nil
}

func voice(id, kind, model string) tts.VoiceProfile {
	v := tts.VoiceProfile{ID: id, Name: id, Provider: "coqui", Metadata: map[string]string{"type": kind}}
	if model != "" {
		v.Metadata["model_name"] = model
	}
	return v
}

type standardAPI struct{}

func (standardAPI) request(ctx context.Context, base, language, text string, v tts.VoiceProfile) (*http.Request, error) {
	q := url.Values{"text": {text}}
	if v.ID != "" {
		q.Set("speaker_id", v.ID)
	}
	if language != "" {
		q.Set("language_id", language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+apiTTSPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	return req, nil
}

// details is the body of GET /details. Speakers is empty for single-speaker
// models.
type details struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

func (standardAPI) voices(ctx context.Context, p *Provider) ([]tts.VoiceProfile, error) {
	var d details
	if err := p.getJSON(ctx, detailsPath, &d); err != nil {
		return nil, err
	}
	if len(d.Speakers) == 0 {
		model := cmp.Or(d.ModelName, "default")
		return []tts.VoiceProfile{voice(model, "single-speaker", model)}, nil
	}
	out := make([]tts.VoiceProfile, 0, len(d.Speakers))
	for _, s := range slices.Sorted(slices.Values(d.Speakers)) {
		out = append(out, voice(s, "speaker", d.ModelName))
	}
	return out, nil
}

type xttsAPI struct{}

// xttsBody is the JSON body of POST /tts_to_audio/.
type xttsBody struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

func (xttsAPI) request(ctx context.Context, base, language, text string, v tts.VoiceProfile) (*http.Request, error) {
	if v.ID == "" {
		return nil, errors.New("coqui: the xtts server needs a speaker in voice.ID")
	}
	body, err := json.Marshal(xttsBody{Text: text, SpeakerWav: v.ID, Language: language})
	if err != nil {
		return nil, fmt.Errorf("coqui: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+xttsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (xttsAPI) voices(ctx context.Context, p *Provider) ([]tts.VoiceProfile, error) {
	var speakers map[string]json.RawMessage
	if err := p.getJSON(ctx, studioSpeakersPath, &speakers); err != nil {
		return nil, err
	}
	out := make([]tts.VoiceProfile, 0, len(speakers))
	for _, name := range slices.Sorted(maps.Keys(speakers)) {
		out = append(out, voice(name, "studio", ""))
	}
	return out, nil
}
