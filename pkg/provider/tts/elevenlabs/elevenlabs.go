// Package elevenlabs provides an ElevenLabs-backed Synthesizer using the
// ElevenLabs stream-input WebSocket API.
//
// Each Synthesize call opens one WebSocket, sends the phrase followed by an
// end-of-input marker, and collects the base64 PCM chunks until the server
// reports the final message. The PCM is returned wrapped in a WAV container
// whose sample rate is taken from the configured output format.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/lingocast/pkg/audio"
	"github.com/MrWong99/lingocast/pkg/provider/tts"
)

var (
	_ tts.Synthesizer = (*Provider)(nil)
	_ tts.VoiceLister = (*Provider)(nil)
)

const (
	defaultWSBase    = "wss://api.elevenlabs.io"
	defaultHTTPBase  = "https://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_24000"

	// readLimit bounds a single WebSocket message. Chunks are base64 PCM and
	// can be considerably larger than the library default of 32 KiB.
	readLimit = 4 << 20
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_multilingual_v2").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat sets the PCM output format (e.g., "pcm_16000", "pcm_24000").
// Only pcm_* formats are accepted.
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// WithBaseURL overrides the API host. Both the WebSocket and the REST
// endpoints are derived from it; an http(s) URL maps to ws(s) for streaming.
func WithBaseURL(base string) Option {
	return func(p *Provider) {
		base = strings.TrimRight(base, "/")
		switch {
		case strings.HasPrefix(base, "https://"):
			p.httpBase, p.wsBase = base, "wss://"+strings.TrimPrefix(base, "https://")
		case strings.HasPrefix(base, "http://"):
			p.httpBase, p.wsBase = base, "ws://"+strings.TrimPrefix(base, "http://")
		default:
			p.httpBase, p.wsBase = base, base
		}
	}
}

// WithLanguage sets the ISO 639-1 language_code of the stream. Only
// multilingual models honour it.
func WithLanguage(code string) Option {
	return func(p *Provider) { p.language = code }
}

// WithVoiceSettings sets the stability and similarity boost sent with each
// phrase.
func WithVoiceSettings(stability, similarityBoost float64) Option {
	return func(p *Provider) {
		p.settings = voiceSettings{Stability: stability, SimilarityBoost: similarityBoost}
	}
}

// WithHTTPClient replaces the HTTP client used for the REST endpoints and the
// WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider synthesizes phrases over the ElevenLabs stream-input WebSocket.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	language     string
	sampleRate   int
	settings     voiceSettings
	wsBase       string
	httpBase     string
	httpClient   *http.Client
}

// New creates a Provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		settings:     voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		wsBase:       defaultWSBase,
		httpBase:     defaultHTTPBase,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	rate, err := parsePCMRate(p.outputFormat)
	if err != nil {
		return nil, err
	}
	p.sampleRate = rate
	return p, nil
}

// inputMessage is one client message of the stream-input protocol.
type inputMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
	Flush         bool           `json:"flush,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// outputMessage is one server message. Audio holds base64 PCM.
type outputMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Synthesize renders text with the given voice and returns a WAV clip.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}

	conn, resp, err := websocket.Dial(ctx, p.streamURL(voice.ID), &websocket.DialOptions{
		HTTPClient: p.httpClient,
		HTTPHeader: http.Header{"xi-api-key": []string{p.apiKey}},
	})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, fmt.Errorf("elevenlabs: dial: %w", &tts.StatusError{Provider: "elevenlabs", StatusCode: resp.StatusCode})
		}
		return nil, fmt.Errorf("elevenlabs: dial: %w", tts.ClassifyNetError(err))
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	vs := p.settings
	if voice.SpeedFactor > 0 && voice.SpeedFactor != 1 {
		vs.Speed = voice.SpeedFactor
	}
	// The first message must carry a single space; the phrase follows with
	// flush so the server renders it without waiting for more input, and the
	// empty text closes the input stream.
	msgs := []inputMessage{
		{Text: " ", VoiceSettings: &vs, XiAPIKey: p.apiKey},
		{Text: text + " ", Flush: true},
		{Text: ""},
	}
	for _, m := range msgs {
		if err := writeJSON(ctx, conn, m); err != nil {
			return nil, fmt.Errorf("elevenlabs: send: %w", tts.ClassifyNetError(err))
		}
	}

	pcm, err := collectPCM(ctx, conn)
	if err != nil {
		return nil, err
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	if len(pcm) == 0 {
		return nil, fmt.Errorf("elevenlabs: %w", tts.ErrEmptyAudio)
	}
	return audio.EncodeWAV(audio.Clip{
		Format: audio.Format{SampleRate: p.sampleRate, Channels: 1},
		PCM:    pcm,
	}), nil
}

// collectPCM reads messages until the server marks the final one or closes
// the connection normally.
func collectPCM(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var pcm []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return pcm, nil
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", classifyCloseError(err))
		}
		var resp outputMessage
		if err := json.Unmarshal(msg, &resp); err != nil {
			return nil, fmt.Errorf("elevenlabs: decode message: %w", err)
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("elevenlabs: server error %q: %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if resp.IsFinal {
			return pcm, nil
		}
	}
}

// classifyCloseError marks abnormal closures as transient. Policy violations
// (bad key, unknown voice, quota) are fatal.
func classifyCloseError(err error) error {
	switch websocket.CloseStatus(err) {
	case websocket.StatusPolicyViolation, websocket.StatusUnsupportedData, websocket.StatusInvalidFramePayloadData:
		return err
	case -1:
		return tts.ClassifyNetError(err)
	default:
		return tts.Transient(err)
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (p *Provider) streamURL(voiceID string) string {
	q := url.Values{"model_id": {p.model}, "output_format": {p.outputFormat}}
	if p.language != "" {
		q.Set("language_code", p.language)
	}
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", p.wsBase, url.PathEscape(voiceID), q.Encode())
}

// parsePCMRate extracts the sample rate from a "pcm_<rate>" format name.
func parsePCMRate(format string) (int, error) {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: output format %q is not a pcm_* format", format)
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: output format %q has no valid sample rate", format)
	}
	return rate, nil
}

type voiceList struct {
	Voices []struct {
		VoiceID  string            `json:"voice_id"`
		Name     string            `json:"name"`
		Category string            `json:"category"`
		Labels   map[string]string `json:"labels"`
	} `json:"voices"`
}

// ListVoices returns the voices of the account, with their labels (accent,
// gender, age) and category as metadata.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.httpBase+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", tts.ClassifyNetError(err))
	}
	defer resp.Body.Close()
	if err := tts.CheckResponse("elevenlabs", resp); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}

	var list voiceList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: decode: %w", err)
	}
	out := make([]tts.VoiceProfile, 0, len(list.Voices))
	for _, v := range list.Voices {
		meta := maps.Clone(v.Labels)
		if meta == nil {
			meta = map[string]string{}
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		out = append(out, tts.VoiceProfile{ID: v.VoiceID, Name: v.Name, Provider: "elevenlabs", Metadata: meta})
	}
	return out, nil
}
