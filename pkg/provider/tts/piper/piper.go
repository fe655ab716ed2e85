// Package piper implements tts.Synthesizer against a Piper server speaking
// the Wyoming protocol (for example the rhasspy/wyoming-piper container on
// TCP port 10200).
//
// Each Wyoming event is a JSON header line followed by optional extra data
// and an optional binary payload:
//
//	{"type":"audio-chunk","data_length":42,"payload_length":1024}\n
//	<data_length bytes of JSON merged into the header's data>
//	<payload_length bytes of payload>
//
// A synthesis request is one "synthesize" event; the server answers with
// audio-start, any number of audio-chunk events, and audio-stop. A "describe"
// event is answered with "info", which lists the installed voices.
package piper

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/lingocast/pkg/audio"
	"github.com/MrWong99/lingocast/pkg/provider/tts"
)

var (
	_ tts.Synthesizer = (*Synthesizer)(nil)
	_ tts.VoiceLister = (*Synthesizer)(nil)
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultIOTimeout   = 60 * time.Second

	// maxHeaderBytes bounds a single header line.
	maxHeaderBytes = 64 << 10
)

// Option is a functional option for Synthesizer.
type Option func(*Synthesizer)

// WithSpeaker selects a speaker within a multi-speaker voice model.
func WithSpeaker(name string) Option {
	return func(s *Synthesizer) {
		s.speaker = name
	}
}

// WithTimeout bounds each request when the context carries no deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) {
		s.ioTimeout = d
	}
}

// Synthesizer talks to a single Wyoming endpoint. Connections are per
// request, so it is safe for concurrent use.
type Synthesizer struct {
	endpoint  string
	speaker   string
	ioTimeout time.Duration
	dialer    net.Dialer
}

// New creates a Synthesizer for the Wyoming server at endpoint ("host:port",
// optionally prefixed with tcp://).
func New(endpoint string, opts ...Option) (*Synthesizer, error) {
	endpoint = strings.TrimPrefix(endpoint, "tcp://")
	if endpoint == "" {
		return nil, errors.New("piper: endpoint must not be empty")
	}
	s := &Synthesizer{
		endpoint:  endpoint,
		ioTimeout: defaultIOTimeout,
		dialer:    net.Dialer{Timeout: defaultDialTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Synthesize sends text to the Piper server and returns the audio as WAV.
// The voice ID is the Piper model name (e.g. "de_DE-thorsten-medium").
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("piper: text must not be empty")
	}

	req := event{Type: "synthesize", Data: map[string]any{"text": text}}
	if v := voiceData(voice.ID, s.speaker); v != nil {
		req.Data["voice"] = v
	}
	var clip audio.Clip
	err := s.exchange(ctx, req, func(r *bufio.Reader) (err error) {
		clip, err = readAudio(r)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("piper: %w", err)
	}
	if len(clip.PCM) == 0 {
		return nil, fmt.Errorf("piper: %w", tts.ErrEmptyAudio)
	}
	slog.Debug("piper synthesized", "voice", voice.ID, "bytes", len(clip.PCM), "format", clip.Format.String())
	return audio.EncodeWAV(clip), nil
}

// ListVoices asks the server to describe itself and returns the voices of
// every TTS program it reports.
func (s *Synthesizer) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	var desc info
	err := s.exchange(ctx, event{Type: "describe"}, func(r *bufio.Reader) (err error) {
		desc, err = readInfo(r)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("piper: list voices: %w", err)
	}
	var voices []tts.VoiceProfile
	for _, prog := range desc.TTS {
		for _, v := range prog.Voices {
			speakers := make([]string, 0, len(v.Speakers))
			for _, sp := range v.Speakers {
				speakers = append(speakers, sp.Name)
			}
			voices = append(voices, tts.VoiceProfile{
				ID:       v.Name,
				Name:     cmp.Or(v.Description, v.Name),
				Provider: "piper",
				Metadata: map[string]string{
					"languages": strings.Join(v.Languages, ","),
					"speakers":  strings.Join(speakers, ","),
					"installed": strconv.FormatBool(v.Installed),
				},
			})
		}
	}
	return voices, nil
}

// exchange sends req on a fresh connection and hands the reply stream to
// read. The connection deadline follows ctx, or the I/O timeout without one.
func (s *Synthesizer) exchange(ctx context.Context, req event, read func(*bufio.Reader) error) error {
	conn, err := s.dialer.DialContext(ctx, "tcp", s.endpoint)
	if err != nil {
		return fmt.Errorf("connect: %w", tts.ClassifyNetError(err))
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(s.ioTimeout))
	}
	// Unblock pending reads when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := writeEvent(conn, req, nil); err != nil {
		return wrapIO(ctx, "send "+req.Type, err)
	}
	if err := read(bufio.NewReader(conn)); err != nil {
		return wrapIO(ctx, "read", err)
	}
	return nil
}

func wrapIO(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	// The socket deadline mirrors ctx's and may fire before ctx's own timer.
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
	}
	return fmt.Errorf("%s: %w", op, tts.ClassifyNetError(err))
}

func voiceData(name, speaker string) map[string]any {
	if name == "" && speaker == "" {
		return nil
	}
	v := map[string]any{}
	if name != "" {
		v["name"] = name
	}
	if speaker != "" {
		v["speaker"] = speaker
	}
	return v
}

// serverError is an "error" event sent by the server. It is not transient.
type serverError struct{ text string }

func (e *serverError) Error() string { return "server error: " + e.text }

// readAudio consumes events until audio-stop and returns the collected PCM.
func readAudio(r *bufio.Reader) (audio.Clip, error) {
	clip := audio.Clip{Format: audio.Format{SampleRate: 22050, Channels: 1}}
	started := false
	for {
		evt, payload, err := readEvent(r)
		if err != nil {
			return audio.Clip{}, err
		}
		switch evt.Type {
		case "audio-start":
			f, err := formatOf(evt.Data, clip.Format)
			if err != nil {
				return audio.Clip{}, err
			}
			clip.Format = f
			started = true
		case "audio-chunk":
			if !started {
				f, err := formatOf(evt.Data, clip.Format)
				if err != nil {
					return audio.Clip{}, err
				}
				clip.Format = f
				started = true
			}
			clip.PCM = append(clip.PCM, payload...)
		case "audio-stop":
			return clip, nil
		case "error":
			msg, _ := evt.Data["text"].(string)
			return audio.Clip{}, &serverError{text: cmp.Or(msg, "unknown error")}
		}
	}
}

// info is the data of a Wyoming "info" event, reduced to the TTS programs.
type info struct {
	TTS []struct {
		Name   string `json:"name"`
		Voices []struct {
			Name        string   `json:"name"`
			Description string   `json:"description"`
			Installed   bool     `json:"installed"`
			Languages   []string `json:"languages"`
			Speakers    []struct {
				Name string `json:"name"`
			} `json:"speakers"`
		} `json:"voices"`
	} `json:"tts"`
}

// readInfo skips events until the server's info or error event.
func readInfo(r *bufio.Reader) (info, error) {
	for {
		evt, _, err := readEvent(r)
		if err != nil {
			return info{}, err
		}
		switch evt.Type {
		case "info":
			raw, err := json.Marshal(evt.Data)
			if err != nil {
				return info{}, err
			}
			var desc info
			if err := json.Unmarshal(raw, &desc); err != nil {
				return info{}, fmt.Errorf("decode info: %w", err)
			}
			return desc, nil
		case "error":
			msg, _ := evt.Data["text"].(string)
			return info{}, &serverError{text: cmp.Or(msg, "unknown error")}
		}
	}
}

// formatOf reads rate, width, and channels from an audio event. Only 16-bit
// samples are supported.
func formatOf(data map[string]any, def audio.Format) (audio.Format, error) {
	f := def
	if v, ok := data["rate"].(float64); ok {
		f.SampleRate = int(v)
	}
	if v, ok := data["channels"].(float64); ok {
		f.Channels = int(v)
	}
	if v, ok := data["width"].(float64); ok && int(v) != 2 {
		return audio.Format{}, fmt.Errorf("sample width %d: %w", int(v), audio.ErrUnsupported)
	}
	if !f.Valid() {
		return audio.Format{}, fmt.Errorf("format %s: %w", f, audio.ErrUnsupported)
	}
	return f, nil
}

// ---- Wyoming framing ----

type event struct {
	Type          string         `json:"type"`
	Data          map[string]any `json:"data,omitempty"`
	DataLength    int            `json:"data_length,omitempty"`
	PayloadLength int            `json:"payload_length,omitempty"`
}

// writeEvent sends evt with its data block and payload.
func writeEvent(w io.Writer, evt event, payload []byte) error {
	var data []byte
	if len(evt.Data) > 0 {
		var err error
		if data, err = json.Marshal(evt.Data); err != nil {
			return fmt.Errorf("marshal data: %w", err)
		}
	}
	header, err := json.Marshal(event{
		Type:          evt.Type,
		DataLength:    len(data),
		PayloadLength: len(payload),
	})
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	buf := make([]byte, 0, len(header)+1+len(data)+len(payload))
	buf = append(buf, header...)
	buf = append(buf, '\n')
	buf = append(buf, data...)
	buf = append(buf, payload...)
	_, err = w.Write(buf)
	return err
}

// readEvent reads one event. Data sent inline in the header and data sent
// as a separate block are merged, the block taking precedence.
func readEvent(r *bufio.Reader) (event, []byte, error) {
	line, err := readLine(r)
	if err != nil {
		return event{}, nil, err
	}
	var evt event
	if err := json.Unmarshal(line, &evt); err != nil {
		return event{}, nil, fmt.Errorf("decode header: %w", err)
	}
	if evt.DataLength < 0 || evt.PayloadLength < 0 {
		return event{}, nil, fmt.Errorf("negative length in header %q", line)
	}
	if evt.DataLength > 0 {
		raw := make([]byte, evt.DataLength)
		if _, err := io.ReadFull(r, raw); err != nil {
			return event{}, nil, fmt.Errorf("read data: %w", err)
		}
		extra := map[string]any{}
		if err := json.Unmarshal(raw, &extra); err != nil {
			return event{}, nil, fmt.Errorf("decode data: %w", err)
		}
		if evt.Data == nil {
			evt.Data = extra
		} else {
			for k, v := range extra {
				evt.Data[k] = v
			}
		}
	}
	var payload []byte
	if evt.PayloadLength > 0 {
		payload = make([]byte, evt.PayloadLength)
		if _, err := io.ReadFull(r, payload); err != nil {
			return event{}, nil, fmt.Errorf("read payload: %w", err)
		}
	}
	return evt, payload, nil
}

func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > maxHeaderBytes {
			return nil, fmt.Errorf("header exceeds %d bytes", maxHeaderBytes)
		}
		if !isPrefix {
			return line, nil
		}
	}
}
