package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/lingocast/pkg/audio"
	"github.com/MrWong99/lingocast/pkg/provider/tts"
)

// wav16k wraps pcm in a 16 kHz mono WAV file.
func wav16k(pcm []byte) []byte {
	return audio.EncodeWAV(audio.Clip{Format: audio.Format{SampleRate: 16000, Channels: 1}, PCM: pcm})
}

func newProvider(t *testing.T, url string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(url, opts...)
	if err != nil {
		t.Fatalf("New(%q): %v", url, err)
	}
	return p
}

func TestNew(t *testing.T) {
	p := newProvider(t, "http://localhost:5002/")
	if p.base != "http://localhost:5002" || p.language != "en" || p.mode != APIModeStandard {
		t.Errorf("defaults = %q %q %q", p.base, p.language, p.mode)
	}
	if _, ok := p.api.(standardAPI); !ok {
		t.Errorf("api = %T, want standardAPI", p.api)
	}
	if p.client.Timeout != 60*time.Second {
		t.Errorf("timeout = %v", p.client.Timeout)
	}

	for name, args := range map[string]struct {
		url  string
		opts []Option
	}{
		"empty url":    {"", nil},
		"unknown mode": {"http://x", []Option{WithAPIMode("v3")}},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := New(args.url, args.opts...); err == nil {
				t.Error("New succeeded")
			}
		})
	}
}

func TestSynthesize_Requests(t *testing.T) {
	clip := wav16k(bytes.Repeat([]byte{0x33}, 80))

	t.Run("standard", func(t *testing.T) {
		var got *http.Request
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r
			w.Write(clip)
		}))
		defer srv.Close()

		out, err := newProvider(t, srv.URL, WithLanguage("el")).Synthesize(context.Background(), "Καλημέρα.", tts.VoiceProfile{ID: "p225"})
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if !bytes.Equal(out, clip) {
			t.Error("clip differs from the server's WAV")
		}
		if got.Method != http.MethodGet || got.URL.Path != apiTTSPath {
			t.Errorf("request = %s %s", got.Method, got.URL.Path)
		}
		q := got.URL.Query()
		if q.Get("text") != "Καλημέρα." || q.Get("speaker_id") != "p225" || q.Get("language_id") != "el" {
			t.Errorf("query = %v", q)
		}
	})

	t.Run("standard without speaker", func(t *testing.T) {
		var query string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query = r.URL.RawQuery
			w.Write(clip)
		}))
		defer srv.Close()

		if _, err := newProvider(t, srv.URL).Synthesize(context.Background(), "Hi", tts.VoiceProfile{}); err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if strings.Contains(query, "speaker_id") {
			t.Errorf("query %q has a speaker_id", query)
		}
	})

	t.Run("xtts", func(t *testing.T) {
		var got xttsBody
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != xttsPath {
				http.NotFound(w, r)
				return
			}
			json.NewDecoder(r.Body).Decode(&got)
			w.Write(clip)
		}))
		defer srv.Close()

		p := newProvider(t, srv.URL, WithAPIMode(APIModeXTTS), WithLanguage("fr"))
		if _, err := p.Synthesize(context.Background(), "Très bien", tts.VoiceProfile{ID: "Claribel Dervla"}); err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if want := (xttsBody{Text: "Très bien", SpeakerWav: "Claribel Dervla", Language: "fr"}); got != want {
			t.Errorf("body = %+v, want %+v", got, want)
		}
		if _, err := p.Synthesize(context.Background(), "Très bien", tts.VoiceProfile{}); err == nil {
			t.Error("xtts accepted an empty speaker")
		}
	})

	t.Run("blank text", func(t *testing.T) {
		if _, err := newProvider(t, "http://127.0.0.1:1").Synthesize(context.Background(), "  ", tts.VoiceProfile{}); err == nil {
			t.Error("blank text accepted")
		}
	})
}

func TestSynthesize_Resamples(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(wav16k(make([]byte, 16000*2)))
	}))
	defer srv.Close()

	out, err := newProvider(t, srv.URL, WithOutputSampleRate(24000)).Synthesize(context.Background(), "hello", tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	c, err := audio.DecodeWAV(out)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if c.Format.SampleRate != 24000 || c.DurationMs() != 1000 {
		t.Errorf("clip = %d Hz, %d ms; want 24000 Hz, 1000 ms", c.Format.SampleRate, c.DurationMs())
	}
}

func TestSynthesize_Errors(t *testing.T) {
	tests := []struct {
		name          string
		handler       http.HandlerFunc
		wantTransient bool
	}{
		{"rate limited", func(w http.ResponseWriter, _ *http.Request) { http.Error(w, "busy", http.StatusTooManyRequests) }, true},
		{"server error", func(w http.ResponseWriter, _ *http.Request) { http.Error(w, "oom", http.StatusInternalServerError) }, true},
		{"unknown speaker", func(w http.ResponseWriter, _ *http.Request) { http.Error(w, "unknown speaker", http.StatusBadRequest) }, false},
		{"empty audio", func(w http.ResponseWriter, _ *http.Request) { w.Write(wav16k(nil)) }, true},
		{"not a wav", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("<html>")) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newProvider(t, srv.URL).Synthesize(context.Background(), "hello", tts.VoiceProfile{})
			if err == nil {
				t.Fatal("Synthesize succeeded")
			}
			if tts.IsTransient(err) != tt.wantTransient {
				t.Errorf("IsTransient(%v) = %v, want %v", err, !tt.wantTransient, tt.wantTransient)
			}
			if !strings.HasPrefix(err.Error(), "coqui") {
				t.Errorf("error %q does not name the provider", err)
			}
		})
	}
}

func TestSynthesize_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newProvider(t, url, WithTimeout(time.Second)).Synthesize(context.Background(), "hello", tts.VoiceProfile{})
	if !tts.IsTransient(err) {
		t.Errorf("err = %v, want transient", err)
	}
}

func TestSynthesize_Cancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newProvider(t, srv.URL).Synthesize(ctx, "hello", tts.VoiceProfile{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestListVoices(t *testing.T) {
	tests := []struct {
		name     string
		mode     APIMode
		path     string
		body     any
		wantIDs  []string
		wantType string
	}{
		{
			name:     "xtts studio speakers",
			mode:     APIModeXTTS,
			path:     studioSpeakersPath,
			body:     map[string]any{"speaker_bob": map[string]any{}, "speaker_alice": map[string]any{}},
			wantIDs:  []string{"speaker_alice", "speaker_bob"},
			wantType: "studio",
		},
		{
			name:     "multi-speaker model",
			mode:     APIModeStandard,
			path:     detailsPath,
			body:     details{ModelName: "tts_models/en/vctk/vits", Speakers: []string{"p226", "p225"}},
			wantIDs:  []string{"p225", "p226"},
			wantType: "speaker",
		},
		{
			name:     "single-speaker model",
			mode:     APIModeStandard,
			path:     detailsPath,
			body:     details{ModelName: "tts_models/el/cv/vits"},
			wantIDs:  []string{"tts_models/el/cv/vits"},
			wantType: "single-speaker",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != tt.path {
					http.NotFound(w, r)
					return
				}
				json.NewEncoder(w).Encode(tt.body)
			}))
			defer srv.Close()

			voices, err := newProvider(t, srv.URL, WithAPIMode(tt.mode)).ListVoices(context.Background())
			if err != nil {
				t.Fatalf("ListVoices: %v", err)
			}
			var ids []string
			for _, v := range voices {
				ids = append(ids, v.ID)
				if v.Metadata["type"] != tt.wantType || v.Provider != "coqui" {
					t.Errorf("voice %q = %+v", v.ID, v)
				}
			}
			if strings.Join(ids, ",") != strings.Join(tt.wantIDs, ",") {
				t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
			}
		})
	}
}

func TestListVoices_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newProvider(t, srv.URL).ListVoices(context.Background())
	if err == nil || !strings.HasPrefix(err.Error(), "coqui") {
		t.Errorf("err = %v, want a coqui error", err)
	}
}
