package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/lingocast/pkg/audio"
)

func TestDurationMs(t *testing.T) {
	tests := []struct {
		name  string
		f     audio.Format
		bytes int
		want  int
	}{
		{"one second mono", audio.Format{SampleRate: 24000, Channels: 1}, 48000, 1000},
		{"one second stereo", audio.Format{SampleRate: 48000, Channels: 2}, 192000, 1000},
		{"rounds to nearest", audio.Format{SampleRate: 22050, Channels: 1}, 2 * 11036, 500},
		{"invalid format", audio.Format{}, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := audio.DurationMs(tt.f, tt.bytes); got != tt.want {
				t.Errorf("DurationMs = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSilence(t *testing.T) {
	f := audio.Format{SampleRate: 24000, Channels: 1}
	s := audio.Silence(f, 250)
	if len(s) != 24*250*2 {
		t.Fatalf("len = %d, want %d", len(s), 24*250*2)
	}
	if got := audio.DurationMs(f, len(s)); got != 250 {
		t.Errorf("duration = %d, want 250", got)
	}
	if audio.Silence(f, 0) != nil {
		t.Error("zero-length silence should be nil")
	}
}

func TestPeakDB(t *testing.T) {
	if got := audio.PeakDB(samplesToBytes([]int16{0, 0, 0})); !math.IsInf(got, -1) {
		t.Errorf("silence peak = %v, want -Inf", got)
	}
	full := audio.PeakDB(samplesToBytes([]int16{0, -32768, 10}))
	if math.Abs(full) > 1e-9 {
		t.Errorf("full-scale peak = %v, want 0", full)
	}
	half := audio.PeakDB(samplesToBytes([]int16{16384}))
	if math.Abs(half-(-6.0206)) > 0.01 {
		t.Errorf("half-scale peak = %v, want ≈ -6.02", half)
	}
}

func TestMixPCM(t *testing.T) {
	f := audio.Format{SampleRate: 1000, Channels: 1} // 1 frame per ms
	base := samplesToBytes([]int16{1, 1, 1, 1})
	got := bytesToSamples(audio.MixPCM(f, base, []audio.PCMOverlay{
		{PCM: samplesToBytes([]int16{10, 10}), DelayMs: 1},
		{PCM: samplesToBytes([]int16{100, 100, 100}), DelayMs: 3},
	}))
	want := []int16{1, 11, 11, 101, 100, 100}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMixPCM_Clamps(t *testing.T) {
	f := audio.Format{SampleRate: 1000, Channels: 1}
	got := bytesToSamples(audio.MixPCM(f,
		samplesToBytes([]int16{30000, -30000}),
		[]audio.PCMOverlay{{PCM: samplesToBytes([]int16{30000, -30000})}},
	))
	if got[0] != 32767 || got[1] != -32768 {
		t.Errorf("got %v, want [32767 -32768]", got)
	}
}

func TestMixPCM_NoOverlaysCopiesBase(t *testing.T) {
	f := audio.Format{SampleRate: 1000, Channels: 2}
	base := samplesToBytes([]int16{5, 6, 7, 8})
	got := bytesToSamples(audio.MixPCM(f, base, nil))
	want := []int16{5, 6, 7, 8}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}
