package audio_test

import (
	"encoding/binary"
	"slices"
	"testing"

	"github.com/MrWong99/lingocast/pkg/audio"
)

func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestConvert(t *testing.T) {
	var (
		mono8k    = audio.Format{SampleRate: 8000, Channels: 1}
		mono16k   = audio.Format{SampleRate: 16000, Channels: 1}
		stereo8k  = audio.Format{SampleRate: 8000, Channels: 2}
		stereo16k = audio.Format{SampleRate: 16000, Channels: 2}
	)
	tests := []struct {
		name     string
		in       []byte
		from, to audio.Format
		want     []int16
	}{
		{"upmix", samplesToBytes([]int16{100, 200, 300}), mono8k, stereo8k, []int16{100, 100, 200, 200, 300, 300}},
		{"downmix", samplesToBytes([]int16{100, 200, -100, -200}), stereo8k, mono8k, []int16{150, -150}},
		{"downmix extremes", samplesToBytes([]int16{32767, 32767, -32768, -32768}), stereo8k, mono8k, []int16{32767, -32768}},
		{"upsample", samplesToBytes([]int16{0, 100}), mono8k, mono16k, []int16{0, 50, 100, 100}},
		{"downsample", samplesToBytes([]int16{0, 10, 20, 30}), mono16k, mono8k, []int16{0, 20}},
		{"upsample stereo", samplesToBytes([]int16{0, 1000, 100, 2000}), stereo8k, stereo16k, []int16{0, 1000, 50, 1500, 100, 2000, 100, 2000}},
		{"upsample and upmix", samplesToBytes([]int16{0, 100}), mono8k, stereo16k, []int16{0, 0, 50, 50, 100, 100, 100, 100}},
		{"downsample and downmix", samplesToBytes([]int16{10, 30, 50, 70, 90, 110, 130, 150}), stereo16k, mono8k, []int16{20, 100}},
		{"unknown source rate", samplesToBytes([]int16{1, 2}), audio.Format{Channels: 1}, mono8k, []int16{1, 2}},
		{"odd trailing byte", []byte{0x10, 0x00, 0xff}, mono8k, stereo8k, []int16{16, 16}},
		{"too short to resample", samplesToBytes([]int16{7}), audio.Format{SampleRate: 48000, Channels: 1}, mono8k, []int16{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bytesToSamples(audio.Convert(tt.in, tt.from, tt.to))
			if !slices.Equal(got, tt.want) {
				t.Errorf("Convert(%v -> %v) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestConvert_SameFormatIsNoOp(t *testing.T) {
	in := samplesToBytes([]int16{1, 2, 3})
	out := audio.Convert(in, audio.Format{SampleRate: 24000, Channels: 1}, audio.Format{SampleRate: 24000, Channels: 1})
	if &out[0] != &in[0] {
		t.Error("Convert copied pcm although the formats match")
	}
}

func TestFormat_String(t *testing.T) {
	for f, want := range map[audio.Format]string{
		{SampleRate: 24000, Channels: 1}: "24000Hz mono",
		{SampleRate: 48000, Channels: 2}: "48000Hz stereo",
		{SampleRate: 44100, Channels: 6}: "44100Hz 6ch",
	} {
		if got := f.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
