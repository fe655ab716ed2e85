package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/lingocast/pkg/audio"
)

func TestEncodeDecodeWAV(t *testing.T) {
	f := audio.Format{SampleRate: 24000, Channels: 1}
	pcm := samplesToBytes([]int16{1, -2, 3, -4, 5})
	wav := audio.EncodeWAV(audio.Clip{Format: f, PCM: pcm})

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	got, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if got.Format != f {
		t.Errorf("format = %v, want %v", got.Format, f)
	}
	if !bytes.Equal(got.PCM, pcm) {
		t.Errorf("pcm = %v, want %v", got.PCM, pcm)
	}
}

func TestDecodeWAV_ExtraChunkAndStreamingSize(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 2}
	pcm := samplesToBytes([]int16{10, 20, 30, 40})
	canonical := audio.EncodeWAV(audio.Clip{Format: f, PCM: pcm})

	// Insert an odd-sized LIST chunk between fmt and data, and mark the data
	// chunk size as unknown the way streaming writers do.
	var buf bytes.Buffer
	buf.Write(canonical[:36])
	buf.WriteString("LIST")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(3))
	buf.Write([]byte{'a', 'b', 'c', 0})
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0xFFFFFFFF))
	buf.Write(pcm)

	got, err := audio.DecodeWAV(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if !bytes.Equal(got.PCM, pcm) {
		t.Errorf("pcm = %v, want %v", got.PCM, pcm)
	}
}

func TestDecodeWAV_Errors(t *testing.T) {
	float32WAV := audio.EncodeWAV(audio.Clip{Format: audio.Format{SampleRate: 8000, Channels: 1}, PCM: []byte{0, 0}})
	binary.LittleEndian.PutUint16(float32WAV[20:22], 3)
	binary.LittleEndian.PutUint16(float32WAV[34:36], 32)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"mp3", []byte("ID3\x04\x00\x00\x00\x00\x00\x00\x00\x00\x00")},
		{"no data chunk", audio.EncodeWAV(audio.Clip{Format: audio.Format{SampleRate: 8000, Channels: 1}})[:36]},
		{"float samples", float32WAV},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := audio.DecodeWAV(tt.data); !errors.Is(err, audio.ErrUnsupported) {
				t.Errorf("err = %v, want ErrUnsupported", err)
			}
		})
	}
}
