package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrUnsupported is returned when a clip is not a 16-bit PCM RIFF/WAVE file.
var ErrUnsupported = errors.New("audio: unsupported clip encoding")

// Clip is a decoded 16-bit little-endian PCM clip.
type Clip struct {
	Format Format
	PCM    []byte
}

// DurationMs returns the clip length in milliseconds, rounded to the nearest
// millisecond.
func (c Clip) DurationMs() int {
	return DurationMs(c.Format, len(c.PCM))
}

// DecodeWAV walks the RIFF chunks of data and returns its PCM payload. Only
// uncompressed 16-bit PCM is accepted. The chunk walk tolerates fmt chunks of
// any size and streaming writers that leave the data size at 0xFFFFFFFF.
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) < 12 {
		return Clip{}, fmt.Errorf("%w: %d bytes is too short for a RIFF header", ErrUnsupported, len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Clip{}, fmt.Errorf("%w: missing RIFF/WAVE identifier", ErrUnsupported)
	}

	var (
		c        Clip
		foundFmt bool
	)
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || body+16 > len(data) {
				return Clip{}, fmt.Errorf("%w: truncated fmt chunk", ErrUnsupported)
			}
			tag := binary.LittleEndian.Uint16(data[body : body+2])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			// 0xFFFE is WAVE_FORMAT_EXTENSIBLE; its sub-format is PCM for every
			// writer we accept clips from.
			if (tag != 1 && tag != 0xFFFE) || bits != 16 {
				return Clip{}, fmt.Errorf("%w: format tag %d with %d bits per sample", ErrUnsupported, tag, bits)
			}
			c.Format.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			c.Format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			if !c.Format.Valid() {
				return Clip{}, fmt.Errorf("%w: %s", ErrUnsupported, c.Format)
			}
			foundFmt = true
		case "data":
			if !foundFmt {
				return Clip{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrUnsupported)
			}
			end := body + chunkSize
			if chunkSize < 0 || end > len(data) {
				end = len(data)
			}
			pcm := data[body:end]
			pcm = pcm[:len(pcm)-len(pcm)%c.Format.frameBytes()]
			c.PCM = pcm
			return c, nil
		}

		offset = body + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return Clip{}, fmt.Errorf("%w: missing data chunk", ErrUnsupported)
}

// EncodeWAV wraps c in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(c Clip) []byte {
	const headerSize = 44
	dataLen := len(c.PCM)
	out := make([]byte, headerSize+dataLen)

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataLen))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1)
	binary.LittleEndian.PutUint16(out[22:24], uint16(c.Format.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(c.Format.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(c.Format.SampleRate*c.Format.frameBytes()))
	binary.LittleEndian.PutUint16(out[32:34], uint16(c.Format.frameBytes()))
	binary.LittleEndian.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataLen))
	copy(out[headerSize:], c.PCM)
	return out
}
