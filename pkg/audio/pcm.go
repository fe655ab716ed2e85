package audio

import (
	"encoding/binary"
	"math"
)

// sampleAt returns the i-th little-endian int16 sample of pcm.
func sampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

// putSample writes s as the i-th little-endian int16 sample of pcm.
func putSample(pcm []byte, i int, s int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
}

// clamp16 saturates v to the int16 range.
func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// DurationMs returns the length in milliseconds of n bytes of PCM in format f,
// rounded to the nearest millisecond.
func DurationMs(f Format, n int) int {
	if !f.Valid() {
		return 0
	}
	frames := int64(n / f.frameBytes())
	return int((frames*1000 + int64(f.SampleRate)/2) / int64(f.SampleRate))
}

// framesFor returns the number of frames covering ms milliseconds in format f.
func framesFor(f Format, ms int) int {
	return int(int64(ms) * int64(f.SampleRate) / 1000)
}

// Silence returns ms milliseconds of digital silence in format f.
func Silence(f Format, ms int) []byte {
	if ms <= 0 || !f.Valid() {
		return nil
	}
	return make([]byte, framesFor(f, ms)*f.frameBytes())
}

// PeakDB returns the peak absolute sample level of pcm in dBFS, relative to
// a full-scale int16 sample. All-zero or empty input returns math.Inf(-1).
func PeakDB(pcm []byte) float64 {
	var peak int32
	for i := range len(pcm) / 2 {
		s := int32(sampleAt(pcm, i))
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	if peak == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(float64(peak)/32768)
}

// PCMOverlay is a decoded overlay already converted to the base format.
type PCMOverlay struct {
	PCM     []byte
	DelayMs int
}

// MixPCM sums base and every overlay in format f in one pass. Each overlay
// starts at its delay; samples are summed in int32 and clamped to int16. The
// result is as long as the longest input.
func MixPCM(f Format, base []byte, overlays []PCMOverlay) []byte {
	fb := f.frameBytes()
	total := len(base) / 2
	for _, o := range overlays {
		end := framesFor(f, o.DelayMs)*f.Channels + len(o.PCM)/2
		total = max(total, end)
	}
	total -= total % (fb / 2)

	acc := make([]int32, total)
	for i := range len(base) / 2 {
		acc[i] = int32(sampleAt(base, i))
	}
	for _, o := range overlays {
		start := framesFor(f, o.DelayMs) * f.Channels
		for i := range len(o.PCM) / 2 {
			if start+i >= total {
				break
			}
			acc[start+i] += int32(sampleAt(o.PCM, i))
		}
	}

	out := make([]byte, total*2)
	for i, v := range acc {
		putSample(out, i, clamp16(v))
	}
	return out
}
