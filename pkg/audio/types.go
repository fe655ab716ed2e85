// Package audio defines the audio introspection and mixing capability used by
// the lesson pipeline, together with the 16-bit PCM helpers its native
// implementation is built from.
//
// The Toolkit interface is deliberately byte-oriented: callers hand over whole
// encoded clips (WAV, MP3, ...) and receive whole encoded clips back. This keeps
// the assembler and reconstructor independent of any particular encoder and lets
// tests substitute a deterministic fake (see package mock).
package audio

import (
	"context"
	"fmt"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form, e.g. "24000Hz mono".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	}
	return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
}

// Valid reports whether f describes a usable 16-bit PCM format.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && (f.Channels == 1 || f.Channels == 2)
}

// frameBytes is the size of one multi-channel int16 frame.
func (f Format) frameBytes() int { return 2 * f.Channels }

// Overlay is one input of a delayed mix: Audio starts DelayMs milliseconds
// after the start of the base clip.
type Overlay struct {
	Audio   []byte
	DelayMs int
}

// Toolkit measures, concatenates, mixes, and level-checks encoded audio clips.
//
// Implementations must be safe for concurrent use; the pipeline may process
// several scopes at once.
type Toolkit interface {
	// MeasureDurationMs inspects the clip and returns its length in
	// milliseconds. The result is derived from the audio itself, never from
	// the text it was synthesised from.
	MeasureDurationMs(ctx context.Context, clip []byte) (int, error)

	// ConcatWithSilence renders fragments[i] followed by pausesMs[i]
	// milliseconds of silence, for every i, into one clip. A nil or empty
	// fragment contributes only its silence. len(pausesMs) must equal
	// len(fragments).
	ConcatWithSilence(ctx context.Context, fragments [][]byte, pausesMs []int) ([]byte, error)

	// MixWithDelays sums base and every overlay (each shifted by its delay)
	// in a single pass. The output lasts as long as the longest input.
	MixWithDelays(ctx context.Context, base []byte, overlays []Overlay) ([]byte, error)

	// PeakLevelDB returns the peak sample level of the clip in dBFS. A clip
	// that contains only digital silence returns math.Inf(-1).
	PeakLevelDB(ctx context.Context, clip []byte) (float64, error)

	// Extension is the file extension of clips produced by this toolkit,
	// including the leading dot (e.g. ".wav").
	Extension() string
}

// Layouter is implemented by toolkits whose ConcatWithSilence re-encodes
// fragments, so a fragment's length in the output can differ from its
// measured length. Layout takes the arguments of ConcatWithSilence and
// returns the milliseconds each fragment and each pause occupies in the
// rendered clip; running sums of the two slices give exact offsets into it.
type Layouter interface {
	Layout(ctx context.Context, fragments [][]byte, pausesMs []int) (fragmentMs, pauseMs []int, err error)
}

// CheckConcatArgs validates the parallel slices passed to ConcatWithSilence.
// Toolkit implementations call it before doing any work.
func CheckConcatArgs(fragments [][]byte, pausesMs []int) error {
	if len(fragments) != len(pausesMs) {
		return fmt.Errorf("audio: %d fragments but %d pause durations", len(fragments), len(pausesMs))
	}
	for i, p := range pausesMs {
		if p < 0 {
			return fmt.Errorf("audio: pause %d is negative (%d ms)", i, p)
		}
	}
	return nil
}
