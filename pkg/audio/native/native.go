// Package native implements audio.Toolkit in-process for 16-bit PCM WAV clips.
//
// Fragments arriving in a different sample rate or channel layout are
// converted to the toolkit's target format before concatenation, so lessons
// assembled from several synthesizers still produce one uniform file.
package native

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/lingocast/pkg/audio"
)

// Compile-time interface assertion.
var (
	_ audio.Toolkit  = (*Toolkit)(nil)
	_ audio.Layouter = (*Toolkit)(nil)
)

// DefaultFormat is used when New is given a zero Format.
var DefaultFormat = audio.Format{SampleRate: 24000, Channels: 1}

// Toolkit is a pure-Go audio.Toolkit working on RIFF/WAVE clips.
// It holds no mutable state and is safe for concurrent use.
type Toolkit struct {
	format audio.Format
}

// New returns a Toolkit whose concatenated output uses format f.
func New(f audio.Format) (*Toolkit, error) {
	if f == (audio.Format{}) {
		f = DefaultFormat
	}
	if !f.Valid() {
		return nil, fmt.Errorf("native: invalid target format %s", f)
	}
	return &Toolkit{format: f}, nil
}

// Format returns the target format of concatenated output.
func (t *Toolkit) Format() audio.Format { return t.format }

// Extension implements audio.Toolkit.
func (t *Toolkit) Extension() string { return ".wav" }

// MeasureDurationMs implements audio.Toolkit.
func (t *Toolkit) MeasureDurationMs(ctx context.Context, clip []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c, err := audio.DecodeWAV(clip)
	if err != nil {
		return 0, fmt.Errorf("native: measure duration: %w", err)
	}
	return c.DurationMs(), nil
}

// ConcatWithSilence implements audio.Toolkit.
func (t *Toolkit) ConcatWithSilence(ctx context.Context, fragments [][]byte, pausesMs []int) ([]byte, error) {
	if err := audio.CheckConcatArgs(fragments, pausesMs); err != nil {
		return nil, fmt.Errorf("native: concat: %w", err)
	}

	var pcm []byte
	for i, frag := range fragments {
		converted, err := t.fragment(ctx, i, frag)
		if err != nil {
			return nil, err
		}
		pcm = append(pcm, converted...)
		pcm = append(pcm, audio.Silence(t.format, pausesMs[i])...)
	}
	return audio.EncodeWAV(audio.Clip{Format: t.format, PCM: pcm}), nil
}

// Layout implements audio.Layouter. Boundaries are taken from the byte
// position of every fragment and pause in the concatenated PCM, so rounding
// never accumulates across fragments.
func (t *Toolkit) Layout(ctx context.Context, fragments [][]byte, pausesMs []int) (fragmentMs, pauseMs []int, err error) {
	if err := audio.CheckConcatArgs(fragments, pausesMs); err != nil {
		return nil, nil, fmt.Errorf("native: layout: %w", err)
	}

	fragmentMs = make([]int, len(fragments))
	pauseMs = make([]int, len(fragments))
	n, prev := 0, 0
	for i, frag := range fragments {
		converted, err := t.fragment(ctx, i, frag)
		if err != nil {
			return nil, nil, err
		}
		n += len(converted)
		cur := audio.DurationMs(t.format, n)
		fragmentMs[i], prev = cur-prev, cur

		n += len(audio.Silence(t.format, pausesMs[i]))
		cur = audio.DurationMs(t.format, n)
		pauseMs[i], prev = cur-prev, cur
	}
	return fragmentMs, pauseMs, nil
}

// fragment decodes frag and converts it to the target format. An empty
// fragment yields no PCM.
func (t *Toolkit) fragment(ctx context.Context, i int, frag []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(frag) == 0 {
		return nil, nil
	}
	c, err := audio.DecodeWAV(frag)
	if err != nil {
		return nil, fmt.Errorf("native: concat fragment %d: %w", i, err)
	}
	return audio.Convert(c.PCM, c.Format, t.format), nil
}

// MixWithDelays implements audio.Toolkit. The output keeps the format of base;
// overlays are converted to it before summing.
func (t *Toolkit) MixWithDelays(ctx context.Context, base []byte, overlays []audio.Overlay) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := audio.DecodeWAV(base)
	if err != nil {
		return nil, fmt.Errorf("native: mix base: %w", err)
	}

	decoded := make([]audio.PCMOverlay, 0, len(overlays))
	for i, o := range overlays {
		if o.DelayMs < 0 {
			return nil, fmt.Errorf("native: mix overlay %d: negative delay %d ms", i, o.DelayMs)
		}
		c, err := audio.DecodeWAV(o.Audio)
		if err != nil {
			return nil, fmt.Errorf("native: mix overlay %d: %w", i, err)
		}
		decoded = append(decoded, audio.PCMOverlay{
			PCM:     audio.Convert(c.PCM, c.Format, b.Format),
			DelayMs: o.DelayMs,
		})
	}
	mixed := audio.MixPCM(b.Format, b.PCM, decoded)
	return audio.EncodeWAV(audio.Clip{Format: b.Format, PCM: mixed}), nil
}

// PeakLevelDB implements audio.Toolkit.
func (t *Toolkit) PeakLevelDB(ctx context.Context, clip []byte) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c, err := audio.DecodeWAV(clip)
	if err != nil {
		return 0, fmt.Errorf("native: peak level: %w", err)
	}
	if len(c.PCM) == 0 {
		return 0, errors.New("native: peak level: clip has no samples")
	}
	return audio.PeakDB(c.PCM), nil
}
