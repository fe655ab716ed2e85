// Package mock provides a deterministic in-memory implementation of
// [audio.Toolkit] for unit tests.
//
// Clips are plain byte markers of the form "mock:<ms>:<label>" built with
// [Clip]. Concatenation and mixing return new markers whose duration is
// computed exactly and whose label spells out how the clip was produced, so
// tests can assert on both timing and provenance without decoding audio.
//
// Typical usage:
//
//	tk := &mock.Toolkit{Peaks: map[string]float64{"broken": -90}}
//	out, _ := tk.ConcatWithSilence(ctx, [][]byte{mock.Clip(1200, "hello")}, []int{3000})
//	// out == "mock:4200:concat(hello,~3000)"
package mock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/lingocast/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Toolkit = (*Toolkit)(nil)

// ErrNotMockClip is returned for input that was not produced by [Clip].
var ErrNotMockClip = errors.New("mock: not a mock clip")

const prefix = "mock:"

// Clip returns a marker clip lasting ms milliseconds.
func Clip(ms int, label string) []byte {
	return []byte(prefix + strconv.Itoa(ms) + ":" + label)
}

// Parse splits a marker clip into its duration and label.
func Parse(clip []byte) (ms int, label string, err error) {
	rest, ok := strings.CutPrefix(string(clip), prefix)
	if !ok {
		return 0, "", ErrNotMockClip
	}
	num, label, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, "", ErrNotMockClip
	}
	ms, err = strconv.Atoi(num)
	if err != nil || ms < 0 {
		return 0, "", ErrNotMockClip
	}
	return ms, label, nil
}

// MixCall records one invocation of MixWithDelays.
type MixCall struct {
	Base     []byte
	Overlays []audio.Overlay
}

// Toolkit is a mock implementation of [audio.Toolkit].
type Toolkit struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Peaks maps clip labels to the level PeakLevelDB reports for them.
	Peaks map[string]float64

	// DefaultPeak is reported for labels missing from Peaks. Zero means -6 dBFS.
	DefaultPeak float64

	// PeakErr, if non-nil, is returned by PeakLevelDB for every clip.
	PeakErr error

	// ConcatErr, if non-nil, is returned by ConcatWithSilence.
	ConcatErr error

	// MixErr, if non-nil, is returned by MixWithDelays.
	MixErr error

	// --- Call records ---

	// MeasureCalls counts calls to MeasureDurationMs.
	MeasureCalls int

	// ConcatCalls counts calls to ConcatWithSilence.
	ConcatCalls int

	// MixCalls records every call to MixWithDelays in order.
	MixCalls []MixCall

	// PeakCalls records the label of every clip passed to PeakLevelDB.
	PeakCalls []string
}

// Extension implements [audio.Toolkit].
func (t *Toolkit) Extension() string { return ".wav" }

// MeasureDurationMs implements [audio.Toolkit].
func (t *Toolkit) MeasureDurationMs(_ context.Context, clip []byte) (int, error) {
	t.mu.Lock()
	t.MeasureCalls++
	t.mu.Unlock()

	ms, _, err := Parse(clip)
	return ms, err
}

// ConcatWithSilence implements [audio.Toolkit]. Silence is rendered in the
// label as "~<ms>".
func (t *Toolkit) ConcatWithSilence(_ context.Context, fragments [][]byte, pausesMs []int) ([]byte, error) {
	t.mu.Lock()
	t.ConcatCalls++
	err := t.ConcatErr
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := audio.CheckConcatArgs(fragments, pausesMs); err != nil {
		return nil, err
	}

	total := 0
	var parts []string
	for i, frag := range fragments {
		if len(frag) > 0 {
			ms, label, err := Parse(frag)
			if err != nil {
				return nil, fmt.Errorf("mock: concat fragment %d: %w", i, err)
			}
			total += ms
			parts = append(parts, label)
		}
		if pausesMs[i] > 0 {
			total += pausesMs[i]
			parts = append(parts, "~"+strconv.Itoa(pausesMs[i]))
		}
	}
	return Clip(total, "concat("+strings.Join(parts, ",")+")"), nil
}

// MixWithDelays implements [audio.Toolkit]. Overlays appear in the label as
// "<label>@<delay>".
func (t *Toolkit) MixWithDelays(_ context.Context, base []byte, overlays []audio.Overlay) ([]byte, error) {
	t.mu.Lock()
	t.MixCalls = append(t.MixCalls, MixCall{Base: base, Overlays: overlays})
	err := t.MixErr
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}

	total, label, err := Parse(base)
	if err != nil {
		return nil, fmt.Errorf("mock: mix base: %w", err)
	}
	parts := []string{label}
	for i, o := range overlays {
		ms, l, err := Parse(o.Audio)
		if err != nil {
			return nil, fmt.Errorf("mock: mix overlay %d: %w", i, err)
		}
		total = max(total, o.DelayMs+ms)
		parts = append(parts, l+"@"+strconv.Itoa(o.DelayMs))
	}
	return Clip(total, "mix("+strings.Join(parts, "+")+")"), nil
}

// PeakLevelDB implements [audio.Toolkit].
func (t *Toolkit) PeakLevelDB(_ context.Context, clip []byte) (float64, error) {
	_, label, parseErr := Parse(clip)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.PeakCalls = append(t.PeakCalls, label)
	if t.PeakErr != nil {
		return 0, t.PeakErr
	}
	if parseErr != nil {
		return 0, parseErr
	}
	if db, ok := t.Peaks[label]; ok {
		return db, nil
	}
	if t.DefaultPeak == 0 {
		return -6, nil
	}
	return t.DefaultPeak, nil
}

// Silent is a convenience level for Peaks entries that should read as silence.
var Silent = math.Inf(-1)
