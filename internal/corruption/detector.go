// Package corruption finds vocabulary audio that came back broken from the
// synthesizer and repairs it in place.
//
// The check is a heuristic on the audio alone: a missing or tiny file is
// corrupt, and so is one whose peak level stays below a silence threshold.
// When the level cannot be measured the file is left alone, since a repair
// overwrites it irreversibly.
package corruption

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/lingocast/internal/vocab"
	"github.com/MrWong99/lingocast/pkg/audio"
	"github.com/MrWong99/lingocast/pkg/blobstore"
)

// Defaults for a Detector.
const (
	DefaultMinBytes           = 2048
	DefaultSilenceThresholdDB = -45.0
)

// Reason explains why a clip was flagged.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonMissing  Reason = "missing"
	ReasonTooSmall Reason = "too_small"
	ReasonSilent   Reason = "silent"
)

// Verdict is the scan result for one vocabulary entry.
type Verdict struct {
	Entry   vocab.Entry
	Corrupt bool
	Reason  Reason
}

// DetectorOption is a functional option for NewDetector.
type DetectorOption func(*Detector)

// WithMinBytes sets the size below which a clip is corrupt.
func WithMinBytes(n int) DetectorOption {
	return func(d *Detector) {
		d.minBytes = n
	}
}

// WithSilenceThreshold sets the peak level in dBFS below which a clip is
// corrupt. Normal speech peaks well above -20 dBFS.
func WithSilenceThreshold(db float64) DetectorOption {
	return func(d *Detector) {
		d.thresholdDB = db
	}
}

// WithDetectorLogger sets the logger. Defaults to slog.Default().
func WithDetectorLogger(l *slog.Logger) DetectorOption {
	return func(d *Detector) {
		d.log = l
	}
}

// Detector flags corrupt audio clips.
type Detector struct {
	toolkit     audio.Toolkit
	minBytes    int
	thresholdDB float64
	log         *slog.Logger
}

// NewDetector creates a Detector that measures levels with tk.
func NewDetector(tk audio.Toolkit, opts ...DetectorOption) *Detector {
	d := &Detector{
		toolkit:     tk,
		minBytes:    DefaultMinBytes,
		thresholdDB: DefaultSilenceThresholdDB,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Check classifies one clip. Empty and undersized clips are corrupt without
// measuring their level.
func (d *Detector) Check(ctx context.Context, clip []byte) (bool, Reason) {
	if len(clip) == 0 || len(clip) < d.minBytes {
		return true, ReasonTooSmall
	}
	peak, err := d.toolkit.PeakLevelDB(ctx, clip)
	if err != nil {
		d.log.Warn("level analysis failed, treating clip as healthy", "bytes", len(clip), "err", err)
		return false, ReasonNone
	}
	if peak < d.thresholdDB {
		return true, ReasonSilent
	}
	return false, ReasonNone
}

// Scan checks the audio of every entry in store, in manifest order.
func (d *Detector) Scan(ctx context.Context, store *vocab.Store) ([]Verdict, error) {
	entries := store.Entries()
	out := make([]Verdict, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		clip, err := store.ReadAudio(ctx, e.File)
		switch {
		case errors.Is(err, blobstore.ErrNotFound):
			out = append(out, Verdict{Entry: e, Corrupt: true, Reason: ReasonMissing})
			continue
		case err != nil:
			return nil, fmt.Errorf("corruption: read %s: %w", e.File, err)
		}
		corrupt, reason := d.Check(ctx, clip)
		out = append(out, Verdict{Entry: e, Corrupt: corrupt, Reason: reason})
	}
	return out, nil
}
