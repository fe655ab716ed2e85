// Package timing models the per-lesson timing manifest: where every segment
// of a lesson's final audio starts, how long it lasts, and which vocabulary
// file it came from.
//
// The manifest's dependency index (vocabulary file to segment indices) is
// the join between the vocabulary store and assembled lessons. It is derived
// from the segments and must always match them exactly.
package timing

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"path"
	"slices"
	"time"

	"github.com/MrWong99/lingocast/pkg/types"
)

var (
	// ErrInvariant is returned when segments are not contiguous, durations
	// do not add up, or the dependency index does not match the segments.
	ErrInvariant = errors.New("timing: invariant violation")

	// ErrMalformed is returned when a stored manifest cannot be decoded.
	ErrMalformed = errors.New("timing: malformed manifest")
)

// Kind says where a segment's audio came from.
type Kind string

const (
	KindSilence     Kind = "silence"
	KindVocab       Kind = "vocab"
	KindSynthesized Kind = "synthesized"
)

// Segment is one contiguous span of a lesson's audio.
type Segment struct {
	Index      int    `json:"index"`
	StartMs    int    `json:"start_ms"`
	DurationMs int    `json:"duration_ms"`
	Kind       Kind   `json:"kind"`
	Text       string `json:"text,omitempty"`
	Normalized string `json:"normalized,omitempty"`
	// VocabFile is set only for KindVocab.
	VocabFile string `json:"vocab_file,omitempty"`
	// PatchedAt is when a repaired fragment was last mixed over the segment.
	PatchedAt *time.Time `json:"patched_at,omitempty"`
}

// End returns the offset just past the segment.
func (s Segment) End() int { return s.StartMs + s.DurationMs }

// Manifest is the timing record of one assembled lesson.
type Manifest struct {
	LessonID        string           `json:"lesson_id"`
	Scope           types.Scope      `json:"scope"`
	AudioFile       string           `json:"audio_file"`
	TotalDurationMs int              `json:"total_duration_ms"`
	CreatedAt       time.Time        `json:"created_at"`
	Segments        []Segment        `json:"segments"`
	Dependencies    map[string][]int `json:"dependencies"`

	LastRepairAt         *time.Time `json:"last_repair_at,omitempty"`
	LastRepairedSegments []int      `json:"last_repaired_segments,omitempty"`

	// PendingPatch is set while a patch of the lesson audio is in flight.
	PendingPatch *PendingPatch `json:"pending_patch,omitempty"`
}

// PendingPatch records a patch before the patched audio is written. If the
// stored audio hashes to AudioSHA256 the patch landed and only the manifest
// update is outstanding; otherwise the audio was never replaced.
type PendingPatch struct {
	At          time.Time `json:"at"`
	Segments    []int     `json:"segments"`
	AudioSHA256 string    `json:"audio_sha256"`
}

// MarkPatched stamps segments with the patch time and records them as the
// last repair.
func (m *Manifest) MarkPatched(at time.Time, segments []int) {
	for _, idx := range segments {
		m.Segments[idx].PatchedAt = &at
	}
	m.LastRepairAt = &at
	m.LastRepairedSegments = segments
}

// AudioPath returns the blob path of the lesson's final audio.
func (m *Manifest) AudioPath() string {
	return path.Join(m.Scope.LessonsDir(), m.LessonID, m.AudioFile)
}

// BuildDependencies returns the index from vocabulary file to the indices
// of the segments that use it, in segment order.
func BuildDependencies(segments []Segment) map[string][]int {
	deps := make(map[string][]int)
	for _, s := range segments {
		if s.Kind == KindVocab {
			deps[s.VocabFile] = append(deps[s.VocabFile], s.Index)
		}
	}
	return deps
}

// Validate checks every manifest invariant and joins all violations into
// one error wrapping ErrInvariant.
func (m *Manifest) Validate() error {
	var errs []error
	if m.LessonID == "" {
		errs = append(errs, errors.New("lesson_id is empty"))
	}
	if m.AudioFile == "" {
		errs = append(errs, errors.New("audio_file is empty"))
	}

	next, sum := 0, 0
	for i, s := range m.Segments {
		if s.Index != i {
			errs = append(errs, fmt.Errorf("segment %d has index %d", i, s.Index))
		}
		if s.StartMs != next {
			errs = append(errs, fmt.Errorf("segment %d starts at %d ms, previous ends at %d ms", i, s.StartMs, next))
		}
		if s.DurationMs < 0 {
			errs = append(errs, fmt.Errorf("segment %d has negative duration", i))
		}
		switch s.Kind {
		case KindVocab:
			if s.VocabFile == "" {
				errs = append(errs, fmt.Errorf("vocab segment %d has no vocab_file", i))
			}
		case KindSilence, KindSynthesized:
			if s.VocabFile != "" {
				errs = append(errs, fmt.Errorf("%s segment %d references %s", s.Kind, i, s.VocabFile))
			}
		default:
			errs = append(errs, fmt.Errorf("segment %d has unknown kind %q", i, s.Kind))
		}
		next = s.End()
		sum += s.DurationMs
	}
	if sum != m.TotalDurationMs {
		errs = append(errs, fmt.Errorf("segment durations sum to %d ms, total is %d ms", sum, m.TotalDurationMs))
	}

	want := BuildDependencies(m.Segments)
	if !maps.EqualFunc(want, m.Dependencies, slices.Equal[[]int]) {
		errs = append(errs, errors.New("dependency index does not match vocab segments"))
	}
	for _, idx := range m.LastRepairedSegments {
		if idx < 0 || idx >= len(m.Segments) {
			errs = append(errs, fmt.Errorf("last_repaired_segments references segment %d", idx))
		}
	}
	if p := m.PendingPatch; p != nil {
		for _, idx := range p.Segments {
			if idx < 0 || idx >= len(m.Segments) || m.Segments[idx].Kind != KindVocab {
				errs = append(errs, fmt.Errorf("pending_patch references segment %d", idx))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: lesson %q: %w", ErrInvariant, m.LessonID, err)
	}
	return nil
}

// Affected returns the sorted indices of segments that depend on one of
// files and predate its repair. files maps a vocabulary filename to the time
// its audio was replaced; a segment counts when it was neither assembled nor
// patched after that time. A zero time matches every dependent segment.
func (m *Manifest) Affected(files map[string]time.Time) []int {
	var out []int
	for f, idx := range m.Dependencies {
		repairedAt, ok := files[f]
		if !ok {
			continue
		}
		for _, i := range idx {
			if repairedAt.IsZero() || m.mixedAt(i).Before(repairedAt) {
				out = append(out, i)
			}
		}
	}
	slices.Sort(out)
	return out
}

// mixedAt is when segment i last received audio.
func (m *Manifest) mixedAt(i int) time.Time {
	if at := m.Segments[i].PatchedAt; at != nil {
		return *at
	}
	return m.CreatedAt
}

// Decode parses and validates a stored manifest. Decoding failures wrap
// ErrMalformed; structural problems wrap ErrInvariant.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if m.Dependencies == nil {
		m.Dependencies = map[string][]int{}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Encode validates m and returns its indented JSON form.
func (m *Manifest) Encode() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	out := *m
	if out.Segments == nil {
		out.Segments = []Segment{}
	}
	return json.MarshalIndent(out, "", "  ")
}
