package vocab

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/lingocast/internal/script"
	"github.com/MrWong99/lingocast/pkg/types"
)

// ErrInvariant is returned when the manifest breaks a structural invariant:
// duplicate keys or filenames, or a counter that would reissue a filename.
// It stops all work on the scope.
var ErrInvariant = errors.New("vocab: invariant violation")

// Status is the health of an entry's audio file.
type Status string

const (
	// StatusOK marks audio that passed the last corruption check (or was
	// never checked).
	StatusOK Status = "ok"

	// StatusCorrupt marks audio flagged by a scan and awaiting repair.
	StatusCorrupt Status = "corrupt"

	// StatusRepairFailed marks audio that was still corrupt after a repair
	// attempt. The next scan tries again.
	StatusRepairFailed Status = "repair_failed"

	// StatusPatchPending marks repaired audio that is not yet mixed into
	// every lesson using it. Scans keep reconstructing until it is.
	StatusPatchPending Status = "patch_pending"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOK, StatusCorrupt, StatusRepairFailed, StatusPatchPending:
		return true
	}
	return false
}

// Entry is one persisted vocabulary fragment.
type Entry struct {
	// Text is the normalised phrase as it is spoken.
	Text string `json:"text"`

	// Key is the case-folded lookup key derived from Text.
	Key string `json:"key"`

	// File is the audio filename inside the scope's audio directory. It is
	// assigned once and never changes.
	File string `json:"file"`

	// Voice is the voice ID the audio was synthesised with.
	Voice string `json:"voice"`

	// Provenance names the process that created the entry.
	Provenance string `json:"provenance"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Status    Status    `json:"status"`
}

// Manifest is the durable record of a scope's vocabulary.
type Manifest struct {
	Scope    types.Scope `json:"scope"`
	NextFile int         `json:"next_file"`
	Entries  []Entry     `json:"entries"`
}

// decodeManifest parses data and restores derived fields. Keys are always
// recomputed from Text so a curator can relabel an entry by editing its
// text alone.
func decodeManifest(data []byte, scope types.Scope) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("vocab: decode manifest: %w", err)
	}
	if m.Scope != (types.Scope{}) && m.Scope != scope {
		return Manifest{}, fmt.Errorf("%w: manifest belongs to scope %s, loaded as %s", ErrInvariant, m.Scope, scope)
	}
	m.Scope = scope
	for i := range m.Entries {
		e := &m.Entries[i]
		e.Text = script.Normalize(e.Text)
		e.Key = script.Key(e.Text)
		if e.Status == "" {
			e.Status = StatusOK
		}
	}
	return m, nil
}

// check verifies the manifest invariants.
func (m Manifest) check() error {
	var errs []error
	keys := make(map[string]string, len(m.Entries))
	files := make(map[string]struct{}, len(m.Entries))
	for _, e := range m.Entries {
		if e.Key == "" {
			errs = append(errs, fmt.Errorf("entry %q has empty text", e.File))
		}
		if prev, dup := keys[e.Key]; dup && e.Key != "" {
			errs = append(errs, fmt.Errorf("key %q used by %s and %s", e.Key, prev, e.File))
		}
		keys[e.Key] = e.File
		if _, dup := files[e.File]; dup {
			errs = append(errs, fmt.Errorf("file %s assigned twice", e.File))
		}
		files[e.File] = struct{}{}
		n, err := fileNumber(e.File)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if n >= m.NextFile {
			errs = append(errs, fmt.Errorf("file %s is not below next_file %d", e.File, m.NextFile))
		}
		if !e.Status.Valid() {
			errs = append(errs, fmt.Errorf("file %s has unknown status %q", e.File, e.Status))
		}
	}
	if m.NextFile < 1 {
		errs = append(errs, fmt.Errorf("next_file %d must be at least 1", m.NextFile))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvariant, m.Scope, err)
	}
	return nil
}

// fileName formats the n-th filename of a scope.
func fileName(n int, ext string) string {
	return fmt.Sprintf("%05d%s", n, ext)
}

// fileNumber extracts the sequence number from a filename.
func fileNumber(file string) (int, error) {
	stem, _, _ := strings.Cut(file, ".")
	n, err := strconv.Atoi(stem)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("file %q is not a sequential filename", file)
	}
	return n, nil
}
