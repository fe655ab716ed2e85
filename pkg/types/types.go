// Package types defines the shared types used across lingocast packages.
//
// Cross-cutting data structures live here to avoid circular imports between
// the vocabulary store, the timing manifest, and the lesson pipeline.
package types

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Scope partitions vocabulary and lesson state by language and level. Work on
// one scope never touches persisted state belonging to another.
type Scope struct {
	// Language is a short language tag, e.g. "el" or "fr".
	Language string `json:"language" yaml:"language"`

	// Level is the course level, e.g. "a1".
	Level string `json:"level" yaml:"level"`
}

// String returns the scope as "language/level".
func (s Scope) String() string {
	return s.Language + "/" + s.Level
}

// Validate reports whether both parts are set and safe to use as path segments.
func (s Scope) Validate() error {
	var errs []error
	for _, part := range [...]struct{ name, v string }{{"language", s.Language}, {"level", s.Level}} {
		name, v := part.name, part.v
		switch {
		case v == "":
			errs = append(errs, fmt.Errorf("scope: %s is required", name))
		case strings.ContainsAny(v, `/\`) || v == "." || v == "..":
			errs = append(errs, fmt.Errorf("scope: %s %q is not a valid path segment", name, v))
		}
	}
	return errors.Join(errs...)
}

// ParseScope parses "language/level" into a Scope.
func ParseScope(s string) (Scope, error) {
	lang, level, ok := strings.Cut(s, "/")
	if !ok {
		return Scope{}, fmt.Errorf("scope: %q must have the form language/level", s)
	}
	sc := Scope{Language: lang, Level: level}
	if err := sc.Validate(); err != nil {
		return Scope{}, err
	}
	return sc, nil
}

// Blob store layout. All paths use forward slashes regardless of the backend.
const (
	VocabRoot   = "vocab"
	LessonRoot  = "lessons"
	ScriptRoot  = "scripts"
	CatalogPath = "catalog.json"

	manifestName = "manifest.json"
	timingName   = "timing.json"
	lessonAudio  = "lesson"
	ScriptExt    = ".txt"
)

// VocabDir returns the directory holding the vocabulary of a scope.
func (s Scope) VocabDir() string { return path.Join(VocabRoot, s.Language, s.Level) }

// VocabManifestPath returns the path of the vocabulary manifest.
func (s Scope) VocabManifestPath() string { return path.Join(s.VocabDir(), manifestName) }

// VocabAudioPath returns the path of a vocabulary audio file.
func (s Scope) VocabAudioPath(file string) string { return path.Join(s.VocabDir(), "audio", file) }

// ScriptDir returns the directory holding lesson scripts.
func (s Scope) ScriptDir() string { return path.Join(ScriptRoot, s.Language, s.Level) }

// ScriptPath returns the path of the script for lessonID.
func (s Scope) ScriptPath(lessonID string) string {
	return path.Join(s.ScriptDir(), lessonID+ScriptExt)
}

// LessonsDir returns the directory holding assembled lessons.
func (s Scope) LessonsDir() string { return path.Join(LessonRoot, s.Language, s.Level) }

// LessonAudioPath returns the stable path of the final lesson audio.
func (s Scope) LessonAudioPath(lessonID, ext string) string {
	return path.Join(s.LessonsDir(), lessonID, lessonAudio+ext)
}

// TimingPath returns the path of the timing manifest for lessonID.
func (s Scope) TimingPath(lessonID string) string {
	return path.Join(s.LessonsDir(), lessonID, timingName)
}

// IsTimingPath reports whether p names a timing manifest and returns the
// lesson ID it belongs to.
func (s Scope) IsTimingPath(p string) (string, bool) {
	rel, ok := strings.CutPrefix(p, s.LessonsDir()+"/")
	if !ok {
		return "", false
	}
	id, name, ok := strings.Cut(rel, "/")
	if !ok || name != timingName || id == "" {
		return "", false
	}
	return id, true
}

// LessonIDFromScript returns the lesson ID encoded in a script path.
func (s Scope) LessonIDFromScript(p string) (string, bool) {
	rel, ok := strings.CutPrefix(p, s.ScriptDir()+"/")
	if !ok || strings.Contains(rel, "/") {
		return "", false
	}
	id, ok := strings.CutSuffix(rel, ScriptExt)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// ScopeOf returns the scope of a path below one of the layout roots, e.g.
// "scripts/el/a1/lesson-01.txt".
func ScopeOf(p string) (Scope, bool) {
	parts := strings.SplitN(p, "/", 4)
	if len(parts) < 4 {
		return Scope{}, false
	}
	switch parts[0] {
	case VocabRoot, LessonRoot, ScriptRoot:
	default:
		return Scope{}, false
	}
	s := Scope{Language: parts[1], Level: parts[2]}
	if s.Validate() != nil {
		return Scope{}, false
	}
	return s, true
}
