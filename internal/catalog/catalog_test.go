package catalog

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/MrWong99/lingocast/internal/timing"
	"github.com/MrWong99/lingocast/pkg/blobstore/memory"
	"github.com/MrWong99/lingocast/pkg/types"
)

var t0 = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

func put(t *testing.T, blobs *memory.Store, p string, data []byte) {
	t.Helper()
	if err := blobs.WriteFile(context.Background(), p, data); err != nil {
		t.Fatal(err)
	}
}

func saveLesson(t *testing.T, blobs *memory.Store, sc types.Scope, id string, withAudio bool) {
	t.Helper()
	segs := []timing.Segment{{Index: 0, StartMs: 0, DurationMs: 1200, Kind: timing.KindSynthesized, Text: "Hi", Normalized: "Hi"}}
	m := &timing.Manifest{
		LessonID: id, Scope: sc, AudioFile: "lesson.wav", TotalDurationMs: 1200,
		CreatedAt: t0, Segments: segs, Dependencies: timing.BuildDependencies(segs),
	}
	if err := timing.Save(context.Background(), blobs, m); err != nil {
		t.Fatal(err)
	}
	if withAudio {
		put(t, blobs, m.AudioPath(), []byte("RIFF"))
	}
}

func TestBuild(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()
	el := types.Scope{Language: "el", Level: "a1"}
	fr := types.Scope{Language: "fr", Level: "a1"}

	put(t, blobs, el.ScriptPath("lesson-02"), []byte("x"))
	put(t, blobs, el.ScriptPath("lesson-01"), []byte("x"))
	saveLesson(t, blobs, el, "lesson-01", true)
	saveLesson(t, blobs, fr, "intro", false)
	put(t, blobs, fr.TimingPath("broken"), []byte("{"))
	put(t, blobs, "scripts/README.md", []byte("ignored"))

	c, err := NewBuilder(blobs, WithClock(func() time.Time { return t0 })).Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := []struct {
		lang, id string
		status   Status
	}{
		{"el", "lesson-01", StatusGenerated},
		{"el", "lesson-02", StatusPending},
		{"fr", "broken", StatusInconsistent},
		{"fr", "intro", StatusInconsistent},
	}
	if len(c.Lessons) != len(want) {
		t.Fatalf("lessons = %+v", c.Lessons)
	}
	for i, w := range want {
		got := c.Lessons[i]
		if got.Language != w.lang || got.LessonID != w.id || got.Status != w.status {
			t.Errorf("lesson %d = %+v, want %s/%s %s", i, got, w.lang, w.id, w.status)
		}
	}
	gen := c.Lessons[0]
	if gen.AudioPath != "lessons/el/a1/lesson-01/lesson.wav" || gen.DurationMs != 1200 || gen.Segments != 1 {
		t.Errorf("generated lesson = %+v", gen)
	}
	if c.Count(StatusInconsistent) != 2 {
		t.Errorf("inconsistent = %d", c.Count(StatusInconsistent))
	}
}

func TestWrite(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()
	b := NewBuilder(blobs, WithClock(func() time.Time { return t0 }))

	c, err := b.Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := b.Write(ctx, c); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := blobs.ReadFile(ctx, types.CatalogPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if lessons, ok := raw["lessons"].([]any); !ok || len(lessons) != 0 {
		t.Errorf("lessons = %v, want empty list", raw["lessons"])
	}
	if raw["generated_at"] != "2026-07-01T00:00:00Z" {
		t.Errorf("generated_at = %v", raw["generated_at"])
	}
}

func TestBuild_InterruptedPatchIsInconsistent(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()
	sc := types.Scope{Language: "el", Level: "a1"}
	segs := []timing.Segment{{Index: 0, StartMs: 0, DurationMs: 800, Kind: timing.KindVocab, Text: `"Ναι"`, Normalized: `"Ναι"`, VocabFile: "00001.wav"}}
	m := &timing.Manifest{
		LessonID: "lesson-01", Scope: sc, AudioFile: "lesson.wav", TotalDurationMs: 800,
		CreatedAt: t0, Segments: segs, Dependencies: timing.BuildDependencies(segs),
		PendingPatch: &timing.PendingPatch{At: t0.Add(time.Hour), Segments: []int{0}, AudioSHA256: "ab"},
	}
	if err := timing.Save(ctx, blobs, m); err != nil {
		t.Fatal(err)
	}
	put(t, blobs, m.AudioPath(), []byte("RIFF"))

	c, err := NewBuilder(blobs).Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(c.Lessons) != 1 || c.Lessons[0].Status != StatusInconsistent {
		t.Errorf("lessons = %+v, want the interrupted patch reported", c.Lessons)
	}
}
