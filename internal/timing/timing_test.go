package timing

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/lingocast/pkg/blobstore"
	"github.com/MrWong99/lingocast/pkg/blobstore/memory"
	"github.com/MrWong99/lingocast/pkg/types"
)

var scope = types.Scope{Language: "fr", Level: "a2"}

func validManifest() *Manifest {
	segs := []Segment{
		{Index: 0, StartMs: 0, DurationMs: 500, Kind: KindSilence},
		{Index: 1, StartMs: 500, DurationMs: 1200, Kind: KindSynthesized, Text: "Écoutez", Normalized: "Écoutez"},
		{Index: 2, StartMs: 1700, DurationMs: 3000, Kind: KindSilence},
		{Index: 3, StartMs: 4700, DurationMs: 800, Kind: KindVocab, Text: `"Merci"`, Normalized: `"Merci"`, VocabFile: "00001.wav"},
		{Index: 4, StartMs: 5500, DurationMs: 900, Kind: KindVocab, Text: `"Oui"`, Normalized: `"Oui"`, VocabFile: "00002.wav"},
		{Index: 5, StartMs: 6400, DurationMs: 800, Kind: KindVocab, Text: `"Merci"`, Normalized: `"Merci"`, VocabFile: "00001.wav"},
	}
	return &Manifest{
		LessonID:        "lesson-01",
		Scope:           scope,
		AudioFile:       "lesson.wav",
		TotalDurationMs: 7200,
		CreatedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Segments:        segs,
		Dependencies:    BuildDependencies(segs),
	}
}

func TestBuildDependencies(t *testing.T) {
	got := validManifest().Dependencies
	want := map[string][]int{"00001.wav": {3, 5}, "00002.wav": {4}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("BuildDependencies = %v, want %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *Manifest)
		wantErr string
	}{
		{name: "valid", mutate: func(*Manifest) {}},
		{
			name:    "gap",
			mutate:  func(m *Manifest) { m.Segments[2].StartMs = 1800 },
			wantErr: "starts at 1800",
		},
		{
			name:    "total mismatch",
			mutate:  func(m *Manifest) { m.TotalDurationMs = 7000 },
			wantErr: "sum to 7200",
		},
		{
			name: "vocab segment missing from index",
			mutate: func(m *Manifest) {
				m.Dependencies = map[string][]int{"00001.wav": {3, 5}}
			},
			wantErr: "dependency index",
		},
		{
			name: "extra index entry",
			mutate: func(m *Manifest) {
				m.Dependencies["00009.wav"] = []int{1}
			},
			wantErr: "dependency index",
		},
		{
			name:    "silence with vocab file",
			mutate:  func(m *Manifest) { m.Segments[0].VocabFile = "00001.wav" },
			wantErr: "silence segment 0 references",
		},
		{
			name:    "unknown kind",
			mutate:  func(m *Manifest) { m.Segments[1].Kind = "music" },
			wantErr: "unknown kind",
		},
		{
			name:    "bad index",
			mutate:  func(m *Manifest) { m.Segments[1].Index = 7 },
			wantErr: "has index 7",
		},
		{
			name:    "pending patch on silence",
			mutate:  func(m *Manifest) { m.PendingPatch = &PendingPatch{Segments: []int{3, 0}} },
			wantErr: "pending_patch references segment 0",
		},
		{
			name:    "repaired segment out of range",
			mutate:  func(m *Manifest) { m.LastRepairedSegments = []int{42} },
			wantErr: "segment 42",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validManifest()
			tt.mutate(m)
			err := m.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvariant) {
				t.Fatalf("Validate error = %v, want ErrInvariant", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestAffected(t *testing.T) {
	created := validManifest().CreatedAt
	before, after := created.Add(-time.Hour), created.Add(time.Hour)

	tests := []struct {
		name   string
		mutate func(m *Manifest)
		files  map[string]time.Time
		want   []int
	}{
		{name: "unconditional", files: map[string]time.Time{"00001.wav": {}, "00404.wav": {}}, want: []int{3, 5}},
		{name: "no files", files: nil, want: nil},
		{name: "repaired after assembly", files: map[string]time.Time{"00001.wav": after, "00002.wav": after}, want: []int{3, 4, 5}},
		{name: "repaired before assembly", files: map[string]time.Time{"00001.wav": before}, want: nil},
		{
			name:   "segment already patched",
			mutate: func(m *Manifest) { m.MarkPatched(after.Add(time.Minute), []int{3}) },
			files:  map[string]time.Time{"00001.wav": after},
			want:   []int{5},
		},
		{
			name:   "patched before a newer repair",
			mutate: func(m *Manifest) { m.MarkPatched(after, []int{3, 5}) },
			files:  map[string]time.Time{"00001.wav": after.Add(time.Hour)},
			want:   []int{3, 5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validManifest()
			if tt.mutate != nil {
				tt.mutate(m)
			}
			if got := m.Affected(tt.files); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Affected = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMarkPatched(t *testing.T) {
	m := validManifest()
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	m.MarkPatched(at, []int{3, 5})
	for _, i := range []int{3, 5} {
		if p := m.Segments[i].PatchedAt; p == nil || !p.Equal(at) {
			t.Errorf("segment %d PatchedAt = %v", i, p)
		}
	}
	if m.Segments[4].PatchedAt != nil {
		t.Error("unpatched segment was stamped")
	}
	if m.LastRepairAt == nil || !m.LastRepairAt.Equal(at) || !reflect.DeepEqual(m.LastRepairedSegments, []int{3, 5}) {
		t.Errorf("last repair = %v %v", m.LastRepairAt, m.LastRepairedSegments)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestSaveLoadList(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()
	m := validManifest()
	repairedAt := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	m.MarkPatched(repairedAt, []int{4})
	m.PendingPatch = &PendingPatch{At: repairedAt.Add(time.Hour), Segments: []int{3, 5}, AudioSHA256: "ab12"}

	if err := Save(ctx, blobs, m); err != nil {
		t.Fatalf("Save: %v", err)
	}
	other := validManifest()
	other.LessonID = "lesson-00"
	if err := Save(ctx, blobs, other); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = blobs.WriteFile(ctx, "lessons/fr/a2/lesson-01/lesson.wav", []byte("audio"))

	got, err := Load(ctx, blobs, scope, "lesson-01")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, m) {
		t.Errorf("Load mismatch:\n got  %+v\n want %+v", got, m)
	}

	ids, err := List(ctx, blobs, scope)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"lesson-00", "lesson-01"}) {
		t.Errorf("List = %v", ids)
	}
}

func TestSave_RejectsInvalid(t *testing.T) {
	blobs := memory.New()
	m := validManifest()
	m.TotalDurationMs++
	if err := Save(context.Background(), blobs, m); !errors.Is(err, ErrInvariant) {
		t.Errorf("Save error = %v, want ErrInvariant", err)
	}
	if len(blobs.Writes) != 0 {
		t.Error("invalid manifest must not be written")
	}
}

func TestLoad_Errors(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()

	if _, err := Load(ctx, blobs, scope, "nope"); !errors.Is(err, blobstore.ErrNotFound) {
		t.Errorf("missing: %v, want ErrNotFound", err)
	}

	_ = blobs.WriteFile(ctx, scope.TimingPath("broken"), []byte("{not json"))
	if _, err := Load(ctx, blobs, scope, "broken"); !errors.Is(err, ErrMalformed) {
		t.Errorf("broken: %v, want ErrMalformed", err)
	}

	data, _ := validManifest().Encode()
	_ = blobs.WriteFile(ctx, scope.TimingPath("moved"), data)
	if _, err := Load(ctx, blobs, scope, "moved"); !errors.Is(err, ErrMalformed) {
		t.Errorf("moved: %v, want ErrMalformed", err)
	}
}

func TestDecode_EmptyLesson(t *testing.T) {
	m, err := Decode([]byte(`{"lesson_id":"x","audio_file":"lesson.wav","total_duration_ms":0,"segments":[]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Dependencies == nil {
		t.Error("Dependencies must be non-nil after Decode")
	}
}

func TestAudioPath(t *testing.T) {
	if got := validManifest().AudioPath(); got != "lessons/fr/a2/lesson-01/lesson.wav" {
		t.Errorf("AudioPath = %q", got)
	}
}
