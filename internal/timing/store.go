package timing

import (
	"context"
	"fmt"

	"github.com/MrWong99/lingocast/pkg/blobstore"
	"github.com/MrWong99/lingocast/pkg/types"
)

// Load reads the timing manifest of lessonID. A missing manifest yields an
// error wrapping blobstore.ErrNotFound.
func Load(ctx context.Context, blobs blobstore.Store, scope types.Scope, lessonID string) (*Manifest, error) {
	p := scope.TimingPath(lessonID)
	data, err := blobs.ReadFile(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("timing: load %s: %w", p, err)
	}
	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("timing: load %s: %w", p, err)
	}
	if m.LessonID != lessonID || m.Scope != scope {
		return nil, fmt.Errorf("timing: load %s: %w: manifest names lesson %q in %s", p, ErrMalformed, m.LessonID, m.Scope)
	}
	return m, nil
}

// Save validates m and writes it to its lesson's timing path.
func Save(ctx context.Context, blobs blobstore.Store, m *Manifest) error {
	data, err := m.Encode()
	if err != nil {
		return fmt.Errorf("timing: save: %w", err)
	}
	p := m.Scope.TimingPath(m.LessonID)
	if err := blobs.WriteFile(ctx, p, data); err != nil {
		return fmt.Errorf("timing: save %s: %w", p, err)
	}
	return nil
}

// List returns the IDs of all lessons in scope that have a timing manifest,
// sorted.
func List(ctx context.Context, blobs blobstore.Store, scope types.Scope) ([]string, error) {
	paths, err := blobs.List(ctx, scope.LessonsDir())
	if err != nil {
		return nil, fmt.Errorf("timing: list %s: %w", scope, err)
	}
	var ids []string
	for _, p := range paths {
		if id, ok := scope.IsTimingPath(p); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
