// Package checkpoint stores the intermediate collections of a run, one snapshot
// per phase, for offline inspection and for resuming a run.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when no snapshot exists for the requested phase.
var ErrNotFound = errors.New("checkpoint: snapshot not found")

// Writer persists one phase snapshot.
type Writer interface {
	Write(ctx context.Context, runID string, num int, name string, data any) error
}

// Reader loads the most recent snapshot of a phase into v.
type Reader interface {
	Read(ctx context.Context, num int, name string, v any) error
}

// Multi fans a snapshot out to several writers and reports every failure.
type Multi []Writer

func (m Multi) Write(ctx context.Context, runID string, num int, name string, data any) error {
	var errs []error
	for _, w := range m {
		if err := w.Write(ctx, runID, num, name, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Files writes <dir>/<num>_<name>.json, overwriting the previous run's dump.
type Files struct {
	Dir string
}

func (f Files) path(num int, name string) string {
	return filepath.Join(f.Dir, fmt.Sprintf("%d_%s.json", num, name))
}

func (f Files) Write(_ context.Context, _ string, num int, name string, data any) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("create dump dir: %w", err)
	}
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := os.WriteFile(f.path(num, name), b, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (f Files) Read(_ context.Context, num int, name string, v any) error {
	b, err := os.ReadFile(f.path(num, name))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
