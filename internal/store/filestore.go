package store

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/chris-regnier/vigil/internal/sarif"
)

// FileStore keeps each run in its own directory holding sarif.json and
// verdict.json.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) runDir(id string) string {
	return filepath.Join(s.dir, filepath.Base(id))
}

func (s *FileStore) WriteSARIF(ctx context.Context, doc *sarif.Log) (string, error) {
	_, span := storeTracer.Start(ctx, "store write")
	defer span.End()

	id := newID(time.Now())
	dir := s.runDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fail(span, err)
	}
	if err := writeJSON(filepath.Join(dir, "sarif.json"), doc); err != nil {
		return "", fail(span, err)
	}
	span.SetAttributes(
		attribute.String("vigil.store.backend", "file"),
		attribute.String("vigil.store.id", id),
		attribute.Int("vigil.store.result_count", resultCount(doc)),
	)
	return id, nil
}

func (s *FileStore) WriteVerdict(ctx context.Context, id string, verdict *Verdict) error {
	_, span := storeTracer.Start(ctx, "store write")
	defer span.End()

	dir := s.runDir(id)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fail(span, ErrNotFound)
		}
		return fail(span, err)
	}
	if err := writeJSON(filepath.Join(dir, "verdict.json"), verdict); err != nil {
		return fail(span, err)
	}
	span.SetAttributes(
		attribute.String("vigil.store.id", id),
		attribute.String("vigil.decision", verdict.Decision),
	)
	return nil
}

func (s *FileStore) ReadSARIF(ctx context.Context, id string) (*sarif.Log, error) {
	var doc sarif.Log
	if err := readJSON(filepath.Join(s.runDir(id), "sarif.json"), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *FileStore) ReadVerdict(ctx context.Context, id string) (*Verdict, error) {
	var v Verdict
	if err := readJSON(filepath.Join(s.runDir(id), "verdict.json"), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

func (s *FileStore) Close() error { return nil }

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, v)
}
