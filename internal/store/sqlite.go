package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chris-regnier/vigil/internal/sarif"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id         TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    results    INTEGER NOT NULL,
    sarif      BLOB NOT NULL,
    decision   TEXT,
    verdict    BLOB
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`

// SQLiteStore keeps runs in a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens or creates the database at path. A directory path gets
// a vigil.db inside it.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, "vigil.db")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) WriteSARIF(ctx context.Context, doc *sarif.Log) (string, error) {
	ctx, span := storeTracer.Start(ctx, "store write")
	defer span.End()

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fail(span, err)
	}
	now := time.Now()
	id := newID(now)
	n := resultCount(doc)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, results, sarif) VALUES (?, ?, ?, ?)`,
		id, now.UnixNano(), n, data); err != nil {
		return "", fail(span, err)
	}
	span.SetAttributes(
		attribute.String("vigil.store.backend", "sqlite"),
		attribute.String("vigil.store.id", id),
		attribute.Int("vigil.store.result_count", n),
	)
	return id, nil
}

func (s *SQLiteStore) WriteVerdict(ctx context.Context, id string, verdict *Verdict) error {
	ctx, span := storeTracer.Start(ctx, "store write")
	defer span.End()

	data, err := json.Marshal(verdict)
	if err != nil {
		return fail(span, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET decision = ?, verdict = ? WHERE id = ?`,
		verdict.Decision, data, id)
	if err != nil {
		return fail(span, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fail(span, ErrNotFound)
	}
	span.SetAttributes(
		attribute.String("vigil.store.id", id),
		attribute.String("vigil.decision", verdict.Decision),
	)
	return nil
}

func (s *SQLiteStore) ReadSARIF(ctx context.Context, id string) (*sarif.Log, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT sarif FROM runs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc sarif.Log
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *SQLiteStore) ReadVerdict(ctx context.Context, id string) (*Verdict, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT verdict FROM runs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && data == nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var v Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
