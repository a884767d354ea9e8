// Package store persists audit runs: the SARIF log and the gate verdict.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chris-regnier/vigil/internal/finding"
	"github.com/chris-regnier/vigil/internal/sarif"
)

var storeTracer = otel.Tracer("github.com/chris-regnier/vigil/internal/store")

// ErrNotFound is returned when a run id or one of its parts is absent.
var ErrNotFound = errors.New("not found")

// Verdict is the gate decision for a run.
type Verdict struct {
	Decision         string                 `json:"decision"`
	Reason           string                 `json:"reason"`
	RelevantFindings []finding.Finding      `json:"relevant_findings,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Store keeps audit runs addressed by id. List returns ids newest first.
type Store interface {
	WriteSARIF(ctx context.Context, doc *sarif.Log) (string, error)
	WriteVerdict(ctx context.Context, id string, verdict *Verdict) error
	ReadSARIF(ctx context.Context, id string) (*sarif.Log, error)
	ReadVerdict(ctx context.Context, id string) (*Verdict, error)
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Open returns the store for backend ("file" or "sqlite") rooted at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(path), nil
	case "sqlite":
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", backend)
}

// newID returns a time-ordered run id. Ids sort lexically in creation
// order to the second.
func newID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return now.UTC().Format("2006-01-02T15-04-05Z") + "-" + suffix
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func resultCount(doc *sarif.Log) int {
	n := 0
	for _, r := range doc.Runs {
		n += len(r.Results)
	}
	return n
}
