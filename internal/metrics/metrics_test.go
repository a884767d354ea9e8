package metrics

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chris-regnier/vigil/internal/engine"
	"github.com/chris-regnier/vigil/internal/finding"
)

// fixedClock returns a Collector clock that advances only when told to.
func fixedClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestCollector_Record(t *testing.T) {
	c := NewCollector()
	c.Record(AuditEvent{File: "a.py", Status: "ok", Duration: 5 * time.Millisecond, Nodes: 10, Findings: 2, CacheResult: CacheMiss})
	c.Record(AuditEvent{File: "b.py", Status: "parse_error", Duration: time.Millisecond, Findings: 1, CacheResult: CacheHit})

	s := c.Stats()
	if s.TotalFiles != 2 || s.TotalFindings != 3 || s.TotalNodes != 10 {
		t.Errorf("unexpected totals: %+v", s)
	}
	if s.CacheHits != 1 || s.CacheMisses != 1 || s.CacheHitRate != 0.5 {
		t.Errorf("unexpected cache stats: %+v", s)
	}
	if s.ByStatus["ok"] != 1 || s.ByStatus["parse_error"] != 1 {
		t.Errorf("unexpected by-status: %v", s.ByStatus)
	}
	if s.FindingsPerFile != 1.5 {
		t.Errorf("FindingsPerFile = %v, want 1.5", s.FindingsPerFile)
	}
}

func TestCollector_Percentiles(t *testing.T) {
	c := NewCollector()
	for i := 1; i <= 100; i++ {
		c.Record(AuditEvent{Status: "ok", Duration: time.Duration(i) * time.Millisecond})
	}
	s := c.Stats()
	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"p50", s.P50DurationMs, 50},
		{"p95", s.P95DurationMs, 95},
		{"p99", s.P99DurationMs, 99},
		{"max", s.MaxDurationMs, 100},
		{"avg", s.AvgDurationMs, 50.5},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestCollector_Empty(t *testing.T) {
	s := NewCollector().Stats()
	if s.TotalFiles != 0 || s.P50DurationMs != 0 || s.CacheHitRate != 0 {
		t.Errorf("expected zero stats, got %+v", s)
	}
}

func TestCollector_Throughput(t *testing.T) {
	clock, advance := fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewCollector()
	c.now = clock
	c.Reset()
	for i := 0; i < 10; i++ {
		c.Record(AuditEvent{Status: "ok"})
	}
	advance(2 * time.Second)
	s := c.Stats()
	if s.FilesPerSecond != 5 {
		t.Errorf("FilesPerSecond = %v, want 5", s.FilesPerSecond)
	}
	if s.Elapsed != 2*time.Second {
		t.Errorf("Elapsed = %v", s.Elapsed)
	}
}

func TestCollector_MaxEvents(t *testing.T) {
	c := NewCollector(WithMaxEvents(10))
	for i := 0; i < 11; i++ {
		c.Record(AuditEvent{Status: "ok", Nodes: i})
	}
	events := c.Events(0)
	if len(events) != 10 {
		t.Fatalf("expected 10 retained events, got %d", len(events))
	}
	if events[0].Nodes != 1 {
		t.Errorf("expected oldest event dropped, first is %d", events[0].Nodes)
	}
	if c.Stats().TotalFiles != 11 {
		t.Error("counters must keep counting past the retention bound")
	}
	if got := c.Events(3); len(got) != 3 || got[2].Nodes != 10 {
		t.Errorf("Events(3) = %+v", got)
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Record(AuditEvent{Status: "ok", Findings: 1})
			}
		}()
	}
	wg.Wait()
	if s := c.Stats(); s.TotalFiles != 800 || s.TotalFindings != 800 {
		t.Errorf("unexpected totals: %+v", s)
	}
}

func TestCollector_Reset(t *testing.T) {
	c := NewCollector()
	c.Record(AuditEvent{Status: "ok"})
	c.Reset()
	if s := c.Stats(); s.TotalFiles != 0 || len(c.Events(0)) != 0 {
		t.Errorf("expected empty collector after reset: %+v", s)
	}
}

// ---------------------------------------------------------------------------
// Recorder
// ---------------------------------------------------------------------------

func TestRecorder_Observe(t *testing.T) {
	c := NewCollector()
	r, err := NewRecorder(c, true)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	r.ObserveAll(ctx, []engine.FileResult{
		{File: "a.py", Status: engine.StatusOK, Nodes: 12, Findings: make([]finding.Finding, 3), Duration: 2 * time.Millisecond},
		{File: "b.py", Status: engine.StatusOK, CacheHit: true},
		{File: "c.py", Status: engine.StatusParseError, Error: "bad syntax"},
	})

	events := c.Events(0)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Findings != 3 || events[0].CacheResult != CacheMiss {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].CacheResult != CacheHit {
		t.Errorf("expected cache hit, got %s", events[1].CacheResult)
	}
	if events[2].Error != "bad syntax" || events[2].Status != "parse_error" {
		t.Errorf("unexpected third event: %+v", events[2])
	}
}

func TestRecorder_CacheDisabled(t *testing.T) {
	c := NewCollector()
	r, err := NewRecorder(c, false)
	if err != nil {
		t.Fatal(err)
	}
	r.Observe(context.Background(), engine.FileResult{File: "a.py", Status: engine.StatusOK})
	if ev := c.Events(0)[0]; ev.CacheResult != CacheDisabled {
		t.Errorf("CacheResult = %s, want disabled", ev.CacheResult)
	}
	if s := c.Stats(); s.CacheHits+s.CacheMisses != 0 {
		t.Error("disabled cache must not count lookups")
	}
}

// ---------------------------------------------------------------------------
// Exporter
// ---------------------------------------------------------------------------

func populated() *Collector {
	c := NewCollector()
	c.Record(AuditEvent{File: "a.py", Status: "ok", Duration: 3 * time.Millisecond, Findings: 1, CacheResult: CacheMiss})
	c.Record(AuditEvent{File: "weird, name.py", Status: "parse_error", Error: `unexpected "token"`, CacheResult: CacheHit})
	return c
}

func TestExporter_WriteReport(t *testing.T) {
	var buf bytes.Buffer
	if err := NewExporter(populated()).WriteReport(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Files:          2", "Hit rate: 50.0%", "parse_error: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestExporter_WriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := NewExporter(populated()).WriteCSV(&buf); err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[2][0] != "weird, name.py" || rows[2][8] != `unexpected "token"` {
		t.Errorf("fields not escaped correctly: %v", rows[2])
	}
}

func TestExporter_ExportJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "metrics.json")
	if err := NewExporter(populated()).ExportJSON(path); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := NewExporter(populated()).WriteJSON(&buf); err != nil {
		t.Fatal(err)
	}
	var report struct {
		Stats  AggregateStats `json:"stats"`
		Events []AuditEvent   `json:"events"`
	}
	if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.Stats.TotalFiles != 2 || len(report.Events) != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
}
