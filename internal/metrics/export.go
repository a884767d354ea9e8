package metrics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// Exporter writes a Collector's contents in several formats.
type Exporter struct {
	collector *Collector
}

// NewExporter creates an Exporter over collector.
func NewExporter(collector *Collector) *Exporter {
	return &Exporter{collector: collector}
}

type jsonReport struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Stats       AggregateStats `json:"stats"`
	Events      []AuditEvent   `json:"events"`
}

// WriteJSON writes the stats and every retained event.
func (e *Exporter) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonReport{
		GeneratedAt: time.Now().UTC(),
		Stats:       e.collector.Stats(),
		Events:      e.collector.Events(0),
	})
}

// ExportJSON writes WriteJSON's output to path, creating parent directories.
func (e *Exporter) ExportJSON(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := e.WriteJSON(f); err != nil {
		f.Close()
		return fmt.Errorf("writing metrics: %w", err)
	}
	return f.Close()
}

// WriteReport writes a human-readable summary.
func (e *Exporter) WriteReport(w io.Writer) error {
	s := e.collector.Stats()

	fmt.Fprintf(w, "=== Audit stats ===\n")
	fmt.Fprintf(w, "Files:          %d (%.1f/s)\n", s.TotalFiles, s.FilesPerSecond)
	fmt.Fprintf(w, "Nodes:          %d\n", s.TotalNodes)
	fmt.Fprintf(w, "Raw findings:   %d (%.2f/file)\n", s.TotalFindings, s.FindingsPerFile)
	fmt.Fprintf(w, "Rule failures:  %d\n", s.TotalDiagnostics)
	fmt.Fprintf(w, "Elapsed:        %s\n\n", s.Elapsed.Round(time.Millisecond))

	fmt.Fprintf(w, "=== Latency per file ===\n")
	fmt.Fprintf(w, "Average:  %.2fms\n", s.AvgDurationMs)
	fmt.Fprintf(w, "P50:      %.2fms\n", s.P50DurationMs)
	fmt.Fprintf(w, "P95:      %.2fms\n", s.P95DurationMs)
	fmt.Fprintf(w, "P99:      %.2fms\n", s.P99DurationMs)
	fmt.Fprintf(w, "Max:      %.2fms\n\n", s.MaxDurationMs)

	if s.CacheHits+s.CacheMisses > 0 {
		fmt.Fprintf(w, "=== Cache ===\n")
		fmt.Fprintf(w, "Hits:     %d\n", s.CacheHits)
		fmt.Fprintf(w, "Misses:   %d\n", s.CacheMisses)
		fmt.Fprintf(w, "Hit rate: %.1f%%\n\n", s.CacheHitRate*100)
	}

	if len(s.ByStatus) > 0 {
		fmt.Fprintf(w, "=== By status ===\n")
		statuses := make([]string, 0, len(s.ByStatus))
		for st := range s.ByStatus {
			statuses = append(statuses, st)
		}
		sort.Strings(statuses)
		for _, st := range statuses {
			fmt.Fprintf(w, "%-12s %d\n", st+":", s.ByStatus[st])
		}
	}
	return nil
}

// WriteCSV writes one row per retained event.
func (e *Exporter) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"file", "timestamp", "status", "duration_ms", "nodes", "findings", "diagnostics", "cache_result", "error"}); err != nil {
		return err
	}
	for _, ev := range e.collector.Events(0) {
		row := []string{
			ev.File,
			ev.Timestamp.Format(time.RFC3339),
			ev.Status,
			strconv.FormatFloat(float64(ev.Duration)/float64(time.Millisecond), 'f', 3, 64),
			strconv.Itoa(ev.Nodes),
			strconv.Itoa(ev.Findings),
			strconv.Itoa(ev.Diagnostics),
			string(ev.CacheResult),
			ev.Error,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
