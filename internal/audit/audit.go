// Package audit runs a full audit: collect files, run the rule engine,
// aggregate and filter findings, evaluate the gate and persist the run.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/chris-regnier/vigil/internal/aggregate"
	"github.com/chris-regnier/vigil/internal/cache"
	"github.com/chris-regnier/vigil/internal/config"
	"github.com/chris-regnier/vigil/internal/engine"
	"github.com/chris-regnier/vigil/internal/evaluator"
	"github.com/chris-regnier/vigil/internal/facts"
	"github.com/chris-regnier/vigil/internal/finding"
	"github.com/chris-regnier/vigil/internal/input"
	"github.com/chris-regnier/vigil/internal/metrics"
	"github.com/chris-regnier/vigil/internal/rules"
	"github.com/chris-regnier/vigil/internal/sarif"
	"github.com/chris-regnier/vigil/internal/store"
	"github.com/chris-regnier/vigil/internal/suppress"
)

var auditTracer = otel.Tracer("github.com/chris-regnier/vigil/internal/audit")

// ToolName is the SARIF driver name.
const ToolName = "vigil"

// Auditor holds everything derived from one configuration. It is safe to
// call Run concurrently.
type Auditor struct {
	cfg     *config.Config
	set     *rules.Set
	engine  *engine.Engine
	handler *input.Handler
	eval    *evaluator.Evaluator
	cache   *cache.Results
	rec     *metrics.Recorder
	store   store.Store

	minSeverity finding.Severity
	failOn      finding.Severity

	ruleDirs  []string
	policyDir string
	version   string
	logger    *slog.Logger
	collector *metrics.Collector
}

type Option func(*Auditor)

// WithLogger sets the logger passed to every component.
func WithLogger(l *slog.Logger) Option { return func(a *Auditor) { a.logger = l } }

// WithVersion sets the tool version reported in SARIF and cache keys.
func WithVersion(v string) Option { return func(a *Auditor) { a.version = v } }

// WithRuleDirs adds rule directories ahead of the configured ones.
func WithRuleDirs(dirs ...string) Option {
	return func(a *Auditor) { a.ruleDirs = append(a.ruleDirs, dirs...) }
}

// WithPolicyDir loads Rego gate policies from dir.
func WithPolicyDir(dir string) Option { return func(a *Auditor) { a.policyDir = dir } }

// WithStore persists every run to s.
func WithStore(s store.Store) Option { return func(a *Auditor) { a.store = s } }

// WithCollector records per-file events into c.
func WithCollector(c *metrics.Collector) Option { return func(a *Auditor) { a.collector = c } }

// New validates cfg and builds an Auditor. Configuration problems are
// reported before any file is read.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Auditor, error) {
	a := &Auditor{cfg: cfg, version: "dev"}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.collector == nil {
		a.collector = metrics.NewCollector()
	}

	set, err := rules.LoadRuleDirs(append(append([]string(nil), a.ruleDirs...), cfg.Rules.Dirs...)...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(set.IDs()); err != nil {
		return nil, err
	}
	a.set = set
	a.minSeverity = severityOr(cfg.MinSeverity, finding.SeverityInfo)
	a.failOn = severityOr(cfg.FailOn, finding.SeverityCritical)

	reg, err := set.Registry(cfg.Rules.Enabled, cfg.Overrides())
	if err != nil {
		return nil, err
	}

	heur := set.Heuristics.WithCredentialNames(cfg.CredentialNamePatterns...)
	if cfg.EntropyThreshold > 0 {
		heur = heur.WithEntropyThreshold(cfg.EntropyThreshold)
	}

	a.handler, err = input.NewHandler(input.Options{
		Extensions:  cfg.Scanner.Extensions,
		Excludes:    cfg.Scanner.Excludes,
		MaxFileSize: cfg.Scanner.MaxFileSize,
		MaxFiles:    cfg.Scanner.MaxFiles,
		Logger:      a.logger,
	})
	if err != nil {
		return nil, &config.Error{Field: "scanner.excludes", Msg: err.Error()}
	}

	engOpts := []engine.Option{
		engine.WithHeuristics(heur),
		engine.WithLogger(a.logger),
	}
	if cfg.Concurrency > 0 {
		engOpts = append(engOpts, engine.WithConcurrency(cfg.Concurrency))
	}
	if cfg.Cache.On() {
		fp, err := a.fingerprint(heur)
		if err != nil {
			return nil, err
		}
		var storage cache.Storage = cache.NewLocalStorage(cfg.Cache.Dir)
		if cfg.Cache.Remote != "" {
			storage = cache.NewRemoteStorage(cfg.Cache.Remote, cache.WithToken(cfg.Cache.Token))
		}
		a.cache = cache.NewResults(storage, cache.WithLogger(a.logger))
		engOpts = append(engOpts, engine.WithCache(a.cache, fp))
	}
	a.engine = engine.New(reg, engOpts...)

	a.rec, err = metrics.NewRecorder(a.collector, a.cache != nil)
	if err != nil {
		return nil, fmt.Errorf("creating metrics recorder: %w", err)
	}

	a.eval, err = evaluator.NewEvaluator(ctx, a.policyDir)
	if err != nil {
		return nil, fmt.Errorf("creating evaluator: %w", err)
	}
	return a, nil
}

func severityOr(s string, def finding.Severity) finding.Severity {
	if s == "" {
		return def
	}
	sev, err := finding.ParseSeverity(s)
	if err != nil {
		return def
	}
	return sev
}

// fingerprint covers everything a cached file result depends on besides
// the file itself.
func (a *Auditor) fingerprint(heur facts.Heuristics) (string, error) {
	rulesYAML, err := yaml.Marshal(a.set.Rules)
	if err != nil {
		return "", err
	}
	heurYAML, err := yaml.Marshal(heur)
	if err != nil {
		return "", err
	}
	selection, err := yaml.Marshal(a.cfg.Rules)
	if err != nil {
		return "", err
	}
	return cache.Fingerprint(a.version, string(rulesYAML), string(heurYAML), string(selection)), nil
}

// Rules returns the loaded rule set.
func (a *Auditor) Rules() *rules.Set { return a.set }

// Registry returns the enabled, compiled rules.
func (a *Auditor) Registry() *engine.Registry { return a.engine.Registry() }

// Collector returns the per-file metrics collector.
func (a *Auditor) Collector() *metrics.Collector { return a.collector }

// Cache returns the result cache, or nil when caching is off.
func (a *Auditor) Cache() *cache.Results { return a.cache }

// Store returns the run store, or nil when runs are not persisted.
func (a *Auditor) Store() store.Store { return a.store }

// FailOn is the severity at which the gate fails.
func (a *Auditor) FailOn() finding.Severity { return a.failOn }

// Plan lists the files Run would audit, without reading them.
func (a *Auditor) Plan(paths []string) ([]string, error) {
	return a.handler.List(paths)
}

// Run audits the files and directories in paths.
func (a *Auditor) Run(ctx context.Context, paths []string) (*Report, error) {
	artifacts, skipped, err := a.handler.Collect(paths)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return a.RunArtifacts(ctx, artifacts, skipped)
}

// RunRooted audits paths inside root, such as a fresh checkout, and reports
// file paths relative to root. An empty paths means all of root.
func (a *Auditor) RunRooted(ctx context.Context, root string, paths []string) (*Report, error) {
	if len(paths) == 0 {
		paths = []string{"."}
	}
	full := make([]string, len(paths))
	for i, p := range paths {
		full[i] = filepath.Join(root, p)
		if rel, err := filepath.Rel(root, full[i]); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("path %q is outside %s", p, root)
		}
	}
	artifacts, skipped, err := a.handler.Collect(full)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	for i := range artifacts {
		artifacts[i].Path = relTo(root, artifacts[i].Path)
	}
	for i := range skipped {
		skipped[i].Path = relTo(root, skipped[i].Path)
	}
	return a.RunArtifacts(ctx, artifacts, skipped)
}

func relTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// RunArtifacts audits already collected sources. skipped files are carried
// into the report.
func (a *Auditor) RunArtifacts(ctx context.Context, artifacts []input.Artifact, skipped []input.Skipped) (*Report, error) {
	ctx, span := auditTracer.Start(ctx, "audit run",
		trace.WithAttributes(attribute.Int("vigil.files", len(artifacts))))
	defer span.End()

	start := time.Now()
	sup := suppress.New(a.cfg.Suppressions)
	units := make([]engine.Unit, len(artifacts))
	for i, art := range artifacts {
		sup.AddSource(art.Path, art.Source)
		units[i] = engine.Unit{Path: art.Path, Source: art.Source}
	}

	results, err := a.engine.Run(ctx, units)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	a.rec.ObserveAll(ctx, results)

	agg := aggregate.New()
	raw := 0
	for _, r := range results {
		raw += len(r.Findings)
		if err := agg.Collect(r.Findings); err != nil {
			return nil, err
		}
	}
	kept := agg.Finalize(sup.Suppressed)
	findings := aggregate.FilterMinSeverity(kept, a.minSeverity)

	report := &Report{
		Findings:   findings,
		Files:      fileStatuses(results, skipped),
		Summary:    aggregate.Summarize(findings),
		Suppressed: raw - len(kept),
		Filtered:   len(kept) - len(findings),
		FailOn:     a.failOn,
	}
	for _, r := range results {
		report.Diagnostics = append(report.Diagnostics, r.Diagnostics...)
		switch r.Status {
		case engine.StatusOK:
			report.FilesAnalyzed++
		case engine.StatusParseError:
			report.FilesFailed++
		default:
			report.FilesSkipped++
		}
	}
	report.FilesSkipped += len(skipped)

	report.Verdict, err = a.eval.Evaluate(ctx, findings, a.failOn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("evaluating: %w", err)
	}
	report.SARIF = a.assemble(report)

	if a.store != nil {
		id, err := a.store.WriteSARIF(ctx, report.SARIF)
		if err != nil {
			return nil, fmt.Errorf("storing SARIF: %w", err)
		}
		if err := a.store.WriteVerdict(ctx, id, report.Verdict); err != nil {
			return nil, fmt.Errorf("storing verdict: %w", err)
		}
		report.RunID = id
	}
	report.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("vigil.findings", len(findings)),
		attribute.Int("vigil.files_failed", report.FilesFailed),
		attribute.String("vigil.decision", report.Verdict.Decision),
	)
	a.logger.Info("audit complete",
		"files", report.FilesAnalyzed,
		"findings", len(findings),
		"suppressed", report.Suppressed,
		"decision", report.Verdict.Decision,
		"duration", report.Duration)
	return report, nil
}

func (a *Auditor) assemble(r *Report) *sarif.Log {
	metas := make([]engine.Meta, 0, a.Registry().Len())
	for _, rule := range a.Registry().Rules() {
		metas = append(metas, rule.Meta)
	}
	asm := sarif.NewAssembler(ToolName, a.version).
		AddRules(metas...).
		AddFindings(r.Findings...).
		WithProperty("vigil/decision", r.Verdict.Decision).
		WithProperty("vigil/failOn", r.FailOn.String())
	for _, f := range r.Files {
		if f.Status == engine.StatusUnsupported || f.Status == engine.StatusSkipped {
			asm.AddProblems(sarif.FileProblem{File: f.File, Status: string(f.Status), Detail: f.Detail})
		}
	}
	return asm.Build()
}
