package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/chris-regnier/vigil/internal/facts"
	"github.com/chris-regnier/vigil/internal/finding"
	"github.com/chris-regnier/vigil/internal/node"
	"github.com/chris-regnier/vigil/internal/parse"
)

var engineTracer = otel.Tracer("github.com/chris-regnier/vigil/internal/engine")

// Status describes what happened to one file.
type Status string

const (
	StatusOK          Status = "ok"
	StatusParseError  Status = "parse_error"
	StatusUnsupported Status = "unsupported"
	StatusSkipped     Status = "skipped"
)

// Unit is one file to audit: raw source, or an already lowered tree.
type Unit struct {
	Path   string
	Source []byte
	Tree   *node.Tree
}

// FileResult is the outcome for one file. Findings are in traversal order;
// the aggregator sorts them.
type FileResult struct {
	File        string            `json:"file"`
	Status      Status            `json:"status"`
	Findings    []finding.Finding `json:"findings,omitempty"`
	Diagnostics []*RuleError      `json:"diagnostics,omitempty"`
	Err         error             `json:"-"`
	Error       string            `json:"error,omitempty"`
	Nodes       int               `json:"nodes"`
	Duration    time.Duration     `json:"duration_ns"`
	CacheHit    bool              `json:"cache_hit,omitempty"`
}

// RuleError records a rule predicate that panicked. The rule is treated as
// not having fired for that node.
type RuleError struct {
	RuleID string      `json:"rule_id"`
	Kind   node.Kind   `json:"-"`
	Span   node.Span   `json:"span"`
	Value  interface{} `json:"-"`
	Detail string      `json:"detail"`
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %s failed on %s at %s: %v", e.RuleID, e.Kind, e.Span, e.Value)
}

// Cache stores per-file results keyed by content and configuration.
type Cache interface {
	Get(ctx context.Context, key string) (*FileResult, bool)
	Put(ctx context.Context, key string, r *FileResult)
}

// Engine runs the fact pass and the rule pass over files.
type Engine struct {
	reg         *Registry
	heur        facts.Heuristics
	parser      parse.Parser
	logger      *slog.Logger
	concurrency int
	cache       Cache
	fingerprint string
}

// Option configures an Engine.
type Option func(*Engine)

// WithHeuristics sets the name and literal pattern data.
func WithHeuristics(h facts.Heuristics) Option { return func(e *Engine) { e.heur = h } }

// WithParser replaces the tree-sitter parser.
func WithParser(p parse.Parser) Option { return func(e *Engine) { e.parser = p } }

// WithLogger sets the logger for rule diagnostics.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithConcurrency bounds the number of files audited at once.
func WithConcurrency(n int) Option { return func(e *Engine) { e.concurrency = n } }

// WithCache enables per-file result caching. fingerprint must change
// whenever the rule configuration does.
func WithCache(c Cache, fingerprint string) Option {
	return func(e *Engine) {
		e.cache = c
		e.fingerprint = fingerprint
	}
}

// New creates an Engine over reg.
func New(reg *Registry, opts ...Option) *Engine {
	e := &Engine{reg: reg}
	for _, o := range opts {
		o(e)
	}
	if e.parser == nil {
		e.parser = parse.NewTreeSitter()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.concurrency <= 0 {
		e.concurrency = runtime.NumCPU()
	}
	return e
}

// Registry returns the engine's rule registry.
func (e *Engine) Registry() *Registry { return e.reg }

// Check audits one tree: the fact table is built completely, then every
// node is visited in post-order and handed to its subscribed rules.
func (e *Engine) Check(tree *node.Tree) ([]finding.Finding, []*RuleError) {
	tbl := facts.Build(tree, e.heur)

	var out []finding.Finding
	var diags []*RuleError
	seen := make(map[finding.Key]bool)
	tree.Root.PostOrder(func(n *node.Node) {
		rules := e.reg.For(n.Kind)
		if len(rules) == 0 {
			return
		}
		m := &Match{Node: n, Scope: tbl.ScopeOf(n), Facts: tbl, File: tree.File}
		for _, r := range rules {
			hits, rerr := invoke(r, m)
			if rerr != nil {
				e.logger.Warn("rule failed", "rule", r.ID, "path", tree.File, "line", n.Span.Start.Line, "error", rerr.Value)
				diags = append(diags, rerr)
				continue
			}
			for _, h := range hits {
				f := r.finding(m, h, e.reg.Order(r.ID))
				if seen[f.Key()] {
					continue
				}
				seen[f.Key()] = true
				out = append(out, f)
			}
		}
	})
	return out, diags
}

func invoke(r *Rule, m *Match) (hits []Hit, rerr *RuleError) {
	defer func() {
		if v := recover(); v != nil {
			hits = nil
			rerr = &RuleError{
				RuleID: r.ID,
				Kind:   m.Node.Kind,
				Span:   m.Node.Span,
				Value:  v,
				Detail: fmt.Sprint(v),
			}
		}
	}()
	return r.Match(m), nil
}

// Run audits units on a bounded worker pool. Each worker fills only its own
// result slot, so completion order never affects the output. The context
// is checked between files; a cancelled run returns ctx.Err() and no
// partial results.
func (e *Engine) Run(ctx context.Context, units []Unit) ([]FileResult, error) {
	results := make([]FileResult, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, u := range units {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r := e.auditUnit(gctx, u)
			if r.Err != nil && (errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded)) {
				return r.Err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// AuditFile audits a single unit.
func (e *Engine) AuditFile(ctx context.Context, u Unit) FileResult {
	return e.auditUnit(ctx, u)
}

func (e *Engine) auditUnit(ctx context.Context, u Unit) FileResult {
	ctx, span := engineTracer.Start(ctx, "audit file",
		trace.WithAttributes(attribute.String("vigil.file", u.Path)))
	defer span.End()

	start := time.Now()
	res := e.process(ctx, u)
	res.Duration = time.Since(start)
	if res.Err != nil {
		res.Error = res.Err.Error()
	}

	span.SetAttributes(
		attribute.String("vigil.status", string(res.Status)),
		attribute.Int("vigil.findings", len(res.Findings)),
		attribute.Bool("vigil.cache_hit", res.CacheHit),
	)
	if res.Status == StatusParseError {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Error)
	}
	return res
}

func (e *Engine) process(ctx context.Context, u Unit) FileResult {
	res := FileResult{File: u.Path, Status: StatusOK}
	tree := u.Tree

	var key string
	if tree == nil {
		if e.cache != nil {
			key = e.cacheKey(u)
			if hit, ok := e.cache.Get(ctx, key); ok {
				r := *hit
				r.File = u.Path
				r.CacheHit = true
				return r
			}
		}
		t, err := e.parser.Parse(ctx, u.Path, u.Source)
		if err != nil {
			return e.parseFailure(ctx, u, key, err)
		}
		tree = t
	}

	res.Findings, res.Diagnostics = e.Check(tree)
	res.Nodes = tree.Size
	if key != "" {
		e.cache.Put(ctx, key, &res)
	}
	return res
}

func (e *Engine) parseFailure(ctx context.Context, u Unit, key string, err error) FileResult {
	res := FileResult{File: u.Path, Err: err}
	var perr *parse.Error
	switch {
	case errors.Is(err, parse.ErrUnsupported):
		res.Status = StatusUnsupported
		return res
	case errors.As(err, &perr):
		res.Status = StatusParseError
		res.Findings = []finding.Finding{ParseErrorFinding(perr, e.reg.Len())}
	default:
		if ctx.Err() != nil {
			res.Err = ctx.Err()
		}
		res.Status = StatusParseError
		res.Findings = []finding.Finding{ParseErrorFinding(&parse.Error{File: u.Path, Line: 1, Column: 1, Msg: err.Error()}, e.reg.Len())}
		return res
	}
	e.logger.Info("file could not be parsed", "path", u.Path, "error", err)
	if key != "" {
		e.cache.Put(ctx, key, &res)
	}
	return res
}

// ParseErrorFinding is the informational finding recorded for a file that
// could not be parsed.
func ParseErrorFinding(perr *parse.Error, order int) finding.Finding {
	return finding.Finding{
		RuleID:   finding.ParseErrorRule,
		Severity: finding.SeverityNone,
		Category: finding.CategoryDiagnostic,
		File:     perr.File,
		Span:     node.Span{File: perr.File, Start: node.Pos{Line: perr.Line, Column: perr.Column}, End: node.Pos{Line: perr.Line, Column: perr.Column}},
		Message:  "file could not be analyzed: " + perr.Msg,
		Order:    order,
	}
}

func (e *Engine) cacheKey(u Unit) string {
	h := sha256.New()
	h.Write([]byte(e.fingerprint))
	h.Write([]byte{0})
	h.Write([]byte(u.Path))
	h.Write([]byte{0})
	h.Write(u.Source)
	return hex.EncodeToString(h.Sum(nil))
}
