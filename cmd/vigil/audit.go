package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chris-regnier/vigil/internal/audit"
	"github.com/chris-regnier/vigil/internal/config"
	"github.com/chris-regnier/vigil/internal/metrics"
	"github.com/chris-regnier/vigil/internal/output"
	"github.com/chris-regnier/vigil/internal/repo"
	"github.com/chris-regnier/vigil/internal/store"
)

var cliTracer = otel.Tracer("github.com/chris-regnier/vigil/cmd/vigil")

var (
	flagFormat       string
	flagDryRun       bool
	flagMinSeverity  string
	flagFailOn       string
	flagStats        bool
	flagStatsJSON    string
	flagStore        bool
	flagStoreBackend string
	flagStorePath    string
	flagOutput       string
	flagRepo         string
	flagBranch       string
	flagRegoDir      string
	flagRuleDirs     []string
	flagEnable       []string
	flagCache        bool
	flagNoCache      bool
	flagConcurrency  int
)

func init() {
	auditCmd := &cobra.Command{
		Use:   "audit [paths...]",
		Short: "Audit files and directories",
		Long: `Audit source files for hardcoded secrets, timing-unsafe comparisons,
missing rate limits, N+1 queries, blocking calls in loops and quadratic
string building. Paths default to the current directory.

With --repo the repository is shallow-cloned into a temporary directory,
paths are taken relative to the checkout, and the checkout is removed
afterwards. Set VIGIL_GIT_TOKEN to authenticate HTTPS clones.

Exits with status 2 when the gate fails.`,
		RunE: runAudit,
	}

	f := auditCmd.Flags()
	f.StringVarP(&flagFormat, "format", "f", "", "Output format: json, sarif, markdown, pretty (default: pretty on a terminal, json otherwise)")
	f.BoolVar(&flagDryRun, "dry-run", false, "List the files that would be audited and exit")
	f.StringVar(&flagMinSeverity, "min-severity", "", "Drop findings below this severity")
	f.StringVar(&flagFailOn, "fail-on", "", "Fail the gate on findings at or above this severity")
	f.BoolVar(&flagStats, "stats", false, "Print per-file timing and cache statistics to stderr")
	f.StringVar(&flagStatsJSON, "stats-json", "", "Write statistics as JSON to this file")
	f.BoolVar(&flagStore, "store", false, "Persist the SARIF log and verdict")
	f.StringVar(&flagStoreBackend, "store-backend", "", "Store backend: file or sqlite (default from config)")
	f.StringVar(&flagStorePath, "store-path", "", "Store location (default from config)")
	f.StringVarP(&flagOutput, "output", "o", "", "Write the report to this file instead of stdout")
	f.StringVar(&flagRepo, "repo", "", "Clone and audit this git repository URL")
	f.StringVar(&flagBranch, "branch", "", "Branch or reference to audit with --repo (default: remote HEAD)")
	f.StringVar(&flagRegoDir, "rego", projectRegoDir, "Directory containing Rego gate policies")
	f.StringSliceVar(&flagRuleDirs, "rules", nil, "Extra rule directories")
	f.StringSliceVar(&flagEnable, "enable", nil, "Run only these rule ids")
	f.BoolVar(&flagCache, "cache", false, "Cache per-file results")
	f.BoolVar(&flagNoCache, "no-cache", false, "Disable the result cache")
	f.IntVar(&flagConcurrency, "concurrency", 0, "Worker count (default: one per CPU)")

	rootCmd.AddCommand(auditCmd)
}

// applyAuditFlags lets command-line flags override the merged config.
func applyAuditFlags(cfg *config.Config) {
	if flagMinSeverity != "" {
		cfg.MinSeverity = flagMinSeverity
	}
	if flagFailOn != "" {
		cfg.FailOn = flagFailOn
	}
	if len(flagEnable) > 0 {
		cfg.Rules.Enabled = flagEnable
	}
	if len(flagRuleDirs) > 0 {
		cfg.Rules.Dirs = append(cfg.Rules.Dirs, flagRuleDirs...)
	}
	if flagConcurrency > 0 {
		cfg.Concurrency = flagConcurrency
	}
	switch {
	case flagNoCache:
		off := false
		cfg.Cache.Enabled = &off
	case flagCache:
		on := true
		cfg.Cache.Enabled = &on
	}
	applyStoreFlags(cfg)
}

func applyStoreFlags(cfg *config.Config) {
	if flagStoreBackend != "" {
		cfg.Store.Backend = flagStoreBackend
	}
	if flagStorePath != "" {
		cfg.Store.Path = flagStorePath
	}
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	paths := args
	if len(paths) == 0 {
		paths = []string{"."}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyAuditFlags(cfg)

	format := output.ResolveFormat(flagFormat, output.IsTerminal(os.Stdout))
	formatter, err := output.NewFormatter(format)
	if err != nil {
		return err
	}

	flush, err := startTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer flush()

	opts := []audit.Option{audit.WithPolicyDir(flagRegoDir)}
	if flagStore && !flagDryRun {
		st, err := store.Open(cfg.Store.Backend, cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()
		opts = append(opts, audit.WithStore(st))
	}

	a, err := newAuditor(ctx, cfg, opts...)
	if err != nil {
		return err
	}

	var checkout *repo.Checkout
	if flagRepo != "" {
		checkout, err = repo.Clone(ctx, repo.Options{
			URL:    flagRepo,
			Branch: flagBranch,
			Token:  os.Getenv("VIGIL_GIT_TOKEN"),
			Logger: logger,
		})
		if err != nil {
			return err
		}
		defer checkout.Close()
		paths = make([]string, 0, len(args)+1)
		for _, p := range args {
			paths = append(paths, filepath.Join(checkout.Dir, p))
		}
		if len(paths) == 0 {
			paths = append(paths, checkout.Dir)
		}
	}

	if flagDryRun {
		files, err := a.Plan(paths)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, f := range files {
			fmt.Fprintln(out, f)
		}
		logger.Info("dry run", "files", len(files))
		return nil
	}

	ctx, span := cliTracer.Start(ctx, "audit",
		trace.WithAttributes(attribute.StringSlice("vigil.paths", paths), attribute.String("vigil.format", format)))
	defer span.End()

	var report *audit.Report
	if checkout != nil {
		span.SetAttributes(attribute.String("vigil.repo.url", flagRepo), attribute.String("vigil.repo.commit", checkout.Commit))
		report, err = a.RunRooted(ctx, checkout.Dir, args)
	} else {
		report, err = a.Run(ctx, paths)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("auditing: %w", err)
	}

	data, err := formatter.Format(report)
	if err != nil {
		return fmt.Errorf("formatting output: %w", err)
	}
	if err := emitReport(cmd.OutOrStdout(), flagOutput, data); err != nil {
		return err
	}

	if err := writeStats(cmd, a.Collector()); err != nil {
		return err
	}
	if report.RunID != "" {
		logger.Info("run stored", "id", report.RunID, "backend", cfg.Store.Backend)
	}

	span.SetAttributes(attribute.String("vigil.decision", report.Verdict.Decision))
	if report.Failed() {
		return errGateFailed
	}
	return nil
}

// emitReport writes the formatted report to path, or to w when path is
// empty.
func emitReport(w io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := w.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	logger.Info("report written", "path", path, "bytes", len(data))
	return nil
}

func writeStats(cmd *cobra.Command, c *metrics.Collector) error {
	exp := metrics.NewExporter(c)
	if flagStats {
		if err := exp.WriteReport(cmd.ErrOrStderr()); err != nil {
			return fmt.Errorf("writing stats: %w", err)
		}
	}
	if flagStatsJSON != "" {
		if err := exp.ExportJSON(flagStatsJSON); err != nil {
			return fmt.Errorf("writing stats: %w", err)
		}
	}
	return nil
}
