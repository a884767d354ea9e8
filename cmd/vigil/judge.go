package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chris-regnier/vigil/internal/evaluator"
	"github.com/chris-regnier/vigil/internal/finding"
	"github.com/chris-regnier/vigil/internal/store"
)

var (
	flagJudgeResult  string
	flagJudgeRegoDir string
	flagJudgeFailOn  string
)

func init() {
	judgeCmd := &cobra.Command{
		Use:   "judge",
		Short: "Re-evaluate a stored audit run with Rego policies",
		Long: `Evaluate a previously stored audit run against the current Rego gate
policies and store the new verdict. By default evaluates the most recent run.`,
		Args: cobra.NoArgs,
		RunE: runJudge,
	}

	judgeCmd.Flags().StringVar(&flagJudgeResult, "result", "", "Run ID to evaluate (default: most recent)")
	judgeCmd.Flags().StringVar(&flagJudgeRegoDir, "rego", projectRegoDir, "Directory containing Rego gate policies")
	judgeCmd.Flags().StringVar(&flagJudgeFailOn, "fail-on", "", "Fail the gate on findings at or above this severity")
	judgeCmd.Flags().StringVar(&flagStoreBackend, "store-backend", "", "Store backend: file or sqlite (default from config)")
	judgeCmd.Flags().StringVar(&flagStorePath, "store-path", "", "Store location (default from config)")

	rootCmd.AddCommand(judgeCmd)
}

func runJudge(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyStoreFlags(cfg)
	if flagJudgeFailOn != "" {
		cfg.FailOn = flagJudgeFailOn
	}
	failOn, err := finding.ParseSeverity(cfg.FailOn)
	if err != nil {
		return fmt.Errorf("invalid fail_on: %w", err)
	}

	flush, err := startTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer flush()

	st, err := store.Open(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	// Resolve run ID: use provided or find most recent
	runID := flagJudgeResult
	if runID == "" {
		ids, err := st.List(ctx)
		if err != nil {
			return fmt.Errorf("listing runs: %w", err)
		}
		if len(ids) == 0 {
			return fmt.Errorf("no stored runs found in %s", cfg.Store.Path)
		}
		runID = ids[0] // List returns newest first
	}

	ctx, span := cliTracer.Start(ctx, "judge",
		trace.WithAttributes(attribute.String("vigil.run_id", runID)))
	defer span.End()

	verdict, err := judge(ctx, st, runID, flagJudgeRegoDir, failOn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.String("vigil.decision", verdict.Decision))

	out, _ := json.MarshalIndent(verdict, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if verdict.Decision == evaluator.DecisionFail {
		return errGateFailed
	}
	return nil
}

// judge evaluates the findings stored for runID and replaces its verdict.
func judge(ctx context.Context, st store.Store, runID, regoDir string, failOn finding.Severity) (*store.Verdict, error) {
	doc, err := st.ReadSARIF(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("reading SARIF for %s: %w", runID, err)
	}

	eval, err := evaluator.NewEvaluator(ctx, regoDir)
	if err != nil {
		return nil, fmt.Errorf("creating evaluator: %w", err)
	}
	verdict, err := eval.Evaluate(ctx, doc.Findings(), failOn)
	if err != nil {
		return nil, fmt.Errorf("evaluating: %w", err)
	}

	if err := st.WriteVerdict(ctx, runID, verdict); err != nil {
		return nil, fmt.Errorf("storing verdict: %w", err)
	}
	return verdict, nil
}
