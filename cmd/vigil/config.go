package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chris-regnier/vigil/internal/audit"
	"github.com/chris-regnier/vigil/internal/config"
	"github.com/chris-regnier/vigil/internal/rules"
	"github.com/chris-regnier/vigil/internal/telemetry"
)

const (
	projectConfigFile = ".vigil.yaml"
	projectRulesDir   = ".vigil/rules"
	projectRegoDir    = ".vigil/rego"
)

// machineDir is ~/.config/vigil.
func machineDir() string {
	return os.ExpandEnv("$HOME/.config/vigil")
}

// loadConfig merges the built-in defaults, the machine config and the
// project config named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadTiered(filepath.Join(machineDir(), "vigil.yaml"), flagConfig)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg.Telemetry.ServiceVersion = version
	return cfg, nil
}

// ruleDirs lists the user and project rule directories, lowest precedence
// first.
func ruleDirs() []string {
	return []string{filepath.Join(machineDir(), "rules"), projectRulesDir}
}

func loadRuleSet(cfg *config.Config) (*rules.Set, error) {
	set, err := rules.LoadRuleDirs(append(ruleDirs(), cfg.Rules.Dirs...)...)
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}
	return set, nil
}

func newAuditor(ctx context.Context, cfg *config.Config, opts ...audit.Option) (*audit.Auditor, error) {
	base := []audit.Option{
		audit.WithLogger(logger),
		audit.WithVersion(version),
		audit.WithRuleDirs(ruleDirs()...),
	}
	a, err := audit.New(ctx, cfg, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return a, nil
}

// startTelemetry initializes telemetry and returns a function that flushes
// it with a bounded timeout.
func startTelemetry(ctx context.Context, cfg *config.Config) (func(), error) {
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown error", "error", err)
		}
	}, nil
}
