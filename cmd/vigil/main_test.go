package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/chris-regnier/vigil/internal/audit"
	"github.com/chris-regnier/vigil/internal/config"
	"github.com/chris-regnier/vigil/internal/finding"
	"github.com/chris-regnier/vigil/internal/rules"
	"github.com/chris-regnier/vigil/internal/store"
)

const authFixture = "../../internal/audit/testdata/project/app/auth.py"

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, 0},
		{errors.New("boom"), 1},
		{errGateFailed, 2},
		{fmt.Errorf("wrapped: %w", errGateFailed), 2},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// init
// ---------------------------------------------------------------------------

func TestWriteInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", ".vigil.yaml")
	require.NoError(t, writeInitConfig(path, false))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	assert.Equal(t, "critical", cfg.FailOn)

	err = writeInitConfig(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, os.WriteFile(path, []byte("fail_on: info\n"), 0644))
	require.NoError(t, writeInitConfig(path, true))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultYAML, string(data))
}

// ---------------------------------------------------------------------------
// rules / explain
// ---------------------------------------------------------------------------

func builtinSet(t *testing.T) *rules.Set {
	t.Helper()
	set, err := rules.LoadRuleDirs()
	require.NoError(t, err)
	return set
}

func TestRuleRows(t *testing.T) {
	cfg := config.SystemDefaults()
	cfg.Rules.Enabled = []string{"hardcoded-secret"}
	cfg.Rules.SeverityOverrides = map[string]string{"weak-comparison": "info"}

	rows := ruleRows(builtinSet(t), cfg, string(finding.CategorySecurity))
	byID := make(map[string]ruleRow)
	for _, r := range rows {
		assert.Equal(t, "security", r.Category)
		byID[r.ID] = r
	}
	require.Contains(t, byID, "hardcoded-secret")
	require.Contains(t, byID, "weak-comparison")
	assert.NotContains(t, byID, "quadratic-concat")

	assert.True(t, byID["hardcoded-secret"].Enabled)
	assert.False(t, byID["weak-comparison"].Enabled)
	assert.Equal(t, "info", byID["weak-comparison"].Severity)

	var b strings.Builder
	writeRuleTable(&b, rows)
	assert.True(t, strings.HasPrefix(b.String(), "ID "))
	assert.Contains(t, b.String(), "hardcoded-secret")
}

func TestRuleMarkdown(t *testing.T) {
	r, ok := builtinSet(t).Get("hardcoded-secret")
	require.True(t, ok)
	md := ruleMarkdown(&r)
	assert.True(t, strings.HasPrefix(md, "# hardcoded-secret\n"))
	assert.Contains(t, md, "- Severity: `critical`")
	assert.Contains(t, md, "## Why it matters")
	assert.Contains(t, md, "## How to fix")
}

func TestRenderMarkdown(t *testing.T) {
	out, err := renderMarkdown("# Title\n\nSome *text*.", 60)
	require.NoError(t, err)
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "text")
}

// ---------------------------------------------------------------------------
// audit flags
// ---------------------------------------------------------------------------

func TestApplyAuditFlags(t *testing.T) {
	t.Cleanup(func() {
		flagMinSeverity, flagFailOn, flagEnable, flagNoCache, flagStorePath, flagStoreBackend = "", "", nil, false, "", ""
		flagOutput = ""
	})
	flagMinSeverity = "warning"
	flagFailOn = "info"
	flagEnable = []string{"weak-comparison"}
	flagNoCache = true
	flagStorePath = "/tmp/runs"
	flagOutput = "report.json"
	flagStoreBackend = "sqlite"

	cfg := config.SystemDefaults()
	on := true
	cfg.Cache.Enabled = &on
	applyAuditFlags(cfg)

	assert.Equal(t, "warning", cfg.MinSeverity)
	assert.Equal(t, "info", cfg.FailOn)
	assert.Equal(t, []string{"weak-comparison"}, cfg.Rules.Enabled)
	assert.False(t, cfg.Cache.On())
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "/tmp/runs", cfg.Store.Path, "--output names the report file, not the store")
}

func TestEmitReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, emitReport(&buf, "", []byte(`{"ok":true}`)))
	assert.Equal(t, `{"ok":true}`, buf.String())

	path := filepath.Join(t.TempDir(), "report.sarif")
	buf.Reset()
	require.NoError(t, emitReport(&buf, path, []byte(`{"version":"2.1.0"}`)))
	assert.Empty(t, buf.String(), "stdout stays empty when writing to a file")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"version":"2.1.0"}`, string(data))

	err = emitReport(&buf, filepath.Join(t.TempDir(), "missing", "r.json"), []byte("x"))
	assert.ErrorContains(t, err, "writing report")
}

// ---------------------------------------------------------------------------
// judge
// ---------------------------------------------------------------------------

func TestJudge(t *testing.T) {
	ctx := context.Background()
	st := store.NewFileStore(t.TempDir())

	cfg := config.SystemDefaults()
	cfg.Rules.Enabled = []string{"weak-comparison"}
	a, err := audit.New(ctx, cfg, audit.WithStore(st), audit.WithLogger(logger))
	require.NoError(t, err)
	report, err := a.Run(ctx, []string{authFixture})
	require.NoError(t, err)
	require.Equal(t, "review", report.Verdict.Decision)

	v, err := judge(ctx, st, report.RunID, "", finding.SeverityWarning)
	require.NoError(t, err)
	assert.Equal(t, "fail", v.Decision)
	assert.Len(t, v.RelevantFindings, 1)

	stored, err := st.ReadVerdict(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, "fail", stored.Decision)

	_, err = judge(ctx, st, "missing", "", finding.SeverityCritical)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
