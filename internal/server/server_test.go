package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chris-regnier/vigil/internal/audit"
	"github.com/chris-regnier/vigil/internal/cache"
	"github.com/chris-regnier/vigil/internal/config"
	"github.com/chris-regnier/vigil/internal/store"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, store.Store) {
	t.Helper()
	st := store.NewFileStore(t.TempDir())
	a, err := audit.New(context.Background(), config.SystemDefaults(),
		audit.WithStore(st), audit.WithLogger(quiet()))
	require.NoError(t, err)
	opts = append([]Option{WithLogger(quiet())}, opts...)
	srv := httptest.NewServer(New(a, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func authSource(t *testing.T) string {
	t.Helper()
	src, err := os.ReadFile("../audit/testdata/project/app/auth.py")
	require.NoError(t, err)
	return string(src)
}

func postAudit(t *testing.T, url string, files map[string]string) *http.Response {
	t.Helper()
	body, err := json.Marshal(AuditRequest{Files: files})
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// ---------------------------------------------------------------------------
// Health and rules
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, WithToken("secret"))
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is not behind the token")
}

func TestRules(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/rules")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Rules []RuleInfo `json:"rules"`
	}
	decode(t, resp, &body)
	require.NotEmpty(t, body.Rules)
	ids := make(map[string]bool)
	for _, r := range body.Rules {
		ids[r.ID] = true
	}
	assert.True(t, ids["hardcoded-secret"])

	resp, err = http.Get(srv.URL + "/v1/rules/hardcoded-secret")
	require.NoError(t, err)
	defer resp.Body.Close()
	var rule RuleInfo
	decode(t, resp, &rule)
	assert.Equal(t, "critical", rule.Severity)
	assert.Equal(t, "security", rule.Category)
	assert.NotEmpty(t, rule.Explanation)

	resp, err = http.Get(srv.URL + "/v1/rules/no-such-rule")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

func TestAudit_JSON(t *testing.T) {
	srv, st := newTestServer(t)
	resp := postAudit(t, srv.URL+"/v1/audit", map[string]string{
		"app/auth.py": authSource(t),
		"app/util.py": "def add(a, b):\n    return a + b\n",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "fail", resp.Header.Get("X-Vigil-Decision"))

	var report audit.Report
	decode(t, resp, &report)
	assert.Len(t, report.Findings, 3)
	assert.Equal(t, 2, report.FilesAnalyzed)
	require.NotNil(t, report.Verdict)
	assert.Equal(t, "fail", report.Verdict.Decision)
	require.NotEmpty(t, report.RunID)
	assert.Equal(t, report.RunID, resp.Header.Get("X-Vigil-Run"))

	v, err := st.ReadVerdict(context.Background(), report.RunID)
	require.NoError(t, err)
	assert.Equal(t, "fail", v.Decision)
}

func TestAudit_Markdown(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postAudit(t, srv.URL+"/v1/audit?format=markdown", map[string]string{"auth.py": authSource(t)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/markdown"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "## Vigil Audit Summary")
}

func TestAudit_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t, WithMaxBodySize(1024))

	tests := []struct {
		name   string
		url    string
		body   string
		status int
	}{
		{"malformed body", "/v1/audit", "{", http.StatusBadRequest},
		{"no files", "/v1/audit", `{"files":{}}`, http.StatusBadRequest},
		{"unknown format", "/v1/audit?format=xml", `{"files":{"a.py":"x = 1"}}`, http.StatusBadRequest},
		{"pretty format", "/v1/audit?format=pretty", `{"files":{"a.py":"x = 1"}}`, http.StatusBadRequest},
		{"too large", "/v1/audit", `{"files":{"a.py":"` + strings.Repeat("x", 2048) + `"}}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+tt.url, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			var body map[string]string
			decode(t, resp, &body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestAuth(t *testing.T) {
	srv, _ := newTestServer(t, WithToken("secret"))

	resp, err := http.Get(srv.URL + "/v1/rules")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/rules", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// ---------------------------------------------------------------------------
// Runs
// ---------------------------------------------------------------------------

func TestRuns(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postAudit(t, srv.URL+"/v1/audit", map[string]string{"auth.py": authSource(t)})
	var report audit.Report
	decode(t, resp, &report)

	resp, err := http.Get(srv.URL + "/v1/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	var runs map[string][]string
	decode(t, resp, &runs)
	assert.Equal(t, []string{report.RunID}, runs["runs"])

	resp, err = http.Get(srv.URL + "/v1/runs/" + report.RunID + "/sarif")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc struct {
		Runs []struct {
			Results []json.RawMessage `json:"results"`
		} `json:"runs"`
	}
	decode(t, resp, &doc)
	require.Len(t, doc.Runs, 1)
	assert.Len(t, doc.Runs[0].Results, 3)

	resp, err = http.Get(srv.URL + "/v1/runs/missing/verdict")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

func TestCache_NotServed(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/v1/cache/abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCache_WithRemoteStorage(t *testing.T) {
	backing := cache.NewLocalStorage(t.TempDir())
	srv, _ := newTestServer(t, WithCacheStorage(backing), WithToken("secret"))
	remote := cache.NewRemoteStorage(srv.URL, cache.WithToken("secret"))
	ctx := context.Background()

	_, err := remote.Get(ctx, "abc123")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)

	require.NoError(t, remote.Put(ctx, "abc123", []byte(`{"v":1}`)))
	got, err := backing.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(got))

	keys, err := remote.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc123"}, keys)

	require.NoError(t, remote.Delete(ctx, "abc123"))
	_, err = backing.Get(ctx, "abc123")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
	require.NoError(t, remote.Ping(ctx))

	assert.Error(t, remote.Put(ctx, "abc", []byte("not json")))
}

func TestCache_SharedBetweenAuditors(t *testing.T) {
	backing := cache.NewLocalStorage(t.TempDir())
	srv, _ := newTestServer(t, WithCacheStorage(backing))

	on := true
	cfg := config.SystemDefaults()
	cfg.Cache = config.CacheConfig{Enabled: &on, Remote: srv.URL}

	run := func() *audit.Report {
		a, err := audit.New(context.Background(), cfg, audit.WithLogger(quiet()))
		require.NoError(t, err)
		r, err := a.Run(context.Background(), []string{"../audit/testdata/project/app/auth.py"})
		require.NoError(t, err)
		return r
	}
	first := run()
	require.Len(t, first.Files, 1)
	assert.False(t, first.Files[0].CacheHit)

	second := run()
	assert.True(t, second.Files[0].CacheHit, "a fresh auditor reads through the server")
	assert.Equal(t, len(first.Findings), len(second.Findings))
}
