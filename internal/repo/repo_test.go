package repo

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// seedRepo creates a repository with one commit holding files.
func seedRepo(t *testing.T, files map[string]string) (string, plumbing.Hash) {
	t.Helper()
	dir := t.TempDir()
	r, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	wt, err := r.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}
	for path, content := range files {
		abs := filepath.Join(dir, path)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := wt.Add(path); err != nil {
			t.Fatalf("add %s: %v", path, err)
		}
	}
	hash, err := wt.Commit("seed", &git.CommitOptions{
		Author: &object.Signature{Name: "vigil", Email: "vigil@example.com", When: time.Unix(1700000000, 0)},
	})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return dir, hash
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("local clones need git-upload-pack")
	}
}

// ---------------------------------------------------------------------------
// Clone
// ---------------------------------------------------------------------------

func TestClone_LocalRepository(t *testing.T) {
	requireGit(t)
	src, hash := seedRepo(t, map[string]string{
		"app/auth.py": "API_KEY = 'sk-live-abc123secret456'\n",
		"README.md":   "# demo\n",
	})

	co, err := Clone(context.Background(), Options{URL: src, TempRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if co.Commit != hash.String() {
		t.Errorf("commit = %s, want %s", co.Commit, hash)
	}
	if co.Branch != "master" {
		t.Errorf("branch = %q, want master", co.Branch)
	}
	data, err := os.ReadFile(filepath.Join(co.Dir, "app", "auth.py"))
	if err != nil || len(data) == 0 {
		t.Fatalf("cloned file missing: %v", err)
	}

	if err := co.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(co.Dir); !os.IsNotExist(err) {
		t.Errorf("checkout not removed: %v", err)
	}
}

func TestClone_NamedBranch(t *testing.T) {
	requireGit(t)
	src, hash := seedRepo(t, map[string]string{"main.go": "package main\n"})

	co, err := Clone(context.Background(), Options{URL: src, Branch: "master", TempRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	defer co.Close()
	if co.Commit != hash.String() {
		t.Errorf("commit = %s, want %s", co.Commit, hash)
	}
}

func TestClone_FailureCleansUp(t *testing.T) {
	root := t.TempDir()
	missing := filepath.Join(t.TempDir(), "does-not-exist")

	if _, err := Clone(context.Background(), Options{URL: missing, TempRoot: root}); err == nil {
		t.Fatal("expected an error cloning a missing repository")
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch directory left behind: %v", entries)
	}
}

func TestClone_RequiresURL(t *testing.T) {
	if _, err := Clone(context.Background(), Options{URL: "  "}); !errors.Is(err, ErrNoURL) {
		t.Fatalf("expected ErrNoURL, got %v", err)
	}
}

func TestCheckout_CloseNil(t *testing.T) {
	var co *Checkout
	if err := co.Close(); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}

// ---------------------------------------------------------------------------
// References and auth
// ---------------------------------------------------------------------------

func TestReferenceName(t *testing.T) {
	tests := []struct {
		in   string
		want plumbing.ReferenceName
	}{
		{"main", "refs/heads/main"},
		{"feature/login", "refs/heads/feature/login"},
		{"refs/heads/dev", "refs/heads/dev"},
		{"refs/tags/v1.2.0", "refs/tags/v1.2.0"},
	}
	for _, tt := range tests {
		if got := referenceName(tt.in); got != tt.want {
			t.Errorf("referenceName(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestAuthFor(t *testing.T) {
	if authFor("") != nil {
		t.Error("no token should mean no auth")
	}
	auth, ok := authFor("s3cret").(*http.BasicAuth)
	if !ok || auth.Password != "s3cret" {
		t.Errorf("auth = %#v", authFor("s3cret"))
	}
}
