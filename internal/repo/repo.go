// Package repo fetches a remote git repository into a scratch directory so
// it can be audited like a local tree.
package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var repoTracer = otel.Tracer("github.com/chris-regnier/vigil/internal/repo")

// ErrNoURL is returned by Clone when Options.URL is empty.
var ErrNoURL = errors.New("repository url is required")

// Options describes what to clone.
type Options struct {
	URL string
	// Branch is a branch name or a full reference such as refs/tags/v1.
	// Empty means the remote's default branch.
	Branch string
	// Depth limits history; zero means 1.
	Depth int
	// Token authenticates HTTP(S) clones.
	Token string
	// TempRoot is the parent of the scratch directory; empty means the
	// system temp directory.
	TempRoot string
	Logger   *slog.Logger
}

// Checkout is a cloned working tree. Close removes it.
type Checkout struct {
	Dir    string
	Branch string
	Commit string
}

// Close deletes the working tree.
func (c *Checkout) Close() error {
	if c == nil || c.Dir == "" {
		return nil
	}
	return os.RemoveAll(c.Dir)
}

// Clone makes a shallow single-branch clone of opts.URL. On failure the
// scratch directory is removed before returning.
func Clone(ctx context.Context, opts Options) (*Checkout, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, ErrNoURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	depth := opts.Depth
	if depth <= 0 {
		depth = 1
	}

	ctx, span := repoTracer.Start(ctx, "repo clone",
		trace.WithAttributes(attribute.String("vigil.repo.url", opts.URL), attribute.String("vigil.repo.branch", opts.Branch)))
	defer span.End()

	dir, err := os.MkdirTemp(opts.TempRoot, "vigil-clone-")
	if err != nil {
		return nil, fmt.Errorf("creating clone directory: %w", err)
	}

	cloneOpts := &git.CloneOptions{
		URL:          opts.URL,
		Auth:         authFor(opts.Token),
		Depth:        depth,
		SingleBranch: true,
		Tags:         git.NoTags,
	}
	if opts.Branch != "" {
		cloneOpts.ReferenceName = referenceName(opts.Branch)
	}

	logger.Debug("cloning repository", "url", opts.URL, "branch", opts.Branch, "dir", dir)
	r, err := git.PlainCloneContext(ctx, dir, false, cloneOpts)
	if err != nil {
		os.RemoveAll(dir)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("cloning %s: %w", opts.URL, err)
	}

	head, err := r.Head()
	if err != nil {
		os.RemoveAll(dir)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("resolving HEAD of %s: %w", opts.URL, err)
	}
	co := &Checkout{Dir: dir, Branch: head.Name().Short(), Commit: head.Hash().String()}
	span.SetAttributes(attribute.String("vigil.repo.commit", co.Commit))
	logger.Info("repository cloned", "url", opts.URL, "branch", co.Branch, "commit", co.Commit)
	return co, nil
}

// referenceName turns a bare branch name into refs/heads/<name> and leaves
// full references alone.
func referenceName(branch string) plumbing.ReferenceName {
	ref := plumbing.ReferenceName(branch)
	if ref.IsBranch() || ref.IsRemote() || ref.IsTag() || ref.IsNote() {
		return ref
	}
	return plumbing.NewBranchReferenceName(branch)
}

func authFor(token string) transport.AuthMethod {
	if token == "" {
		return nil
	}
	return &http.BasicAuth{Username: "x-access-token", Password: token}
}
