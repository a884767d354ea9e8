// Package input collects the source files an audit runs over.
package input

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gobwas/glob"
)

// Artifact is one file read for auditing.
type Artifact struct {
	Path   string
	Source []byte
}

// Skipped is a file that was found but not read.
type Skipped struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Options bounds what a Handler collects. Zero limits mean unlimited.
type Options struct {
	// Extensions filter directory walks, without the leading dot. Files
	// named explicitly are always read.
	Extensions  []string
	Excludes    []string
	MaxFileSize int64
	MaxFiles    int
	Logger      *slog.Logger
}

// Handler reads files and walks directories under a set of Options.
type Handler struct {
	opts     Options
	exts     map[string]bool
	excludes []glob.Glob
	logger   *slog.Logger
}

// NewHandler compiles the exclude patterns in opts. A pattern without a
// slash matches any single path element; one with a slash matches the
// slash-separated path relative to the walk root, with ** spanning
// directories.
func NewHandler(opts Options) (*Handler, error) {
	h := &Handler{opts: opts, logger: opts.Logger}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if len(opts.Extensions) > 0 {
		h.exts = make(map[string]bool, len(opts.Extensions))
		for _, e := range opts.Extensions {
			h.exts["."+strings.TrimPrefix(strings.ToLower(e), ".")] = true
		}
	}
	for _, p := range opts.Excludes {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("compiling exclude pattern %q: %w", p, err)
		}
		h.excludes = append(h.excludes, g)
	}
	return h, nil
}

// Collect resolves paths into artifacts. Directories are walked in lexical
// order. Files over the size limit or not valid UTF-8 are reported as
// skipped; once MaxFiles artifacts are collected the rest are ignored.
func (h *Handler) Collect(paths []string) ([]Artifact, []Skipped, error) {
	files, err := h.List(paths)
	if err != nil {
		return nil, nil, err
	}
	var (
		artifacts []Artifact
		skipped   []Skipped
	)
	for _, p := range files {
		a, reason, err := h.read(p)
		if err != nil {
			return nil, nil, err
		}
		if reason != "" {
			h.logger.Warn("skipping file", "path", p, "reason", reason)
			skipped = append(skipped, Skipped{Path: p, Reason: reason})
			continue
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, skipped, nil
}

// List returns the files Collect would read, without reading them.
func (h *Handler) List(paths []string) ([]string, error) {
	var (
		out       []string
		truncated bool
	)
	seen := make(map[string]bool)
	add := func(p string) bool {
		if h.opts.MaxFiles > 0 && len(out) >= h.opts.MaxFiles {
			truncated = true
			return false
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
		return true
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if !add(root) {
				break
			}
			continue
		}
		full := false
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path != root && h.excluded(root, path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !h.wanted(path) {
				return nil
			}
			if !add(path) {
				full = true
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if full {
			break
		}
	}
	if truncated {
		h.logger.Warn("file limit reached, remaining files ignored", "max_files", h.opts.MaxFiles)
	}
	return out, nil
}

func (h *Handler) wanted(path string) bool {
	if h.exts == nil {
		return true
	}
	return h.exts[strings.ToLower(filepath.Ext(path))]
}

func (h *Handler) excluded(root, path string) bool {
	if len(h.excludes) == 0 {
		return false
	}
	base := filepath.Base(path)
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	for _, g := range h.excludes {
		if g.Match(base) || g.Match(rel) {
			return true
		}
	}
	return false
}

func (h *Handler) read(path string) (Artifact, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, "", err
	}
	if h.opts.MaxFileSize > 0 && info.Size() > h.opts.MaxFileSize {
		return Artifact{}, fmt.Sprintf("file size %d exceeds limit %d", info.Size(), h.opts.MaxFileSize), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, "", err
	}
	if !utf8.Valid(data) {
		return Artifact{}, "invalid UTF-8", nil
	}
	return Artifact{Path: path, Source: data}, "", nil
}
