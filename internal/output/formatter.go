// Package output renders audit reports as JSON, SARIF, Markdown or
// colored terminal text, and sets up the CLI logger.
package output

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/chris-regnier/vigil/internal/audit"
)

// Formatter renders a report into a byte slice in a specific format.
type Formatter interface {
	Format(r *audit.Report) ([]byte, error)
}

// Formats lists the supported format names.
var Formats = []string{"json", "sarif", "markdown", "pretty"}

// ResolveFormat determines the output format to use. If flagValue is non-empty,
// it is returned directly. Otherwise, "pretty" is returned for TTY output and
// "json" for non-TTY (piped) output.
func ResolveFormat(flagValue string, stdoutIsTTY bool) string {
	if flagValue != "" {
		return flagValue
	}
	if stdoutIsTTY {
		return "pretty"
	}
	return "json"
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// NewFormatter returns a Formatter for the given format name. The pretty
// formatter highlights code snippets only when stdout is a terminal.
func NewFormatter(format string) (Formatter, error) {
	switch format {
	case "json":
		return &JSONFormatter{}, nil
	case "sarif":
		return &SARIFFormatter{}, nil
	case "markdown":
		return &MarkdownFormatter{}, nil
	case "pretty":
		return &PrettyFormatter{Highlight: IsTerminal(os.Stdout) && os.Getenv("NO_COLOR") == ""}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %q (supported: json, sarif, markdown, pretty)", format)
	}
}
