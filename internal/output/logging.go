package output

import (
	"io"
	"log/slog"
	"math"
)

// LogOptions selects the CLI log level and encoding.
type LogOptions struct {
	Quiet   bool
	Verbose bool
	Debug   bool
	// JSON switches from the text handler to the JSON handler.
	JSON bool
}

// Level maps the flags to a slog level. Priority: quiet > debug > verbose >
// default (warnings and errors only). Quiet disables every message.
func (o LogOptions) Level() slog.Level {
	switch {
	case o.Quiet:
		return slog.Level(math.MaxInt)
	case o.Debug:
		return slog.LevelDebug
	case o.Verbose:
		return slog.LevelInfo
	}
	return slog.LevelWarn
}

// SetupLogger creates the logger for the given options, writing to w
// (typically os.Stderr).
func SetupLogger(opts LogOptions, w io.Writer) *slog.Logger {
	ho := &slog.HandlerOptions{Level: opts.Level()}
	if opts.JSON {
		return slog.New(slog.NewJSONHandler(w, ho))
	}
	return slog.New(slog.NewTextHandler(w, ho))
}
