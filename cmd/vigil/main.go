package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chris-regnier/vigil/internal/output"
)

var (
	// Version information injected by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// errGateFailed makes the process exit with status 2 after the report has
// been written.
var errGateFailed = errors.New("audit gate failed")

var (
	flagConfig  string
	flagQuiet   bool
	flagVerbose bool
	flagDebug   bool
	flagLogJSON bool

	logger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:           "vigil",
	Short:         "Pattern-based static auditor for security, performance and reliability issues",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = output.SetupLogger(output.LogOptions{
			Quiet:   flagQuiet,
			Verbose: flagVerbose,
			Debug:   flagDebug,
			JSON:    flagLogJSON,
		}, cmd.ErrOrStderr())
		slog.SetDefault(logger)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "vigil %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built at: %s\n", date)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", projectConfigFile, "Project configuration file")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress all log output")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Log progress information")
	pf.BoolVar(&flagDebug, "debug", false, "Log debug information")
	pf.BoolVar(&flagLogJSON, "log-json", false, "Write logs as JSON")

	rootCmd.AddCommand(versionCmd)
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errGateFailed):
		return 2
	default:
		return 1
	}
}

func main() {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errGateFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}
