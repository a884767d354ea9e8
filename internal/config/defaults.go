package config

import "github.com/chris-regnier/vigil/internal/facts"

// SystemDefaults returns the built-in configuration tier.
func SystemDefaults() *Config {
	off := false
	return &Config{
		EntropyThreshold: facts.DefaultEntropyThreshold,
		Scanner: ScannerConfig{
			Extensions:  []string{"py", "go", "js", "mjs", "jsx", "ts", "tsx", "rs", "java", "c", "h"},
			Excludes:    []string{".git", "node_modules", "vendor", "target", "__pycache__", ".venv", "dist", "build"},
			MaxFileSize: 100 * 1024,
			MaxFiles:    1000,
		},
		MinSeverity: "info",
		FailOn:      "critical",
		Cache: CacheConfig{
			Enabled: &off,
			Dir:     ".vigil/cache",
		},
		Store: StoreConfig{
			Backend: "file",
			Path:    ".vigil/results",
		},
		Telemetry: TelemetryConfig{
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			ServiceName:    "vigil",
			ServiceVersion: "dev",
			SampleRate:     1.0,
		},
	}
}

// DefaultYAML is the commented configuration written by "vigil init".
const DefaultYAML = `# vigil configuration
#
# Tiers merge in order: built-in defaults, ~/.config/vigil/vigil.yaml,
# ./.vigil.yaml, then command-line flags.

rules:
  # Rule ids to run. Leave empty to run every built-in and custom rule.
  enabled: []
  # Replace a rule's default severity: none, info, warning, critical.
  severity_overrides: {}
  # Extra directories of YAML rule files.
  dirs: []

# Findings to ignore. line 0 covers the whole file; an empty rule covers
# every rule. Inline "# suppress: <rule>" comments work as well.
suppressions: []

# Minimum length of a string literal before it can be a hardcoded secret.
entropy_threshold: 16

# Extra identifier fragments treated as credential names.
credential_name_patterns: []

scanner:
  extensions: [py, go, js, mjs, jsx, ts, tsx, rs, java, c, h]
  excludes: [.git, node_modules, vendor, target, __pycache__, .venv, dist, build]
  max_file_size: 102400
  max_files: 1000

# Worker count. 0 uses one worker per CPU.
concurrency: 0

# Findings below this severity are dropped from the report.
min_severity: info

# A finding at or above this severity fails the run (exit code 2).
fail_on: critical

cache:
  enabled: false
  dir: .vigil/cache
  # Share results through a "vigil serve" instance instead of dir.
  # remote: http://localhost:8080
  # token: ""

store:
  backend: file
  path: .vigil/results

telemetry:
  enabled: false
  endpoint: localhost:4317
  protocol: grpc
`
