package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chris-regnier/vigil/internal/finding"
	"github.com/chris-regnier/vigil/internal/suppress"
)

// Error is a run-level configuration error. It is reported before any file
// is audited.
type Error struct {
	Field string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
}

// RulesConfig selects which rules run and at what severity.
type RulesConfig struct {
	// Enabled lists the rule ids to run. Empty means every known rule.
	Enabled []string `yaml:"enabled,omitempty"`

	// SeverityOverrides replaces the default severity of a rule.
	SeverityOverrides map[string]string `yaml:"severity_overrides,omitempty"`

	// Dirs are extra directories of YAML rule files.
	Dirs []string `yaml:"dirs,omitempty"`
}

// ScannerConfig bounds which files a directory walk collects.
type ScannerConfig struct {
	Extensions  []string `yaml:"extensions,omitempty"`
	Excludes    []string `yaml:"excludes,omitempty"`
	MaxFileSize int64    `yaml:"max_file_size,omitempty"`
	MaxFiles    int      `yaml:"max_files,omitempty"`
}

// CacheConfig controls the result cache. Remote, when set, is the base URL
// of a "vigil serve" instance used instead of Dir.
type CacheConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Dir     string `yaml:"dir,omitempty"`
	Remote  string `yaml:"remote,omitempty"`
	Token   string `yaml:"token,omitempty"`
}

// On reports whether caching is enabled.
func (c CacheConfig) On() bool { return c.Enabled != nil && *c.Enabled }

// StoreConfig selects where audit reports are persisted.
type StoreConfig struct {
	// Backend is "file" or "sqlite".
	Backend string `yaml:"backend,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Endpoint       string            `yaml:"endpoint,omitempty"`
	Protocol       string            `yaml:"protocol,omitempty"`
	Insecure       bool              `yaml:"insecure,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	ServiceName    string            `yaml:"service_name,omitempty"`
	ServiceVersion string            `yaml:"service_version,omitempty"`
	SampleRate     float64           `yaml:"sample_rate,omitempty"`
}

// Config holds the full vigil configuration.
type Config struct {
	Rules                  RulesConfig      `yaml:"rules"`
	Suppressions           []suppress.Entry `yaml:"suppressions,omitempty"`
	EntropyThreshold       int              `yaml:"entropy_threshold,omitempty"`
	CredentialNamePatterns []string         `yaml:"credential_name_patterns,omitempty"`
	Scanner                ScannerConfig    `yaml:"scanner"`
	Concurrency            int              `yaml:"concurrency,omitempty"`
	MinSeverity            string           `yaml:"min_severity,omitempty"`
	FailOn                 string           `yaml:"fail_on,omitempty"`
	Cache                  CacheConfig      `yaml:"cache"`
	Store                  StoreConfig      `yaml:"store"`
	Telemetry              TelemetryConfig  `yaml:"telemetry"`
}

// Validate checks the configuration against the set of known rule ids.
// Every problem is reported as an *Error.
func (c *Config) Validate(knownRules []string) error {
	known := make(map[string]bool, len(knownRules))
	for _, id := range knownRules {
		known[id] = true
	}
	for _, id := range c.Rules.Enabled {
		if !known[id] {
			return &Error{Field: "rules.enabled", Msg: fmt.Sprintf("unknown rule id %q", id)}
		}
	}
	for _, id := range sortedKeys(c.Rules.SeverityOverrides) {
		if !known[id] {
			return &Error{Field: "rules.severity_overrides", Msg: fmt.Sprintf("unknown rule id %q", id)}
		}
		if _, err := finding.ParseSeverity(c.Rules.SeverityOverrides[id]); err != nil {
			return &Error{Field: "rules.severity_overrides." + id, Msg: err.Error()}
		}
	}
	for i, s := range c.Suppressions {
		if s.File == "" {
			return &Error{Field: fmt.Sprintf("suppressions[%d].file", i), Msg: "is required"}
		}
		if s.Rule != "" && s.Rule != "*" && !known[s.Rule] {
			return &Error{Field: fmt.Sprintf("suppressions[%d].rule", i), Msg: fmt.Sprintf("unknown rule id %q", s.Rule)}
		}
		if s.Line < 0 {
			return &Error{Field: fmt.Sprintf("suppressions[%d].line", i), Msg: "must not be negative"}
		}
	}
	if c.EntropyThreshold < 0 {
		return &Error{Field: "entropy_threshold", Msg: fmt.Sprintf("must not be negative, got %d", c.EntropyThreshold)}
	}
	if c.Concurrency < 0 {
		return &Error{Field: "concurrency", Msg: fmt.Sprintf("must not be negative, got %d", c.Concurrency)}
	}
	if c.Scanner.MaxFileSize < 0 || c.Scanner.MaxFiles < 0 {
		return &Error{Field: "scanner", Msg: "limits must not be negative"}
	}
	for _, f := range []struct{ field, value string }{
		{"min_severity", c.MinSeverity},
		{"fail_on", c.FailOn},
	} {
		if f.value == "" {
			continue
		}
		if _, err := finding.ParseSeverity(f.value); err != nil {
			return &Error{Field: f.field, Msg: err.Error()}
		}
	}
	switch c.Store.Backend {
	case "", "file", "sqlite":
	default:
		return &Error{Field: "store.backend", Msg: fmt.Sprintf("must be 'file' or 'sqlite', got: %s", c.Store.Backend)}
	}
	if r := c.Cache.Remote; r != "" && !strings.HasPrefix(r, "http://") && !strings.HasPrefix(r, "https://") {
		return &Error{Field: "cache.remote", Msg: fmt.Sprintf("must be an http(s) URL, got: %s", r)}
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return &Error{Field: "telemetry.protocol", Msg: fmt.Sprintf("must be 'grpc' or 'http', got: %s", c.Telemetry.Protocol)}
	}
	return nil
}

// Overrides returns the parsed severity overrides. Call Validate first.
func (c *Config) Overrides() map[string]finding.Severity {
	if len(c.Rules.SeverityOverrides) == 0 {
		return nil
	}
	out := make(map[string]finding.Severity, len(c.Rules.SeverityOverrides))
	for id, s := range c.Rules.SeverityOverrides {
		if sev, err := finding.ParseSeverity(s); err == nil {
			out[id] = sev
		}
	}
	return out
}

// MergeConfigs merges configs in order of increasing precedence.
// Later configs override earlier ones. Non-zero scalar fields override;
// non-empty lists replace; severity overrides merge per rule; suppressions
// accumulate.
func MergeConfigs(configs ...*Config) *Config {
	result := &Config{}

	for _, cfg := range configs {
		if cfg == nil {
			continue
		}

		if len(cfg.Rules.Enabled) > 0 {
			result.Rules.Enabled = append([]string(nil), cfg.Rules.Enabled...)
		}
		if len(cfg.Rules.SeverityOverrides) > 0 && result.Rules.SeverityOverrides == nil {
			result.Rules.SeverityOverrides = make(map[string]string)
		}
		for id, s := range cfg.Rules.SeverityOverrides {
			result.Rules.SeverityOverrides[id] = s
		}
		result.Rules.Dirs = append(result.Rules.Dirs, cfg.Rules.Dirs...)
		result.Suppressions = append(result.Suppressions, cfg.Suppressions...)

		if cfg.EntropyThreshold != 0 {
			result.EntropyThreshold = cfg.EntropyThreshold
		}
		result.CredentialNamePatterns = append(result.CredentialNamePatterns, cfg.CredentialNamePatterns...)

		if len(cfg.Scanner.Extensions) > 0 {
			result.Scanner.Extensions = append([]string(nil), cfg.Scanner.Extensions...)
		}
		if len(cfg.Scanner.Excludes) > 0 {
			result.Scanner.Excludes = append([]string(nil), cfg.Scanner.Excludes...)
		}
		if cfg.Scanner.MaxFileSize != 0 {
			result.Scanner.MaxFileSize = cfg.Scanner.MaxFileSize
		}
		if cfg.Scanner.MaxFiles != 0 {
			result.Scanner.MaxFiles = cfg.Scanner.MaxFiles
		}
		if cfg.Concurrency != 0 {
			result.Concurrency = cfg.Concurrency
		}
		if cfg.MinSeverity != "" {
			result.MinSeverity = cfg.MinSeverity
		}
		if cfg.FailOn != "" {
			result.FailOn = cfg.FailOn
		}

		// Cache.Enabled is a pointer so a higher tier can switch it off.
		if cfg.Cache.Enabled != nil {
			v := *cfg.Cache.Enabled
			result.Cache.Enabled = &v
		}
		if cfg.Cache.Dir != "" {
			result.Cache.Dir = cfg.Cache.Dir
		}
		if cfg.Cache.Remote != "" {
			result.Cache.Remote = cfg.Cache.Remote
		}
		if cfg.Cache.Token != "" {
			result.Cache.Token = cfg.Cache.Token
		}
		if cfg.Store.Backend != "" {
			result.Store.Backend = cfg.Store.Backend
		}
		if cfg.Store.Path != "" {
			result.Store.Path = cfg.Store.Path
		}

		mergeTelemetry(&result.Telemetry, cfg.Telemetry)
	}

	return result
}

func mergeTelemetry(dst *TelemetryConfig, src TelemetryConfig) {
	if src.Enabled {
		dst.Enabled = true
	}
	if src.Endpoint != "" {
		dst.Endpoint = src.Endpoint
	}
	if src.Protocol != "" {
		dst.Protocol = src.Protocol
	}
	if src.Insecure {
		dst.Insecure = true
	}
	if len(src.Headers) > 0 {
		dst.Headers = src.Headers
	}
	if src.ServiceName != "" {
		dst.ServiceName = src.ServiceName
	}
	if src.ServiceVersion != "" {
		dst.ServiceVersion = src.ServiceVersion
	}
	if src.SampleRate != 0 {
		dst.SampleRate = src.SampleRate
	}
}

// LoadFromFile reads a YAML config file. Returns nil, nil if the file doesn't exist.
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return &cfg, nil
}

// LoadTiered loads system defaults, then machine config, then project config,
// and merges them in order of increasing precedence.
func LoadTiered(machinePath, projectPath string) (*Config, error) {
	system := SystemDefaults()

	machine, err := LoadFromFile(machinePath)
	if err != nil {
		return nil, fmt.Errorf("loading machine config: %w", err)
	}

	project, err := LoadFromFile(projectPath)
	if err != nil {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	return MergeConfigs(system, machine, project), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
