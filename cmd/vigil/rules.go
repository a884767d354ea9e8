package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/chris-regnier/vigil/internal/config"
	"github.com/chris-regnier/vigil/internal/finding"
	"github.com/chris-regnier/vigil/internal/output"
	"github.com/chris-regnier/vigil/internal/rules"
)

var (
	flagRulesJSON     bool
	flagRulesCategory string
	flagExplainRaw    bool
)

func init() {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "List the available rules",
		Args:  cobra.NoArgs,
		RunE:  runRules,
	}
	rulesCmd.Flags().BoolVar(&flagRulesJSON, "json", false, "Print rules as JSON")
	rulesCmd.Flags().StringVar(&flagRulesCategory, "category", "", "Only list rules in this category")

	explainCmd := &cobra.Command{
		Use:   "explain <rule-id>",
		Short: "Show a rule's explanation and remediation",
		Args:  cobra.ExactArgs(1),
		RunE:  runExplain,
	}
	explainCmd.Flags().BoolVar(&flagExplainRaw, "raw", false, "Print Markdown without terminal rendering")

	rootCmd.AddCommand(rulesCmd, explainCmd)
}

type ruleRow struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Severity string   `json:"severity"`
	Category string   `json:"category"`
	Source   string   `json:"source,omitempty"`
	CWE      []string `json:"cwe,omitempty"`
	Enabled  bool     `json:"enabled"`
}

func ruleRows(set *rules.Set, cfg *config.Config, category string) []ruleRow {
	enabled := make(map[string]bool)
	for _, id := range cfg.Rules.Enabled {
		enabled[id] = true
	}
	overrides := cfg.Overrides()

	list := set.Rules
	if category != "" {
		list = rules.ByCategory(list, finding.Category(category))
	}
	rows := make([]ruleRow, 0, len(list))
	for i := range list {
		r := &list[i]
		sev := r.Severity()
		if o, ok := overrides[r.ID]; ok {
			sev = o
		}
		rows = append(rows, ruleRow{
			ID:       r.ID,
			Name:     r.Name,
			Severity: sev.String(),
			Category: string(r.Category),
			Source:   string(r.Source),
			CWE:      r.CWE,
			Enabled:  len(enabled) == 0 || enabled[r.ID],
		})
	}
	return rows
}

func runRules(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	set, err := loadRuleSet(cfg)
	if err != nil {
		return err
	}
	rows := ruleRows(set, cfg, flagRulesCategory)

	out := cmd.OutOrStdout()
	if flagRulesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	writeRuleTable(out, rows)
	return nil
}

func writeRuleTable(w io.Writer, rows []ruleRow) {
	fmt.Fprintf(w, "%-24s %-9s %-12s %-8s %s\n", "ID", "SEVERITY", "CATEGORY", "ENABLED", "NAME")
	for _, r := range rows {
		on := "yes"
		if !r.Enabled {
			on = "no"
		}
		fmt.Fprintf(w, "%-24s %-9s %-12s %-8s %s\n", r.ID, r.Severity, r.Category, on, r.Name)
	}
}

// ruleMarkdown documents one rule.
func ruleMarkdown(r *rules.Rule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", r.ID)
	if r.Name != "" {
		fmt.Fprintf(&b, "**%s**\n\n", r.Name)
	}
	fmt.Fprintf(&b, "- Severity: `%s`\n", r.Severity())
	fmt.Fprintf(&b, "- Category: `%s`\n", r.Category)
	if len(r.CWE) > 0 {
		fmt.Fprintf(&b, "- CWE: %s\n", strings.Join(r.CWE, ", "))
	}
	if r.Source != "" {
		fmt.Fprintf(&b, "- Source: %s\n", r.Source)
	}
	if r.Explanation != "" {
		fmt.Fprintf(&b, "\n## Why it matters\n\n%s\n", strings.TrimSpace(r.Explanation))
	}
	if r.Remediation != "" {
		fmt.Fprintf(&b, "\n## How to fix\n\n%s\n", strings.TrimSpace(r.Remediation))
	}
	if len(r.References) > 0 {
		b.WriteString("\n## References\n\n")
		for _, ref := range r.References {
			fmt.Fprintf(&b, "- %s\n", ref)
		}
	}
	return b.String()
}

// renderMarkdown renders markdown text using glamour
func renderMarkdown(text string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	out, err := r.Render(text)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out) + "\n", nil
}

func runExplain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	set, err := loadRuleSet(cfg)
	if err != nil {
		return err
	}
	r, ok := set.Get(args[0])
	if !ok {
		return fmt.Errorf("unknown rule %q (see 'vigil rules')", args[0])
	}

	md := ruleMarkdown(&r)
	if flagExplainRaw || !output.IsTerminal(os.Stdout) {
		_, err := io.WriteString(cmd.OutOrStdout(), md)
		return err
	}
	rendered, err := renderMarkdown(md, 80)
	if err != nil {
		// Fall back to plain text if rendering fails.
		rendered = md
	}
	_, err = io.WriteString(cmd.OutOrStdout(), rendered)
	return err
}
