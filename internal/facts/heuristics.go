package facts

import (
	"strings"

	"github.com/chris-regnier/vigil/internal/node"
)

// Heuristics is the name and literal pattern data the fact tracker matches
// against. The built-in values live in the rule set's YAML; configuration can
// extend them.
//
// Call pattern syntax:
//
//	".get("   callee has a receiver and its final segment is "get"
//	"open("   callee's final segment is "open"
//	"http."   pattern contains a dot: substring of the whole callee
//	"query"   substring of the callee's final segment
//
// All comparisons are case-insensitive and ignore '_' and '-', so
// "verify_password(" matches verifyPassword.
type Heuristics struct {
	CredentialNames      []string `yaml:"credential_names"`
	CredentialExclusions []string `yaml:"credential_exclusions"`
	Placeholders         []string `yaml:"placeholders"`
	NonSecretPrefixes    []string `yaml:"non_secret_prefixes"`
	EntropyThreshold     int      `yaml:"entropy_threshold"`
	IOCalls              []string `yaml:"io_calls"`
	QueryCalls           []string `yaml:"query_calls"`
	AuthCalls            []string `yaml:"auth_calls"`
	GuardNames           []string `yaml:"guard_names"`
	JoinCalls            []string `yaml:"join_calls"`
	HashingCalls         []string `yaml:"hashing_calls"`
	ConstantTimeCalls    []string `yaml:"constant_time_calls"`
	// ContainerCalls construct in-memory maps. A receiver bound to one of
	// them is never an I/O client.
	ContainerCalls       []string `yaml:"container_calls"`
}

// DefaultEntropyThreshold is the minimum secret literal length when none is
// configured.
const DefaultEntropyThreshold = 16

// WithCredentialNames returns a copy of h with extra credential name patterns.
func (h Heuristics) WithCredentialNames(extra ...string) Heuristics {
	h.CredentialNames = append(append([]string(nil), h.CredentialNames...), extra...)
	return h
}

// WithEntropyThreshold returns a copy of h using threshold when it is
// positive.
func (h Heuristics) WithEntropyThreshold(threshold int) Heuristics {
	if threshold > 0 {
		h.EntropyThreshold = threshold
	}
	return h
}

// PatternSet names one of the call pattern lists.
type PatternSet uint8

const (
	IOCalls PatternSet = iota
	QueryCalls
	AuthCalls
	JoinCalls
	HashingCalls
	ConstantTimeCalls
	ContainerCalls

	numPatternSets
)

var patternSetNames = [numPatternSets]string{"io", "query", "auth", "join", "hashing", "constant-time", "container"}

func (s PatternSet) String() string {
	if s < numPatternSets {
		return patternSetNames[s]
	}
	return "unknown"
}

type callPattern struct {
	needle   string
	exact    bool // compare against the final segment
	receiver bool // require a receiver
	whole    bool // substring of the whole callee
}

func compileCallPattern(p string) callPattern {
	p = strings.TrimSpace(p)
	var cp callPattern
	if strings.HasSuffix(p, "(") {
		cp.exact = true
		p = strings.TrimSuffix(p, "(")
		if strings.HasPrefix(p, ".") {
			cp.receiver = true
			p = strings.TrimPrefix(p, ".")
		}
	} else if strings.Contains(p, ".") {
		cp.whole = true
		cp.needle = strings.ToLower(p)
		return cp
	}
	cp.needle = squash(p)
	return cp
}

func (cp callPattern) match(c callee) bool {
	switch {
	case cp.needle == "":
		return false
	case cp.whole:
		return strings.Contains(c.lower, cp.needle)
	case cp.exact:
		if cp.receiver && !c.hasRecv {
			return false
		}
		return c.last == cp.needle
	default:
		return strings.Contains(c.last, cp.needle)
	}
}

// CallMatcher matches Call nodes against an ad hoc pattern list, using the
// same syntax as the built-in sets.
type CallMatcher struct {
	patterns []callPattern
}

// NewCallMatcher compiles patterns.
func NewCallMatcher(patterns ...string) CallMatcher {
	m := CallMatcher{patterns: make([]callPattern, 0, len(patterns))}
	for _, p := range patterns {
		m.patterns = append(m.patterns, compileCallPattern(p))
	}
	return m
}

// Match reports whether call's callee matches any pattern.
func (m CallMatcher) Match(call *node.Node) bool {
	if call == nil || call.Kind != node.KindCall {
		return false
	}
	c := newCallee(call.Callee)
	c.hasRecv = c.hasRecv || call.HasRecv
	for _, p := range m.patterns {
		if p.match(c) {
			return true
		}
	}
	return false
}

// Empty reports whether the matcher has no patterns.
func (m CallMatcher) Empty() bool { return len(m.patterns) == 0 }

// callee is a pre-normalized callee name.
type callee struct {
	lower   string
	last    string // squashed final segment
	hasRecv bool
}

func newCallee(name string) callee {
	last := name
	hasRecv := false
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		last = name[i+1:]
		hasRecv = i > 0
	}
	return callee{lower: strings.ToLower(name), last: squash(last), hasRecv: hasRecv}
}

// compiled is Heuristics with every pattern normalized once.
type compiled struct {
	credentials []string
	exclusions  []string
	placeholder []string
	prefixes    []string
	threshold   int
	calls       [numPatternSets][]callPattern
	guards      []string
}

func compile(h Heuristics) *compiled {
	c := &compiled{
		credentials: squashAll(h.CredentialNames),
		exclusions:  squashAll(h.CredentialExclusions),
		guards:      squashAll(h.GuardNames),
		threshold:   h.EntropyThreshold,
	}
	if c.threshold <= 0 {
		c.threshold = DefaultEntropyThreshold
	}
	for _, p := range h.Placeholders {
		c.placeholder = append(c.placeholder, strings.ToLower(p))
	}
	for _, p := range h.NonSecretPrefixes {
		c.prefixes = append(c.prefixes, strings.ToLower(p))
	}
	lists := [numPatternSets][]string{
		IOCalls:           h.IOCalls,
		QueryCalls:        h.QueryCalls,
		AuthCalls:         h.AuthCalls,
		JoinCalls:         h.JoinCalls,
		HashingCalls:      h.HashingCalls,
		ConstantTimeCalls: h.ConstantTimeCalls,
		ContainerCalls:    h.ContainerCalls,
	}
	for set, patterns := range lists {
		for _, p := range patterns {
			c.calls[set] = append(c.calls[set], compileCallPattern(p))
		}
	}
	return c
}

func (c *compiled) matchCall(set PatternSet, name callee) bool {
	for _, p := range c.calls[set] {
		if p.match(name) {
			return true
		}
	}
	return false
}

// squash lowercases s and drops '_' and '-' so that snake_case, kebab-case
// and camelCase spellings compare equal.
func squash(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '_' || ch == '-':
			continue
		case ch >= 'A' && ch <= 'Z':
			b.WriteByte(ch + 'a' - 'A')
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func squashAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if q := squash(s); q != "" {
			out = append(out, q)
		}
	}
	return out
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
