package facts

import (
	"strings"
	"unicode"
)

// isCredentialLike matches a possibly dotted identifier against the
// credential name list. A final segment ending in an exclusion word (for
// example token_type or password_length) describes the credential rather
// than holding it.
func (c *compiled) isCredentialLike(name string) bool {
	if name == "" {
		return false
	}
	q := squash(name)
	if !containsAny(q, c.credentials) {
		return false
	}
	last := q
	if i := strings.LastIndexByte(q, '.'); i >= 0 {
		last = q[i+1:]
	}
	for _, cred := range c.credentials {
		if last == cred {
			return true
		}
	}
	for _, ex := range c.exclusions {
		if strings.HasSuffix(last, ex) {
			return false
		}
	}
	return true
}

// isGuardName reports whether name mentions rate limiting state.
func (c *compiled) isGuardName(name string) bool {
	return name != "" && containsAny(squash(name), c.guards)
}

// isHighEntropy applies the secret-literal heuristic: long enough, letters
// and digits mixed, no whitespace, not a URL or path, not a placeholder.
// It is a shape test, not an entropy estimate.
func (c *compiled) isHighEntropy(v string) bool {
	if len(v) < c.threshold {
		return false
	}
	var lower, upper, digit, symbol bool
	for _, r := range v {
		switch {
		case unicode.IsSpace(r):
			return false
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	classes := 0
	for _, ok := range []bool{lower, upper, digit, symbol} {
		if ok {
			classes++
		}
	}
	if classes < 2 || !digit || !(lower || upper) {
		return false
	}
	return !c.isPlaceholder(v)
}

func (c *compiled) isPlaceholder(v string) bool {
	l := strings.ToLower(v)
	for _, p := range c.prefixes {
		if strings.HasPrefix(l, p) {
			return true
		}
	}
	if containsAny(l, c.placeholder) {
		return true
	}
	if strings.HasPrefix(l, "<") && strings.HasSuffix(l, ">") {
		return true
	}
	if strings.Contains(l, "${") || strings.Contains(l, "{{") {
		return true
	}
	return strings.Count(l, l[:1]) == len(l)
}
