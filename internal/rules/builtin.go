package rules

import (
	"strings"

	"github.com/chris-regnier/vigil/internal/engine"
	"github.com/chris-regnier/vigil/internal/facts"
	"github.com/chris-regnier/vigil/internal/node"
)

// Rule IDs of the built-in set, in registration order.
const (
	HardcodedSecret    = "hardcoded-secret"
	WeakComparison     = "weak-comparison"
	MissingRateLimit   = "missing-rate-limit"
	NPlusOneQuery      = "n-plus-one-query"
	BlockingCallInLoop = "blocking-call-in-loop"
	QuadraticConcat    = "quadratic-concat"
)

type predicate struct {
	kinds []node.Kind
	match engine.Predicate
}

var predicates = map[string]predicate{
	HardcodedSecret:    {[]node.Kind{node.KindAssign}, hardcodedSecret},
	WeakComparison:     {[]node.Kind{node.KindCompare}, weakComparison},
	MissingRateLimit:   {[]node.Kind{node.KindFunctionDef}, missingRateLimit},
	NPlusOneQuery:      {[]node.Kind{node.KindCall}, nPlusOneQuery},
	BlockingCallInLoop: {[]node.Kind{node.KindCall}, blockingCallInLoop},
	QuadraticConcat:    {[]node.Kind{node.KindAugAssign}, quadraticConcat},
}

// hardcodedSecret fires on module or class level bindings of a
// credential-like name to a secret-shaped string literal.
func hardcodedSecret(m *engine.Match) []engine.Hit {
	n := m.Node
	if n.Enclosing(node.KindFunctionDef) != nil {
		return nil
	}
	target, value := n.Target(), n.AssignedValue()
	if target == nil || target.Kind != node.KindIdentifier || !value.IsStringLiteral() {
		return nil
	}
	if !m.Facts.IsCredentialLike(target.Name) || !m.Facts.IsHighEntropyLiteral(value) {
		return nil
	}
	return []engine.Hit{{Args: map[string]interface{}{"name": target.Name}}}
}

var equalityOps = map[string]bool{"==": true, "!=": true, "===": true, "!==": true}

// weakComparison fires when a secret or a freshly computed digest is
// compared with a short-circuiting equality operator. Comparisons against
// numbers, booleans, None or the empty string are presence checks.
func weakComparison(m *engine.Match) []engine.Hit {
	n := m.Node
	if !equalityOps[n.Op] || n.NumChildren() < 2 {
		return nil
	}
	var subject *node.Node
	for _, c := range n.Children() {
		switch {
		case c.Kind == node.KindLiteral && (c.LitType != node.LitString || c.Value == ""):
			return nil
		case subject != nil:
		case c.Kind == node.KindIdentifier && m.Facts.IsCredentialLike(c.Name):
			subject = c
		case c.Kind == node.KindCall && m.Facts.IsHashingCall(c):
			subject = c
		}
	}
	if subject == nil {
		return nil
	}
	return []engine.Hit{{Args: map[string]interface{}{"operand": subject.Label(), "op": n.Op}}}
}

// missingRateLimit fires at a function that calls an authentication check
// and never mentions rate limiting state. A function does not count as
// calling itself, so the definition of check_password is not reported.
func missingRateLimit(m *engine.Match) []engine.Hit {
	fn := m.Node
	if m.Facts.HasRateLimitGuard(m.Scope) {
		return nil
	}
	own := normalizeName(fn.Name)
	for _, call := range m.Facts.Calls(m.Scope) {
		if !m.Facts.CallsMatching(call, facts.AuthCalls) {
			continue
		}
		if normalizeName(lastSegment(call.Callee)) == own {
			continue
		}
		return []engine.Hit{{Args: map[string]interface{}{"function": fn.Name, "callee": call.Callee}}}
	}
	return nil
}

func isNPlusOne(m *engine.Match) bool {
	n := m.Node
	return m.Facts.LoopDepth(n) > 0 &&
		m.Facts.CallsMatching(n, facts.QueryCalls) &&
		m.Facts.ReferencesLoopVar(n)
}

func loopArgs(m *engine.Match) map[string]interface{} {
	loop := m.Facts.OutermostLoop(m.Node)
	args := map[string]interface{}{
		"callee":    m.Node.Callee,
		"loop_line": loop.Span.Start.Line,
		"var":       "key",
	}
	if len(loop.Vars) > 0 {
		args["var"] = loop.Vars[0]
	}
	if inner := m.Facts.InnermostLoop(m.Node); inner != nil && len(inner.Vars) > 0 {
		args["var"] = inner.Vars[0]
	}
	return args
}

// nPlusOneQuery fires at a query call inside a loop whose arguments depend
// on the iteration variable.
func nPlusOneQuery(m *engine.Match) []engine.Hit {
	if !isNPlusOne(m) {
		return nil
	}
	return []engine.Hit{{Args: loopArgs(m)}}
}

// blockingCallInLoop fires at I/O calls inside a loop. Call sites already
// reported as N+1 queries are left to that rule.
func blockingCallInLoop(m *engine.Match) []engine.Hit {
	n := m.Node
	if m.Facts.LoopDepth(n) == 0 || !m.Facts.CallsMatching(n, facts.IOCalls) || isNPlusOne(m) {
		return nil
	}
	return []engine.Hit{{Args: loopArgs(m)}}
}

// quadraticConcat fires at `s += x` inside a loop when s was bound to a
// string literal earlier in the same scope and no enclosing loop hands s
// to a join-like call later on.
func quadraticConcat(m *engine.Match) []engine.Hit {
	n := m.Node
	if n.Op != "+=" || m.Facts.LoopDepth(n) == 0 {
		return nil
	}
	target := n.Target()
	if target == nil || target.Kind != node.KindIdentifier {
		return nil
	}
	decl := m.Facts.StringVar(m.Scope, target.Name)
	if decl == nil || !decl.Span.Start.Before(n.Span.Start) {
		return nil
	}
	if m.Facts.JoinedAfter(n, target.Name) {
		return nil
	}
	return []engine.Hit{{Args: map[string]interface{}{
		"name":      target.Name,
		"loop_line": m.Facts.OutermostLoop(n).Span.Start.Line,
	}}}
}

func lastSegment(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func normalizeName(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", ""))
}
