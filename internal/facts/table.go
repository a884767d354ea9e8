// Package facts computes the per-scope facts that rules consult: loop
// nesting, name and literal classification, call identity, rate limit
// guards and local call edges. A Table is built in one traversal and is
// read-only afterwards, so rules always see a consistent snapshot.
package facts

import (
	"sort"
	"strings"

	"github.com/chris-regnier/vigil/internal/node"
)

type callClass uint8

func classBit(s PatternSet) callClass { return 1 << s }

type info struct {
	scope *Scope
	depth int
	outer *node.Node
	inner *node.Node
	// loops is the chain of enclosing loops within the current function,
	// outermost first.
	loops []*node.Node
}

// Table holds the facts for one tree.
type Table struct {
	tree    *node.Tree
	h       *compiled
	root    *Scope
	scopes  map[*node.Node]*Scope
	info    map[*node.Node]info
	class   map[*node.Node]callClass
	entropy map[*node.Node]bool
	taint   map[*node.Node]map[string]bool
	// sinks maps a loop to the names handed to join-like calls inside it
	// and the position of the last such call.
	sinks   map[*node.Node]map[string]node.Pos
}

// Build runs the fact pass over tree.
func Build(tree *node.Tree, h Heuristics) *Table {
	t := &Table{
		tree:    tree,
		h:       compile(h),
		scopes:  make(map[*node.Node]*Scope),
		info:    make(map[*node.Node]info, tree.Size),
		class:   make(map[*node.Node]callClass),
		entropy: make(map[*node.Node]bool),
		taint:   make(map[*node.Node]map[string]bool),
		sinks:   make(map[*node.Node]map[string]node.Pos),
	}
	t.root = newScope(tree.Root, nil)
	t.scopes[tree.Root] = t.root
	t.info[tree.Root] = info{scope: t.root}
	for _, c := range tree.Root.Children() {
		t.visit(c, t.root, nil)
	}
	return t
}

func (t *Table) visit(n *node.Node, sc *Scope, loops []*node.Node) {
	in := info{scope: sc, depth: len(loops), loops: loops}
	if len(loops) > 0 {
		in.outer, in.inner = loops[0], loops[len(loops)-1]
	}
	t.info[n] = in

	switch n.Kind {
	case node.KindFunctionDef:
		sc.declare(n.Name, n)
		fs := newScope(n, sc)
		t.scopes[n] = fs
		for _, p := range n.Params {
			fs.declare(p, n)
			t.guard(fs, p)
		}
		for _, d := range n.Decorators {
			t.guard(fs, d)
		}
		for _, c := range n.Children() {
			t.visit(c, fs, nil)
		}
		return

	case node.KindLoop:
		vars := make(map[string]bool, len(n.Vars))
		for _, v := range n.Vars {
			sc.declare(v, n)
			t.guard(sc, v)
			vars[v] = true
		}
		t.taint[n] = vars
		body := append(loops[:len(loops):len(loops)], n)
		for i, c := range n.Children() {
			if i == 0 && len(n.Vars) > 0 {
				// a for-loop iterable is evaluated once, outside the body
				t.visit(c, sc, loops)
				continue
			}
			t.visit(c, sc, body)
		}
		return

	case node.KindAssign, node.KindAugAssign:
		t.assign(n, sc, loops)

	case node.KindIdentifier:
		t.guard(sc, n.Name)

	case node.KindCall:
		t.call(n, sc, loops)

	case node.KindLiteral:
		if n.LitType == node.LitString && t.h.isHighEntropy(n.Value) {
			t.entropy[n] = true
		}
	}

	for _, c := range n.Children() {
		t.visit(c, sc, loops)
	}
}

func (t *Table) assign(n *node.Node, sc *Scope, loops []*node.Node) {
	target := n.Target()
	if target == nil || target.Kind != node.KindIdentifier {
		return
	}
	name := target.Name
	t.guard(sc, name)
	value := n.AssignedValue()
	if n.Kind == node.KindAssign {
		sc.declare(name, n)
		sc.containers[name] = value != nil && value.Kind == node.KindCall &&
			t.h.matchCall(ContainerCalls, newCallee(value.Callee))
		if value.IsStringLiteral() {
			if _, ok := sc.strs[name]; !ok {
				sc.strs[name] = n
			}
		}
	}
	if len(loops) > 0 && value != nil && t.refsLoopVars(value, loops) {
		t.taint[loops[len(loops)-1]][name] = true
	}
}

func (t *Table) call(n *node.Node, sc *Scope, loops []*node.Node) {
	name := newCallee(n.Callee)
	name.hasRecv = name.hasRecv || n.HasRecv
	var cls callClass
	for set := PatternSet(0); set < numPatternSets; set++ {
		if t.h.matchCall(set, name) {
			cls |= classBit(set)
		}
	}
	if cls&classBit(IOCalls) != 0 && t.onContainer(n, sc) {
		cls &^= classBit(IOCalls)
	}
	t.class[n] = cls
	sc.calls = append(sc.calls, n)
	t.guard(sc, n.Callee)

	if cls&classBit(JoinCalls) == 0 || len(loops) == 0 {
		return
	}
	for _, arg := range n.Args() {
		arg.Walk(func(x *node.Node) bool {
			if x.Kind == node.KindIdentifier {
				for _, l := range loops {
					if t.sinks[l] == nil {
						t.sinks[l] = make(map[string]node.Pos)
					}
					t.sinks[l][x.Name] = n.Span.Start
					t.sinks[l][firstSegment(x.Name)] = n.Span.Start
				}
			}
			return true
		})
	}
}

// onContainer reports whether call is a method on a name bound to an
// in-memory map, such as d.get(k) after d = {}.
func (t *Table) onContainer(call *node.Node, sc *Scope) bool {
	if call.HasRecv {
		return false
	}
	i := strings.LastIndexByte(call.Callee, '.')
	if i <= 0 {
		return false
	}
	return sc.isContainer(call.Callee[:i])
}

func (t *Table) guard(sc *Scope, name string) {
	if sc.IsFunction() && !sc.guarded && t.h.isGuardName(name) {
		sc.guarded = true
	}
}

// refsLoopVars reports whether expr mentions an iteration variable, or a
// name derived from one, of any loop in loops.
func (t *Table) refsLoopVars(expr *node.Node, loops []*node.Node) bool {
	found := false
	expr.Walk(func(x *node.Node) bool {
		if found {
			return false
		}
		var name string
		switch x.Kind {
		case node.KindIdentifier:
			name = firstSegment(x.Name)
		case node.KindCall:
			if !x.HasRecv && strings.Contains(x.Callee, ".") {
				name = firstSegment(x.Callee)
			}
		}
		if name == "" {
			return true
		}
		for _, l := range loops {
			if t.taint[l][name] {
				found = true
				return false
			}
		}
		return true
	})
	return found
}

func firstSegment(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

// Tree returns the tree the table was built from.
func (t *Table) Tree() *node.Tree { return t.tree }

// Root returns the module scope.
func (t *Table) Root() *Scope { return t.root }

// ScopeOf returns the scope owned by a Module or FunctionDef node, and the
// innermost enclosing scope for every other node.
func (t *Table) ScopeOf(n *node.Node) *Scope {
	if s, ok := t.scopes[n]; ok {
		return s
	}
	return t.info[n].scope
}

// Scopes returns every scope in declaration order.
func (t *Table) Scopes() []*Scope {
	out := make([]*Scope, 0, len(t.scopes))
	t.tree.Root.Walk(func(n *node.Node) bool {
		if s, ok := t.scopes[n]; ok {
			out = append(out, s)
		}
		return true
	})
	return out
}

// LoopDepth is the number of loops enclosing n within its function. A
// for-loop's iterable is not inside that loop.
func (t *Table) LoopDepth(n *node.Node) int { return t.info[n].depth }

// OutermostLoop returns the outermost loop enclosing n within its function.
func (t *Table) OutermostLoop(n *node.Node) *node.Node { return t.info[n].outer }

// InnermostLoop returns the nearest loop enclosing n within its function.
func (t *Table) InnermostLoop(n *node.Node) *node.Node { return t.info[n].inner }

// IsCredentialLike reports whether an identifier or attribute name looks
// like it holds a credential.
func (t *Table) IsCredentialLike(name string) bool { return t.h.isCredentialLike(name) }

// IsHighEntropyLiteral reports whether lit is a string literal shaped like a
// generated key. Best-effort.
func (t *Table) IsHighEntropyLiteral(lit *node.Node) bool { return t.entropy[lit] }

// CallsMatching reports whether call's callee matches the pattern set.
// Matching is purely name based.
func (t *Table) CallsMatching(call *node.Node, set PatternSet) bool {
	return t.class[call]&classBit(set) != 0
}

// IsHashingCall reports whether call computes a hash or digest with a
// function that is not a constant-time comparison.
func (t *Table) IsHashingCall(call *node.Node) bool {
	c := t.class[call]
	return c&classBit(HashingCalls) != 0 && c&classBit(ConstantTimeCalls) == 0
}

// HasRateLimitGuard reports whether a function body mentions rate limiting
// state (counters, lockouts, throttles) by name.
func (t *Table) HasRateLimitGuard(s *Scope) bool { return s != nil && s.guarded }

// StringVar returns the first Assign in s binding name to a string literal.
func (t *Table) StringVar(s *Scope, name string) *node.Node {
	if s == nil {
		return nil
	}
	return s.strs[name]
}

// ReferencesLoopVar reports whether n (the arguments only, for a Call)
// mentions an iteration variable of an enclosing loop, or a name assigned
// from one inside that loop.
func (t *Table) ReferencesLoopVar(n *node.Node) bool {
	loops := t.info[n].loops
	if len(loops) == 0 {
		return false
	}
	if n.Kind == node.KindCall {
		for _, a := range n.Args() {
			if t.refsLoopVars(a, loops) {
				return true
			}
		}
		return false
	}
	return t.refsLoopVars(n, loops)
}

// PassedToJoin reports whether name is an argument of a join-like call
// somewhere inside loop.
func (t *Table) PassedToJoin(loop *node.Node, name string) bool {
	_, ok := t.sinks[loop][name]
	return ok
}

// JoinedAfter reports whether any loop enclosing n hands name to a
// join-like call positioned after n.
func (t *Table) JoinedAfter(n *node.Node, name string) bool {
	for _, l := range t.info[n].loops {
		if pos, ok := t.sinks[l][name]; ok && n.Span.Start.Before(pos) {
			return true
		}
	}
	return false
}

// JoinSinks lists the names passed to join-like calls inside loop.
func (t *Table) JoinSinks(loop *node.Node) []string {
	out := make([]string, 0, len(t.sinks[loop]))
	for name := range t.sinks[loop] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Calls returns the calls made directly from s, excluding nested functions,
// in source order.
func (t *Table) Calls(s *Scope) []*node.Node {
	if s == nil {
		return nil
	}
	return s.calls
}

// CallEdges returns the distinct callee names invoked from s in first-call
// order. These are the local call graph edges of the scope.
func (t *Table) CallEdges(s *Scope) []string {
	if s == nil {
		return nil
	}
	seen := make(map[string]bool, len(s.calls))
	var out []string
	for _, c := range s.calls {
		if !seen[c.Callee] {
			seen[c.Callee] = true
			out = append(out, c.Callee)
		}
	}
	return out
}
