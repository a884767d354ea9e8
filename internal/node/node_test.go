package node

import (
	"strings"
	"testing"
)

func sampleTree(t *testing.T) (*Tree, map[string]*Node) {
	t.Helper()
	query := Call("db.query", Str("SELECT 1").At(4, 20), Ident("uid").At(4, 32)).At(4, 9)
	loop := Loop([]string{"uid"}, Ident("user_ids").At(3, 16), query).At(3, 5)
	acc := Assign(Ident("orders").At(2, 5), Str("").At(2, 14)).At(2, 5)
	ret := Return(Ident("orders").At(5, 12)).At(5, 5)
	fn := Func("get_all_orders", []string{"user_ids"}, acc, loop, ret).At(1, 1)
	tree, err := NewTree("perf.py", "python", Module(fn))
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	return tree, map[string]*Node{"fn": fn, "loop": loop, "query": query, "acc": acc, "ret": ret}
}

func TestKindString(t *testing.T) {
	for k := Kind(0); k < NumKinds; k++ {
		name := k.String()
		if name == "" || strings.HasPrefix(name, "Kind(") {
			t.Fatalf("kind %d has no name", k)
		}
		back, err := ParseKind(name)
		if err != nil || back != k {
			t.Fatalf("ParseKind(%q) = %v, %v", name, back, err)
		}
	}
	if _, err := ParseKind("ClassDef"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if got := Kind(200).String(); got != "Kind(200)" {
		t.Fatalf("unexpected name for invalid kind: %s", got)
	}
}

func TestNewTreeLinksParents(t *testing.T) {
	tree, n := sampleTree(t)

	if tree.Size != 12 {
		t.Errorf("Size = %d, want 12", tree.Size)
	}
	if n["fn"].Parent() != tree.Root {
		t.Error("function should be a child of the module")
	}
	if n["query"].Enclosing(KindLoop) != n["loop"] {
		t.Error("query should be enclosed by the loop")
	}
	if n["query"].Enclosing(KindFunctionDef) != n["fn"] {
		t.Error("query should be enclosed by the function")
	}
	if n["fn"].Enclosing(KindLoop) != nil {
		t.Error("function has no enclosing loop")
	}
	if !n["fn"].IsAncestorOf(n["query"]) || n["query"].IsAncestorOf(n["fn"]) {
		t.Error("IsAncestorOf mismatch")
	}
	if n["acc"].NextSibling() != n["loop"] || n["loop"].PrevSibling() != n["acc"] {
		t.Error("sibling navigation mismatch")
	}
	if n["ret"].NextSibling() != nil || n["acc"].PrevSibling() != nil {
		t.Error("expected no siblings at the ends")
	}
	if tree.Root.NextSibling() != nil {
		t.Error("root has no siblings")
	}
	if err := tree.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestSpansCoverChildren(t *testing.T) {
	tree, n := sampleTree(t)

	if got := n["fn"].Span; got.Start != (Pos{1, 1}) || got.End != (Pos{5, 12}) {
		t.Errorf("function span = %+v", got)
	}
	if got := tree.Root.Span; got.Start != (Pos{1, 1}) || got.End != (Pos{5, 12}) {
		t.Errorf("module span = %+v", got)
	}
	if n["query"].Span.File != "perf.py" {
		t.Errorf("file not stamped: %q", n["query"].Span.File)
	}
	if s := n["query"].Span.String(); s != "perf.py:4:9" {
		t.Errorf("span string = %q", s)
	}
}

func TestChildSpansInherited(t *testing.T) {
	id := Ident("x")
	assign := Assign(id, Num("1")).At(3, 1)
	if _, err := NewTree("a.py", "python", Module(assign)); err != nil {
		t.Fatal(err)
	}
	if id.Span.Start != (Pos{3, 1}) {
		t.Errorf("identifier span not inherited: %+v", id.Span)
	}
}

func TestNewTreeRejectsMalformed(t *testing.T) {
	shared := Ident("x")
	tests := []struct {
		name string
		root *Node
	}{
		{"nil root", nil},
		{"non-module root", Func("f", nil)},
		{"shared child", Module(Return(shared), Return(shared))},
		{"nested module", Module(Func("f", nil, Module()))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTree("f.py", "python", tt.root); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestAccessors(t *testing.T) {
	inner := Call("hashlib.sha256", Ident("pw"))
	outer := MethodCall(inner, "hashlib.sha256().hexdigest")
	cmp := Compare("==", outer, Ident("stored_hash"))
	aug := AugAssign("+=", Ident("out"), Ident("p"))
	loop := Loop([]string{"p"}, Ident("parts"), aug)
	cond := If(cmp, Return(Bool(true)))
	MustTree("auth.py", Module(Func("f", []string{"pw"}, cond, loop)))

	if outer.Receiver() != inner {
		t.Error("receiver mismatch")
	}
	if len(outer.Args()) != 0 {
		t.Errorf("expected no args, got %d", len(outer.Args()))
	}
	if args := inner.Args(); len(args) != 1 || args[0].Name != "pw" {
		t.Errorf("inner args = %v", args)
	}
	if cmp.Left() != outer || cmp.Right().Name != "stored_hash" {
		t.Error("compare operands mismatch")
	}
	if aug.Target().Name != "out" || aug.AssignedValue().Name != "p" {
		t.Error("augassign accessors mismatch")
	}
	if loop.Cond().Name != "parts" || len(loop.Body()) != 1 {
		t.Error("loop accessors mismatch")
	}
	if cond.Cond() != cmp || len(cond.Body()) != 1 {
		t.Error("if accessors mismatch")
	}
	if cmp.Target() != nil || cmp.Body() != nil || cmp.Receiver() != nil {
		t.Error("accessors should be nil for unrelated kinds")
	}
	if Assign(Ident("x"), nil).AssignedValue() != nil {
		t.Error("declaration without value has no assigned value")
	}
	if !Str("").IsStringLiteral() || Num("1").IsStringLiteral() {
		t.Error("IsStringLiteral mismatch")
	}
}

func TestTraversalOrder(t *testing.T) {
	tree, _ := sampleTree(t)

	var pre []string
	tree.Root.Walk(func(n *Node) bool {
		pre = append(pre, n.Kind.String())
		return n.Kind != KindLoop
	})
	wantPre := "Module FunctionDef Assign Identifier Literal Loop Return Identifier"
	if got := strings.Join(pre, " "); got != wantPre {
		t.Errorf("pre-order = %q, want %q", got, wantPre)
	}

	var post []string
	tree.Root.PostOrder(func(n *Node) {
		post = append(post, n.Label())
	})
	wantPost := "orders|string literal|Assign|user_ids|string literal|uid|db.query()|Loop|orders|Return|get_all_orders|Module"
	if got := strings.Join(post, "|"); got != wantPost {
		t.Errorf("post-order = %q, want %q", got, wantPost)
	}
}

func TestAncestorsStopsEarly(t *testing.T) {
	_, n := sampleTree(t)
	var kinds []Kind
	n["query"].Ancestors(func(a *Node) bool {
		kinds = append(kinds, a.Kind)
		return a.Kind != KindFunctionDef
	})
	if len(kinds) != 2 || kinds[0] != KindLoop || kinds[1] != KindFunctionDef {
		t.Errorf("ancestors = %v", kinds)
	}
}

func TestValidateDetectsBrokenSpan(t *testing.T) {
	tree, n := sampleTree(t)
	n["query"].Span = Range(9, 1, 9, 5)
	if err := tree.Validate(); err == nil {
		t.Fatal("expected containment error")
	}
}
