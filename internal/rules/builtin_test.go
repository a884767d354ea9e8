package rules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/chris-regnier/vigil/internal/aggregate"
	"github.com/chris-regnier/vigil/internal/engine"
	"github.com/chris-regnier/vigil/internal/finding"
	"github.com/chris-regnier/vigil/internal/node"
	"github.com/chris-regnier/vigil/internal/parse"
)

func builtinEngine(t *testing.T) *engine.Engine {
	t.Helper()
	reg, h, err := Builtin()
	if err != nil {
		t.Fatalf("Builtin() error: %v", err)
	}
	return engine.New(reg, engine.WithHeuristics(h))
}

func check(t *testing.T, tree *node.Tree) []finding.Finding {
	t.Helper()
	fs, diags := builtinEngine(t).Check(tree)
	if len(diags) != 0 {
		t.Fatalf("rule diagnostics: %v", diags)
	}
	return aggregate.Run([][]finding.Finding{fs}, nil)
}

func checkFixture(t *testing.T, name string) []finding.Finding {
	t.Helper()
	src, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatal(err)
	}
	tree, err := parse.NewTreeSitter().Parse(context.Background(), name, src)
	if err != nil {
		t.Fatalf("parse %s: %v", name, err)
	}
	return check(t, tree)
}

// brief renders findings as rule@line.
func brief(fs []finding.Finding) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, fmt.Sprintf("%s@%d", f.RuleID, f.Line()))
	}
	return out
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func TestFixtures(t *testing.T) {
	tests := []struct {
		file string
		want []string
	}{
		{"auth.py", []string{"hardcoded-secret@3", "weak-comparison@7", "missing-rate-limit@9"}},
		{"performance.py", []string{"n-plus-one-query@7", "blocking-call-in-loop@14", "quadratic-concat@22"}},
		{"clean_example.py", []string{}},
		{"auth_fixed.py", []string{}},
		{"performance_fixed.py", []string{}},
		{"auth.js", []string{"hardcoded-secret@2", "weak-comparison@5", "missing-rate-limit@8", "n-plus-one-query@19"}},
		{"files.go", []string{"blocking-call-in-loop@9"}},
		{"auth.ts", []string{"hardcoded-secret@2", "weak-comparison@5", "missing-rate-limit@8", "n-plus-one-query@19"}},
		{"auth.rs", []string{"hardcoded-secret@2", "weak-comparison@5", "missing-rate-limit@8", "n-plus-one-query@19"}},
		{"Auth.java", []string{"hardcoded-secret@3", "weak-comparison@6", "missing-rate-limit@9", "n-plus-one-query@20"}},
		{"peers.c", []string{"blocking-call-in-loop@7"}},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			got := brief(checkFixture(t, tt.file))
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("findings = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFixturesAreIdempotent(t *testing.T) {
	first := checkFixture(t, "performance.py")
	second := checkFixture(t, "performance.py")
	if !reflect.DeepEqual(first, second) {
		t.Fatal("repeated audits differ")
	}
}

func TestFixtureMessages(t *testing.T) {
	fs := checkFixture(t, "performance.py")
	msgs := make(map[string]string)
	for _, f := range fs {
		msgs[f.RuleID] = f.Message
	}
	if got := msgs[NPlusOneQuery]; got != "db.query runs once per iteration of the loop at line 5" {
		t.Errorf("n+1 message = %q", got)
	}
	if got := msgs[QuadraticConcat]; got != "string out is grown with += inside the loop at line 21" {
		t.Errorf("concat message = %q", got)
	}
	for _, f := range fs {
		if f.SuggestedFix == "" || strings.Contains(f.SuggestedFix, "{") {
			t.Errorf("%s suggested fix not rendered: %q", f.RuleID, f.SuggestedFix)
		}
	}
}

// ---------------------------------------------------------------------------
// hardcoded-secret
// ---------------------------------------------------------------------------

const secret = "sk-live-abc123secret456"

func TestHardcodedSecret(t *testing.T) {
	tests := []struct {
		name string
		stmt *node.Node
		want int
	}{
		{"module level", node.Assign(node.Ident("API_KEY"), node.Str(secret)), 1},
		{"camel case", node.Assign(node.Ident("clientSecret"), node.Str(secret)), 1},
		{"short value", node.Assign(node.Ident("password"), node.Str("hunter2")), 0},
		{"placeholder", node.Assign(node.Ident("password"), node.Str("your_password_here_123")), 0},
		{"url", node.Assign(node.Ident("token_url"), node.Str("https://auth.example.com/t0ken")), 0},
		{"not credential", node.Assign(node.Ident("build_id"), node.Str(secret)), 0},
		{"from env", node.Assign(node.Ident("API_KEY"), node.Call("os.getenv", node.Str("API_KEY"))), 0},
		{"inside function", node.Func("f", nil, node.Assign(node.Ident("API_KEY"), node.Str(secret))), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := check(t, node.MustTree("a.py", node.Module(tt.stmt.At(1, 1))))
			if len(got) != tt.want {
				t.Fatalf("findings = %v, want %d", brief(got), tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// weak-comparison
// ---------------------------------------------------------------------------

func TestWeakComparison(t *testing.T) {
	digest := node.MethodCall(node.Call("hashlib.sha256", node.Ident("pw")), "hashlib.sha256().hexdigest")
	tests := []struct {
		name string
		cmp  *node.Node
		want int
	}{
		{"hash identifier", node.Compare("==", node.Ident("user_input"), node.Ident("stored_hash")), 1},
		{"attribute", node.Compare("!=", node.Ident("user.hash"), node.Ident("given")), 1},
		{"strict", node.Compare("===", node.Ident("input"), node.Ident("storedHash")), 1},
		{"digest call", node.Compare("==", digest, node.Ident("expected")), 1},
		{"both credential", node.Compare("==", node.Ident("token"), node.Ident("stored_token")), 1},
		{"none check", node.Compare("==", node.Ident("password"), node.None()), 0},
		{"empty string", node.Compare("!=", node.Ident("password"), node.Str("")), 0},
		{"number", node.Compare("==", node.Ident("token_count"), node.Num("0")), 0},
		{"ordering", node.Compare("<", node.Ident("password"), node.Ident("other")), 0},
		{"plain names", node.Compare("==", node.Ident("a"), node.Ident("b")), 0},
		{"constant time", node.Compare("==", node.Call("hmac.compare_digest", node.Ident("a"), node.Ident("b")), node.Bool(true)), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := node.MustTree("a.py", node.Module(node.Func("f", nil, node.Return(tt.cmp.At(2, 5))).At(1, 1)))
			got := check(t, tree)
			if len(got) != tt.want {
				t.Fatalf("findings = %v, want %d", brief(got), tt.want)
			}
		})
	}
}

func TestWeakComparisonRemovedByConstantTimeCall(t *testing.T) {
	issue := node.Module(node.Func("check_password", []string{"user_input", "stored_hash"},
		node.Return(node.Compare("==", node.Ident("user_input"), node.Ident("stored_hash")).At(2, 12)),
	).At(1, 1))
	fixed := node.Module(node.Func("check_password", []string{"user_input", "stored_hash"},
		node.Return(node.Call("hmac.compare_digest", node.Ident("user_input"), node.Ident("stored_hash")).At(2, 12)),
	).At(1, 1))
	if got := check(t, node.MustTree("a.py", issue)); len(got) != 1 || got[0].RuleID != WeakComparison {
		t.Fatalf("issue findings = %v", brief(got))
	}
	if got := check(t, node.MustTree("a.py", fixed)); len(got) != 0 {
		t.Fatalf("fixed findings = %v", brief(got))
	}
}

// ---------------------------------------------------------------------------
// missing-rate-limit
// ---------------------------------------------------------------------------

func loginFunc(extra ...*node.Node) *node.Node {
	body := append([]*node.Node{
		node.Assign(node.Ident("user"), node.Call("get_user", node.Ident("username"))).At(2, 5),
		node.If(node.Call("check_password", node.Ident("password"), node.Ident("user.hash")),
			node.Return(node.Call("create_session", node.Ident("user"))).At(4, 9),
		).At(3, 5),
	}, extra...)
	return node.Func("login", []string{"username", "password"}, body...).At(1, 1)
}

func TestMissingRateLimit(t *testing.T) {
	got := check(t, node.MustTree("a.py", node.Module(loginFunc())))
	if len(got) != 1 || got[0].RuleID != MissingRateLimit || got[0].Line() != 1 {
		t.Fatalf("findings = %v", brief(got))
	}
	if got[0].Message != "login calls check_password without any rate limiting or lockout" {
		t.Errorf("message = %q", got[0].Message)
	}
}

func TestMissingRateLimitGuarded(t *testing.T) {
	guards := []*node.Node{
		node.AugAssign("+=", node.Ident("attempt_counter"), node.Num("1")).At(5, 5),
		node.Call("limiter.hit", node.Ident("username")).At(5, 5),
		node.If(node.Call("is_locked_out", node.Ident("username")), node.Return(node.None())).At(5, 5),
	}
	for _, g := range guards {
		t.Run(g.Label(), func(t *testing.T) {
			got := check(t, node.MustTree("a.py", node.Module(loginFunc(g))))
			if len(got) != 0 {
				t.Fatalf("findings = %v", brief(got))
			}
		})
	}

	decorated := loginFunc()
	decorated.Decorators = []string{"ratelimit"}
	if got := check(t, node.MustTree("a.py", node.Module(decorated))); len(got) != 0 {
		t.Fatalf("decorated findings = %v", brief(got))
	}
}

func TestMissingRateLimitIgnoresSelf(t *testing.T) {
	tree := node.MustTree("a.py", node.Module(
		node.Func("check_password", []string{"a", "b"},
			node.Return(node.Call("check_password", node.Ident("a"), node.Ident("b"))).At(2, 5),
		).At(1, 1),
	))
	if got := check(t, tree); len(got) != 0 {
		t.Fatalf("findings = %v", brief(got))
	}
}

// ---------------------------------------------------------------------------
// Loop rules
// ---------------------------------------------------------------------------

func TestNPlusOneTakesPrecedence(t *testing.T) {
	// http.fetch is both an I/O call and a query call.
	tree := node.MustTree("a.py", node.Module(node.Func("f", []string{"ids"},
		node.Loop([]string{"id"}, node.Ident("ids"),
			node.Call("http.fetch", node.Ident("id")).At(3, 9),
			node.Call("session.get", node.Ident("id")).At(4, 9),
		).At(2, 5),
	).At(1, 1)))
	got := brief(check(t, tree))
	want := []string{"n-plus-one-query@3", "blocking-call-in-loop@4"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("findings = %v, want %v", got, want)
	}
}

func TestQueryWithoutLoopVariable(t *testing.T) {
	tree := node.MustTree("a.py", node.Module(node.Func("f", []string{"ids"},
		node.Loop([]string{"id"}, node.Ident("ids"),
			node.Call("db.query", node.Str("SELECT 1")).At(3, 9),
		).At(2, 5),
		node.Call("db.query", node.Ident("ids")).At(4, 5),
	).At(1, 1)))
	if got := check(t, tree); len(got) != 0 {
		t.Fatalf("findings = %v", brief(got))
	}
}

func TestDerivedLoopVariable(t *testing.T) {
	tree := node.MustTree("a.py", node.Module(node.Func("f", []string{"users"},
		node.Loop([]string{"u"}, node.Ident("users"),
			node.Assign(node.Ident("key"), node.Ident("u.id")).At(3, 9),
			node.Call("cursor.execute", node.Str("SELECT ..."), node.Ident("key")).At(4, 9),
		).At(2, 5),
	).At(1, 1)))
	got := brief(check(t, tree))
	if !reflect.DeepEqual(got, []string{"n-plus-one-query@4"}) {
		t.Fatalf("findings = %v", got)
	}
}

func TestNestedLoopsReportOutermost(t *testing.T) {
	tree := node.MustTree("a.py", node.Module(node.Func("f", []string{"rows"},
		node.Loop([]string{"row"}, node.Ident("rows"),
			node.Loop([]string{"cell"}, node.Ident("row"),
				node.Call("urlopen", node.Ident("cell")).At(4, 13),
			).At(3, 9),
		).At(2, 5),
	).At(1, 1)))
	got := check(t, tree)
	if len(got) != 1 {
		t.Fatalf("findings = %v", brief(got))
	}
	if got[0].Message != "blocking call urlopen inside the loop at line 2" {
		t.Errorf("message = %q", got[0].Message)
	}
}

func TestCallInLoopIterableIsOutsideLoop(t *testing.T) {
	tree := node.MustTree("a.py", node.Module(node.Func("f", nil,
		node.Loop([]string{"line"}, node.Call("open", node.Str("data.txt")).At(2, 17),
			node.Call("print", node.Ident("line")).At(3, 9),
		).At(2, 5),
	).At(1, 1)))
	if got := check(t, tree); len(got) != 0 {
		t.Fatalf("findings = %v", brief(got))
	}
}

func TestQuadraticConcat(t *testing.T) {
	build := func(init *node.Node, extra ...*node.Node) *node.Tree {
		body := append([]*node.Node{
			node.AugAssign("+=", node.Ident("out"), node.Ident("p")).At(4, 9),
		}, extra...)
		return node.MustTree("a.py", node.Module(node.Func("f", []string{"parts"},
			init.At(2, 5),
			node.Loop([]string{"p"}, node.Ident("parts"), body...).At(3, 5),
		).At(1, 1)))
	}
	tests := []struct {
		name string
		tree *node.Tree
		want int
	}{
		{"string accumulator", build(node.Assign(node.Ident("out"), node.Str(""))), 1},
		{"numeric accumulator", build(node.Assign(node.Ident("out"), node.Num("0"))), 0},
		{"list accumulator", build(node.Assign(node.Ident("out"), node.Call("list"))), 0},
		{"joined in loop", build(node.Assign(node.Ident("out"), node.Str("")), node.Call("f.write", node.Ident("out")).At(5, 9)), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := check(t, tt.tree); len(got) != tt.want {
				t.Fatalf("findings = %v, want %d", brief(got), tt.want)
			}
		})
	}
}

func TestQuadraticConcatOutsideLoop(t *testing.T) {
	tree := node.MustTree("a.py", node.Module(node.Func("f", nil,
		node.Assign(node.Ident("s"), node.Str("")).At(2, 5),
		node.AugAssign("+=", node.Ident("s"), node.Str("x")).At(3, 5),
	).At(1, 1)))
	if got := check(t, tree); len(got) != 0 {
		t.Fatalf("findings = %v", brief(got))
	}
}

func TestQuadraticConcatJoinPlacement(t *testing.T) {
	build := func(joinLine int) *node.Tree {
		outer := []*node.Node{
			node.Loop([]string{"c"}, node.Ident("row"),
				node.AugAssign("+=", node.Ident("s"), node.Ident("c")).At(5, 13),
			).At(4, 9),
		}
		join := node.Call("out.write", node.Ident("s")).At(joinLine, 9)
		if joinLine < 4 {
			outer = append([]*node.Node{join}, outer...)
		} else {
			outer = append(outer, join)
		}
		return node.MustTree("a.py", node.Module(node.Func("f", []string{"rows", "out"},
			node.Assign(node.Ident("s"), node.Str("")).At(2, 5),
			node.Loop([]string{"row"}, node.Ident("rows"), outer...).At(3, 5),
		).At(1, 1)))
	}
	tests := []struct {
		name     string
		joinLine int
		want     []string
	}{
		{"joined in outer loop after inner", 6, []string{}},
		{"joined before the +=", 3, []string{"quadratic-concat@5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := brief(check(t, build(tt.joinLine))); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("findings = %v, want %v", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Container receivers
// ---------------------------------------------------------------------------

const dictLookups = `def total(keys, session):
    d = {}
    t = 0
    for k in keys:
        t += d.get(k, 0)
    return t


def fetch(keys, session):
    out = []
    for k in keys:
        out.append(session.get(k))
    return out
`

func TestDictGetIsNotBlocking(t *testing.T) {
	tree, err := parse.NewTreeSitter().Parse(context.Background(), "lookups.py", []byte(dictLookups))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := brief(check(t, tree))
	if want := []string{"blocking-call-in-loop@12"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("findings = %v, want %v", got, want)
	}
}

// ---------------------------------------------------------------------------
// Custom rules
// ---------------------------------------------------------------------------

func TestCustomMatchRule(t *testing.T) {
	rf, err := ParseRuleFile([]byte(validYAML))
	if err != nil {
		t.Fatal(err)
	}
	reg := engine.NewRegistry()
	for _, r := range rf.Rules {
		rule, err := Compile(r)
		if err != nil {
			t.Fatal(err)
		}
		if err := reg.Register(rule); err != nil {
			t.Fatal(err)
		}
	}
	tree := node.MustTree("a.py", node.Module(
		node.Call("eval", node.Ident("expr")).At(1, 1),
		node.Call("time.sleep", node.Num("1")).At(2, 1),
		node.Loop([]string{"i"}, node.Ident("xs"),
			node.Call("time.sleep", node.Num("1")).At(4, 5),
		).At(3, 1),
	))
	fs, _ := engine.New(reg).Check(tree)
	got := brief(aggregate.Run([][]finding.Finding{fs}, nil))
	want := []string{"no-eval@1", "sleep-in-loop@4"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("findings = %v, want %v", got, want)
	}
	if fs[0].Message != "call to eval evaluates arbitrary code" {
		t.Errorf("message = %q", fs[0].Message)
	}
}
