// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package starlark_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stratumlang/starlark/starlark"
)

// execModule parses, resolves, compiles, and runs src as a module,
// returning its frozen globals.
func execModule(t *testing.T, src string, predeclared starlark.StringDict) (starlark.StringDict, error) {
	t.Helper()
	thread := &starlark.Thread{Name: "test"}
	return starlark.ExecFile(thread, "test.star", src, predeclared)
}

func TestExecFile(t *testing.T) {
	globals, err := execModule(t, `
x = 1 + 2
y = "a" + "b"
def double(n):
	return n * 2
z = double(x)
`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := globals["x"].String(); got != "3" {
		t.Errorf("x = %s, want 3", got)
	}
	if got := globals["y"].String(); got != `"ab"` {
		t.Errorf("y = %s, want \"ab\"", got)
	}
	if got := globals["z"].String(); got != "6" {
		t.Errorf("z = %s, want 6", got)
	}
}

func TestEvalExprs(t *testing.T) {
	tests := []struct{ src, want string }{
		{`1 + 2 * 3`, `7`},
		{`(1 + 2) * 3`, `9`},
		{`7 // 2`, `3`},
		{`-7 // 2`, `-4`},
		{`7 % 3`, `1`},
		{`-7 % 3`, `2`},
		{`1 << 8`, `256`},
		{`255 >> 4`, `15`},
		{`6 & 3`, `2`},
		{`6 | 3`, `7`},
		{`6 ^ 3`, `5`},
		{`~0`, `-1`},
		{`-(5)`, `-5`},
		{`not True`, `False`},
		{`not 0`, `True`},
		{`True and False`, `False`},
		{`False or "x"`, `"x"`},
		{`None == None`, `True`},
		{`1 != 2`, `True`},
		{`"abc"[1]`, `"b"`},
		{`"abcde"[1:4]`, `"bcd"`},
		{`"abcde"[::2]`, `"ace"`},
		{`"abcde"[::-1]`, `"edcba"`},
		{`[1, 2, 3][-1]`, `3`},
		{`(1, 2, 3)[0]`, `1`},
		{`[1, 2] + [3]`, `[1, 2, 3]`},
		{`(1,) + (2, 3)`, `(1, 2, 3)`},
		{`[0] * 3`, `[0, 0, 0]`},
		{`"ab" * 2`, `"abab"`},
		{`3 in [1, 2, 3]`, `True`},
		{`4 not in [1, 2, 3]`, `True`},
		{`"bc" in "abcd"`, `True`},
		{`1 in {1: "one"}`, `True`},
		{`{"a": 1}["a"]`, `1`},
		{`len([1, 2, 3])`, `3`},
		{`[x * x for x in range(4)]`, `[0, 1, 4, 9]`},
		{`[x for x in range(10) if x % 3 == 0]`, `[0, 3, 6, 9]`},
		{`[x + y for x in "ab".elems() for y in "cd".elems()]`, `["ac", "ad", "bc", "bd"]`},
		{`{k: v for k, v in [("a", 1), ("b", 2)]}["b"]`, `2`},
		{`(lambda x, y=10: x + y)(5)`, `15`},
		{`1 < 2`, `True`},
		{`"a" < "b"`, `True`},
		{`[1, 2] < [1, 3]`, `True`},
		{`(1, 2) == (1, 2)`, `True`},
	}
	for _, test := range tests {
		thread := &starlark.Thread{}
		v, err := starlark.Eval(thread, "<expr>", test.src, nil)
		if err != nil {
			t.Errorf("eval %s: %v", test.src, err)
			continue
		}
		if got := v.String(); got != test.want {
			t.Errorf("eval %s = %s, want %s", test.src, got, test.want)
		}
	}
}

func TestEvalErrors(t *testing.T) {
	tests := []struct{ src, want string }{
		{`1 // 0`, "floored division by zero"},
		{`1 % 0`, "integer modulo by zero"},
		{`[1][3]`, "out of range"},
		{`{}["k"]`, "not in dict"},
		{`None + 1`, "unknown binary op"},
		{`len(1)`, "has no len"},
		{`undefined_name`, "undefined: undefined_name"},
		{`"a" < 1`, "not implemented"},
	}
	for _, test := range tests {
		thread := &starlark.Thread{}
		_, err := starlark.Eval(thread, "<expr>", test.src, nil)
		if err == nil {
			t.Errorf("eval %s: unexpected success", test.src)
			continue
		}
		if !strings.Contains(err.Error(), test.want) {
			t.Errorf("eval %s: error %q does not contain %q", test.src, err, test.want)
		}
	}
}

// An undefined name in a function body must not fail compilation; the
// error fires only if the function is actually called.
func TestDeferredNameError(t *testing.T) {
	src := `
def broken():
	return no_such_name
ok = 1
`
	globals, err := execModule(t, src, nil)
	if err != nil {
		t.Fatalf("module with uncalled broken function failed: %v", err)
	}
	if _, ok := globals["ok"]; !ok {
		t.Fatal("ok not defined")
	}

	src2 := src + "broken()\n"
	if _, err := execModule(t, src2, nil); err == nil {
		t.Error("calling broken function unexpectedly succeeded")
	} else if !strings.Contains(err.Error(), "undefined: no_such_name") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestClosures(t *testing.T) {
	globals, err := execModule(t, `
def counter():
	n = [0]
	def inc():
		n[0] += 1
		return n[0]
	return inc

c = counter()
a = c()
b = c()
d = counter()()
`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := globals["a"].String(); got != "1" {
		t.Errorf("a = %s, want 1", got)
	}
	if got := globals["b"].String(); got != "2" {
		t.Errorf("b = %s, want 2", got)
	}
	if got := globals["d"].String(); got != "1" {
		t.Errorf("d = %s, want 1 (fresh cell per call)", got)
	}
}

// A captured variable is shared by reference: a write in the inner
// function is observed by the outer scope, and vice versa.
func TestCellSharing(t *testing.T) {
	globals, err := execModule(t, `
def outer():
	acc = []
	def add(x):
		acc.append(x)
	add(1)
	add(2)
	return acc

result = outer()

def pair():
	fns = []
	for i in [10, 20]:
		fns.append(lambda j=i: j)
	return [f() for f in fns]

snapshot = pair()
`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := globals["result"].String(); got != "[1, 2]" {
		t.Errorf("result = %s, want [1, 2]", got)
	}
	if got := globals["snapshot"].String(); got != "[10, 20]" {
		t.Errorf("snapshot = %s, want [10, 20]", got)
	}
}

func TestControlFlow(t *testing.T) {
	globals, err := execModule(t, `
def collatz(n):
	steps = 0
	while n != 1:
		if n % 2 == 0:
			n = n // 2
		else:
			n = 3 * n + 1
		steps += 1
	return steps

s = collatz(27)

total = 0
for i in range(10):
	if i == 3:
		continue
	if i == 7:
		break
	total += i
`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := globals["s"].String(); got != "111" {
		t.Errorf("collatz(27) = %s, want 111", got)
	}
	// 0+1+2+4+5+6 = 18
	if got := globals["total"].String(); got != "18" {
		t.Errorf("total = %s, want 18", got)
	}
}

func TestParamBinding(t *testing.T) {
	preamble := `
def f(a, b=2, *args, c, d=4, **kwargs):
	return [a, b, list(args), c, d, kwargs]
`
	tests := []struct{ call, want string }{
		{`f(1, c=3)`, `[1, 2, [], 3, 4, {}]`},
		{`f(1, 20, 30, 40, c=3, e=5)`, `[1, 20, [30, 40], 3, 4, {"e": 5}]`},
		{`f(*[1, 2, 3], **{"c": 30, "x": 40})`, `[1, 2, [3], 30, 4, {"x": 40}]`},
		{`f(b=20, a=10, c=30)`, `[10, 20, [], 30, 4, {}]`},
	}
	for _, test := range tests {
		globals, err := execModule(t, preamble+"r = "+test.call+"\n", nil)
		if err != nil {
			t.Errorf("%s: %v", test.call, err)
			continue
		}
		if got := globals["r"].String(); got != test.want {
			t.Errorf("%s = %s, want %s", test.call, got, test.want)
		}
	}

	errTests := []struct{ call, want string }{
		{`f(1)`, "missing argument for c"},
		{`f(c=3)`, "missing argument for a"},
		{`f(1, 2, c=3, a=4)`, "multiple values for parameter a"},
		{`g(1, 2)`, "got 2 arguments, want at most 1"},
		{`g(x=1, y=2)`, "unexpected keyword argument y"},
	}
	preamble2 := preamble + `
def g(x):
	return x
`
	for _, test := range errTests {
		_, err := execModule(t, preamble2+"r = "+test.call+"\n", nil)
		if err == nil {
			t.Errorf("%s: unexpected success", test.call)
			continue
		}
		if !strings.Contains(err.Error(), test.want) {
			t.Errorf("%s: error %q does not contain %q", test.call, err, test.want)
		}
	}
}

// Binding totality: a call whose shape matches the spec fills every
// slot exactly once, so every parameter is observable with its bound
// value and no default leaks over a supplied argument.
func TestParamBindingTotality(t *testing.T) {
	globals, err := execModule(t, `
def h(a, b=-1, *rest, c=-2, **extra):
	return [a, b, list(rest), c, extra]

every = h(1, 2, 3, c=4, d=5)
`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := globals["every"].String(), `[1, 2, [3], 4, {"d": 5}]`; got != want {
		t.Errorf("every = %s, want %s", got, want)
	}
}

func TestFreezeModuleGlobals(t *testing.T) {
	globals, err := execModule(t, `x = [1, 2]`, nil)
	if err != nil {
		t.Fatal(err)
	}
	list := globals["x"].(*starlark.List)
	if err := list.Append(starlark.MakeInt(3)); err == nil {
		t.Error("append to frozen list unexpectedly succeeded")
	}

	// Freezing is idempotent.
	list.Freeze()
	if err := list.SetIndex(0, starlark.None); err == nil {
		t.Error("assignment to frozen list unexpectedly succeeded")
	}
}

func TestFreezeSharing(t *testing.T) {
	// Two globals sharing one list still share it after freeze.
	globals, err := execModule(t, `
a = [1]
b = [a, a]
`, nil)
	if err != nil {
		t.Fatal(err)
	}
	b := globals["b"].(*starlark.List)
	if b.Index(0) != b.Index(1) {
		t.Error("freeze broke sharing of a common sublist")
	}
}

func TestMutationDuringIteration(t *testing.T) {
	tests := []string{
		`
def f():
	x = [1, 2, 3]
	for v in x:
		x.append(v)
f()
`,
		`
def f():
	d = {1: 1}
	for k in d:
		d[2] = 2
f()
`,
	}
	for _, src := range tests {
		_, err := execModule(t, src, nil)
		if err == nil {
			t.Errorf("mutation during iteration unexpectedly succeeded: %s", src)
			continue
		}
		if !strings.Contains(err.Error(), "during iteration") {
			t.Errorf("unexpected error: %v", err)
		}
	}
}

func TestRecursionLimit(t *testing.T) {
	thread := &starlark.Thread{}
	thread.SetMaxCallDepth(100)
	_, err := starlark.ExecFile(thread, "rec.star", `
def f():
	return f()
f()
`, nil)
	if err == nil {
		t.Fatal("unbounded recursion unexpectedly succeeded")
	}
	if !strings.Contains(err.Error(), "stack overflow") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStepBudget(t *testing.T) {
	thread := &starlark.Thread{}
	thread.SetMaxSteps(1000)
	_, err := starlark.ExecFile(thread, "spin.star", `
i = 0
while True:
	i += 1
`, nil)
	if err == nil {
		t.Fatal("unbounded loop unexpectedly succeeded")
	}
	if !strings.Contains(err.Error(), "too many steps") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCancel(t *testing.T) {
	thread := &starlark.Thread{}
	thread.Cancel("operator unplugged the machine")
	_, err := starlark.ExecFile(thread, "loop.star", `
while True:
	pass
`, nil)
	if err == nil {
		t.Fatal("cancelled thread ran to completion")
	}
	if !strings.Contains(err.Error(), "unplugged") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEvalErrorBacktrace(t *testing.T) {
	_, err := execModule(t, `
def inner():
	fail("boom")
def outer():
	inner()
outer()
`, nil)
	if err == nil {
		t.Fatal("unexpected success")
	}
	var evalErr *starlark.EvalError
	if !errors.As(err, &evalErr) {
		t.Fatalf("error is %T, not *EvalError", err)
	}
	bt := evalErr.Backtrace()
	for _, fn := range []string{"inner", "outer"} {
		if !strings.Contains(bt, fn) {
			t.Errorf("backtrace %q does not mention %s", bt, fn)
		}
	}
}

func TestPrivateNamesNotExported(t *testing.T) {
	globals, err := execModule(t, `
_hidden = 1
visible = 2
`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := globals["_hidden"]; ok {
		t.Error("leading-underscore global was exported")
	}
	if _, ok := globals["visible"]; !ok {
		t.Error("visible global missing")
	}
}

func TestLoad(t *testing.T) {
	thread := &starlark.Thread{
		Load: func(thread *starlark.Thread, module string) (starlark.StringDict, error) {
			if module != "lib.star" {
				return nil, fmt.Errorf("no such module")
			}
			return starlark.StringDict{"answer": starlark.MakeInt(42)}, nil
		},
	}
	globals, err := starlark.ExecFile(thread, "main.star", `
load("lib.star", "answer")
doubled = answer * 2
`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := globals["doubled"].String(); got != "84" {
		t.Errorf("doubled = %s, want 84", got)
	}
}

func TestPredeclared(t *testing.T) {
	predeclared := starlark.StringDict{
		"greeting": starlark.String("hello"),
		"shout": starlark.NewBuiltin("shout", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var s string
			if err := starlark.UnpackPositionalArgs("shout", args, kwargs, 1, &s); err != nil {
				return nil, err
			}
			return starlark.String(strings.ToUpper(s)), nil
		}),
	}
	globals, err := execModule(t, `msg = shout(greeting)`, predeclared)
	if err != nil {
		t.Fatal(err)
	}
	if got := globals["msg"].String(); got != `"HELLO"` {
		t.Errorf("msg = %s, want \"HELLO\"", got)
	}
}

// Constant folding must be unobservable: a literal-only expression
// evaluates to the same value the unfolded form produces.
func TestConstantFoldingSoundness(t *testing.T) {
	tests := []struct{ folded, unfolded string }{
		{`-5`, `0 - 5`},
		{`+7`, `7`},
		{`"a" + "b" + "c"`, `"".join(["a", "b", "c"])`},
		{`(1, "x", (2,))`, `tuple([1, "x", (2,)])`},
		{`[1, 2, 3]`, `list((1, 2, 3))`},
		{`{"a": 1, "b": 2}`, `dict(a=1, b=2)`},
	}
	for _, test := range tests {
		thread := &starlark.Thread{}
		x, err := starlark.Eval(thread, "<folded>", test.folded, nil)
		if err != nil {
			t.Errorf("eval %s: %v", test.folded, err)
			continue
		}
		y, err := starlark.Eval(thread, "<unfolded>", test.unfolded, nil)
		if err != nil {
			t.Errorf("eval %s: %v", test.unfolded, err)
			continue
		}
		eq, err := starlark.Equal(x, y)
		if err != nil {
			t.Errorf("compare %s: %v", test.folded, err)
		} else if !eq {
			t.Errorf("%s = %s, but %s = %s", test.folded, x, test.unfolded, y)
		}
	}
}

// A list literal of constant elements must produce a fresh list per
// evaluation, not a shared one.
func TestConstantListFreshness(t *testing.T) {
	globals, err := execModule(t, `
def make():
	return [1, 2]
a = make()
b = make()
a.append(3)
lens = (len(a), len(b))
`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := globals["lens"].String(); got != "(3, 2)" {
		t.Errorf("lens = %s, want (3, 2)", got)
	}
}

func TestDictLiteralDuplicateKey(t *testing.T) {
	for _, src := range []string{
		`d = {"a": 1, "a": 2}`, // constant keys: rejected when evaluated
		`
k = "a"
d = {k: 1, "a": 2}
`, // non-constant key: rejected at runtime
	} {
		if _, err := execModule(t, src, nil); err == nil {
			t.Errorf("duplicate dict key unexpectedly accepted: %s", src)
		} else if !strings.Contains(err.Error(), "duplicate key") {
			t.Errorf("unexpected error: %v", err)
		}
	}
}

func TestMethodCall(t *testing.T) {
	globals, err := execModule(t, `
s = "a,b,c".split(",")
u = " x ".strip().upper()
d = {}
d.setdefault("k", []).append(1)
`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := globals["s"].String(); got != `["a", "b", "c"]` {
		t.Errorf("s = %s", got)
	}
	if got := globals["u"].String(); got != `"X"` {
		t.Errorf("u = %s", got)
	}
	if got := globals["d"].String(); got != `{"k": [1]}` {
		t.Errorf("d = %s", got)
	}
}

func TestTupleAssignment(t *testing.T) {
	globals, err := execModule(t, `
a, b = 1, 2
a, b = b, a
(c, d), e = (3, 4), 5
`, nil)
	if err != nil {
		t.Fatal(err)
	}
	for name, want := range map[string]string{"a": "2", "b": "1", "c": "3", "d": "4", "e": "5"} {
		if got := globals[name].String(); got != want {
			t.Errorf("%s = %s, want %s", name, got, want)
		}
	}

	if _, err := execModule(t, `a, b = 1, 2, 3`, nil); err == nil {
		t.Error("mismatched unpacking unexpectedly succeeded")
	}
}

// A function exported from a frozen module may still be called, but
// mutating state owned by that module must fail.
func TestFrozenModuleState(t *testing.T) {
	globals, err := execModule(t, `
state = []
def push(x):
	state.append(x)
def read():
	return list(state)
`, nil)
	if err != nil {
		t.Fatal(err)
	}
	thread := &starlark.Thread{}
	if _, err := starlark.Call(thread, globals["read"], nil, nil); err != nil {
		t.Errorf("calling read on frozen module: %v", err)
	}
	if _, err := starlark.Call(thread, globals["push"], starlark.Tuple{starlark.MakeInt(1)}, nil); err == nil {
		t.Error("mutation of frozen module state unexpectedly succeeded")
	} else if !strings.Contains(err.Error(), "frozen") {
		t.Errorf("unexpected error: %v", err)
	}
}

// Assignment to a module global from inside a function makes the name
// local, as in the surface language family; there is no way to rebind a
// global from below.
func TestGlobalRebindIsLocal(t *testing.T) {
	_, err := execModule(t, `
counter = 0
def bump():
	counter += 1
bump()
`, nil)
	if err == nil {
		t.Fatal("augmented assignment to global from function unexpectedly succeeded")
	}
	if !strings.Contains(err.Error(), "referenced before assignment") {
		t.Errorf("unexpected error: %v", err)
	}
}
