package starlark_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stratumlang/starlark/starlark"
)

// Scope resolution: locals, module globals, predeclared names, and the
// universe, with shadowing at each level.
func TestScopes(t *testing.T) {
	predeclared := starlark.StringDict{"p": starlark.MakeInt(100)}
	globals, err := execModule(t, `
g = 1

def f():
	g2 = g + p
	return g2

r1 = f()

def shadow():
	p = 7
	return p

r2 = shadow()

len = 3
r3 = len
`, predeclared)
	if err != nil {
		t.Fatal(err)
	}
	for name, want := range map[string]string{
		"r1": "101",
		"r2": "7",
		"r3": "3", // universe name shadowed at module level
	} {
		if got := globals[name].String(); got != want {
			t.Errorf("%s = %s, want %s", name, got, want)
		}
	}
}

// A module-level function may refer to a global defined later in the
// file, as long as the call happens after the definition.
func TestForwardReference(t *testing.T) {
	globals, err := execModule(t, `
def f():
	return later

later = 42
r = f()
`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := globals["r"].String(); got != "42" {
		t.Errorf("r = %s, want 42", got)
	}
}

func TestLocalBeforeAssignment(t *testing.T) {
	_, err := execModule(t, `
def f():
	x = y
	y = 1
f()
`, nil)
	if err == nil {
		t.Fatal("use before assignment unexpectedly succeeded")
	}
	if !strings.Contains(err.Error(), "referenced before assignment") {
		t.Errorf("unexpected error: %v", err)
	}
}

// Deeply nested capture: a variable defined three scopes up is both
// readable and (via mutation of its referent) writable from the
// innermost function.
func TestNestedCapture(t *testing.T) {
	globals, err := execModule(t, `
def a():
	box = [0]
	def b():
		def c():
			box[0] += 1
			return box[0]
		return c
	return b

counter = a()()
r1 = counter()
r2 = counter()
`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := globals["r1"].String(); got != "1" {
		t.Errorf("r1 = %s, want 1", got)
	}
	if got := globals["r2"].String(); got != "2" {
		t.Errorf("r2 = %s, want 2", got)
	}
}

// Ref transparency: after writing through the captured variable, every
// scope that can see it observes the same value.
func TestCaptureWriteVisibility(t *testing.T) {
	globals, err := execModule(t, `
def make():
	state = []
	def write(v):
		state.append(v)
	def read():
		return list(state)
	return (write, read)

w, r = make()
w(1)
before = r()
w(2)
after = r()
`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := globals["before"].String(); got != "[1]" {
		t.Errorf("before = %s, want [1]", got)
	}
	if got := globals["after"].String(); got != "[1, 2]" {
		t.Errorf("after = %s, want [1, 2]", got)
	}
}

func TestCallStack(t *testing.T) {
	var depth int
	probe := starlark.NewBuiltin("probe", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		depth = thread.CallStackDepth()
		return starlark.None, nil
	})
	_, err := execModule(t, `
def f():
	probe()
def g():
	f()
g()
`, starlark.StringDict{"probe": probe})
	if err != nil {
		t.Fatal(err)
	}
	// toplevel, g, f (builtins are not recorded as frames).
	if depth != 3 {
		t.Errorf("CallStackDepth = %d, want 3", depth)
	}
}

// The CallEnter/CallExit hooks fire in matched pairs, once per call.
func TestCallHooks(t *testing.T) {
	var names []string
	var exits int
	thread := &starlark.Thread{}
	thread.CallEnter = func(fn starlark.Callable, _ time.Duration) {
		names = append(names, fn.Name())
	}
	thread.CallExit = func(_ time.Duration) { exits++ }

	_, err := starlark.ExecFile(thread, "hooks.star", `
def f():
	return len([])
f()
`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != exits {
		t.Errorf("%d enters, %d exits", len(names), exits)
	}
	var sawF bool
	for _, n := range names {
		if n == "f" {
			sawF = true
		}
	}
	if !sawF {
		t.Errorf("call hook never saw f; got %v", names)
	}
}
