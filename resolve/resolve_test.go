package resolve_test

import (
	"testing"

	"github.com/stratumlang/starlark/resolve"
	"github.com/stratumlang/starlark/syntax"
)

func resolveFile(t *testing.T, src string, predeclared ...string) (*resolve.Module, resolve.ErrorList) {
	t.Helper()
	f, err := syntax.Parse("test.star", src)
	if err != nil {
		t.Fatal(err)
	}
	isPredeclared := func(name string) bool {
		for _, p := range predeclared {
			if p == name {
				return true
			}
		}
		return false
	}
	return resolve.File(f, isPredeclared)
}

func TestModuleSlots(t *testing.T) {
	mod, errs := resolveFile(t, `
a = 1
b = 2
a = 3
def f():
	pass
`)
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	// a, b, f: reassignment of a must not claim a second slot.
	if mod.NumModuleSlots != 3 {
		t.Errorf("NumModuleSlots = %d, want 3", mod.NumModuleSlots)
	}
	for _, name := range []string{"a", "b", "f"} {
		if _, ok := mod.ModuleNames[name]; !ok {
			t.Errorf("module name %s missing", name)
		}
	}
}

func TestLocalSlots(t *testing.T) {
	mod, errs := resolveFile(t, `
def f(p, q):
	x = p
	y = q
	x = y
	return x
`)
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	var fn *resolve.Function
	for _, g := range mod.Functions {
		if g.Name == "f" {
			fn = g
		}
	}
	if fn == nil {
		t.Fatal("function f not resolved")
	}
	// p, q, x, y: reassignment of x must reuse its slot.
	if fn.NumLocals != 4 {
		t.Errorf("NumLocals = %d, want 4", fn.NumLocals)
	}
	if fn.HasVarargs || fn.HasKwargs {
		t.Error("unexpected varargs/kwargs")
	}
}

func TestCellPromotion(t *testing.T) {
	mod, errs := resolveFile(t, `
def outer():
	captured = 1
	plain = 2
	def inner():
		return captured
	return inner
`)
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	var outer, inner *resolve.Function
	for _, g := range mod.Functions {
		switch g.Name {
		case "outer":
			outer = g
		case "inner":
			inner = g
		}
	}
	if outer == nil || inner == nil {
		t.Fatal("functions not resolved")
	}
	if len(outer.CellIndices) != 1 {
		t.Fatalf("outer has %d cells, want 1", len(outer.CellIndices))
	}
	if len(inner.Frees) != 1 || inner.Frees[0].Name != "captured" {
		t.Fatalf("inner frees = %+v, want one capture of 'captured'", inner.Frees)
	}
	if inner.Frees[0].OuterScope != resolve.Cell {
		t.Errorf("capture scope = %v, want cell", inner.Frees[0].OuterScope)
	}
}

// A capture across two function boundaries threads a free variable
// through the intermediate function.
func TestTransitiveCapture(t *testing.T) {
	mod, errs := resolveFile(t, `
def a():
	v = 1
	def b():
		def c():
			return v
		return c
	return b
`)
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	byName := map[string]*resolve.Function{}
	for _, g := range mod.Functions {
		byName[g.Name] = g
	}
	bFn, cFn := byName["b"], byName["c"]
	if bFn == nil || cFn == nil {
		t.Fatal("functions not resolved")
	}
	if len(bFn.Frees) != 1 || bFn.Frees[0].OuterScope != resolve.Cell {
		t.Errorf("b frees = %+v, want one cell capture", bFn.Frees)
	}
	if len(cFn.Frees) != 1 || cFn.Frees[0].OuterScope != resolve.Free {
		t.Errorf("c frees = %+v, want one free-of-free capture", cFn.Frees)
	}
}

func TestUndefinedName(t *testing.T) {
	_, errs := resolveFile(t, `x = missing`)
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
	}

	// Predeclared names resolve without error.
	_, errs = resolveFile(t, `x = present`, "present")
	if len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
}

func TestUniverseShadowing(t *testing.T) {
	mod, errs := resolveFile(t, `
len = 1
x = len
`, "len")
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	// Both the binding and the use of len must resolve to a module slot,
	// not the predeclared name.
	if _, ok := mod.ModuleNames["len"]; !ok {
		t.Error("len not shadowed at module scope")
	}
	for ident, b := range mod.Idents {
		if ident.Name == "len" && b.Scope != resolve.Global {
			t.Errorf("len resolved to %v, want module", b.Scope)
		}
	}
}

func TestBlankIdent(t *testing.T) {
	mod, errs := resolveFile(t, `
def f():
	_ = 1
	for _ in [1, 2]:
		pass
`)
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	for ident, b := range mod.Idents {
		if ident.Name == "_" && b.Index != -1 {
			t.Errorf("blank identifier claimed slot %d", b.Index)
		}
	}
}
