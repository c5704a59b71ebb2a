package starlarkstruct_test

import (
	"strings"
	"testing"

	"github.com/stratumlang/starlark/starlark"
	"github.com/stratumlang/starlark/starlarkstruct"
)

func TestModuleAttrs(t *testing.T) {
	m := &starlarkstruct.Module{
		Name: "utils",
		Members: starlark.StringDict{
			"version": starlark.MakeInt(3),
		},
	}
	thread := &starlark.Thread{}
	globals, err := starlark.ExecFile(thread, "m.star", `
v = utils.version
has = hasattr(utils, "version")
missing = hasattr(utils, "nope")
`, starlark.StringDict{"utils": m})
	if err != nil {
		t.Fatal(err)
	}
	for name, want := range map[string]string{
		"v":       "3",
		"has":     "True",
		"missing": "False",
	} {
		if got := globals[name].String(); got != want {
			t.Errorf("%s = %s, want %s", name, got, want)
		}
	}
	if got := m.String(); !strings.Contains(got, "utils") {
		t.Errorf("module prints %s", got)
	}
}

func TestMakeModule(t *testing.T) {
	mk := starlark.NewBuiltinWithSafety("module", starlarkstruct.MakeModuleSafety, starlarkstruct.MakeModule)
	thread := &starlark.Thread{}
	globals, err := starlark.ExecFile(thread, "mk.star", `
m = module("point", x=1, y=2)
s = m.x + m.y
`, starlark.StringDict{"module": mk})
	if err != nil {
		t.Fatal(err)
	}
	if got := globals["s"].String(); got != "3" {
		t.Errorf("s = %s, want 3", got)
	}
	if got := globals["m"].Type(); got != "module" {
		t.Errorf("type = %s, want module", got)
	}
}
