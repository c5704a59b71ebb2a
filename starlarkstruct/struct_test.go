// Copyright 2018 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package starlarkstruct_test

import (
	"strings"
	"testing"

	"github.com/stratumlang/starlark/starlark"
	"github.com/stratumlang/starlark/starlarkstruct"
)

var makeStruct = starlark.NewBuiltinWithSafety("struct", starlarkstruct.MakeSafety, starlarkstruct.Make)

func exec(t *testing.T, src string) (starlark.StringDict, error) {
	t.Helper()
	thread := &starlark.Thread{}
	predeclared := starlark.StringDict{"struct": makeStruct}
	return starlark.ExecFile(thread, "struct.star", src, predeclared)
}

func TestStruct(t *testing.T) {
	globals, err := exec(t, `
s = struct(host="localhost", port=80)
h = s.host
p = s.port
eq = s == struct(host="localhost", port=80)
ne = s == struct(host="localhost", port=443)
names = dir(s)
`)
	if err != nil {
		t.Fatal(err)
	}
	for name, want := range map[string]string{
		"h":     `"localhost"`,
		"p":     `80`,
		"eq":    `True`,
		"ne":    `False`,
		"names": `["host", "port"]`,
	} {
		if got := globals[name].String(); got != want {
			t.Errorf("%s = %s, want %s", name, got, want)
		}
	}
}

func TestStructNoSuchAttr(t *testing.T) {
	_, err := exec(t, `struct(a=1).b`)
	if err == nil {
		t.Fatal("access to missing field unexpectedly succeeded")
	}
	if !strings.Contains(err.Error(), "no .b attribute") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStructString(t *testing.T) {
	globals, err := exec(t, `s = struct(b=2, a=1)`)
	if err != nil {
		t.Fatal(err)
	}
	// Fields print sorted by name regardless of construction order.
	if got := globals["s"].String(); got != "struct(a = 1, b = 2)" {
		t.Errorf("s = %s", got)
	}
}

func TestStructFrozen(t *testing.T) {
	globals, err := exec(t, `s = struct(xs=[1])`)
	if err != nil {
		t.Fatal(err)
	}
	s := globals["s"].(*starlarkstruct.Struct)
	attr, err := s.Attr("xs")
	if err != nil {
		t.Fatal(err)
	}
	if err := attr.(*starlark.List).Append(starlark.None); err == nil {
		t.Error("struct freeze did not reach contained list")
	}
}

func TestFromStringDict(t *testing.T) {
	s := starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"b": starlark.MakeInt(2),
		"a": starlark.MakeInt(1),
	})
	if got := s.String(); got != "struct(a = 1, b = 2)" {
		t.Errorf("s = %s", got)
	}
	d := starlark.StringDict{}
	s.ToStringDict(d)
	if len(d) != 2 {
		t.Errorf("ToStringDict produced %d entries", len(d))
	}
}

func TestConstructorBranding(t *testing.T) {
	a := starlarkstruct.FromStringDict(starlark.String("endpoint"), starlark.StringDict{"x": starlark.MakeInt(1)})
	b := starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{"x": starlark.MakeInt(1)})
	eq, err := starlark.Equal(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if eq {
		t.Error("differently-branded structs compare equal")
	}
	if got := a.String(); !strings.Contains(got, "endpoint") {
		t.Errorf("branded struct prints %s", got)
	}
}
