// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package starlark_test

import (
	"math"
	"math/big"
	"strings"
	"testing"

	"github.com/stratumlang/starlark/starlark"
	"github.com/google/go-cmp/cmp"
)

func TestIntArithmetic(t *testing.T) {
	big1 := new(big.Int).Lsh(big.NewInt(1), 100)
	tests := []struct {
		x, y starlark.Int
		op   func(x, y starlark.Int) starlark.Int
		want string
	}{
		{starlark.MakeInt(2), starlark.MakeInt(3), starlark.Int.Add, "5"},
		{starlark.MakeInt64(math.MaxInt64), starlark.MakeInt(1), starlark.Int.Add, "9223372036854775808"},
		{starlark.MakeInt64(math.MinInt64), starlark.MakeInt(1), starlark.Int.Sub, "-9223372036854775809"},
		{starlark.MakeInt64(math.MaxInt64), starlark.MakeInt64(math.MaxInt64), starlark.Int.Mul, "85070591730234615847396907784232501249"},
		{starlark.MakeBigInt(big1), starlark.MakeBigInt(big1), starlark.Int.Sub, "0"},
		{starlark.MakeInt(-7), starlark.MakeInt(2), starlark.Int.Div, "-4"},
		{starlark.MakeInt(-7), starlark.MakeInt(2), starlark.Int.Mod, "1"},
		{starlark.MakeInt(7), starlark.MakeInt(-2), starlark.Int.Mod, "-1"},
	}
	for _, test := range tests {
		if got := test.op(test.x, test.y).String(); got != test.want {
			t.Errorf("op(%s, %s) = %s, want %s", test.x, test.y, got, test.want)
		}
	}
}

func TestIntNormalization(t *testing.T) {
	// A big.Int that fits in an int64 must normalize to the small form,
	// so == on Int values keeps working across representations.
	small := starlark.MakeInt(42)
	viaBig := starlark.MakeBigInt(big.NewInt(42))
	if small != viaBig {
		t.Error("MakeBigInt(42) != MakeInt(42)")
	}
	if _, ok := viaBig.Int64(); !ok {
		t.Error("normalized Int lost its Int64 representation")
	}
}

func TestStringHashVectors(t *testing.T) {
	// The 32-bit polynomial over the UTF-16 transcoding.
	tests := []struct {
		s    string
		want int32
	}{
		{"", 0},
		{"a", 97},
		{"ab", 3105},
		{"abc", 96354},
		{"abcd", 2987074},
		{"abcde", 92599395},
		{"abcdef", -1424385949},
		{"\U0001F600", 1772899}, // surrogate pair: two code units
	}
	for _, test := range tests {
		h, err := starlark.String(test.s).Hash()
		if err != nil {
			t.Fatal(err)
		}
		if int32(h) != test.want {
			t.Errorf("hash(%q) = %d, want %d", test.s, int32(h), test.want)
		}
	}
}

func TestHashEquals(t *testing.T) {
	// Equal values must hash equal, for every hashable kind.
	pairs := [][2]starlark.Value{
		{starlark.MakeInt(1), starlark.MakeBigInt(big.NewInt(1))},
		{starlark.String("xyz"), starlark.String("xy" + "z")},
		{starlark.Bool(true), starlark.True},
		{starlark.Tuple{starlark.MakeInt(1), starlark.String("a")},
			starlark.Tuple{starlark.MakeInt(1), starlark.String("a")}},
		{starlark.None, starlark.None},
	}
	for _, p := range pairs {
		eq, err := starlark.Equal(p[0], p[1])
		if err != nil {
			t.Fatal(err)
		}
		if !eq {
			t.Errorf("%s != %s", p[0], p[1])
			continue
		}
		h0, err0 := p[0].Hash()
		h1, err1 := p[1].Hash()
		if err0 != nil || err1 != nil {
			t.Errorf("hash error: %v, %v", err0, err1)
			continue
		}
		if h0 != h1 {
			t.Errorf("hash(%s) = %d != hash(%s) = %d", p[0], h0, p[1], h1)
		}
	}
}

func TestUnhashable(t *testing.T) {
	for _, v := range []starlark.Value{
		starlark.NewList(nil),
		starlark.NewDict(0),
	} {
		if _, err := v.Hash(); err == nil {
			t.Errorf("%s unexpectedly hashable", v.Type())
		}
	}
}

func TestListMutationGuards(t *testing.T) {
	l := starlark.NewList([]starlark.Value{starlark.MakeInt(1)})

	iter := l.Iterate()
	if err := l.Append(starlark.MakeInt(2)); err == nil {
		t.Error("append during iteration unexpectedly succeeded")
	}
	iter.Done()

	// After Done the list is mutable again, and its contents intact.
	if err := l.Append(starlark.MakeInt(2)); err != nil {
		t.Errorf("append after iteration: %v", err)
	}
	if got := l.String(); got != "[1, 2]" {
		t.Errorf("list = %s, want [1, 2]", got)
	}

	l.Freeze()
	if err := l.Append(starlark.MakeInt(3)); err == nil {
		t.Error("append to frozen list unexpectedly succeeded")
	}
}

func TestFreezeIdempotent(t *testing.T) {
	inner := starlark.NewList([]starlark.Value{starlark.MakeInt(1)})
	d := starlark.NewDict(1)
	if err := d.SetKey(starlark.String("k"), inner); err != nil {
		t.Fatal(err)
	}
	before := d.String()

	d.Freeze()
	d.Freeze() // second freeze is a no-op

	if after := d.String(); after != before {
		t.Errorf("freeze changed contents: %s -> %s", before, after)
	}
	if err := inner.Append(starlark.MakeInt(2)); err == nil {
		t.Error("freeze did not reach nested list")
	}
}

func TestCell(t *testing.T) {
	c := starlark.NewCell(starlark.MakeInt(1))
	if got := c.Get().String(); got != "1" {
		t.Errorf("cell = %s, want 1", got)
	}
	if err := c.Set(starlark.MakeInt(2)); err != nil {
		t.Fatal(err)
	}
	if got := c.Get().String(); got != "2" {
		t.Errorf("cell = %s, want 2", got)
	}
	c.Freeze()
	if err := c.Set(starlark.MakeInt(3)); err == nil {
		t.Error("write to frozen cell unexpectedly succeeded")
	}
}

func TestFreezeEnv(t *testing.T) {
	env := starlark.StringDict{
		"public":  starlark.NewList(nil),
		"_secret": starlark.MakeInt(1),
	}
	frozen := starlark.Freeze(env)
	exported := frozen.Exported()
	if _, ok := exported["_secret"]; ok {
		t.Error("private name exported")
	}
	pub, ok := exported["public"].(*starlark.List)
	if !ok {
		t.Fatal("public missing")
	}
	if err := pub.Append(starlark.None); err == nil {
		t.Error("exported list still mutable")
	}
}

func TestValueStrings(t *testing.T) {
	d := starlark.NewDict(2)
	d.SetKey(starlark.String("a"), starlark.MakeInt(1))
	d.SetKey(starlark.MakeInt(2), starlark.Tuple{starlark.None})

	tests := []struct {
		v    starlark.Value
		want string
	}{
		{starlark.None, "None"},
		{starlark.True, "True"},
		{starlark.MakeInt(-3), "-3"},
		{starlark.String("a\"b"), `"a\"b"`},
		{starlark.Tuple{starlark.MakeInt(1)}, "(1,)"},
		{starlark.NewList([]starlark.Value{starlark.String("x")}), `["x"]`},
		{d, `{"a": 1, 2: (None,)}`},
	}
	for _, test := range tests {
		if got := test.v.String(); got != test.want {
			t.Errorf("String() = %s, want %s", got, test.want)
		}
	}
}

func TestCyclicString(t *testing.T) {
	l := starlark.NewList(nil)
	if err := l.Append(l); err != nil {
		t.Fatal(err)
	}
	if got := l.String(); !strings.Contains(got, "...") {
		t.Errorf("cyclic list prints %q, want ellipsis", got)
	}
}

// Compare deeply nested structures with go-cmp, via their rendered
// form; the comparison must observe equal trees as equal.
func TestTreeComparison(t *testing.T) {
	mk := func() starlark.Value {
		inner := starlark.NewList([]starlark.Value{starlark.MakeInt(1), starlark.String("two")})
		return starlark.Tuple{inner, starlark.MakeInt(3)}
	}
	x, y := mk(), mk()
	if diff := cmp.Diff(x.String(), y.String()); diff != "" {
		t.Errorf("tree mismatch (-x +y):\n%s", diff)
	}
	eq, err := starlark.Equal(x, y)
	if err != nil {
		t.Fatal(err)
	}
	if !eq {
		t.Error("equal trees compare unequal")
	}
}

func TestCompareDepthLimit(t *testing.T) {
	deep := func() starlark.Value {
		v := starlark.Value(starlark.MakeInt(0))
		for i := 0; i < 2*starlark.CompareLimit; i++ {
			v = starlark.Tuple{v}
		}
		return v
	}
	_, err := starlark.Equal(deep(), deep())
	if err == nil {
		t.Error("deep comparison unexpectedly succeeded")
	} else if !strings.Contains(err.Error(), "recursion depth") {
		t.Errorf("unexpected error: %v", err)
	}
}
