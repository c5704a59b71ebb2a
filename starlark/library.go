// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package starlark

// This file defines the library of built-ins.
//
// Built-ins must explicitly check the "frozen" flag before updating
// mutable types such as lists and dicts.

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/stratumlang/starlark/syntax"
)

// Universe defines the set of universal built-ins, such as None, True,
// and len. Every name here is visible at module top level unless the
// module shadows it.
//
// The Go application may add or remove items from the universe
// dictionary before evaluation begins. All values in the dictionary
// must be immutable; programs cannot modify the dictionary.
var Universe StringDict

// ErrUnsupported reports an operation a value does not provide.
var ErrUnsupported = errors.New("unsupported operation")

// ErrNoSuchAttr reports a missing field or method in a dot expression.
var ErrNoSuchAttr = errors.New("no such attribute")

func init() {
	Universe = StringDict{
		"None":  None,
		"True":  True,
		"False": False,

		"abs":       NewBuiltin("abs", abs),
		"all":       NewBuiltin("all", all),
		"any":       NewBuiltin("any", any_),
		"bool":      NewBuiltin("bool", bool_),
		"chr":       NewBuiltin("chr", chr),
		"dedupe":    NewBuiltin("dedupe", dedupe),
		"dict":      NewBuiltin("dict", dict),
		"dir":       NewBuiltin("dir", dir),
		"enum":      NewBuiltin("enum", enum),
		"enumerate": NewBuiltin("enumerate", enumerate),
		"fail":      NewBuiltin("fail", fail),
		"filter":    NewBuiltin("filter", filter),
		"getattr":   NewBuiltin("getattr", getattr),
		"hasattr":   NewBuiltin("hasattr", hasattr),
		"hash":      NewBuiltin("hash", hash),
		"int":       NewBuiltin("int", int_),
		"len":       NewBuiltin("len", len_),
		"list":      NewBuiltin("list", list),
		"map":       NewBuiltin("map", mapBuiltin),
		"max":       NewBuiltin("max", minmax),
		"min":       NewBuiltin("min", minmax),
		"ord":       NewBuiltin("ord", ord),
		"partial":   NewBuiltin("partial", partial),
		"print":     NewBuiltin("print", print_),
		"range":     NewBuiltin("range", range_),
		"repr":      NewBuiltin("repr", repr),
		"reversed":  NewBuiltin("reversed", reversed),
		"sorted":    NewBuiltin("sorted", sorted),
		"str":       NewBuiltin("str", str),
		"tuple":     NewBuiltin("tuple", tuple),
		"type":      NewBuiltin("type", type_),
		"zip":       NewBuiltin("zip", zip_),
	}
}

// methods of the built-in container types
var (
	dictMethods = map[string]*Builtin{
		"clear":      NewBuiltin("clear", dict_clear),
		"get":        NewBuiltin("get", dict_get),
		"items":      NewBuiltin("items", dict_items),
		"keys":       NewBuiltin("keys", dict_keys),
		"pop":        NewBuiltin("pop", dict_pop),
		"popitem":    NewBuiltin("popitem", dict_popitem),
		"setdefault": NewBuiltin("setdefault", dict_setdefault),
		"update":     NewBuiltin("update", dict_update),
		"values":     NewBuiltin("values", dict_values),
	}

	listMethods = map[string]*Builtin{
		"append": NewBuiltin("append", list_append),
		"clear":  NewBuiltin("clear", list_clear),
		"extend": NewBuiltin("extend", list_extend),
		"index":  NewBuiltin("index", list_index),
		"insert": NewBuiltin("insert", list_insert),
		"pop":    NewBuiltin("pop", list_pop),
		"remove": NewBuiltin("remove", list_remove),
	}

	stringMethods = map[string]*Builtin{
		"capitalize":     NewBuiltin("capitalize", string_capitalize),
		"codepoint_ords": NewBuiltin("codepoint_ords", string_iterable),
		"codepoints":     NewBuiltin("codepoints", string_iterable),
		"count":          NewBuiltin("count", string_count),
		"elem_ords":      NewBuiltin("elem_ords", string_iterable),
		"elems":          NewBuiltin("elems", string_iterable),
		"endswith":       NewBuiltin("endswith", string_startswith),
		"find":           NewBuiltin("find", string_find),
		"format":         NewBuiltin("format", string_format),
		"index":          NewBuiltin("index", string_find),
		"isalpha":        NewBuiltin("isalpha", string_isclass),
		"isdigit":        NewBuiltin("isdigit", string_isclass),
		"isspace":        NewBuiltin("isspace", string_isclass),
		"join":           NewBuiltin("join", string_join),
		"lower":          NewBuiltin("lower", string_lower),
		"lstrip":         NewBuiltin("lstrip", string_strip),
		"removeprefix":   NewBuiltin("removeprefix", string_removefix),
		"removesuffix":   NewBuiltin("removesuffix", string_removefix),
		"replace":        NewBuiltin("replace", string_replace),
		"rstrip":         NewBuiltin("rstrip", string_strip),
		"split":          NewBuiltin("split", string_split),
		"startswith":     NewBuiltin("startswith", string_startswith),
		"strip":          NewBuiltin("strip", string_strip),
		"upper":          NewBuiltin("upper", string_upper),
	}
)

func builtinAttr(recv Value, name string, methods map[string]*Builtin) (Value, error) {
	b := methods[name]
	if b == nil {
		return nil, nil // no such method
	}
	return b.BindReceiver(recv), nil
}

// safeBuiltinAttr is the metered counterpart of builtinAttr: binding a
// method allocates one Builtin, which is charged to the thread.
func safeBuiltinAttr(thread *Thread, recv Value, name string, methods map[string]*Builtin) (Value, error) {
	if err := CheckSafety(thread, MemSafe|CPUSafe); err != nil {
		return nil, err
	}
	b := methods[name]
	if b == nil {
		return nil, ErrNoSuchAttr
	}
	if thread != nil {
		if err := thread.AddAllocs(EstimateSize(&Builtin{})); err != nil {
			return nil, err
		}
	}
	return b.BindReceiver(recv), nil
}

func builtinAttrNames(methods map[string]*Builtin) []string {
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// nameErr prefixes an error with the name of the failing built-in.
func nameErr(b *Builtin, msg interface{}) error {
	return fmt.Errorf("%s: %v", b.Name(), msg)
}

// ---- built-in functions ----

func abs(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var x Value
	if err := UnpackPositionalArgs("abs", args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	i, ok := x.(Int)
	if !ok {
		return nil, fmt.Errorf("abs: got %s, want int", x.Type())
	}
	if i.Sign() >= 0 {
		return i, nil
	}
	result := Value(zero.Sub(i))
	if err := thread.AddAllocs(EstimateSize(result)); err != nil {
		return nil, err
	}
	return result, nil
}

// all and any short-circuit on the first decisive element.

func all(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var iterable Iterable
	if err := UnpackPositionalArgs("all", args, kwargs, 1, &iterable); err != nil {
		return nil, err
	}
	iter, err := SafeIterate(thread, iterable)
	if err != nil {
		return nil, err
	}
	defer iter.Done()
	var x Value
	for iter.Next(&x) {
		if !x.Truth() {
			return False, nil
		}
	}
	return True, iter.Err()
}

func any_(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var iterable Iterable
	if err := UnpackPositionalArgs("any", args, kwargs, 1, &iterable); err != nil {
		return nil, err
	}
	iter, err := SafeIterate(thread, iterable)
	if err != nil {
		return nil, err
	}
	defer iter.Done()
	var x Value
	for iter.Next(&x) {
		if x.Truth() {
			return True, nil
		}
	}
	return False, iter.Err()
}

func bool_(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var x Value = False
	if err := UnpackPositionalArgs("bool", args, kwargs, 0, &x); err != nil {
		return nil, err
	}
	return x.Truth(), nil
}

func chr(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var i int
	if err := UnpackPositionalArgs("chr", args, kwargs, 1, &i); err != nil {
		return nil, err
	}
	if i < 0 || i > unicode.MaxRune {
		return nil, fmt.Errorf("chr: %d is not a valid UTF-8 codepoint", i)
	}
	result := Value(String(rune(i)))
	if err := thread.AddAllocs(EstimateSize(result)); err != nil {
		return nil, err
	}
	return result, nil
}

func dict(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	if len(args) > 1 {
		return nil, fmt.Errorf("dict: got %d arguments, want at most 1", len(args))
	}
	d := NewDict(len(kwargs))
	if err := thread.AddAllocs(EstimateSize(d)); err != nil {
		return nil, err
	}
	if len(args) == 1 {
		if err := updateDict(thread, d, args[0]); err != nil {
			return nil, nameErr(b, err)
		}
	}
	for _, kv := range kwargs {
		if err := d.SafeSetKey(thread, kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// updateDict merges the entries of x, a mapping or an iterable of
// key/value pairs, into d.
func updateDict(thread *Thread, d *Dict, x Value) error {
	if m, ok := x.(IterableMapping); ok {
		for _, item := range m.Items() {
			if err := d.SafeSetKey(thread, item[0], item[1]); err != nil {
				return err
			}
		}
		return nil
	}
	iter, err := SafeIterate(thread, x)
	if err != nil {
		return fmt.Errorf("got %s, want a mapping or iterable of pairs", x.Type())
	}
	defer iter.Done()
	var pair Value
	for i := 0; iter.Next(&pair); i++ {
		elems, ok := pair.(Indexable)
		if !ok || elems.Len() != 2 {
			return fmt.Errorf("element #%d is not a key/value pair", i)
		}
		if err := d.SafeSetKey(thread, elems.Index(0), elems.Index(1)); err != nil {
			return err
		}
	}
	return iter.Err()
}

func dir(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var x Value
	if err := UnpackPositionalArgs("dir", args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	var names []string
	if x, ok := x.(HasAttrs); ok {
		names = append(names, x.AttrNames()...)
	}
	sort.Strings(names)
	elems := make([]Value, len(names))
	for i, name := range names {
		elems[i] = String(name)
	}
	if err := thread.AddAllocs(EstimateMakeSize([]Value{String("")}, len(elems)) + EstimateSize(&List{})); err != nil {
		return nil, err
	}
	return NewList(elems), nil
}

func enumerate(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var iterable Iterable
	var start int
	if err := UnpackPositionalArgs("enumerate", args, kwargs, 1, &iterable, &start); err != nil {
		return nil, err
	}
	iter, err := SafeIterate(thread, iterable)
	if err != nil {
		return nil, err
	}
	defer iter.Done()
	var pairs []Value
	var x Value
	for i := start; iter.Next(&x); i++ {
		pair := Value(Tuple{MakeInt(i), x})
		if err := thread.AddAllocs(EstimateSize(pair)); err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if err := thread.AddAllocs(EstimateMakeSize([]Value{}, len(pairs)) + EstimateSize(&List{})); err != nil {
		return nil, err
	}
	return NewList(pairs), nil
}

// fail unconditionally aborts evaluation with a user error carrying the
// rendered arguments.
func fail(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	sep := " "
	if err := UnpackArgs("fail", nil, kwargs, "sep?", &sep); err != nil {
		return nil, err
	}
	buf := NewSafeStringBuilder(thread)
	for i, v := range args {
		if i > 0 {
			if _, err := buf.WriteString(sep); err != nil {
				return nil, err
			}
		}
		if s, ok := AsString(v); ok {
			if _, err := buf.WriteString(s); err != nil {
				return nil, err
			}
		} else if err := writeValue(thread, buf, v, nil); err != nil {
			return nil, err
		}
	}
	if err := buf.Err(); err != nil {
		return nil, err
	}
	return nil, errors.New(buf.String())
}

func getattr(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var object, dflt Value
	var name string
	if err := UnpackPositionalArgs("getattr", args, kwargs, 2, &object, &name, &dflt); err != nil {
		return nil, err
	}
	v, err := getAttr(thread, object, name)
	if err != nil {
		if dflt != nil {
			return dflt, nil
		}
		return nil, nameErr(b, err)
	}
	return v, nil
}

func hasattr(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var object Value
	var name string
	if err := UnpackPositionalArgs("hasattr", args, kwargs, 2, &object, &name); err != nil {
		return nil, err
	}
	x, ok := object.(HasAttrs)
	if !ok {
		return False, nil
	}
	for _, n := range x.AttrNames() {
		if n == name {
			return True, nil
		}
	}
	return False, nil
}

// hash returns the deterministic 32-bit polynomial hash of a string,
// interpreted as a signed value so the result is identical across every
// run and platform.
func hash(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var x Value
	if err := UnpackPositionalArgs("hash", args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	s, ok := AsString(x)
	if !ok {
		return nil, fmt.Errorf("hash: got %s, want string", x.Type())
	}
	if err := thread.AddExecutionSteps(int64(len(s))); err != nil {
		return nil, err
	}
	result := Value(MakeInt64(int64(int32(stringHash(s)))))
	if err := thread.AddAllocs(EstimateSize(result)); err != nil {
		return nil, err
	}
	return result, nil
}

func int_(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var x Value = zero
	var base Value
	if err := UnpackArgs("int", args, kwargs, "x?", &x, "base?", &base); err != nil {
		return nil, err
	}

	if s, ok := AsString(x); ok {
		baseVal := 10
		if base != nil {
			var err error
			baseVal, err = AsInt32(base)
			if err != nil {
				return nil, fmt.Errorf("int: for base, got %s, want int", base.Type())
			}
			if baseVal != 0 && (baseVal < 2 || baseVal > 36) {
				return nil, fmt.Errorf("int: base must be an integer >= 2 && <= 36")
			}
		}
		if err := thread.AddExecutionSteps(int64(len(s))); err != nil {
			return nil, err
		}
		res := parseInt(s, baseVal)
		if res == nil {
			return nil, fmt.Errorf("int: invalid literal with base %d: %s", baseVal, s)
		}
		if err := thread.AddAllocs(EstimateSize(res)); err != nil {
			return nil, err
		}
		return res, nil
	}

	if base != nil {
		return nil, fmt.Errorf("int: can't convert non-string with explicit base")
	}

	switch x := x.(type) {
	case Bool:
		if x {
			return one, nil
		}
		return zero, nil
	case Int:
		return x, nil
	}
	return nil, fmt.Errorf("int: got %s, want string, int, or bool", x.Type())
}

// parseInt converts a string literal, with an optional sign and an
// optional 0b/0o/0x prefix, into an Int. Base 0 selects the base from
// the prefix (or decimal). It returns nil on any malformed input.
func parseInt(s string, base int) Value {
	neg := false
	if strings.HasPrefix(s, "+") {
		s = s[1:]
	} else if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	prefixBase := 0
	if len(s) > 2 && s[0] == '0' {
		switch s[1] {
		case 'b', 'B':
			prefixBase = 2
		case 'o', 'O':
			prefixBase = 8
		case 'x', 'X':
			prefixBase = 16
		}
	}
	if prefixBase != 0 && (base == 0 || base == prefixBase) {
		s = s[2:]
		base = prefixBase
	} else if base == 0 {
		base = 10
	}

	if s == "" || strings.ContainsRune(s, '_') {
		return nil
	}
	bi, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil
	}
	if neg {
		bi.Neg(bi)
	}
	return MakeBigInt(bi)
}

func len_(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var x Value
	if err := UnpackPositionalArgs("len", args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	n := Len(x)
	if n < 0 {
		return nil, fmt.Errorf("len: value of type %s has no len", x.Type())
	}
	return MakeInt(n), nil
}

func list(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var iterable Iterable
	if err := UnpackPositionalArgs("list", args, kwargs, 0, &iterable); err != nil {
		return nil, err
	}
	var elems []Value
	if iterable != nil {
		iter, err := SafeIterate(thread, iterable)
		if err != nil {
			return nil, err
		}
		defer iter.Done()
		var x Value
		for iter.Next(&x) {
			elems = append(elems, x)
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
	}
	if err := thread.AddAllocs(EstimateMakeSize([]Value{}, len(elems)) + EstimateSize(&List{})); err != nil {
		return nil, err
	}
	return NewList(elems), nil
}

// minmax serves both max and min; the builtin's own name selects the
// direction of the comparison.
func minmax(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s requires at least one positional argument", b.Name())
	}
	var keyFunc Value
	if err := UnpackArgs(b.Name(), nil, kwargs, "key?", &keyFunc); err != nil {
		return nil, err
	}
	op := syntax.GT
	if b.Name() == "min" {
		op = syntax.LT
	}

	var iterable Value
	if len(args) == 1 {
		iterable = args[0]
	} else {
		iterable = args
	}
	iter, err := SafeIterate(thread, iterable)
	if err != nil {
		return nil, fmt.Errorf("%s: %s value is not iterable", b.Name(), iterable.Type())
	}
	defer iter.Done()

	var best, bestKey Value
	var x Value
	for iter.Next(&x) {
		key := x
		if keyFunc != nil {
			key, err = Call(thread, keyFunc, Tuple{x}, nil)
			if err != nil {
				return nil, err
			}
		}
		if best == nil {
			best, bestKey = x, key
			continue
		}
		better, err := Compare(op, key, bestKey)
		if err != nil {
			return nil, nameErr(b, err)
		}
		if better {
			best, bestKey = x, key
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if best == nil {
		return nil, nameErr(b, "argument is an empty sequence")
	}
	return best, nil
}

func ord(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var s string
	if err := UnpackPositionalArgs("ord", args, kwargs, 1, &s); err != nil {
		return nil, err
	}
	r, sz := utf8.DecodeRuneInString(s)
	if sz == 0 || sz != len(s) {
		n := utf8.RuneCountInString(s)
		return nil, fmt.Errorf("ord: string encodes %d Unicode code points, want 1", n)
	}
	result := Value(MakeInt(int(r)))
	if err := thread.AddAllocs(EstimateSize(result)); err != nil {
		return nil, err
	}
	return result, nil
}

func print_(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	sep := " "
	if err := UnpackArgs("print", nil, kwargs, "sep?", &sep); err != nil {
		return nil, err
	}
	buf := NewSafeStringBuilder(thread)
	for i, v := range args {
		if i > 0 {
			if _, err := buf.WriteString(sep); err != nil {
				return nil, err
			}
		}
		if s, ok := AsString(v); ok {
			if _, err := buf.WriteString(s); err != nil {
				return nil, err
			}
		} else if err := writeValue(thread, buf, v, nil); err != nil {
			return nil, err
		}
	}
	if err := buf.Err(); err != nil {
		return nil, err
	}
	if thread.Print != nil {
		thread.Print(thread, buf.String())
	} else {
		fmt.Fprintln(os.Stderr, buf.String())
	}
	return None, nil
}

func range_(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var start, stop int
	step := 1
	if len(args) == 1 {
		if err := UnpackPositionalArgs("range", args, kwargs, 1, &stop); err != nil {
			return nil, err
		}
	} else {
		if err := UnpackPositionalArgs("range", args, kwargs, 2, &start, &stop, &step); err != nil {
			return nil, err
		}
	}
	r, err := NewRange(start, stop, step)
	if err != nil {
		return nil, nameErr(b, err)
	}
	result := Value(r)
	if err := thread.AddAllocs(EstimateSize(result)); err != nil {
		return nil, err
	}
	return result, nil
}

func repr(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var x Value
	if err := UnpackPositionalArgs("repr", args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	s, err := safeToString(thread, x)
	if err != nil {
		return nil, err
	}
	if err := thread.AddAllocs(StringTypeOverhead); err != nil {
		return nil, err
	}
	return String(s), nil
}

func reversed(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var iterable Iterable
	if err := UnpackPositionalArgs("reversed", args, kwargs, 1, &iterable); err != nil {
		return nil, err
	}
	iter, err := SafeIterate(thread, iterable)
	if err != nil {
		return nil, err
	}
	defer iter.Done()
	var elems []Value
	var x Value
	for iter.Next(&x) {
		elems = append(elems, x)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(elems)-1; i < j; i, j = i+1, j-1 {
		elems[i], elems[j] = elems[j], elems[i]
	}
	if err := thread.AddAllocs(EstimateMakeSize([]Value{}, len(elems)) + EstimateSize(&List{})); err != nil {
		return nil, err
	}
	return NewList(elems), nil
}

// sorted is a stable sort; any comparison error aborts the sort and
// propagates deterministically. With reverse=True the comparison, not
// the result, is flipped, so equal elements keep their input order.
func sorted(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var iterable Iterable
	var keyFunc Value
	var reverse bool
	if err := UnpackArgs("sorted", args, kwargs,
		"iterable", &iterable,
		"key?", &keyFunc,
		"reverse?", &reverse,
	); err != nil {
		return nil, err
	}

	iter, err := SafeIterate(thread, iterable)
	if err != nil {
		return nil, err
	}
	defer iter.Done()
	var elems []Value
	var x Value
	for iter.Next(&x) {
		elems = append(elems, x)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	// Pair each element with its sort key so the two permute together.
	type keyed struct {
		key, elem Value
	}
	pairs := make([]keyed, len(elems))
	for i, e := range elems {
		k := e
		if keyFunc != nil {
			var err error
			k, err = Call(thread, keyFunc, Tuple{e}, nil)
			if err != nil {
				return nil, err
			}
		}
		pairs[i] = keyed{k, e}
	}

	var sortErr error
	sort.SliceStable(pairs, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		x, y := pairs[i].key, pairs[j].key
		if reverse {
			x, y = y, x
		}
		lt, err := Compare(syntax.LT, x, y)
		if err != nil {
			sortErr = err
			return false
		}
		return lt
	})
	if sortErr != nil {
		return nil, fmt.Errorf("sorted: %w", sortErr)
	}
	for i, p := range pairs {
		elems[i] = p.elem
	}
	if err := thread.AddAllocs(EstimateMakeSize([]Value{}, len(elems)) + EstimateSize(&List{})); err != nil {
		return nil, err
	}
	return NewList(elems), nil
}

func str(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var x Value
	if err := UnpackPositionalArgs("str", args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	if _, ok := AsString(x); ok {
		return x, nil
	}
	s, err := safeToString(thread, x)
	if err != nil {
		return nil, err
	}
	if err := thread.AddAllocs(StringTypeOverhead); err != nil {
		return nil, err
	}
	return String(s), nil
}

func tuple(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var iterable Iterable
	if err := UnpackPositionalArgs("tuple", args, kwargs, 0, &iterable); err != nil {
		return nil, err
	}
	if iterable == nil {
		return Tuple(nil), nil
	}
	iter, err := SafeIterate(thread, iterable)
	if err != nil {
		return nil, err
	}
	defer iter.Done()
	var elems Tuple
	var x Value
	for iter.Next(&x) {
		elems = append(elems, x)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if err := thread.AddAllocs(EstimateMakeSize(Tuple{}, len(elems)) + SliceTypeOverhead); err != nil {
		return nil, err
	}
	return elems, nil
}

func type_(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var x Value
	if err := UnpackPositionalArgs("type", args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	return String(x.Type()), nil
}

// zip yields tuples of parallel elements, truncating at the shortest
// input; zip of nothing is an empty list.
func zip_(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("zip: unexpected named argument %s", kwargs[0][0])
	}
	iters := make([]Iterator, len(args))
	for i, seq := range args {
		iter, err := SafeIterate(thread, seq)
		if err != nil {
			return nil, fmt.Errorf("zip: argument #%d is not iterable: %s", i+1, seq.Type())
		}
		defer iter.Done()
		iters[i] = iter
	}
	var rows []Value
	if len(iters) > 0 {
	outer:
		for {
			row := make(Tuple, len(iters))
			for i, iter := range iters {
				if !iter.Next(&row[i]) {
					if err := iter.Err(); err != nil {
						return nil, err
					}
					break outer
				}
			}
			if err := thread.AddAllocs(EstimateSize(row) + SliceTypeOverhead); err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
	}
	if err := thread.AddAllocs(EstimateMakeSize([]Value{}, len(rows)) + EstimateSize(&List{})); err != nil {
		return nil, err
	}
	return NewList(rows), nil
}

// ---- methods of string ----

func string_capitalize(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	s := string(b.Receiver().(String))
	buf := NewSafeStringBuilder(thread)
	buf.Grow(len(s))
	for i, r := range s {
		if i == 0 {
			r = unicode.ToTitle(r)
		} else {
			r = unicode.ToLower(r)
		}
		if _, err := buf.WriteRune(r); err != nil {
			return nil, err
		}
	}
	if err := buf.Err(); err != nil {
		return nil, err
	}
	if err := thread.AddAllocs(StringTypeOverhead); err != nil {
		return nil, err
	}
	return String(buf.String()), nil
}

// string_iterable backs elems, elem_ords, codepoints, and
// codepoint_ords: the builtin's own name selects byte against
// code-point iteration and substring against ordinal elements.
func string_iterable(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	s := b.Receiver().(String)
	ords := strings.HasSuffix(b.Name(), "ords")
	if strings.HasPrefix(b.Name(), "codepoint") {
		if err := thread.AddAllocs(EstimateSize(stringCodepoints{})); err != nil {
			return nil, err
		}
		return stringCodepoints{s, ords}, nil
	}
	if err := thread.AddAllocs(EstimateSize(stringElems{})); err != nil {
		return nil, err
	}
	return stringElems{s, ords}, nil
}

func string_count(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var sub string
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 1, &sub); err != nil {
		return nil, err
	}
	s := string(b.Receiver().(String))
	if err := thread.AddExecutionSteps(int64(len(s))); err != nil {
		return nil, err
	}
	return MakeInt(strings.Count(s, sub)), nil
}

// string_startswith backs both startswith and endswith.
func string_startswith(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var fix string
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 1, &fix); err != nil {
		return nil, err
	}
	s := string(b.Receiver().(String))
	if b.Name() == "endswith" {
		return Bool(strings.HasSuffix(s, fix)), nil
	}
	return Bool(strings.HasPrefix(s, fix)), nil
}

// string_find backs find, which returns -1 on absence, and index, which
// fails on absence.
func string_find(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var sub string
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 1, &sub); err != nil {
		return nil, err
	}
	s := string(b.Receiver().(String))
	if err := thread.AddExecutionSteps(int64(len(s))); err != nil {
		return nil, err
	}
	i := strings.Index(s, sub)
	if i < 0 && b.Name() == "index" {
		return nil, fmt.Errorf("index: substring not found")
	}
	return MakeInt(i), nil
}

// string_format implements str.format with {} auto-numbering, {i}
// explicit positional fields, and {name} keyword fields; {{ and }}
// denote literal braces.
func string_format(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	format := string(b.Receiver().(String))
	buf := NewSafeStringBuilder(thread)
	auto := 0
	manual := false
	autoUsed := false
	for len(format) > 0 {
		switch {
		case strings.HasPrefix(format, "{{"):
			if err := buf.WriteByte('{'); err != nil {
				return nil, err
			}
			format = format[2:]
		case strings.HasPrefix(format, "}}"):
			if err := buf.WriteByte('}'); err != nil {
				return nil, err
			}
			format = format[2:]
		case format[0] == '{':
			end := strings.IndexByte(format, '}')
			if end < 0 {
				return nil, fmt.Errorf("format: unmatched '{'")
			}
			field := format[1:end]
			format = format[end+1:]
			var arg Value
			if field == "" {
				if manual {
					return nil, fmt.Errorf("format: cannot mix automatic and manual field numbering")
				}
				autoUsed = true
				if auto >= len(args) {
					return nil, fmt.Errorf("format: not enough arguments for format string")
				}
				arg = args[auto]
				auto++
			} else if i, ok := parseFieldIndex(field); ok {
				if autoUsed {
					return nil, fmt.Errorf("format: cannot mix automatic and manual field numbering")
				}
				manual = true
				if i < 0 || i >= len(args) {
					return nil, fmt.Errorf("format: argument index %d out of range", i)
				}
				arg = args[i]
			} else {
				found := false
				for _, kv := range kwargs {
					if string(kv[0].(String)) == field {
						arg, found = kv[1], true
						break
					}
				}
				if !found {
					return nil, fmt.Errorf("format: keyword %s not found", field)
				}
			}
			if s, ok := AsString(arg); ok {
				if _, err := buf.WriteString(s); err != nil {
					return nil, err
				}
			} else if err := writeValue(thread, buf, arg, nil); err != nil {
				return nil, err
			}
		case format[0] == '}':
			return nil, fmt.Errorf("format: single '}' in format string")
		default:
			next := strings.IndexAny(format, "{}")
			if next < 0 {
				next = len(format)
			}
			if _, err := buf.WriteString(format[:next]); err != nil {
				return nil, err
			}
			format = format[next:]
		}
	}
	if err := buf.Err(); err != nil {
		return nil, err
	}
	if err := thread.AddAllocs(StringTypeOverhead); err != nil {
		return nil, err
	}
	return String(buf.String()), nil
}

func parseFieldIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
		n = n*10 + int(s[i]-'0')
	}
	return n, true
}

// string_isclass backs isalpha, isdigit, and isspace: true if the
// string is non-empty and every rune is in the class.
func string_isclass(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	var in func(rune) bool
	switch b.Name() {
	case "isalpha":
		in = unicode.IsLetter
	case "isdigit":
		in = unicode.IsDigit
	case "isspace":
		in = unicode.IsSpace
	}
	s := string(b.Receiver().(String))
	if s == "" {
		return False, nil
	}
	for _, r := range s {
		if !in(r) {
			return False, nil
		}
	}
	return True, nil
}

func string_join(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var iterable Iterable
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 1, &iterable); err != nil {
		return nil, err
	}
	sep := string(b.Receiver().(String))
	iter, err := SafeIterate(thread, iterable)
	if err != nil {
		return nil, err
	}
	defer iter.Done()
	buf := NewSafeStringBuilder(thread)
	var x Value
	for i := 0; iter.Next(&x); i++ {
		s, ok := AsString(x)
		if !ok {
			return nil, fmt.Errorf("join: in list, want string, got %s", x.Type())
		}
		if i > 0 {
			if _, err := buf.WriteString(sep); err != nil {
				return nil, err
			}
		}
		if _, err := buf.WriteString(s); err != nil {
			return nil, err
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if err := thread.AddAllocs(StringTypeOverhead); err != nil {
		return nil, err
	}
	return String(buf.String()), nil
}

func string_lower(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	s := string(b.Receiver().(String))
	if err := thread.AddExecutionSteps(int64(len(s))); err != nil {
		return nil, err
	}
	result := Value(String(strings.ToLower(s)))
	if err := thread.AddAllocs(EstimateSize(result)); err != nil {
		return nil, err
	}
	return result, nil
}

func string_upper(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	s := string(b.Receiver().(String))
	if err := thread.AddExecutionSteps(int64(len(s))); err != nil {
		return nil, err
	}
	result := Value(String(strings.ToUpper(s)))
	if err := thread.AddAllocs(EstimateSize(result)); err != nil {
		return nil, err
	}
	return result, nil
}

// string_removefix backs removeprefix and removesuffix.
func string_removefix(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var fix string
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 1, &fix); err != nil {
		return nil, err
	}
	s := string(b.Receiver().(String))
	if b.Name() == "removeprefix" {
		s = strings.TrimPrefix(s, fix)
	} else {
		s = strings.TrimSuffix(s, fix)
	}
	if err := thread.AddAllocs(StringTypeOverhead); err != nil {
		return nil, err
	}
	return String(s), nil
}

func string_replace(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var old, new string
	count := -1
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 2, &old, &new, &count); err != nil {
		return nil, err
	}
	s := string(b.Receiver().(String))
	if err := thread.AddExecutionSteps(int64(len(s))); err != nil {
		return nil, err
	}
	result := Value(String(strings.Replace(s, old, new, count)))
	if err := thread.AddAllocs(EstimateSize(result)); err != nil {
		return nil, err
	}
	return result, nil
}

// string_split with no argument splits on runs of whitespace and drops
// empty fields; with a separator it keeps them.
func string_split(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var sep Value
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 0, &sep); err != nil {
		return nil, err
	}
	s := string(b.Receiver().(String))
	if err := thread.AddExecutionSteps(int64(len(s))); err != nil {
		return nil, err
	}

	var fields []string
	if sep == nil || sep == None {
		fields = strings.Fields(s)
	} else {
		sepStr, ok := AsString(sep)
		if !ok {
			return nil, fmt.Errorf("split: got %s for separator, want string", sep.Type())
		}
		if sepStr == "" {
			return nil, fmt.Errorf("split: empty separator")
		}
		fields = strings.Split(s, sepStr)
	}

	elems := make([]Value, len(fields))
	for i, f := range fields {
		elems[i] = String(f)
	}
	if err := thread.AddAllocs(EstimateMakeSize([]Value{String("")}, len(elems)) + EstimateSize(&List{})); err != nil {
		return nil, err
	}
	return NewList(elems), nil
}

// string_strip backs strip, lstrip, and rstrip; the optional argument
// names the cut set, defaulting to whitespace.
func string_strip(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var cutset string
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 0, &cutset); err != nil {
		return nil, err
	}
	s := string(b.Receiver().(String))
	trim := unicode.IsSpace
	if len(args) == 1 {
		trim = func(r rune) bool { return strings.ContainsRune(cutset, r) }
	}
	switch b.Name() {
	case "lstrip":
		s = strings.TrimLeftFunc(s, trim)
	case "rstrip":
		s = strings.TrimRightFunc(s, trim)
	default:
		s = strings.TrimFunc(s, trim)
	}
	if err := thread.AddAllocs(StringTypeOverhead); err != nil {
		return nil, err
	}
	return String(s), nil
}

// ---- methods of list ----

func list_append(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	recv := b.Receiver().(*List)
	var x Value
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	if err := recv.checkMutable("append to"); err != nil {
		return nil, nameErr(b, err)
	}
	appender := NewSafeAppender(thread, &recv.elems)
	if err := appender.Append(x); err != nil {
		return nil, err
	}
	return None, nil
}

func list_clear(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	recv := b.Receiver().(*List)
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if err := recv.Clear(); err != nil {
		return nil, nameErr(b, err)
	}
	return None, nil
}

func list_extend(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	recv := b.Receiver().(*List)
	var iterable Iterable
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 1, &iterable); err != nil {
		return nil, err
	}
	if err := recv.checkMutable("extend"); err != nil {
		return nil, nameErr(b, err)
	}
	return None, safeListExtend(thread, recv, iterable)
}

func list_index(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	recv := b.Receiver().(*List)
	var needle Value
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 1, &needle); err != nil {
		return nil, err
	}
	for i, elem := range recv.elems {
		if err := thread.AddExecutionSteps(1); err != nil {
			return nil, err
		}
		if eq, err := Equal(elem, needle); err != nil {
			return nil, nameErr(b, err)
		} else if eq {
			return MakeInt(i), nil
		}
	}
	return nil, nameErr(b, "value not in list")
}

func list_insert(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	recv := b.Receiver().(*List)
	var index int
	var x Value
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 2, &index, &x); err != nil {
		return nil, err
	}
	if err := recv.checkMutable("insert into"); err != nil {
		return nil, nameErr(b, err)
	}
	n := recv.Len()
	if index < 0 {
		index += n
	}
	appender := NewSafeAppender(thread, &recv.elems)
	if err := appender.Append(x); err != nil {
		return nil, err
	}
	if index >= n {
		return None, nil
	}
	if index < 0 {
		index = 0
	}
	copy(recv.elems[index+1:], recv.elems[index:n])
	recv.elems[index] = x
	return None, nil
}

func list_pop(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	recv := b.Receiver().(*List)
	n := recv.Len()
	i := n - 1
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 0, &i); err != nil {
		return nil, err
	}
	origI := i
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return nil, nameErr(b, fmt.Sprintf("index %d out of range", origI))
	}
	if err := recv.checkMutable("pop from"); err != nil {
		return nil, nameErr(b, err)
	}
	res := recv.elems[i]
	recv.elems = append(recv.elems[:i], recv.elems[i+1:]...)
	return res, nil
}

func list_remove(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	recv := b.Receiver().(*List)
	var needle Value
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 1, &needle); err != nil {
		return nil, err
	}
	if err := recv.checkMutable("remove from"); err != nil {
		return nil, nameErr(b, err)
	}
	for i, elem := range recv.elems {
		if err := thread.AddExecutionSteps(1); err != nil {
			return nil, err
		}
		if eq, err := Equal(elem, needle); err != nil {
			return nil, nameErr(b, err)
		} else if eq {
			recv.elems = append(recv.elems[:i], recv.elems[i+1:]...)
			return None, nil
		}
	}
	return nil, nameErr(b, "element not found")
}

// ---- methods of dict ----

func dict_clear(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	recv := b.Receiver().(*Dict)
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if err := recv.Clear(); err != nil {
		return nil, nameErr(b, err)
	}
	return None, nil
}

func dict_get(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	recv := b.Receiver().(*Dict)
	var key, dflt Value
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key, &dflt); err != nil {
		return nil, err
	}
	v, found, err := recv.SafeGet(thread, key)
	if err != nil {
		return nil, nameErr(b, err)
	}
	if found {
		return v, nil
	}
	if dflt != nil {
		return dflt, nil
	}
	return None, nil
}

func dict_items(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	recv := b.Receiver().(*Dict)
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	items := recv.Items()
	elems := make([]Value, len(items))
	for i, item := range items {
		elems[i] = item
	}
	size := EstimateMakeSize([]Value{Tuple{}}, len(elems)) + EstimateSize(&List{})
	if err := thread.AddAllocs(size); err != nil {
		return nil, err
	}
	return NewList(elems), nil
}

func dict_keys(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	recv := b.Receiver().(*Dict)
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	elems := recv.Keys()
	if err := thread.AddAllocs(EstimateMakeSize([]Value{}, len(elems)) + EstimateSize(&List{})); err != nil {
		return nil, err
	}
	return NewList(elems), nil
}

func dict_pop(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	recv := b.Receiver().(*Dict)
	var key, dflt Value
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key, &dflt); err != nil {
		return nil, err
	}
	v, found, err := recv.Delete(key)
	if err != nil {
		return nil, nameErr(b, err)
	}
	if found {
		return v, nil
	}
	if dflt != nil {
		return dflt, nil
	}
	return nil, nameErr(b, "missing key")
}

func dict_popitem(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	recv := b.Receiver().(*Dict)
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	k, ok := recv.ht.first()
	if !ok {
		return nil, nameErr(b, "empty dict")
	}
	v, _, err := recv.Delete(k)
	if err != nil {
		return nil, nameErr(b, err)
	}
	result := Value(Tuple{k, v})
	if err := thread.AddAllocs(EstimateSize(result)); err != nil {
		return nil, err
	}
	return result, nil
}

func dict_setdefault(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	recv := b.Receiver().(*Dict)
	var key Value
	var dflt Value = None
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 1, &key, &dflt); err != nil {
		return nil, err
	}
	v, found, err := recv.SafeGet(thread, key)
	if err != nil {
		return nil, nameErr(b, err)
	}
	if found {
		return v, nil
	}
	if err := recv.SafeSetKey(thread, key, dflt); err != nil {
		return nil, nameErr(b, err)
	}
	return dflt, nil
}

func dict_update(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	recv := b.Receiver().(*Dict)
	if len(args) > 1 {
		return nil, fmt.Errorf("update: got %d arguments, want at most 1", len(args))
	}
	if len(args) == 1 {
		if err := updateDict(thread, recv, args[0]); err != nil {
			return nil, nameErr(b, err)
		}
	}
	for _, kv := range kwargs {
		if err := recv.SafeSetKey(thread, kv[0], kv[1]); err != nil {
			return nil, nameErr(b, err)
		}
	}
	return None, nil
}

func dict_values(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	recv := b.Receiver().(*Dict)
	if err := UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	elems := recv.Values()
	if err := thread.AddAllocs(EstimateMakeSize([]Value{}, len(elems)) + EstimateSize(&List{})); err != nil {
		return nil, err
	}
	return NewList(elems), nil
}
