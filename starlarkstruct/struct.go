// Copyright 2018 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package starlarkstruct defines the Starlark types 'struct' and
// 'module', both optional language extensions.
package starlarkstruct

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stratumlang/starlark/starlark"
	"github.com/stratumlang/starlark/syntax"
)

// A Struct is an immutable Starlark value holding a sorted set of
// name/value entries under a constructor symbol. Clients can use the
// Default constructor for an ordinary struct, or any other string or
// value to brand structs for a particular purpose.
type Struct struct {
	constructor starlark.Value
	entries     entries // sorted by name
}

type entries []entry

type entry struct {
	name  string
	value starlark.Value
}

// Default is the default constructor symbol for an ordinary struct.
const Default = starlark.String("struct")

// MakeSafety is the safety of the Make builtin.
const MakeSafety = starlark.CPUSafe | starlark.MemSafe | starlark.IOSafe

// Make is the implementation of a built-in function that instantiates
// an immutable struct from the specified keyword arguments.
//
// An application can add 'struct' to the Starlark environment like so:
//
//	globals := starlark.StringDict{
//		"struct": starlark.NewBuiltinWithSafety("struct", starlarkstruct.MakeSafety, starlarkstruct.Make),
//	}
func Make(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("struct: unexpected positional arguments")
	}
	if thread != nil {
		if err := thread.AddExecutionSteps(int64(len(kwargs))); err != nil {
			return nil, err
		}
		resultSize := starlark.OldSafeAdd64(
			starlark.EstimateMakeSize(entries{}, len(kwargs)),
			starlark.EstimateSize(&Struct{}),
		)
		if err := thread.AddAllocs(resultSize); err != nil {
			return nil, err
		}
	}
	return FromKeywords(Default, kwargs), nil
}

// FromKeywords returns a new struct instance whose fields are specified
// by the key/value pairs in kwargs. (Each kwargs[i][0] must be a
// starlark.String.)
func FromKeywords(constructor starlark.Value, kwargs []starlark.Tuple) *Struct {
	if constructor == nil {
		panic("nil constructor")
	}
	s := &Struct{
		constructor: constructor,
		entries:     make(entries, 0, len(kwargs)),
	}
	for _, kwarg := range kwargs {
		k := string(kwarg[0].(starlark.String))
		v := kwarg[1]
		s.entries = append(s.entries, entry{k, v})
	}
	sort.Slice(s.entries, func(i, j int) bool { return s.entries[i].name < s.entries[j].name })
	return s
}

// FromStringDict returns a new struct instance whose elements are those
// of d. The constructor parameter specifies the constructor; use
// Default for an ordinary struct.
func FromStringDict(constructor starlark.Value, d starlark.StringDict) *Struct {
	if constructor == nil {
		panic("nil constructor")
	}
	s := &Struct{
		constructor: constructor,
		entries:     make(entries, 0, len(d)),
	}
	for _, k := range d.Keys() {
		s.entries = append(s.entries, entry{k, d[k]})
	}
	return s
}

var (
	_ starlark.Comparable   = (*Struct)(nil)
	_ starlark.HasSafeAttrs = (*Struct)(nil)
	_ starlark.SafeStringer = (*Struct)(nil)
)

// ToStringDict adds a name/value entry to d for each field of the struct.
func (s *Struct) ToStringDict(d starlark.StringDict) {
	for _, e := range s.entries {
		d[e.name] = e.value
	}
}

// Constructor returns the constructor used to create this struct.
func (s *Struct) Constructor() starlark.Value { return s.constructor }

func (s *Struct) String() string {
	buf := new(strings.Builder)
	s.SafeString(nil, buf)
	return buf.String()
}

func (s *Struct) SafeString(thread *starlark.Thread, sb starlark.StringBuilder) error {
	const safety = starlark.CPUSafe | starlark.MemSafe | starlark.TimeSafe | starlark.IOSafe
	if err := starlark.CheckSafety(thread, safety); err != nil {
		return err
	}
	if s.constructor == Default {
		// NB: The Java implementation always prints struct
		// even for Bazel provider instances.
		if _, err := sb.WriteString("struct"); err != nil {
			return err
		}
	} else {
		if _, err := sb.WriteString(s.constructor.String()); err != nil {
			return err
		}
	}
	if err := sb.WriteByte('('); err != nil {
		return err
	}
	for i, e := range s.entries {
		if i > 0 {
			if _, err := sb.WriteString(", "); err != nil {
				return err
			}
		}
		if _, err := sb.WriteString(e.name); err != nil {
			return err
		}
		if _, err := sb.WriteString(" = "); err != nil {
			return err
		}
		if _, err := sb.WriteString(e.value.String()); err != nil {
			return err
		}
	}
	return sb.WriteByte(')')
}

func (s *Struct) Type() string         { return "struct" }
func (s *Struct) Truth() starlark.Bool { return true } // even when empty
func (s *Struct) Hash() (uint32, error) {
	// Same algorithm as Tuple.hash, but with different primes.
	var x, m uint32 = 8731, 9839
	for _, e := range s.entries {
		namehash, _ := starlark.String(e.name).Hash()
		x = x ^ 3*namehash
		y, err := e.value.Hash()
		if err != nil {
			return 0, err
		}
		x = x ^ y*m
		m += 7349
	}
	return x, nil
}
func (s *Struct) Freeze() {
	for _, e := range s.entries {
		e.value.Freeze()
	}
}

// Attr returns the value of the specified field.
func (s *Struct) Attr(name string) (starlark.Value, error) {
	// Binary search the entries.
	// This implementation is a specialization of
	// sort.Search that avoids dynamic dispatch.
	n := len(s.entries)
	i, j := 0, n
	for i < j {
		h := int(uint(i+j) >> 1)
		if s.entries[h].name < name {
			i = h + 1
		} else {
			j = h
		}
	}
	if i < n && s.entries[i].name == name {
		return s.entries[i].value, nil
	}

	var ctor string
	if s.constructor != Default {
		ctor = s.constructor.String() + " "
	}
	return nil, starlark.NoSuchAttrError(
		fmt.Sprintf("%sstruct has no .%s attribute", ctor, name))
}

func (s *Struct) SafeAttr(thread *starlark.Thread, name string) (starlark.Value, error) {
	const safety = starlark.CPUSafe | starlark.MemSafe | starlark.TimeSafe | starlark.IOSafe
	if err := starlark.CheckSafety(thread, safety); err != nil {
		return nil, err
	}
	return s.Attr(name)
}

func (s *Struct) AttrNames() []string {
	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.name
	}
	return names
}

func (x *Struct) CompareSameType(op syntax.Token, y_ starlark.Value, depth int) (bool, error) {
	y := y_.(*Struct)
	switch op {
	case syntax.EQL:
		return structsEqual(x, y, depth)
	case syntax.NEQ:
		eq, err := structsEqual(x, y, depth)
		return !eq, err
	default:
		return false, fmt.Errorf("%s %s %s not implemented", x.Type(), op, y.Type())
	}
}

func structsEqual(x, y *Struct, depth int) (bool, error) {
	if len(x.entries) != len(y.entries) {
		return false, nil
	}

	if eq, err := starlark.Equal(x.constructor, y.constructor); err != nil {
		return false, fmt.Errorf("error comparing struct constructors %v and %v: %v",
			x.constructor, y.constructor, err)
	} else if !eq {
		return false, nil
	}

	for i, n := 0, len(x.entries); i < n; i++ {
		if x.entries[i].name != y.entries[i].name {
			return false, nil
		} else if eq, err := starlark.EqualDepth(x.entries[i].value, y.entries[i].value, depth-1); err != nil {
			return false, err
		} else if !eq {
			return false, nil
		}
	}
	return true, nil
}
