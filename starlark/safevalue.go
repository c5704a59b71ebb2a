// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package starlark

// This file defines the thread-aware counterparts of the optional value
// interfaces in value.go. Where an interface in value.go describes an
// operation's shape, the Safe* form of the same interface threads a
// *Thread through so the implementation can declare its safety and
// charge the thread's step and allocation budgets as it goes. The
// evaluator always prefers the Safe* form when a value provides one and
// otherwise requires the thread to permit unmetered execution.

import (
	"fmt"
	"unicode/utf8"

	"github.com/stratumlang/starlark/syntax"
)

// SizeAware allows an object to declare its own size to the allocation
// estimator, overriding the reflection-based default.
type SizeAware interface {
	EstimateSize() int64
}

// A SafeStringer can render itself through a StringBuilder, charging
// the thread for the text it produces.
type SafeStringer interface {
	SafeString(thread *Thread, sb StringBuilder) error
}

// A SafeIndexable is an Indexable whose element access is metered.
type SafeIndexable interface {
	Indexable
	SafeIndex(thread *Thread, i int) (Value, error) // requires 0 <= i < Len()
}

// A HasSafeSetIndex is an Indexable value whose elements may be
// assigned (x[i] = y), respecting the safety of the thread.
type HasSafeSetIndex interface {
	SafeIndexable
	SafeSetIndex(thread *Thread, index int, v Value) error
}

// A SafeMapping is a Mapping whose lookup is metered.
type SafeMapping interface {
	Mapping
	SafeGet(thread *Thread, key Value) (v Value, found bool, err error)
}

// A HasSafeSetKey supports map update using x[k] = v syntax, like a
// dictionary, respecting the safety of the thread.
type HasSafeSetKey interface {
	Mapping
	SafeSetKey(thread *Thread, k, v Value) error
}

// A HasSafeUnary is a HasUnary whose operators are metered.
type HasSafeUnary interface {
	HasUnary
	SafeUnary(thread *Thread, op syntax.Token) (Value, error)
}

// A HasSafeAttrs value has fields or methods that may be read by a dot
// expression (y = x.f), respecting the safety of the thread.
//
// In contrast to HasAttrs, SafeAttr follows the standard Go convention
// and returns either a value or an error; a missing attribute is
// reported as ErrNoSuchAttr or a NoSuchAttrError.
type HasSafeAttrs interface {
	HasAttrs
	SafeAttr(thread *Thread, name string) (Value, error)
}

// A HasSafeSetField value has fields that may be written by a dot
// expression (x.f = y), respecting the safety of the thread.
type HasSafeSetField interface {
	HasSetField
	SafeSetField(thread *Thread, name string, val Value) error
}

// A NoSuchAttrError may be returned by an implementation of
// HasAttrs.Attr or HasSetField.SetField to indicate that no such field
// exists.
type NoSuchAttrError string

func (e NoSuchAttrError) Error() string { return string(e) }

var (
	_ HasSafeAttrs    = String("")
	_ HasSafeAttrs    = new(List)
	_ HasSafeAttrs    = new(Dict)
	_ SafeIndexable   = String("")
	_ SafeIndexable   = Tuple(nil)
	_ HasSafeSetIndex = new(List)
	_ SafeMapping     = new(Dict)
	_ HasSafeSetKey   = new(Dict)
)

func (s String) SafeAttr(thread *Thread, name string) (Value, error) {
	return safeBuiltinAttr(thread, s, name, stringMethods)
}

func (l *List) SafeAttr(thread *Thread, name string) (Value, error) {
	return safeBuiltinAttr(thread, l, name, listMethods)
}

func (d *Dict) SafeAttr(thread *Thread, name string) (Value, error) {
	return safeBuiltinAttr(thread, d, name, dictMethods)
}

func (s String) SafeIndex(thread *Thread, i int) (Value, error) {
	if thread != nil {
		if err := thread.AddAllocs(StringTypeOverhead); err != nil {
			return nil, err
		}
	}
	return s[i : i+1], nil
}

func (t Tuple) SafeIndex(thread *Thread, i int) (Value, error) { return t[i], nil }

func (l *List) SafeIndex(thread *Thread, i int) (Value, error) { return l.elems[i], nil }

func (l *List) SafeSetIndex(thread *Thread, i int, v Value) error {
	return l.SetIndex(i, v)
}

// toString renders v without a thread, for String methods that cannot
// fail.
func toString(v Value) string {
	buf := new(SafeStringBuilder)
	writeValue(nil, buf, v, nil)
	return buf.String()
}

// safeToString renders v, charging thread for the text produced.
func safeToString(thread *Thread, v Value) (string, error) {
	buf := NewSafeStringBuilder(thread)
	if err := writeValue(thread, buf, v, nil); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// writeValue writes x to out.
//
// path is used to detect cycles.
// It contains the list of *List and *Dict values we're currently printing.
// (These are the only potentially cyclic structures.)
// Callers should generally pass nil for path.
// It is safe to re-use the same path slice for multiple calls.
func writeValue(thread *Thread, out StringBuilder, x Value, path []Value) error {
	switch x := x.(type) {
	case nil:
		if _, err := out.WriteString("<nil>"); err != nil { // indicates a bug
			return err
		}

	// These cases are duplicates of T.String(), for efficiency.
	case NoneType:
		if _, err := out.WriteString("None"); err != nil {
			return err
		}

	case Int:
		if iSmall, iBig := x.get(); iBig != nil {
			if _, err := fmt.Fprintf(out, "%d", iBig); err != nil {
				return err
			}
		} else {
			if _, err := fmt.Fprintf(out, "%d", iSmall); err != nil {
				return err
			}
		}

	case Bool:
		if x {
			if _, err := out.WriteString("True"); err != nil {
				return err
			}
		} else {
			if _, err := out.WriteString("False"); err != nil {
				return err
			}
		}

	case String:
		if err := syntax.QuoteWriter(out, string(x)); err != nil {
			return err
		}

	case stringElems:
		if err := syntax.QuoteWriter(out, string(x.s)); err != nil {
			return err
		}
		method := ".elems()"
		if x.ords {
			method = ".elem_ords()"
		}
		if _, err := out.WriteString(method); err != nil {
			return err
		}

	case stringCodepoints:
		if err := syntax.QuoteWriter(out, string(x.s)); err != nil {
			return err
		}
		method := ".codepoints()"
		if x.ords {
			method = ".codepoint_ords()"
		}
		if _, err := out.WriteString(method); err != nil {
			return err
		}

	case *List:
		if err := out.WriteByte('['); err != nil {
			return err
		}
		if pathContains(path, x) {
			if _, err := out.WriteString("..."); err != nil { // list contains itself
				return err
			}
		} else {
			if thread != nil {
				// Add 1 step per element to match the cost of using SafeIterate.
				if err := thread.AddExecutionSteps(int64(len(x.elems))); err != nil {
					return err
				}
			}
			for i, elem := range x.elems {
				if i > 0 {
					if _, err := out.WriteString(", "); err != nil {
						return err
					}
				}
				if err := writeValue(thread, out, elem, append(path, x)); err != nil {
					return err
				}
			}
		}
		if err := out.WriteByte(']'); err != nil {
			return err
		}

	case Tuple:
		if err := out.WriteByte('('); err != nil {
			return err
		}
		if thread != nil {
			if err := thread.AddExecutionSteps(int64(len(x))); err != nil {
				return err
			}
		}
		for i, elem := range x {
			if i > 0 {
				if _, err := out.WriteString(", "); err != nil {
					return err
				}
			}
			if err := writeValue(thread, out, elem, path); err != nil {
				return err
			}
		}
		if len(x) == 1 {
			if err := out.WriteByte(','); err != nil {
				return err
			}
		}
		if err := out.WriteByte(')'); err != nil {
			return err
		}

	case *Function:
		if _, err := fmt.Fprintf(out, "<function %s>", x.Name()); err != nil {
			return err
		}

	case *Builtin:
		if x.recv != nil {
			if _, err := fmt.Fprintf(out, "<built-in method %s of %s value>", x.Name(), x.recv.Type()); err != nil {
				return err
			}
		} else {
			if _, err := fmt.Fprintf(out, "<built-in function %s>", x.Name()); err != nil {
				return err
			}
		}

	case *Dict:
		if err := out.WriteByte('{'); err != nil {
			return err
		}
		if pathContains(path, x) {
			if _, err := out.WriteString("..."); err != nil { // dict contains itself
				return err
			}
		} else {
			sep := ""
			if thread != nil {
				if err := thread.AddExecutionSteps(int64(x.ht.len)); err != nil {
					return err
				}
			}
			for e := x.ht.head; e != nil; e = e.next {
				k, v := e.key, e.value
				if _, err := out.WriteString(sep); err != nil {
					return err
				}
				if err := writeValue(thread, out, k, path); err != nil {
					return err
				}
				if _, err := out.WriteString(": "); err != nil {
					return err
				}
				if err := writeValue(thread, out, v, append(path, x)); err != nil { // cycle check
					return err
				}
				sep = ", "
			}
		}
		if err := out.WriteByte('}'); err != nil {
			return err
		}

	case SafeStringer:
		if err := x.SafeString(thread, out); err != nil {
			return err
		}

	default:
		if _, err := out.WriteString(x.String()); err != nil {
			return err
		}
	}
	return nil
}

func pathContains(path []Value, x Value) bool {
	for _, y := range path {
		if x == y {
			return true
		}
	}
	return false
}

// A stringElems is an iterable whose iterator yields a sequence of
// elements (bytes), either numerically or as successive substrings.
// It is an indexable sequence.
type stringElems struct {
	s    String
	ords bool
}

var (
	_ Iterable      = stringElems{}
	_ SafeIndexable = stringElems{}
)

func (si stringElems) String() string        { return toString(si) }
func (si stringElems) Type() string          { return "string.elems" }
func (si stringElems) Freeze()               {} // immutable
func (si stringElems) Truth() Bool           { return True }
func (si stringElems) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: %s", si.Type()) }
func (si stringElems) Iterate() Iterator     { return &stringElemsIterator{si: si} }
func (si stringElems) Len() int              { return len(si.s) }
func (si stringElems) Index(i int) Value {
	if si.ords {
		return MakeInt(int(si.s[i]))
	}
	return si.s[i : i+1]
}
func (si stringElems) SafeIndex(thread *Thread, i int) (Value, error) {
	if si.ords {
		result := Value(MakeInt(int(si.s[i])))
		if thread != nil {
			if err := thread.AddAllocs(EstimateSize(result)); err != nil {
				return nil, err
			}
		}
		return result, nil
	}
	if thread != nil {
		if err := thread.AddAllocs(StringTypeOverhead); err != nil {
			return nil, err
		}
	}
	return si.s[i : i+1], nil
}

type stringElemsIterator struct {
	si     stringElems
	i      int
	thread *Thread
	err    error
}

var _ SafeIterator = &stringElemsIterator{}

func (it *stringElemsIterator) BindThread(thread *Thread) {
	it.thread = thread
}

func (it *stringElemsIterator) Next(p *Value) bool {
	if it.err != nil {
		return false
	}
	if it.i == len(it.si.s) {
		return false
	}
	v, err := it.si.SafeIndex(it.thread, it.i)
	if err != nil {
		it.err = err
		return false
	}
	*p = v
	it.i++
	return true
}

func (it *stringElemsIterator) Done()          {}
func (it *stringElemsIterator) Err() error     { return it.err }
func (it *stringElemsIterator) Safety() Safety { return MemSafe | CPUSafe }

// A stringCodepoints is an iterable whose iterator yields a sequence of
// Unicode code points, either numerically or as successive substrings.
// It is not indexable.
type stringCodepoints struct {
	s    String
	ords bool
}

var _ Iterable = stringCodepoints{}

func (si stringCodepoints) String() string        { return toString(si) }
func (si stringCodepoints) Type() string          { return "string.codepoints" }
func (si stringCodepoints) Freeze()               {} // immutable
func (si stringCodepoints) Truth() Bool           { return True }
func (si stringCodepoints) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: %s", si.Type()) }
func (si stringCodepoints) Iterate() Iterator     { return &stringCodepointsIterator{si: si} }

type stringCodepointsIterator struct {
	si     stringCodepoints
	i      int
	thread *Thread
	err    error
}

var _ SafeIterator = &stringCodepointsIterator{}

func (it *stringCodepointsIterator) BindThread(thread *Thread) {
	it.thread = thread
}

var runeSize = EstimateSize(MakeInt(0))

func (it *stringCodepointsIterator) Next(p *Value) bool {
	if it.err != nil {
		return false
	}
	s := it.si.s[it.i:]
	if s == "" {
		return false
	}
	r, sz := utf8.DecodeRuneInString(string(s))
	if !it.si.ords {
		if it.thread != nil {
			if err := it.thread.AddAllocs(StringTypeOverhead); err != nil {
				it.err = err
				return false
			}
		}
		if r == utf8.RuneError {
			*p = String(r)
		} else {
			*p = s[:sz]
		}
	} else {
		if it.thread != nil {
			if err := it.thread.AddAllocs(runeSize); err != nil {
				it.err = err
				return false
			}
		}
		*p = MakeInt(int(r))
	}
	it.i += sz
	return true
}

func (it *stringCodepointsIterator) Done()          {}
func (it *stringCodepointsIterator) Err() error     { return it.err }
func (it *stringCodepointsIterator) Safety() Safety { return MemSafe | CPUSafe }
