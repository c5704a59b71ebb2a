// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package starlark provides the evaluation engine for a deterministic,
// hermetic configuration language in the Starlark family: the value
// model, the two-tier heap, the evaluator, the parameter-binding
// protocol, and the fixed built-in surface the evaluator depends on. The
// lexer/parser (see the syntax package), diagnostic rendering, any
// REPL/CLI, and the load() file loader remain external collaborators.
//
// Starlark values are represented by the Value interface. The following
// built-in Value types are known to the evaluator:
//
//	NoneType    -- None
//	Bool        -- bool
//	Int         -- int (small ints inline, arbitrary precision via math/big)
//	String      -- string
//	*List       -- list (mutable)
//	Tuple       -- tuple (immutable)
//	*Dict       -- dict (mutable)
//	*Range      -- range
//	*Function   -- function compiled from a def/lambda statement
//	*Builtin    -- a function or method implemented in Go
//	*EnumType, *EnumValue -- the result of the enum() built-in
//
// Client applications may define new data types that satisfy at least the
// Value interface. Such types may provide additional operations by
// implementing any of the optional interfaces below (Callable,
// Comparable, Iterable, Indexable, ...).
package starlark

import (
	"fmt"
	"math"
	"math/big"

	"github.com/stratumlang/starlark/syntax"
)

// Value is a value in the evaluator. Every heap-hosted type implements
// this interface; types implement only the optional interfaces that
// make sense for them.
type Value interface {
	String() string
	Type() string
	Freeze()
	Truth() Bool
	Hash() (uint32, error)
}

// A Comparable value defines its own equivalence relation and perhaps
// ordered comparisons (==, !=, <, <=, >, >=).
type Comparable interface {
	Value
	CompareSameType(op syntax.Token, y Value, depth int) (bool, error)
}

// A TotallyOrdered is a type whose values form a total order: if x and y
// are of the same TotallyOrdered type, x must be less than, greater than,
// or equal to y. Preferred over Comparable for new types.
type TotallyOrdered interface {
	Value
	Cmp(y Value, depth int) (int, error)
}

// A Callable value f may be the operand of a call expression, f(x).
type Callable interface {
	Value
	Name() string
	CallInternal(thread *Thread, args Tuple, kwargs []Tuple) (Value, error)
}

// An Iterable abstracts a sequence of values whose length is not
// necessarily known in advance.
type Iterable interface {
	Value
	Iterate() Iterator // must be followed by a call to Iterator.Done
}

// A Sequence is an Iterable of known length.
type Sequence interface {
	Iterable
	Len() int
}

// An Indexable is a sequence of known length with efficient random access.
type Indexable interface {
	Value
	Index(i int) Value // requires 0 <= i < Len()
	Len() int
}

// A Sliceable is a sequence that supports x[i:j:step].
type Sliceable interface {
	Indexable
	Slice(start, end, step int) Value
}

// A HasSetIndex is an Indexable whose elements may be assigned, x[i] = y.
type HasSetIndex interface {
	Indexable
	SetIndex(index int, v Value) error
}

// An Iterator provides a sequence of values to the caller. The caller
// must call Done when the iterator is no longer needed. Operations
// that mutate the underlying sequence fail while an iterator is
// active.
type Iterator interface {
	Next(p *Value) bool
	Done()
	Err() error
}

// A Mapping is a mapping from keys to values, such as a dictionary.
type Mapping interface {
	Value
	Get(Value) (v Value, found bool, err error)
}

// An IterableMapping additionally supports key enumeration; if a type
// satisfies both Mapping and Iterable, the iterator yields keys.
type IterableMapping interface {
	Mapping
	Iterate() Iterator
	Items() []Tuple
}

// A HasSetKey supports map update using x[k] = v, like a dictionary.
type HasSetKey interface {
	Mapping
	SetKey(k, v Value) error
}

// A HasBinary value may be used as either operand of a binary operator:
// +  -  *  /  //  %  in  not in  |  &  ^  <<  >>
//
// An implementation may decline to handle an operation by returning
// (nil, nil); clients should always call the standalone Binary function
// rather than this method directly.
type HasBinary interface {
	Value
	Binary(op syntax.Token, y Value, side Side) (Value, error)
}

type Side bool

const (
	Left  Side = false
	Right Side = true
)

// A HasUnary value may be the operand of +, -, or ~.
type HasUnary interface {
	Value
	Unary(op syntax.Token) (Value, error)
}

// A HasAttrs value has fields or methods read by a dot expression, x.f.
type HasAttrs interface {
	Value
	Attr(name string) (Value, error) // returns (nil, nil) if absent
	AttrNames() []string
}

// A HasSetField value has settable fields, x.f = y.
type HasSetField interface {
	HasAttrs
	SetField(name string, val Value) error
}

// ---- None ----

type NoneType byte

const None = NoneType(0)

func (NoneType) String() string        { return "None" }
func (NoneType) Type() string          { return "NoneType" }
func (NoneType) Freeze()               {}
func (NoneType) Truth() Bool           { return False }
func (NoneType) Hash() (uint32, error) { return 0, nil }

// ---- Bool ----

type Bool bool

const (
	False = Bool(false)
	True  = Bool(true)
)

func (b Bool) String() string {
	if b {
		return "True"
	}
	return "False"
}
func (b Bool) Type() string { return "bool" }
func (b Bool) Freeze()      {}
func (b Bool) Truth() Bool  { return b }
func (b Bool) Hash() (uint32, error) {
	if b {
		return 1, nil
	}
	return 0, nil
}
func (b Bool) CompareSameType(op syntax.Token, y Value, depth int) (bool, error) {
	return threeWay(op, b2i(bool(b))-b2i(bool(y.(Bool)))), nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ---- Int ----

// Int is the type of a Starlark int. Small integers are carried inline
// in the struct with no extra heap allocation; values outside int64
// range fall back to math/big.
type Int struct {
	small int64
	big   *big.Int // non-nil only when the value doesn't fit in int64
}

func MakeInt(x int) Int { return MakeInt64(int64(x)) }

// MakeInt64 returns a Starlark int for the specified int64.
func MakeInt64(x int64) Int { return Int{small: x} }

func MakeBigInt(x *big.Int) Int {
	if x.IsInt64() {
		return Int{small: x.Int64()}
	}
	return Int{big: x}
}

func (i Int) isBig() bool { return i.big != nil }

func (i Int) BigInt() *big.Int {
	if i.big != nil {
		return i.big
	}
	return big.NewInt(i.small)
}

func (i Int) Int64() (int64, bool) {
	if i.big != nil {
		return 0, false
	}
	return i.small, true
}

func (i Int) String() string {
	if i.big != nil {
		return i.big.String()
	}
	return fmt.Sprintf("%d", i.small)
}
func (Int) Type() string { return "int" }
func (Int) Freeze()      {}
func (i Int) Truth() Bool {
	if i.big != nil {
		return Bool(i.big.Sign() != 0)
	}
	return Bool(i.small != 0)
}
func (i Int) Hash() (uint32, error) {
	if i.big != nil {
		return uint32(i.big.Int64()), nil
	}
	lo := uint32(i.small)
	hi := uint32(i.small >> 32)
	return lo ^ hi, nil
}

func (x Int) Cmp(y Value, depth int) (int, error) {
	yi := y.(Int)
	if !x.isBig() && !yi.isBig() {
		switch {
		case x.small < yi.small:
			return -1, nil
		case x.small > yi.small:
			return 1, nil
		default:
			return 0, nil
		}
	}
	return x.BigInt().Cmp(yi.BigInt()), nil
}

// zero and one are shared small-int constants used throughout the
// built-in surface (e.g. abs, int) to negate or compare without
// allocating a fresh Int each time.
var zero = MakeInt(0)
var one = MakeInt(1)

// get returns i's value either as an int64 (big == nil) or as a
// *big.Int, so callers can decide which arithmetic fast path applies.
func (i Int) get() (small int64, big *big.Int) {
	return i.small, i.big
}

// Sign returns -1, 0, or +1 according to the sign of i.
func (i Int) Sign() int {
	if i.big != nil {
		return i.big.Sign()
	}
	switch {
	case i.small > 0:
		return 1
	case i.small < 0:
		return -1
	default:
		return 0
	}
}

// addSmall64 adds two int64s, reporting whether the result overflowed
// int64 and so must be recomputed with math/big.
func addSmall64(a, b int64) (int64, bool) {
	sum := a + b
	overflow := (a > 0 && b > 0 && sum < 0) || (a < 0 && b < 0 && sum > 0)
	return sum, overflow
}

// Add returns x + y.
func (x Int) Add(y Int) Int {
	if x.big == nil && y.big == nil {
		if sum, ok := addSmall64(x.small, y.small); ok {
			return MakeBigInt(new(big.Int).Add(x.BigInt(), y.BigInt()))
		} else {
			return Int{small: sum}
		}
	}
	return MakeBigInt(new(big.Int).Add(x.BigInt(), y.BigInt()))
}

// Sub returns x - y.
func (x Int) Sub(y Int) Int {
	if x.big == nil && y.big == nil {
		if diff, ok := addSmall64(x.small, -y.small); ok || y.small == math.MinInt64 {
			return MakeBigInt(new(big.Int).Sub(x.BigInt(), y.BigInt()))
		} else {
			return Int{small: diff}
		}
	}
	return MakeBigInt(new(big.Int).Sub(x.BigInt(), y.BigInt()))
}

// Mul returns x * y.
func (x Int) Mul(y Int) Int {
	if x.big == nil && y.big == nil {
		if x.small == 0 || y.small == 0 {
			return zero
		}
		prod := x.small * y.small
		if prod/y.small == x.small && !(x.small == -1 && y.small == math.MinInt64) && !(y.small == -1 && x.small == math.MinInt64) {
			return Int{small: prod}
		}
	}
	return MakeBigInt(new(big.Int).Mul(x.BigInt(), y.BigInt()))
}

// Div returns the floor division x // y (the quotient rounded toward
// negative infinity, matching Mod). The caller must ensure y is nonzero.
func (x Int) Div(y Int) Int {
	xb, yb := x.BigInt(), y.BigInt()
	q, m := new(big.Int), new(big.Int)
	q.DivMod(xb, yb, m)
	// DivMod is Euclidean (m >= 0); for a negative divisor with a
	// remainder, the floored quotient is one less.
	if m.Sign() != 0 && yb.Sign() < 0 {
		q.Sub(q, big.NewInt(1))
	}
	return MakeBigInt(q)
}

// Mod returns the Euclidean (floor) modulus x % y, matching Python's
// sign convention (result has the same sign as y). The caller must
// ensure y is nonzero.
func (x Int) Mod(y Int) Int {
	xb, yb := x.BigInt(), y.BigInt()
	m := new(big.Int).Mod(xb, yb)
	// big.Int.Mod already returns a Euclidean (non-negative) modulus;
	// adjust the sign to match y, as Starlark's % does.
	if m.Sign() != 0 && yb.Sign() < 0 {
		m.Add(m, yb)
	}
	return MakeBigInt(m)
}

// Or returns the bitwise OR of x and y.
func (x Int) Or(y Int) Int { return MakeBigInt(new(big.Int).Or(x.BigInt(), y.BigInt())) }

// And returns the bitwise AND of x and y.
func (x Int) And(y Int) Int { return MakeBigInt(new(big.Int).And(x.BigInt(), y.BigInt())) }

// Xor returns the bitwise XOR of x and y.
func (x Int) Xor(y Int) Int { return MakeBigInt(new(big.Int).Xor(x.BigInt(), y.BigInt())) }

// Not returns the bitwise complement of x.
func (x Int) Not() Int { return MakeBigInt(new(big.Int).Not(x.BigInt())) }

// Lsh returns x << y.
func (x Int) Lsh(y uint) Int { return MakeBigInt(new(big.Int).Lsh(x.BigInt(), y)) }

// Rsh returns x >> y (arithmetic shift, rounding towards negative infinity).
func (x Int) Rsh(y uint) Int { return MakeBigInt(new(big.Int).Rsh(x.BigInt(), y)) }

func threeWay(op syntax.Token, sign int) bool {
	switch op {
	case syntax.EQL:
		return sign == 0
	case syntax.NEQ:
		return sign != 0
	case syntax.LE:
		return sign <= 0
	case syntax.LT:
		return sign < 0
	case syntax.GE:
		return sign >= 0
	case syntax.GT:
		return sign > 0
	default:
		panic(op)
	}
}

// Unary implements the operations +int, -int, and ~int.
func (i Int) Unary(op syntax.Token) (Value, error) {
	switch op {
	case syntax.MINUS:
		return zero.Sub(i), nil
	case syntax.PLUS:
		return i, nil
	case syntax.TILDE:
		return i.Not(), nil
	}
	return nil, nil
}

var (
	_ Comparable     = False
	_ TotallyOrdered = Int{}
	_ HasUnary       = Int{}
)

// ---- String ----

// String is the type of a Starlark text string, immutable and
// compared by contents.
type String string

func (s String) String() string   { return syntax.Quote(string(s)) }
func (s String) GoString() string { return string(s) }
func (String) Type() string       { return "string" }
func (String) Freeze()            {}
func (s String) Truth() Bool      { return len(s) > 0 }
func (s String) Hash() (uint32, error) {
	// 32-bit polynomial hash over the UTF-16 transcoding,
	// h[i] = 31*h[i-1] + code_unit[i], wrapping on overflow, h[-1] = 0.
	return stringHash(string(s)), nil
}
func (s String) Len() int { return len(s) }
func (s String) Index(i int) Value { return s[i : i+1] }
func (s String) Slice(start, end, step int) Value {
	if step == 1 {
		return s[start:end]
	}
	sign := signum(step)
	var str []byte
	for i := start; signum(end-i) == sign; i += step {
		str = append(str, s[i])
	}
	return String(str)
}
func (s String) Attr(name string) (Value, error) { return builtinAttr(s, name, stringMethods) }
func (s String) AttrNames() []string             { return builtinAttrNames(stringMethods) }
func (s String) CompareSameType(op syntax.Token, y Value, depth int) (bool, error) {
	return threeWay(op, compareStrings(string(s), string(y.(String)))), nil
}

// signum returns -1, 0, or +1 according to the sign of x.
func signum(x int) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

var (
	_ Comparable = String("")
	_ Indexable  = String("")
	_ Sliceable  = String("")
	_ HasAttrs   = String("")
)

// ---- Tuple ----

// Tuple is an immutable sequence of values.
type Tuple []Value

func (t Tuple) String() string { return toString(t) }
func (Tuple) Type() string { return "tuple" }
func (t Tuple) Freeze() {
	for _, x := range t {
		x.Freeze()
	}
}
func (t Tuple) Truth() Bool { return len(t) > 0 }
func (t Tuple) Hash() (uint32, error) {
	var h, mult uint32 = 0x345678, 1000003
	for _, x := range t {
		xh, err := x.Hash()
		if err != nil {
			return 0, err
		}
		h = (h ^ xh) * mult
		mult += 82520 + uint32(2*len(t))
	}
	return h, nil
}
func (t Tuple) Len() int          { return len(t) }
func (t Tuple) Index(i int) Value { return t[i] }
func (t Tuple) Slice(start, end, step int) Value {
	if step == 1 {
		return append(Tuple{}, t[start:end]...)
	}
	var out Tuple
	for i := start; (step > 0 && i < end) || (step < 0 && i > end); i += step {
		out = append(out, t[i])
	}
	return out
}
func (t Tuple) Iterate() Iterator { return &tupleIterator{elems: t} }
func (t Tuple) CompareSameType(op syntax.Token, y_ Value, depth int) (bool, error) {
	y := y_.(Tuple)
	return sliceCompare(op, t, y, depth)
}

type tupleIterator struct{ elems Tuple }

func (it *tupleIterator) Next(p *Value) bool {
	if len(it.elems) == 0 {
		return false
	}
	*p = it.elems[0]
	it.elems = it.elems[1:]
	return true
}
func (it *tupleIterator) Done()     {}
func (it *tupleIterator) Err() error { return nil }
func (it *tupleIterator) Safety() Safety {
	return CPUSafe | MemSafe | TimeSafe | IOSafe
}
func (it *tupleIterator) BindThread(thread *Thread) {}

var (
	_ Comparable = Tuple(nil)
	_ Indexable  = Tuple(nil)
	_ Sliceable  = Tuple(nil)
	_ Iterable   = Tuple(nil)
)

