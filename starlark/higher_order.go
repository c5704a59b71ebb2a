package starlark

import (
	"fmt"
	"reflect"
)

// This file defines the higher-order and fixed-set-enumeration corners
// of the built-in surface: filter, map, partial, dedupe, and enum.

func filter(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var fn Value
	var seq Value
	if err := UnpackPositionalArgs("filter", args, kwargs, 2, &fn, &seq); err != nil {
		return nil, err
	}
	iter, err := SafeIterate(thread, seq)
	if err != nil {
		return nil, err
	}
	defer iter.Done()

	var out []Value
	var x Value
	for iter.Next(&x) {
		var keep bool
		if fn == None {
			keep = bool(x.Truth())
		} else {
			result, err := Call(thread, fn, Tuple{x}, nil)
			if err != nil {
				return nil, err
			}
			keep = bool(result.Truth())
		}
		if keep {
			if err := thread.AddExecutionSteps(1); err != nil {
				return nil, err
			}
			out = append(out, x)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if err := thread.AddAllocs(EstimateMakeSize(Tuple{}, len(out)) + EstimateSize(List{})); err != nil {
		return nil, err
	}
	return NewList(out), nil
}

func mapBuiltin(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var fn Value
	var seq Value
	if err := UnpackPositionalArgs("map", args, kwargs, 2, &fn, &seq); err != nil {
		return nil, err
	}
	iter, err := SafeIterate(thread, seq)
	if err != nil {
		return nil, err
	}
	defer iter.Done()

	var out []Value
	var x Value
	for iter.Next(&x) {
		v, err := Call(thread, fn, Tuple{x}, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if err := thread.AddAllocs(EstimateMakeSize(Tuple{}, len(out)) + EstimateSize(List{})); err != nil {
		return nil, err
	}
	return NewList(out), nil
}

// dedupe removes duplicates from val's iteration, comparing by
// identity rather than equality for heap-allocated (pointer-backed)
// values, and falling back to value equality for the immutable scalar
// types that have no separate identity of their own: given a = [1] and
// b = [1], dedupe([a, b, a]) keeps both a and b even though they are
// equal, because they are not the same object.
func dedupe(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	var val Value
	if err := UnpackPositionalArgs("dedupe", args, kwargs, 1, &val); err != nil {
		return nil, err
	}
	iter, err := SafeIterate(thread, val)
	if err != nil {
		return nil, err
	}
	defer iter.Done()

	seenPtr := make(map[uintptr]bool)
	seenVal := make(map[string][]Value)

	var out []Value
	var x Value
	for iter.Next(&x) {
		if rv := reflect.ValueOf(x); rv.Kind() == reflect.Ptr {
			p := rv.Pointer()
			if seenPtr[p] {
				continue
			}
			seenPtr[p] = true
			out = append(out, x)
			continue
		}

		key := x.Type()
		if h, herr := x.Hash(); herr == nil {
			key = fmt.Sprintf("%s:%d", x.Type(), h)
		}
		dup := false
		for _, s := range seenVal[key] {
			if eq, _ := Equal(s, x); eq {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		seenVal[key] = append(seenVal[key], x)
		out = append(out, x)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if err := thread.AddAllocs(EstimateMakeSize(Tuple{}, len(out)) + EstimateSize(List{})); err != nil {
		return nil, err
	}
	return NewList(out), nil
}

// enum constructs an EnumType from its positional arguments:
// Colors = enum("Red", "Green", "Blue").
func enum(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("enum: unexpected named argument %s", kwargs[0][0])
	}
	elements := append([]Value{}, args...)
	t, err := NewEnumType(elements)
	if err != nil {
		return nil, err
	}
	if err := thread.AddAllocs(EstimateSize(t)); err != nil {
		return nil, err
	}
	return t, nil
}

// Partial is the value returned by partial(func, *args, **kwargs): a
// callable that prepends its captured positional and named arguments
// to whatever the caller supplies at invocation time.
type Partial struct {
	fn        Value
	pos       Tuple
	namedKeys []string
	namedVals []Value
}

func (p *Partial) String() string {
	return fmt.Sprintf("<partial %s>", p.fn.String())
}
func (p *Partial) Type() string { return "function" }
func (p *Partial) Freeze() {
	p.fn.Freeze()
	for _, v := range p.pos {
		v.Freeze()
	}
	for _, v := range p.namedVals {
		v.Freeze()
	}
}
func (p *Partial) Truth() Bool           { return true }
func (p *Partial) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: partial") }
func (p *Partial) Name() string          { return "partial_closure" }

func (p *Partial) CallInternal(thread *Thread, args Tuple, kwargs []Tuple) (Value, error) {
	fullArgs := make(Tuple, 0, len(p.pos)+len(args))
	fullArgs = append(fullArgs, p.pos...)
	fullArgs = append(fullArgs, args...)

	fullKwargs := make([]Tuple, 0, len(p.namedKeys)+len(kwargs))
	for i, k := range p.namedKeys {
		fullKwargs = append(fullKwargs, Tuple{String(k), p.namedVals[i]})
	}
	fullKwargs = append(fullKwargs, kwargs...)

	return Call(thread, p.fn, fullArgs, fullKwargs)
}

var _ Callable = (*Partial)(nil)

// partial captures a callable plus a prefix of positional and named
// arguments to apply ahead of whatever the returned closure is later
// called with.
func partial(thread *Thread, _ *Builtin, args Tuple, kwargs []Tuple) (Value, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("partial: missing argument for func")
	}
	fn := args[0]
	if _, ok := fn.(Callable); !ok {
		return nil, fmt.Errorf("partial: got %s, want callable", fn.Type())
	}
	p := &Partial{fn: fn, pos: append(Tuple{}, args[1:]...)}
	for _, kv := range kwargs {
		p.namedKeys = append(p.namedKeys, string(kv[0].(String)))
		p.namedVals = append(p.namedVals, kv[1])
	}
	if err := thread.AddAllocs(EstimateSize(p)); err != nil {
		return nil, err
	}
	return p, nil
}
