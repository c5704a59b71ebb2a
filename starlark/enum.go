package starlark

import (
	"fmt"
	"strings"

	"github.com/stratumlang/starlark/syntax"
)

// EnumType is the value produced by the enum() built-in: a fixed,
// ordered collection of distinct elements, each wrapped in an
// EnumValue. The type and its values are constructed together so each
// EnumValue can point back to the type that owns it; the type's own
// .type name is filled in lazily, the first time it is bound to a
// module-level variable.
type EnumType struct {
	typ      string // captured by exportAs; empty until first module-slot assignment
	elements []*EnumValue
	byHash   map[uint32][]*EnumValue
}

// EnumValue is one member of an EnumType, remembering its declaration
// index and the value it wraps.
type EnumValue struct {
	typ   *EnumType
	value Value
	index int
}

// NewEnumType builds the EnumType for a fixed list of elements,
// failing if any two elements are equal.
func NewEnumType(elements []Value) (*EnumType, error) {
	t := &EnumType{byHash: make(map[uint32][]*EnumValue, len(elements))}
	t.elements = make([]*EnumValue, len(elements))
	for i, v := range elements {
		h, err := v.Hash()
		if err != nil {
			return nil, err
		}
		for _, other := range t.byHash[h] {
			eq, err := Equal(other.value, v)
			if err != nil {
				return nil, err
			}
			if eq {
				return nil, fmt.Errorf("enum values must all be distinct, but repeated %s", v.String())
			}
		}
		ev := &EnumValue{typ: t, value: v, index: i}
		t.byHash[h] = append(t.byHash[h], ev)
		t.elements[i] = ev
	}
	return t, nil
}

func (t *EnumType) String() string {
	var buf strings.Builder
	buf.WriteString("enum(")
	for i, e := range t.elements {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(e.value.String())
	}
	buf.WriteByte(')')
	return buf.String()
}

// Type reports "function": like the constructor it behaves as, an
// EnumType is itself a callable value (mirrors the Rust original,
// which tags EnumType with FUNCTION_TYPE for the same reason).
func (t *EnumType) Type() string { return "function" }

func (t *EnumType) Freeze() {
	for _, e := range t.elements {
		e.value.Freeze()
	}
}
func (t *EnumType) Truth() Bool           { return true }
func (t *EnumType) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: enum") }

// exportAs captures the module-level variable name an EnumType is
// first assigned to, becoming its .type attribute.
func (t *EnumType) exportAs(name string) {
	if t.typ == "" {
		t.typ = name
	}
}

func (t *EnumType) typeName() string {
	if t.typ != "" {
		return t.typ
	}
	return "enum"
}

func (t *EnumType) Len() int          { return len(t.elements) }
func (t *EnumType) Index(i int) Value { return t.elements[i] }

func (t *EnumType) Attr(name string) (Value, error) {
	if name == "type" {
		return String(t.typeName()), nil
	}
	return nil, nil
}
func (t *EnumType) AttrNames() []string { return []string{"type"} }

// Name reports the callable's display name for diagnostics: the
// exported .type name once known, else the generic "enum".
func (t *EnumType) Name() string { return t.typeName() }

// CallInternal looks the argument up among the type's elements,
// returning the matching EnumValue.
func (t *EnumType) CallInternal(thread *Thread, args Tuple, kwargs []Tuple) (Value, error) {
	var value Value
	if err := UnpackPositionalArgs(t.Name(), args, kwargs, 1, &value); err != nil {
		return nil, err
	}
	h, err := value.Hash()
	if err != nil {
		return nil, err
	}
	for _, ev := range t.byHash[h] {
		eq, err := Equal(ev.value, value)
		if err != nil {
			return nil, err
		}
		if eq {
			return ev, nil
		}
	}
	return nil, fmt.Errorf("Unknown enum element %s, given to %s", value.String(), t.Name())
}

func (t *EnumType) Iterate() Iterator { return &enumIterator{t: t} }

type enumIterator struct {
	t *EnumType
	i int
}

func (it *enumIterator) Next(p *Value) bool {
	if it.i >= len(it.t.elements) {
		return false
	}
	*p = it.t.elements[it.i]
	it.i++
	return true
}
func (it *enumIterator) Done() {}
func (it *enumIterator) Err() error { return nil }
func (it *enumIterator) Safety() Safety {
	return CPUSafe | MemSafe | TimeSafe | IOSafe
}
func (it *enumIterator) BindThread(thread *Thread) {}

var (
	_ Value     = (*EnumType)(nil)
	_ Callable  = (*EnumType)(nil)
	_ HasAttrs  = (*EnumType)(nil)
	_ Indexable = (*EnumType)(nil)
	_ Iterable  = (*EnumType)(nil)
	_ exportable = (*EnumType)(nil)
)

// ---- EnumValue ----

func (e *EnumValue) String() string { return e.value.String() }

// Type reports "enum", the same for every EnumValue regardless of
// which EnumType produced it; use the owning EnumType's .type to
// distinguish enumerations.
func (e *EnumValue) Type() string { return "enum" }
func (e *EnumValue) Freeze()      { e.value.Freeze() }
func (e *EnumValue) Truth() Bool  { return e.value.Truth() }
func (e *EnumValue) Hash() (uint32, error) { return e.value.Hash() }

func (e *EnumValue) Attr(name string) (Value, error) {
	switch name {
	case "index":
		return MakeInt(e.index), nil
	case "value":
		return e.value, nil
	}
	return nil, nil
}
func (e *EnumValue) AttrNames() []string { return []string{"index", "value"} }

func (e *EnumValue) CompareSameType(op syntax.Token, y Value, depth int) (bool, error) {
	other := y.(*EnumValue)
	if e.typ != other.typ {
		// Values from different enumerations are never equal, and are
		// otherwise incomparable; treat them as unequal for ==/!= and
		// reject ordered comparisons.
		switch op {
		case syntax.EQL:
			return false, nil
		case syntax.NEQ:
			return true, nil
		default:
			return false, fmt.Errorf("enum values of different types are not comparable with %s", op)
		}
	}
	return threeWay(op, e.index-other.index), nil
}

var (
	_ Value      = (*EnumValue)(nil)
	_ Comparable = (*EnumValue)(nil)
	_ HasAttrs   = (*EnumValue)(nil)
)
