package starlark

import (
	"fmt"

	"github.com/stratumlang/starlark/syntax"
)

// List is the mutable sequence backing the list built-in: a growable
// slice plus an iterator-count guard that rejects mutation while any
// iterator over the list is live.
type List struct {
	elems     []Value
	frozen    bool
	itercount uint32
}

func NewList(elems []Value) *List { return &List{elems: elems} }

func (l *List) String() string { return toString(l) }
func (*List) Type() string     { return "list" }
func (l *List) Freeze() {
	if !l.frozen {
		l.frozen = true
		for _, e := range l.elems {
			e.Freeze()
		}
	}
}
func (l *List) Truth() Bool { return l.Len() > 0 }
func (l *List) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: list")
}

func (l *List) Len() int          { return len(l.elems) }
func (l *List) Index(i int) Value { return l.elems[i] }

func (l *List) Slice(start, end, step int) Value {
	if step == 1 {
		elems := append([]Value{}, l.elems[start:end]...)
		return NewList(elems)
	}
	var out []Value
	for i := start; (step > 0 && i < end) || (step < 0 && i > end); i += step {
		out = append(out, l.elems[i])
	}
	return NewList(out)
}

func (l *List) Attr(name string) (Value, error) { return builtinAttr(l, name, listMethods) }
func (l *List) AttrNames() []string             { return builtinAttrNames(listMethods) }

func (l *List) Iterate() Iterator {
	if !l.frozen {
		l.itercount++
	}
	return &listIterator{l: l}
}

func (l *List) checkMutable(verb string) error {
	if l.frozen {
		return &FrozenError{Op: verb}
	}
	if l.itercount > 0 {
		return fmt.Errorf("cannot %s list during iteration", verb)
	}
	return nil
}

func (l *List) SetIndex(i int, v Value) error {
	if err := l.checkMutable("assign to element of"); err != nil {
		return err
	}
	l.elems[i] = v
	return nil
}

func (l *List) Append(v Value) error {
	if err := l.checkMutable("append to"); err != nil {
		return err
	}
	l.elems = append(l.elems, v)
	return nil
}

func (l *List) Clear() error {
	if err := l.checkMutable("clear"); err != nil {
		return err
	}
	for i := range l.elems {
		l.elems[i] = nil
	}
	l.elems = l.elems[:0]
	return nil
}

func (l *List) CompareSameType(op syntax.Token, y_ Value, depth int) (bool, error) {
	y := y_.(*List)
	return sliceCompare(op, l.elems, y.elems, depth)
}

func sliceCompare(op syntax.Token, x, y []Value, depth int) (bool, error) {
	for i := 0; i < len(x) && i < len(y); i++ {
		eq, err := EqualDepth(x[i], y[i], depth-1)
		if err != nil {
			return false, err
		}
		if !eq {
			lt, err := CompareDepth(syntax.LT, x[i], y[i], depth-1)
			if err != nil {
				return false, err
			}
			return threeWay(op, b2i(!lt)-b2i(lt)), nil
		}
	}
	return threeWay(op, len(x)-len(y)), nil
}

type listIterator struct {
	l *List
	i int
}

func (it *listIterator) Next(p *Value) bool {
	if it.i >= len(it.l.elems) {
		return false
	}
	*p = it.l.elems[it.i]
	it.i++
	return true
}
func (it *listIterator) Done() {
	if !it.l.frozen {
		it.l.itercount--
	}
}
func (it *listIterator) Err() error { return nil }
func (it *listIterator) Safety() Safety {
	return CPUSafe | MemSafe | TimeSafe | IOSafe
}
func (it *listIterator) BindThread(thread *Thread) {}

var (
	_ Value       = (*List)(nil)
	_ Comparable  = (*List)(nil)
	_ Sliceable   = (*List)(nil)
	_ HasSetIndex = (*List)(nil)
	_ Iterable    = (*List)(nil)
	_ HasAttrs    = (*List)(nil)
)
