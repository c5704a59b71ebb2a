package starlark

import (
	"fmt"

	"github.com/stratumlang/starlark/syntax"
)

// Dict is the mutable hash table backing the dict built-in: chained
// buckets plus an insertion-order doubly-linked list threaded through
// the entries, so iteration order matches insertion order. Resource
// accounting is wired through a *Thread rather than using a plain Go
// map, which offers no such hook.
type Dict struct {
	ht hashtable
}

func NewDict(size int) *Dict {
	d := new(Dict)
	if size > 0 {
		d.ht.init(nil, size)
	}
	return d
}

func (d *Dict) String() string { return toString(d) }
func (d *Dict) Type() string  { return "dict" }
func (d *Dict) Freeze()      { d.ht.freeze() }
func (d *Dict) Truth() Bool  { return d.Len() > 0 }
func (d *Dict) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: dict")
}
func (d *Dict) Len() int { return int(d.ht.len) }

func (d *Dict) Get(k Value) (v Value, found bool, err error) { return d.ht.lookup(nil, k) }
func (d *Dict) SetKey(k, v Value) error                       { return d.ht.insert(nil, k, v) }
func (d *Dict) Delete(k Value) (v Value, found bool, err error) { return d.ht.delete(nil, k) }
func (d *Dict) Clear() error                                  { return d.ht.clear(nil) }
func (d *Dict) Items() []Tuple                                { return d.ht.items() }
func (d *Dict) Keys() []Value                                 { return d.ht.keys() }
func (d *Dict) Values() []Value                               { return d.ht.values() }
func (d *Dict) Iterate() Iterator                             { return d.ht.iterate() }

func (d *Dict) Attr(name string) (Value, error) { return builtinAttr(d, name, dictMethods) }
func (d *Dict) AttrNames() []string             { return builtinAttrNames(dictMethods) }

// SafeGet and SafeSetKey thread a *Thread through so the evaluator can
// charge an operation's steps and allocations to it; the schema-only
// Mapping/HasSetKey interfaces above can't carry a thread argument, so
// the evaluator calls these directly when one is in scope.
func (d *Dict) SafeGet(thread *Thread, k Value) (Value, bool, error) {
	return d.ht.lookup(thread, k)
}
func (d *Dict) SafeSetKey(thread *Thread, k, v Value) error {
	return d.ht.insert(thread, k, v)
}

func (d *Dict) CompareSameType(op syntax.Token, y_ Value, depth int) (bool, error) {
	y := y_.(*Dict)
	switch op {
	case syntax.EQL, syntax.NEQ:
		ok, err := dictsEqual(d, y, depth)
		if op == syntax.NEQ {
			ok = !ok
		}
		return ok, err
	default:
		return false, fmt.Errorf("dict %s dict not implemented", op)
	}
}

func dictsEqual(x, y *Dict, depth int) (bool, error) {
	if x.Len() != y.Len() {
		return false, nil
	}
	for _, xe := range x.Items() {
		yv, found, _ := y.Get(xe[0])
		if !found {
			return false, nil
		}
		eq, err := EqualDepth(xe[1], yv, depth-1)
		if err != nil || !eq {
			return false, err
		}
	}
	return true, nil
}

var (
	_ Value          = (*Dict)(nil)
	_ Comparable     = (*Dict)(nil)
	_ Mapping        = (*Dict)(nil)
	_ IterableMapping = (*Dict)(nil)
	_ HasSetKey      = (*Dict)(nil)
	_ HasAttrs       = (*Dict)(nil)
)
