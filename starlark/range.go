package starlark

import (
	"fmt"

	"github.com/stratumlang/starlark/syntax"
)

// Range is the result of the range() built-in: an immutable,
// lazily-materialized arithmetic sequence.
// Invariant: step != 0.
type Range struct {
	start, stop, step int
	len               int
}

func NewRange(start, stop, step int) (*Range, error) {
	if step == 0 {
		return nil, fmt.Errorf("range() step argument must not be zero")
	}
	return &Range{start: start, stop: stop, step: step, len: rangeLen(start, stop, step)}, nil
}

func rangeLen(start, stop, step int) int {
	switch {
	case step > 0:
		if stop > start {
			return (stop-start+step-1)/step
		}
		return 0
	case step < 0:
		if start > stop {
			return (start - stop - step - 1) / (-step)
		}
		return 0
	}
	return 0
}

func (r *Range) Len() int          { return r.len }
func (r *Range) Index(i int) Value { return MakeInt(r.start + i*r.step) }
func (r *Range) Slice(start, end, step int) Value {
	newStart := r.start + start*r.step
	newStep := r.step * step
	newStop := r.start + end*r.step
	rr, _ := NewRange(newStart, newStop, newStep)
	return rr
}
func (r *Range) Iterate() Iterator { return &rangeIterator{r: r} }

func (r *Range) String() string {
	if r.step == 1 {
		return fmt.Sprintf("range(%d, %d)", r.start, r.start+r.len*r.step)
	}
	return fmt.Sprintf("range(%d, %d, %d)", r.start, r.start+r.len*r.step, r.step)
}
func (*Range) Type() string          { return "range" }
func (r *Range) Freeze()             {}
func (r *Range) Truth() Bool         { return r.len > 0 }
func (r *Range) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: range")
}

func (r *Range) CompareSameType(op syntax.Token, y_ Value, depth int) (bool, error) {
	y := y_.(*Range)
	if op != syntax.EQL && op != syntax.NEQ {
		return false, fmt.Errorf("range %s range not implemented", op)
	}
	eq := r.len == y.len && (r.len == 0 ||
		(r.start == y.start && r.step == y.step && (r.len == 1 || r.stop_() == y.stop_())))
	if op == syntax.NEQ {
		eq = !eq
	}
	return eq, nil
}

func (r *Range) stop_() int { return r.start + r.len*r.step }

type rangeIterator struct {
	r *Range
	i int
}

func (it *rangeIterator) Next(p *Value) bool {
	if it.i >= it.r.len {
		return false
	}
	*p = it.r.Index(it.i)
	it.i++
	return true
}
func (it *rangeIterator) Done()     {}
func (it *rangeIterator) Err() error { return nil }
func (it *rangeIterator) Safety() Safety {
	return CPUSafe | MemSafe | TimeSafe | IOSafe
}
func (it *rangeIterator) BindThread(thread *Thread) {}

var (
	_ Value      = (*Range)(nil)
	_ Comparable = (*Range)(nil)
	_ Sliceable  = (*Range)(nil)
	_ Iterable   = (*Range)(nil)
)
