package starlark

import (
	"fmt"

	"github.com/stratumlang/starlark/syntax"
)

// CompareLimit bounds the recursion depth of comparisons over nested
// data structures (lists of lists, tuples of dicts, ...): unbounded
// recursion on a cyclic or pathological structure would defeat the
// resource-boundedness the evaluator guarantees.
var CompareLimit = 10

// Equal reports whether two values are equal.
func Equal(x, y Value) (bool, error) {
	if x, ok := x.(String); ok {
		return x == y, nil
	}
	return EqualDepth(x, y, CompareLimit)
}

// EqualDepth reports whether x and y are equal, recursing at most depth
// levels into nested structures.
func EqualDepth(x, y Value, depth int) (bool, error) {
	return CompareDepth(syntax.EQL, x, y, depth)
}

// Compare compares two values using the given comparison operator,
// which must be one of EQL, NEQ, LT, LE, GT, or GE.
func Compare(op syntax.Token, x, y Value) (bool, error) {
	return CompareDepth(op, x, y, CompareLimit)
}

// CompareDepth is Compare with an explicit recursion budget; types
// whose CompareSameType recurses into child values (Tuple, List)
// call this rather than Compare to keep the budget threaded through.
func CompareDepth(op syntax.Token, x, y Value, depth int) (bool, error) {
	if depth < 1 {
		return false, fmt.Errorf("comparison exceeded maximum recursion depth")
	}
	if sameType(x, y) {
		if xcomp, ok := x.(Comparable); ok {
			return xcomp.CompareSameType(op, y, depth)
		}
		if xcomp, ok := x.(TotallyOrdered); ok {
			t, err := xcomp.Cmp(y, depth)
			if err != nil {
				return false, err
			}
			return threeWay(op, t), nil
		}
		switch op {
		case syntax.EQL:
			return x == y, nil
		case syntax.NEQ:
			return x != y, nil
		}
		return false, fmt.Errorf("%s %s %s not implemented", x.Type(), op, y.Type())
	}

	// Values of differing types are never ordered, and are unequal
	// under an equality test; with a single numeric type there is no
	// cross-type numeric comparison to make.
	switch op {
	case syntax.EQL:
		return false, nil
	case syntax.NEQ:
		return true, nil
	}
	return false, fmt.Errorf("%s %s %s not implemented", x.Type(), op, y.Type())
}

func sameType(x, y Value) bool {
	return fmt.Sprintf("%T", x) == fmt.Sprintf("%T", y) || x.Type() == y.Type()
}
