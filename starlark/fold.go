package starlark

import (
	"math/big"

	"github.com/stratumlang/starlark/syntax"
)

// Constant folding for the lowering pass in compile.go. An expression
// consisting only of literals and the operators below is evaluated once,
// at compile time, and lowered to a node that returns the pre-built,
// frozen Value. Folding never changes semantics: anything it cannot
// prove constant is left to the generic lowering.
//
// Folded forms:
//   - INT and STRING literals
//   - unary + and - applied to a constant int
//   - `+` chains whose operands are all constant strings ("a"+"b"+"c")
//   - parenthesised constants
//   - tuples whose elements are all constant (shared, frozen)
//
// List and dict literals are handled in compile.go: a list of constant
// elements shares one pre-built element slice but must copy it per
// evaluation (lists are mutable), and a dict literal with constant keys
// pre-hashes them and detects duplicates statically.

// foldExpr reports whether e is a compile-time constant, and its value.
func foldExpr(e syntax.Expr) (Value, bool) {
	switch x := e.(type) {
	case *syntax.Literal:
		switch x.Token {
		case syntax.STRING:
			return String(x.Str), true
		case syntax.INT:
			if x.Big != "" {
				bi, ok := new(big.Int).SetString(x.Big, 10)
				if !ok {
					return nil, false
				}
				return MakeBigInt(bi), true
			}
			return MakeInt64(x.Int), true
		}
		return nil, false

	case *syntax.ParenExpr:
		return foldExpr(x.X)

	case *syntax.UnaryExpr:
		v, ok := foldExpr(x.X)
		if !ok {
			return nil, false
		}
		i, ok := v.(Int)
		if !ok {
			return nil, false
		}
		switch x.Op {
		case syntax.PLUS:
			return i, true
		case syntax.MINUS:
			return zero.Sub(i), true
		}
		return nil, false

	case *syntax.BinaryExpr:
		if x.Op != syntax.PLUS {
			return nil, false
		}
		xv, ok := foldExpr(x.X)
		if !ok {
			return nil, false
		}
		yv, ok := foldExpr(x.Y)
		if !ok {
			return nil, false
		}
		xs, ok := xv.(String)
		if !ok {
			return nil, false
		}
		ys, ok := yv.(String)
		if !ok {
			return nil, false
		}
		return xs + ys, true

	case *syntax.TupleExpr:
		elems, ok := foldExprs(x.List)
		if !ok {
			return nil, false
		}
		t := Tuple(elems)
		t.Freeze()
		return t, true
	}
	return nil, false
}

// foldExprs folds each element of list, failing if any element is not
// constant.
func foldExprs(list []syntax.Expr) ([]Value, bool) {
	elems := make([]Value, len(list))
	for i, e := range list {
		v, ok := foldExpr(e)
		if !ok {
			return nil, false
		}
		elems[i] = v
	}
	return elems, true
}
