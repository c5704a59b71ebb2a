package starlark

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/stratumlang/starlark/resolve"
	"github.com/stratumlang/starlark/syntax"
)

// This file is the compiler proper: given a parsed *syntax.File and
// its resolve.Module shape, it lowers every statement and expression to
// a Go closure over a *frame, a tree of closures over resolved slots
// rather than a bytecode stream. The lowering pass lives in this
// package, rather than under internal/, because its closures close
// directly over Value and Thread; splitting it out would create an
// import cycle.

type slotScope = resolve.Scope

const (
	slotLocal    = resolve.Local
	slotCell     = resolve.Cell
	slotFree     = resolve.Free
	slotModule   = resolve.Global
	slotUniverse = resolve.Universe
)

// compiledFunc is the compiled shape of one def/lambda/module body.
type compiledFunc struct {
	name        string
	doc         string
	pos         syntax.Position
	numLocals   int
	cellIndices []int
	params      []*syntax.Param
	hasVarargs  bool
	hasKwargs   bool
	frees       []resolve.FreeVar
	defaults    []compiledExpr // one per parameter that has a default, in param order
	body        compiledStmt
}

// compiledModule is the compiled shape of an entire file.
type compiledModule struct {
	toplevel *compiledFunc
	resolved *resolve.Module
}

type compiler struct {
	resolved *resolve.Module
	filename string
}

func compileModule(f *syntax.File, resolved *resolve.Module, filename string) *compiledModule {
	c := &compiler{resolved: resolved, filename: filename}
	top := resolved.Toplevel
	body := c.stmts(f.Stmts)
	cf := &compiledFunc{
		name:      "<toplevel>",
		numLocals: top.NumLocals,
		body:      body,
	}
	return &compiledModule{toplevel: cf, resolved: resolved}
}

func (c *compiler) stmts(stmts []syntax.Stmt) compiledStmt {
	fns := make([]compiledStmt, len(stmts))
	for i, s := range stmts {
		fns[i] = c.stmt(s)
	}
	return func(fr *frame) (ctrl, error) {
		for _, fn := range fns {
			cc, err := fn(fr)
			if err != nil || cc.kind != ctrlNone {
				return cc, err
			}
		}
		return ctrlFallthrough, nil
	}
}

// stmt lowers one statement, wrapping it so the frame's current
// position (used for diagnostics) tracks the statement actually being
// executed rather than staying pinned at the enclosing function's def
// site.
func (c *compiler) stmt(stmt syntax.Stmt) compiledStmt {
	inner := c.stmt1(stmt)
	pos := stmt.Span()
	return func(fr *frame) (ctrl, error) {
		fr.pos = pos
		return inner(fr)
	}
}

func (c *compiler) stmt1(stmt syntax.Stmt) compiledStmt {
	switch s := stmt.(type) {
	case *syntax.ExprStmt:
		x := c.expr(s.X)
		return func(fr *frame) (ctrl, error) {
			_, err := x(fr)
			return ctrlFallthrough, err
		}

	case *syntax.AssignStmt:
		return c.assignStmt(s)

	case *syntax.BranchStmt:
		switch s.Token {
		case syntax.BREAK:
			return func(fr *frame) (ctrl, error) { return ctrlDidBreak, nil }
		case syntax.CONTINUE:
			return func(fr *frame) (ctrl, error) { return ctrlDidContinue, nil }
		case syntax.PASS:
			return func(fr *frame) (ctrl, error) { return ctrlFallthrough, nil }
		}
		panic(s.Token)

	case *syntax.IfStmt:
		cond := c.expr(s.Cond)
		trueBody := c.stmts(s.True)
		falseBody := c.stmts(s.False)
		return func(fr *frame) (ctrl, error) {
			v, err := cond(fr)
			if err != nil {
				return ctrlFallthrough, err
			}
			if v.Truth() {
				return trueBody(fr)
			}
			return falseBody(fr)
		}

	case *syntax.ForStmt:
		return c.forStmt(s)

	case *syntax.WhileStmt:
		cond := c.expr(s.Cond)
		body := c.stmts(s.Body)
		return func(fr *frame) (ctrl, error) {
			for {
				if err := fr.thread.AddExecutionSteps(1); err != nil {
					return ctrlFallthrough, err
				}
				v, err := cond(fr)
				if err != nil {
					return ctrlFallthrough, err
				}
				if !v.Truth() {
					return ctrlFallthrough, nil
				}
				cc, err := body(fr)
				if err != nil {
					return ctrlFallthrough, err
				}
				switch cc.kind {
				case ctrlBreak:
					return ctrlFallthrough, nil
				case ctrlReturn:
					return cc, nil
				}
			}
		}

	case *syntax.ReturnStmt:
		if s.Result == nil {
			return func(fr *frame) (ctrl, error) {
				fr.result = None
				return ctrlDidReturn, nil
			}
		}
		x := c.expr(s.Result)
		return func(fr *frame) (ctrl, error) {
			v, err := x(fr)
			if err != nil {
				return ctrlFallthrough, err
			}
			fr.result = v
			return ctrlDidReturn, nil
		}

	case *syntax.DefStmt:
		return c.defStmt(s)

	case *syntax.LoadStmt:
		return c.loadStmt(s)
	}
	panic(fmt.Sprintf("unhandled statement %T", stmt))
}

func (c *compiler) forStmt(s *syntax.ForStmt) compiledStmt {
	x := c.expr(s.X)
	assign := c.assignTargets(s.Vars)
	body := c.stmts(s.Body)
	return func(fr *frame) (ctrl, error) {
		seq, err := x(fr)
		if err != nil {
			return ctrlFallthrough, err
		}
		it, err := SafeIterate(fr.thread, seq)
		if err != nil {
			return ctrlFallthrough, err
		}
		defer it.Done()
		var v Value
		for it.Next(&v) {
			if err := fr.thread.AddExecutionSteps(1); err != nil {
				return ctrlFallthrough, err
			}
			if err := assign(fr, v); err != nil {
				return ctrlFallthrough, err
			}
			cc, err := body(fr)
			if err != nil {
				return ctrlFallthrough, err
			}
			switch cc.kind {
			case ctrlBreak:
				return ctrlFallthrough, nil
			case ctrlReturn:
				return cc, nil
			}
		}
		return ctrlFallthrough, it.Err()
	}
}

func (c *compiler) loadStmt(s *syntax.LoadStmt) compiledStmt {
	module := s.Module.Str
	type binding struct {
		from string
		b    *resolve.Binding
	}
	binds := make([]binding, len(s.To))
	for i, to := range s.To {
		binds[i] = binding{from: s.From[i].Name, b: c.resolved.Idents[to]}
	}
	return func(fr *frame) (ctrl, error) {
		if fr.thread.Load == nil {
			return ctrlFallthrough, fmt.Errorf("load not supported by this thread")
		}
		env, err := fr.thread.Load(fr.thread, module)
		if err != nil {
			return ctrlFallthrough, fmt.Errorf("cannot load %s: %v", module, err)
		}
		for _, bd := range binds {
			v, ok := env[bd.from]
			if !ok {
				return ctrlFallthrough, fmt.Errorf("load: name %s not found in module %s", bd.from, module)
			}
			if err := writeSlot(fr, bd.b.Scope, bd.b.Index, bd.b.Name, v); err != nil {
				return ctrlFallthrough, err
			}
		}
		return ctrlFallthrough, nil
	}
}

func (c *compiler) assignStmt(s *syntax.AssignStmt) compiledStmt {
	rhs := c.expr(s.RHS)
	if s.Op == syntax.EQ {
		assign := c.assignTargets(s.LHS)
		return func(fr *frame) (ctrl, error) {
			v, err := rhs(fr)
			if err != nil {
				return ctrlFallthrough, err
			}
			return ctrlFallthrough, assign(fr, v)
		}
	}
	// Augmented assignment: x op= rhs, LHS must be a simple target.
	op := augmentedOp(s.Op)
	lhs := c.expr(s.LHS)
	assign := c.assignTargets(s.LHS)
	return func(fr *frame) (ctrl, error) {
		old, err := lhs(fr)
		if err != nil {
			return ctrlFallthrough, err
		}
		rv, err := rhs(fr)
		if err != nil {
			return ctrlFallthrough, err
		}
		// list += iterable mutates the list in place, so existing
		// aliases observe the growth.
		if l, ok := old.(*List); ok && op == syntax.PLUS {
			if seq, ok := rv.(Iterable); ok {
				if err := l.checkMutable("extend"); err != nil {
					return ctrlFallthrough, err
				}
				if err := safeListExtend(fr.thread, l, seq); err != nil {
					return ctrlFallthrough, err
				}
				return ctrlFallthrough, assign(fr, l)
			}
		}
		nv, err := evalBinary(fr.thread, op, old, rv)
		if err != nil {
			return ctrlFallthrough, err
		}
		return ctrlFallthrough, assign(fr, nv)
	}
}

func augmentedOp(op syntax.Token) syntax.Token {
	switch op {
	case syntax.PLUS_EQ:
		return syntax.PLUS
	case syntax.MINUS_EQ:
		return syntax.MINUS
	case syntax.STAR_EQ:
		return syntax.STAR
	case syntax.SLASHSLASH_EQ:
		return syntax.SLASHSLASH
	case syntax.PERCENT_EQ:
		return syntax.PERCENT
	case syntax.AMP_EQ:
		return syntax.AMP
	case syntax.PIPE_EQ:
		return syntax.PIPE
	case syntax.CIRCUMFLEX_EQ:
		return syntax.CIRCUMFLEX
	case syntax.LTLT_EQ:
		return syntax.LTLT
	case syntax.GTGT_EQ:
		return syntax.GTGT
	}
	panic(op)
}

// assignTarget is a compiled write-destination: index/attr/ident/tuple.
type assignTarget func(fr *frame, v Value) error

func (c *compiler) assignTargets(e syntax.Expr) assignTarget {
	switch t := e.(type) {
	case *syntax.Ident:
		b := c.resolved.Idents[t]
		return func(fr *frame, v Value) error {
			return writeSlot(fr, b.Scope, b.Index, b.Name, v)
		}
	case *syntax.TupleExpr:
		return c.unpackTargets(t.List)
	case *syntax.ListExpr:
		return c.unpackTargets(t.List)
	case *syntax.IndexExpr:
		x := c.expr(t.X)
		y := c.expr(t.Y)
		return func(fr *frame, v Value) error {
			xv, err := x(fr)
			if err != nil {
				return err
			}
			yv, err := y(fr)
			if err != nil {
				return err
			}
			return setIndex(fr.thread, xv, yv, v)
		}
	case *syntax.DotExpr:
		x := c.expr(t.X)
		name := t.Name.Name
		return func(fr *frame, v Value) error {
			xv, err := x(fr)
			if err != nil {
				return err
			}
			return setField(fr.thread, xv, name, v)
		}
	}
	panic(fmt.Sprintf("unhandled assignment target %T", e))
}

func (c *compiler) unpackTargets(elems []syntax.Expr) assignTarget {
	targets := make([]assignTarget, len(elems))
	for i, e := range elems {
		targets[i] = c.assignTargets(e)
	}
	n := len(targets)
	return func(fr *frame, v Value) error {
		seq, ok := v.(Sequence)
		if !ok {
			return fmt.Errorf("got %s in sequence assignment, want iterable", v.Type())
		}
		if seq.Len() != n {
			return fmt.Errorf("too %s values to unpack (got %d, want %d)", overUnder(seq.Len(), n), seq.Len(), n)
		}
		it := seq.Iterate()
		defer it.Done()
		var elem Value
		for i := 0; i < n; i++ {
			it.Next(&elem)
			if err := targets[i](fr, elem); err != nil {
				return err
			}
		}
		return nil
	}
}

func overUnder(got, want int) string {
	if got > want {
		return "many"
	}
	return "few"
}

func (c *compiler) defStmt(s *syntax.DefStmt) compiledStmt {
	resolved := c.resolved.Functions[s]
	cf := c.function(resolved, s.Name.Name, s.Params, s.Body, "")
	b := c.resolved.Idents[s.Name]
	return func(fr *frame) (ctrl, error) {
		fn, err := makeClosure(fr, cf, resolved)
		if err != nil {
			return ctrlFallthrough, err
		}
		return ctrlFallthrough, writeSlot(fr, b.Scope, b.Index, b.Name, fn)
	}
}

// function compiles one def/lambda body into a compiledFunc, sharing
// the recursive c.stmts/c.expr lowering with the module toplevel.
func (c *compiler) function(resolved *resolve.Function, name string, params []*syntax.Param, body []syntax.Stmt, doc string) *compiledFunc {
	var defaults []compiledExpr
	for _, p := range params {
		if p.Default != nil {
			defaults = append(defaults, c.expr(p.Default))
		}
	}
	return &compiledFunc{
		name:        name,
		doc:         doc,
		pos:         resolved.Pos,
		numLocals:   resolved.NumLocals,
		cellIndices: resolved.CellIndices,
		params:      params,
		hasVarargs:  resolved.HasVarargs,
		hasKwargs:   resolved.HasKwargs,
		frees:       resolved.Frees,
		defaults:    defaults,
		body:        c.stmts(body),
	}
}

// makeClosure snapshots the enclosing frame's cells into the new
// function value's free-variable vector: this is the one point at
// which a nested function value's identity is created, once per
// def/lambda evaluation.
func makeClosure(fr *frame, cf *compiledFunc, resolved *resolve.Function) (*Function, error) {
	frees := make([]*Cell, len(cf.frees))
	for i, fv := range cf.frees {
		switch fv.OuterScope {
		case slotCell:
			c, _ := fr.locals[fv.OuterIndex].(*Cell)
			if c == nil {
				c = NewCell(nil)
				fr.locals[fv.OuterIndex] = c
			}
			frees[i] = c
		case slotFree:
			frees[i] = fr.freevars[fv.OuterIndex]
		default:
			return nil, fmt.Errorf("internal error: bad free-variable scope %v", fv.OuterScope)
		}
	}
	defaults, err := evalDefaults(fr, cf.defaults)
	if err != nil {
		return nil, err
	}
	return &Function{
		compiled:    cf,
		predeclared: fr.fn.predeclared,
		heap:        fr.fn.heap,
		freevars:    frees,
		defaults:    defaults,
		globals:     fr.fn.globals,
		moduleNames: fr.fn.moduleNames,
	}, nil
}

func (c *compiler) expr(e syntax.Expr) compiledExpr {
	// Pure literal subtrees lower to a single pre-built Value node.
	if v, ok := foldExpr(e); ok {
		return func(fr *frame) (Value, error) { return v, nil }
	}
	switch x := e.(type) {
	case *syntax.Ident:
		b := c.resolved.Idents[x]
		name := b.Name
		return func(fr *frame) (Value, error) {
			return readSlot(fr, b.Scope, b.Index, name)
		}

	case *syntax.Literal:
		v := literalValue(x)
		return func(fr *frame) (Value, error) { return v, nil }

	case *syntax.TupleExpr:
		elems := c.exprList(x.List)
		return func(fr *frame) (Value, error) {
			vs, err := evalList(fr, elems)
			if err != nil {
				return nil, err
			}
			return Tuple(vs), nil
		}

	case *syntax.ListExpr:
		// A list of constant elements shares one pre-built element
		// slice; the node copies it per evaluation, since lists are
		// mutable.
		if elems, ok := foldExprs(x.List); ok {
			return func(fr *frame) (Value, error) {
				return NewList(append([]Value{}, elems...)), nil
			}
		}
		elems := c.exprList(x.List)
		return func(fr *frame) (Value, error) {
			vs, err := evalList(fr, elems)
			if err != nil {
				return nil, err
			}
			return NewList(vs), nil
		}

	case *syntax.DictExpr:
		return c.dictExpr(x)

	case *syntax.CondExpr:
		cond := c.expr(x.Cond)
		t := c.expr(x.True)
		f := c.expr(x.False)
		return func(fr *frame) (Value, error) {
			v, err := cond(fr)
			if err != nil {
				return nil, err
			}
			if v.Truth() {
				return t(fr)
			}
			return f(fr)
		}

	case *syntax.DotExpr:
		xe := c.expr(x.X)
		name := x.Name.Name
		return func(fr *frame) (Value, error) {
			xv, err := xe(fr)
			if err != nil {
				return nil, err
			}
			return getAttr(fr.thread, xv, name)
		}

	case *syntax.IndexExpr:
		xe := c.expr(x.X)
		ye := c.expr(x.Y)
		return func(fr *frame) (Value, error) {
			xv, err := xe(fr)
			if err != nil {
				return nil, err
			}
			yv, err := ye(fr)
			if err != nil {
				return nil, err
			}
			return getIndex(fr.thread, xv, yv)
		}

	case *syntax.SliceExpr:
		return c.sliceExpr(x)

	case *syntax.CallExpr:
		return c.callExpr(x)

	case *syntax.LambdaExpr:
		return c.lambdaExpr(x)

	case *syntax.UnaryExpr:
		if x.Op == syntax.NOT {
			xe := c.expr(x.X)
			return func(fr *frame) (Value, error) {
				v, err := xe(fr)
				if err != nil {
					return nil, err
				}
				return !v.Truth(), nil
			}
		}
		xe := c.expr(x.X)
		op := x.Op
		return func(fr *frame) (Value, error) {
			v, err := xe(fr)
			if err != nil {
				return nil, err
			}
			return evalUnary(op, v)
		}

	case *syntax.BinaryExpr:
		return c.binaryExpr(x)

	case *syntax.ParenExpr:
		return c.expr(x.X)

	case *syntax.Comprehension:
		return c.comprehension(x)
	}
	panic(fmt.Sprintf("unhandled expression %T", e))
}

func (c *compiler) exprList(list []syntax.Expr) []compiledExpr {
	out := make([]compiledExpr, len(list))
	for i, e := range list {
		out[i] = c.expr(e)
	}
	return out
}

func evalList(fr *frame, elems []compiledExpr) ([]Value, error) {
	vs := make([]Value, len(elems))
	for i, e := range elems {
		v, err := e(fr)
		if err != nil {
			return nil, err
		}
		vs[i] = v
	}
	return vs, nil
}

func literalValue(lit *syntax.Literal) Value {
	switch lit.Token {
	case syntax.STRING:
		return String(lit.Str)
	case syntax.INT:
		if lit.Big != "" {
			bi, ok := new(big.Int).SetString(lit.Big, 10)
			if !ok {
				return MakeInt(0)
			}
			return MakeBigInt(bi)
		}
		return MakeInt64(lit.Int)
	}
	panic(lit.Token)
}

func (c *compiler) sliceExpr(x *syntax.SliceExpr) compiledExpr {
	xe := c.expr(x.X)
	var lo, hi, step compiledExpr
	if x.Lo != nil {
		lo = c.expr(x.Lo)
	}
	if x.Hi != nil {
		hi = c.expr(x.Hi)
	}
	if x.Step != nil {
		step = c.expr(x.Step)
	}
	return func(fr *frame) (Value, error) {
		xv, err := xe(fr)
		if err != nil {
			return nil, err
		}
		sl, ok := xv.(Sliceable)
		if !ok {
			return nil, fmt.Errorf("%s value is not sliceable", xv.Type())
		}
		n := sl.Len()
		stepVal := 1
		if step != nil {
			v, err := step(fr)
			if err != nil {
				return nil, err
			}
			i, ok := v.(Int).Int64()
			if !ok || i == 0 {
				return nil, fmt.Errorf("slice step must be a nonzero int")
			}
			stepVal = int(i)
		}
		loVal, hiVal := sliceDefaults(stepVal, n)
		if lo != nil {
			v, err := lo(fr)
			if err != nil {
				return nil, err
			}
			loVal = clampIndex(v, n)
		}
		if hi != nil {
			v, err := hi(fr)
			if err != nil {
				return nil, err
			}
			hiVal = clampIndex(v, n)
		}
		return sl.Slice(loVal, hiVal, stepVal), nil
	}
}

func sliceDefaults(step, n int) (int, int) {
	if step > 0 {
		return 0, n
	}
	return n - 1, -1
}

func clampIndex(v Value, n int) int {
	iv, ok := v.(Int)
	if !ok {
		return 0
	}
	i64, _ := iv.Int64()
	i := int(i64)
	if i < 0 {
		i += n
	}
	if i < 0 {
		i = 0
	}
	if i > n {
		i = n
	}
	return i
}

// dictExpr lowers a dict literal. When every key is a constant the keys
// are pre-built and pre-hashed once, and duplicate keys are rejected at
// compile time (lowered to a node that fails at the literal's position);
// otherwise duplicates are detected as the entries are inserted.
func (c *compiler) dictExpr(x *syntax.DictExpr) compiledExpr {
	if keys, ok := c.foldDictKeys(x); ok {
		if dup := findDuplicateKey(keys); dup != nil {
			msg := fmt.Sprintf("duplicate key: %s", dup.String())
			return func(fr *frame) (Value, error) { return nil, errors.New(msg) }
		}
		hashes := make([]uint32, len(keys))
		for i, k := range keys {
			hashes[i], _ = k.Hash()
		}
		vals := make([]compiledExpr, len(x.List))
		for i, e := range x.List {
			vals[i] = c.expr(e.Value)
		}
		return func(fr *frame) (Value, error) {
			d := NewDict(len(keys))
			for i := range keys {
				v, err := vals[i](fr)
				if err != nil {
					return nil, err
				}
				if err := d.ht.insertHashed(fr.thread, hashes[i], keys[i], v); err != nil {
					return nil, err
				}
			}
			return d, nil
		}
	}
	keys := make([]compiledExpr, len(x.List))
	vals := make([]compiledExpr, len(x.List))
	for i, e := range x.List {
		keys[i] = c.expr(e.Key)
		vals[i] = c.expr(e.Value)
	}
	return func(fr *frame) (Value, error) {
		d := NewDict(len(keys))
		for i := range keys {
			k, err := keys[i](fr)
			if err != nil {
				return nil, err
			}
			v, err := vals[i](fr)
			if err != nil {
				return nil, err
			}
			if _, found, err := d.SafeGet(fr.thread, k); err != nil {
				return nil, err
			} else if found {
				return nil, fmt.Errorf("duplicate key: %s", k.String())
			}
			if err := d.SafeSetKey(fr.thread, k, v); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
}

func (c *compiler) foldDictKeys(x *syntax.DictExpr) ([]Value, bool) {
	keys := make([]Value, len(x.List))
	for i, e := range x.List {
		k, ok := foldExpr(e.Key)
		if !ok {
			return nil, false
		}
		if _, err := k.Hash(); err != nil {
			return nil, false
		}
		keys[i] = k
	}
	return keys, true
}

func findDuplicateKey(keys []Value) Value {
	for i, k := range keys {
		for _, prev := range keys[:i] {
			if eq, err := Equal(prev, k); err == nil && eq {
				return k
			}
		}
	}
	return nil
}

func (c *compiler) callExpr(x *syntax.CallExpr) compiledExpr {
	type argKind struct {
		name string
		op   syntax.Token
		expr compiledExpr
	}

	// Count plain positional arguments; any named, *args or **kwargs
	// argument disables every specialized call shape below.
	plain := true
	for _, a := range x.Args {
		if a.Name != nil || a.Op == syntax.STAR || a.Op == syntax.STARSTAR {
			plain = false
			break
		}
	}

	// type(x) and len(x) on the universe bindings bypass the call
	// protocol entirely.
	if ident, ok := x.Fn.(*syntax.Ident); ok && plain && len(x.Args) == 1 {
		if b := c.resolved.Idents[ident]; b != nil && b.Scope == slotUniverse {
			arg := c.expr(x.Args[0].Value)
			switch ident.Name {
			case "type":
				return func(fr *frame) (Value, error) {
					v, err := arg(fr)
					if err != nil {
						return nil, err
					}
					return String(v.Type()), nil
				}
			case "len":
				return func(fr *frame) (Value, error) {
					v, err := arg(fr)
					if err != nil {
						return nil, err
					}
					n := Len(v)
					if n < 0 {
						return nil, fmt.Errorf("len: value of type %s has no len", v.Type())
					}
					return MakeInt(n), nil
				}
			}
		}
	}

	// x.m(args): fetch the attribute and invoke in one node, without a
	// slot for the intermediate bound-method value.
	if dot, ok := x.Fn.(*syntax.DotExpr); ok && plain {
		recv := c.expr(dot.X)
		name := dot.Name.Name
		argExprs := c.exprList(argValues(x.Args))
		return func(fr *frame) (Value, error) {
			rv, err := recv(fr)
			if err != nil {
				return nil, err
			}
			method, err := getAttr(fr.thread, rv, name)
			if err != nil {
				return nil, err
			}
			args, err := evalList(fr, argExprs)
			if err != nil {
				return nil, err
			}
			if err := fr.thread.AddExecutionSteps(1); err != nil {
				return nil, err
			}
			return evalCall(fr.thread, method, Tuple(args), nil)
		}
	}

	fn := c.expr(x.Fn)

	// Zero-, one- and two-argument calls pass their arguments through a
	// fixed-size array on the stack instead of growing a Tuple.
	if plain && len(x.Args) <= 2 {
		switch len(x.Args) {
		case 0:
			return func(fr *frame) (Value, error) {
				fnv, err := fn(fr)
				if err != nil {
					return nil, err
				}
				if err := fr.thread.AddExecutionSteps(1); err != nil {
					return nil, err
				}
				return evalCall(fr.thread, fnv, nil, nil)
			}
		case 1:
			arg0 := c.expr(x.Args[0].Value)
			return func(fr *frame) (Value, error) {
				fnv, err := fn(fr)
				if err != nil {
					return nil, err
				}
				var args [1]Value
				if args[0], err = arg0(fr); err != nil {
					return nil, err
				}
				if err := fr.thread.AddExecutionSteps(1); err != nil {
					return nil, err
				}
				return evalCall(fr.thread, fnv, args[:], nil)
			}
		default:
			arg0 := c.expr(x.Args[0].Value)
			arg1 := c.expr(x.Args[1].Value)
			return func(fr *frame) (Value, error) {
				fnv, err := fn(fr)
				if err != nil {
					return nil, err
				}
				var args [2]Value
				if args[0], err = arg0(fr); err != nil {
					return nil, err
				}
				if args[1], err = arg1(fr); err != nil {
					return nil, err
				}
				if err := fr.thread.AddExecutionSteps(1); err != nil {
					return nil, err
				}
				return evalCall(fr.thread, fnv, args[:], nil)
			}
		}
	}

	args := make([]argKind, len(x.Args))
	for i, a := range x.Args {
		name := ""
		if a.Name != nil {
			name = a.Name.Name
		}
		args[i] = argKind{name: name, op: a.Op, expr: c.expr(a.Value)}
	}
	return func(fr *frame) (Value, error) {
		fnv, err := fn(fr)
		if err != nil {
			return nil, err
		}
		var positional Tuple
		var kwargs []Tuple
		for _, a := range args {
			v, err := a.expr(fr)
			if err != nil {
				return nil, err
			}
			switch a.op {
			case syntax.STAR:
				it, err := SafeIterate(fr.thread, v)
				if err != nil {
					return nil, fmt.Errorf("argument after * must be iterable, not %s", v.Type())
				}
				var e Value
				for it.Next(&e) {
					positional = append(positional, e)
				}
				it.Done()
				if err := it.Err(); err != nil {
					return nil, err
				}
			case syntax.STARSTAR:
				m, ok := v.(IterableMapping)
				if !ok {
					return nil, fmt.Errorf("argument after ** must be a mapping, not %s", v.Type())
				}
				for _, item := range m.Items() {
					kwargs = append(kwargs, Tuple{item[0], item[1]})
				}
			default:
				if a.name != "" {
					kwargs = append(kwargs, Tuple{String(a.name), v})
				} else {
					positional = append(positional, v)
				}
			}
		}
		if err := fr.thread.AddExecutionSteps(1); err != nil {
			return nil, err
		}
		return evalCall(fr.thread, fnv, positional, kwargs)
	}
}

func argValues(args []*syntax.Argument) []syntax.Expr {
	out := make([]syntax.Expr, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}

func (c *compiler) lambdaExpr(x *syntax.LambdaExpr) compiledExpr {
	resolved := c.resolved.Functions[x]
	bodyExpr := c.expr(x.Body)
	var defaults []compiledExpr
	for _, p := range x.Params {
		if p.Default != nil {
			defaults = append(defaults, c.expr(p.Default))
		}
	}
	cf := &compiledFunc{
		name:        "lambda",
		pos:         resolved.Pos,
		numLocals:   resolved.NumLocals,
		cellIndices: resolved.CellIndices,
		params:      x.Params,
		hasVarargs:  resolved.HasVarargs,
		hasKwargs:   resolved.HasKwargs,
		frees:       resolved.Frees,
		defaults:    defaults,
		body: func(fr *frame) (ctrl, error) {
			v, err := bodyExpr(fr)
			if err != nil {
				return ctrlFallthrough, err
			}
			fr.result = v
			return ctrlDidReturn, nil
		},
	}
	return func(fr *frame) (Value, error) {
		return makeClosure(fr, cf, resolved)
	}
}

func (c *compiler) binaryExpr(x *syntax.BinaryExpr) compiledExpr {
	switch x.Op {
	case syntax.AND:
		xe := c.expr(x.X)
		ye := c.expr(x.Y)
		return func(fr *frame) (Value, error) {
			v, err := xe(fr)
			if err != nil || !v.Truth() {
				return v, err
			}
			return ye(fr)
		}
	case syntax.OR:
		xe := c.expr(x.X)
		ye := c.expr(x.Y)
		return func(fr *frame) (Value, error) {
			v, err := xe(fr)
			if err != nil || v.Truth() {
				return v, err
			}
			return ye(fr)
		}
	case syntax.IN:
		xe := c.expr(x.X)
		ye := c.expr(x.Y)
		notIn := x.IsNotIn
		return func(fr *frame) (Value, error) {
			xv, err := xe(fr)
			if err != nil {
				return nil, err
			}
			yv, err := ye(fr)
			if err != nil {
				return nil, err
			}
			ok, err := safeMembership(fr.thread, xv, yv)
			if err != nil {
				return nil, err
			}
			if notIn {
				ok = !ok
			}
			return Bool(ok), nil
		}
	}
	xe := c.expr(x.X)
	ye := c.expr(x.Y)
	op := x.Op
	return func(fr *frame) (Value, error) {
		xv, err := xe(fr)
		if err != nil {
			return nil, err
		}
		yv, err := ye(fr)
		if err != nil {
			return nil, err
		}
		return evalBinary(fr.thread, op, xv, yv)
	}
}


// compClause is one lowered for/if clause of a comprehension.
// A comprehension lowers to an imperative loop over its clauses,
// accumulating into a fresh List or Dict.
type compClause struct {
	isFor  bool
	assign assignTarget
	x      compiledExpr
	cond   compiledExpr
}

func (c *compiler) comprehension(x *syntax.Comprehension) compiledExpr {
	clauses := make([]compClause, len(x.Clauses))
	for i, cl := range x.Clauses {
		switch cc := cl.(type) {
		case *syntax.ForClause:
			clauses[i] = compClause{isFor: true, assign: c.assignTargets(cc.Vars), x: c.expr(cc.X)}
		case *syntax.IfClause:
			clauses[i] = compClause{isFor: false, cond: c.expr(cc.Cond)}
		}
	}
	if x.Curly {
		entry := x.Body.(*syntax.DictEntry)
		key := c.expr(entry.Key)
		val := c.expr(entry.Value)
		return func(fr *frame) (Value, error) {
			d := NewDict(0)
			err := runClauses(fr, clauses, 0, func() error {
				k, err := key(fr)
				if err != nil {
					return err
				}
				v, err := val(fr)
				if err != nil {
					return err
				}
				return d.SafeSetKey(fr.thread, k, v)
			})
			return d, err
		}
	}
	body := c.expr(x.Body)
	return func(fr *frame) (Value, error) {
		var out []Value
		err := runClauses(fr, clauses, 0, func() error {
			v, err := body(fr)
			if err != nil {
				return err
			}
			out = append(out, v)
			return nil
		})
		return NewList(out), err
	}
}

func runClauses(fr *frame, clauses []compClause, i int, yield func() error) error {
	if i >= len(clauses) {
		return yield()
	}
	cl := clauses[i]
	if !cl.isFor {
		v, err := cl.cond(fr)
		if err != nil {
			return err
		}
		if !v.Truth() {
			return nil
		}
		return runClauses(fr, clauses, i+1, yield)
	}
	seq, err := cl.x(fr)
	if err != nil {
		return err
	}
	it, err := SafeIterate(fr.thread, seq)
	if err != nil {
		return err
	}
	defer it.Done()
	var e Value
	for it.Next(&e) {
		if err := fr.thread.AddExecutionSteps(1); err != nil {
			return err
		}
		if err := cl.assign(fr, e); err != nil {
			return err
		}
		if err := runClauses(fr, clauses, i+1, yield); err != nil {
			return err
		}
	}
	return nil
}

func evalDefaults(fr *frame, defaults []compiledExpr) ([]Value, error) {
	if len(defaults) == 0 {
		return nil, nil
	}
	vals := make([]Value, len(defaults))
	for i, x := range defaults {
		v, err := x(fr)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}
