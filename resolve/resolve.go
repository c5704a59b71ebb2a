// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package resolve performs the compiler's scope-analysis pass: it
// walks an AST top-down, assigns every introduced name a slot kind and
// index, and records which names a nested function reads from an
// enclosing scope so the defining scope can box them in a cell.
package resolve

import (
	"fmt"

	"github.com/stratumlang/starlark/syntax"
)

// Scope classifies where a resolved name's value lives.
type Scope uint8

const (
	// Undefined is the zero value: never a valid resolved scope.
	Undefined Scope = iota
	// Local is an index into the current call frame's local slot vector.
	Local
	// Cell is a Local that some nested function reads or writes; the
	// defining frame must box it in an indirection cell.
	Cell
	// Free is an index into the defining function's captured-cell
	// vector, snapshotted when the nested function value is created.
	Free
	// Global is an index into the enclosing module's slot vector.
	Global
	// Universe is a name resolved at compile time against the fixed
	// built-in surface.
	Universe
)

func (s Scope) String() string {
	switch s {
	case Local:
		return "local"
	case Cell:
		return "cell"
	case Free:
		return "free"
	case Global:
		return "module"
	case Universe:
		return "universe"
	default:
		return "undefined"
	}
}

// A Binding is what a single identifier resolves to.
type Binding struct {
	Scope Scope
	Index int    // slot index within Scope's vector
	Name  string
	First syntax.Position // where the name was first bound, for diagnostics
}

// Function is the resolved shape of one function (or the implicit
// top-level module function): its local slot count, which locals are
// cells, and which free variables it captures from the lexically
// enclosing function.
type Function struct {
	Name       string
	Pos        syntax.Position
	Params     []*syntax.Param
	NumLocals  int
	CellIndices []int // indices into Locals that are boxed in a Ref
	Locals     []*Binding
	Frees      []FreeVar
	HasVarargs bool
	HasKwargs  bool
}

// FreeVar records, for one entry of a function's Frees vector, where the
// lexically enclosing function keeps the captured variable: its Cell
// local at OuterIndex, or its own Free slot at OuterIndex when the
// variable is captured from further out.
type FreeVar struct {
	Name       string
	OuterScope Scope // Cell (enclosing function local) or Free (relayed capture)
	OuterIndex int
}

// Module is the resolved shape of an entire file: the set of top-level
// (module-scope) bindings and the root Function representing top-level
// statements.
type Module struct {
	NumModuleSlots int
	ModuleNames    map[string]int // name -> module slot index
	Toplevel       *Function
	Functions      map[syntax.Node]*Function // DefStmt/LambdaExpr -> resolved shape
	Idents         map[*syntax.Ident]*Binding
	Loads          []*syntax.LoadStmt
}

// IsPredeclared reports whether a name is reserved by the built-in
// surface or the embedder's predeclared environment.
type IsPredeclared func(name string) bool

// ErrorList collects every resolver error found across a file; unlike
// the scanner and parser (which stop at the first error), scope
// analysis can legitimately continue past a bad name.
type ErrorList []error

func (e ErrorList) Error() string {
	if len(e) == 0 {
		return "no errors"
	}
	return e[0].Error()
}

type resolveError struct {
	pos syntax.Position
	msg string
}

func (e *resolveError) Error() string { return fmt.Sprintf("%s: %s", e.pos, e.msg) }

type scopeKind int

const (
	scopeModule scopeKind = iota
	scopeFunction
)

type block struct {
	kind   scopeKind
	parent *block
	fn     *Function
	names  map[string]*Binding
}

func newBlock(kind scopeKind, parent *block, fn *Function) *block {
	return &block{kind: kind, parent: parent, fn: fn, names: make(map[string]*Binding)}
}

type resolver struct {
	isPredeclared IsPredeclared
	module        *Module
	errors        ErrorList
	cur           *block
}

// File resolves a parsed file against the given predeclared-name
// predicate, returning the module's resolved shape. Errors found during
// resolution (an undefined name that the resolver can prove is never
// shadowed) are not fatal by themselves: the compiler emits a node that
// fails only if actually evaluated. File therefore returns both the
// best-effort Module
// and any ErrorList: the compiler decides, per name use, whether to turn
// an error into a deferred runtime failure.
func File(f *syntax.File, isPredeclared IsPredeclared) (*Module, ErrorList) {
	r := &resolver{
		isPredeclared: isPredeclared,
		module: &Module{
			ModuleNames: make(map[string]int),
			Functions:   make(map[syntax.Node]*Function),
			Idents:      make(map[*syntax.Ident]*Binding),
		},
	}
	top := &Function{Name: "<toplevel>"}
	r.module.Toplevel = top
	r.module.Functions[f] = top
	r.cur = newBlock(scopeModule, nil, top)

	// First pass: every top-level assignment target and def/for-loop
	// variable gets a module slot, so forward references within the same
	// file (a function defined before a later global it calls) resolve.
	r.hoistModuleNames(f.Stmts)

	for _, stmt := range f.Stmts {
		r.stmt(stmt)
	}
	return r.module, r.errors
}

func (r *resolver) hoistModuleNames(stmts []syntax.Stmt) {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *syntax.AssignStmt:
			if s.Op == syntax.EQ {
				r.hoistTargets(s.LHS)
			}
		case *syntax.DefStmt:
			r.declareModule(s.Name.Name)
		case *syntax.ForStmt:
			r.hoistTargets(s.Vars)
		case *syntax.IfStmt:
			r.hoistModuleNames(s.True)
			r.hoistModuleNames(s.False)
		case *syntax.WhileStmt:
			r.hoistModuleNames(s.Body)
		case *syntax.LoadStmt:
			r.module.Loads = append(r.module.Loads, s)
			for _, to := range s.To {
				r.declareModule(to.Name)
			}
		}
	}
}

func (r *resolver) hoistTargets(e syntax.Expr) {
	switch t := e.(type) {
	case *syntax.Ident:
		r.declareModule(t.Name)
	case *syntax.TupleExpr:
		for _, x := range t.List {
			r.hoistTargets(x)
		}
	case *syntax.ListExpr:
		for _, x := range t.List {
			r.hoistTargets(x)
		}
	}
}

func (r *resolver) declareModule(name string) int {
	if i, ok := r.module.ModuleNames[name]; ok {
		return i
	}
	i := r.module.NumModuleSlots
	r.module.NumModuleSlots++
	r.module.ModuleNames[name] = i
	return i
}

func (r *resolver) errorf(pos syntax.Position, format string, args ...interface{}) {
	r.errors = append(r.errors, &resolveError{pos, fmt.Sprintf(format, args...)})
}

// bind declares name in the current block: a function parameter or
// local-assignment target. Locals get a fresh slot in the current
// function's Locals vector; module-scope assignments reuse the slot
// hoisted above.
func (r *resolver) bind(ident *syntax.Ident) *Binding {
	if ident.Name == "_" {
		b := &Binding{Scope: Local, Index: -1, Name: "_", First: ident.Pos}
		r.module.Idents[ident] = b
		return b
	}
	if r.cur.kind == scopeModule {
		idx := r.declareModule(ident.Name)
		b := &Binding{Scope: Global, Index: idx, Name: ident.Name, First: ident.Pos}
		r.cur.names[ident.Name] = b
		r.module.Idents[ident] = b
		return b
	}
	if b, ok := r.cur.names[ident.Name]; ok {
		r.module.Idents[ident] = b
		return b
	}
	idx := len(r.cur.fn.Locals)
	b := &Binding{Scope: Local, Index: idx, Name: ident.Name, First: ident.Pos}
	r.cur.fn.Locals = append(r.cur.fn.Locals, b)
	r.cur.fn.NumLocals = len(r.cur.fn.Locals)
	r.cur.names[ident.Name] = b
	r.module.Idents[ident] = b
	return b
}

// use resolves a read of ident, walking outward through enclosing
// function blocks and finally the module and builtin universe. A Local
// found in a strictly enclosing function is promoted to Cell in that
// function and recorded as a Free capture in every function between the
// use site and the definition.
func (r *resolver) use(ident *syntax.Ident) {
	chain := []*block{}
	for b := r.cur; b != nil; b = b.parent {
		chain = append(chain, b)
		if binding, ok := b.names[ident.Name]; ok {
			r.resolveThroughChain(ident, chain, binding)
			return
		}
	}
	// Hoisted module names cover forward references: a function body may
	// mention a global whose assignment appears later in the file.
	if idx, ok := r.module.ModuleNames[ident.Name]; ok {
		r.module.Idents[ident] = &Binding{Scope: Global, Index: idx, Name: ident.Name, First: ident.Pos}
		return
	}
	if r.isPredeclared != nil && r.isPredeclared(ident.Name) {
		b := &Binding{Scope: Universe, Index: -1, Name: ident.Name, First: ident.Pos}
		r.module.Idents[ident] = b
		return
	}
	r.errorf(ident.Pos, "undefined: %s", ident.Name)
	// Still record a binding so the compiler can lower to a deferred
	// "fails if evaluated" node rather than aborting compilation.
	r.module.Idents[ident] = &Binding{Scope: Universe, Index: -1, Name: ident.Name, First: ident.Pos}
}

func (r *resolver) resolveThroughChain(ident *syntax.Ident, chain []*block, binding *Binding) {
	owner := chain[len(chain)-1]
	if owner.kind == scopeModule || owner == r.cur {
		r.module.Idents[ident] = binding
		return
	}
	// binding lives in a strictly enclosing function: promote to Cell in
	// the owner, and thread a Free slot through every intervening
	// function.
	if binding.Scope == Local {
		binding.Scope = Cell
		owner.fn.CellIndices = append(owner.fn.CellIndices, binding.Index)
	}
	outerScope, outerIndex := Cell, binding.Index
	var last *Binding = binding
	for i := len(chain) - 2; i >= 0; i-- {
		b := chain[i]
		if b.kind == scopeModule {
			break
		}
		freeIdx := len(b.fn.Frees)
		b.fn.Frees = append(b.fn.Frees, FreeVar{Name: ident.Name, OuterScope: outerScope, OuterIndex: outerIndex})
		free := &Binding{Scope: Free, Index: freeIdx, Name: ident.Name, First: last.First}
		b.names[ident.Name] = free
		if b == r.cur {
			r.module.Idents[ident] = free
			return
		}
		outerScope, outerIndex = Free, freeIdx
		last = free
	}
	r.module.Idents[ident] = last
}

func (r *resolver) stmt(stmt syntax.Stmt) {
	switch s := stmt.(type) {
	case *syntax.ExprStmt:
		r.expr(s.X)
	case *syntax.AssignStmt:
		r.expr(s.RHS)
		if s.Op == syntax.EQ {
			r.assignTargets(s.LHS)
		} else {
			r.expr(s.LHS) // augmented assignment reads then writes
			r.assignTargets(s.LHS)
		}
	case *syntax.BranchStmt:
	case *syntax.IfStmt:
		r.expr(s.Cond)
		for _, st := range s.True {
			r.stmt(st)
		}
		for _, st := range s.False {
			r.stmt(st)
		}
	case *syntax.ForStmt:
		r.expr(s.X)
		r.assignTargets(s.Vars)
		for _, st := range s.Body {
			r.stmt(st)
		}
	case *syntax.WhileStmt:
		r.expr(s.Cond)
		for _, st := range s.Body {
			r.stmt(st)
		}
	case *syntax.ReturnStmt:
		if s.Result != nil {
			r.expr(s.Result)
		}
	case *syntax.DefStmt:
		r.def(s)
	case *syntax.LoadStmt:
		// Module slots were hoisted above; bind each target ident so the
		// compiler can store the loaded value (the module path itself is
		// handled by the thread's Load function).
		for _, to := range s.To {
			r.bind(to)
		}
	}
}

func (r *resolver) assignTargets(e syntax.Expr) {
	switch t := e.(type) {
	case *syntax.Ident:
		r.bind(t)
	case *syntax.TupleExpr:
		for _, x := range t.List {
			r.assignTargets(x)
		}
	case *syntax.ListExpr:
		for _, x := range t.List {
			r.assignTargets(x)
		}
	case *syntax.IndexExpr:
		r.expr(t.X)
		r.expr(t.Y)
	case *syntax.DotExpr:
		r.expr(t.X)
	default:
		r.expr(e)
	}
}

func (r *resolver) def(s *syntax.DefStmt) {
	r.bind(s.Name)
	fn := &Function{Name: s.Name.Name, Pos: s.Pos, Params: s.Params}
	r.module.Functions[s] = fn
	// Parameter defaults are evaluated in the defining scope, when the
	// function value is created, so they must resolve there too.
	r.paramDefaults(s.Params)
	child := newBlock(scopeFunction, r.cur, fn)
	parent := r.cur
	r.cur = child
	r.params(s.Params, fn)
	for _, st := range s.Body {
		r.stmt(st)
	}
	r.cur = parent
}

func (r *resolver) paramDefaults(params []*syntax.Param) {
	for _, p := range params {
		if p.Default != nil {
			r.expr(p.Default)
		}
	}
}

func (r *resolver) params(params []*syntax.Param, fn *Function) {
	for _, p := range params {
		if p.Op == syntax.STAR && p.Name == nil {
			continue // bare `*` marker separating named-only params
		}
		r.bind(p.Name)
		switch p.Op {
		case syntax.STAR:
			fn.HasVarargs = true
		case syntax.STARSTAR:
			fn.HasKwargs = true
		}
	}
}

func (r *resolver) expr(e syntax.Expr) {
	switch x := e.(type) {
	case nil:
	case *syntax.Ident:
		r.use(x)
	case *syntax.Literal:
	case *syntax.TupleExpr:
		for _, el := range x.List {
			r.expr(el)
		}
	case *syntax.ListExpr:
		for _, el := range x.List {
			r.expr(el)
		}
	case *syntax.DictExpr:
		for _, e := range x.List {
			r.expr(e.Key)
			r.expr(e.Value)
		}
	case *syntax.CondExpr:
		r.expr(x.Cond)
		r.expr(x.True)
		r.expr(x.False)
	case *syntax.DotExpr:
		r.expr(x.X)
	case *syntax.IndexExpr:
		r.expr(x.X)
		r.expr(x.Y)
	case *syntax.SliceExpr:
		r.expr(x.X)
		r.expr(x.Lo)
		r.expr(x.Hi)
		r.expr(x.Step)
	case *syntax.CallExpr:
		r.expr(x.Fn)
		for _, a := range x.Args {
			r.expr(a.Value)
		}
	case *syntax.LambdaExpr:
		fn := &Function{Name: "lambda", Pos: x.Pos, Params: x.Params}
		r.module.Functions[x] = fn
		r.paramDefaults(x.Params)
		child := newBlock(scopeFunction, r.cur, fn)
		parent := r.cur
		r.cur = child
		r.params(x.Params, fn)
		r.expr(x.Body)
		r.cur = parent
	case *syntax.UnaryExpr:
		r.expr(x.X)
	case *syntax.BinaryExpr:
		r.expr(x.X)
		r.expr(x.Y)
	case *syntax.ParenExpr:
		r.expr(x.X)
	case *syntax.Comprehension:
		r.comprehension(x)
	default:
		r.errorf(e.Span(), "internal error: unresolved expression kind %T", e)
	}
}

func (r *resolver) comprehension(c *syntax.Comprehension) {
	// Comprehensions in this dialect share the enclosing function's
	// scope (no separate comprehension scope), unlike Python 3's scoped
	// form.
	for _, cl := range c.Clauses {
		switch cc := cl.(type) {
		case *syntax.ForClause:
			r.expr(cc.X)
			r.assignTargets(cc.Vars)
		case *syntax.IfClause:
			r.expr(cc.Cond)
		}
	}
	if c.Curly {
		entry := c.Body.(*syntax.DictEntry)
		r.expr(entry.Key)
		r.expr(entry.Value)
	} else {
		r.expr(c.Body)
	}
}
