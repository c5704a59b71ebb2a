// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package starlark

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/stratumlang/starlark/resolve"
	"github.com/stratumlang/starlark/syntax"
)

// A Thread holds the state of one evaluation: its call stack, its
// step and allocation budgets, its safety requirements, and the hooks
// the embedder supplied. A Thread is owned by a single goroutine for
// the duration of an evaluation.
type Thread struct {
	// Name is an optional name that describes the thread, for debugging.
	Name string

	// Print is the client-supplied implementation of the 'print'
	// built-in. If nil, the text goes to standard error.
	Print func(thread *Thread, msg string)

	// Load is the client-supplied implementation of module loading.
	// Repeated calls with the same module name must return the same
	// module environment or error.
	Load func(thread *Thread, module string) (StringDict, error)

	// CallEnter and CallExit, if non-nil, are invoked on entry to and
	// exit from every call of a Callable, with a monotonic timestamp,
	// so a client can implement a profiler without the evaluator
	// depending on one.
	CallEnter func(fn Callable, t time.Duration)
	CallExit  func(t time.Duration)

	// stack is the stack of active Starlark call frames.
	stack []*frame

	// maxCallDepth bounds the call stack; 0 selects DefaultMaxCallDepth.
	maxCallDepth int

	// steps counts abstract computation steps; allocs counts abstract
	// memory units. Each is guarded by its own lock so budget checks
	// may be issued from other goroutines (e.g. a watchdog).
	steps      SafeInteger
	maxSteps   int64
	stepsLock  sync.Mutex
	allocs     SafeInteger
	maxAllocs  int64
	allocsLock sync.Mutex

	// requiredSafety is the set of safety conditions every builtin
	// called on this thread must declare.
	requiredSafety SafetyFlags

	// locals holds arbitrary thread-local Go values belonging to the
	// client; they are invisible to programs.
	locals map[string]interface{}

	// cancellation state; see Cancel and Context.
	cancelLock    sync.Mutex
	cancelReason  error
	parentContext context.Context
	ctx           context.Context
	ctxCancel     context.CancelCauseFunc
	cancelCleanup func() bool
}

// DefaultMaxCallDepth is the call-stack depth limit applied to threads
// that do not set their own with SetMaxCallDepth. It is significantly
// less than Go's own stack limit.
const DefaultMaxCallDepth = 100_000

// SetMaxCallDepth sets the maximum depth of the call stack before
// calls fail with a stack overflow error.
func (thread *Thread) SetMaxCallDepth(depth int) {
	thread.maxCallDepth = depth
}

func (thread *Thread) callDepthLimit() int {
	if thread.maxCallDepth > 0 {
		return thread.maxCallDepth
	}
	return DefaultMaxCallDepth
}

// ---- step budget ----

// Steps returns the number of steps the thread has executed, and
// whether that count is still representable.
func (thread *Thread) Steps() (int64, bool) {
	thread.stepsLock.Lock()
	defer thread.stepsLock.Unlock()
	return thread.steps.Int64()
}

// SetMaxSteps sets the limit on the number of abstract computation
// steps the thread may take; exceeding it cancels the thread. Zero
// means no limit.
func (thread *Thread) SetMaxSteps(max int64) {
	thread.maxSteps = max
}

// CheckSteps reports whether charging the given deltas would exceed
// the thread's step budget, without recording the charge.
//
// It is safe to call from any goroutine.
func (thread *Thread) CheckSteps(deltas ...SafeInteger) error {
	thread.stepsLock.Lock()
	defer thread.stepsLock.Unlock()
	_, err := thread.tallySteps(deltas...)
	return err
}

// AddSteps charges computation steps to the thread. If the total
// exceeds the limit set by SetMaxSteps, the thread is cancelled and an
// error is returned.
//
// It is safe to call from any goroutine.
func (thread *Thread) AddSteps(deltas ...SafeInteger) error {
	thread.stepsLock.Lock()
	defer thread.stepsLock.Unlock()
	next, err := thread.tallySteps(deltas...)
	thread.steps = next
	if err != nil {
		thread.cancel(err)
	}
	return err
}

// AddExecutionSteps is the plain-int64 form of AddSteps, used
// throughout the builtin library.
func (thread *Thread) AddExecutionSteps(n int64) error {
	return thread.AddSteps(SafeInt(n))
}

// CheckExecutionSteps is the plain-int64 form of CheckSteps.
func (thread *Thread) CheckExecutionSteps(n int64) error {
	return thread.CheckSteps(SafeInt(n))
}

// tallySteps computes the step total after the deltas, and the error
// that charging them would produce. The caller holds stepsLock.
func (thread *Thread) tallySteps(deltas ...SafeInteger) (SafeInteger, error) {
	if err := thread.cancelled(); err != nil {
		return thread.steps, err
	}
	next := thread.steps
	for _, delta := range deltas {
		next = SafeAdd(next, delta)
		if n, ok := next.Int64(); ok && thread.maxSteps > 0 && n > thread.maxSteps {
			return next, &StepsSafetyError{Current: thread.steps, Max: thread.maxSteps}
		}
	}
	if n, ok := next.Int64(); ok && n < 0 {
		return SafeInteger{invalidSafeInt}, errors.New("step count invalidated")
	}
	return next, nil
}

// StepsSafetyError reports that a thread's step budget was exhausted.
type StepsSafetyError struct {
	Current SafeInteger
	Max     int64
}

func (e *StepsSafetyError) Error() string     { return "too many steps" }
func (e *StepsSafetyError) Is(err error) bool { return err == ErrSafety }

// ---- allocation budget ----

// Allocs returns the number of abstract memory units charged to the
// thread, and whether that count is still representable.
func (thread *Thread) Allocs() (int64, bool) {
	thread.allocsLock.Lock()
	defer thread.allocsLock.Unlock()
	return thread.allocs.Int64()
}

// SetMaxAllocs sets the limit on the thread's abstract memory units;
// exceeding it cancels the thread. Zero means no limit.
func (thread *Thread) SetMaxAllocs(max int64) {
	thread.maxAllocs = max
}

// CheckAllocs reports whether charging the given deltas would exceed
// the thread's allocation budget, without recording the charge.
//
// It is safe to call from any goroutine.
func (thread *Thread) CheckAllocs(deltas ...int64) error {
	thread.allocsLock.Lock()
	defer thread.allocsLock.Unlock()
	_, err := thread.tallyAllocs(deltas...)
	return err
}

// AddAllocs charges abstract memory units to the thread. If the total
// exceeds the limit set by SetMaxAllocs, the thread is cancelled and
// an error is returned.
//
// It is safe to call from any goroutine.
func (thread *Thread) AddAllocs(deltas ...int64) error {
	thread.allocsLock.Lock()
	defer thread.allocsLock.Unlock()
	next, err := thread.tallyAllocs(deltas...)
	thread.allocs = next
	if err != nil {
		thread.cancel(err)
	}
	return err
}

func (thread *Thread) tallyAllocs(deltas ...int64) (SafeInteger, error) {
	next := thread.allocs
	for _, delta := range deltas {
		next = SafeAdd(next, SafeInt(delta))
		if n, ok := next.Int64(); ok && thread.maxAllocs > 0 && n > thread.maxAllocs {
			return next, &AllocsSafetyError{Current: thread.allocs, Max: thread.maxAllocs}
		}
	}
	if n, ok := next.Int64(); ok && n < 0 {
		return SafeInteger{invalidSafeInt}, errors.New("alloc count invalidated")
	}
	return next, nil
}

// AllocsSafetyError reports that a thread's allocation budget was
// exhausted.
type AllocsSafetyError struct {
	Current SafeInteger
	Max     int64
}

func (e *AllocsSafetyError) Error() string     { return "exceeded memory allocation limits" }
func (e *AllocsSafetyError) Is(err error) bool { return err == ErrSafety }

// ---- safety requirements ----

// RequireSafety adds to the set of safety conditions any builtin
// called on this thread must declare. Requirements only accumulate:
// there is no way to relax one once required.
func (thread *Thread) RequireSafety(safety SafetyFlags) {
	thread.requiredSafety |= safety
}

// Permits reports whether this thread would allow execution of the
// given safety-aware value.
func (thread *Thread) Permits(value SafetyAware) bool {
	safety := value.Safety()
	return safety.CheckValid() == nil && safety.Contains(thread.requiredSafety)
}

// CheckPermits returns an error if this thread would not allow
// execution of the given safety-aware value.
func (thread *Thread) CheckPermits(value SafetyAware) error {
	if err := thread.requiredSafety.CheckValid(); err != nil {
		return fmt.Errorf("thread safety: %w", err)
	}
	safety := value.Safety()
	if err := safety.CheckValid(); err != nil {
		return err
	}
	return safety.CheckContains(thread.requiredSafety)
}

// ---- cancellation and context ----

// Cancel causes execution on this thread to promptly fail with an
// error carrying the given reason. There may be a delay before the
// interpreter observes the cancellation if it is inside a builtin.
//
// It is safe to call from any goroutine.
func (thread *Thread) Cancel(reason string, args ...interface{}) {
	if len(args) > 0 {
		reason = fmt.Sprintf(reason, args...)
	}
	thread.cancel(errors.New(reason))
}

func (thread *Thread) cancel(err error) {
	thread.cancelLock.Lock()
	defer thread.cancelLock.Unlock()
	if thread.cancelReason != nil {
		return // first cancellation wins
	}
	thread.cancelReason = fmt.Errorf("Starlark computation cancelled: %w", err)
	if thread.ctxCancel != nil {
		thread.ctxCancel(thread.cancelReason)
	}
}

// cancelled returns the cancellation reason, if any. It is consulted
// on every step charge, which is the evaluator's preemption point.
func (thread *Thread) cancelled() error {
	thread.cancelLock.Lock()
	defer thread.cancelLock.Unlock()
	return thread.cancelReason
}

// SetParentContext ties the thread's lifetime to ctx: when ctx is
// cancelled, so is the thread. It may be called at most once, before
// execution begins.
func (thread *Thread) SetParentContext(ctx context.Context) {
	thread.cancelLock.Lock()
	defer thread.cancelLock.Unlock()
	if thread.parentContext != nil {
		panic("cannot set parent context: already set")
	}
	thread.parentContext = ctx
	thread.cancelCleanup = context.AfterFunc(ctx, func() {
		thread.cancel(context.Cause(ctx))
	})
}

// Context returns a context that is cancelled when the thread is
// cancelled. Calling Value with a string key consults the thread's
// locals before the parent context.
func (thread *Thread) Context() context.Context {
	thread.cancelLock.Lock()
	defer thread.cancelLock.Unlock()
	if thread.ctx == nil {
		parent := thread.parentContext
		if parent == nil {
			parent = context.Background()
			thread.parentContext = parent
		}
		ctx, cancel := context.WithCancelCause(parent)
		thread.ctx, thread.ctxCancel = ctx, cancel
		if thread.cancelReason != nil {
			cancel(thread.cancelReason)
		}
	}
	return &threadContext{thread.ctx, thread}
}

// threadContext overlays the thread's locals onto the cancellable
// context returned by Thread.Context.
type threadContext struct {
	context.Context
	thread *Thread
}

func (tc *threadContext) Value(key interface{}) interface{} {
	if s, ok := key.(string); ok {
		if v := tc.thread.Local(s); v != nil {
			return v
		}
	}
	return tc.Context.Value(key)
}

// ---- thread-local storage ----

// SetLocal sets the thread-local value associated with the key.
// It must not be called after execution begins.
func (thread *Thread) SetLocal(key string, value interface{}) {
	if thread.locals == nil {
		thread.locals = make(map[string]interface{})
	}
	thread.locals[key] = value
}

// Local returns the thread-local value associated with the key.
func (thread *Thread) Local(key string) interface{} {
	return thread.locals[key]
}

// ---- call stack ----

// CallStackDepth returns the number of frames on the call stack.
func (thread *Thread) CallStackDepth() int { return len(thread.stack) }

// CallFrame returns a copy of the frame at the given depth;
// CallFrame(0) is the innermost.
func (thread *Thread) CallFrame(depth int) CallFrame {
	return thread.stack[len(thread.stack)-1-depth].asCallFrame()
}

// CallStack returns a new slice containing the thread's stack of call
// frames, outermost first.
func (thread *Thread) CallStack() CallStack {
	frames := make([]CallFrame, len(thread.stack))
	for i, fr := range thread.stack {
		frames[i] = fr.asCallFrame()
	}
	return frames
}

// EnsureStack grows the stack's capacity to fit n more nested calls.
func (thread *Thread) EnsureStack(n int) {
	if n < 0 {
		panic("internal error: negative stack size")
	}
	if cap(thread.stack)-len(thread.stack) < n {
		grown := make([]*frame, len(thread.stack), len(thread.stack)+n)
		copy(grown, thread.stack)
		thread.stack = grown
	}
}

// A CallStack is a stack of call frames, outermost first.
type CallStack []CallFrame

// A CallFrame records the name and current position of one frame.
type CallFrame struct {
	Name string
	Pos  syntax.Position
}

// At returns a copy of the frame at depth i; At(0) is the innermost.
func (stack CallStack) At(i int) CallFrame { return stack[len(stack)-1-i] }

// Pop removes and returns the innermost frame.
func (stack *CallStack) Pop() CallFrame {
	last := len(*stack) - 1
	top := (*stack)[last]
	*stack = (*stack)[:last]
	return top
}

func (stack CallStack) String() string {
	out := new(strings.Builder)
	if len(stack) > 0 {
		fmt.Fprintf(out, "Traceback (most recent call last):\n")
	}
	for _, fr := range stack {
		fmt.Fprintf(out, "  %s: in %s\n", fr.Pos, fr.Name)
	}
	return out.String()
}

func (fr *frame) asCallFrame() CallFrame {
	return CallFrame{Name: fr.Callable().Name(), Pos: fr.Position()}
}

var builtinFilename = "<builtin>"

// An EvalError is an evaluation error together with a copy of the
// thread's call stack at the moment of the error.
type EvalError struct {
	Msg       string
	CallStack CallStack
	cause     error
}

func (thread *Thread) evalError(err error) *EvalError {
	return &EvalError{Msg: err.Error(), CallStack: thread.CallStack(), cause: err}
}

func (e *EvalError) Error() string { return e.Msg }

// Backtrace returns a user-friendly error message describing the stack
// of calls that led to this error.
func (e *EvalError) Backtrace() string {
	stack := e.CallStack
	suffix := ""
	if last := len(stack) - 1; last >= 0 && stack[last].Pos.Filename() == builtinFilename {
		suffix = " in " + stack[last].Name
		stack = stack[:last]
	}
	return fmt.Sprintf("%sError%s: %s", stack, suffix, e.Msg)
}

func (e *EvalError) Unwrap() error { return e.cause }

// ---- module environments ----

// A StringDict is a mapping from names to values, used for a module's
// globals and for the predeclared environment. It is not a Starlark
// value.
type StringDict map[string]Value

var _ SafeStringer = StringDict(nil)

// Keys returns a new sorted slice of d's keys.
func (d StringDict) Keys() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d StringDict) SafeString(thread *Thread, sb StringBuilder) error {
	if err := CheckSafety(thread, CPUSafe|MemSafe|TimeSafe|IOSafe); err != nil {
		return err
	}
	if err := sb.WriteByte('{'); err != nil {
		return err
	}
	for i, name := range d.Keys() {
		if i > 0 {
			if _, err := sb.WriteString(", "); err != nil {
				return err
			}
		}
		if _, err := sb.WriteString(name); err != nil {
			return err
		}
		if _, err := sb.WriteString(": "); err != nil {
			return err
		}
		if err := writeValue(thread, sb, d[name], nil); err != nil {
			return err
		}
	}
	return sb.WriteByte('}')
}

func (d StringDict) String() string {
	buf := new(strings.Builder)
	d.SafeString(nil, buf)
	return buf.String()
}

func (d StringDict) Freeze() {
	for _, v := range d {
		v.Freeze()
	}
}

// Has reports whether the dictionary contains the specified key.
func (d StringDict) Has(key string) bool { _, ok := d[key]; return ok }

// ---- programs ----

// A Program is a module that has been parsed, resolved, and compiled
// to a tree of closures, ready to be run against a set of predeclared
// names. Because the compiled form is a tree of Go closures, a Program
// is not serializable.
type Program struct {
	filename string
	compiled *compiledModule
}

// Filename returns the name of the file from which this program was
// loaded.
func (prog *Program) Filename() string { return prog.filename }

func (prog *Program) String() string { return prog.filename }

// readSource normalizes the src parameter accepted by ExecFile and its
// kin: a string, a []byte, an io.Reader to drain, or nil to read
// filename from disk.
func readSource(filename string, src interface{}) (string, error) {
	switch s := src.(type) {
	case nil:
		data, err := os.ReadFile(filename)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case io.Reader:
		data, err := io.ReadAll(s)
		if err != nil {
			return "", fmt.Errorf("%s: %v", filename, err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("invalid source: %T", src)
	}
}

// ExecFile parses, resolves, and executes a Starlark file in the
// specified global environment, which may be modified during
// execution, then freezes the module's globals and returns those whose
// names do not begin with an underscore.
//
// The filename and src parameters are as for syntax.Parse.
//
// If ExecFile fails during evaluation, it returns an *EvalError
// containing a backtrace.
func ExecFile(thread *Thread, filename string, src interface{}, predeclared StringDict) (StringDict, error) {
	_, prog, err := SourceProgram(filename, src, predeclared.Has)
	if err != nil {
		return nil, err
	}
	g, err := prog.Init(thread, predeclared)
	return Freeze(g).Exported(), err
}

// ExecFileOptions is ExecFile parameterized by a dialect. The default
// dialect has no optional grammar features, so it behaves identically
// to ExecFile; it exists so embedders that pass a [syntax.FileOptions]
// keep working.
func ExecFileOptions(opts *syntax.FileOptions, thread *Thread, filename string, src interface{}, predeclared StringDict) (StringDict, error) {
	return ExecFile(thread, filename, src, predeclared)
}

// SourceProgram produces a new program by parsing, resolving, and
// compiling a source file. On success it returns the parsed file and
// the compiled program.
//
// The isPredeclared predicate reports whether a name is a predeclared
// identifier of the current module; its typical value is
// predeclared.Has.
func SourceProgram(filename string, src interface{}, isPredeclared func(string) bool) (*syntax.File, *Program, error) {
	text, err := readSource(filename, src)
	if err != nil {
		return nil, nil, err
	}
	f, err := syntax.Parse(filename, text)
	if err != nil {
		return nil, nil, err
	}
	prog, err := FileProgram(f, filename, isPredeclared)
	return f, prog, err
}

// SourceProgramOptions is SourceProgram parameterized by a dialect;
// see ExecFileOptions.
func SourceProgramOptions(opts *syntax.FileOptions, filename string, src interface{}, isPredeclared func(string) bool) (*syntax.File, *Program, error) {
	return SourceProgram(filename, src, isPredeclared)
}

// FileProgram produces a new program by resolving and compiling the
// given syntax tree. FileProgram augments isPredeclared with
// Universe.Has itself, so callers need only describe their own
// module-specific names.
func FileProgram(f *syntax.File, filename string, isPredeclared func(string) bool) (*Program, error) {
	combined := func(name string) bool { return isPredeclared(name) || Universe.Has(name) }
	// Resolution errors are not fatal to compilation: a module may
	// define a function that refers to a missing name yet never call
	// it. Each bad name lowers to a node that fails, with the original
	// position, only if it is actually evaluated.
	mod, _ := resolve.File(f, combined)
	compiled := compileModule(f, mod, filename)
	return &Program{filename: filename, compiled: compiled}, nil
}

// Init creates the module's global slot vector, executes the toplevel
// code of the program, and returns a new, unfrozen dictionary of the
// globals.
func (prog *Program) Init(thread *Thread, predeclared StringDict) (StringDict, error) {
	mod := prog.compiled.resolved
	globals := make([]Value, mod.NumModuleSlots)
	toplevel := &Function{
		compiled:    prog.compiled.toplevel,
		predeclared: predeclared,
		heap:        NewHeap(),
		globals:     &globals,
		moduleNames: mod.ModuleNames,
	}

	_, err := Call(thread, toplevel, nil, nil)

	// Convert the global environment to a map; we return a (partial)
	// map even in case of error.
	return toplevel.Globals(), err
}

// Eval parses, resolves, and evaluates an expression within the
// specified (predeclared) environment.
//
// Evaluation cannot mutate the environment dictionary itself, though
// it may modify variables reachable from the dictionary.
//
// If Eval fails during evaluation, it returns an *EvalError containing
// a backtrace.
func Eval(thread *Thread, filename string, src interface{}, env StringDict) (Value, error) {
	fn, err := ExprFunc(filename, src, env)
	if err != nil {
		return nil, err
	}
	return Call(thread, fn, nil, nil)
}

// EvalExpr resolves and evaluates an already-parsed expression within
// the specified (predeclared) environment.
func EvalExpr(thread *Thread, expr syntax.Expr, env StringDict) (Value, error) {
	fn, err := makeExprFunc(expr, env)
	if err != nil {
		return nil, err
	}
	return Call(thread, fn, nil, nil)
}

// ExprFunc returns a no-argument function that evaluates the
// expression whose source is src.
func ExprFunc(filename string, src interface{}, env StringDict) (*Function, error) {
	return ExprFuncOptions(&syntax.FileOptions{}, filename, src, env)
}

// ExprFuncOptions is ExprFunc parameterized by a dialect; see
// ExecFileOptions.
func ExprFuncOptions(options *syntax.FileOptions, filename string, src interface{}, env StringDict) (*Function, error) {
	text, err := readSource(filename, src)
	if err != nil {
		return nil, err
	}
	expr, err := syntax.ParseExpr(filename, text)
	if err != nil {
		return nil, err
	}
	return makeExprFunc(expr, env)
}

// makeExprFunc returns a no-argument function whose body evaluates
// expr and returns its value, by resolving and compiling a synthetic
// one-statement module (`return expr`): the resolver and compiler know
// nothing about bare expressions, only about files and functions, so
// this is the smallest file shape that reuses both unchanged.
func makeExprFunc(expr syntax.Expr, env StringDict) (*Function, error) {
	f := &syntax.File{Stmts: []syntax.Stmt{&syntax.ReturnStmt{Result: expr}}}
	combined := func(name string) bool { return env.Has(name) || Universe.Has(name) }
	mod, errs := resolve.File(f, combined)
	if len(errs) > 0 {
		return nil, errs
	}
	compiled := compileModule(f, mod, "<expr>")
	globals := make([]Value, mod.NumModuleSlots)
	return &Function{
		compiled:    compiled.toplevel,
		predeclared: env,
		heap:        NewHeap(),
		globals:     &globals,
		moduleNames: mod.ModuleNames,
	}, nil
}

// ---- calls ----

// Call calls the function fn with the specified positional and keyword
// arguments.
func Call(thread *Thread, fn Value, args Tuple, kwargs []Tuple) (Value, error) {
	c, ok := fn.(Callable)
	if !ok {
		return nil, fmt.Errorf("invalid call of non-function (%s)", fn.Type())
	}

	callableSafety := NotSafe
	if c, ok := c.(SafetyAware); ok {
		callableSafety = c.Safety()
	}
	if err := thread.CheckPermits(callableSafety); err != nil {
		if _, ok := c.(*Function); ok {
			return nil, err
		}
		if b, ok := c.(*Builtin); ok {
			return nil, fmt.Errorf("cannot call builtin '%s': %w", b.Name(), err)
		}
		return nil, fmt.Errorf("cannot call value of type '%s': %w", c.Type(), err)
	}

	if len(thread.stack)+1 >= thread.callDepthLimit() {
		return nil, fmt.Errorf("stack overflow")
	}

	// one-time initialization of thread
	if thread.maxSteps == 0 {
		thread.maxSteps-- // -1: no limit, as only a positive maximum is enforced
	}

	if thread.CallEnter != nil {
		thread.CallEnter(c, time.Since(threadEpoch))
	}
	result, err := c.CallInternal(thread, args, kwargs)
	if thread.CallExit != nil {
		thread.CallExit(time.Since(threadEpoch))
	}

	// Sanity check: nil is not a valid Starlark value.
	if result == nil && err == nil {
		err = fmt.Errorf("internal error: nil (not None) returned from %s", fn)
	}

	// Always return an EvalError with an accurate frame.
	if err != nil {
		if _, ok := err.(*EvalError); !ok {
			err = thread.evalError(err)
		}
	}

	return result, err
}

// threadEpoch anchors the timestamps passed to the CallEnter and
// CallExit profiling hooks.
var threadEpoch = time.Now()

// ---- attribute and index access ----

// getAttr implements x.name.
func getAttr(thread *Thread, x Value, name string) (Value, error) {
	hasAttrs, ok := x.(HasAttrs)
	if !ok {
		return nil, fmt.Errorf("%s has no .%s field or method", x.Type(), name)
	}

	var attr Value
	var err error
	if x, ok := x.(HasSafeAttrs); ok {
		attr, err = x.SafeAttr(thread, name)
	} else if err = CheckSafety(thread, NotSafe); err == nil {
		attr, err = hasAttrs.Attr(name)
		if attr == nil && err == nil {
			err = ErrNoSuchAttr
		}
	}
	if err != nil {
		if nsa, ok := err.(NoSuchAttrError); ok {
			return nil, errors.New(string(nsa))
		}
		if err == ErrNoSuchAttr {
			return nil, fmt.Errorf("%s has no .%s field or method", x.Type(), name)
		}
		return nil, err
	}
	return attr, nil
}

// setField implements x.name = y.
func setField(thread *Thread, x Value, name string, y Value) error {
	setter, ok := x.(HasSetField)
	if !ok {
		return fmt.Errorf("can't assign to .%s field of %s", name, x.Type())
	}
	if x, ok := x.(HasSafeSetField); ok {
		return x.SafeSetField(thread, name, y)
	}
	if err := CheckSafety(thread, NotSafe); err != nil {
		return err
	}
	return setter.SetField(name, y)
}

// getIndex implements x[y].
func getIndex(thread *Thread, x, y Value) (Value, error) {
	switch x := x.(type) {
	case Mapping: // dict
		var z Value
		var found bool
		var err error
		if x2, ok := x.(SafeMapping); ok {
			z, found, err = x2.SafeGet(thread, y)
		} else if err := CheckSafety(thread, NotSafe); err != nil {
			return nil, err
		} else {
			z, found, err = x.Get(y)
		}
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("key %v not in %s", y, x.Type())
		}
		return z, nil

	case Indexable: // string, list, tuple, range
		i, err := AsInt32(y)
		if err != nil {
			return nil, fmt.Errorf("%s index: %s", x.Type(), err)
		}
		i, err = sanitizeIndex(x, i)
		if err != nil {
			return nil, err
		}
		if x, ok := x.(SafeIndexable); ok {
			return x.SafeIndex(thread, i)
		}
		if err := CheckSafety(thread, NotSafe); err != nil {
			return nil, err
		}
		return x.Index(i), nil
	}
	return nil, fmt.Errorf("unhandled index operation %s[%s]", x.Type(), y.Type())
}

// setIndex implements x[y] = z.
func setIndex(thread *Thread, x, y, z Value) error {
	switch x := x.(type) {
	case HasSafeSetKey:
		return x.SafeSetKey(thread, y, z)

	case HasSafeSetIndex:
		i, err := AsInt32(y)
		if err != nil {
			return err
		}
		if i, err = sanitizeIndex(x, i); err != nil {
			return err
		}
		return x.SafeSetIndex(thread, i, z)

	case HasSetKey:
		if err := CheckSafety(thread, NotSafe); err != nil {
			return err
		}
		return x.SetKey(y, z)

	case HasSetIndex:
		if err := CheckSafety(thread, NotSafe); err != nil {
			return err
		}
		i, err := AsInt32(y)
		if err != nil {
			return err
		}
		if i, err = sanitizeIndex(x, i); err != nil {
			return err
		}
		return x.SetIndex(i, z)

	default:
		return fmt.Errorf("%s value does not support item assignment", x.Type())
	}
}

// sanitizeIndex adds the collection's length to a negative index and
// bounds-checks the result.
func sanitizeIndex(collection Indexable, i int) (int, error) {
	n := collection.Len()
	origI := i
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, outOfRange(origI, n, collection)
	}
	return i, nil
}

func outOfRange(i, n int, x Value) error {
	if n == 0 {
		return fmt.Errorf("index %d out of range: empty %s", i, x.Type())
	}
	return fmt.Errorf("%s index %d out of range [%d:%d]", x.Type(), i, -n, n-1)
}

// ---- operators ----

// Unary applies a unary operator (+, -, ~, not) to its operand.
func Unary(op syntax.Token, x Value) (Value, error) {
	return SafeUnary(nil, op, x)
}

// SafeUnary applies a unary operator to its operand, respecting the
// thread's safety requirements.
func SafeUnary(thread *Thread, op syntax.Token, x Value) (Value, error) {
	// The NOT operator is not customizable.
	if op == syntax.NOT {
		return !x.Truth(), nil
	}
	if x, ok := x.(HasSafeUnary); ok {
		return x.SafeUnary(thread, op)
	}
	if x, ok := x.(HasUnary); ok {
		if err := CheckSafety(thread, NotSafe); err != nil {
			return nil, err
		}
		// (nil, nil) => unhandled
		y, err := x.Unary(op)
		if y != nil || err != nil {
			return y, err
		}
	}
	return nil, fmt.Errorf("unknown unary op: %s %s", op, x.Type())
}

// Binary applies a strict binary operator (not AND or OR) to its
// operands. For equality tests or ordered comparisons, use Compare.
func Binary(op syntax.Token, x, y Value) (Value, error) {
	return SafeBinary(nil, op, x, y)
}

// SafeBinary applies a strict binary operator to its operands,
// respecting the thread's safety requirements and charging its budget
// for the work and allocation the operation performs.
func SafeBinary(thread *Thread, op syntax.Token, x, y Value) (Value, error) {
	if err := CheckSafety(thread, CPUSafe|MemSafe|TimeSafe|IOSafe); err != nil {
		return nil, err
	}

	switch op {
	case syntax.PLUS:
		switch x := x.(type) {
		case String:
			if y, ok := y.(String); ok {
				if err := chargeStr(thread, len(x)+len(y)); err != nil {
					return nil, err
				}
				return x + y, nil
			}
		case Int:
			if y, ok := y.(Int); ok {
				return intResult(thread, x, y, x.Add(y))
			}
		case *List:
			if y, ok := y.(*List); ok {
				z, err := concatValues(thread, x.elems, y.elems)
				if err != nil {
					return nil, err
				}
				return NewList(z), nil
			}
		case Tuple:
			if y, ok := y.(Tuple); ok {
				z, err := concatValues(thread, x, y)
				if err != nil {
					return nil, err
				}
				return Tuple(z), nil
			}
		}

	case syntax.MINUS:
		if x, ok := x.(Int); ok {
			if y, ok := y.(Int); ok {
				return intResult(thread, x, y, x.Sub(y))
			}
		}

	case syntax.STAR:
		switch x := x.(type) {
		case Int:
			switch y := y.(type) {
			case Int:
				return intResult(thread, x, y, x.Mul(y))
			case String:
				return stringRepeat(thread, y, x)
			case *List:
				elems, err := repeatValues(thread, y.elems, x)
				if err != nil {
					return nil, err
				}
				return NewList(elems), nil
			case Tuple:
				elems, err := repeatValues(thread, y, x)
				if err != nil {
					return nil, err
				}
				return Tuple(elems), nil
			}
		case String:
			if y, ok := y.(Int); ok {
				return stringRepeat(thread, x, y)
			}
		case *List:
			if y, ok := y.(Int); ok {
				elems, err := repeatValues(thread, x.elems, y)
				if err != nil {
					return nil, err
				}
				return NewList(elems), nil
			}
		case Tuple:
			if y, ok := y.(Int); ok {
				elems, err := repeatValues(thread, x, y)
				if err != nil {
					return nil, err
				}
				return Tuple(elems), nil
			}
		}

	case syntax.SLASHSLASH:
		if x, ok := x.(Int); ok {
			if y, ok := y.(Int); ok {
				if y.Sign() == 0 {
					return nil, fmt.Errorf("floored division by zero")
				}
				// Division is quadratic in the worst case.
				steps := safeMax(intSteps(x), intSteps(y))
				if err := thread.AddSteps(SafeMul(steps, steps)); err != nil {
					return nil, err
				}
				return intAlloc(thread, x.Div(y))
			}
		}

	case syntax.PERCENT:
		switch x := x.(type) {
		case Int:
			if y, ok := y.(Int); ok {
				if y.Sign() == 0 {
					return nil, fmt.Errorf("integer modulo by zero")
				}
				steps := safeMax(intSteps(x), intSteps(y))
				if err := thread.AddSteps(SafeMul(steps, steps)); err != nil {
					return nil, err
				}
				return intAlloc(thread, x.Mod(y))
			}
		case String:
			return interpolate(thread, string(x), y)
		}

	case syntax.PIPE, syntax.AMP, syntax.CIRCUMFLEX:
		if x, ok := x.(Int); ok {
			if y, ok := y.(Int); ok {
				var z Int
				switch op {
				case syntax.PIPE:
					z = x.Or(y)
				case syntax.AMP:
					z = x.And(y)
				default:
					z = x.Xor(y)
				}
				return intResult(thread, x, y, z)
			}
		}

	case syntax.LTLT, syntax.GTGT:
		if x, ok := x.(Int); ok {
			n, err := AsInt32(y)
			if err != nil {
				return nil, err
			}
			if n < 0 {
				return nil, fmt.Errorf("negative shift count: %v", n)
			}
			if n >= 512 {
				return nil, fmt.Errorf("shift count too large: %v", n)
			}
			if err := thread.AddSteps(SafeAdd(intSteps(x), SafeInt(n/32))); err != nil {
				return nil, err
			}
			if op == syntax.LTLT {
				return intAlloc(thread, x.Lsh(uint(n)))
			}
			return intAlloc(thread, x.Rsh(uint(n)))
		}

	case syntax.IN, syntax.NOT_IN:
		found, err := safeMembership(thread, x, y)
		if err != nil {
			return nil, err
		}
		if op == syntax.NOT_IN {
			found = !found
		}
		return Bool(found), nil

	default:
		return nil, fmt.Errorf("unknown binary op: %s %s %s", x.Type(), op, y.Type())
	}

	// User-defined types; (nil, nil) => unhandled.
	if err := CheckSafety(thread, NotSafe); err != nil {
		return nil, err
	}
	if x, ok := x.(HasBinary); ok {
		z, err := x.Binary(op, y, Left)
		if z != nil || err != nil {
			return z, err
		}
	}
	if y, ok := y.(HasBinary); ok {
		z, err := y.Binary(op, x, Right)
		if z != nil || err != nil {
			return z, err
		}
	}
	return nil, fmt.Errorf("unknown binary op: %s %s %s", x.Type(), op, y.Type())
}

// intSteps estimates the cost of touching an Int: one unit per 32 bits
// of a big value, free for a small one.
func intSteps(i Int) SafeInteger {
	if _, big := i.get(); big != nil {
		return SafeDiv(SafeInt(big.BitLen()), SafeInt(32))
	}
	return SafeInt(0)
}

// intResult charges the steps and allocation of a linear-cost Int
// operation whose result has already been computed.
func intResult(thread *Thread, x, y Int, z Int) (Value, error) {
	if err := thread.AddSteps(safeMax(intSteps(x), intSteps(y))); err != nil {
		return nil, err
	}
	return intAlloc(thread, z)
}

func intAlloc(thread *Thread, z Int) (Value, error) {
	result := Value(z)
	if err := thread.AddAllocs(EstimateSize(result)); err != nil {
		return nil, err
	}
	return result, nil
}

func chargeStr(thread *Thread, n int) error {
	if err := thread.AddExecutionSteps(int64(n)); err != nil {
		return err
	}
	return thread.AddAllocs(EstimateMakeSize([]byte{}, n) + StringTypeOverhead)
}

// concatValues returns a fresh slice holding x then y, charged to the
// thread.
func concatValues(thread *Thread, x, y []Value) ([]Value, error) {
	n := len(x) + len(y)
	if err := thread.AddExecutionSteps(int64(n)); err != nil {
		return nil, err
	}
	if err := thread.AddAllocs(EstimateMakeSize([]Value{}, n) + SliceTypeOverhead); err != nil {
		return nil, err
	}
	z := make([]Value, 0, n)
	z = append(z, x...)
	return append(z, y...), nil
}

// It's always possible to overeat in small bites but we'll try to stop
// someone swallowing the world in one gulp.
const maxAlloc = 1 << 30

// repeatValues returns elems repeated n times; n < 1 yields nil.
func repeatValues(thread *Thread, elems []Value, n Int) ([]Value, error) {
	if len(elems) == 0 {
		return nil, nil
	}
	i, err := AsInt32(n)
	if err != nil {
		return nil, fmt.Errorf("repeat count %s too large", n)
	}
	if i < 1 {
		return nil, nil
	}
	of, sz := bits.Mul(uint(len(elems)), uint(i))
	if of != 0 || sz >= maxAlloc {
		return nil, fmt.Errorf("excessive repeat (%d * %d elements)", len(elems), i)
	}
	if err := thread.AddExecutionSteps(int64(sz)); err != nil {
		return nil, err
	}
	if err := thread.AddAllocs(EstimateMakeSize([]Value{}, int(sz))); err != nil {
		return nil, err
	}
	res := make([]Value, sz)
	// copy elems into res, doubling each time
	x := copy(res, elems)
	for x < len(res) {
		copy(res[x:], res[:x])
		x *= 2
	}
	return res, nil
}

func stringRepeat(thread *Thread, s String, n Int) (Value, error) {
	if s == "" {
		return s, nil
	}
	i, err := AsInt32(n)
	if err != nil {
		return nil, fmt.Errorf("repeat count %s too large", n)
	}
	if i < 1 {
		return String(""), nil
	}
	of, sz := bits.Mul(uint(len(s)), uint(i))
	if of != 0 || sz >= maxAlloc {
		return nil, fmt.Errorf("excessive repeat (%d * %d elements)", len(s), i)
	}
	if err := chargeStr(thread, int(sz)); err != nil {
		return nil, err
	}
	return String(strings.Repeat(string(s), i)), nil
}

// safeMembership implements "x in y" over mappings, iterables, and
// string containment.
func safeMembership(thread *Thread, x, y Value) (bool, error) {
	switch y := y.(type) {
	case SafeMapping:
		_, found, err := y.SafeGet(thread, x)
		if err != nil && errors.Is(err, ErrSafety) {
			return false, err
		}
		return found, nil
	case Mapping:
		if err := CheckSafety(thread, NotSafe); err != nil {
			return false, err
		}
		// Ignore the error from Get: it cannot be distinguished from
		// "key not found".
		_, found, _ := y.Get(x)
		return found, nil
	case String:
		needle, ok := x.(String)
		if !ok {
			return false, fmt.Errorf("'in <string>' requires string as left operand, not %s", x.Type())
		}
		if err := thread.AddExecutionSteps(int64(len(y))); err != nil {
			return false, err
		}
		return strings.Contains(string(y), string(needle)), nil
	case Iterable:
		iter, err := SafeIterate(thread, y)
		if err != nil {
			return false, err
		}
		defer iter.Done()
		var elem Value
		for iter.Next(&elem) {
			eq, err := Equal(elem, x)
			if err != nil {
				return false, err
			}
			if eq {
				return true, nil
			}
		}
		return false, iter.Err()
	}
	return false, fmt.Errorf("argument of 'in' is not iterable: %s", y.Type())
}

// safeListExtend implements list += iterable and list.extend.
func safeListExtend(thread *Thread, x *List, y Iterable) error {
	appender := NewSafeAppender(thread, &x.elems)
	if ylist, ok := y.(*List); ok {
		// fast path: list += list
		if err := thread.AddExecutionSteps(int64(len(ylist.elems))); err != nil {
			return err
		}
		return appender.AppendSlice(ylist.elems)
	}
	iter, err := SafeIterate(thread, y)
	if err != nil {
		return err
	}
	defer iter.Done()
	var z Value
	for iter.Next(&z) {
		if err := appender.Append(z); err != nil {
			return err
		}
	}
	return iter.Err()
}

// ---- string interpolation ----

// interpolate implements the string % operation with the conversions
// s, r, d, i, o, x, X, c, and %%. The operand may be a single value, a
// tuple of values, or (with %(name)s fields) a mapping.
func interpolate(thread *Thread, format string, x Value) (Value, error) {
	buf := NewSafeStringBuilder(thread)
	index := 0
	nargs := 1
	if tuple, ok := x.(Tuple); ok {
		nargs = len(tuple)
	}
	for {
		i := strings.IndexByte(format, '%')
		if i < 0 {
			if _, err := buf.WriteString(format); err != nil {
				return nil, err
			}
			break
		}
		if _, err := buf.WriteString(format[:i]); err != nil {
			return nil, err
		}
		format = format[i+1:]
		if format == "" {
			return nil, fmt.Errorf("incomplete format")
		}

		if format[0] == '%' {
			if err := buf.WriteByte('%'); err != nil {
				return nil, err
			}
			format = format[1:]
			continue
		}

		var arg Value
		if format[0] == '(' {
			// %(name)s: mapping lookup
			j := strings.IndexByte(format, ')')
			if j < 0 {
				return nil, fmt.Errorf("incomplete format key")
			}
			key := format[1:j]
			m, ok := x.(Mapping)
			if !ok {
				return nil, fmt.Errorf("format requires a mapping")
			}
			v, found, err := mappingGet(thread, m, String(key))
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, fmt.Errorf("key not found: %s", key)
			}
			arg = v
			format = format[j+1:]
			if format == "" {
				return nil, fmt.Errorf("incomplete format")
			}
		} else {
			if index >= nargs {
				return nil, fmt.Errorf("not enough arguments for format string")
			}
			if tuple, ok := x.(Tuple); ok {
				arg = tuple[index]
			} else {
				arg = x
			}
			index++
		}

		switch c := format[0]; c {
		case 's', 'r':
			if s, ok := AsString(arg); ok && c == 's' {
				if _, err := buf.WriteString(s); err != nil {
					return nil, err
				}
			} else if err := writeValue(thread, buf, arg, nil); err != nil {
				return nil, err
			}
		case 'd', 'i', 'o', 'x', 'X':
			i, ok := arg.(Int)
			if !ok {
				return nil, fmt.Errorf("%%%c format requires integer, got %s", c, arg.Type())
			}
			verb := "%d"
			switch c {
			case 'o':
				verb = "%o"
			case 'x':
				verb = "%x"
			case 'X':
				verb = "%X"
			}
			if _, err := fmt.Fprintf(buf, verb, i.BigInt()); err != nil {
				return nil, err
			}
		case 'c':
			switch arg := arg.(type) {
			case Int:
				r, err := AsInt32(arg)
				if err != nil || r < 0 || !utf8.ValidRune(rune(r)) {
					return nil, fmt.Errorf("%%c format requires a valid Unicode code point, got %s", arg)
				}
				if _, err := buf.WriteRune(rune(r)); err != nil {
					return nil, err
				}
			case String:
				r, size := utf8.DecodeRuneInString(string(arg))
				if size != len(arg) || len(arg) == 0 {
					return nil, fmt.Errorf("%%c format requires a single-character string")
				}
				if _, err := buf.WriteRune(r); err != nil {
					return nil, err
				}
			default:
				return nil, fmt.Errorf("%%c format requires int or single-character string, not %s", arg.Type())
			}
		default:
			return nil, fmt.Errorf("unknown conversion %%%c", c)
		}
		format = format[1:]
	}

	if err := buf.Err(); err != nil {
		return nil, err
	}
	if index < nargs {
		if _, ok := x.(Mapping); !ok {
			return nil, fmt.Errorf("too many arguments for format string")
		}
	}
	if err := thread.AddAllocs(StringTypeOverhead); err != nil {
		return nil, err
	}
	return String(buf.String()), nil
}

func mappingGet(thread *Thread, m Mapping, key Value) (Value, bool, error) {
	if m, ok := m.(SafeMapping); ok {
		v, found, err := m.SafeGet(thread, key)
		if err != nil && errors.Is(err, ErrSafety) {
			return nil, false, err
		}
		return v, found, nil
	}
	if err := CheckSafety(thread, NotSafe); err != nil {
		return nil, false, err
	}
	v, found, _ := m.Get(key)
	return v, found, nil
}
