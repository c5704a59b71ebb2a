package starlark

import (
	"fmt"

	"github.com/stratumlang/starlark/syntax"
)

// A frame is one call's evaluation state: the slot vector the
// compiled closure tree reads and writes, plus whatever cells it
// captured from an enclosing frame. It is the runtime counterpart of
// compiledFunc.
type frame struct {
	thread   *Thread
	fn       *Function
	locals   []Value
	freevars []*Cell
	pos      syntax.Position
	result   Value
}

func newFrame(thread *Thread, fn *Function, locals []Value, freevars []*Cell) *frame {
	return &frame{thread: thread, fn: fn, locals: locals, freevars: freevars, pos: fn.Position()}
}

func (fr *frame) Callable() Callable        { return fr.fn }
func (fr *frame) Position() syntax.Position { return fr.pos }

// ctrlKind distinguishes why a compiled statement's execution
// returned early: normal fallthrough, a return, or a loop
// break/continue.
type ctrlKind uint8

const (
	ctrlNone ctrlKind = iota
	ctrlReturn
	ctrlBreak
	ctrlContinue
)

type ctrl struct {
	kind ctrlKind
}

var (
	ctrlFallthrough = ctrl{kind: ctrlNone}
	ctrlDidReturn   = ctrl{kind: ctrlReturn}
	ctrlDidBreak    = ctrl{kind: ctrlBreak}
	ctrlDidContinue = ctrl{kind: ctrlContinue}
)

// A compiledStmt is one statement lowered to a closure over the
// frame's slot vector.
type compiledStmt func(fr *frame) (ctrl, error)

// A compiledExpr is an expression lowered the same way.
type compiledExpr func(fr *frame) (Value, error)

// readSlot dereferences a resolved binding against the current frame,
// indirecting through a Cell where the binding says Cell or Free.
func readSlot(fr *frame, scope slotScope, index int, name string) (Value, error) {
	switch scope {
	case slotLocal:
		v := fr.locals[index]
		if v == nil {
			return nil, fmt.Errorf("local variable %s referenced before assignment", name)
		}
		return v, nil
	case slotCell:
		c, _ := fr.locals[index].(*Cell)
		if c == nil || c.Get() == nil {
			return nil, fmt.Errorf("local variable %s referenced before assignment", name)
		}
		return c.Get(), nil
	case slotFree:
		c := fr.freevars[index]
		if c.Get() == nil {
			return nil, fmt.Errorf("local variable %s referenced before assignment", name)
		}
		return c.Get(), nil
	case slotModule:
		v := (*fr.fn.globals)[index]
		if v == nil {
			return nil, fmt.Errorf("global variable %s referenced before assignment", name)
		}
		return unwrapCell(v), nil
	case slotUniverse:
		if v, ok := fr.fn.predeclared[name]; ok {
			return v, nil
		}
		if v, ok := Universe[name]; ok {
			return v, nil
		}
		return nil, fmt.Errorf("undefined: %s", name)
	}
	panic("unreachable")
}

// exportable is implemented by values that want to learn the name of
// the module-level variable they are first bound to -- e.g. an
// EnumType's .type attribute.
type exportable interface {
	exportAs(name string)
}

func writeSlot(fr *frame, scope slotScope, index int, name string, v Value) error {
	switch scope {
	case slotLocal:
		if index < 0 { // the "_" blank binding
			return nil
		}
		fr.locals[index] = v
		return nil
	case slotCell:
		c, _ := fr.locals[index].(*Cell)
		if c == nil {
			c = NewCell(v)
			fr.locals[index] = c
			return nil
		}
		return c.Set(v)
	case slotFree:
		return fr.freevars[index].Set(v)
	case slotModule:
		if err := fr.fn.heap.checkMutable("assign to global " + name); err != nil {
			return err
		}
		if e, ok := v.(exportable); ok {
			e.exportAs(name)
		}
		(*fr.fn.globals)[index] = v
		return nil
	}
	return fmt.Errorf("cannot assign to %s", name)
}

// ---- expression evaluation helpers shared by compiled closures ----

// evalBinary and evalUnary delegate to the Thread-aware, safety-accounted
// implementations in eval.go (SafeBinary/SafeUnary), which type-switch over
// every built-in value kind and fall back to a value's own HasBinary/HasUnary
// method for extension types. The compiled closures never duplicate that
// dispatch themselves.
func evalBinary(thread *Thread, op syntax.Token, x, y Value) (Value, error) {
	switch op {
	case syntax.EQL, syntax.NEQ, syntax.LT, syntax.LE, syntax.GT, syntax.GE:
		ok, err := Compare(op, x, y)
		if err != nil {
			return nil, err
		}
		return Bool(ok), nil
	}
	return SafeBinary(thread, op, x, y)
}

func evalUnary(op syntax.Token, x Value) (Value, error) {
	return SafeUnary(nil, op, x)
}

func evalCall(thread *Thread, fn Value, args Tuple, kwargs []Tuple) (Value, error) {
	return Call(thread, fn, args, kwargs)
}

// run drives one call's frame to completion: it pushes fr onto the
// thread's call stack (so CallStack/Backtrace can see it), executes
// the compiled closure tree for fr.fn's body, and pops the frame again
// on the way out, including on error.
func (thread *Thread) run(fr *frame) error {
	if err := thread.AddExecutionSteps(1); err != nil {
		return err
	}
	thread.stack = append(thread.stack, fr)
	defer func() {
		thread.stack = thread.stack[:len(thread.stack)-1]
	}()
	_, err := fr.fn.compiled.body(fr)
	return err
}
