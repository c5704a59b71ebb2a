package starlark

import (
	"fmt"

	"github.com/stratumlang/starlark/syntax"
)

// A Function is a function defined by a def statement or lambda
// expression, or the implicit top-level function of a module. It
// closes over the compiled closure tree built by compile.go, and over
// the Cells its resolved shape says it captures.
type Function struct {
	compiled    *compiledFunc
	predeclared StringDict
	heap        *Heap
	freevars    []*Cell // one per compiledFunc.frees, snapshotted at closure-creation time
	defaults    []Value
	globals     *[]Value // shared module-level slot vector
	moduleNames map[string]int
}

func (fn *Function) Name() string          { return fn.compiled.name }
func (fn *Function) Doc() string           { return fn.compiled.doc }
func (fn *Function) Position() syntax.Position { return fn.compiled.pos }
func (fn *Function) NumParams() int        { return len(fn.compiled.params) }
func (fn *Function) HasVarargs() bool      { return fn.compiled.hasVarargs }
func (fn *Function) HasKwargs() bool       { return fn.compiled.hasKwargs }

func (fn *Function) String() string        { return fmt.Sprintf("<function %s>", fn.Name()) }
func (fn *Function) Type() string          { return "function" }
func (fn *Function) Truth() Bool           { return true }
func (fn *Function) Hash() (uint32, error) { return stringHash(fn.Name()), nil }
func (fn *Function) Freeze() {
	// A function escaping its module shares the module's heap; freezing
	// the function freezes that heap, so module slots refuse further
	// assignment.
	fn.heap.markFrozen()
	for _, c := range fn.freevars {
		c.Freeze()
	}
	for _, d := range fn.defaults {
		if d != nil {
			d.Freeze()
		}
	}
}

// Safety reports that a Starlark-defined function carries no inherent
// unsafety of its own: whatever it does is metered by the thread's
// step/allocation budget and the safety of the builtins it calls,
// checked individually at each call site.
func (fn *Function) Safety() Safety { return CPUSafe | MemSafe | TimeSafe | IOSafe }

// Globals returns the module-level bindings visible after this
// Function -- the implicit toplevel of a module -- has been called.
// Unset module slots (never reached by any assignment) are omitted.
func (fn *Function) Globals() StringDict {
	d := make(StringDict, len(fn.moduleNames))
	for name, i := range fn.moduleNames {
		if v := (*fn.globals)[i]; v != nil {
			d[name] = unwrapCell(v)
		}
	}
	return d
}

func (fn *Function) CallInternal(thread *Thread, args Tuple, kwargs []Tuple) (Value, error) {
	locals := make([]Value, fn.compiled.numLocals)
	if err := bindArgs(fn, locals, args, kwargs); err != nil {
		return nil, err
	}
	for _, idx := range fn.compiled.cellIndices {
		locals[idx] = NewCell(locals[idx])
	}
	fr := newFrame(thread, fn, locals, fn.freevars)
	if err := thread.run(fr); err != nil {
		return nil, err
	}
	if fr.result != nil {
		return fr.result, nil
	}
	return None, nil
}

var _ Callable = (*Function)(nil)

// paramSlot is one positional-or-named parameter's binding target: the
// local slot it writes to, and where to find its default if the
// caller left it unsupplied.
type paramSlot struct {
	name       string
	slot       int
	hasDefault bool
	defaultAt  int
}

// bindArgs implements the callable-side parameter-binding algorithm
// for a Starlark-defined function: positional fill, then
// named-argument matching by slot lookup, then defaults. Slot indices
// follow the resolver: every param other than a bare * separator
// claims the next local slot, in declaration order.
func bindArgs(fn *Function, locals []Value, args Tuple, kwargs []Tuple) error {
	cf := fn.compiled

	var positional []paramSlot
	var namedOnly []paramSlot
	varargsSlot, kwargsSlot := -1, -1
	sawStar := false
	slot := 0
	defaultIdx := 0
	nameToSlot := make(map[string]int, len(cf.params))

	for _, p := range cf.params {
		if p.Op == syntax.STAR && p.Name == nil {
			sawStar = true
			continue
		}
		s := slot
		slot++
		hasDefault := p.Default != nil
		d := -1
		if hasDefault {
			d = defaultIdx
			defaultIdx++
		}
		switch p.Op {
		case syntax.STAR:
			varargsSlot = s
			sawStar = true
		case syntax.STARSTAR:
			kwargsSlot = s
		default:
			ps := paramSlot{name: p.Name.Name, slot: s, hasDefault: hasDefault, defaultAt: d}
			nameToSlot[p.Name.Name] = s
			if sawStar {
				namedOnly = append(namedOnly, ps)
			} else {
				positional = append(positional, ps)
			}
		}
	}

	defined := make([]bool, slot)

	// Positional fill, left to right; overflow goes to *args or fails.
	n := len(positional)
	if len(args) > n && varargsSlot < 0 {
		return fmt.Errorf("%s: got %d arguments, want at most %d", fn.Name(), len(args), n)
	}
	for i, ps := range positional {
		if i < len(args) {
			locals[ps.slot] = args[i]
			defined[ps.slot] = true
		}
	}
	if varargsSlot >= 0 {
		if len(args) > n {
			locals[varargsSlot] = args[n:]
		} else {
			locals[varargsSlot] = Tuple(nil)
		}
		defined[varargsSlot] = true
	}

	// Named arguments: slot lookup by name, else **kwargs sink, else
	// UnexpectedNamed.
	var kwargsDict *Dict
	if kwargsSlot >= 0 {
		kwargsDict = NewDict(0)
		locals[kwargsSlot] = kwargsDict
		defined[kwargsSlot] = true
	}
	for _, item := range kwargs {
		name := string(item[0].(String))
		val := item[1]
		if s, ok := nameToSlot[name]; ok {
			if defined[s] {
				return fmt.Errorf("%s: got multiple values for parameter %s", fn.Name(), name)
			}
			locals[s] = val
			defined[s] = true
			continue
		}
		if kwargsDict == nil {
			return fmt.Errorf("%s: unexpected keyword argument %s", fn.Name(), name)
		}
		if err := kwargsDict.SetKey(String(name), val); err != nil {
			return err
		}
	}

	// Defaults, then MissingRequired for anything still empty.
	fill := func(ps paramSlot) error {
		if defined[ps.slot] {
			return nil
		}
		if ps.hasDefault {
			locals[ps.slot] = fn.defaults[ps.defaultAt]
			return nil
		}
		return fmt.Errorf("%s: missing argument for %s", fn.Name(), ps.name)
	}
	for _, ps := range positional {
		if err := fill(ps); err != nil {
			return err
		}
	}
	for _, ps := range namedOnly {
		if err := fill(ps); err != nil {
			return err
		}
	}
	return nil
}

// A Builtin is a function or method implemented in Go.
type Builtin struct {
	name   string
	fn     func(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error)
	recv   Value
	safety Safety
}

func NewBuiltin(name string, fn func(thread *Thread, b *Builtin, args Tuple, kwargs []Tuple) (Value, error)) *Builtin {
	return &Builtin{name: name, fn: fn, safety: CPUSafe | MemSafe | TimeSafe | IOSafe}
}

// NewBuiltinWithSafety declares an explicit safety set for a builtin,
// e.g. one that performs ambient I/O or relies on wall-clock time.
func NewBuiltinWithSafety(name string, safety Safety, fn func(*Thread, *Builtin, Tuple, []Tuple) (Value, error)) *Builtin {
	return &Builtin{name: name, fn: fn, safety: safety}
}

func (b *Builtin) Name() string  { return b.name }
func (b *Builtin) Receiver() Value { return b.recv }
func (b *Builtin) BindReceiver(recv Value) *Builtin {
	return &Builtin{name: b.name, fn: b.fn, recv: recv, safety: b.safety}
}
func (b *Builtin) String() string        { return fmt.Sprintf("<built-in function %s>", b.name) }
func (b *Builtin) Type() string          { return "builtin_function_or_method" }
func (b *Builtin) Truth() Bool           { return true }
func (b *Builtin) Freeze()               { if b.recv != nil { b.recv.Freeze() } }
func (b *Builtin) Hash() (uint32, error) { return stringHash(b.name), nil }
func (b *Builtin) Safety() Safety        { return b.safety }

// DeclareSafety sets the safety flags a builtin claims to satisfy, for
// embedders registering their own builtins with a narrower or wider
// safety set.
func (b *Builtin) DeclareSafety(safety Safety) { b.safety = safety }
func (b *Builtin) CallInternal(thread *Thread, args Tuple, kwargs []Tuple) (Value, error) {
	return b.fn(thread, b, args, kwargs)
}

var _ Callable = (*Builtin)(nil)

