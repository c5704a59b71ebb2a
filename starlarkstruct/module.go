package starlarkstruct

import (
	"fmt"

	"github.com/stratumlang/starlark/starlark"
)

// A Module is a named collection of values, typically the result of a
// load statement or a Go-provided library such as lib/json. Unlike a
// Struct, its string form shows only its name, not its members.
type Module struct {
	Name    string
	Members starlark.StringDict
}

var (
	_ starlark.HasSafeAttrs = (*Module)(nil)
	_ starlark.SafeStringer = (*Module)(nil)
)

func (m *Module) String() string       { return fmt.Sprintf("<module %q>", m.Name) }
func (m *Module) Type() string         { return "module" }
func (m *Module) Freeze()              { m.Members.Freeze() }
func (m *Module) Truth() starlark.Bool { return true }

func (m *Module) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable: %s", m.Type())
}

func (m *Module) Attr(name string) (starlark.Value, error) { return m.Members[name], nil }
func (m *Module) AttrNames() []string                      { return m.Members.Keys() }

func (m *Module) SafeAttr(thread *starlark.Thread, name string) (starlark.Value, error) {
	if err := starlark.CheckSafety(thread, moduleSafety); err != nil {
		return nil, err
	}
	if member, ok := m.Members[name]; ok {
		return member, nil
	}
	return nil, starlark.ErrNoSuchAttr
}

func (m *Module) SafeString(thread *starlark.Thread, sb starlark.StringBuilder) error {
	if err := starlark.CheckSafety(thread, moduleSafety); err != nil {
		return err
	}
	_, err := fmt.Fprintf(sb, "<module %q>", m.Name)
	return err
}

const moduleSafety = starlark.CPUSafe | starlark.MemSafe | starlark.TimeSafe | starlark.IOSafe

// MakeModuleSafety is the safety of the MakeModule builtin.
const MakeModuleSafety = starlark.CPUSafe | starlark.MemSafe | starlark.IOSafe

// MakeModule may be used as the implementation of a Starlark built-in
// function, module(name, **kwargs), returning a new module with the
// given name and members:
//
//	globals := starlark.StringDict{
//		"module": starlark.NewBuiltinWithSafety("module", starlarkstruct.MakeModuleSafety, starlarkstruct.MakeModule),
//	}
func MakeModule(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, nil, 1, &name); err != nil {
		return nil, err
	}
	if thread != nil {
		if err := thread.AddExecutionSteps(int64(len(kwargs))); err != nil {
			return nil, err
		}
		size := starlark.EstimateMakeSize(starlark.StringDict{}, len(kwargs)) +
			starlark.EstimateSize(&Module{})
		if err := thread.AddAllocs(size); err != nil {
			return nil, err
		}
	}
	members := make(starlark.StringDict, len(kwargs))
	for _, kwarg := range kwargs {
		members[string(kwarg[0].(starlark.String))] = kwarg[1]
	}
	return &Module{Name: name, Members: members}, nil
}
