package startest

import (
	"fmt"
	"strings"

	"github.com/stratumlang/starlark/starlark"
	"github.com/stratumlang/starlark/starlarkstruct"
)

// assertModule builds the assert.* helpers exposed to RunString code.
// Failures are reported against the test base rather than aborting the
// script, so a single RunString can surface several assertion failures
// at once.
func assertModule(st *ST) *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "assert",
		Members: starlark.StringDict{
			"eq":       starlark.NewBuiltinWithSafety("assert.eq", stSafe, st.assertEq),
			"ne":       starlark.NewBuiltinWithSafety("assert.ne", stSafe, st.assertNe),
			"true":     starlark.NewBuiltinWithSafety("assert.true", stSafe, st.assertTrue),
			"contains": starlark.NewBuiltinWithSafety("assert.contains", stSafe, st.assertContains),
			"fails":    starlark.NewBuiltinWithSafety("assert.fails", stSafe, st.assertFails),
		},
	}
}

func (st *ST) assertEq(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, y starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &y); err != nil {
		return nil, err
	}
	if eq, err := starlark.Equal(x, y); err != nil {
		return nil, err
	} else if !eq {
		st.Errorf("assert.eq: %s != %s", x.String(), y.String())
	}
	return starlark.None, nil
}

func (st *ST) assertNe(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, y starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &y); err != nil {
		return nil, err
	}
	if eq, err := starlark.Equal(x, y); err != nil {
		return nil, err
	} else if eq {
		st.Errorf("assert.ne: %s == %s", x.String(), y.String())
	}
	return starlark.None, nil
}

func (st *ST) assertTrue(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var cond starlark.Value
	var msg string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &cond, &msg); err != nil {
		return nil, err
	}
	if !cond.Truth() {
		if msg == "" {
			msg = cond.String()
		}
		st.Errorf("assert.true: %s", msg)
	}
	return starlark.None, nil
}

func (st *ST) assertContains(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var container, elem starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &container, &elem); err != nil {
		return nil, err
	}
	switch c := container.(type) {
	case starlark.Mapping:
		if _, found, err := c.Get(elem); err != nil {
			return nil, err
		} else if !found {
			st.Errorf("assert.contains: %s does not contain %s", container.String(), elem.String())
		}
	case starlark.Iterable:
		iter, err := starlark.SafeIterate(thread, c)
		if err != nil {
			return nil, err
		}
		defer iter.Done()
		var x starlark.Value
		for iter.Next(&x) {
			if eq, err := starlark.Equal(x, elem); err != nil {
				return nil, err
			} else if eq {
				return starlark.None, nil
			}
		}
		if err := iter.Err(); err != nil {
			return nil, err
		}
		st.Errorf("assert.contains: %s does not contain %s", container.String(), elem.String())
	case starlark.String:
		needle, ok := elem.(starlark.String)
		if !ok {
			return nil, fmt.Errorf("assert.contains: want string, got %s", elem.Type())
		}
		if !strings.Contains(string(c), string(needle)) {
			st.Errorf("assert.contains: %s does not contain %s", container.String(), elem.String())
		}
	default:
		return nil, fmt.Errorf("assert.contains: got %s, want an iterable, mapping, or string", container.Type())
	}
	return starlark.None, nil
}

func (st *ST) assertFails(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: missing argument for fn", b.Name())
	}
	fn := args[0]
	if _, err := starlark.Call(thread, fn, args[1:], kwargs); err == nil {
		st.Errorf("assert.fails: call to %s succeeded unexpectedly", fn.String())
	}
	return starlark.None, nil
}
