package startest_test

import (
	"testing"

	"github.com/stratumlang/starlark/starlark"
	"github.com/stratumlang/starlark/startest"
)

func TestRunString(t *testing.T) {
	st := startest.From(t)
	st.RequireSafety(starlark.NotSafe)
	ok := st.RunString(`
		assert.eq(1 + 1, 2)
		assert.ne("a", "b")
		assert.true(len([1]) == 1)
		assert.contains([1, 2, 3], 2)
		assert.contains({"k": 1}, "k")
		assert.contains("haystack", "stack")
		assert.fails(lambda: 1 // 0)
	`)
	if !ok {
		t.Error("RunString reported failure")
	}
}

func TestRunStringValue(t *testing.T) {
	st := startest.From(t)
	st.RequireSafety(starlark.NotSafe)
	st.AddValue("greeting", starlark.String("hi"))
	if !st.RunString(`assert.eq(greeting, "hi")`) {
		t.Error("RunString reported failure")
	}
}

func TestRunStringBuiltin(t *testing.T) {
	st := startest.From(t)
	st.RequireSafety(starlark.NotSafe)
	st.AddBuiltin(starlark.NewBuiltin("shout", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var s string
		if err := starlark.UnpackPositionalArgs("shout", args, kwargs, 1, &s); err != nil {
			return nil, err
		}
		return starlark.String(s + "!"), nil
	}))
	if !st.RunString(`assert.eq(shout("go"), "go!")`) {
		t.Error("RunString reported failure")
	}
}

func TestRunThread(t *testing.T) {
	st := startest.From(t)
	st.RequireSafety(starlark.NotSafe)
	st.RunThread(func(thread *starlark.Thread) {
		for i := 0; i < st.N; i++ {
			v, err := starlark.Eval(thread, "<expr>", "2 + 2", nil)
			if err != nil {
				st.Error(err)
				return
			}
			st.KeepAlive(v)
		}
	})
}

func TestFailureReporting(t *testing.T) {
	recorder := &recordingBase{}
	st := startest.From(recorder)
	st.RequireSafety(starlark.NotSafe)
	st.RunString(`assert.eq(1, 2)`)
	if !recorder.failed {
		t.Error("failed assertion was not reported")
	}
}

// recordingBase is a TestBase that records failures instead of failing
// a real test.
type recordingBase struct {
	failed bool
	logs   []string
}

func (r *recordingBase) Error(args ...interface{})                 { r.failed = true }
func (r *recordingBase) Errorf(format string, args ...interface{}) { r.failed = true }
func (r *recordingBase) Fatal(args ...interface{})                 { r.failed = true }
func (r *recordingBase) Fatalf(format string, args ...interface{}) { r.failed = true }
func (r *recordingBase) Failed() bool                              { return r.failed }
func (r *recordingBase) Log(args ...interface{})                   {}
func (r *recordingBase) Logf(format string, args ...interface{})   {}

var _ startest.TestBase = (*recordingBase)(nil)
