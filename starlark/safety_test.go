package starlark_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stratumlang/starlark/starlark"
)

func TestSafetyFlagChecks(t *testing.T) {
	tests := []struct {
		declared, required starlark.SafetyFlags
		permitted          bool
	}{
		{starlark.Safe, starlark.NotSafe, true},
		{starlark.Safe, starlark.Safe, true},
		{starlark.MemSafe, starlark.MemSafe, true},
		{starlark.MemSafe, starlark.MemSafe | starlark.CPUSafe, false},
		{starlark.NotSafe, starlark.IOSafe, false},
		{starlark.NotSafe, starlark.NotSafe, true},
	}
	for _, test := range tests {
		thread := &starlark.Thread{}
		thread.RequireSafety(test.required)
		err := thread.CheckPermits(test.declared)
		if (err == nil) != test.permitted {
			t.Errorf("declared %v, required %v: permitted=%t, want %t",
				test.declared, test.required, err == nil, test.permitted)
		}
		if err != nil && !errors.Is(err, starlark.ErrSafety) {
			t.Errorf("safety rejection does not unwrap to ErrSafety: %v", err)
		}
	}
}

func TestSafetyFlagsValidity(t *testing.T) {
	if err := starlark.Safe.CheckValid(); err != nil {
		t.Errorf("Safe flags invalid: %v", err)
	}
	if err := starlark.SafetyFlagsLimit.CheckValid(); err == nil {
		t.Error("out-of-range flag unexpectedly valid")
	}
}

// A thread that has opted into hermetic execution refuses builtins that
// declare themselves unsafe.
func TestUnsafeBuiltinRejected(t *testing.T) {
	clock := starlark.NewBuiltinWithSafety("clock", starlark.MemSafe|starlark.CPUSafe|starlark.IOSafe,
		func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			return starlark.MakeInt(0), nil
		})
	predeclared := starlark.StringDict{"clock": clock}

	hermetic := &starlark.Thread{}
	hermetic.RequireSafety(starlark.TimeSafe)
	_, err := starlark.ExecFile(hermetic, "h.star", `t = clock()`, predeclared)
	if err == nil {
		t.Fatal("time-unsafe builtin ran on a TimeSafe thread")
	}
	if !strings.Contains(err.Error(), "clock") {
		t.Errorf("unexpected error: %v", err)
	}

	relaxed := &starlark.Thread{}
	if _, err := starlark.ExecFile(relaxed, "r.star", `t = clock()`, predeclared); err != nil {
		t.Errorf("unrestricted thread rejected builtin: %v", err)
	}
}

// Safety requirements only accumulate: RequireSafety cannot be used to
// relax a requirement already in force.
func TestRequireSafetyAccumulates(t *testing.T) {
	thread := &starlark.Thread{}
	thread.RequireSafety(starlark.MemSafe)
	thread.RequireSafety(starlark.CPUSafe)
	if thread.Permits(starlark.MemSafe) {
		t.Error("MemSafe alone permitted after CPUSafe was also required")
	}
	if !thread.Permits(starlark.MemSafe | starlark.CPUSafe) {
		t.Error("accumulated requirement rejects a fully-safe value")
	}
}

func TestAllocBudget(t *testing.T) {
	thread := &starlark.Thread{}
	thread.SetMaxAllocs(1000)
	_, err := starlark.ExecFile(thread, "a.star", `s = "x" * 1000000`, nil)
	if err == nil {
		t.Fatal("gigantic allocation fit in a 1000-byte budget")
	}
	if !strings.Contains(err.Error(), "memory allocation") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAllocAccounting(t *testing.T) {
	thread := &starlark.Thread{}
	if err := thread.AddAllocs(100); err != nil {
		t.Fatal(err)
	}
	allocs, ok := thread.Allocs()
	if !ok || allocs < 100 {
		t.Errorf("Allocs() = %d, %t; want at least 100", allocs, ok)
	}
}

func TestStepAccounting(t *testing.T) {
	thread := &starlark.Thread{}
	if _, err := starlark.ExecFile(thread, "s.star", `
total = 0
for i in range(100):
	total += i
`, nil); err != nil {
		t.Fatal(err)
	}
	steps, ok := thread.Steps()
	if !ok || steps < 100 {
		t.Errorf("Steps() = %d, %t; want at least 100", steps, ok)
	}
}
