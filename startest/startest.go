// Package startest provides a harness for testing Starlark code,
// embedding environments, and their resource accounting.
//
// A test is driven through an ST instance created with From, which
// wraps an existing test base such as a *testing.T, *testing.B, or a
// gocheck *check.C. The instance exposes an iteration count N by which
// the test must scale the total work it performs; the harness repeats
// the test body at several values of N and compares the memory it
// measures against the allocations the thread declared, so a builtin
// that under-reports its allocations fails the test.
//
// Use RunString to test a snippet of Starlark source (the snippet sees
// an st value and an assert module), or RunThread to drive a thread
// from Go. AddValue and AddBuiltin extend the environment RunString
// evaluates in; AddLocal seeds thread-local storage. RequireSafety
// narrows or widens the safety flags the thread demands, and
// SetMaxAllocs bounds the memory permitted per unit of N.
package startest

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"
	"testing"
	"time"
	"unsafe"

	"github.com/stratumlang/starlark/starlark"
	"gopkg.in/check.v1"
)

// A TestBase is the subset of testing.T the harness needs; it is
// satisfied by the standard testing types and by gocheck's check.C.
type TestBase interface {
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	Failed() bool
	Log(args ...interface{})
	Logf(fmt string, args ...interface{})
}

var (
	_ TestBase = (*testing.T)(nil)
	_ TestBase = (*testing.B)(nil)
	_ TestBase = (*check.C)(nil)
)

// An ST is one test's harness state. Its N field is the scale factor
// the current iteration must honor.
type ST struct {
	N              int
	maxAllocs      uint64
	requiredSafety starlark.Safety
	safetyGiven    bool
	predecls       starlark.StringDict
	locals         map[string]interface{}
	alive          []interface{}
	TestBase
}

const stSafe = starlark.CPUSafe | starlark.MemSafe | starlark.TimeSafe | starlark.IOSafe

var (
	_ starlark.Value    = (*ST)(nil)
	_ starlark.HasAttrs = (*ST)(nil)
)

// From returns a new harness wrapping the given test base.
func From(base TestBase) *ST {
	return &ST{TestBase: base, maxAllocs: math.MaxUint64}
}

// SetMaxAllocs bounds the allocations permitted per unit of N.
func (st *ST) SetMaxAllocs(maxAllocs uint64) {
	st.maxAllocs = maxAllocs
}

// RequireSafety adds to the safety conditions the test thread demands.
// If never called, the thread demands every defined flag.
func (st *ST) RequireSafety(safety starlark.Safety) {
	st.requiredSafety |= safety
	st.safetyGiven = true
}

// AddValue exposes value under the given name to code run with
// RunString.
func (st *ST) AddValue(name string, value starlark.Value) {
	if value == nil {
		st.Errorf("AddValue expected a value: got %T", value)
		return
	}
	if st.predecls == nil {
		st.predecls = make(starlark.StringDict)
	}
	st.predecls[name] = value
}

// AddBuiltin exposes fn to code run with RunString, under the name the
// builtin reports for itself.
func (st *ST) AddBuiltin(fn starlark.Value) {
	builtin, ok := fn.(*starlark.Builtin)
	if !ok {
		st.Errorf("AddBuiltin expected a builtin: got %v", fn)
		return
	}
	st.AddValue(builtin.Name(), builtin)
}

// AddLocal seeds the thread-local storage of threads the harness
// spawns.
func (st *ST) AddLocal(name string, value interface{}) {
	if st.locals == nil {
		st.locals = make(map[string]interface{})
	}
	st.locals[name] = value
}

// RunString tests a string of Starlark code. On unexpected error it
// reports it, marks the test failed, and returns false.
func (st *ST) RunString(code string) bool {
	if code = strings.TrimRight(code, " \t\r\n"); code == "" {
		return true
	}
	code, err := Reindent(code)
	if err != nil {
		st.Error(err)
		return false
	}

	st.AddValue("st", st)
	st.AddValue("assert", assertModule(st))

	_, prog, err := starlark.SourceProgram("startest.RunString", code, st.predecls.Has)
	if err != nil {
		st.Error(err)
		return false
	}

	var codeErr error
	st.RunThread(func(thread *starlark.Thread) {
		if codeErr != nil {
			return
		}
		_, codeErr = prog.Init(thread, st.predecls)
	})
	if codeErr != nil {
		st.Error(codeErr)
	}
	return codeErr == nil
}

// RunThread runs fn, which must scale its work by st.N, against a
// thread configured with the harness's safety requirements, repeating
// it at increasing N and checking the measured memory against the
// thread's declared allocations.
func (st *ST) RunThread(fn func(*starlark.Thread)) {
	if !st.safetyGiven {
		st.requiredSafety = stSafe
	}

	thread := &starlark.Thread{}
	thread.RequireSafety(st.requiredSafety)
	thread.Print = func(_ *starlark.Thread, msg string) { st.Log(msg) }
	for k, v := range st.locals {
		thread.SetLocal(k, v)
	}

	measured, nTotal := st.measureMemory(func() { fn(thread) })
	if st.Failed() {
		return
	}

	meanMeasured := measured / nTotal
	declared, _ := thread.Allocs()
	meanDeclared := uint64(declared) / nTotal

	if st.maxAllocs != math.MaxUint64 && meanMeasured > st.maxAllocs {
		st.Errorf("measured memory is above maximum (%d > %d)", meanMeasured, st.maxAllocs)
	}
	if st.requiredSafety.Contains(starlark.MemSafe) {
		if meanDeclared > st.maxAllocs {
			st.Errorf("declared allocations are above maximum (%d > %d)", meanDeclared, st.maxAllocs)
		}
		if meanMeasured > meanDeclared {
			st.Errorf("measured memory is above declared allocations (%d > %d)", meanMeasured, meanDeclared)
		}
	}
}

// KeepAlive pins values so the memory they occupy is visible to the
// harness's measurement.
func (st *ST) KeepAlive(values ...interface{}) {
	st.alive = append(st.alive, values...)
}

// measureMemory runs fn repeatedly, growing st.N geometrically until a
// memory, iteration, or time cap is reached, and returns the total
// memory attributed to the test body along with the total iterations.
// The tracker slice that KeepAlive fills is itself excluded from the
// measurement.
func (st *ST) measureMemory(fn func()) (memoryUsed, nTotal uint64) {
	const (
		nMax      = 100_000
		memoryMax = 200 << 20
		timeMax   = time.Second
	)
	start := time.Now()

	var trackerOverhead uint64
	st.N = 0

	for n := uint64(0); !st.Failed() &&
		memoryUsed-trackerOverhead < memoryMax &&
		n < nMax &&
		time.Since(start) < timeMax; {

		// Aim for the memory cap in one more round, bounded to keep
		// growth gradual enough that the cap overshoot stays small.
		prevMemory := memoryUsed
		if prevMemory <= 0 {
			prevMemory = 1
		}
		next := memoryMax * uint64(st.N) / prevMemory
		next += next / 5
		if max := n * 100; next > max {
			next = max
		}
		if next <= n {
			next = n + 1
		}
		if next > nMax {
			next = nMax
		}
		n = next

		st.N = int(n)
		nTotal += n

		var before, after runtime.MemStats
		runtime.GC()
		runtime.GC()
		runtime.ReadMemStats(&before)

		fn()

		runtime.GC()
		runtime.GC()
		runtime.ReadMemStats(&after)

		if delta := int64(after.Alloc - before.Alloc); delta > 0 {
			memoryUsed += uint64(delta)
		}
		trackerOverhead += uint64(cap(st.alive)) * uint64(unsafe.Sizeof(interface{}(nil)))
		st.alive = nil
	}

	if st.Failed() {
		return 0, 1
	}
	if trackerOverhead > memoryUsed {
		return 0, nTotal
	}
	return memoryUsed - trackerOverhead, nTotal
}

// ST is a Starlark value so scripts can scale by st.n and pin values
// with st.keep_alive.

func (st *ST) String() string        { return "<startest.ST>" }
func (st *ST) Type() string          { return "startest.ST" }
func (st *ST) Freeze()               { st.predecls.Freeze() }
func (st *ST) Truth() starlark.Bool  { return starlark.True }
func (st *ST) Hash() (uint32, error) { return 0, errors.New("unhashable type: startest.ST") }

func (st *ST) Attr(name string) (starlark.Value, error) {
	switch name {
	case "error":
		return errorMethod.BindReceiver(st), nil
	case "fatal":
		return fatalMethod.BindReceiver(st), nil
	case "keep_alive":
		return keepAliveMethod.BindReceiver(st), nil
	case "n":
		return starlark.MakeInt(st.N), nil
	}
	return nil, nil
}

func (st *ST) AttrNames() []string {
	return []string{"error", "fatal", "keep_alive", "n"}
}

var (
	errorMethod     = starlark.NewBuiltinWithSafety("error", stSafe, st_error)
	fatalMethod     = starlark.NewBuiltinWithSafety("fatal", stSafe, st_fatal)
	keepAliveMethod = starlark.NewBuiltinWithSafety("keep_alive", stSafe, st_keep_alive)
)

// st_error reports its arguments as test errors.
func st_error(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) != 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	recv := b.Receiver().(*ST)
	recv.Error(reprArgs(args)...)
	return starlark.None, nil
}

// st_fatal reports its arguments as test errors and aborts the test.
func st_fatal(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) != 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	recv := b.Receiver().(*ST)
	recv.Fatal(reprArgs(args)...)
	panic(fmt.Sprintf("internal error: %T.Fatal returned", recv))
}

// st_keep_alive pins its arguments for the memory measurement.
func st_keep_alive(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	recv := b.Receiver().(*ST)
	for _, arg := range args {
		recv.KeepAlive(arg)
	}
	return starlark.None, nil
}

func reprArgs(args starlark.Tuple) []interface{} {
	reprs := make([]interface{}, 0, len(args))
	for _, arg := range args {
		if s, ok := starlark.AsString(arg); ok {
			reprs = append(reprs, s)
		} else {
			reprs = append(reprs, arg.String())
		}
	}
	return reprs
}
