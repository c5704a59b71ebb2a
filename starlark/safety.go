package starlark

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Safety represents a set of constraints on executed code.
type Safety uint

// SafetyFlags is the library-facing name for Safety; builtins declare
// their per-method requirements with it.
type SafetyFlags = Safety

// SafeIterator is an Iterator that can report the safety flags it
// satisfies, letting a builtin's declared SafetyFlags be checked
// against the iterators it hands out (e.g. range() and string.elems()).
// BindThread attaches the thread SafeIterate is iterating on behalf
// of, so an iterator that itself performs allocation (e.g. decoding a
// multi-byte rune) can charge it.
type SafeIterator interface {
	Iterator
	SafetyAware
	BindThread(thread *Thread)
}

// A valid set of safety flags is any subset of the following defined flags.
const (
	NotSafe Safety = 0
	CPUSafe Safety = 1 << (iota - 1)
	MemSafe
	TimeSafe
	IOSafe
	safetyFlagsLimit
)

// Safe is the full set of currently-defined safety flags: a builtin
// declaring Safe makes no safety exceptions at all.
const Safe = CPUSafe | MemSafe | TimeSafe | IOSafe

// SafetyFlagsLimit is one past the highest individually-defined safety
// flag; any flag set >= SafetyFlagsLimit fails CheckValid.
const SafetyFlagsLimit = safetyFlagsLimit

var safetyNames = map[Safety]string{
	NotSafe:  "NotSafe",
	CPUSafe:  "CPUSafe",
	MemSafe:  "MemSafe",
	TimeSafe: "TimeSafe",
	IOSafe:   "IOSafe",
}

func (flags Safety) String() string {
	if flags == NotSafe {
		return safetyNames[NotSafe]
	}
	var parts []string
	for flag := Safety(1); flag < safetyFlagsLimit; flag <<= 1 {
		if flags&flag != 0 {
			parts = append(parts, safetyNames[flag])
			flags &^= flag
		}
	}
	if flags != 0 {
		parts = append(parts, fmt.Sprintf("InvalidSafe(%d)", uint(flags)))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, "|") + ")"
}

// CheckValid checks that a given set of safety flags contains only defined
// flags.
func (flags Safety) CheckValid() error {
	if flags >= safetyFlagsLimit {
		return errors.New("internal error: invalid safety flags")
	}
	return nil
}

// A SafetyAware value can report its safety, which can be used by a thread to
// prevent operations which cannot make sufficient safety guarantees.
type SafetyAware interface {
	Safety() Safety
}

var _ SafetyAware = Safety(0)
var _ SafetyAware = new(Function)
var _ SafetyAware = new(Builtin)
var _ SafetyAware = new(rangeIterator)
var _ SafetyAware = new(listIterator)
var _ SafetyAware = new(tupleIterator)
var _ SafetyAware = new(keyIterator)

func (set Safety) Safety() Safety { return set }

// Contains returns whether the provided flags are a subset of this set.
func (set Safety) Contains(subset Safety) bool {
	return subset&^set == 0
}

// ErrSafety is the sentinel a caller matches against with errors.Is to
// detect any safety-flag rejection, regardless of which flags were
// missing; CheckPermits' concrete errors all unwrap to it.
var ErrSafety = errors.New("feature unavailable to the sandbox")

// SafetyFlagsError reports that a safety-aware value's declared safety
// does not cover the flags a thread requires.
type SafetyFlagsError struct {
	Missing Safety
}

func (se SafetyFlagsError) Error() string {
	return "feature unavailable to the sandbox"
}

func (se SafetyFlagsError) Is(err error) bool { return err == ErrSafety }

// CheckContains returns an error if the provided flags are not a subset of this set.
func (set Safety) CheckContains(subset Safety) error {
	if difference := subset &^ set; difference != 0 {
		return &SafetyFlagsError{difference}
	}
	return nil
}

func CheckSafety(thread *Thread, value interface{}) error {
	if thread == nil {
		return nil
	}
	if v := reflect.ValueOf(value); value == nil || (v.Kind() == reflect.Ptr && v.IsNil()) {
		return errors.New("cannot check safety of nil value")
	}

	safety := NotSafe
	if value, ok := value.(SafetyAware); ok {
		safety = value.Safety()
	}
	return thread.CheckPermits(safety)
}
