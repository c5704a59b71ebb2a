package starlark

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// A StringBuilder accumulates text. It is the writer type the repr
// machinery renders into, satisfied both by SafeStringBuilder and by a
// plain strings.Builder.
type StringBuilder interface {
	io.ByteWriter
	io.Writer
	io.StringWriter
	fmt.Stringer

	WriteRune(r rune) (size int, err error)
	Grow(n int)
	Cap() int
	Len() int
}

// A SafeStringBuilder is a StringBuilder bound to a thread: every
// buffer growth is charged against the thread's allocation budget, and
// per-byte writes are charged as steps. The first budget rejection
// latches into err and makes every later operation a no-op, so callers
// may batch their writes and consult Err once at the end.
type SafeStringBuilder struct {
	builder strings.Builder
	thread  *Thread
	allocs  int64
	steps   int64
	err     error
}

var _ StringBuilder = (*SafeStringBuilder)(nil)

// NewSafeStringBuilder returns a StringBuilder which abides by the
// safety limits of thread. A nil thread disables all metering.
func NewSafeStringBuilder(thread *Thread) *SafeStringBuilder {
	return &SafeStringBuilder{thread: thread}
}

// Allocs returns the total allocations charged to this builder's thread.
func (sb *SafeStringBuilder) Allocs() int64 { return sb.allocs }

// Steps returns the total steps charged to this builder's thread.
func (sb *SafeStringBuilder) Steps() int64 { return sb.steps }

// reserve ensures capacity for n more bytes, charging the thread for
// any growth before it happens.
func (sb *SafeStringBuilder) reserve(n int) error {
	if sb.err != nil {
		return sb.err
	}
	if sb.builder.Cap()-sb.builder.Len() >= n {
		return nil
	}
	newCap := sb.builder.Cap()*2 + n
	newSize := EstimateMakeSize([]byte{}, newCap)
	if sb.thread != nil {
		if err := sb.thread.AddAllocs(newSize - sb.allocs); err != nil {
			sb.err = err
			return err
		}
	}
	// Grow to the rounded allocation so every charged byte is usable.
	sb.builder.Grow(n + int(newSize) - newCap)
	sb.allocs = newSize
	return nil
}

func (sb *SafeStringBuilder) charge(n int) error {
	if sb.thread != nil {
		if err := sb.thread.AddExecutionSteps(int64(n)); err != nil {
			sb.err = err
			return err
		}
	}
	sb.steps += int64(n)
	return nil
}

// Grow reserves capacity for n more bytes; a budget failure is
// reported by the next write (and by Err).
func (sb *SafeStringBuilder) Grow(n int) { sb.reserve(n) }

func (sb *SafeStringBuilder) Write(b []byte) (int, error) {
	if err := sb.reserve(len(b)); err != nil {
		return 0, err
	}
	if err := sb.charge(len(b)); err != nil {
		return 0, err
	}
	return sb.builder.Write(b)
}

func (sb *SafeStringBuilder) WriteString(s string) (int, error) {
	if err := sb.reserve(len(s)); err != nil {
		return 0, err
	}
	if err := sb.charge(len(s)); err != nil {
		return 0, err
	}
	return sb.builder.WriteString(s)
}

func (sb *SafeStringBuilder) WriteByte(b byte) error {
	if err := sb.reserve(1); err != nil {
		return err
	}
	if err := sb.charge(1); err != nil {
		return err
	}
	return sb.builder.WriteByte(b)
}

func (sb *SafeStringBuilder) WriteRune(r rune) (int, error) {
	if err := sb.reserve(utf8.RuneLen(r)); err != nil {
		return 0, err
	}
	if err := sb.charge(utf8.RuneLen(r)); err != nil {
		return 0, err
	}
	return sb.builder.WriteRune(r)
}

func (sb *SafeStringBuilder) Cap() int       { return sb.builder.Cap() }
func (sb *SafeStringBuilder) Len() int       { return sb.builder.Len() }
func (sb *SafeStringBuilder) String() string { return sb.builder.String() }

// Err returns the first budget error encountered, if any.
func (sb *SafeStringBuilder) Err() error { return sb.err }
