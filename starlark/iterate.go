package starlark

// Len returns the length of a string or sequence value, and -1 for all
// others. Len(x) >= 0 does not imply Iterate(x) != nil: a string has a
// known length but is not directly iterable.
func Len(x Value) int {
	switch x := x.(type) {
	case String:
		return x.Len()
	case Indexable:
		return x.Len()
	case Sequence:
		return x.Len()
	}
	return -1
}

// Iterate returns a new iterator for x if it is Iterable, or nil
// otherwise. The caller must call Done on a non-nil result when it is
// no longer needed.
func Iterate(x Value) Iterator {
	if x, ok := x.(Iterable); ok {
		return x.Iterate()
	}
	return nil
}

// guardedIterator wraps a SafeIterator so that every element pulled
// through it also charges one evaluation step to thread -- the uniform
// way an iteration loop's cost is metered regardless of which concrete
// container produced the iterator.
type guardedIterator struct {
	iter   SafeIterator
	thread *Thread
	err    error
}

var _ SafeIterator = (*guardedIterator)(nil)

func (gi *guardedIterator) Next(p *Value) bool {
	if gi.err != nil {
		return false
	}
	ok := gi.iter.Next(p)
	if ok {
		if err := gi.thread.AddExecutionSteps(1); err != nil {
			gi.err = err
			return false
		}
	}
	return ok
}

func (gi *guardedIterator) Done() { gi.iter.Done() }

func (gi *guardedIterator) Err() error {
	if gi.err != nil {
		return gi.err
	}
	return gi.iter.Err()
}

func (gi *guardedIterator) Safety() Safety {
	const wrapperSafety = MemSafe | CPUSafe
	return wrapperSafety & gi.iter.Safety()
}

func (gi *guardedIterator) BindThread(thread *Thread) { gi.thread = thread }

// SafeIterate begins an iteration over x charged to thread: the
// iterator's own declared safety is checked against what thread
// requires, and if thread demands at least some safety guarantee, each
// Next call is additionally metered against the thread's step budget.
// As a convenience for call sites that may or may
// not have a thread on hand, a nil thread skips all checking and
// metering.
func SafeIterate(thread *Thread, x Value) (Iterator, error) {
	xi, ok := x.(Iterable)
	if !ok {
		return nil, ErrUnsupported
	}
	iter := xi.Iterate()

	if thread == nil {
		return iter, nil
	}
	safeIter, ok := iter.(SafeIterator)
	if !ok {
		if err := thread.CheckPermits(NotSafe); err != nil {
			return nil, err
		}
		return iter, nil
	}
	safeIter.BindThread(thread)
	if err := thread.CheckPermits(safeIter); err != nil {
		return nil, err
	}
	if !thread.Permits(NotSafe) {
		guarded := &guardedIterator{iter: safeIter}
		guarded.BindThread(thread)
		return guarded, nil
	}
	return safeIter, nil
}
