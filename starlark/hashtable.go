// Copyright 2017 The Bazel Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package starlark

import "fmt"

// hashtable is the table behind dict values: a power-of-two array of
// entry chains, with every live entry also threaded onto a
// doubly-linked list in insertion order, so iteration is deterministic
// and reflects the order keys first appeared.
//
// Work done probing chains and memory for entries and tables is
// charged to the thread passed to each operation; a nil thread
// disables metering. Initialized instances must not be copied.
type hashtable struct {
	table     []*entry // chain heads; len is zero or a power of two
	len       uint32
	itercount uint32  // live iterators; mutation is rejected while nonzero
	head      *entry  // first entry in insertion order, or nil
	tailLink  **entry // address of the nil at the end of the order list
	frozen    bool

	_ noCopy
}

type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

type entry struct {
	hash       uint32 // the key's hash, with 0 remapped to 1
	key, value Value
	chain      *entry  // next entry in this bucket's chain
	next       *entry  // next entry in insertion order, or nil
	prevLink   **entry // address of the link pointing at this entry
}

// loadFactor is the mean chain length beyond which the table doubles.
const loadFactor = 4

const minTableSize = 8

func (ht *hashtable) init(thread *Thread, size int) error {
	if size < 0 {
		panic("size < 0")
	}
	nb := minTableSize
	for nb*loadFactor < size {
		nb *= 2
	}
	if thread != nil {
		if err := thread.AddAllocs(EstimateMakeSize([]*entry{}, nb)); err != nil {
			return err
		}
	}
	ht.table = make([]*entry, nb)
	ht.tailLink = &ht.head
	return nil
}

func (ht *hashtable) freeze() {
	if !ht.frozen {
		ht.frozen = true
		for e := ht.head; e != nil; e = e.next {
			e.key.Freeze()
			e.value.Freeze()
		}
	}
}

func (ht *hashtable) checkMutable(verb string) error {
	if ht.frozen {
		return fmt.Errorf("cannot %s frozen hash table", verb)
	}
	if ht.itercount > 0 {
		return fmt.Errorf("cannot %s hash table during iteration", verb)
	}
	return nil
}

// bucketFor returns the address of the chain head for hash h.
func (ht *hashtable) bucketFor(h uint32) **entry {
	return &ht.table[h&uint32(len(ht.table)-1)]
}

// normalizeHash remaps hash 0 to 1, so no stored entry has a zero hash.
func normalizeHash(h uint32) uint32 {
	if h == 0 {
		return 1
	}
	return h
}

func (ht *hashtable) insert(thread *Thread, k, v Value) error {
	h, err := k.Hash()
	if err != nil {
		return err
	}
	return ht.insertHashed(thread, h, k, v)
}

// insertHashed is insert with the key's hash already computed, the
// entry point used by dict literals whose constant keys were hashed at
// compile time.
func (ht *hashtable) insertHashed(thread *Thread, h uint32, k, v Value) error {
	if err := ht.checkMutable("insert into"); err != nil {
		return err
	}
	if ht.table == nil {
		if err := ht.init(thread, 1); err != nil {
			return err
		}
	}
	h = normalizeHash(h)

	// Existing key: replace the value in place.
	for e := *ht.bucketFor(h); e != nil; e = e.chain {
		if thread != nil {
			if err := thread.AddSteps(SafeInt(1)); err != nil {
				return err
			}
		}
		if e.hash != h {
			continue
		}
		if eq, err := Equal(k, e.key); err != nil {
			return err
		} else if eq {
			e.value = v
			return nil
		}
	}

	if int(ht.len) >= loadFactor*len(ht.table) {
		if err := ht.grow(thread); err != nil {
			return err
		}
	}

	if thread != nil {
		if err := thread.AddAllocs(EstimateSize(&entry{})); err != nil {
			return err
		}
	}
	e := &entry{hash: h, key: k, value: v}

	head := ht.bucketFor(h)
	e.chain = *head
	*head = e

	e.prevLink = ht.tailLink
	*ht.tailLink = e
	ht.tailLink = &e.next

	ht.len++
	return nil
}

// grow doubles the table and rebuilds the chains; the insertion-order
// list is untouched, so the rehash is a single walk over it.
func (ht *hashtable) grow(thread *Thread) error {
	nb := len(ht.table) * 2
	if thread != nil {
		if err := thread.AddAllocs(EstimateMakeSize([]*entry{}, nb)); err != nil {
			return err
		}
		if err := thread.AddSteps(SafeInt(ht.len)); err != nil {
			return err
		}
	}
	ht.table = make([]*entry, nb)
	for e := ht.head; e != nil; e = e.next {
		head := ht.bucketFor(e.hash)
		e.chain = *head
		*head = e
	}
	return nil
}

func (ht *hashtable) lookup(thread *Thread, k Value) (v Value, found bool, err error) {
	if ht.table == nil {
		return None, false, nil
	}
	h, err := k.Hash()
	if err != nil {
		return nil, false, err
	}
	h = normalizeHash(h)

	for e := *ht.bucketFor(h); e != nil; e = e.chain {
		if thread != nil {
			if err := thread.AddSteps(SafeInt(1)); err != nil {
				return nil, false, err
			}
		}
		if e.hash != h {
			continue
		}
		if eq, err := Equal(k, e.key); err != nil {
			return nil, false, err
		} else if eq {
			return e.value, true, nil
		}
	}
	return None, false, nil
}

func (ht *hashtable) delete(thread *Thread, k Value) (v Value, found bool, err error) {
	if err := ht.checkMutable("delete from"); err != nil {
		return nil, false, err
	}
	if ht.table == nil {
		return None, false, nil
	}
	h, err := k.Hash()
	if err != nil {
		return nil, false, err
	}
	h = normalizeHash(h)

	for link := ht.bucketFor(h); *link != nil; link = &(*link).chain {
		e := *link
		if thread != nil {
			if err := thread.AddSteps(SafeInt(1)); err != nil {
				return nil, false, err
			}
		}
		if e.hash != h {
			continue
		}
		if eq, err := Equal(k, e.key); err != nil {
			return nil, false, err
		} else if !eq {
			continue
		}
		// Unlink from the chain and from the insertion-order list.
		*link = e.chain
		*e.prevLink = e.next
		if e.next == nil {
			ht.tailLink = e.prevLink
		} else {
			e.next.prevLink = e.prevLink
		}
		ht.len--
		return e.value, true, nil
	}
	return None, false, nil
}

func (ht *hashtable) clear(thread *Thread) error {
	if err := ht.checkMutable("clear"); err != nil {
		return err
	}
	for i := range ht.table {
		ht.table[i] = nil
	}
	ht.head = nil
	ht.tailLink = &ht.head
	ht.len = 0
	return nil
}

func (ht *hashtable) first() (Value, bool) {
	if ht.head != nil {
		return ht.head.key, true
	}
	return None, false
}

func (ht *hashtable) items() []Tuple {
	items := make([]Tuple, 0, ht.len)
	backing := make([]Value, 2*ht.len)
	for e := ht.head; e != nil; e = e.next {
		pair := Tuple(backing[:2:2])
		backing = backing[2:]
		pair[0], pair[1] = e.key, e.value
		items = append(items, pair)
	}
	return items
}

func (ht *hashtable) keys() []Value {
	keys := make([]Value, 0, ht.len)
	for e := ht.head; e != nil; e = e.next {
		keys = append(keys, e.key)
	}
	return keys
}

func (ht *hashtable) values() []Value {
	values := make([]Value, 0, ht.len)
	for e := ht.head; e != nil; e = e.next {
		values = append(values, e.value)
	}
	return values
}

func (ht *hashtable) iterate() *keyIterator {
	if !ht.frozen {
		ht.itercount++
	}
	return &keyIterator{ht: ht, e: ht.head}
}

// keyIterator walks the insertion-order list; the table proper is
// never consulted during iteration.
type keyIterator struct {
	ht *hashtable
	e  *entry
}

func (it *keyIterator) Next(k *Value) bool {
	if it.e == nil {
		return false
	}
	*k = it.e.key
	it.e = it.e.next
	return true
}

func (it *keyIterator) Done() {
	if !it.ht.frozen {
		it.ht.itercount--
	}
}

func (it *keyIterator) Err() error { return nil }

// Safety reports that iterating a dict's keys performs no I/O and no
// unbounded work beyond what the caller's step budget already meters.
func (it *keyIterator) Safety() Safety {
	return CPUSafe | MemSafe | TimeSafe | IOSafe
}

func (it *keyIterator) BindThread(thread *Thread) {}
