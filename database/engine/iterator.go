package engine

import (
	"bytes"
	"errors"
)

// ErrIterReleased is reported by an iterator used after Release.
var ErrIterReleased = errors.New("engine: iterator released")

// Iterator walks the pairs of a key range in key order.  A new iterator is
// not positioned; the first call to Next or First moves it to the first
// pair.  The slices returned by Key and Value must not be modified and are
// only valid until the iterator moves.
type Iterator interface {
	// First positions the iterator at the first pair of the range.
	First() bool

	// Last positions the iterator at the last pair of the range.
	Last() bool

	// Seek positions the iterator at the first pair whose key is at or
	// after key.  The argument may be reused once Seek returns.
	Seek(key []byte) bool

	// Next advances to the following pair.
	Next() bool

	// Prev steps back to the preceding pair.
	Prev() bool

	// Valid reports whether the iterator is positioned at a pair.
	Valid() bool

	// Error returns the first error hit.  Running off the end of the
	// range is not an error.
	Error() error

	// Key returns the key of the current pair, nil when not positioned.
	Key() []byte

	// Value returns the value of the current pair, nil when not
	// positioned.
	Value() []byte

	Releaser
}

// MergedIterator walks several iterators as one ascending sequence.
type MergedIterator struct {
	cmp   Comparer
	iters []Iterator

	// heads holds the current key of every input, nil once it is drained.
	heads    [][]byte
	cur      int
	started  bool
	released bool
	err      error
}

// NewMergedIterator returns an iterator yielding the pairs of iters in the
// order defined by cmp.  Keys comparing equal are yielded in the order of
// iters.  The merged iterator takes ownership of iters and releases them on
// Release.  The first error reported by an input stops the walk.
func NewMergedIterator(iters []Iterator, cmp Comparer) *MergedIterator {
	return &MergedIterator{
		cmp:   cmp,
		iters: iters,
		heads: make([][]byte, len(iters)),
		cur:   -1,
	}
}

// advance moves input x forward and records its new head.
func (m *MergedIterator) advance(x int) bool {
	iter := m.iters[x]
	if iter.Next() {
		m.heads[x] = iter.Key()
		return true
	}
	m.heads[x] = nil
	if err := iter.Error(); err != nil {
		m.err = err
		return false
	}
	return true
}

// Next moves to the smallest remaining pair.
func (m *MergedIterator) Next() bool {
	switch {
	case m.err != nil:
		return false
	case m.released:
		m.err = ErrIterReleased
		return false
	}

	if !m.started {
		m.started = true
		for x := range m.iters {
			if !m.advance(x) {
				return false
			}
		}
	} else if m.cur >= 0 {
		if !m.advance(m.cur) {
			m.cur = -1
			return false
		}
	} else {
		return false
	}

	m.cur = -1
	for x, key := range m.heads {
		if key == nil {
			continue
		}
		if m.cur < 0 || m.cmp.Compare(key, m.heads[m.cur]) < 0 {
			m.cur = x
		}
	}
	return m.cur >= 0
}

// Key returns the key of the current pair.
func (m *MergedIterator) Key() []byte {
	if m.err != nil || m.cur < 0 {
		return nil
	}
	return m.heads[m.cur]
}

// Value returns the value of the current pair.
func (m *MergedIterator) Value() []byte {
	if m.err != nil || m.cur < 0 {
		return nil
	}
	return m.iters[m.cur].Value()
}

// Error returns the first error hit by the walk.
func (m *MergedIterator) Error() error {
	return m.err
}

// Release releases every input.  It may be called more than once.
func (m *MergedIterator) Release() {
	if m.released {
		return
	}
	m.released = true
	for _, iter := range m.iters {
		iter.Release()
	}
	m.iters, m.heads, m.cur = nil, nil, -1
}

// Comparer orders keys.  Compare is negative when a sorts before b, zero
// when they are equal and positive otherwise.
type Comparer interface {
	Compare(a, b []byte) int
}

// ComparerFunc adapts a function to the Comparer interface.
type ComparerFunc func(a, b []byte) int

// Compare calls f(a, b).
func (f ComparerFunc) Compare(a, b []byte) int {
	return f(a, b)
}

// DefaultComparer orders keys bytewise, the order every engine stores them
// in.
var DefaultComparer Comparer = ComparerFunc(bytes.Compare)

// Range is the half open key range [Start, Limit).  A nil bound is
// unbounded.
type Range struct {
	Start []byte
	Limit []byte
}

// BytesPrefix returns the range of keys beginning with prefix.
func BytesPrefix(prefix []byte) *Range {
	var limit []byte
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xff {
			limit = append([]byte(nil), prefix[:i+1]...)
			limit[i]++
			break
		}
	}
	return &Range{Start: prefix, Limit: limit}
}
