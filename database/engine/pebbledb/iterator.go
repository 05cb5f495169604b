package pebbledb

import (
	"github.com/btcsuite/addrindexd/database/engine"
	"github.com/cockroachdb/pebble"
)

// Iterator adapts a pebble iterator to engine.Iterator.  Pebble iterators
// start unpositioned, so the first Next positions at the first key of the
// range.
type Iterator struct {
	*pebble.Iterator
	positioned bool
	released   bool
}

func newIterator(iter *pebble.Iterator) *Iterator {
	return &Iterator{Iterator: iter}
}

func (i *Iterator) First() bool {
	if i.released {
		return false
	}
	i.positioned = true
	return i.Iterator.First()
}

func (i *Iterator) Last() bool {
	if i.released {
		return false
	}
	i.positioned = true
	return i.Iterator.Last()
}

func (i *Iterator) Seek(key []byte) bool {
	if i.released {
		return false
	}
	i.positioned = true
	return i.Iterator.SeekGE(key)
}

func (i *Iterator) Next() bool {
	if i.released {
		return false
	}
	if !i.positioned {
		return i.First()
	}
	return i.Iterator.Next()
}

func (i *Iterator) Prev() bool {
	if i.released {
		return false
	}
	if !i.positioned {
		return false
	}
	return i.Iterator.Prev()
}

func (i *Iterator) Valid() bool {
	return !i.released && i.positioned && i.Iterator.Valid()
}

func (i *Iterator) Key() []byte {
	if !i.Valid() {
		return nil
	}
	return i.Iterator.Key()
}

func (i *Iterator) Value() []byte {
	if !i.Valid() {
		return nil
	}
	return i.Iterator.Value()
}

func (i *Iterator) Release() {
	if !i.released {
		i.released = true
		i.Iterator.Close()
	}
}

func (i *Iterator) Error() error {
	if i.released {
		return engine.ErrIterReleased
	}
	return i.Iterator.Error()
}

// errIterator is returned when an iterator cannot be created.  It is empty
// and reports the creation error.
type errIterator struct {
	err error
}

func (e *errIterator) First() bool          { return false }
func (e *errIterator) Last() bool           { return false }
func (e *errIterator) Seek(key []byte) bool { return false }
func (e *errIterator) Next() bool           { return false }
func (e *errIterator) Prev() bool           { return false }
func (e *errIterator) Valid() bool          { return false }
func (e *errIterator) Error() error         { return e.err }
func (e *errIterator) Key() []byte          { return nil }
func (e *errIterator) Value() []byte        { return nil }
func (e *errIterator) Release()             {}
