package boltdb

import (
	"bytes"

	"github.com/btcsuite/addrindexd/database/engine"
	bolt "go.etcd.io/bbolt"
)

type position int

const (
	posStart position = iota
	posValid
	posEnd
)

// Iterator walks a bolt cursor restricted to [start, limit).
type Iterator struct {
	cursor       *bolt.Cursor
	start, limit []byte

	key, value []byte
	pos        position
	err        error
	released   bool
}

func (i *Iterator) usable() bool {
	if i.released {
		i.err = engine.ErrIterReleased
	}
	return i.err == nil
}

func (i *Iterator) inRange(k []byte) bool {
	if k == nil {
		return false
	}
	if i.start != nil && bytes.Compare(k, i.start) < 0 {
		return false
	}
	if i.limit != nil && bytes.Compare(k, i.limit) >= 0 {
		return false
	}
	return true
}

// set positions the iterator at k.  When k is out of range the iterator
// moves to the end given by exhausted.
func (i *Iterator) set(k, v []byte, exhausted position) bool {
	if !i.inRange(k) {
		i.key, i.value = nil, nil
		i.pos = exhausted
		return false
	}
	i.key, i.value = k, v
	i.pos = posValid
	return true
}

func (i *Iterator) First() bool {
	if !i.usable() {
		return false
	}
	if i.start != nil {
		k, v := i.cursor.Seek(i.start)
		return i.set(k, v, posEnd)
	}
	k, v := i.cursor.First()
	return i.set(k, v, posEnd)
}

func (i *Iterator) Last() bool {
	if !i.usable() {
		return false
	}
	var k, v []byte
	if i.limit != nil {
		k, v = i.cursor.Seek(i.limit)
		if k == nil {
			k, v = i.cursor.Last()
		} else {
			k, v = i.cursor.Prev()
		}
	} else {
		k, v = i.cursor.Last()
	}
	return i.set(k, v, posStart)
}

func (i *Iterator) Seek(key []byte) bool {
	if !i.usable() {
		return false
	}
	if i.start != nil && bytes.Compare(key, i.start) < 0 {
		key = i.start
	}
	k, v := i.cursor.Seek(key)
	return i.set(k, v, posEnd)
}

func (i *Iterator) Next() bool {
	if !i.usable() {
		return false
	}
	switch i.pos {
	case posStart:
		return i.First()
	case posEnd:
		return false
	}
	k, v := i.cursor.Next()
	return i.set(k, v, posEnd)
}

func (i *Iterator) Prev() bool {
	if !i.usable() {
		return false
	}
	switch i.pos {
	case posEnd:
		return i.Last()
	case posStart:
		return false
	}
	k, v := i.cursor.Prev()
	return i.set(k, v, posStart)
}

func (i *Iterator) Valid() bool {
	return i.err == nil && !i.released && i.pos == posValid
}

func (i *Iterator) Key() []byte {
	if !i.Valid() {
		return nil
	}
	return i.key
}

func (i *Iterator) Value() []byte {
	if !i.Valid() {
		return nil
	}
	return i.value
}

func (i *Iterator) Error() error {
	if i.released {
		return nil
	}
	return i.err
}

func (i *Iterator) Release() {
	i.released = true
	i.cursor = nil
	i.key, i.value = nil, nil
}
