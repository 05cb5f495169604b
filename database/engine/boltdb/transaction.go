package boltdb

import (
	bolt "go.etcd.io/bbolt"
)

type op struct {
	key, value []byte
	delete     bool
}

// Transaction records writes and replays them inside a single bolt Update.
type Transaction struct {
	db       *bolt.DB
	ops      []op
	released bool
}

func (t *Transaction) Put(key, value []byte) error {
	if t.released {
		return ErrTxClosed
	}
	t.ops = append(t.ops, op{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
	return nil
}

func (t *Transaction) Delete(key []byte) error {
	if t.released {
		return ErrTxClosed
	}
	t.ops = append(t.ops, op{key: append([]byte(nil), key...), delete: true})
	return nil
}

func (t *Transaction) Discard() {
	t.released = true
	t.ops = nil
}

func (t *Transaction) Commit() error {
	if t.released {
		return ErrTxClosed
	}
	t.released = true
	ops := t.ops
	t.ops = nil

	return t.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		for _, o := range ops {
			var err error
			if o.delete {
				err = bucket.Delete(o.key)
			} else {
				err = bucket.Put(o.key, o.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}
