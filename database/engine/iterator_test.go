package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// sliceIterator walks fixed keys forward.  The value of each pair is the
// key prefixed with the iterator name.
type sliceIterator struct {
	Iterator

	name     string
	keys     []string
	pos      int
	failAt   int
	err      error
	released bool
}

func newSliceIterator(name string, keys ...string) *sliceIterator {
	return &sliceIterator{name: name, keys: keys, pos: -1, failAt: -1}
}

func (s *sliceIterator) Next() bool {
	if s.err != nil {
		return false
	}
	s.pos++
	if s.pos == s.failAt {
		s.err = errors.New("read failed")
		return false
	}
	return s.pos < len(s.keys)
}

func (s *sliceIterator) Key() []byte   { return []byte(s.keys[s.pos]) }
func (s *sliceIterator) Value() []byte { return []byte(s.name + s.keys[s.pos]) }
func (s *sliceIterator) Error() error  { return s.err }
func (s *sliceIterator) Release()      { s.released = true }

func walk(t *testing.T, iter *MergedIterator) []string {
	t.Helper()

	var got []string
	for iter.Next() {
		got = append(got, string(iter.Value()))
	}
	return got
}

func TestMergedIterator(t *testing.T) {
	tests := []struct {
		name   string
		inputs [][]string
		want   []string
	}{
		{"no inputs", nil, nil},
		{"empty inputs", [][]string{{}, {}}, nil},
		{"single", [][]string{{"a", "c"}}, []string{"0a", "0c"}},
		{
			"interleaved",
			[][]string{{"b", "e"}, {"a", "d"}, {}, {"c", "f"}},
			[]string{"1a", "0b", "3c", "1d", "0e", "3f"},
		},
		{
			"ties in input order",
			[][]string{{"a", "b"}, {"a"}, {"b"}},
			[]string{"0a", "1a", "0b", "2b"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			iters := make([]Iterator, 0, len(test.inputs))
			for i, keys := range test.inputs {
				name := string(rune('0' + i))
				iters = append(iters, newSliceIterator(name, keys...))
			}
			iter := NewMergedIterator(iters, DefaultComparer)
			require.Equal(t, test.want, walk(t, iter))
			require.NoError(t, iter.Error())
			require.False(t, iter.Next())
			require.Nil(t, iter.Key())
			iter.Release()
		})
	}
}

func TestMergedIteratorError(t *testing.T) {
	bad := newSliceIterator("1", "b", "d")
	bad.failAt = 1
	good := newSliceIterator("0", "a", "c", "e")

	iter := NewMergedIterator([]Iterator{good, bad}, DefaultComparer)
	require.Equal(t, []string{"0a", "1b"}, walk(t, iter))
	require.EqualError(t, iter.Error(), "read failed")
	require.Nil(t, iter.Key())
	require.Nil(t, iter.Value())

	iter.Release()
	require.True(t, good.released)
	require.True(t, bad.released)
}

func TestMergedIteratorRelease(t *testing.T) {
	input := newSliceIterator("0", "a", "b")
	iter := NewMergedIterator([]Iterator{input}, DefaultComparer)
	require.True(t, iter.Next())

	iter.Release()
	iter.Release()
	require.True(t, input.released)
	require.False(t, iter.Next())
	require.ErrorIs(t, iter.Error(), ErrIterReleased)
}

func TestBytesPrefix(t *testing.T) {
	tests := []struct {
		prefix, limit []byte
	}{
		{[]byte("ab"), []byte("ac")},
		{[]byte{'a', 0xff}, []byte("b")},
		{[]byte{0xff, 0xff}, nil},
	}
	for _, test := range tests {
		r := BytesPrefix(test.prefix)
		require.Equal(t, test.prefix, r.Start)
		require.Equal(t, test.limit, r.Limit)
	}
}
