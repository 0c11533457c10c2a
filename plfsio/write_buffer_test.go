package plfsio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteBufferSortsStablyByKey(t *testing.T) {
	var w WriteBuffer
	w.Add([]byte("banana"), []byte("2"))
	w.Add([]byte("apple"), []byte("1a"))
	w.Add([]byte("apple"), []byte("1b"))
	w.Add([]byte("cherry"), []byte("3"))
	w.FinishAndSort()

	it := w.NewIterator()
	var keys, values []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
		values = append(values, string(it.Value()))
	}
	require.Equal(t, []string{"apple", "apple", "banana", "cherry"}, keys)
	require.Equal(t, []string{"1a", "1b", "2", "3"}, values)
}

func TestWriteBufferAddAfterFinishPanics(t *testing.T) {
	var w WriteBuffer
	w.Add([]byte("k"), []byte("v"))
	w.FinishAndSort()
	require.Panics(t, func() {
		w.Add([]byte("k2"), []byte("v2"))
	})
}

func TestWriteBufferIteratorRequiresFinish(t *testing.T) {
	var w WriteBuffer
	w.Add([]byte("k"), []byte("v"))
	require.Panics(t, func() {
		w.NewIterator()
	})
}

func TestWriteBufferResetClearsState(t *testing.T) {
	var w WriteBuffer
	w.Add([]byte("k"), []byte("v"))
	w.FinishAndSort()
	w.EpochFlush = true
	w.Finalize = true
	w.Reset()

	require.Equal(t, 0, w.NumEntries())
	require.False(t, w.EpochFlush)
	require.False(t, w.Finalize)
	w.Add([]byte("k2"), []byte("v2"))
	require.Equal(t, 1, w.NumEntries())
}

func TestWriteBufferIteratorSeekToLastAndPrev(t *testing.T) {
	var w WriteBuffer
	w.Add([]byte("c"), []byte("3"))
	w.Add([]byte("a"), []byte("1"))
	w.Add([]byte("b"), []byte("2"))
	w.FinishAndSort()

	it := w.NewIterator()
	it.SeekToLast()
	require.True(t, it.Valid())
	require.Equal(t, "c", string(it.Key()))
	it.Prev()
	require.Equal(t, "b", string(it.Key()))
	it.Prev()
	require.Equal(t, "a", string(it.Key()))
	it.Prev()
	require.False(t, it.Valid())
}
