package block

import (
	"testing"

	"github.com/dlambrig/deltafs/plfsio/format"
	"github.com/stretchr/testify/require"
)

func TestBuilderRoundTrip(t *testing.T) {
	b := NewBuilder(2)
	entries := [][2]string{
		{"apple", "1"},
		{"banana", "2"},
		{"cherry", "3"},
		{"date", "4"},
		{"egg", "5"},
	}
	for _, e := range entries {
		b.Add([]byte(e[0]), []byte(e[1]))
	}
	body := b.Finish()
	r, err := NewReader(body)
	require.NoError(t, err)

	it := r.NewIterator()
	i := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		require.Equal(t, entries[i][0], string(it.Key()))
		require.Equal(t, entries[i][1], string(it.Value()))
		i++
	}
	require.Equal(t, len(entries), i)
	require.NoError(t, it.Status())
}

func TestBuilderSeek(t *testing.T) {
	b := NewBuilder(2)
	for _, k := range []string{"a", "c", "e", "g", "i"} {
		b.Add([]byte(k), []byte(k+k))
	}
	r, err := NewReader(b.Finish())
	require.NoError(t, err)

	it := r.NewIterator()
	it.Seek([]byte("d"))
	require.True(t, it.Valid())
	require.Equal(t, "e", string(it.Key()))

	it.Seek([]byte("i"))
	require.True(t, it.Valid())
	require.Equal(t, "i", string(it.Key()))

	it.Seek([]byte("z"))
	require.False(t, it.Valid())
}

func TestFinalizeTrailerVerifies(t *testing.T) {
	b := NewBuilder(16)
	b.Add([]byte("k"), []byte("v"))
	raw := b.Finalize(0)
	body, err := Decode(raw, true)
	require.NoError(t, err)
	r, err := NewReader(body)
	require.NoError(t, err)
	it := r.NewIterator()
	it.SeekToFirst()
	require.True(t, it.Valid())
	require.Equal(t, "k", string(it.Key()))
}

func TestFinalizePadding(t *testing.T) {
	b := NewBuilder(16)
	b.Add([]byte("k"), []byte("v"))
	contentSize := b.CurrentSizeEstimate()
	raw := b.Finalize(4096)
	require.Len(t, raw, 4096)
	unpadded := raw[:contentSize+format.BlockTrailerSize]
	_, err := Decode(unpadded, true)
	require.NoError(t, err)
}

func TestDecodeDetectsCorruption(t *testing.T) {
	b := NewBuilder(16)
	b.Add([]byte("k"), []byte("v"))
	raw := b.Finalize(0)
	raw[0] ^= 0xff
	_, err := Decode(raw, true)
	require.ErrorIs(t, err, ErrCorruption)
}
