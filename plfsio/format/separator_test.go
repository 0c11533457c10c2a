package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindShortestSeparator(t *testing.T) {
	sep := FindShortestSeparator([]byte("apple"), []byte("banana"))
	require.True(t, string(sep) >= "apple")
	require.True(t, string(sep) < "banana")

	sep2 := FindShortestSeparator([]byte("abc"), []byte("abd"))
	require.True(t, string(sep2) >= "abc")
	require.True(t, string(sep2) < "abd")

	// No shortening possible when start is a prefix of limit.
	sep3 := FindShortestSeparator([]byte("ab"), []byte("abc"))
	require.Equal(t, "ab", string(sep3))
}

func TestFindShortSuccessor(t *testing.T) {
	require.Equal(t, "b", string(FindShortSuccessor([]byte("aaaa"))))
	require.Equal(t, []byte{0xff, 0xff}, FindShortSuccessor([]byte{0xff, 0xff}))
}
