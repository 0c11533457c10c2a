package format

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUvarintRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40} {
		buf := PutUvarint(nil, v)
		got, rest, err := GetUvarint(buf)
		require.NoError(t, err)
		require.Equal(t, v, got)
		require.Empty(t, rest)
	}
}

func TestLengthPrefixedBytesRoundTrip(t *testing.T) {
	buf := PutLengthPrefixedBytes(nil, []byte("hello"))
	buf = PutLengthPrefixedBytes(buf, []byte(""))
	got, rest, err := GetLengthPrefixedBytes(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
	got2, rest, err := GetLengthPrefixedBytes(rest)
	require.NoError(t, err)
	require.Empty(t, got2)
	require.Empty(t, rest)
}

func TestGetLengthPrefixedBytesTruncated(t *testing.T) {
	buf := PutUvarint(nil, 10)
	_, _, err := GetLengthPrefixedBytes(buf)
	require.Error(t, err)
}

func TestChecksumMaskRoundTrip(t *testing.T) {
	masked := Checksum([]byte("some block body"))
	require.Equal(t, masked, ChecksumMask(ChecksumUnmask(masked)))
}

func TestChecksumDetectsMutation(t *testing.T) {
	a := Checksum([]byte("abcdef"))
	b := Checksum([]byte("abcdeg"))
	require.NotEqual(t, a, b)
}
