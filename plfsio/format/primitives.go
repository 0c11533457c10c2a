// Package format implements the on-disk binary primitives shared by the
// block, filter, and directory layers: varint and length-prefixed byte
// string codecs, the block trailer layout, and CRC32C masking.
package format

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

// BlockTrailerSize is the fixed size of the trailer appended to every
// finalized block: one compression-type byte plus a 4-byte masked CRC32C.
const BlockTrailerSize = 5

// NoCompression is the only compression type this format implements. The
// byte is reserved so a future codec could be added without changing the
// trailer layout.
const NoCompression byte = 0

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// ChecksumMask applies the same bit-rotation mask LevelDB-style formats
// use so that in-flight corruption of the stored CRC itself cannot
// accidentally decode to a valid checksum of zero bytes.
func ChecksumMask(crc uint32) uint32 {
	return ((crc >> 15) | (crc << 17)) + 0xa282ead8
}

// ChecksumUnmask reverses ChecksumMask.
func ChecksumUnmask(masked uint32) uint32 {
	rot := masked - 0xa282ead8
	return (rot << 15) | (rot >> 17)
}

// Checksum computes the masked CRC32C of data.
func Checksum(data []byte) uint32 {
	return ChecksumMask(crc32.Checksum(data, crc32cTable))
}

// ExtendChecksum extends an unmasked crc computed over a prior segment
// with the bytes that follow it. The result is unmasked; block trailers
// are checksummed with Checksum over the body and type byte together.
func ExtendChecksum(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, crc32cTable, data)
}

// PutUvarint appends the varint encoding of v to dst and returns the
// extended slice.
func PutUvarint(dst []byte, v uint64) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return append(dst, buf[:n]...)
}

// GetUvarint decodes a varint from the front of p, returning the value
// and the remaining bytes.
func GetUvarint(p []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(p)
	if n <= 0 {
		return 0, nil, errors.New("format: truncated varint")
	}
	return v, p[n:], nil
}

// PutLengthPrefixedBytes appends a varint length followed by b to dst.
func PutLengthPrefixedBytes(dst []byte, b []byte) []byte {
	dst = PutUvarint(dst, uint64(len(b)))
	return append(dst, b...)
}

// GetLengthPrefixedBytes decodes a length-prefixed byte string from the
// front of p, returning the string and the remaining bytes. The returned
// slice aliases p.
func GetLengthPrefixedBytes(p []byte) ([]byte, []byte, error) {
	n, rest, err := GetUvarint(p)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < n {
		return nil, nil, errors.New("format: truncated length-prefixed string")
	}
	return rest[:n], rest[n:], nil
}
