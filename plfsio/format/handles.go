package format

import "github.com/pkg/errors"

// BlockHandle locates a block within a log file.
type BlockHandle struct {
	Offset uint64
	Size   uint64
}

// EncodeTo appends the varint encoding of h to dst.
func (h BlockHandle) EncodeTo(dst []byte) []byte {
	dst = PutUvarint(dst, h.Offset)
	dst = PutUvarint(dst, h.Size)
	return dst
}

// DecodeBlockHandle decodes a BlockHandle from the front of p, returning
// the handle and the remaining bytes.
func DecodeBlockHandle(p []byte) (BlockHandle, []byte, error) {
	off, p, err := GetUvarint(p)
	if err != nil {
		return BlockHandle{}, nil, errors.Wrap(err, "format: decode block handle offset")
	}
	size, p, err := GetUvarint(p)
	if err != nil {
		return BlockHandle{}, nil, errors.Wrap(err, "format: decode block handle size")
	}
	return BlockHandle{Offset: off, Size: size}, p, nil
}

// TableHandle is the per-table entry stored in an epoch's meta block: the
// table's index block handle, its optional filter block location, and its
// tight key bounds.
type TableHandle struct {
	Index       BlockHandle
	FilterOffset uint64
	FilterSize   uint64
	SmallestKey  []byte
	LargestKey   []byte
}

// EncodeTo appends the encoding of h to dst.
func (h TableHandle) EncodeTo(dst []byte) []byte {
	dst = h.Index.EncodeTo(dst)
	dst = PutUvarint(dst, h.FilterOffset)
	dst = PutUvarint(dst, h.FilterSize)
	dst = PutLengthPrefixedBytes(dst, h.SmallestKey)
	dst = PutLengthPrefixedBytes(dst, h.LargestKey)
	return dst
}

// DecodeTableHandle decodes a TableHandle from the front of p.
func DecodeTableHandle(p []byte) (TableHandle, []byte, error) {
	idx, p, err := DecodeBlockHandle(p)
	if err != nil {
		return TableHandle{}, nil, errors.Wrap(err, "format: decode table handle index")
	}
	filterOff, p, err := GetUvarint(p)
	if err != nil {
		return TableHandle{}, nil, errors.Wrap(err, "format: decode table handle filter offset")
	}
	filterSize, p, err := GetUvarint(p)
	if err != nil {
		return TableHandle{}, nil, errors.Wrap(err, "format: decode table handle filter size")
	}
	smallest, p, err := GetLengthPrefixedBytes(p)
	if err != nil {
		return TableHandle{}, nil, errors.Wrap(err, "format: decode table handle smallest key")
	}
	largest, p, err := GetLengthPrefixedBytes(p)
	if err != nil {
		return TableHandle{}, nil, errors.Wrap(err, "format: decode table handle largest key")
	}
	return TableHandle{
		Index:        idx,
		FilterOffset: filterOff,
		FilterSize:   filterSize,
		SmallestKey:  append([]byte(nil), smallest...),
		LargestKey:   append([]byte(nil), largest...),
	}, p, nil
}
