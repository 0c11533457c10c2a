package block

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/dlambrig/deltafs/plfsio/format"
)

// ErrCorruption is returned by Decode when a block's stored CRC does not
// match the recomputed one.
var ErrCorruption = errors.New("block: checksum mismatch")

// Decode strips and verifies raw's trailer, returning the body bytes
// (everything before the trailer). If verifyChecksums is false the CRC is
// not recomputed, matching the options.skip_checksums escape hatch.
func Decode(raw []byte, verifyChecksums bool) ([]byte, error) {
	if len(raw) < format.BlockTrailerSize {
		return nil, errors.New("block: truncated block")
	}
	bodyEnd := len(raw) - format.BlockTrailerSize
	body := raw[:bodyEnd]
	compressionType := raw[bodyEnd]
	if compressionType != format.NoCompression {
		return nil, errors.Errorf("block: unsupported compression type %d", compressionType)
	}
	if verifyChecksums {
		stored := binary.LittleEndian.Uint32(raw[bodyEnd+1:])
		want := format.Checksum(raw[:bodyEnd+1])
		if stored != want {
			return nil, ErrCorruption
		}
	}
	return body, nil
}
