package format

import "encoding/binary"

// EpochKeyLen is the length of a canonical (epoch,table) key.
const EpochKeyLen = 8

// EpochKey returns the canonical big-endian encoding of an (epoch,table)
// pair, used as the sort key for meta block entries so that tables order
// first by epoch and then by table number within the epoch.
func EpochKey(epoch, table uint32) []byte {
	key := make([]byte, EpochKeyLen)
	binary.BigEndian.PutUint32(key[0:4], epoch)
	binary.BigEndian.PutUint32(key[4:8], table)
	return key
}

// DecodeEpochKey reverses EpochKey.
func DecodeEpochKey(key []byte) (epoch, table uint32) {
	epoch = binary.BigEndian.Uint32(key[0:4])
	table = binary.BigEndian.Uint32(key[4:8])
	return
}
