package format

import "github.com/pkg/errors"

// FooterMagic identifies a finalized directory. There is no prior reference
// writer for this format in the wild, so the value is ours to own; it is
// chosen to be recognizably distinct from zero-fill and from the teacher's
// own SSTable magic.
const FooterMagic uint64 = 0x646c6673696f3031 // "dlfsio01"

// FooterEncodeLen is the fixed, padded size of an encoded Footer. A fixed
// size lets Open seek to (file size - FooterEncodeLen) without needing a
// separate length record.
const FooterEncodeLen = 64

// Footer is the last thing written to a directory's index log. It anchors
// the root meta block, which maps EpochKey(epoch, table) to the
// TableHandle of every table in every epoch.
type Footer struct {
	EpochIndex BlockHandle
	NumEpochs  uint32
}

// EncodeTo writes the fixed-width encoding of f into dst, which must have
// length FooterEncodeLen.
func (f Footer) EncodeTo(dst []byte) {
	if len(dst) != FooterEncodeLen {
		panic("format: bad footer buffer size")
	}
	p := f.EpochIndex.EncodeTo(dst[:0])
	p = PutUvarint(p, uint64(f.NumEpochs))
	for i := len(p); i < FooterEncodeLen-8; i++ {
		dst[i] = 0
	}
	putFixed64(dst[FooterEncodeLen-8:], FooterMagic)
}

// DecodeFooter decodes a Footer from a buffer of length FooterEncodeLen.
func DecodeFooter(buf []byte) (Footer, error) {
	if len(buf) != FooterEncodeLen {
		return Footer{}, errors.New("format: bad footer size")
	}
	magic := getFixed64(buf[FooterEncodeLen-8:])
	if magic != FooterMagic {
		return Footer{}, errors.Errorf("format: bad footer magic %x", magic)
	}
	idx, rest, err := DecodeBlockHandle(buf)
	if err != nil {
		return Footer{}, errors.Wrap(err, "format: decode footer epoch index handle")
	}
	n, _, err := GetUvarint(rest)
	if err != nil {
		return Footer{}, errors.Wrap(err, "format: decode footer epoch count")
	}
	return Footer{EpochIndex: idx, NumEpochs: uint32(n)}, nil
}

func putFixed64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

func getFixed64(p []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(p[i]) << (8 * i)
	}
	return v
}
