package collection

import (
	"encoding/binary"
	"hash/crc32"
)

// Document value encoding: rev_be8 | ts_be8 | body | crc32c(rev|ts|body)

const recordHeaderLen = 16

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Document is a decoded stored document.
type Document struct {
	Rev  uint64
	TsMs int64
	Body []byte
}

// EncodeDocument serializes a document revision for storage.
func EncodeDocument(rev uint64, tsMs int64, body []byte) []byte {
	out := make([]byte, 0, recordHeaderLen+len(body)+4)
	out = appendBE8(out, rev)
	out = appendBE8(out, uint64(tsMs))
	out = append(out, body...)

	crc := crc32.Update(0, castagnoli, out)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	return append(out, crcb[:]...)
}

// DecodeDocument parses a stored value. Returns false on truncation or
// checksum mismatch.
func DecodeDocument(b []byte) (Document, bool) {
	if len(b) < recordHeaderLen+4 {
		return Document{}, false
	}
	payload := b[:len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	if crc32.Checksum(payload, castagnoli) != expect {
		return Document{}, false
	}
	return Document{
		Rev:  binary.BigEndian.Uint64(payload[0:8]),
		TsMs: int64(binary.BigEndian.Uint64(payload[8:16])),
		Body: append([]byte(nil), payload[16:]...),
	}, true
}
