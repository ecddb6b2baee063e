package keycodec

import "encoding/binary"

// WALRecord is the value stored for a page version that was produced by
// replaying a WAL record against the previous version, as opposed to a
// full page image. The redo manager turns a chain of these (rooted in a
// page image) back into a page.
type WALRecord struct {
	LSN            Lsn
	WillInit       bool
	MainDataOffset uint32
	Data           []byte
}

// Encode returns the length-prefixed byte encoding of r: an 8 byte LSN, a
// 1 byte will-init flag, a 4 byte main-data offset, a 4 byte data length
// and the raw record bytes.
func (r WALRecord) Encode() []byte {
	buf := make([]byte, 0, 17+len(r.Data))
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.LSN))
	if r.WillInit {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.BigEndian.AppendUint32(buf, r.MainDataOffset)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(r.Data)))
	buf = append(buf, r.Data...)
	return buf
}

// DecodeWALRecord decodes a WALRecord encoded by Encode.
func DecodeWALRecord(b []byte) WALRecord {
	if len(b) < 17 {
		panic("keycodec: short buffer decoding WALRecord")
	}
	r := WALRecord{
		LSN:            Lsn(binary.BigEndian.Uint64(b[0:8])),
		WillInit:       b[8] != 0,
		MainDataOffset: binary.BigEndian.Uint32(b[9:13]),
	}
	n := binary.BigEndian.Uint32(b[13:17])
	r.Data = append([]byte(nil), b[17:17+n]...)
	return r
}

// ValueKind tags the union written under a RepositoryKey: either a
// full page image, a WAL record to be replayed on top of the prior
// version, or a truncation/drop tombstone. The tag byte is the first byte
// of the encoding so the store never needs a side channel to tell them
// apart.
type ValueKind uint8

const (
	// KindPageImage marks a value as a complete page image.
	KindPageImage ValueKind = iota
	// KindWALRecord marks a value as a WAL record to replay.
	KindWALRecord
	// KindTruncate marks a relation as truncated to a given block count
	// as of this LSN; no page data follows.
	KindTruncate
	// KindDrop marks a block as dropped as of this LSN.
	KindDrop
)

// EncodePageImage wraps a raw page image with its value-kind tag.
func EncodePageImage(image []byte) []byte {
	buf := make([]byte, 0, 1+len(image))
	buf = append(buf, byte(KindPageImage))
	buf = append(buf, image...)
	return buf
}

// EncodeWALRecordValue wraps a WALRecord with its value-kind tag.
func EncodeWALRecordValue(r WALRecord) []byte {
	buf := make([]byte, 0, 1+17+len(r.Data))
	buf = append(buf, byte(KindWALRecord))
	buf = append(buf, r.Encode()...)
	return buf
}

// EncodeTruncate encodes a truncation tombstone carrying the new block
// count for the relation.
func EncodeTruncate(newNBlocks uint32) []byte {
	buf := make([]byte, 0, 5)
	buf = append(buf, byte(KindTruncate))
	buf = binary.BigEndian.AppendUint32(buf, newNBlocks)
	return buf
}

// EncodeDrop encodes a drop tombstone.
func EncodeDrop() []byte {
	return []byte{byte(KindDrop)}
}

// DecodeValueKind returns the tag byte of an encoded value without
// decoding the rest of it.
func DecodeValueKind(b []byte) ValueKind {
	if len(b) == 0 {
		panic("keycodec: empty value has no kind")
	}
	return ValueKind(b[0])
}
