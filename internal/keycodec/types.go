package keycodec

import (
	"encoding/binary"
	"fmt"
)

// Well-known fork numbers. The first four mirror Postgres's own main
// relation forks; the remainder are pageserver-internal pseudo-relations
// used to track CLOG pages, the filenode map and in-flight two-phase
// transactions inside the same versioned keyspace as ordinary blocks.
const (
	MainForkNum         uint8 = 0
	FSMForkNum          uint8 = 1
	VisibilityMapForkNum uint8 = 2
	InitForkNum         uint8 = 3
	FileNodeMapForkNum  uint8 = 4
	XactForkNum         uint8 = 5
	TwoPhaseForkNum     uint8 = 6
)

// RelTag identifies a relation fork: (fork, tablespace, database, relation).
// Encoded big-endian in that field order so that a byte-order scan over a
// RelTag prefix groups entries the same way the tuple order would.
type RelTag struct {
	Fork       uint8
	Tablespace uint32
	Database   uint32
	Relation   uint32
}

// RelTagSize is the fixed encoded size of a RelTag: 1 + 4 + 4 + 4.
const RelTagSize = 13

func (t RelTag) String() string {
	return fmt.Sprintf("%d/%d/%d fork=%d", t.Tablespace, t.Database, t.Relation, t.Fork)
}

// Encode appends the big-endian encoding of t to buf and returns it.
func (t RelTag) Encode(buf []byte) []byte {
	buf = append(buf, t.Fork)
	buf = binary.BigEndian.AppendUint32(buf, t.Tablespace)
	buf = binary.BigEndian.AppendUint32(buf, t.Database)
	buf = binary.BigEndian.AppendUint32(buf, t.Relation)
	return buf
}

// DecodeRelTag decodes a RelTag from the front of b and returns the tag
// plus the remaining bytes.
func DecodeRelTag(b []byte) (RelTag, []byte) {
	if len(b) < RelTagSize {
		panic("keycodec: short buffer decoding RelTag")
	}
	t := RelTag{
		Fork:       b[0],
		Tablespace: binary.BigEndian.Uint32(b[1:5]),
		Database:   binary.BigEndian.Uint32(b[5:9]),
		Relation:   binary.BigEndian.Uint32(b[9:13]),
	}
	return t, b[RelTagSize:]
}

// BufferTag identifies one block within a relation fork.
type BufferTag struct {
	Rel   RelTag
	Block uint32
}

// BufferTagSize is the fixed encoded size of a BufferTag.
const BufferTagSize = RelTagSize + 4

func (t BufferTag) String() string {
	return fmt.Sprintf("%s blk=%d", t.Rel, t.Block)
}

func (t BufferTag) Encode(buf []byte) []byte {
	buf = t.Rel.Encode(buf)
	buf = binary.BigEndian.AppendUint32(buf, t.Block)
	return buf
}

func DecodeBufferTag(b []byte) (BufferTag, []byte) {
	if len(b) < BufferTagSize {
		panic("keycodec: short buffer decoding BufferTag")
	}
	rel, rest := DecodeRelTag(b)
	return BufferTag{Rel: rel, Block: binary.BigEndian.Uint32(rest[:4])}, rest[4:]
}

// RepositoryKey is the full versioned key: a BufferTag plus an LSN. Two
// keys with the same tag differ only in the trailing LSN, so for a fixed
// tag the numerically largest key is the latest version.
type RepositoryKey struct {
	Tag BufferTag
	LSN Lsn
}

// RepositoryKeySize is the fixed encoded size of a RepositoryKey.
const RepositoryKeySize = BufferTagSize + 8

// Encode returns the big-endian byte encoding of k. Lexicographic order on
// the returned bytes equals tuple order on
// (fork, tablespace, database, relation, block, lsn).
func (k RepositoryKey) Encode() []byte {
	buf := make([]byte, 0, RepositoryKeySize)
	buf = k.Tag.Encode(buf)
	buf = binary.BigEndian.AppendUint64(buf, uint64(k.LSN))
	return buf
}

// DecodeRepositoryKey decodes a RepositoryKey encoded by Encode. Malformed
// input (wrong length) is a programmer error and panics, matching the
// codec's total-but-not-defensive contract: the store never hands back
// bytes it didn't itself store.
func DecodeRepositoryKey(b []byte) RepositoryKey {
	if len(b) != RepositoryKeySize {
		panic(fmt.Sprintf("keycodec: RepositoryKey must be %d bytes, got %d", RepositoryKeySize, len(b)))
	}
	tag, rest := DecodeBufferTag(b)
	return RepositoryKey{Tag: tag, LSN: Lsn(binary.BigEndian.Uint64(rest[:8]))}
}

// MinKeyForTag returns the smallest RepositoryKey with the given tag
// (LSN 0), useful as a seek lower bound.
func MinKeyForTag(tag BufferTag) RepositoryKey {
	return RepositoryKey{Tag: tag, LSN: InvalidLsn}
}

// MaxKeyForTag returns the largest possible RepositoryKey with the given
// tag, useful as a seek upper bound.
func MaxKeyForTag(tag BufferTag) RepositoryKey {
	return RepositoryKey{Tag: tag, LSN: Lsn(^uint64(0))}
}
