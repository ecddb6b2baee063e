// Package keycodec encodes and decodes the versioned keyspace used by the
// page repository: RelTag, BufferTag, RepositoryKey and WALRecord values.
// All multi-byte integers are big-endian so that the ordered store's byte
// comparator agrees with the tuple comparator.
package keycodec

import "fmt"

// Lsn is a write-ahead log sequence number: a monotonically increasing
// byte position in the WAL stream.
type Lsn uint64

// InvalidLsn is the zero value, used as "no position yet".
const InvalidLsn Lsn = 0

func (l Lsn) String() string {
	return fmt.Sprintf("%X/%X", uint64(l)>>32, uint64(l)&0xFFFFFFFF)
}
