// Package walingest translates an already-decoded WAL record into
// Timeline operations: one Put per affected block, plus the two
// special-cased record types (SMGR truncate, CREATE DATABASE) that
// trigger a derived Timeline operation beyond a simple per-block write.
package walingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/linux/projects/server/page-server/internal/keycodec"
	"github.com/linux/projects/server/page-server/internal/timeline"
)

// Resource manager ids and record-type flags this ingest path special
// cases, mirrored from Postgres's own rmgrlist.h / smgr.h constants.
const (
	RmSmgrID         uint8 = 2
	RmDbaseID        uint8 = 4
	XlogSmgrTruncate uint8 = 0x20
	XlogDbaseCreate  uint8 = 0x00
	XlrRmgrInfoMask  uint8 = 0xF0
	SmgrTruncateHeap uint32 = 0x0001
)

// ErrMalformedRecord is returned when a DecodedRecord cannot be
// interpreted.
var ErrMalformedRecord = errors.New("walingest: malformed record")

// BlockEffect is one block-level effect a decoded WAL record carries,
// mirroring the WAL decoder contract's per-block description.
type BlockEffect struct {
	Tag        keycodec.BufferTag
	WillInit   bool
	ApplyImage bool
	WillDrop   bool
}

// SmgrTruncatePayload carries the fields needed to special-case
// RM_SMGR_ID/XLOG_SMGR_TRUNCATE records.
type SmgrTruncatePayload struct {
	Tablespace uint32
	Database   uint32
	Relation   uint32
	Flags      uint32
	NewBlocks  uint32
}

// DbaseCreatePayload carries the fields needed to special-case
// RM_DBASE_ID/XLOG_DBASE_CREATE records.
type DbaseCreatePayload struct {
	Database      uint32
	Tablespace    uint32
	SrcDatabase   uint32
	SrcTablespace uint32
}

// DecodedRecord is the Go shape of the WAL decoder contract: a decoded
// record's block-level effects plus enough rmgr metadata to drive the
// two special cases.
type DecodedRecord struct {
	LSN            keycodec.Lsn
	XlRmid         uint8
	XlInfo         uint8
	MainDataOffset uint32
	Blocks         []BlockEffect

	SmgrTruncate *SmgrTruncatePayload
	DbaseCreate  *DbaseCreatePayload
}

// Ingest applies decoded's block effects to tl, handles the SMGR
// truncate and CREATE DATABASE special cases, and advances tl's
// last-record LSN. The caller (the WAL receiver) is responsible for
// advancing the last-valid LSN once this returns successfully.
func Ingest(ctx context.Context, tl *timeline.Timeline, decoded *DecodedRecord, recordBytes []byte) error {
	if decoded == nil {
		return fmt.Errorf("walingest: nil decoded record: %w", ErrMalformedRecord)
	}

	for _, blk := range decoded.Blocks {
		if blk.WillDrop {
			if err := tl.PutDrop(blk.Tag, decoded.LSN); err != nil {
				return err
			}
			continue
		}
		record := keycodec.WALRecord{
			LSN:            decoded.LSN,
			WillInit:       blk.WillInit || blk.ApplyImage,
			MainDataOffset: decoded.MainDataOffset,
			Data:           recordBytes,
		}
		if err := tl.PutWALRecord(blk.Tag, record); err != nil {
			return err
		}
	}

	if decoded.XlRmid == RmSmgrID && (decoded.XlInfo&XlrRmgrInfoMask) == XlogSmgrTruncate {
		if decoded.SmgrTruncate == nil {
			return fmt.Errorf("walingest: smgr truncate record missing payload: %w", ErrMalformedRecord)
		}
		if decoded.SmgrTruncate.Flags&SmgrTruncateHeap != 0 {
			rel := keycodec.RelTag{
				Fork:       keycodec.MainForkNum,
				Tablespace: decoded.SmgrTruncate.Tablespace,
				Database:   decoded.SmgrTruncate.Database,
				Relation:   decoded.SmgrTruncate.Relation,
			}
			if err := tl.PutTruncation(rel, decoded.LSN, decoded.SmgrTruncate.NewBlocks); err != nil {
				return err
			}
		}
	}

	if decoded.XlRmid == RmDbaseID && (decoded.XlInfo&XlrRmgrInfoMask) == XlogDbaseCreate {
		if decoded.DbaseCreate == nil {
			return fmt.Errorf("walingest: dbase create record missing payload: %w", ErrMalformedRecord)
		}
		d := decoded.DbaseCreate
		if err := tl.PutCreateDatabase(ctx, decoded.LSN, d.Tablespace, d.Database, d.SrcTablespace, d.SrcDatabase); err != nil {
			return err
		}
	}

	tl.Frontier().AdvanceLastRecordLsn(decoded.LSN)
	return nil
}
