// Package redo defines the contract the page repository uses to turn a
// base image plus a chain of WAL records into a page image. The actual
// redo algorithm (replaying Postgres WAL against an 8 KiB page) lives
// outside this module entirely; the repository only needs something
// that satisfies Manager.
package redo

import (
	"context"
	"errors"
	"fmt"

	"github.com/linux/projects/server/page-server/internal/keycodec"
)

// ErrRedoFailed is wrapped by every error a Manager returns.
var ErrRedoFailed = errors.New("redo: failed to reconstruct page")

// Manager reconstructs a page image at targetLSN from an optional base
// image and a forward-ordered chain of WAL records. records[0].WillInit
// is true iff base is nil.
type Manager interface {
	RequestRedo(ctx context.Context, tag keycodec.BufferTag, targetLSN keycodec.Lsn, base []byte, records []keycodec.WALRecord) ([]byte, error)
}

// NoOp is a deterministic Manager used in tests: it does not replay
// anything, it just returns the base image followed by the records'
// data, and records each call, so tests can assert on the exact base/record set the
// timeline handed it, mirroring the original source's own test redo
// manager.
type NoOp struct {
	// Calls records every invocation for later inspection by tests.
	Calls []NoOpCall
}

// NoOpCall captures one RequestRedo invocation.
type NoOpCall struct {
	Tag       keycodec.BufferTag
	TargetLSN keycodec.Lsn
	Base      []byte
	Records   []keycodec.WALRecord
}

// RequestRedo implements Manager by concatenating the base image bytes
// (if any) with the data of every record, in order.
func (n *NoOp) RequestRedo(_ context.Context, tag keycodec.BufferTag, targetLSN keycodec.Lsn, base []byte, records []keycodec.WALRecord) ([]byte, error) {
	n.Calls = append(n.Calls, NoOpCall{Tag: tag, TargetLSN: targetLSN, Base: base, Records: records})

	result := append([]byte(nil), base...)
	for _, r := range records {
		result = append(result, r.Data...)
	}
	if result == nil {
		return nil, fmt.Errorf("redo: no base image and no records for %s at %s: %w", tag, targetLSN, ErrRedoFailed)
	}
	return result, nil
}
