// Package timeline implements the versioned keyspace for a single
// timeline: the fourteen put/get operations spec'd over an ordered
// store, an LSN frontier gating reads, and an external redo manager
// used to reconstruct pages from a base image plus a WAL record chain.
package timeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/linux/projects/server/page-server/internal/frontier"
	"github.com/linux/projects/server/page-server/internal/keycodec"
	"github.com/linux/projects/server/page-server/internal/redo"
	"github.com/linux/projects/server/page-server/internal/store"
)

// Postgres CLOG layout: two bits of status per transaction, packed
// ClogXactsPerPage transactions to an 8 KiB page.
const ClogXactsPerPage = 32768

// Transaction status values, matching Postgres's own pg_clog bit
// encoding.
const (
	TransactionStatusInProgress   uint8 = 0x00
	TransactionStatusCommitted    uint8 = 0x01
	TransactionStatusAborted      uint8 = 0x02
	TransactionStatusSubCommitted uint8 = 0x03
)

// RelSegSize is the number of blocks per relation segment file
// (1 GiB / 8 KiB), mirrored from Postgres's RELSEG_SIZE.
const RelSegSize = 131072

var (
	// ErrPageNotFound is returned when no version at-or-before the
	// requested LSN exists for a tag, or the latest such version is a
	// drop sentinel.
	ErrPageNotFound = errors.New("timeline: page not found")
	// ErrStorageError wraps an underlying ordered-store failure.
	ErrStorageError = errors.New("timeline: storage error")
	// ErrMalformedRecord is returned when a stored value has an
	// unexpected kind or a CLOG page is too short for the requested xid.
	ErrMalformedRecord = errors.New("timeline: malformed record")
)

// Timeline is a versioned key-value history multiplexed, by a 16-byte
// id prefix, onto a shared ordered store.
type Timeline struct {
	id       uuid.UUID
	st       store.Store
	frontier *frontier.Frontier
	redo     redo.Manager
}

// New wraps st as the versioned keyspace for timeline id, using redoMgr
// to reconstruct pages from WAL record chains.
func New(id uuid.UUID, st store.Store, redoMgr redo.Manager) *Timeline {
	return &Timeline{id: id, st: st, frontier: frontier.New(), redo: redoMgr}
}

// ID returns the timeline's identifier.
func (tl *Timeline) ID() uuid.UUID { return tl.id }

// Frontier exposes the timeline's LSN frontier to the WAL receiver and
// repository restore path.
func (tl *Timeline) Frontier() *frontier.Frontier { return tl.frontier }

func (tl *Timeline) keyPrefix() []byte {
	return tl.id[:]
}

func (tl *Timeline) encodeRepoKey(k keycodec.RepositoryKey) []byte {
	buf := make([]byte, 0, 16+keycodec.RepositoryKeySize)
	buf = append(buf, tl.id[:]...)
	buf = append(buf, k.Encode()...)
	return buf
}

func (tl *Timeline) decodeRepoKey(full []byte) keycodec.RepositoryKey {
	return keycodec.DecodeRepositoryKey(full[16:])
}

func (tl *Timeline) hasOwnPrefix(full []byte) bool {
	return bytes.HasPrefix(full, tl.keyPrefix())
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageError, err)
}

// PutPageImage writes a self-contained base image at (tag, lsn).
func (tl *Timeline) PutPageImage(tag keycodec.BufferTag, lsn keycodec.Lsn, img []byte) error {
	key := tl.encodeRepoKey(keycodec.RepositoryKey{Tag: tag, LSN: lsn})
	if err := tl.st.Put(key, keycodec.EncodePageImage(img)); err != nil {
		return storageErr("timeline: put page image", err)
	}
	return nil
}

// PutWALRecord writes record at (tag, record.LSN).
func (tl *Timeline) PutWALRecord(tag keycodec.BufferTag, record keycodec.WALRecord) error {
	key := tl.encodeRepoKey(keycodec.RepositoryKey{Tag: tag, LSN: record.LSN})
	if err := tl.st.Put(key, keycodec.EncodeWALRecordValue(record)); err != nil {
		return storageErr("timeline: put wal record", err)
	}
	return nil
}

// PutDrop writes a drop sentinel at (tag, lsn).
func (tl *Timeline) PutDrop(tag keycodec.BufferTag, lsn keycodec.Lsn) error {
	key := tl.encodeRepoKey(keycodec.RepositoryKey{Tag: tag, LSN: lsn})
	if err := tl.st.Put(key, keycodec.EncodeDrop()); err != nil {
		return storageErr("timeline: put drop", err)
	}
	return nil
}

// PutRawData inserts a pre-encoded value at an explicit key, used only
// by the CREATE DATABASE clone path to copy entries verbatim.
func (tl *Timeline) PutRawData(key keycodec.RepositoryKey, value []byte) error {
	if err := tl.st.Put(tl.encodeRepoKey(key), value); err != nil {
		return storageErr("timeline: put raw data", err)
	}
	return nil
}

// PutTruncation writes a drop sentinel, at lsn, for every block of rel
// that is currently present with a block number >= nblocks, so that
// GetRelSize(rel, lsn') == nblocks for any later lsn' absent a further
// extending write.
func (tl *Timeline) PutTruncation(rel keycodec.RelTag, lsn keycodec.Lsn, nblocks uint32) error {
	start := tl.encodeRepoKey(keycodec.MinKeyForTag(keycodec.BufferTag{Rel: rel, Block: nblocks}))
	end := tl.encodeRepoKey(keycodec.MaxKeyForTag(keycodec.BufferTag{Rel: rel, Block: ^uint32(0)}))

	it, err := tl.st.Scan(start, end)
	if err != nil {
		return storageErr("timeline: put truncation scan", err)
	}
	defer it.Close()

	var blocks []uint32
	haveLast := false
	var lastBlock uint32
	for it.Next() {
		dk := tl.decodeRepoKey(it.Key())
		if !haveLast || dk.Tag.Block != lastBlock {
			blocks = append(blocks, dk.Tag.Block)
			lastBlock = dk.Tag.Block
			haveLast = true
		}
	}

	if len(blocks) == 0 {
		return nil
	}

	err = tl.st.WriteBatch(func(b store.Batch) error {
		for _, blk := range blocks {
			key := tl.encodeRepoKey(keycodec.RepositoryKey{
				Tag: keycodec.BufferTag{Rel: rel, Block: blk},
				LSN: lsn,
			})
			b.Put(key, keycodec.EncodeDrop())
		}
		return nil
	})
	if err != nil {
		return storageErr("timeline: put truncation write", err)
	}
	return nil
}

// GetPageAtLSN waits for lsn to become valid, then reconstructs the
// page at tag as of lsn: a direct page image, or a base image plus a
// forward-ordered chain of WAL records handed to the redo manager.
func (tl *Timeline) GetPageAtLSN(ctx context.Context, tag keycodec.BufferTag, lsn keycodec.Lsn) ([]byte, error) {
	if _, err := tl.frontier.Wait(ctx, lsn); err != nil {
		return nil, err
	}

	seekKey := tl.encodeRepoKey(keycodec.RepositoryKey{Tag: tag, LSN: lsn})
	fk, fv, err := tl.st.SeekLE(seekKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrPageNotFound
		}
		return nil, storageErr("timeline: get page at lsn seek", err)
	}
	dk := tl.decodeRepoKey(fk)
	if dk.Tag != tag {
		return nil, ErrPageNotFound
	}

	switch keycodec.DecodeValueKind(fv) {
	case keycodec.KindDrop:
		return nil, ErrPageNotFound
	case keycodec.KindPageImage:
		return append([]byte(nil), fv[1:]...), nil
	case keycodec.KindWALRecord:
		// fall through to chain walk below
	default:
		return nil, fmt.Errorf("timeline: unexpected value kind for %s: %w", tag, ErrMalformedRecord)
	}

	var chain []keycodec.WALRecord
	var base []byte
	cur := keycodec.DecodeWALRecord(fv[1:])
	chain = append(chain, cur)

chainLoop:
	for !cur.WillInit {
		if cur.LSN == keycodec.InvalidLsn {
			break
		}
		prevKey := tl.encodeRepoKey(keycodec.RepositoryKey{Tag: tag, LSN: cur.LSN - 1})
		pk, pv, perr := tl.st.SeekLE(prevKey)
		if perr != nil {
			if errors.Is(perr, store.ErrNotFound) {
				break
			}
			return nil, storageErr("timeline: get page at lsn chain walk", perr)
		}
		pdk := tl.decodeRepoKey(pk)
		if pdk.Tag != tag {
			break
		}
		switch keycodec.DecodeValueKind(pv) {
		case keycodec.KindDrop:
			// The chain cannot cross a drop: treat as if it left the prefix.
			break chainLoop
		case keycodec.KindPageImage:
			base = append([]byte(nil), pv[1:]...)
			break chainLoop
		case keycodec.KindWALRecord:
			cur = keycodec.DecodeWALRecord(pv[1:])
			chain = append(chain, cur)
		default:
			return nil, fmt.Errorf("timeline: unexpected value kind in chain for %s: %w", tag, ErrMalformedRecord)
		}
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	img, err := tl.redo.RequestRedo(ctx, tag, lsn, base, chain)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// relAliveBlocks scans every version ever written for rel and returns,
// for each block that has at least one version with LSN <= lsn, whether
// its latest such version is a page (true) or a drop sentinel (false).
// The returned map's key set is exactly "blocks with a key in the rel
// prefix at LSN <= lsn" used by GetRelSizeExists.
func (tl *Timeline) relAliveBlocks(rel keycodec.RelTag, lsn keycodec.Lsn) (map[uint32]bool, error) {
	start := tl.encodeRepoKey(keycodec.MinKeyForTag(keycodec.BufferTag{Rel: rel, Block: 0}))
	end := tl.encodeRepoKey(keycodec.MaxKeyForTag(keycodec.BufferTag{Rel: rel, Block: ^uint32(0)}))

	it, err := tl.st.Scan(start, end)
	if err != nil {
		return nil, storageErr("timeline: rel scan", err)
	}
	defer it.Close()

	alive := make(map[uint32]bool)
	for it.Next() {
		dk := tl.decodeRepoKey(it.Key())
		if dk.LSN > lsn {
			continue
		}
		alive[dk.Tag.Block] = keycodec.DecodeValueKind(it.Value()) != keycodec.KindDrop
	}
	return alive, nil
}

// GetRelSize returns the number of blocks of rel visible at lsn: one
// more than the highest block number whose latest version at-or-before
// lsn is a page, or 0 if rel has no such block.
func (tl *Timeline) GetRelSize(ctx context.Context, rel keycodec.RelTag, lsn keycodec.Lsn) (uint32, error) {
	if _, err := tl.frontier.Wait(ctx, lsn); err != nil {
		return 0, err
	}
	alive, err := tl.relAliveBlocks(rel, lsn)
	if err != nil {
		return 0, err
	}
	var maxBlock uint32
	found := false
	for block, isAlive := range alive {
		if !isAlive {
			continue
		}
		if !found || block > maxBlock {
			maxBlock = block
			found = true
		}
	}
	if !found {
		return 0, nil
	}
	return maxBlock + 1, nil
}

// GetRelSizeExists reports whether rel has any key at all, alive or
// dropped, with LSN <= lsn.
func (tl *Timeline) GetRelSizeExists(ctx context.Context, rel keycodec.RelTag, lsn keycodec.Lsn) (bool, error) {
	if _, err := tl.frontier.Wait(ctx, lsn); err != nil {
		return false, err
	}
	alive, err := tl.relAliveBlocks(rel, lsn)
	if err != nil {
		return false, err
	}
	return len(alive) > 0, nil
}

// GetRange returns [firstBlock, onePastLastBlock) for rel at lsn, or
// (0, 0) if rel has no alive blocks at lsn.
func (tl *Timeline) GetRange(ctx context.Context, rel keycodec.RelTag, lsn keycodec.Lsn) (uint32, uint32, error) {
	if _, err := tl.frontier.Wait(ctx, lsn); err != nil {
		return 0, 0, err
	}
	alive, err := tl.relAliveBlocks(rel, lsn)
	if err != nil {
		return 0, 0, err
	}
	var minBlock, maxBlock uint32
	found := false
	for block, isAlive := range alive {
		if !isAlive {
			continue
		}
		if !found {
			minBlock, maxBlock = block, block
			found = true
			continue
		}
		if block < minBlock {
			minBlock = block
		}
		if block > maxBlock {
			maxBlock = block
		}
	}
	if !found {
		return 0, 0, nil
	}
	return minBlock, maxBlock + 1, nil
}

// DatabaseKey identifies a database within a tablespace.
type DatabaseKey struct {
	Tablespace uint32
	Database   uint32
}

// GetDatabases scans the filenode-map subspace and returns every
// distinct (tablespace, database) pair with an entry at LSN <= lsn.
func (tl *Timeline) GetDatabases(ctx context.Context, lsn keycodec.Lsn) ([]DatabaseKey, error) {
	if _, err := tl.frontier.Wait(ctx, lsn); err != nil {
		return nil, err
	}

	lowRel := keycodec.RelTag{Fork: keycodec.FileNodeMapForkNum}
	highRel := keycodec.RelTag{Fork: keycodec.FileNodeMapForkNum, Tablespace: ^uint32(0), Database: ^uint32(0), Relation: ^uint32(0)}
	start := tl.encodeRepoKey(keycodec.MinKeyForTag(keycodec.BufferTag{Rel: lowRel, Block: 0}))
	end := tl.encodeRepoKey(keycodec.MaxKeyForTag(keycodec.BufferTag{Rel: highRel, Block: ^uint32(0)}))

	it, err := tl.st.Scan(start, end)
	if err != nil {
		return nil, storageErr("timeline: get databases scan", err)
	}
	defer it.Close()

	seen := make(map[DatabaseKey]bool)
	var out []DatabaseKey
	for it.Next() {
		dk := tl.decodeRepoKey(it.Key())
		if dk.LSN > lsn {
			continue
		}
		key := DatabaseKey{Tablespace: dk.Tag.Rel.Tablespace, Database: dk.Tag.Rel.Database}
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out, nil
}

// GetTxStatus returns the 2-bit CLOG status for xid as of lsn.
func (tl *Timeline) GetTxStatus(ctx context.Context, xid uint32, lsn keycodec.Lsn) (uint8, error) {
	block := xid / ClogXactsPerPage
	tag := keycodec.BufferTag{Rel: keycodec.RelTag{Fork: keycodec.XactForkNum}, Block: block}
	page, err := tl.GetPageAtLSN(ctx, tag, lsn)
	if err != nil {
		return 0, err
	}
	bitIndex := (xid % ClogXactsPerPage) * 2
	byteIndex := bitIndex / 8
	if int(byteIndex) >= len(page) {
		return 0, fmt.Errorf("timeline: clog page too short for xid %d: %w", xid, ErrMalformedRecord)
	}
	shift := bitIndex % 8
	return (page[byteIndex] >> shift) & 0x3, nil
}

// GetTwoPhase scans the two-phase subspace and returns every xid with
// an in-progress CLOG status as of lsn.
func (tl *Timeline) GetTwoPhase(ctx context.Context, lsn keycodec.Lsn) ([]uint32, error) {
	if _, err := tl.frontier.Wait(ctx, lsn); err != nil {
		return nil, err
	}

	rel := keycodec.RelTag{Fork: keycodec.TwoPhaseForkNum}
	start := tl.encodeRepoKey(keycodec.MinKeyForTag(keycodec.BufferTag{Rel: rel, Block: 0}))
	end := tl.encodeRepoKey(keycodec.MaxKeyForTag(keycodec.BufferTag{Rel: rel, Block: ^uint32(0)}))

	it, err := tl.st.Scan(start, end)
	if err != nil {
		return nil, storageErr("timeline: get twophase scan", err)
	}
	defer it.Close()

	seen := make(map[uint32]bool)
	var candidates []uint32
	for it.Next() {
		dk := tl.decodeRepoKey(it.Key())
		if dk.LSN > lsn {
			continue
		}
		xid := dk.Tag.Block
		if !seen[xid] {
			seen[xid] = true
			candidates = append(candidates, xid)
		}
	}

	var inProgress []uint32
	for _, xid := range candidates {
		status, err := tl.GetTxStatus(ctx, xid, lsn)
		if err != nil {
			if errors.Is(err, ErrPageNotFound) {
				continue
			}
			return nil, err
		}
		if status == TransactionStatusInProgress {
			inProgress = append(inProgress, xid)
		}
	}
	return inProgress, nil
}

// PutCreateDatabase deep-copies every entry under the five forks
// {MAIN, FSM, VM, INIT, FILENODEMAP} of (srcTablespace, srcDatabase)
// into (tablespace, database), rewriting each copied key's LSN to lsn so
// that every copied entry becomes visible atomically at that LSN.
func (tl *Timeline) PutCreateDatabase(ctx context.Context, lsn keycodec.Lsn, tablespace, database, srcTablespace, srcDatabase uint32) error {
	forks := []uint8{
		keycodec.MainForkNum,
		keycodec.FSMForkNum,
		keycodec.VisibilityMapForkNum,
		keycodec.InitForkNum,
		keycodec.FileNodeMapForkNum,
	}

	type copyItem struct {
		destKey keycodec.RepositoryKey
		value   []byte
	}
	var items []copyItem

	for _, fork := range forks {
		lowRel := keycodec.RelTag{Fork: fork, Tablespace: srcTablespace, Database: srcDatabase, Relation: 0}
		highRel := keycodec.RelTag{Fork: fork, Tablespace: srcTablespace, Database: srcDatabase, Relation: ^uint32(0)}
		start := tl.encodeRepoKey(keycodec.MinKeyForTag(keycodec.BufferTag{Rel: lowRel, Block: 0}))
		end := tl.encodeRepoKey(keycodec.MaxKeyForTag(keycodec.BufferTag{Rel: highRel, Block: ^uint32(0)}))

		it, err := tl.st.Scan(start, end)
		if err != nil {
			return storageErr("timeline: put create database scan", err)
		}
		for it.Next() {
			dk := tl.decodeRepoKey(it.Key())
			destRel := dk.Tag.Rel
			destRel.Tablespace = tablespace
			destRel.Database = database
			destKey := keycodec.RepositoryKey{
				Tag: keycodec.BufferTag{Rel: destRel, Block: dk.Tag.Block},
				LSN: lsn,
			}
			items = append(items, copyItem{destKey: destKey, value: append([]byte(nil), it.Value()...)})
		}
		it.Close()
	}

	if len(items) == 0 {
		return nil
	}

	err := tl.st.WriteBatch(func(b store.Batch) error {
		for _, item := range items {
			b.Put(tl.encodeRepoKey(item.destKey), item.value)
		}
		return nil
	})
	if err != nil {
		return storageErr("timeline: put create database write", err)
	}
	return nil
}
