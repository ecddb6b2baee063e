package timeline

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/linux/projects/server/page-server/internal/keycodec"
	"github.com/linux/projects/server/page-server/internal/redo"
	"github.com/linux/projects/server/page-server/internal/store"
)

func newTestTimeline(t *testing.T) (*Timeline, *redo.NoOp) {
	t.Helper()
	mem := store.NewMem()
	r := &redo.NoOp{}
	tl := New(uuid.New(), mem, r)
	return tl, r
}

func rel(relation uint32) keycodec.RelTag {
	return keycodec.RelTag{Fork: keycodec.MainForkNum, Tablespace: 1663, Database: 16384, Relation: relation}
}

func tag(relation, block uint32) keycodec.BufferTag {
	return keycodec.BufferTag{Rel: rel(relation), Block: block}
}

// S1: basic versioning — writing the same block at increasing LSNs keeps
// every version retrievable at its own LSN, later LSNs see the newer
// version, and relsize
// tracks the highest alive block plus one.
func TestScenarioS1BasicVersioning(t *testing.T) {
	tl, _ := newTestTimeline(t)
	ctx := context.Background()

	require.NoError(t, tl.PutPageImage(tag(100, 0), 2, []byte("block0@2")))
	require.NoError(t, tl.PutPageImage(tag(100, 0), 3, []byte("block0@3")))
	require.NoError(t, tl.PutPageImage(tag(100, 1), 4, []byte("block1@4")))
	require.NoError(t, tl.PutPageImage(tag(100, 2), 5, []byte("block2@5")))
	tl.Frontier().AdvanceLastValidLsn(5)

	img, err := tl.GetPageAtLSN(ctx, tag(100, 0), 2)
	require.NoError(t, err)
	require.Equal(t, []byte("block0@2"), img)

	img, err = tl.GetPageAtLSN(ctx, tag(100, 0), 3)
	require.NoError(t, err)
	require.Equal(t, []byte("block0@3"), img)

	// Relsize at LSN 2 must not count the blocks first written at LSN 4 and 5.
	size, err := tl.GetRelSize(ctx, rel(100), 2)
	require.NoError(t, err)
	require.Equal(t, uint32(1), size)

	size, err = tl.GetRelSize(ctx, rel(100), 4)
	require.NoError(t, err)
	require.Equal(t, uint32(2), size)

	size, err = tl.GetRelSize(ctx, rel(100), 5)
	require.NoError(t, err)
	require.Equal(t, uint32(3), size)
}

// S2: truncation preserves history — a truncation to nblocks drops every
// block >= nblocks at the truncation LSN, but earlier reads of those
// blocks at a pre-truncation LSN still succeed.
func TestScenarioS2TruncationPreservesHistory(t *testing.T) {
	tl, _ := newTestTimeline(t)
	ctx := context.Background()

	require.NoError(t, tl.PutPageImage(tag(200, 0), 1, []byte("b0")))
	require.NoError(t, tl.PutPageImage(tag(200, 1), 1, []byte("b1")))
	require.NoError(t, tl.PutPageImage(tag(200, 2), 1, []byte("b2")))
	require.NoError(t, tl.PutTruncation(rel(200), 10, 1))
	tl.Frontier().AdvanceLastValidLsn(10)

	size, err := tl.GetRelSize(ctx, rel(200), 1)
	require.NoError(t, err)
	require.Equal(t, uint32(3), size)

	size, err = tl.GetRelSize(ctx, rel(200), 10)
	require.NoError(t, err)
	require.Equal(t, uint32(1), size)

	// Block 1's pre-truncation version is still readable.
	img, err := tl.GetPageAtLSN(ctx, tag(200, 1), 1)
	require.NoError(t, err)
	require.Equal(t, []byte("b1"), img)

	// Post-truncation, block 1 is gone.
	_, err = tl.GetPageAtLSN(ctx, tag(200, 1), 10)
	require.ErrorIs(t, err, ErrPageNotFound)
}

// S3: wait-lsn — a read for an LSN not yet valid blocks until the
// frontier advances past it, or fails if its context is cancelled first.
func TestScenarioS3WaitLsn(t *testing.T) {
	tl, _ := newTestTimeline(t)

	require.NoError(t, tl.PutPageImage(tag(300, 0), 5, []byte("v5")))

	done := make(chan struct{})
	var img []byte
	var getErr error
	go func() {
		img, getErr = tl.GetPageAtLSN(context.Background(), tag(300, 0), 5)
		close(done)
	}()

	tl.Frontier().AdvanceLastValidLsn(5)
	<-done

	require.NoError(t, getErr)
	require.Equal(t, []byte("v5"), img)
}

func TestScenarioS3WaitLsnFailsOnCancelledContext(t *testing.T) {
	tl, _ := newTestTimeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tl.GetPageAtLSN(ctx, tag(300, 0), 5)
	require.Error(t, err)
}

// S4: a relation spanning many blocks still reports the right size and
// range at a given LSN; a reduced block count stands in for a full
// segment boundary to keep the test fast.
func TestScenarioS4LargeRelation(t *testing.T) {
	const scaledBlockCount = 64
	tl, _ := newTestTimeline(t)
	ctx := context.Background()

	for b := uint32(0); b < scaledBlockCount; b++ {
		require.NoError(t, tl.PutPageImage(tag(400, b), 1, []byte{byte(b)}))
	}
	tl.Frontier().AdvanceLastValidLsn(1)

	size, err := tl.GetRelSize(ctx, rel(400), 1)
	require.NoError(t, err)
	require.Equal(t, uint32(scaledBlockCount), size)

	lo, hi, err := tl.GetRange(ctx, rel(400), 1)
	require.NoError(t, err)
	require.Equal(t, uint32(0), lo)
	require.Equal(t, uint32(scaledBlockCount), hi)
}

// S5: create-database clones the five forks of a template database into
// a fresh one, visible atomically at the creation LSN.
func TestScenarioS5CreateDatabaseClone(t *testing.T) {
	tl, _ := newTestTimeline(t)
	ctx := context.Background()

	srcTablespace, srcDatabase := uint32(1663), uint32(1)
	newTablespace, newDatabase := uint32(1663), uint32(50000)

	srcRel := keycodec.RelTag{Fork: keycodec.MainForkNum, Tablespace: srcTablespace, Database: srcDatabase, Relation: 100}
	require.NoError(t, tl.PutPageImage(keycodec.BufferTag{Rel: srcRel, Block: 0}, 1, []byte("template-block0")))

	fsmRel := keycodec.RelTag{Fork: keycodec.FSMForkNum, Tablespace: srcTablespace, Database: srcDatabase, Relation: 100}
	require.NoError(t, tl.PutPageImage(keycodec.BufferTag{Rel: fsmRel, Block: 0}, 1, []byte("template-fsm0")))

	require.NoError(t, tl.PutCreateDatabase(ctx, 10, newTablespace, newDatabase, srcTablespace, srcDatabase))
	tl.Frontier().AdvanceLastValidLsn(10)

	newRel := keycodec.RelTag{Fork: keycodec.MainForkNum, Tablespace: newTablespace, Database: newDatabase, Relation: 100}
	img, err := tl.GetPageAtLSN(ctx, keycodec.BufferTag{Rel: newRel, Block: 0}, 10)
	require.NoError(t, err)
	require.Equal(t, []byte("template-block0"), img)

	newFsmRel := keycodec.RelTag{Fork: keycodec.FSMForkNum, Tablespace: newTablespace, Database: newDatabase, Relation: 100}
	img, err = tl.GetPageAtLSN(ctx, keycodec.BufferTag{Rel: newFsmRel, Block: 0}, 10)
	require.NoError(t, err)
	require.Equal(t, []byte("template-fsm0"), img)

	// The clone must not be visible before its creation LSN.
	size, err := tl.GetRelSize(ctx, newRel, 9)
	require.NoError(t, err)
	require.Equal(t, uint32(0), size)
}

// S6: redo chain — a base image plus a forward chain of WAL records is
// handed to the redo manager in (base, then records oldest-to-newest)
// order, and a chain starting from a WillInit record has no base.
func TestScenarioS6RedoChain(t *testing.T) {
	tl, r := newTestTimeline(t)
	ctx := context.Background()

	bt := tag(600, 0)
	require.NoError(t, tl.PutPageImage(bt, 1, []byte("BASE")))
	require.NoError(t, tl.PutWALRecord(bt, keycodec.WALRecord{LSN: 2, WillInit: false, Data: []byte("r2")}))
	require.NoError(t, tl.PutWALRecord(bt, keycodec.WALRecord{LSN: 3, WillInit: false, Data: []byte("r3")}))
	tl.Frontier().AdvanceLastValidLsn(3)

	img, err := tl.GetPageAtLSN(ctx, bt, 3)
	require.NoError(t, err)
	require.Equal(t, []byte("BASEr2r3"), img)
	require.Len(t, r.Calls, 1)
	require.Equal(t, []byte("BASE"), r.Calls[0].Base)
	require.Len(t, r.Calls[0].Records, 2)
	require.Equal(t, keycodec.Lsn(2), r.Calls[0].Records[0].LSN)
	require.Equal(t, keycodec.Lsn(3), r.Calls[0].Records[1].LSN)

	bt2 := tag(600, 1)
	require.NoError(t, tl.PutWALRecord(bt2, keycodec.WALRecord{LSN: 5, WillInit: true, Data: []byte("init")}))
	tl.Frontier().AdvanceLastValidLsn(5)

	img, err = tl.GetPageAtLSN(ctx, bt2, 5)
	require.NoError(t, err)
	require.Equal(t, []byte("init"), img)
	require.Len(t, r.Calls, 2)
	require.Nil(t, r.Calls[1].Base)
}

func TestGetRelSizeExistsDistinguishesUnknownFromDropped(t *testing.T) {
	tl, _ := newTestTimeline(t)
	ctx := context.Background()
	tl.Frontier().AdvanceLastValidLsn(1)

	exists, err := tl.GetRelSizeExists(ctx, rel(700), 1)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, tl.PutPageImage(tag(700, 0), 1, []byte("x")))
	require.NoError(t, tl.PutTruncation(rel(700), 2, 0))
	tl.Frontier().AdvanceLastValidLsn(2)

	exists, err = tl.GetRelSizeExists(ctx, rel(700), 2)
	require.NoError(t, err)
	require.True(t, exists)

	size, err := tl.GetRelSize(ctx, rel(700), 2)
	require.NoError(t, err)
	require.Equal(t, uint32(0), size)
}
