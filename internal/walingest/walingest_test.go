package walingest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/linux/projects/server/page-server/internal/keycodec"
	"github.com/linux/projects/server/page-server/internal/redo"
	"github.com/linux/projects/server/page-server/internal/store"
	"github.com/linux/projects/server/page-server/internal/timeline"
)

func newTestTimeline() *timeline.Timeline {
	mem := store.NewMem()
	return timeline.New(uuid.New(), mem, &redo.NoOp{})
}

func testTag(relation, block uint32) keycodec.BufferTag {
	return keycodec.BufferTag{
		Rel:   keycodec.RelTag{Fork: keycodec.MainForkNum, Tablespace: 1663, Database: 16384, Relation: relation},
		Block: block,
	}
}

func TestIngestWritesOneRecordPerBlock(t *testing.T) {
	tl := newTestTimeline()
	ctx := context.Background()

	decoded := &DecodedRecord{
		LSN: 10,
		Blocks: []BlockEffect{
			{Tag: testTag(100, 0), WillInit: true},
			{Tag: testTag(100, 1), WillInit: false},
		},
	}
	require.NoError(t, Ingest(ctx, tl, decoded, []byte("payload")))
	tl.Frontier().AdvanceLastValidLsn(10)

	img, err := tl.GetPageAtLSN(ctx, testTag(100, 0), 10)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), img)

	require.Equal(t, keycodec.Lsn(10), tl.Frontier().GetLastRecordLsn())
}

func TestIngestAppliesWillDropAsDrop(t *testing.T) {
	tl := newTestTimeline()
	ctx := context.Background()

	require.NoError(t, tl.PutPageImage(testTag(200, 0), 1, []byte("x")))
	decoded := &DecodedRecord{
		LSN:    5,
		Blocks: []BlockEffect{{Tag: testTag(200, 0), WillDrop: true}},
	}
	require.NoError(t, Ingest(ctx, tl, decoded, []byte("ignored")))
	tl.Frontier().AdvanceLastValidLsn(5)

	_, err := tl.GetPageAtLSN(ctx, testTag(200, 0), 5)
	require.ErrorIs(t, err, timeline.ErrPageNotFound)
}

func TestIngestSmgrTruncateAppliesHeapFlagOnly(t *testing.T) {
	tl := newTestTimeline()
	ctx := context.Background()

	relTag := keycodec.RelTag{Fork: keycodec.MainForkNum, Tablespace: 1663, Database: 16384, Relation: 300}
	require.NoError(t, tl.PutPageImage(keycodec.BufferTag{Rel: relTag, Block: 0}, 1, []byte("b0")))
	require.NoError(t, tl.PutPageImage(keycodec.BufferTag{Rel: relTag, Block: 1}, 1, []byte("b1")))

	decoded := &DecodedRecord{
		LSN: 20,
		SmgrTruncate: &SmgrTruncatePayload{
			Tablespace: 1663,
			Database:   16384,
			Relation:   300,
			Flags:      SmgrTruncateHeap,
			NewBlocks:  1,
		},
		XlRmid: RmSmgrID,
		XlInfo: XlogSmgrTruncate,
	}
	require.NoError(t, Ingest(ctx, tl, decoded, nil))
	tl.Frontier().AdvanceLastValidLsn(20)

	size, err := tl.GetRelSize(ctx, relTag, 20)
	require.NoError(t, err)
	require.Equal(t, uint32(1), size)
}

func TestIngestSmgrTruncateIgnoresNonHeapFlags(t *testing.T) {
	tl := newTestTimeline()
	ctx := context.Background()

	relTag := keycodec.RelTag{Fork: keycodec.MainForkNum, Tablespace: 1663, Database: 16384, Relation: 301}
	require.NoError(t, tl.PutPageImage(keycodec.BufferTag{Rel: relTag, Block: 0}, 1, []byte("b0")))
	require.NoError(t, tl.PutPageImage(keycodec.BufferTag{Rel: relTag, Block: 1}, 1, []byte("b1")))

	decoded := &DecodedRecord{
		LSN: 20,
		SmgrTruncate: &SmgrTruncatePayload{
			Tablespace: 1663,
			Database:   16384,
			Relation:   301,
			Flags:      0,
			NewBlocks:  1,
		},
		XlRmid: RmSmgrID,
		XlInfo: XlogSmgrTruncate,
	}
	require.NoError(t, Ingest(ctx, tl, decoded, nil))
	tl.Frontier().AdvanceLastValidLsn(20)

	size, err := tl.GetRelSize(ctx, relTag, 20)
	require.NoError(t, err)
	require.Equal(t, uint32(2), size)
}

func TestIngestDbaseCreateClonesForks(t *testing.T) {
	tl := newTestTimeline()
	ctx := context.Background()

	srcRel := keycodec.RelTag{Fork: keycodec.MainForkNum, Tablespace: 1663, Database: 1, Relation: 100}
	require.NoError(t, tl.PutPageImage(keycodec.BufferTag{Rel: srcRel, Block: 0}, 1, []byte("template")))

	decoded := &DecodedRecord{
		LSN:    30,
		XlRmid: RmDbaseID,
		XlInfo: XlogDbaseCreate,
		DbaseCreate: &DbaseCreatePayload{
			Database:      50000,
			Tablespace:    1663,
			SrcDatabase:   1,
			SrcTablespace: 1663,
		},
	}
	require.NoError(t, Ingest(ctx, tl, decoded, nil))
	tl.Frontier().AdvanceLastValidLsn(30)

	destRel := keycodec.RelTag{Fork: keycodec.MainForkNum, Tablespace: 1663, Database: 50000, Relation: 100}
	img, err := tl.GetPageAtLSN(ctx, keycodec.BufferTag{Rel: destRel, Block: 0}, 30)
	require.NoError(t, err)
	require.Equal(t, []byte("template"), img)
}

func TestIngestRejectsNilRecord(t *testing.T) {
	tl := newTestTimeline()
	err := Ingest(context.Background(), tl, nil, nil)
	require.ErrorIs(t, err, ErrMalformedRecord)
}

func TestIngestRejectsMissingSmgrPayload(t *testing.T) {
	tl := newTestTimeline()
	decoded := &DecodedRecord{LSN: 1, XlRmid: RmSmgrID, XlInfo: XlogSmgrTruncate}
	err := Ingest(context.Background(), tl, decoded, nil)
	require.ErrorIs(t, err, ErrMalformedRecord)
}
