// Package repository is the owning container of Timelines: it opens,
// creates and hands out shared Timeline handles keyed by timeline id,
// and persists the small per-timeline metadata record (last_record_lsn)
// used to resume a timeline across restarts.
package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/linux/projects/server/page-server/internal/keycodec"
	"github.com/linux/projects/server/page-server/internal/redo"
	"github.com/linux/projects/server/page-server/internal/store"
	"github.com/linux/projects/server/page-server/internal/timeline"
)

// ErrAlreadyExists is returned by CreateEmptyTimeline when on-disk state
// already exists for the requested id.
var ErrAlreadyExists = errors.New("repository: timeline already exists")

// ErrUnknownTimeline is returned by GetTimeline when no handle is open
// for the requested id.
var ErrUnknownTimeline = errors.New("repository: unknown timeline")

// Repository owns one ordered Store shared by every Timeline it hands
// out; each Timeline's keyspace is its own 16-byte id-prefixed subspace
// within that Store.
type Repository struct {
	mu        sync.RWMutex
	st        store.Store
	redo      redo.Manager
	metaDir   string
	timelines map[uuid.UUID]*timeline.Timeline
}

// New creates a Repository over st, using redoMgr for every Timeline it
// hands out, and metaDir as the directory for per-timeline metadata
// sidecar files.
func New(st store.Store, redoMgr redo.Manager, metaDir string) (*Repository, error) {
	if err := os.MkdirAll(metaDir, 0755); err != nil {
		return nil, fmt.Errorf("repository: creating metadata directory: %w", err)
	}
	return &Repository{
		st:        st,
		redo:      redoMgr,
		metaDir:   metaDir,
		timelines: make(map[uuid.UUID]*timeline.Timeline),
	}, nil
}

type timelineMeta struct {
	LastRecordLsn uint64 `json:"last_record_lsn"`
}

func (r *Repository) metaPath(id uuid.UUID) string {
	return filepath.Join(r.metaDir, id.String()+".json")
}

func (r *Repository) readMeta(id uuid.UUID) (*timelineMeta, error) {
	b, err := os.ReadFile(r.metaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: reading metadata for %s: %w", id, err)
	}
	var m timelineMeta
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("repository: decoding metadata for %s: %w", id, err)
	}
	return &m, nil
}

// PersistMeta writes tl's current last-record LSN to its metadata
// sidecar file. The WAL receiver calls this periodically (e.g. after
// advancing the frontier) so a restart can resume from roughly the
// right point.
func (r *Repository) PersistMeta(tl *timeline.Timeline) error {
	m := timelineMeta{LastRecordLsn: uint64(tl.Frontier().GetLastRecordLsn())}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("repository: encoding metadata for %s: %w", tl.ID(), err)
	}
	if err := os.WriteFile(r.metaPath(tl.ID()), b, 0644); err != nil {
		return fmt.Errorf("repository: writing metadata for %s: %w", tl.ID(), err)
	}
	return nil
}

// GetTimeline returns the already-open handle for id, or
// ErrUnknownTimeline if none is open.
func (r *Repository) GetTimeline(id uuid.UUID) (*timeline.Timeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tl, ok := r.timelines[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownTimeline)
	}
	return tl, nil
}

// GetOrRestoreTimeline returns the already-open handle for id if one
// exists, or instantiates one over the shared store, restoring its
// frontier from the persisted last_record_lsn if a metadata file exists.
func (r *Repository) GetOrRestoreTimeline(id uuid.UUID) (*timeline.Timeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tl, ok := r.timelines[id]; ok {
		return tl, nil
	}

	meta, err := r.readMeta(id)
	if err != nil {
		return nil, err
	}

	tl := timeline.New(id, r.st, r.redo)
	if meta != nil {
		lsn := keycodec.Lsn(meta.LastRecordLsn)
		tl.Frontier().InitValidLsn(lsn)
		tl.Frontier().AdvanceLastRecordLsn(lsn)
		tl.Frontier().AdvanceLastValidLsn(lsn)
	}
	r.timelines[id] = tl
	return tl, nil
}

// CreateEmptyTimeline creates a fresh Timeline with LSN counters at 0,
// rejecting the request if on-disk state already exists for id.
func (r *Repository) CreateEmptyTimeline(id uuid.UUID) (*timeline.Timeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.timelines[id]; ok {
		return nil, fmt.Errorf("%s: %w", id, ErrAlreadyExists)
	}
	meta, err := r.readMeta(id)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		return nil, fmt.Errorf("%s: %w", id, ErrAlreadyExists)
	}

	tl := timeline.New(id, r.st, r.redo)
	r.timelines[id] = tl

	if err := r.PersistMeta(tl); err != nil {
		delete(r.timelines, id)
		return nil, err
	}
	return tl, nil
}

// ListTimelines returns every currently open timeline id.
func (r *Repository) ListTimelines() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(r.timelines))
	for id := range r.timelines {
		ids = append(ids, id)
	}
	return ids
}
