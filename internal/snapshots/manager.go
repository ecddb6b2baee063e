// Package snapshots names read-only points in a timeline's history: a
// snapshot is nothing but an LSN with a label, since every past LSN is
// already queryable through Timeline.GetPageAtLSN. A SnapshotManager
// just persists that (id, lsn, description) triple as a JSON sidecar
// per timeline so operators can name LSNs instead of remembering them.
package snapshots

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linux/projects/server/page-server/internal/keycodec"
	"github.com/linux/projects/server/page-server/pkg/types"
)

// SnapshotManager manages the named snapshots of one timeline.
type SnapshotManager struct {
	timelineID   uuid.UUID
	snapshotsDir string
	snapshots    map[string]*types.Snapshot
	mu           sync.RWMutex
}

// NewSnapshotManager creates a snapshot manager scoped to timelineID,
// storing sidecar files under baseDir/snapshots/<timelineID>/.
func NewSnapshotManager(baseDir string, timelineID uuid.UUID) (*SnapshotManager, error) {
	snapshotsDir := filepath.Join(baseDir, "snapshots", timelineID.String())
	if err := os.MkdirAll(snapshotsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshots directory: %w", err)
	}

	sm := &SnapshotManager{
		timelineID:   timelineID,
		snapshotsDir: snapshotsDir,
		snapshots:    make(map[string]*types.Snapshot),
	}

	if err := sm.loadSnapshots(); err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}

	return sm, nil
}

// CreateSnapshot records a snapshot at lsn, within this manager's
// timeline.
func (sm *SnapshotManager) CreateSnapshot(lsn keycodec.Lsn, description string) (*types.Snapshot, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	snapshotID := fmt.Sprintf("snapshot_%s_%d_%d", sm.timelineID, uint64(lsn), time.Now().Unix())
	snapshot := &types.Snapshot{
		ID:          snapshotID,
		TimelineID:  sm.timelineID.String(),
		LSN:         uint64(lsn),
		Timestamp:   time.Now(),
		Description: description,
	}

	snapshotFile := filepath.Join(sm.snapshotsDir, fmt.Sprintf("%s.json", snapshotID))
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := os.WriteFile(snapshotFile, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}

	sm.snapshots[snapshotID] = snapshot
	return snapshot, nil
}

// GetSnapshot retrieves a snapshot by id, rejecting one that belongs to
// a different timeline.
func (sm *SnapshotManager) GetSnapshot(id string) (*types.Snapshot, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	snapshot, exists := sm.snapshots[id]
	if !exists {
		return nil, fmt.Errorf("snapshot not found: %s", id)
	}
	if snapshot.TimelineID != sm.timelineID.String() {
		return nil, fmt.Errorf("snapshot %s belongs to timeline %s, not %s", id, snapshot.TimelineID, sm.timelineID)
	}

	snapshotCopy := *snapshot
	return &snapshotCopy, nil
}

// ListSnapshots returns every snapshot of this manager's timeline.
func (sm *SnapshotManager) ListSnapshots() []*types.Snapshot {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	snapshots := make([]*types.Snapshot, 0, len(sm.snapshots))
	for _, snapshot := range sm.snapshots {
		snapshots = append(snapshots, snapshot)
	}

	return snapshots
}

// DeleteSnapshot deletes a snapshot by id.
func (sm *SnapshotManager) DeleteSnapshot(id string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	_, exists := sm.snapshots[id]
	if !exists {
		return fmt.Errorf("snapshot not found: %s", id)
	}

	snapshotFile := filepath.Join(sm.snapshotsDir, fmt.Sprintf("%s.json", id))
	if err := os.Remove(snapshotFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete snapshot file: %w", err)
	}

	delete(sm.snapshots, id)
	return nil
}

// loadSnapshots loads every snapshot sidecar file from disk.
func (sm *SnapshotManager) loadSnapshots() error {
	entries, err := os.ReadDir(sm.snapshotsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		snapshotFile := filepath.Join(sm.snapshotsDir, entry.Name())
		data, err := os.ReadFile(snapshotFile)
		if err != nil {
			continue // Skip corrupted snapshots
		}

		var snapshot types.Snapshot
		if err := json.Unmarshal(data, &snapshot); err != nil {
			continue // Skip invalid snapshots
		}

		sm.snapshots[snapshot.ID] = &snapshot
	}

	return nil
}
