package server

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/linux/projects/server/page-server/internal/auth"
	"github.com/linux/projects/server/page-server/internal/cache"
	"github.com/linux/projects/server/page-server/internal/redo"
	"github.com/linux/projects/server/page-server/internal/remotestorage"
	"github.com/linux/projects/server/page-server/internal/repository"
	"github.com/linux/projects/server/page-server/internal/snapshots"
	"github.com/linux/projects/server/page-server/internal/store"
	"github.com/linux/projects/server/page-server/internal/timeline"
)

// DefaultWaitLSNTimeout bounds how long a page read blocks on
// last_valid_lsn catching up before giving up.
const DefaultWaitLSNTimeout = 30 * time.Second

// PageServer wires one Repository, serving exactly one active Timeline,
// to the HTTP API: a two-tier result cache in front of
// Timeline.GetPageAtLSN, an auth gate, and a snapshot manager. A single
// process serves one timeline, matching the single TimelineID
// configured at startup.
type PageServer struct {
	Repo      *repository.Repository
	Timeline  *timeline.Timeline
	Cache     *cache.PageCache
	LFC       *cache.LFCCache
	Auth      *auth.Middleware
	Snapshots *snapshots.SnapshotManager
	Remote    remotestorage.Storage // durability/checkpoint backend, nil if unconfigured

	WaitLSNTimeout time.Duration
}

// Config holds configuration for creating a PageServer.
type Config struct {
	DataDir    string
	TimelineID string // uuid.UUID string; empty generates a fresh one

	CacheSize    int   // Tier-1 LRU entry count
	LFCSizeBytes int64 // Tier-2 RAM cache byte budget; 0 auto-sizes to 1/4 of system memory

	WaitLSNTimeout time.Duration

	// RedoNetwork/RedoAddress configure the external redo collaborator.
	// An empty RedoNetwork uses the deterministic redo.NoOp, suitable
	// only for development: it never actually replays WAL.
	RedoNetwork string // "unix" or "tcp"
	RedoAddress string

	// RemoteBackend selects the durability backend behind the local
	// store: "", "local", or "s3". "" disables remote storage.
	RemoteBackend string
	RemoteRoot    string // local fs root, when RemoteBackend == "local"
	S3Endpoint    string
	S3Bucket      string
	S3Region      string
	S3AccessKey   string
	S3SecretKey   string
	S3Prefix      string
	S3UseSSL      bool

	APIKey     string
	AuthTokens string
}

// NewPageServer creates a Page Server with persistent storage, restoring
// (or creating) the configured timeline and wiring the cache, auth and
// snapshot collaborators around it.
func NewPageServer(ctx context.Context, cfg Config) (*PageServer, error) {
	st, err := store.OpenK4Store(filepath.Join(cfg.DataDir, "store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	var redoMgr redo.Manager
	if cfg.RedoNetwork != "" {
		redoMgr = redo.NewSocket(cfg.RedoNetwork, cfg.RedoAddress, 10*time.Second)
		log.Printf("Using external redo manager: %s %s", cfg.RedoNetwork, cfg.RedoAddress)
	} else {
		redoMgr = &redo.NoOp{}
		log.Printf("Using no-op redo manager (development only)")
	}

	repo, err := repository.New(st, redoMgr, filepath.Join(cfg.DataDir, "timelines"))
	if err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}

	id, err := resolveTimelineID(cfg.TimelineID)
	if err != nil {
		return nil, fmt.Errorf("invalid timeline id: %w", err)
	}

	tl, err := repo.GetOrRestoreTimeline(id)
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline %s: %w", id, err)
	}
	if err := repo.PersistMeta(tl); err != nil {
		return nil, fmt.Errorf("failed to persist metadata for timeline %s: %w", id, err)
	}
	log.Printf("Timeline: %s (last_record_lsn=%s)", id, tl.Frontier().GetLastRecordLsn())

	remote, err := newRemoteStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote storage: %w", err)
	}

	pageCache := cache.NewPageCache(cfg.CacheSize)
	lfcSize := cfg.LFCSizeBytes
	if lfcSize == 0 {
		lfcSize = cache.GetSystemMemory() / 4
		log.Printf("LFC size not configured, sizing to 1/4 of system memory: %d bytes", lfcSize)
	}
	lfc := cache.NewLFCCache(lfcSize)
	authMiddleware := auth.New(cfg.APIKey, cfg.AuthTokens)

	snapshotManager, err := snapshots.NewSnapshotManager(cfg.DataDir, id)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot manager: %w", err)
	}

	waitTimeout := cfg.WaitLSNTimeout
	if waitTimeout == 0 {
		waitTimeout = DefaultWaitLSNTimeout
	}

	return &PageServer{
		Repo:           repo,
		Timeline:       tl,
		Cache:          pageCache,
		LFC:            lfc,
		Auth:           authMiddleware,
		Snapshots:      snapshotManager,
		Remote:         remote,
		WaitLSNTimeout: waitTimeout,
	}, nil
}

func resolveTimelineID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(s)
}

func newRemoteStorage(ctx context.Context, cfg Config) (remotestorage.Storage, error) {
	switch cfg.RemoteBackend {
	case "":
		return nil, nil
	case "local":
		root := cfg.RemoteRoot
		if root == "" {
			root = filepath.Join(cfg.DataDir, "remote")
		}
		return remotestorage.NewLocalFS(root)
	case "s3":
		if cfg.S3Bucket == "" || cfg.S3Endpoint == "" {
			return nil, fmt.Errorf("s3-bucket and s3-endpoint are required when remote-backend=s3")
		}
		s3cfg := remotestorage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Prefix:    cfg.S3Prefix,
			UseSSL:    cfg.S3UseSSL,
		}
		return remotestorage.NewS3(ctx, s3cfg)
	default:
		return nil, fmt.Errorf("unknown remote backend: %s (supported: \"\", local, s3)", cfg.RemoteBackend)
	}
}
