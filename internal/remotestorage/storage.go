package remotestorage

import (
	"context"
	"path"
	"path/filepath"

	"github.com/google/uuid"
)

// Storage is the remote durability backend that checkpoints of a
// timeline can be written to and read back from.
type Storage interface {
	// List returns every object path under prefix, in no particular
	// order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Upload compresses data and writes it to objectPath, overwriting
	// any existing object at that path.
	Upload(ctx context.Context, objectPath string, data []byte) error
	// Download reads and decompresses the full object at objectPath.
	Download(ctx context.Context, objectPath string) ([]byte, error)
	// DownloadRange reads length decompressed bytes starting at offset
	// within the object at objectPath.
	DownloadRange(ctx context.Context, objectPath string, offset, length int64) ([]byte, error)
	// Delete removes the object at objectPath. Deleting a
	// non-existent object is not an error.
	Delete(ctx context.Context, objectPath string) error
}

// StoragePath builds the remote object path for name under timeline
// id, e.g. "timelines/<uuid>/<name>".
func StoragePath(id uuid.UUID, name string) string {
	return path.Join("timelines", id.String(), name)
}

// LocalPath builds the on-disk path for name under timeline id within
// localRoot, mirroring StoragePath's layout so that a checkpoint's
// remote and local locations differ only in root.
func LocalPath(localRoot string, id uuid.UUID, name string) string {
	return filepath.Join(localRoot, "timelines", id.String(), name)
}
