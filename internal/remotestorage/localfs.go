package remotestorage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalFS implements Storage over a plain directory tree, standing in
// for an object store in tests and single-node deployments.
type LocalFS struct {
	root string
	comp *compressor
}

// NewLocalFS creates a LocalFS rooted at root, creating it if absent.
func NewLocalFS(root string) (*LocalFS, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("remotestorage: creating local root %s: %w", root, err)
	}
	comp, err := newCompressor()
	if err != nil {
		return nil, err
	}
	return &LocalFS{root: root, comp: comp}, nil
}

func (l *LocalFS) fsPath(objectPath string) string {
	return filepath.Join(l.root, filepath.FromSlash(objectPath))
}

// Upload compresses data and writes it to objectPath, creating any
// missing parent directories.
func (l *LocalFS) Upload(_ context.Context, objectPath string, data []byte) error {
	full := l.fsPath(objectPath)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("remotestorage: creating directory for %s: %w", objectPath, err)
	}
	if err := os.WriteFile(full, l.comp.compress(data), 0644); err != nil {
		return fmt.Errorf("remotestorage: writing %s: %w", objectPath, err)
	}
	return nil
}

// Download reads and decompresses the full object at objectPath.
func (l *LocalFS) Download(_ context.Context, objectPath string) ([]byte, error) {
	compressed, err := os.ReadFile(l.fsPath(objectPath))
	if err != nil {
		return nil, fmt.Errorf("remotestorage: reading %s: %w", objectPath, err)
	}
	return l.comp.decompress(compressed)
}

// DownloadRange downloads and decompresses the full object, returning
// the [offset, offset+length) slice of the decompressed content.
func (l *LocalFS) DownloadRange(ctx context.Context, objectPath string, offset, length int64) ([]byte, error) {
	full, err := l.Download(ctx, objectPath)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset > int64(len(full)) {
		return nil, fmt.Errorf("remotestorage: range offset %d out of bounds for %s (%d bytes)", offset, objectPath, len(full))
	}
	end := offset + length
	if end > int64(len(full)) {
		end = int64(len(full))
	}
	return full[offset:end], nil
}

// Delete removes the object at objectPath. A missing object is not an
// error.
func (l *LocalFS) Delete(_ context.Context, objectPath string) error {
	if err := os.Remove(l.fsPath(objectPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remotestorage: deleting %s: %w", objectPath, err)
	}
	return nil
}

// List returns every object path under prefix, relative to the root.
func (l *LocalFS) List(_ context.Context, prefix string) ([]string, error) {
	base := l.fsPath(prefix)
	var out []string
	err := filepath.Walk(l.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if !strings.HasPrefix(p, base) {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("remotestorage: listing %s: %w", prefix, err)
	}
	return out, nil
}
