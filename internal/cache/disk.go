package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	diskFilePrefix = "tyre_data_"
	diskFileSuffix = ".json"
)

// DiskClient implements a file-per-key JSON cache. Entries never expire;
// writes are last-writer-wins and unreadable files count as misses, so a
// stale or torn entry can only cost a warehouse round trip.
type DiskClient struct {
	root string
}

// NewDiskClient creates a disk cache rooted at the given directory,
// creating it if needed.
func NewDiskClient(root string) (*DiskClient, error) {
	if root == "" {
		return nil, errors.New("disk cache root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &DiskClient{root: root}, nil
}

func (c *DiskClient) path(key string) string {
	return filepath.Join(c.root, diskFilePrefix+key+diskFileSuffix)
}

// Get retrieves a value from the cache.
func (c *DiskClient) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("disk cache read: %w", err)
	}
	// Reject torn writes rather than handing corrupt JSON downstream.
	if !json.Valid(data) {
		return nil, ErrCacheMiss
	}
	return data, nil
}

// Set stores a value. The TTL is ignored: disk entries live until
// overwritten or deleted.
func (c *DiskClient) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	tmp, err := os.CreateTemp(c.root, diskFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("disk cache temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("disk cache write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("disk cache close: %w", err)
	}

	if err := os.Rename(tmpName, c.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("disk cache rename: %w", err)
	}
	return nil
}

// Delete removes a value from the cache.
func (c *DiskClient) Delete(ctx context.Context, key string) error {
	if err := os.Remove(c.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("disk cache delete: %w", err)
	}
	return nil
}

// DeleteByPrefix removes all keys with the given prefix.
func (c *DiskClient) DeleteByPrefix(ctx context.Context, prefix string) error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return fmt.Errorf("disk cache scan: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, diskFilePrefix) || !strings.HasSuffix(name, diskFileSuffix) {
			continue
		}
		key := strings.TrimSuffix(strings.TrimPrefix(name, diskFilePrefix), diskFileSuffix)
		if strings.HasPrefix(key, prefix) {
			if err := os.Remove(filepath.Join(c.root, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("disk cache delete by prefix: %w", err)
			}
		}
	}
	return nil
}

// Close is a no-op for the disk cache.
func (c *DiskClient) Close() error {
	return nil
}
