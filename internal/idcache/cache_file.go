package idcache

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileCache stores resolutions on disk, one file per key.
// Expired entries are treated as missing.
type FileCache struct {
	rootDir string
	mu      sync.RWMutex
}

// NewFileCache creates a file-backed cache under rootDir.
// The directory will be created if it does not exist.
func NewFileCache(rootDir string) (*FileCache, error) {
	if rootDir == "" {
		return nil, errors.New("rootDir is required")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, err
	}
	return &FileCache{rootDir: rootDir}, nil
}

func (c *FileCache) filenameForKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := fmt.Sprintf("%x.json", sum[:])
	return filepath.Join(c.rootDir, name)
}

func (c *FileCache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	fn := c.filenameForKey(key)
	c.mu.RUnlock()

	b, err := os.ReadFile(fn)
	if err != nil {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		_ = os.Remove(fn)
		return Entry{}, false
	}
	if e.expired() {
		_ = os.Remove(fn)
		return Entry{}, false
	}
	return e, true
}

func (c *FileCache) Set(key string, value Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value.ExpiresAt.IsZero() {
		value.ExpiresAt = time.Now().Add(DefaultTTL)
	}
	fn := c.filenameForKey(key)
	tmp := fn + ".tmp"
	b, _ := json.Marshal(value)
	_ = os.WriteFile(tmp, b, fs.FileMode(0o644))
	_ = os.Rename(tmp, fn)
}
