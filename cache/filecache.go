package cache

import (
	"context"
	"crypto/md5"
	"fmt"
	"math/rand"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// filePrefix starts the name of every file the cache owns. Clear and
// RemoveByPrefix only ever touch files carrying it.
const filePrefix = "farmstay-"

// FileCache implements the Store interface using filesystem storage
type FileCache struct {
	dir string
}

// NewFileCache creates a new file-based cache in the specified subdirectory
// If subdir is empty, uses a default cache directory
func NewFileCache(subdir string) (*FileCache, error) {
	usr, err := user.Current()
	if err != nil {
		return nil, err
	}

	baseDir := filepath.Join(usr.HomeDir, ".farmstay_cache")
	if subdir != "" {
		baseDir = filepath.Join(baseDir, subdir)
	}
	return NewFileCacheAt(baseDir)
}

// NewFileCacheAt creates a file cache rooted at dir.
func NewFileCacheAt(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileCache{dir: dir}, nil
}

// Read implements Reader
func (fc *FileCache) Read(_ context.Context, key string) (*Entry, bool) {
	data, err := os.ReadFile(fc.path(key))
	if err != nil {
		return nil, false
	}
	return decodeEntry(data)
}

// Write implements Writer
func (fc *FileCache) Write(_ context.Context, key string, entry *Entry) error {
	path := fc.path(key)

	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	// Write to temporary file first, then rename (atomic operation)
	tmpPath := path + fmt.Sprintf(".tmp.%d", rand.Int())
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

// Remove implements Remover
func (fc *FileCache) Remove(_ context.Context, key string) error {
	err := os.Remove(fc.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RemoveByPrefix implements Remover. Keys long enough to be stored under a
// hash cannot be matched by prefix; none of the keys in keys.go get there.
func (fc *FileCache) RemoveByPrefix(_ context.Context, prefix string) error {
	entries, err := os.ReadDir(fc.dir)
	if err != nil {
		return err
	}

	want := filePrefix + fc.sanitizeKey(prefix)
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || !strings.HasPrefix(name, want) {
			continue
		}
		if err := os.Remove(filepath.Join(fc.dir, name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("remove prefix %s: %v", prefix, errs)
	}
	return nil
}

// Clear implements Remover
func (fc *FileCache) Clear(ctx context.Context) error {
	return fc.RemoveByPrefix(ctx, "")
}

// path generates the full filesystem path for a cache key
func (fc *FileCache) path(key string) string {
	return filepath.Join(fc.dir, filePrefix+fc.sanitizeKey(key)+".json")
}

// sanitizeKey ensures the key is safe for use as a filename
func (fc *FileCache) sanitizeKey(key string) string {
	// For very long keys, use hash to avoid filesystem limits
	if len(key) > 200 {
		hash := md5.Sum([]byte(key))
		return fmt.Sprintf("hash_%x", hash)
	}

	// Replace unsafe characters
	unsafe := []string{"/", "\\", ":", "?", "&", "=", "#", "<", ">", "|", "*", "\"", " "}
	result := key
	for _, char := range unsafe {
		result = strings.ReplaceAll(result, char, "_")
	}

	return result
}
