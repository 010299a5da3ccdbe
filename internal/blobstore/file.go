package blobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const indexFile = "index.json"

type fileEntry struct {
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	StoredAt    time.Time `json:"stored_at"`
}

// FileStore keeps objects as files under dir/bucket, with an index of content
// types next to them.
type FileStore struct {
	mu      sync.RWMutex
	dir     string
	bucket  string
	entries map[string]*fileEntry
}

func NewFileStore(dir, bucket string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file backend requires a directory")
	}

	fs := &FileStore{
		dir:     filepath.Join(dir, bucket),
		bucket:  bucket,
		entries: make(map[string]*fileEntry),
	}

	if err := os.MkdirAll(fs.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create bucket directory: %w", err)
	}

	// Load existing index if present
	if err := fs.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return fs, nil
}

func (fs *FileStore) Exists(_ context.Context, key string) (bool, error) {
	path, err := fs.objectPath(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (fs *FileStore) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	path, err := fs.objectPath(key)
	if err != nil {
		return "", err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("failed to write object: %w", err)
	}

	fs.entries[key] = &fileEntry{
		ContentType: contentType,
		Size:        len(data),
		StoredAt:    time.Now(),
	}
	if err := fs.save(); err != nil {
		return "", fmt.Errorf("failed to update index: %w", err)
	}

	return fs.URI(key), nil
}

func (fs *FileStore) URI(key string) string {
	return fmt.Sprintf("file://%s/%s", fs.bucket, key)
}

// Get reads an object and its recorded content type.
func (fs *FileStore) Get(key string) ([]byte, string, error) {
	path, err := fs.objectPath(key)
	if err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()
	var contentType string
	if entry, ok := fs.entries[key]; ok {
		contentType = entry.ContentType
	}
	return data, contentType, nil
}

func (fs *FileStore) objectPath(key string) (string, error) {
	if key == "" || key == indexFile || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return filepath.Join(fs.dir, key), nil
}

func (fs *FileStore) save() error {
	data, err := json.MarshalIndent(fs.entries, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(fs.dir, indexFile), data)
}

func (fs *FileStore) load() error {
	data, err := os.ReadFile(filepath.Join(fs.dir, indexFile))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &fs.entries)
}

// writeAtomic writes to a temp file in the same directory and renames it into
// place, so readers never observe a partial object.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
