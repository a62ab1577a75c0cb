package resultcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileBlob persists the cache as a single JSON file, read and written
// wholesale on every mutation. Writes go through a temp file and rename so a
// crash mid-write leaves the previous blob intact.
type FileBlob struct {
	path string
}

// NewFileBlob creates a FileBlob at the given path, creating the parent
// directory if needed.
func NewFileBlob(path string) (*FileBlob, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w",
			err)
	}

	return &FileBlob{path: path}, nil
}

// Save writes the full entry map to disk atomically.
func (f *FileBlob) Save(entries map[string]Entry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode cache blob: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cache blob: %w", err)
	}

	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace cache blob: %w", err)
	}

	return nil
}

// Load reads back the persisted entry map. A missing blob yields an empty
// map.
func (f *FileBlob) Load() (map[string]Entry, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return make(map[string]Entry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache blob: %w", err)
	}

	entries := make(map[string]Entry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode cache blob: %w", err)
	}

	return entries, nil
}

// Ensure FileBlob implements Blob at compile time.
var _ Blob = (*FileBlob)(nil)
