package cursor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const cursorFileName = "cursor.json"

// cursorFile is the on-disk representation of one stored cursor
type cursorFile struct {
	SourceID  string    `json:"source_id"`
	Cursor    string    `json:"cursor"`
	UpdatedAt time.Time `json:"updated_at"`
}

// fileStore implements Store using one JSON file per source under a base
// directory. Writes go through a temporary file and an atomic rename so a
// crash never leaves a partially written cursor.
type fileStore struct {
	basePath string

	mu sync.Mutex
}

// NewFileStore creates a new file-based cursor store.
// basePath is the base directory where per-source cursor files are stored.
func NewFileStore(basePath string) Store {
	return &fileStore{basePath: basePath}
}

// sourceDir maps a source ID to a directory name. Source IDs contain a
// colon, which is not filesystem-safe everywhere, so the directory is a
// hash of the ID.
func (f *fileStore) sourceDir(sourceID string) string {
	sum := sha256.Sum256([]byte(sourceID))
	return filepath.Join(f.basePath, hex.EncodeToString(sum[:8]))
}

func (f *fileStore) Get(_ context.Context, sourceID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.sourceDir(sourceID), cursorFileName)

	// #nosec G304 -- path is derived from basePath plus a hash
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read cursor file for source '%s': %w", sourceID, err)
	}

	var cf cursorFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return "", fmt.Errorf("failed to unmarshal cursor for source '%s': %w", sourceID, err)
	}
	return cf.Cursor, nil
}

func (f *fileStore) Set(_ context.Context, sourceID, value string) error {
	if value == "" {
		return fmt.Errorf("refusing to store an empty cursor for source '%s'", sourceID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := f.sourceDir(sourceID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create cursor directory for source '%s': %w", sourceID, err)
	}

	data, err := json.MarshalIndent(&cursorFile{
		SourceID:  sourceID,
		Cursor:    value,
		UpdatedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cursor for source '%s': %w", sourceID, err)
	}

	filePath := filepath.Join(dir, cursorFileName)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary cursor file for source '%s': %w", sourceID, err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename cursor file for source '%s': %w", sourceID, err)
	}

	return nil
}

func (f *fileStore) Clear(_ context.Context, sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.sourceDir(sourceID), cursorFileName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cursor file for source '%s': %w", sourceID, err)
	}
	return nil
}
