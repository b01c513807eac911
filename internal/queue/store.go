// Package queue holds the persistent ordered collection of reservation
// requests and the retry schedule that governs when a failed request is
// offered for dispatch again.
package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/pistabot/pistabot/internal/types"
)

// FileStore persists the queue as a single JSON document whose top level
// is the list of reservation records. Every write replaces the whole file
// atomically so a crash never leaves a torn document.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the given file path. The parent
// directory is created if missing.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("queue store path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

// Load reads all persisted requests. A missing file is an empty queue,
// not an error.
func (s *FileStore) Load() ([]*types.Request, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", s.path).Msg("Queue file does not exist yet, starting empty")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read queue file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var requests []*types.Request
	if err := json.Unmarshal(data, &requests); err != nil {
		return nil, fmt.Errorf("queue file corrupt: %w", err)
	}

	log.Info().Int("requests", len(requests)).Str("path", s.path).Msg("Queue loaded from disk")
	return requests, nil
}

// Save writes the full request list. Write-to-temp plus rename keeps the
// replacement atomic on POSIX filesystems.
func (s *FileStore) Save(requests []*types.Request) error {
	data, err := json.MarshalIndent(requests, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode queue: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".queue-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp queue file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp queue file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp queue file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp queue file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace queue file: %w", err)
	}
	return nil
}
