package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/EternisAI/wg-provisioner/internal/clients"
)

// FileStore keeps the registry as one JSON document mapping identity to record.
type FileStore struct {
	path string
	now  func() time.Time
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}
	return &FileStore{path: path, now: time.Now}, nil
}

func (s *FileStore) Path() string { return s.path }

// Load never fails: a missing file is a first run, and an unreadable or corrupt
// file is moved aside and treated as empty so the service can keep running.
func (s *FileStore) Load(ctx context.Context) (clients.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return clients.Snapshot{}, nil
	}
	if err != nil {
		slog.Error("Registry unreadable, starting from an empty registry", "path", s.path, "error", err)
		return clients.Snapshot{}, nil
	}
	if len(data) == 0 {
		return clients.Snapshot{}, nil
	}

	var snapshot clients.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, s.now().Unix())
		if renameErr := os.Rename(s.path, aside); renameErr != nil {
			slog.Error("Failed to move corrupt registry aside", "path", s.path, "error", renameErr)
		}
		slog.Error("Registry corrupt, starting from an empty registry",
			"path", s.path,
			"moved_to", aside,
			"error", err)
		return clients.Snapshot{}, nil
	}
	if snapshot == nil {
		snapshot = clients.Snapshot{}
	}
	for id, rec := range snapshot {
		if rec == nil {
			delete(snapshot, id)
			continue
		}
		rec.Identity = id
	}
	return snapshot, nil
}

// Save writes to a temporary file in the same directory and renames it over the
// registry, so a crash leaves either the old or the new snapshot on disk.
func (s *FileStore) Save(ctx context.Context, snapshot clients.Snapshot) error {
	if snapshot == nil {
		snapshot = clients.Snapshot{}
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize registry: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary registry file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close registry: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("failed to set registry permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace registry: %w", err)
	}
	tmpName = ""

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
