package artifact

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

var ErrArtifactNotFound = errors.New("artifact not found")

// Store keeps the rendered artifacts of each client in one directory:
// <identity>.conf and <identity>_qr.png. Identities are validated upstream
// to letters and digits, so they are safe as file names.
type Store struct {
	dir string
}

// NewStore creates the artifact directory if it does not exist.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) ConfigPath(identity string) string {
	return filepath.Join(s.dir, identity+".conf")
}

func (s *Store) QRPath(identity string) string {
	return filepath.Join(s.dir, identity+"_qr.png")
}

// Write stores both artifacts. If the second write fails the first is removed again.
func (s *Store) Write(identity string, config string, qr []byte) error {
	if err := os.WriteFile(s.ConfigPath(identity), []byte(config), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.WriteFile(s.QRPath(identity), qr, 0600); err != nil {
		_ = os.Remove(s.ConfigPath(identity))
		return fmt.Errorf("failed to write QR code: %w", err)
	}
	return nil
}

func (s *Store) ReadConfig(identity string) ([]byte, error) {
	return s.read(s.ConfigPath(identity))
}

func (s *Store) ReadQR(identity string) ([]byte, error) {
	return s.read(s.QRPath(identity))
}

func (s *Store) read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// Remove deletes both artifacts. Missing files are not an error.
func (s *Store) Remove(identity string) error {
	var errs []error
	for _, path := range []string{s.ConfigPath(identity), s.QRPath(identity)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to remove artifacts for %s: %w", identity, errors.Join(errs...))
	}
	slog.Debug("Artifacts removed", "identity", identity)
	return nil
}

// Exists reports whether any artifact of the identity is on disk.
func (s *Store) Exists(identity string) bool {
	for _, path := range []string{s.ConfigPath(identity), s.QRPath(identity)} {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}
