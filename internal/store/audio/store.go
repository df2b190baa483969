package audio

import (
	"companion-backend/internal/models"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FileStore writes synthesized audio to a directory served under URLPrefix.
type FileStore struct {
	dir       string
	urlPrefix string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir, urlPrefix string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("audio directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory %s: %w", dir, err)
	}
	if urlPrefix == "" {
		urlPrefix = "/audio"
	}
	return &FileStore{dir: dir, urlPrefix: "/" + strings.Trim(urlPrefix, "/")}, nil
}

// Dir returns the directory files are written to.
func (s *FileStore) Dir() string { return s.dir }

// Save writes data as a new artifact. Every call produces a distinct file.
func (s *FileStore) Save(data []byte, format string) (models.AudioArtifact, error) {
	if len(data) == 0 {
		return models.AudioArtifact{}, fmt.Errorf("refusing to store empty audio")
	}
	format = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
	if format == "" {
		format = "mp3"
	}

	id := uuid.New()
	name := id.String() + "." + format
	full := filepath.Join(s.dir, name)

	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return models.AudioArtifact{}, fmt.Errorf("failed to write audio file: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return models.AudioArtifact{}, fmt.Errorf("failed to finalize audio file: %w", err)
	}

	return models.AudioArtifact{
		ID:        id,
		URL:       path.Join(s.urlPrefix, name),
		Format:    format,
		Size:      len(data),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Prune deletes artifacts older than maxAge and returns how many were removed.
func (s *FileStore) Prune(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list audio directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			log.Printf("WARN [AudioStore] Failed to remove %s: %v", entry.Name(), err)
			continue
		}
		removed++
	}
	return removed, nil
}
