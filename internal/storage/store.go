package storage

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/xekr/packsmith/internal/domain"
)

const (
	archiveExt  = ".bin"
	metadataExt = ".yaml"
)

// Artifact describes one stored build archive
type Artifact struct {
	ID        string          `json:"id" yaml:"id"`
	FileName  string          `json:"file_name" yaml:"file_name"`
	Repo      string          `json:"repo,omitempty" yaml:"repo,omitempty"`
	Version   string          `json:"version" yaml:"version"`
	Type      domain.PackType `json:"type" yaml:"type"`
	Size      int64           `json:"size" yaml:"size"`
	CreatedAt time.Time       `json:"created_at" yaml:"created_at"`
}

// Store keeps finished build archives on disk so they can be downloaded again.
// Each artifact is an archive file plus a YAML metadata file named by build id.
type Store struct {
	mu           sync.RWMutex
	dir          string
	maxArtifacts int
	artifacts    map[string]Artifact
}

// NewStore creates a store rooted at dir keeping at most maxArtifacts builds; <= 0 keeps all
func NewStore(dir string, maxArtifacts int) *Store {
	return &Store{
		dir:          dir,
		maxArtifacts: maxArtifacts,
		artifacts:    make(map[string]Artifact),
	}
}

// Load creates the directory if needed and indexes existing metadata files.
// Unreadable metadata files are skipped with a warning.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return domain.NewAppErrorWithCause(domain.ErrInternal, "Failed to create build directory", http.StatusInternalServerError, err, map[string]any{
			"dir": s.dir,
		}).WithContext(ctx, "load")
	}

	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+metadataExt))
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", s.dir, err)
	}

	s.artifacts = make(map[string]Artifact, len(matches))
	for _, file := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := os.ReadFile(file)
		if err != nil {
			log.Warn().Err(err).Str("file", file).Msg("Skipping unreadable build metadata")
			continue
		}
		var a Artifact
		if err := yaml.Unmarshal(data, &a); err != nil || a.ID == "" {
			log.Warn().Err(err).Str("file", file).Msg("Skipping invalid build metadata")
			continue
		}
		if _, err := os.Stat(s.archivePath(a.ID)); err != nil {
			log.Warn().Str("id", a.ID).Msg("Skipping build metadata without archive")
			continue
		}
		s.artifacts[a.ID] = a
	}

	log.Info().Str("dir", s.dir).Int("artifacts", len(s.artifacts)).Msg("Build store loaded")
	return nil
}

// Save writes data and its metadata, then prunes the oldest artifacts over the limit
func (s *Store) Save(ctx context.Context, a Artifact, data []byte) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	if err := validateID(a.ID); err != nil {
		return Artifact{}, err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.Size = int64(len(data))

	meta, err := yaml.Marshal(a)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to marshal build metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return Artifact{}, fmt.Errorf("failed to create directory %s: %w", s.dir, err)
	}
	if err := atomicWrite(s.archivePath(a.ID), data); err != nil {
		return Artifact{}, domain.NewAppErrorWithCause(domain.ErrInternal, "Failed to store build", http.StatusInternalServerError, err, map[string]any{"id": a.ID})
	}
	if err := atomicWrite(s.metadataPath(a.ID), meta); err != nil {
		_ = os.Remove(s.archivePath(a.ID))
		return Artifact{}, domain.NewAppErrorWithCause(domain.ErrInternal, "Failed to store build metadata", http.StatusInternalServerError, err, map[string]any{"id": a.ID})
	}
	s.artifacts[a.ID] = a

	s.prune()
	return a, nil
}

// Get returns the metadata of a stored build
func (s *Store) Get(ctx context.Context, id string) (Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.artifacts[id]
	if !ok {
		return Artifact{}, notFound(id)
	}
	return a, nil
}

// Open returns the metadata and archive bytes of a stored build
func (s *Store) Open(ctx context.Context, id string) (Artifact, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.artifacts[id]
	if !ok {
		return Artifact{}, nil, notFound(id)
	}
	data, err := os.ReadFile(s.archivePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Artifact{}, nil, notFound(id)
		}
		return Artifact{}, nil, fmt.Errorf("failed to read build %s: %w", id, err)
	}
	return a, data, nil
}

// List returns stored builds, newest first
func (s *Store) List(ctx context.Context) []Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sorted()
}

// Delete removes a stored build
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.artifacts[id]; !ok {
		return notFound(id)
	}
	s.remove(id)
	return nil
}

// HealthCheck implements domain.ComponentChecker
func (s *Store) HealthCheck(ctx context.Context) domain.HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	details := map[string]any{
		"artifacts": len(s.artifacts),
		"data_dir":  s.dir,
	}

	if _, err := os.Stat(s.dir); err != nil {
		details["error"] = err.Error()
		return domain.HealthStatus{
			Status:    domain.HealthStatusUnhealthy,
			Message:   "Build directory is not accessible",
			Details:   details,
			Timestamp: time.Now(),
		}
	}

	return domain.HealthStatus{
		Status:    domain.HealthStatusHealthy,
		Message:   "Build store is operating normally",
		Details:   details,
		Timestamp: time.Now(),
	}
}

// sorted must be called with the lock held
func (s *Store) sorted() []Artifact {
	out := make([]Artifact, 0, len(s.artifacts))
	for _, a := range s.artifacts {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b Artifact) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// prune must be called with the write lock held
func (s *Store) prune() {
	if s.maxArtifacts <= 0 || len(s.artifacts) <= s.maxArtifacts {
		return
	}
	for _, a := range s.sorted()[s.maxArtifacts:] {
		s.remove(a.ID)
		log.Debug().Str("id", a.ID).Msg("Pruned stored build")
	}
}

func (s *Store) remove(id string) {
	_ = os.Remove(s.archivePath(id))
	_ = os.Remove(s.metadataPath(id))
	delete(s.artifacts, id)
}

func (s *Store) archivePath(id string) string {
	return filepath.Join(s.dir, id+archiveExt)
}

func (s *Store) metadataPath(id string) string {
	return filepath.Join(s.dir, id+metadataExt)
}

// validateID only accepts build ids, so ids can never escape the store directory
func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.NewAppErrorWithCause(domain.ErrInvalidInput, "Invalid build id", http.StatusBadRequest, err, map[string]any{"id": id})
	}
	return nil
}

func notFound(id string) error {
	return domain.NewAppError(domain.ErrNotFound, "Build not found", http.StatusNotFound, map[string]any{"id": id})
}

// atomicWrite performs an atomic file write using temp file → sync → rename
func atomicWrite(targetPath string, data []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(targetPath), ".build-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tempPath, targetPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
