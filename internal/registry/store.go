package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vitalis-app/collector/internal/models"
)

// Store persists the endpoint records.
type Store interface {
	Load() ([]models.Endpoint, error)
	Save(endpoints []models.Endpoint) error
}

type fileDocument struct {
	Endpoints []models.Endpoint `yaml:"endpoints"`
}

// FileStore keeps endpoint records in a YAML file. Writes go to a temporary
// file in the same directory that is renamed over the original.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads all records. A missing file is an empty registry.
func (s *FileStore) Load() ([]models.Endpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading registry file: %w", err)
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing registry file: %w", err)
	}
	return doc.Endpoints, nil
}

// Save replaces the file contents with endpoints.
func (s *FileStore) Save(endpoints []models.Endpoint) error {
	data, err := yaml.Marshal(fileDocument{Endpoints: endpoints})
	if err != nil {
		return fmt.Errorf("marshaling registry: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".endpoints-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing registry file: %w", err)
	}
	return nil
}

// MemoryStore keeps records in memory. Used when no registry path is configured.
type MemoryStore struct {
	mu        sync.Mutex
	endpoints []models.Endpoint
	// SaveErr, when set, is returned by Save.
	SaveErr error
}

// Load implements Store.
func (s *MemoryStore) Load() ([]models.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Endpoint(nil), s.endpoints...), nil
}

// Save implements Store.
func (s *MemoryStore) Save(endpoints []models.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.endpoints = append([]models.Endpoint(nil), endpoints...)
	return nil
}
