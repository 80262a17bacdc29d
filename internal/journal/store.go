package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned when deleting or reading a journal that does not exist.
var ErrNotFound = errors.New("journal not found")

// Store persists journals and job artifacts. Write returns the location
// that Delete later accepts; Locate returns the same location without
// writing.
type Store interface {
	Write(ctx context.Context, name string, j *Journal) (string, error)
	WriteArtifact(ctx context.Context, name string, data []byte) (string, error)
	Delete(ctx context.Context, path string) error
	Locate(name string) string
}

// FileStore writes JSON journals under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the root directory.
func (s *FileStore) Dir() string { return s.dir }

// Write stores j as <dir>/<name>.json.
func (s *FileStore) Write(ctx context.Context, name string, j *Journal) (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", fmt.Errorf("marshal journal: %w", err)
	}
	return s.WriteArtifact(ctx, name+".json", data)
}

// Locate returns the path Write uses for name.
func (s *FileStore) Locate(name string) string {
	return s.artifactPath(name + ".json")
}

func (s *FileStore) artifactPath(name string) string {
	return filepath.Join(s.dir, filepath.Clean("/"+name))
}

// WriteArtifact stores data as <dir>/<name>, creating subdirectories.
func (s *FileStore) WriteArtifact(_ context.Context, name string, data []byte) (string, error) {
	path := s.artifactPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	return path, nil
}

// Delete removes a journal written by this store.
func (s *FileStore) Delete(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("delete journal: %w", err)
	}
	return nil
}

// Read loads a journal written by Write.
func Read(path string) (*Journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var j Journal
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode journal %s: %w", path, err)
	}
	return &j, nil
}

// MemoryStore keeps journals in memory.
type MemoryStore struct {
	mu        sync.Mutex
	journals  map[string]*Journal
	artifacts map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		journals:  make(map[string]*Journal),
		artifacts: make(map[string][]byte),
	}
}

// Write implements Store.
func (s *MemoryStore) Write(_ context.Context, name string, j *Journal) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.Locate(name)
	s.journals[path] = j
	return path, nil
}

// Locate implements Store.
func (s *MemoryStore) Locate(name string) string {
	return "mem://" + name
}

// WriteArtifact implements Store.
func (s *MemoryStore) WriteArtifact(_ context.Context, name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := "mem://" + name
	s.artifacts[path] = append([]byte(nil), data...)
	return path, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.journals[path]; !ok {
		return ErrNotFound
	}
	delete(s.journals, path)
	return nil
}

// Paths returns the locations of stored journals.
func (s *MemoryStore) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.journals))
	for p := range s.journals {
		out = append(out, p)
	}
	return out
}

// Get returns a stored journal.
func (s *MemoryStore) Get(path string) (*Journal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.journals[path]
	return j, ok
}

// Artifact returns a stored artifact.
func (s *MemoryStore) Artifact(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.artifacts[path]
	return d, ok
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
