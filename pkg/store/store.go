// Package store persists backend definitions as an ordered YAML document.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/toolgate/toolgate/pkg/config"
)

// ErrPersistence wraps any failure to read or write the durable store.
var ErrPersistence = errors.New("persistence error")

// Store reads and writes the full ordered set of backend definitions.
// WriteAll replaces the previous contents wholesale; the slice order is
// preserved so registration order survives restarts.
type Store interface {
	ReadAll() ([]config.Backend, error)
	WriteAll(backends []config.Backend) error
	Path() string
}

type document struct {
	Backends []config.Backend `yaml:"backends"`
}

// FileStore keeps definitions in a single YAML file. Writes go through a
// temp file and rename so a crash never leaves a half-written document.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store backed by the given path. The file does not
// need to exist yet; a missing file reads as an empty set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) ReadAll() ([]config.Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrPersistence, s.path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrPersistence, s.path, err)
	}
	for i := range doc.Backends {
		doc.Backends[i].SetDefaults()
	}
	return doc.Backends, nil
}

func (s *FileStore) WriteAll(backends []config.Backend) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(document{Backends: backends})
	if err != nil {
		return fmt.Errorf("%w: encoding backends: %v", ErrPersistence, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrPersistence, dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".backends-*.yaml")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", ErrPersistence, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: writing temp file: %v", ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: closing temp file: %v", ErrPersistence, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("%w: setting permissions: %v", ErrPersistence, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("%w: replacing %s: %v", ErrPersistence, s.path, err)
	}
	return nil
}

// MemStore is an in-memory store for tests. FailWrites and FailReads force
// the corresponding operation to return ErrPersistence.
type MemStore struct {
	mu         sync.Mutex
	backends   []config.Backend
	FailWrites bool
	FailReads  bool
	Writes     int
}

func NewMemStore(backends ...config.Backend) *MemStore {
	return &MemStore{backends: cloneAll(backends)}
}

func (s *MemStore) Path() string { return "(memory)" }

func (s *MemStore) ReadAll() ([]config.Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads {
		return nil, fmt.Errorf("%w: read failure injected", ErrPersistence)
	}
	return cloneAll(s.backends), nil
}

func (s *MemStore) WriteAll(backends []config.Backend) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return fmt.Errorf("%w: write failure injected", ErrPersistence)
	}
	s.backends = cloneAll(backends)
	s.Writes++
	return nil
}

// Set replaces the contents without counting as a write, simulating an
// external edit to the backing file.
func (s *MemStore) Set(backends []config.Backend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backends = cloneAll(backends)
}

func cloneAll(in []config.Backend) []config.Backend {
	out := make([]config.Backend, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
