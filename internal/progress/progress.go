// Package progress persists collection checkpoints so interrupted backfills
// resume where they stopped. The file store writes the whole checkpoint map
// after every page; a crash between pages loses at most the page in flight.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/M1quelon/silver-octo-system/internal/models"
)

// Store persists collection checkpoints keyed by instrument ID.
type Store interface {
	// Save persists a checkpoint, replacing any existing one for the same
	// instrument.
	Save(ctx context.Context, p *models.CollectionProgress) error

	// Load returns the checkpoint for an instrument, or nil when none exists.
	Load(ctx context.Context, instrumentID string) (*models.CollectionProgress, error)

	// LoadAll returns every stored checkpoint.
	LoadAll(ctx context.Context) (map[string]*models.CollectionProgress, error)

	// Delete removes the checkpoint for an instrument. Missing checkpoints
	// are not an error.
	Delete(ctx context.Context, instrumentID string) error
}

// FileStore keeps checkpoints in a single JSON file. Writes go through a
// temp file followed by rename so a crash mid-write never corrupts the
// previous state.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a file-backed checkpoint store at path. The parent
// directory is created if needed.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("checkpoint file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Save implements Store.Save.
func (s *FileStore) Save(ctx context.Context, p *models.CollectionProgress) error {
	if p == nil || p.InstrumentID == "" {
		return fmt.Errorf("checkpoint with instrument ID is required")
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return err
	}

	all[p.InstrumentID] = p
	return s.writeAll(all)
}

// Load implements Store.Load.
func (s *FileStore) Load(ctx context.Context, instrumentID string) (*models.CollectionProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	return all[instrumentID], nil
}

// LoadAll implements Store.LoadAll.
func (s *FileStore) LoadAll(ctx context.Context) (map[string]*models.CollectionProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAll()
}

// Delete implements Store.Delete.
func (s *FileStore) Delete(ctx context.Context, instrumentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return err
	}
	if _, ok := all[instrumentID]; !ok {
		return nil
	}

	delete(all, instrumentID)
	return s.writeAll(all)
}

func (s *FileStore) readAll() (map[string]*models.CollectionProgress, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[string]*models.CollectionProgress), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	all := make(map[string]*models.CollectionProgress)
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint file %s: %w", s.path, err)
	}
	return all, nil
}

func (s *FileStore) writeAll(all map[string]*models.CollectionProgress) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoints: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}
	return nil
}

// MemoryStore keeps checkpoints in memory. Used in tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*models.CollectionProgress
}

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*models.CollectionProgress)}
}

// Save implements Store.Save.
func (s *MemoryStore) Save(ctx context.Context, p *models.CollectionProgress) error {
	if p == nil || p.InstrumentID == "" {
		return fmt.Errorf("checkpoint with instrument ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *p
	clone.Errors = append([]string(nil), p.Errors...)
	s.data[p.InstrumentID] = &clone
	return nil
}

// Load implements Store.Load.
func (s *MemoryStore) Load(ctx context.Context, instrumentID string) (*models.CollectionProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[instrumentID]
	if !ok {
		return nil, nil
	}
	clone := *p
	clone.Errors = append([]string(nil), p.Errors...)
	return &clone, nil
}

// LoadAll implements Store.LoadAll.
func (s *MemoryStore) LoadAll(ctx context.Context) (map[string]*models.CollectionProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make(map[string]*models.CollectionProgress, len(s.data))
	for id, p := range s.data {
		clone := *p
		clone.Errors = append([]string(nil), p.Errors...)
		all[id] = &clone
	}
	return all, nil
}

// Delete implements Store.Delete.
func (s *MemoryStore) Delete(ctx context.Context, instrumentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, instrumentID)
	return nil
}
