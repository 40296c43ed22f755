package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store defines the interface for transcript persistence backends.
// Implementations can store to JSON files, BadgerDB, etc.
type Store interface {
	// Append persists one turn.
	Append(ctx context.Context, t Turn) error

	// Load retrieves every stored turn, oldest first.
	Load(ctx context.Context) ([]Turn, error)

	// Clear removes all stored turns.
	Clear(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// JSONStore implements Store as a single JSON file. An empty path makes
// every operation a no-op, which keeps wiring simple when persistence
// is turned off.
type JSONStore struct {
	FilePath string

	mu sync.Mutex
}

// NewJSONStore creates a new JSON file store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{FilePath: path}
}

// Append reads the file, adds the turn and writes it back.
func (s *JSONStore) Append(ctx context.Context, t Turn) error {
	if s.FilePath == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	turns, err := s.read()
	if err != nil {
		return err
	}
	turns = append(turns, t)

	data, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	dir := filepath.Dir(s.FilePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	if err := os.WriteFile(s.FilePath, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Load reads every turn from the file.
func (s *JSONStore) Load(ctx context.Context) ([]Turn, error) {
	if s.FilePath == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *JSONStore) read() ([]Turn, error) {
	data, err := os.ReadFile(s.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No transcript yet, that's OK
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return turns, nil
}

// Clear removes the file.
func (s *JSONStore) Clear(ctx context.Context) error {
	if s.FilePath == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.FilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// Close is a no-op for JSON files.
func (s *JSONStore) Close() error {
	return nil
}

// Ensure JSONStore implements Store
var _ Store = (*JSONStore)(nil)
