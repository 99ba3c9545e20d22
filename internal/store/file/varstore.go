package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tidewatch/futuresmon/internal/domain"
)

// pathLocks serializes access per file path so independent stores sharing a
// path never interleave writes.
var pathLocks sync.Map // string -> *sync.Mutex

func lockFor(path string) *sync.Mutex {
	mu, _ := pathLocks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// VarStore keeps a small keyed string document in a JSON file. Missing files
// load as an empty document; saves go through a temp file and rename.
type VarStore struct {
	path string
}

// NewVarStore creates a store backed by the given file path, creating parent
// directories as needed.
func NewVarStore(path string) (*VarStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file: create var dir: %w", err)
	}
	return &VarStore{path: path}, nil
}

// Load reads the document. A missing file yields an empty map.
func (s *VarStore) Load(ctx context.Context) (map[string]string, error) {
	mu := lockFor(s.path)
	mu.Lock()
	defer mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: read vars %s: %w", s.path, err)
	}

	vars := map[string]string{}
	if len(data) == 0 {
		return vars, nil
	}
	if err := json.Unmarshal(data, &vars); err != nil {
		return nil, fmt.Errorf("file: decode vars %s: %w", s.path, err)
	}
	return vars, nil
}

// Save replaces the document atomically.
func (s *VarStore) Save(ctx context.Context, vars map[string]string) error {
	mu := lockFor(s.path)
	mu.Lock()
	defer mu.Unlock()

	data, err := json.MarshalIndent(vars, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode vars: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("file: write vars %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("file: replace vars %s: %w", s.path, err)
	}
	return nil
}

var _ domain.VarStore = (*VarStore)(nil)
