package participants

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileRepository stores the registry as a JSON array in one file.
type FileRepository struct {
	path string
	mu   sync.Mutex
}

func NewFileRepository(path string) (*FileRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("touch file: %w", err)
	}
	_ = f.Close()
	return &FileRepository{path: path}, nil
}

func (r *FileRepository) LoadAll() ([]Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadUnlocked()
}

func (r *FileRepository) Upsert(p Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, err := r.loadUnlocked()
	if err != nil {
		return err
	}
	updated := false
	for i, x := range list {
		if x.ID == p.ID {
			list[i] = p
			updated = true
			break
		}
	}
	if !updated {
		list = append(list, p)
	}
	return r.saveUnlocked(list)
}

func (r *FileRepository) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, err := r.loadUnlocked()
	if err != nil {
		return err
	}
	out := make([]Participant, 0, len(list))
	for _, x := range list {
		if x.ID != id {
			out = append(out, x)
		}
	}
	return r.saveUnlocked(out)
}

// loadUnlocked treats an empty or malformed file as an empty registry.
func (r *FileRepository) loadUnlocked() ([]Participant, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	var list []Participant
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return []Participant{}, nil
	}
	return list, nil
}

func (r *FileRepository) saveUnlocked(list []Participant) error {
	f, err := os.OpenFile(r.path, os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(list)
}
