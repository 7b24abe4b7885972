package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"mr-assistant/internal/userlock"
)

// FileStore keeps one <dir>/<user_id>.json document per user.
type FileStore struct {
	dir   string
	locks *userlock.Keyed
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure conversations dir: %w", err)
	}
	return &FileStore{dir: dir, locks: userlock.New()}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(userID string) (string, error) {
	if err := ValidateUserID(userID); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, userID+".json"), nil
}

func (s *FileStore) Load(_ context.Context, userID string) (*Document, error) {
	p, err := s.path(userID)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(userID)
	defer unlock()
	return ReadFile(p)
}

func (s *FileStore) Update(_ context.Context, userID string, fn func(*Document) error) error {
	p, err := s.path(userID)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	doc, err := ReadFile(p)
	switch {
	case errors.Is(err, ErrNotFound):
		doc = NewDocument(userID)
	case errors.Is(err, ErrCorrupt):
		log.Warnf("session document %s unreadable, starting fresh: %v", p, err)
		doc = NewDocument(userID)
	case err != nil:
		return err
	}
	if doc.UserID == "" {
		doc.UserID = userID
	}
	if err := fn(doc); err != nil {
		return err
	}
	return writeFile(p, doc)
}

func (s *FileStore) ListUsers(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	var users []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		users = append(users, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(users)
	return users, nil
}

// ReadFile loads a document from path. A missing file is ErrNotFound and an
// undecodable one wraps ErrCorrupt.
func ReadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	return Decode(f)
}

// writeFile replaces path through a temp file in the same directory so a
// crash never leaves a half-written document behind.
func writeFile(path string, doc *Document) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if err := Encode(tmp, doc); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace document: %w", err)
	}
	return nil
}

// ValidateUserID rejects ids that cannot be used as a file or key name.
func ValidateUserID(userID string) error {
	if userID == "" || userID == "." || userID == ".." || strings.ContainsAny(userID, `/\`) || strings.ContainsRune(userID, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidUser, userID)
	}
	return nil
}
