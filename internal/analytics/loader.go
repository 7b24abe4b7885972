package analytics

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"mr-assistant/internal/storage"
)

// LoadFile reads one session document. Documents without a user id take
// the file name.
func LoadFile(path string) (*storage.Document, error) {
	doc, err := storage.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if doc.UserID == "" {
		doc.UserID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return doc, nil
}

// LoadDir reads every *.json document in dir, ordered by file name.
// Unreadable documents are skipped with a warning.
func LoadDir(dir string) ([]*storage.Document, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}
	sort.Strings(paths)
	docs := make([]*storage.Document, 0, len(paths))
	for _, p := range paths {
		doc, err := LoadFile(p)
		if err != nil {
			log.Warnf("skipping %s: %v", p, err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
