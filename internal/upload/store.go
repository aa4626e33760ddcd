// Package upload stores original invoice documents on local disk.
package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Store writes uploaded documents into a single directory, prefixing
// each name with an upload timestamp so repeated filenames never clash.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the document and returns the stored name, which becomes
// the invoice's file reference.
func (s *Store) Save(originalName string, r io.Reader) (string, error) {
	name := time.Now().Format("20060102150405") + "_" + filepath.Base(originalName)
	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write upload file: %w", err)
	}
	return name, nil
}

// Path resolves a stored name back to its location on disk.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}
