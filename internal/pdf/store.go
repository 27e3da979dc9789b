package pdf

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Store is a content cache of PDF documents on local disk. Entries are keyed
// by an opaque identifier and stored under its SHA-256 digest, so hostile
// identifiers can never escape the root directory. Writes go through a
// temporary file and an atomic rename, so a concurrent reader never observes
// a partially written document.
type Store struct {
	root string
}

// NewStore creates the store, creating the root directory if needed.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("pdf: store root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("pdf: creating store root: %w", err)
	}
	return &Store{root: root}, nil
}

// Path returns the on-disk path an entry with the given key would occupy.
func (s *Store) Path(key string) string {
	digest := sha256.Sum256([]byte(key))
	return filepath.Join(s.root, hex.EncodeToString(digest[:])+".pdf")
}

// Get returns the path of the cached document for key, or false on a miss.
// Empty or corrupt entries (missing the PDF signature) are removed and
// reported as a miss.
func (s *Store) Get(key string) (string, bool) {
	path := s.Path(key)

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		if err == nil {
			_ = os.Remove(path)
		}
		return "", false
	}

	header := make([]byte, len(pdfMagic))
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	_, readErr := f.Read(header)
	_ = f.Close()
	if readErr != nil || !bytes.HasPrefix(header, pdfMagic) {
		_ = os.Remove(path)
		return "", false
	}

	return path, true
}

// Put stores the document under key and returns its path.
func (s *Store) Put(key string, content []byte) (string, error) {
	path := s.Path(key)

	tmp, err := os.CreateTemp(s.root, "download-*.tmp")
	if err != nil {
		return "", fmt.Errorf("pdf: creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("pdf: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("pdf: closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("pdf: installing cache entry: %w", err)
	}
	return path, nil
}
