// Package blob retains installed module archives, content-addressed
// by sha256 so the same package is never stored twice.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// MaxArchiveBytes is the largest archive Put accepts (256 MB).
const MaxArchiveBytes = 256 << 20

// validKey matches keys produced by Put: 64 hex chars + known extension.
var validKey = regexp.MustCompile(`^[a-f0-9]{64}\.(zip|tar\.gz)$`)

// Store is the interface for archive retention.
type Store interface {
	Put(data []byte, format string) (key string, err error)
	Get(key string) ([]byte, error)
	Delete(key string) error
	Prune(keep map[string]bool) error
}

// DirStore keeps archives as flat files under a single directory.
type DirStore struct {
	dir string
}

// NewDirStore creates an archive store rooted at dir.
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// Put writes archive data to the store and returns its content-addressed
// key. format names the archive container, "zip" or "tar.gz".
func (s *DirStore) Put(data []byte, format string) (string, error) {
	if len(data) > MaxArchiveBytes {
		return "", fmt.Errorf("archive too large: %d bytes (max %d)", len(data), MaxArchiveBytes)
	}

	ext := extForFormat(format)
	if ext == "" {
		return "", fmt.Errorf("unsupported archive format: %s", format)
	}

	hash := sha256.Sum256(data)
	key := hex.EncodeToString(hash[:]) + ext
	final := filepath.Join(s.dir, key)

	// Content-addressed dedup: an existing file already holds these bytes.
	if _, err := os.Stat(final); err == nil {
		return key, nil
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", err
	}

	// Write to a temp file and rename so a crash never leaves a partial
	// archive under a valid key.
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	tmp.Close()
	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return key, nil
}

// Get reads an archive by key. The key is validated to prevent path
// traversal.
func (s *DirStore) Get(key string) ([]byte, error) {
	if !validKey.MatchString(key) {
		return nil, fmt.Errorf("invalid blob key: %q", key)
	}
	return os.ReadFile(filepath.Join(s.dir, key))
}

// Delete removes an archive by key. Deleting a missing key is not an
// error.
func (s *DirStore) Delete(key string) error {
	if !validKey.MatchString(key) {
		return fmt.Errorf("invalid blob key: %q", key)
	}
	err := os.Remove(filepath.Join(s.dir, key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Prune removes archives whose key is not in keep, plus any temp files
// left behind by interrupted writes.
func (s *DirStore) Prune(keep map[string]bool) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if validKey.MatchString(name) && keep[name] {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return fmt.Errorf("prune %s: %w", name, err)
		}
	}
	return nil
}

// extForFormat returns the file extension for an archive format name.
func extForFormat(format string) string {
	switch format {
	case "zip":
		return ".zip"
	case "tar.gz":
		return ".tar.gz"
	default:
		return ""
	}
}
