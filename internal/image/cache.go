package image

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Cache provides digest-keyed caching for unpacked module image content.
// Cache layout: {cacheDir}/sha256_{digest}/ holds the unpacked rootfs.
type Cache struct {
	mu       sync.Mutex
	cacheDir string
	log      zerolog.Logger
}

// NewCache creates a new image cache rooted at cacheDir.
func NewCache(cacheDir string, log zerolog.Logger) *Cache {
	return &Cache{cacheDir: cacheDir, log: log}
}

// GetOrPull returns the path to the unpacked content for the given image
// reference. If the image is already cached (by digest), the cached path
// is returned. Otherwise the image is pulled, unpacked, and cached.
func (c *Cache) GetOrPull(ctx context.Context, imageRef string) (contentDir string, digest string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.Debug().Str("ref", imageRef).Msg("resolving image")
	result, err := Pull(ctx, imageRef)
	if err != nil {
		return "", "", fmt.Errorf("pull %s: %w", imageRef, err)
	}

	digest = result.Digest
	dirName := digestToDirName(digest)
	cachedDir := filepath.Join(c.cacheDir, dirName)

	if _, err := os.Stat(cachedDir); err == nil {
		c.log.Debug().Str("ref", imageRef).Str("digest", digest).Msg("image cache hit")
		return cachedDir, digest, nil
	}

	// Unpack into a sibling tmp dir and rename into place so a crash
	// mid-unpack never leaves a half-populated cache entry.
	c.log.Info().Str("ref", imageRef).Str("digest", digest).Msg("unpacking image")
	tmpDir := cachedDir + ".tmp"
	os.RemoveAll(tmpDir)
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return "", "", fmt.Errorf("create tmp dir: %w", err)
	}

	if err := Unpack(result.Image, tmpDir); err != nil {
		os.RemoveAll(tmpDir)
		return "", "", fmt.Errorf("unpack %s: %w", imageRef, err)
	}

	if err := os.Rename(tmpDir, cachedDir); err != nil {
		os.RemoveAll(tmpDir)
		return "", "", fmt.Errorf("rename cache dir: %w", err)
	}

	c.log.Info().Str("ref", imageRef).Str("dir", cachedDir).Msg("image cached")
	return cachedDir, digest, nil
}

// Prune removes cache entries whose digest is not in keep. Partial .tmp
// directories from interrupted unpacks are always removed.
func (c *Cache) Prune(keep map[string]bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".tmp") && keep[dirNameToDigest(name)] {
			continue
		}
		c.log.Debug().Str("entry", name).Msg("pruning cached image")
		if err := os.RemoveAll(filepath.Join(c.cacheDir, name)); err != nil {
			return fmt.Errorf("prune %s: %w", name, err)
		}
	}
	return nil
}

// digestToDirName converts a digest like "sha256:abc123" to "sha256_abc123".
func digestToDirName(digest string) string {
	return strings.Replace(digest, ":", "_", 1)
}

// dirNameToDigest is the inverse of digestToDirName.
func dirNameToDigest(name string) string {
	return strings.Replace(name, "_", ":", 1)
}
