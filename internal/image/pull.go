// Package image pulls, unpacks, and caches OCI images that carry
// graft module content.
package image

import (
	"context"
	"fmt"
	"runtime"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
)

// PullResult contains the pulled image and its digest.
type PullResult struct {
	Image  v1.Image
	Digest string // e.g. "sha256:abc123..."
}

// Pull resolves an image reference and fetches the variant matching the
// host platform. Multi-arch indexes prefer linux/{host arch} and fall
// back to the first linux entry, since most module images ship plain
// file payloads that work anywhere. Single-platform images are accepted
// as-is for the same reason.
func Pull(ctx context.Context, imageRef string) (*PullResult, error) {
	ref, err := name.ParseReference(imageRef)
	if err != nil {
		return nil, fmt.Errorf("parse image ref %q: %w", imageRef, err)
	}

	platform := &v1.Platform{
		OS:           "linux",
		Architecture: runtime.GOARCH,
	}

	desc, err := remote.Get(ref, remote.WithContext(ctx), remote.WithPlatform(*platform))
	if err != nil {
		return nil, fmt.Errorf("pull %s: %w", imageRef, err)
	}

	var img v1.Image

	switch desc.MediaType {
	case types.OCIImageIndex, types.DockerManifestList:
		idx, err := desc.ImageIndex()
		if err != nil {
			return nil, fmt.Errorf("get image index: %w", err)
		}
		indexManifest, err := idx.IndexManifest()
		if err != nil {
			return nil, fmt.Errorf("get index manifest: %w", err)
		}
		var fallback *v1.Hash
		for _, m := range indexManifest.Manifests {
			if m.Platform == nil || m.Platform.OS != "linux" {
				continue
			}
			if m.Platform.Architecture == runtime.GOARCH {
				img, err = idx.Image(m.Digest)
				if err != nil {
					return nil, fmt.Errorf("get %s image: %w", runtime.GOARCH, err)
				}
				break
			}
			if fallback == nil {
				d := m.Digest
				fallback = &d
			}
		}
		if img == nil && fallback != nil {
			img, err = idx.Image(*fallback)
			if err != nil {
				return nil, fmt.Errorf("get fallback image: %w", err)
			}
		}
		if img == nil {
			return nil, fmt.Errorf("no linux variant found in %s", imageRef)
		}
	default:
		img, err = desc.Image()
		if err != nil {
			return nil, fmt.Errorf("get image: %w", err)
		}
	}

	digest, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("get digest: %w", err)
	}

	return &PullResult{
		Image:  img,
		Digest: digest.String(),
	}, nil
}
