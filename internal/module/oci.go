package module

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ImageSource resolves a container image reference to an unpacked rootfs
// on local disk.
type ImageSource interface {
	GetOrPull(ctx context.Context, ref string) (dir string, digest string, err error)
}

// InstallImage installs a module distributed as a container image whose
// rootfs is laid out like a module archive: module.prop at the root and
// the partition tree beside it.
func (s *Store) InstallImage(ctx context.Context, ref string, src ImageSource) (*InstallResult, error) {
	dir, digest, err := src.GetOrPull(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("pull %s: %w", ref, err)
	}
	prop, err := ParsePropFile(filepath.Join(dir, PropFile))
	if err != nil {
		return nil, fmt.Errorf("image %s is not a module: %w", ref, err)
	}

	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return nil, err
	}
	staging, err := os.MkdirTemp(s.Root, ".staging-"+prop.ID+"-")
	if err != nil {
		return nil, fmt.Errorf("stage install: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := copyTree(dir, staging); err != nil {
		return nil, fmt.Errorf("copy rootfs: %w", err)
	}

	replaced, err := s.finalize(prop.ID, staging)
	if err != nil {
		return nil, err
	}
	m, err := s.Get(prop.ID)
	if err != nil {
		return nil, err
	}
	s.Log.Info().Str("module", m.ID).Str("ref", ref).Str("digest", digest).Msg("module installed from image")
	return &InstallResult{Module: m, Replaced: replaced, Source: ref, Digest: digest}, nil
}
