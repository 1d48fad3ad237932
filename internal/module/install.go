package module

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	zip "github.com/klauspost/compress/zip"
)

// InstallResult describes a completed installation.
type InstallResult struct {
	Module   *Module `json:"module"`
	Replaced bool    `json:"replaced"`
	Source   string  `json:"source"`
	Digest   string  `json:"digest,omitempty"`
}

// InstallArchive installs a module from a zip archive laid out the
// standard way: module.prop at the root and the partition tree beside it.
// The archive is extracted into a staging directory and swapped in only
// when fully unpacked, so a failed install never leaves a half module.
func (s *Store) InstallArchive(path string) (*InstallResult, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		// Unclean entry names are rejected one by one during extraction.
		if zr == nil || !errors.Is(err, zip.ErrInsecurePath) {
			return nil, fmt.Errorf("open archive: %w", err)
		}
	}
	defer zr.Close()

	prop, err := archiveProp(&zr.Reader)
	if err != nil {
		return nil, err
	}

	staging, err := os.MkdirTemp(s.Root, ".staging-"+prop.ID+"-")
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(s.Root, 0o755); err != nil {
				return nil, err
			}
			staging, err = os.MkdirTemp(s.Root, ".staging-"+prop.ID+"-")
		}
		if err != nil {
			return nil, fmt.Errorf("stage install: %w", err)
		}
	}
	defer os.RemoveAll(staging)

	for _, f := range zr.File {
		if err := extractEntry(f, staging); err != nil {
			return nil, fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}

	replaced, err := s.finalize(prop.ID, staging)
	if err != nil {
		return nil, err
	}
	m, err := s.Get(prop.ID)
	if err != nil {
		return nil, err
	}
	s.Log.Info().Str("module", m.ID).Str("version", m.Version).Bool("replaced", replaced).Msg("module installed")
	return &InstallResult{Module: m, Replaced: replaced, Source: filepath.Base(path)}, nil
}

// archiveProp locates and parses module.prop at the archive root.
func archiveProp(zr *zip.Reader) (Prop, error) {
	for _, f := range zr.File {
		if filepath.Clean(f.Name) != PropFile {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return Prop{}, fmt.Errorf("open %s: %w", PropFile, err)
		}
		defer rc.Close()
		prop, err := ParseProp(rc)
		if err != nil {
			return Prop{}, fmt.Errorf("parse %s: %w", PropFile, err)
		}
		return prop, nil
	}
	return Prop{}, fmt.Errorf("archive has no %s", PropFile)
}

func extractEntry(f *zip.File, dir string) error {
	cleanName := filepath.Clean(f.Name)
	if strings.HasPrefix(cleanName, "..") || filepath.IsAbs(cleanName) {
		// Skip path traversal.
		return nil
	}
	target := filepath.Join(dir, cleanName)
	mode := f.Mode()

	switch {
	case mode.IsDir():
		return os.MkdirAll(target, mode.Perm()|0o700)
	case mode&os.ModeSymlink != 0:
		rc, err := f.Open()
		if err != nil {
			return err
		}
		link, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.Symlink(string(link), target)
	case mode.IsRegular():
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, rc); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	default:
		// Device nodes and the like do not belong in an archive.
		return nil
	}
}

// finalize swaps staging into place as the module directory. A previous
// installation is moved aside first and deleted after the swap, and the
// update marker is set so the next graft knows content changed.
func (s *Store) finalize(id, staging string) (replaced bool, err error) {
	final := filepath.Join(s.Root, id)
	// Hidden so a crashed swap never scans as a module.
	prev := filepath.Join(s.Root, "."+id+".prev")

	if _, err := os.Stat(final); err == nil {
		replaced = true
		_ = os.RemoveAll(prev)
		if err := os.Rename(final, prev); err != nil {
			return false, fmt.Errorf("displace previous install: %w", err)
		}
	}
	if err := os.Rename(staging, final); err != nil {
		if replaced {
			_ = os.Rename(prev, final)
		}
		return false, fmt.Errorf("install module %s: %w", id, err)
	}
	_ = os.Chmod(final, 0o755)
	_ = os.RemoveAll(prev)
	if err := s.setMarker(id, markerUpdate, true); err != nil {
		return replaced, err
	}
	return replaced, nil
}
