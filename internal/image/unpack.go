package image

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	gzip "github.com/klauspost/compress/gzip"
)

const (
	whiteoutPrefix = ".wh."
	opaqueWhiteout = ".wh..wh..opq"
)

// Unpack extracts all layers of an OCI image into destDir, applying them
// in order. OCI whiteout entries delete files carried over from earlier
// layers, so the result matches what a container runtime would see.
func Unpack(img v1.Image, destDir string) error {
	layers, err := img.Layers()
	if err != nil {
		return fmt.Errorf("get layers: %w", err)
	}

	for i, layer := range layers {
		if err := unpackLayer(layer, destDir); err != nil {
			return fmt.Errorf("unpack layer %d: %w", i, err)
		}
	}

	return nil
}

func unpackLayer(layer v1.Layer, destDir string) error {
	// Compressed() + klauspost gzip decodes noticeably faster than
	// layer.Uncompressed(), which goes through stdlib compress/gzip.
	rc, err := layer.Compressed()
	if err != nil {
		return fmt.Errorf("get compressed layer: %w", err)
	}
	defer rc.Close()

	gz, err := gzip.NewReader(rc)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		cleanName := filepath.Clean(hdr.Name)
		if strings.HasPrefix(cleanName, "..") {
			continue // entry escapes destDir
		}

		if applyWhiteout(destDir, cleanName) {
			continue
		}

		if err := writeEntry(tr, hdr, destDir, cleanName); err != nil {
			return err
		}
	}

	return nil
}

// applyWhiteout handles OCI whiteout markers. It reports whether the
// entry was a marker and has been consumed.
func applyWhiteout(destDir, cleanName string) bool {
	base := filepath.Base(cleanName)
	dir := filepath.Dir(cleanName)

	if base == opaqueWhiteout {
		// Opaque whiteout: drop everything the directory held so far.
		opqDir := filepath.Join(destDir, dir)
		entries, _ := os.ReadDir(opqDir)
		for _, e := range entries {
			os.RemoveAll(filepath.Join(opqDir, e.Name()))
		}
		return true
	}

	if strings.HasPrefix(base, whiteoutPrefix) {
		os.RemoveAll(filepath.Join(destDir, dir, strings.TrimPrefix(base, whiteoutPrefix)))
		return true
	}

	return false
}

func writeEntry(tr *tar.Reader, hdr *tar.Header, destDir, cleanName string) error {
	target := filepath.Join(destDir, cleanName)

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
			return fmt.Errorf("mkdir %s: %w", cleanName, err)
		}
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
		if err != nil {
			return fmt.Errorf("create %s: %w", cleanName, err)
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", cleanName, err)
		}
		f.Close()
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		os.Remove(target)
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return fmt.Errorf("symlink %s -> %s: %w", cleanName, hdr.Linkname, err)
		}
	case tar.TypeLink:
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		linkTarget := filepath.Join(destDir, filepath.Clean(hdr.Linkname))
		os.Remove(target)
		if err := os.Link(linkTarget, target); err != nil {
			return fmt.Errorf("hardlink %s -> %s: %w", cleanName, hdr.Linkname, err)
		}
	}

	return nil
}
