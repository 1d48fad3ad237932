//go:build linux

package mount

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/graftfs/graft/internal/overlay"
)

// Mounter realizes overlay requests with bind and tmpfs mounts. Rebuilt
// directories are backed by a single scratch tmpfs under workDir: the
// first rebuild mounts it, each top-level rebuilt directory is a bind of
// its worker subdirectory, and rebuilds nested inside an already rebuilt
// directory are plain mkdirs in the bound area.
type Mounter struct {
	workDir string
	log     zerolog.Logger

	workReady bool
	rebuilt   []string
	journal   []overlay.Request
}

// NewMounter returns a Mounter whose scratch space lives at workDir.
func NewMounter(workDir string, log zerolog.Logger) (*Mounter, error) {
	if workDir == "" {
		return nil, fmt.Errorf("mount: empty work dir")
	}
	return &Mounter{workDir: workDir, log: log}, nil
}

// Journal returns the mounts performed so far, in order. Symlink requests
// and nested rebuilds create no mounts and do not appear.
func (m *Mounter) Journal() []overlay.Request {
	return m.journal
}

// Apply realizes one request.
func (m *Mounter) Apply(req overlay.Request) error {
	switch req.Mode {
	case overlay.ModeTmpfs:
		return m.applyTmpfs(req)
	case overlay.ModeBind:
		return m.applyBind(req)
	case overlay.ModeSymlink:
		return m.applySymlink(req)
	}
	return fmt.Errorf("mount: unknown mode %v", req.Mode)
}

func (m *Mounter) applyTmpfs(req overlay.Request) error {
	if m.inRebuilt(req.Target) {
		// The parent rebuild already owns this area; a directory is all
		// that is needed.
		if err := os.MkdirAll(req.Target, 0o755); err != nil {
			return err
		}
		m.cloneAttr(req.Source, req.Target)
		m.rebuilt = append(m.rebuilt, req.Target)
		return nil
	}
	if err := m.ensureWork(); err != nil {
		return err
	}
	worker := m.workDir + req.Target
	if err := os.MkdirAll(worker, 0o755); err != nil {
		return err
	}
	m.cloneAttr(req.Source, worker)
	if err := unix.Mount(worker, req.Target, "", unix.MS_BIND, ""); err != nil {
		return &os.PathError{Op: "bind", Path: req.Target, Err: err}
	}
	m.log.Debug().Str("target", req.Target).Msg("rebuilt directory mounted")
	m.rebuilt = append(m.rebuilt, req.Target)
	m.journal = append(m.journal, req)
	return nil
}

func (m *Mounter) applyBind(req overlay.Request) error {
	if err := m.ensureStub(req.Target, req.Kind); err != nil {
		return err
	}
	m.cloneAttr(req.Source, req.Target)
	if err := unix.Mount(req.Source, req.Target, "", unix.MS_BIND, ""); err != nil {
		return &os.PathError{Op: "bind", Path: req.Target, Err: err}
	}
	m.log.Debug().Str("source", req.Source).Str("target", req.Target).Str("reason", req.Reason).Msg("bound")
	m.journal = append(m.journal, req)
	return nil
}

func (m *Mounter) applySymlink(req overlay.Request) error {
	if err := os.Symlink(req.Source, req.Target); err != nil {
		return err
	}
	m.log.Debug().Str("target", req.Target).Str("link", req.Source).Msg("symlink created")
	return nil
}

// ensureWork mounts the scratch tmpfs on first use.
func (m *Mounter) ensureWork() error {
	if m.workReady {
		return nil
	}
	if err := os.MkdirAll(m.workDir, 0o755); err != nil {
		return err
	}
	if err := unix.Mount("graft-worker", m.workDir, "tmpfs", 0, "mode=755"); err != nil {
		return &os.PathError{Op: "tmpfs", Path: m.workDir, Err: err}
	}
	m.workReady = true
	m.journal = append(m.journal, overlay.Request{
		Mode:   overlay.ModeTmpfs,
		Source: "graft-worker",
		Target: m.workDir,
		Kind:   overlay.KindDirectory,
		Reason: "worker",
	})
	return nil
}

// inRebuilt reports whether target lies inside a directory rebuilt during
// this run.
func (m *Mounter) inRebuilt(target string) bool {
	for _, dir := range m.rebuilt {
		if strings.HasPrefix(target, dir+"/") {
			return true
		}
	}
	return false
}

// ensureStub makes sure target exists with the right shape to receive a
// bind mount. Inside a rebuilt directory stubs are created freely; outside
// one, the target is expected to exist already and only a missing leaf is
// an error.
func (m *Mounter) ensureStub(target string, kind overlay.Kind) error {
	fi, err := os.Lstat(target)
	if err == nil {
		if kind == overlay.KindDirectory && !fi.IsDir() {
			return fmt.Errorf("mount: %s exists and is not a directory", target)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	if kind == overlay.KindDirectory {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// cloneAttr copies mode and ownership from src onto dst. Attribute
// cloning is best-effort: the graft is still usable when it fails, so
// failures are logged and swallowed.
func (m *Mounter) cloneAttr(src, dst string) {
	fi, err := os.Stat(src)
	if err != nil {
		return
	}
	if err := os.Chmod(dst, fi.Mode().Perm()); err != nil {
		m.log.Debug().Str("path", dst).Err(err).Msg("chmod failed")
	}
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		if err := os.Chown(dst, int(st.Uid), int(st.Gid)); err != nil {
			m.log.Debug().Str("path", dst).Err(err).Msg("chown failed")
		}
	}
}
