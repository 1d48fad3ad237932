// Package daemon coordinates the graft lifecycle: module bookkeeping,
// tree construction, realization through the mount backend, and the run
// journal that makes unmounting possible.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/graftfs/graft/internal/apk"
	"github.com/graftfs/graft/internal/blob"
	"github.com/graftfs/graft/internal/config"
	"github.com/graftfs/graft/internal/module"
	"github.com/graftfs/graft/internal/overlay"
	"github.com/graftfs/graft/internal/registry"
)

var (
	// ErrAlreadyMounted reports a mount request while a graft is live.
	ErrAlreadyMounted = errors.New("daemon: a graft is already mounted")

	// ErrNotMounted reports an unmount request with nothing live.
	ErrNotMounted = errors.New("daemon: no graft is mounted")

	// ErrNoModules reports a mount request with nothing to graft.
	ErrNoModules = errors.New("daemon: no active modules to mount")
)

// Daemon owns all mutable graft state. Its methods are safe for
// concurrent use by the API server and the watcher.
type Daemon struct {
	cfg *config.Config
	log zerolog.Logger

	reg    *registry.DB
	store  *module.Store
	blobs  blob.Store
	images ImageStore

	mu    sync.Mutex
	live  *liveRun
	stale bool

	// rootPath anchors tree construction; "" in production, a scratch
	// dir in tests.
	rootPath string
}

// liveRun tracks a realized graft: its registry row and the journal
// teardown replays in reverse.
type liveRun struct {
	id      int64
	journal []overlay.Request
}

// ImageStore resolves image references to unpacked content and sweeps
// its digest-keyed cache.
type ImageStore interface {
	module.ImageSource
	Prune(keep map[string]bool) error
}

// New wires a daemon from its parts. images may be nil when OCI installs
// are not needed (CLI-side planning).
func New(cfg *config.Config, reg *registry.DB, store *module.Store, blobs blob.Store, images ImageStore, log zerolog.Logger) *Daemon {
	return &Daemon{
		cfg:    cfg,
		log:    log,
		reg:    reg,
		store:  store,
		blobs:  blobs,
		images: images,
	}
}

// layout is the mount-time layout every realized tree resolves against.
func (d *Daemon) layout() overlay.Layout {
	return overlay.Layout{
		ModuleMount: d.cfg.ModuleMount,
		MirrorDir:   d.cfg.MirrorDir,
	}
}

// Status is the daemon state summary served by the API.
type Status struct {
	Mounted    bool     `json:"mounted"`
	Stale      bool     `json:"stale"`
	RunID      int64    `json:"run_id,omitempty"`
	Mounts     int      `json:"mounts"`
	Modules    int      `json:"modules"`
	Active     int      `json:"active"`
	Partitions []string `json:"partitions"`
}

// Status reports whether a graft is live, whether the module set changed
// since it was realized, and module counts.
func (d *Daemon) Status() (*Status, error) {
	mods, err := d.store.Scan()
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	st := &Status{
		Stale:      d.stale,
		Modules:    len(mods),
		Partitions: d.cfg.Partitions(),
	}
	for _, m := range mods {
		if m.Active() {
			st.Active++
		}
	}
	if d.live != nil {
		st.Mounted = true
		st.RunID = d.live.id
		st.Mounts = len(d.live.journal)
	}
	return st, nil
}

// Modules lists installed modules in priority order.
func (d *Daemon) Modules() ([]*module.Module, error) {
	return d.store.Scan()
}

// Enable clears a module's disable marker.
func (d *Daemon) Enable(id string) error {
	if err := d.store.SetDisabled(id, false); err != nil {
		return err
	}
	d.markStale()
	return nil
}

// Disable sets a module's disable marker. A live graft keeps the module
// mounted until the next run.
func (d *Daemon) Disable(id string) error {
	if err := d.store.SetDisabled(id, true); err != nil {
		return err
	}
	d.markStale()
	return nil
}

// Remove flags a module for deletion at the next mount.
func (d *Daemon) Remove(id string) error {
	if err := d.store.MarkRemove(id); err != nil {
		return err
	}
	d.markStale()
	return nil
}

// Runs lists recent realization runs, newest first.
func (d *Daemon) Runs(limit int) ([]*registry.Run, error) {
	return d.reg.ListRuns(limit)
}

// Run returns one run by id, nil when it does not exist.
func (d *Daemon) Run(id int64) (*registry.Run, error) {
	return d.reg.GetRun(id)
}

// Install installs a module from a zip archive path or an OCI image
// reference. Archive installs honor the pinned signing certificate and
// retain the archive in the blob store.
func (d *Daemon) Install(ctx context.Context, source string) (*module.InstallResult, error) {
	if isArchive(source) {
		return d.installArchive(source)
	}
	if d.images == nil {
		return nil, fmt.Errorf("install %s: image installs not available", source)
	}
	res, err := d.store.InstallImage(ctx, source, d.images)
	if err != nil {
		return nil, err
	}
	d.recordSource(res)
	d.markStale()
	return res, nil
}

// isArchive decides whether source names a local archive rather than an
// image reference.
func isArchive(source string) bool {
	if strings.HasSuffix(source, ".zip") {
		return true
	}
	_, err := os.Stat(source)
	return err == nil
}

func (d *Daemon) installArchive(path string) (*module.InstallResult, error) {
	pinned, err := d.reg.GetSetting(registry.SettingTrustedCert)
	if err != nil {
		return nil, err
	}
	if pinned != "" {
		fp, err := apk.FingerprintFile(path)
		if err != nil {
			return nil, fmt.Errorf("a signing certificate is pinned and %s carries none: %w", path, err)
		}
		if fp != pinned {
			return nil, fmt.Errorf("archive signer %s does not match the pinned certificate", fp)
		}
	}

	res, err := d.store.InstallArchive(path)
	if err != nil {
		return nil, err
	}

	// Retain the original archive; losing retention is not worth failing
	// an install that already landed.
	if data, err := os.ReadFile(path); err != nil {
		d.log.Warn().Err(err).Str("path", path).Msg("archive not retained")
	} else if key, err := d.blobs.Put(data, "zip"); err != nil {
		d.log.Warn().Err(err).Str("path", path).Msg("archive not retained")
	} else {
		res.Digest = "sha256:" + strings.TrimSuffix(key, ".zip")
	}

	d.recordSource(res)
	d.markStale()
	return res, nil
}

// recordSource remembers where a module came from so the storage sweep
// can tell live artifacts from orphans.
func (d *Daemon) recordSource(res *module.InstallResult) {
	if err := d.reg.SetSource(res.Module.ID, res.Source, res.Digest); err != nil {
		d.log.Warn().Err(err).Str("module", res.Module.ID).Msg("install source not recorded")
	}
}

// Trust pins the signing certificate found in the archive at path and
// returns its fingerprint. Subsequent archive installs must match.
func (d *Daemon) Trust(path string) (string, error) {
	fp, err := apk.FingerprintFile(path)
	if err != nil {
		return "", fmt.Errorf("read signing certificate: %w", err)
	}
	if err := d.reg.SetSetting(registry.SettingTrustedCert, fp); err != nil {
		return "", err
	}
	d.log.Info().Str("fingerprint", fp).Msg("trusted certificate pinned")
	return fp, nil
}

// Trusted returns the pinned certificate fingerprint, or "" when installs
// are unrestricted.
func (d *Daemon) Trusted() (string, error) {
	return d.reg.GetSetting(registry.SettingTrustedCert)
}

// markStale records that the module set diverged from the live graft.
func (d *Daemon) markStale() {
	d.mu.Lock()
	if d.live != nil {
		d.stale = true
	}
	d.mu.Unlock()
}
