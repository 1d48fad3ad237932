// Package module manages the store of installed graft modules: metadata,
// state markers, scanning in priority order, and installation from
// archives or container images. A module is a directory under the store
// root named by its id, holding module.prop and a copy of the partition
// tree it grafts.
package module

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
)

// ErrNotInstalled reports an operation on a module the store does not
// hold.
var ErrNotInstalled = errors.New("module not installed")

// Marker files controlling a module's state. Their presence is the state;
// contents are ignored.
const (
	markerDisable = "disable"
	markerRemove  = "remove"
	markerSkip    = "skip_mount"
	markerUpdate  = "update"
)

// Module is one installed module and its current state.
type Module struct {
	Prop
	Dir        string `json:"-"`
	Disabled   bool   `json:"disabled"`
	Remove     bool   `json:"remove"`
	SkipMount  bool   `json:"skipMount"`
	Updated    bool   `json:"updated"`
	HasContent bool   `json:"hasContent"`

	contentDir string
}

// Active reports whether the module takes part in the next graft.
func (m *Module) Active() bool {
	return !m.Disabled && !m.Remove && !m.SkipMount && m.HasContent
}

// ContentDir is the module's copy of the partition tree.
func (m *Module) ContentDir() string {
	return m.contentDir
}

// Store is the on-disk module store.
type Store struct {
	// Root holds one directory per module.
	Root string
	// Partition is the content directory name modules ship, "system" on
	// stock layouts.
	Partition string
	Log       zerolog.Logger
}

// Scan returns all installed modules sorted by id. Id order is also mount
// priority: earlier modules win conflicts.
func (s *Store) Scan() ([]*Module, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan modules: %w", err)
	}
	var mods []*Module
	for _, e := range entries {
		if !e.IsDir() || !ValidID(e.Name()) {
			continue
		}
		m, err := s.load(e.Name())
		if err != nil {
			s.Log.Warn().Str("module", e.Name()).Err(err).Msg("skipping unreadable module")
			continue
		}
		mods = append(mods, m)
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].ID < mods[j].ID })
	return mods, nil
}

// Get returns the module with the given id.
func (s *Store) Get(id string) (*Module, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("invalid module id %q", id)
	}
	if _, err := os.Stat(filepath.Join(s.Root, id)); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("module %q: %w", id, ErrNotInstalled)
		}
		return nil, err
	}
	return s.load(id)
}

func (s *Store) load(id string) (*Module, error) {
	dir := filepath.Join(s.Root, id)
	prop, err := ParsePropFile(filepath.Join(dir, PropFile))
	if err != nil {
		return nil, err
	}
	if prop.ID != id {
		// The directory name is authoritative; a mismatched prop id is
		// tolerated but worth knowing about.
		s.Log.Warn().Str("dir", id).Str("prop", prop.ID).Msg("module.prop id differs from directory name")
		prop.ID = id
	}
	m := &Module{Prop: prop, Dir: dir, contentDir: filepath.Join(dir, s.Partition)}
	m.Disabled = s.hasMarker(id, markerDisable)
	m.Remove = s.hasMarker(id, markerRemove)
	m.SkipMount = s.hasMarker(id, markerSkip)
	m.Updated = s.hasMarker(id, markerUpdate)
	if fi, err := os.Stat(m.contentDir); err == nil && fi.IsDir() {
		m.HasContent = true
	}
	return m, nil
}

func (s *Store) hasMarker(id, marker string) bool {
	_, err := os.Stat(filepath.Join(s.Root, id, marker))
	return err == nil
}

func (s *Store) setMarker(id, marker string, v bool) error {
	path := filepath.Join(s.Root, id, marker)
	if v {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("set %s on %s: %w", marker, id, err)
		}
		return f.Close()
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear %s on %s: %w", marker, id, err)
	}
	return nil
}

// SetDisabled flips the module's disable marker.
func (s *Store) SetDisabled(id string, v bool) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return s.setMarker(id, markerDisable, v)
}

// MarkRemove flags the module for deletion at the next prune.
func (s *Store) MarkRemove(id string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return s.setMarker(id, markerRemove, true)
}

// Prune deletes modules flagged for removal and clears update markers.
// It runs before each graft so a remove requested while mounted takes
// effect on the next run.
func (s *Store) Prune() ([]string, error) {
	mods, err := s.Scan()
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, m := range mods {
		if m.Remove {
			if err := os.RemoveAll(m.Dir); err != nil {
				return removed, fmt.Errorf("remove module %s: %w", m.ID, err)
			}
			s.Log.Info().Str("module", m.ID).Msg("module removed")
			removed = append(removed, m.ID)
			continue
		}
		if m.Updated {
			if err := s.setMarker(m.ID, markerUpdate, false); err != nil {
				return removed, err
			}
		}
	}
	return removed, nil
}
