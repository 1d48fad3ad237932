package overlay

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// ReplaceMarker, placed inside a module directory, claims the whole
// directory: base entries are hidden instead of merged.
const ReplaceMarker = ".replace"

// Builder assembles a graft tree from module content directories and the
// real filesystem, then seals it. rootPath is the real prefix the tree is
// anchored at ("" in production, a scratch dir in tests) and partition is
// the single path element of the primary partition, typically "system".
type Builder struct {
	tree      *Tree
	base      ID
	partition string
	rootPath  string
	layout    Layout
	log       zerolog.Logger
}

// NewBuilder returns a builder whose tree holds the primary partition
// directory and nothing else.
func NewBuilder(layout Layout, rootPath, partition string, log zerolog.Logger) *Builder {
	t := NewTree(layout, rootPath)
	base, _ := t.EmplaceIntermediate(t.Root(), partition)
	return &Builder{
		tree:      t,
		base:      base,
		partition: partition,
		rootPath:  rootPath,
		layout:    layout,
		log:       log,
	}
}

// Tree returns the tree under construction.
func (b *Builder) Tree() *Tree { return b.tree }

// Empty reports whether no content has been grafted yet.
func (b *Builder) Empty() bool {
	return len(b.tree.ChildNames(b.base)) == 0 && len(b.tree.ChildNames(b.tree.Root())) == 1
}

// AddModule overlays one module's partition directory onto the tree.
// contentDir is the module's copy of the primary partition. Earlier
// modules win name contests, so callers add modules in priority order.
func (b *Builder) AddModule(module, contentDir string) error {
	return b.collect(module, b.base, contentDir)
}

func (b *Builder) collect(module string, dir ID, dirPath string) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("collect %s: %w", module, err)
	}
	for _, e := range entries {
		name := e.Name()
		full := filepath.Join(dirPath, name)
		if name == ReplaceMarker && !e.IsDir() {
			b.tree.SetSkipMirror(dir, true)
			continue
		}
		if e.IsDir() {
			child, ok := b.tree.EmplaceIntermediate(dir, name)
			if !ok {
				existing, found := b.tree.Child(dir, name)
				if !found || !b.tree.Info(existing).Type.IsDirectory() {
					// A higher-priority module put a file here;
					// this module's subtree is shadowed.
					continue
				}
				child = existing
			}
			if err := b.collect(module, child, full); err != nil {
				return err
			}
			continue
		}
		kind := entryKind(e.Type())
		if kind == KindOther && !isWhiteout(full) {
			b.log.Warn().Str("module", module).Str("path", full).
				Msg("unsupported file type in module content, skipped")
			continue
		}
		b.tree.EmplaceModule(dir, name, kind, module)
	}
	return nil
}

func entryKind(m fs.FileMode) Kind {
	switch {
	case m.IsDir():
		return KindDirectory
	case m&fs.ModeSymlink != 0:
		return KindSymlink
	case m.IsRegular():
		return KindRegular
	default:
		return KindOther
	}
}

// isWhiteout reports whether path is a 0:0 character device, the marker a
// module uses to hide the base entry of the same name.
func isWhiteout(path string) bool {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return false
	}
	return st.Mode&unix.S_IFMT == unix.S_IFCHR && uint64(st.Rdev) == 0
}

func splitSegments(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
