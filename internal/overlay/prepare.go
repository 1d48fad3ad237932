package overlay

import (
	"io/fs"
	"os"
)

// SplitPartitions extracts the named directories out of the primary
// partition subtree and reattaches them as partition roots of their own.
// On stock layouts /vendor and friends are separate filesystems, but
// modules still ship them nested under their system directory; splitting
// keeps module layout and mount targets consistent. A name is split only
// when module content touched it and the real path is a directory rather
// than a compatibility symlink.
func (b *Builder) SplitPartitions(names []string) {
	for _, name := range names {
		fi, err := os.Lstat(b.rootPath + "/" + name)
		if err != nil || !fi.IsDir() {
			continue
		}
		id, ok := b.tree.Extract(b.base, name)
		if !ok {
			continue
		}
		root := b.tree.PromoteRoot(id, "/"+b.partition)
		b.tree.Insert(b.tree.Root(), root)
	}
}

// Finish reconciles the assembled tree against the real filesystem and
// seals it. Directories whose real counterpart cannot host bind targets
// are rebuilt as tmpfs, with base entries mirrored back in unless the
// directory is a full replacement.
func (b *Builder) Finish() *Tree {
	b.prepare(b.tree.Root(), b.rootPath)
	b.tree.Seal()
	return b.tree
}

// prepare walks dir's children against the real directory at dirPath and
// reports whether dir can be grafted in place. It returns false when dir
// must be rebuilt as tmpfs: one of its entries has no real counterpart,
// sits on or under a symlink, is a whiteout, or the directory is a full
// replacement.
func (b *Builder) prepare(dir ID, dirPath string) bool {
	t := b.tree
	needTmpfs := t.Info(dir).SkipMirror
	for _, name := range t.ChildNames(dir) {
		id, _ := t.Child(dir, name)
		info := t.Info(id)
		target := dirPath + "/" + name

		cannotMount := false
		fi, err := os.Lstat(target)
		if err != nil {
			t.SetExists(id, false)
			cannotMount = true
		} else {
			t.SetExists(id, true)
			// A bind mount cannot land on a symlink, and a whiteout
			// needs its target to disappear entirely.
			cannotMount = info.Kind == KindSymlink ||
				fi.Mode()&fs.ModeSymlink != 0 ||
				info.Kind == KindOther
		}
		if cannotMount {
			if t.Info(dir).Type.Rank() > TypeTmpfs.Rank() {
				// Partition roots cannot be rebuilt; the entry is
				// dropped rather than poisoning the whole partition.
				b.log.Warn().Str("path", target).Msg("cannot graft entry under partition root, dropped")
				t.Extract(dir, name)
				continue
			}
			needTmpfs = true
		}

		if info.Type.IsDirectory() && info.Kind == KindDirectory {
			if !b.prepare(id, target) {
				if nid, ok := t.Upgrade(dir, name, TypeTmpfs); ok {
					b.populateMirror(nid, target)
				}
			}
		}
	}
	return !needTmpfs
}

// populateMirror fills a freshly rebuilt directory with pass-through
// references to the base entries found under its mirror, so everything
// the real directory had stays visible. Entries claimed by module content
// lose the rank contest and are skipped. A full-replacement directory
// gets no mirrors at all.
func (b *Builder) populateMirror(dir ID, target string) {
	t := b.tree
	if t.Info(dir).SkipMirror {
		return
	}
	entries, err := os.ReadDir(b.layout.MirrorDir + target)
	if err != nil {
		b.log.Debug().Str("path", target).Err(err).Msg("no mirror for rebuilt directory")
		return
	}
	t.SetExists(dir, true)
	for _, e := range entries {
		t.EmplaceMirror(dir, e.Name(), entryKind(e.Type()))
	}
}
