package overlay

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
)

// Mode says how a Request is realized on the filesystem.
type Mode uint8

const (
	// ModeBind bind-mounts Source onto Target.
	ModeBind Mode = iota
	// ModeTmpfs replaces Target with a fresh writable directory.
	ModeTmpfs
	// ModeSymlink creates Target as a symlink to Source. Source is the
	// link content, not a filesystem object.
	ModeSymlink
)

func (m Mode) String() string {
	switch m {
	case ModeBind:
		return "bind"
	case ModeTmpfs:
		return "tmpfs"
	case ModeSymlink:
		return "symlink"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// MarshalText encodes the mode as its name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name.
func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "bind":
		*m = ModeBind
	case "tmpfs":
		*m = ModeTmpfs
	case "symlink":
		*m = ModeSymlink
	default:
		return fmt.Errorf("unknown mount mode %q", b)
	}
	return nil
}

// MarshalText encodes the kind as its name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "regular":
		*k = KindRegular
	case "directory":
		*k = KindDirectory
	case "symlink":
		*k = KindSymlink
	case "other":
		*k = KindOther
	default:
		return fmt.Errorf("unknown node kind %q", b)
	}
	return nil
}

// Request is one mount operation produced by realizing a sealed tree.
type Request struct {
	Mode   Mode   `json:"mode"`
	Source string `json:"source,omitempty"`
	Target string `json:"target"`
	Kind   Kind   `json:"kind"`
	// Reason says why the operation exists: "module", "mirror", "tmpfs",
	// "replace" or "inject".
	Reason string `json:"reason"`
	// Module is the owning module id for module-sourced requests.
	Module string `json:"module,omitempty"`
}

// Backend realizes mount requests. Implementations decide what a request
// means on their filesystem; Apply errors are collected, not fatal, so a
// single bad entry cannot abort the whole graft.
type Backend interface {
	Apply(req Request) error
}

// Mount realizes the sealed tree through b in a single pre-order pass,
// children in lexical name order. Each node type maps to a fixed request
// shape; failures are aggregated and do not stop the walk. Mount may be
// called once per tree.
func (t *Tree) Mount(b Backend) error {
	t.mustSealed()
	if t.mounted {
		panic("overlay: tree already mounted")
	}
	t.mounted = true
	r := &realizer{t: t, b: b}
	r.walk(t.root)
	return r.errs.ErrorOrNil()
}

type realizer struct {
	t    *Tree
	b    Backend
	errs *multierror.Error
}

func (r *realizer) walk(id ID) {
	n := r.t.at(id)
	switch n.typ {
	case TypeRoot, TypeIntermediate:
		r.walkChildren(id)
	case TypeTmpfs:
		reason := "tmpfs"
		if n.skipMirror {
			reason = "replace"
		}
		r.apply(Request{
			Mode:   ModeTmpfs,
			Source: r.t.MirrorPath(id),
			Target: n.path,
			Kind:   n.kind,
			Reason: reason,
		})
		r.walkChildren(id)
	case TypeMirror:
		// Mirrors matter only directly under a rebuilt directory;
		// anywhere else the base entry is already visible.
		if n.parent != NoID && r.t.at(n.parent).typ == TypeTmpfs {
			r.emit(id, r.t.MirrorPath(id), "mirror")
		}
	case TypeModule:
		if n.kind == KindOther {
			// Whiteout: the hiding happened by claiming the name.
			return
		}
		r.emit(id, r.t.moduleSource(id), "module")
	case TypeCustom:
		r.emit(id, n.source, "inject")
	default:
		panic(fmt.Sprintf("overlay: mount of unknown type %d", uint8(n.typ)))
	}
}

func (r *realizer) walkChildren(id ID) {
	for _, name := range r.t.ChildNames(id) {
		cid := r.t.at(id).children[name]
		r.walk(cid)
	}
}

// emit issues the request for a leaf node: symlinks are recreated from the
// source's link content, everything else is bind-mounted.
func (r *realizer) emit(id ID, source, reason string) {
	n := r.t.at(id)
	req := Request{
		Mode:   ModeBind,
		Source: source,
		Target: n.path,
		Kind:   n.kind,
		Reason: reason,
		Module: n.module,
	}
	if n.kind == KindSymlink {
		content, err := os.Readlink(source)
		if err != nil {
			r.errs = multierror.Append(r.errs, fmt.Errorf("%s %s: %w", reason, n.path, err))
			return
		}
		req.Mode = ModeSymlink
		req.Source = content
	}
	r.apply(req)
}

func (r *realizer) apply(req Request) {
	if err := r.b.Apply(req); err != nil {
		r.errs = multierror.Append(r.errs, fmt.Errorf("%s %s: %w", req.Reason, req.Target, err))
	}
}
