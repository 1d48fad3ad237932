// Package overlay builds and realizes the graft tree: an in-memory merge of
// module content directories over a read-only base partition. Nodes are
// tagged with a variant type whose rank decides which source wins when two
// providers claim the same name. Once built, a tree is sealed (paths frozen)
// and mounted exactly once through a Backend.
package overlay

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Kind classifies what a node is on disk, independent of where its
// content comes from.
type Kind uint8

const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindOther:
		return "other"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Type tags where a node's content comes from. The zero value is the
// weakest variant.
type Type uint8

const (
	// TypeMirror is pass-through base content replicated under a tmpfs
	// directory so the original entries stay visible.
	TypeMirror Type = iota
	// TypeIntermediate is a plain directory that exists only to reach
	// module content deeper in the tree.
	TypeIntermediate
	// TypeTmpfs is a directory rebuilt from scratch because its real
	// counterpart cannot host bind targets as-is.
	TypeTmpfs
	// TypeModule is content supplied by a module.
	TypeModule
	// TypeRoot anchors a partition. Root nodes are never replaced.
	TypeRoot
	// TypeCustom is content injected by the daemon itself. It outranks
	// everything, including roots.
	TypeCustom
)

// typeRanks is the dominance table. A node may replace an existing one
// only when its rank is strictly greater.
var typeRanks = [...]int{
	TypeMirror:       1,
	TypeIntermediate: 2,
	TypeTmpfs:        3,
	TypeModule:       4,
	TypeRoot:         5,
	TypeCustom:       6,
}

// Rank reports the node type's dominance rank.
func (t Type) Rank() int {
	if int(t) >= len(typeRanks) {
		panic(fmt.Sprintf("overlay: rank of unknown type %d", uint8(t)))
	}
	return typeRanks[t]
}

// IsDirectory reports whether the type carries children. Rank and
// directory-ness are unrelated: tmpfs outranks intermediate yet both hold
// children, and module content outranks both yet holds none.
func (t Type) IsDirectory() bool {
	switch t {
	case TypeIntermediate, TypeTmpfs, TypeRoot:
		return true
	case TypeMirror, TypeModule, TypeCustom:
		return false
	}
	panic(fmt.Sprintf("overlay: directory-ness of unknown type %d", uint8(t)))
}

func (t Type) String() string {
	switch t {
	case TypeMirror:
		return "mirror"
	case TypeIntermediate:
		return "intermediate"
	case TypeTmpfs:
		return "tmpfs"
	case TypeModule:
		return "module"
	case TypeRoot:
		return "root"
	case TypeCustom:
		return "custom"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ID names a node slot in a Tree. IDs are stable for the life of the tree;
// a replaced node keeps its ID but is retired and may no longer be used.
type ID int32

// NoID is the null node reference.
const NoID ID = -1

type node struct {
	name     string
	kind     Kind
	typ      Type
	parent   ID
	children map[string]ID // nil unless typ.IsDirectory()

	exists     bool // the name is present on the real filesystem
	skipMirror bool // replace marker: do not repopulate base entries
	retired    bool

	module string // module id, TypeModule only
	source string // bind source override, TypeCustom only
	prefix string // TypeRoot only: partition prefix for module sources

	// Fixed at Seal.
	path   string
	rootID ID
}

// Layout fixes the filesystem locations a sealed tree resolves against.
type Layout struct {
	// ModuleMount is where module content is staged at mount time.
	ModuleMount string
	// MirrorDir is where read-only partition mirrors live.
	MirrorDir string
}

// Tree is an arena of nodes forming one graft tree. The zero value is not
// usable; call NewTree. Trees are not safe for concurrent use.
type Tree struct {
	layout   Layout
	basePath string
	nodes    []node
	root     ID
	sealed   bool
	mounted  bool
}

// NewTree returns a tree holding a single root node. basePath anchors the
// root on the real filesystem: "" when the root stands for /, or an
// absolute path when the tree is rooted elsewhere.
func NewTree(layout Layout, basePath string) *Tree {
	t := &Tree{layout: layout, basePath: basePath, root: NoID}
	t.root = t.alloc(node{
		kind:     KindDirectory,
		typ:      TypeRoot,
		parent:   NoID,
		children: map[string]ID{},
		exists:   true,
	})
	return t
}

// Root returns the tree's root node.
func (t *Tree) Root() ID { return t.root }

// Sealed reports whether Seal has been called.
func (t *Tree) Sealed() bool { return t.sealed }

func (t *Tree) alloc(n node) ID {
	t.nodes = append(t.nodes, n)
	return ID(len(t.nodes) - 1)
}

// at returns the live node for id. Pointers returned by at are invalidated
// by the next alloc; callers must not hold one across an insertion.
func (t *Tree) at(id ID) *node {
	if id < 0 || int(id) >= len(t.nodes) {
		panic(fmt.Sprintf("overlay: no node %d", id))
	}
	n := &t.nodes[id]
	if n.retired {
		panic(fmt.Sprintf("overlay: use of retired node %d", id))
	}
	return n
}

func (t *Tree) mustBuild() {
	if t.sealed {
		panic("overlay: tree is sealed")
	}
}

func (t *Tree) mustSealed() {
	if !t.sealed {
		panic("overlay: tree is not sealed")
	}
}

// Info is a read-only snapshot of one node.
type Info struct {
	Name       string
	Kind       Kind
	Type       Type
	Parent     ID
	Exists     bool
	SkipMirror bool
	Module     string
	Prefix     string
}

// Info returns a snapshot of id.
func (t *Tree) Info(id ID) Info {
	n := t.at(id)
	return Info{
		Name:       n.name,
		Kind:       n.kind,
		Type:       n.typ,
		Parent:     n.parent,
		Exists:     n.exists,
		SkipMirror: n.skipMirror,
		Module:     n.module,
		Prefix:     n.prefix,
	}
}

// Child returns the child of dir named name.
func (t *Tree) Child(dir ID, name string) (ID, bool) {
	n := t.at(dir)
	if n.children == nil {
		return NoID, false
	}
	id, ok := n.children[name]
	return id, ok
}

// ChildNames returns dir's child names in lexical order.
func (t *Tree) ChildNames(dir ID) []string {
	n := t.at(dir)
	if len(n.children) == 0 {
		return nil
	}
	return slices.Sorted(maps.Keys(n.children))
}

// insert places the node produced by build under dir at name. When a child
// of that name already exists it is replaced only if typ strictly outranks
// it; the replacement inherits the old node's identity and, between
// directory types, its children. On a rank tie or loss nothing changes and
// ok is false. build receives the incumbent's ID (NoID when the slot is
// empty) and must return an unattached node, or NoID to abort.
func (t *Tree) insert(dir ID, name string, typ Type, build func(existing ID) ID) (ID, bool) {
	t.mustBuild()
	if !t.at(dir).typ.IsDirectory() {
		panic(fmt.Sprintf("overlay: insert under non-directory node %d", dir))
	}
	existing, occupied := t.at(dir).children[name]
	if occupied {
		if t.at(existing).typ.Rank() >= typ.Rank() {
			return NoID, false
		}
		id := build(existing)
		if id == NoID {
			return NoID, false
		}
		t.consume(id, existing)
		t.at(dir).children[name] = id
		return id, true
	}
	id := build(NoID)
	if id == NoID {
		return NoID, false
	}
	t.at(id).name = name
	t.at(id).parent = dir
	t.at(dir).children[name] = id
	return id, true
}

// consume moves the replaced node's identity onto its replacement: name,
// kind, parent, existence and the replace marker carry over, and children
// transfer when both sides are directory types. The loser is retired; a
// subtree orphaned by a non-directory replacement is retired with it.
func (t *Tree) consume(winner, loser ID) {
	l := t.at(loser)
	name, kind, parent, exists, skip := l.name, l.kind, l.parent, l.exists, l.skipMirror
	lost := l.children

	w := t.at(winner)
	w.name = name
	w.kind = kind
	w.parent = parent
	w.exists = exists
	w.skipMirror = skip

	if w.typ.IsDirectory() && len(lost) > 0 {
		for cname, cid := range lost {
			w.children[cname] = cid
			t.at(cid).parent = winner
		}
		lost = nil
	}
	for _, cid := range lost {
		t.retireSubtree(cid)
	}
	ln := &t.nodes[loser]
	ln.children = nil
	ln.retired = true
}

func (t *Tree) retireSubtree(id ID) {
	n := &t.nodes[id]
	for _, cid := range n.children {
		t.retireSubtree(cid)
	}
	n.children = nil
	n.retired = true
}

// EmplaceIntermediate adds a plain directory under dir, replacing a
// lower-ranked child of the same name.
func (t *Tree) EmplaceIntermediate(dir ID, name string) (ID, bool) {
	return t.insert(dir, name, TypeIntermediate, func(ID) ID {
		return t.alloc(node{
			name:     name,
			kind:     KindDirectory,
			typ:      TypeIntermediate,
			parent:   NoID,
			children: map[string]ID{},
		})
	})
}

// EmplaceModule adds module-supplied content under dir. kind describes the
// module file itself; KindOther marks a whiteout that only hides the base
// entry.
func (t *Tree) EmplaceModule(dir ID, name string, kind Kind, module string) (ID, bool) {
	return t.insert(dir, name, TypeModule, func(ID) ID {
		return t.alloc(node{
			name:   name,
			kind:   kind,
			typ:    TypeModule,
			parent: NoID,
			module: module,
		})
	})
}

// EmplaceMirror adds a pass-through reference to the base entry named name.
// Mirrors lose every rank contest, so emplacing over module content is a
// no-op.
func (t *Tree) EmplaceMirror(dir ID, name string, kind Kind) (ID, bool) {
	return t.insert(dir, name, TypeMirror, func(ID) ID {
		return t.alloc(node{
			name:   name,
			kind:   kind,
			typ:    TypeMirror,
			parent: NoID,
		})
	})
}

// EmplaceCustom adds daemon-injected content bound from source. Custom
// nodes outrank everything.
func (t *Tree) EmplaceCustom(dir ID, name, source string) (ID, bool) {
	return t.insert(dir, name, TypeCustom, func(ID) ID {
		return t.alloc(node{
			name:   name,
			kind:   KindRegular,
			typ:    TypeCustom,
			parent: NoID,
			source: source,
		})
	})
}

// Upgrade rebuilds the child of dir named name as typ, keeping its
// identity and children per the usual replacement rules. It fails when the
// slot is empty or the incumbent's rank is not strictly below typ.
func (t *Tree) Upgrade(dir ID, name string, typ Type) (ID, bool) {
	return t.insert(dir, name, typ, func(existing ID) ID {
		if existing == NoID {
			return NoID
		}
		var children map[string]ID
		if typ.IsDirectory() {
			children = map[string]ID{}
		}
		return t.alloc(node{typ: typ, parent: NoID, children: children})
	})
}

// Insert attaches a detached node under dir at the node's own name,
// honoring rank against any incumbent. On rejection the node stays
// detached and usable.
func (t *Tree) Insert(dir ID, id ID) bool {
	t.mustBuild()
	n := t.at(id)
	if n.parent != NoID {
		panic(fmt.Sprintf("overlay: insert of attached node %d", id))
	}
	name, typ := n.name, n.typ
	_, ok := t.insert(dir, name, typ, func(ID) ID { return id })
	return ok
}

// Extract detaches and returns the child of dir named name. The caller
// owns the detached subtree and may re-insert or promote it.
func (t *Tree) Extract(dir ID, name string) (ID, bool) {
	t.mustBuild()
	d := t.at(dir)
	id, ok := d.children[name]
	if !ok {
		return NoID, false
	}
	delete(d.children, name)
	t.at(id).parent = NoID
	return id, true
}

// PromoteRoot rebuilds a detached directory node as a partition root with
// the given module-source prefix, absorbing its children. The original
// node is retired.
func (t *Tree) PromoteRoot(id ID, prefix string) ID {
	t.mustBuild()
	n := t.at(id)
	if n.parent != NoID {
		panic(fmt.Sprintf("overlay: promote of attached node %d", id))
	}
	if n.typ.Rank() >= TypeRoot.Rank() {
		panic(fmt.Sprintf("overlay: promote of %s node %d", n.typ, id))
	}
	nid := t.alloc(node{
		typ:      TypeRoot,
		parent:   NoID,
		children: map[string]ID{},
		prefix:   prefix,
	})
	t.consume(nid, id)
	t.at(nid).exists = true
	return nid
}

// SetSkipMirror marks a directory node as fully replacing its base
// counterpart: when it becomes tmpfs, base entries are not mirrored in.
func (t *Tree) SetSkipMirror(id ID, v bool) {
	t.mustBuild()
	n := t.at(id)
	if !n.typ.IsDirectory() {
		panic(fmt.Sprintf("overlay: replace marker on non-directory node %d", id))
	}
	n.skipMirror = v
}

// SetExists records whether the node's name is present on the real
// filesystem.
func (t *Tree) SetExists(id ID, v bool) {
	t.mustBuild()
	t.at(id).exists = v
}

// Seal freezes the tree: every live node's path and owning partition root
// are fixed, and all mutators panic from here on. Seal is required before
// Path, MirrorPath or Mount.
func (t *Tree) Seal() {
	t.mustBuild()
	t.sealed = true
	t.freeze(t.root, t.basePath, t.root)
}

func (t *Tree) freeze(id ID, path string, root ID) {
	n := t.at(id)
	if n.typ == TypeRoot {
		root = id
	}
	n.path = path
	n.rootID = root
	for _, cid := range n.children {
		t.freeze(cid, path+"/"+t.at(cid).name, root)
	}
}

// Path returns the node's absolute path on the target filesystem. The
// tree root's path is its base path, so a tree rooted at / yields "" for
// the root and "/system/..." below it.
func (t *Tree) Path(id ID) string {
	t.mustSealed()
	return t.at(id).path
}

// MirrorPath returns where the node's base counterpart is found under the
// read-only mirror.
func (t *Tree) MirrorPath(id ID) string {
	t.mustSealed()
	return t.layout.MirrorDir + t.at(id).path
}

// moduleSource returns the staged path of a module node's content: the
// module mount, the module id, then the owning partition root's prefix
// and the node path relative to the tree's anchor. Split partitions carry
// the primary partition's name as prefix because modules ship their
// content nested under it.
func (t *Tree) moduleSource(id ID) string {
	n := t.at(id)
	root := t.at(n.rootID)
	rel := strings.TrimPrefix(n.path, t.basePath)
	return t.layout.ModuleMount + "/" + n.module + root.prefix + rel
}
