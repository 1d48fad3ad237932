package overlay

// InjectTool grafts the daemon's own client binary into the primary
// partition at dir/name, creating intermediate directories as needed.
// Injected content outranks module content, so a module cannot shadow the
// tool with its own binary.
func (b *Builder) InjectTool(dir, name, source string) bool {
	at := b.base
	for _, seg := range splitSegments(dir) {
		child, ok := b.tree.EmplaceIntermediate(at, seg)
		if !ok {
			existing, found := b.tree.Child(at, seg)
			if !found || !b.tree.Info(existing).Type.IsDirectory() {
				b.log.Warn().Str("dir", dir).Msg("tool target is not a directory, injection skipped")
				return false
			}
			child = existing
		}
		at = child
	}
	_, ok := b.tree.EmplaceCustom(at, name, source)
	return ok
}
