// Package mount realizes overlay mount requests on the host: bind mounts
// onto partition paths, worker-backed rebuilds of directories, and the
// read-only mirrors and module staging the overlay resolves against.
// Everything that touches the kernel is Linux-only; other platforms get
// stubs that fail cleanly so the rest of the tree still builds and tests
// there.
package mount

import "github.com/graftfs/graft/internal/overlay"

// Recorder is a Backend that records requests instead of mounting them.
// It backs plan output and tests.
type Recorder struct {
	Requests []overlay.Request
}

// Apply records req and succeeds.
func (r *Recorder) Apply(req overlay.Request) error {
	r.Requests = append(r.Requests, req)
	return nil
}
