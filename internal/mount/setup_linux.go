//go:build linux

package mount

import (
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/graftfs/graft/internal/overlay"
)

// Setup prepares the runtime area a graft run resolves against: a
// read-only recursive bind of each partition under the mirror dir, and
// the module staging bind at the module mount. Partitions that do not
// exist are skipped. The returned journal feeds Teardown.
func Setup(layout overlay.Layout, modulesDir string, partitions []string, log zerolog.Logger) ([]overlay.Request, error) {
	var journal []overlay.Request
	for _, part := range partitions {
		fi, err := os.Lstat(part)
		if err != nil || !fi.IsDir() {
			continue
		}
		target := layout.MirrorDir + part
		if err := os.MkdirAll(target, 0o755); err != nil {
			return journal, err
		}
		if err := unix.Mount(part, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			return journal, &os.PathError{Op: "bind", Path: target, Err: err}
		}
		journal = append(journal, overlay.Request{
			Mode: overlay.ModeBind, Source: part, Target: target,
			Kind: overlay.KindDirectory, Reason: "mirror-setup",
		})
		if err := unix.Mount("", target, "", unix.MS_REMOUNT|unix.MS_BIND|unix.MS_RDONLY, ""); err != nil {
			log.Warn().Str("target", target).Err(err).Msg("mirror not remounted read-only")
		}
		log.Debug().Str("partition", part).Str("mirror", target).Msg("partition mirrored")
	}

	if err := os.MkdirAll(layout.ModuleMount, 0o755); err != nil {
		return journal, err
	}
	if err := unix.Mount(modulesDir, layout.ModuleMount, "", unix.MS_BIND, ""); err != nil {
		return journal, &os.PathError{Op: "bind", Path: layout.ModuleMount, Err: err}
	}
	journal = append(journal, overlay.Request{
		Mode: overlay.ModeBind, Source: modulesDir, Target: layout.ModuleMount,
		Kind: overlay.KindDirectory, Reason: "staging",
	})
	if err := unix.Mount("", layout.ModuleMount, "", unix.MS_REMOUNT|unix.MS_BIND|unix.MS_RDONLY, ""); err != nil {
		log.Warn().Str("target", layout.ModuleMount).Err(err).Msg("staging not remounted read-only")
	}
	return journal, nil
}

// Teardown unwinds a journal in reverse order. Entries that never created
// a mount are skipped and already-gone mounts are tolerated, so a partial
// teardown can be retried.
func Teardown(journal []overlay.Request, log zerolog.Logger) error {
	var merr *multierror.Error
	for i := len(journal) - 1; i >= 0; i-- {
		req := journal[i]
		if req.Mode == overlay.ModeSymlink {
			continue
		}
		err := unix.Unmount(req.Target, unix.MNT_DETACH)
		switch err {
		case nil:
			log.Debug().Str("target", req.Target).Msg("unmounted")
		case unix.EINVAL, unix.ENOENT:
			// Not mounted (anymore); nothing to undo.
		default:
			merr = multierror.Append(merr, &os.PathError{Op: "unmount", Path: req.Target, Err: err})
		}
	}
	return merr.ErrorOrNil()
}
