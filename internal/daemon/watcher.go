package daemon

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
)

// Watch flags the daemon stale whenever the module store changes on disk
// behind its back: a marker flipped by hand, content edited, a module
// directory added or deleted. Events are debounced so mass updates (an
// install's staging rename fans out as many events) flip the flag once.
// Watch returns a stop function.
func (d *Daemon) Watch() (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(d.cfg.ModulesDir); err != nil {
		w.Close()
		return nil, err
	}

	deb := debounce.New(500 * time.Millisecond)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if ignoreEvent(event.Name) {
					continue
				}
				deb(func() {
					d.markStale()
					d.log.Debug().Str("path", event.Name).Msg("module store changed")
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				d.log.Warn().Err(err).Msg("module watcher error")
			}
		}
	}()

	return func() {
		close(done)
		w.Close()
	}, nil
}

// ignoreEvent filters churn the store itself causes mid-install.
func ignoreEvent(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".staging-") || strings.HasPrefix(base, ".tmp")
}
