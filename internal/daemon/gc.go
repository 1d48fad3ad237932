package daemon

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/graftfs/graft/internal/cron"
)

// SweepResult summarizes one storage sweep.
type SweepResult struct {
	// Referenced counts digests still backed by an installed module.
	Referenced int `json:"referenced"`
	// SourcesDropped counts source records whose module is gone.
	SourcesDropped int `json:"sources_dropped"`
}

// SweepStorage reconciles retained artifacts with the installed module
// set: source records for modules that no longer exist are dropped, then
// archives and cached images whose digest nothing references are pruned.
// Module content is never touched; installs copy it out of the caches, so
// sweeping is safe while a graft is live.
func (d *Daemon) SweepStorage() (*SweepResult, error) {
	mods, err := d.store.Scan()
	if err != nil {
		return nil, err
	}
	installed := make(map[string]bool, len(mods))
	for _, m := range mods {
		installed[m.ID] = true
	}

	sources, err := d.reg.ListSources()
	if err != nil {
		return nil, err
	}

	var res SweepResult
	var errs *multierror.Error
	keepBlobs := make(map[string]bool)
	keepImages := make(map[string]bool)
	for _, src := range sources {
		if !installed[src.Module] {
			if err := d.reg.DeleteSource(src.Module); err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			res.SourcesDropped++
			continue
		}
		if src.Digest == "" {
			continue
		}
		res.Referenced++
		if hex, ok := strings.CutPrefix(src.Digest, "sha256:"); ok {
			keepBlobs[hex+".zip"] = true
			keepBlobs[hex+".tar.gz"] = true
		}
		keepImages[src.Digest] = true
	}

	if err := d.blobs.Prune(keepBlobs); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("prune archives: %w", err))
	}
	if d.images != nil {
		if err := d.images.Prune(keepImages); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("prune images: %w", err))
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	d.log.Info().
		Int("referenced", res.Referenced).
		Int("dropped", res.SourcesDropped).
		Msg("storage sweep complete")
	return &res, nil
}

// StartGC sweeps storage whenever the configured schedule fires. It
// returns a stop function. The caller decides whether an empty schedule
// means the sweep is off.
func (d *Daemon) StartGC() (func(), error) {
	sched, err := cron.Parse(d.cfg.GCSchedule)
	if err != nil {
		return nil, fmt.Errorf("gc schedule %q: %w", d.cfg.GCSchedule, err)
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				if !sched.Matches(now) {
					continue
				}
				if _, err := d.SweepStorage(); err != nil {
					d.log.Warn().Err(err).Msg("storage sweep failed")
				}
			}
		}
	}()
	return func() { close(done) }, nil
}
