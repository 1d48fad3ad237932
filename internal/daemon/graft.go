package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/graftfs/graft/internal/module"
	"github.com/graftfs/graft/internal/mount"
	"github.com/graftfs/graft/internal/overlay"
	"github.com/graftfs/graft/internal/registry"
)

// Plan describes what a mount would do without doing it.
type Plan struct {
	Modules  []string          `json:"modules"`
	Requests []overlay.Request `json:"requests"`
}

// Plan builds the graft tree for the current module set and realizes it
// into a recorder. Sources resolve against the module store directly and
// mirror reads fall through to the real partitions, so a plan needs no
// runtime staging and no privileges.
func (d *Daemon) Plan() (*Plan, error) {
	mods, err := d.store.Scan()
	if err != nil {
		return nil, err
	}
	active := activeOf(mods)

	layout := overlay.Layout{ModuleMount: d.cfg.ModulesDir}
	d.mu.Lock()
	if d.live != nil {
		// While mounted, the real partitions show the grafted view;
		// only the mirrors still show the base.
		layout.MirrorDir = d.cfg.MirrorDir
	}
	d.mu.Unlock()

	tree := d.buildTree(layout, active)
	rec := &mount.Recorder{}
	if err := tree.Mount(rec); err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	return &Plan{Modules: idsOf(active), Requests: rec.Requests}, nil
}

// Mount realizes the current module set: prune removals, stage the
// runtime area, build and seal the tree, then walk it through the Linux
// backend. The combined journal is recorded on the run row whatever the
// outcome, so teardown always has something to replay.
func (d *Daemon) Mount() (*registry.Run, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.live != nil {
		return nil, ErrAlreadyMounted
	}

	if _, err := d.store.Prune(); err != nil {
		return nil, err
	}
	mods, err := d.store.Scan()
	if err != nil {
		return nil, err
	}
	active := activeOf(mods)
	if len(active) == 0 && d.cfg.InjectBin == "" {
		return nil, ErrNoModules
	}

	runID, err := d.reg.BeginRun(idsOf(active))
	if err != nil {
		return nil, err
	}

	layout := d.layout()
	journal, err := mount.Setup(layout, d.cfg.ModulesDir, d.partitionPaths(), d.log)
	if err != nil {
		d.abortRun(runID, journal, err)
		return nil, fmt.Errorf("stage runtime area: %w", err)
	}

	mounter, err := mount.NewMounter(d.cfg.WorkDir, d.log)
	if err != nil {
		d.abortRun(runID, journal, err)
		return nil, err
	}

	tree := d.buildTree(layout, active)
	mountErr := tree.Mount(mounter)
	journal = append(journal, mounter.Journal()...)

	status := registry.RunMounted
	errMsg := ""
	if mountErr != nil {
		status = registry.RunFailed
		errMsg = mountErr.Error()
	}
	if err := d.reg.FinishRun(runID, status, marshalJournal(journal), errMsg); err != nil {
		d.log.Error().Err(err).Int64("run", runID).Msg("run journal not recorded")
	}

	// Partial failures stay live: what did mount must be unmountable.
	d.live = &liveRun{id: runID, journal: journal}
	d.stale = false

	run, err := d.reg.GetRun(runID)
	if err != nil || run == nil {
		run = &registry.Run{ID: runID, Status: status, Modules: idsOf(active)}
	}
	if mountErr != nil {
		return run, fmt.Errorf("graft realized with failures: %w", mountErr)
	}
	d.log.Info().Int64("run", runID).Int("modules", len(active)).Int("mounts", len(journal)).Msg("graft mounted")
	return run, nil
}

// Unmount unwinds the live journal in reverse and closes out the run.
func (d *Daemon) Unmount() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.live == nil {
		return ErrNotMounted
	}

	if err := mount.Teardown(d.live.journal, d.log); err != nil {
		return fmt.Errorf("teardown run %d: %w", d.live.id, err)
	}
	if err := d.reg.SetRunStatus(d.live.id, registry.RunUnmounted); err != nil {
		d.log.Error().Err(err).Int64("run", d.live.id).Msg("run status not recorded")
	}
	d.log.Info().Int64("run", d.live.id).Int("mounts", len(d.live.journal)).Msg("graft unmounted")
	d.live = nil
	d.stale = false
	return nil
}

// Recover adopts a graft left mounted by a previous daemon process. A run
// recorded as mounted whose first journal target is still a mountpoint is
// taken over; one from before a reboot is closed out as unmounted.
func (d *Daemon) Recover() error {
	run, err := d.reg.LatestRun()
	if err != nil {
		return err
	}
	if run == nil || run.Status != registry.RunMounted {
		return nil
	}

	var journal []overlay.Request
	if err := json.Unmarshal(run.Requests, &journal); err != nil {
		return fmt.Errorf("decode journal of run %d: %w", run.ID, err)
	}

	if len(journal) > 0 && targetMounted(journal[0].Target) {
		d.mu.Lock()
		d.live = &liveRun{id: run.ID, journal: journal}
		d.mu.Unlock()
		d.log.Info().Int64("run", run.ID).Int("mounts", len(journal)).Msg("adopted live graft")
		return nil
	}

	// The mounts died with the previous boot.
	if err := d.reg.SetRunStatus(run.ID, registry.RunUnmounted); err != nil {
		return err
	}
	d.log.Info().Int64("run", run.ID).Msg("stale mounted run closed out")
	return nil
}

// partitionPaths returns the real filesystem roots of the configured
// partitions, anchored the same way tree construction is.
func (d *Daemon) partitionPaths() []string {
	names := d.cfg.Partitions()
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = d.rootPath + "/" + n
	}
	return paths
}

// buildTree assembles, reconciles, and seals a tree for the active
// modules under the given layout.
func (d *Daemon) buildTree(layout overlay.Layout, active []*module.Module) *overlay.Tree {
	b := overlay.NewBuilder(layout, d.rootPath, d.cfg.Partition, d.log)
	for _, m := range active {
		if err := b.AddModule(m.ID, m.ContentDir()); err != nil {
			d.log.Warn().Err(err).Str("module", m.ID).Msg("module content partially collected")
		}
	}
	if d.cfg.InjectBin != "" {
		b.InjectTool(d.cfg.InjectDir, filepath.Base(d.cfg.InjectBin), d.cfg.InjectBin)
	}
	b.SplitPartitions(d.cfg.ExtraPartitions)
	return b.Finish()
}

// abortRun tears down whatever a failed mount attempt staged and records
// the failure.
func (d *Daemon) abortRun(runID int64, journal []overlay.Request, cause error) {
	if err := d.reg.FinishRun(runID, registry.RunFailed, marshalJournal(journal), cause.Error()); err != nil {
		d.log.Error().Err(err).Int64("run", runID).Msg("run failure not recorded")
	}
	if err := mount.Teardown(journal, d.log); err != nil {
		d.log.Error().Err(err).Int64("run", runID).Msg("staging teardown incomplete")
	}
}

func activeOf(mods []*module.Module) []*module.Module {
	var active []*module.Module
	for _, m := range mods {
		if m.Active() {
			active = append(active, m)
		}
	}
	return active
}

func idsOf(mods []*module.Module) []string {
	ids := make([]string, len(mods))
	for i, m := range mods {
		ids[i] = m.ID
	}
	return ids
}

func marshalJournal(journal []overlay.Request) json.RawMessage {
	if len(journal) == 0 {
		return json.RawMessage("[]")
	}
	data, err := json.Marshal(journal)
	if err != nil {
		return json.RawMessage("[]")
	}
	return data
}

// targetMounted reports whether path appears as a mountpoint in
// /proc/self/mounts. On hosts without procfs nothing is adopted.
func targetMounted(path string) bool {
	data, err := os.ReadFile("/proc/self/mounts")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == path {
			return true
		}
	}
	return false
}
