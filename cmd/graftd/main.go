// graftd is the graft daemon. It owns the module store, builds the
// graft tree for the active modules, realizes it on the partitions, and
// serves the control API on a unix socket.
//
// Mounts outlive the daemon: stopping graftd leaves a live graft in
// place, and the next start adopts it from the run journal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/graftfs/graft/internal/api"
	"github.com/graftfs/graft/internal/blob"
	"github.com/graftfs/graft/internal/config"
	"github.com/graftfs/graft/internal/daemon"
	"github.com/graftfs/graft/internal/image"
	"github.com/graftfs/graft/internal/module"
	"github.com/graftfs/graft/internal/registry"
	"github.com/graftfs/graft/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "graftd: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if _, err := config.DetectPlatform(); err != nil {
		log.Fatal().Err(err).Msg("unsupported platform")
	}
	if err := cfg.EnsureDirs(); err != nil {
		log.Fatal().Err(err).Msg("create directories")
	}

	log.Info().Str("version", version.Version()).Str("data", cfg.DataDir).Msg("graftd starting")

	reg, err := registry.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open registry")
	}
	defer reg.Close()

	store := &module.Store{Root: cfg.ModulesDir, Partition: cfg.Partition, Log: log}
	blobs := blob.NewDirStore(cfg.BlobDir)
	images := image.NewCache(cfg.CacheDir, log)

	d := daemon.New(cfg, reg, store, blobs, images, log)

	// Adopt a graft left mounted by a previous daemon process, or close
	// out a run that died with the last boot.
	if err := d.Recover(); err != nil {
		log.Warn().Err(err).Msg("previous run not recovered")
	}

	stopWatch, err := d.Watch()
	if err != nil {
		log.Warn().Err(err).Msg("module watcher not started")
		stopWatch = func() {}
	}

	stopGC := func() {}
	if cfg.GCSchedule != "" {
		stopGC, err = d.StartGC()
		if err != nil {
			log.Warn().Err(err).Msg("storage sweep not scheduled")
			stopGC = func() {}
		}
	}

	server := api.NewServer(cfg, d, log)
	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("start API server")
	}

	os.WriteFile(cfg.PIDPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0600)
	defer os.Remove(cfg.PIDPath)

	notifyReady()
	log.Info().Int("pid", os.Getpid()).Str("socket", cfg.SocketPath).Msg("graftd ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")
	notifyStopping()

	stopWatch()
	stopGC()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}

	os.Remove(cfg.SocketPath)
	log.Info().Msg("graftd stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(lvl)
}
