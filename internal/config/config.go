// Package config holds graftd runtime configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/graftfs/graft/internal/cron"
)

// SystemPath is the config file graftd reads when no explicit path is
// given.
const SystemPath = "/etc/graft/config.toml"

// Config holds graftd runtime configuration. Paths left empty in the
// config file are derived from DataDir and RunDir.
type Config struct {
	// DataDir is the base directory for persistent graft state.
	DataDir string `koanf:"data_dir"`

	// ModulesDir holds installed module content, one directory per id.
	ModulesDir string `koanf:"modules_dir"`

	// CacheDir holds unpacked OCI image content, keyed by digest.
	CacheDir string `koanf:"cache_dir"`

	// BlobDir retains installed module archives, content-addressed.
	BlobDir string `koanf:"blob_dir"`

	// DBPath is the path to the SQLite database.
	DBPath string `koanf:"db_path"`

	// RunDir is the tmpfs-backed directory for per-boot runtime state.
	RunDir string `koanf:"run_dir"`

	// SocketPath is the unix socket path for the graftd API.
	SocketPath string `koanf:"socket_path"`

	// PIDPath is where graftd records its pid.
	PIDPath string `koanf:"pid_path"`

	// MirrorDir is where read-only partition mirrors are bound.
	MirrorDir string `koanf:"mirror_dir"`

	// ModuleMount is where module content is staged for mounting.
	ModuleMount string `koanf:"module_mount"`

	// WorkDir is where rebuilt directories are assembled.
	WorkDir string `koanf:"work_dir"`

	// Partition is the primary partition name, a single path element.
	Partition string `koanf:"partition"`

	// ExtraPartitions are split partitions that get their own trees when
	// the corresponding root directory exists.
	ExtraPartitions []string `koanf:"extra_partitions"`

	// InjectBin is a binary to graft into the partition's tool directory
	// on every mount. Empty disables injection.
	InjectBin string `koanf:"inject_bin"`

	// InjectDir is the directory under the primary partition that
	// receives InjectBin.
	InjectDir string `koanf:"inject_dir"`

	// LogLevel is the zerolog level name for graftd output.
	LogLevel string `koanf:"log_level"`

	// GCSchedule is a cron expression for the storage sweep that prunes
	// unreferenced archives and cached images. Empty disables the sweep.
	GCSchedule string `koanf:"gc_schedule"`
}

// Default returns the built-in configuration. Derived paths are left
// empty until finalize fills them.
func Default() *Config {
	return &Config{
		DataDir:         "/var/lib/graft",
		RunDir:          "/run/graft",
		Partition:       "system",
		ExtraPartitions: []string{"vendor", "product", "system_ext"},
		InjectDir:       "bin",
		LogLevel:        "info",
		GCSchedule:      "30 3 * * *",
	}
}

// Load builds the effective configuration: defaults, then the system
// config file when present, then the explicit path when given. A missing
// explicit path is an error; a missing system file is not.
func Load(explicit string) (*Config, error) {
	paths := []string{SystemPath}
	if explicit != "" {
		paths = append(paths, explicit)
	}
	return loadPaths(paths, explicit != "")
}

// loadPaths merges the given files over the defaults, in order. When
// requireLast is set, the final path must exist.
func loadPaths(paths []string, requireLast bool) (*Config, error) {
	k := koanf.New(".")

	for i, path := range paths {
		err := k.Load(file.Provider(path), toml.Parser())
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && !(requireLast && i == len(paths)-1) {
				continue
			}
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg := Default()
	err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag:       "koanf",
		FlatPaths: true,
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.finalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// finalize fills derived paths that the config file left empty.
func (c *Config) finalize() {
	fill := func(field *string, parts ...string) {
		if *field == "" {
			*field = filepath.Join(parts...)
		}
	}
	fill(&c.ModulesDir, c.DataDir, "modules")
	fill(&c.CacheDir, c.DataDir, "images")
	fill(&c.BlobDir, c.DataDir, "archives")
	fill(&c.DBPath, c.DataDir, "graft.db")
	fill(&c.SocketPath, c.RunDir, "graftd.sock")
	fill(&c.PIDPath, c.RunDir, "graftd.pid")
	fill(&c.MirrorDir, c.RunDir, "mirror")
	fill(&c.ModuleMount, c.RunDir, "modules")
	fill(&c.WorkDir, c.RunDir, "work")
}

// Validate rejects configurations graftd cannot safely run with.
func (c *Config) Validate() error {
	for name, p := range map[string]string{
		"data_dir":     c.DataDir,
		"modules_dir":  c.ModulesDir,
		"cache_dir":    c.CacheDir,
		"blob_dir":     c.BlobDir,
		"db_path":      c.DBPath,
		"run_dir":      c.RunDir,
		"socket_path":  c.SocketPath,
		"pid_path":     c.PIDPath,
		"mirror_dir":   c.MirrorDir,
		"module_mount": c.ModuleMount,
		"work_dir":     c.WorkDir,
	} {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("%s: %q is not an absolute path", name, p)
		}
	}

	if err := validPartition(c.Partition); err != nil {
		return fmt.Errorf("partition: %w", err)
	}
	for _, p := range c.ExtraPartitions {
		if err := validPartition(p); err != nil {
			return fmt.Errorf("extra_partitions: %w", err)
		}
		if p == c.Partition {
			return fmt.Errorf("extra_partitions: %q duplicates the primary partition", p)
		}
	}

	if c.InjectBin != "" && !filepath.IsAbs(c.InjectBin) {
		return fmt.Errorf("inject_bin: %q is not an absolute path", c.InjectBin)
	}
	if strings.Contains(c.InjectDir, "/") || c.InjectDir == "" {
		return fmt.Errorf("inject_dir: %q must be a single path element", c.InjectDir)
	}

	if c.GCSchedule != "" {
		if _, err := cron.Parse(c.GCSchedule); err != nil {
			return fmt.Errorf("gc_schedule: %w", err)
		}
	}
	return nil
}

// validPartition checks that name is a single, clean path element.
func validPartition(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid partition name %q", name)
	}
	if strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("partition name %q must be a single path element", name)
	}
	return nil
}

// Partitions returns the primary partition followed by the extras.
func (c *Config) Partitions() []string {
	out := make([]string, 0, len(c.ExtraPartitions)+1)
	out = append(out, c.Partition)
	return append(out, c.ExtraPartitions...)
}

// EnsureDirs creates the directories graftd needs. Persistent state is
// private to the daemon; runtime dirs stay world-traversable because
// they serve as bind sources for the grafted tree.
func (c *Config) EnsureDirs() error {
	private := []string{
		c.DataDir,
		c.ModulesDir,
		c.CacheDir,
		c.BlobDir,
		filepath.Dir(c.DBPath),
	}
	for _, d := range private {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	public := []string{
		c.RunDir,
		filepath.Dir(c.SocketPath),
		c.MirrorDir,
		c.ModuleMount,
		c.WorkDir,
	}
	for _, d := range public {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}
