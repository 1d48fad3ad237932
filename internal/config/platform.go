package config

import (
	"fmt"
	"runtime"
)

// Platform describes the detected host platform.
type Platform struct {
	OS   string
	Arch string
}

// DetectPlatform verifies the host can realize graft trees. graftd
// refuses to start anywhere bind mounts are out of reach; the graft CLI
// has no platform requirement of its own.
func DetectPlatform() (*Platform, error) {
	p := &Platform{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}
	if p.OS != "linux" {
		return nil, fmt.Errorf("unsupported platform %s/%s: graftd requires Linux mount namespaces", p.OS, p.Arch)
	}
	return p, nil
}
