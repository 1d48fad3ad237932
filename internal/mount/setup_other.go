//go:build !linux

package mount

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/graftfs/graft/internal/overlay"
)

// Setup fails on non-Linux platforms.
func Setup(layout overlay.Layout, modulesDir string, partitions []string, log zerolog.Logger) ([]overlay.Request, error) {
	return nil, fmt.Errorf("mount: runtime setup requires linux")
}

// Teardown fails on non-Linux platforms.
func Teardown(journal []overlay.Request, log zerolog.Logger) error {
	if len(journal) == 0 {
		return nil
	}
	return fmt.Errorf("mount: teardown requires linux")
}
