//go:build !linux

package mount

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/graftfs/graft/internal/overlay"
)

// Mounter is unavailable off Linux; the daemon can still plan and manage
// modules there.
type Mounter struct{}

// NewMounter fails on non-Linux platforms.
func NewMounter(workDir string, log zerolog.Logger) (*Mounter, error) {
	return nil, fmt.Errorf("mount: bind mounting requires linux")
}

// Journal returns nothing on non-Linux platforms.
func (m *Mounter) Journal() []overlay.Request { return nil }

// Apply fails on non-Linux platforms.
func (m *Mounter) Apply(req overlay.Request) error {
	return fmt.Errorf("mount: bind mounting requires linux")
}
