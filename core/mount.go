package core

import (
	"fmt"

	"github.com/signalsfoundry/sky-engine/geom"
	"github.com/signalsfoundry/sky-engine/photometry"
)

// MountFrame is the frame the view stays fixed in while time passes.
type MountFrame int

const (
	// MountObserved keeps the view fixed on the horizon; the sky drifts.
	MountObserved MountFrame = iota
	// MountEquatorial keeps the view fixed on the sky, like a clock driven
	// equatorial mount.
	MountEquatorial
)

func (m MountFrame) String() string {
	if m == MountEquatorial {
		return "equatorial"
	}
	return "observed"
}

// ParseMountFrame parses the names returned by MountFrame.String.
func ParseMountFrame(s string) (MountFrame, error) {
	switch s {
	case "observed":
		return MountObserved, nil
	case "equatorial":
		return MountEquatorial, nil
	}
	return 0, fmt.Errorf("unknown mount frame %q", s)
}

// WithMountFrame selects the mount frame.
func WithMountFrame(m MountFrame) Option {
	return func(c *Core) { c.mount = m }
}

// WithTelescopeAuto makes the telescope follow the field of view.
func WithTelescopeAuto(on bool) Option {
	return func(c *Core) { c.telescopeAuto = on }
}

// mountHold returns the equatorial view direction to keep across the time
// step, when the mount holds the sky and nothing else drives the view.
func (c *Core) mountHold() (geom.Vec3, bool) {
	if c.mount != MountEquatorial || !c.pointing.lock.IsZero() || c.pointing.anim.running() {
		return geom.Vec3{}, false
	}
	return c.obs.ObservedToEquatorial(c.obs.ViewDirection()), true
}

func (c *Core) mountFollow(eq geom.Vec3) {
	yaw, pitch := geom.ToSpherical(c.obs.EquatorialToObserved(eq))
	c.obs.SetView(yaw, pitch)
}

// updateTelescope fits the telescope to the field of view when automatic.
func (c *Core) updateTelescope() {
	if c.telescopeAuto {
		c.phot.SetTelescope(photometry.AutoTelescope(c.fov))
	}
}
