package core

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/sky-engine/geom"
	"github.com/signalsfoundry/sky-engine/internal/logging"
	"github.com/signalsfoundry/sky-engine/kb"
)

// animation interpolates from src to dst while t goes from 0 to 1 over
// duration seconds.
type animation[T any] struct {
	t        float64
	duration float64
	src, dst T
	lerp     func(a, b T, t float64) T
}

func newAnimation[T any](lerp func(a, b T, t float64) T) *animation[T] {
	return &animation[T]{t: 1, lerp: lerp}
}

// start snapshots cur as the source. A duration of zero or less completes
// the animation at once.
func (a *animation[T]) start(cur, dst T, duration float64) {
	a.src = cur
	a.dst = dst
	a.duration = duration
	a.t = 0
	if duration <= 0 {
		a.t = 1
	}
}

func (a *animation[T]) running() bool { return a.t < 1 }

// step advances the animation and returns the new value. ok is false when
// the animation was already complete.
func (a *animation[T]) step(dt float64) (v T, ok bool) {
	if !a.running() {
		return a.dst, false
	}
	a.t += dt / a.duration
	if a.t >= 1 {
		a.t = 1
		return a.dst, true
	}
	return a.lerp(a.src, a.dst, a.t), true
}

// value returns the current interpolated value.
func (a *animation[T]) value() T {
	if a.t >= 1 {
		return a.dst
	}
	return a.lerp(a.src, a.dst, a.t)
}

// pointing is the view direction animation with an optional target lock.
type pointing struct {
	anim *animation[geom.Quat]
	lock kb.Handle
	// moveToLock is set while the view travels toward a newly locked target.
	moveToLock bool
}

func (p *pointing) unlock() {
	p.lock = kb.Handle{}
	p.moveToLock = false
}

func (c *Core) viewQuat() geom.Quat {
	return geom.QuatFromYawPitch(c.obs.Yaw, c.obs.Pitch)
}

func (c *Core) applyViewQuat(q geom.Quat) {
	yaw, pitch := geom.ToSpherical(q.Direction())
	c.obs.SetView(yaw, pitch)
}

// LookAt turns the view toward dir, a direction in the observed frame, over
// duration seconds. Any lock is released.
func (c *Core) LookAt(dir geom.Vec3, duration float64) {
	c.pointing.unlock()
	c.pointing.anim.start(c.viewQuat(), geom.QuatLookAt(dir.Normalize()), duration)
	if duration <= 0 {
		c.applyViewQuat(c.pointing.anim.dst)
	}
}

// PointAndLock turns the view toward h and keeps tracking it until
// unlocked.
func (c *Core) PointAndLock(h kb.Handle, duration float64) error {
	dir, err := c.observedDir(h)
	if err != nil {
		return fmt.Errorf("point and lock: %w", err)
	}
	c.pointing.lock = h
	c.pointing.moveToLock = true
	c.pointing.anim.start(c.viewQuat(), geom.QuatLookAt(dir), duration)
	if duration <= 0 {
		c.applyViewQuat(c.pointing.anim.dst)
		c.pointing.moveToLock = false
	}
	return nil
}

// Unlock releases the pointing lock, keeping the current view.
func (c *Core) Unlock() {
	c.pointing.unlock()
	c.pointing.anim.t = 1
	c.pointing.anim.dst = c.viewQuat()
}

// Locked returns the locked target, or the zero Handle.
func (c *Core) Locked() kb.Handle {
	if !c.reg.Alive(c.pointing.lock) {
		return kb.Handle{}
	}
	return c.pointing.lock
}

// ZoomTo animates the field of view to fov radians.
func (c *Core) ZoomTo(fov, duration float64) {
	fov = geom.Clamp(fov, minFOV, maxFOV)
	c.fovAnim.start(c.fov, fov, duration)
	if duration <= 0 {
		c.setFOV(fov)
	}
}

// SetTime moves the observer time to tt (TT MJD) over duration seconds.
func (c *Core) SetTime(tt, duration float64) {
	c.timeAnim.start(c.obs.TT, tt, duration)
	if duration <= 0 {
		c.obs.SetTT(tt)
		c.obs.Update()
	}
}

func (c *Core) setFOV(fov float64) {
	if c.storeFOV(fov) {
		c.reg.Notify(c.root, "fov")
	}
}

// storeFOV applies fov without notifying and reports whether it changed.
func (c *Core) storeFOV(fov float64) bool {
	if fov == c.fov {
		return false
	}
	c.fov = fov
	c.updateProjection()
	return true
}

func (c *Core) updateFOV(dt float64) {
	if v, ok := c.fovAnim.step(dt); ok {
		c.setFOV(v)
	}
}

func (c *Core) updateTime(dt float64) {
	if v, ok := c.timeAnim.step(dt); ok {
		c.obs.SetTT(v)
		return
	}
	if c.timeSpeed != 0 && dt > 0 {
		c.obs.SetTT(c.obs.TT + dt*c.timeSpeed/86400)
	}
}

// updatePointing advances the pointing animation and tracks the locked
// target. It runs after the observer update so the target position matches
// the frame time.
func (c *Core) updatePointing(dt float64) {
	p := &c.pointing
	if !p.lock.IsZero() {
		dir, err := c.observedDir(p.lock)
		if err != nil {
			c.log.Debug(context.Background(), "pointing lock cleared",
				logging.String("reason", "target unavailable"),
				logging.Err(err),
			)
			p.unlock()
		} else {
			p.anim.dst = geom.QuatLookAt(dir)
		}
	}
	if q, ok := p.anim.step(dt); ok {
		c.applyViewQuat(q)
		if !p.anim.running() {
			p.moveToLock = false
		}
		return
	}
	if !p.lock.IsZero() {
		c.applyViewQuat(p.anim.dst)
	}
}

// observedDir returns the current observed frame direction of h.
func (c *Core) observedDir(h kb.Handle) (geom.Vec3, error) {
	obj, ok := c.reg.Get(h)
	if !ok {
		return geom.Vec3{}, kb.ErrStale
	}
	o, ok := obj.(kb.Observable)
	if !ok {
		return geom.Vec3{}, fmt.Errorf("%v has no position: %w", h, kb.ErrUnsupported)
	}
	ob, ok := o.Observe(c.obs)
	if !ok {
		return geom.Vec3{}, kb.ErrNotFound
	}
	return ob.Dir.Normalize(), nil
}
