package core

import (
	"context"
	"errors"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/sky-engine/geom"
	"github.com/signalsfoundry/sky-engine/internal/logging"
	"github.com/signalsfoundry/sky-engine/kb"
)

// Updater is implemented by modules that need a per frame update. Modules
// are updated in render order after the tasks have run.
type Updater interface {
	Update(c *Core, dt float64) error
}

// Painter is implemented by modules that draw themselves. Other listable
// modules are drawn as points.
type Painter interface {
	Paint(c *Core, r Renderer) error
}

// FrameInfo describes the frame passed to Renderer.BeginFrame.
type FrameInfo struct {
	Width, Height float64 // window pixels
	PixelScale    float64
	FOV           float64
	Lwmax         float64
	Time          time.Time
}

// Point is a point source ready to draw.
type Point struct {
	Entity    kb.Handle
	X, Y      float64 // window pixels
	Radius    float64 // window pixels
	Luminance float64 // 0..1
	Label     string
}

// Renderer is the drawing backend.
type Renderer interface {
	BeginFrame(f FrameInfo) error
	DrawPoint(p Point)
	DrawLine(x0, y0, x1, y1, alpha float64)
	DrawText(x, y float64, text string, alpha float64)
	EndFrame() error
}

// MetricsRecorder receives frame and module statistics.
type MetricsRecorder interface {
	ObserveUpdate(d time.Duration)
	ObserveRender(d time.Duration)
	SetLwmax(v float64)
	SetTasks(n int)
	ListingRetry(module string)
	DataSource(result string)
}

type nopMetrics struct{}

func (nopMetrics) ObserveUpdate(time.Duration) {}
func (nopMetrics) ObserveRender(time.Duration) {}
func (nopMetrics) SetLwmax(float64)            {}
func (nopMetrics) SetTasks(int)                {}
func (nopMetrics) ListingRetry(string)         {}
func (nopMetrics) DataSource(string)           {}

// Update advances the core by dt seconds: input intents, field of view and
// time animations, observer, pointing, tasks, module updates and finally the
// photometric adaptation. Module errors do not stop the frame; they are
// joined into the returned error.
func (c *Core) Update(dt float64) error {
	if c.released {
		return ErrReleased
	}
	start := time.Now()
	ctx, span := c.tracer.Start(logging.ContextWithFrame(context.Background(), c.frame), "core.Update")
	defer span.End()

	c.processInputs(dt)
	c.updateFOV(dt)
	held, hold := c.mountHold()
	c.updateTime(dt)
	c.obs.Update()
	if hold {
		c.mountFollow(held)
	}
	c.updatePointing(dt)
	c.updateProjection()

	c.updateTelescope()
	c.phot.BeginFrame(c.fov, c.pointSurface())
	c.tasks.run(ctx, dt, c.log)

	var errs []error
	for _, h := range c.reg.Modules(c.root) {
		obj, ok := c.reg.Get(h)
		if !ok {
			continue
		}
		u, ok := obj.(Updater)
		if !ok {
			continue
		}
		if err := u.Update(c, dt); err != nil {
			errs = append(errs, err)
			c.log.Warn(ctx, "module update failed",
				logging.String("module", c.reg.Path(h)),
				logging.Err(err),
			)
		}
	}
	c.phot.Fold(dt)
	c.frame++

	c.metrics.ObserveUpdate(time.Since(start))
	c.metrics.SetLwmax(c.phot.Lwmax())
	c.metrics.SetTasks(c.tasks.n)
	span.SetAttributes(
		attribute.Int64("frame", int64(c.frame)),
		attribute.Float64("fov", c.fov),
		attribute.Float64("lwmax", c.phot.Lwmax()),
	)
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "module update failed")
	}
	return err
}

// ReportVisible lists module and reports every entity within the field of
// view to the eye adaptation. It returns kb.ErrAgain while the listing is
// incomplete; the next frame simply reports again.
func (c *Core) ReportVisible(module kb.Handle) error {
	center := c.obs.ViewDirection()
	half := c.fov / 2
	err := c.reg.List(module, c.obs, c.phot.Params().DisplayLimitMag, "", func(h kb.Handle) bool {
		ob, ok := c.observe(h)
		if !ok {
			return true
		}
		sep := geom.Separation(center, ob.Dir)
		if sep-ob.Radius <= half {
			c.phot.ReportVmagInFOV(ob.Vmag, ob.Radius, sep)
		}
		return true
	})
	if errors.Is(err, kb.ErrAgain) {
		c.metrics.ListingRetry(c.reg.Path(module))
	}
	return err
}

// Render draws a frame for a window of winW by winH window pixels.
func (c *Core) Render(winW, winH, pixelScale float64) error {
	if c.released {
		return ErrReleased
	}
	start := time.Now()
	_, span := c.tracer.Start(context.Background(), "core.Render")
	defer span.End()

	c.winW, c.winH = winW, winH
	if pixelScale > 0 {
		c.pixelScale = pixelScale
	}
	c.updateProjection()

	if c.in.hasPointer {
		c.hovered = c.GetObjAt(c.in.pointerX, c.in.pointerY, defaultPickDistance)
	}
	if c.rend == nil {
		return nil
	}
	err := c.rend.BeginFrame(FrameInfo{
		Width:      winW,
		Height:     winH,
		PixelScale: c.pixelScale,
		FOV:        c.fov,
		Lwmax:      c.phot.Lwmax(),
		Time:       c.obs.Time(),
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	var errs []error
	for _, h := range c.reg.Modules(c.root) {
		if !c.moduleVisible(h) {
			continue
		}
		obj, _ := c.reg.Get(h)
		if p, ok := obj.(Painter); ok {
			if err := p.Paint(c, c.rend); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		c.paintPoints(h)
	}
	if err := c.rend.EndFrame(); err != nil {
		errs = append(errs, err)
	}
	c.metrics.ObserveRender(time.Since(start))
	err = errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
	}
	return err
}

// paintPoints draws the listed entities of module as points.
func (c *Core) paintPoints(module kb.Handle) {
	_ = c.reg.List(module, c.obs, c.phot.Params().DisplayLimitMag, "", func(h kb.Handle) bool {
		if p, ok := c.PointFor(h); ok {
			c.rend.DrawPoint(p)
		}
		return true
	})
}

// PointFor computes the screen point of h, if it is on screen and visible.
// Points smaller than the hints radius carry no label.
func (c *Core) PointFor(h kb.Handle) (Point, bool) {
	ob, ok := c.observe(h)
	if !ok {
		return Point{}, false
	}
	x, y, ok := c.proj.Project(c.obs.ObservedToView(ob.Dir))
	if !ok || !c.onScreen(x, y) {
		return Point{}, false
	}
	pt := c.phot.PointForMag(ob.Vmag)
	if !pt.Visible {
		return Point{}, false
	}
	r := pt.Radius
	if ob.Radius > 0 {
		r = math.Max(r, GetPointForApparentAngle(c.proj, ob.Radius))
	}
	p := Point{Entity: h, X: x, Y: y, Radius: r, Luminance: pt.Luminance}
	if r < c.phot.Params().ShowHintsRadius {
		return p, true
	}
	if m, ok := c.reg.MetaOf(h); ok && len(m.Names) > 0 {
		p.Label = m.Names[0]
	}
	return p, true
}

// GetObjAt returns the visible entity closest to (x, y) within maxDist
// window pixels, or the zero Handle.
func (c *Core) GetObjAt(x, y, maxDist float64) kb.Handle {
	var best kb.Handle
	bestDist := math.Inf(1)
	for _, m := range c.reg.Modules(c.root) {
		if !c.moduleVisible(m) {
			continue
		}
		_ = c.reg.List(m, c.obs, c.phot.Params().DisplayLimitMag, "", func(h kb.Handle) bool {
			p, ok := c.PointFor(h)
			if !ok {
				return true
			}
			d := math.Max(0, math.Hypot(p.X-x, p.Y-y)-p.Radius)
			if d <= maxDist && d < bestDist {
				best, bestDist = h, d
			}
			return true
		})
	}
	return best
}

func (c *Core) observe(h kb.Handle) (kb.Observation, bool) {
	obj, ok := c.reg.Get(h)
	if !ok {
		return kb.Observation{}, false
	}
	o, ok := obj.(kb.Observable)
	if !ok {
		return kb.Observation{}, false
	}
	ob, ok := o.Observe(c.obs)
	if !ok {
		return kb.Observation{}, false
	}
	ob.Dir = ob.Dir.Normalize()
	return ob, true
}

func (c *Core) onScreen(x, y float64) bool {
	return x >= 0 && y >= 0 && x <= c.winW && y <= c.winH
}

// moduleVisible reads the optional "visible" attribute of a module.
func (c *Core) moduleVisible(h kb.Handle) bool {
	v, err := c.reg.Attr(h, "visible")
	if err != nil {
		return true
	}
	b, ok := v.(bool)
	return !ok || b
}
