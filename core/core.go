// Package core is the orchestrator of the sky engine. A single Core owns the
// observer, the module tree, the photometric adaptation state, the view
// animations and the per frame task list, and drives them through Update
// and Render.
//
// Core is not safe for concurrent use: every call must come from the frame
// thread. Other goroutines hand work over with AddTask through a mailbox
// such as the one in internal/control.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/sky-engine/geom"
	"github.com/signalsfoundry/sky-engine/internal/logging"
	"github.com/signalsfoundry/sky-engine/kb"
	"github.com/signalsfoundry/sky-engine/model"
	"github.com/signalsfoundry/sky-engine/photometry"
	"github.com/signalsfoundry/sky-engine/timectrl"
)

const tracerName = "github.com/signalsfoundry/sky-engine/core"

var (
	// ErrCoreActive is returned by Init while another Core is alive.
	ErrCoreActive = errors.New("core already initialised")
	// ErrReleased is returned by frame calls on a released Core.
	ErrReleased = errors.New("core released")
)

// active guards the process wide singleton.
var active atomic.Bool

const (
	defaultFOV = math.Pi / 3
	minFOV     = 1e-5
	maxFOV     = 1.5 * math.Pi

	// defaultPickDistance is the pointer distance, in window pixels, within
	// which clicks and hovering pick an object.
	defaultPickDistance = 18
)

// Core is the engine singleton.
type Core struct {
	log     logging.Logger
	metrics MetricsRecorder
	tracer  trace.Tracer
	rend    Renderer

	reg  *kb.Registry
	root kb.Handle

	obs         *model.Observer
	proj        model.Projection
	projKind    model.ProjectionKind
	winW, winH  float64
	pixelScale  float64
	viewOffsetY float64

	phot          *photometry.Engine
	fov           float64
	timeSpeed     float64
	telescopeAuto bool
	mount         MountFrame

	selection    kb.Handle
	hovered      kb.Handle
	clicks       int
	ignoreClicks bool
	flipV, flipH bool
	onClick      func(x, y float64) bool

	in inputState

	pointing pointing
	fovAnim  *animation[float64]
	timeAnim *animation[float64]

	tasks    taskList
	frame    uint64
	released bool
}

// Option configures Init.
type Option func(*Core)

// WithLogger sets the logger used by the core and the module tree.
func WithLogger(l logging.Logger) Option {
	return func(c *Core) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics installs a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(c *Core) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithRenderer sets the rendering backend.
func WithRenderer(r Renderer) Option {
	return func(c *Core) { c.rend = r }
}

// WithObserver replaces the default observer.
func WithObserver(o *model.Observer) Option {
	return func(c *Core) {
		if o != nil {
			c.obs = o
		}
	}
}

// WithParams sets the photometric parameters.
func WithParams(p photometry.Params) Option {
	return func(c *Core) { c.phot = photometry.NewEngine(p) }
}

// WithTime sets the initial observer time as a TT MJD.
func WithTime(tt float64) Option {
	return func(c *Core) { c.obs.SetTT(tt) }
}

// WithProjection selects the projection kind.
func WithProjection(k model.ProjectionKind) Option {
	return func(c *Core) { c.projKind = k }
}

// Init creates the core for a window of winW by winH window pixels. Only one
// core may exist at a time; Release frees the slot.
func Init(winW, winH, pixelScale float64, opts ...Option) (*Core, error) {
	if !active.CompareAndSwap(false, true) {
		return nil, ErrCoreActive
	}
	if pixelScale <= 0 {
		pixelScale = 1
	}
	c := &Core{
		log:        logging.Noop(),
		metrics:    nopMetrics{},
		tracer:     otel.Tracer(tracerName),
		obs:        model.NewObserver(0, 0, 0, timectrl.TTFromTime(time.Now())),
		phot:       photometry.NewEngine(photometry.DefaultParams()),
		fov:        defaultFOV,
		timeSpeed:  1,
		winW:       winW,
		winH:       winH,
		pixelScale: pixelScale,
		fovAnim:    newAnimation(geom.Mix),
		timeAnim:   newAnimation(geom.Mix),
	}
	c.pointing.anim = newAnimation(geom.Slerp)
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.ForComponent(c.log, "core")
	c.reg = kb.New(c.log)

	root, err := c.reg.Create(kb.Meta{ID: kb.RootID}, &rootModule{c: c})
	if err != nil {
		active.Store(false)
		return nil, err
	}
	c.root = root
	c.reg.OnRemove(c.forget)
	c.obs.Update()
	c.updateProjection()

	c.log.Info(context.Background(), "core initialised",
		logging.Float64("win_w", winW),
		logging.Float64("win_h", winH),
		logging.Float64("pixel_scale", pixelScale),
	)
	return c, nil
}

// Release tears the core down and allows a new Init. It is idempotent.
func (c *Core) Release() {
	if c == nil || c.released {
		return
	}
	c.released = true
	c.tasks.clear()
	c.reg.Destroy(c.root)
	c.reg.SetListener(nil)
	active.Store(false)
	c.log.Info(context.Background(), "core released", logging.Uint64("frames", c.frame))
}

// forget drops weak references to a destroyed entity.
func (c *Core) forget(h kb.Handle) {
	if c.selection == h {
		c.selection = kb.Handle{}
	}
	if c.hovered == h {
		c.hovered = kb.Handle{}
	}
	if c.pointing.lock == h {
		c.pointing.unlock()
		c.log.Debug(context.Background(), "pointing lock cleared", logging.String("reason", "target destroyed"))
	}
}

// Registry returns the module tree.
func (c *Core) Registry() *kb.Registry { return c.reg }

// Root returns the handle of the root module.
func (c *Core) Root() kb.Handle { return c.root }

// Observer returns the observer. It is updated during Update.
func (c *Core) Observer() *model.Observer { return c.obs }

// Projection returns the projection of the last Update or Render.
func (c *Core) Projection() model.Projection { return c.proj }

// Photometry returns the adaptation engine.
func (c *Core) Photometry() *photometry.Engine { return c.phot }

// Logger returns the core logger.
func (c *Core) Logger() logging.Logger { return c.log }

// FOV returns the current field of view in radians.
func (c *Core) FOV() float64 { return c.fov }

// Frame returns the number of completed updates.
func (c *Core) Frame() uint64 { return c.frame }

// AddModule creates obj and attaches it under the root module.
func (c *Core) AddModule(id string, obj kb.Object) (kb.Handle, error) {
	return c.reg.AddNew(c.root, kb.Meta{ID: id}, obj)
}

// GetModule returns a module by id or dotted path. The leading "core." may
// be omitted. The zero Handle is returned when nothing matches.
func (c *Core) GetModule(id string) kb.Handle {
	h, err := c.reg.Resolve(c.root, id, kb.ResolveModulesOnly)
	if err != nil {
		return kb.Handle{}
	}
	return h
}

// Resolve finds an entity by identifier, path or name inside module (the
// zero Handle for everything). It returns the zero Handle when nothing
// matches.
func (c *Core) Resolve(module kb.Handle, query string, flags int) kb.Handle {
	h, err := c.reg.Resolve(module, query, flags)
	if err != nil {
		if s := c.reg.Suggest(query, 3); len(s) > 0 {
			c.log.Debug(context.Background(), "query not found",
				logging.String("query", query),
				logging.Any("suggestions", s),
			)
		}
		return kb.Handle{}
	}
	return h
}

// AddDataSource offers a data source to module, or to every module when
// module is the zero Handle. It returns nil when accepted, an error wrapping
// kb.ErrRejected when nobody recognised it, and the module's validation
// error otherwise.
func (c *Core) AddDataSource(module kb.Handle, url, typ string, args json.RawMessage) error {
	err := c.reg.AddDataSource(module, url, typ, args)
	result := "accepted"
	switch {
	case errors.Is(err, kb.ErrRejected):
		result = "rejected"
		c.log.Warn(context.Background(), "data source not recognised",
			logging.String("url", url),
			logging.String("type", typ),
		)
	case err != nil:
		result = "error"
		c.log.Error(context.Background(), "data source failed",
			logging.String("url", url),
			logging.String("type", typ),
			logging.Err(err),
		)
	}
	c.metrics.DataSource(result)
	return err
}

// SetGlobalListener installs the sole attribute change listener.
func (c *Core) SetGlobalListener(f func(h kb.Handle, attr string)) {
	c.reg.SetListener(f)
}

// SetOnClick installs a click callback. Returning true cancels the
// selection the click would have made.
func (c *Core) SetOnClick(f func(x, y float64) bool) { c.onClick = f }

// Select changes the selected entity. The zero Handle clears the selection.
func (c *Core) Select(h kb.Handle) {
	if c.storeSelection(h) {
		c.reg.Notify(c.root, "selection")
	}
}

// storeSelection selects h, or nothing when h is dead, and reports whether
// the selection changed.
func (c *Core) storeSelection(h kb.Handle) bool {
	if !h.IsZero() && !c.reg.Alive(h) {
		h = kb.Handle{}
	}
	if h == c.selection {
		return false
	}
	c.selection = h
	return true
}

// Selection returns the selected entity, or the zero Handle.
func (c *Core) Selection() kb.Handle {
	if !c.reg.Alive(c.selection) {
		return kb.Handle{}
	}
	return c.selection
}

// Hovered returns the entity under the pointer at the last Render.
func (c *Core) Hovered() kb.Handle {
	if !c.reg.Alive(c.hovered) {
		return kb.Handle{}
	}
	return c.hovered
}

// Clicks returns the number of clicks received so far.
func (c *Core) Clicks() int { return c.clicks }

// SetViewOffset moves the view centre vertically by centerY window pixels,
// e.g. to keep the zoom centre in the sky area left by a panel.
func (c *Core) SetViewOffset(centerY float64) {
	c.viewOffsetY = centerY
	c.updateProjection()
}

// ReportVmagInFOV feeds the eye adaptation with a visible object of
// magnitude vmag, angular radius r and separation sep from the view centre.
func (c *Core) ReportVmagInFOV(vmag, r, sep float64) {
	c.phot.ReportVmagInFOV(vmag, r, sep)
}

// ReportLuminanceInFOV feeds a precomputed luminance, e.g. the sky
// background.
func (c *Core) ReportLuminanceInFOV(lum float64, fast bool) {
	c.phot.ReportLuminanceInFOV(lum, fast)
}

// GetPointForMag returns the point radius (window pixels) and gamma
// corrected luminance of a point source of magnitude mag.
func (c *Core) GetPointForMag(mag float64) (visible bool, radius, luminance float64) {
	p := c.phot.PointForMag(mag)
	return p.Visible, p.Radius, p.Luminance
}

// GetApparentAngleForPoint returns the angular radius, in radians, of a
// circle of r window pixels at the centre of proj.
func GetApparentAngleForPoint(proj model.Projection, r float64) float64 {
	return r / proj.PixelsPerRadian()
}

// GetPointForApparentAngle is the inverse of GetApparentAngleForPoint.
func GetPointForApparentAngle(proj model.Projection, angle float64) float64 {
	return angle * proj.PixelsPerRadian()
}

func (c *Core) updateProjection() {
	p := model.NewProjection(c.projKind, c.fov, c.winW, c.winH, c.pixelScale)
	p.FlipX = c.flipH
	p.FlipY = c.flipV
	p.CenterOffsetY = c.viewOffsetY
	c.proj = p
}

// pointSurface is the solid angle covered by a point of minimum radius.
func (c *Core) pointSurface() float64 {
	a := GetApparentAngleForPoint(c.proj, c.phot.Params().MinPointRadius)
	return math.Pi * a * a
}
