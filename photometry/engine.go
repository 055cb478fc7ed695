package photometry

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/sky-engine/geom"
)

// Adaptation time constants in seconds.
const (
	tauFast     = 0.01
	tauBrighten = 0.5
	tauDarken   = 3.0
)

// displayGamma is applied to point luminance before it leaves the engine.
const displayGamma = 2.2

// Params groups the user tunable photometric settings.
type Params struct {
	BortleIndex     int
	DisplayLimitMag float64
	TonemapperP     float64
	ExposureScale   float64
	LwmaxMin        float64

	MinPointRadius  float64 // px
	MaxPointRadius  float64 // px
	SkipPointRadius float64 // px
	ShowHintsRadius float64 // px; smaller points get no label

	StarLinearScale       float64
	StarRelativeScale     float64
	StarScaleScreenFactor float64

	FastAdaptation bool
}

// DefaultParams returns the settings used for a dark suburban sky.
func DefaultParams() Params {
	return Params{
		BortleIndex:           3,
		DisplayLimitMag:       99,
		TonemapperP:           2.2,
		ExposureScale:         2,
		LwmaxMin:              0.052,
		MinPointRadius:        1,
		MaxPointRadius:        50,
		SkipPointRadius:       0.25,
		ShowHintsRadius:       2,
		StarLinearScale:       4,
		StarRelativeScale:     1.1,
		StarScaleScreenFactor: 1,
	}
}

// Validate reports settings the engine cannot work with.
func (p Params) Validate() error {
	switch {
	case p.BortleIndex < 1 || p.BortleIndex > 9:
		return fmt.Errorf("bortle index %d out of range 1..9", p.BortleIndex)
	case p.TonemapperP <= 0:
		return fmt.Errorf("tonemapper p must be positive, got %g", p.TonemapperP)
	case p.LwmaxMin <= 0:
		return fmt.Errorf("lwmax_min must be positive, got %g", p.LwmaxMin)
	case p.MinPointRadius <= 0 || p.MaxPointRadius < p.MinPointRadius:
		return fmt.Errorf("invalid point radius range [%g, %g]", p.MinPointRadius, p.MaxPointRadius)
	case p.StarLinearScale <= 0 || p.StarRelativeScale <= 0 || p.StarScaleScreenFactor <= 0:
		return fmt.Errorf("star scales must be positive")
	}
	return nil
}

// Engine holds the eye adaptation state. Objects report their brightness
// during a frame, Fold moves the adaptation toward the frame's target and
// PointForMag turns magnitudes into point parameters.
type Engine struct {
	params Params
	tm     Tonemapper
	tel    Telescope

	lwsky float64

	fov          float64
	pointSurface float64

	frameTarget float64
	skySum      float64
	skyCount    int
	fastFrame   bool
	reports     int
}

// NewEngine returns an engine adapted to the dark sky of params.
func NewEngine(params Params) *Engine {
	e := &Engine{
		params:       params,
		fov:          math.Pi / 3,
		pointSurface: defaultPointSurface,
	}
	e.tm = Tonemapper{P: params.TonemapperP, Exposure: params.ExposureScale, Lwmax: e.Floor()}
	e.lwsky = e.Floor()
	return e
}

// defaultPointSurface is used until the first BeginFrame: a 1px point at
// about 1000 px per radian.
const defaultPointSurface = math.Pi * 1e-6

// Params returns the current settings.
func (e *Engine) Params() Params { return e.params }

// SetParams replaces the settings. The adaptation state is kept, raised to
// the new floor if needed.
func (e *Engine) SetParams(p Params) {
	e.params = p
	e.tm.P = p.TonemapperP
	e.tm.Exposure = p.ExposureScale
	e.tm.Lwmax = math.Max(e.tm.Lwmax, p.LwmaxMin)
}

// Telescope returns the optical aid applied to reported and drawn
// magnitudes.
func (e *Engine) Telescope() Telescope { return e.tel }

// SetTelescope changes the optical aid.
func (e *Engine) SetTelescope(t Telescope) { e.tel = t }

// Tonemapper returns the current tonemapper.
func (e *Engine) Tonemapper() Tonemapper { return e.tm }

// Lwmax returns the adapted maximum visible luminance.
func (e *Engine) Lwmax() float64 { return e.tm.Lwmax }

// SetLwmax forces the adaptation state, never below LwmaxMin.
func (e *Engine) SetLwmax(v float64) { e.tm.Lwmax = math.Max(v, e.params.LwmaxMin) }

// LwskyAverage returns the running sky luminance estimate.
func (e *Engine) LwskyAverage() float64 { return e.lwsky }

// Reports returns how many reports the current frame received.
func (e *Engine) Reports() int { return e.reports }

// Floor returns the adaptation floor for the configured sky: LwmaxMin under
// a pristine sky, brighter under light pollution.
func (e *Engine) Floor() float64 {
	return e.params.LwmaxMin * math.Pow(10, 0.4*(bortleSQM[0]-SkyQuality(e.params.BortleIndex)))
}

// BeginFrame resets the per frame reports. fov is the field of view in
// radians and pointSurface the solid angle of the smallest rendered point.
func (e *Engine) BeginFrame(fov, pointSurface float64) {
	if fov > 0 {
		e.fov = fov
	}
	if pointSurface > 0 {
		e.pointSurface = pointSurface
	}
	e.frameTarget = 0
	e.skySum = 0
	e.skyCount = 0
	e.fastFrame = false
	e.reports = 0
}

// ReportVmagInFOV folds a visible object of magnitude vmag, angular radius r
// and separation sep from the view center (radians) into the frame target.
func (e *Engine) ReportVmagInFOV(vmag, r, sep float64) {
	if vmag > e.params.DisplayLimitMag {
		return
	}
	lum := MagToLumApparent(vmag-e.tel.GainMag, math.Pi*r*r, e.pointSurface)
	e.report(lum * e.weight(r, sep))
}

func (e *Engine) weight(r, sep float64) float64 {
	half := e.fov / 2
	center := geom.Smoothstep(1, 0, (sep-r)/half)
	size := 0.5 + 0.5*geom.Clamp(r/(e.fov/4), 0, 1)
	return center * size
}

// ReportLuminanceInFOV folds a precomputed luminance, such as the sky
// background. fast requests near instantaneous adaptation for this frame.
func (e *Engine) ReportLuminanceInFOV(lum float64, fast bool) {
	if fast {
		e.fastFrame = true
	}
	if lum > 0 {
		e.skySum += lum
		e.skyCount++
	}
	e.report(lum)
}

func (e *Engine) report(lum float64) {
	e.reports++
	if lum > e.frameTarget {
		e.frameTarget = lum
	}
}

// Fold moves the adaptation state toward the frame's target after dt
// seconds. It must run once per frame, after every report.
func (e *Engine) Fold(dt float64) {
	floor := e.Floor()
	target := math.Max(e.frameTarget, floor)
	cur := math.Max(e.tm.Lwmax, e.params.LwmaxMin)

	tau := tauDarken
	switch {
	case e.params.FastAdaptation || e.fastFrame:
		tau = tauFast
	case target > cur:
		tau = tauBrighten
	}
	a := alpha(dt, tau)
	next := math.Exp(math.Log(cur) + a*(math.Log(target)-math.Log(cur)))
	e.tm.Lwmax = math.Max(next, e.params.LwmaxMin)
	e.tm.P = e.params.TonemapperP
	e.tm.Exposure = e.params.ExposureScale

	if e.skyCount > 0 {
		e.lwsky = e.skySum / float64(e.skyCount)
	} else {
		e.lwsky += alpha(dt, tauDarken) * (floor - e.lwsky)
	}
}

func alpha(dt, tau float64) float64 {
	if dt <= 0 {
		return 0
	}
	return 1 - math.Exp(-dt/tau)
}

// Point is the render ready appearance of a point source.
type Point struct {
	Radius    float64 // px
	Luminance float64 // gamma corrected, 0..1
	Visible   bool
}

// PointForMag computes the screen radius and luminance of a point source
// seen through the telescope. Objects fainter than the display limit, or
// whose natural radius falls below the skip radius, are not visible.
func (e *Engine) PointForMag(mag float64) Point {
	p := e.params
	if mag > p.DisplayLimitMag || math.IsNaN(mag) {
		return Point{}
	}
	ld := e.tm.Map(MagToLumApparent(mag-e.tel.GainMag, 0, e.pointSurface))
	r := p.StarLinearScale * math.Pow(ld, p.StarRelativeScale/2) * p.StarScaleScreenFactor
	if r < p.SkipPointRadius {
		return Point{}
	}
	ld = math.Min(ld, 1)
	if r < p.MinPointRadius {
		ld *= (r / p.MinPointRadius) * (r / p.MinPointRadius)
		r = p.MinPointRadius
	}
	r = math.Min(r, p.MaxPointRadius)
	lum := geom.Clamp(math.Pow(ld, 1/displayGamma), 0, 1)
	return Point{Radius: r, Luminance: lum, Visible: true}
}
