package model

import (
	"math"

	"github.com/signalsfoundry/sky-engine/geom"
)

// ProjectionKind selects the sky-to-plane mapping.
type ProjectionKind int

const (
	// Stereographic is conformal and keeps wide fields readable.
	Stereographic ProjectionKind = iota
	// Perspective is the gnomonic (pinhole) projection, for narrow fields.
	Perspective
)

// Projection maps view-frame directions to window pixels. The field of view
// spans the window width.
type Projection struct {
	Kind         ProjectionKind
	FOV          float64 // radians
	WindowWidth  float64 // window pixels
	WindowHeight float64
	PixelScale   float64 // physical pixels per window pixel
	FlipX, FlipY bool
	// CenterOffsetY moves the projection centre vertically, in window pixels.
	CenterOffsetY float64

	scale float64 // projected half-width
}

// NewProjection builds a projection for the given field of view and window.
func NewProjection(kind ProjectionKind, fov, w, h, pixelScale float64) Projection {
	p := Projection{
		Kind:         kind,
		FOV:          fov,
		WindowWidth:  w,
		WindowHeight: h,
		PixelScale:   pixelScale,
	}
	switch kind {
	case Perspective:
		p.scale = math.Tan(fov / 2)
	default:
		p.scale = 2 * math.Tan(fov/4)
	}
	return p
}

// PixelsPerRadian is the linear scale at the projection centre, in window
// pixels per radian. Both supported projections have unit derivative at the
// centre.
func (p Projection) PixelsPerRadian() float64 {
	if p.scale == 0 {
		return 0
	}
	return (p.WindowWidth / 2) / p.scale
}

// Project maps a view-frame direction to window coordinates (origin top
// left, y down). ok is false for directions the projection cannot show.
func (p Projection) Project(v geom.Vec3) (x, y float64, ok bool) {
	v = v.Normalize()
	var px, py float64
	switch p.Kind {
	case Perspective:
		if v.Z >= -1e-9 {
			return 0, 0, false
		}
		px, py = v.X/-v.Z, v.Y/-v.Z
	default:
		d := 1 - v.Z
		if d < 1e-9 {
			return 0, 0, false
		}
		px, py = 2*v.X/d, 2*v.Y/d
	}
	if p.FlipX {
		px = -px
	}
	if p.FlipY {
		py = -py
	}
	k := p.PixelsPerRadian()
	return p.WindowWidth/2 + px*k, p.WindowHeight/2 + p.CenterOffsetY - py*k, true
}

// Unproject is the inverse of Project and returns a unit view-frame vector.
func (p Projection) Unproject(x, y float64) geom.Vec3 {
	k := p.PixelsPerRadian()
	px := (x - p.WindowWidth/2) / k
	py := -(y - p.WindowHeight/2 - p.CenterOffsetY) / k
	if p.FlipX {
		px = -px
	}
	if p.FlipY {
		py = -py
	}
	switch p.Kind {
	case Perspective:
		return geom.Vec3{X: px, Y: py, Z: -1}.Normalize()
	default:
		r2 := px*px + py*py
		d := 4 + r2
		return geom.Vec3{X: 4 * px / d, Y: 4 * py / d, Z: (r2 - 4) / d}
	}
}
