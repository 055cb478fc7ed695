package model

import (
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/sky-engine/geom"
	"github.com/signalsfoundry/sky-engine/timectrl"
)

// Observer is the current vantage point: geographic location, time and view
// direction. Derived frames are recomputed by Update.
//
// Frames:
//   - equatorial: ICRF-aligned (x towards RA 0, z towards the north pole);
//     precession and nutation are ignored.
//   - observed: horizontal frame, x north, y west, z zenith.
//   - view: x right, y up, looking along -z.
type Observer struct {
	Latitude  float64 // radians, north positive
	Longitude float64 // radians, east positive
	Elevation float64 // metres above sea level

	// TT is the observer time as a Terrestrial Time MJD.
	TT float64

	// Yaw and Pitch give the view direction in the observed frame. Yaw is
	// measured from north towards west; azimuth (east of north) is -Yaw.
	Yaw   float64
	Pitch float64

	lst      float64
	eq2obs   geom.Mat3
	obs2view geom.Mat3
	viewDir  geom.Vec3
}

// NewObserver returns an observer at the given location and TT time, looking
// north at the horizon.
func NewObserver(lat, lon, elevation, tt float64) *Observer {
	o := &Observer{
		Latitude:  lat,
		Longitude: lon,
		Elevation: elevation,
		TT:        tt,
	}
	o.Update()
	return o
}

// Update recomputes the time-dependent frames and the view rotation.
func (o *Observer) Update() {
	jd := timectrl.JulianDate(timectrl.TTToUTC(o.TT))
	o.lst = math.Mod(satellite.ThetaG_JD(jd)+o.Longitude, 2*math.Pi)
	if o.lst < 0 {
		o.lst += 2 * math.Pi
	}

	sp, cp := math.Sincos(o.Latitude)
	// Rows expressed in the hour-angle frame (x towards the local meridian on
	// the equator, y east, z north pole).
	horizon := geom.Rows(
		geom.Vec3{X: -sp, Y: 0, Z: cp},
		geom.Vec3{X: 0, Y: -1, Z: 0},
		geom.Vec3{X: cp, Y: 0, Z: sp},
	)
	o.eq2obs = horizon.Mul(geom.RotZ(-o.lst))
	o.updateView()
}

// SetTT changes the observer time. Call Update to refresh the frames.
func (o *Observer) SetTT(tt float64) {
	o.TT = tt
}

// SetView changes the view direction and refreshes the view rotation
// immediately.
func (o *Observer) SetView(yaw, pitch float64) {
	o.Yaw = yaw
	o.Pitch = geom.Clamp(pitch, -math.Pi/2, math.Pi/2)
	o.updateView()
}

func (o *Observer) updateView() {
	sy, cy := math.Sincos(o.Yaw)
	f := geom.FromSpherical(o.Yaw, o.Pitch)
	right := geom.Vec3{X: sy, Y: -cy}
	up := right.Cross(f)
	o.viewDir = f
	o.obs2view = geom.Rows(right, up, f.Scale(-1))
}

// LocalSiderealTime returns the local apparent sidereal time in radians.
func (o *Observer) LocalSiderealTime() float64 { return o.lst }

// Time returns the observer time as a UTC instant.
func (o *Observer) Time() time.Time { return timectrl.TimeFromTT(o.TT) }

// ViewDirection returns the unit view direction in the observed frame.
func (o *Observer) ViewDirection() geom.Vec3 { return o.viewDir }

// EquatorialToObserved converts an equatorial direction to the observed
// frame.
func (o *Observer) EquatorialToObserved(v geom.Vec3) geom.Vec3 {
	return o.eq2obs.Apply(v)
}

// ObservedToEquatorial is the inverse of EquatorialToObserved.
func (o *Observer) ObservedToEquatorial(v geom.Vec3) geom.Vec3 {
	return o.eq2obs.Transpose().Apply(v)
}

// ObservedToView converts an observed direction to the view frame.
func (o *Observer) ObservedToView(v geom.Vec3) geom.Vec3 {
	return o.obs2view.Apply(v)
}

// ViewToObserved is the inverse of ObservedToView.
func (o *Observer) ViewToObserved(v geom.Vec3) geom.Vec3 {
	return o.obs2view.Transpose().Apply(v)
}

// AltAz returns altitude and azimuth (east of north) of an observed
// direction, in radians.
func AltAz(v geom.Vec3) (alt, az float64) {
	lon, lat := geom.ToSpherical(v)
	az = math.Mod(-lon, 2*math.Pi)
	if az < 0 {
		az += 2 * math.Pi
	}
	return lat, az
}

// FromAltAz returns the observed direction for an altitude/azimuth pair.
func FromAltAz(alt, az float64) geom.Vec3 {
	return geom.FromSpherical(-az, alt)
}
