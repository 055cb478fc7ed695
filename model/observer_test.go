package model

import (
	"math"
	"testing"

	"github.com/signalsfoundry/sky-engine/geom"
)

func TestObserverZenithAndPole(t *testing.T) {
	lat := 48.85 * math.Pi / 180
	obs := NewObserver(lat, 2.35*math.Pi/180, 35, 60000.25)

	// An equatorial direction at RA = LST and Dec = latitude culminates at
	// the zenith.
	zenith := obs.EquatorialToObserved(geom.FromSpherical(obs.LocalSiderealTime(), lat))
	if alt, _ := AltAz(zenith); math.Abs(alt-math.Pi/2) > 1e-9 {
		t.Fatalf("zenith altitude = %v, want π/2", alt)
	}

	pole := obs.EquatorialToObserved(geom.Vec3{Z: 1})
	alt, az := AltAz(pole)
	if math.Abs(alt-lat) > 1e-9 {
		t.Fatalf("pole altitude = %v, want latitude %v", alt, lat)
	}
	if math.Abs(az) > 1e-9 && math.Abs(az-2*math.Pi) > 1e-9 {
		t.Fatalf("pole azimuth = %v, want 0 (north)", az)
	}
}

func TestObserverFramesRoundTrip(t *testing.T) {
	obs := NewObserver(0.3, -1.2, 0, 60123.7)
	obs.SetView(0.8, 0.4)

	v := geom.FromSpherical(1.1, -0.2)
	if got := obs.ObservedToEquatorial(obs.EquatorialToObserved(v)); got.DistanceTo(v) > 1e-12 {
		t.Fatalf("equatorial round trip = %+v, want %+v", got, v)
	}
	if got := obs.ViewToObserved(obs.ObservedToView(v)); got.DistanceTo(v) > 1e-12 {
		t.Fatalf("view round trip = %+v, want %+v", got, v)
	}

	center := obs.ObservedToView(obs.ViewDirection())
	if center.DistanceTo(geom.Vec3{Z: -1}) > 1e-12 {
		t.Fatalf("view direction maps to %+v, want -Z", center)
	}
}

func TestObserverTimeAdvancesSiderealTime(t *testing.T) {
	obs := NewObserver(0, 0, 0, 60000)
	lst0 := obs.LocalSiderealTime()
	obs.SetTT(60000 + 1.0/24)
	obs.Update()
	d := math.Mod(obs.LocalSiderealTime()-lst0+2*math.Pi, 2*math.Pi)
	// One solar hour is slightly more than one sidereal hour of rotation.
	if math.Abs(d-(2*math.Pi/24)*1.0027379) > 1e-4 {
		t.Fatalf("LST advanced by %v rad in one hour", d)
	}
}

func TestAltAzConventions(t *testing.T) {
	east := FromAltAz(0, math.Pi/2)
	if east.DistanceTo(geom.Vec3{Y: -1}) > 1e-12 {
		t.Fatalf("azimuth 90° = %+v, want -Y (east)", east)
	}
	alt, az := AltAz(east)
	if math.Abs(alt) > 1e-12 || math.Abs(az-math.Pi/2) > 1e-12 {
		t.Fatalf("AltAz(east) = %v, %v", alt, az)
	}
}
