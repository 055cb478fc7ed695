// Package photometry converts astronomical brightness into render-ready
// point radius and luminance through an adaptive logarithmic tonemapper.
package photometry

import "math"

const (
	// ArcsecPerRadian converts radians to arc seconds.
	ArcsecPerRadian = 206264.80624709636
	// LumZeroPoint is the luminance in cd/m² of a surface of magnitude 0
	// per square arc second.
	LumZeroPoint = 10.8e4
)

// MagToIlluminance returns the illuminance (lux) received from an object of
// visual magnitude mag.
func MagToIlluminance(mag float64) float64 {
	return LumZeroPoint / (ArcsecPerRadian * ArcsecPerRadian) * math.Pow(10, -0.4*mag)
}

// MagToSurfBrightness returns the surface brightness (mag/arcsec²) of an
// object of magnitude mag spread over surf steradians.
func MagToSurfBrightness(mag, surf float64) float64 {
	return mag + 2.5*math.Log10(surf*ArcsecPerRadian*ArcsecPerRadian)
}

// SurfBrightnessToLumApparent returns the luminance (cd/m²) of a surface
// brightness given in mag/arcsec².
func SurfBrightnessToLumApparent(sb float64) float64 {
	return LumZeroPoint * math.Pow(10, -0.4*sb)
}

// IlluminanceToLumApparent spreads illum over surf steradians. Surfaces
// smaller than minSurf, typically the solid angle of the smallest rendered
// point, are treated as minSurf.
func IlluminanceToLumApparent(illum, surf, minSurf float64) float64 {
	s := math.Max(surf, minSurf)
	if s <= 0 {
		return 0
	}
	return illum / s
}

// MagToLumApparent composes MagToIlluminance and IlluminanceToLumApparent.
func MagToLumApparent(mag, surf, minSurf float64) float64 {
	return IlluminanceToLumApparent(MagToIlluminance(mag), surf, minSurf)
}

// bortleSQM is the typical zenith sky brightness (mag/arcsec²) per Bortle
// class 1 to 9.
var bortleSQM = [9]float64{21.99, 21.89, 21.69, 20.49, 19.50, 18.94, 18.38, 17.80, 17.5}

// SkyQuality returns the sky brightness in mag/arcsec² for a Bortle index,
// clamped to 1..9.
func SkyQuality(bortle int) float64 {
	if bortle < 1 {
		bortle = 1
	}
	if bortle > 9 {
		bortle = 9
	}
	return bortleSQM[bortle-1]
}

// Tonemapper maps world luminance to display values on a logarithmic curve.
type Tonemapper struct {
	P        float64
	Exposure float64
	Lwmax    float64
}

// Map returns the display value of luminance lw. A value of Exposure is
// reached at lw == Lwmax.
func (t Tonemapper) Map(lw float64) float64 {
	den := math.Log1p(t.P * t.Lwmax)
	if den <= 0 || lw <= 0 {
		return 0
	}
	return math.Log1p(t.P*lw) / den * t.Exposure
}

// Reverse is the inverse of Map.
func (t Tonemapper) Reverse(v float64) float64 {
	if t.Exposure == 0 || t.P == 0 {
		return 0
	}
	return math.Expm1(v/t.Exposure*math.Log1p(t.P*t.Lwmax)) / t.P
}
