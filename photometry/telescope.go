package photometry

import "math"

const (
	// EyeDiameter is the dark adapted pupil diameter in mm.
	EyeDiameter = 6.3
	// eyeFOV is the full field of view of the naked eye, radians.
	eyeFOV = 60 * math.Pi / 180
	// maxAutoDiameter caps the aperture chosen by AutoTelescope, mm.
	maxAutoDiameter = 400.0
)

// Telescope is the optical aid the sky is seen through. The zero Telescope
// is the naked eye.
type Telescope struct {
	Diameter      float64 // aperture, mm
	Magnification float64
	LightGrasp    float64 // collected light relative to the eye
	GainMag       float64 // magnitudes gained over the eye
}

// NewTelescope returns a telescope of the given aperture in mm at its
// minimum useful magnification. Apertures no larger than the eye give the
// naked eye.
func NewTelescope(diameter float64) Telescope {
	if diameter <= EyeDiameter {
		return Telescope{}
	}
	return telescope(diameter, diameter/EyeDiameter)
}

// AutoTelescope returns the telescope matching a field of view of fov
// radians: fields narrower than the eye's get a proportionally larger
// aperture.
func AutoTelescope(fov float64) Telescope {
	if fov <= 0 || fov >= eyeFOV {
		return Telescope{}
	}
	m := eyeFOV / fov
	return telescope(math.Min(EyeDiameter*m, maxAutoDiameter), m)
}

func telescope(diameter, magnification float64) Telescope {
	grasp := (diameter / EyeDiameter) * (diameter / EyeDiameter)
	return Telescope{
		Diameter:      diameter,
		Magnification: magnification,
		LightGrasp:    grasp,
		GainMag:       2.5 * math.Log10(grasp),
	}
}
