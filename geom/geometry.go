// Package geom holds the small amount of linear algebra the engine needs:
// unit direction vectors, rotation matrices and quaternions.
package geom

import "math"

// Vec3 is a 3D vector. Directions on the sky are unit vectors.
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Scale returns v * k.
func (v Vec3) Scale(k float64) Vec3 {
	return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Cross returns v × other.
func (v Vec3) Cross(other Vec3) Vec3 {
	return Vec3{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Normalize returns v scaled to unit length. The zero vector is returned
// unchanged.
func (v Vec3) Normalize() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Separation returns the angle in radians between two directions. The
// atan2 form stays accurate for very small and very large angles.
func Separation(a, b Vec3) float64 {
	return math.Atan2(a.Cross(b).Norm(), a.Dot(b))
}

// FromSpherical returns the unit vector for a longitude/latitude pair
// (right ascension/declination, or yaw/pitch), in radians.
func FromSpherical(lon, lat float64) Vec3 {
	cl := math.Cos(lat)
	return Vec3{
		X: cl * math.Cos(lon),
		Y: cl * math.Sin(lon),
		Z: math.Sin(lat),
	}
}

// ToSpherical is the inverse of FromSpherical. The returned longitude is in
// (-π, π].
func ToSpherical(v Vec3) (lon, lat float64) {
	d := math.Hypot(v.X, v.Y)
	if d == 0 && v.Z == 0 {
		return 0, 0
	}
	return math.Atan2(v.Y, v.X), math.Atan2(v.Z, d)
}

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Mix linearly interpolates between a and b.
func Mix(a, b, t float64) float64 {
	return a*(1-t) + b*t
}

// Smoothstep is the Hermite step between edge0 and edge1. Reversed edges
// give a falling step.
func Smoothstep(edge0, edge1, x float64) float64 {
	if edge0 == edge1 {
		if x < edge0 {
			return 0
		}
		return 1
	}
	t := Clamp((x-edge0)/(edge1-edge0), 0, 1)
	return t * t * (3 - 2*t)
}
