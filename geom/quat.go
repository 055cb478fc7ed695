package geom

import "math"

// Quat is a rotation quaternion (W + Xi + Yj + Zk).
type Quat struct {
	W, X, Y, Z float64
}

// forward is the reference axis rotated by pointing quaternions.
var forward = Vec3{X: 1}

// QuatAxisAngle returns the rotation of angle a around the unit axis.
func QuatAxisAngle(axis Vec3, a float64) Quat {
	s, c := math.Sincos(a / 2)
	axis = axis.Normalize()
	return Quat{W: c, X: axis.X * s, Y: axis.Y * s, Z: axis.Z * s}
}

// QuatFromYawPitch returns the pointing rotation taking +X to the direction
// with the given yaw (around +Z) and pitch (towards +Z).
func QuatFromYawPitch(yaw, pitch float64) Quat {
	qz := QuatAxisAngle(Vec3{Z: 1}, yaw)
	qy := QuatAxisAngle(Vec3{Y: 1}, -pitch)
	return qz.Mul(qy)
}

// QuatLookAt returns a pointing rotation aiming +X at dir with no roll.
func QuatLookAt(dir Vec3) Quat {
	yaw, pitch := ToSpherical(dir)
	return QuatFromYawPitch(yaw, pitch)
}

// Mul returns the Hamilton product q·o (apply o first, then q).
func (q Quat) Mul(o Quat) Quat {
	return Quat{
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
	}
}

// Dot returns the 4D dot product.
func (q Quat) Dot(o Quat) float64 {
	return q.W*o.W + q.X*o.X + q.Y*o.Y + q.Z*o.Z
}

// Normalize returns q scaled to unit length.
func (q Quat) Normalize() Quat {
	n := math.Sqrt(q.Dot(q))
	if n == 0 {
		return Quat{W: 1}
	}
	return Quat{W: q.W / n, X: q.X / n, Y: q.Y / n, Z: q.Z / n}
}

// Rotate applies the rotation to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	u := Vec3{X: q.X, Y: q.Y, Z: q.Z}
	t := u.Cross(v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(u.Cross(t))
}

// Direction returns the pointing direction (+X rotated by q).
func (q Quat) Direction() Vec3 {
	return q.Rotate(forward)
}

// Slerp interpolates along the shortest great arc between a and b.
func Slerp(a, b Quat, t float64) Quat {
	d := a.Dot(b)
	if d < 0 {
		b = Quat{W: -b.W, X: -b.X, Y: -b.Y, Z: -b.Z}
		d = -d
	}
	if d > 0.9995 {
		// Nearly parallel: nlerp is accurate and avoids dividing by ~0.
		return Quat{
			W: Mix(a.W, b.W, t),
			X: Mix(a.X, b.X, t),
			Y: Mix(a.Y, b.Y, t),
			Z: Mix(a.Z, b.Z, t),
		}.Normalize()
	}
	theta := math.Acos(d)
	s := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / s
	wb := math.Sin(t*theta) / s
	return Quat{
		W: a.W*wa + b.W*wb,
		X: a.X*wa + b.X*wb,
		Y: a.Y*wa + b.Y*wb,
		Z: a.Z*wa + b.Z*wb,
	}
}
