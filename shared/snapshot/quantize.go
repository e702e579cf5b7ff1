package snapshot

import "math"

// RoundTo rounds f to p decimal places. For all f and p >= 0 the error is
// bounded by 0.5 * 10^-p.
func RoundTo(f float64, p int) float64 {
	scale := math.Pow(10, float64(p))
	return math.Round(f*scale) / scale
}

func quantizeVec3(v Vec3, p int) Vec3 {
	return Vec3{
		X: RoundTo(v.X, p),
		Y: RoundTo(v.Y, p),
		Z: RoundTo(v.Z, p),
	}
}

func quantizeQuat(q Quat, p int) Quat {
	return Quat{
		X: RoundTo(q.X, p),
		Y: RoundTo(q.Y, p),
		Z: RoundTo(q.Z, p),
		W: RoundTo(q.W, p),
	}
}

func (v Vec3) magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}
