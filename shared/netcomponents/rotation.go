package netcomponents

import (
	"math"

	"github.com/yohamta/donburi"
)

type NetRotationData struct {
	X, Y, Z, W float64
}

var NetRotation = donburi.NewComponentType[NetRotationData]()

// LerpNetRotation normalized-lerps between two orientations, taking the
// short way around when the quaternions sit in opposite hemispheres.
func LerpNetRotation(from, to NetRotationData, t float64) *NetRotationData {
	dot := from.X*to.X + from.Y*to.Y + from.Z*to.Z + from.W*to.W
	if dot < 0 {
		to = NetRotationData{X: -to.X, Y: -to.Y, Z: -to.Z, W: -to.W}
	}
	out := NetRotationData{
		X: from.X + (to.X-from.X)*t,
		Y: from.Y + (to.Y-from.Y)*t,
		Z: from.Z + (to.Z-from.Z)*t,
		W: from.W + (to.W-from.W)*t,
	}
	mag := math.Sqrt(out.X*out.X + out.Y*out.Y + out.Z*out.Z + out.W*out.W)
	if mag == 0 {
		return &NetRotationData{W: 1}
	}
	out.X /= mag
	out.Y /= mag
	out.Z /= mag
	out.W /= mag
	return &out
}
