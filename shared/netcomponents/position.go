// Package netcomponents defines the donburi components that travel over
// the wire. Client and server attach these to their entities; the sync
// layer reads and writes them but owns none of them.
package netcomponents

import "github.com/yohamta/donburi"

type NetPositionData struct {
	X, Y, Z float64
}

var NetPosition = donburi.NewComponentType[NetPositionData]()

// LerpNetPosition interpolates between two positions
func LerpNetPosition(from, to NetPositionData, t float64) *NetPositionData {
	return &NetPositionData{
		X: from.X + (to.X-from.X)*t,
		Y: from.Y + (to.Y-from.Y)*t,
		Z: from.Z + (to.Z-from.Z)*t,
	}
}
