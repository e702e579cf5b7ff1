// Package leveldata provides TMX arena parsing shared between client and
// server. It has no dependencies on donburi or resolv — pure data only.
package leveldata

// ArenaData holds the collision-relevant data parsed from a TMX arena file.
type ArenaData struct {
	SolidRects  []SolidRect
	SpawnPoints []SpawnPoint
	MapWidth    int
	MapHeight   int
}

// SolidRect is a solid collision tile in world coordinates.
type SolidRect struct {
	X, Y, W, H float64
}

// SpawnPoint is a player spawn location.
type SpawnPoint struct {
	X, Y  float64
	Index int
}
