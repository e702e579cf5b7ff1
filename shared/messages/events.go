package messages

import "github.com/automoto/stormgrid-mp/shared/snapshot"

// EntityCreate is broadcast when an entity enters the world. The initial
// snapshot is always full; deltas start from it.
type EntityCreate struct {
	NetworkID uint
	Kind      string // "player", "projectile", "pickup"
	Initial   snapshot.EntitySnapshot
}

// EntityDestroy is broadcast when an entity is removed.
type EntityDestroy struct {
	NetworkID uint
}

// ScoreUpdate is broadcast when scores change.
type ScoreUpdate struct {
	Scores map[uint]int // NetworkId -> score
}

// ErrorMessage reports a protocol-level failure to the peer.
type ErrorMessage struct {
	Code    int
	Message string
}
