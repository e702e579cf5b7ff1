package messages

// PlayerInput is sent from client to server each frame with the player's
// movement intent. The predicted position rides along so the server can
// judge, after replaying the input, whether the client's prediction
// diverged enough to warrant a correction.
type PlayerInput struct {
	Sequence      uint32          // incrementing ID for reconciliation
	MoveX         float64         // -1..1
	MoveY         float64         // -1..1
	Actions       map[string]bool // pressed action names ("sprint", "fire", ...)
	PredictedX    float64         // client position after applying this input
	PredictedY    float64
	PredictedVelX float64 // client velocity after applying this input
	PredictedVelY float64
	Timestamp     int64 // client clock, Unix ms
}

// NewPlayerInput creates a PlayerInput with an initialized action map.
func NewPlayerInput(seq uint32) PlayerInput {
	return PlayerInput{
		Sequence: seq,
		Actions:  make(map[string]bool),
	}
}
