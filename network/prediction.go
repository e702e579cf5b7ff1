package network

import (
	"math"

	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"

	"github.com/automoto/stormgrid-mp/shared/messages"
	"github.com/automoto/stormgrid-mp/shared/netconfig"
	"github.com/automoto/stormgrid-mp/shared/sim"
)

// InputRecord stores an input alongside the predicted position after applying it.
type InputRecord struct {
	Input      messages.PlayerInput
	PredictedX float64
	PredictedY float64
}

// PredictionBuffer is a ring buffer of recent inputs and their predicted
// outcomes. Capacity bounds how far back a server correction can rewind;
// older slots are overwritten and their inputs are unrecoverable.
type PredictionBuffer struct {
	history []InputRecord
	nextSeq uint32
}

func NewPredictionBuffer(capacity int) *PredictionBuffer {
	return &PredictionBuffer{history: make([]InputRecord, capacity)}
}

// Store saves an input and the resulting predicted position.
func (pb *PredictionBuffer) Store(input messages.PlayerInput, predX, predY float64) {
	idx := int(input.Sequence) % len(pb.history)
	pb.history[idx] = InputRecord{
		Input:      input,
		PredictedX: predX,
		PredictedY: predY,
	}
	pb.nextSeq = input.Sequence + 1
}

// Get retrieves a stored record by sequence number. Returns false if not
// found or if the slot has been overwritten.
func (pb *PredictionBuffer) Get(seq uint32) (InputRecord, bool) {
	idx := int(seq) % len(pb.history)
	record := pb.history[idx]
	if record.Input.Sequence != seq || record.Input.Timestamp == 0 {
		return InputRecord{}, false
	}
	return record, true
}

// NextSeq returns the next expected sequence number.
func (pb *PredictionBuffer) NextSeq() uint32 {
	return pb.nextSeq
}

// Unacknowledged returns all stored inputs with sequence numbers greater
// than lastAcked and less than nextSeq.
func (pb *PredictionBuffer) Unacknowledged(lastAcked uint32) []InputRecord {
	var results []InputRecord
	for seq := lastAcked + 1; seq < pb.nextSeq; seq++ {
		if record, ok := pb.Get(seq); ok {
			results = append(results, record)
		}
	}
	return results
}

// PredictorState reports what the local player's motion is doing.
type PredictorState int

const (
	// StatePredicting: inputs apply immediately and go out to the server.
	StatePredicting PredictorState = iota
	// StateReconciling: a correction landed and the visual offset is still
	// blending out. Inputs keep applying on top of the corrected state.
	StateReconciling
)

// Predictor runs the local player's movement ahead of the server and folds
// authoritative corrections back in. Owned by the client's game loop; not
// safe for concurrent use.
type Predictor struct {
	params netconfig.Params
	world  *sim.World
	body   *sim.Body
	buf    *PredictionBuffer

	state     PredictorState
	lastAcked uint32

	// Visual offset left over from the last correction, decayed by a tween
	// so the camera never sees the rewind itself.
	offsetX, offsetY float64
	blend            *gween.Tween
}

func NewPredictor(params netconfig.Params, world *sim.World, body *sim.Body) *Predictor {
	return &Predictor{
		params: params,
		world:  world,
		body:   body,
		buf:    NewPredictionBuffer(params.InputBufferCap),
	}
}

// ApplyInput advances the local body by one step and records the outcome.
// The returned message carries the predicted position for the server's
// divergence check.
func (p *Predictor) ApplyInput(input messages.PlayerInput) messages.PlayerInput {
	p.world.Step(p.body, frameFromInput(input))
	input.PredictedX = p.body.X()
	input.PredictedY = p.body.Y()
	input.PredictedVelX = p.body.VelX
	input.PredictedVelY = p.body.VelY
	p.buf.Store(input, input.PredictedX, input.PredictedY)
	return input
}

// Reconcile consumes the reconciliation half of a state update. Without a
// correction it only advances the ack watermark. With one it rewinds to
// the server's transform, replays every unacknowledged input, and starts
// blending the visual offset unless the error is big enough to snap.
func (p *Predictor) Reconcile(update messages.StateUpdate) {
	if update.LastInputSeq > p.lastAcked {
		p.lastAcked = update.LastInputSeq
	}
	corr := update.Correction
	if corr == nil {
		return
	}

	visX := p.body.X() + p.offsetX
	visY := p.body.Y() + p.offsetY

	p.body.SetPosition(corr.X, corr.Y)
	p.body.VelX = corr.VelX
	p.body.VelY = corr.VelY

	replayed := 0
	for _, rec := range p.buf.Unacknowledged(corr.InputSeq) {
		if replayed >= p.params.MaxReplayPerTick {
			break
		}
		p.world.Step(p.body, frameFromInput(rec.Input))
		p.buf.Store(rec.Input, p.body.X(), p.body.Y())
		replayed++
	}

	dx := visX - p.body.X()
	dy := visY - p.body.Y()
	if math.Hypot(dx, dy) > p.params.SnapThreshold {
		p.offsetX, p.offsetY = 0, 0
		p.blend = nil
		p.state = StatePredicting
		return
	}

	p.offsetX, p.offsetY = dx, dy
	p.blend = gween.New(1, 0, float32(p.params.BlendWindow.Seconds()), ease.OutQuad)
	p.state = StateReconciling
}

// RenderPosition returns the position to draw this frame: the simulated
// body plus whatever correction offset is still blending out.
func (p *Predictor) RenderPosition(dt float64) (float64, float64) {
	factor := 0.0
	if p.blend != nil {
		f, done := p.blend.Update(float32(dt))
		factor = float64(f)
		if done {
			p.blend = nil
			p.offsetX, p.offsetY = 0, 0
			p.state = StatePredicting
		}
	}
	return p.body.X() + p.offsetX*factor, p.body.Y() + p.offsetY*factor
}

// State reports whether a correction blend is still in flight.
func (p *Predictor) State() PredictorState {
	return p.state
}

// LastAcked returns the highest input sequence the server has confirmed.
func (p *Predictor) LastAcked() uint32 {
	return p.lastAcked
}

// PredictionError measures how far a stored prediction was from the
// server's authoritative position for the same sequence.
func (p *Predictor) PredictionError(seq uint32, serverX, serverY float64) float64 {
	record, ok := p.buf.Get(seq)
	if !ok {
		return 0
	}
	dx := record.PredictedX - serverX
	dy := record.PredictedY - serverY
	return math.Sqrt(dx*dx + dy*dy)
}

func frameFromInput(in messages.PlayerInput) sim.InputFrame {
	return sim.InputFrame{
		MoveX:  in.MoveX,
		MoveY:  in.MoveY,
		Sprint: in.Actions["sprint"],
	}
}
