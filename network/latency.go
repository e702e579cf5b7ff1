package network

import (
	"time"

	"github.com/automoto/stormgrid-mp/shared/messages"
	"github.com/automoto/stormgrid-mp/shared/netconfig"
	"github.com/automoto/stormgrid-mp/shared/netmetrics"
	"github.com/automoto/stormgrid-mp/shared/snapshot"
)

// LatencyCompensator keeps a short RTT history and decides how far ahead
// (or behind) of the last server state remote entities should be shown.
// Owned by the client's game loop; not safe for concurrent use.
type LatencyCompensator struct {
	params   netconfig.Params
	history  []time.Duration
	strategy netconfig.CompensationStrategy
	degraded bool

	// Last extrapolated position per entity, for frame-to-frame smoothing.
	predicted map[uint]snapshot.Vec3

	// Short input history for shaping, separate from the prediction
	// buffer. Shaped outputs are never written back here.
	inputs    []messages.PlayerInput
	shapedX   float64
	shapedY   float64
	hasShaped bool
}

func NewLatencyCompensator(params netconfig.Params) *LatencyCompensator {
	return &LatencyCompensator{
		params:    params,
		strategy:  params.Strategy,
		predicted: make(map[uint]snapshot.Vec3),
	}
}

// AddSample feeds one measured round trip.
func (lc *LatencyCompensator) AddSample(rtt time.Duration) {
	lc.history = append(lc.history, rtt)
	if len(lc.history) > lc.params.LatencyHistorySize {
		lc.history = lc.history[1:]
	}
}

// Average returns the mean RTT over the history window.
func (lc *LatencyCompensator) Average() time.Duration {
	if len(lc.history) == 0 {
		return 0
	}
	var sum time.Duration
	for _, r := range lc.history {
		sum += r
	}
	return sum / time.Duration(len(lc.history))
}

// Jitter is the mean absolute delta between consecutive RTT samples.
func (lc *LatencyCompensator) Jitter() time.Duration {
	if len(lc.history) < 2 {
		return 0
	}
	var sum time.Duration
	for i := 1; i < len(lc.history); i++ {
		d := lc.history[i] - lc.history[i-1]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / time.Duration(len(lc.history)-1)
}

// Lookahead is how far past the last received state the compensator aims:
// a fixed base, half the round trip, and a jitter pad.
func (lc *LatencyCompensator) Lookahead() time.Duration {
	pad := time.Duration(float64(lc.Jitter()) * lc.params.CompensationJitter)
	return lc.params.CompensationBase + lc.Average()/2 + pad
}

// Retune picks the compensation strategy for the current link quality.
// Stable links can afford extrapolation; shaky ones interpolate between
// known states, and a bad link degrades to showing the latest state as-is.
func (lc *LatencyCompensator) Retune(quality netmetrics.QualityRating) {
	lc.degraded = quality >= netmetrics.QualityBad
	if quality <= netmetrics.QualityGood {
		lc.strategy = netconfig.CompensatePredict
	} else {
		lc.strategy = netconfig.CompensateInterpolate
	}
}

// Strategy returns the currently selected strategy.
func (lc *LatencyCompensator) Strategy() netconfig.CompensationStrategy {
	return lc.strategy
}

// Degraded reports whether compensation is suspended for link quality.
func (lc *LatencyCompensator) Degraded() bool {
	return lc.degraded
}

// Forget drops per-entity smoothing state for a destroyed entity.
func (lc *LatencyCompensator) Forget(entityID uint) {
	delete(lc.predicted, entityID)
}

// RecordInput appends one local input sample to the shaper's history.
func (lc *LatencyCompensator) RecordInput(in messages.PlayerInput) {
	lc.inputs = append(lc.inputs, in)
	if len(lc.inputs) > lc.params.LatencyHistorySize {
		lc.inputs = lc.inputs[1:]
	}
}

// ShapeInput derives the movement intent to apply this frame, projected
// ahead to mask the receive-to-apply delay. It is a read-side transform:
// the recorded history is never modified, and the shaped sample must not
// be stored back into it. Returns false when no input has been recorded.
func (lc *LatencyCompensator) ShapeInput() (messages.PlayerInput, bool) {
	n := len(lc.inputs)
	if n == 0 {
		return messages.PlayerInput{}, false
	}
	latest := lc.inputs[n-1]
	if lc.degraded {
		return latest, true
	}

	out := latest
	switch lc.strategy {
	case netconfig.CompensatePredict:
		if n < 3 {
			return latest, true
		}
		a, b := lc.inputs[n-3], lc.inputs[n-2]
		// Quadratic extrapolation one sample ahead, smoothed against the
		// previous shaped output so prediction noise does not oscillate.
		mx := 3*latest.MoveX - 3*b.MoveX + a.MoveX
		my := 3*latest.MoveY - 3*b.MoveY + a.MoveY
		if lc.hasShaped {
			sm := lc.params.PredictionSmooth
			mx = lc.shapedX*sm + mx*(1-sm)
			my = lc.shapedY*sm + my*(1-sm)
		}
		out.MoveX = clampAxis(mx)
		out.MoveY = clampAxis(my)
	default:
		if n < 2 {
			return latest, true
		}
		prev := lc.inputs[n-2]
		out.MoveX = (prev.MoveX + latest.MoveX) / 2
		out.MoveY = (prev.MoveY + latest.MoveY) / 2
	}
	lc.shapedX = out.MoveX
	lc.shapedY = out.MoveY
	lc.hasShaped = true
	return out, true
}

// Compensate positions a remote entity for display. prev and next are the
// two most recent known states with their timestamps; renderAt is the
// server-clock instant being drawn.
func (lc *LatencyCompensator) Compensate(prev, next snapshot.EntitySnapshot, prevAt, nextAt, renderAt int64) snapshot.Vec3 {
	latest := positionOf(next, positionOf(prev, snapshot.Vec3{}))
	if lc.degraded || nextAt <= prevAt {
		return latest
	}

	switch lc.strategy {
	case netconfig.CompensatePredict:
		// Extrapolate from the latest state using its velocity, capped at
		// the lookahead so a stale entity does not run off forever.
		if next.Velocity == nil {
			return latest
		}
		ahead := renderAt - nextAt
		if max := lc.Lookahead().Milliseconds(); ahead > max {
			ahead = max
		}
		if ahead <= 0 {
			return latest
		}
		dt := float64(ahead) / 1000.0
		raw := snapshot.Vec3{
			X: latest.X + next.Velocity.X*dt,
			Y: latest.Y + next.Velocity.Y*dt,
			Z: latest.Z + next.Velocity.Z*dt,
		}
		// Smooth against the previous frame's prediction so extrapolation
		// noise does not jitter the rendered entity.
		if prevOut, ok := lc.predicted[next.EntityID]; ok {
			sm := lc.params.PredictionSmooth
			raw = snapshot.Vec3{
				X: prevOut.X*sm + raw.X*(1-sm),
				Y: prevOut.Y*sm + raw.Y*(1-sm),
				Z: prevOut.Z*sm + raw.Z*(1-sm),
			}
		}
		lc.predicted[next.EntityID] = raw
		return raw
	default:
		if prev.Position == nil || next.Position == nil {
			return latest
		}
		t := float64(renderAt-prevAt) / float64(nextAt-prevAt)
		if t < 0 {
			t = 0
		}
		if t > 1 {
			t = 1
		}
		return snapshot.Vec3{
			X: prev.Position.X + (next.Position.X-prev.Position.X)*t,
			Y: prev.Position.Y + (next.Position.Y-prev.Position.Y)*t,
			Z: prev.Position.Z + (next.Position.Z-prev.Position.Z)*t,
		}
	}
}

func positionOf(s snapshot.EntitySnapshot, fallback snapshot.Vec3) snapshot.Vec3 {
	if s.Position != nil {
		return *s.Position
	}
	return fallback
}

func clampAxis(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
