package core

import (
	"math"

	"github.com/automoto/stormgrid-mp/shared/messages"
	"github.com/automoto/stormgrid-mp/shared/netcomponents"
	"github.com/automoto/stormgrid-mp/shared/netmetrics"
	"github.com/automoto/stormgrid-mp/shared/sim"
	"github.com/automoto/stormgrid-mp/shared/snapshot"
)

// processInputs replays each session's queued inputs against the
// authoritative world, decides whether the client's prediction diverged,
// and writes the results back to the ECS components.
func (s *Server) processInputs() {
	s.forEachSession(func(sess *Session) {
		if !sess.isJoined() {
			return
		}
		s.replaySession(sess)
	})
}

func (s *Server) replaySession(sess *Session) {
	inputs := sess.takeInputs()
	if len(inputs) == 0 {
		return
	}

	// Cap work per tick; anything beyond the cap is dropped and the
	// client will be corrected toward whatever the server did apply.
	if len(inputs) > s.params.MaxReplayPerTick {
		dropped := len(inputs) - s.params.MaxReplayPerTick
		inputs = inputs[dropped:]
		sess.log.Debug().Int("dropped", dropped).Msg("input backlog trimmed")
	}

	sess.mu.Lock()
	lastSeq := sess.lastInputSeq
	sess.mu.Unlock()

	body := sess.body
	var worst *messages.Correction
	worstErr := 0.0

	for _, input := range inputs {
		if input.Sequence <= lastSeq {
			continue
		}
		s.simWorld.Step(body, sim.InputFrame{
			MoveX:  input.MoveX,
			MoveY:  input.MoveY,
			Sprint: input.Actions["sprint"],
		})
		lastSeq = input.Sequence

		// Divergence check against the state the client predicted for this
		// same input. Position and velocity have independent thresholds.
		posErr := math.Hypot(body.X()-input.PredictedX, body.Y()-input.PredictedY)
		velErr := math.Hypot(body.VelX-input.PredictedVelX, body.VelY-input.PredictedVelY)
		diverged := posErr > s.params.PositionThreshold || velErr > s.params.VelocityThreshold
		if diverged && posErr >= worstErr {
			worstErr = posErr
			worst = &messages.Correction{
				InputSeq: input.Sequence,
				X:        body.X(),
				Y:        body.Y(),
				VelX:     body.VelX,
				VelY:     body.VelY,
			}
		}
	}

	sess.mu.Lock()
	sess.lastInputSeq = lastSeq
	degraded := sess.monitor.Status().Quality >= netmetrics.QualityPoor
	sess.mu.Unlock()

	if worst != nil {
		// The correction references the latest applied input so the client
		// replays only what the server has not seen.
		worst.InputSeq = lastSeq
		worst.X = body.X()
		worst.Y = body.Y()
		worst.VelX = body.VelX
		worst.VelY = body.VelY
		if degraded {
			// On a poor link the correction ships at wire precision, the
			// same rounding the compressor applies to snapshots.
			worst.X = snapshot.RoundTo(worst.X, s.params.PositionPrecision)
			worst.Y = snapshot.RoundTo(worst.Y, s.params.PositionPrecision)
			worst.VelX = snapshot.RoundTo(worst.VelX, s.params.VelocityPrecision)
			worst.VelY = snapshot.RoundTo(worst.VelY, s.params.VelocityPrecision)
		}
		sess.setCorrection(worst)
	}

	s.writeBack(sess, lastSeq)
}

// writeBack mirrors the sim body into the entity's networked components.
func (s *Server) writeBack(sess *Session, lastSeq uint32) {
	if !s.world.Valid(sess.entity) {
		return
	}
	entry := s.world.Entry(sess.entity)

	pos := netcomponents.NetPosition.Get(entry)
	pos.X = sess.body.X()
	pos.Y = sess.body.Y()

	vel := netcomponents.NetVelocity.Get(entry)
	vel.X = sess.body.VelX
	vel.Y = sess.body.VelY

	rx, ry, rz, rw := sess.body.HeadingQuat()
	rot := netcomponents.NetRotation.Get(entry)
	rot.X, rot.Y, rot.Z, rot.W = rx, ry, rz, rw

	info := netcomponents.NetPlayerInfo.Get(entry)
	info.LastSequence = lastSeq
}
