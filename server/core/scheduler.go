package core

import (
	"math"

	"github.com/automoto/stormgrid-mp/shared/messages"
	"github.com/automoto/stormgrid-mp/shared/netcomponents"
	"github.com/automoto/stormgrid-mp/shared/snapshot"
)

// keepaliveMillis paces empty state updates so the ack stream (and with
// it the quality measurements) never dries up on an idle link.
const keepaliveMillis = 500

// syncSessions runs the per-connection sync pipeline once: refresh the
// quality classification, retune the bandwidth budget, pick the entities
// whose interval has elapsed, compress, and ship one packet.
func (s *Server) syncSessions(now int64) {
	ids := s.entityIDs()

	s.forEachSession(func(sess *Session) {
		if !sess.isJoined() {
			return
		}
		s.syncSession(sess, ids, now)
	})
}

func (s *Server) syncSession(sess *Session, ids []uint, now int64) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	// A dead link gets no sync work at all. The flag stays visible through
	// Session.Lost so the connection layer can decide to drop the client;
	// an ack arriving later clears the verdict and sync resumes.
	if sess.monitor.ConnectionLost() {
		if !sess.lost {
			sess.lost = true
			sess.log.Warn().Msg("no acks inside tracking horizon, link presumed dead")
		}
		return
	}
	if sess.lost {
		sess.lost = false
		sess.log.Info().Msg("acks resumed, link recovered")
	}

	status := sess.monitor.Update()
	sess.controller.Apply(status)
	sess.compressor.SetConstrained(sess.controller.Constrained())

	s.retuneDistance(sess, ids)

	candidates := ids[:0:0]
	for _, id := range ids {
		if sess.controller.Due(id) {
			candidates = append(candidates, id)
		}
	}
	batch := sess.controller.PlanBatch(candidates)

	ents := make([]snapshot.EntitySnapshot, 0, len(batch))
	for _, id := range batch {
		snap := s.snapshotEntity(id, now)
		out := sess.compressor.CompressNext(snap, sess.controller.Tier(id))
		if out.Empty() {
			// Nothing changed since the last packet; stays due for free.
			continue
		}
		ents = append(ents, out)
	}

	correction := sess.takeCorrectionLocked()

	if len(ents) == 0 && correction == nil && now-sess.lastSendTime < keepaliveMillis {
		return
	}

	sess.outSeq++
	update := messages.StateUpdate{
		Sequence:     sess.outSeq,
		ServerTime:   now,
		Entities:     ents,
		LastInputSeq: sess.lastInputSeq,
		Correction:   correction,
	}

	if err := sess.client.SendMessage(update); err != nil {
		sess.log.Warn().Err(err).Msg("state update send failed")
		return
	}

	sess.monitor.RecordSend(update.Sequence, snapshot.WireSize(update))
	for _, ent := range ents {
		sess.controller.RecordUpdate(ent.EntityID, snapshot.WireSize(ent))
	}
	sess.lastSendTime = now
}

// retuneDistance scales every entity's update rate by its distance to the
// session's own player. Far entities update less often; the floor in the
// controller keeps them from starving entirely.
func (s *Server) retuneDistance(sess *Session, ids []uint) {
	if sess.body == nil {
		return
	}
	maxDist := math.Hypot(float64(s.arena.MapWidth), float64(s.arena.MapHeight))
	if maxDist == 0 {
		return
	}
	ownX, ownY := sess.body.X(), sess.body.Y()

	for _, id := range ids {
		if id == sess.networkID {
			sess.controller.SetDistanceFactor(id, 1)
			continue
		}
		s.mu.RLock()
		body := s.bodies[id]
		s.mu.RUnlock()
		if body == nil {
			continue
		}
		dist := math.Hypot(body.X()-ownX, body.Y()-ownY)
		sess.controller.SetDistanceFactor(id, 1-dist/maxDist)
	}
}

// snapshotEntity reads an entity's networked components into a full wire
// snapshot. The compressor decides what of it actually ships.
func (s *Server) snapshotEntity(netID uint, now int64) snapshot.EntitySnapshot {
	s.mu.RLock()
	entity, ok := s.entities[netID]
	s.mu.RUnlock()

	snap := snapshot.EntitySnapshot{EntityID: netID, Timestamp: now}
	if !ok || !s.world.Valid(entity) {
		return snap
	}
	entry := s.world.Entry(entity)

	pos := netcomponents.NetPosition.Get(entry)
	snap.Position = &snapshot.Vec3{X: pos.X, Y: pos.Y, Z: pos.Z}

	rot := netcomponents.NetRotation.Get(entry)
	snap.Rotation = &snapshot.Quat{X: rot.X, Y: rot.Y, Z: rot.Z, W: rot.W}

	vel := netcomponents.NetVelocity.Get(entry)
	snap.Velocity = &snapshot.Vec3{X: vel.X, Y: vel.Y, Z: vel.Z}

	health := netcomponents.NetHealth.Get(entry)
	sprite := netcomponents.NetSprite.Get(entry)
	info := netcomponents.NetPlayerInfo.Get(entry)
	snap.Components = map[string]snapshot.Component{
		"health": {Health: &snapshot.Health{Current: health.Current, Max: health.Max}},
		"sprite": {Sprite: &snapshot.Sprite{ID: sprite.ID, Visible: sprite.Visible}},
		"player": {PlayerInfo: &snapshot.PlayerInfo{PlayerID: netID, Name: info.Name}},
	}
	return snap
}

func (s *Server) entityIDs() []uint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	return ids
}
