package network

import (
	"sort"

	"github.com/automoto/stormgrid-mp/shared/messages"
	"github.com/automoto/stormgrid-mp/shared/netcomponents"
	"github.com/automoto/stormgrid-mp/shared/netconfig"
	"github.com/automoto/stormgrid-mp/shared/snapshot"
)

// timelineWindowMillis bounds how much history an entity view retains.
// One second comfortably covers the interpolation delay plus jitter.
const timelineWindowMillis = 1000

type timedState struct {
	at  int64
	pos snapshot.Vec3
	rot snapshot.Quat
	vel snapshot.Vec3
}

// EntityView accumulates a remote entity's state from delta updates and
// answers render-time sampling queries. Deltas only carry changed fields,
// so the view keeps the merged full state between packets.
type EntityView struct {
	Current  snapshot.EntitySnapshot
	timeline []timedState
}

// Apply merges one (possibly partial) snapshot received at the given
// server time into the accumulated state and appends a timeline sample.
func (v *EntityView) Apply(delta snapshot.EntitySnapshot, at int64) {
	if delta.Position != nil {
		p := *delta.Position
		v.Current.Position = &p
	}
	if delta.Rotation != nil {
		r := *delta.Rotation
		v.Current.Rotation = &r
	}
	if delta.Velocity != nil {
		vel := *delta.Velocity
		v.Current.Velocity = &vel
	}
	if delta.Extra != nil {
		if v.Current.Extra == nil {
			v.Current.Extra = make(map[string]float64, len(delta.Extra))
		}
		for k, val := range delta.Extra {
			v.Current.Extra[k] = val
		}
	}
	for name, comp := range delta.Components {
		if v.Current.Components == nil {
			v.Current.Components = make(map[string]snapshot.Component)
		}
		v.Current.Components[name] = comp
	}
	v.Current.EntityID = delta.EntityID
	v.Current.Timestamp = at

	sample := timedState{at: at}
	if v.Current.Position != nil {
		sample.pos = *v.Current.Position
	}
	if v.Current.Rotation != nil {
		sample.rot = *v.Current.Rotation
	}
	if v.Current.Velocity != nil {
		sample.vel = *v.Current.Velocity
	}
	v.timeline = append(v.timeline, sample)
	v.prune(at)
}

func (v *EntityView) prune(now int64) {
	cutoff := now - timelineWindowMillis
	first := 0
	for first < len(v.timeline)-1 && v.timeline[first].at < cutoff {
		first++
	}
	v.timeline = v.timeline[first:]
}

// Sample returns the interpolated position and rotation at renderAt.
// Before the first sample it clamps to the oldest state; past the newest
// it holds the latest. Returns false when no state has arrived yet.
func (v *EntityView) Sample(renderAt int64) (snapshot.Vec3, snapshot.Quat, bool) {
	if len(v.timeline) == 0 {
		return snapshot.Vec3{}, snapshot.Quat{W: 1}, false
	}
	idx := sort.Search(len(v.timeline), func(i int) bool {
		return v.timeline[i].at >= renderAt
	})
	if idx == 0 {
		s := v.timeline[0]
		return s.pos, s.rot, true
	}
	if idx == len(v.timeline) {
		s := v.timeline[len(v.timeline)-1]
		return s.pos, s.rot, true
	}

	a, b := v.timeline[idx-1], v.timeline[idx]
	span := b.at - a.at
	if span <= 0 {
		return b.pos, b.rot, true
	}
	t := float64(renderAt-a.at) / float64(span)

	pos := snapshot.Vec3{
		X: a.pos.X + (b.pos.X-a.pos.X)*t,
		Y: a.pos.Y + (b.pos.Y-a.pos.Y)*t,
		Z: a.pos.Z + (b.pos.Z-a.pos.Z)*t,
	}
	ra := netcomponents.NetRotationData{X: a.rot.X, Y: a.rot.Y, Z: a.rot.Z, W: a.rot.W}
	rb := netcomponents.NetRotationData{X: b.rot.X, Y: b.rot.Y, Z: b.rot.Z, W: b.rot.W}
	r := netcomponents.LerpNetRotation(ra, rb, t)
	return pos, snapshot.Quat{X: r.X, Y: r.Y, Z: r.Z, W: r.W}, true
}

// Latest returns the two most recent timeline samples for extrapolation.
// With a single sample both returns are that sample.
func (v *EntityView) Latest() (prev, next timedState, ok bool) {
	n := len(v.timeline)
	if n == 0 {
		return timedState{}, timedState{}, false
	}
	if n == 1 {
		return v.timeline[0], v.timeline[0], true
	}
	return v.timeline[n-2], v.timeline[n-1], true
}

// WorldView is the client's merged picture of every remote entity, fed by
// state updates and drained by the render loop. Owned by the client's
// game loop; not safe for concurrent use.
type WorldView struct {
	params   netconfig.Params
	entities map[uint]*EntityView
}

func NewWorldView(params netconfig.Params) *WorldView {
	return &WorldView{
		params:   params,
		entities: make(map[uint]*EntityView),
	}
}

// ApplyUpdate merges every entity snapshot in a state update.
func (w *WorldView) ApplyUpdate(update messages.StateUpdate) {
	for _, snap := range update.Entities {
		view, ok := w.entities[snap.EntityID]
		if !ok {
			view = &EntityView{}
			w.entities[snap.EntityID] = view
		}
		view.Apply(snap, update.ServerTime)
	}
}

// Entity returns the view for one entity, or nil.
func (w *WorldView) Entity(id uint) *EntityView {
	return w.entities[id]
}

// Remove drops a destroyed entity.
func (w *WorldView) Remove(id uint) {
	delete(w.entities, id)
}

// RenderTime converts the estimated server time into the instant remote
// entities should be drawn at: slightly in the past so interpolation has
// a bracketing pair.
func (w *WorldView) RenderTime(serverNow int64) int64 {
	return serverNow - w.params.InterpolationDelay.Milliseconds()
}
