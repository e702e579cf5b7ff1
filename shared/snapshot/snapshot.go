// Package snapshot defines the serializable view of an entity's networked
// fields at one instant, plus the compression engine that shrinks snapshots
// before they reach the transport. It must stay free of graphics and server
// dependencies — both sides of the connection use it.
package snapshot

import (
	"bytes"
	"hash/fnv"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// Vec3 is a position or velocity. 2D entities leave Z at zero.
type Vec3 struct {
	X, Y, Z float64
}

// Quat is a rotation quaternion.
type Quat struct {
	X, Y, Z, W float64
}

// Health is a typed component payload.
type Health struct {
	Current, Max int
}

// Sprite is a typed component payload.
type Sprite struct {
	ID      string
	Visible bool
}

// PlayerInfo is a typed component payload.
type PlayerInfo struct {
	PlayerID uint
	Name     string
}

// Component is one entry of an entity's open component set. Exactly one arm
// is non-nil; Custom carries an opaque msgpack payload for game-defined
// components the netcode does not interpret.
type Component struct {
	Health     *Health
	Sprite     *Sprite
	PlayerInfo *PlayerInfo
	Custom     []byte
}

// EntitySnapshot is a point-in-time view of one entity's networked fields.
// Every field is independently omittable: a nil field means "unchanged or
// not relevant", never "zero". Snapshots are created fresh by the scheduler,
// never mutated after construction, and consumed once by the compressor.
type EntitySnapshot struct {
	EntityID  uint
	Timestamp int64 // authoritative clock, milliseconds

	Position *Vec3
	Rotation *Quat
	Velocity *Vec3

	// Extra carries named scalar attributes outside the typed set.
	Extra map[string]float64

	// Components is the open set of typed payloads keyed by component name.
	Components map[string]Component
}

// Clone returns a deep copy. The compressor stores clones as its "last sent"
// reference so later snapshot construction cannot alias cached state.
func (s EntitySnapshot) Clone() EntitySnapshot {
	out := s
	if s.Position != nil {
		p := *s.Position
		out.Position = &p
	}
	if s.Rotation != nil {
		r := *s.Rotation
		out.Rotation = &r
	}
	if s.Velocity != nil {
		v := *s.Velocity
		out.Velocity = &v
	}
	if s.Extra != nil {
		out.Extra = make(map[string]float64, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = v
		}
	}
	if s.Components != nil {
		out.Components = make(map[string]Component, len(s.Components))
		for k, v := range s.Components {
			out.Components[k] = v.clone()
		}
	}
	return out
}

func (c Component) clone() Component {
	out := c
	if c.Health != nil {
		h := *c.Health
		out.Health = &h
	}
	if c.Sprite != nil {
		sp := *c.Sprite
		out.Sprite = &sp
	}
	if c.PlayerInfo != nil {
		pi := *c.PlayerInfo
		out.PlayerInfo = &pi
	}
	if c.Custom != nil {
		out.Custom = append([]byte(nil), c.Custom...)
	}
	return out
}

// Empty reports whether the snapshot carries no fields at all (everything
// was compressed away).
func (s EntitySnapshot) Empty() bool {
	return s.Position == nil && s.Rotation == nil && s.Velocity == nil &&
		len(s.Extra) == 0 && len(s.Components) == 0
}

// Logical field names used for change detection. Component entries hash
// under "c:" + name.
const (
	FieldPosition = "position"
	FieldRotation = "rotation"
	FieldVelocity = "velocity"
	FieldExtra    = "extra"
)

var msgpackHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.Canonical = true // map keys sorted, so equal values hash equal
	return h
}()

// WireSize returns the msgpack-encoded size of v in bytes. The bandwidth
// controller uses it to budget outgoing batches with the same codec the
// transport serializes with.
func WireSize(v any) int {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return 0
	}
	return buf.Len()
}

func hashValue(v any) uint64 {
	h := fnv.New64a()
	enc := codec.NewEncoder(h, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return 0
	}
	return h.Sum64()
}

// FieldHashes computes one hash per populated logical field. Hashes are
// computed over canonical msgpack bytes, so two snapshots carrying the same
// values produce the same hashes regardless of map iteration order.
func (s EntitySnapshot) FieldHashes() map[string]uint64 {
	hashes := make(map[string]uint64, 4+len(s.Components))
	if s.Position != nil {
		hashes[FieldPosition] = hashValue(*s.Position)
	}
	if s.Rotation != nil {
		hashes[FieldRotation] = hashValue(*s.Rotation)
	}
	if s.Velocity != nil {
		hashes[FieldVelocity] = hashValue(*s.Velocity)
	}
	if len(s.Extra) > 0 {
		hashes[FieldExtra] = hashValue(s.Extra)
	}
	for name, comp := range s.Components {
		hashes["c:"+name] = hashValue(comp)
	}
	return hashes
}
