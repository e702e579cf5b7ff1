package snapshot

import (
	"github.com/automoto/stormgrid-mp/shared/netconfig"
)

// Compressor reduces a snapshot to the fields worth sending, given the last
// snapshot sent for the same entity. Implementations must be pure:
// compressing the same snapshot against the same previous reference twice
// yields the same result.
type Compressor interface {
	Compress(snap EntitySnapshot, prev *EntitySnapshot, tier netconfig.PriorityTier) EntitySnapshot
}

// DeltaCompressor applies the three-step pipeline: quantize floats per field
// class, mask unimportant fields, then omit fields unchanged since the last
// send. Aggressiveness scales with the entity's priority tier: Critical
// bypasses delta and masking entirely, VeryLow gets maximum reduction under
// constrained bandwidth.
type DeltaCompressor struct {
	params      netconfig.Params
	constrained bool
	lastSent    map[uint]EntitySnapshot
}

// NewDeltaCompressor returns a compressor with an empty last-sent cache.
// One instance belongs to one connection; it is not safe for concurrent use.
func NewDeltaCompressor(params netconfig.Params) *DeltaCompressor {
	return &DeltaCompressor{
		params:   params,
		lastSent: make(map[uint]EntitySnapshot),
	}
}

// SetConstrained switches maximum reduction on for low-priority entities.
// The bandwidth controller drives this from the bandwidth rating.
func (c *DeltaCompressor) SetConstrained(v bool) {
	c.constrained = v
}

// Previous returns the cached last-sent snapshot for an entity, or nil on
// first contact.
func (c *DeltaCompressor) Previous(entityID uint) *EntitySnapshot {
	if prev, ok := c.lastSent[entityID]; ok {
		return &prev
	}
	return nil
}

// Forget drops the cached state for a destroyed entity.
func (c *DeltaCompressor) Forget(entityID uint) {
	delete(c.lastSent, entityID)
}

// Compress implements Compressor. prev == nil means first contact: the delta
// step is skipped and the full snapshot goes through masking and
// quantization only.
func (c *DeltaCompressor) Compress(snap EntitySnapshot, prev *EntitySnapshot, tier netconfig.PriorityTier) EntitySnapshot {
	out := c.quantize(snap)

	if tier == netconfig.PriorityCritical {
		// Full fidelity for the player's own avatar: no delta, no masking.
		return out
	}

	c.mask(&out, tier)

	if prev != nil {
		c.delta(&out, *prev)
	}
	return out
}

// CompressNext compresses against the cached previous snapshot and records
// the quantized full snapshot as the new last-sent reference. This is the
// scheduler's entry point; the side effect is why snapshots must be consumed
// exactly once.
func (c *DeltaCompressor) CompressNext(snap EntitySnapshot, tier netconfig.PriorityTier) EntitySnapshot {
	out := c.Compress(snap, c.Previous(snap.EntityID), tier)
	c.lastSent[snap.EntityID] = c.quantize(snap).Clone()
	return out
}

func (c *DeltaCompressor) quantize(snap EntitySnapshot) EntitySnapshot {
	out := snap.Clone()
	if out.Position != nil {
		q := quantizeVec3(*out.Position, c.params.PositionPrecision)
		out.Position = &q
	}
	if out.Rotation != nil {
		q := quantizeQuat(*out.Rotation, c.params.RotationPrecision)
		out.Rotation = &q
	}
	if out.Velocity != nil {
		q := quantizeVec3(*out.Velocity, c.params.VelocityPrecision)
		out.Velocity = &q
	}
	if out.Extra != nil {
		for k, v := range out.Extra {
			out.Extra[k] = RoundTo(v, c.params.PositionPrecision)
		}
	}
	return out
}

func (c *DeltaCompressor) mask(snap *EntitySnapshot, tier netconfig.PriorityTier) {
	// Near-zero velocity is noise, not information.
	if snap.Velocity != nil && snap.Velocity.magnitude() < c.params.VelocityMaskThreshold {
		snap.Velocity = nil
	}

	if !c.constrained {
		return
	}
	switch tier {
	case netconfig.PriorityVeryLow:
		snap.Velocity = nil
		snap.Extra = nil
	case netconfig.PriorityLow:
		snap.Extra = nil
	}
}

func (c *DeltaCompressor) delta(snap *EntitySnapshot, prev EntitySnapshot) {
	cur := snap.FieldHashes()
	last := prev.FieldHashes()

	if h, ok := last[FieldPosition]; ok && h == cur[FieldPosition] {
		snap.Position = nil
	}
	if h, ok := last[FieldRotation]; ok && h == cur[FieldRotation] {
		snap.Rotation = nil
	}
	if h, ok := last[FieldVelocity]; ok && h == cur[FieldVelocity] {
		snap.Velocity = nil
	}
	if h, ok := last[FieldExtra]; ok && h == cur[FieldExtra] {
		snap.Extra = nil
	}
	for name := range snap.Components {
		key := "c:" + name
		if h, ok := last[key]; ok && h == cur[key] {
			delete(snap.Components, name)
		}
	}
}
