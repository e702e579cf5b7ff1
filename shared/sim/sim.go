// Package sim implements the deterministic top-down movement step shared
// by the client's prediction loop and the server's authoritative replay.
// Both sides must run identical logic or reconciliation never settles, so
// nothing in here may read clocks, randomness, or per-machine state.
package sim

import (
	"math"

	"github.com/solarlune/resolv"

	"github.com/automoto/stormgrid-mp/shared/leveldata"
)

// Movement constants, tuned for the fixed 60 Hz step.
const (
	Acceleration   = 0.9
	Friction       = 0.6
	MaxSpeed       = 6.0
	SprintFactor   = 1.5
	BodyWidth      = 16.0
	BodyHeight     = 16.0
	StepsPerSecond = 60
)

const tagSolid = "solid"

// InputFrame is one tick's worth of movement intent, already decoded from
// the wire. Axes are clamped to [-1, 1]; a diagonal is normalized so it is
// no faster than a cardinal.
type InputFrame struct {
	MoveX  float64
	MoveY  float64
	Sprint bool
}

// Body is one movable collider inside a World.
type Body struct {
	Object  *resolv.Object
	VelX    float64
	VelY    float64
	Heading float64 // radians, retained while idle
}

// X returns the body's current horizontal position.
func (b *Body) X() float64 { return b.Object.X }

// Y returns the body's current vertical position.
func (b *Body) Y() float64 { return b.Object.Y }

// SetPosition teleports the body, bypassing collision. Used when applying
// an authoritative correction.
func (b *Body) SetPosition(x, y float64) {
	b.Object.X = x
	b.Object.Y = y
	b.Object.Update()
}

// World wraps a collision space built from arena data. Not safe for
// concurrent use; the owner steps all bodies from one goroutine.
type World struct {
	Space *resolv.Space
}

// NewWorld builds a collision space from the arena's solid rectangles.
func NewWorld(arena *leveldata.ArenaData) *World {
	space := resolv.NewSpace(arena.MapWidth, arena.MapHeight, 16, 16)
	for _, r := range arena.SolidRects {
		space.Add(resolv.NewObject(r.X, r.Y, r.W, r.H, tagSolid))
	}
	return &World{Space: space}
}

// AddBody places a player-sized collider at the given position.
func (w *World) AddBody(x, y float64) *Body {
	obj := resolv.NewObject(x, y, BodyWidth, BodyHeight, "player")
	obj.SetShape(resolv.NewRectangle(0, 0, BodyWidth, BodyHeight))
	w.Space.Add(obj)
	return &Body{Object: obj}
}

// RemoveBody takes the collider out of the space.
func (w *World) RemoveBody(b *Body) {
	w.Space.Remove(b.Object)
}

// Step advances one body by a single fixed-rate step. Replay calls this
// once per buffered input; live simulation calls it once per 60 Hz frame.
func (w *World) Step(b *Body, in InputFrame) {
	ax := clamp(in.MoveX, -1, 1)
	ay := clamp(in.MoveY, -1, 1)
	if mag := math.Hypot(ax, ay); mag > 1 {
		ax /= mag
		ay /= mag
	}

	b.VelX += ax * Acceleration
	b.VelY += ay * Acceleration
	if ax == 0 {
		b.VelX = applyFriction(b.VelX, Friction)
	}
	if ay == 0 {
		b.VelY = applyFriction(b.VelY, Friction)
	}

	max := MaxSpeed
	if in.Sprint {
		max *= SprintFactor
	}
	b.VelX = clamp(b.VelX, -max, max)
	b.VelY = clamp(b.VelY, -max, max)

	if ax != 0 || ay != 0 {
		b.Heading = math.Atan2(ay, ax)
	}

	// Resolve each axis independently so sliding along a wall works.
	if dx := b.VelX; dx != 0 {
		if check := b.Object.Check(dx, 0, tagSolid); check != nil {
			if solids := check.ObjectsByTags(tagSolid); len(solids) > 0 {
				dx = check.ContactWithObject(solids[0]).X()
				b.VelX = 0
			}
		}
		b.Object.X += dx
	}
	if dy := b.VelY; dy != 0 {
		if check := b.Object.Check(0, dy, tagSolid); check != nil {
			if solids := check.ObjectsByTags(tagSolid); len(solids) > 0 {
				dy = check.ContactWithObject(solids[0]).Y()
				b.VelY = 0
			}
		}
		b.Object.Y += dy
	}
	b.Object.Update()
}

// HeadingQuat expresses the body's heading as a unit quaternion around the
// vertical axis, matching the rotation field on the wire.
func (b *Body) HeadingQuat() (x, y, z, w float64) {
	half := b.Heading / 2
	return 0, 0, math.Sin(half), math.Cos(half)
}

func applyFriction(speed, friction float64) float64 {
	if speed > friction {
		return speed - friction
	}
	if speed < -friction {
		return speed + friction
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
