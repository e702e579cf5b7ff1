package sim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automoto/stormgrid-mp/shared/leveldata"
)

func openArena() *leveldata.ArenaData {
	return &leveldata.ArenaData{MapWidth: 640, MapHeight: 480}
}

func walledArena() *leveldata.ArenaData {
	return &leveldata.ArenaData{
		MapWidth:  640,
		MapHeight: 480,
		SolidRects: []leveldata.SolidRect{
			{X: 128, Y: 0, W: 16, H: 480}, // vertical wall
		},
	}
}

func TestStepDeterministic(t *testing.T) {
	inputs := []InputFrame{
		{MoveX: 1},
		{MoveX: 1, MoveY: -0.5},
		{MoveX: 1, MoveY: 1, Sprint: true},
		{},
		{MoveX: -0.25},
		{},
	}

	run := func() (float64, float64, float64, float64) {
		w := NewWorld(openArena())
		b := w.AddBody(100, 100)
		for _, in := range inputs {
			w.Step(b, in)
		}
		return b.X(), b.Y(), b.VelX, b.VelY
	}

	x1, y1, vx1, vy1 := run()
	x2, y2, vx2, vy2 := run()

	assert.Equal(t, x1, x2)
	assert.Equal(t, y1, y2)
	assert.Equal(t, vx1, vx2)
	assert.Equal(t, vy1, vy2)
}

func TestStepClampsSpeed(t *testing.T) {
	w := NewWorld(openArena())
	b := w.AddBody(100, 100)

	for i := 0; i < 60; i++ {
		w.Step(b, InputFrame{MoveX: 1})
	}
	assert.Equal(t, MaxSpeed, b.VelX)

	for i := 0; i < 60; i++ {
		w.Step(b, InputFrame{MoveX: 1, Sprint: true})
	}
	assert.Equal(t, MaxSpeed*SprintFactor, b.VelX)
}

func TestStepFrictionStopsIdleBody(t *testing.T) {
	w := NewWorld(openArena())
	b := w.AddBody(100, 100)

	for i := 0; i < 20; i++ {
		w.Step(b, InputFrame{MoveX: 1})
	}
	require.NotZero(t, b.VelX)

	for i := 0; i < 60; i++ {
		w.Step(b, InputFrame{})
	}
	assert.Zero(t, b.VelX)
}

func TestStepDiagonalNoFasterThanCardinal(t *testing.T) {
	w := NewWorld(openArena())
	b := w.AddBody(100, 100)

	for i := 0; i < 60; i++ {
		w.Step(b, InputFrame{MoveX: 1, MoveY: 1})
	}
	speed := math.Hypot(b.VelX, b.VelY)
	assert.LessOrEqual(t, speed, MaxSpeed*1.0001)
}

func TestStepStopsAtWallAndSlides(t *testing.T) {
	w := NewWorld(walledArena())
	b := w.AddBody(100, 100)

	for i := 0; i < 120; i++ {
		w.Step(b, InputFrame{MoveX: 1, MoveY: 1})
	}

	assert.LessOrEqual(t, b.X()+BodyWidth, 128.0+0.001, "body never penetrates the wall")
	assert.Zero(t, b.VelX, "horizontal velocity zeroed on contact")
	assert.Greater(t, b.Y(), 100.0, "body kept sliding along the wall")
}

func TestHeadingRetainedWhileIdle(t *testing.T) {
	w := NewWorld(openArena())
	b := w.AddBody(100, 100)

	w.Step(b, InputFrame{MoveY: 1})
	require.InDelta(t, math.Pi/2, b.Heading, 1e-9)

	w.Step(b, InputFrame{})
	assert.InDelta(t, math.Pi/2, b.Heading, 1e-9)

	_, _, z, qw := b.HeadingQuat()
	assert.InDelta(t, math.Sin(math.Pi/4), z, 1e-9)
	assert.InDelta(t, math.Cos(math.Pi/4), qw, 1e-9)
}
