package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automoto/stormgrid-mp/shared/netconfig"
)

func testSnapshot(id uint) EntitySnapshot {
	return EntitySnapshot{
		EntityID:  id,
		Timestamp: 1000,
		Position:  &Vec3{X: 123.45678, Y: 456.78912, Z: 789.12345},
		Rotation:  &Quat{X: 0.12345, Y: 0.23456, Z: 0.34567, W: 0.98765},
		Velocity:  &Vec3{X: 10.5432, Y: 20.6543, Z: 30.7654},
		Extra:     map[string]float64{"charge": 0.755},
	}
}

func TestCompressQuantizesPerFieldClass(t *testing.T) {
	c := NewDeltaCompressor(netconfig.DefaultParams())

	out := c.Compress(testSnapshot(1), nil, netconfig.PriorityNormal)

	require.NotNil(t, out.Position)
	assert.Equal(t, 123.46, out.Position.X)
	assert.Equal(t, 456.79, out.Position.Y)

	require.NotNil(t, out.Rotation)
	assert.Equal(t, 0.123, out.Rotation.X)
	assert.Equal(t, 0.988, out.Rotation.W)

	require.NotNil(t, out.Velocity)
	assert.Equal(t, 10.5, out.Velocity.X)
	assert.Equal(t, 20.7, out.Velocity.Y)
}

func TestCompressIdempotent(t *testing.T) {
	c := NewDeltaCompressor(netconfig.DefaultParams())
	prev := c.quantize(testSnapshot(1))
	snap := testSnapshot(1)
	snap.Position.X += 5

	first := c.Compress(snap, &prev, netconfig.PriorityNormal)
	second := c.Compress(first, &prev, netconfig.PriorityNormal)

	assert.Equal(t, first.FieldHashes(), second.FieldHashes())
}

func TestCompressOmitsUnchangedFields(t *testing.T) {
	c := NewDeltaCompressor(netconfig.DefaultParams())

	full := c.CompressNext(testSnapshot(7), netconfig.PriorityNormal)
	require.NotNil(t, full.Position)

	// Same values again: every field deltas away.
	again := c.CompressNext(testSnapshot(7), netconfig.PriorityNormal)
	assert.True(t, again.Empty(), "unchanged snapshot should compress to nothing")

	// A position change survives while the rest stays omitted.
	moved := testSnapshot(7)
	moved.Position.X += 2
	out := c.CompressNext(moved, netconfig.PriorityNormal)
	require.NotNil(t, out.Position)
	assert.Nil(t, out.Rotation)
	assert.Nil(t, out.Velocity)
}

func TestCompressFirstContactSkipsDelta(t *testing.T) {
	c := NewDeltaCompressor(netconfig.DefaultParams())

	out := c.Compress(testSnapshot(3), nil, netconfig.PriorityNormal)

	assert.NotNil(t, out.Position)
	assert.NotNil(t, out.Rotation)
	assert.NotNil(t, out.Velocity)
}

func TestCompressCriticalBypassesDeltaAndMasking(t *testing.T) {
	c := NewDeltaCompressor(netconfig.DefaultParams())
	c.SetConstrained(true)
	prev := c.quantize(testSnapshot(1))

	snap := testSnapshot(1)
	snap.Velocity = &Vec3{X: 0.001} // would be masked at any other tier

	out := c.Compress(snap, &prev, netconfig.PriorityCritical)

	assert.NotNil(t, out.Position, "critical keeps unchanged fields")
	assert.NotNil(t, out.Velocity, "critical skips velocity masking")
}

func TestCompressMasksNearZeroVelocity(t *testing.T) {
	c := NewDeltaCompressor(netconfig.DefaultParams())
	snap := testSnapshot(1)
	snap.Velocity = &Vec3{X: 0.004, Y: 0.003}

	out := c.Compress(snap, nil, netconfig.PriorityNormal)

	assert.Nil(t, out.Velocity)
}

func TestCompressVeryLowConstrainedDropsVelocityAndExtra(t *testing.T) {
	c := NewDeltaCompressor(netconfig.DefaultParams())
	c.SetConstrained(true)

	out := c.Compress(testSnapshot(1), nil, netconfig.PriorityVeryLow)

	assert.Nil(t, out.Velocity)
	assert.Nil(t, out.Extra)
	assert.NotNil(t, out.Position, "position always survives masking")
}

func TestForgetDropsCachedState(t *testing.T) {
	c := NewDeltaCompressor(netconfig.DefaultParams())
	c.CompressNext(testSnapshot(9), netconfig.PriorityNormal)
	require.NotNil(t, c.Previous(9))

	c.Forget(9)
	assert.Nil(t, c.Previous(9))

	// First contact again: full snapshot goes through.
	out := c.CompressNext(testSnapshot(9), netconfig.PriorityNormal)
	assert.NotNil(t, out.Position)
}

func TestFieldHashesStable(t *testing.T) {
	a := testSnapshot(1)
	b := testSnapshot(1)
	b.Extra = map[string]float64{"charge": 0.755} // fresh map, same contents

	assert.Equal(t, a.FieldHashes(), b.FieldHashes())

	b.Position.X += 0.5
	assert.NotEqual(t, a.FieldHashes()[FieldPosition], b.FieldHashes()[FieldPosition])
}

func TestWireSizeGrowsWithFields(t *testing.T) {
	full := testSnapshot(1)
	slim := EntitySnapshot{EntityID: 1, Timestamp: 1000}

	assert.Greater(t, WireSize(full), WireSize(slim))
}
