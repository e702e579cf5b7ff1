package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automoto/stormgrid-mp/shared/messages"
	"github.com/automoto/stormgrid-mp/shared/netconfig"
	"github.com/automoto/stormgrid-mp/shared/netmetrics"
	"github.com/automoto/stormgrid-mp/shared/snapshot"
)

func TestLookaheadCombinesBaseHalfRTTAndJitter(t *testing.T) {
	params := netconfig.DefaultParams()
	lc := NewLatencyCompensator(params)

	lc.AddSample(80 * time.Millisecond)
	lc.AddSample(120 * time.Millisecond)

	require.Equal(t, 100*time.Millisecond, lc.Average())
	require.Equal(t, 40*time.Millisecond, lc.Jitter())

	// base 20ms + 100/2 + 40*1.0 = 110ms.
	assert.Equal(t, 110*time.Millisecond, lc.Lookahead())
}

func TestLatencyHistoryBounded(t *testing.T) {
	params := netconfig.DefaultParams()
	lc := NewLatencyCompensator(params)

	for i := 0; i < params.LatencyHistorySize*2; i++ {
		lc.AddSample(50 * time.Millisecond)
	}
	lc.AddSample(50 * time.Millisecond * time.Duration(params.LatencyHistorySize+1))

	// Old samples fell out: the average reflects only the window.
	expect := 50 * time.Millisecond * time.Duration(params.LatencyHistorySize-1+params.LatencyHistorySize+1) / time.Duration(params.LatencyHistorySize)
	assert.Equal(t, expect, lc.Average())
}

func TestRetuneSelectsStrategy(t *testing.T) {
	lc := NewLatencyCompensator(netconfig.DefaultParams())

	lc.Retune(netmetrics.QualityExcellent)
	assert.Equal(t, netconfig.CompensatePredict, lc.Strategy())
	assert.False(t, lc.Degraded())

	lc.Retune(netmetrics.QualityFair)
	assert.Equal(t, netconfig.CompensateInterpolate, lc.Strategy())

	lc.Retune(netmetrics.QualityBad)
	assert.True(t, lc.Degraded())
}

func snapAt(x, y float64, velX float64) snapshot.EntitySnapshot {
	return snapshot.EntitySnapshot{
		Position: &snapshot.Vec3{X: x, Y: y},
		Velocity: &snapshot.Vec3{X: velX},
	}
}

func TestCompensateInterpolates(t *testing.T) {
	lc := NewLatencyCompensator(netconfig.DefaultParams())
	lc.Retune(netmetrics.QualityFair)

	pos := lc.Compensate(snapAt(100, 0, 0), snapAt(200, 0, 0), 1000, 1100, 1050)

	assert.InDelta(t, 150.0, pos.X, 1e-9)
}

func TestCompensatePredictsFromVelocity(t *testing.T) {
	lc := NewLatencyCompensator(netconfig.DefaultParams())
	lc.AddSample(100 * time.Millisecond) // lookahead 20 + 50 + 0 = 70ms
	lc.Retune(netmetrics.QualityExcellent)

	// 50ms past the newest state at 10 units/s: 0.5 units ahead.
	pos := lc.Compensate(snapAt(100, 0, 10), snapAt(200, 0, 10), 1000, 1100, 1150)

	assert.InDelta(t, 200.5, pos.X, 1e-9)
}

func TestCompensatePredictCappedAtLookahead(t *testing.T) {
	lc := NewLatencyCompensator(netconfig.DefaultParams())
	lc.AddSample(100 * time.Millisecond) // lookahead 70ms
	lc.Retune(netmetrics.QualityExcellent)

	// Render time a full second past the newest state: clamp to 70ms worth.
	pos := lc.Compensate(snapAt(100, 0, 10), snapAt(200, 0, 10), 1000, 1100, 2100)

	assert.InDelta(t, 200.7, pos.X, 1e-9)
}

func TestPredictionSmoothedAcrossFrames(t *testing.T) {
	lc := NewLatencyCompensator(netconfig.DefaultParams())
	lc.AddSample(100 * time.Millisecond)
	lc.Retune(netmetrics.QualityExcellent)

	first := lc.Compensate(snapAt(100, 0, 10), snapAt(200, 0, 10), 1000, 1100, 1150)
	require.InDelta(t, 200.5, first.X, 1e-9)

	// Next frame's raw extrapolation would be 200.6; the previous output
	// pulls it back by the smoothing factor (0.3 by default).
	second := lc.Compensate(snapAt(100, 0, 10), snapAt(200, 0, 10), 1000, 1100, 1160)
	assert.InDelta(t, 200.5*0.3+200.6*0.7, second.X, 1e-9)

	lc.Forget(0)
	third := lc.Compensate(snapAt(100, 0, 10), snapAt(200, 0, 10), 1000, 1100, 1160)
	assert.InDelta(t, 200.6, third.X, 1e-9)
}

func TestCompensateDegradedReturnsLatest(t *testing.T) {
	lc := NewLatencyCompensator(netconfig.DefaultParams())
	lc.Retune(netmetrics.QualityBad)

	pos := lc.Compensate(snapAt(100, 0, 10), snapAt(200, 0, 10), 1000, 1100, 1050)

	assert.Equal(t, 200.0, pos.X)
}

func moveInput(seq uint32, moveX float64) messages.PlayerInput {
	in := messages.NewPlayerInput(seq)
	in.MoveX = moveX
	in.Timestamp = int64(1000 + seq)
	return in
}

func TestShapeInputInterpolatesLastTwo(t *testing.T) {
	lc := NewLatencyCompensator(netconfig.DefaultParams())

	_, ok := lc.ShapeInput()
	require.False(t, ok, "no history yet")

	lc.RecordInput(moveInput(1, 0.2))
	out, ok := lc.ShapeInput()
	require.True(t, ok)
	assert.Equal(t, 0.2, out.MoveX, "single sample passes through")

	lc.RecordInput(moveInput(2, 0.6))
	out, _ = lc.ShapeInput()
	assert.InDelta(t, 0.4, out.MoveX, 1e-9)
}

func TestShapeInputPredictsAndSmooths(t *testing.T) {
	params := netconfig.DefaultParams()
	params.Strategy = netconfig.CompensatePredict
	lc := NewLatencyCompensator(params)

	// A steady ramp: 0.1, 0.2, 0.3 extrapolates to 0.4.
	lc.RecordInput(moveInput(1, 0.1))
	lc.RecordInput(moveInput(2, 0.2))
	lc.RecordInput(moveInput(3, 0.3))
	out, ok := lc.ShapeInput()
	require.True(t, ok)
	assert.InDelta(t, 0.4, out.MoveX, 1e-9)

	// Next ramp step extrapolates to 0.5, pulled toward the previous
	// shaped output by the smoothing factor.
	lc.RecordInput(moveInput(4, 0.4))
	out, _ = lc.ShapeInput()
	assert.InDelta(t, 0.4*0.3+0.5*0.7, out.MoveX, 1e-9)
}

func TestShapeInputClampsAndDegrades(t *testing.T) {
	params := netconfig.DefaultParams()
	params.Strategy = netconfig.CompensatePredict
	params.PredictionSmooth = 0
	lc := NewLatencyCompensator(params)

	lc.RecordInput(moveInput(1, 0))
	lc.RecordInput(moveInput(2, 0.5))
	lc.RecordInput(moveInput(3, 1))
	out, _ := lc.ShapeInput()
	assert.Equal(t, 1.0, out.MoveX, "extrapolation clamps to the axis range")

	lc.Retune(netmetrics.QualityBad)
	out, _ = lc.ShapeInput()
	assert.Equal(t, 1.0, out.MoveX, "degraded link passes the latest sample")
}
