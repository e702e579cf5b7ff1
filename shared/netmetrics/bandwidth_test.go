package netmetrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automoto/stormgrid-mp/shared/netconfig"
)

func statusWithBandwidth(kbps float64) Status {
	return Status{
		RTT:           60 * time.Millisecond,
		Loss:          0.01,
		BandwidthKbps: kbps,
		Quality:       QualityGood,
		Bandwidth:     ClassifyBandwidth(kbps),
	}
}

func TestBudgetFractionTracksRating(t *testing.T) {
	tests := []struct {
		name string
		kbps float64
		want float64 // bytes/sec
	}{
		{"good uses 80 percent", 2000, 2000 * 1000 / 8 * 0.8},
		{"adequate uses 70 percent", 700, 700 * 1000 / 8 * 0.7},
		{"limited uses 60 percent", 300, 300 * 1000 / 8 * 0.6},
		{"poor uses 50 percent", 100, 100 * 1000 / 8 * 0.5},
		{"critical uses 40 percent", 20, 20 * 1000 / 8 * 0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			c := newBandwidthController(netconfig.DefaultParams(), clock.now)
			c.Apply(statusWithBandwidth(tt.kbps))
			assert.InDelta(t, tt.want, c.TargetBytesPerSec(), 0.01)
		})
	}
}

func TestConstrainedBelowLimited(t *testing.T) {
	clock := newFakeClock()
	c := newBandwidthController(netconfig.DefaultParams(), clock.now)

	c.Apply(statusWithBandwidth(2000))
	assert.False(t, c.Constrained())

	clock.advance(3 * time.Second)
	c.Apply(statusWithBandwidth(300))
	assert.True(t, c.Constrained())
}

func TestIntervalWidensUnderHighUtilization(t *testing.T) {
	clock := newFakeClock()
	c := newBandwidthController(netconfig.DefaultParams(), clock.now)
	c.Register(1, netconfig.PriorityVeryLow, 100)

	// 100 Kbps rates Poor: budget = 100*1000/8 * 0.5 = 6250 B/s.
	c.Apply(statusWithBandwidth(100))

	// 9500 bytes against a 6250 B/s budget saturates utilization.
	clock.advance(2 * time.Second)
	c.RecordUpdate(1, 9500)
	require.Greater(t, c.Utilization(), 0.9)

	clock.advance(100 * time.Millisecond)
	c.Apply(statusWithBandwidth(100))

	// VeryLow base 1000ms doubled at >90% utilization.
	assert.Equal(t, 2000*time.Millisecond, c.EffectiveInterval(1))
}

func TestIntervalNarrowsUnderLowUtilization(t *testing.T) {
	clock := newFakeClock()
	c := newBandwidthController(netconfig.DefaultParams(), clock.now)
	c.Register(1, netconfig.PriorityHigh, 100)

	c.Apply(statusWithBandwidth(2000)) // generous budget, zero usage

	assert.Equal(t, 80*time.Millisecond, c.EffectiveInterval(1))
}

func TestDistanceFactorShortensInterval(t *testing.T) {
	clock := newFakeClock()
	c := newBandwidthController(netconfig.DefaultParams(), clock.now)
	c.Register(1, netconfig.PriorityNormal, 100)
	c.Register(2, netconfig.PriorityNormal, 100)

	// Hold utilization in the neutral band so the base interval passes
	// through intact: 3000 bytes against the 6250 B/s Poor budget.
	c.Apply(statusWithBandwidth(100))
	clock.advance(2 * time.Second)
	c.RecordUpdate(1, 3000)
	clock.advance(100 * time.Millisecond)
	c.Apply(statusWithBandwidth(100))

	c.SetDistanceFactor(1, 0.5)
	c.SetDistanceFactor(2, 0.0) // clamps to the 0.1 floor

	assert.Equal(t, 400*time.Millisecond, c.EffectiveInterval(1))
	assert.Equal(t, 2000*time.Millisecond, c.EffectiveInterval(2))
}

func TestDueRespectsInterval(t *testing.T) {
	clock := newFakeClock()
	c := newBandwidthController(netconfig.DefaultParams(), clock.now)
	c.Register(1, netconfig.PriorityCritical, 100)

	assert.True(t, c.Due(1), "never sent means due")

	c.RecordUpdate(1, 100)
	assert.False(t, c.Due(1))

	clock.advance(60 * time.Millisecond)
	assert.True(t, c.Due(1))
}

func TestPlanBatchOrdersByPriorityThenSize(t *testing.T) {
	clock := newFakeClock()
	c := newBandwidthController(netconfig.DefaultParams(), clock.now)
	c.Register(1, netconfig.PriorityLow, 200)
	c.Register(2, netconfig.PriorityCritical, 300)
	c.Register(3, netconfig.PriorityHigh, 150)
	c.Register(4, netconfig.PriorityHigh, 50)

	batch := c.PlanBatch([]uint{1, 2, 3, 4})

	assert.Equal(t, []uint{2, 4, 3, 1}, batch)
}

func TestPlanBatchDropsPastCeiling(t *testing.T) {
	params := netconfig.DefaultParams()
	params.MaxPacketBytes = 500
	clock := newFakeClock()
	c := newBandwidthController(params, clock.now)
	c.Register(1, netconfig.PriorityCritical, 300)
	c.Register(2, netconfig.PriorityNormal, 150)
	c.Register(3, netconfig.PriorityVeryLow, 200)

	batch := c.PlanBatch([]uint{1, 2, 3})

	// 300 + 150 fit; the VeryLow entity would exceed 500 and is dropped.
	assert.Equal(t, []uint{1, 2}, batch)
}

func TestPlanBatchRespectsEntityCap(t *testing.T) {
	params := netconfig.DefaultParams()
	params.MaxEntitiesPerPacket = 2
	clock := newFakeClock()
	c := newBandwidthController(params, clock.now)
	for id := uint(1); id <= 5; id++ {
		c.Register(id, netconfig.PriorityNormal, 10)
	}

	assert.Len(t, c.PlanBatch([]uint{1, 2, 3, 4, 5}), 2)
}
