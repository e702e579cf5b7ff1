// Package netconfig defines lightweight types and tunables shared between
// client and server for network synchronization. It must have zero
// dependencies on any graphics library so the dedicated server binary stays
// headless.
package netconfig

import "time"

// PriorityTier orders entities by sync importance. The order defines both
// update frequency and compression aggressiveness: Critical is the player's
// own avatar, VeryLow is background scenery.
type PriorityTier int

const (
	PriorityCritical PriorityTier = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityVeryLow

	priorityTierCount
)

var priorityNames = map[PriorityTier]string{
	PriorityCritical: "critical",
	PriorityHigh:     "high",
	PriorityNormal:   "normal",
	PriorityLow:      "low",
	PriorityVeryLow:  "verylow",
}

func (p PriorityTier) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether p is one of the defined tiers.
func (p PriorityTier) Valid() bool {
	return p >= PriorityCritical && p < priorityTierCount
}

// TierCount is the number of defined priority tiers.
const TierCount = int(priorityTierCount)

// CompensationStrategy selects how latency compensation shapes the local
// input stream.
type CompensationStrategy int

const (
	// CompensateInterpolate blends the last two input samples.
	CompensateInterpolate CompensationStrategy = iota
	// CompensatePredict extrapolates from the last three samples.
	CompensatePredict
)

func (s CompensationStrategy) String() string {
	switch s {
	case CompensateInterpolate:
		return "interpolate"
	case CompensatePredict:
		return "predict"
	default:
		return "unknown"
	}
}

// Params holds every tunable of the sync subsystem. The zero value is not
// usable; start from DefaultParams and override.
type Params struct {
	// Quantization precision in decimal places, per field class. Rotation
	// gets more digits than position because rotation errors compound
	// visually.
	PositionPrecision int
	RotationPrecision int
	VelocityPrecision int

	// Masking thresholds. Velocity below VelocityMaskThreshold is omitted
	// from snapshots even when changed.
	VelocityMaskThreshold float64

	// Divergence thresholds used both by server reconciliation and by the
	// compression masking step.
	PositionThreshold float64
	VelocityThreshold float64

	// SnapThreshold is the positional divergence beyond which a server
	// correction is applied as a hard snap instead of a blend.
	SnapThreshold float64
	// BlendWindow bounds the soft-correction blend duration.
	BlendWindow time.Duration

	// Input buffering.
	InputBufferCap     int // client-side replay buffer
	MaxReplayPerTick   int // server-side replay cap per tick
	InputQueueBacklog  int // server-side queue cap before front-trimming
	LatencyHistorySize int // latency compensation's own short history

	// Quality monitor.
	RTTWindowSize     int
	TrackingHorizon   time.Duration // unacked packets older than this count as lost
	QualityInterval   time.Duration // classification recompute cadence
	BandwidthSamples  int
	MinLossSampleSize int // below this many tracked packets, loss reads as zero

	// Bandwidth controller.
	ControlInterval      time.Duration // interval recompute cadence
	TierIntervals        [TierCount]time.Duration
	MaxEntitiesPerPacket int
	MaxPacketBytes       int
	MinDistanceFactor    float64

	// Latency compensation.
	CompensationBase   time.Duration // base look-ahead before RTT/jitter terms
	CompensationJitter float64       // multiplier on measured jitter for the pad
	Strategy           CompensationStrategy
	PredictionSmooth   float64 // smoothing factor against the previous prediction

	// Client-side remote entity interpolation delay.
	InterpolationDelay time.Duration
}

// DefaultParams returns the default tuning. All values are configuration,
// not contract: callers may override any field before wiring the subsystem.
func DefaultParams() Params {
	return Params{
		PositionPrecision: 2,
		RotationPrecision: 3,
		VelocityPrecision: 1,

		VelocityMaskThreshold: 0.01,
		PositionThreshold:     0.5,
		VelocityThreshold:     0.25,

		SnapThreshold: 3.0,
		BlendWindow:   150 * time.Millisecond,

		InputBufferCap:     30,
		MaxReplayPerTick:   30,
		InputQueueBacklog:  60,
		LatencyHistorySize: 8,

		RTTWindowSize:     20,
		TrackingHorizon:   10 * time.Second,
		QualityInterval:   time.Second,
		BandwidthSamples:  10,
		MinLossSampleSize: 10,

		ControlInterval: 2 * time.Second,
		TierIntervals: [TierCount]time.Duration{
			50 * time.Millisecond,   // Critical, 20Hz
			100 * time.Millisecond,  // High, 10Hz
			200 * time.Millisecond,  // Normal, 5Hz
			500 * time.Millisecond,  // Low, 2Hz
			1000 * time.Millisecond, // VeryLow, 1Hz
		},
		MaxEntitiesPerPacket: 20,
		MaxPacketBytes:       1200,
		MinDistanceFactor:    0.1,

		CompensationBase:   20 * time.Millisecond,
		CompensationJitter: 1.0,
		Strategy:           CompensateInterpolate,
		PredictionSmooth:   0.3,

		InterpolationDelay: 100 * time.Millisecond,
	}
}

// BaseInterval returns the base update interval for a tier.
func (p Params) BaseInterval(tier PriorityTier) time.Duration {
	if !tier.Valid() {
		return p.TierIntervals[PriorityNormal]
	}
	return p.TierIntervals[tier]
}
