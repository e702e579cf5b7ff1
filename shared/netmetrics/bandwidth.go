package netmetrics

import (
	"sort"
	"time"

	"github.com/automoto/stormgrid-mp/shared/netconfig"
)

// budgetFraction is the share of estimated capacity spent per bandwidth
// rating: the worse the rating, the larger the safety margin left unused.
var budgetFraction = map[BandwidthRating]float64{
	BandwidthGood:     0.8,
	BandwidthAdequate: 0.7,
	BandwidthLimited:  0.6,
	BandwidthPoor:     0.5,
	BandwidthCritical: 0.4,
}

type scheduleEntry struct {
	tier     netconfig.PriorityTier
	base     time.Duration
	actual   time.Duration
	lastSent time.Time
	estSize  int
	distance float64
}

// BandwidthController turns the quality monitor's ratings into a byte budget
// and per-entity update intervals. Interval recomputation runs on its own
// cadence, decoupled from the monitor's.
type BandwidthController struct {
	params netconfig.Params
	nowFn  func() time.Time

	entries map[uint]*scheduleEntry

	targetBytesPerSec float64
	utilization       float64
	constrained       bool

	usage       []pendingPacket // (time, size) pairs, 10 s window
	lastControl time.Time
	lastQuality QualityRating
}

// NewBandwidthController returns a controller using the wall clock. One
// instance belongs to one connection.
func NewBandwidthController(params netconfig.Params) *BandwidthController {
	return newBandwidthController(params, time.Now)
}

func newBandwidthController(params netconfig.Params, nowFn func() time.Time) *BandwidthController {
	return &BandwidthController{
		params:            params,
		nowFn:             nowFn,
		entries:           make(map[uint]*scheduleEntry),
		targetBytesPerSec: 10000,
		lastQuality:       QualityGood,
	}
}

// Register adds an entity to the schedule. Registering an existing id
// updates its tier and size estimate in place.
func (c *BandwidthController) Register(entityID uint, tier netconfig.PriorityTier, estSize int) {
	if e, ok := c.entries[entityID]; ok {
		e.tier = tier
		e.base = c.params.BaseInterval(tier)
		e.estSize = estSize
		return
	}
	base := c.params.BaseInterval(tier)
	c.entries[entityID] = &scheduleEntry{
		tier:     tier,
		base:     base,
		actual:   base,
		estSize:  estSize,
		distance: 1.0,
	}
}

// Unregister removes a destroyed or no-longer-relevant entity.
func (c *BandwidthController) Unregister(entityID uint) {
	delete(c.entries, entityID)
}

// SetTier moves an entity to a different priority tier.
func (c *BandwidthController) SetTier(entityID uint, tier netconfig.PriorityTier) {
	if e, ok := c.entries[entityID]; ok {
		e.tier = tier
		e.base = c.params.BaseInterval(tier)
		e.actual = c.adjustForUtilization(e.base)
	}
}

// SetDistanceFactor updates the importance factor (0.0-1.0); near or
// important entities update more often than their tier default.
func (c *BandwidthController) SetDistanceFactor(entityID uint, factor float64) {
	if e, ok := c.entries[entityID]; ok {
		if factor < 0 {
			factor = 0
		}
		if factor > 1 {
			factor = 1
		}
		e.distance = factor
	}
}

// Tier returns the registered priority tier for an entity.
func (c *BandwidthController) Tier(entityID uint) netconfig.PriorityTier {
	if e, ok := c.entries[entityID]; ok {
		return e.tier
	}
	return netconfig.PriorityNormal
}

// EffectiveInterval is the entity's current interval after utilization
// widening and the distance factor.
func (c *BandwidthController) EffectiveInterval(entityID uint) time.Duration {
	e, ok := c.entries[entityID]
	if !ok {
		return c.params.BaseInterval(netconfig.PriorityNormal)
	}
	d := e.distance
	if d < c.params.MinDistanceFactor {
		d = c.params.MinDistanceFactor
	}
	return time.Duration(float64(e.actual) / d)
}

// Due reports whether the entity's effective interval has elapsed since its
// last recorded update.
func (c *BandwidthController) Due(entityID uint) bool {
	e, ok := c.entries[entityID]
	if !ok {
		return false
	}
	if e.lastSent.IsZero() {
		return true
	}
	return c.nowFn().Sub(e.lastSent) >= c.EffectiveInterval(entityID)
}

// RecordUpdate notes a successful emission for the entity: byte accounting,
// utilization, and a moving average over the entity's wire size.
func (c *BandwidthController) RecordUpdate(entityID uint, bytes int) {
	now := c.nowFn()
	if e, ok := c.entries[entityID]; ok {
		e.lastSent = now
		e.estSize = (e.estSize*3 + bytes) / 4
	}
	c.usage = append(c.usage, pendingPacket{sentAt: now, size: bytes})
	c.pruneUsage(now)
	c.recalcUtilization(now)
}

// Utilization is the share of the current budget consumed over the last
// second (0.0-1.0).
func (c *BandwidthController) Utilization() float64 {
	return c.utilization
}

// TargetBytesPerSec is the current global byte budget.
func (c *BandwidthController) TargetBytesPerSec() float64 {
	return c.targetBytesPerSec
}

// Constrained reports whether the compressor should switch to maximum
// reduction for low-priority entities.
func (c *BandwidthController) Constrained() bool {
	return c.constrained
}

// Apply recomputes the budget and every entity's interval from the latest
// status. Calls within the control cadence are no-ops, so the caller may
// invoke it every tick.
func (c *BandwidthController) Apply(status Status) {
	now := c.nowFn()
	if !c.lastControl.IsZero() && now.Sub(c.lastControl) < c.params.ControlInterval {
		return
	}
	c.lastControl = now
	c.lastQuality = status.Quality

	capacityBytes := status.BandwidthKbps * 1000 / 8
	c.targetBytesPerSec = capacityBytes * budgetFraction[status.Bandwidth]
	c.constrained = status.Bandwidth >= BandwidthLimited

	c.recalcUtilization(now)
	for _, e := range c.entries {
		e.actual = c.adjustForUtilization(e.base)
	}
}

// PlanBatch selects entities for one outgoing packet: descending priority,
// then ascending estimated size, cut off at the packet ceiling. Entities
// past the ceiling are dropped silently — they stay due and ride the next
// eligible tick.
func (c *BandwidthController) PlanBatch(candidates []uint) []uint {
	type ranked struct {
		id   uint
		tier netconfig.PriorityTier
		size int
	}
	pool := make([]ranked, 0, len(candidates))
	for _, id := range candidates {
		e, ok := c.entries[id]
		if !ok {
			continue
		}
		pool = append(pool, ranked{id: id, tier: e.tier, size: e.estSize})
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].tier != pool[j].tier {
			return pool[i].tier < pool[j].tier
		}
		return pool[i].size < pool[j].size
	})

	selected := make([]uint, 0, len(pool))
	total := 0
	for _, r := range pool {
		if len(selected) >= c.params.MaxEntitiesPerPacket {
			break
		}
		if total+r.size > c.params.MaxPacketBytes && len(selected) > 0 {
			break
		}
		selected = append(selected, r.id)
		total += r.size
	}
	return selected
}

func (c *BandwidthController) adjustForUtilization(base time.Duration) time.Duration {
	switch {
	case c.utilization > 0.9:
		return base * 2
	case c.utilization > 0.75:
		return base * 3 / 2
	case c.utilization < 0.3:
		return base * 4 / 5
	default:
		return base
	}
}

func (c *BandwidthController) pruneUsage(now time.Time) {
	cutoff := now.Add(-c.params.TrackingHorizon)
	firstKept := 0
	for firstKept < len(c.usage) && c.usage[firstKept].sentAt.Before(cutoff) {
		firstKept++
	}
	c.usage = c.usage[firstKept:]
}

func (c *BandwidthController) recalcUtilization(now time.Time) {
	if c.targetBytesPerSec <= 0 {
		c.utilization = 0
		return
	}
	windowStart := now.Add(-time.Second)
	var recent int
	for _, e := range c.usage {
		if e.sentAt.After(windowStart) {
			recent += e.size
		}
	}
	c.utilization = float64(recent) / c.targetBytesPerSec
	if c.utilization > 1 {
		c.utilization = 1
	}
}
