// Package netmetrics measures connection health from acknowledged sequence
// numbers and turns the measurements into the ratings and byte budgets the
// sync scheduler consumes. One QualityMonitor and one BandwidthController
// belong to one connection; neither is safe for concurrent use.
package netmetrics

import (
	"time"

	"github.com/automoto/stormgrid-mp/shared/netconfig"
)

// QualityRating classifies connection health. Higher values are worse;
// increasing RTT or loss never improves the rating.
type QualityRating int

const (
	QualityExcellent QualityRating = iota
	QualityGood
	QualityFair
	QualityPoor
	QualityBad
)

func (q QualityRating) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	case QualityPoor:
		return "poor"
	default:
		return "bad"
	}
}

// BandwidthRating classifies measured throughput. Higher values are worse.
type BandwidthRating int

const (
	BandwidthGood BandwidthRating = iota
	BandwidthAdequate
	BandwidthLimited
	BandwidthPoor
	BandwidthCritical
)

func (b BandwidthRating) String() string {
	switch b {
	case BandwidthGood:
		return "good"
	case BandwidthAdequate:
		return "adequate"
	case BandwidthLimited:
		return "limited"
	case BandwidthPoor:
		return "poor"
	default:
		return "critical"
	}
}

// ClassifyQuality maps (RTT, loss) to a rating with fixed thresholds.
func ClassifyQuality(rtt time.Duration, loss float64) QualityRating {
	ms := float64(rtt) / float64(time.Millisecond)
	switch {
	case ms < 50 && loss < 0.01:
		return QualityExcellent
	case ms < 100 && loss < 0.03:
		return QualityGood
	case ms < 150 && loss < 0.05:
		return QualityFair
	case ms < 250 && loss < 0.08:
		return QualityPoor
	default:
		return QualityBad
	}
}

// ClassifyBandwidth maps measured throughput in Kbps to a rating.
func ClassifyBandwidth(kbps float64) BandwidthRating {
	switch {
	case kbps >= 1000:
		return BandwidthGood
	case kbps >= 500:
		return BandwidthAdequate
	case kbps >= 200:
		return BandwidthLimited
	case kbps >= 50:
		return BandwidthPoor
	default:
		return BandwidthCritical
	}
}

// Status is the immutable published view of connection health. Readers must
// tolerate a status up to one recompute interval stale.
type Status struct {
	RTT           time.Duration
	Jitter        time.Duration
	Loss          float64 // 0.0 - 1.0
	BandwidthKbps float64
	Quality       QualityRating
	Bandwidth     BandwidthRating
	UpdatedAt     time.Time
}

type pendingPacket struct {
	seq    uint32
	sentAt time.Time
	size   int
}

// lossOutcome is one resolved packet: acked, or expired unacked. Outcomes
// roll out of the ledger one tracking horizon after they resolve.
type lossOutcome struct {
	at   time.Time
	lost bool
}

// QualityMonitor tracks sent sequence numbers against their acks and derives
// RTT, jitter, loss ratio and estimated bandwidth. Classification is
// rate-limited: between recomputations the previous status stays
// authoritative.
type QualityMonitor struct {
	params netconfig.Params
	nowFn  func() time.Time

	pending  []pendingPacket
	rtts     []time.Duration
	outcomes []lossOutcome

	bytesSent     []pendingPacket // reuses the struct for (time, size) pairs
	bwSamples     []float64
	lastBWMeasure time.Time

	lastEval   time.Time
	lastAckAt  time.Time
	lastSendAt time.Time
	status     Status
}

// NewQualityMonitor returns a monitor using the wall clock.
func NewQualityMonitor(params netconfig.Params) *QualityMonitor {
	return newQualityMonitor(params, time.Now)
}

func newQualityMonitor(params netconfig.Params, nowFn func() time.Time) *QualityMonitor {
	now := nowFn()
	return &QualityMonitor{
		params:        params,
		nowFn:         nowFn,
		lastBWMeasure: now,
		lastEval:      now,
		lastAckAt:     now,
		status: Status{
			RTT:           100 * time.Millisecond,
			Jitter:        10 * time.Millisecond,
			BandwidthKbps: 1000,
			Quality:       QualityGood,
			Bandwidth:     BandwidthGood,
			UpdatedAt:     now,
		},
	}
}

// RecordSend notes an outgoing packet. Sequence numbers must be unique
// within the tracking horizon.
func (m *QualityMonitor) RecordSend(seq uint32, size int) {
	now := m.nowFn()
	m.lastSendAt = now
	m.pending = append(m.pending, pendingPacket{seq: seq, sentAt: now, size: size})
	m.bytesSent = append(m.bytesSent, pendingPacket{sentAt: now, size: size})
}

// RecordAck matches an ack to its pending packet and pushes an RTT sample.
// Unknown or duplicate sequences are ignored.
func (m *QualityMonitor) RecordAck(seq uint32) (time.Duration, bool) {
	now := m.nowFn()
	for i, p := range m.pending {
		if p.seq != seq {
			continue
		}
		m.pending = append(m.pending[:i], m.pending[i+1:]...)
		m.outcomes = append(m.outcomes, lossOutcome{at: now})
		m.lastAckAt = now

		rtt := now.Sub(p.sentAt)
		m.rtts = append(m.rtts, rtt)
		if len(m.rtts) > m.params.RTTWindowSize {
			m.rtts = m.rtts[1:]
		}
		return rtt, true
	}
	return 0, false
}

// Update expires pending packets past the tracking horizon (counting them
// lost) and recomputes the published status if the rate limit allows.
func (m *QualityMonitor) Update() Status {
	now := m.nowFn()
	m.expire(now)

	if now.Sub(m.lastEval) < m.params.QualityInterval {
		return m.status
	}
	m.lastEval = now

	m.measureBandwidth(now)

	rtt := m.averageRTT()
	jitter := m.jitter()
	loss := m.Loss()
	kbps := m.averageBandwidth()

	m.status = Status{
		RTT:           rtt,
		Jitter:        jitter,
		Loss:          loss,
		BandwidthKbps: kbps,
		Quality:       ClassifyQuality(rtt, loss),
		Bandwidth:     ClassifyBandwidth(kbps),
		UpdatedAt:     now,
	}
	return m.status
}

// Status returns the last published classification without recomputing.
func (m *QualityMonitor) Status() Status {
	return m.status
}

// Loss returns lost / (lost + acked) over the outcomes still inside the
// rolling window. With fewer outcomes than the minimum sample size it reads
// as zero. An old outage therefore stops weighing on the rating once fresh
// traffic has rolled it out of the window.
func (m *QualityMonitor) Loss() float64 {
	if len(m.outcomes) < m.params.MinLossSampleSize {
		return 0
	}
	lost := 0
	for _, o := range m.outcomes {
		if o.lost {
			lost++
		}
	}
	return float64(lost) / float64(len(m.outcomes))
}

// ConnectionLost reports whether the tracking horizon has elapsed with
// packets outstanding and no acks at all. This is the only link-death
// signal this subsystem produces.
func (m *QualityMonitor) ConnectionLost() bool {
	if !m.lastSendAt.After(m.lastAckAt) {
		return false
	}
	return m.nowFn().Sub(m.lastAckAt) > m.params.TrackingHorizon
}

func (m *QualityMonitor) expire(now time.Time) {
	cutoff := now.Add(-m.params.TrackingHorizon)
	kept := m.pending[:0]
	for _, p := range m.pending {
		if p.sentAt.Before(cutoff) {
			m.outcomes = append(m.outcomes, lossOutcome{at: now, lost: true})
			continue
		}
		kept = append(kept, p)
	}
	m.pending = kept

	// Outcomes append in resolution order, so pruning is a prefix drop.
	firstOutcome := 0
	for firstOutcome < len(m.outcomes) && m.outcomes[firstOutcome].at.Before(cutoff) {
		firstOutcome++
	}
	m.outcomes = m.outcomes[firstOutcome:]

	firstKept := 0
	for firstKept < len(m.bytesSent) && m.bytesSent[firstKept].sentAt.Before(cutoff) {
		firstKept++
	}
	m.bytesSent = m.bytesSent[firstKept:]
}

func (m *QualityMonitor) measureBandwidth(now time.Time) {
	elapsed := now.Sub(m.lastBWMeasure)
	if elapsed < time.Second {
		return
	}
	var bytes int
	for _, e := range m.bytesSent {
		if e.sentAt.After(m.lastBWMeasure) {
			bytes += e.size
		}
	}
	kbps := float64(bytes*8) / elapsed.Seconds() / 1000.0
	m.bwSamples = append(m.bwSamples, kbps)
	if len(m.bwSamples) > m.params.BandwidthSamples {
		m.bwSamples = m.bwSamples[1:]
	}
	m.lastBWMeasure = now
}

func (m *QualityMonitor) averageRTT() time.Duration {
	if len(m.rtts) == 0 {
		return m.status.RTT
	}
	var sum time.Duration
	for _, r := range m.rtts {
		sum += r
	}
	return sum / time.Duration(len(m.rtts))
}

// jitter is the mean absolute delta between consecutive RTT samples.
func (m *QualityMonitor) jitter() time.Duration {
	if len(m.rtts) < 2 {
		return m.status.Jitter
	}
	var sum time.Duration
	for i := 1; i < len(m.rtts); i++ {
		d := m.rtts[i] - m.rtts[i-1]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / time.Duration(len(m.rtts)-1)
}

func (m *QualityMonitor) averageBandwidth() float64 {
	if len(m.bwSamples) == 0 {
		return m.status.BandwidthKbps
	}
	var sum float64
	for _, s := range m.bwSamples {
		sum += s
	}
	return sum / float64(len(m.bwSamples))
}
