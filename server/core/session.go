package core

import (
	"sync"

	"github.com/leap-fish/necs/router"
	"github.com/rs/zerolog"
	"github.com/yohamta/donburi"

	"github.com/automoto/stormgrid-mp/shared/messages"
	"github.com/automoto/stormgrid-mp/shared/netconfig"
	"github.com/automoto/stormgrid-mp/shared/netmetrics"
	"github.com/automoto/stormgrid-mp/shared/sim"
	"github.com/automoto/stormgrid-mp/shared/snapshot"
)

// Session is everything the server keeps per connected client: the owned
// entity, the pending input queue, and the full sync pipeline (quality
// monitor, bandwidth controller, delta compressor). Router callbacks and
// the tick loop both touch it, so all mutable state sits behind mu.
type Session struct {
	mu sync.Mutex

	client *router.NetworkClient
	log    zerolog.Logger

	joined    bool
	lost      bool // link presumed dead, sync suspended
	networkID uint
	name      string
	token     string

	entity donburi.Entity
	body   *sim.Body

	inputQueue   []messages.PlayerInput
	lastInputSeq uint32
	correction   *messages.Correction

	monitor    *netmetrics.QualityMonitor
	controller *netmetrics.BandwidthController
	compressor *snapshot.DeltaCompressor

	outSeq       uint32
	lastSendTime int64 // server clock ms, for keepalive pacing
}

func newSession(client *router.NetworkClient, params netconfig.Params, log zerolog.Logger) *Session {
	return &Session{
		client:     client,
		log:        log.With().Str("client", client.Id()).Logger(),
		monitor:    netmetrics.NewQualityMonitor(params),
		controller: netmetrics.NewBandwidthController(params),
		compressor: snapshot.NewDeltaCompressor(params),
	}
}

// enqueueInput appends a client input, trimming the oldest entries when
// the backlog cap is exceeded. Returns false when the input was stale.
func (sess *Session) enqueueInput(input messages.PlayerInput, backlog int) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if input.Sequence <= sess.lastInputSeq {
		return false
	}
	sess.inputQueue = append(sess.inputQueue, input)
	if over := len(sess.inputQueue) - backlog; over > 0 {
		sess.inputQueue = sess.inputQueue[over:]
	}
	return true
}

// takeInputs drains the pending input queue for this tick.
func (sess *Session) takeInputs() []messages.PlayerInput {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	inputs := sess.inputQueue
	sess.inputQueue = nil
	return inputs
}

// recordAck forwards a client receipt to the quality monitor.
func (sess *Session) recordAck(seq uint32) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.monitor.RecordAck(seq)
}

// setCorrection stages an authoritative correction for the next packet.
// A newer correction replaces an unsent older one.
func (sess *Session) setCorrection(c *messages.Correction) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.correction = c
}

// takeCorrection returns and clears the staged correction.
func (sess *Session) takeCorrection() *messages.Correction {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.takeCorrectionLocked()
}

// takeCorrectionLocked is takeCorrection for callers already holding mu.
func (sess *Session) takeCorrectionLocked() *messages.Correction {
	c := sess.correction
	sess.correction = nil
	return c
}

// Lost reports whether the scheduler has declared this session's link dead.
// Sync is suspended while set; the connection layer decides whether to
// drop the client.
func (sess *Session) Lost() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.lost
}

func (sess *Session) isJoined() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.joined
}

// ownID returns the session's network ID, valid only once joined.
func (sess *Session) ownID() (uint, bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.networkID, sess.joined
}
