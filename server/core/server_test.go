package core

import (
	"testing"
	"time"

	"github.com/leap-fish/necs/router"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automoto/stormgrid-mp/shared/leveldata"
	"github.com/automoto/stormgrid-mp/shared/messages"
	"github.com/automoto/stormgrid-mp/shared/netcomponents"
	"github.com/automoto/stormgrid-mp/shared/netconfig"
	"github.com/automoto/stormgrid-mp/shared/netmetrics"
	"github.com/automoto/stormgrid-mp/shared/sim"
	"github.com/automoto/stormgrid-mp/shared/snapshot"
)

func testConfig() Config {
	return Config{
		Port:       7373,
		TickRate:   20,
		Name:       "test",
		MaxPlayers: 8,
		Arena:      "arena1",
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	router.ResetRouter()
	arena := &leveldata.ArenaData{MapWidth: 2000, MapHeight: 2000}
	return NewServer(testConfig(), arena, zerolog.Nop())
}

// spawnTestPlayer wires up a joined session without a real connection.
func spawnTestPlayer(s *Server, netID uint) *Session {
	entity := s.world.Create(
		netcomponents.NetPosition,
		netcomponents.NetRotation,
		netcomponents.NetVelocity,
		netcomponents.NetHealth,
		netcomponents.NetSprite,
		netcomponents.NetPlayerInfo,
	)
	entry := s.world.Entry(entity)
	netcomponents.NetPosition.Set(entry, &netcomponents.NetPositionData{X: 100, Y: 100})
	netcomponents.NetRotation.Set(entry, &netcomponents.NetRotationData{W: 1})
	netcomponents.NetVelocity.Set(entry, &netcomponents.NetVelocityData{})
	netcomponents.NetHealth.Set(entry, &netcomponents.NetHealthData{Current: 100, Max: 100})
	netcomponents.NetSprite.Set(entry, &netcomponents.NetSpriteData{ID: "player", Visible: true})
	netcomponents.NetPlayerInfo.Set(entry, &netcomponents.NetPlayerInfoData{Name: "tester"})

	body := s.simWorld.AddBody(100, 100)

	sess := &Session{
		log:        zerolog.Nop(),
		joined:     true,
		networkID:  netID,
		entity:     entity,
		body:       body,
		monitor:    netmetrics.NewQualityMonitor(s.params),
		controller: netmetrics.NewBandwidthController(s.params),
		compressor: snapshot.NewDeltaCompressor(s.params),
	}

	s.mu.Lock()
	s.entities[netID] = entity
	s.bodies[netID] = body
	s.kinds[netID] = "player"
	s.mu.Unlock()
	return sess
}

type refState struct {
	X, Y, VelX, VelY float64
}

// referenceRun replays the same inputs on a fresh world and returns the
// body state after each step.
func referenceRun(inputs []messages.PlayerInput) []refState {
	arena := &leveldata.ArenaData{MapWidth: 2000, MapHeight: 2000}
	w := sim.NewWorld(arena)
	b := w.AddBody(100, 100)
	out := make([]refState, 0, len(inputs))
	for _, in := range inputs {
		w.Step(b, sim.InputFrame{MoveX: in.MoveX, MoveY: in.MoveY, Sprint: in.Actions["sprint"]})
		out = append(out, refState{X: b.X(), Y: b.Y(), VelX: b.VelX, VelY: b.VelY})
	}
	return out
}

func serverInput(seq uint32, moveX, moveY float64) messages.PlayerInput {
	in := messages.NewPlayerInput(seq)
	in.MoveX = moveX
	in.MoveY = moveY
	in.Timestamp = int64(1000 + seq)
	return in
}

func TestReplayMatchesAccuratePrediction(t *testing.T) {
	s := newTestServer(t)
	sess := spawnTestPlayer(s, 1)

	inputs := []messages.PlayerInput{
		serverInput(1, 1, 0),
		serverInput(2, 1, 0),
		serverInput(3, 0, 1),
	}
	ref := referenceRun(inputs)
	for i := range inputs {
		inputs[i].PredictedX = ref[i].X
		inputs[i].PredictedY = ref[i].Y
		inputs[i].PredictedVelX = ref[i].VelX
		inputs[i].PredictedVelY = ref[i].VelY
		require.True(t, sess.enqueueInput(inputs[i], s.params.InputQueueBacklog))
	}

	s.replaySession(sess)

	assert.Nil(t, sess.takeCorrection(), "accurate predictions need no correction")
	assert.Equal(t, uint32(3), sess.lastInputSeq)

	entry := s.world.Entry(sess.entity)
	pos := netcomponents.NetPosition.Get(entry)
	assert.InDelta(t, ref[2].X, pos.X, 1e-9)
	assert.InDelta(t, ref[2].Y, pos.Y, 1e-9)

	info := netcomponents.NetPlayerInfo.Get(entry)
	assert.Equal(t, uint32(3), info.LastSequence)
}

func TestReplayFlagsDivergence(t *testing.T) {
	s := newTestServer(t)
	sess := spawnTestPlayer(s, 1)

	in := serverInput(1, 1, 0)
	in.PredictedX = 500 // wildly off
	in.PredictedY = 500
	sess.enqueueInput(in, s.params.InputQueueBacklog)

	s.replaySession(sess)

	corr := sess.takeCorrection()
	require.NotNil(t, corr)
	assert.Equal(t, uint32(1), corr.InputSeq)
	assert.Equal(t, sess.body.X(), corr.X)
	assert.Equal(t, sess.body.Y(), corr.Y)

	assert.Nil(t, sess.takeCorrection(), "correction is consumed once")
}

func TestReplayToleratesSmallError(t *testing.T) {
	s := newTestServer(t)
	sess := spawnTestPlayer(s, 1)

	in := serverInput(1, 1, 0)
	ref := referenceRun([]messages.PlayerInput{in})
	in.PredictedX = ref[0].X + s.params.PositionThreshold*0.9
	in.PredictedY = ref[0].Y
	in.PredictedVelX = ref[0].VelX
	in.PredictedVelY = ref[0].VelY
	sess.enqueueInput(in, s.params.InputQueueBacklog)

	s.replaySession(sess)

	assert.Nil(t, sess.takeCorrection(), "sub-threshold error is accepted")
}

func TestEnqueueRejectsStaleSequence(t *testing.T) {
	s := newTestServer(t)
	sess := spawnTestPlayer(s, 1)

	sess.enqueueInput(serverInput(2, 1, 0), s.params.InputQueueBacklog)
	s.replaySession(sess)
	require.Equal(t, uint32(2), sess.lastInputSeq)

	assert.False(t, sess.enqueueInput(serverInput(1, 1, 0), s.params.InputQueueBacklog))
	assert.False(t, sess.enqueueInput(serverInput(2, 1, 0), s.params.InputQueueBacklog))
	assert.True(t, sess.enqueueInput(serverInput(3, 1, 0), s.params.InputQueueBacklog))
}

func TestReplayBoundsBacklog(t *testing.T) {
	s := newTestServer(t)
	sess := spawnTestPlayer(s, 1)

	for seq := uint32(1); seq <= 100; seq++ {
		sess.enqueueInput(serverInput(seq, 1, 0), s.params.InputQueueBacklog)
	}
	sess.mu.Lock()
	queued := len(sess.inputQueue)
	sess.mu.Unlock()
	assert.Equal(t, s.params.InputQueueBacklog, queued, "queue trims to the backlog cap")

	s.replaySession(sess)

	// Only the newest MaxReplayPerTick inputs ran this tick, ending at 100.
	assert.Equal(t, uint32(100), sess.lastInputSeq)
}

// deadLinkMonitor returns a monitor whose tracking horizon has already
// elapsed with a send outstanding and no acks.
func deadLinkMonitor(params netconfig.Params) *netmetrics.QualityMonitor {
	params.TrackingHorizon = time.Nanosecond
	params.QualityInterval = 0
	params.MinLossSampleSize = 1
	m := netmetrics.NewQualityMonitor(params)
	m.RecordSend(1, 100)
	time.Sleep(time.Millisecond)
	return m
}

func TestSyncSkipsLostSession(t *testing.T) {
	s := newTestServer(t)
	sess := spawnTestPlayer(s, 1)
	sess.monitor = deadLinkMonitor(s.params)

	s.syncSession(sess, nil, 1000)

	assert.True(t, sess.Lost())
	sess.mu.Lock()
	sent := sess.outSeq
	sess.mu.Unlock()
	assert.Zero(t, sent, "no packets scheduled for a dead link")

	// An ack clears the verdict and sync resumes on the next pass.
	sess.recordAck(1)
	s.syncSession(sess, nil, 0)
	assert.False(t, sess.Lost())
}

func TestCorrectionQuantizedOnPoorLink(t *testing.T) {
	s := newTestServer(t)
	sess := spawnTestPlayer(s, 1)
	sess.monitor = deadLinkMonitor(s.params)
	require.GreaterOrEqual(t, sess.monitor.Update().Quality, netmetrics.QualityPoor)

	in := serverInput(1, 0.77, 0)
	in.PredictedX = 500 // wildly off
	in.PredictedY = 500
	sess.enqueueInput(in, s.params.InputQueueBacklog)

	s.replaySession(sess)

	corr := sess.takeCorrection()
	require.NotNil(t, corr)
	assert.Equal(t, snapshot.RoundTo(sess.body.X(), s.params.PositionPrecision), corr.X)
	assert.Equal(t, snapshot.RoundTo(sess.body.Y(), s.params.PositionPrecision), corr.Y)
	assert.Equal(t, snapshot.RoundTo(sess.body.VelX, s.params.VelocityPrecision), corr.VelX)
	assert.NotEqual(t, sess.body.X(), corr.X, "wire precision is coarser than the sim")
}

func TestSnapshotEntityReflectsComponents(t *testing.T) {
	s := newTestServer(t)
	sess := spawnTestPlayer(s, 7)

	entry := s.world.Entry(sess.entity)
	netcomponents.NetPosition.Get(entry).X = 123.456
	netcomponents.NetHealth.Get(entry).Current = 55

	snap := s.snapshotEntity(7, 5000)

	require.NotNil(t, snap.Position)
	assert.Equal(t, 123.456, snap.Position.X)
	assert.Equal(t, int64(5000), snap.Timestamp)
	require.Contains(t, snap.Components, "health")
	assert.Equal(t, 55, snap.Components["health"].Health.Current)
	assert.Equal(t, "tester", snap.Components["player"].PlayerInfo.Name)
}

func TestSnapshotUnknownEntityIsEmpty(t *testing.T) {
	s := newTestServer(t)

	snap := s.snapshotEntity(99, 5000)

	assert.True(t, snap.Empty())
	assert.Equal(t, uint(99), snap.EntityID)
}

func TestSpawnForCyclesSpawnPoints(t *testing.T) {
	router.ResetRouter()
	arena := &leveldata.ArenaData{
		MapWidth:  2000,
		MapHeight: 2000,
		SpawnPoints: []leveldata.SpawnPoint{
			{X: 10, Y: 10, Index: 0},
			{X: 20, Y: 20, Index: 1},
		},
	}
	s := NewServer(testConfig(), arena, zerolog.Nop())

	x1, _ := s.spawnFor(1)
	x2, _ := s.spawnFor(2)
	x3, _ := s.spawnFor(3)

	assert.Equal(t, 20.0, x1)
	assert.Equal(t, 10.0, x2)
	assert.Equal(t, 20.0, x3)
}

func TestResumeOrAssign(t *testing.T) {
	s := newTestServer(t)

	id1, resumed := s.resumeOrAssign("")
	assert.False(t, resumed)

	s.mu.Lock()
	s.tokens["tok"] = id1
	s.mu.Unlock()

	// Token known and entity gone: same identity comes back.
	id2, resumed := s.resumeOrAssign("tok")
	assert.True(t, resumed)
	assert.Equal(t, id1, id2)

	// Token already consumed.
	id3, resumed := s.resumeOrAssign("tok")
	assert.False(t, resumed)
	assert.NotEqual(t, id1, id3)
}

func TestRegisterEntityTiers(t *testing.T) {
	s := newTestServer(t)
	sessA := spawnTestPlayer(s, 1)
	sessB := spawnTestPlayer(s, 2)
	s.mu.Lock()
	s.sessions[nil] = sessA
	s.mu.Unlock()
	_ = sessB

	// Sessions are normally registered through onConnect; inject directly
	// and run the tier assignment.
	s.registerEntityForAll(2)

	assert.Equal(t, netconfig.PriorityCritical, sessA.controller.Tier(1), "own entity is critical")
	assert.Equal(t, netconfig.PriorityHigh, sessA.controller.Tier(2), "remote player is high")
}

func TestAddScoreUpdatesComponent(t *testing.T) {
	s := newTestServer(t)
	sess := spawnTestPlayer(s, 1)

	s.AddScore(1, 3)
	s.AddScore(1, 2)
	s.AddScore(99, 10) // unknown entity is a no-op

	info := netcomponents.NetPlayerInfo.Get(s.world.Entry(sess.entity))
	assert.Equal(t, 5, info.Score)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, uint(7373), cfg.Port)
	assert.Equal(t, 20, cfg.TickRate)
	assert.Equal(t, 16, cfg.MaxPlayers)
	assert.Equal(t, "arena1", cfg.Arena)
}
