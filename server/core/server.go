package core

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/leap-fish/necs/esync"
	"github.com/leap-fish/necs/router"
	"github.com/leap-fish/necs/transports"
	"github.com/rs/zerolog"
	"github.com/yohamta/donburi"

	"github.com/automoto/stormgrid-mp/shared/clock"
	"github.com/automoto/stormgrid-mp/shared/leveldata"
	"github.com/automoto/stormgrid-mp/shared/messages"
	"github.com/automoto/stormgrid-mp/shared/netcomponents"
	"github.com/automoto/stormgrid-mp/shared/netconfig"
	"github.com/automoto/stormgrid-mp/shared/protocol"
	"github.com/automoto/stormgrid-mp/shared/sim"
)

// Server owns the authoritative world and one Session per connection.
type Server struct {
	cfg    Config
	params netconfig.Params
	log    zerolog.Logger

	world    donburi.World
	simWorld *sim.World
	arena    *leveldata.ArenaData

	loop      *GameLoop
	transport *transports.WsServerTransport

	mu        sync.RWMutex
	sessions  map[*router.NetworkClient]*Session
	entities  map[uint]donburi.Entity // networkID -> entity
	bodies    map[uint]*sim.Body
	kinds     map[uint]string
	tokens    map[string]uint // reconnect token -> networkID
	nextNetID uint
}

// NewServer creates a game server around a loaded arena.
func NewServer(cfg Config, arena *leveldata.ArenaData, log zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		params:   netconfig.DefaultParams(),
		log:      log,
		world:    donburi.NewWorld(),
		simWorld: sim.NewWorld(arena),
		arena:    arena,
		sessions: make(map[*router.NetworkClient]*Session),
		entities: make(map[uint]donburi.Entity),
		bodies:   make(map[uint]*sim.Body),
		kinds:    make(map[uint]string),
		tokens:   make(map[string]uint),
	}
	s.loop = NewGameLoop(s, cfg.TickRate, log)
	s.setupRouterCallbacks()
	return s
}

// Start begins the server on the configured port.
func (s *Server) Start() error {
	go s.loop.Run()

	s.transport = transports.NewWsServerTransport(s.cfg.Port, "", nil)
	return s.transport.Start()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() {
	s.loop.Stop()
}

func (s *Server) setupRouterCallbacks() {
	router.OnConnect(func(client *router.NetworkClient) {
		s.onConnect(client)
	})

	router.OnDisconnect(func(client *router.NetworkClient, err error) {
		s.onDisconnect(client, err)
	})

	router.On(func(client *router.NetworkClient, req messages.JoinRequest) {
		s.onJoinRequest(client, req)
	})

	router.On(func(client *router.NetworkClient, input messages.PlayerInput) {
		s.onPlayerInput(client, input)
	})

	router.On(func(client *router.NetworkClient, ack messages.Ack) {
		if sess := s.session(client); sess != nil {
			sess.recordAck(ack.Sequence)
		}
	})

	router.On(func(client *router.NetworkClient, ping messages.Ping) {
		_ = client.SendMessage(messages.Pong{
			Nonce:      ping.Nonce,
			ClientTime: ping.ClientTime,
			ServerTime: clock.NowMillis(),
		})
	})

	router.On(func(client *router.NetworkClient, req messages.TimeSyncRequest) {
		_ = client.SendMessage(messages.TimeSyncResponse{
			ClientTime: req.ClientTime,
			ServerTime: clock.NowMillis(),
		})
	})

	router.OnError(func(client *router.NetworkClient, err error) {
		s.log.Warn().Err(err).Msg("client error")
	})
}

func (s *Server) onConnect(client *router.NetworkClient) {
	s.log.Info().Str("client", client.Id()).Msg("client connected")

	sess := newSession(client, s.params, s.log)
	s.mu.Lock()
	s.sessions[client] = sess
	s.mu.Unlock()
}

func (s *Server) onJoinRequest(client *router.NetworkClient, req messages.JoinRequest) {
	sess := s.session(client)
	if sess == nil {
		return
	}

	if !protocol.Compatible(req.Version, protocol.Version) {
		s.log.Info().
			Str("client", client.Id()).
			Str("version", req.Version).
			Msg("join rejected: version mismatch")
		_ = client.SendMessage(messages.JoinRejected{
			Code:   protocol.ErrCodeVersionMismatch,
			Reason: fmt.Sprintf("server requires protocol %s", protocol.Version),
		})
		return
	}

	if s.PlayerCount() >= s.cfg.MaxPlayers {
		_ = client.SendMessage(messages.JoinRejected{
			Code:   protocol.ErrCodeServerFull,
			Reason: "server full",
		})
		return
	}

	netID, resumed := s.resumeOrAssign(req.ReconnectToken)
	token := newToken()

	spawnX, spawnY := s.spawnFor(netID)
	entity := s.world.Create(
		netcomponents.NetPosition,
		netcomponents.NetRotation,
		netcomponents.NetVelocity,
		netcomponents.NetHealth,
		netcomponents.NetSprite,
		netcomponents.NetPlayerInfo,
	)
	entry := s.world.Entry(entity)
	netcomponents.NetPosition.Set(entry, &netcomponents.NetPositionData{X: spawnX, Y: spawnY})
	netcomponents.NetRotation.Set(entry, &netcomponents.NetRotationData{W: 1})
	netcomponents.NetVelocity.Set(entry, &netcomponents.NetVelocityData{})
	netcomponents.NetHealth.Set(entry, &netcomponents.NetHealthData{Current: 100, Max: 100})
	netcomponents.NetSprite.Set(entry, &netcomponents.NetSpriteData{ID: "player", Visible: true})
	netcomponents.NetPlayerInfo.Set(entry, &netcomponents.NetPlayerInfoData{Name: req.PlayerName})

	body := s.simWorld.AddBody(spawnX, spawnY)

	s.mu.Lock()
	s.entities[netID] = entity
	s.bodies[netID] = body
	s.kinds[netID] = "player"
	s.tokens[token] = netID
	s.mu.Unlock()

	sess.mu.Lock()
	sess.joined = true
	sess.networkID = netID
	sess.name = req.PlayerName
	sess.token = token
	sess.entity = entity
	sess.body = body
	sess.mu.Unlock()

	if err := client.SendMessage(messages.JoinAccepted{
		NetworkID:      esync.NetworkId(netID),
		ReconnectToken: token,
		ServerName:     s.cfg.Name,
		ArenaName:      s.cfg.Arena,
		TickRate:       s.cfg.TickRate,
	}); err != nil {
		s.log.Warn().Err(err).Str("client", client.Id()).Msg("join accept send failed")
		return
	}

	s.registerEntityForAll(netID)
	s.broadcast(messages.EntityCreate{
		NetworkID: netID,
		Kind:      "player",
		Initial:   s.snapshotEntity(netID, clock.NowMillis()),
	})

	s.log.Info().
		Str("client", client.Id()).
		Str("player", req.PlayerName).
		Uint("networkID", netID).
		Bool("resumed", resumed).
		Msg("player joined")
}

func (s *Server) onDisconnect(client *router.NetworkClient, err error) {
	if err != nil {
		s.log.Info().Err(err).Str("client", client.Id()).Msg("client disconnected")
	} else {
		s.log.Info().Str("client", client.Id()).Msg("client disconnected")
	}

	s.mu.Lock()
	sess, exists := s.sessions[client]
	if exists {
		delete(s.sessions, client)
	}
	s.mu.Unlock()

	if !exists {
		return
	}
	netID, joined := sess.ownID()
	if !joined {
		return
	}
	s.mu.Lock()
	entity, ok := s.entities[netID]
	body := s.bodies[netID]
	delete(s.entities, netID)
	delete(s.bodies, netID)
	delete(s.kinds, netID)
	s.mu.Unlock()

	if ok && s.world.Valid(entity) {
		s.world.Remove(entity)
	}
	if body != nil {
		s.simWorld.RemoveBody(body)
	}

	s.forEachSession(func(other *Session) {
		other.mu.Lock()
		other.controller.Unregister(netID)
		other.compressor.Forget(netID)
		other.mu.Unlock()
	})
	s.broadcast(messages.EntityDestroy{NetworkID: netID})
}

func (s *Server) onPlayerInput(client *router.NetworkClient, input messages.PlayerInput) {
	sess := s.session(client)
	if sess == nil || !sess.isJoined() {
		return
	}
	sess.enqueueInput(input, s.params.InputQueueBacklog)
}

// resumeOrAssign maps a reconnect token back to its network ID when it is
// still known, otherwise assigns a fresh one.
func (s *Server) resumeOrAssign(token string) (uint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token != "" {
		if id, ok := s.tokens[token]; ok {
			delete(s.tokens, token)
			// Resumable only while the previous entity is gone.
			if _, live := s.entities[id]; !live {
				return id, true
			}
		}
	}
	s.nextNetID++
	return s.nextNetID, false
}

func (s *Server) spawnFor(netID uint) (float64, float64) {
	if len(s.arena.SpawnPoints) == 0 {
		return 100, 100
	}
	sp := s.arena.SpawnPoints[int(netID)%len(s.arena.SpawnPoints)]
	return sp.X, sp.Y
}

// registerEntityForAll introduces a new entity to every session's
// scheduler, and the new session to every existing entity.
func (s *Server) registerEntityForAll(netID uint) {
	s.mu.RLock()
	ids := make([]uint, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	s.forEachSession(func(sess *Session) {
		sess.mu.Lock()
		for _, id := range ids {
			tier := netconfig.PriorityHigh
			if id == sess.networkID {
				tier = netconfig.PriorityCritical
			}
			sess.controller.Register(id, tier, 96)
		}
		sess.mu.Unlock()
	})
}

func (s *Server) session(client *router.NetworkClient) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[client]
}

func (s *Server) forEachSession(fn func(*Session)) {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		fn(sess)
	}
}

func (s *Server) broadcast(msg any) {
	s.forEachSession(func(sess *Session) {
		if !sess.isJoined() {
			return
		}
		if err := sess.client.SendMessage(msg); err != nil {
			sess.log.Warn().Err(err).Msg("broadcast send failed")
		}
	})
}

// AddScore adjusts a player's score and broadcasts the full score table.
func (s *Server) AddScore(netID uint, points int) {
	s.mu.RLock()
	entity, ok := s.entities[netID]
	s.mu.RUnlock()
	if !ok || !s.world.Valid(entity) {
		return
	}
	info := netcomponents.NetPlayerInfo.Get(s.world.Entry(entity))
	info.Score += points

	scores := make(map[uint]int)
	s.mu.RLock()
	for id, ent := range s.entities {
		if s.world.Valid(ent) {
			scores[id] = netcomponents.NetPlayerInfo.Get(s.world.Entry(ent)).Score
		}
	}
	s.mu.RUnlock()

	s.broadcast(messages.ScoreUpdate{Scores: scores})
}

// World returns the ECS world.
func (s *Server) World() donburi.World {
	return s.world
}

// PlayerCount returns the number of joined players.
func (s *Server) PlayerCount() int {
	n := 0
	s.forEachSession(func(sess *Session) {
		if sess.isJoined() {
			n++
		}
	})
	return n
}

func newToken() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(b[:])
}
