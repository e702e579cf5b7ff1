package network

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/leap-fish/necs/esync"
	"github.com/leap-fish/necs/router"
	"github.com/leap-fish/necs/transports"

	"github.com/automoto/stormgrid-mp/shared/clock"
	"github.com/automoto/stormgrid-mp/shared/messages"
	"github.com/automoto/stormgrid-mp/shared/protocol"
)

type ClientState int

const (
	StateDisconnected ClientState = iota
	StateConnecting
	StateConnected
	StateJoinedGame
	StateError
)

const (
	pingInterval     = time.Second
	timeSyncInterval = 5 * time.Second
)

// Client manages a WebSocket connection to the game server.
// All shared fields are protected by mu (router callbacks run on necs goroutines).
type Client struct {
	mu sync.RWMutex

	state          ClientState
	lastError      error
	networkID      esync.NetworkId
	reconnectToken string
	serverName     string
	arenaName      string
	tickRate       int
	conn           *websocket.Conn
	stopKeepalive  context.CancelFunc

	clock  *clock.SyncedClock
	tokens *TokenStore

	updateCh  chan messages.StateUpdate
	createCh  chan messages.EntityCreate
	destroyCh chan messages.EntityDestroy
	scoreCh   chan messages.ScoreUpdate
	rttCh     chan time.Duration
}

func NewClient(tokens *TokenStore) *Client {
	return &Client{
		state:     StateDisconnected,
		clock:     clock.NewSyncedClock(),
		tokens:    tokens,
		updateCh:  make(chan messages.StateUpdate, 64),
		createCh:  make(chan messages.EntityCreate, 16),
		destroyCh: make(chan messages.EntityDestroy, 16),
		scoreCh:   make(chan messages.ScoreUpdate, 4),
		rttCh:     make(chan time.Duration, 8),
	}
}

// Connect dials the server in a background goroutine and initiates the join handshake.
func (c *Client) Connect(address, playerName string) {
	c.mu.Lock()
	c.state = StateConnecting
	c.lastError = nil
	c.mu.Unlock()

	router.OnConnect(func(_ *router.NetworkClient) {
		log.Println("[client] connected to server")
		c.mu.Lock()
		c.state = StateConnected
		c.mu.Unlock()

		token := ""
		if c.tokens != nil {
			token = c.tokens.Load(address)
		}
		if err := c.SendMessage(messages.JoinRequest{
			Version:        protocol.Version,
			PlayerName:     playerName,
			ReconnectToken: token,
		}); err != nil {
			c.setError(fmt.Errorf("send join request: %w", err))
		}
	})

	router.On(func(_ *router.NetworkClient, msg messages.JoinAccepted) {
		log.Printf("[client] join accepted: networkID=%d server=%s arena=%s tickRate=%d",
			msg.NetworkID, msg.ServerName, msg.ArenaName, msg.TickRate)
		ctx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.networkID = msg.NetworkID
		c.reconnectToken = msg.ReconnectToken
		c.serverName = msg.ServerName
		c.arenaName = msg.ArenaName
		c.tickRate = msg.TickRate
		c.state = StateJoinedGame
		if c.stopKeepalive != nil {
			c.stopKeepalive()
		}
		c.stopKeepalive = cancel
		c.mu.Unlock()

		if c.tokens != nil {
			c.tokens.Save(address, msg.ReconnectToken)
		}
		go c.runKeepalive(ctx)
	})

	router.On(func(_ *router.NetworkClient, msg messages.JoinRejected) {
		log.Printf("[client] join rejected (code %d): %s", msg.Code, msg.Reason)
		c.setError(fmt.Errorf("join rejected: %s", msg.Reason))
	})

	router.On(func(_ *router.NetworkClient, update messages.StateUpdate) {
		// Acks feed the server's quality monitor; send before any local work.
		if err := c.SendMessage(messages.Ack{
			Sequence:   update.Sequence,
			ClientTime: clock.NowMillis(),
		}); err != nil {
			log.Printf("[client] ack failed: %v", err)
		}
		select {
		case c.updateCh <- update:
		default:
			// Backlogged: shed the oldest update, keep the newest.
			select {
			case <-c.updateCh:
			default:
			}
			c.updateCh <- update
		}
	})

	router.On(func(_ *router.NetworkClient, evt messages.EntityCreate) {
		select {
		case c.createCh <- evt:
		default:
		}
	})

	router.On(func(_ *router.NetworkClient, evt messages.EntityDestroy) {
		select {
		case c.destroyCh <- evt:
		default:
		}
	})

	router.On(func(_ *router.NetworkClient, evt messages.ScoreUpdate) {
		select {
		case c.scoreCh <- evt:
		default:
		}
	})

	router.On(func(_ *router.NetworkClient, msg messages.Pong) {
		rtt := time.Duration(clock.NowMillis()-msg.ClientTime) * time.Millisecond
		select {
		case c.rttCh <- rtt:
		default:
		}
	})

	router.On(func(_ *router.NetworkClient, msg messages.TimeSyncResponse) {
		c.clock.AddSample(msg.ClientTime, msg.ServerTime, clock.NowMillis())
	})

	router.On(func(_ *router.NetworkClient, msg messages.ErrorMessage) {
		log.Printf("[client] server error (code %d): %s", msg.Code, msg.Message)
	})

	router.OnDisconnect(func(_ *router.NetworkClient, err error) {
		log.Printf("[client] disconnected: %v", err)
		c.mu.Lock()
		if c.state != StateError {
			c.state = StateDisconnected
		}
		c.conn = nil
		if c.stopKeepalive != nil {
			c.stopKeepalive()
			c.stopKeepalive = nil
		}
		c.mu.Unlock()
	})

	router.OnError(func(_ *router.NetworkClient, err error) {
		log.Printf("[client] error: %v", err)
	})

	go func() {
		transport := transports.NewWsClientTransport("ws://" + address)
		err := transport.Start(func(conn *websocket.Conn) {
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
		})
		if err != nil {
			c.setError(fmt.Errorf("connection failed: %w", err))
		}
	}()
}

// runKeepalive drives the ping and time sync cadences while joined.
func (c *Client) runKeepalive(ctx context.Context) {
	ping := time.NewTicker(pingInterval)
	tsync := time.NewTicker(timeSyncInterval)
	defer ping.Stop()
	defer tsync.Stop()

	// Prime the clock offset right away instead of waiting a full period.
	_ = c.SendMessage(messages.TimeSyncRequest{ClientTime: clock.NowMillis()})

	var nonce uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			nonce++
			_ = c.SendMessage(messages.Ping{Nonce: nonce, ClientTime: clock.NowMillis()})
		case <-tsync.C:
			_ = c.SendMessage(messages.TimeSyncRequest{ClientTime: clock.NowMillis()})
		}
	}
}

func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.state = StateDisconnected
	c.conn = nil
	if c.stopKeepalive != nil {
		c.stopKeepalive()
		c.stopKeepalive = nil
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.CloseNow()
	}

	router.ResetRouter()
}

func (c *Client) State() ClientState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

func (c *Client) NetworkID() esync.NetworkId {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.networkID
}

func (c *Client) ArenaName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.arenaName
}

func (c *Client) TickRate() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tickRate
}

// Clock exposes the synchronized server clock estimate.
func (c *Client) Clock() *clock.SyncedClock {
	return c.clock
}

// SendInput ships one input message to the server.
func (c *Client) SendInput(input messages.PlayerInput) error {
	return c.SendMessage(input)
}

func (c *Client) SendMessage(msg any) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	payload, err := router.Serialize(msg)
	if err != nil {
		return fmt.Errorf("serialize: %w", err)
	}

	return conn.Write(context.Background(), websocket.MessageBinary, payload)
}

func (c *Client) setError(err error) {
	c.mu.Lock()
	c.state = StateError
	c.lastError = err
	c.mu.Unlock()
}

// DrainUpdates returns all pending state updates in arrival order, non-blocking.
func (c *Client) DrainUpdates() []messages.StateUpdate {
	return drainChan(c.updateCh)
}

// DrainCreates returns all pending entity create events, non-blocking.
func (c *Client) DrainCreates() []messages.EntityCreate {
	return drainChan(c.createCh)
}

// DrainDestroys returns all pending entity destroy events, non-blocking.
func (c *Client) DrainDestroys() []messages.EntityDestroy {
	return drainChan(c.destroyCh)
}

// DrainScores returns all pending score updates, non-blocking.
func (c *Client) DrainScores() []messages.ScoreUpdate {
	return drainChan(c.scoreCh)
}

// DrainRTTSamples returns measured round trips since the last call,
// non-blocking. Feed these to the latency compensator.
func (c *Client) DrainRTTSamples() []time.Duration {
	return drainChan(c.rttCh)
}

func drainChan[T any](ch chan T) []T {
	var out []T
	for {
		select {
		case v := <-ch:
			out = append(out, v)
		default:
			return out
		}
	}
}
