package main

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ServerInfo describes a game server visible to clients.
type ServerInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Address    string `json:"address"`
	Arena      string `json:"arena"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"maxPlayers"`
	Version    string `json:"version"`
	Region     string `json:"region"`
}

type serverRecord struct {
	ServerInfo
	LastSeen time.Time
}

// Registry is an in-memory store of active game servers with TTL-based expiry.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*serverRecord
	ttl     time.Duration
	log     zerolog.Logger
	nowFn   func() time.Time
	stopCh  chan struct{}
}

func NewRegistry(ttl time.Duration, log zerolog.Logger) *Registry {
	r := newRegistry(ttl, log, time.Now)
	go r.cleanupLoop()
	return r
}

func newRegistry(ttl time.Duration, log zerolog.Logger, nowFn func() time.Time) *Registry {
	return &Registry{
		servers: make(map[string]*serverRecord),
		ttl:     ttl,
		log:     log,
		nowFn:   nowFn,
		stopCh:  make(chan struct{}),
	}
}

func (r *Registry) Stop() {
	close(r.stopCh)
}

func (r *Registry) Register(info ServerInfo) string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	id := fmt.Sprintf("%x", b)

	info.ID = id

	r.mu.Lock()
	r.servers[id] = &serverRecord{
		ServerInfo: info,
		LastSeen:   r.nowFn(),
	}
	r.mu.Unlock()

	return id
}

func (r *Registry) Heartbeat(id string, players int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.servers[id]
	if !ok {
		return false
	}
	rec.LastSeen = r.nowFn()
	rec.Players = players
	return true
}

func (r *Registry) List() []ServerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ServerInfo, 0, len(r.servers))
	for _, rec := range r.servers {
		result = append(result, rec.ServerInfo)
	}
	return result
}

func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.expire()
		}
	}
}

func (r *Registry) expire() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFn()
	for id, rec := range r.servers {
		if now.Sub(rec.LastSeen) >= r.ttl {
			r.log.Info().
				Str("name", rec.Name).
				Str("id", id).
				Dur("lastSeen", now.Sub(rec.LastSeen).Round(time.Second)).
				Msg("expired server")
			delete(r.servers, id)
		}
	}
}
