package core

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/automoto/stormgrid-mp/shared/clock"
)

// GameLoop drives the fixed-rate server tick: apply queued inputs, then
// run the sync pipeline for every session.
type GameLoop struct {
	server   *Server
	tickRate int
	log      zerolog.Logger
	stopChan chan struct{}
}

func NewGameLoop(server *Server, tickRate int, log zerolog.Logger) *GameLoop {
	return &GameLoop{
		server:   server,
		tickRate: tickRate,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

func (g *GameLoop) Run() {
	ticker := time.NewTicker(time.Second / time.Duration(g.tickRate))
	defer ticker.Stop()

	g.log.Info().Int("tickRate", g.tickRate).Msg("game loop started")

	for {
		select {
		case <-g.stopChan:
			g.log.Info().Msg("game loop stopped")
			return
		case <-ticker.C:
			g.tick()
		}
	}
}

func (g *GameLoop) Stop() {
	close(g.stopChan)
}

func (g *GameLoop) tick() {
	g.server.processInputs()
	g.server.syncSessions(clock.NowMillis())
}
