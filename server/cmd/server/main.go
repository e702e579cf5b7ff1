package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/automoto/stormgrid-mp/server/core"
	"github.com/automoto/stormgrid-mp/shared/leveldata"
	"github.com/automoto/stormgrid-mp/shared/protocol"
)

func main() {
	configDir := flag.String("config", ".", "Directory containing server.yaml")
	port := flag.Uint("port", 0, "Server port (overrides config)")
	tickRate := flag.Int("tickrate", 0, "Server tick rate (overrides config)")
	name := flag.String("name", "", "Server display name (overrides config)")
	arena := flag.String("arena", "", "Arena to load (overrides config)")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := core.LoadConfig(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *tickRate != 0 {
		cfg.TickRate = *tickRate
	}
	if *name != "" {
		cfg.Name = *name
	}
	if *arena != "" {
		cfg.Arena = *arena
	}

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	arenas, names, err := leveldata.LoadAllArenas(os.DirFS("."), cfg.ArenaDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.ArenaDir).Msg("arena load failed")
	}
	arenaData, ok := arenas[cfg.Arena]
	if !ok {
		log.Fatal().Str("arena", cfg.Arena).Strs("available", names).Msg("unknown arena")
	}

	server := core.NewServer(cfg, arenaData, log)

	var registration *core.Registration
	if cfg.MasterURL != "" {
		registration = core.NewRegistration(
			cfg.MasterURL, cfg.Name, cfg.Address, cfg.Arena, protocol.Version,
			cfg.Region, cfg.MaxPlayers, server, log,
		)
		registration.Start()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("shutting down server")
		if registration != nil {
			registration.Stop()
		}
		server.Stop()
		os.Exit(0)
	}()

	log.Info().
		Str("name", cfg.Name).
		Uint("port", cfg.Port).
		Int("tickRate", cfg.TickRate).
		Str("arena", cfg.Arena).
		Msg("starting server")
	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
