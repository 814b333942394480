package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/lox/toninas/internal/config"
	"github.com/lox/toninas/internal/controller"
	"github.com/lox/toninas/internal/game"
	"github.com/lox/toninas/internal/randutil"
	"github.com/lox/toninas/internal/server"
)

// ServeCmd runs the HTTP and websocket server.
type ServeCmd struct {
	Config    string `short:"c" default:"toninas.hcl" env:"TONINAS_CONFIG" help:"Path to HCL configuration file"`
	Addr      string `short:"a" env:"TONINAS_ADDR" help:"Address to bind, host:port (overrides config)"`
	Test      bool   `help:"Use simulated controllers instead of hardware"`
	Autostart bool   `help:"Start a game as soon as the server is up"`
	Seed      *int64 `help:"Deterministic RNG seed (optional)"`
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, err := config.Load(c.Config, newLogger(os.Stderr, g.LogLevel))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if c.Addr != "" {
		host, port, err := net.SplitHostPort(c.Addr)
		if err != nil {
			return fmt.Errorf("invalid --addr: %w", err)
		}
		if cfg.Server.Port, err = strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid --addr port %q", port)
		}
		cfg.Server.Address = host
	}
	if g.LogLevel != "" {
		cfg.Server.LogLevel = g.LogLevel
	}
	if c.Test {
		cfg.Game.Test = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(os.Stderr, cfg.Server.LogLevel)

	seed := randutil.Seed(c.Seed)
	logger.Info("Using seed", "seed", seed)

	opts := []server.ServiceOption{
		server.WithSessionOptions(game.WithRand(randutil.New(seed))),
	}
	switch len(cfg.Controllers) {
	case 0:
	case 2:
		devices, err := controller.DeviceFactory(cfg.Targets(), logger)
		if err != nil {
			return err
		}
		opts = append(opts, server.WithDevices(devices))
	default:
		// Validate only lets this through in test mode.
		logger.Warn("Ignoring partial controller configuration", "controllers", len(cfg.Controllers))
	}

	hub := server.NewHub(logger)
	games := server.NewGameService(cfg.GameConfig(), hub, logger, opts...)
	srv := server.NewServer(games, hub, logger)

	ctx := setupSignalHandler(logger)

	logger.Info("Starting toninas server",
		"addr", cfg.ListenAddress(),
		"test", cfg.Game.Test,
		"conn_qty", cfg.Game.ConnQty,
		"slot_qty", cfg.Game.SlotQty,
		"timeout", cfg.Game.Timeout)

	if c.Autostart {
		if _, err := games.StartGame(ctx, server.Overrides{}); err != nil {
			return fmt.Errorf("autostart: %w", err)
		}
	}

	return srv.ListenAndServe(ctx, cfg.ListenAddress())
}
