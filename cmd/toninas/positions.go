package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lox/toninas/internal/config"
	"github.com/lox/toninas/internal/controller"
	"github.com/lox/toninas/internal/fileutil"
	"github.com/lox/toninas/internal/game"
	"github.com/lox/toninas/internal/randutil"
)

// PositionsCmd prints allocations without touching hardware, for checking
// the board wiring against what a game would assign.
type PositionsCmd struct {
	Config string `short:"c" default:"toninas.hcl" env:"TONINAS_CONFIG" help:"Path to HCL configuration file"`
	Count  int    `short:"n" default:"1" help:"Number of allocations to print"`
	Seed   *int64 `help:"Deterministic RNG seed (optional)"`
	JSON   bool   `help:"Print one JSON object per allocation"`
	Out    string `short:"o" type:"path" help:"Also write all allocations to this file as a JSON array"`
}

type allocation struct {
	Sender   []int `json:"sender_pos"`
	Receiver []int `json:"receiver_pos"`
}

func (c *PositionsCmd) Run(g *Globals) error {
	logger := newLogger(os.Stderr, g.LogLevel)

	cfg, err := config.Load(c.Config, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	seed := randutil.Seed(c.Seed)
	session, err := game.NewSession(cfg.GameConfig(),
		game.WithLogger(logger),
		game.WithRand(randutil.New(seed)),
		game.WithControllers(controller.SimulatedFactory()),
	)
	if err != nil {
		return err
	}
	defer func() { _ = session.Close() }()

	logger.Debug("Allocating positions", "seed", seed, "count", c.Count)

	enc := json.NewEncoder(os.Stdout)
	all := make([]allocation, 0, max(c.Count, 0))
	for i := 0; i < c.Count; i++ {
		if err := session.Start(context.Background()); err != nil {
			return err
		}
		sender, receiver := session.Positions()
		all = append(all, allocation{Sender: sender, Receiver: receiver})

		if c.JSON {
			if err := enc.Encode(allocation{Sender: sender, Receiver: receiver}); err != nil {
				return err
			}
			continue
		}
		fmt.Printf("sender:   %v\nreceiver: %v\n", sender, receiver)
	}

	if c.Out != "" {
		if err := fileutil.WriteJSON(c.Out, all); err != nil {
			return err
		}
		logger.Info("Wrote allocations", "file", c.Out, "count", len(all))
	}
	return nil
}
