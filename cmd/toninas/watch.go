package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/lox/toninas/internal/client"
	"github.com/lox/toninas/internal/server"
	"github.com/lox/toninas/internal/tui"
)

// WatchCmd shows a running game in the terminal.
type WatchCmd struct {
	URL     string `short:"u" default:"http://localhost:8080" env:"TONINAS_URL" help:"Server URL"`
	Start   bool   `help:"Start a new game once connected"`
	NoColor bool   `help:"Disable colors"`
	LogFile string `help:"Write logs to this file (the screen belongs to the UI)"`
}

func (c *WatchCmd) Run(g *Globals) error {
	var out io.Writer = io.Discard
	if c.LogFile != "" {
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		out = f
	}
	logger := newLogger(out, g.LogLevel)

	if c.NoColor || os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cl := client.NewClient(c.URL, logger)
	if err := cl.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = cl.Close() }()

	if c.Start {
		if err := cl.StartGame(server.Overrides{}); err != nil {
			return err
		}
	}

	p := tea.NewProgram(tui.NewModel(cl, logger), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
