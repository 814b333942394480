package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// version is set by ldflags during build
var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	LogLevel string `short:"l" env:"TONINAS_LOG_LEVEL" help:"Log level (debug, info, warn, error); overrides the config file"`
}

type CLI struct {
	Globals

	Version   kong.VersionFlag `short:"v" help:"Show version"`
	Serve     ServeCmd         `cmd:"" help:"Run the game server"`
	Watch     WatchCmd         `cmd:"" help:"Watch a running game in the terminal"`
	Positions PositionsCmd     `cmd:"" help:"Print slot allocations for wiring checks"`
}

func main() {
	// Environment first so kong's env tags can see .env values.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error loading .env: %v\n", err)
		os.Exit(1)
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("toninas"),
		kong.Description("Coordinator for the toninas cable-matching game"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}
