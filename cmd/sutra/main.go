// Command sutra corrects Sanskrit and IAST terminology in subtitle text.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/MrWong99/sutra/internal/config"
)

const version = "0.1.0"

// Globals are the flags shared by every command.
type Globals struct {
	Config   string `short:"c" help:"Path to the YAML configuration file." default:"sutra.yaml" type:"path"`
	LogLevel string `name:"log-level" help:"Override the configured log level (debug, info, warn, error)."`
}

// CLI defines the command-line interface for sutra.
type CLI struct {
	Globals `embed:""`

	Process ProcessCmd `cmd:"" help:"Correct subtitle segments, one per line."`
	Serve   ServeCmd   `cmd:"" help:"Serve the correction API over HTTP."`
	Import  ImportCmd  `cmd:"" help:"Upsert the flat-file term tables into the configured store."`
	Check   CheckCmd   `cmd:"" help:"Load the term tables and report skipped records."`
	Version VersionCmd `cmd:"" help:"Print version information."`
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("sutra", version)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("sutra"),
		kong.Description("Sanskrit/IAST term correction for subtitles."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	err := ctx.Run(&cli.Globals)
	ctx.FatalIfErrorf(err)
}

// loadConfig loads the config file and installs the default logger. The
// returned level var lets long-running commands change verbosity on reload.
func (g *Globals) loadConfig() (*config.Config, *slog.LevelVar, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("config file %q not found, pass --config", g.Config)
		}
		return nil, nil, err
	}
	if g.LogLevel != "" {
		lv := config.LogLevel(g.LogLevel)
		if !lv.IsValid() {
			return nil, nil, fmt.Errorf("invalid --log-level %q", g.LogLevel)
		}
		cfg.LogLevel = lv
	}
	lvl := new(slog.LevelVar)
	lvl.Set(cfg.LogLevel.SlogLevel())
	slog.SetDefault(newLogger(lvl))
	return cfg, lvl, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
