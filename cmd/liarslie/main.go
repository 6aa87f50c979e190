// Command liarslie runs an interactive session of the liars-lie game.
//
// The shell spawns a network of local agents that all hold the same value,
// except for a configurable share of liars, then lets the player query the
// network and infer the value by majority vote.
//
// # Commands
//
//	start <value> <max-value> <num-agents> <liar-ratio>
//	play
//	playexpert <num-agents> <liar-ratio>
//	extend <num-agents> <liar-ratio>
//	kill <agent-id>
//	stop
//	help
//	exit
//
// # Configuration File
//
// Create a YAML file with session settings:
//
//	bind_address: "127.0.0.1"
//	base_port: 5000
//	roster_path: "agents.config"
//	observer_addr: ""    # Observer API listen address, empty disables
//
// # Usage
//
//	go run ./cmd/liarslie
//	go run ./cmd/liarslie --config=liarslie.yaml --observer=127.0.0.1:8080
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joaotav/malicious-network-agents/api/httpserver"
	"github.com/joaotav/malicious-network-agents/game"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to YAML settings file")
		observerAddr = flag.String("observer", "", "Observer API listen address (overrides config)")
		verbose      = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	settings := game.DefaultSettings()
	if *configPath != "" {
		loaded, err := game.LoadSettings(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		settings = loaded
	}
	if *observerAddr != "" {
		settings.ObserverAddr = *observerAddr
	}

	// The shell owns stdout, so logs go to stderr and stay quiet unless
	// asked for.
	level := slog.LevelError
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	g, err := game.New(settings, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if settings.ObserverAddr != "" {
		srv, err := httpserver.New(&httpserver.HTTPServerConfig{
			ListenAddr:               settings.ObserverAddr,
			Log:                      log,
			GracefulShutdownDuration: 5 * time.Second,
			ReadTimeout:              10 * time.Second,
			WriteTimeout:             10 * time.Second,
		}, httpserver.NewGameHandler(g))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error starting observer: %v\n", err)
			os.Exit(1)
		}
		srv.RunInBackground()
		defer srv.Shutdown()
	}

	repl(g)

	// Leaving the shell tears down whatever game is still running.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	g.Stop(ctx)
}
