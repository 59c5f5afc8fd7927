// Command platformer is the operator-facing entrypoint: it runs either
// the authoritative server or a headless predictive client, wired to
// internal/server and internal/client respectively. Grounded on
// core/main.go's banner/config/signal-handling shape, extended with the
// flag-based subcommand parsing ChickenIQ-VibeShitCraft/cmd/server/
// main.go uses and an operator stdin console replacing the teacher's
// fixed-in-code configuration with live reload/pause/status commands.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"platformer-go/internal/client"
	"platformer-go/internal/server"
	"platformer-go/internal/wire"
	"platformer-go/pkg/logger"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "server":
		runServer(os.Args[2:])
	case "client":
		runClient(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: platformer server -level <path> [-addr host:port] [-script path] [-tick rate]")
	fmt.Fprintln(os.Stderr, "       platformer client -addr host:port [-name player] [-tick rate]")
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	addr := fs.String("addr", "0.0.0.0:7777", "address to listen on")
	levelPath := fs.String("level", "", "path to a level JSON file (required)")
	scriptPath := fs.String("script", "", "optional path to a client script file")
	tickRate := fs.Float64("tick", 20, "ticks per second")
	fs.Parse(args)

	if *levelPath == "" {
		logger.Fatal("server: -level is required")
	}

	logger.Banner("Platformer Server", version)
	s, err := server.New(server.Config{
		ListenAddr: *addr,
		LevelPath:  *levelPath,
		ScriptPath: *scriptPath,
		TickRate:   *tickRate,
	})
	if err != nil {
		logger.Fatal("server: %v", err)
	}
	logger.Success("listening on %s (tick rate %.0f/s, level %s)", s.Addr(), *tickRate, *levelPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	go runOperatorConsole(s, cancel)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-runErr:
		if err != nil && err != context.Canceled {
			logger.Error("server: run loop exited: %v", err)
		}
	case sig := <-sigCh:
		logger.Warn("received signal %v, shutting down", sig)
		cancel()
		<-runErr
	}
	logger.Success("server stopped")
}

// runOperatorConsole reads single-letter commands from stdin for the
// lifetime of the server, mirroring core/main.go's graceful-shutdown
// select loop but adding the live level/pause/status controls
// internal/server.Server exposes: r reloads the current level file, l
// <path> loads a different one, p toggles pause, s prints Status, and q
// requests shutdown via cancel.
func runOperatorConsole(s *server.Server, cancel context.CancelFunc) {
	logger.Info("operator commands: r (reload) | l <path> (load level) | p (pause) | s (status) | q (quit)")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "r":
			if err := s.ReloadCurrent(); err != nil {
				logger.Error("reload: %v", err)
			} else {
				logger.Success("level reloaded")
			}
		case "l":
			if len(fields) < 2 {
				logger.Warn("usage: l <path>")
				continue
			}
			if err := s.ReloadLevel(fields[1]); err != nil {
				logger.Error("load %s: %v", fields[1], err)
			} else {
				logger.Success("loaded %s", fields[1])
			}
		case "p":
			logger.Info("paused = %v", s.Pause())
		case "s":
			logger.Info("%s", s.Status())
		case "q":
			cancel()
			return
		default:
			logger.Warn("unknown command %q", fields[0])
		}
	}
}

// runClient drives a headless internal/client.Client: it has no Renderer
// attached and no real input device, so it serves as an operator probe
// and as a worked example of wiring the package's public API (an actual
// platform-specific rendering/input front end is out of scope here).
func runClient(args []string) {
	fs := flag.NewFlagSet("client", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:7777", "server address to connect to")
	name := fs.String("name", "player", "player name")
	tickRate := fs.Float64("tick", 20, "ticks per second")
	fs.Parse(args)

	logger.Banner("Platformer Client", version)
	players := []wire.PlayerInit{{Name: *name, Colour: [3]byte{200, 200, 200}}}
	c, err := client.Dial(*addr, players, *tickRate)
	if err != nil {
		logger.Fatal("client: %v", err)
	}
	defer c.Close()
	logger.Success("connected to %s as %q", *addr, *name)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	interval := time.Duration(float64(time.Second) / *tickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			logger.Warn("received signal %v, disconnecting", sig)
			return
		case now := <-ticker.C:
			if err := c.Tick(now); err != nil {
				logger.Warn("disconnected: %v (%s)", err, c.DisconnectReason())
				return
			}
		}
	}
}
