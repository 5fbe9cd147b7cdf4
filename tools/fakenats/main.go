// Package main runs the fake bus server standalone for local development
// and client testing. Settings come from an optional YAML or TOML file;
// flags given on the command line override the file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Thejuampi/nats-client-go/internal/config"
	"github.com/Thejuampi/nats-client-go/internal/fakenats"
	"github.com/Thejuampi/nats-client-go/internal/logger"
)

var (
	flagConfig     = flag.String("config", "", "YAML or TOML config file")
	flagAddr       = flag.String("addr", "127.0.0.1:4222", "TCP listen address")
	flagWebsocket  = flag.String("ws", "", "websocket listen address (disabled when empty)")
	flagMaxPayload = flag.Int("max-payload", 1<<20, "largest accepted PUB payload in bytes")
	flagUser       = flag.String("user", "", "require this user in CONNECT")
	flagPass       = flag.String("pass", "", "require this password in CONNECT")
	flagTrace      = flag.Bool("trace", false, "record client control lines")
	flagLogLevel   = flag.String("log-level", "info", "debug, info, warn or error")
)

func flagSetByUser(flagSet *flag.FlagSet, name string) bool {
	if flagSet == nil {
		return false
	}

	var found bool
	flagSet.Visit(func(current *flag.Flag) {
		if current != nil && current.Name == name {
			found = true
		}
	})
	return found
}

// resolveSettings starts from the config file, or the defaults without one,
// and applies every flag the user set explicitly.
func resolveSettings(flagSet *flag.FlagSet) (*config.Config, error) {
	cfg := config.Default()
	if *flagConfig != "" {
		loaded, err := config.Load(*flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if flagSetByUser(flagSet, "addr") || *flagConfig == "" {
		cfg.Server.Addr = *flagAddr
	}
	if flagSetByUser(flagSet, "ws") {
		cfg.Server.WebsocketAddr = *flagWebsocket
	}
	if flagSetByUser(flagSet, "max-payload") {
		cfg.Server.MaxPayload = *flagMaxPayload
	}
	if flagSetByUser(flagSet, "user") {
		cfg.Server.User = *flagUser
	}
	if flagSetByUser(flagSet, "pass") {
		cfg.Server.Pass = *flagPass
	}
	if flagSetByUser(flagSet, "trace") {
		cfg.Server.Trace = *flagTrace
	}
	if flagSetByUser(flagSet, "log-level") || *flagConfig == "" {
		cfg.Logging.Level = *flagLogLevel
	}
	return cfg, cfg.Validate()
}

func serverOptions(cfg *config.Config, log *slog.Logger) fakenats.Options {
	return fakenats.Options{
		Addr:          cfg.Server.Addr,
		WebsocketAddr: cfg.Server.WebsocketAddr,
		MaxPayload:    cfg.Server.MaxPayload,
		User:          cfg.Server.User,
		Pass:          cfg.Server.Pass,
		Trace:         cfg.Server.Trace,
		Logger:        log,
	}
}

func main() {
	flag.Parse()

	cfg, err := resolveSettings(flag.CommandLine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fakenats: %v\n", err)
		os.Exit(2)
	}
	level, _ := logger.ParseLevel(cfg.Logging.Level)
	log := logger.New(level, os.Stderr)
	slog.SetDefault(log)

	server := fakenats.New(serverOptions(cfg, log))
	if err := server.Start(); err != nil {
		log.Error("start failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down", "stats", server.Stats())
	if err := server.Close(); err != nil {
		log.Error("close failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fakenats: in-process bus server for client testing\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}
