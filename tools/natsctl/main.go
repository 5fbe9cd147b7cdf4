// Package main implements natsctl, a command-line client for the bus:
//
//	natsctl [global flags] pub <subject> <payload>
//	natsctl [global flags] sub <subject>
//	natsctl [global flags] req <subject> <payload>
//	natsctl [global flags] bench <subject>
//
// Global flags may also come from a YAML or TOML file passed with -config.
// With -metrics-addr the client's Prometheus series are served over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thejuampi/nats-client-go/internal/config"
	"github.com/Thejuampi/nats-client-go/internal/logger"
	"github.com/Thejuampi/nats-client-go/nats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

type command func(ctx context.Context, env *environment, args []string) error

var commands = map[string]command{
	"pub":   runPublish,
	"sub":   runSubscribe,
	"req":   runRequest,
	"bench": runBench,
}

// environment carries what every subcommand needs.
type environment struct {
	cfg      *config.Config
	timeout  time.Duration
	stdout   io.Writer
	log      *slog.Logger
	registry *prometheus.Registry
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "natsctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer) error {
	flagSet := flag.NewFlagSet("natsctl", flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	configPath := flagSet.String("config", "", "YAML or TOML config file")
	uri := flagSet.String("uri", "", "server URI (nats://, tls://, ws://, wss://)")
	name := flagSet.String("name", "natsctl", "client name sent in CONNECT")
	logLevel := flagSet.String("log-level", "", "debug, info, warn or error")
	metricsAddr := flagSet.String("metrics-addr", "", "serve Prometheus metrics on this address")
	timeout := flagSet.Duration("timeout", 5*time.Second, "request and flush timeout")
	pedantic := flagSet.Bool("pedantic", false, "ask the server for strict checking")
	flagSet.Usage = func() {
		fmt.Fprintf(stderr, "Usage: natsctl [flags] pub|sub|req|bench <subject> [payload]\n\n")
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *uri != "" {
		cfg.Client.URI = *uri
	}
	if cfg.Client.Name == "" || *name != "natsctl" {
		cfg.Client.Name = *name
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *pedantic {
		cfg.Client.Pedantic = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if flagSet.NArg() == 0 {
		flagSet.Usage()
		return errors.New("missing command")
	}
	selected, exists := commands[flagSet.Arg(0)]
	if !exists {
		return fmt.Errorf("unknown command %q", flagSet.Arg(0))
	}

	level, _ := logger.ParseLevel(cfg.Logging.Level)
	env := &environment{
		cfg:      cfg,
		timeout:  *timeout,
		stdout:   stdout,
		log:      logger.New(level, stderr),
		registry: prometheus.NewRegistry(),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, groupCtx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		serveMetrics(groupCtx, group, env)
	}
	group.Go(func() error {
		defer cancel()
		return selected(groupCtx, env, flagSet.Args()[1:])
	})
	return group.Wait()
}

func serveMetrics(ctx context.Context, group *errgroup.Group, env *environment) {
	mux := http.NewServeMux()
	mux.Handle(env.cfg.Metrics.Path, promhttp.HandlerFor(env.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: env.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	group.Go(func() error {
		env.log.Info("serving metrics", "addr", env.cfg.Metrics.Addr, "path", env.cfg.Metrics.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}

// connect starts a client from the resolved configuration. Asynchronous
// errors are logged and, when errs is non-nil, forwarded to it.
func (env *environment) connect(name string, errs chan<- error) (*nats.Client, error) {
	settings := env.cfg.Client
	client := nats.NewClient(name).
		SetLogger(env.log).
		SetVerbose(settings.Verbose).
		SetPedantic(settings.Pedantic).
		SetReconnectAttempts(settings.ReconnectAttempts).
		SetReconnectTime(settings.ReconnectTime).
		SetConnectTimeout(settings.ConnectTimeout).
		SetMetrics(env.registry).
		SetErrorHandler(func(err error) {
			if errs == nil {
				return
			}
			select {
			case errs <- err:
			default:
			}
		})
	if settings.Dispatch == "concurrent" {
		client.SetDispatchMode(nats.DispatchConcurrent)
	}

	if err := client.Start(settings.URI); err != nil {
		return nil, err
	}
	return client, nil
}

func (env *environment) flush(ctx context.Context, client *nats.Client) error {
	ctx, cancel := context.WithTimeout(ctx, env.timeout)
	defer cancel()
	return client.Flush(ctx)
}

func expectArgs(args []string, count int, usage string) error {
	if len(args) < count {
		return fmt.Errorf("usage: natsctl %s", usage)
	}
	return nil
}
