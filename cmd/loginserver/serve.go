package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/energizer-project/loginserver/internal/api"
	"github.com/energizer-project/loginserver/internal/cli"
	"github.com/energizer-project/loginserver/internal/config"
	"github.com/energizer-project/loginserver/internal/db"
	"github.com/energizer-project/loginserver/internal/dump"
	"github.com/energizer-project/loginserver/internal/events"
	"github.com/energizer-project/loginserver/internal/health"
	"github.com/energizer-project/loginserver/internal/login"
	"github.com/energizer-project/loginserver/internal/metrics"
	"github.com/energizer-project/loginserver/internal/network"
	"github.com/energizer-project/loginserver/internal/protocol"
	"github.com/energizer-project/loginserver/internal/scheduler"
	"github.com/energizer-project/loginserver/internal/telemetry"
	"github.com/energizer-project/loginserver/internal/util"
)

func serveCmd(configDir *string) *cobra.Command {
	var noConsole bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the login server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configDir, !noConsole)
		},
	}

	cmd.Flags().BoolVar(&noConsole, "no-console", false, "Disable the interactive console on stdin")

	return cmd
}

func serve(configDir string, console bool) error {
	fmt.Printf(banner, version)
	fmt.Println()

	// Defaults until the config file is read.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info().
		Str("version", version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting login server")

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logCfg := util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return errors.New("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	widths, err := fieldWidths(cfg)
	if err != nil {
		return err
	}
	codec := protocol.NewEnumBlockCodec(widths)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	collector := metrics.New()
	queue := events.NewQueue(cfg.Listener.EventQueueSize)
	eventBus := events.NewEventBus()
	registry := network.NewConnectionRegistry()

	// Session history is optional: the server keeps running without it.
	store, err := db.NewSessionStore(cfg.Database.Path)
	if err != nil {
		log.Warn().Err(err).Msg("session history disabled")
	} else {
		defer store.Close()
		if n, err := store.CloseDangling(ctx, time.Now()); err != nil {
			log.Warn().Err(err).Msg("failed to close sessions left open by a previous run")
		} else if n > 0 {
			log.Info().Int64("sessions", n).Msg("closed sessions left open by a previous run")
		}
	}

	hubOpts := []login.HubOption{login.WithEventBus(eventBus), login.WithMetrics(collector)}
	if store != nil {
		hubOpts = append(hubOpts, login.WithSessions(store))
	}
	hub := login.NewHub(queue, registry, codec, func() login.Greeting {
		info := cfg.GetServerInfo()
		return login.Greeting{
			FirstID:     info.FirstID,
			SecondID:    info.SecondID,
			Description: info.Description,
			MOTD:        info.MOTD,
		}
	}, hubOpts...)

	listenerOpts := []network.ListenerOption{network.WithMetrics(collector)}
	var dumpQueue *dump.Queue
	if cfg.Dump.Enabled {
		dumpQueue = dump.NewQueue(cfg.Dump.QueueSize)
		listenerOpts = append(listenerOpts, network.WithDump(func(id uint32) protocol.DumpSink {
			return dumpQueue.ForClient(id)
		}))
	}
	tcpListener := network.NewTCPListener(cfg, codec, queue, registry, listenerOpts...)

	deps := api.Deps{Clients: hub, Metrics: collector, Version: version}
	healthOpts := []health.Option{health.WithMetrics(collector)}
	var (
		pruner  scheduler.SessionPruner
		history cli.Sessions
	)
	if store != nil {
		deps.Sessions = store
		pruner = store
		history = store
	}
	if dumpQueue != nil {
		deps.Dump = dumpQueue
		healthOpts = append(healthOpts, health.WithDump(dumpQueue))
	}

	apiServer := api.NewServer(cfg, deps)
	healthMgr := health.NewManager(cfg, eventBus, queue, hub, healthOpts...)
	sched := scheduler.NewScheduler(cfg, pruner)

	var mqttHandler *telemetry.MQTTHandler
	if cfg.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus, version)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	// The hub outlives the listener so readers can still deliver their
	// Disconnected events while connections are being closed.
	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan error, 1)
	go func() {
		hubDone <- hub.Run(hubCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr()).Msg("starting client listener")
		if err := startWithRetry(gctx, "client listener", tcpListener.Start, 5); err != nil {
			return fmt.Errorf("client listener: %w", err)
		}
		return nil
	})

	if cfg.API.Enabled {
		g.Go(func() error {
			log.Info().Int("port", cfg.API.Port).Msg("starting REST API server")
			if err := startWithRetry(gctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
			return nil
		})
	}

	if dumpQueue != nil {
		writer := dump.NewWriter(dumpQueue, cfg.Dump.Directory, cfg.Dump.KeepFiles)
		g.Go(func() error {
			if err := writer.Run(gctx); err != nil {
				log.Warn().Err(err).Msg("packet dump writer failed (non-fatal)")
			}
			return nil
		})
	}

	if mqttHandler != nil {
		g.Go(func() error {
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(gctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
			return nil
		})
	}

	g.Go(func() error {
		healthMgr.Start(gctx)
		return nil
	})

	g.Go(func() error {
		sched.Start(gctx)
		return nil
	})

	if console {
		cliHandler := cli.NewCLI(cfg, hub, history, cancel, os.Stdin, os.Stdout)
		g.Go(func() error {
			cliHandler.Start(gctx)
			return nil
		})
	}

	<-gctx.Done()
	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	var runErr error
	select {
	case runErr = <-done:
		log.Info().Msg("all tasks stopped")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds")
	}

	stopHub()
	<-hubDone
	queue.Close()
	eventBus.Stop()

	if runErr != nil {
		log.Error().Err(runErr).Msg("login server stopped with error")
		return runErr
	}
	log.Info().Msg("login server stopped")
	return nil
}

// fieldWidths merges the built-in login field widths with the configured overrides.
func fieldWidths(cfg *config.Config) (map[uint16]protocol.FieldWidth, error) {
	overrides, err := cfg.ParsedFieldWidths()
	if err != nil {
		return nil, fmt.Errorf("protocol.field_widths: %w", err)
	}

	widths := login.FieldWidths()
	for id, w := range overrides {
		widths[id] = protocol.FieldWidth(w)
	}
	return widths, nil
}

// startWithRetry retries startFn on failure, typically a bind error left
// by a previous process still releasing its port.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
