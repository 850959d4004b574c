// stepgame - two-player turn-based game server.
//
// Players connect over TLS, pick a name and are paired first come first
// served. The server relays moves, enforces turn order and declares the
// loser, then offers a rematch. A read-only HTTP API, a websocket spectator
// feed, an MQTT telemetry publisher and a sqlite match history hang off the
// event bus.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/stepgame/internal/api"
	"github.com/energizer-project/stepgame/internal/cli"
	"github.com/energizer-project/stepgame/internal/config"
	"github.com/energizer-project/stepgame/internal/connector"
	"github.com/energizer-project/stepgame/internal/db"
	"github.com/energizer-project/stepgame/internal/events"
	"github.com/energizer-project/stepgame/internal/health"
	"github.com/energizer-project/stepgame/internal/network"
	"github.com/energizer-project/stepgame/internal/scheduler"
	"github.com/energizer-project/stepgame/internal/server"
	"github.com/energizer-project/stepgame/internal/telemetry"
	"github.com/energizer-project/stepgame/internal/util"
)

const (
	AppName    = "stepgame"
	AppVersion = "1.0.0"
	Banner     = `
      _
  ___| |_ ___ _ __   __ _  __ _ _ __ ___   ___
 / __| __/ _ \ '_ \ / _' |/ _' | '_ ' _ \ / _ \
 \__ \ ||  __/ |_) | (_| | (_| | | | | | |  __/
 |___/\__\___| .__/ \__, |\__,_|_| |_| |_|\___|
             |_|    |___/   v%s
`
)

func main() {
	configPath := flag.String("config", "", "path to the JSON config file (default config/config.json)")
	noConsole := flag.Bool("no-console", false, "disable the interactive console")
	envHelp := flag.Bool("env-help", false, "print the supported environment overrides and exit")
	showVersion := flag.Bool("version", false, "print the version and exit")
	setup := flag.Bool("setup", false, "run the interactive setup wizard before starting")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", AppName, AppVersion)
		return
	}
	if *envHelp {
		help, err := config.EnvHelp()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to describe environment: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(help)
		return
	}

	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults first, reconfigured once the config is loaded
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting stepgame")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *setup {
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("setup failed")
		}
	}

	logCfg := util.DefaultLogConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Directory = cfg.Logging.Directory
	logCfg.MaxBackups = cfg.Logging.MaxBackups
	logCfg.Console = cfg.Logging.Console
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
		log.Fatal().Str("path", cfg.Path()).Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	var tlsCfg *tls.Config
	if cfg.TLS.Enabled {
		tlsCfg, err = util.LoadServerTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.GenerateSelfSigned, cfg.TLS.Hosts)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load TLS certificate")
		}
	} else {
		log.Warn().Msg("TLS is disabled, player traffic is sent in the clear")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	// Match history is an audit log only; the server never reads it back
	// to restore games.
	var (
		store   *db.MatchStore
		history api.HistorySource
	)
	if cfg.Storage.Enabled {
		store, err = db.NewMatchStore(cfg.Storage.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open match history, history disabled")
		} else {
			store.Attach(eventBus)
			history = store
		}
	}

	var mqttHandler *telemetry.MQTTHandler
	if mqttCfg := cfg.GetMQTT(); mqttCfg.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(mqttCfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	if webhookCfg := cfg.GetWebhook(); webhookCfg.Enabled {
		connector.NewWebhookNotifier(webhookCfg).Attach(eventBus)
	}

	dispatcher := server.NewDispatcher(server.Config{
		Rules:           cfg.GameRules(),
		MaxSessions:     cfg.Server.MaxConnections,
		MaxQueuedFrames: cfg.Server.MaxQueuedFrames,
	}, eventBus)

	netEvents := make(chan network.Event, cfg.Server.EventBuffer)
	listener := network.NewListener(network.ListenerConfig{
		Addr:             cfg.Server.ListenAddr,
		TLS:              tlsCfg,
		HandshakeTimeout: cfg.HandshakeTimeout(),
		IdleTimeout:      cfg.IdleTimeout(),
		SendBuffer:       cfg.Server.SendBuffer,
	}, netEvents)

	// A game port that cannot be bound is fatal.
	if err := listener.Listen(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start game listener")
	}

	var (
		apiServer  *api.Server
		spectators *api.SpectatorHub
	)
	if apiCfg := cfg.GetAPI(); apiCfg.Enabled {
		if apiCfg.Spectators {
			spectators = api.NewSpectatorHub()
			spectators.Attach(eventBus)
		}
		apiServer = api.NewServer(api.Options{
			Config:  apiCfg,
			Version: AppVersion,
			Debug:   cfg.Logging.Level == "debug",
		}, dispatcher, history, spectators)
	}

	healthMgr := health.NewManager(cfg.HeartbeatInterval(), cfg.Server.MaxQueuedFrames, dispatcher, eventBus)

	var (
		cliHistory cli.HistorySource
		pruner     scheduler.Pruner
	)
	if store != nil {
		cliHistory = store
		pruner = store
	}
	sched := scheduler.NewScheduler(cfg.GetStorage(), pruner)
	console := cli.NewCLI(dispatcher, cliHistory, eventBus, os.Stdout)

	shutdownCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main", func(_ context.Context, e events.Event) error {
		if e.Source == "cli" {
			select {
			case shutdownCh <- struct{}{}:
			default:
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Task 1: dispatcher, the single owner of all game state
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dispatcher.Run(ctx, netEvents); err != nil {
			errCh <- fmt.Errorf("dispatcher: %w", err)
		}
	}()

	// Task 2: game listener
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := listener.Serve(ctx); err != nil {
			errCh <- fmt.Errorf("game listener: %w", err)
		}
	}()

	// Task 3: monitoring API (non-fatal)
	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	// Task 4: heartbeat
	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	// Task 5: MQTT telemetry
	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Task 6: history retention
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	// Task 7: interactive console. It is not waited for because it may be
	// blocked reading stdin.
	if !*noConsole {
		go console.Start(ctx, os.Stdin)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		log.Info().Msg("shutdown requested from console")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	// Lets pending match_ended records reach the store before it closes.
	eventBus.Stop()

	if store != nil {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close match history")
		}
	}

	log.Info().Msg("stepgame stopped")
}

// startWithRetry retries startFn while the port is still held by a
// previous process.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
