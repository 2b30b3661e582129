// syncprobe connects the full realtime sync core to a live server and logs
// connection status, presence changes, and bridge actions to the console.
// Usage: go run ./cmd/syncprobe --config configs/syncprobe.example.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/peertrade/realtime/internal/api"
	"github.com/peertrade/realtime/internal/bridge"
	"github.com/peertrade/realtime/internal/config"
	"github.com/peertrade/realtime/internal/connection"
	"github.com/peertrade/realtime/internal/events"
	"github.com/peertrade/realtime/internal/journal"
	"github.com/peertrade/realtime/internal/model"
	"github.com/peertrade/realtime/internal/presence"
	"github.com/peertrade/realtime/internal/rooms"
	"github.com/peertrade/realtime/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/syncprobe.example.yaml", "path to config file")
	watchConfig := flag.Bool("watch-config", false, "reconnect when the config file changes")
	verbose := flag.Bool("verbose", false, "debug-level logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("syncprobe", version.String())
		return
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	registry := events.NewRegistry(logger)

	tokens := connection.TokenSourceFunc(func() (string, bool) {
		return cfg.Client.Token, cfg.Client.Token != ""
	})

	manager := connection.NewManager(connection.ManagerConfig{
		URL:             cfg.Server.WSURL,
		ReconnectBase:   cfg.Connection.ReconnectBase,
		ReconnectGrowth: cfg.Connection.ReconnectGrowth,
		ReconnectMax:    cfg.Connection.ReconnectMax,
		MaxAttempts:     cfg.Connection.MaxAttempts,
		DisconnectGrace: cfg.Connection.DisconnectGrace,
		PingTimeout:     cfg.Connection.PingTimeout,
		WriteTimeout:    cfg.Connection.WriteTimeout,
		BufferSize:      cfg.Connection.BufferSize,
	}, tokens, registry, logger)

	statusClient := api.NewClient(cfg.Server.StatusURL, cfg.Client.Token,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Server.Timeout),
		api.WithRetries(cfg.Presence.FetchRetries, cfg.Presence.FetchBackoffBase, cfg.Presence.FetchBackoffMax),
	)

	tracker := presence.NewTracker(presence.Config{
		SelfID:            cfg.Client.SelfID,
		CacheTTL:          cfg.Presence.CacheTTL,
		HeartbeatInterval: cfg.Presence.HeartbeatInterval,
		PollInterval:      cfg.Presence.PollInterval,
		FetchTimeout:      cfg.Presence.FetchTimeout,
		RefreshPerSecond:  cfg.Presence.RefreshPerSecond,
		RefreshBurst:      cfg.Presence.RefreshBurst,
	}, statusClient, manager, registry, logger)

	sink := bridge.StateSinkFunc(func(a model.Action) {
		logger.Info("state action", "kind", a.Kind, "payload", string(a.Payload))
	})
	stateBridge := bridge.NewBridge(bridge.Config{
		RefreshDebounce: cfg.Bridge.RefreshDebounce,
	}, manager, registry, sink, logger)

	roomMgr := rooms.NewManager(rooms.Config{
		CloseGrace: cfg.Rooms.CloseGrace,
	}, manager, registry, logger)

	var journalWriter *journal.Writer
	if cfg.Journal.Enabled {
		pool, err := journal.Connect(ctx, cfg.Journal.Database)
		if err != nil {
			logger.Error("failed to connect journal database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		journalWriter = journal.NewWriter(journal.Config{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, pool, registry, logger)
	}

	registry.On(model.EventConnectionStatus, func(payload json.RawMessage) {
		logger.Info("connection status", "payload", string(payload))
	})

	// Start components; the manager last so subscribers observe the first
	// connection_status event.
	var g errgroup.Group
	g.Go(func() error { return stateBridge.Start(ctx) })
	g.Go(func() error { return roomMgr.Start(ctx) })
	g.Go(func() error { return tracker.Start(ctx) })
	if journalWriter != nil {
		g.Go(func() error { return journalWriter.Start(ctx) })
	}
	if err := g.Wait(); err != nil {
		logger.Error("failed to start components", "error", err)
		os.Exit(1)
	}
	if err := manager.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}

	if *watchConfig {
		go func() {
			err := config.Watch(ctx, *configPath, logger, func(next *config.SyncConfig) {
				// Structural settings need a fresh connection.
				if next.Server.WSURL != cfg.Server.WSURL {
					logger.Info("ws url changed, reconnecting")
					manager.Reconnect()
				}
			})
			if err != nil {
				logger.Warn("config watch failed", "error", err)
			}
		}()
	}

	logger.Info("syncprobe running",
		"version", version.String(),
		"self", cfg.Client.SelfID,
		"ws_url", cfg.Server.WSURL,
	)

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	manager.Stop(shutdownCtx)
	tracker.Stop(shutdownCtx)
	stateBridge.Stop(shutdownCtx)
	roomMgr.Stop(shutdownCtx)
	if journalWriter != nil {
		journalWriter.Stop(shutdownCtx)
	}

	logger.Info("syncprobe exited",
		"received", manager.Stats().Received,
		"dispatched", registry.Stats().Dispatched,
	)
}
