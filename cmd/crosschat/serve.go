package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/crosschat/internal/bridge"
	"github.com/memohai/crosschat/internal/channel"
	"github.com/memohai/crosschat/internal/channel/adapters/discord"
	"github.com/memohai/crosschat/internal/channel/adapters/telegram"
	"github.com/memohai/crosschat/internal/config"
	"github.com/memohai/crosschat/internal/correlation"
	"github.com/memohai/crosschat/internal/db"
	"github.com/memohai/crosschat/internal/dispatch"
	"github.com/memohai/crosschat/internal/handlers"
	"github.com/memohai/crosschat/internal/healthcheck"
	"github.com/memohai/crosschat/internal/logger"
	"github.com/memohai/crosschat/internal/server"
)

const storeOpenTimeout = 30 * time.Second

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			app := newApp(cfg)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func newApp(cfg config.Config) *fx.App {
	return fx.New(
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideStore,
			provideDispatchLoop,
			provideTelegramAdapter,
			provideDiscordAdapter,
			provideDiscordClient,
			provideBridge,
			provideSeenSet,
			provideChannelManager,
			provideHealthMonitor,
			handlers.NewPingHandler,
			provideStatusHandler,
			provideLinksHandler,
			provideServer,
		),
		fx.Invoke(
			startChannelManager,
			startHealthMonitor,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideStore(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (correlation.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpenTimeout)
	defer cancel()
	store, err := db.Open(ctx, log, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return store.Close(ctx) }})
	return store, nil
}

func provideDispatchLoop(log *slog.Logger, cfg config.Config) *dispatch.Loop {
	return dispatch.New(log, "discord", dispatch.WithTimeout(cfg.Bridge.DispatchTimeoutDuration()))
}

func provideTelegramAdapter(log *slog.Logger, cfg config.Config) *telegram.TelegramAdapter {
	return telegram.NewTelegramAdapter(log, cfg.Telegram)
}

func provideDiscordAdapter(log *slog.Logger, cfg config.Config, loop *dispatch.Loop) *discord.DiscordAdapter {
	return discord.NewDiscordAdapter(log, cfg.Discord, loop)
}

// provideDiscordClient picks the client used for Telegram-originated Discord calls. The
// stateless REST client runs on the caller's goroutine; otherwise calls are dispatched onto
// the gateway loop.
func provideDiscordClient(log *slog.Logger, cfg config.Config, adapter *discord.DiscordAdapter, loop *dispatch.Loop) (bridge.DiscordClient, error) {
	if cfg.Discord.RestBotToken != "" {
		client, err := discord.NewRESTClient(log, cfg.Discord.RestBotToken)
		if err != nil {
			return nil, err
		}
		log.Info("discord rest client enabled")
		return client, nil
	}
	client, err := adapter.Client()
	if err != nil {
		return nil, err
	}
	return discord.NewDispatchedClient(loop, client), nil
}

func provideBridge(log *slog.Logger, cfg config.Config, store correlation.Store, tg *telegram.TelegramAdapter, dc bridge.DiscordClient, loop *dispatch.Loop) *bridge.Bridge {
	return bridge.New(log, store, tg, dc, loop, bridge.Options{
		TopicLabelPrefix: cfg.Bridge.TopicLabelPrefix,
		Operators:        cfg.Telegram.Operators,
	})
}

func provideSeenSet() *channel.SeenSet {
	return channel.NewSeenSet(channel.DefaultDedupTTL)
}

func provideChannelManager(log *slog.Logger, tg *telegram.TelegramAdapter, dc *discord.DiscordAdapter, b *bridge.Bridge, seen *channel.SeenSet) *channel.Manager {
	registry := channel.NewRegistry()
	registry.MustRegister(tg)
	registry.MustRegister(dc)
	mgr := channel.NewManager(log, registry)
	mgr.Use(channel.DedupMiddleware(log, seen))
	mgr.Handle(channel.Discord, b.HandleDiscordEvent)
	mgr.Handle(channel.Telegram, b.HandleTelegramEvent)
	return mgr
}

func provideHealthMonitor(log *slog.Logger, cfg config.Config, store correlation.Store, loop *dispatch.Loop, mgr *channel.Manager, seen *channel.SeenSet) (*healthcheck.Monitor, error) {
	checkers := []healthcheck.Checker{
		healthcheck.StoreChecker(store),
		healthcheck.LoopChecker(loop),
		healthcheck.ConnectionChecker(mgr),
	}
	return healthcheck.NewMonitor(log, cfg.Bridge.HealthIntervalDuration(), checkers, []healthcheck.Pruner{seen})
}

func provideStatusHandler(log *slog.Logger, b *bridge.Bridge, mgr *channel.Manager, monitor *healthcheck.Monitor) *handlers.StatusHandler {
	return handlers.NewStatusHandler(log, b, mgr, monitor)
}

func provideLinksHandler(log *slog.Logger, b *bridge.Bridge) *handlers.LinksHandler {
	return handlers.NewLinksHandler(log, b)
}

func provideServer(log *slog.Logger, cfg config.Config, ping *handlers.PingHandler, status *handlers.StatusHandler, links *handlers.LinksHandler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, cfg.Server.JWTSecret, ping, status, links)
}

// startChannelManager connects both platforms. Connections outlive OnStart, so they get a
// context cancelled only on stop.
func startChannelManager(lc fx.Lifecycle, mgr *channel.Manager) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := mgr.Start(ctx); err != nil {
				cancel()
				return err
			}
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			mgr.Stop(stopCtx)
			cancel()
			return nil
		},
	})
}

func startHealthMonitor(lc fx.Lifecycle, monitor *healthcheck.Monitor) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			monitor.RunOnce(ctx)
			monitor.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			monitor.Stop(ctx)
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, srv *server.Server, shutdowner fx.Shutdowner) {
	if !cfg.Server.Enabled() {
		log.Info("admin api disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
