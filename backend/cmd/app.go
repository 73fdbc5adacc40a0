package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/adwski/webrtc-meshrelay/backend/config"
	"github.com/adwski/webrtc-meshrelay/backend/keepalive"
	"github.com/adwski/webrtc-meshrelay/backend/ratelimit"
	"github.com/adwski/webrtc-meshrelay/backend/relay"
	httpServer "github.com/adwski/webrtc-meshrelay/backend/server/http"
	websocketServer "github.com/adwski/webrtc-meshrelay/backend/server/websocket"
	"github.com/adwski/webrtc-meshrelay/backend/storage/memory"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:          "meshrelay",
		Short:        "Signaling relay for mesh video calls",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.ApplyEnv(cmd.Flags(), nil); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			run(cmd.Context(), cfg)
			return nil
		},
	}
	cfg.Bind(cmd.Flags())
	cmd.AddCommand(newStatsCmd())
	return cmd
}

func run(parent context.Context, cfg *config.Config) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rl := relay.New(relay.Config{
		Logger: &logger,
		Directory: memory.NewDirectory(memory.Config{
			MaxParticipants: cfg.MaxParticipants,
			HistorySize:     cfg.HistorySize,
			PasswordCost:    cfg.PasswordCost,
		}),
		ZombieSweepInterval: cfg.ZombieSweepInterval,
		ZombieThreshold:     cfg.ZombieThreshold,
		RoomSweepInterval:   cfg.RoomSweepInterval,
	})

	var limiter websocketServer.JoinLimiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer func() {
			_ = rdb.Close()
		}()
		if err = rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis is unreachable, join attempts are not limited until it recovers")
		}
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			Logger: &logger,
			Redis:  rdb,
			Limit:  cfg.JoinLimit,
			Window: cfg.JoinWindow,
		})
	}

	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:      &logger,
		RoomService: rl,
		ListenAddr:  cfg.APIListenAddr,
	})
	trustedProxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse trusted proxies")
	}
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:        &logger,
		Relay:         rl,
		Limiter:       limiter,
		ListenAddr:    cfg.WSListenAddr,
		PingInterval:  cfg.PingInterval,
		PongWait:      cfg.PongWait,
		SendQueueSize: cfg.SendQueueSize,

		TrustedProxies: trustedProxies,
	})

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(3)
	go rl.Run(ctx, wg)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	if cfg.KeepAliveURL != "" {
		wg.Add(1)
		go keepalive.New(keepalive.Config{
			Logger:   &logger,
			URL:      cfg.KeepAliveURL,
			Interval: cfg.KeepAliveInterval,
		}).Run(ctx, wg)
	}

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
