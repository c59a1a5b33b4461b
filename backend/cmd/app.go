package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/adwski/call-signaling/backend/auth"
	"github.com/adwski/call-signaling/backend/fallback"
	"github.com/adwski/call-signaling/backend/metrics"
	"github.com/adwski/call-signaling/backend/presence"
	"github.com/adwski/call-signaling/backend/push"
	"github.com/adwski/call-signaling/backend/router"
	"github.com/adwski/call-signaling/backend/scheduler"
	httpServer "github.com/adwski/call-signaling/backend/server/http"
	websocketServer "github.com/adwski/call-signaling/backend/server/websocket"
	"github.com/adwski/call-signaling/backend/service"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		apiListenAddr = fs.StringP("api-listen-addr", "a", ":8080", "api listen address")
		wsListenAddr  = fs.StringP("ws-listen-addr", "w", ":8888", "websocket signaling listen address")
		logLevel      = fs.StringP("log-level", "l", "debug", "log level")
		jwtSecret     = fs.String("jwt-secret", "", "HMAC secret for connection auth tokens")
		ringTimeout   = fs.Duration("ring-timeout", fallback.DefaultRingTimeout, "offline invite ring timeout")
		pushURL       = fs.String("push-url", "", "push collaborator webhook url (push disabled when empty)")
		redisAddr     = fs.String("redis-addr", "", "redis address for the push address book (in-memory when empty)")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	if *jwtSecret == "" {
		logger.Fatal().Msg("jwt-secret is required")
	}

	var sender push.Sender = push.NopSender{}
	if *pushURL != "" {
		sender = push.NewWebhookSender(&logger, *pushURL)
	}
	var book push.AddressBook = push.NewMemoryBook()
	if *redisAddr != "" {
		book = push.NewRedisBook(redis.NewClient(&redis.Options{Addr: *redisAddr}))
	}

	mtr := metrics.New()
	reg := presence.NewRegistry(&logger)
	disp := fallback.New(fallback.Config{
		Logger:      &logger,
		Scheduler:   scheduler.New(&logger),
		Sender:      sender,
		AddressBook: book,
		Metrics:     mtr,
		RingTimeout: *ringTimeout,
	})
	svc := service.New(service.Config{
		Logger:   &logger,
		Presence: reg,
		Router:   router.New(&logger, reg, disp),
		Fallback: disp,
		Metrics:  mtr,
	})

	httpSrv := httpServer.NewServer(httpServer.Config{
		Logger:         &logger,
		CallService:    svc,
		MetricsHandler: mtr.Handler(),
		ListenAddr:     *apiListenAddr,
	})
	wsSrv := websocketServer.NewServer(websocketServer.Config{
		Logger:           &logger,
		SignalingService: svc,
		Authenticator:    auth.New(*jwtSecret),
		ListenAddr:       *wsListenAddr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		wg   = &sync.WaitGroup{}
		errc = make(chan error, 2)
	)
	wg.Add(2)
	go httpSrv.Run(ctx, wg, errc)
	go wsSrv.Run(ctx, wg, errc)

	select {
	case err = <-errc:
		logger.Error().Err(err).Msg("unexpected server error, shutting down")
	case <-ctx.Done():
		logger.Warn().Msg("interrupted")
	}
	cancel()
	wg.Wait()
}
