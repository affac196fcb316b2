package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/jw6ventures/esn-calendar/internal/auth"
	"github.com/jw6ventures/esn-calendar/internal/caldav"
	"github.com/jw6ventures/esn-calendar/internal/calendar"
	"github.com/jw6ventures/esn-calendar/internal/config"
	httpserver "github.com/jw6ventures/esn-calendar/internal/http"
	"github.com/jw6ventures/esn-calendar/internal/listener"
	"github.com/jw6ventures/esn-calendar/internal/logging"
	"github.com/jw6ventures/esn-calendar/internal/mail"
	"github.com/jw6ventures/esn-calendar/internal/mq"
	"github.com/jw6ventures/esn-calendar/internal/pubsub"
	"github.com/jw6ventures/esn-calendar/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting calendar server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.SlogAdapter) error {
	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("create db pool: %w", err)
	}
	defer pool.Close()

	if err := store.ApplyMigrations(ctx, pool, logger.With("component", "store")); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	stor := store.New(pool)

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	local := pubsub.NewLocal(logger.With("component", "pubsub"))
	global := pubsub.NewRedis(rdb, logger.With("component", "pubsub"))
	provider := mq.NewRedisProvider(rdb, logger.With("component", "mq"))

	dav := caldav.NewClient(ctx, cfg)
	mailer, err := mail.NewSMTPSender(cfg, logger.With("component", "mail"))
	if err != nil {
		return err
	}

	svc := calendar.NewService(calendar.Deps{
		Users:          stor.Users,
		Collaborations: stor.Collaborations,
		EventMessages:  stor.EventMessages,
		ModuleConfigs:  stor.ModuleConfigs,
		Local:          local,
		Global:         global,
		Mailer:         mailer,
		WebserverPort:  cfg.WebserverPort,
		Logger:         logger.With("component", "calendar"),
	})

	itip := listener.New(stor.ModuleConfigs, stor.Users, provider, dav, cfg.DAV.ITipRate, logger.With("component", "listener"))
	if err := itip.Init(ctx); err != nil {
		return err
	}
	startDispatchConsumer(ctx, provider, svc, logger)

	var verifier auth.TokenVerifier
	if cfg.AuthDisabled {
		logger.Warn("authentication disabled: callers are identified by the " + auth.HeaderUserID + " header")
	} else {
		v, err := auth.NewOIDCVerifier(ctx, cfg)
		if err != nil {
			return fmt.Errorf("initialize oidc: %w", err)
		}
		verifier = v
	}
	authenticator := auth.NewAuthenticator(verifier, stor.Users, logger.With("component", "auth"))

	r := httpserver.NewRouter(cfg, httpserver.Deps{
		Health:      stor,
		RequireUser: authenticator.RequireUser,
		Calendar:    svc,
		CalendarAPI: dav,
		Users:       stor.Users,
		Logger:      logger.With("component", "http"),
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
	return nil
}

// startDispatchConsumer relays dispatch requests published by other services.
// A broker failure is logged and leaves the HTTP API running.
func startDispatchConsumer(ctx context.Context, provider mq.Provider, svc *calendar.Service, logger logging.Logger) {
	client, err := provider.GetClient(ctx)
	if err != nil {
		logger.Error("calendar dispatcher: no message queue", "err", err)
		return
	}
	if err := client.Subscribe(ctx, calendar.DispatchExchange, svc.HandleDispatchMessage); err != nil {
		logger.Error("calendar dispatcher: subscribe failed", "exchange", calendar.DispatchExchange, "err", err)
		return
	}
	logger.Info("calendar dispatcher: listening", "exchange", calendar.DispatchExchange)
}
