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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/LeventeLantos/whatsapp-assistant/internal/api"
	"github.com/LeventeLantos/whatsapp-assistant/internal/cache"
	"github.com/LeventeLantos/whatsapp-assistant/internal/client"
	"github.com/LeventeLantos/whatsapp-assistant/internal/command"
	"github.com/LeventeLantos/whatsapp-assistant/internal/config"
	"github.com/LeventeLantos/whatsapp-assistant/internal/logger"
	"github.com/LeventeLantos/whatsapp-assistant/internal/model"
	"github.com/LeventeLantos/whatsapp-assistant/internal/repo"
	"github.com/LeventeLantos/whatsapp-assistant/internal/retry"
	"github.com/LeventeLantos/whatsapp-assistant/internal/schedule"
	"github.com/LeventeLantos/whatsapp-assistant/internal/scheduler"
	"github.com/LeventeLantos/whatsapp-assistant/internal/service"
	"github.com/LeventeLantos/whatsapp-assistant/internal/session"
	"github.com/LeventeLantos/whatsapp-assistant/internal/state"
)

const connectedText = "Your WhatsApp assistant is connected. Scheduled messages will be sent from this account."

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log, closer := logger.New(cfg.Log)
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("assistant stopped with error")
		closer.Close()
		os.Exit(1)
	}
	log.Info().Msg("assistant has shut down")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	log.Info().
		Str("addr", cfg.Server.Address).
		Str("store", cfg.Store.Driver).
		Dur("interval", cfg.Scheduler.Interval()).
		Str("zone", cfg.Schedule.Timezone).
		Bool("redis", cfg.Redis.Enabled).
		Msg("assistant starting")

	driver := repo.Driver(cfg.Store.Driver)
	db, err := repo.Open(ctx, driver, cfg.Store.DSN())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	store := repo.NewSQLStore(db, driver, cfg.Store.OwnerKey())

	settings := state.NewStore(store, log)
	if _, err := settings.Load(ctx); err != nil {
		return fmt.Errorf("load bot state: %w", err)
	}

	var outcomes cache.OutcomeCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Address).Msg("redis unreachable, outcome cache disabled")
		} else {
			outcomes = cache.NewRedisCache(rdb, cfg.Redis.TTL())
		}
	}

	loc := cfg.Schedule.Location()
	parser := schedule.NewParser(schedule.Policy{
		Location:    loc,
		CountryCode: cfg.Schedule.CountryCode,
		MinDigits:   cfg.Schedule.MinDigits,
		MaxDigits:   cfg.Schedule.MaxDigits,
	}, nil)
	schedules := service.NewSchedules(parser, store, log)

	wa, err := client.NewWhatsApp(ctx, cfg.WhatsApp.StorePath, log)
	if err != nil {
		return fmt.Errorf("whatsapp: %w", err)
	}
	defer wa.Close()

	onSent, onFailed := outcomeHooks(outcomes)
	dispatcher := service.NewDispatcher(store, wa, log).
		WithMinGap(cfg.Scheduler.MinGap()).
		WithHooks(onSent, onFailed)

	poller, err := scheduler.New(cfg.Scheduler.Interval(), dispatcher.Tick, log)
	if err != nil {
		return fmt.Errorf("poller: %w", err)
	}
	defer poller.Stop()

	machine := session.NewMachine(poller, settings, wa, log).WithHooks(
		func(ctx context.Context) {
			if self := wa.SelfID(); self != "" {
				if err := wa.SendText(ctx, self, connectedText); err != nil {
					log.Warn().Err(err).Msg("send connected notice")
				}
			}
		},
		func(context.Context) {
			// The logged-out device cannot be reused; pair a fresh one.
			go func() {
				if err := wa.Reinitialize(ctx); err != nil {
					log.Error().Err(err).Msg("reinitialize whatsapp client")
				}
			}()
		},
	)

	gemini := client.NewGemini(cfg.LLM.BaseURL, cfg.LLM.Model, cfg.LLM.APIKey, retry.Policy{
		MaxAttempts: uint(cfg.LLM.MaxAttempts),
		BaseDelay:   cfg.LLM.BaseDelay(),
		MaxDelay:    30 * time.Second,
	}, log)
	router := command.NewRouter(schedules, settings, gemini, wa, log)

	wa.Bind(machine, router.Handle)
	if err := wa.Connect(ctx); err != nil {
		return fmt.Errorf("whatsapp: %w", err)
	}

	handler := api.NewHandler(machine, settings, schedules, poller, loc.String(), log)
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Router(handler, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("dashboard listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received stop signal, shutting down")
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poller.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	return nil
}

// outcomeHooks mirrors dispatch outcomes into c. Both hooks are nil when no
// cache is configured.
func outcomeHooks(c cache.OutcomeCache) (
	onSent func(ctx context.Context, id string, at time.Time) error,
	onFailed func(ctx context.Context, id, reason string, at time.Time) error,
) {
	if c == nil {
		return nil, nil
	}

	onSent = func(ctx context.Context, id string, at time.Time) error {
		return c.StoreOutcome(ctx, id, model.Sent, at, "")
	}
	onFailed = func(ctx context.Context, id, reason string, at time.Time) error {
		return c.StoreOutcome(ctx, id, model.Failed, at, reason)
	}
	return onSent, onFailed
}
