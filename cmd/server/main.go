package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/unclebandit/communitybot-admin/internal/config"
	"github.com/unclebandit/communitybot-admin/internal/controller"
	"github.com/unclebandit/communitybot-admin/internal/db"
	"github.com/unclebandit/communitybot-admin/internal/handler"
	"github.com/unclebandit/communitybot-admin/internal/logger"
	"github.com/unclebandit/communitybot-admin/internal/queue"
	"github.com/unclebandit/communitybot-admin/internal/repository"
	"github.com/unclebandit/communitybot-admin/internal/service"
	"github.com/unclebandit/communitybot-admin/internal/transport"
)

var errNoTransport = errors.New("telegram transport not configured (BOT_TOKEN unset)")

func main() {
	cfg, err := config.Load()
	log := logger.New(cfg.Log)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.ValidateServer(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	defer conn.Close()

	q, closeQueue := openQueue(cfg.AMQP, log)
	defer closeQueue()

	broadcastRepo := &repository.BroadcastRepository{DB: conn}
	audienceRepo := &repository.AudienceRepository{DB: conn}
	logRepo := &repository.DeliveryLogRepository{DB: conn}
	pollRepo := &repository.PollRepository{DB: conn}

	audience := &service.AudienceResolver{Repo: audienceRepo}
	logs := &service.DeliveryLogStore{Repo: logRepo}
	broadcasts := &service.BroadcastService{Repo: broadcastRepo, Audience: audience, Log: log}

	retry := &service.RetryCoordinator{
		Lifecycle: broadcasts,
		Logs:      logs,
		Transport: newTransport(cfg.Telegram, log),
		Timeout:   cfg.Telegram.SendTimeout,
		Queue:     q,
		Topic:     cfg.AMQP.Queue,
		Log:       log,
	}

	router := handler.NewRouter(handler.RouterConfig{
		Broadcasts: &controller.BroadcastController{
			Broadcasts: broadcasts,
			View:       &service.ReconciliationView{Broadcasts: broadcastRepo, Audience: audience, Logs: logs},
			Retry:      retry,
		},
		Polls:         &controller.PollController{Polls: &service.PollService{Repo: pollRepo, Log: log}},
		DB:            conn,
		JWTSecret:     cfg.Auth.JWTSecret,
		RatePerMinute: cfg.API.RatePerMinute,
		Log:           log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// retry-one waits for the transport
		WriteTimeout: cfg.Telegram.SendTimeout + 15*time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

// openQueue uses RabbitMQ when configured. Without it no requeue events are
// published and requeued broadcasts wait for the worker's next sweep.
func openQueue(cfg config.AMQPConfig, log zerolog.Logger) (queue.Queue, func()) {
	if cfg.URL == "" {
		log.Info().Msg("AMQP_URL not set, requeued broadcasts wait for the dispatch sweep")
		return nil, func() {}
	}
	q, err := queue.DialAMQP(cfg.URL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbitmq")
	}
	return q, func() { _ = q.Close() }
}

func newTransport(cfg config.TelegramConfig, log zerolog.Logger) transport.Transport {
	if cfg.Token == "" {
		log.Warn().Msg("BOT_TOKEN not set, single-user retries will be recorded as failed")
		return transport.Func(func(context.Context, int64, string) (transport.Ack, error) {
			return transport.Ack{}, errNoTransport
		})
	}
	tg, err := transport.NewTelegram(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram")
	}
	return tg
}
