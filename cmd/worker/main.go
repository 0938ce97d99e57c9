package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/unclebandit/communitybot-admin/internal/config"
	"github.com/unclebandit/communitybot-admin/internal/db"
	"github.com/unclebandit/communitybot-admin/internal/logger"
	"github.com/unclebandit/communitybot-admin/internal/queue"
	"github.com/unclebandit/communitybot-admin/internal/repository"
	"github.com/unclebandit/communitybot-admin/internal/service"
	"github.com/unclebandit/communitybot-admin/internal/transport"
)

const jobBuffer = 64

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func main() {
	cfg, err := config.Load()
	log := logger.New(cfg.Log)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.ValidateWorker(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	defer conn.Close()

	tg, err := transport.NewTelegram(cfg.Telegram, log)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram")
	}

	audience := &service.AudienceResolver{Repo: &repository.AudienceRepository{DB: conn}}
	dispatcher := &service.Dispatcher{
		Lifecycle: &service.BroadcastService{
			Repo:     &repository.BroadcastRepository{DB: conn},
			Audience: audience,
			Log:      log,
		},
		Audience:  audience,
		Logs:      &service.DeliveryLogStore{Repo: &repository.DeliveryLogRepository{DB: conn}},
		Transport: tg,
		Timeout:   cfg.Telegram.SendTimeout,
		BatchSize: cfg.Dispatch.BatchSize,
		Log:       log.With().Str("component", "dispatcher").Logger(),
	}

	jobs := make(chan int64, jobBuffer)
	worker := service.NewWorker(dispatcher, jobs, log)
	go worker.Start(ctx)

	if cfg.AMQP.URL != "" {
		q, err := queue.DialAMQP(cfg.AMQP.URL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbitmq")
		}
		defer q.Close()
		if err := queue.StartRequeueSubscriber(ctx, q, cfg.AMQP.Queue, log, enqueue(jobs)); err != nil {
			log.Fatal().Err(err).Msg("subscribe to requeue events")
		}
		log.Info().Str("queue", cfg.AMQP.Queue).Msg("listening for requeued broadcasts")
	} else {
		log.Info().Msg("AMQP_URL not set, requeued broadcasts wait for the next sweep")
	}

	c, err := newScheduler(cfg.Dispatch.Schedule, func() {
		if _, err := dispatcher.Sweep(ctx); err != nil {
			log.Error().Err(err).Msg("sweep")
		}
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("schedule")
	}
	c.Start()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("sd_notify ready")
	}
	log.Info().Str("schedule", cfg.Dispatch.Schedule).Msg("worker running")

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info().Msg("shutting down")
	<-c.Stop().Done()
}

// newScheduler runs sweep on spec. A sweep still running when the next tick
// fires is skipped.
func newScheduler(spec string, sweep func(), log zerolog.Logger) (*cron.Cron, error) {
	if _, err := scheduleParser.Parse(spec); err != nil {
		return nil, fmt.Errorf("parse DISPATCH_SCHEDULE %q: %w", spec, err)
	}
	cl := cronLogger{log: log.With().Str("component", "cron").Logger()}
	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(spec, sweep); err != nil {
		return nil, err
	}
	return c, nil
}

// enqueue hands requeued broadcast ids to the worker, waiting while the
// buffer is full.
func enqueue(jobs chan<- int64) func(ctx context.Context, id int64) error {
	return func(ctx context.Context, id int64) error {
		select {
		case jobs <- id:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
