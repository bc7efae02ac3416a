package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/backend-spa/internal/app"
	"github.com/noah-isme/backend-spa/internal/common"
	"github.com/noah-isme/backend-spa/internal/config"
	"github.com/noah-isme/backend-spa/internal/health"
	"github.com/noah-isme/backend-spa/internal/jobs"
	"github.com/noah-isme/backend-spa/internal/lock"
	"github.com/noah-isme/backend-spa/internal/notify"
	"github.com/noah-isme/backend-spa/internal/obs"
	"github.com/noah-isme/backend-spa/internal/reservation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.Bootstrap(bootCtx, cfg, "spa-worker")
	cancel()
	if err != nil {
		panic(err)
	}
	defer deps.Close(context.Background())
	logger := deps.Logger

	sweeper := &reservation.Sweeper{
		Store:       reservation.NewPGStore(deps.DB),
		GracePeriod: cfg.Sweep.GracePeriod,
		Anchor:      reservation.ParseAnchor(cfg.Sweep.Anchor),
		Location:    cfg.Sweep.Location(),
		Logger:      obs.Component(logger, "sweeper"),
	}

	var mail common.EmailSender = common.NopEmailSender{}
	if cfg.Mail.APIURL != "" {
		mail = notify.NewHTTPMailer(cfg.Mail.APIURL, cfg.Mail.APIToken, cfg.Mail.From, cfg.Mail.Timeout)
	} else {
		logger.Warn().Msg("MAIL_API_URL not set, gift card emails are discarded")
	}

	mux := jobs.NewServeMux(
		jobs.AutoCompleteHandler{
			Sweeper: sweeper,
			Locker:  lock.Locker{R: deps.Redis},
			LockTTL: cfg.Sweep.LockTTL,
			Logger:  obs.Component(logger, "jobs"),
		},
		notify.GiftCardWorker{Mail: mail, Logger: obs.Component(logger, "giftcard")},
	)

	server := asynq.NewServer(deps.TaskRedis, asynq.Config{
		Concurrency:     4,
		Queues:          jobs.Queues(),
		Logger:          jobs.Logger{L: logger.With().Str("component", "asynq").Logger()},
		ErrorHandler:    jobs.ErrorHandler(logger),
		ShutdownTimeout: 30 * time.Second,
	})
	scheduler := asynq.NewScheduler(deps.TaskRedis, &asynq.SchedulerOpts{
		Location: cfg.Sweep.Location(),
		Logger:   jobs.Logger{L: logger.With().Str("component", "scheduler").Logger()},
	})
	if _, err := jobs.RegisterSchedule(scheduler, cfg.Sweep.Interval); err != nil {
		logger.Fatal().Err(err).Msg("register auto-complete schedule")
	}

	tasks := asynq.NewClient(deps.TaskRedis)
	defer func() { _ = tasks.Close() }()
	if err := jobs.EnqueueStartup(ctx, tasks, cfg.Sweep.StartDelay); err != nil {
		logger.Error().Err(err).Msg("enqueue startup sweep")
	}

	if err := server.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	logger.Info().
		Dur("interval", cfg.Sweep.Interval).
		Dur("start_delay", cfg.Sweep.StartDelay).
		Dur("grace_period", cfg.Sweep.GracePeriod).
		Str("anchor", cfg.Sweep.Anchor).
		Msg("worker started")

	ops := opsServer(cfg, deps)
	go func() {
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("ops server stopped")
		}
	}()

	<-ctx.Done()
	health.SetReady(false)
	logger.Info().Msg("worker shutting down")
	scheduler.Shutdown()
	server.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ops.Shutdown(shutdownCtx)
	logger.Info().Msg("worker shutdown complete")
}

// opsServer exposes health and metrics for the worker.
func opsServer(cfg *config.Config, deps *app.Dependencies) *http.Server {
	r := chi.NewRouter()
	h := health.Handler{Checker: health.Deps{DB: deps.DB, Redis: deps.Redis}}
	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)
	if cfg.Obs.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return &http.Server{Addr: cfg.WorkerAddr(), Handler: r, ReadHeaderTimeout: 5 * time.Second}
}
