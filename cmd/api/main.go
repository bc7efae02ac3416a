package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-spa/internal/app"
	"github.com/noah-isme/backend-spa/internal/config"
	"github.com/noah-isme/backend-spa/internal/health"
	"github.com/noah-isme/backend-spa/internal/notify"
	"github.com/noah-isme/backend-spa/internal/obs"
	"github.com/noah-isme/backend-spa/internal/offer"
	"github.com/noah-isme/backend-spa/internal/payment"
	"github.com/noah-isme/backend-spa/internal/ratelimit"
	"github.com/noah-isme/backend-spa/internal/reservation"
	"github.com/noah-isme/backend-spa/internal/security"
)

const shutdownGrace = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.ValidateAPI(); err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.Bootstrap(bootCtx, cfg, "spa-api")
	cancel()
	if err != nil {
		panic(err)
	}
	defer deps.Close(context.Background())
	logger := deps.Logger

	tasks := asynq.NewClient(deps.TaskRedis)
	defer func() {
		if err := tasks.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	paymentSvc := &payment.Service{
		Gateway: payment.Gateway{
			ClientID: cfg.CMI.ClientID,
			StoreKey: cfg.CMI.StoreKey,
			Endpoint: cfg.CMI.GatewayURL,
			Lang:     cfg.CMI.Lang,
		},
		Reservations:   reservation.NewPGStore(deps.DB),
		Offers:         offer.NewPGStore(deps.DB),
		GiftCards:      notify.GiftCardQueue{Client: tasks, Lang: cfg.CMI.Lang},
		PublicBaseURL:  cfg.PublicBaseURL,
		BackendBaseURL: cfg.BackendBaseURL,
		Logger:         obs.Component(logger, "payment"),
	}

	startLimit, err := startLimiter(cfg, deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}
	paymentHandler := &payment.Handler{
		Svc:        paymentSvc,
		Replay:     deps.Redis,
		ReplayTTL:  cfg.Payment.CallbackReplayTTL,
		Validate:   deps.Validator,
		StartLimit: startLimit,
	}

	healthHandler := health.Handler{
		Checker:      health.Deps{DB: deps.DB, Redis: deps.Redis},
		DBTimeout:    500 * time.Millisecond,
		RedisTimeout: 300 * time.Millisecond,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if cfg.Obs.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.Obs.MetricsEnabled {
		buckets := obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets)
		r.Use(obs.HTTPObs{Metrics: obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, buckets, nil)}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{HSTSMaxAge: hstsMaxAge(cfg)}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.Obs.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/payment", func(p chi.Router) {
		p.Use(security.BodyLimit{Max: cfg.HTTPBodyLimitBytes}.Middleware)
		paymentHandler.Routes(p)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
		health.SetReady(false)
		logger.Info().Msg("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
		logger.Info().Msg("server stopped")
	}
}

func startLimiter(cfg *config.Config, deps *app.Dependencies, logger zerolog.Logger) (func(http.Handler) http.Handler, error) {
	store, err := ratelimit.NewRedisStore(deps.Redis, "ratelimit:payment")
	if err != nil {
		return nil, err
	}
	lim, err := ratelimit.New(store, cfg.Payment.RateLimit)
	if err != nil {
		logger.Warn().Err(err).Str("rate", cfg.Payment.RateLimit).Msg("invalid PAYMENT_RATE_LIMIT, using default")
		if lim, err = ratelimit.New(store, ratelimit.DefaultRate); err != nil {
			return nil, err
		}
	}
	return ratelimit.Handler{
		Limiter: lim,
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}.Middleware, nil
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{cfg.PublicBaseURL}
	}
	return cfg.CORSAllowedOrigins
}

func hstsMaxAge(cfg *config.Config) int {
	if cfg.AppEnv == "production" {
		return 31536000
	}
	return 0
}
