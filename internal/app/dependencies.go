package app

import (
	"context"
	"errors"
	"fmt"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-spa/internal/config"
	"github.com/noah-isme/backend-spa/internal/obs"
)

// Dependencies enumerates the infrastructure shared by the API and the worker.
type Dependencies struct {
	Config    *config.Config
	Logger    zerolog.Logger
	DB        *pgxpool.Pool
	Redis     *redis.Client
	TaskRedis asynq.RedisConnOpt
	Validator *validator.Validate

	shutdownTracer func(context.Context) error
}

// Bootstrap wires logging, metrics, tracing, Postgres and Redis for service.
// Callers must Close the result.
func Bootstrap(ctx context.Context, cfg *config.Config, service string) (*Dependencies, error) {
	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().
		Str("service", service).
		Str("env", cfg.AppEnv).
		Logger()

	deps := &Dependencies{
		Config:    cfg,
		Logger:    logger,
		Validator: validator.New(validator.WithRequiredStructEnabled()),
	}

	if cfg.Obs.MetricsEnabled {
		obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	}
	if cfg.Obs.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   service,
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			deps.shutdownTracer = shutdown
		}
	}

	pool, err := OpenPostgres(ctx, cfg, logger, service)
	if err != nil {
		deps.Close(ctx)
		return nil, err
	}
	deps.DB = pool

	rdb, err := OpenRedis(ctx, cfg)
	if err != nil {
		deps.Close(ctx)
		return nil, err
	}
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.Obs.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	deps.Redis = rdb

	taskRedis, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		deps.Close(ctx)
		return nil, fmt.Errorf("parse redis url for tasks: %w", err)
	}
	deps.TaskRedis = taskRedis
	return deps, nil
}

// OpenPostgres connects a traced pool and verifies it with a ping.
func OpenPostgres(ctx context.Context, cfg *config.Config, logger zerolog.Logger, appName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{
		Logger:        obs.Component(logger, "pgx"),
		SlowThreshold: cfg.Obs.SlowQuery,
	}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// OpenRedis parses REDIS_URL and verifies the connection.
func OpenRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Close releases every opened resource. It is safe on a partially built value.
func (d *Dependencies) Close(ctx context.Context) {
	if d == nil {
		return
	}
	var errs []error
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	if d.DB != nil {
		d.DB.Close()
	}
	if d.shutdownTracer != nil {
		errs = append(errs, d.shutdownTracer(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		d.Logger.Error().Err(err).Msg("close dependencies")
	}
}
