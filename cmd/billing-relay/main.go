package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hackgods/vet-appointment-scheduling/internal/appointment"
	"github.com/hackgods/vet-appointment-scheduling/internal/billing"
	"github.com/hackgods/vet-appointment-scheduling/internal/config"
	"github.com/hackgods/vet-appointment-scheduling/internal/db"
	"github.com/hackgods/vet-appointment-scheduling/internal/events"
	"github.com/hackgods/vet-appointment-scheduling/internal/logging"
	redisclient "github.com/hackgods/vet-appointment-scheduling/internal/redis"
)

// Marks outlive many polls but expire eventually, so an appointment billing
// never invoiced gets sent again.
const markTTL = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("billing-relay", "prod", "info")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New("billing-relay", cfg.Env, cfg.LogLevel)
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.RelayInterval).Msg("billing-relay starting up")

	if cfg.StorageDriver != config.StoragePostgres {
		logger.Fatal().Msg("billing-relay needs STORAGE_DRIVER=postgres")
	}
	if cfg.AMQPURL == "" {
		logger.Fatal().Msg("AMQP_URL is required")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("amqp connection error")
	}
	defer conn.Close()

	publisher, err := events.NewAMQPPublisher(conn, cfg.BillingQueue)
	if err != nil {
		logger.Fatal().Err(err).Msg("amqp publisher error")
	}
	defer publisher.Close()

	relay := billing.NewRelay(
		appointment.NewPgRepository(pgPool),
		redisclient.NewDeduper(rdb, "billing:relayed:", markTTL),
		publisher,
		logger,
	)
	relay.Run(rootCtx, cfg.RelayInterval)
}
