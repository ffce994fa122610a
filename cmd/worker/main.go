package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata" // containers often ship without zoneinfo

	"gymdesk/internal/audit"
	"gymdesk/internal/config"
	"gymdesk/internal/logging"
	"gymdesk/internal/queue"
	"gymdesk/internal/store"
)

// Worker drains the scan-event queue into the audit log.
func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.Production())

	if err := run(cfg); err != nil {
		slog.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.App) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.QueueBackend != "redis" {
		return errors.New("worker needs QUEUE_BACKEND=redis; the memory queue is consumed inside the api")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx, cfg.DefaultCapacity); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		slog.Warn("redis not reachable yet, consumer will keep retrying", "addr", cfg.RedisAddr)
	}

	return audit.NewRecorder(db).Run(ctx, queue.NewRedisQueue(redisClient.Client, ""))
}
