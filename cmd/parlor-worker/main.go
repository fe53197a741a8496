package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"parlor/internal/bus"
	"parlor/internal/config"
	"parlor/internal/db"
	"parlor/internal/room"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file", "err", err)
	}

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	busConn, err := bus.Connect(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("nats connect failed", "err", err)
		os.Exit(1)
	}
	defer busConn.Close()

	clock := clockwork.NewRealClock()
	svc := room.NewService(pool, logger, clock, busConn, room.Config{
		CommandWindow: cfg.CommandWindow,
		LeaseTTL:      cfg.LeaseTTL,
		PresenceTTL:   cfg.PresenceTTL,
		RoomIdleAfter: cfg.RoomIdleAfter,
		DealMin:       cfg.DealMin,
		DealMax:       cfg.DealMax,
	})

	runOnce := strings.EqualFold(strings.TrimSpace(os.Getenv("PARLOR_WORKER_RUN_ONCE")), "true")
	if runOnce {
		sweep(ctx, svc, logger)
		logger.Info("worker run-once completed")
		return
	}

	ticker := clock.NewTicker(cfg.SweepEvery)
	defer ticker.Stop()

	logger.Info("worker started", "sweep_every", cfg.SweepEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.Chan():
			sweep(ctx, svc, logger)
		}
	}
}

func sweep(ctx context.Context, svc *room.Service, logger *slog.Logger) {
	reaped, err := svc.ReapExpiredLeases(ctx)
	if err != nil {
		logger.Error("lease reap failed", "err", err)
	}
	swept, err := svc.SweepIdleRooms(ctx)
	if err != nil {
		logger.Error("idle room sweep failed", "err", err)
		return
	}
	if reaped > 0 || swept > 0 {
		logger.Info("sweep complete", "leases_reaped", reaped, "rooms_finished", swept)
	}
}
