package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freelance-escrow/backend/internal/auth"
	"github.com/freelance-escrow/backend/internal/config"
	"github.com/freelance-escrow/backend/internal/db"
	"github.com/freelance-escrow/backend/internal/escrow"
	"github.com/freelance-escrow/backend/internal/events"
	"github.com/freelance-escrow/backend/internal/history"
	apphttp "github.com/freelance-escrow/backend/internal/http"
	"github.com/freelance-escrow/backend/internal/http/handlers"
	"github.com/freelance-escrow/backend/internal/linkpreview"
	"github.com/freelance-escrow/backend/internal/repositories"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Ledger
	store := repositories.NewStore(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Engine and history reconstruction
	engine := escrow.NewEngine(store, publisher, log)
	cache := history.NewRedisCache(rdb, log)
	reconstructor := history.NewReconstructor(store.TxLog(), cache, history.Options{
		Window:     cfg.HistoryWindow,
		BatchSize:  cfg.HistoryBatchSize,
		BatchDelay: time.Duration(cfg.HistoryBatchDelayMS) * time.Millisecond,
		RetryDelay: time.Duration(cfg.HistoryRetryDelayMS) * time.Millisecond,
		Freshness:  cfg.HistoryFreshness,
		MaxRecords: cfg.HistoryMaxRecords,
	}, log)
	previews := linkpreview.NewFetcher(cfg.PreviewFetchTimeoutMS, cfg.PreviewFetchMaxRetries, log)
	challenges := auth.NewChallenges(rdb, cfg.ChallengeTTL)

	// Handlers
	authHandler := handlers.NewAuthHandler(cfg, challenges, log)
	accountHandler := handlers.NewAccountHandler(cfg, engine, log)
	escrowHandler := handlers.NewEscrowHandler(engine, reconstructor, previews, log)
	historyHandler := handlers.NewHistoryHandler(reconstructor, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, accountHandler, escrowHandler, historyHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
