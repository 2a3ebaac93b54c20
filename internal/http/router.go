package http

import (
	"time"

	"github.com/freelance-escrow/backend/internal/config"
	"github.com/freelance-escrow/backend/internal/http/handlers"
	"github.com/freelance-escrow/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	accountHandler *handlers.AccountHandler,
	escrowHandler *handlers.EscrowHandler,
	historyHandler *handlers.HistoryHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Auth (public)
	api.Post("/auth/challenge", authHandler.Challenge)
	api.Post("/auth/verify", authHandler.Verify)

	api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Account
	protected.Get("/accounts/me", accountHandler.Me)
	protected.Post("/accounts/airdrop", accountHandler.Airdrop)

	// Escrows
	protected.Post("/escrows", escrowHandler.Initialize)
	protected.Get("/escrows", escrowHandler.List)
	protected.Get("/escrows/:address", escrowHandler.Get)
	protected.Get("/escrows/:address/preview", escrowHandler.Preview)
	protected.Post("/escrows/:address/deposit", escrowHandler.Deposit)
	protected.Post("/escrows/:address/submit", escrowHandler.SubmitWork)
	protected.Post("/escrows/:address/approve", escrowHandler.Approve)
	protected.Post("/escrows/:address/withdraw", escrowHandler.Withdraw)
	protected.Post("/escrows/:address/dispute", escrowHandler.Dispute)
	protected.Post("/escrows/:address/refund", escrowHandler.Refund)

	// Settlement history
	protected.Get("/history", historyHandler.Get)
	protected.Post("/history/refresh", historyHandler.Refresh)
	protected.Delete("/history", historyHandler.Clear)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
