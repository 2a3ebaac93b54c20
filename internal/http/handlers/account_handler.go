package handlers

import (
	"github.com/freelance-escrow/backend/internal/config"
	"github.com/freelance-escrow/backend/internal/escrow"
	"github.com/freelance-escrow/backend/internal/http/dto"
	"github.com/freelance-escrow/backend/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AccountHandler struct {
	cfg    *config.Config
	engine *escrow.Engine
	log    *zap.Logger
}

func NewAccountHandler(cfg *config.Config, engine *escrow.Engine, log *zap.Logger) *AccountHandler {
	return &AccountHandler{cfg: cfg, engine: engine, log: log}
}

// Me returns the caller's identity and ledger balance.
func (h *AccountHandler) Me(c *fiber.Ctx) error {
	identity := middleware.GetIdentity(c)
	balance, err := h.engine.Balance(c.Context(), identity)
	if err != nil {
		h.log.Error("balance lookup failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.BalanceResponse{Identity: identity.String(), Balance: balance})
}

// Airdrop mints test funds to the caller. Disabled outside development.
func (h *AccountHandler) Airdrop(c *fiber.Ctx) error {
	if !h.cfg.FaucetEnabled {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "faucet disabled"})
	}

	var req dto.AirdropRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.Amount == 0 || req.Amount > uint64(h.cfg.FaucetMaxAmount) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid amount"})
	}

	identity := middleware.GetIdentity(c)
	if err := h.engine.Airdrop(c.Context(), identity, req.Amount); err != nil {
		h.log.Error("airdrop failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	balance, err := h.engine.Balance(c.Context(), identity)
	if err != nil {
		h.log.Error("balance lookup failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.BalanceResponse{Identity: identity.String(), Balance: balance})
}
