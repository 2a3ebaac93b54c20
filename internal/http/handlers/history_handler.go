package handlers

import (
	"github.com/freelance-escrow/backend/internal/history"
	"github.com/freelance-escrow/backend/internal/http/dto"
	"github.com/freelance-escrow/backend/internal/middleware"
	"github.com/freelance-escrow/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type HistoryHandler struct {
	reconstructor *history.Reconstructor
	log           *zap.Logger
}

func NewHistoryHandler(reconstructor *history.Reconstructor, log *zap.Logger) *HistoryHandler {
	return &HistoryHandler{reconstructor: reconstructor, log: log}
}

// Get returns the caller's settlement history, from cache when fresh.
func (h *HistoryHandler) Get(c *fiber.Ctx) error {
	identity := middleware.GetIdentity(c).String()
	records, err := h.reconstructor.Fetch(c.Context(), identity, false)
	if err != nil {
		h.log.Error("history fetch failed", zap.String("identity", identity), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	if records == nil {
		records = []models.HistoricalRecord{}
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: records})
}

// Refresh forces a log scan regardless of cache freshness.
func (h *HistoryHandler) Refresh(c *fiber.Ctx) error {
	identity := middleware.GetIdentity(c).String()
	records, err := h.reconstructor.Fetch(c.Context(), identity, true)
	if err != nil {
		h.log.Error("history refresh failed", zap.String("identity", identity), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: records})
}

// Clear drops the caller's cached history. The next fetch rebuilds from the log.
func (h *HistoryHandler) Clear(c *fiber.Ctx) error {
	identity := middleware.GetIdentity(c).String()
	if err := h.reconstructor.Clear(c.Context(), identity); err != nil {
		h.log.Error("history clear failed", zap.String("identity", identity), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}
