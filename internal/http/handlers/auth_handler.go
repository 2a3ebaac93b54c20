package handlers

import (
	"errors"

	"github.com/freelance-escrow/backend/internal/auth"
	"github.com/freelance-escrow/backend/internal/config"
	"github.com/freelance-escrow/backend/internal/http/dto"
	"github.com/freelance-escrow/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AuthHandler struct {
	cfg        *config.Config
	challenges *auth.Challenges
	log        *zap.Logger
}

func NewAuthHandler(cfg *config.Config, challenges *auth.Challenges, log *zap.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, challenges: challenges, log: log}
}

// Challenge issues a login nonce for the identity to sign.
func (h *AuthHandler) Challenge(c *fiber.Ctx) error {
	var req dto.AuthChallengeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	identity, err := models.ParseIdentity(req.Identity)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid identity"})
	}

	nonce, err := h.challenges.Issue(c.Context(), identity)
	if err != nil {
		h.log.Error("challenge issue failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.AuthChallengeResponse{Challenge: nonce})
}

// Verify checks the signature over the outstanding nonce and issues a session
// token.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	var req dto.AuthVerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	identity, err := models.ParseIdentity(req.Identity)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid identity"})
	}

	if err := h.challenges.Verify(c.Context(), identity, req.Signature); err != nil {
		if errors.Is(err, auth.ErrChallengeNotFound) || errors.Is(err, auth.ErrBadSignature) {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		h.log.Error("challenge verify failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, identity.String(), h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("jwt generation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.AuthResponse{Token: token, Identity: identity.String()})
}
