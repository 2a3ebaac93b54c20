package handlers

import (
	"errors"

	"github.com/freelance-escrow/backend/internal/escrow"
	"github.com/freelance-escrow/backend/internal/history"
	"github.com/freelance-escrow/backend/internal/http/dto"
	"github.com/freelance-escrow/backend/internal/linkpreview"
	"github.com/freelance-escrow/backend/internal/middleware"
	"github.com/freelance-escrow/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type EscrowHandler struct {
	engine        *escrow.Engine
	reconstructor *history.Reconstructor
	previews      *linkpreview.Fetcher
	log           *zap.Logger
}

func NewEscrowHandler(engine *escrow.Engine, reconstructor *history.Reconstructor, previews *linkpreview.Fetcher, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{engine: engine, reconstructor: reconstructor, previews: previews, log: log}
}

// statusOf maps engine errors to HTTP statuses. Unknown errors are internal.
func statusOf(err error) int {
	switch {
	case errors.Is(err, escrow.ErrRecordNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, escrow.ErrUnauthorized):
		return fiber.StatusForbidden
	case errors.Is(err, escrow.ErrInvalidStatus), errors.Is(err, escrow.ErrDealExists):
		return fiber.StatusConflict
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidTimeout),
		errors.Is(err, escrow.ErrInvalidWorkLink),
		errors.Is(err, escrow.ErrWorkLinkTooLong),
		errors.Is(err, escrow.ErrInsufficientFunds):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func (h *EscrowHandler) fail(c *fiber.Ctx, err error) error {
	status := statusOf(err)
	if status == fiber.StatusInternalServerError {
		h.log.Error("escrow operation failed", zap.Error(err))
		return c.Status(status).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.Status(status).JSON(dto.ErrorResponse{Error: err.Error()})
}

func (h *EscrowHandler) Initialize(c *fiber.Ctx) error {
	var req dto.InitializeEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	freelancer, err := models.ParseIdentity(req.Freelancer)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid freelancer identity"})
	}

	client := middleware.GetIdentity(c)
	if client == freelancer {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "client and freelancer must differ"})
	}

	conf, err := h.engine.Initialize(c.Context(), client, freelancer, req.Amount, req.DisputeTimeoutDays)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: conf})
}

func (h *EscrowHandler) Deposit(c *fiber.Ctx) error {
	addr, err := models.ParseIdentity(c.Params("address"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow address"})
	}

	conf, err := h.engine.DepositFunds(c.Context(), middleware.GetIdentity(c), addr)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: conf})
}

func (h *EscrowHandler) SubmitWork(c *fiber.Ctx) error {
	addr, err := models.ParseIdentity(c.Params("address"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow address"})
	}

	var req dto.SubmitWorkRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	conf, err := h.engine.SubmitWork(c.Context(), middleware.GetIdentity(c), addr, req.WorkLink)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: conf})
}

func (h *EscrowHandler) Approve(c *fiber.Ctx) error {
	addr, err := models.ParseIdentity(c.Params("address"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow address"})
	}

	conf, err := h.engine.ApproveSubmission(c.Context(), middleware.GetIdentity(c), addr)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: conf})
}

func (h *EscrowHandler) Withdraw(c *fiber.Ctx) error {
	addr, err := models.ParseIdentity(c.Params("address"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow address"})
	}

	// Snapshot the record before settlement deletes it; used to seed local
	// history for both parties without waiting on a log scan.
	deal, _ := h.engine.Get(c.Context(), addr)

	conf, err := h.engine.WithdrawPayment(c.Context(), middleware.GetIdentity(c), addr)
	if err != nil {
		return h.fail(c, err)
	}
	h.saveTerminal(c, deal, conf)
	return c.JSON(dto.SuccessResponse{OK: true, Data: conf})
}

func (h *EscrowHandler) Dispute(c *fiber.Ctx) error {
	addr, err := models.ParseIdentity(c.Params("address"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow address"})
	}

	conf, err := h.engine.InitiateDispute(c.Context(), middleware.GetIdentity(c), addr)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: conf})
}

func (h *EscrowHandler) Refund(c *fiber.Ctx) error {
	addr, err := models.ParseIdentity(c.Params("address"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow address"})
	}

	deal, _ := h.engine.Get(c.Context(), addr)

	conf, err := h.engine.RefundClient(c.Context(), middleware.GetIdentity(c), addr)
	if err != nil {
		return h.fail(c, err)
	}
	h.saveTerminal(c, deal, conf)
	return c.JSON(dto.SuccessResponse{OK: true, Data: conf})
}

// saveTerminal writes the settled deal into both parties' local history so it
// shows up immediately. Best effort.
func (h *EscrowHandler) saveTerminal(c *fiber.Ctx, deal *models.EscrowDeal, conf *escrow.Confirmation) {
	if deal == nil || h.reconstructor == nil {
		return
	}
	rec := models.HistoricalRecord{
		Address:     deal.Address,
		Client:      deal.Client,
		Freelancer:  deal.Freelancer,
		Amount:      conf.Amount,
		Status:      conf.Outcome,
		CreatedAt:   deal.CreatedAt,
		TxSignature: conf.Signature,
	}
	for _, id := range []models.Identity{deal.Client, deal.Freelancer} {
		if err := h.reconstructor.SaveLocal(c.Context(), id.String(), rec); err != nil {
			h.log.Warn("local history save failed",
				zap.String("identity", id.String()), zap.Error(err))
		}
	}
}

func (h *EscrowHandler) Get(c *fiber.Ctx) error {
	addr, err := models.ParseIdentity(c.Params("address"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow address"})
	}

	deal, err := h.engine.Get(c.Context(), addr)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

func (h *EscrowHandler) List(c *fiber.Ctx) error {
	deals, err := h.engine.ListForIdentity(c.Context(), middleware.GetIdentity(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deals})
}

// Preview scrapes the submitted work link for the client to inspect before
// approving. Parties only.
func (h *EscrowHandler) Preview(c *fiber.Ctx) error {
	addr, err := models.ParseIdentity(c.Params("address"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid escrow address"})
	}

	deal, err := h.engine.Get(c.Context(), addr)
	if err != nil {
		return h.fail(c, err)
	}
	if deal.RoleOf(middleware.GetIdentity(c)) == "" {
		return h.fail(c, escrow.ErrUnauthorized)
	}
	if deal.WorkLink == "" {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "no work link submitted"})
	}

	preview, err := h.previews.Fetch(c.Context(), deal.WorkLink)
	if err != nil {
		h.log.Warn("work link preview failed", zap.String("link", deal.WorkLink), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: "preview fetch failed"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: preview})
}
