package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/ayo6706/legal-settlement/internal/models"
	"github.com/ayo6706/legal-settlement/internal/repository"
	"github.com/ayo6706/legal-settlement/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WithdrawalHandler handles withdrawal requests and their review.
type WithdrawalHandler struct {
	svc  *service.WithdrawalService
	repo *repository.Repository
}

func NewWithdrawalHandler(svc *service.WithdrawalService, repo *repository.Repository) *WithdrawalHandler {
	return &WithdrawalHandler{svc: svc, repo: repo}
}

type submitWithdrawalRequest struct {
	Amount  domain.Money `json:"amount"`
	Method  string       `json:"method"`
	Account string       `json:"account"`
}

// Submit handles POST /finance/withdrawal.
func (h *WithdrawalHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req submitWithdrawalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		if errors.Is(err, domain.ErrInvalidAmount) {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", err.Error())
			return
		}
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	created, err := h.svc.Submit(r.Context(), service.SubmitWithdrawalInput{
		UserID:  actorID,
		Amount:  req.Amount,
		Method:  req.Method,
		Account: req.Account,
	})
	if err != nil {
		h.respondError(w, r, err, "submit withdrawal failed", uuid.Nil)
		return
	}

	RespondJSON(w, http.StatusCreated, created)
}

// Get handles GET /finance/withdrawal/{id}. Only the owner or an admin may read it.
func (h *WithdrawalHandler) Get(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, ok := withdrawalID(w, r)
	if !ok {
		return
	}

	wr, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err, "get withdrawal failed", id)
		return
	}
	if !isAdmin && wr.UserID != actorID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}

	RespondJSON(w, http.StatusOK, wr)
}

// List handles GET /finance/withdrawal.
func (h *WithdrawalHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := walletOwner(w, r)
	if !ok {
		return
	}
	page, size, err := pageParams(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-page", err.Error())
		return
	}
	items, err := h.repo.ListWithdrawals(r.Context(), userID, page, size)
	if err != nil {
		zap.L().Error("list withdrawals failed", zap.Error(err), zap.String("user_id", userID.String()))
		RespondError(w, r, http.StatusInternalServerError, "withdrawal/list-failed", "Failed to list withdrawals")
		return
	}
	RespondJSON(w, http.StatusOK, items)
}

type reviewRequest struct {
	Notes string `json:"notes"`
}

// Approve handles POST /finance/withdrawal/{id}/approve (admin only).
func (h *WithdrawalHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.svc.Approve)
}

// Reject handles POST /finance/withdrawal/{id}/reject (admin only).
func (h *WithdrawalHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.svc.Reject)
}

func (h *WithdrawalHandler) review(w http.ResponseWriter, r *http.Request, decide func(context.Context, uuid.UUID, uuid.UUID, string) (*models.WithdrawalRequest, error)) {
	adminID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, ok := withdrawalID(w, r)
	if !ok {
		return
	}
	var req reviewRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	updated, err := decide(r.Context(), id, adminID, strings.TrimSpace(req.Notes))
	if err != nil {
		h.respondError(w, r, err, "review withdrawal failed", id)
		return
	}
	RespondJSON(w, http.StatusOK, updated)
}

type resolveRequest struct {
	Decision   string `json:"decision"`
	Notes      string `json:"notes"`
	GatewayRef string `json:"gateway_ref,omitempty"`
}

// Resolve handles POST /finance/withdrawal/{id}/resolve (admin only). It
// settles a failed payout whose funds are still frozen.
func (h *WithdrawalHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	adminID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	id, ok := withdrawalID(w, r)
	if !ok {
		return
	}

	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	req.Decision = strings.TrimSpace(strings.ToLower(req.Decision))
	req.Notes = strings.TrimSpace(req.Notes)
	if req.Decision == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-decision", "decision is required")
		return
	}
	if req.Notes == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-notes", "notes are required")
		return
	}

	updated, err := h.svc.Resolve(r.Context(), service.ResolveWithdrawalInput{
		ID:         id,
		Decision:   service.ResolveDecision(req.Decision),
		AdminID:    adminID,
		Notes:      req.Notes,
		GatewayRef: req.GatewayRef,
	})
	if err != nil {
		h.respondError(w, r, err, "resolve withdrawal failed", id)
		return
	}
	RespondJSON(w, http.StatusOK, updated)
}

func withdrawalID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-withdrawal-id", "Invalid withdrawal ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *WithdrawalHandler) respondError(w http.ResponseWriter, r *http.Request, err error, msg string, id uuid.UUID) {
	switch {
	case errors.Is(err, domain.ErrWithdrawalNotFound):
		RespondError(w, r, http.StatusNotFound, "withdrawal/not-found", "Withdrawal not found")
	case errors.Is(err, domain.ErrInsufficientBalance):
		RespondError(w, r, http.StatusConflict, "withdrawal/insufficient-balance", "Insufficient withdrawable balance")
	case errors.Is(err, domain.ErrInvalidTransition):
		RespondError(w, r, http.StatusConflict, "withdrawal/invalid-transition", err.Error())
	case errors.Is(err, service.ErrNotResolvable):
		RespondError(w, r, http.StatusConflict, "withdrawal/not-resolvable", "Withdrawal is not awaiting manual resolution")
	case errors.Is(err, service.ErrInvalidResolveDecision):
		RespondError(w, r, http.StatusBadRequest, "withdrawal/invalid-decision", "decision must be confirm_sent or refund_failed")
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, service.ErrInvalidWithdrawal):
		RespondError(w, r, http.StatusBadRequest, "withdrawal/invalid-request", err.Error())
	case errors.Is(err, domain.ErrDuplicatePayment):
		RespondError(w, r, http.StatusConflict, "withdrawal/duplicate-payout", "Gateway reference already recorded")
	default:
		fields := []zap.Field{zap.Error(err)}
		if id != uuid.Nil {
			fields = append(fields, zap.String("withdrawal_id", id.String()))
		}
		zap.L().Error(msg, fields...)
		RespondError(w, r, http.StatusInternalServerError, "withdrawal/failed", "Failed to process withdrawal")
	}
}
