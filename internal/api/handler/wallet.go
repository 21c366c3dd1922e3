package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/legal-settlement/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WalletHandler serves balances, the wallet ledger and commission history.
type WalletHandler struct {
	repo *repository.Repository
}

func NewWalletHandler(repo *repository.Repository) *WalletHandler {
	return &WalletHandler{repo: repo}
}

// walletOwner resolves whose wallet is requested. Administrators may pass ?user_id=.
func walletOwner(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return uuid.Nil, false
	}
	raw := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if raw == "" {
		return actorID, true
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-user-id", "Invalid user_id")
		return uuid.Nil, false
	}
	if !isAdmin && userID != actorID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return uuid.Nil, false
	}
	return userID, true
}

// GetWallet handles GET /finance/wallet.
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := walletOwner(w, r)
	if !ok {
		return
	}
	wallet, err := h.repo.GetWallet(r.Context(), userID)
	if err != nil {
		zap.L().Error("get wallet failed", zap.Error(err), zap.String("user_id", userID.String()))
		RespondError(w, r, http.StatusInternalServerError, "wallet/read-failed", "Failed to get wallet")
		return
	}
	RespondJSON(w, http.StatusOK, wallet)
}

// GetLedger handles GET /finance/wallet/ledger.
func (h *WalletHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := walletOwner(w, r)
	if !ok {
		return
	}
	page, size, err := pageParams(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-page", err.Error())
		return
	}
	entries, err := h.repo.ListLedgerEntries(r.Context(), userID, page, size)
	if err != nil {
		zap.L().Error("list ledger entries failed", zap.Error(err), zap.String("user_id", userID.String()))
		RespondError(w, r, http.StatusInternalServerError, "wallet/ledger-read-failed", "Failed to get ledger")
		return
	}
	RespondJSON(w, http.StatusOK, entries)
}

// GetCommissions handles GET /finance/commission/details.
func (h *WalletHandler) GetCommissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := walletOwner(w, r)
	if !ok {
		return
	}
	page, size, err := pageParams(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-page", err.Error())
		return
	}
	splits, err := h.repo.ListCommissionSplits(r.Context(), userID, page, size)
	if err != nil {
		zap.L().Error("list commission splits failed", zap.Error(err), zap.String("user_id", userID.String()))
		RespondError(w, r, http.StatusInternalServerError, "commission/read-failed", "Failed to get commission details")
		return
	}
	RespondJSON(w, http.StatusOK, splits)
}
