package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/ayo6706/legal-settlement/internal/gateway"
	"github.com/ayo6706/legal-settlement/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentHandler opens payment orders and maintains case party assignments.
type PaymentHandler struct {
	orders *service.OrderService
}

func NewPaymentHandler(orders *service.OrderService) *PaymentHandler {
	return &PaymentHandler{orders: orders}
}

type createPaymentRequest struct {
	CaseID      string       `json:"case_id"`
	Amount      domain.Money `json:"amount"`
	Description string       `json:"description"`
	Method      string       `json:"method"`
}

// CreatePayment handles POST /finance/payment/create.
func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req createPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		if errors.Is(err, domain.ErrInvalidAmount) {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", err.Error())
			return
		}
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if strings.TrimSpace(req.CaseID) == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-case-id", "case_id is required")
		return
	}

	order, err := h.orders.CreatePaymentOrder(r.Context(), service.CreateOrderInput{
		PayerID:     actorID,
		CaseRef:     req.CaseID,
		Amount:      req.Amount,
		Description: req.Description,
		Method:      req.Method,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidAmount):
			RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", "Amount must be greater than zero")
		case errors.Is(err, gateway.ErrUnsupportedMethod):
			RespondError(w, r, http.StatusBadRequest, "payment/unsupported-method", "method must be wechat or alipay")
		case errors.Is(err, domain.ErrCaseNotFound):
			RespondError(w, r, http.StatusNotFound, "payment/case-not-found", "Case not found")
		default:
			zap.L().Error("create payment order failed", zap.Error(err), zap.String("case_id", req.CaseID))
			RespondError(w, r, http.StatusBadGateway, "payment/create-failed", "Failed to create payment order")
		}
		return
	}

	RespondJSON(w, http.StatusCreated, order)
}

type casePartiesRequest struct {
	LawyerID      *uuid.UUID `json:"lawyer_id"`
	SalesID       *uuid.UUID `json:"sales_id"`
	InstitutionID *uuid.UUID `json:"institution_id"`
}

func (req casePartiesRequest) ids() (lawyer, sales, institution uuid.UUID) {
	if req.LawyerID != nil {
		lawyer = *req.LawyerID
	}
	if req.SalesID != nil {
		sales = *req.SalesID
	}
	if req.InstitutionID != nil {
		institution = *req.InstitutionID
	}
	return lawyer, sales, institution
}

// PutCaseParties handles PUT /finance/admin/cases/{caseRef}/parties (admin only).
// Omitted parties are stored as absent; their share goes to the platform.
func (h *PaymentHandler) PutCaseParties(w http.ResponseWriter, r *http.Request) {
	caseRef := strings.TrimSpace(chi.URLParam(r, "caseRef"))
	var req casePartiesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	lawyer, sales, institution := req.ids()
	if err := h.orders.RegisterCaseParties(r.Context(), caseRef, lawyer, sales, institution); err != nil {
		if errors.Is(err, domain.ErrCaseNotFound) {
			RespondError(w, r, http.StatusBadRequest, "request/missing-case-ref", "case reference is required")
			return
		}
		if status, pType, msg, ok := mapDBError(err); ok {
			RespondError(w, r, status, pType, msg)
			return
		}
		zap.L().Error("register case parties failed", zap.Error(err), zap.String("case_ref", caseRef))
		RespondError(w, r, http.StatusInternalServerError, "case/update-failed", "Failed to update case parties")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"case_id":        caseRef,
		"lawyer_id":      req.LawyerID,
		"sales_id":       req.SalesID,
		"institution_id": req.InstitutionID,
	})
}
