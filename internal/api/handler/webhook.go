package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/ayo6706/legal-settlement/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// genericNotifier is the notifier behind the bare /payment/notify route.
const genericNotifier = "notify"

// WebhookHandler receives payment notifications from gateways.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
	timeout    time.Duration
}

func NewWebhookHandler(webhookSvc *service.WebhookService, timeout time.Duration) *WebhookHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookHandler{webhookSvc: webhookSvc, timeout: timeout}
}

// Notify handles POST /payment/notify.
func (h *WebhookHandler) Notify(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, genericNotifier)
}

// NotifyGateway handles POST /payment/notify/{gateway}.
func (h *WebhookHandler) NotifyGateway(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, chi.URLParam(r, "gateway"))
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request, name string) {
	notifier, ok := h.webhookSvc.Notifier(name)
	if !ok {
		RespondError(w, r, http.StatusNotFound, "webhook/unknown-gateway", "unknown payment gateway")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}
	delivery := service.Delivery{Body: body}
	if header := notifier.SignatureHeader(); header != "" {
		delivery.Signature = r.Header.Get(header)
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := h.webhookSvc.Handle(ctx, notifier, delivery)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSignature):
			RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
		case errors.Is(err, service.ErrInvalidNotification),
			errors.Is(err, domain.ErrInvalidAmount),
			errors.Is(err, domain.ErrInvalidGatewayTxnID):
			RespondError(w, r, http.StatusBadRequest, "webhook/invalid-payload", err.Error())
		case errors.Is(err, domain.ErrPaymentMismatch), errors.Is(err, domain.ErrOrderNotFound):
			zap.L().Warn("payment notification rejected", zap.String("gateway", notifier.Name()), zap.Error(err))
			RespondError(w, r, http.StatusUnprocessableEntity, "webhook/payment-mismatch", err.Error())
		default:
			zap.L().Error("process payment notification failed", zap.String("gateway", notifier.Name()), zap.Error(err))
			RespondError(w, r, http.StatusInternalServerError, "webhook/processing-failed", "Failed to process notification")
		}
		return
	}

	zap.L().Debug("payment notification acknowledged",
		zap.String("gateway", notifier.Name()),
		zap.String("transaction_id", result.TransactionID.String()),
		zap.Bool("duplicate", result.Duplicate),
		zap.Bool("ignored", result.Ignored),
	)
	ack := notifier.Ack()
	w.Header().Set("Content-Type", ack.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(ack.Body)
}
