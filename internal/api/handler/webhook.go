package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/captcha-solver-api/internal/api/middleware"
	"github.com/ayo6706/captcha-solver-api/internal/service"
	"go.uber.org/zap"
)

// WebhookHandler handles ledger activity notifications from external systems.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{
		webhookSvc: webhookSvc,
	}
}

// HandleLedgerWebhook handles POST /v1/webhooks/ledger. It verifies the HMAC
// signature and runs a reconciliation pass for the owner of the address.
func (h *WebhookHandler) HandleLedgerWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		middleware.RequestLogger(r.Context(), zap.L()).Warn("read webhook body failed", zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	result, err := h.webhookSvc.HandleLedgerWebhook(r.Context(), body, r.Header.Get("X-Webhook-Signature"))
	if errors.Is(err, service.ErrInvalidSignature) {
		RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "Invalid signature")
		return
	}
	if err != nil {
		respondServiceError(w, r, err, "webhook/processing-failed", "Failed to process webhook")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"processed":          result.Processed(),
		"credited_deposits":  result.CreditedDeposits,
		"ledger_unavailable": result.LedgerUnavailable,
	})
}
