package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/captcha-solver-api/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInvalidSignature = errors.New("invalid signature")

// Reconciler runs one reconciliation pass for a user.
type Reconciler interface {
	Reconcile(ctx context.Context, userID uuid.UUID) (*ReconcileResult, error)
}

// AddressLookup resolves the owner of a deposit address.
type AddressLookup interface {
	GetDepositAddressByAddress(ctx context.Context, address string) (*models.DepositAddress, error)
}

// WebhookService handles activity notifications from the ledger provider.
// A notification only triggers a pass; it never carries amounts the engine trusts.
type WebhookService struct {
	addresses  AddressLookup
	reconciler Reconciler
	hmacKey    []byte
}

// NewWebhookService creates a new WebhookService instance.
func NewWebhookService(addresses AddressLookup, reconciler Reconciler, hmacKey string) *WebhookService {
	return &WebhookService{
		addresses:  addresses,
		reconciler: reconciler,
		hmacKey:    []byte(hmacKey),
	}
}

// LedgerWebhookPayload names the address that saw activity.
type LedgerWebhookPayload struct {
	Address string `json:"address"`
}

// HandleLedgerWebhook verifies the HMAC signature and reconciles the owner of the address.
func (s *WebhookService) HandleLedgerWebhook(ctx context.Context, payload []byte, signature string) (*ReconcileResult, error) {
	if !s.verifyHMAC(payload, signature) {
		return nil, ErrInvalidSignature
	}

	var event LedgerWebhookPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: invalid payload: %v", ErrInvalidInput, err)
	}
	event.Address = strings.TrimSpace(event.Address)
	if event.Address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrInvalidInput)
	}

	addr, err := s.addresses.GetDepositAddressByAddress(ctx, event.Address)
	if err != nil {
		return nil, err
	}
	zap.L().Info("ledger webhook received", zap.String("address", event.Address), zap.String("user_id", addr.UserID.String()))
	return s.reconciler.Reconcile(ctx, addr.UserID)
}

// verifyHMAC verifies the HMAC signature of the payload.
func (s *WebhookService) verifyHMAC(payload []byte, signature string) bool {
	if len(s.hmacKey) == 0 {
		return false
	}

	h := hmac.New(sha256.New, s.hmacKey)
	h.Write(payload)
	expectedSig := "sha256=" + hex.EncodeToString(h.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expectedSig))
}

// SignWebhookPayload computes the signature header value for payload.
func SignWebhookPayload(key string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
