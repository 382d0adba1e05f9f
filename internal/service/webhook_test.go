package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ayo6706/captcha-solver-api/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAddressLookup map[string]uuid.UUID

func (f fakeAddressLookup) GetDepositAddressByAddress(_ context.Context, address string) (*models.DepositAddress, error) {
	userID, ok := f[address]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &models.DepositAddress{UserID: userID, Address: address, IsActive: true}, nil
}

func signedLedgerEvent(t *testing.T, key, address string) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(LedgerWebhookPayload{Address: address})
	require.NoError(t, err)
	return body, SignWebhookPayload(key, body)
}

func TestHandleLedgerWebhookReconcilesOwner(t *testing.T) {
	f := newEngineFixture(t, 1)
	user := f.store.addUser("addr-hook")
	f.pay("addr-hook", 1, 20, 1)
	svc := NewWebhookService(fakeAddressLookup{"addr-hook": user}, f.driver, "secret")

	body, sig := signedLedgerEvent(t, "secret", "addr-hook")
	res, err := svc.HandleLedgerWebhook(context.Background(), body, sig)
	require.NoError(t, err)

	assert.Equal(t, user, res.UserID)
	assert.Equal(t, 1, res.CreditedDeposits)
	assert.Equal(t, 20*usd, f.store.balance(user))

	// Replaying the same notification changes nothing.
	res, err = svc.HandleLedgerWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Processed())
	assert.Equal(t, 20*usd, f.store.balance(user))
}

func TestHandleLedgerWebhookRejectsBadSignature(t *testing.T) {
	f := newEngineFixture(t, 1)
	user := f.store.addUser("addr-hook")
	f.pay("addr-hook", 1, 20, 1)
	svc := NewWebhookService(fakeAddressLookup{"addr-hook": user}, f.driver, "secret")

	body, _ := signedLedgerEvent(t, "secret", "addr-hook")
	_, err := svc.HandleLedgerWebhook(context.Background(), body, SignWebhookPayload("wrong", body))
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = svc.HandleLedgerWebhook(context.Background(), body, "")
	require.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, int64(0), f.store.balance(user))
}

func TestHandleLedgerWebhookWithoutKeyRejectsEverything(t *testing.T) {
	svc := NewWebhookService(fakeAddressLookup{}, nil, "")
	body, sig := signedLedgerEvent(t, "", "addr")

	_, err := svc.HandleLedgerWebhook(context.Background(), body, sig)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestHandleLedgerWebhookInvalidPayload(t *testing.T) {
	svc := NewWebhookService(fakeAddressLookup{}, nil, "secret")

	body := []byte(`{"address":"   "}`)
	_, err := svc.HandleLedgerWebhook(context.Background(), body, SignWebhookPayload("secret", body))
	require.ErrorIs(t, err, ErrInvalidInput)

	body = []byte(`not json`)
	_, err = svc.HandleLedgerWebhook(context.Background(), body, SignWebhookPayload("secret", body))
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestHandleLedgerWebhookUnknownAddress(t *testing.T) {
	svc := NewWebhookService(fakeAddressLookup{}, nil, "secret")
	body, sig := signedLedgerEvent(t, "secret", "addr-unknown")

	_, err := svc.HandleLedgerWebhook(context.Background(), body, sig)
	require.ErrorIs(t, err, models.ErrNotFound)
}
