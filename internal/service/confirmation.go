package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/captcha-solver-api/internal/domain"
	"github.com/ayo6706/captcha-solver-api/internal/models"
)

// ConfirmationTracker moves transactions from pending to confirmed once the
// ledger reports enough depth. confirmed and credited are terminal for it.
type ConfirmationTracker struct {
	threshold int64
	audit     *AuditService
}

func NewConfirmationTracker(threshold int64, audit *AuditService) *ConfirmationTracker {
	if threshold < 1 {
		threshold = 1
	}
	return &ConfirmationTracker{threshold: threshold, audit: audit}
}

func (t *ConfirmationTracker) Threshold() int64 {
	return t.threshold
}

// Advance applies an observed confirmation count to txn and reports whether
// this call confirmed it. Re-applying the same or a lower count is a no-op.
func (t *ConfirmationTracker) Advance(ctx context.Context, tx DepositTx, txn *models.Transaction, confirmations int64) (bool, error) {
	if txn.Status != domain.TxStatusPending {
		return false, nil
	}

	if confirmations < t.threshold {
		if confirmations <= txn.Confirmations {
			return false, nil
		}
		if err := tx.RaiseConfirmations(ctx, txn.ID, confirmations); err != nil {
			return false, fmt.Errorf("record confirmations for %s: %w", txn.TxID, err)
		}
		txn.Confirmations = confirmations
		return false, nil
	}

	if err := checkTransition(transactionTransitions, entityTransaction, txn.Status, domain.TxStatusConfirmed); err != nil {
		return false, err
	}
	rows, err := tx.ConfirmTransaction(ctx, txn.ID, confirmations)
	if err != nil {
		return false, fmt.Errorf("confirm transaction %s: %w", txn.TxID, err)
	}
	if err := requireExactlyOne(rows, "confirm transaction"); err != nil {
		return false, err
	}
	if err := t.audit.Write(ctx, tx, entityTransaction, txn.ID, nil, "confirmed", txn.Status, domain.TxStatusConfirmed, map[string]any{
		"txid":          txn.TxID,
		"confirmations": confirmations,
	}); err != nil {
		return false, err
	}

	txn.Status = domain.TxStatusConfirmed
	if confirmations > txn.Confirmations {
		txn.Confirmations = confirmations
	}
	return true, nil
}
