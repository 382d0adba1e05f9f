package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/captcha-solver-api/internal/config"
	"github.com/ayo6706/captcha-solver-api/internal/domain"
	"github.com/ayo6706/captcha-solver-api/internal/models"
	"github.com/ayo6706/captcha-solver-api/internal/observability"
	"go.uber.org/zap"
)

// AggregateOutcome describes what adding one transaction did to the user's bucket.
type AggregateOutcome struct {
	Deposit        *models.Deposit
	Credited       bool
	CreditedMicros int64
}

// DepositAggregator accumulates confirmed transactions into the user's open
// deposit and credits the deposit once its total reaches the minimum.
type DepositAggregator struct {
	minDepositMicros int64
	overshootPolicy  string
	audit            *AuditService
}

func NewDepositAggregator(cfg config.DepositConfig, audit *AuditService) (*DepositAggregator, error) {
	if cfg.MinDepositMicros <= 0 {
		return nil, fmt.Errorf("minimum deposit must be positive")
	}
	policy := cfg.OvershootPolicy
	if policy == "" {
		policy = config.OvershootAbsorb
	}
	if policy != config.OvershootAbsorb {
		return nil, fmt.Errorf("unsupported overshoot policy %q", policy)
	}
	return &DepositAggregator{
		minDepositMicros: cfg.MinDepositMicros,
		overshootPolicy:  policy,
		audit:            audit,
	}, nil
}

func (a *DepositAggregator) MinDepositMicros() int64 {
	return a.minDepositMicros
}

// Add attaches a confirmed transaction to the open deposit, creating one if
// needed, and credits the deposit in the same transaction when it crosses the
// minimum. A transaction that already belongs to a deposit is rejected.
func (a *DepositAggregator) Add(ctx context.Context, tx DepositTx, txn *models.Transaction) (*AggregateOutcome, error) {
	if txn.DepositID != nil {
		return nil, fmt.Errorf("%w: %s in deposit %s", ErrAlreadyAggregated, txn.TxID, txn.DepositID)
	}
	if txn.Status != domain.TxStatusConfirmed {
		return nil, fmt.Errorf("%w: aggregate %s in status %s", ErrInvariantViolation, txn.TxID, txn.Status)
	}

	deposit, err := tx.OpenDeposit(ctx, txn.UserID)
	if errors.Is(err, models.ErrNotFound) {
		deposit, err = tx.CreateDeposit(ctx, txn.UserID)
		if err != nil {
			return nil, fmt.Errorf("create deposit: %w", err)
		}
		if err := a.audit.Write(ctx, tx, entityDeposit, deposit.ID, nil, "opened", "", domain.DepositStatusPending, nil); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("load open deposit: %w", err)
	}

	rows, err := tx.AttachTransaction(ctx, txn.ID, deposit.ID)
	if err != nil {
		return nil, fmt.Errorf("attach transaction %s: %w", txn.TxID, err)
	}
	if err := requireExactlyOne(rows, "attach transaction to deposit"); err != nil {
		return nil, err
	}
	depositID := deposit.ID
	txn.DepositID = &depositID

	prevStatus := deposit.Status
	deposit.TotalSats += txn.AmountSats
	deposit.TotalMicros += txn.AmountMicros
	nextStatus := prevStatus
	if deposit.TotalMicros > 0 {
		nextStatus = domain.DepositStatusPartial
	}
	if err := checkTransition(depositTransitions, entityDeposit, prevStatus, nextStatus); err != nil {
		return nil, err
	}
	deposit.Status = nextStatus

	rows, err = tx.UpdateDepositTotals(ctx, deposit)
	if err != nil {
		return nil, fmt.Errorf("update deposit totals: %w", err)
	}
	if err := requireExactlyOne(rows, "update deposit totals"); err != nil {
		return nil, err
	}
	if err := a.audit.Write(ctx, tx, entityDeposit, deposit.ID, nil, "transaction_added", prevStatus, deposit.Status, map[string]any{
		"txid":          txn.TxID,
		"amount_micros": txn.AmountMicros,
		"total_micros":  deposit.TotalMicros,
	}); err != nil {
		return nil, err
	}

	outcome := &AggregateOutcome{Deposit: deposit}
	if deposit.TotalMicros < a.minDepositMicros {
		return outcome, nil
	}

	credited, err := creditDeposit(ctx, tx, a.audit, deposit)
	if err != nil {
		return nil, err
	}
	txn.Status = domain.TxStatusCredited
	outcome.Credited = true
	outcome.CreditedMicros = credited
	return outcome, nil
}

// creditDeposit seals the deposit, marks every member transaction credited and
// adds the deposit total to the user's balance. All of it commits or none of it.
func creditDeposit(ctx context.Context, tx DepositTx, audit *AuditService, deposit *models.Deposit) (int64, error) {
	if err := checkTransition(depositTransitions, entityDeposit, deposit.Status, domain.DepositStatusCredited); err != nil {
		return 0, err
	}

	credited, err := tx.CreditDeposit(ctx, deposit.ID)
	if errors.Is(err, models.ErrNotFound) {
		return 0, invariantViolation("deposit_not_open", fmt.Errorf("%w: deposit %s is not open", ErrInvariantViolation, deposit.ID))
	}
	if err != nil {
		return 0, fmt.Errorf("credit deposit: %w", err)
	}
	if credited != deposit.TotalMicros {
		return 0, invariantViolation("credited_amount", fmt.Errorf("%w: deposit %s credited %d, expected %d", ErrInvariantViolation, deposit.ID, credited, deposit.TotalMicros))
	}

	members, err := tx.MarkDepositTransactionsCredited(ctx, deposit.ID)
	if err != nil {
		return 0, fmt.Errorf("mark deposit transactions credited: %w", err)
	}
	if members < 1 {
		return 0, invariantViolation("empty_deposit", fmt.Errorf("%w: deposit %s has no confirmed members", ErrInvariantViolation, deposit.ID))
	}

	rows, err := tx.CreditBalance(ctx, deposit.UserID, credited)
	if err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	if err := requireExactlyOne(rows, "credit balance"); err != nil {
		return 0, invariantViolation("balance_missing", err)
	}

	prev := deposit.Status
	if err := audit.Write(ctx, tx, entityDeposit, deposit.ID, nil, "credited", prev, domain.DepositStatusCredited, map[string]any{
		"credited_micros": credited,
		"members":         members,
	}); err != nil {
		return 0, err
	}
	if err := audit.Write(ctx, tx, entityBalance, deposit.UserID, nil, "deposit_credited", "", "", map[string]any{
		"deposit_id":    deposit.ID.String(),
		"amount_micros": credited,
	}); err != nil {
		return 0, err
	}

	deposit.Status = domain.DepositStatusCredited
	deposit.CreditedMicros = credited
	return credited, nil
}

func invariantViolation(kind string, err error) error {
	observability.IncrementInvariantViolation(kind)
	zap.L().Error("deposit invariant violated", zap.String("kind", kind), zap.Error(err))
	return err
}
