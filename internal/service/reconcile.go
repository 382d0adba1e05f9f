package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/captcha-solver-api/internal/domain"
	"github.com/ayo6706/captcha-solver-api/internal/ledger"
	"github.com/ayo6706/captcha-solver-api/internal/models"
	"github.com/ayo6706/captcha-solver-api/internal/observability"
	"github.com/ayo6706/captcha-solver-api/internal/price"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReconcileResult summarizes one reconciliation pass for one user.
type ReconcileResult struct {
	UserID            uuid.UUID            `json:"user_id"`
	NewTransactions   []models.Transaction `json:"new_transactions"`
	Confirmed         int                  `json:"confirmed"`
	CreditedDeposits  int                  `json:"credited_deposits"`
	CreditedMicros    int64                `json:"credited_micros"`
	Skipped           int                  `json:"skipped"`
	LedgerUnavailable bool                 `json:"ledger_unavailable"`
}

// Processed counts observations that changed stored state in this pass.
func (r *ReconcileResult) Processed() int {
	return len(r.NewTransactions) + r.Confirmed
}

type ReconcilerConfig struct {
	LedgerTimeout time.Duration
}

// ReconciliationDriver runs one pass for one user: read the ledger, record
// unseen payments, advance confirmations and aggregate newly confirmed value.
// Running it again against an unchanged ledger changes nothing.
type ReconciliationDriver struct {
	store         DepositStore
	ledger        ledger.Client
	oracle        price.Oracle
	locker        Locker
	tracker       *ConfirmationTracker
	aggregator    *DepositAggregator
	audit         *AuditService
	ledgerTimeout time.Duration
}

func NewReconciliationDriver(store DepositStore, client ledger.Client, oracle price.Oracle, locker Locker, tracker *ConfirmationTracker, aggregator *DepositAggregator, cfg ReconcilerConfig) *ReconciliationDriver {
	if locker == nil {
		locker = NewLocalLocker()
	}
	timeout := cfg.LedgerTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ReconciliationDriver{
		store:         store,
		ledger:        client,
		oracle:        oracle,
		locker:        locker,
		tracker:       tracker,
		aggregator:    aggregator,
		audit:         NewAuditService(),
		ledgerTimeout: timeout,
	}
}

// Reconcile runs one pass. A ledger failure yields a result with
// LedgerUnavailable set and a nil error; storage failures are returned.
func (d *ReconciliationDriver) Reconcile(ctx context.Context, userID uuid.UUID) (*ReconcileResult, error) {
	unlock, err := d.locker.Lock(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock user %s: %w", userID, err)
	}
	defer unlock()

	result := &ReconcileResult{UserID: userID, NewTransactions: []models.Transaction{}}
	logger := zap.L().With(zap.String("user_id", userID.String()))

	addr, err := d.store.ActiveDepositAddress(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve deposit address: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, d.ledgerTimeout)
	observations, err := d.ledger.Fetch(fetchCtx, addr.Address)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		observability.IncrementLedgerFetchFailure()
		observability.IncrementReconcilePass("ledger_unavailable")
		logger.Warn("ledger fetch failed, skipping pass", zap.String("address", addr.Address), zap.Error(err))
		result.LedgerUnavailable = true
		return result, nil
	}

	latest := make(map[string]ledger.Observation, len(observations))
	order := make([]string, 0, len(observations))
	for _, raw := range observations {
		obs := raw.Normalized()
		if err := obs.Validate(); err != nil {
			result.Skipped++
			observability.IncrementSkippedObservation(skipReason(err))
			logger.Warn("skipping malformed observation", zap.String("txid", obs.TxID), zap.Error(err))
			continue
		}
		prev, seen := latest[obs.TxID]
		if !seen {
			order = append(order, obs.TxID)
		}
		if !seen || obs.Confirmations > prev.Confirmations {
			latest[obs.TxID] = obs
		}
	}

	rate := &passRate{oracle: d.oracle}
	for _, txid := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		obs := latest[txid]
		recorded, skipped, err := d.record(ctx, userID, obs, rate)
		if err != nil {
			return nil, err
		}
		if skipped {
			result.Skipped++
			continue
		}
		if recorded != nil {
			result.NewTransactions = append(result.NewTransactions, *recorded)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.settle(ctx, userID, latest, result); err != nil {
		return nil, err
	}

	observability.IncrementReconcilePass("ok")
	if result.Processed() > 0 || result.CreditedDeposits > 0 {
		logger.Info("reconciliation pass applied changes",
			zap.Int("new", len(result.NewTransactions)),
			zap.Int("confirmed", result.Confirmed),
			zap.Int("credited_deposits", result.CreditedDeposits),
			zap.Int64("credited_micros", result.CreditedMicros),
			zap.Int("skipped", result.Skipped),
		)
	}
	return result, nil
}

// record inserts an unseen txid as pending with its converted value frozen at
// the current rate. The rate is fetched at most once per pass.
func (d *ReconciliationDriver) record(ctx context.Context, userID uuid.UUID, obs ledger.Observation, rate *passRate) (*models.Transaction, bool, error) {
	var (
		created *models.Transaction
		owner   uuid.UUID
	)
	err := d.store.RunInUserTx(ctx, userID, func(tx DepositTx) error {
		created, owner = nil, uuid.Nil
		existing, err := tx.TransactionByTxID(ctx, obs.TxID)
		if err == nil {
			if existing.UserID != userID {
				owner = existing.UserID
				return nil
			}
			zap.L().Debug("duplicate observation", zap.String("txid", obs.TxID))
			return nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("lookup txid %s: %w", obs.TxID, err)
		}

		spot := rate.get(ctx)
		txn := &models.Transaction{
			ID:            uuid.New(),
			UserID:        userID,
			TxID:          obs.TxID,
			AmountSats:    obs.Amount,
			AmountMicros:  domain.ConvertSats(obs.Amount, spot).Amount,
			Rate:          spot,
			Confirmations: obs.Confirmations,
			Status:        domain.TxStatusPending,
		}
		inserted, err := tx.InsertTransaction(ctx, txn)
		if err != nil {
			return fmt.Errorf("insert transaction %s: %w", obs.TxID, err)
		}
		if !inserted {
			return nil
		}
		if err := d.audit.Write(ctx, tx, entityTransaction, txn.ID, nil, "observed", "", domain.TxStatusPending, map[string]any{
			"txid":          txn.TxID,
			"amount_sats":   int64(txn.AmountSats),
			"amount_micros": txn.AmountMicros,
			"rate":          txn.Rate.String(),
		}); err != nil {
			return err
		}
		created = txn
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if owner != uuid.Nil {
		observability.IncrementSkippedObservation("foreign_txid")
		zap.L().Warn("txid already recorded for another user",
			zap.String("user_id", userID.String()),
			zap.String("owner_id", owner.String()),
			zap.String("txid", obs.TxID),
		)
		return nil, true, nil
	}
	return created, false, nil
}

// settle advances every pending transaction that has a fresh observation and
// aggregates confirmed transactions that do not belong to a deposit yet.
// Each transaction is handled in its own database transaction.
func (d *ReconciliationDriver) settle(ctx context.Context, userID uuid.UUID, latest map[string]ledger.Observation, result *ReconcileResult) error {
	var candidates []models.Transaction
	err := d.store.RunInUserTx(ctx, userID, func(tx DepositTx) error {
		var err error
		candidates, err = tx.UnsettledTransactions(ctx, userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("list unsettled transactions: %w", err)
	}

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		txn := candidates[i]
		obs, observed := latest[txn.TxID]
		if txn.Status == domain.TxStatusPending && !observed {
			continue
		}
		// The closure may run more than once; only its final attempt counts.
		var (
			confirmedNow bool
			outcome      *AggregateOutcome
		)
		err := d.store.RunInUserTx(ctx, userID, func(tx DepositTx) error {
			confirmedNow, outcome = false, nil
			current, err := tx.TransactionByTxID(ctx, txn.TxID)
			if err != nil {
				return fmt.Errorf("reload %s: %w", txn.TxID, err)
			}
			confirmed := false
			if current.Status == domain.TxStatusPending {
				confirmed, err = d.tracker.Advance(ctx, tx, current, obs.Confirmations)
				if err != nil {
					return err
				}
			}
			if current.Status != domain.TxStatusConfirmed || current.DepositID != nil {
				return nil
			}
			added, err := d.aggregator.Add(ctx, tx, current)
			if err != nil {
				return err
			}
			confirmedNow, outcome = confirmed, added
			return nil
		})
		if err != nil {
			return fmt.Errorf("settle %s: %w", txn.TxID, err)
		}
		if confirmedNow {
			result.Confirmed++
		}
		if outcome != nil && outcome.Credited {
			result.CreditedDeposits++
			result.CreditedMicros += outcome.CreditedMicros
			observability.ObserveDepositCredited(outcome.CreditedMicros)
			zap.L().Info("deposit credited",
				zap.String("user_id", userID.String()),
				zap.String("deposit_id", outcome.Deposit.ID.String()),
				zap.String("txid", txn.TxID),
				zap.Int64("credited_micros", outcome.CreditedMicros),
			)
		}
	}
	return nil
}

// passRate asks the oracle once, on first use.
type passRate struct {
	oracle price.Oracle
	rate   decimal.Decimal
	ok     bool
}

func (p *passRate) get(ctx context.Context) decimal.Decimal {
	if !p.ok {
		p.rate = p.oracle.SpotRate(ctx)
		p.ok = true
	}
	return p.rate
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInvalidTxID):
		return "invalid_txid"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ledger.ErrInvalidDepth):
		return "invalid_confirmations"
	default:
		return "invalid"
	}
}
