package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/captcha-solver-api/internal/models"
	"github.com/ayo6706/captcha-solver-api/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// QueryStore is the Postgres access every service is built on: plain queries
// plus transaction scoping.
type QueryStore interface {
	Queries() *repository.Queries
	RunInTx(ctx context.Context, fn func(q *repository.Queries) error) error
}

// AuditSink receives audit rows inside the caller's transaction.
type AuditSink interface {
	InsertAuditLog(ctx context.Context, arg repository.InsertAuditLogParams) (int64, error)
}

// DepositTx is the transactional view the deposit engine works through.
// Every method runs inside the transaction opened by DepositStore.RunInUserTx.
type DepositTx interface {
	AuditSink
	TransactionByTxID(ctx context.Context, txid string) (*models.Transaction, error)
	InsertTransaction(ctx context.Context, txn *models.Transaction) (bool, error)
	UnsettledTransactions(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error)
	RaiseConfirmations(ctx context.Context, id uuid.UUID, confirmations int64) error
	ConfirmTransaction(ctx context.Context, id uuid.UUID, confirmations int64) (int64, error)
	OpenDeposit(ctx context.Context, userID uuid.UUID) (*models.Deposit, error)
	CreateDeposit(ctx context.Context, userID uuid.UUID) (*models.Deposit, error)
	AttachTransaction(ctx context.Context, txnID, depositID uuid.UUID) (int64, error)
	UpdateDepositTotals(ctx context.Context, d *models.Deposit) (int64, error)
	CreditDeposit(ctx context.Context, depositID uuid.UUID) (int64, error)
	MarkDepositTransactionsCredited(ctx context.Context, depositID uuid.UUID) (int64, error)
	CreditBalance(ctx context.Context, userID uuid.UUID, amountMicros int64) (int64, error)
}

// DepositStore scopes deposit engine writes to a single user.
type DepositStore interface {
	RunInUserTx(ctx context.Context, userID uuid.UUID, fn func(tx DepositTx) error) error
	ActiveDepositAddress(ctx context.Context, userID uuid.UUID) (*models.DepositAddress, error)
}

// PgDepositStore implements DepositStore on Postgres. Each transaction first
// takes the user's advisory lock so writers for one user serialize in storage
// even without an application lock.
type PgDepositStore struct {
	store QueryStore
}

func NewPgDepositStore(store QueryStore) *PgDepositStore {
	return &PgDepositStore{store: store}
}

func (s *PgDepositStore) RunInUserTx(ctx context.Context, userID uuid.UUID, fn func(tx DepositTx) error) error {
	return s.store.RunInTx(ctx, func(q *repository.Queries) error {
		if err := q.LockUser(ctx, repository.ToPgUUID(userID)); err != nil {
			return fmt.Errorf("lock user %s: %w", userID, err)
		}
		return fn(&pgDepositTx{q: q})
	})
}

func (s *PgDepositStore) ActiveDepositAddress(ctx context.Context, userID uuid.UUID) (*models.DepositAddress, error) {
	row, err := s.store.Queries().GetActiveDepositAddress(ctx, repository.ToPgUUID(userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("get deposit address: %w", err)
	}
	return row.Model(), nil
}

type pgDepositTx struct {
	q *repository.Queries
}

func (t *pgDepositTx) InsertAuditLog(ctx context.Context, arg repository.InsertAuditLogParams) (int64, error) {
	return t.q.InsertAuditLog(ctx, arg)
}

func (t *pgDepositTx) TransactionByTxID(ctx context.Context, txid string) (*models.Transaction, error) {
	row, err := t.q.GetTransactionByTxid(ctx, txid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return row.Model()
}

func (t *pgDepositTx) InsertTransaction(ctx context.Context, txn *models.Transaction) (bool, error) {
	rows, err := t.q.InsertTransaction(ctx, repository.InsertTransactionParams{
		ID:            repository.ToPgUUID(txn.ID),
		UserID:        repository.ToPgUUID(txn.UserID),
		Txid:          txn.TxID,
		AmountSats:    int64(txn.AmountSats),
		AmountMicros:  txn.AmountMicros,
		Rate:          txn.Rate.String(),
		Confirmations: txn.Confirmations,
	})
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (t *pgDepositTx) UnsettledTransactions(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	rows, err := t.q.ListUnsettledTransactionsForUpdate(ctx, repository.ToPgUUID(userID))
	if err != nil {
		return nil, err
	}
	out := make([]models.Transaction, 0, len(rows))
	for _, row := range rows {
		txn, err := row.Model()
		if err != nil {
			return nil, err
		}
		out = append(out, *txn)
	}
	return out, nil
}

func (t *pgDepositTx) RaiseConfirmations(ctx context.Context, id uuid.UUID, confirmations int64) error {
	_, err := t.q.RaiseTransactionConfirmations(ctx, repository.RaiseTransactionConfirmationsParams{
		ID:            repository.ToPgUUID(id),
		Confirmations: confirmations,
	})
	return err
}

func (t *pgDepositTx) ConfirmTransaction(ctx context.Context, id uuid.UUID, confirmations int64) (int64, error) {
	return t.q.ConfirmTransaction(ctx, repository.ConfirmTransactionParams{
		ID:            repository.ToPgUUID(id),
		Confirmations: confirmations,
	})
}

func (t *pgDepositTx) OpenDeposit(ctx context.Context, userID uuid.UUID) (*models.Deposit, error) {
	row, err := t.q.GetOpenDepositForUpdate(ctx, repository.ToPgUUID(userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return row.Model(), nil
}

func (t *pgDepositTx) CreateDeposit(ctx context.Context, userID uuid.UUID) (*models.Deposit, error) {
	row, err := t.q.CreateDeposit(ctx, repository.CreateDepositParams{
		ID:     repository.ToPgUUID(uuid.New()),
		UserID: repository.ToPgUUID(userID),
	})
	if err != nil {
		return nil, err
	}
	return row.Model(), nil
}

func (t *pgDepositTx) AttachTransaction(ctx context.Context, txnID, depositID uuid.UUID) (int64, error) {
	return t.q.AttachTransactionToDeposit(ctx, repository.AttachTransactionToDepositParams{
		ID:        repository.ToPgUUID(txnID),
		DepositID: repository.ToPgUUID(depositID),
	})
}

func (t *pgDepositTx) UpdateDepositTotals(ctx context.Context, d *models.Deposit) (int64, error) {
	return t.q.UpdateDepositTotals(ctx, repository.UpdateDepositTotalsParams{
		ID:          repository.ToPgUUID(d.ID),
		TotalSats:   int64(d.TotalSats),
		TotalMicros: d.TotalMicros,
		Status:      d.Status,
	})
}

func (t *pgDepositTx) CreditDeposit(ctx context.Context, depositID uuid.UUID) (int64, error) {
	credited, err := t.q.CreditDeposit(ctx, repository.ToPgUUID(depositID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, models.ErrNotFound
		}
		return 0, err
	}
	return credited, nil
}

func (t *pgDepositTx) MarkDepositTransactionsCredited(ctx context.Context, depositID uuid.UUID) (int64, error) {
	return t.q.MarkDepositTransactionsCredited(ctx, repository.ToPgUUID(depositID))
}

func (t *pgDepositTx) CreditBalance(ctx context.Context, userID uuid.UUID, amountMicros int64) (int64, error) {
	return t.q.CreditBalance(ctx, repository.CreditBalanceParams{
		UserID: repository.ToPgUUID(userID),
		Amount: amountMicros,
	})
}
