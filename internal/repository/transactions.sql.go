package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const transactionColumns = `id, user_id, txid, amount_sats, amount_micros, rate::text, confirmations, status, deposit_id, received_at, confirmed_at, credited_at`

func scanTransaction(row interface{ Scan(...any) error }) (Transaction, error) {
	var i Transaction
	err := row.Scan(&i.ID, &i.UserID, &i.Txid, &i.AmountSats, &i.AmountMicros, &i.Rate, &i.Confirmations, &i.Status, &i.DepositID, &i.ReceivedAt, &i.ConfirmedAt, &i.CreditedAt)
	return i, err
}

func collectTransactions(ctx context.Context, q *Queries, sql string, args ...interface{}) ([]Transaction, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Transaction
	for rows.Next() {
		i, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getTransactionByTxid = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE txid = $1
`

func (q *Queries) GetTransactionByTxid(ctx context.Context, txid string) (Transaction, error) {
	return scanTransaction(q.db.QueryRow(ctx, getTransactionByTxid, txid))
}

const insertTransaction = `
INSERT INTO transactions (id, user_id, txid, amount_sats, amount_micros, rate, confirmations, status, received_at)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, 'pending', NOW())
ON CONFLICT (txid) DO NOTHING
`

type InsertTransactionParams struct {
	ID            pgtype.UUID
	UserID        pgtype.UUID
	Txid          string
	AmountSats    int64
	AmountMicros  int64
	Rate          string
	Confirmations int64
}

// InsertTransaction affects zero rows when the txid is already recorded.
func (q *Queries) InsertTransaction(ctx context.Context, arg InsertTransactionParams) (int64, error) {
	result, err := q.db.Exec(ctx, insertTransaction, arg.ID, arg.UserID, arg.Txid, arg.AmountSats, arg.AmountMicros, arg.Rate, arg.Confirmations)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listUnsettledTransactionsForUpdate = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE user_id = $1
  AND (status = 'pending' OR (status = 'confirmed' AND deposit_id IS NULL))
ORDER BY received_at, id
FOR UPDATE
`

// ListUnsettledTransactionsForUpdate returns pending rows and confirmed rows not yet attached to a deposit.
func (q *Queries) ListUnsettledTransactionsForUpdate(ctx context.Context, userID pgtype.UUID) ([]Transaction, error) {
	return collectTransactions(ctx, q, listUnsettledTransactionsForUpdate, userID)
}

const raiseTransactionConfirmations = `
UPDATE transactions
SET confirmations = $2
WHERE id = $1 AND status = 'pending' AND confirmations < $2
`

type RaiseTransactionConfirmationsParams struct {
	ID            pgtype.UUID
	Confirmations int64
}

func (q *Queries) RaiseTransactionConfirmations(ctx context.Context, arg RaiseTransactionConfirmationsParams) (int64, error) {
	result, err := q.db.Exec(ctx, raiseTransactionConfirmations, arg.ID, arg.Confirmations)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const confirmTransaction = `
UPDATE transactions
SET status = 'confirmed',
    confirmations = GREATEST(confirmations, $2),
    confirmed_at = NOW()
WHERE id = $1 AND status = 'pending'
`

type ConfirmTransactionParams struct {
	ID            pgtype.UUID
	Confirmations int64
}

func (q *Queries) ConfirmTransaction(ctx context.Context, arg ConfirmTransactionParams) (int64, error) {
	result, err := q.db.Exec(ctx, confirmTransaction, arg.ID, arg.Confirmations)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const attachTransactionToDeposit = `
UPDATE transactions
SET deposit_id = $2
WHERE id = $1 AND status = 'confirmed' AND deposit_id IS NULL
`

type AttachTransactionToDepositParams struct {
	ID        pgtype.UUID
	DepositID pgtype.UUID
}

func (q *Queries) AttachTransactionToDeposit(ctx context.Context, arg AttachTransactionToDepositParams) (int64, error) {
	result, err := q.db.Exec(ctx, attachTransactionToDeposit, arg.ID, arg.DepositID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const markDepositTransactionsCredited = `
UPDATE transactions
SET status = 'credited',
    credited_at = NOW()
WHERE deposit_id = $1 AND status = 'confirmed'
`

func (q *Queries) MarkDepositTransactionsCredited(ctx context.Context, depositID pgtype.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, markDepositTransactionsCredited, depositID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listTransactionsByUser = `
SELECT ` + transactionColumns + `
FROM transactions
WHERE user_id = $1
ORDER BY received_at DESC
LIMIT $2 OFFSET $3
`

type ListTransactionsByUserParams struct {
	UserID pgtype.UUID
	Limit  int32
	Offset int32
}

func (q *Queries) ListTransactionsByUser(ctx context.Context, arg ListTransactionsByUserParams) ([]Transaction, error) {
	return collectTransactions(ctx, q, listTransactionsByUser, arg.UserID, arg.Limit, arg.Offset)
}

const sumReceivedMicros = `
SELECT COALESCE(SUM(amount_micros), 0)::bigint
FROM transactions
WHERE user_id = $1 AND status IN ('confirmed', 'credited')
`

func (q *Queries) SumReceivedMicros(ctx context.Context, userID pgtype.UUID) (int64, error) {
	row := q.db.QueryRow(ctx, sumReceivedMicros, userID)
	var total int64
	err := row.Scan(&total)
	return total, err
}

const countCreditedOutsideCreditedDeposit = `
SELECT COUNT(*)
FROM transactions t
LEFT JOIN deposits d ON d.id = t.deposit_id
WHERE t.status = 'credited' AND (d.id IS NULL OR d.status <> 'credited')
`

func (q *Queries) CountCreditedOutsideCreditedDeposit(ctx context.Context) (int64, error) {
	row := q.db.QueryRow(ctx, countCreditedOutsideCreditedDeposit)
	var n int64
	err := row.Scan(&n)
	return n, err
}
