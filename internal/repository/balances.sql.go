package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createBalance = `
INSERT INTO balances (user_id, amount_micros, updated_at)
VALUES ($1, 0, NOW())
ON CONFLICT (user_id) DO NOTHING
`

func (q *Queries) CreateBalance(ctx context.Context, userID pgtype.UUID) error {
	_, err := q.db.Exec(ctx, createBalance, userID)
	return err
}

const getBalance = `
SELECT user_id, amount_micros, updated_at
FROM balances
WHERE user_id = $1
`

func (q *Queries) GetBalance(ctx context.Context, userID pgtype.UUID) (Balance, error) {
	row := q.db.QueryRow(ctx, getBalance, userID)
	var i Balance
	err := row.Scan(&i.UserID, &i.AmountMicros, &i.UpdatedAt)
	return i, err
}

const creditBalance = `
UPDATE balances
SET amount_micros = amount_micros + $2,
    updated_at = NOW()
WHERE user_id = $1
`

type CreditBalanceParams struct {
	UserID pgtype.UUID
	Amount int64
}

func (q *Queries) CreditBalance(ctx context.Context, arg CreditBalanceParams) (int64, error) {
	result, err := q.db.Exec(ctx, creditBalance, arg.UserID, arg.Amount)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const debitBalance = `
UPDATE balances
SET amount_micros = amount_micros - $2,
    updated_at = NOW()
WHERE user_id = $1 AND amount_micros >= $2
`

type DebitBalanceParams struct {
	UserID pgtype.UUID
	Amount int64
}

// DebitBalance affects zero rows when the balance does not cover the amount.
func (q *Queries) DebitBalance(ctx context.Context, arg DebitBalanceParams) (int64, error) {
	result, err := q.db.Exec(ctx, debitBalance, arg.UserID, arg.Amount)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
