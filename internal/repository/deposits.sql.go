package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const depositColumns = `id, user_id, total_sats, total_micros, credited_micros, status, created_at, updated_at, credited_at`

func scanDeposit(row interface{ Scan(...any) error }) (Deposit, error) {
	var i Deposit
	err := row.Scan(&i.ID, &i.UserID, &i.TotalSats, &i.TotalMicros, &i.CreditedMicros, &i.Status, &i.CreatedAt, &i.UpdatedAt, &i.CreditedAt)
	return i, err
}

const getOpenDepositForUpdate = `
SELECT ` + depositColumns + `
FROM deposits
WHERE user_id = $1 AND status IN ('pending', 'partial')
FOR UPDATE
`

func (q *Queries) GetOpenDepositForUpdate(ctx context.Context, userID pgtype.UUID) (Deposit, error) {
	return scanDeposit(q.db.QueryRow(ctx, getOpenDepositForUpdate, userID))
}

const createDeposit = `
INSERT INTO deposits (id, user_id, total_sats, total_micros, credited_micros, status, created_at, updated_at)
VALUES ($1, $2, 0, 0, 0, 'pending', NOW(), NOW())
RETURNING ` + depositColumns

type CreateDepositParams struct {
	ID     pgtype.UUID
	UserID pgtype.UUID
}

func (q *Queries) CreateDeposit(ctx context.Context, arg CreateDepositParams) (Deposit, error) {
	return scanDeposit(q.db.QueryRow(ctx, createDeposit, arg.ID, arg.UserID))
}

const updateDepositTotals = `
UPDATE deposits
SET total_sats = $2,
    total_micros = $3,
    status = $4,
    updated_at = NOW()
WHERE id = $1 AND status IN ('pending', 'partial')
`

type UpdateDepositTotalsParams struct {
	ID          pgtype.UUID
	TotalSats   int64
	TotalMicros int64
	Status      string
}

func (q *Queries) UpdateDepositTotals(ctx context.Context, arg UpdateDepositTotalsParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateDepositTotals, arg.ID, arg.TotalSats, arg.TotalMicros, arg.Status)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const creditDeposit = `
UPDATE deposits
SET status = 'credited',
    credited_micros = total_micros,
    credited_at = NOW(),
    updated_at = NOW()
WHERE id = $1 AND status IN ('pending', 'partial')
RETURNING credited_micros
`

// CreditDeposit seals an open deposit and returns the credited amount.
// pgx.ErrNoRows means the deposit was not open.
func (q *Queries) CreditDeposit(ctx context.Context, id pgtype.UUID) (int64, error) {
	row := q.db.QueryRow(ctx, creditDeposit, id)
	var credited int64
	err := row.Scan(&credited)
	return credited, err
}

const listDepositsByUser = `
SELECT ` + depositColumns + `
FROM deposits
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

type ListDepositsByUserParams struct {
	UserID pgtype.UUID
	Limit  int32
	Offset int32
}

func (q *Queries) ListDepositsByUser(ctx context.Context, arg ListDepositsByUserParams) ([]Deposit, error) {
	rows, err := q.db.Query(ctx, listDepositsByUser, arg.UserID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Deposit
	for rows.Next() {
		i, err := scanDeposit(rows)
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

const listDepositMembers = `
SELECT deposit_id, id
FROM transactions
WHERE deposit_id = ANY($1::uuid[])
ORDER BY deposit_id, received_at, id
`

type ListDepositMembersRow struct {
	DepositID pgtype.UUID
	ID        pgtype.UUID
}

// ListDepositMembers returns the member transactions of every given deposit,
// ordered by arrival within each deposit.
func (q *Queries) ListDepositMembers(ctx context.Context, depositIDs []pgtype.UUID) ([]ListDepositMembersRow, error) {
	rows, err := q.db.Query(ctx, listDepositMembers, depositIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListDepositMembersRow
	for rows.Next() {
		var i ListDepositMembersRow
		if err := rows.Scan(&i.DepositID, &i.ID); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listDepositTotalMismatches = `
SELECT d.id, d.user_id, d.total_micros, COALESCE(SUM(t.amount_micros), 0)::bigint AS member_micros
FROM deposits d
LEFT JOIN transactions t ON t.deposit_id = d.id
GROUP BY d.id, d.user_id, d.total_micros
HAVING d.total_micros <> COALESCE(SUM(t.amount_micros), 0)
`

type ListDepositTotalMismatchesRow struct {
	ID           pgtype.UUID
	UserID       pgtype.UUID
	TotalMicros  int64
	MemberMicros int64
}

func (q *Queries) ListDepositTotalMismatches(ctx context.Context) ([]ListDepositTotalMismatchesRow, error) {
	rows, err := q.db.Query(ctx, listDepositTotalMismatches)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListDepositTotalMismatchesRow
	for rows.Next() {
		var i ListDepositTotalMismatchesRow
		if err := rows.Scan(&i.ID, &i.UserID, &i.TotalMicros, &i.MemberMicros); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listBalanceMismatches = `
SELECT b.user_id, b.amount_micros,
       (COALESCE(c.credited, 0) - COALESCE(s.spent, 0))::bigint AS expected_micros
FROM balances b
LEFT JOIN (
    SELECT user_id, SUM(credited_micros) AS credited
    FROM deposits
    WHERE status = 'credited'
    GROUP BY user_id
) c ON c.user_id = b.user_id
LEFT JOIN (
    SELECT user_id, SUM(cost_micros) AS spent
    FROM captcha_solves
    WHERE status IN ('pending', 'success')
    GROUP BY user_id
) s ON s.user_id = b.user_id
WHERE b.amount_micros <> COALESCE(c.credited, 0) - COALESCE(s.spent, 0)
`

type ListBalanceMismatchesRow struct {
	UserID         pgtype.UUID
	AmountMicros   int64
	ExpectedMicros int64
}

// ListBalanceMismatches compares every balance with credited deposits minus charged solves.
func (q *Queries) ListBalanceMismatches(ctx context.Context) ([]ListBalanceMismatchesRow, error) {
	rows, err := q.db.Query(ctx, listBalanceMismatches)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListBalanceMismatchesRow
	for rows.Next() {
		var i ListBalanceMismatchesRow
		if err := rows.Scan(&i.UserID, &i.AmountMicros, &i.ExpectedMicros); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
