package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createAPIToken = `
INSERT INTO api_tokens (id, user_id, token, name, is_active, created_at)
VALUES ($1, $2, $3, $4, TRUE, NOW())
RETURNING id, user_id, token, name, is_active, created_at, last_used
`

type CreateAPITokenParams struct {
	ID     pgtype.UUID
	UserID pgtype.UUID
	Token  string
	Name   string
}

func (q *Queries) CreateAPIToken(ctx context.Context, arg CreateAPITokenParams) (ApiToken, error) {
	row := q.db.QueryRow(ctx, createAPIToken, arg.ID, arg.UserID, arg.Token, arg.Name)
	var i ApiToken
	err := row.Scan(&i.ID, &i.UserID, &i.Token, &i.Name, &i.IsActive, &i.CreatedAt, &i.LastUsed)
	return i, err
}

const listAPITokens = `
SELECT id, user_id, token, name, is_active, created_at, last_used
FROM api_tokens
WHERE user_id = $1
ORDER BY created_at DESC
`

func (q *Queries) ListAPITokens(ctx context.Context, userID pgtype.UUID) ([]ApiToken, error) {
	rows, err := q.db.Query(ctx, listAPITokens, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ApiToken
	for rows.Next() {
		var i ApiToken
		if err := rows.Scan(&i.ID, &i.UserID, &i.Token, &i.Name, &i.IsActive, &i.CreatedAt, &i.LastUsed); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getAPITokenByValue = `
SELECT t.id, t.user_id, t.token, t.name, t.is_active, t.created_at, t.last_used, u.is_active AS user_active, u.role
FROM api_tokens t
JOIN users u ON u.id = t.user_id
WHERE t.token = $1
`

type GetAPITokenByValueRow struct {
	ApiToken
	UserActive bool
	Role       string
}

func (q *Queries) GetAPITokenByValue(ctx context.Context, token string) (GetAPITokenByValueRow, error) {
	row := q.db.QueryRow(ctx, getAPITokenByValue, token)
	var i GetAPITokenByValueRow
	err := row.Scan(&i.ID, &i.UserID, &i.Token, &i.Name, &i.IsActive, &i.CreatedAt, &i.LastUsed, &i.UserActive, &i.Role)
	return i, err
}

const deactivateAPIToken = `
UPDATE api_tokens
SET is_active = FALSE
WHERE id = $1 AND user_id = $2 AND is_active
`

type DeactivateAPITokenParams struct {
	ID     pgtype.UUID
	UserID pgtype.UUID
}

func (q *Queries) DeactivateAPIToken(ctx context.Context, arg DeactivateAPITokenParams) (int64, error) {
	result, err := q.db.Exec(ctx, deactivateAPIToken, arg.ID, arg.UserID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const touchAPIToken = `UPDATE api_tokens SET last_used = NOW() WHERE id = $1`

func (q *Queries) TouchAPIToken(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, touchAPIToken, id)
	return err
}
