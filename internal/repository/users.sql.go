package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createUser = `
INSERT INTO users (id, username, email, password_hash, role, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, TRUE, NOW(), NOW())
RETURNING id, username, email, password_hash, role, is_active, created_at, updated_at
`

type CreateUserParams struct {
	ID           pgtype.UUID
	Username     string
	Email        string
	PasswordHash string
	Role         string
}

func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := q.db.QueryRow(ctx, createUser, arg.ID, arg.Username, arg.Email, arg.PasswordHash, arg.Role)
	var i User
	err := row.Scan(&i.ID, &i.Username, &i.Email, &i.PasswordHash, &i.Role, &i.IsActive, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const getUser = `
SELECT id, username, email, password_hash, role, is_active, created_at, updated_at
FROM users
WHERE id = $1
`

func (q *Queries) GetUser(ctx context.Context, id pgtype.UUID) (User, error) {
	row := q.db.QueryRow(ctx, getUser, id)
	var i User
	err := row.Scan(&i.ID, &i.Username, &i.Email, &i.PasswordHash, &i.Role, &i.IsActive, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const getUserByUsername = `
SELECT id, username, email, password_hash, role, is_active, created_at, updated_at
FROM users
WHERE username = $1
`

func (q *Queries) GetUserByUsername(ctx context.Context, username string) (User, error) {
	row := q.db.QueryRow(ctx, getUserByUsername, username)
	var i User
	err := row.Scan(&i.ID, &i.Username, &i.Email, &i.PasswordHash, &i.Role, &i.IsActive, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const updateUserProfile = `
UPDATE users
SET email = COALESCE($2, email),
    password_hash = COALESCE($3, password_hash),
    updated_at = NOW()
WHERE id = $1
`

type UpdateUserProfileParams struct {
	ID           pgtype.UUID
	Email        *string
	PasswordHash *string
}

func (q *Queries) UpdateUserProfile(ctx context.Context, arg UpdateUserProfileParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateUserProfile, arg.ID, arg.Email, arg.PasswordHash)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listReconcilableUserIDs = `
SELECT u.id
FROM users u
JOIN deposit_addresses a ON a.user_id = u.id AND a.is_active
WHERE u.is_active
ORDER BY u.id
`

// ListReconcilableUserIDs returns active users that own an active deposit address.
func (q *Queries) ListReconcilableUserIDs(ctx context.Context) ([]pgtype.UUID, error) {
	rows, err := q.db.Query(ctx, listReconcilableUserIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []pgtype.UUID
	for rows.Next() {
		var id pgtype.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const lockUser = `SELECT pg_advisory_xact_lock(hashtext($1::uuid::text))`

// LockUser takes a transaction-scoped advisory lock keyed by the user id.
func (q *Queries) LockUser(ctx context.Context, userID pgtype.UUID) error {
	_, err := q.db.Exec(ctx, lockUser, userID)
	return err
}
