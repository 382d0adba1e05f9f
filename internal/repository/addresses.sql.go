package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createDepositAddress = `
INSERT INTO deposit_addresses (id, user_id, address, network, is_active, created_at)
VALUES ($1, $2, $3, $4, TRUE, NOW())
RETURNING id, user_id, address, network, is_active, created_at
`

type CreateDepositAddressParams struct {
	ID      pgtype.UUID
	UserID  pgtype.UUID
	Address string
	Network string
}

func (q *Queries) CreateDepositAddress(ctx context.Context, arg CreateDepositAddressParams) (DepositAddress, error) {
	row := q.db.QueryRow(ctx, createDepositAddress, arg.ID, arg.UserID, arg.Address, arg.Network)
	var i DepositAddress
	err := row.Scan(&i.ID, &i.UserID, &i.Address, &i.Network, &i.IsActive, &i.CreatedAt)
	return i, err
}

const getActiveDepositAddress = `
SELECT id, user_id, address, network, is_active, created_at
FROM deposit_addresses
WHERE user_id = $1 AND is_active
`

func (q *Queries) GetActiveDepositAddress(ctx context.Context, userID pgtype.UUID) (DepositAddress, error) {
	row := q.db.QueryRow(ctx, getActiveDepositAddress, userID)
	var i DepositAddress
	err := row.Scan(&i.ID, &i.UserID, &i.Address, &i.Network, &i.IsActive, &i.CreatedAt)
	return i, err
}

const getDepositAddressByAddress = `
SELECT id, user_id, address, network, is_active, created_at
FROM deposit_addresses
WHERE address = $1
`

func (q *Queries) GetDepositAddressByAddress(ctx context.Context, address string) (DepositAddress, error) {
	row := q.db.QueryRow(ctx, getDepositAddressByAddress, address)
	var i DepositAddress
	err := row.Scan(&i.ID, &i.UserID, &i.Address, &i.Network, &i.IsActive, &i.CreatedAt)
	return i, err
}
