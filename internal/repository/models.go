package repository

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type User struct {
	ID           pgtype.UUID
	Username     string
	Email        string
	PasswordHash string
	Role         string
	IsActive     bool
	CreatedAt    pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
}

type DepositAddress struct {
	ID        pgtype.UUID
	UserID    pgtype.UUID
	Address   string
	Network   string
	IsActive  bool
	CreatedAt pgtype.Timestamptz
}

type ApiToken struct {
	ID        pgtype.UUID
	UserID    pgtype.UUID
	Token     string
	Name      string
	IsActive  bool
	CreatedAt pgtype.Timestamptz
	LastUsed  pgtype.Timestamptz
}

type Balance struct {
	UserID       pgtype.UUID
	AmountMicros int64
	UpdatedAt    pgtype.Timestamptz
}

type Deposit struct {
	ID             pgtype.UUID
	UserID         pgtype.UUID
	TotalSats      int64
	TotalMicros    int64
	CreditedMicros int64
	Status         string
	CreatedAt      pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
	CreditedAt     pgtype.Timestamptz
}

type Transaction struct {
	ID            pgtype.UUID
	UserID        pgtype.UUID
	Txid          string
	AmountSats    int64
	AmountMicros  int64
	Rate          string
	Confirmations int64
	Status        string
	DepositID     pgtype.UUID
	ReceivedAt    pgtype.Timestamptz
	ConfirmedAt   pgtype.Timestamptz
	CreditedAt    pgtype.Timestamptz
}

type CaptchaSolve struct {
	ID              pgtype.UUID
	UserID          pgtype.UUID
	ApiTokenID      pgtype.UUID
	WebsiteUrl      string
	RecaptchaKey    string
	Status          string
	CostMicros      int64
	Solution        string
	ErrorMessage    string
	InferenceTimeMs pgtype.Float8
	CreatedAt       pgtype.Timestamptz
	CompletedAt     pgtype.Timestamptz
}

type IdempotencyKey struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
	CreatedAt      pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
}
