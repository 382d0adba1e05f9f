package models

import (
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

type User struct {
	ID            uuid.UUID `json:"id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	Role          string    `json:"role"`
	WalletAddress string    `json:"wallet_address"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DepositAddress is the ledger address assigned to a user for incoming payments.
type DepositAddress struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Address   string    `json:"address"`
	Network   string    `json:"network"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type APIToken struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Token     string     `json:"-"`
	Name      string     `json:"name"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
}

// Masked returns the public form of the token: a short prefix only.
func (t APIToken) Masked() string {
	if len(t.Token) <= 8 {
		return t.Token
	}
	return t.Token[:8] + "..."
}

// Transaction is one externally observed payment to a deposit address.
// TxID and AmountMicros never change after the row is created.
type Transaction struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	TxID          string          `json:"txid"`
	AmountSats    btcutil.Amount  `json:"amount_sats"`
	AmountMicros  int64           `json:"amount_micros"`
	Rate          decimal.Decimal `json:"rate"`
	Confirmations int64           `json:"confirmations"`
	Status        string          `json:"status"`
	DepositID     *uuid.UUID      `json:"deposit_id,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
	ConfirmedAt   *time.Time      `json:"confirmed_at,omitempty"`
	CreditedAt    *time.Time      `json:"credited_at,omitempty"`
}

// Deposit is the bucket that accumulates confirmed transactions until the
// minimum deposit is reached.
type Deposit struct {
	ID                   uuid.UUID      `json:"id"`
	UserID               uuid.UUID      `json:"user_id"`
	TotalSats            btcutil.Amount `json:"total_sats"`
	TotalMicros          int64          `json:"total_micros"`
	CreditedMicros       int64          `json:"credited_micros"`
	Status               string         `json:"status"`
	MemberTransactionIDs []uuid.UUID    `json:"member_transaction_ids"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	CreditedAt           *time.Time     `json:"credited_at,omitempty"`
}

// Balance is the single spendable scalar per user.
type Balance struct {
	UserID       uuid.UUID `json:"user_id"`
	AmountMicros int64     `json:"amount_micros"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CaptchaSolve struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	APITokenID      uuid.UUID  `json:"api_token_id"`
	WebsiteURL      string     `json:"website_url,omitempty"`
	RecaptchaKey    string     `json:"recaptcha_key,omitempty"`
	Status          string     `json:"status"`
	CostMicros      int64      `json:"cost_micros"`
	Solution        string     `json:"-"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	InferenceTimeMS *float64   `json:"inference_time_ms,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// SolveStats summarizes a user's CAPTCHA usage for the dashboard.
type SolveStats struct {
	TotalSolves        int64   `json:"total_solves"`
	SuccessfulSolves   int64   `json:"successful_solves"`
	TotalSpentMicros   int64   `json:"total_spent_micros"`
	AverageSolveTimeMS float64 `json:"average_solve_time_ms"`
	SuccessRatePercent float64 `json:"success_rate"`
}
