package repository

import (
	"fmt"

	"github.com/ayo6706/captcha-solver-api/internal/models"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/shopspring/decimal"
)

func (u User) Model() *models.User {
	return &models.User{
		ID:           FromPgUUID(u.ID),
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         u.Role,
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt.Time,
		UpdatedAt:    u.UpdatedAt.Time,
	}
}

func (a DepositAddress) Model() *models.DepositAddress {
	return &models.DepositAddress{
		ID:        FromPgUUID(a.ID),
		UserID:    FromPgUUID(a.UserID),
		Address:   a.Address,
		Network:   a.Network,
		IsActive:  a.IsActive,
		CreatedAt: a.CreatedAt.Time,
	}
}

func (t ApiToken) Model() *models.APIToken {
	return &models.APIToken{
		ID:        FromPgUUID(t.ID),
		UserID:    FromPgUUID(t.UserID),
		Token:     t.Token,
		Name:      t.Name,
		IsActive:  t.IsActive,
		CreatedAt: t.CreatedAt.Time,
		LastUsed:  FromPgTimePtr(t.LastUsed),
	}
}

func (b Balance) Model() *models.Balance {
	return &models.Balance{
		UserID:       FromPgUUID(b.UserID),
		AmountMicros: b.AmountMicros,
		UpdatedAt:    b.UpdatedAt.Time,
	}
}

func (d Deposit) Model() *models.Deposit {
	return &models.Deposit{
		ID:             FromPgUUID(d.ID),
		UserID:         FromPgUUID(d.UserID),
		TotalSats:      btcutil.Amount(d.TotalSats),
		TotalMicros:    d.TotalMicros,
		CreditedMicros: d.CreditedMicros,
		Status:         d.Status,
		CreatedAt:      d.CreatedAt.Time,
		UpdatedAt:      d.UpdatedAt.Time,
		CreditedAt:     FromPgTimePtr(d.CreditedAt),
	}
}

func (t Transaction) Model() (*models.Transaction, error) {
	rate, err := decimal.NewFromString(t.Rate)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", t.Rate, err)
	}
	return &models.Transaction{
		ID:            FromPgUUID(t.ID),
		UserID:        FromPgUUID(t.UserID),
		TxID:          t.Txid,
		AmountSats:    btcutil.Amount(t.AmountSats),
		AmountMicros:  t.AmountMicros,
		Rate:          rate,
		Confirmations: t.Confirmations,
		Status:        t.Status,
		DepositID:     FromPgUUIDPtr(t.DepositID),
		ReceivedAt:    t.ReceivedAt.Time,
		ConfirmedAt:   FromPgTimePtr(t.ConfirmedAt),
		CreditedAt:    FromPgTimePtr(t.CreditedAt),
	}, nil
}

func (s CaptchaSolve) Model() *models.CaptchaSolve {
	out := &models.CaptchaSolve{
		ID:           FromPgUUID(s.ID),
		UserID:       FromPgUUID(s.UserID),
		APITokenID:   FromPgUUID(s.ApiTokenID),
		WebsiteURL:   s.WebsiteUrl,
		RecaptchaKey: s.RecaptchaKey,
		Status:       s.Status,
		CostMicros:   s.CostMicros,
		Solution:     s.Solution,
		ErrorMessage: s.ErrorMessage,
		CreatedAt:    s.CreatedAt.Time,
		CompletedAt:  FromPgTimePtr(s.CompletedAt),
	}
	if s.InferenceTimeMs.Valid {
		v := s.InferenceTimeMs.Float64
		out.InferenceTimeMS = &v
	}
	return out
}
