package service

import (
	"context"

	"github.com/ayo6706/captcha-solver-api/internal/models"
	"github.com/ayo6706/captcha-solver-api/internal/repository"
	"github.com/google/uuid"
)

// TransactionHistory is a page of observed payments plus the lifetime total
// of confirmed value.
type TransactionHistory struct {
	Transactions        []models.Transaction `json:"transactions"`
	TotalReceivedMicros int64                `json:"total_received_micros"`
	Page                int                  `json:"page"`
	Limit               int                  `json:"limit"`
}

// AccountService is the read side of the balance ledger.
type AccountService struct {
	repo *repository.Repository
}

func NewAccountService(repo *repository.Repository) *AccountService {
	return &AccountService{
		repo: repo,
	}
}

func (s *AccountService) GetBalance(ctx context.Context, userID uuid.UUID) (*models.Balance, error) {
	return s.repo.GetBalance(ctx, userID)
}

func (s *AccountService) GetDepositAddress(ctx context.Context, userID uuid.UUID) (*models.DepositAddress, error) {
	return s.repo.GetDepositAddress(ctx, userID)
}

func (s *AccountService) GetTransactions(ctx context.Context, userID uuid.UUID, page, limit int) (*TransactionHistory, error) {
	page, limit, offset := normalizePage(page, limit, 50, 200)
	txns, err := s.repo.ListTransactions(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.SumReceivedMicros(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &TransactionHistory{
		Transactions:        txns,
		TotalReceivedMicros: total,
		Page:                page,
		Limit:               limit,
	}, nil
}

func (s *AccountService) GetDeposits(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Deposit, error) {
	_, limit, offset := normalizePage(page, limit, 50, 200)
	return s.repo.ListDeposits(ctx, userID, limit, offset)
}
