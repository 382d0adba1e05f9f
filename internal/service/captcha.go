package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/captcha-solver-api/internal/domain"
	"github.com/ayo6706/captcha-solver-api/internal/models"
	"github.com/ayo6706/captcha-solver-api/internal/observability"
	"github.com/ayo6706/captcha-solver-api/internal/repository"
	"github.com/ayo6706/captcha-solver-api/internal/solver"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
)

// SolveTimeout bounds a single solver call.
const SolveTimeout = 30 * time.Second

// SolveOutcome is the settled solve and the balance left after it.
type SolveOutcome struct {
	Solve           *models.CaptchaSolve `json:"captcha_solve"`
	Solution        string               `json:"solution,omitempty"`
	RemainingMicros int64                `json:"remaining_balance_micros"`
}

type SolveHistory struct {
	Solves     []models.CaptchaSolve `json:"captcha_solves"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	Limit      int                   `json:"limit"`
	TotalPages int64                 `json:"total_pages"`
}

// CaptchaService charges for solves. The price is debited before the solver
// runs and refunded if the solver fails, so the balance never goes negative.
type CaptchaService struct {
	store       QueryStore
	repo        *repository.Repository
	solver      solver.Solver
	priceMicros int64
	audit       *AuditService
}

func NewCaptchaService(store QueryStore, repo *repository.Repository, s solver.Solver, priceMicros int64) *CaptchaService {
	return &CaptchaService{
		store:       store,
		repo:        repo,
		solver:      s,
		priceMicros: priceMicros,
		audit:       NewAuditService(),
	}
}

func (s *CaptchaService) PriceMicros() int64 {
	return s.priceMicros
}

func (s *CaptchaService) Solve(ctx context.Context, userID, tokenID uuid.UUID, websiteURL, recaptchaKey string) (*SolveOutcome, error) {
	websiteURL = strings.TrimSpace(websiteURL)
	recaptchaKey = strings.TrimSpace(recaptchaKey)
	if websiteURL == "" && recaptchaKey == "" {
		return nil, fmt.Errorf("%w: website_url or recaptcha_key is required", ErrInvalidInput)
	}

	solveID := uuid.New()
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		rows, err := q.DebitBalance(ctx, repository.DebitBalanceParams{
			UserID: repository.ToPgUUID(userID),
			Amount: s.priceMicros,
		})
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}
		if rows == 0 {
			return models.ErrInsufficientBalance
		}
		if _, err := q.CreateCaptchaSolve(ctx, repository.CreateCaptchaSolveParams{
			ID:           repository.ToPgUUID(solveID),
			UserID:       repository.ToPgUUID(userID),
			ApiTokenID:   repository.ToPgUUID(tokenID),
			WebsiteUrl:   websiteURL,
			RecaptchaKey: recaptchaKey,
			CostMicros:   s.priceMicros,
		}); err != nil {
			return fmt.Errorf("create captcha solve: %w", err)
		}
		return s.audit.Write(ctx, q, entityBalance, userID, &userID, "captcha_charged", "", "", map[string]any{
			"solve_id":      solveID.String(),
			"amount_micros": s.priceMicros,
		})
	})
	if err != nil {
		return nil, err
	}

	solveCtx, cancel := context.WithTimeout(ctx, SolveTimeout)
	result, solveErr := s.solver.Solve(solveCtx, solver.Request{WebsiteURL: websiteURL, RecaptchaKey: recaptchaKey})
	cancel()

	// The charge is already committed; settle it even if the caller went away.
	settleCtx := context.WithoutCancel(ctx)
	outcome, err := s.settle(settleCtx, userID, solveID, result, solveErr)
	if err != nil {
		zap.L().Error("settle captcha solve failed", zap.String("solve_id", solveID.String()), zap.Error(err))
		return nil, err
	}
	observability.IncrementCaptchaSolve(outcome.Solve.Status)
	return outcome, nil
}

func (s *CaptchaService) settle(ctx context.Context, userID, solveID uuid.UUID, result *solver.Result, solveErr error) (*SolveOutcome, error) {
	params := repository.CompleteCaptchaSolveParams{ID: repository.ToPgUUID(solveID)}
	if solveErr != nil {
		params.Status = domain.SolveStatusFailed
		params.ErrorMessage = solveErr.Error()
	} else {
		params.Status = domain.SolveStatusSuccess
		params.Solution = result.Solution
		params.InferenceTimeMs = pgtype.Float8{Float64: float64(result.InferenceTime.Microseconds()) / 1000, Valid: true}
	}

	outcome := &SolveOutcome{}
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		row, err := q.CompleteCaptchaSolve(ctx, params)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: solve %s is not pending", ErrInvariantViolation, solveID)
			}
			return fmt.Errorf("complete captcha solve: %w", err)
		}
		if params.Status == domain.SolveStatusFailed {
			rows, err := q.CreditBalance(ctx, repository.CreditBalanceParams{
				UserID: repository.ToPgUUID(userID),
				Amount: row.CostMicros,
			})
			if err != nil {
				return fmt.Errorf("refund captcha solve: %w", err)
			}
			if err := requireExactlyOne(rows, "refund captcha solve"); err != nil {
				return err
			}
		}
		if err := s.audit.Write(ctx, q, entitySolve, solveID, &userID, "completed", domain.SolveStatusPending, params.Status, nil); err != nil {
			return err
		}
		balance, err := q.GetBalance(ctx, repository.ToPgUUID(userID))
		if err != nil {
			return fmt.Errorf("read balance: %w", err)
		}
		outcome.Solve = row.Model()
		outcome.Solution = row.Solution
		outcome.RemainingMicros = balance.AmountMicros
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (s *CaptchaService) GetSolve(ctx context.Context, userID, solveID uuid.UUID) (*models.CaptchaSolve, error) {
	return s.repo.GetCaptchaSolve(ctx, userID, solveID)
}

func (s *CaptchaService) History(ctx context.Context, userID uuid.UUID, page, limit int) (*SolveHistory, error) {
	page, limit, offset := normalizePage(page, limit, 50, 200)
	solves, err := s.repo.ListCaptchaSolves(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.CountCaptchaSolves(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &SolveHistory{
		Solves:     solves,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + int64(limit) - 1) / int64(limit),
	}, nil
}

func (s *CaptchaService) Stats(ctx context.Context, userID uuid.UUID) (*models.SolveStats, error) {
	return s.repo.GetSolveStats(ctx, userID)
}
