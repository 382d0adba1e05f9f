package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/captcha-solver-api/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository exposes model-level reads and single-statement writes.
type Repository struct {
	q *Queries
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{q: New(db)}
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row, err := r.q.GetUser(ctx, ToPgUUID(id))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return r.withWallet(ctx, row.Model())
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row, err := r.q.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, notFound(err, "user")
	}
	return r.withWallet(ctx, row.Model())
}

func (r *Repository) withWallet(ctx context.Context, user *models.User) (*models.User, error) {
	addr, err := r.GetDepositAddress(ctx, user.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if addr != nil {
		user.WalletAddress = addr.Address
	}
	return user, nil
}

func (r *Repository) UpdateUserProfile(ctx context.Context, id uuid.UUID, email, passwordHash *string) error {
	rows, err := r.q.UpdateUserProfile(ctx, UpdateUserProfileParams{
		ID:           ToPgUUID(id),
		Email:        email,
		PasswordHash: passwordHash,
	})
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if rows == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *Repository) GetDepositAddress(ctx context.Context, userID uuid.UUID) (*models.DepositAddress, error) {
	row, err := r.q.GetActiveDepositAddress(ctx, ToPgUUID(userID))
	if err != nil {
		return nil, notFound(err, "deposit address")
	}
	return row.Model(), nil
}

func (r *Repository) GetDepositAddressByAddress(ctx context.Context, address string) (*models.DepositAddress, error) {
	row, err := r.q.GetDepositAddressByAddress(ctx, address)
	if err != nil {
		return nil, notFound(err, "deposit address")
	}
	return row.Model(), nil
}

func (r *Repository) GetBalance(ctx context.Context, userID uuid.UUID) (*models.Balance, error) {
	row, err := r.q.GetBalance(ctx, ToPgUUID(userID))
	if err != nil {
		return nil, notFound(err, "balance")
	}
	return row.Model(), nil
}

func (r *Repository) ListAPITokens(ctx context.Context, userID uuid.UUID) ([]models.APIToken, error) {
	rows, err := r.q.ListAPITokens(ctx, ToPgUUID(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list api tokens: %w", err)
	}
	out := make([]models.APIToken, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row.Model())
	}
	return out, nil
}

func (r *Repository) CreateAPIToken(ctx context.Context, token *models.APIToken) error {
	row, err := r.q.CreateAPIToken(ctx, CreateAPITokenParams{
		ID:     ToPgUUID(token.ID),
		UserID: ToPgUUID(token.UserID),
		Token:  token.Token,
		Name:   token.Name,
	})
	if err != nil {
		return fmt.Errorf("failed to create api token: %w", err)
	}
	*token = *row.Model()
	return nil
}

// APITokenOwner is an API token together with the state of the user that owns it.
type APITokenOwner struct {
	Token      models.APIToken
	UserActive bool
	Role       string
}

func (r *Repository) GetAPITokenByValue(ctx context.Context, token string) (*APITokenOwner, error) {
	row, err := r.q.GetAPITokenByValue(ctx, token)
	if err != nil {
		return nil, notFound(err, "api token")
	}
	return &APITokenOwner{Token: *row.ApiToken.Model(), UserActive: row.UserActive, Role: row.Role}, nil
}

func (r *Repository) DeactivateAPIToken(ctx context.Context, userID, tokenID uuid.UUID) error {
	rows, err := r.q.DeactivateAPIToken(ctx, DeactivateAPITokenParams{ID: ToPgUUID(tokenID), UserID: ToPgUUID(userID)})
	if err != nil {
		return fmt.Errorf("failed to deactivate api token: %w", err)
	}
	if rows == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *Repository) TouchAPIToken(ctx context.Context, tokenID uuid.UUID) error {
	return r.q.TouchAPIToken(ctx, ToPgUUID(tokenID))
}

func (r *Repository) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Transaction, error) {
	rows, err := r.q.ListTransactionsByUser(ctx, ListTransactionsByUserParams{
		UserID: ToPgUUID(userID),
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	out := make([]models.Transaction, 0, len(rows))
	for _, row := range rows {
		txn, err := row.Model()
		if err != nil {
			return nil, err
		}
		out = append(out, *txn)
	}
	return out, nil
}

func (r *Repository) SumReceivedMicros(ctx context.Context, userID uuid.UUID) (int64, error) {
	total, err := r.q.SumReceivedMicros(ctx, ToPgUUID(userID))
	if err != nil {
		return 0, fmt.Errorf("failed to sum received: %w", err)
	}
	return total, nil
}

func (r *Repository) ListDeposits(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Deposit, error) {
	rows, err := r.q.ListDepositsByUser(ctx, ListDepositsByUserParams{
		UserID: ToPgUUID(userID),
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list deposits: %w", err)
	}
	if len(rows) == 0 {
		return []models.Deposit{}, nil
	}

	ids := make([]pgtype.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	members, err := r.q.ListDepositMembers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list deposit members: %w", err)
	}
	byDeposit := make(map[uuid.UUID][]uuid.UUID, len(rows))
	for _, m := range members {
		depositID := FromPgUUID(m.DepositID)
		byDeposit[depositID] = append(byDeposit[depositID], FromPgUUID(m.ID))
	}

	out := make([]models.Deposit, 0, len(rows))
	for _, row := range rows {
		d := row.Model()
		d.MemberTransactionIDs = byDeposit[d.ID]
		if d.MemberTransactionIDs == nil {
			d.MemberTransactionIDs = []uuid.UUID{}
		}
		out = append(out, *d)
	}
	return out, nil
}

func (r *Repository) GetCaptchaSolve(ctx context.Context, userID, id uuid.UUID) (*models.CaptchaSolve, error) {
	row, err := r.q.GetCaptchaSolve(ctx, GetCaptchaSolveParams{ID: ToPgUUID(id), UserID: ToPgUUID(userID)})
	if err != nil {
		return nil, notFound(err, "captcha solve")
	}
	return row.Model(), nil
}

func (r *Repository) ListCaptchaSolves(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.CaptchaSolve, error) {
	rows, err := r.q.ListCaptchaSolves(ctx, ListCaptchaSolvesParams{
		UserID: ToPgUUID(userID),
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list captcha solves: %w", err)
	}
	out := make([]models.CaptchaSolve, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row.Model())
	}
	return out, nil
}

func (r *Repository) CountCaptchaSolves(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := r.q.CountCaptchaSolves(ctx, ToPgUUID(userID))
	if err != nil {
		return 0, fmt.Errorf("failed to count captcha solves: %w", err)
	}
	return n, nil
}

func (r *Repository) GetSolveStats(ctx context.Context, userID uuid.UUID) (*models.SolveStats, error) {
	row, err := r.q.GetSolveStats(ctx, ToPgUUID(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get solve stats: %w", err)
	}
	stats := &models.SolveStats{
		TotalSolves:        row.Total,
		SuccessfulSolves:   row.Successful,
		TotalSpentMicros:   row.SpentMicros,
		AverageSolveTimeMS: row.AvgInferenceMs,
	}
	if row.Total > 0 {
		stats.SuccessRatePercent = float64(row.Successful) / float64(row.Total) * 100
	}
	return stats, nil
}

func (r *Repository) ListReconcilableUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.q.ListReconcilableUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return uuidsFromPg(rows), nil
}

func uuidsFromPg(ids []pgtype.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		out = append(out, FromPgUUID(id))
	}
	return out
}
