package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ayo6706/captcha-solver-api/internal/models"
	"github.com/ayo6706/captcha-solver-api/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInvalidAPIToken = errors.New("invalid api token")

const (
	apiTokenLength   = 32
	apiTokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// TokenService manages the API tokens used by the CAPTCHA endpoints.
type TokenService struct {
	repo *repository.Repository
}

func NewTokenService(repo *repository.Repository) *TokenService {
	return &TokenService{repo: repo}
}

func (s *TokenService) List(ctx context.Context, userID uuid.UUID) ([]models.APIToken, error) {
	return s.repo.ListAPITokens(ctx, userID)
}

// Create issues a new token. The returned value carries the full token.
func (s *TokenService) Create(ctx context.Context, userID uuid.UUID, name string) (*models.APIToken, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Token " + time.Now().UTC().Format("2006-01-02 15:04")
	}
	value, err := generateAPIToken()
	if err != nil {
		return nil, err
	}
	token := &models.APIToken{ID: uuid.New(), UserID: userID, Token: value, Name: name}
	if err := s.repo.CreateAPIToken(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

func (s *TokenService) Revoke(ctx context.Context, userID, tokenID uuid.UUID) error {
	return s.repo.DeactivateAPIToken(ctx, userID, tokenID)
}

// Authenticate resolves an active token whose owner is active and records its use.
func (s *TokenService) Authenticate(ctx context.Context, value string) (*repository.APITokenOwner, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrInvalidAPIToken
	}
	owner, err := s.repo.GetAPITokenByValue(ctx, value)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrInvalidAPIToken
	}
	if err != nil {
		return nil, err
	}
	if !owner.Token.IsActive {
		return nil, ErrInvalidAPIToken
	}
	if !owner.UserActive {
		return nil, ErrUserInactive
	}
	if err := s.repo.TouchAPIToken(ctx, owner.Token.ID); err != nil {
		zap.L().Warn("touch api token failed", zap.String("token_id", owner.Token.ID.String()), zap.Error(err))
	}
	return owner, nil
}

func generateAPIToken() (string, error) {
	limit := big.NewInt(int64(len(apiTokenAlphabet)))
	var b strings.Builder
	b.Grow(apiTokenLength)
	for i := 0; i < apiTokenLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate api token: %w", err)
		}
		b.WriteByte(apiTokenAlphabet[n.Int64()])
	}
	return b.String(), nil
}
