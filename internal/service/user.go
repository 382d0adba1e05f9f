package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/ayo6706/captcha-solver-api/internal/domain"
	"github.com/ayo6706/captcha-solver-api/internal/ledger"
	"github.com/ayo6706/captcha-solver-api/internal/models"
	"github.com/ayo6706/captcha-solver-api/internal/repository"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserInactive       = errors.New("user account is inactive")
)

const (
	minPasswordLength = 8
	defaultTokenName  = "Default Token"
)

// Registration is everything a new user receives. InitialToken is the only
// time the token value is returned.
type Registration struct {
	User         *models.User           `json:"user"`
	Address      *models.DepositAddress `json:"deposit_address"`
	InitialToken string                 `json:"initial_api_token"`
}

type UserService struct {
	store      QueryStore
	repo       *repository.Repository
	params     *chaincfg.Params
	audit      *AuditService
	bcryptCost int
}

func NewUserService(store QueryStore, repo *repository.Repository, params *chaincfg.Params) *UserService {
	return &UserService{
		store:      store,
		repo:       repo,
		params:     params,
		audit:      NewAuditService(),
		bcryptCost: bcrypt.DefaultCost,
	}
}

// Register creates the user, an empty balance, a fresh deposit address and a
// first API token in one transaction.
func (s *UserService) Register(ctx context.Context, username, email, password string) (*Registration, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if err := validateRegistration(username, email, password); err != nil {
		return nil, err
	}
	hash, err := hashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	address, err := ledger.NewDepositAddress(s.params)
	if err != nil {
		return nil, err
	}
	tokenValue, err := generateAPIToken()
	if err != nil {
		return nil, err
	}

	userID := uuid.New()
	reg := &Registration{InitialToken: tokenValue}
	err = s.store.RunInTx(ctx, func(q *repository.Queries) error {
		row, err := q.CreateUser(ctx, repository.CreateUserParams{
			ID:           repository.ToPgUUID(userID),
			Username:     username,
			Email:        email,
			PasswordHash: hash,
			Role:         domain.RoleUser,
		})
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		if err := q.CreateBalance(ctx, row.ID); err != nil {
			return fmt.Errorf("create balance: %w", err)
		}
		addrRow, err := q.CreateDepositAddress(ctx, repository.CreateDepositAddressParams{
			ID:      repository.ToPgUUID(uuid.New()),
			UserID:  row.ID,
			Address: address,
			Network: s.params.Name,
		})
		if err != nil {
			return fmt.Errorf("create deposit address: %w", err)
		}
		if _, err := q.CreateAPIToken(ctx, repository.CreateAPITokenParams{
			ID:     repository.ToPgUUID(uuid.New()),
			UserID: row.ID,
			Token:  tokenValue,
			Name:   defaultTokenName,
		}); err != nil {
			return fmt.Errorf("create api token: %w", err)
		}
		if err := s.audit.Write(ctx, q, entityUser, userID, &userID, "registered", "", "", map[string]any{
			"deposit_address": address,
		}); err != nil {
			return err
		}

		reg.User = row.Model()
		reg.User.WalletAddress = address
		reg.Address = addrRow.Model()
		return nil
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("user registered", zap.String("user_id", userID.String()), zap.String("deposit_address", address))
	return reg, nil
}

// Authenticate checks a username and password pair.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.repo.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !checkPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return user, nil
}

func (s *UserService) GetProfile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return s.repo.GetUser(ctx, userID)
}

// UpdateProfile changes the email and/or password. Nil fields are left alone.
func (s *UserService) UpdateProfile(ctx context.Context, userID uuid.UUID, email, password *string) (*models.User, error) {
	var emailArg, hashArg *string
	if email != nil {
		trimmed := strings.TrimSpace(*email)
		if err := validateEmail(trimmed); err != nil {
			return nil, err
		}
		emailArg = &trimmed
	}
	if password != nil {
		if len(*password) < minPasswordLength {
			return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
		}
		hash, err := hashPassword(*password, s.bcryptCost)
		if err != nil {
			return nil, err
		}
		hashArg = &hash
	}
	if emailArg == nil && hashArg == nil {
		return s.repo.GetUser(ctx, userID)
	}

	if err := s.repo.UpdateUserProfile(ctx, userID, emailArg, hashArg); err != nil {
		return nil, err
	}
	return s.repo.GetUser(ctx, userID)
}

func validateRegistration(username, email, password string) error {
	if username == "" || email == "" || password == "" {
		return fmt.Errorf("%w: username, email and password are required", ErrInvalidInput)
	}
	if len(username) < 3 || len(username) > 80 {
		return fmt.Errorf("%w: username must be 3-80 characters", ErrInvalidInput)
	}
	if err := validateEmail(email); err != nil {
		return err
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	return nil
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	return nil
}

func hashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
