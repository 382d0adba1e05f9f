package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/ayo6706/captcha-solver-api/internal/api/middleware"
	"github.com/ayo6706/captcha-solver-api/internal/models"
	"github.com/ayo6706/captcha-solver-api/internal/service"
	"go.uber.org/zap"
)

type AuthHandler struct {
	users    *service.UserService
	tokenTTL time.Duration
}

func NewAuthHandler(users *service.UserService, tokenTTL time.Duration) *AuthHandler {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthHandler{users: users, tokenTTL: tokenTTL}
}

type registerResponse struct {
	Message         string                 `json:"message"`
	User            *models.User           `json:"user"`
	InitialAPIToken string                 `json:"initial_api_token"`
	WalletAddress   string                 `json:"wallet_address"`
	DepositAddress  *models.DepositAddress `json:"deposit_address"`
}

// Register handles POST /v1/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	reg, err := h.users.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if status, _, _, ok := mapDBError(err); ok && status == http.StatusConflict {
			RespondError(w, r, http.StatusConflict, "user/already-exists", "Username or email already exists")
			return
		}
		respondServiceError(w, r, err, "user/register-failed", "Failed to register user")
		return
	}

	RespondJSON(w, http.StatusCreated, registerResponse{
		Message:         "User registered successfully",
		User:            reg.User,
		InitialAPIToken: reg.InitialToken,
		WalletAddress:   reg.Address.Address,
		DepositAddress:  reg.Address,
	})
}

// Login handles POST /v1/auth/login and returns a session JWT.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-input", "username and password are required")
		return
	}

	user, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-credentials", "Invalid username or password")
		return
	case errors.Is(err, service.ErrUserInactive):
		RespondError(w, r, http.StatusForbidden, "auth/user-inactive", "Account is disabled")
		return
	case err != nil:
		respondServiceError(w, r, err, "auth/login-failed", "Failed to log in")
		return
	}

	token, expiresAt, err := middleware.IssueSessionToken(user.ID, user.Role, h.tokenTTL)
	if err != nil {
		middleware.RequestLogger(r.Context(), zap.L()).Error("issue session token failed", zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "auth/token-issue-failed", "Failed to sign token")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   expiresAt,
		"user":         user,
	})
}
