package handler

import (
	"net/http"
	"time"

	"github.com/ayo6706/captcha-solver-api/internal/models"
	"github.com/ayo6706/captcha-solver-api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type UserHandler struct {
	users  *service.UserService
	tokens *service.TokenService
}

func NewUserHandler(users *service.UserService, tokens *service.TokenService) *UserHandler {
	return &UserHandler{users: users, tokens: tokens}
}

func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	user, err := h.users.GetProfile(r.Context(), actorID)
	if err != nil {
		respondServiceError(w, r, err, "user/read-failed", "Failed to load profile")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req struct {
		Email    *string `json:"email"`
		Password *string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.users.UpdateProfile(r.Context(), actorID, req.Email, req.Password)
	if err != nil {
		respondServiceError(w, r, err, "user/update-failed", "Failed to update profile")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"message": "Profile updated successfully",
		"user":    user,
	})
}

type tokenView struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Token     string    `json:"token"`
	IsActive  bool      `json:"is_active"`
	CreatedAt string    `json:"created_at"`
	LastUsed  *string   `json:"last_used,omitempty"`
}

func newTokenView(t models.APIToken) tokenView {
	v := tokenView{
		ID:        t.ID,
		Name:      t.Name,
		Token:     t.Masked(),
		IsActive:  t.IsActive,
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.LastUsed != nil {
		s := t.LastUsed.UTC().Format(time.RFC3339)
		v.LastUsed = &s
	}
	return v
}

// ListTokens handles GET /v1/api-tokens. Token values are masked.
func (h *UserHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	tokens, err := h.tokens.List(r.Context(), actorID)
	if err != nil {
		respondServiceError(w, r, err, "token/list-failed", "Failed to list API tokens")
		return
	}
	views := make([]tokenView, 0, len(tokens))
	for _, t := range tokens {
		views = append(views, newTokenView(t))
	}
	RespondJSON(w, http.StatusOK, map[string]any{"tokens": views})
}

// CreateToken handles POST /v1/api-tokens. The full value is only returned here.
func (h *UserHandler) CreateToken(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	token, err := h.tokens.Create(r.Context(), actorID, req.Name)
	if err != nil {
		respondServiceError(w, r, err, "token/create-failed", "Failed to create API token")
		return
	}
	RespondJSON(w, http.StatusCreated, map[string]any{
		"message":  "API token created successfully",
		"token":    token.Token,
		"token_id": token.ID,
		"name":     token.Name,
	})
}

// RevokeToken handles DELETE /v1/api-tokens/{id}.
func (h *UserHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	tokenID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-token-id", "Invalid token ID")
		return
	}
	if err := h.tokens.Revoke(r.Context(), actorID, tokenID); err != nil {
		respondServiceError(w, r, err, "token/revoke-failed", "Failed to revoke API token")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"message": "API token deleted successfully"})
}
