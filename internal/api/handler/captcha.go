package handler

import (
	"net/http"

	"github.com/ayo6706/captcha-solver-api/internal/api/middleware"
	"github.com/ayo6706/captcha-solver-api/internal/api/problem"
	"github.com/ayo6706/captcha-solver-api/internal/domain"
	"github.com/ayo6706/captcha-solver-api/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type CaptchaHandler struct {
	captcha *service.CaptchaService
}

func NewCaptchaHandler(captcha *service.CaptchaService) *CaptchaHandler {
	return &CaptchaHandler{captcha: captcha}
}

// Solve handles POST /v1/captcha/solve. The caller is authenticated by API
// token; the charge is taken before solving and refunded if solving fails.
func (h *CaptchaHandler) Solve(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	tokenID, err := uuid.Parse(middleware.APITokenIDFromContext(r.Context()))
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/api-token-required", "API token required")
		return
	}
	var req struct {
		WebsiteURL   string `json:"website_url"`
		RecaptchaKey string `json:"recaptcha_key"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.WebsiteURL == "" && req.RecaptchaKey == "" {
		problem.WriteInvalid(w, r, problem.Type("captcha/missing-target"), "Missing website_url or recaptcha_key",
			problem.InvalidParam{Name: "website_url", Reason: "required when recaptcha_key is empty"},
			problem.InvalidParam{Name: "recaptcha_key", Reason: "required when website_url is empty"},
		)
		return
	}

	outcome, err := h.captcha.Solve(r.Context(), actorID, tokenID, req.WebsiteURL, req.RecaptchaKey)
	if err != nil {
		respondServiceError(w, r, err, "captcha/solve-failed", "Failed to solve CAPTCHA")
		return
	}

	if outcome.Solve.Status != domain.SolveStatusSuccess {
		RespondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message":           "CAPTCHA could not be solved, the charge was refunded",
			"captcha_solve":     outcome.Solve,
			"remaining_balance": usd(outcome.RemainingMicros),
		})
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"message":           "CAPTCHA solved successfully",
		"captcha_solve":     outcome.Solve,
		"solution":          outcome.Solution,
		"remaining_balance": usd(outcome.RemainingMicros),
	})
}

// Status handles GET /v1/captcha/status/{id}.
func (h *CaptchaHandler) Status(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	solveID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-solve-id", "Invalid CAPTCHA solve ID")
		return
	}
	solve, err := h.captcha.GetSolve(r.Context(), actorID, solveID)
	if err != nil {
		respondServiceError(w, r, err, "captcha/read-failed", "Failed to get CAPTCHA solve")
		return
	}
	RespondJSON(w, http.StatusOK, solve)
}

// History handles GET /v1/captcha/history?page&limit.
func (h *CaptchaHandler) History(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	page, limit := pageParams(r)
	history, err := h.captcha.History(r.Context(), actorID, page, limit)
	if err != nil {
		respondServiceError(w, r, err, "captcha/history-failed", "Failed to list CAPTCHA history")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"captcha_solves": history.Solves,
		"total":          history.Total,
		"page":           history.Page,
		"limit":          history.Limit,
		"total_pages":    history.TotalPages,
	})
}
