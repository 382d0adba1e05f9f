package handler

import (
	"math"
	"net/http"

	"github.com/ayo6706/captcha-solver-api/internal/service"
)

type DashboardHandler struct {
	users    *service.UserService
	accounts *service.AccountService
	captcha  *service.CaptchaService
}

func NewDashboardHandler(users *service.UserService, accounts *service.AccountService, captcha *service.CaptchaService) *DashboardHandler {
	return &DashboardHandler{users: users, accounts: accounts, captcha: captcha}
}

// Get handles GET /v1/dashboard.
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	actorID, _, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	ctx := r.Context()

	user, err := h.users.GetProfile(ctx, actorID)
	if err != nil {
		respondServiceError(w, r, err, "dashboard/read-failed", "Failed to load dashboard")
		return
	}
	stats, err := h.captcha.Stats(ctx, actorID)
	if err != nil {
		respondServiceError(w, r, err, "dashboard/read-failed", "Failed to load dashboard")
		return
	}
	balance, err := h.accounts.GetBalance(ctx, actorID)
	if err != nil {
		respondServiceError(w, r, err, "dashboard/read-failed", "Failed to load dashboard")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"user": user,
		"stats": map[string]any{
			"total_solves":          stats.TotalSolves,
			"successful_solves":     stats.SuccessfulSolves,
			"success_rate":          round2(stats.SuccessRatePercent),
			"total_spent":           usd(stats.TotalSpentMicros),
			"average_solve_time_ms": round2(stats.AverageSolveTimeMS),
		},
		"wallet": map[string]any{
			"address": user.WalletAddress,
			"balance": usd(balance.AmountMicros),
		},
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
