package handler

import (
	"net/http"

	"github.com/ayo6706/captcha-solver-api/internal/domain"
)

// DocsInfo is the pricing and deposit information published at /v1/docs.
type DocsInfo struct {
	Version               string
	Network               string
	CaptchaPriceMicros    int64
	MinDepositMicros      int64
	ConfirmationThreshold int64
}

type DocsHandler struct {
	info DocsInfo
}

func NewDocsHandler(info DocsInfo) *DocsHandler {
	return &DocsHandler{info: info}
}

// Get handles GET /v1/docs. The full contract is served at /openapi.yaml.
func (h *DocsHandler) Get(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]any{
		"title":       "CAPTCHA Solver API",
		"version":     h.info.Version,
		"description": "API for solving Google reCAPTCHA v2 challenges, paid for with Bitcoin deposits",
		"openapi":     "/openapi.yaml",
		"swagger_ui":  "/swagger/index.html",
		"authentication": map[string]string{
			"session":   "Authorization: Bearer {access_token} from POST /v1/auth/login",
			"api_token": "X-API-Token: {token} for POST /v1/captcha/solve",
		},
		"pricing": map[string]any{
			"per_captcha":          usd(h.info.CaptchaPriceMicros),
			"minimum_deposit":      usd(h.info.MinDepositMicros),
			"currency":             domain.AccountCurrency,
			"supported_currencies": []string{domain.NativeCurrency},
		},
		"deposit_info": map[string]any{
			"network":               h.info.Network,
			"confirmation_required": h.info.ConfirmationThreshold,
			"min_deposit_usd":       usd(h.info.MinDepositMicros),
		},
	})
}
