package handler

import (
	"net/http"

	"github.com/ayo6706/captcha-solver-api/internal/service"
)

// AdminHandler exposes operator endpoints. Routes are guarded by RequireRole.
type AdminHandler struct {
	integrity *service.IntegrityService
}

func NewAdminHandler(integrity *service.IntegrityService) *AdminHandler {
	return &AdminHandler{integrity: integrity}
}

// RunIntegrityCheck handles POST /v1/admin/integrity-check.
func (h *AdminHandler) RunIntegrityCheck(w http.ResponseWriter, r *http.Request) {
	report, err := h.integrity.Run(r.Context())
	if err != nil {
		respondServiceError(w, r, err, "admin/integrity-check-failed", "Failed to run integrity check")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"clean":  report.Clean(),
		"report": report,
	})
}
