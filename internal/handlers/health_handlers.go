package handlers

import (
	"companion-backend/internal/models"
	"companion-backend/pkg/httputil"
	"net/http"
)

// ProviderStatus reports which external providers have credentials.
type ProviderStatus interface {
	Status() map[string]bool
}

// HealthHandlers answers liveness checks.
type HealthHandlers struct {
	providers ProviderStatus
}

// NewHealthHandlers creates a new HealthHandlers instance. providers may be nil.
func NewHealthHandlers(providers ProviderStatus) *HealthHandlers {
	return &HealthHandlers{providers: providers}
}

// HandleHealth handles GET /api/health.
func (h *HealthHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status:  "healthy",
		Message: "Companion server is running",
	}
	if h.providers != nil {
		resp.Providers = h.providers.Status()
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}
