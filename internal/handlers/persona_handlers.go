package handlers

import (
	"companion-backend/internal/models"
	"companion-backend/internal/persona"
	"companion-backend/pkg/httputil"
	"net/http"
)

// PersonaHandlers lists the companion personas.
type PersonaHandlers struct {
	registry *persona.Registry
}

// NewPersonaHandlers creates a new PersonaHandlers instance.
func NewPersonaHandlers(registry *persona.Registry) *PersonaHandlers {
	return &PersonaHandlers{registry: registry}
}

// HandleListPersonas handles GET /api/personas.
func (h *PersonaHandlers) HandleListPersonas(w http.ResponseWriter, r *http.Request) {
	defaultName := h.registry.DefaultName()

	personas := h.registry.List()
	resp := models.ListPersonasResponse{Personas: make([]models.PersonaResponse, 0, len(personas))}
	for _, p := range personas {
		resp.Personas = append(resp.Personas, models.PersonaResponse{
			Name:        p.Name,
			DisplayName: p.DisplayName,
			Description: p.Description,
			Traits:      p.Traits,
			Style:       p.Style,
			Tagline:     p.Tagline,
			IsDefault:   p.Name == defaultName,
		})
	}

	httputil.RespondJSON(w, http.StatusOK, resp)
}
