package handlers

import (
	"companion-backend/internal/models"
	"companion-backend/internal/services"
	"companion-backend/pkg/httputil"
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
)

// userIDOrDefault trims id and falls back to the shared default user.
func userIDOrDefault(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.DefaultUserID
	}
	return id
}

// respondTurnError maps a chat turn failure to an HTTP status.
// fallback is the message shown for provider failures.
// Nothing is written once the request context has ended: the Timeout
// middleware owns the 504 and a cancelled client is gone.
func respondTurnError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var (
		ve *models.ValidationError
		ce *models.CompletionError
		se *models.SynthesisError
		te *models.TranscriptionError
	)

	switch {
	case errors.As(err, &ve):
		httputil.RespondError(w, http.StatusBadRequest, ve.Message) // 400
	case errors.Is(err, services.ErrQueueFull):
		httputil.RespondError(w, http.StatusTooManyRequests, err.Error()) // 429
	case errors.Is(err, services.ErrCoordinatorClosed):
		httputil.RespondError(w, http.StatusServiceUnavailable, err.Error()) // 503
	case errors.Is(err, models.ErrProviderNotConfigured):
		httputil.RespondError(w, http.StatusServiceUnavailable, "Provider is not configured") // 503
	case errors.As(err, &te):
		if te.InvalidAudio {
			httputil.RespondError(w, http.StatusUnprocessableEntity, "Audio could not be transcribed") // 422
			return
		}
		httputil.RespondError(w, http.StatusBadGateway, "Failed to transcribe audio") // 502
	case errors.As(err, &se):
		httputil.RespondError(w, http.StatusBadGateway, "Failed to synthesize speech") // 502
	case errors.As(err, &ce):
		httputil.RespondError(w, http.StatusBadGateway, fallback) // 502
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		// The turn keeps running; its reply still reaches the user's channel.
		if r.Context().Err() != nil {
			log.Printf("WARN [Handlers]: Request ended before the reply: %v", err)
			return
		}
		httputil.RespondError(w, http.StatusGatewayTimeout, "Timed out waiting for a reply") // 504
	default:
		log.Printf("ERROR [Handlers]: Unexpected error: %v", err)
		httputil.RespondError(w, http.StatusInternalServerError, fallback) // 500
	}
}
