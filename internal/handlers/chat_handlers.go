package handlers

import (
	"companion-backend/internal/models"
	"companion-backend/internal/services"
	"companion-backend/pkg/httputil"
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ChatCoordinator defines what the chat handlers need from the session coordinator.
type ChatCoordinator interface {
	Submit(ctx context.Context, req models.ChatRequest) (*services.TurnHandle, error)
	History(userID string) []models.Message
	Reset(ctx context.Context, userID string) (bool, error)
}

// ChatHandlers handles HTTP requests related to conversations.
type ChatHandlers struct {
	coordinator ChatCoordinator
}

// NewChatHandlers creates a new ChatHandlers instance.
func NewChatHandlers(coordinator ChatCoordinator) *ChatHandlers {
	return &ChatHandlers{
		coordinator: coordinator,
	}
}

// HandleChat handles POST /api/chat. The turn is queued on the user's channel
// and the handler waits for its reply; subscribers receive the same events.
func (h *ChatHandlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	req.UserID = userIDOrDefault(req.UserID)

	handle, err := h.coordinator.Submit(r.Context(), req)
	if err != nil {
		respondTurnError(w, r, err, "Failed to generate response")
		return
	}

	res, err := handle.Wait(r.Context())
	if err != nil {
		respondTurnError(w, r, err, "Failed to generate response")
		return
	}

	resp := models.ChatResponse{
		Response: res.Reply.Content,
		UserID:   req.UserID,
	}
	if res.Audio != nil {
		resp.AudioURL = res.Audio.URL
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}

// HandleGetConversation handles GET /api/conversation/{userID}.
// Unknown users get an empty conversation.
func (h *ChatHandlers) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID := userIDOrDefault(chi.URLParam(r, "userID"))

	httputil.RespondJSON(w, http.StatusOK, models.ConversationResponse{
		Conversation: h.coordinator.History(userID),
	})
}

// HandleDeleteConversation handles DELETE /api/conversation/{userID}.
// The reset waits for the user's in-flight turn to finish.
func (h *ChatHandlers) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID := userIDOrDefault(chi.URLParam(r, "userID"))

	existed, err := h.coordinator.Reset(r.Context(), userID)
	if err != nil {
		respondTurnError(w, r, err, "Failed to reset conversation")
		return
	}
	if !existed {
		log.Printf("[ChatHandlers] Reset requested for user %s without a conversation", userID)
	}
	w.WriteHeader(http.StatusNoContent)
}
