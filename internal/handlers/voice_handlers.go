package handlers

import (
	"companion-backend/internal/models"
	"companion-backend/internal/services"
	"companion-backend/pkg/httputil"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// DefaultMaxAudioBytes caps uploaded recordings.
const DefaultMaxAudioBytes = 25 << 20

// VoiceCoordinator defines what the voice handlers need from the session coordinator.
type VoiceCoordinator interface {
	Synthesize(ctx context.Context, text, personaName string) (models.AudioArtifact, error)
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
	SubmitVoice(ctx context.Context, req models.VoiceRequest) (string, *services.TurnHandle, error)
}

// VoiceHandlers handles speech synthesis and transcription requests.
type VoiceHandlers struct {
	coordinator   VoiceCoordinator
	maxAudioBytes int64
}

// NewVoiceHandlers creates a new VoiceHandlers instance.
func NewVoiceHandlers(coordinator VoiceCoordinator, maxAudioBytes int64) *VoiceHandlers {
	if maxAudioBytes <= 0 {
		maxAudioBytes = DefaultMaxAudioBytes
	}
	return &VoiceHandlers{
		coordinator:   coordinator,
		maxAudioBytes: maxAudioBytes,
	}
}

// HandleSpeak handles POST /api/speak.
func (h *VoiceHandlers) HandleSpeak(w http.ResponseWriter, r *http.Request) {
	var req models.SpeakRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := req.Validate(); err != nil {
		respondTurnError(w, r, err, "Failed to synthesize speech")
		return
	}

	artifact, err := h.coordinator.Synthesize(r.Context(), req.Text, req.Persona)
	if err != nil {
		respondTurnError(w, r, err, "Failed to synthesize speech")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, models.SpeakResponse{
		AudioURL: artifact.URL,
		AudioID:  artifact.ID,
	})
}

// HandleTranscribe handles POST /api/transcribe with a multipart "audio" file.
func (h *VoiceHandlers) HandleTranscribe(w http.ResponseWriter, r *http.Request) {
	audio, filename, ok := h.readAudio(w, r)
	if !ok {
		return
	}

	text, err := h.coordinator.Transcribe(r.Context(), audio, filename)
	if err != nil {
		respondTurnError(w, r, err, "Failed to transcribe audio")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, models.TranscribeResponse{Text: text})
}

// HandleVoiceChat handles POST /api/voice-chat: a recording is transcribed and
// submitted as a chat turn on the user's channel.
func (h *VoiceHandlers) HandleVoiceChat(w http.ResponseWriter, r *http.Request) {
	audio, filename, ok := h.readAudio(w, r)
	if !ok {
		return
	}

	speak, _ := strconv.ParseBool(r.FormValue("speak"))
	req := models.VoiceRequest{
		Audio:    audio,
		Filename: filename,
		UserID:   userIDOrDefault(r.FormValue("userId")),
		Persona:  r.FormValue("persona"),
		Speak:    speak,
	}

	transcript, handle, err := h.coordinator.SubmitVoice(r.Context(), req)
	if err != nil {
		respondTurnError(w, r, err, "Failed to generate response")
		return
	}

	res, err := handle.Wait(r.Context())
	if err != nil {
		respondTurnError(w, r, err, "Failed to generate response")
		return
	}

	resp := models.VoiceChatResponse{
		Transcript: transcript,
		Response:   res.Reply.Content,
		UserID:     req.UserID,
	}
	if res.Audio != nil {
		resp.AudioURL = res.Audio.URL
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}

// readAudio extracts the "audio" multipart file. It writes the error response
// itself and reports false when the upload is unusable.
func (h *VoiceHandlers) readAudio(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxAudioBytes+(1<<20))
	if err := r.ParseMultipartForm(h.maxAudioBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.RespondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Audio file exceeds %d bytes", h.maxAudioBytes))
			return nil, "", false
		}
		httputil.RespondError(w, http.StatusBadRequest, "Audio file is required")
		return nil, "", false
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Audio file is required")
		return nil, "", false
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, h.maxAudioBytes+1))
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Failed to read audio file")
		return nil, "", false
	}
	if int64(len(audio)) > h.maxAudioBytes {
		httputil.RespondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Audio file exceeds %d bytes", h.maxAudioBytes))
		return nil, "", false
	}
	if len(audio) == 0 {
		httputil.RespondError(w, http.StatusBadRequest, "Audio file is required")
		return nil, "", false
	}

	return audio, header.Filename, true
}
