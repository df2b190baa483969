package services

import (
	"companion-backend/internal/models"
	"context"
	"fmt"
	"log"
)

// AudioSynthesizer produces raw encoded audio for text.
type AudioSynthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, string, error)
}

// AudioSaver persists encoded audio and returns a retrievable artifact.
type AudioSaver interface {
	Save(data []byte, format string) (models.AudioArtifact, error)
}

// SpeechService couples a synthesis provider with audio storage so callers get
// a servable artifact back instead of raw bytes.
type SpeechService struct {
	synth AudioSynthesizer
	files AudioSaver
}

// NewSpeechService creates a new SpeechService.
func NewSpeechService(synth AudioSynthesizer, files AudioSaver) *SpeechService {
	return &SpeechService{
		synth: synth,
		files: files,
	}
}

// Synthesize speaks text with voiceID and stores the result as a new artifact.
// Identical inputs produce distinct artifacts.
func (s *SpeechService) Synthesize(ctx context.Context, text, voiceID string) (models.AudioArtifact, error) {
	data, format, err := s.synth.Synthesize(ctx, text, voiceID)
	if err != nil {
		return models.AudioArtifact{}, err
	}

	artifact, err := s.files.Save(data, format)
	if err != nil {
		return models.AudioArtifact{}, &models.SynthesisError{
			Provider: s.synth.Name(),
			Err:      fmt.Errorf("failed to store audio: %w", err),
		}
	}

	log.Printf("[SpeechService] Stored %d bytes of %s audio as %s", artifact.Size, artifact.Format, artifact.ID)
	return artifact, nil
}
