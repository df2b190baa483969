package models

import (
	"errors"
	"fmt"
)

// ValidationError reports a request rejected before it touched any state.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// CompletionError wraps a failure from the text-generation provider.
type CompletionError struct {
	Provider  string
	Retryable bool // Set for rate limits and transient upstream failures
	Err       error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion failed (%s): %v", e.Provider, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// SynthesisError wraps a failure from the speech synthesis provider.
type SynthesisError struct {
	Provider string
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("speech synthesis failed (%s): %v", e.Provider, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// TranscriptionError wraps a failure to turn audio into text.
// InvalidAudio is set when the input itself was unusable.
type TranscriptionError struct {
	Provider     string
	InvalidAudio bool
	Err          error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed (%s): %v", e.Provider, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// ErrProviderNotConfigured is returned by gateways running without credentials.
var ErrProviderNotConfigured = errors.New("provider not configured")

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
