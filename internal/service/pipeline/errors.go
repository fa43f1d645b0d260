package pipeline

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies where an upload failed.
type Kind string

const (
	KindNoFile               Kind = "no_file"
	KindInvalidInput         Kind = "invalid_input"
	KindAudioProcessing      Kind = "audio_processing_failed"
	KindTranscriptionService Kind = "transcription_service_error"
	KindTranslation          Kind = "translation_failed"
	KindArtifactWrite        Kind = "artifact_write_failed"
	KindCanceled             Kind = "canceled"
)

// Error carries the failing stage's kind and its cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// Status is the HTTP status reported for the kind.
func (k Kind) Status() int {
	switch k {
	case KindNoFile, KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Message is the client-facing text for the kind. Translation and artifact
// failures share one message.
func (k Kind) Message() string {
	switch k {
	case KindNoFile:
		return "No file uploaded"
	case KindInvalidInput:
		return "Invalid upload"
	case KindAudioProcessing:
		return "Audio processing failed"
	case KindTranscriptionService:
		return "Transcription service error"
	default:
		return "Transcription failed"
	}
}
