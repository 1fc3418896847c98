package transcription

import (
	"context"
	"time"

	"gitloop/internal/config"
	"gitloop/internal/services"
	"gitloop/internal/transcript"
)

// Request is one unit of audio to transcribe. Exactly one of Audio, Path,
// or URL is expected; Audio wins over Path when both are set.
type Request struct {
	Audio    []byte
	FileName string
	Path     string
	URL      string
	// Language is an optional ISO 639-1 hint.
	Language string
}

// Result is a backend's transcription of one request. Segment times are
// relative to the start of the submitted audio.
type Result struct {
	Segments []transcript.Segment
	Language string
	Duration time.Duration
}

// Capabilities describes what a backend accepts.
type Capabilities struct {
	// URL reports whether Request.URL may be used instead of uploading.
	URL bool
	// MaxUploadBytes is the largest accepted upload; zero means unbounded.
	MaxUploadBytes int64
}

// Transcriber is a speech-to-text backend.
type Transcriber interface {
	Name() string
	Capabilities() Capabilities
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// NewBackend builds the backend selected by cfg.Transcription.Backend.
func NewBackend(cfg *config.Config, run services.CommandRunner, opts ...Option) (Transcriber, error) {
	switch cfg.Transcription.Backend {
	case config.BackendGroq:
		client, err := NewClient(Config{
			APIKey:         cfg.Transcription.APIKey,
			BaseURL:        cfg.Transcription.BaseURL,
			Model:          cfg.Transcription.Model,
			MaxUploadBytes: cfg.Transcription.MaxUploadBytes,
			TimeoutSeconds: cfg.Transcription.TimeoutSeconds,
			RetryAttempts:  cfg.Transcription.RetryAttempts,
		}, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.BackendWhisperX:
		return NewWhisperX(WhisperXConfig{
			UVX:   cfg.Tools.UVX,
			Model: cfg.Transcription.WhisperXModel,
		}, run), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "transcription", "backend",
			"transcription backend "+cfg.Transcription.Backend+" does not transcribe audio", nil)
	}
}
