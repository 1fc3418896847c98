package services

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrConfiguration        = errors.New("configuration error")
	ErrCorruptIndex         = errors.New("corrupt index")
	ErrSourceUnavailable    = errors.New("source unavailable")
	ErrMaterialUnavailable  = errors.New("material unavailable")
	ErrRateLimit            = errors.New("rate limited")
	ErrTranscriptionService = errors.New("transcription service error")
	ErrPayloadTooLarge      = errors.New("payload too large")
	ErrExternalTool         = errors.New("external tool error")
	ErrLocked               = errors.New("run already in progress")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether err belongs to a class the retry policy may repeat.
// Payload and configuration failures are never retried, even when they wrap a
// retryable cause.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrPayloadTooLarge),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrCorruptIndex),
		errors.Is(err, ErrLocked):
		return false
	}
	var fatal *permanentError
	if errors.As(err, &fatal) {
		return false
	}
	return errors.Is(err, ErrSourceUnavailable) ||
		errors.Is(err, ErrMaterialUnavailable) ||
		errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrTranscriptionService)
}

// Fatal reports whether err must abort the whole process rather than a single
// entry or source.
func Fatal(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

type retryAfterError struct {
	err   error
	delay time.Duration
}

func (e *retryAfterError) Error() string { return e.err.Error() }

func (e *retryAfterError) Unwrap() error { return e.err }

// WithRetryAfter attaches a vendor supplied retry hint to err.
func WithRetryAfter(err error, delay time.Duration) error {
	if err == nil || delay <= 0 {
		return err
	}
	return &retryAfterError{err: err, delay: delay}
}

// RetryAfter extracts a retry hint previously attached with WithRetryAfter.
func RetryAfter(err error) (time.Duration, bool) {
	var hinted *retryAfterError
	if errors.As(err, &hinted) && hinted.delay > 0 {
		return hinted.delay, true
	}
	return 0, false
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying while keeping its marker intact,
// e.g. a 404 on a feed that is otherwise classified as source unavailable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
