package analysis

import (
	"errors"
	"fmt"
)

var (
	ErrHintSessionClosed = errors.New("hint session closed")
	ErrEmptyImage        = errors.New("empty image payload")
	ErrImageNotFound     = errors.New("image not found")
)

// StatusError is returned when the provider answers with a non-2xx status.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("analysis provider %s returned %d: %s", e.Path, e.StatusCode, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsPermanent reports whether retrying the call that returned err cannot help:
// the provider rejected the request or an image it depends on is missing.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrEmptyImage) || errors.Is(err, ErrImageNotFound) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return !statusErr.Retryable()
	}
	return false
}
