package domain

import "errors"

var (
	// ErrNotFound signals a missing document.
	ErrNotFound = errors.New("document not found")
	// ErrFormat signals a stored embedding that cannot be parsed or validated.
	ErrFormat = errors.New("invalid embedding format")
	// ErrDimensionMismatch signals a vector whose dimension differs from the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrValidation signals malformed query parameters.
	ErrValidation = errors.New("invalid query parameters")
	// ErrStore signals a persistence failure.
	ErrStore = errors.New("store operation failed")

	// ErrRateLimited signals the embedding provider rejected the call for rate limiting.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidInput signals the embedding provider rejected the input text.
	ErrInvalidInput = errors.New("invalid embedding input")
	// ErrTransient signals a retryable embedding provider failure.
	ErrTransient = errors.New("transient provider error")
)

// IsProviderError reports whether err is one of the embedding provider error kinds.
func IsProviderError(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrTransient)
}

// IsRetryable reports whether a provider error is worth retrying.
// Invalid input never succeeds on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}
