package domain

import "errors"

var (
	// ErrInvalidURL is returned when no post identifier can be extracted from the URL.
	ErrInvalidURL = errors.New("invalid weibo post URL")

	// ErrHandshakeFailed is returned when the visitor handshake fails after bounded retries.
	ErrHandshakeFailed = errors.New("visitor handshake failed")

	// ErrAcquisition is returned when a metadata or comments fetch fails after
	// retries and one re-authentication attempt.
	ErrAcquisition = errors.New("failed to acquire post data")

	// ErrPostNotFound is returned when the target post does not exist or was deleted.
	ErrPostNotFound = errors.New("post not found or deleted")

	// ErrRateLimited is returned when the per-IP analyze rate limit is exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")
)
