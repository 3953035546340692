package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")

	// Pipeline failures. Each is recovered at the smallest scope that can
	// absorb it: per pair, per direction, per candidate, per subscriber.
	ErrMalformedQuote = errors.New("malformed quote")
	ErrFetchFailed    = errors.New("quote fetch failed")
	ErrInvalidQuote   = errors.New("invalid quote")
	ErrStorage        = errors.New("storage error")
	ErrDelivery       = errors.New("delivery failed")
)
