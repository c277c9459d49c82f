package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound         = errors.New("not found")
	ErrLockBusy         = errors.New("busy: run lock is held by another worker")
	ErrInvalidShard     = errors.New("invalid shard")
	ErrInvalidRecipient = errors.New("recipient_id must not be empty")
	ErrInvalidTitle     = errors.New("title must be at most 256 characters")
	ErrInvalidEndpoint  = errors.New("endpoint_id and token must not be empty")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrMalformedTask    = errors.New("malformed task record")
)
