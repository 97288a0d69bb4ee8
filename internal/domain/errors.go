package domain

import "errors"

// Sentinel errors surfaced across component boundaries; callers select
// exit codes and retry behavior with errors.Is against these.
var (
	ErrAuthFailed      = errors.New("authentication failed")
	ErrRateLimited     = errors.New("rate limited")
	ErrPostOnlyReject  = errors.New("post-only order would cross the book")
	ErrConfigInvalid   = errors.New("invalid configuration")
	ErrStreamExhausted = errors.New("stream reconnect budget exhausted")
	ErrOrderNotFound   = errors.New("order not found")
)
