package domain

import "errors"

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidArgument   = errors.New("invalid argument")

	// ErrDuplicateIdempotencyKey signals a key reused with a request
	// whose fingerprint differs from the one stored on first use.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key reused with different parameters")

	// ErrIdempotencyInProgress signals a concurrent request holding the
	// same (route, key); the caller should retry.
	ErrIdempotencyInProgress = errors.New("request with this idempotency key in progress")
)
