// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication. Every authentication failure wraps it.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated principal lacks the role or ownership for a resource.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates temporary lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotUnique indicates a unique constraint violation (username or email taken).
	ErrNotUnique = errors.New("not unique")

	// ErrInvalidResetToken indicates an unknown, stale or already consumed password reset code.
	ErrInvalidResetToken = errors.New("invalid token")

	// ErrValidation indicates malformed input rejected before reaching storage.
	ErrValidation = errors.New("validation failed")

	// ErrCrypto indicates a field could not be encrypted or decrypted.
	ErrCrypto = errors.New("crypto failure")

	// ErrBusy indicates the operation is already running elsewhere.
	ErrBusy = errors.New("busy")
)

// Authentication failures.
var (
	ErrUserNotFound   = fmt.Errorf("user not found: %w", ErrUnauthorized)
	ErrBadCredentials = fmt.Errorf("bad credentials: %w", ErrUnauthorized)
	ErrTokenExpired   = fmt.Errorf("token expired: %w", ErrUnauthorized)
	ErrTokenSignature = fmt.Errorf("token signature invalid: %w", ErrUnauthorized)
	ErrTokenMalformed = fmt.Errorf("token malformed: %w", ErrUnauthorized)
)
