// Package limiter counts failed credential attempts and locks out noisy subjects.
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Limiter controls attempts against a subject (a username or an email address) and temporary lockouts.
type Limiter interface {
	// Allow reports whether an attempt is currently allowed and optional retry-after.
	Allow(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error)
	// Success clears the counter.
	Success(ctx context.Context, subject string, ipHash []byte) error
	// Failure records a failed attempt and reports whether it started a lockout.
	Failure(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error)
}

// Policy bounds failed attempts per key.
type Policy struct {
	Window   time.Duration // a failure after this much quiet starts a new count
	MaxFails int
	Block    time.Duration
}

// Scoped subjects keep login and password-reset counters apart.
func LoginSubject(username string) string { return "login:" + username }
func ResetSubject(email string) string    { return "reset:" + email }

// HashIP returns a stable digest of a client address; raw addresses are never stored.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}

// key identifies one counter row. The subject is kept only as a digest.
type key struct {
	subject [sha256.Size]byte
	ip      []byte
}

func keyOf(subject string, ipHash []byte) key {
	return key{subject: sha256.Sum256([]byte(subject)), ip: ipHash}
}

// args returns the row's primary key columns followed by extra statement arguments.
func (k key) args(extra ...any) []any {
	return append([]any{k.subject[:], k.ip}, extra...)
}
