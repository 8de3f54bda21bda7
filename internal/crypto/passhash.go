// Package crypto implements server-side password hashing, reset codes and field encryption.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"

	"github.com/and161185/todo-keeper/internal/errs"
)

// ResetCodeDigits is the length of a password reset code.
const ResetCodeDigits = 6

var resetCodeSpace = big.NewInt(1_000_000)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// ResetCode returns a zero-padded random numeric code of ResetCodeDigits digits.
func ResetCode() (string, error) {
	n, err := rand.Int(rand.Reader, resetCodeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", ResetCodeDigits, n.Int64()), nil
}

// PasswordHasher hashes and verifies passwords with bcrypt.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher returns a hasher with the given bcrypt cost.
// Out-of-range costs fall back to bcrypt.DefaultCost.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

// Cost reports the configured work factor.
func (h *PasswordHasher) Cost() int { return h.cost }

// Hash returns a salted bcrypt digest of password.
func (h *PasswordHasher) Hash(password string) ([]byte, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, fmt.Errorf("password longer than 72 bytes: %w", errs.ErrValidation)
	}
	return digest, err
}

// Verify reports whether password matches digest.
func (h *PasswordHasher) Verify(password string, digest []byte) bool {
	return bcrypt.CompareHashAndPassword(digest, []byte(password)) == nil
}
