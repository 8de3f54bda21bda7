// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/todo-keeper/internal/model"
)

// UserRepository provides access to user accounts. Implementations encrypt PII fields on
// write and decrypt them on read, so callers always see plaintext.
type UserRepository interface {
	// Create inserts a new user together with its role links and returns the assigned ID.
	Create(ctx context.Context, u *model.User) (int64, error)
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id int64) (*model.User, error)
	// GetByUsername loads a user by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// GetByEmail loads a user by email address.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// Availability reports whether username and email are already registered.
	Availability(ctx context.Context, username, email string) (model.Availability, error)
	// UpdateProfile replaces the mutable profile fields.
	UpdateProfile(ctx context.Context, id int64, in model.ProfileUpdate) error
	// SetStatus changes the account status; the status date moves only when the status changes.
	SetStatus(ctx context.Context, id int64, status model.AccountStatus, at time.Time) error
	// SetResetToken stores a password reset code and its issue time.
	SetResetToken(ctx context.Context, id int64, code string, issuedAt time.Time) error
	// ConsumeResetToken atomically swaps the password hash and clears the code when email and
	// code match and the code was issued at or after notBefore. It returns the user ID.
	ConsumeResetToken(ctx context.Context, email, code string, notBefore time.Time, pwdHash []byte) (int64, error)
	// PurgeDeleted physically removes accounts soft-deleted before the cutoff, with their
	// role links and todo lists, and returns how many accounts were removed.
	PurgeDeleted(ctx context.Context, before time.Time) (int, error)
}

// RoleRepository manages role authorities.
type RoleRepository interface {
	// Ensure creates the role if it does not exist.
	Ensure(ctx context.Context, authority string) error
}
