// Package service contains application services for accounts, authentication and todo lists.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/todo-keeper/internal/crypto"
	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/model"
	"github.com/and161185/todo-keeper/internal/repository"
)

// Authenticator verifies username and password against the credential store.
type Authenticator struct {
	users  repository.UserRepository
	hasher *crypto.PasswordHasher
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(users repository.UserRepository, hasher *crypto.PasswordHasher) *Authenticator {
	return &Authenticator{users: users, hasher: hasher}
}

// Authenticate returns the principal for valid credentials. Failures wrap errs.ErrUnauthorized:
// errs.ErrUserNotFound for an unknown username, errs.ErrBadCredentials for a wrong password.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (model.Principal, error) {
	u, err := a.AuthenticateUser(ctx, username, password)
	if err != nil {
		return model.Principal{}, err
	}
	return u.Principal(), nil
}

// AuthenticateUser is Authenticate returning the whole account.
func (a *Authenticator) AuthenticateUser(ctx context.Context, username, password string) (*model.User, error) {
	u, err := a.users.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return nil, errs.ErrUserNotFound
	case err != nil:
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !a.hasher.Verify(password, u.PwdHash) {
		return nil, errs.ErrBadCredentials
	}
	return u, nil
}
