// Package authz holds the ownership/role guard and the principal carried in request contexts.
package authz

import (
	"context"

	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/model"
)

type ctxKey string

const principalKey ctxKey = "todo.principal"

// WithPrincipal stores the authenticated principal in ctx.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromCtx fetches the principal from ctx.
func PrincipalFromCtx(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalKey).(model.Principal)
	return p, ok
}

// Guard allows access only when p owns the resource and carries role.
func Guard(p model.Principal, ownerID int64, role string) error {
	if p.UserID == 0 || p.UserID != ownerID {
		return errs.ErrForbidden
	}
	if !p.HasRole(role) {
		return errs.ErrForbidden
	}
	return nil
}
