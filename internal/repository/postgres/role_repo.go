package postgres

import "context"

// RoleRepo implements RoleRepository using PostgreSQL.
type RoleRepo struct{ db *DB }

// NewRoleRepo constructs a role repository.
func NewRoleRepo(db *DB) *RoleRepo { return &RoleRepo{db: db} }

// Ensure inserts the authority unless it is already present. Safe to call from every instance.
func (r *RoleRepo) Ensure(ctx context.Context, authority string) error {
	const q = `INSERT INTO roles (authority) VALUES ($1) ON CONFLICT (authority) DO NOTHING`
	_, err := r.db.Pool.Exec(ctx, q, authority)
	return err
}
