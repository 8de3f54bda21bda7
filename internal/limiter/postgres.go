package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	selectBlock = `SELECT blocked_until FROM auth_limiter WHERE subject_hash = $1 AND ip_hash = $2`

	resetCounter = `
INSERT INTO auth_limiter (subject_hash, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 0, 'epoch', $3)
ON CONFLICT (subject_hash, ip_hash)
DO UPDATE SET fail_count = 0, blocked_until = 'epoch', updated_at = EXCLUDED.updated_at`

	countFailure = `
INSERT INTO auth_limiter (subject_hash, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 1, 'epoch', $3)
ON CONFLICT (subject_hash, ip_hash) DO UPDATE
SET fail_count = CASE
        WHEN EXCLUDED.updated_at - auth_limiter.updated_at > $4::interval THEN 1
        ELSE auth_limiter.fail_count + 1
    END,
    updated_at = EXCLUDED.updated_at
RETURNING fail_count`

	setBlock = `UPDATE auth_limiter SET blocked_until = $3 WHERE subject_hash = $1 AND ip_hash = $2`
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PG keeps counters in the auth_limiter table, so every instance sees the same lockouts.
type PG struct {
	db     querier
	policy Policy
	now    func() time.Time
}

// NewPG returns a limiter backed by pool.
func NewPG(pool *pgxpool.Pool, p Policy) *PG { return newPG(pool, p) }

func newPG(db querier, p Policy) *PG {
	return &PG{db: db, policy: p, now: time.Now}
}

func (l *PG) Allow(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	var until time.Time
	err := l.db.QueryRow(ctx, selectBlock, keyOf(subject, ipHash).args()...).Scan(&until)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	if left := until.Sub(l.now()); left > 0 {
		return false, left, nil
	}
	return true, 0, nil
}

func (l *PG) Success(ctx context.Context, subject string, ipHash []byte) error {
	_, err := l.db.Exec(ctx, resetCounter, keyOf(subject, ipHash).args(l.now())...)
	return err
}

// Failure bumps the counter; reaching Policy.MaxFails inside the window blocks the key for Policy.Block.
func (l *PG) Failure(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	k, now := keyOf(subject, ipHash), l.now()

	var fails int
	if err := l.db.QueryRow(ctx, countFailure, k.args(now, l.policy.Window)...).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.policy.MaxFails {
		return false, 0, nil
	}
	if _, err := l.db.Exec(ctx, setBlock, k.args(now.Add(l.policy.Block))...); err != nil {
		return false, 0, err
	}
	return true, l.policy.Block, nil
}
