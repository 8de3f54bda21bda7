package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/model"
)

// FieldCipher encrypts sensitive columns and derives blind indexes for lookups.
type FieldCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	Index(value string) []byte
}

// purgeLockKey is the advisory lock held while purging deleted accounts.
const purgeLockKey int64 = 0x746f646f707572 // "todopur"

const resetIndexPrefix = "reset:"

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct {
	db     *DB
	cipher FieldCipher
}

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB, cipher FieldCipher) *UserRepo { return &UserRepo{db: db, cipher: cipher} }

// NormalizeUsername trims surrounding whitespace.
func NormalizeUsername(s string) string { return strings.TrimSpace(s) }

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func (r *UserRepo) usernameIdx(s string) []byte { return r.cipher.Index(NormalizeUsername(s)) }
func (r *UserRepo) emailIdx(s string) []byte    { return r.cipher.Index(NormalizeEmail(s)) }
func (r *UserRepo) resetIdx(code string) []byte {
	return r.cipher.Index(resetIndexPrefix + strings.TrimSpace(code))
}

// sealed holds the encrypted form of the sensitive user columns.
type sealed struct {
	usernameEnc, emailEnc, firstNameEnc, lastNameEnc string
}

func (r *UserRepo) seal(username, email, first, last string) (sealed, error) {
	var s sealed
	var err error
	if s.usernameEnc, err = r.cipher.Encrypt(NormalizeUsername(username)); err != nil {
		return sealed{}, fmt.Errorf("username: %w", err)
	}
	if s.emailEnc, err = r.cipher.Encrypt(NormalizeEmail(email)); err != nil {
		return sealed{}, fmt.Errorf("email: %w", err)
	}
	if s.firstNameEnc, err = r.cipher.Encrypt(first); err != nil {
		return sealed{}, fmt.Errorf("first name: %w", err)
	}
	if s.lastNameEnc, err = r.cipher.Encrypt(last); err != nil {
		return sealed{}, fmt.Errorf("last name: %w", err)
	}
	return s, nil
}

func (r *UserRepo) open(s sealed, u *model.User) error {
	var err error
	if u.Username, err = r.cipher.Decrypt(s.usernameEnc); err != nil {
		return fmt.Errorf("username: %w", err)
	}
	if u.Email, err = r.cipher.Decrypt(s.emailEnc); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	if u.FirstName, err = r.cipher.Decrypt(s.firstNameEnc); err != nil {
		return fmt.Errorf("first name: %w", err)
	}
	if u.LastName, err = r.cipher.Decrypt(s.lastNameEnc); err != nil {
		return fmt.Errorf("last name: %w", err)
	}
	return nil
}

// Create inserts the user and links its roles in one transaction.
func (r *UserRepo) Create(ctx context.Context, u *model.User) (int64, error) {
	s, err := r.seal(u.Username, u.Email, u.FirstName, u.LastName)
	if err != nil {
		return 0, err
	}

	const ins = `
INSERT INTO users (username_enc, username_idx, email_enc, email_idx, first_name_enc, last_name_enc,
                   date_of_birth, gender, pwd_hash, status, status_set_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING id, created_at`
	const link = `
INSERT INTO user_roles (user_id, role_id)
SELECT $1, id FROM roles WHERE authority = ANY($2)`

	var (
		id      int64
		created time.Time
	)
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, ins,
			s.usernameEnc, r.usernameIdx(u.Username), s.emailEnc, r.emailIdx(u.Email),
			s.firstNameEnc, s.lastNameEnc, u.DateOfBirth, string(u.Gender), u.PwdHash,
			string(u.Status), u.StatusSetAt,
		).Scan(&id, &created); err != nil {
			if isUniqueViolation(err) {
				return errs.ErrNotUnique
			}
			return err
		}
		if len(u.Roles) == 0 {
			return nil
		}
		tag, err := tx.Exec(ctx, link, id, u.Roles)
		if err != nil {
			return err
		}
		if int(tag.RowsAffected()) != len(u.Roles) {
			return fmt.Errorf("link roles %v: %w", u.Roles, errs.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	u.ID, u.CreatedAt = id, created
	return id, nil
}

const selectUser = `
SELECT u.id, u.username_enc, u.email_enc, u.first_name_enc, u.last_name_enc, u.date_of_birth, u.gender,
       u.pwd_hash, u.status, u.status_set_at, u.created_at,
       COALESCE(array_agg(r.authority) FILTER (WHERE r.authority IS NOT NULL), '{}') AS roles
FROM users u
LEFT JOIN user_roles ur ON ur.user_id = u.id
LEFT JOIN roles r ON r.id = ur.role_id
`

func (r *UserRepo) scanUser(row pgx.Row) (*model.User, error) {
	var (
		u      model.User
		s      sealed
		gender string
		status string
	)
	if err := row.Scan(&u.ID, &s.usernameEnc, &s.emailEnc, &s.firstNameEnc, &s.lastNameEnc, &u.DateOfBirth,
		&gender, &u.PwdHash, &status, &u.StatusSetAt, &u.CreatedAt, &u.Roles); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	if err := r.open(s, &u); err != nil {
		return nil, err
	}
	u.Gender, u.Status = model.Gender(gender), model.AccountStatus(status)
	return &u, nil
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return r.scanUser(r.db.Pool.QueryRow(ctx, selectUser+`WHERE u.id=$1 GROUP BY u.id`, id))
}

// GetByUsername selects a user by the blind index of its username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.scanUser(r.db.Pool.QueryRow(ctx, selectUser+`WHERE u.username_idx=$1 GROUP BY u.id`, r.usernameIdx(username)))
}

// GetByEmail selects a user by the blind index of its email address.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.scanUser(r.db.Pool.QueryRow(ctx, selectUser+`WHERE u.email_idx=$1 GROUP BY u.id`, r.emailIdx(email)))
}

// Availability checks both identifiers with a single round trip.
func (r *UserRepo) Availability(ctx context.Context, username, email string) (model.Availability, error) {
	const q = `
SELECT EXISTS(SELECT 1 FROM users WHERE username_idx=$1),
       EXISTS(SELECT 1 FROM users WHERE email_idx=$2)`
	var a model.Availability
	err := r.db.Pool.QueryRow(ctx, q, r.usernameIdx(username), r.emailIdx(email)).Scan(&a.UsernameTaken, &a.EmailTaken)
	return a, err
}

// UpdateProfile rewrites the profile columns of one user.
func (r *UserRepo) UpdateProfile(ctx context.Context, id int64, in model.ProfileUpdate) error {
	s, err := r.seal(in.Username, in.Email, in.FirstName, in.LastName)
	if err != nil {
		return err
	}
	const q = `
UPDATE users
SET username_enc=$2, username_idx=$3, email_enc=$4, email_idx=$5,
    first_name_enc=$6, last_name_enc=$7, date_of_birth=$8, gender=$9
WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id,
		s.usernameEnc, r.usernameIdx(in.Username), s.emailEnc, r.emailIdx(in.Email),
		s.firstNameEnc, s.lastNameEnc, in.DateOfBirth, string(in.Gender))
	if err != nil {
		if isUniqueViolation(err) {
			return errs.ErrNotUnique
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetStatus updates status, moving status_set_at only on an actual change.
func (r *UserRepo) SetStatus(ctx context.Context, id int64, status model.AccountStatus, at time.Time) error {
	const q = `
UPDATE users
SET status_set_at = CASE WHEN status = $2 THEN status_set_at ELSE $3 END,
    status = $2
WHERE id = $1`
	tag, err := r.db.Pool.Exec(ctx, q, id, string(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetResetToken stores the blind index of code; the code itself is never persisted.
func (r *UserRepo) SetResetToken(ctx context.Context, id int64, code string, issuedAt time.Time) error {
	const q = `UPDATE users SET reset_token_idx=$2, reset_token_issued_at=$3 WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, r.resetIdx(code), issuedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ConsumeResetToken is a compare-and-swap on the reset code: the match, the password change
// and the clearing of the code happen in one statement, so a code is consumed at most once.
func (r *UserRepo) ConsumeResetToken(
	ctx context.Context, email, code string, notBefore time.Time, pwdHash []byte,
) (int64, error) {
	const q = `
UPDATE users
SET pwd_hash=$4, reset_token_idx=NULL, reset_token_issued_at=NULL
WHERE email_idx=$1 AND reset_token_idx=$2 AND reset_token_issued_at >= $3
RETURNING id`
	var id int64
	err := r.db.Pool.QueryRow(ctx, q, r.emailIdx(email), r.resetIdx(code), notBefore, pwdHash).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, errs.ErrInvalidResetToken
	}
	return id, err
}

// PurgeDeleted removes expired soft-deleted accounts. Children are deleted before parents.
// Only one purge runs at a time across instances; a concurrent call returns errs.ErrBusy.
func (r *UserRepo) PurgeDeleted(ctx context.Context, before time.Time) (int, error) {
	const (
		lock    = `SELECT pg_try_advisory_xact_lock($1)`
		sel     = `SELECT id FROM users WHERE status=$1 AND status_set_at < $2 FOR UPDATE SKIP LOCKED`
		roles   = `DELETE FROM user_roles WHERE user_id = ANY($1)`
		actions = `DELETE FROM actions WHERE todo_list_id IN (SELECT id FROM todo_lists WHERE user_id = ANY($1))`
		lists   = `DELETE FROM todo_lists WHERE user_id = ANY($1)`
		users   = `DELETE FROM users WHERE id = ANY($1)`
	)

	var purged int
	err := r.db.inTx(ctx, func(tx pgx.Tx) error {
		var locked bool
		if err := tx.QueryRow(ctx, lock, purgeLockKey).Scan(&locked); err != nil {
			return err
		}
		if !locked {
			return errs.ErrBusy
		}

		rows, err := tx.Query(ctx, sel, string(model.StatusDeleted), before)
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		for _, q := range []string{roles, actions, lists} {
			if _, err := tx.Exec(ctx, q, ids); err != nil {
				return err
			}
		}
		tag, err := tx.Exec(ctx, users, ids)
		if err != nil {
			return err
		}
		purged = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}
