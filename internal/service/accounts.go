package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/todo-keeper/internal/crypto"
	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/limiter"
	"github.com/and161185/todo-keeper/internal/metrics"
	"github.com/and161185/todo-keeper/internal/model"
	"github.com/and161185/todo-keeper/internal/notify"
	"github.com/and161185/todo-keeper/internal/repository"
)

// Defaults for AccountOptions.
const (
	DefaultResetTTL   = 5 * time.Minute
	DefaultPurgeGrace = 14 * 24 * time.Hour
)

// AccountService defines account lifecycle and credential operations.
type AccountService interface {
	// Register creates an ACTIVE account with the USER role and logs it in.
	Register(ctx context.Context, in model.Registration, ip string) (model.Session, error)
	// Login authenticates, reactivates the account and issues a token.
	Login(ctx context.Context, username, password, ip string) (model.Session, error)
	// CheckAvailability reports whether username and email are taken.
	CheckAvailability(ctx context.Context, username, email string) (model.Availability, error)
	// RequestPasswordReset issues a reset code and hands it to the notifier.
	RequestPasswordReset(ctx context.Context, email, ip string) error
	// ResetPassword consumes a reset code, sets the new password and logs in.
	ResetPassword(ctx context.Context, email, code, newPassword, ip string) (model.Session, error)
	// Profile returns the client view of an account.
	Profile(ctx context.Context, userID int64) (model.Profile, error)
	// UpdateProfile replaces the mutable profile fields.
	UpdateProfile(ctx context.Context, userID int64, in model.ProfileUpdate) (model.Profile, error)
	// SoftDelete marks the account DELETED.
	SoftDelete(ctx context.Context, userID int64) error
	// PurgeExpiredAccounts removes accounts deleted longer than the grace period ago.
	PurgeExpiredAccounts(ctx context.Context) (int, error)
}

// TokenSigner issues bearer tokens.
type TokenSigner interface {
	Sign(p model.Principal) (string, time.Time, error)
}

// AccountOptions tunes time windows. Zero values select the defaults.
type AccountOptions struct {
	ResetTTL   time.Duration
	PurgeGrace time.Duration
}

type AccountServiceImpl struct {
	users    repository.UserRepository
	roles    repository.RoleRepository
	auth     *Authenticator
	hasher   *crypto.PasswordHasher
	tokens   TokenSigner
	lim      limiter.Limiter
	notifier notify.Notifier
	log      *zap.Logger

	resetTTL   time.Duration
	purgeGrace time.Duration
	now        func() time.Time
	newCode    func() (string, error)
}

// NewAccountService constructs AccountService with required dependencies.
func NewAccountService(
	users repository.UserRepository,
	roles repository.RoleRepository,
	hasher *crypto.PasswordHasher,
	tokens TokenSigner,
	lim limiter.Limiter,
	notifier notify.Notifier,
	log *zap.Logger,
	opts AccountOptions,
) *AccountServiceImpl {
	if opts.ResetTTL <= 0 {
		opts.ResetTTL = DefaultResetTTL
	}
	if opts.PurgeGrace <= 0 {
		opts.PurgeGrace = DefaultPurgeGrace
	}
	return &AccountServiceImpl{
		users:      users,
		roles:      roles,
		auth:       NewAuthenticator(users, hasher),
		hasher:     hasher,
		tokens:     tokens,
		lim:        lim,
		notifier:   notifier,
		log:        log,
		resetTTL:   opts.ResetTTL,
		purgeGrace: opts.PurgeGrace,
		now:        time.Now,
		newCode:    crypto.ResetCode,
	}
}

// EnsureDefaultRoles creates the USER role if missing. Every instance may call it on start.
func (s *AccountServiceImpl) EnsureDefaultRoles(ctx context.Context) error {
	return s.roles.Ensure(ctx, model.RoleUser)
}

// Register checks availability, stores the account and returns its first session.
func (s *AccountServiceImpl) Register(ctx context.Context, in model.Registration, _ string) (model.Session, error) {
	if strings.TrimSpace(in.Username) == "" || strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return model.Session{}, fmt.Errorf("empty username/email/password: %w", errs.ErrValidation)
	}
	av, err := s.users.Availability(ctx, in.Username, in.Email)
	if err != nil {
		return model.Session{}, err
	}
	if av.UsernameTaken || av.EmailTaken {
		metrics.AuthAttempts.WithLabelValues("register", metrics.Failed).Inc()
		return model.Session{}, errs.ErrNotUnique
	}

	pwdHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return model.Session{}, err
	}
	now := s.now()
	u := &model.User{
		Username:    in.Username,
		Email:       in.Email,
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		DateOfBirth: in.DateOfBirth,
		Gender:      in.Gender,
		PwdHash:     pwdHash,
		Status:      model.StatusActive,
		StatusSetAt: now,
		Roles:       []string{model.RoleUser},
	}
	// a concurrent registration can still win the race; the store reports it as ErrNotUnique
	id, err := s.users.Create(ctx, u)
	if err != nil {
		if errors.Is(err, errs.ErrNotUnique) {
			metrics.AuthAttempts.WithLabelValues("register", metrics.Failed).Inc()
		}
		return model.Session{}, err
	}
	metrics.AuthAttempts.WithLabelValues("register", metrics.OK).Inc()

	// no second bcrypt round: the stored hash came from in.Password above
	created, err := s.users.GetByID(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	return s.session(created)
}

// Login authenticates with rate limiting by (username, ip).
func (s *AccountServiceImpl) Login(ctx context.Context, username, password, ip string) (model.Session, error) {
	subject := limiter.LoginSubject(strings.TrimSpace(username))
	ipHash := limiter.HashIP(ip)

	if err := s.gate(ctx, "login", subject, ipHash); err != nil {
		return model.Session{}, err
	}

	u, err := s.auth.AuthenticateUser(ctx, username, password)
	if err != nil {
		if !errors.Is(err, errs.ErrUnauthorized) {
			return model.Session{}, err
		}
		if s.recordFailure(ctx, "login", subject, ipHash) {
			return model.Session{}, errs.ErrRateLimited
		}
		if errors.Is(err, errs.ErrUserNotFound) {
			return model.Session{}, fmt.Errorf("login: %w", errs.ErrNotFound)
		}
		return model.Session{}, err
	}

	s.clearLimit(ctx, subject, ipHash)
	metrics.AuthAttempts.WithLabelValues("login", metrics.OK).Inc()
	return s.establish(ctx, u)
}

// establish reactivates an authenticated account if needed and issues its session.
func (s *AccountServiceImpl) establish(ctx context.Context, u *model.User) (model.Session, error) {
	if u.Status != model.StatusActive {
		if err := s.users.SetStatus(ctx, u.ID, model.StatusActive, s.now()); err != nil {
			return model.Session{}, err
		}
		s.log.Info("account reactivated", zap.Int64("user_id", u.ID), zap.String("from", string(u.Status)))
		u.Status = model.StatusActive
	}
	return s.session(u)
}

// clearLimit resets a counter; failures are only logged.
func (s *AccountServiceImpl) clearLimit(ctx context.Context, subject string, ipHash []byte) {
	if err := s.lim.Success(ctx, subject, ipHash); err != nil {
		s.log.Warn("limiter reset failed", zap.Error(err))
	}
}

func (s *AccountServiceImpl) session(u *model.User) (model.Session, error) {
	tok, exp, err := s.tokens.Sign(u.Principal())
	if err != nil {
		return model.Session{}, err
	}
	return model.Session{User: model.ProfileOf(u), Token: tok, ExpiresAt: exp}, nil
}

// gate rejects the attempt while the subject is locked out.
func (s *AccountServiceImpl) gate(ctx context.Context, kind, subject string, ipHash []byte) error {
	allowed, retry, err := s.lim.Allow(ctx, subject, ipHash)
	if err != nil {
		return err
	}
	if !allowed {
		metrics.AuthAttempts.WithLabelValues(kind, metrics.RateLimited).Inc()
		s.log.Info("attempt rejected by limiter", zap.String("kind", kind), zap.Duration("retry_after", retry))
		return errs.ErrRateLimited
	}
	return nil
}

// recordFailure counts a failed attempt and reports whether it triggered a lockout.
func (s *AccountServiceImpl) recordFailure(ctx context.Context, kind, subject string, ipHash []byte) bool {
	metrics.AuthAttempts.WithLabelValues(kind, metrics.Failed).Inc()
	blocked, _, err := s.lim.Failure(ctx, subject, ipHash)
	if err != nil {
		s.log.Warn("limiter failure not recorded", zap.String("kind", kind), zap.Error(err))
		return false
	}
	return blocked
}

// CheckAvailability reports which identifiers are already registered.
func (s *AccountServiceImpl) CheckAvailability(ctx context.Context, username, email string) (model.Availability, error) {
	return s.users.Availability(ctx, username, email)
}

// RequestPasswordReset stores a fresh code for the account and sends it out of band.
// An unknown email yields errs.ErrNotFound; the transport is expected to hide it.
func (s *AccountServiceImpl) RequestPasswordReset(ctx context.Context, email, ip string) error {
	subject := limiter.ResetSubject(strings.ToLower(strings.TrimSpace(email)))
	if err := s.gate(ctx, "forgot", subject, limiter.HashIP(ip)); err != nil {
		return err
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	code, err := s.newCode()
	if err != nil {
		return err
	}
	if err := s.users.SetResetToken(ctx, u.ID, code, s.now()); err != nil {
		return err
	}
	if err := s.notifier.SendResetCode(ctx, u.Email, code); err != nil {
		return fmt.Errorf("deliver reset code: %w", err)
	}
	s.log.Info("reset code issued", zap.Int64("user_id", u.ID))
	return nil
}

// ResetPassword swaps the password if the code matches and is fresh, then returns a new session.
func (s *AccountServiceImpl) ResetPassword(ctx context.Context, email, code, newPassword, ip string) (model.Session, error) {
	subject := limiter.ResetSubject(strings.ToLower(strings.TrimSpace(email)))
	ipHash := limiter.HashIP(ip)
	if err := s.gate(ctx, "reset", subject, ipHash); err != nil {
		return model.Session{}, err
	}

	pwdHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return model.Session{}, err
	}
	notBefore := s.now().Add(-s.resetTTL)
	id, err := s.users.ConsumeResetToken(ctx, email, code, notBefore, pwdHash)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidResetToken) && s.recordFailure(ctx, "reset", subject, ipHash) {
			return model.Session{}, errs.ErrRateLimited
		}
		return model.Session{}, err
	}
	s.clearLimit(ctx, subject, ipHash)
	metrics.AuthAttempts.WithLabelValues("reset", metrics.OK).Inc()

	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	// a valid code also lifts a login lockout; the code is spent, so the session bypasses Login
	s.clearLimit(ctx, limiter.LoginSubject(u.Username), ipHash)
	return s.establish(ctx, u)
}

// Profile returns the client view of the account.
func (s *AccountServiceImpl) Profile(ctx context.Context, userID int64) (model.Profile, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return model.Profile{}, err
	}
	return model.ProfileOf(u), nil
}

// UpdateProfile stores the new profile fields and returns the result.
func (s *AccountServiceImpl) UpdateProfile(ctx context.Context, userID int64, in model.ProfileUpdate) (model.Profile, error) {
	if strings.TrimSpace(in.Username) == "" || strings.TrimSpace(in.Email) == "" {
		return model.Profile{}, fmt.Errorf("empty username/email: %w", errs.ErrValidation)
	}
	if err := s.users.UpdateProfile(ctx, userID, in); err != nil {
		return model.Profile{}, err
	}
	return s.Profile(ctx, userID)
}

// SoftDelete marks the account DELETED; the purge removes it after the grace period.
func (s *AccountServiceImpl) SoftDelete(ctx context.Context, userID int64) error {
	if err := s.users.SetStatus(ctx, userID, model.StatusDeleted, s.now()); err != nil {
		return err
	}
	s.log.Info("account soft-deleted", zap.Int64("user_id", userID))
	return nil
}

// PurgeExpiredAccounts removes accounts deleted before now minus the grace period.
// When another instance is already purging, the run is skipped.
func (s *AccountServiceImpl) PurgeExpiredAccounts(ctx context.Context) (int, error) {
	n, err := s.users.PurgeDeleted(ctx, s.now().Add(-s.purgeGrace))
	switch {
	case errors.Is(err, errs.ErrBusy):
		metrics.PurgeRuns.WithLabelValues("skipped").Inc()
		s.log.Info("purge skipped: another instance holds the lock")
		return 0, nil
	case err != nil:
		metrics.PurgeRuns.WithLabelValues(metrics.Failed).Inc()
		return 0, err
	}
	metrics.PurgeRuns.WithLabelValues(metrics.OK).Inc()
	metrics.PurgedAccounts.Add(float64(n))
	s.log.Info("purge finished", zap.Int("accounts", n))
	return n, nil
}
