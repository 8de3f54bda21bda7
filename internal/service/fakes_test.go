package service

import (
	"context"
	"crypto/rsa"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/and161185/todo-keeper/internal/crypto"
	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/limiter"
	"github.com/and161185/todo-keeper/internal/model"
	"github.com/and161185/todo-keeper/internal/repository"
	"github.com/and161185/todo-keeper/internal/token"
)

type resetState struct {
	code string
	at   time.Time
}

// fakeUsers is an in-memory credential store with the same uniqueness and reset semantics as postgres.
type fakeUsers struct {
	mu    sync.Mutex
	next  int64
	byID  map[int64]*model.User
	reset map[int64]resetState
	lists map[int64]int

	createErr error
	getErr    error
	purgeErr  error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[int64]*model.User{}, reset: map[int64]resetState{}, lists: map[int64]int{}}
}

func normUser(s string) string  { return strings.TrimSpace(s) }
func normEmail(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func (f *fakeUsers) find(match func(*model.User) bool) (*model.User, error) {
	for _, u := range f.byID {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) Create(_ context.Context, u *model.User) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	for _, e := range f.byID {
		if normUser(e.Username) == normUser(u.Username) || normEmail(e.Email) == normEmail(u.Email) {
			return 0, errs.ErrNotUnique
		}
	}
	f.next++
	c := *u
	c.ID = f.next
	c.CreatedAt = time.Now()
	f.byID[c.ID] = &c
	return c.ID, nil
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(func(u *model.User) bool { return u.ID == id })
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.find(func(u *model.User) bool { return normUser(u.Username) == normUser(username) })
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.find(func(u *model.User) bool { return normEmail(u.Email) == normEmail(email) })
}

func (f *fakeUsers) Availability(_ context.Context, username, email string) (model.Availability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var av model.Availability
	for _, u := range f.byID {
		av.UsernameTaken = av.UsernameTaken || normUser(u.Username) == normUser(username)
		av.EmailTaken = av.EmailTaken || normEmail(u.Email) == normEmail(email)
	}
	return av, nil
}

func (f *fakeUsers) UpdateProfile(_ context.Context, id int64, in model.ProfileUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	for _, e := range f.byID {
		if e.ID != id && (normUser(e.Username) == normUser(in.Username) || normEmail(e.Email) == normEmail(in.Email)) {
			return errs.ErrNotUnique
		}
	}
	u.Username, u.Email = in.Username, in.Email
	u.FirstName, u.LastName = in.FirstName, in.LastName
	u.DateOfBirth, u.Gender = in.DateOfBirth, in.Gender
	return nil
}

func (f *fakeUsers) SetStatus(_ context.Context, id int64, status model.AccountStatus, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	if u.Status != status {
		u.Status, u.StatusSetAt = status, at
	}
	return nil
}

func (f *fakeUsers) SetResetToken(_ context.Context, id int64, code string, issuedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return errs.ErrNotFound
	}
	f.reset[id] = resetState{code: code, at: issuedAt}
	return nil
}

func (f *fakeUsers) ConsumeResetToken(_ context.Context, email, code string, notBefore time.Time, pwdHash []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.byID {
		st, ok := f.reset[id]
		if !ok || normEmail(u.Email) != normEmail(email) || st.code != code || st.at.Before(notBefore) {
			continue
		}
		u.PwdHash = pwdHash
		delete(f.reset, id)
		return id, nil
	}
	return 0, errs.ErrInvalidResetToken
}

func (f *fakeUsers) PurgeDeleted(_ context.Context, before time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.purgeErr != nil {
		return 0, f.purgeErr
	}
	n := 0
	for id, u := range f.byID {
		if u.Status == model.StatusDeleted && u.StatusSetAt.Before(before) {
			delete(f.byID, id)
			delete(f.lists, id)
			n++
		}
	}
	return n, nil
}

type fakeRoles struct{ ensured []string }

func (r *fakeRoles) Ensure(_ context.Context, authority string) error {
	r.ensured = append(r.ensured, authority)
	return nil
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	// blockPrefix locks out every subject starting with it, regardless of allowOK.
	blockPrefix string
	cleared     []string

	allowCalls   int
	failureCalls int
	successCalls int
	subjects     []string
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(_ context.Context, subject string, _ []byte) (bool, time.Duration, error) {
	l.allowCalls++
	l.subjects = append(l.subjects, subject)
	if l.blockPrefix != "" && strings.HasPrefix(subject, l.blockPrefix) {
		return false, time.Minute, l.allowErr
	}
	return l.allowOK, time.Minute, l.allowErr
}
func (l *fakeLimiter) Success(_ context.Context, subject string, _ []byte) error {
	l.successCalls++
	l.cleared = append(l.cleared, subject)
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

type fakeNotifier struct {
	email, code string
	calls       int
	err         error
}

func (n *fakeNotifier) SendResetCode(_ context.Context, email, code string) error {
	n.calls++
	n.email, n.code = email, code
	return n.err
}

var testKey = sync.OnceValues(func() (*rsa.PrivateKey, error) { return token.GenerateKey(token.KeyBits) })

func newSigner(t *testing.T) *token.Signer {
	t.Helper()
	key, err := testKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return token.NewSigner(key, token.DefaultIssuer, time.Hour)
}

type fixture struct {
	svc    *AccountServiceImpl
	users  *fakeUsers
	roles  *fakeRoles
	lim    *fakeLimiter
	notif  *fakeNotifier
	signer *token.Signer
	hasher *crypto.PasswordHasher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:  newFakeUsers(),
		roles:  &fakeRoles{},
		lim:    &fakeLimiter{allowOK: true},
		notif:  &fakeNotifier{},
		signer: newSigner(t),
		hasher: crypto.NewPasswordHasher(bcrypt.MinCost),
	}
	f.svc = NewAccountService(f.users, f.roles, f.hasher, f.signer, f.lim, f.notif, zaptest.NewLogger(t), AccountOptions{})
	return f
}

func registration(username, email, password string) model.Registration {
	return model.Registration{
		Username:    username,
		Email:       email,
		Password:    password,
		FirstName:   "Alice",
		LastName:    "Liddell",
		DateOfBirth: time.Date(1990, 5, 4, 0, 0, 0, 0, time.UTC),
		Gender:      model.GenderFemale,
	}
}
