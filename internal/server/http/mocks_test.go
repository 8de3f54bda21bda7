package httpserver

import (
	"context"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/todo-keeper/internal/model"
	"github.com/and161185/todo-keeper/internal/service"
	"github.com/and161185/todo-keeper/internal/token"
)

type mockAccounts struct{ mock.Mock }

var _ service.AccountService = (*mockAccounts)(nil)

func (m *mockAccounts) Register(ctx context.Context, in model.Registration, ip string) (model.Session, error) {
	args := m.Called(ctx, in, ip)
	return args.Get(0).(model.Session), args.Error(1)
}
func (m *mockAccounts) Login(ctx context.Context, username, password, ip string) (model.Session, error) {
	args := m.Called(ctx, username, password, ip)
	return args.Get(0).(model.Session), args.Error(1)
}
func (m *mockAccounts) CheckAvailability(ctx context.Context, username, email string) (model.Availability, error) {
	args := m.Called(ctx, username, email)
	return args.Get(0).(model.Availability), args.Error(1)
}
func (m *mockAccounts) RequestPasswordReset(ctx context.Context, email, ip string) error {
	return m.Called(ctx, email, ip).Error(0)
}
func (m *mockAccounts) ResetPassword(ctx context.Context, email, code, newPassword, ip string) (model.Session, error) {
	args := m.Called(ctx, email, code, newPassword, ip)
	return args.Get(0).(model.Session), args.Error(1)
}
func (m *mockAccounts) Profile(ctx context.Context, userID int64) (model.Profile, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(model.Profile), args.Error(1)
}
func (m *mockAccounts) UpdateProfile(ctx context.Context, userID int64, in model.ProfileUpdate) (model.Profile, error) {
	args := m.Called(ctx, userID, in)
	return args.Get(0).(model.Profile), args.Error(1)
}
func (m *mockAccounts) SoftDelete(ctx context.Context, userID int64) error {
	return m.Called(ctx, userID).Error(0)
}
func (m *mockAccounts) PurgeExpiredAccounts(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type mockTodos struct{ mock.Mock }

var _ service.TodoService = (*mockTodos)(nil)

func (m *mockTodos) ListForUser(ctx context.Context, userID int64, page, size int) (model.TodoPage, error) {
	args := m.Called(ctx, userID, page, size)
	return args.Get(0).(model.TodoPage), args.Error(1)
}

type fakeTracker struct {
	mu   sync.Mutex
	errs []error
}

func (f *fakeTracker) Report(_ context.Context, err error, _ map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}
func (f *fakeTracker) Flush(time.Duration) bool { return true }

func (f *fakeTracker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

var testKey = sync.OnceValues(func() (*rsa.PrivateKey, error) { return token.GenerateKey(token.KeyBits) })

type suite struct {
	router   *gin.Engine
	accounts *mockAccounts
	todos    *mockTodos
	tracker  *fakeTracker
	signer   *token.Signer
}

func newSuite(t *testing.T) *suite {
	t.Helper()
	gin.SetMode(gin.TestMode)
	key, err := testKey()
	require.NoError(t, err)
	s := &suite{
		accounts: &mockAccounts{},
		todos:    &mockTodos{},
		tracker:  &fakeTracker{},
		signer:   token.NewSigner(key, token.DefaultIssuer, time.Hour),
	}
	log := zaptest.NewLogger(t)
	h := NewHandler(s.accounts, s.todos, s.signer, s.tracker, log)
	s.router = NewRouter(h, s.signer, log, RouterOptions{})
	return s
}

func (s *suite) tokenFor(t *testing.T, id int64, roles ...string) string {
	t.Helper()
	tok, _, err := s.signer.Sign(model.Principal{UserID: id, Username: "user", Roles: roles})
	require.NoError(t, err)
	return tok
}
