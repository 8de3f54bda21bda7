package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/and161185/todo-keeper/internal/errs"
	"github.com/and161185/todo-keeper/internal/model"
	"github.com/and161185/todo-keeper/internal/token"
)

func (s *suite) do(method, path, bearer string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var b errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	_, err := time.Parse(time.RFC3339, b.Timestamp)
	require.NoError(t, err, "timestamp must be RFC3339")
	return b
}

func validRegistration() map[string]string {
	return map[string]string{
		"username":     "alice",
		"emailAddress": "alice@example.com",
		"password":     "CorrectPass1",
		"firstName":    "Alice",
		"lastName":     "O'Hara-Smith",
		"dateOfBirth":  "1990-05-04",
		"gender":       "FEMALE",
	}
}

func TestOwnership_OtherUsersPathIsForbidden(t *testing.T) {
	s := newSuite(t)
	tok := s.tokenFor(t, 5, model.RoleUser)
	s.accounts.On("Profile", mock.Anything, int64(5)).Return(model.Profile{ID: 5, Username: "user"}, nil).Once()

	w := s.do(http.MethodGet, "/users/7", tok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, msgForbidden, decodeError(t, w).Message)

	w = s.do(http.MethodGet, "/users/5", tok, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var p model.Profile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, int64(5), p.ID)

	s.accounts.AssertExpectations(t)
}

func TestOwnership_RoleRequired(t *testing.T) {
	s := newSuite(t)
	w := s.do(http.MethodGet, "/users/5", s.tokenFor(t, 5, "GUEST"), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	s.accounts.AssertNotCalled(t, "Profile", mock.Anything, mock.Anything)
}

func TestBearer_Rejections(t *testing.T) {
	s := newSuite(t)

	w := s.do(http.MethodGet, "/users/5", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, msgUnauthorized, decodeError(t, w).Message)

	w = s.do(http.MethodGet, "/users/5", "not.a.jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	otherKey, err := token.GenerateKey(token.KeyBits)
	require.NoError(t, err)
	forged, _, err := token.NewSigner(otherKey, token.DefaultIssuer, time.Hour).
		Sign(model.Principal{UserID: 5, Roles: []string{model.RoleUser}})
	require.NoError(t, err)
	w = s.do(http.MethodGet, "/users/5", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/users/5", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearer_SchemeCaseInsensitive(t *testing.T) {
	s := newSuite(t)
	s.accounts.On("SoftDelete", mock.Anything, int64(9)).Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/users/9", nil)
	req.Header.Set("Authorization", "bearer "+s.tokenFor(t, 9, model.RoleUser))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	s.accounts.AssertExpectations(t)
}

func TestOwner_BadID(t *testing.T) {
	s := newSuite(t)
	w := s.do(http.MethodGet, "/users/abc", s.tokenFor(t, 5, model.RoleUser), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegister_Validation(t *testing.T) {
	s := newSuite(t)
	cases := map[string]func(m map[string]string){
		"weak password":  func(m map[string]string) { m["password"] = "alllowercase1" },
		"short password": func(m map[string]string) { m["password"] = "Ab1" },
		"bad email":      func(m map[string]string) { m["emailAddress"] = "nope" },
		"bad name":       func(m map[string]string) { m["firstName"] = "R2D2" },
		"future birth":   func(m map[string]string) { m["dateOfBirth"] = time.Now().AddDate(1, 0, 0).Format(model.DateLayout) },
		"bad gender":     func(m map[string]string) { m["gender"] = "OTHER" },
		"no username":    func(m map[string]string) { delete(m, "username") },
	}
	for name, mutate := range cases {
		body := validRegistration()
		mutate(body)
		w := s.do(http.MethodPost, "/users/register", "", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}

	body := validRegistration()
	body["password"] = "short"
	w := s.do(http.MethodPost, "/users/register", "", body)
	assert.Contains(t, decodeError(t, w).Message, "password")

	s.accounts.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything)
}

func TestRegister_OKAndNotUnique(t *testing.T) {
	s := newSuite(t)
	dob := time.Date(1990, 5, 4, 0, 0, 0, 0, time.UTC)
	want := model.Registration{
		Username: "alice", Email: "alice@example.com", Password: "CorrectPass1",
		FirstName: "Alice", LastName: "O'Hara-Smith", DateOfBirth: dob, Gender: model.GenderFemale,
	}
	s.accounts.On("Register", mock.Anything, want, mock.Anything).
		Return(model.Session{User: model.Profile{ID: 1, Username: "alice"}, Token: "t"}, nil).Once()
	s.accounts.On("Register", mock.Anything, want, mock.Anything).
		Return(model.Session{}, errs.ErrNotUnique).Once()

	w := s.do(http.MethodPost, "/users/register", "", validRegistration())
	require.Equal(t, http.StatusOK, w.Code)
	var sess model.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sess))
	assert.Equal(t, "t", sess.Token)
	assert.Equal(t, int64(1), sess.User.ID)

	w = s.do(http.MethodPost, "/users/register", "", validRegistration())
	assert.Equal(t, http.StatusBadRequest, w.Code)
	s.accounts.AssertExpectations(t)
}

func TestLogin_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{errs.ErrBadCredentials, http.StatusUnauthorized, msgUnauthorized},
		{errs.ErrUserNotFound, http.StatusUnauthorized, msgUnauthorized},
		{errs.ErrNotFound, http.StatusNotFound, ""},
		{errs.ErrRateLimited, http.StatusTooManyRequests, ""},
		{errors.New("pool exhausted"), http.StatusInternalServerError, msgInternal},
	}
	for _, tc := range cases {
		s := newSuite(t)
		s.accounts.On("Login", mock.Anything, "alice", "pw", mock.Anything).Return(model.Session{}, tc.err).Once()
		w := s.do(http.MethodPost, "/users/login", "", map[string]string{"username": "alice", "password": "pw"})
		assert.Equal(t, tc.status, w.Code, tc.err.Error())
		b := decodeError(t, w)
		if tc.msg != "" {
			assert.Equal(t, tc.msg, b.Message)
		}
		assert.NotContains(t, b.Message, "pool exhausted")
		if tc.status == http.StatusInternalServerError {
			assert.Equal(t, 1, s.tracker.count(), "internal errors are reported")
		} else {
			assert.Zero(t, s.tracker.count())
		}
	}
}

func TestForgot_AlwaysOK(t *testing.T) {
	s := newSuite(t)
	s.accounts.On("RequestPasswordReset", mock.Anything, "ghost@x.io", mock.Anything).Return(errs.ErrNotFound).Once()
	s.accounts.On("RequestPasswordReset", mock.Anything, "a@x.io", mock.Anything).Return(nil).Once()
	s.accounts.On("RequestPasswordReset", mock.Anything, "broken@x.io", mock.Anything).Return(errors.New("kafka down")).Once()
	s.accounts.On("RequestPasswordReset", mock.Anything, "busy@x.io", mock.Anything).Return(errs.ErrRateLimited).Once()

	for _, email := range []string{"ghost@x.io", "a@x.io", "broken@x.io"} {
		w := s.do(http.MethodPost, "/forgot", "", map[string]string{"emailAddress": email})
		assert.Equal(t, http.StatusOK, w.Code, email)
	}
	assert.Equal(t, 1, s.tracker.count())

	w := s.do(http.MethodPost, "/forgot", "", map[string]string{"emailAddress": "busy@x.io"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = s.do(http.MethodPost, "/forgot", "", map[string]string{"emailAddress": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	s.accounts.AssertExpectations(t)
}

func TestResetPassword(t *testing.T) {
	s := newSuite(t)
	s.accounts.On("ResetPassword", mock.Anything, "a@x.io", "000000", "NewPass123", mock.Anything).
		Return(model.Session{}, errs.ErrInvalidResetToken).Once()
	s.accounts.On("ResetPassword", mock.Anything, "a@x.io", "123456", "NewPass123", mock.Anything).
		Return(model.Session{Token: "fresh"}, nil).Once()

	w := s.do(http.MethodPost, "/reset_password", "", map[string]string{"emailAddress": "a@x.io", "token": "000000", "password": "NewPass123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/reset_password", "", map[string]string{"emailAddress": "a@x.io", "token": "123456", "password": "NewPass123"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/reset_password", "", map[string]string{"emailAddress": "a@x.io", "token": "12ab56", "password": "NewPass123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodPost, "/reset_password", "", map[string]string{"emailAddress": "a@x.io", "token": "123456", "password": "weak"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	s.accounts.AssertExpectations(t)
}

func TestCheckAvailability(t *testing.T) {
	s := newSuite(t)
	s.accounts.On("CheckAvailability", mock.Anything, "alice", "a@x.io").Return(model.Availability{UsernameTaken: true}, nil).Once()
	w := s.do(http.MethodPost, "/users/checkusernameandemail", "", map[string]string{"username": "alice", "emailAddress": "a@x.io"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"usernameTaken":true,"emailTaken":false}`, w.Body.String())
}

func TestUpdateProfile(t *testing.T) {
	s := newSuite(t)
	body := validRegistration()
	delete(body, "password")
	s.accounts.On("UpdateProfile", mock.Anything, int64(3), mock.MatchedBy(func(u model.ProfileUpdate) bool {
		return u.Username == "alice" && u.DateOfBirth.Year() == 1990
	})).Return(model.Profile{ID: 3}, nil).Once()

	w := s.do(http.MethodPut, "/users/3", s.tokenFor(t, 3, model.RoleUser), body)
	assert.Equal(t, http.StatusOK, w.Code)
	s.accounts.AssertExpectations(t)
}

func TestListTodos(t *testing.T) {
	s := newSuite(t)
	tok := s.tokenFor(t, 4, model.RoleUser)
	s.todos.On("ListForUser", mock.Anything, int64(4), 2, 10).
		Return(model.TodoPage{Items: []model.TodoList{{ID: 1, Title: "x"}}, Page: 2, Size: 10, Total: 21}, nil).Once()

	w := s.do(http.MethodGet, "/users/4/todos?page=2&size=10", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page model.TodoPage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, int64(21), page.Total)

	w = s.do(http.MethodGet, "/users/4/todos?page=-1", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodGet, "/users/5/todos", tok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	s.todos.AssertExpectations(t)
}

func TestPublicEndpoints(t *testing.T) {
	s := newSuite(t)

	w := s.do(http.MethodGet, "/.well-known/jwks.json", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var set token.JWKSet
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &set))
	require.Len(t, set.Keys, 1)
	assert.Equal(t, s.signer.KeyID(), set.Keys[0].Kid)

	w = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "todo_http_requests_total")
}

func TestRecovery_PanicBecomes500(t *testing.T) {
	s := newSuite(t)
	s.accounts.On("Login", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("boom") }).Return(model.Session{}, nil).Once()

	w := s.do(http.MethodPost, "/users/login", "", map[string]string{"username": "a", "password": "b"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, msgInternal, decodeError(t, w).Message)
	assert.Equal(t, 1, s.tracker.count())
}

func TestPasswordPolicy(t *testing.T) {
	for pw, ok := range map[string]bool{
		"CorrectPass1!": true,
		"Abcdefg1":      true,
		"abcdefg1":      false,
		"ABCDEFG1":      false,
		"Abcdefgh":      false,
		"Ab1":           false,
	} {
		assert.Equal(t, ok, PasswordPolicy(pw), pw)
	}
}
