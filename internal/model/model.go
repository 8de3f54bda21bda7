// Package model defines domain entities used by services and repositories.
package model

import (
	"slices"
	"time"
)

// AccountStatus is the lifecycle state of a user account.
type AccountStatus string

const (
	StatusActive             AccountStatus = "ACTIVE"
	StatusLocked             AccountStatus = "LOCKED"
	StatusExpired            AccountStatus = "EXPIRED"
	StatusCredentialsExpired AccountStatus = "CREDENTIALS_EXPIRED"
	StatusDeleted            AccountStatus = "DELETED"
)

// Gender values accepted on registration.
type Gender string

const (
	GenderFemale Gender = "FEMALE"
	GenderMale   Gender = "MALE"
)

// RoleUser is the authority every registered account receives.
const RoleUser = "USER"

// User represents an account stored on the server. PII fields hold plaintext here;
// the repository encrypts them on write and decrypts on read.
type User struct {
	ID          int64 // PK, assigned by the store
	Username    string
	Email       string
	FirstName   string
	LastName    string
	DateOfBirth time.Time
	Gender      Gender
	PwdHash     []byte // bcrypt digest
	Status      AccountStatus
	StatusSetAt time.Time
	Roles       []string
	CreatedAt   time.Time
}

// Principal returns the identity carried by tokens issued for u.
func (u *User) Principal() Principal {
	return Principal{UserID: u.ID, Username: u.Username, Roles: slices.Clone(u.Roles)}
}

// Principal is the authenticated identity derived from credentials or a verified token.
type Principal struct {
	UserID   int64
	Username string
	Roles    []string
}

// HasRole reports whether the principal carries the given authority.
func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// Profile is the client-facing view of a user. It never carries credentials.
type Profile struct {
	ID          int64         `json:"userId"`
	Username    string        `json:"username"`
	Email       string        `json:"emailAddress"`
	FirstName   string        `json:"firstName"`
	LastName    string        `json:"lastName"`
	DateOfBirth string        `json:"dateOfBirth"`
	Gender      Gender        `json:"gender"`
	Status      AccountStatus `json:"accountStatus"`
	CreatedAt   time.Time     `json:"timeCreated"`
}

// DateLayout is the wire format of dates of birth and due dates.
const DateLayout = "2006-01-02"

// ProfileOf builds the client view of u.
func ProfileOf(u *User) Profile {
	p := Profile{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Gender:    u.Gender,
		Status:    u.Status,
		CreatedAt: u.CreatedAt,
	}
	if !u.DateOfBirth.IsZero() {
		p.DateOfBirth = u.DateOfBirth.Format(DateLayout)
	}
	return p
}

// Session is returned by registration, login and password reset.
type Session struct {
	User      Profile   `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Registration carries the fields accepted when creating an account.
type Registration struct {
	Username    string
	Email       string
	Password    string
	FirstName   string
	LastName    string
	DateOfBirth time.Time
	Gender      Gender
}

// ProfileUpdate carries mutable profile fields. Credentials are not part of it.
type ProfileUpdate struct {
	Username    string
	Email       string
	FirstName   string
	LastName    string
	DateOfBirth time.Time
	Gender      Gender
}

// Availability reports which of the requested identifiers are already taken.
type Availability struct {
	UsernameTaken bool `json:"usernameTaken"`
	EmailTaken    bool `json:"emailTaken"`
}

// TodoList is a user-owned list of actions.
type TodoList struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"-"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Completed   bool       `json:"completed"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Actions     []Action   `json:"actionList"`
}

// Action is a sub-task within a todo list.
type Action struct {
	ID              int64     `json:"id"`
	TodoListID      int64     `json:"-"`
	TextDescription string    `json:"textDescription"`
	Completed       bool      `json:"completed"`
	AddedAt         time.Time `json:"addedAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TodoPage is one page of a user's todo lists.
type TodoPage struct {
	Items []TodoList `json:"content"`
	Page  int        `json:"page"`
	Size  int        `json:"size"`
	Total int64      `json:"totalElements"`
}
