package httpserver

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/and161185/todo-keeper/internal/model"
)

var personName = regexp.MustCompile(`^[A-Za-z-']{1,50}(\s[A-Za-z-']{1,50})?$`)

var registerOnce sync.Once

// PasswordPolicy reports whether p has at least 8 characters with a lower-case letter,
// an upper-case letter and a digit.
func PasswordPolicy(p string) bool {
	if len(p) < 8 {
		return false
	}
	var lower, upper, digit bool
	for _, r := range p {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return lower && upper && digit
}

// registerValidators installs the custom tags on gin's validator and reports fields by JSON name.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
			return PasswordPolicy(fl.Field().String())
		})
		_ = v.RegisterValidation("personname", func(fl validator.FieldLevel) bool {
			return personName.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("pastdate", func(fl validator.FieldLevel) bool {
			d, err := time.Parse(model.DateLayout, fl.Field().String())
			return err == nil && d.Before(time.Now().UTC().Truncate(24*time.Hour))
		})
	})
}

// invalidFields lists the offending JSON fields of a binding error.
func invalidFields(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return "Malformed request body"
	}
	names := make([]string, 0, len(ve))
	for _, fe := range ve {
		names = append(names, fe.Field())
	}
	return "Invalid field(s): " + strings.Join(names, ", ")
}

type registerRequest struct {
	Username    string `json:"username" binding:"required,max=50"`
	Email       string `json:"emailAddress" binding:"required,email,max=254"`
	Password    string `json:"password" binding:"required,password,max=72"`
	FirstName   string `json:"firstName" binding:"required,personname"`
	LastName    string `json:"lastName" binding:"required,personname"`
	DateOfBirth string `json:"dateOfBirth" binding:"required,pastdate"`
	Gender      string `json:"gender" binding:"required,oneof=FEMALE MALE"`
}

func (r registerRequest) model() model.Registration {
	dob, _ := time.Parse(model.DateLayout, r.DateOfBirth) // validated by pastdate
	return model.Registration{
		Username:    strings.TrimSpace(r.Username),
		Email:       strings.TrimSpace(r.Email),
		Password:    r.Password,
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		DateOfBirth: dob,
		Gender:      model.Gender(r.Gender),
	}
}

type updateRequest struct {
	Username    string `json:"username" binding:"required,max=50"`
	Email       string `json:"emailAddress" binding:"required,email,max=254"`
	FirstName   string `json:"firstName" binding:"required,personname"`
	LastName    string `json:"lastName" binding:"required,personname"`
	DateOfBirth string `json:"dateOfBirth" binding:"required,pastdate"`
	Gender      string `json:"gender" binding:"required,oneof=FEMALE MALE"`
}

func (r updateRequest) model() model.ProfileUpdate {
	dob, _ := time.Parse(model.DateLayout, r.DateOfBirth)
	return model.ProfileUpdate{
		Username:    strings.TrimSpace(r.Username),
		Email:       strings.TrimSpace(r.Email),
		FirstName:   r.FirstName,
		LastName:    r.LastName,
		DateOfBirth: dob,
		Gender:      model.Gender(r.Gender),
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type availabilityRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"emailAddress" binding:"required,email"`
}

type forgotRequest struct {
	Email string `json:"emailAddress" binding:"required,email"`
}

type resetRequest struct {
	Email    string `json:"emailAddress" binding:"required,email"`
	Token    string `json:"token" binding:"required,len=6,numeric"`
	Password string `json:"password" binding:"required,password,max=72"`
}
