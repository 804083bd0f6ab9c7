package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"customer-auth/internal/domain"
	"customer-auth/internal/repository"
)

var (
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserAlreadyExists is returned when the email or user name is taken.
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrUserNotFound is returned when no user has the requested id.
	ErrUserNotFound = errors.New("user not found")
)

const (
	minPasswordLength = 8
	// maxPasswordBytes is the longest input bcrypt accepts.
	maxPasswordBytes = 72

	duplicateEmailMessage = "User with this Email already exists."
	duplicateNameMessage  = "User with this User name already exists."
)

// commonPasswords is a short deny list checked case-insensitively.
var commonPasswords = map[string]struct{}{
	"password":   {},
	"password1":  {},
	"12345678":   {},
	"123456789":  {},
	"1234567890": {},
	"qwertyuiop": {},
	"qwerty123":  {},
	"iloveyou":   {},
	"letmein1":   {},
	"admin123":   {},
	"welcome1":   {},
	"sunshine":   {},
	"football":   {},
	"baseball":   {},
	"abc12345":   {},
	"11111111":   {},
}

// CreateUserInput mirrors the user creation form.
type CreateUserInput struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	UserName  string `json:"user_name" validate:"required,max=150"`
	FirstName string `json:"first_name" validate:"max=150"`
	About     string `json:"about" validate:"max=500"`
	Password1 string `json:"password1" validate:"required"`
	Password2 string `json:"password2" validate:"required,eqfield=Password1"`
	IsActive  bool   `json:"is_active"`
	IsStaff   bool   `json:"is_staff"`
}

// UpdateUserInput mirrors the user change form.
type UpdateUserInput struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	UserName  string `json:"user_name" validate:"required,max=150"`
	FirstName string `json:"first_name" validate:"max=150"`
	About     string `json:"about" validate:"max=500"`
	IsActive  bool   `json:"is_active"`
	IsStaff   bool   `json:"is_staff"`
}

type setPasswordInput struct {
	Password1 string `json:"password1" validate:"required"`
	Password2 string `json:"password2" validate:"required,eqfield=Password1"`
}

// UserService describes user lifecycle operations.
type UserService interface {
	Create(ctx context.Context, in CreateUserInput) (*domain.User, error)
	Update(ctx context.Context, id int64, in UpdateUserInput) (*domain.User, error)
	SetPassword(ctx context.Context, id int64, password1, password2 string) error
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	List(ctx context.Context, query domain.UserQuery) ([]domain.User, error)
	Count(ctx context.Context, query domain.UserQuery) (int, error)
	Distinct(ctx context.Context, field string) ([]any, error)
	Authenticate(ctx context.Context, email, password string) (*domain.User, error)
	EnsureSuperuser(ctx context.Context, email, userName, password string) (*domain.User, bool, error)
}

type userService struct {
	users      repository.UserRepository
	bcryptCost int
	validate   *validator.Validate
}

func NewUserService(users repository.UserRepository, bcryptCost int) UserService {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &userService{
		users:      users,
		bcryptCost: bcryptCost,
		validate:   v,
	}
}

func (s *userService) Create(ctx context.Context, in CreateUserInput) (*domain.User, error) {
	in.Email = domain.NormalizeEmail(in.Email)
	in.UserName = strings.TrimSpace(in.UserName)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.About = strings.TrimSpace(in.About)

	verr := s.check(in)
	if _, mismatch := verr.Fields["password2"]; !mismatch && in.Password1 != "" {
		for _, msg := range passwordProblems(in.Password1, in.Email, in.UserName, in.FirstName) {
			verr.Add("password2", msg)
		}
	}
	if err := s.checkUnique(ctx, verr, 0, in.Email, in.UserName); err != nil {
		return nil, err
	}
	if !verr.Empty() {
		return nil, verr
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password1), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Email:        in.Email,
		UserName:     in.UserName,
		FirstName:    in.FirstName,
		About:        in.About,
		PasswordHash: string(hash),
		IsActive:     in.IsActive,
		IsStaff:      in.IsStaff,
	}
	if _, err := s.users.Create(ctx, user); err != nil {
		return nil, duplicateError(err)
	}
	return sanitizeUser(user), nil
}

func (s *userService) Update(ctx context.Context, id int64, in UpdateUserInput) (*domain.User, error) {
	in.Email = domain.NormalizeEmail(in.Email)
	in.UserName = strings.TrimSpace(in.UserName)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.About = strings.TrimSpace(in.About)

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}

	verr := s.check(in)
	if err := s.checkUnique(ctx, verr, id, in.Email, in.UserName); err != nil {
		return nil, err
	}
	if !verr.Empty() {
		return nil, verr
	}
	user.Email = in.Email
	user.UserName = in.UserName
	user.FirstName = in.FirstName
	user.About = in.About
	user.IsActive = in.IsActive
	user.IsStaff = in.IsStaff

	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, duplicateError(err)
	}
	return sanitizeUser(user), nil
}

func (s *userService) SetPassword(ctx context.Context, id int64, password1, password2 string) error {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return notFound(err)
	}

	verr := s.check(setPasswordInput{Password1: password1, Password2: password2})
	if _, mismatch := verr.Fields["password2"]; !mismatch && password1 != "" {
		for _, msg := range passwordProblems(password1, user.Email, user.UserName, user.FirstName) {
			verr.Add("password2", msg)
		}
	}
	if !verr.Empty() {
		return verr
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password1), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, id, string(hash)); err != nil {
		return notFound(err)
	}
	return nil
}

func (s *userService) Delete(ctx context.Context, id int64) error {
	if err := s.users.Delete(ctx, id); err != nil {
		return notFound(err)
	}
	return nil
}

func (s *userService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	return sanitizeUser(user), nil
}

func (s *userService) List(ctx context.Context, query domain.UserQuery) ([]domain.User, error) {
	users, err := s.users.List(ctx, query)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].PasswordHash = ""
	}
	return users, nil
}

func (s *userService) Count(ctx context.Context, query domain.UserQuery) (int, error) {
	return s.users.Count(ctx, query)
}

func (s *userService) Distinct(ctx context.Context, field string) ([]any, error) {
	return s.users.Distinct(ctx, field)
}

// Authenticate checks an email/password pair. Inactive accounts are
// rejected the same way as a wrong password.
func (s *userService) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}

	return sanitizeUser(user), nil
}

// EnsureSuperuser creates an active staff account unless one with email
// already exists. The boolean reports whether a user was created.
func (s *userService) EnsureSuperuser(ctx context.Context, email, userName, password string) (*domain.User, bool, error) {
	email = domain.NormalizeEmail(email)
	existing, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return sanitizeUser(existing), false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	user, err := s.Create(ctx, CreateUserInput{
		Email:     email,
		UserName:  userName,
		Password1: password,
		Password2: password,
		IsActive:  true,
		IsStaff:   true,
	})
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

func (s *userService) check(in any) *domain.ValidationError {
	verr := &domain.ValidationError{}
	err := s.validate.Struct(in)
	if err == nil {
		return verr
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Add(domain.NonFieldErrors, err.Error())
		return verr
	}
	for _, fe := range fieldErrs {
		verr.Add(fe.Field(), validationMessage(fe))
	}
	return verr
}

// checkUnique adds a message for every unique field already taken by a
// user other than excludeID. Fields that failed earlier checks are skipped.
// The constraint mapping in duplicateError still covers concurrent writes.
func (s *userService) checkUnique(ctx context.Context, verr *domain.ValidationError, excludeID int64, email, userName string) error {
	lookups := []struct {
		field, value, msg string
		get               func(context.Context, string) (*domain.User, error)
	}{
		{"email", email, duplicateEmailMessage, s.users.GetByEmail},
		{"user_name", userName, duplicateNameMessage, s.users.GetByUserName},
	}
	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		if _, bad := verr.Fields[l.field]; bad {
			continue
		}
		other, err := l.get(ctx, l.value)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("check %s: %w", l.field, err)
		}
		if other.ID != excludeID {
			verr.Add(l.field, l.msg)
			verr.Cause = ErrUserAlreadyExists
		}
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "max":
		return fmt.Sprintf("Ensure this value has at most %s characters.", fe.Param())
	case "eqfield":
		return "The two password fields didn't match."
	default:
		return fmt.Sprintf("Failed %s validation.", fe.Tag())
	}
}

func passwordProblems(password, email, userName, firstName string) []string {
	var problems []string
	if len([]rune(password)) < minPasswordLength {
		problems = append(problems, fmt.Sprintf("This password is too short. It must contain at least %d characters.", minPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		problems = append(problems, fmt.Sprintf("This password is too long. It must contain at most %d bytes.", maxPasswordBytes))
	}
	if _, common := commonPasswords[strings.ToLower(password)]; common {
		problems = append(problems, "This password is too common.")
	}
	if strings.IndexFunc(password, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		problems = append(problems, "This password is entirely numeric.")
	}

	lower := strings.ToLower(password)
	localPart := email
	if at := strings.LastIndex(email, "@"); at >= 0 {
		localPart = email[:at]
	}
	for _, attr := range []struct{ label, value string }{
		{"email", localPart},
		{"user name", userName},
		{"first name", firstName},
	} {
		v := strings.ToLower(strings.TrimSpace(attr.value))
		if len(v) >= 3 && (lower == v || strings.Contains(lower, v) && len(v)*2 >= len(lower)) {
			problems = append(problems, fmt.Sprintf("The password is too similar to the %s.", attr.label))
			break
		}
	}
	return problems
}

func duplicateError(err error) error {
	verr := &domain.ValidationError{Cause: ErrUserAlreadyExists}
	switch {
	case errors.Is(err, domain.ErrDuplicateEmail):
		verr.Add("email", duplicateEmailMessage)
	case errors.Is(err, domain.ErrDuplicateName):
		verr.Add("user_name", duplicateNameMessage)
	default:
		return err
	}
	return verr
}

func notFound(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	clean := *user
	clean.PasswordHash = ""
	return &clean
}
