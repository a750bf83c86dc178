// Package user provides the auth user domain model.
package user

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	apperrors "github.com/olympstage/olympstage/internal/platform/errors"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the only password policy this service enforces.
const MinPasswordLength = 8

var (
	// ErrInvalidEmail indicates an email that does not parse as an address.
	ErrInvalidEmail = apperrors.New(apperrors.CodeInvalidRequest, "email is invalid")
	// ErrPasswordTooShort indicates a password below the minimum length.
	ErrPasswordTooShort = apperrors.New(apperrors.CodeInvalidRequest,
		fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	// ErrInvalidRole indicates a role outside the known set.
	ErrInvalidRole = apperrors.New(apperrors.CodeInvalidRequest, "role must be student or teacher")
)

// Role classifies what kind of account a user holds.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// ParseRole validates a caller-supplied role. Admin accounts are provisioned
// out of band and cannot be self-registered.
func ParseRole(value string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleStudent:
		return RoleStudent, nil
	case RoleTeacher:
		return RoleTeacher, nil
	default:
		return "", ErrInvalidRole
	}
}

// User represents an authenticated identity record.
//
// PasswordHash is empty for accounts that sign in only through OAuth or
// passkeys; the lockout guard treats a present hash as one usable method.
type User struct {
	ID            int64
	Email         string
	PasswordHash  string
	Name          string
	Role          Role
	Active        bool
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasPassword reports whether password sign-in is available for this user.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}

// CheckPassword reports whether the supplied password matches the stored hash.
func (u User) CheckPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// NormalizeEmail lowers and validates an email address. Uniqueness is
// case-insensitive, so every store lookup goes through this first.
func NormalizeEmail(value string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return "", ErrInvalidEmail
	}
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil || parsed.Address != trimmed {
		return "", ErrInvalidEmail
	}
	return trimmed, nil
}

// HashPassword validates the minimum length and returns a bcrypt hash.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
