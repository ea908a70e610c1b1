package core

import (
	"errors"
	"time"
)

// Role is the account type of a user.
type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleDoctor || r == RolePatient
}

// User represents an authenticated principal returned to handlers.
// It never carries the credential.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"-"`
}

// UserRecord is the persisted form of a user including its credential.
type UserRecord struct {
	User
	PasswordHash string
}

// NewUser is the input accepted by registration.
type NewUser struct {
	Name     string
	Email    string
	Password string
	Role     Role
}

var (
	// ErrInvalidCredentials is returned when email/password is wrong.
	// Unknown email and wrong password are deliberately the same error.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailAlreadyRegistered is returned when registration hits the unique email index.
	ErrEmailAlreadyRegistered = errors.New("email already registered")

	// ErrEmptyName is returned when a registration name is blank after trimming.
	ErrEmptyName = errors.New("name cannot be blank")

	// ErrUserNotFound is returned when no user matches the lookup key.
	ErrUserNotFound = errors.New("user not found")

	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenInvalidSignature = errors.New("token signature invalid")
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenMissingSubject   = errors.New("token missing subject")
)

// IsAuthError reports whether err is one of the failures that must surface as a
// generic 401 at the HTTP boundary.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrTokenMalformed) ||
		errors.Is(err, ErrTokenInvalidSignature) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenMissingSubject) ||
		errors.Is(err, ErrUserNotFound)
}

// authFailureReason maps an auth error to a short label used in logs and metrics.
func authFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, ErrTokenInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenMissingSubject):
		return "missing_subject"
	case errors.Is(err, ErrUserNotFound):
		return "unknown_subject"
	default:
		return "error"
	}
}
