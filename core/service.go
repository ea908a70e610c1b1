package core

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/oops"
)

// AuthService wires the hasher and token codec to a user repository.
// Repositories are passed per call because they are bound to the caller's session.
type AuthService struct {
	hasher PasswordHasher
	tokens *TokenCodec
}

func NewAuthService(hasher PasswordHasher, tokens *TokenCodec) *AuthService {
	return &AuthService{hasher: hasher, tokens: tokens}
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register hashes the password and persists a new user.
func (s *AuthService) Register(ctx context.Context, users UserRepository, in NewUser) (*User, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrEmptyName
	}
	if !in.Role.Valid() {
		return nil, oops.Code("AUTH_INVALID_ROLE").With("role", in.Role).Errorf("unknown role %q", in.Role)
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	rec, err := users.Create(ctx, UserRecord{
		User: User{
			Name:  name,
			Email: NormalizeEmail(in.Email),
			Role:  in.Role,
		},
		PasswordHash: hash,
	})
	if err != nil {
		return nil, err
	}
	u := rec.User
	return &u, nil
}

// Authenticate checks email and password and returns the matching user.
// Unknown email and wrong password both return ErrInvalidCredentials after
// one bcrypt comparison.
func (s *AuthService) Authenticate(ctx context.Context, users UserRepository, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	// Never a match, but pay for one comparison like every other failure.
	if len(password) > maxPasswordBytes {
		s.hasher.VerifyDummy(password)
		return nil, ErrInvalidCredentials
	}

	rec, err := users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.hasher.VerifyDummy(password)
			return nil, ErrInvalidCredentials
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "find user by email").Wrap(err)
	}

	if !s.hasher.Verify(password, rec.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	u := rec.User
	return &u, nil
}

// Login authenticates the credentials and issues an access token.
func (s *AuthService) Login(ctx context.Context, users UserRepository, email, password string) (string, error) {
	u, err := s.Authenticate(ctx, users, email, password)
	if err != nil {
		return "", err
	}
	return s.tokens.Issue(u.ID)
}

// Resolve loads the user behind a token subject. Every call hits the repository
// so a deleted user stops resolving on the next request.
func (s *AuthService) Resolve(ctx context.Context, users UserRepository, subjectID int64) (*User, error) {
	rec, err := users.FindByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, oops.Code("AUTH_UNKNOWN_SUBJECT").With("sub", subjectID).Wrap(ErrUserNotFound)
		}
		return nil, err
	}
	u := rec.User
	return &u, nil
}

// Identify decodes token and resolves its subject.
func (s *AuthService) Identify(ctx context.Context, users UserRepository, token string) (*User, error) {
	claims, err := s.tokens.Decode(token)
	if err != nil {
		return nil, err
	}
	return s.Resolve(ctx, users, claims.SubjectID)
}
