// Package service holds the account and expense rules sitting between the
// HTTP handlers and storage.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"expense-api/internal/apperr"
	"expense-api/internal/auth"
	"expense-api/internal/models"
	"expense-api/internal/storage"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 6

const (
	msgMissingFields      = "Missing required fields"
	msgPasswordMismatch   = "Passwords do not match"
	msgPasswordTooShort   = "Password must be at least 6 characters"
	msgPasswordTooLong    = "Password must be at most 72 bytes"
	msgUserExists         = "Username or email already exists"
	msgMissingCredentials = "Missing email or password"
	msgInvalidCredentials = "Invalid email or password"
	msgInvalidToken       = "Invalid or expired token"
	msgUserNotFound       = "User not found"
)

// UserStore persists accounts.
type UserStore interface {
	CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUserByUsernameOrEmail(ctx context.Context, username, email string) (*models.User, error)
}

// PasswordHasher hashes and verifies credentials.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Check(password, hash string) bool
}

// TokenService issues and verifies bearer tokens.
type TokenService interface {
	Issue(userID int64) (string, error)
	Verify(token string) (int64, error)
}

// AuthService registers and logs in users.
type AuthService struct {
	users  UserStore
	hasher PasswordHasher
	tokens TokenService
}

// NewAuthService creates an AuthService.
func NewAuthService(users UserStore, hasher PasswordHasher, tokens TokenService) *AuthService {
	return &AuthService{users: users, hasher: hasher, tokens: tokens}
}

// RegisterInput is the registration payload.
type RegisterInput struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
}

// Session is a user paired with a freshly issued token.
type Session struct {
	User  models.PublicUser `json:"user"`
	Token string            `json:"token"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateRegistration checks the registration payload without touching storage.
func ValidateRegistration(in RegisterInput) error {
	if strings.TrimSpace(in.Username) == "" || strings.TrimSpace(in.Email) == "" ||
		in.Password == "" || in.ConfirmPassword == "" {
		return apperr.Validation(msgMissingFields)
	}
	if in.Password != in.ConfirmPassword {
		return apperr.Validation(msgPasswordMismatch)
	}
	if utf8.RuneCountInString(in.Password) < MinPasswordLength {
		return apperr.Validation(msgPasswordTooShort)
	}
	if len(in.Password) > auth.MaxPasswordBytes {
		return apperr.Validation(msgPasswordTooLong)
	}
	return nil
}

// Register creates an account and returns it with a token.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	if err := ValidateRegistration(in); err != nil {
		return nil, err
	}
	username := strings.TrimSpace(in.Username)
	email := normalizeEmail(in.Email)

	_, err := s.users.FindUserByUsernameOrEmail(ctx, username, email)
	switch {
	case err == nil:
		return nil, apperr.Conflict(msgUserExists)
	case !errors.Is(err, storage.ErrNotFound):
		return nil, apperr.Internal("lookup existing user", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperr.Internal("hash password", err)
	}

	user, err := s.users.CreateUser(ctx, username, email, hash)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.Conflict(msgUserExists)
		}
		return nil, apperr.Internal("create user", err)
	}

	return s.session(user)
}

// Login verifies credentials and returns the user with a token. Unknown
// emails and wrong passwords produce the same error.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.Validation(msgMissingCredentials)
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.Authentication(msgInvalidCredentials)
		}
		return nil, apperr.Internal("lookup user", err)
	}
	if !s.hasher.Check(password, user.PasswordHash) {
		return nil, apperr.Authentication(msgInvalidCredentials)
	}

	return s.session(user)
}

// Authenticate resolves a bearer token to the live account it names.
func (s *AuthService) Authenticate(ctx context.Context, token string) (models.PublicUser, error) {
	userID, err := s.tokens.Verify(token)
	if err != nil {
		return models.PublicUser{}, apperr.AuthenticationWrap(msgInvalidToken, err)
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.PublicUser{}, apperr.NotFound(msgUserNotFound)
		}
		return models.PublicUser{}, apperr.Internal(fmt.Sprintf("lookup user %d", userID), err)
	}
	return user.Public(), nil
}

func (s *AuthService) session(user *models.User) (*Session, error) {
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, apperr.Internal("issue token", err)
	}
	return &Session{User: user.Public(), Token: token}, nil
}
