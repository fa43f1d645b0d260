package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"scribeserver/internal/identity"
	"scribeserver/internal/models"
)

var (
	ErrInvalidEmail       = errors.New("a valid email is required")
	ErrInvalidPassword    = errors.New("password must be at least 6 characters")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = identity.ErrEmailTaken
)

const minPasswordLen = 6

// Service handles registration and login against the identity store.
type Service struct {
	users identity.Store
	cost  int
}

// NewService builds a new account service.
func NewService(users identity.Store) *Service {
	return &Service{users: users, cost: bcrypt.DefaultCost}
}

// Register creates a user with the supplied credentials.
func (s *Service) Register(ctx context.Context, email, password string) (*models.User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLen {
		return nil, ErrInvalidPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return s.users.Create(ctx, email, string(hash))
}

// Login validates credentials and returns the user profile.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, error) {
	email, err := NormalizeEmail(email)
	if err != nil || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// NormalizeEmail trims and lower-cases an address and rejects anything that
// could not serve as a single directory name.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	at := strings.Index(email, "@")
	if at <= 0 || at != strings.LastIndex(email, "@") || at == len(email)-1 {
		return "", ErrInvalidEmail
	}
	if strings.ContainsAny(email, "/\\ \t\r\n\x00") || strings.Contains(email, "..") {
		return "", ErrInvalidEmail
	}
	return email, nil
}
