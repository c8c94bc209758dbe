package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingCredentials is returned before any backend call when the
	// username or password is blank.
	ErrMissingCredentials = errors.New("username and password are required")
	// ErrInvalidUser is returned when the backend answers with an unusable user.
	ErrInvalidUser = errors.New("backend returned an invalid user")
)

// Backend is the part of the REST backend that issues and checks tokens.
type Backend interface {
	Login(ctx context.Context, creds Credentials) (string, error)
	UserForToken(ctx context.Context, token string) (User, error)
}

// Service manages identity lifecycle.
type Service struct {
	backend Backend
}

// NewService creates a new identity service.
func NewService(backend Backend) *Service {
	return &Service{backend: backend}
}

// Authenticate logs in with the backend and immediately checks the issued
// token by reading the current user.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (Principal, error) {
	creds.Username = strings.TrimSpace(creds.Username)
	if creds.Username == "" || creds.Password == "" {
		return Principal{}, ErrMissingCredentials
	}

	token, err := s.backend.Login(ctx, creds)
	if err != nil {
		return Principal{}, fmt.Errorf("login: %w", err)
	}
	if token == "" {
		return Principal{}, fmt.Errorf("login: %w", ErrInvalidUser)
	}

	user, err := s.backend.UserForToken(ctx, token)
	if err != nil {
		return Principal{}, fmt.Errorf("token check: %w", err)
	}
	if user.ID == "" || !user.Role.Valid() {
		return Principal{}, ErrInvalidUser
	}
	return Principal{User: user, Token: token}, nil
}
