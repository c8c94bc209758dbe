package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/courier-hub/courier_admin/internal/identity"
	"github.com/courier-hub/courier_admin/internal/logging"
	"github.com/courier-hub/courier_admin/internal/security"
	"github.com/courier-hub/courier_admin/internal/session"
)

// Service logs dashboard users in and out.
type Service struct {
	ids      *identity.Service
	sessions *session.Manager
	flows    *security.Registry
	logger   *slog.Logger
}

// NewService wires identity, sessions and the flow registry.
func NewService(ids *identity.Service, sessions *session.Manager, flows *security.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{ids: ids, sessions: sessions, flows: flows, logger: logger}
}

// Login authenticates creds with the backend and opens an unverified session.
func (s *Service) Login(ctx context.Context, creds identity.Credentials) (session.Session, error) {
	p, err := s.ids.Authenticate(ctx, creds)
	if err != nil {
		s.logger.Info("login failed",
			slog.String("username", creds.Username),
			slog.String("kind", string(security.KindOf(err))),
		)
		return session.Session{}, err
	}
	return s.sessions.Open(ctx, p)
}

// Logout closes every open flow of the session and deletes it.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	s.flows.CloseSession(sessionID)
	if err := s.sessions.Close(ctx, sessionID); err != nil && !errors.Is(err, session.ErrNotFound) {
		return err
	}
	return nil
}
