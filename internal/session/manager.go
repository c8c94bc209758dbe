package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/courier-hub/courier_admin/internal/identity"
	"github.com/courier-hub/courier_admin/internal/logging"
)

// Manager creates sessions for authenticated principals and hands back their
// backend token on demand.
type Manager struct {
	store  Store
	sealer *Sealer
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewManager wires a store and a sealer.
func NewManager(store Store, sealer *Sealer, ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{store: store, sealer: sealer, ttl: ttl, logger: logger, now: time.Now}
}

// TTL is the lifetime of new sessions.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Open starts an unverified session for p.
func (m *Manager) Open(ctx context.Context, p identity.Principal) (Session, error) {
	sealed, err := m.sealer.Seal([]byte(p.Token))
	if err != nil {
		return Session{}, err
	}
	sess := Session{
		ID:          uuid.NewString(),
		User:        p.User,
		SealedToken: sealed,
		CreatedAt:   m.now().UTC(),
	}
	if err := m.store.Create(ctx, sess, m.ttl); err != nil {
		return Session{}, err
	}
	m.logger.Info("session opened",
		slog.String("session_id", sess.ID),
		slog.String("user_id", sess.User.ID),
		slog.String("role", sess.User.Role.String()),
	)
	return sess, nil
}

// Get loads a session.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	if id == "" {
		return Session{}, ErrNotFound
	}
	return m.store.Get(ctx, id)
}

// Token opens the backend bearer token of sess.
func (m *Manager) Token(sess Session) (string, error) {
	raw, err := m.sealer.Open(sess.SealedToken)
	if err != nil {
		return "", fmt.Errorf("session %s: %w", sess.ID, err)
	}
	return string(raw), nil
}

// MarkVerified records a successful verification for the session.
func (m *Manager) MarkVerified(ctx context.Context, id, factor string) error {
	if err := m.store.MarkVerified(ctx, id, factor); err != nil {
		return err
	}
	m.logger.Info("session verified", slog.String("session_id", id), slog.String("factor", factor))
	return nil
}

// SetSMSPhone remembers the number the user just enrolled for SMS codes.
func (m *Manager) SetSMSPhone(ctx context.Context, id, phone string) error {
	if err := m.store.SetSMSPhone(ctx, id, phone); err != nil {
		return err
	}
	m.logger.Info("session sms phone updated", slog.String("session_id", id))
	return nil
}

// Close deletes the session.
func (m *Manager) Close(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.logger.Info("session closed", slog.String("session_id", id))
	return nil
}
