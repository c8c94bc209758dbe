package session

import (
	"context"
	"errors"
	"time"

	"github.com/courier-hub/courier_admin/internal/identity"
)

var (
	// ErrNotFound is returned for unknown or expired sessions.
	ErrNotFound = errors.New("session not found")
	// ErrCorrupt is returned when a stored session cannot be decoded.
	ErrCorrupt = errors.New("session corrupt")
)

// Session is the server-side state of one dashboard login. The backend token
// is kept sealed; only the Manager can open it.
type Session struct {
	ID             string        `json:"id"`
	User           identity.User `json:"user"`
	SealedToken    []byte        `json:"sealed_token"`
	Verified       bool          `json:"verified"`
	VerifiedFactor string        `json:"verified_factor,omitempty"`
	// SMSPhone is the number confirmed by an SMS enrollment in this session.
	// It takes precedence over User.PhoneNumber for verification codes.
	SMSPhone       string        `json:"sms_phone,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// VerificationPhone is the number SMS verification codes go to.
func (s Session) VerificationPhone() string {
	if s.SMSPhone != "" {
		return s.SMSPhone
	}
	return s.User.PhoneNumber
}

// Store persists sessions with a fixed lifetime.
type Store interface {
	Create(ctx context.Context, s Session, ttl time.Duration) error
	Get(ctx context.Context, id string) (Session, error)
	MarkVerified(ctx context.Context, id, factor string) error
	SetSMSPhone(ctx context.Context, id, phone string) error
	Delete(ctx context.Context, id string) error
}
