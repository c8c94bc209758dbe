// Package journal keeps an append-only trail of security events: factors
// enabled, verification outcomes and SMS codes requested. Candidate secrets
// never reach it.
package journal

import (
	"context"
	"time"
)

// Kind classifies a journal event.
type Kind string

const (
	KindFactorEnabled   Kind = "factor_enabled"
	KindSetupFailed     Kind = "setup_failed"
	KindVerifySucceeded Kind = "verify_succeeded"
	KindVerifyFailed    Kind = "verify_failed"
	KindSMSSent         Kind = "sms_sent"
)

// Event is one journal row.
type Event struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	Kind      Kind      `json:"kind"`
	Factor    string    `json:"factor"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Repository stores events.
type Repository interface {
	Append(ctx context.Context, ev Event) error
	ListByUser(ctx context.Context, userID string, limit int) ([]Event, error)
}
