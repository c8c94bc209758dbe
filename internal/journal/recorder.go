package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/courier-hub/courier_admin/internal/logging"
	"github.com/courier-hub/courier_admin/internal/security"
)

const (
	writeTimeout = 2 * time.Second
	outcomeOK    = "ok"
)

// Recorder turns flow events into journal rows. A failed write is logged and
// never fails the flow that produced the event.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder builds a recorder on repo.
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Recorder{repo: repo, logger: logger, now: time.Now}
}

// Hook returns a flow hook that attributes events to userID and sessionID.
func (r *Recorder) Hook(userID, sessionID string) security.Hook {
	return func(ctx context.Context, ev security.Event) {
		kind, ok := kindFor(ev)
		if !ok {
			return
		}
		outcome := outcomeOK
		if ev.Err != nil {
			outcome = string(security.KindOf(ev.Err))
		}
		r.Record(ctx, Event{
			UserID:    userID,
			SessionID: sessionID,
			Kind:      kind,
			Factor:    string(ev.Factor),
			Outcome:   outcome,
			Detail:    "flow=" + string(ev.Flow),
		})
	}
}

// Record appends ev, filling in its id and timestamp.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = r.now().UTC()
	}
	// The request may already be finishing; the row should still land.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := r.repo.Append(writeCtx, ev); err != nil {
		r.logger.Error("security journal write failed",
			slog.String("kind", string(ev.Kind)),
			slog.String("user_id", ev.UserID),
			slog.Any("error", err),
		)
	}
}

// Recent lists the newest events of userID.
func (r *Recorder) Recent(ctx context.Context, userID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return r.repo.ListByUser(ctx, userID, limit)
}

func kindFor(ev security.Event) (Kind, bool) {
	if ev.Err != nil {
		// Stale, closed or busy results are flow bookkeeping, not outcomes.
		if security.KindOf(ev.Err) == security.KindState {
			return "", false
		}
		switch ev.Flow {
		case security.FlowSetup:
			return KindSetupFailed, true
		case security.FlowVerify:
			return KindVerifyFailed, true
		}
		return "", false
	}
	switch ev.Action {
	case security.ActionEnabled:
		return KindFactorEnabled, true
	case security.ActionVerified:
		return KindVerifySucceeded, true
	case security.ActionCodeSent:
		return KindSMSSent, true
	}
	return "", false
}
