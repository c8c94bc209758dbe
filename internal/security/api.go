package security

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/courier-hub/courier_admin/internal/logging"
)

// API is the subset of the backend security endpoints the flows call. Every
// call is authenticated with the bearer token the implementation was built with.
type API interface {
	Status(ctx context.Context) (Status, error)
	SetPIN(ctx context.Context, pin string) error
	VerifyPIN(ctx context.Context, pin string) error
	RegistrationOptions(ctx context.Context) (json.RawMessage, error)
	VerifyRegistration(ctx context.Context, attestation json.RawMessage) error
	AuthenticationOptions(ctx context.Context) (json.RawMessage, error)
	VerifyAuthentication(ctx context.Context, assertion json.RawMessage) error
	SendSMSCode(ctx context.Context, phone string) error
	VerifySMSCode(ctx context.Context, phone, code string) error
}

// Authenticator runs the platform public-key credential ceremonies. Options
// and results are opaque and relayed without inspection.
type Authenticator interface {
	Create(ctx context.Context, options json.RawMessage) (json.RawMessage, error)
	Get(ctx context.Context, options json.RawMessage) (json.RawMessage, error)
}

// Event reports a finished backend step of a flow.
type Event struct {
	Flow   FlowKind
	Factor Factor
	Action string
	Err    error
}

const (
	ActionEnabled  = "enabled"
	ActionCodeSent = "code_sent"
	ActionVerified = "verified"
)

// Hook receives flow events. It runs on the request path, outside the flow's
// lock.
type Hook func(ctx context.Context, ev Event)

// Options carries the collaborators shared by both flow kinds.
type Options struct {
	Logger *slog.Logger
	Hook   Hook
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return logging.Discard()
	}
	return o.Logger
}

// deliver passes ev to the hook. Flows call it after releasing their mutex
// so a slow hook never blocks View or the next request.
func (o Options) deliver(ctx context.Context, ev *Event) {
	if o.Hook != nil && ev != nil {
		o.Hook(ctx, *ev)
	}
}

// StatusProvider reads the current SecurityStatus for a flow.
type StatusProvider struct {
	api    API
	logger *slog.Logger
}

// NewStatusProvider builds a provider over api.
func NewStatusProvider(api API, logger *slog.Logger) *StatusProvider {
	if logger == nil {
		logger = logging.Discard()
	}
	return &StatusProvider{api: api, logger: logger}
}

// Fetch issues one status read. On failure the zero Status is returned with
// the error so callers can fail closed.
func (p *StatusProvider) Fetch(ctx context.Context) (Status, error) {
	st, err := p.api.Status(ctx)
	if err != nil {
		p.logger.Warn("security status fetch failed", slog.Any("error", err))
		return Status{}, err
	}
	return st, nil
}
