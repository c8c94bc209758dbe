package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// SetupStep is a state of the factor setup wizard.
type SetupStep string

const (
	SetupChoose    SetupStep = "choose"
	SetupPIN       SetupStep = "pin"
	SetupBiometric SetupStep = "biometric"
	SetupSMS       SetupStep = "sms"
	SetupVerifySMS SetupStep = "verify-sms"
)

// PendingSetup holds candidate values until the backend accepts them or the
// user leaves the step. It lives only inside a SetupFlow.
type PendingSetup struct {
	PIN         string
	ConfirmPIN  string
	PhoneNumber string
	Code        string
	challenged  bool
}

// SetupView is what the dashboard renders for a setup flow. Candidate
// secrets are reported only as digit counts.
type SetupView struct {
	Step          SetupStep `json:"step"`
	Status        Status    `json:"status"`
	Enabled       []Factor  `json:"enabled"`
	Loaded        bool      `json:"loaded"`
	Busy          bool      `json:"busy"`
	Message       string    `json:"message,omitempty"`
	PINDigits     int       `json:"pin_digits"`
	ConfirmDigits int       `json:"confirm_digits"`
	PhoneNumber   string    `json:"phone_number,omitempty"`
}

// SetupFlow drives PIN, biometric and SMS enrollment. Each submission is a
// single backend call; the local status only changes after the backend
// confirms.
type SetupFlow struct {
	mu       sync.Mutex
	lc       *lifecycle
	api      API
	provider *StatusProvider
	opts     Options
	logger   *slog.Logger

	step    SetupStep
	status  Status
	loaded  bool
	pending PendingSetup
	message string
}

// NewSetupFlow returns a flow in the chooser step. Call Load before use.
func NewSetupFlow(api API, opts Options) *SetupFlow {
	logger := opts.logger()
	return &SetupFlow{
		lc:       newLifecycle(),
		api:      api,
		provider: NewStatusProvider(api, logger),
		opts:     opts,
		logger:   logger,
		step:     SetupChoose,
	}
}

// Load fetches the current status. On failure every factor is shown as
// disabled and the error is returned.
func (f *SetupFlow) Load(ctx context.Context) error {
	f.mu.Lock()
	opCtx, gen, release, err := f.lc.begin(ctx)
	f.mu.Unlock()
	if err != nil {
		return err
	}

	st, ferr := f.provider.Fetch(opCtx)
	release()

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lc.settle(gen); err != nil {
		return err
	}
	if ferr != nil {
		f.status = Status{}
		f.loaded = false
		f.message = Message(ferr)
		return ferr
	}
	f.status = st
	f.loaded = true
	f.message = ""
	return nil
}

// Start leaves the chooser for the wizard of factor. Fields start blank.
func (f *SetupFlow) Start(factor Factor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lc.closed {
		return ErrClosed
	}
	if f.step != SetupChoose {
		return ErrWrongStep
	}
	factor, err := ParseFactor(string(factor))
	if err != nil {
		return err
	}
	var next SetupStep
	switch factor {
	case FactorPIN:
		next = SetupPIN
	case FactorBiometric:
		next = SetupBiometric
	case FactorSMS:
		next = SetupSMS
	default:
		return ErrInvalidFactor
	}
	f.moveTo(next)
	return nil
}

// Cancel returns to the chooser and drops any candidate values.
func (f *SetupFlow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moveTo(SetupChoose)
}

// Dismiss clears the inline message.
func (f *SetupFlow) Dismiss() {
	f.mu.Lock()
	f.message = ""
	f.mu.Unlock()
}

// SetPINDraft records what the user has typed so far. No validation is done
// until SubmitPIN.
func (f *SetupFlow) SetPINDraft(pin, confirm string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step != SetupPIN {
		return ErrWrongStep
	}
	f.pending.PIN = pin
	f.pending.ConfirmPIN = confirm
	return nil
}

// SubmitPIN validates the pair locally and, if valid, sends the PIN to the
// backend. Invalid input never reaches the network.
func (f *SetupFlow) SubmitPIN(ctx context.Context, pin, confirm string) error {
	f.mu.Lock()
	if f.step != SetupPIN {
		f.mu.Unlock()
		return ErrWrongStep
	}
	f.pending.PIN = pin
	f.pending.ConfirmPIN = confirm
	if err := ValidatePINPair(pin, confirm); err != nil {
		f.message = Message(err)
		f.mu.Unlock()
		return err
	}
	opCtx, gen, release, err := f.lc.begin(ctx)
	f.mu.Unlock()
	if err != nil {
		return err
	}

	callErr := f.api.SetPIN(opCtx, pin)
	release()
	return f.finishEnable(ctx, gen, FactorPIN, callErr)
}

// BeginBiometric asks the backend for registration options to hand to the
// platform authenticator.
func (f *SetupFlow) BeginBiometric(ctx context.Context) (json.RawMessage, error) {
	f.mu.Lock()
	if f.step != SetupBiometric {
		f.mu.Unlock()
		return nil, ErrWrongStep
	}
	opCtx, gen, release, err := f.lc.begin(ctx)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	options, callErr := f.api.RegistrationOptions(opCtx)
	release()

	var ev *Event
	defer func() { f.opts.deliver(ctx, ev) }()
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lc.settle(gen); err != nil {
		return nil, err
	}
	if callErr != nil {
		callErr = biometricError(callErr)
		ev = f.fail(FactorBiometric, callErr)
		return nil, callErr
	}
	f.pending.challenged = true
	f.message = ""
	return options, nil
}

// FinishBiometric relays the platform attestation to the backend.
func (f *SetupFlow) FinishBiometric(ctx context.Context, attestation json.RawMessage) error {
	f.mu.Lock()
	if f.step != SetupBiometric || !f.pending.challenged {
		f.mu.Unlock()
		return ErrWrongStep
	}
	opCtx, gen, release, err := f.lc.begin(ctx)
	f.mu.Unlock()
	if err != nil {
		return err
	}

	callErr := f.api.VerifyRegistration(opCtx, attestation)
	release()
	if callErr != nil {
		callErr = biometricError(callErr)
	}
	return f.finishEnable(ctx, gen, FactorBiometric, callErr)
}

// RegisterBiometric runs the whole registration ceremony against platform.
func (f *SetupFlow) RegisterBiometric(ctx context.Context, platform Authenticator) error {
	options, err := f.BeginBiometric(ctx)
	if err != nil {
		return err
	}
	attestation, err := platform.Create(ctx, options)
	if err != nil {
		err = biometricError(err)
		f.mu.Lock()
		ev := f.fail(FactorBiometric, err)
		f.mu.Unlock()
		f.opts.deliver(ctx, ev)
		return err
	}
	return f.FinishBiometric(ctx, attestation)
}

// SendSMSCode submits the phone number; the backend delivers a code out of
// band. It may be called again from the code step to resend.
func (f *SetupFlow) SendSMSCode(ctx context.Context, phone string) error {
	f.mu.Lock()
	if f.step != SetupSMS && f.step != SetupVerifySMS {
		f.mu.Unlock()
		return ErrWrongStep
	}
	if err := ValidatePhone(phone); err != nil {
		f.message = Message(err)
		f.mu.Unlock()
		return err
	}
	f.pending.PhoneNumber = phone
	opCtx, gen, release, err := f.lc.begin(ctx)
	f.mu.Unlock()
	if err != nil {
		return err
	}

	callErr := f.api.SendSMSCode(opCtx, phone)
	release()

	var ev *Event
	defer func() { f.opts.deliver(ctx, ev) }()
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lc.settle(gen); err != nil {
		return err
	}
	if callErr != nil {
		ev = f.fail(FactorSMS, callErr)
		return callErr
	}
	f.message = ""
	if f.step != SetupVerifySMS {
		pending := f.pending
		f.moveTo(SetupVerifySMS)
		f.pending.PhoneNumber = pending.PhoneNumber
	}
	ev = &Event{Flow: FlowSetup, Factor: FactorSMS, Action: ActionCodeSent}
	return nil
}

// SubmitSMSCode verifies the code for the phone number sent earlier.
func (f *SetupFlow) SubmitSMSCode(ctx context.Context, code string) error {
	f.mu.Lock()
	if f.step != SetupVerifySMS {
		f.mu.Unlock()
		return ErrWrongStep
	}
	f.pending.Code = code
	if err := ValidateCode(code); err != nil {
		f.message = Message(err)
		f.mu.Unlock()
		return err
	}
	phone := f.pending.PhoneNumber
	opCtx, gen, release, err := f.lc.begin(ctx)
	f.mu.Unlock()
	if err != nil {
		return err
	}

	callErr := f.api.VerifySMSCode(opCtx, phone, code)
	release()
	return f.finishEnable(ctx, gen, FactorSMS, callErr)
}

// View returns a snapshot for rendering.
func (f *SetupFlow) View() SetupView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return SetupView{
		Step:          f.step,
		Status:        f.status,
		Enabled:       f.status.Enabled(),
		Loaded:        f.loaded,
		Busy:          f.lc.busy,
		Message:       f.message,
		PINDigits:     len(f.pending.PIN),
		ConfirmDigits: len(f.pending.ConfirmPIN),
		PhoneNumber:   f.pending.PhoneNumber,
	}
}

// Close tears the flow down. Outstanding calls are cancelled and their
// results discarded.
func (f *SetupFlow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lc.close()
	f.pending = PendingSetup{}
}

func (f *SetupFlow) finishEnable(ctx context.Context, gen uint64, factor Factor, callErr error) error {
	var ev *Event
	defer func() { f.opts.deliver(ctx, ev) }()
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lc.settle(gen); err != nil {
		return err
	}
	if callErr != nil {
		ev = f.fail(factor, callErr)
		return callErr
	}
	f.status = f.status.With(factor)
	f.moveTo(SetupChoose)
	f.logger.Info("security factor enabled", slog.String("factor", string(factor)))
	ev = &Event{Flow: FlowSetup, Factor: factor, Action: ActionEnabled}
	return nil
}

// fail must be called with f.mu held. The returned event is delivered by the
// caller once the mutex is released.
func (f *SetupFlow) fail(factor Factor, err error) *Event {
	f.message = Message(err)
	f.logger.Info("security setup step failed",
		slog.String("factor", string(factor)),
		slog.String("step", string(f.step)),
		slog.String("kind", string(KindOf(err))),
	)
	return &Event{Flow: FlowSetup, Factor: factor, Err: err}
}

// moveTo must be called with f.mu held.
func (f *SetupFlow) moveTo(step SetupStep) {
	f.lc.advance()
	f.step = step
	f.pending = PendingSetup{}
	f.message = ""
}

func biometricError(err error) error {
	switch KindOf(err) {
	case KindState, KindAuth:
		return err
	default:
		return fmt.Errorf("%w: %w", ErrBiometricFailed, err)
	}
}
