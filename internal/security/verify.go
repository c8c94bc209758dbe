package security

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// VerifyState is a state of the login-time verification flow.
type VerifyState string

const (
	VerifyChoose    VerifyState = "choose"
	VerifyBiometric VerifyState = "biometric"
	VerifyPIN       VerifyState = "pin"
	VerifySMS       VerifyState = "verify-sms"
	VerifyDone      VerifyState = "done"
)

// CompletionFunc is invoked once, after the backend accepted a factor.
type CompletionFunc func(ctx context.Context, factor Factor) error

// VerifyView is what the dashboard renders for a verification flow.
type VerifyView struct {
	State    VerifyState `json:"state"`
	Status   Status      `json:"status"`
	Enabled  []Factor    `json:"enabled"`
	Busy     bool        `json:"busy"`
	Message  string      `json:"message,omitempty"`
	CodeSent bool        `json:"code_sent"`
	Factor   Factor      `json:"factor,omitempty"`
}

// VerifyFlow asks the user for exactly one enabled factor at a time.
// Failures leave the state unchanged; there is no local lockout.
type VerifyFlow struct {
	mu       sync.Mutex
	lc       *lifecycle
	api      API
	provider *StatusProvider
	opts     Options
	logger   *slog.Logger
	phone    string
	complete CompletionFunc

	state      VerifyState
	status     Status
	codeSent   bool
	challenged bool
	verified   Factor
	message    string
}

// NewVerifyFlow builds a flow for a user whose SMS codes go to phone.
// complete is called when verification succeeds.
func NewVerifyFlow(api API, phone string, complete CompletionFunc, opts Options) *VerifyFlow {
	logger := opts.logger()
	return &VerifyFlow{
		lc:       newLifecycle(),
		api:      api,
		provider: NewStatusProvider(api, logger),
		opts:     opts,
		logger:   logger,
		phone:    phone,
		complete: complete,
		state:    VerifyChoose,
	}
}

// InitialState picks the state a flow opens in for st.
func InitialState(st Status) (VerifyState, error) {
	enabled := st.Enabled()
	switch len(enabled) {
	case 0:
		return "", ErrNoFactors
	case 1:
		return stateFor(enabled[0]), nil
	default:
		return VerifyChoose, nil
	}
}

// Load fetches the status and selects the initial state. ErrNoFactors means
// the user has nothing to verify with and must be sent to setup.
func (f *VerifyFlow) Load(ctx context.Context) error {
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
		f.message = Message(ferr)
		return ferr
	}
	f.status = st
	initial, err := InitialState(st)
	if err != nil {
		f.message = Message(err)
		return err
	}
	f.moveTo(initial)
	return nil
}

// Choose switches to factor. Any candidate input of the previous method is
// discarded.
func (f *VerifyFlow) Choose(factor Factor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lc.closed {
		return ErrClosed
	}
	if f.state == VerifyDone {
		return ErrWrongStep
	}
	factor, err := ParseFactor(string(factor))
	if err != nil {
		return err
	}
	if !f.status.Has(factor) {
		return ErrFactorDisabled
	}
	f.moveTo(stateFor(factor))
	return nil
}

// Back returns to the chooser.
func (f *VerifyFlow) Back() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == VerifyDone {
		return ErrWrongStep
	}
	f.moveTo(VerifyChoose)
	return nil
}

// Dismiss clears the inline message.
func (f *VerifyFlow) Dismiss() {
	f.mu.Lock()
	f.message = ""
	f.mu.Unlock()
}

// SubmitPIN verifies pin with the backend.
func (f *VerifyFlow) SubmitPIN(ctx context.Context, pin string) error {
	f.mu.Lock()
	if f.state != VerifyPIN {
		f.mu.Unlock()
		return ErrWrongStep
	}
	if err := ValidatePIN(pin); err != nil {
		f.message = Message(err)
		f.mu.Unlock()
		return err
	}
	opCtx, gen, release, err := f.lc.begin(ctx)
	f.mu.Unlock()
	if err != nil {
		return err
	}

	callErr := f.api.VerifyPIN(opCtx, pin)
	release()
	return f.finish(ctx, gen, FactorPIN, callErr)
}

// BeginBiometric fetches authentication options for the platform.
func (f *VerifyFlow) BeginBiometric(ctx context.Context) (json.RawMessage, error) {
	f.mu.Lock()
	if f.state != VerifyBiometric {
		f.mu.Unlock()
		return nil, ErrWrongStep
	}
	opCtx, gen, release, err := f.lc.begin(ctx)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	options, callErr := f.api.AuthenticationOptions(opCtx)
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
	f.challenged = true
	f.message = ""
	return options, nil
}

// FinishBiometric relays the platform assertion to the backend.
func (f *VerifyFlow) FinishBiometric(ctx context.Context, assertion json.RawMessage) error {
	f.mu.Lock()
	if f.state != VerifyBiometric || !f.challenged {
		f.mu.Unlock()
		return ErrWrongStep
	}
	opCtx, gen, release, err := f.lc.begin(ctx)
	f.mu.Unlock()
	if err != nil {
		return err
	}

	callErr := f.api.VerifyAuthentication(opCtx, assertion)
	release()
	if callErr != nil {
		callErr = biometricError(callErr)
	}
	return f.finish(ctx, gen, FactorBiometric, callErr)
}

// AuthenticateBiometric runs the whole authentication ceremony against platform.
func (f *VerifyFlow) AuthenticateBiometric(ctx context.Context, platform Authenticator) error {
	options, err := f.BeginBiometric(ctx)
	if err != nil {
		return err
	}
	assertion, err := platform.Get(ctx, options)
	if err != nil {
		err = biometricError(err)
		f.mu.Lock()
		ev := f.fail(FactorBiometric, err)
		f.mu.Unlock()
		f.opts.deliver(ctx, ev)
		return err
	}
	return f.FinishBiometric(ctx, assertion)
}

// SendSMSCode asks the backend to text a code to the user's phone.
func (f *VerifyFlow) SendSMSCode(ctx context.Context) error {
	f.mu.Lock()
	if f.state != VerifySMS {
		f.mu.Unlock()
		return ErrWrongStep
	}
	if err := ValidatePhone(f.phone); err != nil {
		f.message = Message(err)
		f.mu.Unlock()
		return err
	}
	opCtx, gen, release, err := f.lc.begin(ctx)
	f.mu.Unlock()
	if err != nil {
		return err
	}

	callErr := f.api.SendSMSCode(opCtx, f.phone)
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
	f.codeSent = true
	f.message = ""
	ev = &Event{Flow: FlowVerify, Factor: FactorSMS, Action: ActionCodeSent}
	return nil
}

// SubmitSMSCode verifies code against the phone it was sent to.
func (f *VerifyFlow) SubmitSMSCode(ctx context.Context, code string) error {
	f.mu.Lock()
	if f.state != VerifySMS {
		f.mu.Unlock()
		return ErrWrongStep
	}
	if !f.codeSent {
		f.message = Message(ErrCodeNotSent)
		f.mu.Unlock()
		return ErrCodeNotSent
	}
	if err := ValidateCode(code); err != nil {
		f.message = Message(err)
		f.mu.Unlock()
		return err
	}
	opCtx, gen, release, err := f.lc.begin(ctx)
	f.mu.Unlock()
	if err != nil {
		return err
	}

	callErr := f.api.VerifySMSCode(opCtx, f.phone, code)
	release()
	return f.finish(ctx, gen, FactorSMS, callErr)
}

// View returns a snapshot for rendering.
func (f *VerifyFlow) View() VerifyView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return VerifyView{
		State:    f.state,
		Status:   f.status,
		Enabled:  f.status.Enabled(),
		Busy:     f.lc.busy,
		Message:  f.message,
		CodeSent: f.codeSent,
		Factor:   f.verified,
	}
}

// Close tears the flow down.
func (f *VerifyFlow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lc.close()
	f.codeSent = false
	f.challenged = false
}

// finish settles a factor check. The flow only reaches VerifyDone once the
// completion callback succeeded; if it fails the user stays on the factor and
// may submit again.
func (f *VerifyFlow) finish(ctx context.Context, gen uint64, factor Factor, callErr error) error {
	f.mu.Lock()
	if err := f.lc.settle(gen); err != nil {
		f.mu.Unlock()
		return err
	}
	if callErr != nil {
		ev := f.fail(factor, callErr)
		f.mu.Unlock()
		f.opts.deliver(ctx, ev)
		return callErr
	}
	// Stay busy while the completion runs so a second submit cannot race it.
	f.lc.busy = true
	f.mu.Unlock()

	var completeErr error
	if f.complete != nil {
		completeErr = f.complete(ctx, factor)
	}

	f.mu.Lock()
	if err := f.lc.settle(gen); err != nil {
		f.mu.Unlock()
		return err
	}
	if completeErr != nil {
		// A consumed challenge cannot be replayed; the user restarts it.
		f.challenged = false
		ev := f.fail(factor, completeErr)
		f.mu.Unlock()
		f.opts.deliver(ctx, ev)
		return completeErr
	}
	f.moveTo(VerifyDone)
	f.verified = factor
	f.logger.Info("security verification succeeded", slog.String("factor", string(factor)))
	f.mu.Unlock()
	f.opts.deliver(ctx, &Event{Flow: FlowVerify, Factor: factor, Action: ActionVerified})
	return nil
}

// fail must be called with f.mu held. The returned event is delivered by the
// caller once the mutex is released.
func (f *VerifyFlow) fail(factor Factor, err error) *Event {
	f.message = Message(err)
	f.logger.Info("security verification failed",
		slog.String("factor", string(factor)),
		slog.String("kind", string(KindOf(err))),
	)
	return &Event{Flow: FlowVerify, Factor: factor, Err: err}
}

// moveTo must be called with f.mu held.
func (f *VerifyFlow) moveTo(state VerifyState) {
	f.lc.advance()
	f.state = state
	f.codeSent = false
	f.challenged = false
	f.message = ""
}

func stateFor(factor Factor) VerifyState {
	switch factor {
	case FactorPIN:
		return VerifyPIN
	case FactorBiometric:
		return VerifyBiometric
	case FactorSMS:
		return VerifySMS
	default:
		return VerifyChoose
	}
}
