package security

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var errRejectedByBackend = errors.Join(ErrRejected, errors.New("backend said no"))

// fakeAPI records every backend call and answers from its fields.
type fakeAPI struct {
	mu     sync.Mutex
	calls  []string
	status Status

	statusErr    error
	setPINErr    error
	verifyPINErr error
	regErr       error
	authErr      error
	sendErr      error

	validSMSCode string
	validPIN     string

	// block, when set, holds SetPIN until released.
	block chan struct{}
	// entered is signalled once a blocked call is in flight.
	entered chan struct{}

	lastPhone       string
	lastAttestation json.RawMessage
}

func (a *fakeAPI) record(name string) {
	a.mu.Lock()
	a.calls = append(a.calls, name)
	a.mu.Unlock()
}

func (a *fakeAPI) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *fakeAPI) called(name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (a *fakeAPI) Status(context.Context) (Status, error) {
	a.record("status")
	return a.status, a.statusErr
}

func (a *fakeAPI) SetPIN(ctx context.Context, _ string) error {
	a.record("set_pin")
	if a.block != nil {
		if a.entered != nil {
			a.entered <- struct{}{}
		}
		select {
		case <-a.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return a.setPINErr
}

func (a *fakeAPI) VerifyPIN(_ context.Context, pin string) error {
	a.record("verify_pin")
	if a.verifyPINErr != nil {
		return a.verifyPINErr
	}
	if a.validPIN != "" && pin != a.validPIN {
		return errRejectedByBackend
	}
	return nil
}

func (a *fakeAPI) RegistrationOptions(context.Context) (json.RawMessage, error) {
	a.record("registration_options")
	if a.regErr != nil {
		return nil, a.regErr
	}
	return json.RawMessage(`{"challenge":"cmVn","rp":{"name":"courier"}}`), nil
}

func (a *fakeAPI) VerifyRegistration(_ context.Context, attestation json.RawMessage) error {
	a.record("verify_registration")
	a.mu.Lock()
	a.lastAttestation = attestation
	a.mu.Unlock()
	return a.regErr
}

func (a *fakeAPI) AuthenticationOptions(context.Context) (json.RawMessage, error) {
	a.record("authentication_options")
	if a.authErr != nil {
		return nil, a.authErr
	}
	return json.RawMessage(`{"challenge":"YXV0aA=="}`), nil
}

func (a *fakeAPI) VerifyAuthentication(context.Context, json.RawMessage) error {
	a.record("verify_authentication")
	return a.authErr
}

func (a *fakeAPI) SendSMSCode(_ context.Context, phone string) error {
	a.record("send_sms")
	a.mu.Lock()
	a.lastPhone = phone
	a.mu.Unlock()
	return a.sendErr
}

func (a *fakeAPI) VerifySMSCode(_ context.Context, _, code string) error {
	a.record("verify_sms")
	if code != a.validSMSCode {
		return errRejectedByBackend
	}
	return nil
}

// echoPlatform answers every ceremony with a fixed credential.
type echoPlatform struct {
	err     error
	options json.RawMessage
}

func (p *echoPlatform) Create(_ context.Context, options json.RawMessage) (json.RawMessage, error) {
	p.options = options
	if p.err != nil {
		return nil, p.err
	}
	return json.RawMessage(`{"id":"cred-1","type":"public-key"}`), nil
}

func (p *echoPlatform) Get(_ context.Context, options json.RawMessage) (json.RawMessage, error) {
	p.options = options
	if p.err != nil {
		return nil, p.err
	}
	return json.RawMessage(`{"id":"cred-1","signature":"c2ln"}`), nil
}
