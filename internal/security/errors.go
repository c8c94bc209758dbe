package security

import (
	"context"
	"errors"
)

var (
	// ErrInvalidPIN is returned when a PIN is not exactly six digits.
	ErrInvalidPIN = errors.New("PIN must be exactly 6 digits")
	// ErrPINMismatch is returned when the PIN and its confirmation differ.
	ErrPINMismatch = errors.New("PINs do not match")
	// ErrInvalidCode is returned when an SMS code is not exactly six digits.
	ErrInvalidCode = errors.New("code must be exactly 6 digits")
	// ErrInvalidPhone is returned for phone numbers that cannot be dialled.
	ErrInvalidPhone = errors.New("invalid phone number")
	ErrInvalidFactor = errors.New("invalid factor")
	// ErrCodeNotSent is returned when a code is submitted before one was requested.
	ErrCodeNotSent = errors.New("request a code first")

	// ErrFactorDisabled is returned when verification is attempted with a factor
	// the user has not enabled.
	ErrFactorDisabled = errors.New("factor not enabled")
	// ErrNoFactors means verification cannot complete; the user must run setup.
	ErrNoFactors = errors.New("no security factor enabled")
	// ErrWrongStep is returned when an operation does not belong to the current step.
	ErrWrongStep = errors.New("operation not available in this step")
	// ErrBusy is returned while a previous submission is still outstanding.
	ErrBusy = errors.New("request already in progress")
	// ErrStale is returned when a response arrives after the flow moved on or
	// was closed. Its result has been discarded.
	ErrStale = errors.New("flow changed while request was in flight")
	ErrClosed = errors.New("flow closed")

	// ErrBiometricFailed is the generic error surfaced for any failed
	// platform credential ceremony.
	ErrBiometricFailed = errors.New("biometric authentication failed")

	// ErrUnauthenticated means the backend no longer accepts the session's
	// bearer token. The user has to log in again.
	ErrUnauthenticated = errors.New("session expired, please log in again")

	// ErrTransport marks network or backend availability failures.
	ErrTransport = errors.New("security backend unavailable")
	// ErrRejected marks credentials the backend refused.
	ErrRejected = errors.New("credential rejected")
)

// Kind classifies an error for presentation. Every kind is surfaced the same
// way (a dismissible message) and none is retried automatically.
type Kind string

const (
	KindValidation Kind = "validation"
	KindRejected   Kind = "rejected"
	KindTransport  Kind = "transport"
	KindState      Kind = "state"
	KindAuth       Kind = "unauthenticated"
	KindInternal   Kind = "internal"
)

// KindOf maps err onto the error taxonomy.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidPIN), errors.Is(err, ErrPINMismatch),
		errors.Is(err, ErrInvalidCode), errors.Is(err, ErrInvalidPhone),
		errors.Is(err, ErrInvalidFactor), errors.Is(err, ErrCodeNotSent):
		return KindValidation
	case errors.Is(err, ErrUnauthenticated):
		return KindAuth
	case errors.Is(err, ErrRejected):
		return KindRejected
	case errors.Is(err, ErrTransport), errors.Is(err, context.DeadlineExceeded):
		return KindTransport
	case errors.Is(err, ErrFactorDisabled), errors.Is(err, ErrNoFactors),
		errors.Is(err, ErrWrongStep), errors.Is(err, ErrBusy),
		errors.Is(err, ErrStale), errors.Is(err, ErrClosed), errors.Is(err, context.Canceled):
		return KindState
	case errors.Is(err, ErrBiometricFailed):
		return KindRejected
	default:
		return KindInternal
	}
}

// Message returns the user-facing text for err.
func Message(err error) string {
	if errors.Is(err, ErrBiometricFailed) {
		return ErrBiometricFailed.Error()
	}
	switch KindOf(err) {
	case "":
		return ""
	case KindValidation, KindState:
		return rootMessage(err)
	case KindAuth:
		return ErrUnauthenticated.Error()
	case KindRejected:
		var msg interface{ UserMessage() string }
		if errors.As(err, &msg) && msg.UserMessage() != "" {
			return msg.UserMessage()
		}
		return "verification failed, please try again"
	case KindTransport:
		return "service unavailable, please try again"
	default:
		return "something went wrong"
	}
}

func rootMessage(err error) string {
	for _, sentinel := range []error{
		ErrInvalidPIN, ErrPINMismatch, ErrInvalidCode, ErrInvalidPhone, ErrInvalidFactor,
		ErrCodeNotSent, ErrFactorDisabled, ErrNoFactors, ErrWrongStep, ErrBusy, ErrStale, ErrClosed,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
