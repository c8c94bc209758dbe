package security

import "fmt"

// Factor identifies one authentication method.
type Factor string

const (
	FactorPIN       Factor = "pin"
	FactorBiometric Factor = "biometric"
	FactorSMS       Factor = "sms"
)

// Factors lists every factor in chooser order.
var Factors = []Factor{FactorPIN, FactorBiometric, FactorSMS}

// ParseFactor maps a wire value onto a Factor.
func ParseFactor(v string) (Factor, error) {
	switch Factor(v) {
	case FactorPIN, FactorBiometric, FactorSMS:
		return Factor(v), nil
	case "face_id", "webauthn":
		return FactorBiometric, nil
	default:
		return "", fmt.Errorf("%w: unknown factor %q", ErrInvalidFactor, v)
	}
}

// Status is a snapshot of the factors the backend reports as enabled.
type Status struct {
	PINEnabled          bool `json:"pin_enabled"`
	FaceIDEnabled       bool `json:"face_id_enabled"`
	SMSEnabled          bool `json:"sms_enabled"`
	WebAuthnCredentials int  `json:"webauthn_credentials"`
}

// Has reports whether f is enabled.
func (s Status) Has(f Factor) bool {
	switch f {
	case FactorPIN:
		return s.PINEnabled
	case FactorBiometric:
		return s.FaceIDEnabled
	case FactorSMS:
		return s.SMSEnabled
	default:
		return false
	}
}

// Enabled returns the enabled factors in chooser order.
func (s Status) Enabled() []Factor {
	var out []Factor
	for _, f := range Factors {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Any reports whether at least one factor is enabled.
func (s Status) Any() bool {
	return len(s.Enabled()) > 0
}

// With returns a copy of s with f marked enabled. Only call it after the
// backend has confirmed the factor.
func (s Status) With(f Factor) Status {
	switch f {
	case FactorPIN:
		s.PINEnabled = true
	case FactorBiometric:
		s.FaceIDEnabled = true
		s.WebAuthnCredentials++
	case FactorSMS:
		s.SMSEnabled = true
	}
	return s
}
