package security

import "strings"

const (
	pinLength  = 6
	codeLength = 6

	minPhoneDigits = 7
	maxPhoneDigits = 15
)

// ValidatePIN checks that pin is exactly six ASCII digits.
func ValidatePIN(pin string) error {
	if !isDigits(pin, pinLength) {
		return ErrInvalidPIN
	}
	return nil
}

// ValidatePINPair checks both entries and that they match.
func ValidatePINPair(pin, confirm string) error {
	if err := ValidatePIN(pin); err != nil {
		return err
	}
	if err := ValidatePIN(confirm); err != nil {
		return err
	}
	if pin != confirm {
		return ErrPINMismatch
	}
	return nil
}

// ValidateCode checks that an SMS code is exactly six ASCII digits.
func ValidateCode(code string) error {
	if !isDigits(code, codeLength) {
		return ErrInvalidCode
	}
	return nil
}

// ValidatePhone only counts digits; whether the number is reachable is the
// backend's call. Spaces, dashes, dots, parentheses and one leading '+' are
// accepted as separators.
func ValidatePhone(phone string) error {
	p := strings.TrimSpace(phone)
	p = strings.TrimPrefix(p, "+")
	digits := 0
	for _, r := range p {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == ' ', r == '-', r == '.', r == '(', r == ')':
		default:
			return ErrInvalidPhone
		}
	}
	if digits < minPhoneDigits || digits > maxPhoneDigits {
		return ErrInvalidPhone
	}
	return nil
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
