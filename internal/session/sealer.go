package session

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// ErrUnseal is returned when a sealed value was tampered with or sealed with
// another key.
var ErrUnseal = errors.New("cannot open sealed value")

// Sealer encrypts backend bearer tokens before they are stored.
type Sealer struct {
	key [keySize]byte
}

// NewSealer builds a sealer from a 32-byte key given as hex or base64.
func NewSealer(secret string) (*Sealer, error) {
	raw, err := decodeKey(strings.TrimSpace(secret))
	if err != nil {
		return nil, err
	}
	s := &Sealer{}
	copy(s.key[:], raw)
	return s, nil
}

// NewRandomSealer builds a sealer with a fresh key. Values sealed by it do
// not survive a restart.
func NewRandomSealer() (*Sealer, error) {
	s := &Sealer{}
	if _, err := io.ReadFull(rand.Reader, s.key[:]); err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return s, nil
}

func decodeKey(secret string) ([]byte, error) {
	if b, err := hex.DecodeString(secret); err == nil && len(b) == keySize {
		return b, nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(secret); err == nil && len(b) == keySize {
			return b, nil
		}
	}
	return nil, fmt.Errorf("session secret must be %d bytes encoded as hex or base64", keySize)
}

// Seal returns nonce || box.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrUnseal
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrUnseal
	}
	return out, nil
}
