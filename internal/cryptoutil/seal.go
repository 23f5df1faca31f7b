// Package cryptoutil seals persisted provider sessions so refresh tokens are
// never written to shared storage in the clear.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// KeySize is the required key length (AES-256).
const KeySize = 32

const (
	sealedPrefixV1 = "v1:"
	plainPrefix    = "plain:"
)

var (
	// ErrUnknownEnvelope is returned when a payload carries no recognised prefix.
	ErrUnknownEnvelope = errors.New("unknown sealed envelope")
	// ErrShortEnvelope is returned when a payload is shorter than its nonce.
	ErrShortEnvelope = errors.New("sealed envelope too short")
)

// Sealer wraps and unwraps opaque payloads for storage.
type Sealer interface {
	Seal(plaintext []byte) (string, error)
	Open(envelope string) ([]byte, error)
}

// AESGCM seals payloads with AES-256-GCM and a random nonce per call.
type AESGCM struct {
	aead cipher.AEAD
}

var _ Sealer = (*AESGCM)(nil)

// NewAESGCM builds a sealer from a raw 32-byte key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aes-gcm key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCM{aead: aead}, nil
}

// ParseKey decodes a base64 (standard or URL alphabet) key.
func ParseKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if key, err := enc.DecodeString(encoded); err == nil {
			if len(key) != KeySize {
				return nil, fmt.Errorf("encryption key must decode to %d bytes, got %d", KeySize, len(key))
			}
			return key, nil
		}
	}
	return nil, errors.New("encryption key is not valid base64")
}

// Seal returns "v1:" followed by base64(nonce||ciphertext).
func (a *AESGCM) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	buf := a.aead.Seal(nonce, nonce, plaintext, nil)
	return sealedPrefixV1 + base64.StdEncoding.EncodeToString(buf), nil
}

// Open reverses Seal. Envelopes written by Plain are still readable so that
// turning encryption on does not strand sessions already in storage.
func (a *AESGCM) Open(envelope string) ([]byte, error) {
	if strings.HasPrefix(envelope, plainPrefix) {
		return Plain{}.Open(envelope)
	}
	if !strings.HasPrefix(envelope, sealedPrefixV1) {
		return nil, ErrUnknownEnvelope
	}
	data, err := base64.StdEncoding.DecodeString(envelope[len(sealedPrefixV1):])
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	n := a.aead.NonceSize()
	if len(data) < n {
		return nil, ErrShortEnvelope
	}
	pt, err := a.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("open envelope: %w", err)
	}
	return pt, nil
}

// Plain marks payloads without encrypting them. Used when no key is configured.
type Plain struct{}

var _ Sealer = Plain{}

func (Plain) Seal(plaintext []byte) (string, error) {
	return plainPrefix + base64.StdEncoding.EncodeToString(plaintext), nil
}

func (Plain) Open(envelope string) ([]byte, error) {
	if !strings.HasPrefix(envelope, plainPrefix) {
		return nil, ErrUnknownEnvelope
	}
	return base64.StdEncoding.DecodeString(envelope[len(plainPrefix):])
}
