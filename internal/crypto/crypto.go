// Package crypto seals secrets persisted in the local store, such as
// OAuth tokens. Uses AES-256-GCM for authenticated encryption.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	apperrors "github.com/kimhsiao/possync/internal/errors"
)

// DefaultSecret is used when no secret_key is configured.
const DefaultSecret = "possync-default-key"

// Sealer encrypts and decrypts values with a key derived from a secret.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a 32-byte key from secret with SHA-256.
// An empty secret falls back to DefaultSecret.
func NewSealer(secret string) (*Sealer, error) {
	if secret == "" {
		secret = DefaultSecret
	}
	key := sha256.Sum256([]byte("possync:" + secret))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCryptoFailed, "failed to create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCryptoFailed, "failed to create GCM", err)
	}
	return &Sealer{aead: gcm}, nil
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext).
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", apperrors.Wrap(apperrors.ErrCryptoFailed, "failed to generate nonce", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(sealed string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCryptoFailed, "invalid ciphertext encoding", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, apperrors.New(apperrors.ErrCryptoFailed, "ciphertext too short")
	}

	nonce, cipherData := data[:nonceSize], data[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, cipherData, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCryptoFailed, "ciphertext authentication failed", err)
	}
	return plaintext, nil
}

// SealString is Seal for strings.
func (s *Sealer) SealString(plaintext string) (string, error) {
	return s.Seal([]byte(plaintext))
}

// OpenString is Open for strings.
func (s *Sealer) OpenString(sealed string) (string, error) {
	plaintext, err := s.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
