package services

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
)

// SessionKeyEnv names the variable holding the 32-byte sealing key.
const SessionKeyEnv = "IRON_SESSION_KEY"

var ErrMalformedCiphertext = errors.New("malformed ciphertext")

// AuthService seals secrets at rest (the persisted secret key) and in
// transit (the session cookie) with AES-256-GCM.
type AuthService struct {
	encryptionKey []byte
}

// NewAuthService creates a new auth service with a key from env or generates one (ephemeral)
func NewAuthService() *AuthService {
	key := os.Getenv(SessionKeyEnv)
	if len(key) != 32 {
		// Without a configured key, sealed values do not survive a restart.
		newKey := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, newKey); err != nil {
			panic("failed to generate random key")
		}
		return &AuthService{encryptionKey: newKey}
	}
	return &AuthService{encryptionKey: []byte(key)}
}

// NewAuthServiceWithKey uses key as-is. It must be exactly 32 bytes.
func NewAuthServiceWithKey(key []byte) (*AuthService, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("session key must be 32 bytes, got %d", len(key))
	}
	return &AuthService{encryptionKey: append([]byte(nil), key...)}, nil
}

func (s *AuthService) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext and prefixes the random nonce.
func (s *AuthService) Seal(plaintext []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal. The caller owns (and should wipe) the result.
func (s *AuthService) Open(sealed []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, ErrMalformedCiphertext
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// EncryptToken seals a short value (a session id) for use in a cookie.
func (s *AuthService) EncryptToken(token string) (string, error) {
	sealed, err := s.Seal([]byte(token))
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// DecryptToken decodes the cookie value back into the token.
func (s *AuthService) DecryptToken(encrypted string) (string, error) {
	sealed, err := base64.URLEncoding.DecodeString(encrypted)
	if err != nil {
		return "", err
	}
	plaintext, err := s.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
