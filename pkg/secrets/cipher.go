package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrDecryption indicates a ciphertext could not be decrypted: wrong key,
// corrupted payload, or malformed encoding.
var ErrDecryption = errors.New("secrets: decryption failed")

// Cipher encrypts and decrypts stored third-party tokens with AES-256-GCM.
type Cipher struct {
	aead        aead
	derivedFrom bool
}

type aead = cipher.AEAD

// NewCipher builds a cipher from the configured key. When configuredKey is
// empty, the key is derived as SHA-256 of fallbackSecret so the service stays
// operable without extra configuration. The derived key inherits the entropy
// of the application secret, which is a weaker posture than a dedicated key;
// callers can check DerivedKey to warn about it. Changing the derivation
// source invalidates all previously encrypted values.
func NewCipher(configuredKey, fallbackSecret string) (*Cipher, error) {
	key, derived, err := resolveKey(configuredKey, fallbackSecret)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init token cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init token cipher: %w", err)
	}
	return &Cipher{aead: gcm, derivedFrom: derived}, nil
}

func resolveKey(configuredKey, fallbackSecret string) ([]byte, bool, error) {
	configuredKey = strings.TrimSpace(configuredKey)
	if configuredKey != "" {
		digest := sha256.Sum256([]byte(configuredKey))
		return digest[:], false, nil
	}
	if strings.TrimSpace(fallbackSecret) == "" {
		return nil, false, errors.New("secrets: encryption key or fallback secret required")
	}
	digest := sha256.Sum256([]byte(fallbackSecret))
	return digest[:], true, nil
}

// DerivedKey reports whether the key was derived from the fallback secret.
func (c *Cipher) DerivedKey() bool {
	return c.derivedFrom
}

// Encrypt returns base64(nonce || ciphertext) for the plaintext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("encrypt secret: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any tampering or key mismatch yields ErrDecryption.
func (c *Cipher) Decrypt(value string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(value)
	if err != nil {
		return "", ErrDecryption
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", ErrDecryption
	}
	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plaintext), nil
}
