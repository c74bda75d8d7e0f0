// Package bankcrypto encrypts banking details (CBU, account aliases) before
// they are persisted. Encryption is an explicit step on the write path, never
// an implicit storage hook.
package bankcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// KeySize is the required AES-256 key length in bytes.
const KeySize = 32

// Encryptor seals and opens banking fields with AES-GCM.
type Encryptor struct {
	gcm cipher.AEAD
}

// New builds an Encryptor from a 32-byte key.
func New(key string) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("bankcrypto: key must be exactly %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("bankcrypto: build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("bankcrypto: build GCM: %w", err)
	}

	return &Encryptor{gcm: gcm}, nil
}

// Encrypt seals the plaintext and returns base64(nonce || ciphertext).
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("bankcrypto: generate nonce: %w", err)
	}

	sealed := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("bankcrypto: decode base64: %w", err)
	}

	nonceSize := e.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("bankcrypto: ciphertext too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("bankcrypto: open ciphertext: %w", err)
	}
	return string(plaintext), nil
}

// Mask hides all but the last four characters of a banking identifier.
// The masked form is the only one surfaced to non-admin callers.
func Mask(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}

// Last4 returns the trailing four characters kept in clear for display.
func Last4(value string) string {
	value = strings.TrimSpace(value)
	if len(value) < 4 {
		return value
	}
	return value[len(value)-4:]
}
