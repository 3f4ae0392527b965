// Package creds manages OAuth credentials: tokens are sealed with
// AES-GCM before they touch the database, and access tokens are
// refreshed on demand with a single in-flight refresh per connection.
package creds

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// KeySize is the required length of the sealing key in bytes (AES-256).
const KeySize = 32

var errCiphertextTooShort = errors.New("sealed value shorter than nonce")

// Box seals and opens token strings with a single symmetric key.
// The sealed form is nonce || ciphertext, so each value carries the
// nonce it was sealed with.
type Box struct {
	aead cipher.AEAD
}

// NewBox builds a Box from a raw 32-byte key
func NewBox(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("sealing key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal encrypts a token with a fresh random nonce
func (b *Box) Seal(plaintext string) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return b.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Open decrypts a value produced by Seal. It fails if the ciphertext
// was tampered with or was sealed under a different key.
func (b *Box) Open(sealed []byte) (string, error) {
	if len(sealed) < b.aead.NonceSize() {
		return "", errCiphertextTooShort
	}
	nonce, ciphertext := sealed[:b.aead.NonceSize()], sealed[b.aead.NonceSize():]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open sealed token: %w", err)
	}
	return string(plaintext), nil
}

// GenerateKey returns a new random sealing key, hex-encoded for use in
// configuration.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}
