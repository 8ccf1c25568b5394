package krypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceLen is the XChaCha20-Poly1305 nonce length in bytes.
const NonceLen = chacha20poly1305.NonceSizeX

// ErrAuthFailed is the single, undifferentiated error returned when an AEAD
// tag fails to verify. Callers must not try to distinguish "wrong key" from
// "corrupted ciphertext" from this error alone.
var ErrAuthFailed = errors.New("krypto: authentication failed")

// Seal encrypts plaintext under key using XChaCha20-Poly1305, drawing a
// fresh nonce from a cryptographic RNG. It returns the nonce alongside the
// ciphertext so the caller can store both.
func Seal(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	if len(key) != KeyLen {
		return nil, nil, fmt.Errorf("aead: key must be %d bytes", KeyLen)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("aead: create cipher: %w", err)
	}

	nonce = make([]byte, NonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("aead: generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return nonce, ciphertext, nil
}

// Open decrypts ciphertext under key and nonce. Any failure — wrong key,
// wrong nonce, or tampered ciphertext — returns ErrAuthFailed.
func Open(key, nonce, ciphertext []byte) ([]byte, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("aead: key must be %d bytes", KeyLen)
	}
	if len(nonce) != NonceLen {
		return nil, fmt.Errorf("aead: nonce must be %d bytes", NonceLen)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("aead: create cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
