// Package krypto wraps the password-based KDF and the AEAD cipher behind a
// narrow interface. It is stateless: every secret buffer passed in or
// returned is the caller's to zero.
package krypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// SaltLen is the enforced salt length in bytes (vault salt, per-vault,
// fixed at init).
const SaltLen = 16

// KeyLen is the derived key length in bytes (FEK, KEK).
const KeyLen = 32

// Params captures tunable Argon2id parameters, stored verbatim in vault
// metadata so a vault can always be reopened with the parameters it was
// created under.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
}

// DefaultParams returns the vault's default Argon2id tuning.
func DefaultParams() Params {
	return Params{
		MemoryKiB:   131072,
		Iterations:  4,
		Parallelism: 1,
	}
}

// DeriveKey runs Argon2id(v1.3) over password and salt with the given
// parameters, returning a KeyLen-byte key. Fails with an error only on
// invalid parameter combinations; correct derivation is infallible.
func DeriveKey(password, salt []byte, p Params) ([]byte, error) {
	if len(password) == 0 {
		return nil, errors.New("password is required")
	}
	if len(salt) != SaltLen {
		return nil, fmt.Errorf("salt must be %d bytes", SaltLen)
	}
	if p.MemoryKiB == 0 {
		return nil, errors.New("memory parameter must be positive")
	}
	if p.Iterations == 0 {
		return nil, errors.New("iteration parameter must be positive")
	}
	if p.Parallelism == 0 {
		return nil, errors.New("parallelism parameter must be positive")
	}

	key := argon2.IDKey(password, salt, p.Iterations, p.MemoryKiB, p.Parallelism, KeyLen)
	if len(key) != KeyLen {
		return nil, fmt.Errorf("derived key has unexpected length %d", len(key))
	}
	return key, nil
}

// NewSalt returns a fresh cryptographically random SaltLen-byte salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}
