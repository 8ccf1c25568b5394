package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for the spec's error taxonomy (§7). Compared with
// errors.Is, following the teacher's store.ErrMEKNotWrapped /
// native-host errUnauthorized family of sentinels.
var (
	// ErrVaultMissing is returned when an operation expects
	// vault_metadata.json to exist and it does not.
	ErrVaultMissing = errors.New("vault missing")

	// ErrInvalidPassword is returned when unwrapping the FEK fails AEAD
	// authentication.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrBadFilename is returned when AddFile's display filename is not a
	// single safe path component: empty, ".", "..", or containing a
	// directory separator.
	ErrBadFilename = errors.New("bad filename")

	// ErrTimeUnavailable is returned when the time oracle exhausts every
	// endpoint.
	ErrTimeUnavailable = errors.New("time unavailable")

	// ErrTimeRegression is returned when the oracle reports a time
	// strictly earlier than the vault's last_verified_time.
	ErrTimeRegression = errors.New("time regression detected")

	// ErrVaultSealed is returned by Unlock when the oracle's time has not
	// yet reached the vault's vault_unlock_date.
	ErrVaultSealed = errors.New("vault unlock date not yet reached")

	// ErrKDFFailure is returned when Argon2id is given an invalid
	// parameter combination.
	ErrKDFFailure = errors.New("kdf failure")

	// ErrVaultExists is returned by Init when vault_metadata.json is
	// already present.
	ErrVaultExists = errors.New("vault already exists")

	// ErrIOFailure wraps any filesystem error surfaced by vaultstore.
	ErrIOFailure = errors.New("io failure")

	// ErrCorruptMetadata is returned when vault_metadata.json itself
	// cannot be decoded, as opposed to a per-file envelope failing to
	// decode (which is a warning, not a fatal error).
	ErrCorruptMetadata = errors.New("corrupt vault metadata")
)

// FileExistsError is returned by AddFile when the plaintext filename
// already exists in the vault (checked by decrypting every metadata
// envelope under the FEK). It carries the filename so callers can format
// spec.md §6's "FILE_EXISTS:<filename>" string without re-parsing an error
// message.
type FileExistsError struct {
	Filename string
}

func (e *FileExistsError) Error() string {
	return fmt.Sprintf("file already exists: %s", e.Filename)
}

// TamperingWarning is a non-fatal diagnostic attached to Status/Unlock
// results when a per-file envelope fails to parse or fails AEAD
// authentication, or (per the resolved Open Question in SPEC_FULL.md §3)
// when the content blob itself fails AEAD authentication.
type TamperingWarning struct {
	// DiskName is the on-disk envelope filename (the only identifier
	// available when the envelope cannot be decrypted at all).
	DiskName string
	// Filename is the plaintext filename, populated only when the
	// envelope decrypted successfully and a later step failed (unsafe
	// filename, missing blob, unreadable content nonce, or content
	// authentication).
	Filename string
	Reason   string
}
