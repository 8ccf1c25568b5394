// Package engine orchestrates the vault state machine: init, add-file,
// verify-password, unlock, status, vault-info, refresh-time. It holds the
// invariants and the per-vault state machine; everything below it
// (krypto, vaultstore, oracle) is stateless or merely persists what the
// engine tells it to.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Hussein-Mazeh/timevault/krypto"
	"github.com/Hussein-Mazeh/timevault/oracle"
	"github.com/Hussein-Mazeh/timevault/vaultstore"
)

// TimeSource matches oracle.FetchNow's signature. Engine calls through this
// field rather than the oracle package directly so tests can stub network
// time without a real HTTP round trip.
type TimeSource func(ctx context.Context) (int64, string, error)

// Engine is bound to a single vault directory. It holds no secret state
// between calls; every operation derives what it needs and zeroizes before
// returning.
type Engine struct {
	VaultDir string

	// TimeSource defaults to oracle.FetchNow; tests override it.
	TimeSource TimeSource
}

// New returns an Engine bound to vaultDir, wired to the real time oracle.
func New(vaultDir string) *Engine {
	return &Engine{
		VaultDir:   vaultDir,
		TimeSource: oracle.FetchNow,
	}
}

func (e *Engine) timeSource() TimeSource {
	if e.TimeSource != nil {
		return e.TimeSource
	}
	return oracle.FetchNow
}

func (e *Engine) paths() vaultstore.Paths {
	return vaultstore.Paths{Dir: e.VaultDir}
}

// FileRecord is one entry of a Status result.
type FileRecord struct {
	Filename         string
	FileUnlockDate   uint64
	ContentNonceB64  string
	ContentCipherB64 string
}

// VaultInfo is the result of VaultInfoOp/RefreshTime.
type VaultInfo struct {
	Created        uint64
	LastServerTime uint64
	TimeSource     string
}

// Init creates a new vault. It fails if a vault already exists at VaultDir.
func (e *Engine) Init(ctx context.Context, password string, vaultUnlockDate uint64) error {
	p := e.paths()
	if p.Exists() {
		return fmt.Errorf("%w: vault already initialized at %s", ErrVaultExists, e.VaultDir)
	}

	salt, err := krypto.NewSalt()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKDFFailure, err)
	}

	fek := krypto.NewSecret(make([]byte, krypto.KeyLen))
	defer fek.Wipe()
	if _, err := rand.Read(fek.Bytes()); err != nil {
		return fmt.Errorf("generate FEK: %w", err)
	}

	params := krypto.DefaultParams()
	kekBytes, err := krypto.DeriveKey([]byte(password), salt, params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKDFFailure, err)
	}
	kek := krypto.NewSecret(kekBytes)
	defer kek.Wipe()

	wrapNonce, wrappedFEK, err := krypto.Seal(kek.Bytes(), fek.Bytes())
	if err != nil {
		return fmt.Errorf("wrap fek: %w", err)
	}
	defer krypto.Zero(wrapNonce)

	meta := vaultstore.Metadata{
		Version:          1,
		Salt:             b64(salt),
		ArgonMemKiB:      params.MemoryKiB,
		ArgonIters:       params.Iterations,
		ArgonParallelism: params.Parallelism,
		WrappedFEK:       b64(wrappedFEK),
		WrapNonce:        b64(wrapNonce),
		VaultUnlockDate:  vaultUnlockDate,
		CreationTS:       uint64(time.Now().Unix()),
		LastVerifiedTime: 0,
	}
	krypto.Zero(salt)

	if err := vaultstore.SaveMetadata(p, meta); err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return nil
}

// recoverFEK loads metadata and unwraps the FEK under password. Returns the
// loaded metadata and a *krypto.Secret the caller must Wipe.
func recoverFEK(p vaultstore.Paths, password string) (vaultstore.Metadata, *krypto.Secret, error) {
	meta, err := vaultstore.LoadMetadata(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return meta, nil, ErrVaultMissing
		}
		return meta, nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	salt, err := unb64(meta.Salt)
	if err != nil {
		return meta, nil, fmt.Errorf("%w: %v", ErrCorruptMetadata, err)
	}
	wrapNonce, err := unb64(meta.WrapNonce)
	if err != nil {
		return meta, nil, fmt.Errorf("%w: %v", ErrCorruptMetadata, err)
	}
	wrappedFEK, err := unb64(meta.WrappedFEK)
	if err != nil {
		return meta, nil, fmt.Errorf("%w: %v", ErrCorruptMetadata, err)
	}
	defer krypto.Zero(salt)
	defer krypto.Zero(wrapNonce)

	params := krypto.Params{
		MemoryKiB:   meta.ArgonMemKiB,
		Iterations:  meta.ArgonIters,
		Parallelism: meta.ArgonParallelism,
	}
	kekBytes, err := krypto.DeriveKey([]byte(password), salt, params)
	if err != nil {
		return meta, nil, fmt.Errorf("%w: %v", ErrKDFFailure, err)
	}
	kek := krypto.NewSecret(kekBytes)
	defer kek.Wipe()

	fekBytes, err := krypto.Open(kek.Bytes(), wrapNonce, wrappedFEK)
	if err != nil {
		return meta, nil, ErrInvalidPassword
	}
	return meta, krypto.NewSecret(fekBytes), nil
}

// AddFile ingests sourcePath into the vault under customName (or its
// basename if customName is empty), tagged with fileUnlockDate.
func (e *Engine) AddFile(ctx context.Context, sourcePath, password string, fileUnlockDate uint64, customName string) error {
	p := e.paths()

	_, fek, err := recoverFEK(p, password)
	if err != nil {
		return err
	}
	defer fek.Wipe()

	filename := customName
	if filename == "" {
		filename = filepath.Base(sourcePath)
	}
	if !safeFilename(filename) {
		return ErrBadFilename
	}

	if err := checkDuplicate(p, fek.Bytes(), filename); err != nil {
		return err
	}

	content, err := os.ReadFile(sourcePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	contentNonce, contentCipher, err := krypto.Seal(fek.Bytes(), content)
	if err != nil {
		return fmt.Errorf("seal content: %w", err)
	}

	payload := vaultstore.FileMetaPayload{
		Filename:       filename,
		FileUnlockDate: fileUnlockDate,
		Nonce:          b64(contentNonce),
		Ciphertext:     b64(contentCipher),
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode file payload: %w", err)
	}

	metaNonce, metaCipher, err := krypto.Seal(fek.Bytes(), payloadJSON)
	if err != nil {
		return fmt.Errorf("seal file metadata: %w", err)
	}

	env := vaultstore.EncryptedFileMeta{
		EncryptedPayload: b64(metaCipher),
		MetadataNonce:    b64(metaNonce),
	}

	// Envelope first, content second — the reverse of the historical
	// order — so an interrupted write never leaves an orphan blob with no
	// envelope pointing at it.
	if err := vaultstore.SaveFileMeta(p, filename, env); err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if err := vaultstore.SaveBlob(p, filename, contentCipher); err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return nil
}

// checkDuplicate enumerates files_meta/, decrypting each envelope under fek,
// and fails with a *FileExistsError if any decrypts to the same filename.
// Entries that fail to parse or authenticate are skipped here; they surface
// as tampering warnings from Status/Unlock instead.
func checkDuplicate(p vaultstore.Paths, fek []byte, filename string) error {
	entries, err := vaultstore.ListFileMeta(p)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	for _, entry := range entries {
		payload, _, err := openEnvelope(entry.Raw, fek)
		if err != nil {
			continue
		}
		if payload.Filename == filename {
			return &FileExistsError{Filename: filename}
		}
	}
	return nil
}

// openEnvelope parses and decrypts one files_meta/ entry's bytes under fek.
func openEnvelope(raw, fek []byte) (vaultstore.FileMetaPayload, string, error) {
	var env vaultstore.EncryptedFileMeta
	if err := json.Unmarshal(raw, &env); err != nil {
		return vaultstore.FileMetaPayload{}, "parse", err
	}
	nonce, err := unb64(env.MetadataNonce)
	if err != nil {
		return vaultstore.FileMetaPayload{}, "parse", err
	}
	cipher, err := unb64(env.EncryptedPayload)
	if err != nil {
		return vaultstore.FileMetaPayload{}, "parse", err
	}
	plain, err := krypto.Open(fek, nonce, cipher)
	if err != nil {
		return vaultstore.FileMetaPayload{}, "auth", err
	}
	var payload vaultstore.FileMetaPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		return vaultstore.FileMetaPayload{}, "parse", err
	}
	return payload, "", nil
}

// VerifyPassword recovers and discards the FEK; success proves password is
// the one used at Init.
func (e *Engine) VerifyPassword(ctx context.Context, password string) error {
	_, fek, err := recoverFEK(e.paths(), password)
	if err != nil {
		return err
	}
	fek.Wipe()
	return nil
}

// UnlockResult is the outcome of Unlock.
type UnlockResult struct {
	Decrypted []string
	Warnings  []TamperingWarning
}

// Unlock consults the time oracle, enforces the regression guard and the
// vault-level unlock date, and decrypts every file whose file_unlock_date
// has elapsed into outDir.
func (e *Engine) Unlock(ctx context.Context, outDir, password string) (UnlockResult, error) {
	p := e.paths()
	var result UnlockResult

	meta, fek, err := recoverFEK(p, password)
	if err != nil {
		return result, err
	}
	defer fek.Wipe()

	serverTime, _, err := e.timeSource()(ctx)
	if err != nil {
		return result, ErrTimeUnavailable
	}

	if meta.LastVerifiedTime != 0 && serverTime < int64(meta.LastVerifiedTime) {
		return result, ErrTimeRegression
	}

	// vault_unlock_date is enforced, not merely informational: Unlock
	// refuses to run at all before it elapses.
	if meta.VaultUnlockDate != 0 && uint64(serverTime) < meta.VaultUnlockDate {
		return result, ErrVaultSealed
	}

	if err := os.MkdirAll(outDir, 0o700); err != nil {
		return result, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	entries, err := vaultstore.ListFileMeta(p)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	for _, entry := range entries {
		payload, stage, err := openEnvelope(entry.Raw, fek.Bytes())
		if err != nil {
			reason := "unreadable envelope"
			if stage == "auth" {
				reason = "metadata authentication failed"
			}
			result.Warnings = append(result.Warnings, TamperingWarning{
				DiskName: entry.DiskName,
				Reason:   reason,
			})
			continue
		}

		if serverTime < int64(payload.FileUnlockDate) {
			continue
		}

		if !safeFilename(payload.Filename) {
			// An authenticated envelope still carries an attacker-controlled
			// Filename field if it was written before this check existed, or
			// by a tampered AddFile caller. Refuse to let it reach a blob
			// path or escape outDir.
			result.Warnings = append(result.Warnings, TamperingWarning{
				DiskName: entry.DiskName,
				Filename: payload.Filename,
				Reason:   "unsafe filename",
			})
			continue
		}

		blob, err := vaultstore.LoadBlob(p, payload.Filename)
		if err != nil {
			result.Warnings = append(result.Warnings, TamperingWarning{
				DiskName: entry.DiskName,
				Filename: payload.Filename,
				Reason:   "content blob missing",
			})
			continue
		}

		nonce, err := unb64(payload.Nonce)
		if err != nil {
			result.Warnings = append(result.Warnings, TamperingWarning{
				DiskName: entry.DiskName,
				Filename: payload.Filename,
				Reason:   "unreadable content nonce",
			})
			continue
		}

		plain, err := krypto.Open(fek.Bytes(), nonce, blob)
		if err != nil {
			// The historical implementation skips this silently;
			// the blob is the authoritative ciphertext (§9 of the
			// design notes) so a failure here is just as much
			// tampering as a bad metadata envelope.
			result.Warnings = append(result.Warnings, TamperingWarning{
				DiskName: entry.DiskName,
				Filename: payload.Filename,
				Reason:   "content authentication failed",
			})
			continue
		}

		outPath := filepath.Join(outDir, payload.Filename)
		if err := os.WriteFile(outPath, plain, 0o600); err != nil {
			return result, fmt.Errorf("%w: %v", ErrIOFailure, err)
		}
		result.Decrypted = append(result.Decrypted, payload.Filename)
	}

	meta.LastVerifiedTime = uint64(serverTime)
	if err := vaultstore.SaveMetadata(p, meta); err != nil {
		return result, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return result, nil
}

// Status reports each file's plaintext metadata without touching the
// oracle or decrypting content.
func (e *Engine) Status(ctx context.Context, password string) ([]FileRecord, []TamperingWarning, error) {
	p := e.paths()

	if !p.Exists() {
		return nil, nil, ErrVaultMissing
	}

	_, fek, err := recoverFEK(p, password)
	if err != nil {
		return nil, nil, err
	}
	defer fek.Wipe()

	entries, err := vaultstore.ListFileMeta(p)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	var records []FileRecord
	var warnings []TamperingWarning
	for _, entry := range entries {
		payload, stage, err := openEnvelope(entry.Raw, fek.Bytes())
		if err != nil {
			reason := "unreadable envelope"
			if stage == "auth" {
				reason = "metadata authentication failed"
			}
			warnings = append(warnings, TamperingWarning{DiskName: entry.DiskName, Reason: reason})
			continue
		}
		records = append(records, FileRecord{
			Filename:         payload.Filename,
			FileUnlockDate:   payload.FileUnlockDate,
			ContentNonceB64:  payload.Nonce,
			ContentCipherB64: payload.Ciphertext,
		})
	}
	return records, warnings, nil
}

// VaultInfoOp returns vault creation time and last observed server time, or
// (zero value, false) if the vault has not been initialized.
func (e *Engine) VaultInfoOp() (VaultInfo, bool, error) {
	p := e.paths()
	if !p.Exists() {
		return VaultInfo{}, false, nil
	}
	meta, err := vaultstore.LoadMetadata(p)
	if err != nil {
		return VaultInfo{}, false, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return VaultInfo{Created: meta.CreationTS, LastServerTime: meta.LastVerifiedTime}, true, nil
}

// RefreshTime consults the oracle, enforces the regression guard, persists
// the new last_verified_time, and returns the refreshed info. It does not
// require a password.
func (e *Engine) RefreshTime(ctx context.Context) (VaultInfo, error) {
	p := e.paths()

	meta, err := vaultstore.LoadMetadata(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return VaultInfo{}, ErrVaultMissing
		}
		return VaultInfo{}, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	serverTime, source, err := e.timeSource()(ctx)
	if err != nil {
		return VaultInfo{}, ErrTimeUnavailable
	}

	if meta.LastVerifiedTime != 0 && serverTime < int64(meta.LastVerifiedTime) {
		return VaultInfo{}, ErrTimeRegression
	}

	meta.LastVerifiedTime = uint64(serverTime)
	if err := vaultstore.SaveMetadata(p, meta); err != nil {
		return VaultInfo{}, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	return VaultInfo{Created: meta.CreationTS, LastServerTime: meta.LastVerifiedTime, TimeSource: source}, nil
}

// safeFilename reports whether name is usable as a single path component:
// non-empty, not "." or "..", and containing no directory separator of its
// own (filepath.Base(name) == name catches both "a/../../etc/passwd" and a
// bare ".." that Base would otherwise leave unchanged).
func safeFilename(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return filepath.Base(name) == name
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func unb64(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }
