package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func stubTime(seconds int64) TimeSource {
	return func(ctx context.Context) (int64, string, error) {
		return seconds, "stub", nil
	}
}

func newTestEngine(t *testing.T, seconds int64) *Engine {
	t.Helper()
	dir := t.TempDir()
	return &Engine{
		VaultDir:   filepath.Join(dir, "vault"),
		TimeSource: stubTime(seconds),
	}
}

func mustInit(t *testing.T, e *Engine, password string, vaultUnlockDate uint64) {
	t.Helper()
	if err := e.Init(context.Background(), password, vaultUnlockDate); err != nil {
		t.Fatalf("Init: %v", err)
	}
}

func writeSourceFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write source file: %v", err)
	}
	return path
}

// Scenario 1: happy path.
func TestUnlockHappyPath(t *testing.T) {
	e := newTestEngine(t, 2000)
	mustInit(t, e, "hunter2", 0)

	src := writeSourceFile(t, t.TempDir(), "a.txt", "hello")
	if err := e.AddFile(context.Background(), src, "hunter2", 1000, ""); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	outDir := filepath.Join(t.TempDir(), "out")
	result, err := e.Unlock(context.Background(), outDir, "hunter2")
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if len(result.Decrypted) != 1 || result.Decrypted[0] != "a.txt" {
		t.Fatalf("expected [a.txt] decrypted, got %v", result.Decrypted)
	}

	got, err := os.ReadFile(filepath.Join(outDir, "a.txt"))
	if err != nil {
		t.Fatalf("read unlocked file: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}
}

// Scenario 2: too early.
func TestUnlockTooEarly(t *testing.T) {
	e := newTestEngine(t, 2000)
	mustInit(t, e, "hunter2", 0)

	src := writeSourceFile(t, t.TempDir(), "a.txt", "hello")
	if err := e.AddFile(context.Background(), src, "hunter2", 3000, ""); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	outDir := filepath.Join(t.TempDir(), "out")
	result, err := e.Unlock(context.Background(), outDir, "hunter2")
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if len(result.Decrypted) != 0 {
		t.Fatalf("expected no files decrypted, got %v", result.Decrypted)
	}
	if _, err := os.Stat(filepath.Join(outDir, "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected a.txt not to exist, stat err: %v", err)
	}

	info, found, err := e.VaultInfoOp()
	if err != nil || !found {
		t.Fatalf("VaultInfoOp: found=%v err=%v", found, err)
	}
	if info.LastServerTime != 2000 {
		t.Fatalf("expected last_verified_time 2000, got %d", info.LastServerTime)
	}
}

// Scenario 3: wrong password.
func TestUnlockWrongPassword(t *testing.T) {
	e := newTestEngine(t, 2000)
	mustInit(t, e, "hunter2", 0)

	src := writeSourceFile(t, t.TempDir(), "a.txt", "hello")
	if err := e.AddFile(context.Background(), src, "hunter2", 1000, ""); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	before, _, err := e.VaultInfoOp()
	if err != nil {
		t.Fatalf("VaultInfoOp: %v", err)
	}

	outDir := filepath.Join(t.TempDir(), "out")
	_, err = e.Unlock(context.Background(), outDir, "hunter3")
	if !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}

	if entries, _ := os.ReadDir(outDir); len(entries) != 0 {
		t.Fatalf("expected no files written, found %d", len(entries))
	}

	after, _, err := e.VaultInfoOp()
	if err != nil {
		t.Fatalf("VaultInfoOp: %v", err)
	}
	if after.LastServerTime != before.LastServerTime {
		t.Fatalf("last_verified_time changed: before=%d after=%d", before.LastServerTime, after.LastServerTime)
	}
}

// Scenario 4: time regression.
func TestUnlockTimeRegression(t *testing.T) {
	e := newTestEngine(t, 5000)
	mustInit(t, e, "hunter2", 0)

	if _, err := e.RefreshTime(context.Background()); err != nil {
		t.Fatalf("RefreshTime: %v", err)
	}

	e.TimeSource = stubTime(4999)

	outDir := filepath.Join(t.TempDir(), "out")
	_, err := e.Unlock(context.Background(), outDir, "hunter2")
	if !errors.Is(err, ErrTimeRegression) {
		t.Fatalf("expected ErrTimeRegression, got %v", err)
	}
	if entries, _ := os.ReadDir(outDir); len(entries) != 0 {
		t.Fatalf("expected no files written, found %d", len(entries))
	}
}

// Scenario 5: tampered metadata.
func TestUnlockTamperedMetadata(t *testing.T) {
	e := newTestEngine(t, 2000)
	mustInit(t, e, "hunter2", 0)

	src := writeSourceFile(t, t.TempDir(), "a.txt", "hello")
	if err := e.AddFile(context.Background(), src, "hunter2", 1000, ""); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	metaPath := e.paths().MetaPath("a.txt")
	data, err := os.ReadFile(metaPath)
	if err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	// Flip a byte inside the JSON body (not whitespace) to corrupt the
	// base64-encoded encrypted_payload field.
	idx := -1
	for i, b := range data {
		if b >= 'A' && b <= 'Z' {
			idx = i
			break
		}
	}
	if idx == -1 {
		t.Fatalf("could not find a byte to flip in envelope")
	}
	data[idx] ^= 0xFF
	if err := os.WriteFile(metaPath, data, 0o600); err != nil {
		t.Fatalf("rewrite envelope: %v", err)
	}

	outDir := filepath.Join(t.TempDir(), "out")
	result, err := e.Unlock(context.Background(), outDir, "hunter2")
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if len(result.Decrypted) != 0 {
		t.Fatalf("expected no files decrypted, got %v", result.Decrypted)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected one tampering warning, got %d", len(result.Warnings))
	}
}

// Scenario 6: duplicate filename.
func TestAddFileDuplicateRejected(t *testing.T) {
	e := newTestEngine(t, 2000)
	mustInit(t, e, "hunter2", 0)

	srcDir := t.TempDir()
	src1 := writeSourceFile(t, srcDir, "a.txt", "hello")
	if err := e.AddFile(context.Background(), src1, "hunter2", 1000, ""); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	src2 := writeSourceFile(t, srcDir, "b.txt", "different contents")
	err := e.AddFile(context.Background(), src2, "hunter2", 1000, "a.txt")

	var existsErr *FileExistsError
	if !errors.As(err, &existsErr) {
		t.Fatalf("expected *FileExistsError, got %v", err)
	}
	if existsErr.Filename != "a.txt" {
		t.Fatalf("expected filename a.txt, got %q", existsErr.Filename)
	}
}

func TestAddFileRejectsPathTraversal(t *testing.T) {
	e := newTestEngine(t, 2000)
	mustInit(t, e, "hunter2", 0)

	src := writeSourceFile(t, t.TempDir(), "a.txt", "hello")
	for _, name := range []string{"../../tmp/evil", "..", ".", "sub/evil"} {
		err := e.AddFile(context.Background(), src, "hunter2", 1000, name)
		if !errors.Is(err, ErrBadFilename) {
			t.Fatalf("AddFile with customName %q: expected ErrBadFilename, got %v", name, err)
		}
	}
}

func TestVaultInfoOpReturnsFalseWhenAbsent(t *testing.T) {
	e := newTestEngine(t, 2000)
	_, found, err := e.VaultInfoOp()
	if err != nil {
		t.Fatalf("VaultInfoOp: %v", err)
	}
	if found {
		t.Fatalf("expected found=false for a vault that was never initialized")
	}
}

func TestStatusOnMissingVaultFails(t *testing.T) {
	e := newTestEngine(t, 2000)
	_, _, err := e.Status(context.Background(), "hunter2")
	if !errors.Is(err, ErrVaultMissing) {
		t.Fatalf("expected ErrVaultMissing, got %v", err)
	}
}

func TestVerifyPasswordRejectsWrongPassword(t *testing.T) {
	e := newTestEngine(t, 2000)
	mustInit(t, e, "hunter2", 0)

	if err := e.VerifyPassword(context.Background(), "hunter2"); err != nil {
		t.Fatalf("VerifyPassword with correct password: %v", err)
	}
	if err := e.VerifyPassword(context.Background(), "wrong"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestUnlockRespectsVaultUnlockDate(t *testing.T) {
	e := newTestEngine(t, 500)
	mustInit(t, e, "hunter2", 1000)

	outDir := filepath.Join(t.TempDir(), "out")
	_, err := e.Unlock(context.Background(), outDir, "hunter2")
	if !errors.Is(err, ErrVaultSealed) {
		t.Fatalf("expected ErrVaultSealed, got %v", err)
	}
}

func TestInitRejectsReinitialization(t *testing.T) {
	e := newTestEngine(t, 2000)
	mustInit(t, e, "hunter2", 0)

	if err := e.Init(context.Background(), "hunter2", 0); !errors.Is(err, ErrVaultExists) {
		t.Fatalf("expected ErrVaultExists, got %v", err)
	}
}
