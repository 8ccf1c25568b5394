package facade

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Hussein-Mazeh/timevault/engine"
)

func stubEngineFactory(t *testing.T, seconds int64) EngineFactory {
	t.Helper()
	return func(vaultDir string) *engine.Engine {
		return &engine.Engine{
			VaultDir: vaultDir,
			TimeSource: func(ctx context.Context) (int64, string, error) {
				return seconds, "stub", nil
			},
		}
	}
}

func mustDispatch(t *testing.T, factory EngineFactory, req map[string]any) Response {
	t.Helper()
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return Dispatch(context.Background(), factory, payload)
}

func TestDispatchInitAndStatus(t *testing.T) {
	vaultDir := filepath.Join(t.TempDir(), "vault")
	factory := stubEngineFactory(t, 2000)

	resp := mustDispatch(t, factory, map[string]any{
		"type":            "init_vault",
		"vaultDir":        vaultDir,
		"password":        "hunter2",
		"vaultUnlockDate": 0,
	})
	if !resp.OK {
		t.Fatalf("init_vault failed: %s", resp.Error)
	}

	resp = mustDispatch(t, factory, map[string]any{
		"type":      "status_with_password",
		"vaultPath": vaultDir,
		"password":  "hunter2",
	})
	if !resp.OK {
		t.Fatalf("status_with_password failed: %s", resp.Error)
	}
}

func TestDispatchAddFileDuplicateFormatsAsFileExists(t *testing.T) {
	vaultDir := filepath.Join(t.TempDir(), "vault")
	factory := stubEngineFactory(t, 2000)

	mustDispatch(t, factory, map[string]any{
		"type":            "init_vault",
		"vaultDir":        vaultDir,
		"password":        "hunter2",
		"vaultUnlockDate": 0,
	})

	srcDir := t.TempDir()
	src1 := filepath.Join(srcDir, "a.txt")
	if err := os.WriteFile(src1, []byte("hello"), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}

	resp := mustDispatch(t, factory, map[string]any{
		"type":           "add_file",
		"vaultDir":       vaultDir,
		"filePath":       src1,
		"password":       "hunter2",
		"fileUnlockDate": 1000,
	})
	if !resp.OK {
		t.Fatalf("add_file failed: %s", resp.Error)
	}

	src2 := filepath.Join(srcDir, "b.txt")
	if err := os.WriteFile(src2, []byte("different"), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}

	resp = mustDispatch(t, factory, map[string]any{
		"type":           "add_file_with_custom_name",
		"vaultDir":       vaultDir,
		"filePath":       src2,
		"password":       "hunter2",
		"fileUnlockDate": 1000,
		"customFilename": "a.txt",
	})
	if resp.OK {
		t.Fatalf("expected duplicate rejection")
	}
	if resp.Error != "FILE_EXISTS:a.txt" {
		t.Fatalf("expected FILE_EXISTS:a.txt, got %q", resp.Error)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	factory := stubEngineFactory(t, 2000)
	resp := mustDispatch(t, factory, map[string]any{"type": "bogus"})
	if resp.OK {
		t.Fatalf("expected failure for unknown command")
	}
}

func TestDispatchVaultInfoOnAbsentVault(t *testing.T) {
	vaultDir := filepath.Join(t.TempDir(), "vault")
	factory := stubEngineFactory(t, 2000)

	resp := mustDispatch(t, factory, map[string]any{
		"type":     "vault_info",
		"vaultDir": vaultDir,
	})
	if !resp.OK {
		t.Fatalf("vault_info on absent vault should still be OK with null data: %s", resp.Error)
	}
	if resp.Data != nil {
		t.Fatalf("expected nil data for absent vault, got %v", resp.Data)
	}
}

func TestDispatchBadJSON(t *testing.T) {
	factory := stubEngineFactory(t, 2000)
	resp := Dispatch(context.Background(), factory, []byte("not json"))
	if resp.OK {
		t.Fatalf("expected failure for malformed json")
	}
}
