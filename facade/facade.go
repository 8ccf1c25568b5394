// Package facade is the stable, stringly-typed outward interface over the
// vault engine: one envelope type carrying a command name, one dispatch
// function, one response shape. It is a pure translation layer — every
// error it returns is a string, and it holds no state of its own.
package facade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Hussein-Mazeh/timevault/engine"
)

// Response is the outward result shape for every command: success carries
// Data, failure carries Error as a plain string.
type Response struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

type envelope struct {
	Type string `json:"type"`
}

type initVaultRequest struct {
	VaultDir        string `json:"vaultDir"`
	Password        string `json:"password"`
	VaultUnlockDate uint64 `json:"vaultUnlockDate"`
}

type addFileRequest struct {
	VaultDir       string `json:"vaultDir"`
	FilePath       string `json:"filePath"`
	Password       string `json:"password"`
	FileUnlockDate uint64 `json:"fileUnlockDate"`
	CustomFilename string `json:"customFilename,omitempty"`
}

type unlockVaultRequest struct {
	VaultDir string `json:"vaultDir"`
	OutDir   string `json:"outDir"`
	Password string `json:"password"`
}

type statusRequest struct {
	VaultPath string `json:"vaultPath"`
	Password  string `json:"password"`
}

type vaultDirRequest struct {
	VaultDir string `json:"vaultDir"`
}

type verifyPasswordRequest struct {
	VaultDir string `json:"vaultDir"`
	Password string `json:"password"`
}

// EngineFactory resolves a vault directory to an *engine.Engine. Dispatch
// takes one so callers (the daemon, tests) can inject a stub time source
// without this package depending on it directly.
type EngineFactory func(vaultDir string) *engine.Engine

// Dispatch decodes payload's envelope to find the command name, unmarshals
// the typed request, runs it against newEngine(vaultDir), and returns a
// Response — never an error; every failure is folded into Response.Error.
func Dispatch(ctx context.Context, newEngine EngineFactory, payload []byte) Response {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Response{OK: false, Error: "invalid request: bad json"}
	}

	switch env.Type {
	case "init_vault":
		var req initVaultRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return Response{OK: false, Error: "invalid request: bad json"}
		}
		e := newEngine(req.VaultDir)
		if err := e.Init(ctx, req.Password, req.VaultUnlockDate); err != nil {
			return errorResponse(err)
		}
		return Response{OK: true}

	case "add_file":
		var req addFileRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return Response{OK: false, Error: "invalid request: bad json"}
		}
		return dispatchAddFile(ctx, newEngine, req)

	case "add_file_with_custom_name":
		var req addFileRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return Response{OK: false, Error: "invalid request: bad json"}
		}
		return dispatchAddFile(ctx, newEngine, req)

	case "unlock_vault":
		var req unlockVaultRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return Response{OK: false, Error: "invalid request: bad json"}
		}
		e := newEngine(req.VaultDir)
		result, err := e.Unlock(ctx, req.OutDir, req.Password)
		if err != nil {
			return errorResponse(err)
		}
		return Response{OK: true, Data: summarize(result.Decrypted)}

	case "status_with_password":
		var req statusRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return Response{OK: false, Error: "invalid request: bad json"}
		}
		e := newEngine(req.VaultPath)
		records, warnings, err := e.Status(ctx, req.Password)
		if err != nil {
			return errorResponse(err)
		}
		return Response{OK: true, Data: statusData(records, warnings)}

	case "vault_info":
		var req vaultDirRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return Response{OK: false, Error: "invalid request: bad json"}
		}
		e := newEngine(req.VaultDir)
		info, found, err := e.VaultInfoOp()
		if err != nil {
			return errorResponse(err)
		}
		if !found {
			return Response{OK: true, Data: nil}
		}
		return Response{OK: true, Data: map[string]any{
			"created":          info.Created,
			"last_server_time": info.LastServerTime,
		}}

	case "refresh_server_time":
		var req vaultDirRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return Response{OK: false, Error: "invalid request: bad json"}
		}
		e := newEngine(req.VaultDir)
		info, err := e.RefreshTime(ctx)
		if err != nil {
			return errorResponse(err)
		}
		return Response{OK: true, Data: map[string]any{
			"created":          info.Created,
			"last_server_time": info.LastServerTime,
			"time_source":      info.TimeSource,
		}}

	case "verify_vault_password":
		var req verifyPasswordRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return Response{OK: false, Error: "invalid request: bad json"}
		}
		e := newEngine(req.VaultDir)
		if err := e.VerifyPassword(ctx, req.Password); err != nil {
			return errorResponse(err)
		}
		return Response{OK: true}

	default:
		return Response{OK: false, Error: "unsupported command"}
	}
}

func dispatchAddFile(ctx context.Context, newEngine EngineFactory, req addFileRequest) Response {
	e := newEngine(req.VaultDir)
	if err := e.AddFile(ctx, req.FilePath, req.Password, req.FileUnlockDate, req.CustomFilename); err != nil {
		return errorResponse(err)
	}
	return Response{OK: true}
}

func summarize(decrypted []string) string {
	if len(decrypted) == 0 {
		return "no files unlocked"
	}
	out := "unlocked: "
	for i, name := range decrypted {
		if i > 0 {
			out += ", "
		}
		out += name
	}
	return out
}

func statusData(records []engine.FileRecord, warnings []engine.TamperingWarning) []map[string]any {
	out := make([]map[string]any, 0, len(records)+1)
	for _, r := range records {
		out = append(out, map[string]any{
			"filename":       r.Filename,
			"unlock_date":    r.FileUnlockDate,
			"content_nonce":  r.ContentNonceB64,
			"content_cipher": r.ContentCipherB64,
		})
	}
	if len(warnings) > 0 {
		messages := make([]string, 0, len(warnings))
		for _, w := range warnings {
			messages = append(messages, fmt.Sprintf("%s: %s", w.DiskName, w.Reason))
		}
		out = append(out, map[string]any{"_tampering_warnings": messages})
	}
	return out
}

// errorResponse formats an engine error the way §6 requires: every error is
// a plain string, and FileExistsError is formatted as "FILE_EXISTS:<name>"
// so callers can match it without inspecting error types.
func errorResponse(err error) Response {
	var existsErr *engine.FileExistsError
	if errors.As(err, &existsErr) {
		return Response{OK: false, Error: fmt.Sprintf("FILE_EXISTS:%s", existsErr.Filename)}
	}
	return Response{OK: false, Error: err.Error()}
}
