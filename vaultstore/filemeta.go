package vaultstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// EncryptedFileMeta is the outer envelope written to
// files_meta/.locked_<filename>.meta.json. Its two fields never reveal the
// filename or unlock date in cleartext; those live inside EncryptedPayload,
// which only the FEK can open.
type EncryptedFileMeta struct {
	EncryptedPayload string `json:"encrypted_payload"`
	MetadataNonce    string `json:"metadata_nonce"`
}

// FileMetaPayload is the plaintext JSON sealed inside EncryptedPayload.
type FileMetaPayload struct {
	Filename       string `json:"filename"`
	FileUnlockDate uint64 `json:"file_unlock_date"`
	Nonce          string `json:"nonce"`
	Ciphertext     string `json:"ciphertext"`
}

// SaveFileMeta writes the envelope for filename atomically (temp file in
// files_meta/, then rename), per spec §9's guidance to make the envelope
// write itself crash-safe.
func SaveFileMeta(p Paths, filename string, env EncryptedFileMeta) error {
	if err := p.EnsureDirs(); err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode file metadata: %w", err)
	}

	tmp, err := os.CreateTemp(p.FilesMetaDir(), "meta-*.json")
	if err != nil {
		return fmt.Errorf("create temp file metadata: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file metadata: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file metadata: %w", err)
	}

	if err := os.Rename(tmpPath, p.MetaPath(filename)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace file metadata: %w", err)
	}
	return nil
}

// SaveBlob writes the ciphertext blob for filename. Unlike the metadata
// envelope this is a single whole-file write, not atomic. AddFile calls it
// after the envelope is in place, so an interrupted write here leaves an
// envelope whose blob is missing or truncated; Unlock reports such an
// entry as a tampering warning.
func SaveBlob(p Paths, filename string, ciphertext []byte) error {
	if err := p.EnsureDirs(); err != nil {
		return err
	}
	if err := os.WriteFile(p.BlobPath(filename), ciphertext, 0o600); err != nil {
		return fmt.Errorf("write content blob: %w", err)
	}
	return nil
}

// LoadBlob reads the ciphertext blob for filename.
func LoadBlob(p Paths, filename string) ([]byte, error) {
	data, err := os.ReadFile(p.BlobPath(filename))
	if err != nil {
		return nil, fmt.Errorf("read content blob: %w", err)
	}
	return data, nil
}

// FileMetaEntry pairs a raw envelope with the on-disk name it was loaded
// from (the disk name is the obfuscated ".locked_<filename>.meta.json"
// name, not the plaintext filename inside the envelope).
type FileMetaEntry struct {
	DiskName string
	Raw      []byte
}

// ListFileMeta enumerates every envelope file in files_meta/, in
// lexicographic order by disk name (spec leaves iteration order
// unspecified; this is the deterministic choice).
func ListFileMeta(p Paths) ([]FileMetaEntry, error) {
	entries, err := os.ReadDir(p.FilesMetaDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list file metadata: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasPrefix(e.Name(), blobPrefix) || !strings.HasSuffix(e.Name(), metaSuffix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]FileMetaEntry, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(p.FilesMetaDir(), name))
		if err != nil {
			return nil, fmt.Errorf("read file metadata %q: %w", name, err)
		}
		out = append(out, FileMetaEntry{DiskName: name, Raw: data})
	}
	return out, nil
}
