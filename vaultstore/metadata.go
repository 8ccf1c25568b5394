package vaultstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Metadata is the cleartext JSON persisted once per vault.
type Metadata struct {
	Version          int    `json:"version"`
	Salt             string `json:"salt"`
	ArgonMemKiB      uint32 `json:"argon_mem_kib"`
	ArgonIters       uint32 `json:"argon_iters"`
	ArgonParallelism uint8  `json:"argon_parallelism"`
	WrappedFEK       string `json:"wrapped_fek"`
	WrapNonce        string `json:"wrap_nonce"`
	VaultUnlockDate  uint64 `json:"vault_unlock_date"`
	CreationTS       uint64 `json:"creation_ts"`
	LastVerifiedTime uint64 `json:"last_verified_time"`
}

// LoadMetadata reads and decodes vault_metadata.json. It returns
// os.ErrNotExist (wrapped) when the vault has not been initialized.
func LoadMetadata(p Paths) (Metadata, error) {
	var m Metadata

	data, err := os.ReadFile(p.MetadataPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, err
		}
		return m, fmt.Errorf("read vault metadata: %w", err)
	}

	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode vault metadata: %w", err)
	}
	return m, nil
}

// SaveMetadata writes vault_metadata.json atomically: encode, write to a
// temp file in the same directory, chmod 0600, then rename over the
// target. There is no partial-write window visible to a reader.
func SaveMetadata(p Paths, m Metadata) error {
	if err := p.EnsureDirs(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode vault metadata: %w", err)
	}

	tmp, err := os.CreateTemp(p.Dir, "vault_metadata-*.json")
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp metadata file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp metadata file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp metadata file: %w", err)
	}

	if err := os.Rename(tmpPath, p.MetadataPath()); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace vault metadata: %w", err)
	}
	return nil
}
