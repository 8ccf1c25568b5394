// Package vaultstore owns the on-disk layout of a vault: the cleartext
// metadata file, one ciphertext blob per stored file, and one encrypted
// metadata envelope per stored file. It performs no locking; callers are
// responsible for not running two mutating operations against the same
// vault directory concurrently.
package vaultstore

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	metadataFilename = "vault_metadata.json"
	filesMetaDir     = "files_meta"
	blobPrefix       = ".locked_"
	metaSuffix       = ".meta.json"
)

// Paths locates vault artifacts relative to a vault directory.
type Paths struct {
	Dir string
}

// MetadataPath returns the path to vault_metadata.json.
func (p Paths) MetadataPath() string {
	return filepath.Join(p.Dir, metadataFilename)
}

// FilesMetaDir returns the path to the files_meta subdirectory.
func (p Paths) FilesMetaDir() string {
	return filepath.Join(p.Dir, filesMetaDir)
}

// BlobPath returns the path to the ciphertext blob for filename.
func (p Paths) BlobPath(filename string) string {
	return filepath.Join(p.Dir, blobPrefix+filename)
}

// MetaPath returns the path to the encrypted metadata envelope for filename.
func (p Paths) MetaPath(filename string) string {
	return filepath.Join(p.FilesMetaDir(), blobPrefix+filename+metaSuffix)
}

// EnsureDirs creates the vault directory and its files_meta subdirectory if
// absent.
func (p Paths) EnsureDirs() error {
	if p.Dir == "" {
		return fmt.Errorf("vault directory not specified")
	}
	if err := os.MkdirAll(p.Dir, 0o700); err != nil {
		return fmt.Errorf("create vault directory: %w", err)
	}
	if err := os.MkdirAll(p.FilesMetaDir(), 0o700); err != nil {
		return fmt.Errorf("create files_meta directory: %w", err)
	}
	return nil
}

// Exists reports whether a vault_metadata.json file exists in Dir.
func (p Paths) Exists() bool {
	_, err := os.Stat(p.MetadataPath())
	return err == nil
}
