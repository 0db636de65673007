package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumsFile is the manifest name written next to the config file.
const ChecksumsFile = ".checksums"

// ErrNoChecksums is returned by LoadChecksums when no manifest exists.
var ErrNoChecksums = errors.New("checksums file not found (run 'pushbridge config lock')")

// LockedFile is one entry written by Lock.
type LockedFile struct {
	Name string
	Hash string
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}
	return nil
}

// lockedPaths lists the files covered by the manifest: the config itself
// and the resources file holding provider credentials.
func lockedPaths(cfg *Config) []string {
	paths := []string{cfg.Path}
	if cfg.Provider.ResourcesFile != "" {
		paths = append(paths, cfg.Provider.ResourcesFile)
	}
	return paths
}

func manifestKey(configDir, path string) string {
	if rel, err := filepath.Rel(configDir, path); err == nil {
		return rel
	}
	return path
}

// Lock hashes the config and its resources file and writes the manifest.
func Lock(cfg *Config) ([]LockedFile, error) {
	configDir := filepath.Dir(cfg.Path)
	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string),
	}

	var locked []LockedFile
	for _, path := range lockedPaths(cfg) {
		hash, err := ComputeBlake3Hash(path)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", path, err)
		}
		key := manifestKey(configDir, path)
		manifest.Hashes[key] = hash
		locked = append(locked, LockedFile{Name: key, Hash: hash})
	}
	sort.Slice(locked, func(i, j int) bool { return locked[i].Name < locked[j].Name })

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}
	// Restrictive permissions: the manifest is the trust anchor.
	if err := os.WriteFile(filepath.Join(configDir, ChecksumsFile), data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}
	return locked, nil
}

// LoadChecksums reads the manifest from a config directory.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(configDir, ChecksumsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoChecksums
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}

// VerifyLocked checks the config and resources file against the manifest.
// A missing manifest means the config is unlocked and passes.
func VerifyLocked(cfg *Config) error {
	configDir := filepath.Dir(cfg.Path)
	manifest, err := LoadChecksums(configDir)
	if errors.Is(err, ErrNoChecksums) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, path := range lockedPaths(cfg) {
		key := manifestKey(configDir, path)
		expectedHash, ok := manifest.Hashes[key]
		if !ok {
			return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
				"Run: pushbridge config lock --config %s", key, configDir, cfg.Path)
		}
		if err := VerifyFileHash(path, expectedHash); err != nil {
			return fmt.Errorf("config verification failed for %s: %w\n"+
				"If you edited this file intentionally, run: pushbridge config lock --config %s", path, err, cfg.Path)
		}
	}
	return nil
}
