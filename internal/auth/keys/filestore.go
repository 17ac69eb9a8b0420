// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package keys

import (
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// # Persistence Layout
//
// Each key pair lives in its own file, <keyId>.json, owner-readable only.
// An index.json summary sits alongside for operators; it is advisory and
// regenerated on every write, never read back.

const (
	keyFilePerm  = 0o600
	keyDirPerm   = 0o700
	indexName    = "index.json"
	keyFileExt   = ".json"
	pemBlockName = "RSA PRIVATE KEY"
)

// storedKeyPair is the on-disk JSON shape of a key pair.
type storedKeyPair struct {
	KeyID            string     `json:"key_id"`
	Algorithm        string     `json:"algorithm"`
	PrivateKeyPEM    string     `json:"private_key_pem"`
	PublicKeyPEM     string     `json:"public_key_pem"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	IsActive         bool       `json:"is_active"`
	GracePeriodUntil *time.Time `json:"grace_period_until,omitempty"`
}

// indexEntry is the summary row written to index.json for each key.
type indexEntry struct {
	KeyID     string     `json:"keyId"`
	Algorithm string     `json:"algorithm"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	IsActive  bool       `json:"isActive"`
	LastUsed  *time.Time `json:"lastUsed,omitempty"`
}

// FileStore persists key pairs under a single directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the key-store directory (owner-only) if missing.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, keyDirPerm); err != nil {
		return nil, fmt.Errorf("keys: failed to create key store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

/*
Save persists a key pair to its own file.

Description: Writes to a temp file and renames, so a crash mid-write never
leaves a truncated key on disk.

Parameters:
  - pair: *KeyPair

Returns:
  - error: Encoding or filesystem failures
*/
func (store *FileStore) Save(pair *KeyPair) error {
	stored, err := encodeKeyPair(pair)
	if err != nil {
		return err
	}

	payload, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("keys: failed to marshal key %s: %w", pair.KeyID, err)
	}

	finalPath := filepath.Join(store.dir, pair.KeyID+keyFileExt)
	tempPath := finalPath + ".tmp"

	if err := os.WriteFile(tempPath, payload, keyFilePerm); err != nil {
		return fmt.Errorf("keys: failed to write key %s: %w", pair.KeyID, err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("keys: failed to commit key %s: %w", pair.KeyID, err)
	}

	return nil
}

/*
LoadAll reads every persisted key pair from the store directory.

Description: Unreadable or corrupt files are skipped and reported in the
second return value rather than failing the whole load; losing one key must
not take the service down.

Returns:
  - []*KeyPair: Successfully decoded pairs
  - []error: Per-file decode failures (for logging)
*/
func (store *FileStore) LoadAll() ([]*KeyPair, []error) {
	entries, err := os.ReadDir(store.dir)
	if err != nil {
		return nil, []error{fmt.Errorf("keys: failed to read key store dir: %w", err)}
	}

	var pairs []*KeyPair
	var problems []error

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == indexName || !strings.HasSuffix(name, keyFileExt) {
			continue
		}

		payload, err := os.ReadFile(filepath.Join(store.dir, name))
		if err != nil {
			problems = append(problems, fmt.Errorf("keys: failed to read %s: %w", name, err))
			continue
		}

		var stored storedKeyPair
		if err := json.Unmarshal(payload, &stored); err != nil {
			problems = append(problems, fmt.Errorf("keys: failed to parse %s: %w", name, err))
			continue
		}

		pair, err := decodeKeyPair(&stored)
		if err != nil {
			problems = append(problems, fmt.Errorf("keys: failed to decode %s: %w", name, err))
			continue
		}

		pairs = append(pairs, pair)
	}

	return pairs, problems
}

// Delete removes a key pair file. Missing files are not an error (idempotent).
func (store *FileStore) Delete(keyID string) error {
	err := os.Remove(filepath.Join(store.dir, keyID+keyFileExt))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("keys: failed to delete key %s: %w", keyID, err)
	}
	return nil
}

// WriteIndex regenerates index.json from the given pairs.
//
// The index is an operator convenience; failures here are reported but the
// caller treats them as non-fatal.
func (store *FileStore) WriteIndex(pairs []*KeyPair) error {
	index := make([]indexEntry, 0, len(pairs))
	for _, pair := range pairs {
		entry := indexEntry{
			KeyID:     pair.KeyID,
			Algorithm: string(pair.Algorithm),
			CreatedAt: pair.CreatedAt,
			ExpiresAt: pair.ExpiresAt,
			IsActive:  pair.IsActive,
		}
		if used := pair.LastUsed(); !used.IsZero() {
			entry.LastUsed = &used
		}
		index = append(index, entry)
	}

	payload, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("keys: failed to marshal index: %w", err)
	}

	if err := os.WriteFile(filepath.Join(store.dir, indexName), payload, keyFilePerm); err != nil {
		return fmt.Errorf("keys: failed to write index: %w", err)
	}

	return nil
}

// # PEM Encoding

// encodeKeyPair converts an in-memory key pair to its on-disk shape.
func encodeKeyPair(pair *KeyPair) (*storedKeyPair, error) {
	privateDER := x509.MarshalPKCS1PrivateKey(pair.PrivateKey)
	privatePEM := pem.EncodeToMemory(&pem.Block{Type: pemBlockName, Bytes: privateDER})

	publicDER, err := x509.MarshalPKIXPublicKey(pair.Public())
	if err != nil {
		return nil, fmt.Errorf("keys: failed to marshal public key %s: %w", pair.KeyID, err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})

	return &storedKeyPair{
		KeyID:            pair.KeyID,
		Algorithm:        string(pair.Algorithm),
		PrivateKeyPEM:    string(privatePEM),
		PublicKeyPEM:     string(publicPEM),
		CreatedAt:        pair.CreatedAt,
		ExpiresAt:        pair.ExpiresAt,
		IsActive:         pair.IsActive,
		GracePeriodUntil: pair.GracePeriodUntil,
	}, nil
}

// decodeKeyPair converts the on-disk shape back into a usable key pair.
func decodeKeyPair(stored *storedKeyPair) (*KeyPair, error) {
	block, _ := pem.Decode([]byte(stored.PrivateKeyPEM))
	if block == nil {
		return nil, fmt.Errorf("keys: key %s has no PEM block", stored.KeyID)
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: key %s has an unparsable private key: %w", stored.KeyID, err)
	}

	return &KeyPair{
		KeyID:            stored.KeyID,
		Algorithm:        Algorithm(stored.Algorithm),
		PrivateKey:       privateKey,
		CreatedAt:        stored.CreatedAt,
		ExpiresAt:        stored.ExpiresAt,
		IsActive:         stored.IsActive,
		GracePeriodUntil: stored.GracePeriodUntil,
	}, nil
}
