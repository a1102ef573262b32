// Package storage persists encrypted wallet records. Records are sealed with
// a key derived from the session key before they reach the backend, so the
// backend only ever sees ciphertext.
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nimbus-wallet/wallet-engine/internal/record"
)

// Backend is the raw blob store. Implementations: Postgres, in-memory.
type Backend interface {
	Ping(ctx context.Context) error
	ReadBlob(ctx context.Context, walletID string) ([]byte, error) // nil, nil when absent
	WriteBlob(ctx context.Context, walletID string, blob []byte) error
	DeleteBlob(ctx context.Context, walletID string) error
}

// EncryptedStore is the record store consumed by the session controller.
type EncryptedStore struct {
	backend Backend
}

// NewEncryptedStore wraps a backend.
func NewEncryptedStore(backend Backend) *EncryptedStore {
	return &EncryptedStore{backend: backend}
}

// Ready reports whether the underlying store is reachable.
func (s *EncryptedStore) Ready(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Read loads and decrypts the record for a wallet id. Returns nil without
// error when no record exists yet.
func (s *EncryptedStore) Read(ctx context.Context, walletID, sessionKey string) (*record.WalletRecord, error) {
	blob, err := s.backend.ReadBlob(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	if blob == nil {
		return nil, nil
	}
	plaintext, err := unseal(blob, sessionKey, walletID)
	if err != nil {
		return nil, err
	}
	var rec record.WalletRecord
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}

// Save encrypts and persists the record for a wallet id.
func (s *EncryptedStore) Save(ctx context.Context, walletID, sessionKey string, rec *record.WalletRecord) error {
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	blob, err := seal(plaintext, sessionKey, walletID)
	if err != nil {
		return err
	}
	if err := s.backend.WriteBlob(ctx, walletID, blob); err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}
	return nil
}

// Clear removes all persisted state for a wallet id. Used by logout;
// irreversible.
func (s *EncryptedStore) Clear(ctx context.Context, walletID string) error {
	if err := s.backend.DeleteBlob(ctx, walletID); err != nil {
		return fmt.Errorf("failed to clear record: %w", err)
	}
	return nil
}
