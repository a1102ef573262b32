package keywrap

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// LocalWrapper wraps key material with AES-GCM under a local master key.
// Suitable for development or single-node deployments.
type LocalWrapper struct {
	masterKey []byte
}

func NewLocalWrapper(masterKey string) (*LocalWrapper, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("master key is required for local keywrap backend")
	}
	key := make([]byte, 32)
	copy(key, []byte(masterKey))
	return &LocalWrapper{masterKey: key}, nil
}

func (w *LocalWrapper) Wrap(ctx context.Context, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(w.masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (w *LocalWrapper) Unwrap(ctx context.Context, wrapped []byte) ([]byte, error) {
	block, err := aes.NewCipher(w.masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	if len(wrapped) < gcm.NonceSize() {
		return nil, fmt.Errorf("wrapped key too short")
	}
	nonce, ciphertext := wrapped[:gcm.NonceSize()], wrapped[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap key: %w", err)
	}
	return plaintext, nil
}

func (w *LocalWrapper) Backend() string {
	return "local"
}

var _ Wrapper = (*LocalWrapper)(nil)
