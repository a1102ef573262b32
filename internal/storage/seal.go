package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

// scrypt parameters for deriving the record cipher key from the session key.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	sealKeyBytes = 32
)

// deriveKey stretches the session key into an AES-256 key. The wallet id acts
// as salt so records of different wallets never share a cipher key.
func deriveKey(sessionKey, walletID string) ([]byte, error) {
	key, err := scrypt.Key([]byte(sessionKey), []byte("record:"+walletID), scryptN, scryptR, scryptP, sealKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to derive record key: %w", err)
	}
	return key, nil
}

// seal encrypts a serialized record with AES-GCM. The nonce is prepended to
// the ciphertext.
func seal(plaintext []byte, sessionKey, walletID string) ([]byte, error) {
	key, err := deriveKey(sessionKey, walletID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
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

// unseal reverses seal. Fails when the session key is wrong or the blob was
// tampered with.
func unseal(sealed []byte, sessionKey, walletID string) ([]byte, error) {
	key, err := deriveKey(sessionKey, walletID)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed record too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt record: %w", err)
	}
	return plaintext, nil
}
