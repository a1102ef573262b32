// Package keywrap protects the session key at rest. A Wrapper encrypts the
// session key before it is cached server-side, so a dump of the cache never
// exposes the raw key material.
package keywrap

import (
	"context"
	"fmt"
)

// Wrapper wraps and unwraps session key material.
// Backends: local master key, AWS KMS, HashiCorp Vault Transit.
type Wrapper interface {
	// Wrap encrypts key material.
	Wrap(ctx context.Context, plaintext []byte) ([]byte, error)

	// Unwrap decrypts key material produced by Wrap.
	Unwrap(ctx context.Context, wrapped []byte) ([]byte, error)

	// Backend returns the backend name (e.g., "local", "kms", "vault").
	Backend() string
}

// Config selects and configures a wrapping backend.
type Config struct {
	Backend string

	// Local backend
	LocalMasterKey string

	// AWS KMS backend
	KMSKeyID  string
	KMSRegion string

	// Vault Transit backend
	VaultAddr       string
	VaultToken      string
	VaultTransitKey string
}

// New builds the Wrapper named by the configuration. An empty backend name
// defaults to local.
func New(cfg *Config) (Wrapper, error) {
	switch cfg.Backend {
	case "local", "":
		return NewLocalWrapper(cfg.LocalMasterKey)
	case "kms":
		return NewKMSWrapper(cfg.KMSKeyID, cfg.KMSRegion)
	case "vault":
		return NewVaultWrapper(cfg.VaultAddr, cfg.VaultToken, cfg.VaultTransitKey)
	default:
		return nil, fmt.Errorf("unsupported keywrap backend: %s (supported: local, kms, vault)", cfg.Backend)
	}
}
