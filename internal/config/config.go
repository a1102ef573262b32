package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds infrastructure-level configuration for the wallet daemon.
// Wallet state itself lives in the encrypted record store.
type Config struct {
	// Database
	PostgresDSN string

	// Key wrapping backend for the record-store session key
	KeywrapBackend  string // local, kms or vault
	LocalMasterKey  string
	KMSKeyID        string
	KMSRegion       string
	VaultAddr       string
	VaultToken      string
	VaultTransitKey string

	// Dapp surface
	Port           int
	RateLimitRPS   int
	RateLimitBurst int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		PostgresDSN:     getEnv("POSTGRES_DSN", ""),
		KeywrapBackend:  getEnv("KEYWRAP_BACKEND", "local"),
		LocalMasterKey:  getEnv("LOCAL_MASTER_KEY", ""),
		KMSKeyID:        getEnv("KMS_KEY_ID", ""),
		KMSRegion:       getEnv("KMS_REGION", "us-east-1"),
		VaultAddr:       getEnv("VAULT_ADDR", ""),
		VaultToken:      getEnv("VAULT_TOKEN", ""),
		VaultTransitKey: getEnv("VAULT_TRANSIT_KEY", ""),
		Port:            getEnvInt("PORT", 8545),
		RateLimitRPS:    getEnvInt("RATE_LIMIT_RPS", 20),
		RateLimitBurst:  getEnvInt("RATE_LIMIT_BURST", 40),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}

	switch c.KeywrapBackend {
	case "local":
		if c.LocalMasterKey == "" {
			return fmt.Errorf("LOCAL_MASTER_KEY is required when KEYWRAP_BACKEND is 'local'")
		}
	case "kms":
		if c.KMSKeyID == "" {
			return fmt.Errorf("KMS_KEY_ID is required when KEYWRAP_BACKEND is 'kms'")
		}
	case "vault":
		if c.VaultAddr == "" || c.VaultToken == "" || c.VaultTransitKey == "" {
			return fmt.Errorf("VAULT_ADDR, VAULT_TOKEN and VAULT_TRANSIT_KEY are required when KEYWRAP_BACKEND is 'vault'")
		}
	default:
		return fmt.Errorf("KEYWRAP_BACKEND must be 'local', 'kms' or 'vault', got: %s", c.KeywrapBackend)
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit values must be positive")
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return defaultValue
	}
	return value
}
