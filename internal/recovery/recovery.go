// Package recovery builds offline recovery kits for the session key. The key
// is split with Shamir's Secret Sharing so that any threshold subset of the
// printed shares can restore access, but fewer reveal nothing.
package recovery

import (
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

const (
	// DefaultThreshold is the minimum number of shares required to restore
	// the session key.
	DefaultThreshold = 2
	// DefaultShares is the number of shares a kit contains.
	DefaultShares = 3
)

// Kit holds the generated shares, base64-encoded for printing.
type Kit struct {
	Shares    []string `json:"shares"`
	Threshold int      `json:"threshold"`
}

// Split produces a recovery kit for the session key.
func Split(sessionKey []byte, shares, threshold int) (*Kit, error) {
	if len(sessionKey) == 0 {
		return nil, fmt.Errorf("session key cannot be empty")
	}
	if threshold < 2 {
		return nil, fmt.Errorf("threshold must be at least 2, got %d", threshold)
	}
	if shares < threshold {
		return nil, fmt.Errorf("share count %d below threshold %d", shares, threshold)
	}

	raw, err := shamir.Split(sessionKey, shares, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split session key: %w", err)
	}

	kit := &Kit{Threshold: threshold, Shares: make([]string, 0, len(raw))}
	for _, share := range raw {
		kit.Shares = append(kit.Shares, base64.StdEncoding.EncodeToString(share))
	}
	return kit, nil
}

// SplitDefault produces a 2-of-3 kit.
func SplitDefault(sessionKey []byte) (*Kit, error) {
	return Split(sessionKey, DefaultShares, DefaultThreshold)
}

// Combine restores the session key from threshold-many base64 shares.
func Combine(shares []string) ([]byte, error) {
	if len(shares) < 2 {
		return nil, fmt.Errorf("at least 2 shares are required, got %d", len(shares))
	}

	raw := make([][]byte, 0, len(shares))
	for i, share := range shares {
		decoded, err := base64.StdEncoding.DecodeString(share)
		if err != nil {
			return nil, fmt.Errorf("share %d is not valid base64: %w", i, err)
		}
		if len(decoded) == 0 {
			return nil, fmt.Errorf("share %d is empty", i)
		}
		raw = append(raw, decoded)
	}

	key, err := shamir.Combine(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}
	return key, nil
}
