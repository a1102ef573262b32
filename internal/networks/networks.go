// Package networks is the network registry: it resolves human chain
// identifiers to canonical hex chain ids and supplies RPC endpoints.
package networks

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/nimbus-wallet/wallet-engine/pkg/errors"
)

// Descriptor describes one supported EVM network.
type Descriptor struct {
	Name    string `json:"name"`
	ChainID string `json:"chainId"` // 0x-prefixed hex
	RPCURL  string `json:"rpcUrl"`
	Symbol  string `json:"symbol"`
}

// Registry holds the known networks. Reads vastly outnumber writes; custom
// networks can be added at runtime.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*Descriptor
	byName   map[string]*Descriptor
	ordering []string
}

// New seeds the registry with the built-in network set.
func New() *Registry {
	r := &Registry{
		byID:   make(map[string]*Descriptor),
		byName: make(map[string]*Descriptor),
	}
	for _, d := range []Descriptor{
		{Name: "ethereum", ChainID: "0x1", RPCURL: "https://eth.llamarpc.com", Symbol: "ETH"},
		{Name: "optimism", ChainID: "0xa", RPCURL: "https://mainnet.optimism.io", Symbol: "ETH"},
		{Name: "bsc", ChainID: "0x38", RPCURL: "https://bsc-dataseed.binance.org", Symbol: "BNB"},
		{Name: "polygon", ChainID: "0x89", RPCURL: "https://polygon-rpc.com", Symbol: "MATIC"},
		{Name: "arbitrum", ChainID: "0xa4b1", RPCURL: "https://arb1.arbitrum.io/rpc", Symbol: "ETH"},
		{Name: "sepolia", ChainID: "0xaa36a7", RPCURL: "https://rpc.sepolia.org", Symbol: "ETH"},
	} {
		r.add(d)
	}
	return r
}

func (r *Registry) add(d Descriptor) {
	desc := d
	r.byID[desc.ChainID] = &desc
	r.byName[strings.ToLower(desc.Name)] = &desc
	r.ordering = append(r.ordering, desc.ChainID)
}

// Add registers a custom network, replacing any descriptor with the same
// chain id.
func (r *Registry) Add(d Descriptor) error {
	normalized, err := NormalizeChainID(d.ChainID)
	if err != nil {
		return err
	}
	d.ChainID = normalized
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[d.ChainID]; !exists {
		r.ordering = append(r.ordering, d.ChainID)
	}
	desc := d
	r.byID[desc.ChainID] = &desc
	r.byName[strings.ToLower(desc.Name)] = &desc
	return nil
}

// GetChainID resolves a human identifier (network name, hex or decimal chain
// id) to the canonical 0x hex chain id.
func (r *Registry) GetChainID(identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", errors.InvalidParams("chain identifier is required")
	}

	r.mu.RLock()
	desc, ok := r.byName[strings.ToLower(identifier)]
	r.mu.RUnlock()
	if ok {
		return desc.ChainID, nil
	}

	normalized, err := NormalizeChainID(identifier)
	if err != nil {
		return "", errors.InvalidParams(fmt.Sprintf("unknown chain %q", identifier))
	}
	return normalized, nil
}

// GetChainByID returns the descriptor for a hex chain id.
func (r *Registry) GetChainByID(chainID string) (*Descriptor, error) {
	normalized, err := NormalizeChainID(chainID)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.byID[normalized]
	if !ok {
		return nil, errors.InvalidParams(fmt.Sprintf("unsupported chain id %s", normalized))
	}
	out := *desc
	return &out, nil
}

// RPCURLInternal returns the node endpoint the wallet itself uses for a
// network.
func (r *Registry) RPCURLInternal(desc *Descriptor) string {
	return desc.RPCURL
}

// List returns all descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.ordering))
	for _, id := range r.ordering {
		out = append(out, *r.byID[id])
	}
	return out
}

// NormalizeChainID canonicalizes a hex or decimal chain id to minimal
// 0x-prefixed hex ("0x01" -> "0x1", "137" -> "0x89").
func NormalizeChainID(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.InvalidParams("chain id is required")
	}

	n := new(big.Int)
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		if _, ok := n.SetString(value[2:], 16); !ok {
			return "", errors.InvalidParams(fmt.Sprintf("invalid chain id %q", value))
		}
	} else if _, ok := n.SetString(value, 10); !ok {
		return "", errors.InvalidParams(fmt.Sprintf("invalid chain id %q", value))
	}
	if n.Sign() <= 0 {
		return "", errors.InvalidParams(fmt.Sprintf("invalid chain id %q", value))
	}
	return hexutil.EncodeBig(n), nil
}

// NetworkID returns the decimal network id string for a hex chain id, as
// reported by net_version.
func NetworkID(chainID string) (string, error) {
	normalized, err := NormalizeChainID(chainID)
	if err != nil {
		return "", err
	}
	n, err := hexutil.DecodeBig(normalized)
	if err != nil {
		return "", errors.InvalidParams(fmt.Sprintf("invalid chain id %q", chainID))
	}
	return n.String(), nil
}
