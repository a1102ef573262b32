// Package keychain constructs wallet containers: BIP-39 mnemonic generation,
// BIP-44 key derivation and raw private-key import.
package keychain

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/nimbus-wallet/wallet-engine/internal/record"
	"github.com/nimbus-wallet/wallet-engine/pkg/errors"
	"github.com/nimbus-wallet/wallet-engine/pkg/types"
)

// DefaultPath is the first account of the standard Ethereum derivation tree.
const DefaultPath = "m/44'/60'/0'/0/0"

const entropyBits = 128

// GenerateMnemonicContainer creates a fresh 12-word mnemonic and derives its
// first wallet at the default path.
func GenerateMnemonicContainer() (*record.WalletContainer, error) {
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate entropy: %w", err)
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	return ImportMnemonicContainer(phrase, DefaultPath)
}

// ImportMnemonicContainer derives a single wallet from an existing phrase at
// the given path (DefaultPath when empty).
func ImportMnemonicContainer(phrase, path string) (*record.WalletContainer, error) {
	if path == "" {
		path = DefaultPath
	}
	wallet, err := DeriveWallet(phrase, path)
	if err != nil {
		return nil, err
	}
	return &record.WalletContainer{
		SeedType: types.SeedTypeMnemonic,
		Wallets:  []record.Wallet{*wallet},
	}, nil
}

// ImportPrivateKeyContainer builds a single-wallet container from a raw
// hex-encoded secp256k1 private key.
func ImportPrivateKeyContainer(privateKeyHex string) (*record.WalletContainer, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	priv, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, errors.InvalidParams("invalid private key")
	}
	return &record.WalletContainer{
		SeedType: types.SeedTypePrivateKey,
		Wallets: []record.Wallet{{
			Address:    crypto.PubkeyToAddress(priv.PublicKey).Hex(),
			PublicKey:  hex.EncodeToString(crypto.FromECDSAPub(&priv.PublicKey)),
			PrivateKey: hex.EncodeToString(crypto.FromECDSA(priv)),
		}},
	}, nil
}

// DeriveWallet derives one wallet from a mnemonic at the given BIP-44 path.
func DeriveWallet(phrase, path string) (*record.Wallet, error) {
	phrase = strings.TrimSpace(phrase)
	if !bip39.IsMnemonicValid(phrase) {
		return nil, errors.InvalidParams("invalid mnemonic phrase")
	}
	derivationPath, err := accounts.ParseDerivationPath(path)
	if err != nil {
		return nil, errors.InvalidParams(fmt.Sprintf("invalid derivation path %q", path))
	}

	seed := bip39.NewSeed(phrase, "")
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to derive master key: %w", err)
	}
	for _, component := range derivationPath {
		key, err = key.Derive(component)
		if err != nil {
			return nil, fmt.Errorf("failed to derive path component %d: %w", component, err)
		}
	}

	ecPriv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to extract private key: %w", err)
	}
	priv := ecPriv.ToECDSA()

	return &record.Wallet{
		Address:    crypto.PubkeyToAddress(priv.PublicKey).Hex(),
		PublicKey:  hex.EncodeToString(crypto.FromECDSAPub(&priv.PublicKey)),
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(priv)),
		Mnemonic:   &record.SeedPhrase{Phrase: phrase, Path: path},
	}, nil
}

// NextAccountPath increments the address index of a derivation path, e.g.
// m/44'/60'/0'/0/0 -> m/44'/60'/0'/0/1. Used for "add next account" on an
// existing seed.
func NextAccountPath(path string) (string, error) {
	if _, err := accounts.ParseDerivationPath(path); err != nil {
		return "", errors.InvalidParams(fmt.Sprintf("invalid derivation path %q", path))
	}
	idx := strings.LastIndex(path, "/")
	last := path[idx+1:]
	if strings.HasSuffix(last, "'") {
		return "", errors.InvalidParams("cannot increment a hardened address index")
	}
	n, err := strconv.ParseUint(last, 10, 31)
	if err != nil {
		return "", errors.InvalidParams(fmt.Sprintf("invalid address index %q", last))
	}
	return fmt.Sprintf("%s/%d", path[:idx], n+1), nil
}
