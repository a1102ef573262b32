// Package wallet implements the session controller: custody of key material,
// origin permissions, chain selection and approval-gated signing. All state
// mutations flow through the pure record transforms, persist to the encrypted
// store, and only then emit events.
package wallet

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/nimbus-wallet/wallet-engine/internal/keychain"
	"github.com/nimbus-wallet/wallet-engine/internal/logger"
	"github.com/nimbus-wallet/wallet-engine/internal/networks"
	"github.com/nimbus-wallet/wallet-engine/internal/record"
	"github.com/nimbus-wallet/wallet-engine/internal/storage"
	"github.com/nimbus-wallet/wallet-engine/pkg/errors"
	"github.com/nimbus-wallet/wallet-engine/pkg/types"
)

// NodeClient is the slice of the EVM client the controller needs. Satisfied
// by *eth.Client; tests substitute a stub.
type NodeClient interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, address string) (uint64, error)
	EstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) (string, error)
	Close()
}

// DialFunc connects to a node endpoint.
type DialFunc func(rpcURL string) (NodeClient, error)

// CallContext identifies the caller of a controller operation. Origin is the
// dapp origin, or types.InternalOrigin for the extension's own UI.
type CallContext struct {
	Origin string
}

// Internal reports whether the call comes from the trusted UI.
func (c CallContext) Internal() bool {
	return c.Origin == types.InternalOrigin
}

// Wallet is the session controller. One instance serves one unlocked wallet
// session.
type Wallet struct {
	mu sync.Mutex

	store    *storage.EncryptedStore
	registry *networks.Registry
	dial     DialFunc
	bus      *Bus

	walletID   string
	sessionKey string
	chainID    string

	rec     *record.WalletRecord
	pending *record.PendingWallet
}

// New builds a controller with no credentials yet. The session chain starts
// at Ethereum mainnet.
func New(store *storage.EncryptedStore, registry *networks.Registry, dial DialFunc, bus *Bus) *Wallet {
	return &Wallet{
		store:    store,
		registry: registry,
		dial:     dial,
		bus:      bus,
		chainID:  types.DefaultChainID,
	}
}

// Events returns the controller's event bus.
func (w *Wallet) Events() *Bus {
	return w.bus
}

func verifyInternalOrigin(call CallContext) error {
	if !call.Internal() {
		return errors.OriginNotAllowed(call.Origin)
	}
	return nil
}

// SetCredentials binds the session to a wallet id and encryption key and
// loads the persisted record.
func (w *Wallet) SetCredentials(ctx context.Context, walletID, sessionKey string) error {
	if walletID == "" {
		return errors.InvalidParams("wallet id is required")
	}
	if sessionKey == "" {
		return errors.New(errors.ErrCodeEncryptionKeyMissing, "Encryption key is required", errors.RPCInternal)
	}

	rec, err := w.store.Read(ctx, walletID, sessionKey)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.walletID = walletID
	w.sessionKey = sessionKey
	w.rec = rec
	w.mu.Unlock()
	return nil
}

// ResetCredentials forgets the session key and the decrypted record. The
// persisted ciphertext stays.
func (w *Wallet) ResetCredentials() {
	w.mu.Lock()
	w.sessionKey = ""
	w.rec = nil
	w.pending = nil
	w.mu.Unlock()
}

// persist writes the record, then swaps it in as current state. Callers must
// hold w.mu and emit events only after persist returns.
func (w *Wallet) persist(ctx context.Context, rec *record.WalletRecord) error {
	if w.walletID == "" || w.sessionKey == "" {
		return errors.New(errors.ErrCodeEncryptionKeyMissing, "No active session to persist with", errors.RPCInternal)
	}
	if err := w.store.Save(ctx, w.walletID, w.sessionKey, rec); err != nil {
		return err
	}
	w.rec = rec
	return nil
}

// GenerateMnemonic stages a fresh mnemonic container as the pending wallet
// and returns a redacted view. Overwrites any previously staged wallet.
func (w *Wallet) GenerateMnemonic(ctx context.Context, call CallContext) (*MaskedGroup, error) {
	if err := verifyInternalOrigin(call); err != nil {
		return nil, err
	}
	container, err := keychain.GenerateMnemonicContainer()
	if err != nil {
		return nil, err
	}
	return w.stagePending(&record.PendingWallet{
		Origin:    types.GroupOriginExtension,
		Container: *container,
	})
}

// ImportSeedPhrase stages an existing mnemonic as the pending wallet.
func (w *Wallet) ImportSeedPhrase(ctx context.Context, call CallContext, phrase string) (*MaskedGroup, error) {
	if err := verifyInternalOrigin(call); err != nil {
		return nil, err
	}
	container, err := keychain.ImportMnemonicContainer(phrase, "")
	if err != nil {
		return nil, err
	}
	return w.stagePending(&record.PendingWallet{
		Origin:    types.GroupOriginImported,
		Container: *container,
	})
}

// ImportPrivateKey stages a raw private key as the pending wallet.
func (w *Wallet) ImportPrivateKey(ctx context.Context, call CallContext, privateKeyHex string) (*MaskedGroup, error) {
	if err := verifyInternalOrigin(call); err != nil {
		return nil, err
	}
	container, err := keychain.ImportPrivateKeyContainer(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return w.stagePending(&record.PendingWallet{
		Origin:    types.GroupOriginImported,
		Container: *container,
	})
}

// AddMnemonicWallet derives the next account of an existing mnemonic group
// and stages it for that group.
func (w *Wallet) AddMnemonicWallet(ctx context.Context, call CallContext, groupID string) (*MaskedGroup, error) {
	if err := verifyInternalOrigin(call); err != nil {
		return nil, err
	}

	w.mu.Lock()
	group := w.groupByIDLocked(groupID)
	if group == nil {
		w.mu.Unlock()
		return nil, errors.InvalidParams(fmt.Sprintf("group %s not found", groupID))
	}
	mnemonic := group.Container.Mnemonic()
	w.mu.Unlock()

	if mnemonic == nil {
		return nil, errors.InvalidParams("group is not mnemonic-seeded")
	}
	nextPath, err := keychain.NextAccountPath(mnemonic.Path)
	if err != nil {
		return nil, err
	}
	derived, err := keychain.DeriveWallet(mnemonic.Phrase, nextPath)
	if err != nil {
		return nil, err
	}
	return w.stagePending(&record.PendingWallet{
		GroupID: groupID,
		Container: record.WalletContainer{
			SeedType: types.SeedTypeMnemonic,
			Wallets:  []record.Wallet{*derived},
		},
	})
}

func (w *Wallet) stagePending(pending *record.PendingWallet) (*MaskedGroup, error) {
	w.mu.Lock()
	w.pending = pending
	w.mu.Unlock()

	masked := maskGroup(&record.WalletGroup{
		ID:        pending.GroupID,
		Container: pending.Container,
		Origin:    pending.Origin,
	})
	return &masked, nil
}

// SavePendingWallet commits the staged wallet to the record. Fails with
// distinct errors when nothing is staged or no session key is set.
func (w *Wallet) SavePendingWallet(ctx context.Context, call CallContext) error {
	if err := verifyInternalOrigin(call); err != nil {
		return err
	}

	w.mu.Lock()
	if w.pending == nil {
		w.mu.Unlock()
		return errors.New(errors.ErrCodePendingWalletMissing, "No pending wallet to save", errors.RPCInternal)
	}
	if w.sessionKey == "" {
		w.mu.Unlock()
		return errors.New(errors.ErrCodeEncryptionKeyMissing, "No encryption key in session", errors.RPCInternal)
	}

	before := ""
	if w.rec != nil {
		before = w.rec.Manager.CurrentAddress
	}
	next, err := record.CreateOrUpdateRecord(w.rec, w.pending)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := w.persist(ctx, next); err != nil {
		w.mu.Unlock()
		return err
	}
	w.pending = nil
	after := next.Manager.CurrentAddress
	w.mu.Unlock()

	w.bus.Emit(Event{Type: EventRecordUpdated})
	if before != after {
		w.bus.Emit(Event{Type: EventCurrentAddressChange, Addresses: []string{strings.ToLower(after)}})
	}
	return nil
}

// DiscardPendingWallet drops the staged wallet without committing it.
func (w *Wallet) DiscardPendingWallet(call CallContext) error {
	if err := verifyInternalOrigin(call); err != nil {
		return err
	}
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()
	return nil
}

// GetRecoveryPhrase exports a group's mnemonic for backup display.
func (w *Wallet) GetRecoveryPhrase(ctx context.Context, call CallContext, groupID string) (string, error) {
	if err := verifyInternalOrigin(call); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	group := w.groupByIDLocked(groupID)
	if group == nil {
		return "", errors.InvalidParams(fmt.Sprintf("group %s not found", groupID))
	}
	mnemonic := group.Container.Mnemonic()
	if mnemonic == nil {
		return "", errors.InvalidParams("group is not mnemonic-seeded")
	}
	return mnemonic.Phrase, nil
}

// groupByIDLocked expects w.mu held.
func (w *Wallet) groupByIDLocked(groupID string) *record.WalletGroup {
	if w.rec == nil {
		return nil
	}
	for i := range w.rec.Manager.Groups {
		if w.rec.Manager.Groups[i].ID == groupID {
			return &w.rec.Manager.Groups[i]
		}
	}
	return nil
}

// GetMaskedRecord returns the redacted record view for the UI.
func (w *Wallet) GetMaskedRecord(call CallContext) (*MaskedRecord, error) {
	if err := verifyInternalOrigin(call); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rec == nil {
		return nil, errors.RecordNotFound()
	}
	return maskRecord(w.rec), nil
}

// GetWalletGroups lists redacted groups.
func (w *Wallet) GetWalletGroups(call CallContext) ([]MaskedGroup, error) {
	rec, err := w.GetMaskedRecord(call)
	if err != nil {
		return nil, err
	}
	return rec.Groups, nil
}

// GetCurrentWallet returns the redacted wallet behind the current address.
func (w *Wallet) GetCurrentWallet(call CallContext) (*MaskedWallet, error) {
	if err := verifyInternalOrigin(call); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rec == nil {
		return nil, errors.RecordNotFound()
	}
	wlt := record.GetWalletByAddress(w.rec, w.rec.Manager.CurrentAddress)
	if wlt == nil {
		return nil, errors.WalletNotInitialized()
	}
	masked := maskWallet(wlt)
	return &masked, nil
}

// CurrentAddress returns the session's current address, or "".
func (w *Wallet) CurrentAddress() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rec == nil {
		return ""
	}
	return w.rec.Manager.CurrentAddress
}

// SetCurrentAddress switches the current address. Idempotent: selecting the
// already-current address emits nothing.
func (w *Wallet) SetCurrentAddress(ctx context.Context, call CallContext, address string) error {
	if err := verifyInternalOrigin(call); err != nil {
		return err
	}

	w.mu.Lock()
	if w.rec != nil && strings.EqualFold(w.rec.Manager.CurrentAddress, address) {
		w.mu.Unlock()
		return nil
	}
	next, err := record.SetCurrentAddress(w.rec, address)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := w.persist(ctx, next); err != nil {
		w.mu.Unlock()
		return err
	}
	current := next.Manager.CurrentAddress
	w.mu.Unlock()

	w.bus.Emit(Event{Type: EventCurrentAddressChange, Addresses: []string{strings.ToLower(current)}})
	return nil
}

// mutateRecord runs a pure transform, persists, and emits the given events.
func (w *Wallet) mutateRecord(ctx context.Context, transform func(*record.WalletRecord) (*record.WalletRecord, error), events ...Event) error {
	w.mu.Lock()
	next, err := transform(w.rec)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := w.persist(ctx, next); err != nil {
		w.mu.Unlock()
		return err
	}
	w.mu.Unlock()

	for _, e := range events {
		w.bus.Emit(e)
	}
	return nil
}

// AcceptOrigin grants the origin access to an address (the current address
// when empty).
func (w *Wallet) AcceptOrigin(ctx context.Context, call CallContext, origin, address string) error {
	if err := verifyInternalOrigin(call); err != nil {
		return err
	}
	if origin == "" || origin == types.InternalOrigin {
		return errors.InvalidParams("a dapp origin is required")
	}
	if address == "" {
		address = w.CurrentAddress()
	}
	if address == "" {
		return errors.WalletNotInitialized()
	}
	return w.mutateRecord(ctx, func(rec *record.WalletRecord) (*record.WalletRecord, error) {
		return record.AddPermission(rec, origin, address)
	}, Event{Type: EventPermissionsUpdated})
}

// RemovePermission revokes an address from an origin, or the whole origin
// when address is empty.
func (w *Wallet) RemovePermission(ctx context.Context, call CallContext, origin, address string) error {
	if err := verifyInternalOrigin(call); err != nil {
		return err
	}
	return w.mutateRecord(ctx, func(rec *record.WalletRecord) (*record.WalletRecord, error) {
		return record.RemovePermission(rec, origin, address)
	}, Event{Type: EventPermissionsUpdated})
}

// RemoveAllOriginPermissions revokes every grant.
func (w *Wallet) RemoveAllOriginPermissions(ctx context.Context, call CallContext) error {
	if err := verifyInternalOrigin(call); err != nil {
		return err
	}
	return w.mutateRecord(ctx, func(rec *record.WalletRecord) (*record.WalletRecord, error) {
		return record.RemoveAllOriginPermissions(rec)
	}, Event{Type: EventPermissionsUpdated})
}

// RemoveWalletGroup deletes a group; the record transform reassigns the
// current address when needed.
func (w *Wallet) RemoveWalletGroup(ctx context.Context, call CallContext, groupID string) error {
	if err := verifyInternalOrigin(call); err != nil {
		return err
	}
	return w.removeStructural(ctx, func(rec *record.WalletRecord) (*record.WalletRecord, error) {
		return record.RemoveWalletGroup(rec, groupID)
	})
}

// RemoveAddress deletes one wallet.
func (w *Wallet) RemoveAddress(ctx context.Context, call CallContext, address string) error {
	if err := verifyInternalOrigin(call); err != nil {
		return err
	}
	return w.removeStructural(ctx, func(rec *record.WalletRecord) (*record.WalletRecord, error) {
		return record.RemoveAddress(rec, address)
	})
}

func (w *Wallet) removeStructural(ctx context.Context, transform func(*record.WalletRecord) (*record.WalletRecord, error)) error {
	w.mu.Lock()
	before := ""
	if w.rec != nil {
		before = w.rec.Manager.CurrentAddress
	}
	next, err := transform(w.rec)
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := w.persist(ctx, next); err != nil {
		w.mu.Unlock()
		return err
	}
	after := next.Manager.CurrentAddress
	w.mu.Unlock()

	w.bus.Emit(Event{Type: EventRecordUpdated})
	if before != after {
		addrs := []string{}
		if after != "" {
			addrs = []string{strings.ToLower(after)}
		}
		w.bus.Emit(Event{Type: EventCurrentAddressChange, Addresses: addrs})
	}
	return nil
}

// RenameWalletGroup sets a group's display name.
func (w *Wallet) RenameWalletGroup(ctx context.Context, call CallContext, groupID, name string) error {
	if err := verifyInternalOrigin(call); err != nil {
		return err
	}
	return w.mutateRecord(ctx, func(rec *record.WalletRecord) (*record.WalletRecord, error) {
		return record.RenameWalletGroup(rec, groupID, name)
	}, Event{Type: EventRecordUpdated})
}

// RenameAddress sets a wallet's display name.
func (w *Wallet) RenameAddress(ctx context.Context, call CallContext, address, name string) error {
	if err := verifyInternalOrigin(call); err != nil {
		return err
	}
	return w.mutateRecord(ctx, func(rec *record.WalletRecord) (*record.WalletRecord, error) {
		return record.RenameAddress(rec, address, name)
	}, Event{Type: EventRecordUpdated})
}

// UpdateLastBackedUp records that the user completed a backup flow.
func (w *Wallet) UpdateLastBackedUp(ctx context.Context, call CallContext, groupID string) error {
	if err := verifyInternalOrigin(call); err != nil {
		return err
	}
	return w.mutateRecord(ctx, func(rec *record.WalletRecord) (*record.WalletRecord, error) {
		return record.UpdateLastBackedUp(rec, groupID, time.Now())
	}, Event{Type: EventRecordUpdated})
}

// GetNoBackupCount counts mnemonic groups the user has never backed up.
func (w *Wallet) GetNoBackupCount(call CallContext) (int, error) {
	if err := verifyInternalOrigin(call); err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rec == nil {
		return 0, nil
	}
	count := 0
	for i := range w.rec.Manager.Groups {
		g := &w.rec.Manager.Groups[i]
		if g.Container.SeedType == types.SeedTypeMnemonic && g.LastBackedUp == nil {
			count++
		}
	}
	return count, nil
}

// GetPendingTransactions lists the record's transaction log.
func (w *Wallet) GetPendingTransactions(call CallContext) ([]record.StoredTransaction, error) {
	if err := verifyInternalOrigin(call); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rec == nil {
		return nil, nil
	}
	return append([]record.StoredTransaction(nil), w.rec.Transactions...), nil
}

// AllowedOrigin reports whether an origin may act for an address: the
// internal origin always, a dapp origin only while it holds a grant for that
// exact address. A grant for a previously-current address does not carry over
// after the user switches.
func (w *Wallet) AllowedOrigin(origin, address string) bool {
	if origin == types.InternalOrigin {
		return true
	}
	if address == "" {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, granted := range record.PermissionsFor(w.rec, origin) {
		if strings.EqualFold(granted, address) {
			return true
		}
	}
	return false
}

// AccountsFor returns what an origin may see of the account list: the current
// address, lowercased, when the origin is granted it; empty otherwise.
func (w *Wallet) AccountsFor(origin string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	current := ""
	if w.rec != nil {
		current = w.rec.Manager.CurrentAddress
	}
	if current == "" {
		return []string{}
	}
	if origin == types.InternalOrigin {
		return []string{strings.ToLower(current)}
	}
	for _, granted := range record.PermissionsFor(w.rec, origin) {
		if strings.EqualFold(granted, current) {
			return []string{strings.ToLower(current)}
		}
	}
	return []string{}
}

// GetOriginPermissions lists every grant for the UI.
func (w *Wallet) GetOriginPermissions(call CallContext) ([]record.OriginGrant, error) {
	if err := verifyInternalOrigin(call); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rec == nil {
		return nil, nil
	}
	out := make([]record.OriginGrant, 0, len(w.rec.Permissions))
	for _, grant := range w.rec.Permissions {
		out = append(out, record.OriginGrant{
			Origin:    grant.Origin,
			Addresses: append([]string(nil), grant.Addresses...),
		})
	}
	return out, nil
}

// ChainID returns the session's active chain id.
func (w *Wallet) ChainID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainID
}

// SetChainID switches the session chain. Identifier may be a network name or
// a hex/decimal chain id. No event when already on that chain.
func (w *Wallet) SetChainID(ctx context.Context, call CallContext, identifier string) error {
	if err := verifyInternalOrigin(call); err != nil {
		return err
	}
	chainID, err := w.registry.GetChainID(identifier)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.chainID == chainID {
		w.mu.Unlock()
		return nil
	}
	w.chainID = chainID
	w.mu.Unlock()

	w.bus.Emit(Event{Type: EventChainChanged, ChainID: chainID})
	return nil
}

// Logout wipes the persisted record and the in-memory session. Irreversible.
func (w *Wallet) Logout(ctx context.Context, call CallContext) error {
	if err := verifyInternalOrigin(call); err != nil {
		return err
	}

	w.mu.Lock()
	walletID := w.walletID
	if walletID == "" {
		w.mu.Unlock()
		return errors.RecordNotFound()
	}
	if err := w.store.Clear(ctx, walletID); err != nil {
		w.mu.Unlock()
		return err
	}
	w.rec = nil
	w.pending = nil
	w.sessionKey = ""
	w.chainID = types.DefaultChainID
	w.mu.Unlock()

	w.bus.Emit(Event{Type: EventRecordUpdated})
	return nil
}

// signer dials a node on the session's active chain.
func (w *Wallet) signer() (NodeClient, *big.Int, error) {
	w.mu.Lock()
	chainID := w.chainID
	w.mu.Unlock()

	desc, err := w.registry.GetChainByID(chainID)
	if err != nil {
		return nil, nil, err
	}
	chain, err := hexutil.DecodeBig(chainID)
	if err != nil {
		return nil, nil, errors.InvalidParams(fmt.Sprintf("invalid chain id %q", chainID))
	}
	client, err := w.dial(w.registry.RPCURLInternal(desc))
	if err != nil {
		return nil, nil, err
	}
	return client, chain, nil
}

// SendTransaction signs and broadcasts a transaction from the current
// address. A chainId that differs from the active chain fails the call; a
// missing chainId is stamped with the active chain. The stored copy keeps no
// signature.
func (w *Wallet) SendTransaction(ctx context.Context, call CallContext, incoming *IncomingTransaction) (string, error) {
	if err := verifyInternalOrigin(call); err != nil {
		return "", err
	}
	if incoming == nil {
		return "", errors.InvalidParams("transaction is required")
	}

	w.mu.Lock()
	rec := w.rec
	activeChain := w.chainID
	w.mu.Unlock()

	if rec == nil {
		return "", errors.RecordNotFound()
	}
	current := rec.Manager.CurrentAddress
	if current == "" {
		return "", errors.WalletNotInitialized()
	}
	if incoming.From == "" {
		return "", errors.InvalidParams("transaction 'from' is required")
	}
	if !strings.EqualFold(incoming.From, current) {
		return "", errors.InvalidParams("transaction 'from' is not the current address")
	}
	signerWallet := record.GetWalletByAddress(rec, incoming.From)
	if signerWallet == nil {
		return "", errors.WalletNotInitialized()
	}

	if incoming.ChainID != "" {
		requested, err := networks.NormalizeChainID(incoming.ChainID)
		if err != nil {
			return "", err
		}
		if requested != activeChain {
			return "", errors.ChainMismatch(activeChain, requested)
		}
	} else {
		logger.Warn(ctx, "transaction missing chainId, stamping active chain",
			"chain_id", activeChain)
		incoming.ChainID = activeChain
	}

	if err := Prepare(incoming); err != nil {
		return "", err
	}

	client, chain, err := w.signer()
	if err != nil {
		return "", err
	}
	defer client.Close()

	if !incoming.HasFeeData() {
		gasPrice, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return "", err
		}
		incoming.GasPrice = (*hexutil.Big)(gasPrice)
	}
	if incoming.Nonce == nil {
		nonce, err := client.PendingNonceAt(ctx, signerWallet.Address)
		if err != nil {
			return "", err
		}
		n := hexutil.Uint64(nonce)
		incoming.Nonce = &n
	}
	if incoming.Gas == nil {
		var value *big.Int
		if incoming.Value != nil {
			value = incoming.Value.ToInt()
		}
		estimate, err := client.EstimateGas(ctx, signerWallet.Address, incoming.To, value, incoming.Data)
		if err != nil {
			return "", err
		}
		g := hexutil.Uint64(estimate)
		incoming.Gas = &g
	}

	signed, err := signTransaction(signerWallet, incoming, chain)
	if err != nil {
		return "", err
	}
	hash, err := client.SendTransaction(ctx, signed)
	if err != nil {
		return "", err
	}

	stored := record.StoredTransaction{
		Hash:      hash,
		From:      signerWallet.Address,
		To:        incoming.To,
		Nonce:     uint64(*incoming.Nonce),
		GasLimit:  signed.Gas(),
		ChainID:   activeChain,
		CreatedAt: time.Now(),
	}
	if incoming.Value != nil {
		stored.Value = incoming.Value.String()
	}

	if err := w.mutateRecord(ctx, func(rec *record.WalletRecord) (*record.WalletRecord, error) {
		return record.AddTransaction(rec, stored)
	}, Event{Type: EventPendingTransactionCreated, Transaction: &stored}); err != nil {
		// Broadcast succeeded; surface the bookkeeping failure with the hash.
		return hash, err
	}
	return hash, nil
}

// signTransaction builds and signs the final transaction shape.
func signTransaction(signerWallet *record.Wallet, incoming *IncomingTransaction, chain *big.Int) (*ethtypes.Transaction, error) {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(signerWallet.PrivateKey, "0x"))
	if err != nil {
		return nil, errors.New(errors.ErrCodeInternalError, "Stored private key is invalid", errors.RPCInternal)
	}

	var to *common.Address
	if incoming.To != "" {
		addr := common.HexToAddress(incoming.To)
		to = &addr
	}
	var value *big.Int
	if incoming.Value != nil {
		value = incoming.Value.ToInt()
	}
	var gas uint64
	if incoming.Gas != nil {
		gas = uint64(*incoming.Gas)
	}
	nonce := uint64(*incoming.Nonce)

	var tx *ethtypes.Transaction
	if incoming.IsDynamicFee() {
		tipCap := new(big.Int)
		if incoming.MaxPriorityFeePerGas != nil {
			tipCap = incoming.MaxPriorityFeePerGas.ToInt()
		}
		tx = ethtypes.NewTx(&ethtypes.DynamicFeeTx{
			ChainID:   chain,
			Nonce:     nonce,
			GasTipCap: tipCap,
			GasFeeCap: incoming.MaxFeePerGas.ToInt(),
			Gas:       gas,
			To:        to,
			Value:     value,
			Data:      incoming.Data,
		})
	} else {
		tx = ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    nonce,
			GasPrice: incoming.GasPrice.ToInt(),
			Gas:      gas,
			To:       to,
			Value:    value,
			Data:     incoming.Data,
		})
	}

	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chain), priv)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

// PersonalSign signs a message per EIP-191 with the current address's key.
func (w *Wallet) PersonalSign(ctx context.Context, call CallContext, address string, message hexutil.Bytes) (string, error) {
	signerWallet, err := w.signingWallet(call, address)
	if err != nil {
		return "", err
	}
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(signerWallet.PrivateKey, "0x"))
	if err != nil {
		return "", errors.New(errors.ErrCodeInternalError, "Stored private key is invalid", errors.RPCInternal)
	}
	sig, err := crypto.Sign(accounts.TextHash(message), priv)
	if err != nil {
		return "", fmt.Errorf("failed to sign message: %w", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// SignTypedData signs EIP-712 typed data (v4) with the current address's key.
func (w *Wallet) SignTypedData(ctx context.Context, call CallContext, address string, typedData apitypes.TypedData) (string, error) {
	signerWallet, err := w.signingWallet(call, address)
	if err != nil {
		return "", err
	}
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(signerWallet.PrivateKey, "0x"))
	if err != nil {
		return "", errors.New(errors.ErrCodeInternalError, "Stored private key is invalid", errors.RPCInternal)
	}
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", errors.InvalidParams(fmt.Sprintf("invalid typed data: %v", err))
	}
	sig, err := crypto.Sign(hash, priv)
	if err != nil {
		return "", fmt.Errorf("failed to sign typed data: %w", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// signingWallet gates on the internal origin and resolves the signing wallet.
// The address must be the current address (or empty for it).
func (w *Wallet) signingWallet(call CallContext, address string) (*record.Wallet, error) {
	if err := verifyInternalOrigin(call); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rec == nil {
		return nil, errors.RecordNotFound()
	}
	current := w.rec.Manager.CurrentAddress
	if current == "" {
		return nil, errors.WalletNotInitialized()
	}
	if address != "" && !strings.EqualFold(address, current) {
		return nil, errors.InvalidParams("address is not the current address")
	}
	signerWallet := record.GetWalletByAddress(w.rec, current)
	if signerWallet == nil {
		return nil, errors.WalletNotInitialized()
	}
	return signerWallet, nil
}
