// Package record implements the wallet record model: an immutable value
// holding wallet groups, origin permissions and the pending-transaction log.
// Every transform takes the current record and returns a new one; callers own
// persistence and event emission.
package record

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nimbus-wallet/wallet-engine/pkg/errors"
	"github.com/nimbus-wallet/wallet-engine/pkg/types"
)

// SeedPhrase holds a BIP-39 phrase and the derivation path of one wallet.
type SeedPhrase struct {
	Phrase string `json:"phrase"`
	Path   string `json:"path"`
}

// Wallet is a single derived account. PrivateKey and Mnemonic are secret
// material and must never leave the controller unredacted.
type Wallet struct {
	Address    string      `json:"address"`
	PublicKey  string      `json:"publicKey"`
	Name       string      `json:"name,omitempty"`
	PrivateKey string      `json:"privateKey,omitempty"`
	Mnemonic   *SeedPhrase `json:"mnemonic,omitempty"`
}

// WalletContainer holds the wallets derived from one seed, imported key or
// hardware device.
type WalletContainer struct {
	SeedType string   `json:"seedType"`
	Wallets  []Wallet `json:"wallets"`
}

// FirstWallet returns the first derived wallet, or nil for an empty container.
func (c *WalletContainer) FirstWallet() *Wallet {
	if len(c.Wallets) == 0 {
		return nil
	}
	return &c.Wallets[0]
}

// Mnemonic returns the seed phrase of the most recently derived wallet, or
// nil for containers that are not mnemonic-seeded.
func (c *WalletContainer) Mnemonic() *SeedPhrase {
	for i := len(c.Wallets) - 1; i >= 0; i-- {
		if c.Wallets[i].Mnemonic != nil {
			return c.Wallets[i].Mnemonic
		}
	}
	return nil
}

// Validate enforces the container invariant: every non-hardware container
// holds at least one derived wallet before it can be persisted.
func (c *WalletContainer) Validate() error {
	if c.SeedType != types.SeedTypeHardware && len(c.Wallets) == 0 {
		return errors.InvalidParams("wallet container has no derived wallets")
	}
	return nil
}

// WalletGroup is a named collection of addresses sharing one container.
type WalletGroup struct {
	ID           string          `json:"id"`
	Container    WalletContainer `json:"walletContainer"`
	Origin       string          `json:"origin"`
	Created      time.Time       `json:"created"`
	LastBackedUp *time.Time      `json:"lastBackedUp,omitempty"`
	Name         string          `json:"name"`
}

// WalletManager owns the ordered group list and the current address.
type WalletManager struct {
	Groups         []WalletGroup `json:"groups"`
	CurrentAddress string        `json:"currentAddress,omitempty"`
}

// OriginGrant maps one dapp origin to its authorized addresses. Grants keep
// insertion order so permission listings are stable.
type OriginGrant struct {
	Origin    string   `json:"origin"`
	Addresses []string `json:"addresses"`
}

// StoredTransaction is a prepared/sent transaction with its signature
// stripped, kept in the record's append-only log.
type StoredTransaction struct {
	Hash      string    `json:"hash"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Value     string    `json:"value,omitempty"`
	Nonce     uint64    `json:"nonce"`
	GasLimit  uint64    `json:"gasLimit"`
	ChainID   string    `json:"chainId"`
	CreatedAt time.Time `json:"createdAt"`
}

// WalletRecord is the unit of persistence.
type WalletRecord struct {
	Manager      WalletManager       `json:"walletManager"`
	Permissions  []OriginGrant       `json:"permissions"`
	Transactions []StoredTransaction `json:"transactions"`
}

// PendingWallet stages a generated or imported container before it is
// committed to the record. GroupID is set when adding the next account to an
// existing mnemonic group.
type PendingWallet struct {
	GroupID   string          `json:"groupId,omitempty"`
	Origin    string          `json:"origin"`
	Container WalletContainer `json:"walletContainer"`
}

// clone deep-copies a record so transforms never alias the caller's value.
func clone(rec *WalletRecord) *WalletRecord {
	out := &WalletRecord{
		Manager: WalletManager{
			CurrentAddress: rec.Manager.CurrentAddress,
			Groups:         make([]WalletGroup, len(rec.Manager.Groups)),
		},
		Permissions:  make([]OriginGrant, len(rec.Permissions)),
		Transactions: append([]StoredTransaction(nil), rec.Transactions...),
	}
	for i, g := range rec.Manager.Groups {
		ng := g
		ng.Container.Wallets = make([]Wallet, len(g.Container.Wallets))
		for j, w := range g.Container.Wallets {
			nw := w
			if w.Mnemonic != nil {
				m := *w.Mnemonic
				nw.Mnemonic = &m
			}
			ng.Container.Wallets[j] = nw
		}
		if g.LastBackedUp != nil {
			t := *g.LastBackedUp
			ng.LastBackedUp = &t
		}
		out.Manager.Groups[i] = ng
	}
	for i, grant := range rec.Permissions {
		out.Permissions[i] = OriginGrant{
			Origin:    grant.Origin,
			Addresses: append([]string(nil), grant.Addresses...),
		}
	}
	return out
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}

// CreateOrUpdateRecord commits a pending wallet. With a GroupID it appends
// the pending container's wallets to the existing group ("add next account"),
// otherwise it creates a new group. The first committed address becomes
// current when none is set yet.
func CreateOrUpdateRecord(rec *WalletRecord, pending *PendingWallet) (*WalletRecord, error) {
	if pending == nil {
		return nil, errors.InvalidParams("pending wallet is required")
	}
	if err := pending.Container.Validate(); err != nil {
		return nil, err
	}

	var out *WalletRecord
	if rec == nil {
		out = &WalletRecord{}
	} else {
		out = clone(rec)
	}

	if pending.GroupID != "" {
		group := groupByID(out, pending.GroupID)
		if group == nil {
			return nil, errors.InvalidParams(fmt.Sprintf("group %s not found", pending.GroupID))
		}
		for _, w := range pending.Container.Wallets {
			if GetWalletByAddress(out, w.Address) == nil {
				group.Container.Wallets = append(group.Container.Wallets, w)
			}
		}
	} else {
		origin := pending.Origin
		if origin == "" {
			origin = types.GroupOriginImported
		}
		out.Manager.Groups = append(out.Manager.Groups, WalletGroup{
			ID:        uuid.NewString(),
			Container: pending.Container,
			Origin:    origin,
			Created:   time.Now(),
			Name:      fmt.Sprintf("Wallet Group #%d", len(out.Manager.Groups)+1),
		})
	}

	if out.Manager.CurrentAddress == "" {
		if first := pending.Container.FirstWallet(); first != nil {
			out.Manager.CurrentAddress = first.Address
		}
	}
	return out, nil
}

// AddPermission authorizes address for origin. Idempotent.
func AddPermission(rec *WalletRecord, origin, address string) (*WalletRecord, error) {
	if rec == nil {
		return nil, errors.RecordNotFound()
	}
	out := clone(rec)
	for i := range out.Permissions {
		if out.Permissions[i].Origin == origin {
			for _, a := range out.Permissions[i].Addresses {
				if sameAddress(a, address) {
					return out, nil
				}
			}
			out.Permissions[i].Addresses = append(out.Permissions[i].Addresses, address)
			return out, nil
		}
	}
	out.Permissions = append(out.Permissions, OriginGrant{Origin: origin, Addresses: []string{address}})
	return out, nil
}

// RemovePermission removes one address from an origin's grant, or the whole
// origin entry when address is empty. Removing a missing entry is a no-op.
func RemovePermission(rec *WalletRecord, origin, address string) (*WalletRecord, error) {
	if rec == nil {
		return nil, errors.RecordNotFound()
	}
	out := clone(rec)
	for i := range out.Permissions {
		if out.Permissions[i].Origin != origin {
			continue
		}
		if address == "" {
			out.Permissions = append(out.Permissions[:i], out.Permissions[i+1:]...)
			return out, nil
		}
		addrs := out.Permissions[i].Addresses[:0]
		for _, a := range out.Permissions[i].Addresses {
			if !sameAddress(a, address) {
				addrs = append(addrs, a)
			}
		}
		if len(addrs) == 0 {
			out.Permissions = append(out.Permissions[:i], out.Permissions[i+1:]...)
		} else {
			out.Permissions[i].Addresses = addrs
		}
		return out, nil
	}
	return out, nil
}

// RemoveAllOriginPermissions clears every grant.
func RemoveAllOriginPermissions(rec *WalletRecord) (*WalletRecord, error) {
	if rec == nil {
		return nil, errors.RecordNotFound()
	}
	out := clone(rec)
	out.Permissions = nil
	return out, nil
}

// SetCurrentAddress makes address current. The address must resolve to a
// wallet inside some group.
func SetCurrentAddress(rec *WalletRecord, address string) (*WalletRecord, error) {
	if rec == nil {
		return nil, errors.RecordNotFound()
	}
	wallet := GetWalletByAddress(rec, address)
	if wallet == nil {
		return nil, errors.InvalidParams(fmt.Sprintf("address %s does not belong to any wallet group", address))
	}
	out := clone(rec)
	out.Manager.CurrentAddress = wallet.Address
	return out, nil
}

// RemoveWalletGroup deletes a whole group. If the current address lived in
// it, the first remaining address (group order) becomes current, or none.
func RemoveWalletGroup(rec *WalletRecord, groupID string) (*WalletRecord, error) {
	if rec == nil {
		return nil, errors.RecordNotFound()
	}
	out := clone(rec)
	groups := out.Manager.Groups[:0]
	for _, g := range out.Manager.Groups {
		if g.ID != groupID {
			groups = append(groups, g)
		}
	}
	out.Manager.Groups = groups
	reassignCurrentAddress(out)
	return out, nil
}

// RemoveAddress deletes a single wallet; a group left empty is dropped.
func RemoveAddress(rec *WalletRecord, address string) (*WalletRecord, error) {
	if rec == nil {
		return nil, errors.RecordNotFound()
	}
	out := clone(rec)
	groups := out.Manager.Groups[:0]
	for _, g := range out.Manager.Groups {
		wallets := g.Container.Wallets[:0]
		for _, w := range g.Container.Wallets {
			if !sameAddress(w.Address, address) {
				wallets = append(wallets, w)
			}
		}
		g.Container.Wallets = wallets
		if len(wallets) > 0 || g.Container.SeedType == types.SeedTypeHardware {
			groups = append(groups, g)
		}
	}
	out.Manager.Groups = groups
	reassignCurrentAddress(out)
	return out, nil
}

// RenameWalletGroup is a label-only mutation.
func RenameWalletGroup(rec *WalletRecord, groupID, name string) (*WalletRecord, error) {
	if rec == nil {
		return nil, errors.RecordNotFound()
	}
	out := clone(rec)
	group := groupByID(out, groupID)
	if group == nil {
		return nil, errors.InvalidParams(fmt.Sprintf("group %s not found", groupID))
	}
	group.Name = name
	return out, nil
}

// RenameAddress sets the display name of one wallet.
func RenameAddress(rec *WalletRecord, address, name string) (*WalletRecord, error) {
	if rec == nil {
		return nil, errors.RecordNotFound()
	}
	out := clone(rec)
	for i := range out.Manager.Groups {
		for j := range out.Manager.Groups[i].Container.Wallets {
			w := &out.Manager.Groups[i].Container.Wallets[j]
			if sameAddress(w.Address, address) {
				w.Name = name
				return out, nil
			}
		}
	}
	return nil, errors.InvalidParams(fmt.Sprintf("address %s does not belong to any wallet group", address))
}

// UpdateLastBackedUp records a backup timestamp. Monotonic: an earlier
// timestamp than the stored one is a no-op.
func UpdateLastBackedUp(rec *WalletRecord, groupID string, timestamp time.Time) (*WalletRecord, error) {
	if rec == nil {
		return nil, errors.RecordNotFound()
	}
	out := clone(rec)
	group := groupByID(out, groupID)
	if group == nil {
		return nil, errors.InvalidParams(fmt.Sprintf("group %s not found", groupID))
	}
	if group.LastBackedUp == nil || !timestamp.Before(*group.LastBackedUp) {
		t := timestamp
		group.LastBackedUp = &t
	}
	return out, nil
}

// AddTransaction appends a signature-stripped transaction to the log.
func AddTransaction(rec *WalletRecord, tx StoredTransaction) (*WalletRecord, error) {
	if rec == nil {
		return nil, errors.RecordNotFound()
	}
	out := clone(rec)
	out.Transactions = append(out.Transactions, tx)
	return out, nil
}

// GetWalletByAddress looks up a wallet across all groups, case-insensitively.
// Returns nil when the record is nil or the address is unknown; never errors.
func GetWalletByAddress(rec *WalletRecord, address string) *Wallet {
	if rec == nil || address == "" {
		return nil
	}
	for i := range rec.Manager.Groups {
		for j := range rec.Manager.Groups[i].Container.Wallets {
			w := &rec.Manager.Groups[i].Container.Wallets[j]
			if sameAddress(w.Address, address) {
				return w
			}
		}
	}
	return nil
}

// PermissionsFor returns the addresses authorized for origin, nil-safe.
func PermissionsFor(rec *WalletRecord, origin string) []string {
	if rec == nil {
		return nil
	}
	for _, grant := range rec.Permissions {
		if grant.Origin == origin {
			return grant.Addresses
		}
	}
	return nil
}

func groupByID(rec *WalletRecord, groupID string) *WalletGroup {
	for i := range rec.Manager.Groups {
		if rec.Manager.Groups[i].ID == groupID {
			return &rec.Manager.Groups[i]
		}
	}
	return nil
}

// reassignCurrentAddress keeps the current address valid after structural
// deletion: unchanged when it still resolves, otherwise the first remaining
// address in group order, otherwise none.
func reassignCurrentAddress(rec *WalletRecord) {
	if GetWalletByAddress(rec, rec.Manager.CurrentAddress) != nil {
		return
	}
	rec.Manager.CurrentAddress = ""
	for _, g := range rec.Manager.Groups {
		if len(g.Container.Wallets) > 0 {
			rec.Manager.CurrentAddress = g.Container.Wallets[0].Address
			return
		}
	}
}
