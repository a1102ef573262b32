package wallet

import (
	"time"

	"github.com/nimbus-wallet/wallet-engine/internal/record"
)

// MaskedWallet is a wallet view with key material stripped. This is the only
// wallet shape that leaves the controller.
type MaskedWallet struct {
	Address   string `json:"address"`
	PublicKey string `json:"publicKey"`
	Name      string `json:"name,omitempty"`
}

// MaskedGroup is a group view with every wallet masked.
type MaskedGroup struct {
	ID           string         `json:"id"`
	SeedType     string         `json:"seedType"`
	Origin       string         `json:"origin"`
	Created      time.Time      `json:"created"`
	LastBackedUp *time.Time     `json:"lastBackedUp,omitempty"`
	Name         string         `json:"name"`
	Wallets      []MaskedWallet `json:"wallets"`
}

// MaskedRecord is the UI-facing record view.
type MaskedRecord struct {
	Groups         []MaskedGroup        `json:"groups"`
	CurrentAddress string               `json:"currentAddress,omitempty"`
	Permissions    []record.OriginGrant `json:"permissions"`
}

func maskWallet(w *record.Wallet) MaskedWallet {
	return MaskedWallet{
		Address:   w.Address,
		PublicKey: w.PublicKey,
		Name:      w.Name,
	}
}

func maskGroup(g *record.WalletGroup) MaskedGroup {
	out := MaskedGroup{
		ID:       g.ID,
		SeedType: g.Container.SeedType,
		Origin:   g.Origin,
		Created:  g.Created,
		Name:     g.Name,
		Wallets:  make([]MaskedWallet, 0, len(g.Container.Wallets)),
	}
	if g.LastBackedUp != nil {
		t := *g.LastBackedUp
		out.LastBackedUp = &t
	}
	for i := range g.Container.Wallets {
		out.Wallets = append(out.Wallets, maskWallet(&g.Container.Wallets[i]))
	}
	return out
}

func maskRecord(rec *record.WalletRecord) *MaskedRecord {
	if rec == nil {
		return nil
	}
	out := &MaskedRecord{
		CurrentAddress: rec.Manager.CurrentAddress,
		Groups:         make([]MaskedGroup, 0, len(rec.Manager.Groups)),
		Permissions:    make([]record.OriginGrant, 0, len(rec.Permissions)),
	}
	for i := range rec.Manager.Groups {
		out.Groups = append(out.Groups, maskGroup(&rec.Manager.Groups[i]))
	}
	for _, grant := range rec.Permissions {
		out.Permissions = append(out.Permissions, record.OriginGrant{
			Origin:    grant.Origin,
			Addresses: append([]string(nil), grant.Addresses...),
		})
	}
	return out
}
