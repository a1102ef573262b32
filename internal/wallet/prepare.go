package wallet

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/nimbus-wallet/wallet-engine/pkg/errors"
)

// plain value transfers need exactly this much gas
const defaultTransferGas = 21000

// IncomingTransaction is the dapp-shaped transaction request, all quantity
// fields 0x-hex as on the wire.
type IncomingTransaction struct {
	From                 string          `json:"from"`
	To                   string          `json:"to,omitempty"`
	Value                *hexutil.Big    `json:"value,omitempty"`
	Data                 hexutil.Bytes   `json:"data,omitempty"`
	Gas                  *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Nonce                *hexutil.Uint64 `json:"nonce,omitempty"`
	ChainID              string          `json:"chainId,omitempty"`
}

// HasFeeData reports whether the request already carries pricing, either
// legacy gasPrice or EIP-1559 fee caps.
func (tx *IncomingTransaction) HasFeeData() bool {
	return tx.GasPrice != nil || tx.MaxFeePerGas != nil
}

// IsDynamicFee reports whether the request uses EIP-1559 pricing.
func (tx *IncomingTransaction) IsDynamicFee() bool {
	return tx.MaxFeePerGas != nil
}

// Prepare validates the request shape and fills the gas limit for plain
// transfers. Fee and nonce defaults come later from the node.
func Prepare(tx *IncomingTransaction) error {
	if tx == nil {
		return errors.InvalidParams("transaction is required")
	}
	if tx.From == "" {
		return errors.InvalidParams("transaction 'from' is required")
	}
	if tx.To == "" && len(tx.Data) == 0 {
		return errors.InvalidParams("transaction needs a recipient or deploy data")
	}
	if tx.Gas == nil && len(tx.Data) == 0 {
		gas := hexutil.Uint64(defaultTransferGas)
		tx.Gas = &gas
	}
	return nil
}
