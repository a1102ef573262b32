// Package rpc is the dapp-facing authorization surface. It treats the caller
// origin purely as a permissions key, decodes raw params at the boundary, and
// routes every sensitive method through the approval surface before handing
// it to the session controller as an internal call.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/nimbus-wallet/wallet-engine/internal/approval"
	"github.com/nimbus-wallet/wallet-engine/internal/networks"
	"github.com/nimbus-wallet/wallet-engine/internal/wallet"
	"github.com/nimbus-wallet/wallet-engine/pkg/errors"
	"github.com/nimbus-wallet/wallet-engine/pkg/types"
)

// internalCall is the trusted-UI identity the controller acts under once a
// request has been approved.
var internalCall = wallet.CallContext{Origin: types.InternalOrigin}

// Controller answers EIP-1193 style requests from dapps.
type Controller struct {
	wallet    *wallet.Wallet
	approvals approval.Surface
}

func New(w *wallet.Wallet, approvals approval.Surface) *Controller {
	return &Controller{wallet: w, approvals: approvals}
}

// Handle dispatches one RPC method for a dapp origin. Params are the raw
// JSON-RPC params array.
func (c *Controller) Handle(ctx context.Context, origin, method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case "eth_accounts":
		return c.accounts(origin), nil
	case "eth_requestAccounts":
		return c.requestAccounts(ctx, origin)
	case "eth_chainId":
		return c.chainID(origin), nil
	case "net_version":
		return c.netVersion(origin)
	case "eth_sendTransaction":
		return c.sendTransaction(ctx, origin, params)
	case "personal_sign":
		return c.personalSign(ctx, origin, params)
	case "eth_signTypedData_v4":
		return c.signTypedData(ctx, origin, params)
	case "wallet_switchEthereumChain":
		return c.switchChain(ctx, origin, params)
	case "eth_sign", "eth_signTypedData":
		// Deliberately unsupported legacy signing surfaces.
		return nil, errors.MethodNotImplemented(method)
	default:
		return nil, errors.MethodNotImplemented(method)
	}
}

func (c *Controller) accounts(origin string) []string {
	if origin == "" {
		return []string{}
	}
	return c.wallet.AccountsFor(origin)
}

func (c *Controller) requestAccounts(ctx context.Context, origin string) ([]string, error) {
	if origin == "" {
		return nil, errors.InvalidParams("caller origin is required")
	}
	if accounts := c.wallet.AccountsFor(origin); len(accounts) > 0 {
		return accounts, nil
	}

	_, err := c.approvals.Open(ctx, &approval.Request{
		Route:  types.RouteRequestAccounts,
		Origin: origin,
		Method: "eth_requestAccounts",
	})
	if err != nil {
		return nil, rejection(err, errors.UserRejected())
	}

	if err := c.wallet.AcceptOrigin(ctx, internalCall, origin, ""); err != nil {
		return nil, err
	}
	return c.wallet.AccountsFor(origin), nil
}

// chainID minimizes information: unauthorized origins always see mainnet.
func (c *Controller) chainID(origin string) string {
	if !c.originAuthorized(origin) {
		return types.DefaultChainID
	}
	return c.wallet.ChainID()
}

func (c *Controller) netVersion(origin string) (string, error) {
	return networks.NetworkID(c.chainID(origin))
}

func (c *Controller) sendTransaction(ctx context.Context, origin string, params json.RawMessage) (string, error) {
	var incoming wallet.IncomingTransaction
	if err := decodeParams(params, &incoming); err != nil {
		return "", err
	}
	// Unauthorized origins fail here, before any prompt is surfaced.
	if err := c.requireAuthorized(origin); err != nil {
		return "", err
	}
	if err := c.requireCurrentAddress(incoming.From); err != nil {
		return "", err
	}

	payload, err := json.Marshal(&incoming)
	if err != nil {
		return "", errors.InvalidParams(fmt.Sprintf("invalid transaction: %v", err))
	}
	if _, err := c.approvals.Open(ctx, &approval.Request{
		Route:   types.RouteSendTransaction,
		Origin:  origin,
		Method:  "eth_sendTransaction",
		Payload: payload,
	}); err != nil {
		return "", rejection(err, errors.UserRejectedTxSignature())
	}

	return c.wallet.SendTransaction(ctx, internalCall, &incoming)
}

func (c *Controller) personalSign(ctx context.Context, origin string, params json.RawMessage) (string, error) {
	// personal_sign params: [data, address]
	var message hexutil.Bytes
	var address string
	if err := decodeParams(params, &message, &address); err != nil {
		return "", err
	}
	if err := c.requireAuthorized(origin); err != nil {
		return "", err
	}
	if err := c.requireCurrentAddress(address); err != nil {
		return "", err
	}

	if _, err := c.approvals.Open(ctx, &approval.Request{
		Route:   types.RouteSignMessage,
		Origin:  origin,
		Method:  "personal_sign",
		Payload: params,
	}); err != nil {
		return "", rejection(err, errors.UserRejectedTxSignature())
	}

	return c.wallet.PersonalSign(ctx, internalCall, address, message)
}

func (c *Controller) signTypedData(ctx context.Context, origin string, params json.RawMessage) (string, error) {
	// eth_signTypedData_v4 params: [address, typedData]; typedData may arrive
	// as an object or a JSON string.
	var address string
	var raw json.RawMessage
	if err := decodeParams(params, &address, &raw); err != nil {
		return "", err
	}
	typedData, err := decodeTypedData(raw)
	if err != nil {
		return "", err
	}
	if err := c.requireAuthorized(origin); err != nil {
		return "", err
	}
	if err := c.requireCurrentAddress(address); err != nil {
		return "", err
	}

	if _, err := c.approvals.Open(ctx, &approval.Request{
		Route:   types.RouteSignMessage,
		Origin:  origin,
		Method:  "eth_signTypedData_v4",
		Payload: params,
	}); err != nil {
		return "", rejection(err, errors.UserRejectedTxSignature())
	}

	return c.wallet.SignTypedData(ctx, internalCall, address, *typedData)
}

type switchChainParams struct {
	ChainID string `json:"chainId"`
}

func (c *Controller) switchChain(ctx context.Context, origin string, params json.RawMessage) (interface{}, error) {
	var req switchChainParams
	if err := decodeParams(params, &req); err != nil {
		return nil, err
	}
	if err := c.requireAuthorized(origin); err != nil {
		return nil, err
	}
	requested, err := networks.NormalizeChainID(req.ChainID)
	if err != nil {
		return nil, err
	}
	// Already on the requested chain: succeed without a prompt.
	if requested == c.wallet.ChainID() {
		return nil, nil
	}

	if _, err := c.approvals.Open(ctx, &approval.Request{
		Route:   types.RouteSwitchChain,
		Origin:  origin,
		Method:  "wallet_switchEthereumChain",
		Payload: params,
	}); err != nil {
		return nil, rejection(err, errors.UserRejected())
	}

	if err := c.wallet.SetChainID(ctx, internalCall, requested); err != nil {
		return nil, err
	}
	return nil, nil
}

// originAuthorized is keyed to the current address: a grant for a
// previously-current address authorizes nothing after the user switches.
func (c *Controller) originAuthorized(origin string) bool {
	if origin == "" {
		return false
	}
	current := c.wallet.CurrentAddress()
	return current != "" && c.wallet.AllowedOrigin(origin, current)
}

// requireAuthorized gates privileged methods before any prompt is opened.
func (c *Controller) requireAuthorized(origin string) error {
	if origin == "" {
		return errors.InvalidParams("caller origin is required")
	}
	current := c.wallet.CurrentAddress()
	if current == "" {
		return errors.WalletNotInitialized()
	}
	if !c.wallet.AllowedOrigin(origin, current) {
		return errors.OriginNotAllowed(origin)
	}
	return nil
}

// requireCurrentAddress rejects a signing request for a non-current address
// before its prompt is surfaced.
func (c *Controller) requireCurrentAddress(address string) error {
	current := c.wallet.CurrentAddress()
	if current == "" {
		return errors.WalletNotInitialized()
	}
	if address != "" && !strings.EqualFold(address, current) {
		return errors.InvalidParams(fmt.Sprintf("address %s is not the current address", address))
	}
	return nil
}

// rejection maps a dismissed prompt to the method's rejection error; other
// failures (context cancellation) pass through.
func rejection(err error, rejected error) error {
	if err == approval.ErrDismissed {
		return rejected
	}
	return err
}

// decodeParams unpacks a JSON-RPC params array positionally.
func decodeParams(params json.RawMessage, targets ...interface{}) error {
	if len(params) == 0 {
		return errors.InvalidParams("params are required")
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(params, &raw); err != nil {
		return errors.InvalidParams(fmt.Sprintf("params must be an array: %v", err))
	}
	if len(raw) < len(targets) {
		return errors.InvalidParams(fmt.Sprintf("expected %d params, got %d", len(targets), len(raw)))
	}
	for i, target := range targets {
		if err := json.Unmarshal(raw[i], target); err != nil {
			return errors.InvalidParams(fmt.Sprintf("param %d: %v", i, err))
		}
	}
	return nil
}

func decodeTypedData(raw json.RawMessage) (*apitypes.TypedData, error) {
	data := raw
	// Unwrap a string-encoded payload first.
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		data = json.RawMessage(asString)
	}
	var typedData apitypes.TypedData
	if err := json.Unmarshal(data, &typedData); err != nil {
		return nil, errors.InvalidParams(fmt.Sprintf("invalid typed data: %v", err))
	}
	return &typedData, nil
}
