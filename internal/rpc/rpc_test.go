package rpc

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbus-wallet/wallet-engine/internal/approval"
	"github.com/nimbus-wallet/wallet-engine/internal/networks"
	"github.com/nimbus-wallet/wallet-engine/internal/storage"
	"github.com/nimbus-wallet/wallet-engine/internal/wallet"
	"github.com/nimbus-wallet/wallet-engine/pkg/errors"
	"github.com/nimbus-wallet/wallet-engine/pkg/types"
)

const (
	testPrivateKey   = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress      = "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266" // lowercase as surfaced
	secondPrivateKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	secondAddress    = "0x70997970c51812dc3a010c7d01b50e0d17dc79c8"
	testOrigin       = "https://app.example"
)

// stubSurface approves or dismisses every prompt and records what was opened.
type stubSurface struct {
	approve bool
	opened  []*approval.Request
}

func (s *stubSurface) Open(ctx context.Context, req *approval.Request) (json.RawMessage, error) {
	s.opened = append(s.opened, req)
	if s.approve {
		return json.RawMessage(`{}`), nil
	}
	return nil, approval.ErrDismissed
}

type stubNode struct{}

func (stubNode) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (stubNode) PendingNonceAt(ctx context.Context, address string) (uint64, error) { return 0, nil }
func (stubNode) EstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error) {
	return 21000, nil
}
func (stubNode) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) (string, error) {
	return tx.Hash().Hex(), nil
}
func (stubNode) Close() {}

func newTestController(t *testing.T, approve bool) (*Controller, *wallet.Wallet, *stubSurface) {
	t.Helper()
	store := storage.NewEncryptedStore(storage.NewMemoryBackend())
	w := wallet.New(store, networks.New(), func(rpcURL string) (wallet.NodeClient, error) {
		return stubNode{}, nil
	}, wallet.NewBus())
	ctx := context.Background()
	require.NoError(t, w.SetCredentials(ctx, "wallet-1", "key"))

	internal := wallet.CallContext{Origin: types.InternalOrigin}
	_, err := w.ImportPrivateKey(ctx, internal, testPrivateKey)
	require.NoError(t, err)
	require.NoError(t, w.SavePendingWallet(ctx, internal))

	surface := &stubSurface{approve: approve}
	return New(w, surface), w, surface
}

func handle(t *testing.T, c *Controller, origin, method, params string) (interface{}, error) {
	t.Helper()
	var raw json.RawMessage
	if params != "" {
		raw = json.RawMessage(params)
	}
	return c.Handle(context.Background(), origin, method, raw)
}

func TestAccountsLifecycle(t *testing.T) {
	c, _, surface := newTestController(t, true)

	// Unauthorized: empty list, no prompt.
	got, err := handle(t, c, testOrigin, "eth_accounts", "")
	require.NoError(t, err)
	assert.Equal(t, []string{}, got)
	assert.Empty(t, surface.opened)

	// requestAccounts prompts once, grants, returns the address lowercased.
	got, err = handle(t, c, testOrigin, "eth_requestAccounts", "")
	require.NoError(t, err)
	assert.Equal(t, []string{testAddress}, got)
	require.Len(t, surface.opened, 1)
	assert.Equal(t, types.RouteRequestAccounts, surface.opened[0].Route)
	assert.Equal(t, testOrigin, surface.opened[0].Origin)

	// Already authorized: short-circuits without a new prompt.
	got, err = handle(t, c, testOrigin, "eth_requestAccounts", "")
	require.NoError(t, err)
	assert.Equal(t, []string{testAddress}, got)
	assert.Len(t, surface.opened, 1)

	got, err = handle(t, c, testOrigin, "eth_accounts", "")
	require.NoError(t, err)
	assert.Equal(t, []string{testAddress}, got)
}

func TestRequestAccountsDismissed(t *testing.T) {
	c, _, _ := newTestController(t, false)

	_, err := handle(t, c, testOrigin, "eth_requestAccounts", "")
	assert.True(t, errors.HasCode(err, errors.ErrCodeUserRejected))

	// No grant was stored.
	got, err := handle(t, c, testOrigin, "eth_accounts", "")
	require.NoError(t, err)
	assert.Equal(t, []string{}, got)
}

func TestRequestAccountsNeedsOrigin(t *testing.T) {
	c, _, _ := newTestController(t, true)
	_, err := handle(t, c, "", "eth_requestAccounts", "")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidParams))
}

func TestChainIDMinimization(t *testing.T) {
	c, w, _ := newTestController(t, true)
	ctx := context.Background()
	internal := wallet.CallContext{Origin: types.InternalOrigin}
	require.NoError(t, w.SetChainID(ctx, internal, "polygon"))

	// Unauthorized origins always see mainnet.
	got, err := handle(t, c, testOrigin, "eth_chainId", "")
	require.NoError(t, err)
	assert.Equal(t, "0x1", got)

	got, err = handle(t, c, testOrigin, "net_version", "")
	require.NoError(t, err)
	assert.Equal(t, "1", got)

	// Authorized origins see the active chain.
	_, err = handle(t, c, testOrigin, "eth_requestAccounts", "")
	require.NoError(t, err)

	got, err = handle(t, c, testOrigin, "eth_chainId", "")
	require.NoError(t, err)
	assert.Equal(t, "0x89", got)

	got, err = handle(t, c, testOrigin, "net_version", "")
	require.NoError(t, err)
	assert.Equal(t, "137", got)
}

func TestSendTransactionUnauthorizedNoPrompt(t *testing.T) {
	c, _, surface := newTestController(t, true)

	params := `[{"from":"` + testAddress + `","to":"0x70997970C51812dc3A010C7d01b50e0d17dc79C8","value":"0x1"}]`
	_, err := handle(t, c, testOrigin, "eth_sendTransaction", params)
	assert.True(t, errors.HasCode(err, errors.ErrCodeOriginNotAllowed))
	assert.Empty(t, surface.opened)
}

func TestSendTransactionApproved(t *testing.T) {
	c, _, surface := newTestController(t, true)
	_, err := handle(t, c, testOrigin, "eth_requestAccounts", "")
	require.NoError(t, err)

	params := `[{"from":"` + testAddress + `","to":"0x70997970C51812dc3A010C7d01b50e0d17dc79C8","value":"0x1"}]`
	got, err := handle(t, c, testOrigin, "eth_sendTransaction", params)
	require.NoError(t, err)
	assert.NotEmpty(t, got)

	require.Len(t, surface.opened, 2)
	assert.Equal(t, types.RouteSendTransaction, surface.opened[1].Route)
}

func TestSendTransactionDismissed(t *testing.T) {
	c, w, _ := newTestController(t, true)
	_, err := handle(t, c, testOrigin, "eth_requestAccounts", "")
	require.NoError(t, err)

	// Flip the surface to dismiss after the grant.
	c.approvals.(*stubSurface).approve = false

	params := `[{"from":"` + testAddress + `","to":"0x70997970C51812dc3A010C7d01b50e0d17dc79C8"}]`
	_, err = handle(t, c, testOrigin, "eth_sendTransaction", params)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUserRejectedTx))

	// Nothing was broadcast or stored.
	internal := wallet.CallContext{Origin: types.InternalOrigin}
	txs, err := w.GetPendingTransactions(internal)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestSendTransactionChainMismatch(t *testing.T) {
	c, _, _ := newTestController(t, true)
	_, err := handle(t, c, testOrigin, "eth_requestAccounts", "")
	require.NoError(t, err)

	params := `[{"from":"` + testAddress + `","to":"0x70997970C51812dc3A010C7d01b50e0d17dc79C8","chainId":"0x89"}]`
	_, err = handle(t, c, testOrigin, "eth_sendTransaction", params)
	assert.True(t, errors.HasCode(err, errors.ErrCodeChainMismatch))
}

func TestPersonalSignFlow(t *testing.T) {
	c, _, _ := newTestController(t, true)
	_, err := handle(t, c, testOrigin, "eth_requestAccounts", "")
	require.NoError(t, err)

	params := `["0x68656c6c6f","` + testAddress + `"]`
	got, err := handle(t, c, testOrigin, "personal_sign", params)
	require.NoError(t, err)
	sig, ok := got.(string)
	require.True(t, ok)
	assert.Len(t, sig, 2+65*2)
}

func TestPersonalSignUnauthorized(t *testing.T) {
	c, _, surface := newTestController(t, true)
	params := `["0x68656c6c6f","` + testAddress + `"]`
	_, err := handle(t, c, testOrigin, "personal_sign", params)
	assert.True(t, errors.HasCode(err, errors.ErrCodeOriginNotAllowed))
	assert.Empty(t, surface.opened)
}

func TestSignTypedDataV4(t *testing.T) {
	c, _, _ := newTestController(t, true)
	_, err := handle(t, c, testOrigin, "eth_requestAccounts", "")
	require.NoError(t, err)

	typed := `{"types":{"EIP712Domain":[{"name":"name","type":"string"},{"name":"chainId","type":"uint256"}],"Message":[{"name":"contents","type":"string"}]},"primaryType":"Message","domain":{"name":"Test","chainId":"0x1"},"message":{"contents":"hi"}}`
	params := `["` + testAddress + `",` + typed + `]`
	got, err := handle(t, c, testOrigin, "eth_signTypedData_v4", params)
	require.NoError(t, err)
	assert.NotEmpty(t, got)

	// Same payload as a JSON string works too.
	quoted, err := json.Marshal(typed)
	require.NoError(t, err)
	params = `["` + testAddress + `",` + string(quoted) + `]`
	got, err = handle(t, c, testOrigin, "eth_signTypedData_v4", params)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

func TestLegacySigningNotImplemented(t *testing.T) {
	c, _, surface := newTestController(t, true)
	_, err := handle(t, c, testOrigin, "eth_requestAccounts", "")
	require.NoError(t, err)

	for _, method := range []string{"eth_sign", "eth_signTypedData"} {
		_, err := handle(t, c, testOrigin, method, `["0x1","0x2"]`)
		assert.True(t, errors.HasCode(err, errors.ErrCodeMethodNotImplemented), method)
	}
	// Only the requestAccounts prompt was ever opened.
	assert.Len(t, surface.opened, 1)
}

func TestSwitchEthereumChain(t *testing.T) {
	c, w, surface := newTestController(t, true)
	_, err := handle(t, c, testOrigin, "eth_requestAccounts", "")
	require.NoError(t, err)

	// Same chain: no-op, no prompt.
	_, err = handle(t, c, testOrigin, "wallet_switchEthereumChain", `[{"chainId":"0x1"}]`)
	require.NoError(t, err)
	assert.Len(t, surface.opened, 1)

	_, err = handle(t, c, testOrigin, "wallet_switchEthereumChain", `[{"chainId":"0x89"}]`)
	require.NoError(t, err)
	assert.Equal(t, "0x89", w.ChainID())
	require.Len(t, surface.opened, 2)
	assert.Equal(t, types.RouteSwitchChain, surface.opened[1].Route)
}

func TestSwitchEthereumChainDismissed(t *testing.T) {
	c, w, _ := newTestController(t, true)
	_, err := handle(t, c, testOrigin, "eth_requestAccounts", "")
	require.NoError(t, err)
	c.approvals.(*stubSurface).approve = false

	_, err = handle(t, c, testOrigin, "wallet_switchEthereumChain", `[{"chainId":"0x89"}]`)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUserRejected))
	assert.Equal(t, "0x1", w.ChainID())
}

func TestAuthorizationScopedToCurrentAddress(t *testing.T) {
	c, w, surface := newTestController(t, true)
	ctx := context.Background()
	internal := wallet.CallContext{Origin: types.InternalOrigin}

	_, err := handle(t, c, testOrigin, "eth_requestAccounts", "")
	require.NoError(t, err)
	require.NoError(t, w.SetChainID(ctx, internal, "polygon"))

	// Switch to a wallet the origin was never granted.
	masked, err := w.ImportPrivateKey(ctx, internal, secondPrivateKey)
	require.NoError(t, err)
	require.NoError(t, w.SavePendingWallet(ctx, internal))
	require.NoError(t, w.SetCurrentAddress(ctx, internal, masked.Wallets[0].Address))

	// The stale grant reveals nothing about the new current address.
	got, err := handle(t, c, testOrigin, "eth_accounts", "")
	require.NoError(t, err)
	assert.Equal(t, []string{}, got)

	got, err = handle(t, c, testOrigin, "eth_chainId", "")
	require.NoError(t, err)
	assert.Equal(t, "0x1", got)

	got, err = handle(t, c, testOrigin, "net_version", "")
	require.NoError(t, err)
	assert.Equal(t, "1", got)

	promptsBefore := len(surface.opened)
	params := `[{"from":"` + secondAddress + `","to":"` + testAddress + `","value":"0x1"}]`
	_, err = handle(t, c, testOrigin, "eth_sendTransaction", params)
	assert.True(t, errors.HasCode(err, errors.ErrCodeOriginNotAllowed))
	assert.Len(t, surface.opened, promptsBefore)

	// Switching back to the granted address restores everything.
	require.NoError(t, w.SetCurrentAddress(ctx, internal, testAddress))
	got, err = handle(t, c, testOrigin, "eth_accounts", "")
	require.NoError(t, err)
	assert.Equal(t, []string{testAddress}, got)

	got, err = handle(t, c, testOrigin, "eth_chainId", "")
	require.NoError(t, err)
	assert.Equal(t, "0x89", got)
}

func TestPersonalSignForeignAddressNoPrompt(t *testing.T) {
	c, _, surface := newTestController(t, true)
	_, err := handle(t, c, testOrigin, "eth_requestAccounts", "")
	require.NoError(t, err)

	params := `["0x68656c6c6f","` + secondAddress + `"]`
	_, err = handle(t, c, testOrigin, "personal_sign", params)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidParams))
	// Only the requestAccounts prompt was ever opened.
	assert.Len(t, surface.opened, 1)
}

func TestSignTypedDataForeignAddressNoPrompt(t *testing.T) {
	c, _, surface := newTestController(t, true)
	_, err := handle(t, c, testOrigin, "eth_requestAccounts", "")
	require.NoError(t, err)

	typed := `{"types":{"EIP712Domain":[{"name":"name","type":"string"}],"Message":[{"name":"contents","type":"string"}]},"primaryType":"Message","domain":{"name":"Test"},"message":{"contents":"hi"}}`
	params := `["` + secondAddress + `",` + typed + `]`
	_, err = handle(t, c, testOrigin, "eth_signTypedData_v4", params)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidParams))
	assert.Len(t, surface.opened, 1)
}

func TestPersonalSignDismissed(t *testing.T) {
	c, _, _ := newTestController(t, true)
	_, err := handle(t, c, testOrigin, "eth_requestAccounts", "")
	require.NoError(t, err)
	c.approvals.(*stubSurface).approve = false

	params := `["0x68656c6c6f","` + testAddress + `"]`
	_, err = handle(t, c, testOrigin, "personal_sign", params)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUserRejectedTx))
}

func TestSignTypedDataDismissed(t *testing.T) {
	c, _, _ := newTestController(t, true)
	_, err := handle(t, c, testOrigin, "eth_requestAccounts", "")
	require.NoError(t, err)
	c.approvals.(*stubSurface).approve = false

	typed := `{"types":{"EIP712Domain":[{"name":"name","type":"string"}],"Message":[{"name":"contents","type":"string"}]},"primaryType":"Message","domain":{"name":"Test"},"message":{"contents":"hi"}}`
	params := `["` + testAddress + `",` + typed + `]`
	_, err = handle(t, c, testOrigin, "eth_signTypedData_v4", params)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUserRejectedTx))
}

func TestPrivilegedMethodsRequireCurrentAddress(t *testing.T) {
	c, w, surface := newTestController(t, true)
	ctx := context.Background()
	internal := wallet.CallContext{Origin: types.InternalOrigin}

	_, err := handle(t, c, testOrigin, "eth_requestAccounts", "")
	require.NoError(t, err)

	// An emptied wallet must fail before any prompt opens.
	require.NoError(t, w.Logout(ctx, internal))
	promptsBefore := len(surface.opened)

	params := `[{"from":"` + testAddress + `","to":"` + secondAddress + `","value":"0x1"}]`
	_, err = handle(t, c, testOrigin, "eth_sendTransaction", params)
	assert.True(t, errors.HasCode(err, errors.ErrCodeWalletNotInitialized))

	_, err = handle(t, c, testOrigin, "wallet_switchEthereumChain", `[{"chainId":"0x89"}]`)
	assert.True(t, errors.HasCode(err, errors.ErrCodeWalletNotInitialized))

	_, err = handle(t, c, testOrigin, "personal_sign", `["0x68656c6c6f","`+testAddress+`"]`)
	assert.True(t, errors.HasCode(err, errors.ErrCodeWalletNotInitialized))

	assert.Len(t, surface.opened, promptsBefore)
}

func TestUnknownMethod(t *testing.T) {
	c, _, _ := newTestController(t, true)
	_, err := handle(t, c, testOrigin, "eth_getBalance", `["0x1","latest"]`)
	assert.True(t, errors.HasCode(err, errors.ErrCodeMethodNotImplemented))
}
