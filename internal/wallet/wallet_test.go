package wallet

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbus-wallet/wallet-engine/internal/networks"
	"github.com/nimbus-wallet/wallet-engine/internal/storage"
	"github.com/nimbus-wallet/wallet-engine/pkg/errors"
	"github.com/nimbus-wallet/wallet-engine/pkg/types"
)

// well-known hardhat dev keys
const (
	testPrivateKey   = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress      = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	secondPrivateKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var internalCall = CallContext{Origin: types.InternalOrigin}

type stubNode struct {
	mu       sync.Mutex
	gasPrice *big.Int
	nonce    uint64
	sent     *ethtypes.Transaction
}

func (s *stubNode) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return s.gasPrice, nil
}

func (s *stubNode) PendingNonceAt(ctx context.Context, address string) (uint64, error) {
	return s.nonce, nil
}

func (s *stubNode) EstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error) {
	return 50_000, nil
}

func (s *stubNode) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = tx
	return tx.Hash().Hex(), nil
}

func (s *stubNode) Close() {}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	wallet    *Wallet
	node      *stubNode
	recorder  *eventRecorder
	dialCount int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		node:     &stubNode{gasPrice: big.NewInt(1_000_000_000), nonce: 7},
		recorder: &eventRecorder{},
	}
	store := storage.NewEncryptedStore(storage.NewMemoryBackend())
	bus := NewBus()
	bus.Subscribe(env.recorder.record)
	env.wallet = New(store, networks.New(), func(rpcURL string) (NodeClient, error) {
		env.dialCount++
		return env.node, nil
	}, bus)
	require.NoError(t, env.wallet.SetCredentials(context.Background(), "wallet-1", "test-session-key"))
	return env
}

// importKey commits the well-known dev key so the session has a current
// address.
func (env *testEnv) importKey(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := env.wallet.ImportPrivateKey(ctx, internalCall, testPrivateKey)
	require.NoError(t, err)
	require.NoError(t, env.wallet.SavePendingWallet(ctx, internalCall))
}

func TestInternalOriginGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dapp := CallContext{Origin: "https://app.example"}

	_, err := env.wallet.GenerateMnemonic(ctx, dapp)
	assert.True(t, errors.HasCode(err, errors.ErrCodeOriginNotAllowed))

	err = env.wallet.SavePendingWallet(ctx, dapp)
	assert.True(t, errors.HasCode(err, errors.ErrCodeOriginNotAllowed))

	_, err = env.wallet.GetRecoveryPhrase(ctx, dapp, "any")
	assert.True(t, errors.HasCode(err, errors.ErrCodeOriginNotAllowed))

	_, err = env.wallet.SendTransaction(ctx, dapp, &IncomingTransaction{From: testAddress})
	assert.True(t, errors.HasCode(err, errors.ErrCodeOriginNotAllowed))
}

func TestGenerateAndSavePendingWallet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	masked, err := env.wallet.GenerateMnemonic(ctx, internalCall)
	require.NoError(t, err)
	require.Len(t, masked.Wallets, 1)
	assert.NotEmpty(t, masked.Wallets[0].Address)

	require.NoError(t, env.wallet.SavePendingWallet(ctx, internalCall))
	assert.Equal(t, masked.Wallets[0].Address, env.wallet.CurrentAddress())

	require.Len(t, env.recorder.ofType(EventRecordUpdated), 1)
	require.Len(t, env.recorder.ofType(EventCurrentAddressChange), 1)

	// Nothing staged anymore.
	err = env.wallet.SavePendingWallet(ctx, internalCall)
	assert.True(t, errors.HasCode(err, errors.ErrCodePendingWalletMissing))
}

func TestSavePendingWalletWithoutSessionKey(t *testing.T) {
	store := storage.NewEncryptedStore(storage.NewMemoryBackend())
	w := New(store, networks.New(), nil, NewBus())
	ctx := context.Background()

	_, err := w.ImportPrivateKey(ctx, internalCall, testPrivateKey)
	require.NoError(t, err)

	err = w.SavePendingWallet(ctx, internalCall)
	assert.True(t, errors.HasCode(err, errors.ErrCodeEncryptionKeyMissing))
}

func TestGeneratedWalletStagesRedacted(t *testing.T) {
	env := newTestEnv(t)
	masked, err := env.wallet.GenerateMnemonic(context.Background(), internalCall)
	require.NoError(t, err)
	// Masked views never carry key material.
	for _, w := range masked.Wallets {
		assert.NotEmpty(t, w.Address)
		assert.NotEmpty(t, w.PublicKey)
	}
}

func TestRecoveryPhraseRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.wallet.GenerateMnemonic(ctx, internalCall)
	require.NoError(t, err)
	require.NoError(t, env.wallet.SavePendingWallet(ctx, internalCall))

	groups, err := env.wallet.GetWalletGroups(internalCall)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	phrase, err := env.wallet.GetRecoveryPhrase(ctx, internalCall, groups[0].ID)
	require.NoError(t, err)
	assert.NotEmpty(t, phrase)

	// Re-importing the phrase derives the same first address.
	masked, err := env.wallet.ImportSeedPhrase(ctx, internalCall, phrase)
	require.NoError(t, err)
	assert.Equal(t, groups[0].Wallets[0].Address, masked.Wallets[0].Address)
}

func TestAddMnemonicWalletDerivesNextAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.wallet.GenerateMnemonic(ctx, internalCall)
	require.NoError(t, err)
	require.NoError(t, env.wallet.SavePendingWallet(ctx, internalCall))

	groups, err := env.wallet.GetWalletGroups(internalCall)
	require.NoError(t, err)
	first := groups[0].Wallets[0].Address

	masked, err := env.wallet.AddMnemonicWallet(ctx, internalCall, groups[0].ID)
	require.NoError(t, err)
	require.Len(t, masked.Wallets, 1)
	assert.NotEqual(t, first, masked.Wallets[0].Address)

	require.NoError(t, env.wallet.SavePendingWallet(ctx, internalCall))
	groups, err = env.wallet.GetWalletGroups(internalCall)
	require.NoError(t, err)
	assert.Len(t, groups[0].Wallets, 2)

	// Current address stays on the first account.
	assert.Equal(t, first, env.wallet.CurrentAddress())
}

func TestSetCurrentAddressIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.importKey(t)

	baseline := len(env.recorder.ofType(EventCurrentAddressChange))

	// Selecting the already-current address emits nothing, any casing.
	require.NoError(t, env.wallet.SetCurrentAddress(ctx, internalCall, testAddress))
	require.NoError(t, env.wallet.SetCurrentAddress(ctx, internalCall, "0xF39FD6E51AAD88F6F4CE6AB8827279CFFFB92266"))
	assert.Len(t, env.recorder.ofType(EventCurrentAddressChange), baseline)

	err := env.wallet.SetCurrentAddress(ctx, internalCall, "0x0000000000000000000000000000000000000001")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidParams))
}

func TestPermissionsFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.importKey(t)
	origin := "https://app.example"

	assert.False(t, env.wallet.AllowedOrigin(origin, testAddress))
	assert.Empty(t, env.wallet.AccountsFor(origin))

	require.NoError(t, env.wallet.AcceptOrigin(ctx, internalCall, origin, ""))
	assert.True(t, env.wallet.AllowedOrigin(origin, testAddress))
	assert.Equal(t, []string{"0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"}, env.wallet.AccountsFor(origin))
	require.Len(t, env.recorder.ofType(EventPermissionsUpdated), 1)

	// A grant never carries over to an address it was not issued for.
	assert.False(t, env.wallet.AllowedOrigin(origin, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"))

	require.NoError(t, env.wallet.RemovePermission(ctx, internalCall, origin, ""))
	assert.False(t, env.wallet.AllowedOrigin(origin, testAddress))
	assert.Empty(t, env.wallet.AccountsFor(origin))
}

func TestAccountsForTracksCurrentAddress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.importKey(t)
	origin := "https://app.example"

	require.NoError(t, env.wallet.AcceptOrigin(ctx, internalCall, origin, ""))
	assert.Equal(t, []string{"0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"}, env.wallet.AccountsFor(origin))

	// Switching to an address the origin was never granted hides the wallet.
	masked, err := env.wallet.ImportPrivateKey(ctx, internalCall, secondPrivateKey)
	require.NoError(t, err)
	require.NoError(t, env.wallet.SavePendingWallet(ctx, internalCall))
	second := masked.Wallets[0].Address
	require.NoError(t, env.wallet.SetCurrentAddress(ctx, internalCall, second))
	assert.Empty(t, env.wallet.AccountsFor(origin))
	assert.False(t, env.wallet.AllowedOrigin(origin, second))

	// Switching back restores visibility.
	require.NoError(t, env.wallet.SetCurrentAddress(ctx, internalCall, testAddress))
	assert.Equal(t, []string{"0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"}, env.wallet.AccountsFor(origin))
}

func TestAcceptOriginRejectsInternalOrigin(t *testing.T) {
	env := newTestEnv(t)
	env.importKey(t)
	// The internal origin is implicit and never stored as a grant.
	err := env.wallet.AcceptOrigin(context.Background(), internalCall, types.InternalOrigin, "")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidParams))
}

func TestSendTransaction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.importKey(t)

	value := (*hexutil.Big)(big.NewInt(1_000_000_000_000_000_000))
	hash, err := env.wallet.SendTransaction(ctx, internalCall, &IncomingTransaction{
		From:  testAddress,
		To:    "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		Value: value,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.Equal(t, 1, env.dialCount)

	// Gas limit defaulted, nonce and gas price fetched from the node.
	require.NotNil(t, env.node.sent)
	assert.Equal(t, uint64(21000), env.node.sent.Gas())
	assert.Equal(t, uint64(7), env.node.sent.Nonce())
	assert.Equal(t, big.NewInt(1_000_000_000), env.node.sent.GasPrice())

	// The stored copy keeps bookkeeping fields but no signature.
	txs, err := env.wallet.GetPendingTransactions(internalCall)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, hash, txs[0].Hash)
	assert.Equal(t, testAddress, txs[0].From)
	assert.Equal(t, uint64(7), txs[0].Nonce)
	assert.Equal(t, "0x1", txs[0].ChainID)

	events := env.recorder.ofType(EventPendingTransactionCreated)
	require.Len(t, events, 1)
	assert.Equal(t, hash, events[0].Transaction.Hash)
}

func TestSendTransactionChainMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.importKey(t)

	_, err := env.wallet.SendTransaction(ctx, internalCall, &IncomingTransaction{
		From:    testAddress,
		To:      "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		ChainID: "0x89",
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodeChainMismatch))

	// Failed before any node contact or event.
	assert.Equal(t, 0, env.dialCount)
	assert.Empty(t, env.recorder.ofType(EventPendingTransactionCreated))
}

func TestSendTransactionWrongFrom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.importKey(t)

	_, err := env.wallet.SendTransaction(ctx, internalCall, &IncomingTransaction{
		From: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		To:   testAddress,
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidParams))

	_, err = env.wallet.SendTransaction(ctx, internalCall, &IncomingTransaction{To: testAddress})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidParams))
}

func TestSendTransactionDynamicFee(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.importKey(t)

	maxFee := (*hexutil.Big)(big.NewInt(2_000_000_000))
	tip := (*hexutil.Big)(big.NewInt(100_000_000))
	_, err := env.wallet.SendTransaction(ctx, internalCall, &IncomingTransaction{
		From:                 testAddress,
		To:                   "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: tip,
	})
	require.NoError(t, err)
	assert.Equal(t, uint8(ethtypes.DynamicFeeTxType), env.node.sent.Type())
	assert.Equal(t, big.NewInt(2_000_000_000), env.node.sent.GasFeeCap())
}

func TestSendTransactionEstimatesGasForCalls(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.importKey(t)

	_, err := env.wallet.SendTransaction(ctx, internalCall, &IncomingTransaction{
		From: testAddress,
		To:   "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		Data: hexutil.Bytes{0xa9, 0x05, 0x9c, 0xbb},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000), env.node.sent.Gas())
}

func TestPersonalSign(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.importKey(t)

	message := hexutil.Bytes("hello world")
	sigHex, err := env.wallet.PersonalSign(ctx, internalCall, "", message)
	require.NoError(t, err)

	sig, err := hexutil.Decode(sigHex)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.True(t, sig[64] == 27 || sig[64] == 28)

	// Recover the signer.
	sig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	require.NoError(t, err)
	assert.Equal(t, testAddress, crypto.PubkeyToAddress(*pub).Hex())
}

func TestPersonalSignWrongAddress(t *testing.T) {
	env := newTestEnv(t)
	env.importKey(t)

	_, err := env.wallet.PersonalSign(context.Background(), internalCall,
		"0x70997970C51812dc3A010C7d01b50e0d17dc79C8", hexutil.Bytes("x"))
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidParams))
}

func TestSignTypedData(t *testing.T) {
	env := newTestEnv(t)
	env.importKey(t)

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"Message": {
				{Name: "contents", Type: "string"},
			},
		},
		PrimaryType: "Message",
		Domain: apitypes.TypedDataDomain{
			Name:    "Test",
			ChainId: math.NewHexOrDecimal256(1),
		},
		Message: apitypes.TypedDataMessage{"contents": "hi"},
	}

	sigHex, err := env.wallet.SignTypedData(context.Background(), internalCall, "", typedData)
	require.NoError(t, err)

	sig, err := hexutil.Decode(sigHex)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	sig[64] -= 27
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	require.NoError(t, err)
	pub, err := crypto.SigToPub(hash, sig)
	require.NoError(t, err)
	assert.Equal(t, testAddress, crypto.PubkeyToAddress(*pub).Hex())
}

func TestSetChainID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.Equal(t, "0x1", env.wallet.ChainID())

	require.NoError(t, env.wallet.SetChainID(ctx, internalCall, "polygon"))
	assert.Equal(t, "0x89", env.wallet.ChainID())
	require.Len(t, env.recorder.ofType(EventChainChanged), 1)

	// Switching to the active chain emits nothing.
	require.NoError(t, env.wallet.SetChainID(ctx, internalCall, "0x89"))
	assert.Len(t, env.recorder.ofType(EventChainChanged), 1)

	err := env.wallet.SetChainID(ctx, internalCall, "no-such-chain")
	assert.Error(t, err)
}

func TestRemoveAddressReassignsCurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.importKey(t)

	_, err := env.wallet.GenerateMnemonic(ctx, internalCall)
	require.NoError(t, err)
	require.NoError(t, env.wallet.SavePendingWallet(ctx, internalCall))

	require.NoError(t, env.wallet.RemoveAddress(ctx, internalCall, testAddress))
	next := env.wallet.CurrentAddress()
	assert.NotEmpty(t, next)
	assert.NotEqual(t, testAddress, next)

	require.NoError(t, env.wallet.RemoveAddress(ctx, internalCall, next))
	assert.Empty(t, env.wallet.CurrentAddress())
}

func TestNoBackupCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	count, err := env.wallet.GetNoBackupCount(internalCall)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, err = env.wallet.GenerateMnemonic(ctx, internalCall)
	require.NoError(t, err)
	require.NoError(t, env.wallet.SavePendingWallet(ctx, internalCall))

	count, err = env.wallet.GetNoBackupCount(internalCall)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	groups, err := env.wallet.GetWalletGroups(internalCall)
	require.NoError(t, err)
	require.NoError(t, env.wallet.UpdateLastBackedUp(ctx, internalCall, groups[0].ID))

	count, err = env.wallet.GetNoBackupCount(internalCall)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.importKey(t)
	require.NoError(t, env.wallet.AcceptOrigin(ctx, internalCall, "https://app.example", ""))

	require.NoError(t, env.wallet.Logout(ctx, internalCall))
	assert.Empty(t, env.wallet.CurrentAddress())
	assert.False(t, env.wallet.AllowedOrigin("https://app.example", testAddress))

	// The persisted ciphertext is gone too.
	err := env.wallet.SetCredentials(ctx, "wallet-1", "test-session-key")
	require.NoError(t, err)
	assert.Empty(t, env.wallet.CurrentAddress())
}

func TestPersistedRecordSurvivesRestart(t *testing.T) {
	backend := storage.NewMemoryBackend()
	store := storage.NewEncryptedStore(backend)
	ctx := context.Background()

	w1 := New(store, networks.New(), nil, NewBus())
	require.NoError(t, w1.SetCredentials(ctx, "wallet-1", "key"))
	_, err := w1.ImportPrivateKey(ctx, internalCall, testPrivateKey)
	require.NoError(t, err)
	require.NoError(t, w1.SavePendingWallet(ctx, internalCall))

	w2 := New(store, networks.New(), nil, NewBus())
	require.NoError(t, w2.SetCredentials(ctx, "wallet-1", "key"))
	assert.Equal(t, testAddress, w2.CurrentAddress())

	// Wrong key cannot decrypt.
	w3 := New(store, networks.New(), nil, NewBus())
	assert.Error(t, w3.SetCredentials(ctx, "wallet-1", "other-key"))
}
