package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/nimbus-wallet/wallet-engine/internal/recovery"
	"github.com/nimbus-wallet/wallet-engine/internal/wallet"
	"github.com/nimbus-wallet/wallet-engine/pkg/errors"
	"github.com/nimbus-wallet/wallet-engine/pkg/types"
)

func approvalID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, errors.InvalidParams("invalid approval id")
	}
	return id, nil
}

type unlockRequest struct {
	WalletID   string `json:"walletId"`
	SessionKey string `json:"sessionKey"`
}

// handleUnlock binds the session and caches the session key wrapped by the
// configured backend, so the raw key never sits in server memory at rest.
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidParams("malformed request body"), http.StatusBadRequest)
		return
	}
	if err := s.wallet.SetCredentials(r.Context(), req.WalletID, req.SessionKey); err != nil {
		writeError(w, err, statusFor(err))
		return
	}

	wrapped, err := s.wrapper.Wrap(r.Context(), []byte(req.SessionKey))
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	s.mu.Lock()
	s.walletID = req.WalletID
	s.wrappedKey = wrapped
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	s.wallet.ResetCredentials()
	s.mu.Lock()
	s.wrappedKey = nil
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "locked"})
}

// handleRecoveryKit splits the active session key into Shamir shares for an
// offline backup.
func (s *Server) handleRecoveryKit(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	wrapped := s.wrappedKey
	s.mu.Unlock()
	if wrapped == nil {
		writeError(w, errors.New(errors.ErrCodeEncryptionKeyMissing, "No active session", errors.RPCInternal), http.StatusConflict)
		return
	}

	sessionKey, err := s.wrapper.Unwrap(r.Context(), wrapped)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	kit, err := recovery.SplitDefault(sessionKey)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, kit)
}

type restoreRequest struct {
	WalletID string   `json:"walletId"`
	Shares   []string `json:"shares"`
}

// handleRestore rebuilds the session key from recovery shares and unlocks.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidParams("malformed request body"), http.StatusBadRequest)
		return
	}
	sessionKey, err := recovery.Combine(req.Shares)
	if err != nil {
		writeError(w, errors.InvalidParams(err.Error()), http.StatusBadRequest)
		return
	}
	if err := s.wallet.SetCredentials(r.Context(), req.WalletID, string(sessionKey)); err != nil {
		writeError(w, err, statusFor(err))
		return
	}

	wrapped, err := s.wrapper.Wrap(r.Context(), sessionKey)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	s.mu.Lock()
	s.walletID = req.WalletID
	s.wrappedKey = wrapped
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

// handleInternalRPC serves the trusted UI. Every call runs under the internal
// origin.
func (s *Server) handleInternalRPC(w http.ResponseWriter, r *http.Request) {
	var env rpcEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, errors.InvalidParams("malformed request body"), http.StatusBadRequest)
		return
	}

	result, err := s.dispatchInternal(r, env.Method, env.Params)
	if err != nil {
		writeError(w, err, statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

func (s *Server) dispatchInternal(r *http.Request, method string, params json.RawMessage) (interface{}, error) {
	ctx := r.Context()
	call := wallet.CallContext{Origin: types.InternalOrigin}

	switch method {
	case "wallet_generateMnemonic":
		return s.wallet.GenerateMnemonic(ctx, call)
	case "wallet_importSeedPhrase":
		var phrase string
		if err := decodeArgs(params, &phrase); err != nil {
			return nil, err
		}
		return s.wallet.ImportSeedPhrase(ctx, call, phrase)
	case "wallet_importPrivateKey":
		var key string
		if err := decodeArgs(params, &key); err != nil {
			return nil, err
		}
		return s.wallet.ImportPrivateKey(ctx, call, key)
	case "wallet_addMnemonicWallet":
		var groupID string
		if err := decodeArgs(params, &groupID); err != nil {
			return nil, err
		}
		return s.wallet.AddMnemonicWallet(ctx, call, groupID)
	case "wallet_savePendingWallet":
		return nil, s.wallet.SavePendingWallet(ctx, call)
	case "wallet_discardPendingWallet":
		return nil, s.wallet.DiscardPendingWallet(call)
	case "wallet_getRecoveryPhrase":
		var groupID string
		if err := decodeArgs(params, &groupID); err != nil {
			return nil, err
		}
		return s.wallet.GetRecoveryPhrase(ctx, call, groupID)
	case "wallet_getRecord":
		return s.wallet.GetMaskedRecord(call)
	case "wallet_getGroups":
		return s.wallet.GetWalletGroups(call)
	case "wallet_getCurrentWallet":
		return s.wallet.GetCurrentWallet(call)
	case "wallet_setCurrentAddress":
		var address string
		if err := decodeArgs(params, &address); err != nil {
			return nil, err
		}
		return nil, s.wallet.SetCurrentAddress(ctx, call, address)
	case "wallet_removeGroup":
		var groupID string
		if err := decodeArgs(params, &groupID); err != nil {
			return nil, err
		}
		return nil, s.wallet.RemoveWalletGroup(ctx, call, groupID)
	case "wallet_removeAddress":
		var address string
		if err := decodeArgs(params, &address); err != nil {
			return nil, err
		}
		return nil, s.wallet.RemoveAddress(ctx, call, address)
	case "wallet_renameGroup":
		var groupID, name string
		if err := decodeArgs(params, &groupID, &name); err != nil {
			return nil, err
		}
		return nil, s.wallet.RenameWalletGroup(ctx, call, groupID, name)
	case "wallet_renameAddress":
		var address, name string
		if err := decodeArgs(params, &address, &name); err != nil {
			return nil, err
		}
		return nil, s.wallet.RenameAddress(ctx, call, address, name)
	case "wallet_updateLastBackedUp":
		var groupID string
		if err := decodeArgs(params, &groupID); err != nil {
			return nil, err
		}
		return nil, s.wallet.UpdateLastBackedUp(ctx, call, groupID)
	case "wallet_getNoBackupCount":
		return s.wallet.GetNoBackupCount(call)
	case "wallet_getPermissions":
		return s.wallet.GetOriginPermissions(call)
	case "wallet_removePermission":
		var origin, address string
		if err := decodeArgs(params, &origin, &address); err != nil {
			return nil, err
		}
		return nil, s.wallet.RemovePermission(ctx, call, origin, address)
	case "wallet_removeAllPermissions":
		return nil, s.wallet.RemoveAllOriginPermissions(ctx, call)
	case "wallet_getPendingTransactions":
		return s.wallet.GetPendingTransactions(call)
	case "wallet_getChainId":
		return s.wallet.ChainID(), nil
	case "wallet_switchChain":
		var identifier string
		if err := decodeArgs(params, &identifier); err != nil {
			return nil, err
		}
		return nil, s.wallet.SetChainID(ctx, call, identifier)
	case "wallet_sendTransaction":
		var incoming wallet.IncomingTransaction
		if err := decodeArgs(params, &incoming); err != nil {
			return nil, err
		}
		return s.wallet.SendTransaction(ctx, call, &incoming)
	case "wallet_logout":
		return nil, s.wallet.Logout(ctx, call)
	default:
		return nil, errors.MethodNotImplemented(method)
	}
}

// decodeArgs unpacks a params array positionally.
func decodeArgs(params json.RawMessage, targets ...interface{}) error {
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
