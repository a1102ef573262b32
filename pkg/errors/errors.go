package errors

import (
	"errors"
	"fmt"
)

// WalletError represents an application-level error with an EIP-1193/JSON-RPC
// error code so the dapp surface can serialize it directly.
type WalletError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	RPCCode int    `json:"-"`
}

func (e *WalletError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeRecordNotFound       = "record_not_found"
	ErrCodeOriginNotAllowed     = "origin_not_allowed"
	ErrCodeInvalidParams        = "invalid_params"
	ErrCodeMethodNotImplemented = "method_not_implemented"
	ErrCodeUserRejected         = "user_rejected"
	ErrCodeUserRejectedTx       = "user_rejected_tx_signature"
	ErrCodeChainMismatch        = "chain_mismatch"
	ErrCodeWalletNotInitialized = "wallet_not_initialized"
	ErrCodePendingWalletMissing = "pending_wallet_missing"
	ErrCodeEncryptionKeyMissing = "encryption_key_missing"
	ErrCodeInternalError        = "internal_error"
)

// JSON-RPC / EIP-1193 numeric codes surfaced to dapps.
const (
	RPCUserRejected      = 4001
	RPCUnauthorized      = 4100
	RPCUnsupportedMethod = 4200
	RPCInvalidParams     = -32602
	RPCInternal          = -32603
)

// RecordNotFound signals that no decrypted record exists yet. Recoverable by
// retrying after unlock.
func RecordNotFound() *WalletError {
	return &WalletError{
		Code:    ErrCodeRecordNotFound,
		Message: "Wallet record not found",
		RPCCode: RPCInternal,
	}
}

// OriginNotAllowed signals that the caller's origin lacks permission or is not
// the internal origin. Terminal for the call.
func OriginNotAllowed(origin string) *WalletError {
	return &WalletError{
		Code:    ErrCodeOriginNotAllowed,
		Message: "Origin not allowed",
		Detail:  origin,
		RPCCode: RPCUnauthorized,
	}
}

// InvalidParams signals a malformed or missing required parameter.
func InvalidParams(detail string) *WalletError {
	return &WalletError{
		Code:    ErrCodeInvalidParams,
		Message: "Invalid request parameters",
		Detail:  detail,
		RPCCode: RPCInvalidParams,
	}
}

// MethodNotImplemented signals a deliberately unsupported RPC method.
func MethodNotImplemented(method string) *WalletError {
	return &WalletError{
		Code:    ErrCodeMethodNotImplemented,
		Message: "Method not implemented",
		Detail:  method,
		RPCCode: RPCUnsupportedMethod,
	}
}

// UserRejected signals that the user dismissed an approval prompt.
func UserRejected() *WalletError {
	return &WalletError{
		Code:    ErrCodeUserRejected,
		Message: "User rejected the request",
		RPCCode: RPCUserRejected,
	}
}

// UserRejectedTxSignature signals that the user dismissed a signing prompt.
// Distinct from UserRejected so UIs can show "cancelled" rather than "error".
func UserRejectedTxSignature() *WalletError {
	return &WalletError{
		Code:    ErrCodeUserRejectedTx,
		Message: "User rejected the transaction signature",
		RPCCode: RPCUserRejected,
	}
}

// WalletNotInitialized signals that no current address or matching wallet exists.
func WalletNotInitialized() *WalletError {
	return &WalletError{
		Code:    ErrCodeWalletNotInitialized,
		Message: "Wallet is not initialized",
		RPCCode: RPCInternal,
	}
}

// ChainMismatch signals a transaction targeting a chain other than the
// session's active chain. The call fails instead of silently switching.
func ChainMismatch(active, requested string) *WalletError {
	return &WalletError{
		Code:    ErrCodeChainMismatch,
		Message: "Transaction chain id differs from active chain",
		Detail:  fmt.Sprintf("active: %s, requested: %s", active, requested),
		RPCCode: RPCInvalidParams,
	}
}

// New creates a new WalletError
func New(code, message string, rpcCode int) *WalletError {
	return &WalletError{Code: code, Message: message, RPCCode: rpcCode}
}

// NewWithDetail creates a new WalletError with additional detail
func NewWithDetail(code, message, detail string, rpcCode int) *WalletError {
	return &WalletError{Code: code, Message: message, Detail: detail, RPCCode: rpcCode}
}

// IsWalletError checks if an error is a WalletError
func IsWalletError(err error) (*WalletError, bool) {
	var werr *WalletError
	if errors.As(err, &werr) {
		return werr, true
	}
	return nil, false
}

// HasCode reports whether err is a WalletError carrying the given code.
func HasCode(err error, code string) bool {
	if werr, ok := IsWalletError(err); ok {
		return werr.Code == code
	}
	return false
}
