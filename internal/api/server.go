// Package api is the HTTP front of the wallet engine: the dapp RPC endpoint,
// the trusted-UI endpoints, the approval queue, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nimbus-wallet/wallet-engine/internal/approval"
	"github.com/nimbus-wallet/wallet-engine/internal/config"
	"github.com/nimbus-wallet/wallet-engine/internal/keywrap"
	"github.com/nimbus-wallet/wallet-engine/internal/rpc"
	"github.com/nimbus-wallet/wallet-engine/internal/storage"
	"github.com/nimbus-wallet/wallet-engine/internal/wallet"
	"github.com/nimbus-wallet/wallet-engine/pkg/errors"
)

// OriginHeader carries the dapp origin on /rpc requests. Set by the extension
// transport, never by the dapp itself.
const OriginHeader = "X-Dapp-Origin"

// Server wires the controller, the approval broker and the session-key
// plumbing behind HTTP.
type Server struct {
	cfg        *config.Config
	wallet     *wallet.Wallet
	controller *rpc.Controller
	broker     *approval.Broker
	store      *storage.EncryptedStore
	wrapper    keywrap.Wrapper
	limiter    *OriginLimiter
	httpServer *http.Server

	mu         sync.Mutex
	walletID   string
	wrappedKey []byte
}

func NewServer(
	cfg *config.Config,
	w *wallet.Wallet,
	controller *rpc.Controller,
	broker *approval.Broker,
	store *storage.EncryptedStore,
	wrapper keywrap.Wrapper,
) *Server {
	return &Server{
		cfg:        cfg,
		wallet:     w,
		controller: controller,
		broker:     broker,
		store:      store,
		wrapper:    wrapper,
		limiter:    NewOriginLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /rpc", s.handleDappRPC)
	mux.HandleFunc("POST /internal/rpc", s.handleInternalRPC)

	mux.HandleFunc("POST /session", s.handleUnlock)
	mux.HandleFunc("DELETE /session", s.handleLock)
	mux.HandleFunc("POST /session/restore", s.handleRestore)
	mux.HandleFunc("GET /internal/recovery-kit", s.handleRecoveryKit)

	mux.HandleFunc("GET /approvals", s.handleListApprovals)
	mux.HandleFunc("POST /approvals/{id}/resume", s.handleResumeApproval)
	mux.HandleFunc("POST /approvals/{id}/dismiss", s.handleDismissApproval)

	return RequestID(Logging(mux))
}

// Start runs the server until Shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ready(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// rpcEnvelope is the request shape of /rpc and /internal/rpc.
type rpcEnvelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

func (s *Server) handleDappRPC(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get(OriginHeader)
	if !s.limiter.Allow(origin) {
		rateLimited.Inc()
		writeError(w, errors.New(errors.ErrCodeInternalError, "Too many requests", errors.RPCInternal), http.StatusTooManyRequests)
		return
	}

	var env rpcEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, errors.InvalidParams("malformed request body"), http.StatusBadRequest)
		return
	}

	result, err := s.controller.Handle(r.Context(), origin, env.Method, env.Params)
	if err != nil {
		rpcRequests.WithLabelValues(env.Method, "error").Inc()
		writeError(w, err, statusFor(err))
		return
	}
	rpcRequests.WithLabelValues(env.Method, "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{"result": result})
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"pending": s.broker.Pending()})
}

func (s *Server) handleResumeApproval(w http.ResponseWriter, r *http.Request) {
	id, err := approvalID(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	// An empty body is a plain approval; a malformed one must not resume
	// the waiter with a garbage payload.
	var payload json.RawMessage
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && err != io.EOF {
			writeError(w, errors.InvalidParams("malformed approval payload"), http.StatusBadRequest)
			return
		}
	}
	if err := s.broker.Resume(id, payload); err != nil {
		writeError(w, errors.InvalidParams(err.Error()), http.StatusNotFound)
		return
	}
	approvalDecisions.WithLabelValues("approved").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleDismissApproval(w http.ResponseWriter, r *http.Request) {
	id, err := approvalID(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if err := s.broker.Dismiss(id); err != nil {
		writeError(w, errors.InvalidParams(err.Error()), http.StatusNotFound)
		return
	}
	approvalDecisions.WithLabelValues("dismissed").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

// statusFor maps wallet errors to HTTP statuses.
func statusFor(err error) int {
	werr, ok := errors.IsWalletError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch werr.RPCCode {
	case errors.RPCUserRejected:
		return http.StatusForbidden
	case errors.RPCUnauthorized:
		return http.StatusUnauthorized
	case errors.RPCUnsupportedMethod:
		return http.StatusNotImplemented
	case errors.RPCInvalidParams:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error, status int) {
	werr, ok := errors.IsWalletError(err)
	if !ok {
		werr = errors.New(errors.ErrCodeInternalError, err.Error(), errors.RPCInternal)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    werr.Code,
			"message": werr.Message,
			"detail":  werr.Detail,
			"rpcCode": werr.RPCCode,
		},
	})
}
