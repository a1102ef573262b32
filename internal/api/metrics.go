package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walletd_rpc_requests_total",
		Help: "Dapp RPC requests by method and outcome.",
	}, []string{"method", "outcome"})

	approvalDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walletd_approval_decisions_total",
		Help: "Approval prompt decisions.",
	}, []string{"decision"})

	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "walletd_rate_limited_total",
		Help: "Dapp RPC requests rejected by the per-origin rate limiter.",
	})
)
