package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operation metrics
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satoshi_operations_total",
			Help: "Total number of orchestrated operations",
		},
		[]string{"operation", "status"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "satoshi_operation_duration_seconds",
			Help:    "Time taken by an orchestrated operation end to end",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"operation"},
	)

	// Remote call metrics
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satoshi_rpc_requests_total",
			Help: "Total number of remote requests by backend",
		},
		[]string{"backend", "method", "status"},
	)

	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "satoshi_rpc_request_duration_seconds",
			Help:    "Remote request duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"backend", "method"},
	)

	EndpointFailovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satoshi_rpc_endpoint_failovers_total",
			Help: "Number of times a request moved to the next RPC endpoint",
		},
		[]string{"endpoint"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "satoshi_request_cache_hits_total",
		Help: "Total number of request cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "satoshi_request_cache_misses_total",
		Help: "Total number of request cache misses",
	})

	// Polling metrics
	PollAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satoshi_poll_attempts_total",
			Help: "Total number of status polling attempts",
		},
		[]string{"poller"},
	)

	PollTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satoshi_poll_timeouts_total",
			Help: "Number of pollers that exhausted their attempts",
		},
		[]string{"poller"},
	)

	// Fee metrics
	GasTokenAmount = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "satoshi_gas_token_amount",
			Help:    "Gas limit attached to intentions in BTC-token base units",
			Buckets: []float64{100, 200, 500, 1000, 2000, 5000, 10000},
		},
		[]string{"path"},
	)

	WithdrawFeeSats = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "satoshi_withdraw_network_fee_sats",
		Help:    "Bitcoin network fee of planned withdrawals",
		Buckets: []float64{500, 1000, 2000, 5000, 10000, 20000, 50000},
	})

	FeeRateSatPerVB = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "satoshi_btc_fee_rate_sat_vb",
		Help: "Last recommended Bitcoin fee rate",
	})

	// Security metrics
	WhitelistRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "satoshi_whitelist_rejections_total",
		Help: "Total number of addresses rejected by the whitelist",
	})

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "satoshi_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "satoshi_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// RecordOperation records a finished orchestration
func RecordOperation(operation, status string, duration float64) {
	OperationsTotal.WithLabelValues(operation, status).Inc()
	OperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordRPCRequest records a remote call against a backend
func RecordRPCRequest(backend, method, status string, duration float64) {
	RPCRequestsTotal.WithLabelValues(backend, method, status).Inc()
	RPCRequestDuration.WithLabelValues(backend, method).Observe(duration)
}

// RecordFailover records a move away from a failing endpoint
func RecordFailover(endpoint string) {
	EndpointFailovers.WithLabelValues(endpoint).Inc()
}

// RecordPollAttempt records one polling attempt
func RecordPollAttempt(poller string) {
	PollAttempts.WithLabelValues(poller).Inc()
}

// RecordPollTimeout records an exhausted poller
func RecordPollTimeout(poller string) {
	PollTimeouts.WithLabelValues(poller).Inc()
}

// RecordGasTokenAmount records the gas limit chosen for an intention
func RecordGasTokenAmount(useNearPayGas bool, amount uint64) {
	path := "btc"
	if useNearPayGas {
		path = "near"
	}
	GasTokenAmount.WithLabelValues(path).Observe(float64(amount))
}

// RecordAPIRequest records an API request
func RecordAPIRequest(method, endpoint, status string, duration float64) {
	APIRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}
