package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/config"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/fees"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/gas"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/monitoring"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/relay"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/security"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/withdraw"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Accounts resolves CSNAs and reads account state
type Accounts interface {
	GetCsnaAccountID(ctx context.Context, btcPublicKey string) (string, error)
	GetCsnaPublicKey(ctx context.Context, btcPublicKey string) (string, error)
	GetAccountInfo(ctx context.Context, csna string) (*types.AccountInfo, error)
	GetBridgeConfig(ctx context.Context) (*types.BridgeConfig, error)
	GetBalances(ctx context.Context, csna, btcAddress string) (*types.Balances, error)
}

// DepositQuoter quotes deposits
type DepositQuoter interface {
	GetDepositAmount(ctx context.Context, amount uint64, csna string, chargeNewAccount bool) (*fees.DepositBreakdown, error)
}

// WithdrawPlanner plans withdrawals
type WithdrawPlanner interface {
	CalculateWithdraw(ctx context.Context, req withdraw.Request) *withdraw.Result
}

// GasEstimator estimates gas for NEAR batches
type GasEstimator interface {
	Estimate(ctx context.Context, req gas.Request) (*gas.Estimate, error)
}

// HistorySource reads bridge history
type HistorySource interface {
	History(ctx context.Context, fromAddress string, page, pageSize int) (*relay.HistoryPage, error)
}

// HealthChecker reports upstream health
type HealthChecker interface {
	IsHealthy(ctx context.Context) bool
}

// Deps groups the services behind the API
type Deps struct {
	Accounts  Accounts
	Deposits  DepositQuoter
	Withdraws WithdrawPlanner
	Gas       GasEstimator
	History   HistorySource
	Near      HealthChecker
	Scripts   withdraw.ScriptFetcher
}

// Server represents the planning API server
type Server struct {
	config    *config.Config
	env       types.EnvConfig
	deps      Deps
	validator *security.Validator
	limiter   *security.RateLimiter
	router    *mux.Router
	server    *http.Server
	logger    zerolog.Logger
	stop      chan struct{}
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, env types.EnvConfig, deps Deps, logger zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		config:    cfg,
		env:       env,
		deps:      deps,
		validator: security.NewValidator(env),
		limiter:   security.NewRateLimiter(cfg.Server.RateLimitPerMinute, logger),
		router:    router,
		logger:    logger.With().Str("component", "api").Logger(),
		stop:      make(chan struct{}),
	}

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	s.server = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	return s
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ready", s.handleReady).Methods("GET")
	if s.config.Metrics.Enabled {
		s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/config", s.handleConfig).Methods("GET")
	v1.HandleFunc("/csna/{btcPublicKey}", s.handleCsna).Methods("GET")

	v1.HandleFunc("/accounts/{csna}", s.handleAccount).Methods("GET")
	v1.HandleFunc("/accounts/{csna}/balances", s.handleBalances).Methods("GET")

	v1.HandleFunc("/deposit/quote", s.handleDepositQuote).Methods("POST")
	v1.HandleFunc("/withdraw/quote", s.handleWithdrawQuote).Methods("POST")
	v1.HandleFunc("/withdraw/psbt", s.handleWithdrawPSBT).Methods("POST")
	v1.HandleFunc("/gas/estimate", s.handleGasEstimate).Methods("POST")

	v1.HandleFunc("/history/{btcAddress}", s.handleHistory).Methods("GET")

	s.router.Use(s.recoverMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.rateLimitMiddleware)
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info().
		Str("address", s.server.Addr).
		Msg("Starting API server")

	s.limiter.StartCleanup(time.Minute, s.stop)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")
	close(s.stop)
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"service":     "satoshi-bridge-api",
		"environment": s.env.Environment,
		"timestamp":   time.Now().UTC(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Near != nil && !s.deps.Near.IsHealthy(r.Context()) {
		s.respondError(w, http.StatusServiceUnavailable, "near rpc not ready", nil)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
	})
}

// Middleware

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		monitoring.RecordAPIRequest(r.Method, route, strconv.Itoa(rec.status), time.Since(start).Seconds())

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Str("remote_addr", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			client = host
		}
		if !s.limiter.Allow(client) {
			s.respondError(w, http.StatusTooManyRequests, "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error().
					Interface("error", err).
					Str("path", r.URL.Path).
					Msg("Panic recovered")

				s.respondError(w, http.StatusInternalServerError, "internal server error", nil)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// Helper functions

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error().Err(err).Int("status", status).Msg("Failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]interface{}{
		"error":  message,
		"status": status,
	}

	if err != nil {
		response["details"] = err.Error()
		if status >= http.StatusInternalServerError {
			s.logger.Warn().Err(err).Int("status", status).Msg(message)
		}
	}

	s.respondJSON(w, status, response)
}

// statusFor maps the error taxonomy to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidAmount), errors.Is(err, types.ErrAccountDerivation):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrWhitelist):
		return http.StatusForbidden
	case errors.Is(err, types.ErrInsufficientGas), errors.Is(err, types.ErrInsufficientFunds), errors.Is(err, types.ErrDebtUnresolved):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrServiceBusy):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrChainQuery), errors.Is(err, types.ErrRelayRejected):
		return http.StatusBadGateway
	case errors.Is(err, types.ErrPollingTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) respondFailure(w http.ResponseWriter, message string, err error) {
	s.respondError(w, statusFor(err), message, err)
}

// bigString renders nil as "0"
func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
