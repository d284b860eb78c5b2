package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/EmekaIwuagwu/satoshi-bridge/internal/account"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/fees"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/gas"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/types"
	"github.com/EmekaIwuagwu/satoshi-bridge/internal/withdraw"
	"github.com/gorilla/mux"
)

// Config handlers

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Accounts.GetBridgeConfig(r.Context())
	if err != nil {
		s.respondFailure(w, "failed to read bridge config", err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"environment":   s.env,
		"bridge_config": cfg,
	})
}

// Account handlers

func (s *Server) handleCsna(w http.ResponseWriter, r *http.Request) {
	btcPublicKey := mux.Vars(r)["btcPublicKey"]
	if err := s.validator.BTCPublicKey(btcPublicKey); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid btc public key", err)
		return
	}

	csna, err := s.deps.Accounts.GetCsnaAccountID(r.Context(), btcPublicKey)
	if err != nil {
		s.respondFailure(w, "failed to resolve account", err)
		return
	}
	publicKey, err := s.deps.Accounts.GetCsnaPublicKey(r.Context(), btcPublicKey)
	if err != nil {
		s.respondFailure(w, "failed to resolve account key", err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"csna":           csna,
		"public_key":     publicKey,
		"btc_public_key": btcPublicKey,
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	csna := mux.Vars(r)["csna"]

	info, err := s.deps.Accounts.GetAccountInfo(r.Context(), csna)
	if err != nil {
		s.respondFailure(w, "failed to read account", err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"csna":        csna,
		"account":     info,
		"is_new":      info.IsNew(),
		"total_debt":  strconv.FormatUint(info.TotalDebt(), 10),
		"debt_action": account.DebtAction(info, s.env.AccountContractID),
	})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	csna := mux.Vars(r)["csna"]
	btcAddress := r.URL.Query().Get("btc_address")
	if btcAddress != "" {
		if err := s.validator.BTCAddress(btcAddress); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid btc address", err)
			return
		}
	}

	balances, err := s.deps.Accounts.GetBalances(r.Context(), csna, btcAddress)
	if err != nil {
		s.respondFailure(w, "failed to read balances", err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"csna":          csna,
		"near":          bigString(balances.Near),
		"btc_token":     bigString(balances.BTCToken),
		"gas_token":     strconv.FormatUint(balances.GasToken, 10),
		"btc_confirmed": strconv.FormatUint(balances.BTCConfirmed, 10),
	})
}

// Deposit handlers

type depositQuoteRequest struct {
	Amount       string `json:"amount"`
	BTCPublicKey string `json:"btc_public_key,omitempty"`
	// NewAccountCharge applies the first-deposit surcharge to new accounts
	NewAccountCharge bool `json:"new_account_charge"`
}

func (s *Server) handleDepositQuote(w http.ResponseWriter, r *http.Request) {
	var req depositQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	amount, err := s.validator.Amount(req.Amount)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid amount", err)
		return
	}

	var csna string
	if req.BTCPublicKey != "" {
		if csna, err = s.resolveCsna(r.Context(), req.BTCPublicKey); err != nil {
			s.respondFailure(w, "failed to resolve account", err)
			return
		}
	}

	breakdown, err := s.deps.Deposits.GetDepositAmount(r.Context(), amount, csna, req.NewAccountCharge)
	if err != nil {
		s.respondFailure(w, "failed to quote deposit", err)
		return
	}

	response := map[string]interface{}{
		"csna":      csna,
		"amount":    strconv.FormatUint(amount, 10),
		"breakdown": breakdown,
		"valid":     true,
	}
	if err := fees.ValidateDeposit(amount, *breakdown, s.env.BTCTokenDecimals); err != nil {
		response["valid"] = false
		response["error"] = err.Error()
	}

	s.respondJSON(w, http.StatusOK, response)
}

// Withdraw handlers

type withdrawRequest struct {
	Amount       string `json:"amount"`
	FeeRate      uint64 `json:"fee_rate,omitempty"`
	BTCPublicKey string `json:"btc_public_key"`
	BTCAddress   string `json:"btc_address"`
}

func (s *Server) planWithdraw(w http.ResponseWriter, r *http.Request) (*withdraw.Request, *types.WithdrawPlan, bool) {
	var body withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return nil, nil, false
	}

	amount, err := s.validator.Amount(body.Amount)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid amount", err)
		return nil, nil, false
	}
	if err := s.validator.BTCAddress(body.BTCAddress); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid btc address", err)
		return nil, nil, false
	}

	csna, err := s.resolveCsna(r.Context(), body.BTCPublicKey)
	if err != nil {
		s.respondFailure(w, "failed to resolve account", err)
		return nil, nil, false
	}

	req := withdraw.Request{
		Amount:       amount,
		FeeRate:      body.FeeRate,
		CSNA:         csna,
		BTCPublicKey: body.BTCPublicKey,
		BTCAddress:   body.BTCAddress,
	}
	result := s.deps.Withdraws.CalculateWithdraw(r.Context(), req)
	if result.IsError {
		s.respondFailure(w, result.ErrorMsg, result.Err)
		return nil, nil, false
	}
	return &req, result.Plan, true
}

func (s *Server) handleWithdrawQuote(w http.ResponseWriter, r *http.Request) {
	req, plan, ok := s.planWithdraw(w, r)
	if !ok {
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"csna": req.CSNA,
		"plan": plan,
	})
}

func (s *Server) handleWithdrawPSBT(w http.ResponseWriter, r *http.Request) {
	req, plan, ok := s.planWithdraw(w, r)
	if !ok {
		return
	}

	params := withdraw.NetworkParams(s.env.Network)
	packet, err := withdraw.BuildPSBT(r.Context(), plan, params, s.deps.Scripts)
	if err != nil {
		s.respondFailure(w, "failed to build psbt", err)
		return
	}
	b64, hexPSBT, err := withdraw.EncodePSBT(packet)
	if err != nil {
		s.respondFailure(w, "failed to encode psbt", err)
		return
	}
	msg, err := withdraw.NewWithdrawMsg(req.BTCAddress, plan, params)
	if err != nil {
		s.respondFailure(w, "failed to build withdraw message", err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"csna":         req.CSNA,
		"plan":         plan,
		"psbt_base64":  b64,
		"psbt_hex":     hexPSBT,
		"withdraw_msg": msg,
	})
}

// Gas handlers

type gasEstimateRequest struct {
	BTCPublicKey string                     `json:"btc_public_key"`
	Strategy     string                     `json:"strategy,omitempty"`
	Transactions []types.PendingTransaction `json:"transactions"`
}

func (s *Server) handleGasEstimate(w http.ResponseWriter, r *http.Request) {
	var req gasEstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Transactions) == 0 {
		s.respondError(w, http.StatusBadRequest, "transactions are required", nil)
		return
	}

	strategy, err := gas.ParseStrategy(req.Strategy)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid gas strategy", err)
		return
	}

	csna, err := s.resolveCsna(r.Context(), req.BTCPublicKey)
	if err != nil {
		s.respondFailure(w, "failed to resolve account", err)
		return
	}

	estimate, err := s.deps.Gas.Estimate(r.Context(), gas.Request{
		CSNA:         csna,
		BTCPublicKey: req.BTCPublicKey,
		Transactions: req.Transactions,
		Strategy:     strategy,
	})
	if err != nil {
		s.respondFailure(w, "failed to estimate gas", err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"csna":             csna,
		"use_near_pay_gas": estimate.UseNearPayGas,
		"gas_limit":        strconv.FormatUint(estimate.GasLimit, 10),
		"transactions":     estimate.Batch(req.Transactions),
	})
}

// History handlers

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	btcAddress := mux.Vars(r)["btcAddress"]
	if err := s.validator.BTCAddress(btcAddress); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid btc address", err)
		return
	}

	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	pageSize, _ := strconv.Atoi(query.Get("page_size"))
	if pageSize > 100 {
		pageSize = 100
	}

	history, err := s.deps.History.History(r.Context(), btcAddress, page, pageSize)
	if err != nil {
		s.respondFailure(w, "failed to read history", err)
		return
	}

	s.respondJSON(w, http.StatusOK, history)
}

func (s *Server) resolveCsna(ctx context.Context, btcPublicKey string) (string, error) {
	if err := s.validator.BTCPublicKey(btcPublicKey); err != nil {
		return "", err
	}
	return s.deps.Accounts.GetCsnaAccountID(ctx, btcPublicKey)
}
