package types

import "errors"

// Error taxonomy. Callers match with errors.Is; details are wrapped with %w.
var (
	ErrChainQuery        = errors.New("chain query failed")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientGas   = errors.New("not enough gas")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrDebtUnresolved    = errors.New("gas token arrears unresolved")
	ErrServiceBusy       = errors.New("service busy, please try again later")
	ErrAccountDerivation = errors.New("btc public key is required")
	ErrWhitelist         = errors.New("account is not whitelisted")
	ErrPollingTimeout    = errors.New("polling timed out")
	ErrRelayRejected     = errors.New("relay rejected request")
	ErrUserRejected      = errors.New("user rejected the request")
	ErrTransactionFailed = errors.New("transaction failed")
)
