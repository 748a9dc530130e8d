package insurance

import "errors"

// Precondition violations: misconfiguration or invalid caller state.
var (
	ErrInvalidParam                 = errors.New("invalid parameter")
	ErrNoWithdrawRequest            = errors.New("no withdraw request in progress")
	ErrBaseMismatch                 = errors.New("stake base does not match pool share base")
	ErrRebaseExpoOutOfBounds        = errors.New("rebase exponent out of bounds")
	ErrInsufficientShares           = errors.New("insufficient shares")
	ErrZeroBalanceWithClaims        = errors.New("fund balance is zero with outstanding shares")
	ErrWithdrawValueNotBelowBalance = errors.New("requested withdraw value is not below fund balance")
)

// Economic guard failures. Callers may retry once state changes.
var (
	ErrNothingToSettle      = errors.New("nothing to settle")
	ErrWithdrawLimitReached = errors.New("per-period withdraw limit reached")
	ErrInsuranceCapReached  = errors.New("lifetime insurance cap reached")
	ErrInsufficientFund     = errors.New("insurance fund cannot cover draw")
	ErrNoDeficit            = errors.New("market has no deficit")
	ErrPnlPoolNotEmpty      = errors.New("market pnl pool not empty")
)

// ErrEscrowNotElapsed means the withdrawal is valid but must wait.
var ErrEscrowNotElapsed = errors.New("withdraw escrow period not elapsed")
