package ledger

import "errors"

// Error taxonomy of the ledger engine. All are recoverable by the caller
// and guarantee zero partial mutation; ErrPersistence is the only fatal
// class and likewise leaves balances, trades, and blocks untouched (the
// whole atomic unit aborts).
var (
	// ErrInvalidAmount: non-positive or non-numeric amount.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")

	// ErrTokenNotFound: no token registered under the symbol.
	ErrTokenNotFound = errors.New("ledger: token not found")

	// ErrAccountNotFound: recipient could not be resolved.
	ErrAccountNotFound = errors.New("ledger: account not found")

	// ErrPolicyViolation: the anti-whale holding cap would be exceeded.
	ErrPolicyViolation = errors.New("ledger: policy violation")

	// ErrInsufficientFunds: sender balance below the gross amount.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrUnsupportedOperation: staking on a non-staking token,
	// over-stake/over-unstake, self transfers, and similar.
	ErrUnsupportedOperation = errors.New("ledger: unsupported operation")

	// ErrPersistence: the storage layer failed during the atomic commit.
	ErrPersistence = errors.New("ledger: persistence failure")
)
