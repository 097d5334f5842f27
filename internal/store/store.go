// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/classex/ledger-engine/internal/model"
)

// ErrNotFound is returned when a requested row does not exist. Absent
// balance rows are NOT an error — GetBalance returns a zero-valued row.
var ErrNotFound = errors.New("store: not found")

// BalanceWrite is one post-state balance upsert inside a transfer commit.
// Values are rounded to 4 decimal places on write; callers must have
// pre-validated non-negativity.
type BalanceWrite struct {
	Account string
	Symbol  string
	Amount  decimal.Decimal
	Staked  decimal.Decimal
}

// TransferCommit is the atomic unit of a transfer: balance upserts, one
// trade insert, and one block append, committed all-or-nothing. The store
// assigns the trade id and the per-token block sequence, then calls Hash
// with the chain's previous hash and the assigned trade id to obtain the
// new block's this_hash — so the hash covers the real, durable identity.
type TransferCommit struct {
	Trade    model.Trade
	Balances []BalanceWrite
	Hash     func(prevHash string, tradeID int64) string
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Token registry ---

	// CreateToken persists a new token. Fails if the symbol exists.
	CreateToken(ctx context.Context, t *model.Token) error

	// GetToken retrieves a token by symbol, or ErrNotFound.
	GetToken(ctx context.Context, symbol string) (*model.Token, error)

	// ListTokens returns all tokens ordered by symbol.
	ListTokens(ctx context.Context) ([]model.Token, error)

	// --- Balances ---

	// GetBalance returns the (account, token) holding, zero-valued if no
	// row exists. Never returns ErrNotFound.
	GetBalance(ctx context.Context, account, symbol string) (model.Balance, error)

	// AccountBalances returns all holdings for one account.
	AccountBalances(ctx context.Context, account string) ([]model.Balance, error)

	// TokenHolders returns all balances for a token with amount > 0.
	TokenHolders(ctx context.Context, symbol string) ([]model.Balance, error)

	// SetBalance upserts one holding outside a transfer commit (stake and
	// unstake moves). Both fields are rounded to 4 decimal places.
	SetBalance(ctx context.Context, account, symbol string, amount, staked decimal.Decimal) error

	// --- Atomic transfer commit ---

	// CommitTransfer applies a TransferCommit as one indivisible unit and
	// returns the trade and block as committed. On error nothing is
	// applied.
	CommitTransfer(ctx context.Context, c *TransferCommit) (*model.Trade, *model.Block, error)

	// --- Immutable history (append-only, read-side consumers) ---

	// ListTrades returns every trade ordered by trade id.
	ListTrades(ctx context.Context) ([]model.Trade, error)

	// AccountTrades returns the most recent trades touching an account,
	// newest first, capped at limit (0 = no cap).
	AccountTrades(ctx context.Context, account string, limit int) ([]model.Trade, error)

	// TokenBlocks returns a token's chain in ascending sequence order.
	TokenBlocks(ctx context.Context, symbol string) ([]model.Block, error)

	// --- Reference prices (oracle fallback) ---

	// SetReferencePrice upserts the operator-set fallback price.
	SetReferencePrice(ctx context.Context, symbol string, price decimal.Decimal) error

	// ReferencePrices returns all fallback prices keyed by symbol.
	ReferencePrices(ctx context.Context) (map[string]model.ReferencePrice, error)
}
