// Package model defines the core domain types shared across the ledger engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Trade kinds. Every balance movement is one of these.
const (
	KindTransfer    = "transfer"
	KindAirdrop     = "airdrop"
	KindStakeReward = "stake_reward"
	KindWelcome     = "welcome"
)

// SystemMarker is the canonical textual rendering of the system issuer in
// chain preimages and API payloads. Changing it breaks every stored hash.
const SystemMarker = "SYSTEM"

// Issuer identifies the sending side of a trade: either a real account or
// the system (mints, airdrops, staking rewards). Modeled as a tagged
// variant so the debit path is skipped by construction, not by nil checks.
type Issuer struct {
	account string
}

// System returns the system issuer.
func System() Issuer { return Issuer{} }

// AccountIssuer returns an issuer for a real account.
func AccountIssuer(account string) Issuer { return Issuer{account: account} }

// IsSystem reports whether the issuer is the system.
func (i Issuer) IsSystem() bool { return i.account == "" }

// Account returns the account id and whether the issuer is a real account.
func (i Issuer) Account() (string, bool) { return i.account, i.account != "" }

// ChainText renders the issuer for the block hash preimage: the account id,
// or SystemMarker for system-issued trades.
func (i Issuer) ChainText() string {
	if i.account == "" {
		return SystemMarker
	}
	return i.account
}

func (i Issuer) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.ChainText())
}

func (i *Issuer) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == SystemMarker {
		*i = System()
	} else {
		*i = AccountIssuer(s)
	}
	return nil
}

// Token holds the immutable policy parameters of one fungible token.
// The registry is read-only from the engine's perspective after creation.
type Token struct {
	ID             string           `json:"id" db:"id"`
	Symbol         string           `json:"symbol" db:"symbol"`
	Name           string           `json:"name" db:"name"`
	Creator        string           `json:"creator,omitempty" db:"creator"` // empty = system (reserve token)
	TotalSupply    decimal.Decimal  `json:"total_supply" db:"total_supply"`
	BurnRate       decimal.Decimal  `json:"burn_rate" db:"burn_rate"` // fraction in [0, 0.5]
	AirdropAmount  decimal.Decimal  `json:"airdrop_amount" db:"airdrop_amount"`
	MaxHolding     *decimal.Decimal `json:"max_holding,omitempty" db:"max_holding"` // nil = unlimited
	StakingEnabled bool             `json:"staking_enabled" db:"staking_enabled"`
	Description    string           `json:"description,omitempty" db:"description"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}

// Balance is one (account, token) holding. Rows are created lazily on
// first credit and never deleted. Amount and staked are independently
// non-negative at all times.
type Balance struct {
	Account string          `json:"account" db:"account"`
	Symbol  string          `json:"symbol" db:"symbol"`
	Amount  decimal.Decimal `json:"amount" db:"amount"`
	Staked  decimal.Decimal `json:"staked" db:"staked"`
}

// Trade is an immutable record of one committed balance movement.
// Once created, these are never modified or deleted.
type Trade struct {
	ID         int64           `json:"trade_id" db:"trade_id"`
	From       Issuer          `json:"from" db:"from_account"`
	To         string          `json:"to" db:"to_account"`
	Symbol     string          `json:"symbol" db:"symbol"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	Burned     decimal.Decimal `json:"burned_amount" db:"burned_amount"`
	Kind       string          `json:"kind" db:"kind"`
	Note       string          `json:"note,omitempty" db:"note"`
	ExecutedAt time.Time       `json:"executed_at" db:"executed_at"`
}

// Block is one integrity record, one per trade, per token. Blocks for a
// token form a hash chain ordered by Seq. The From/To/Amount/ExecutedAt
// fields are the snapshot of exactly what was hashed, so a verifier needs
// no joins to replay the chain.
type Block struct {
	Seq        int64           `json:"seq" db:"seq"` // per-token, starts at 1
	Symbol     string          `json:"symbol" db:"symbol"`
	TradeID    int64           `json:"trade_id" db:"trade_id"`
	PrevHash   string          `json:"prev_hash" db:"prev_hash"`
	ThisHash   string          `json:"this_hash" db:"this_hash"`
	From       string          `json:"from" db:"from_text"` // account id or SystemMarker
	To         string          `json:"to" db:"to_account"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	ExecutedAt time.Time       `json:"executed_at" db:"executed_at"`
}

// ReferencePrice is an operator-set fallback price in reserve units.
type ReferencePrice struct {
	Symbol    string          `json:"symbol" db:"symbol"`
	Price     decimal.Decimal `json:"price" db:"price"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Price derivation methods reported by the oracle.
const (
	MethodReserve  = "reserve"
	MethodImplied  = "implied"
	MethodFallback = "fallback"
)

// PriceObservation is a derived per-token exchange rate against the
// reserve token. Computed on demand, never persisted as ledger truth.
type PriceObservation struct {
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Method    string          `json:"method"`
	Matches   int             `json:"matches"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PortfolioValue is an account's holdings valued in reserve units.
type PortfolioValue struct {
	Account string          `json:"account"`
	Cash    decimal.Decimal `json:"cash"`  // reserve amount + staked
	Total   decimal.Decimal `json:"total"` // Σ units × price across all tokens
}
