// Package token handles validation of token creation parameters — the
// policy surface of the token registry. Registered tokens are immutable,
// so every constraint is enforced once, here, at creation time.
package token

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// symbolRegex matches 2–8 uppercase letters, e.g. GOLD or MOONCOIN.
var symbolRegex = regexp.MustCompile(`^[A-Z]{2,8}$`)

var (
	ErrInvalidSymbol   = errors.New("token: symbol must be 2-8 uppercase letters")
	ErrInvalidName     = errors.New("token: name required, max 40 characters")
	ErrInvalidSupply   = errors.New("token: total supply must be in (0, 1000000]")
	ErrInvalidBurnRate = errors.New("token: burn rate must be in [0, 0.5]")
	ErrInvalidPolicy   = errors.New("token: invalid policy parameter")
)

// Policy bounds.
var (
	MaxSupply   = decimal.NewFromInt(1_000_000)
	MaxBurnRate = decimal.NewFromFloat(0.5)
)

// Spec is a validated token creation request.
type Spec struct {
	Symbol         string           `json:"symbol"`
	Name           string           `json:"name"`
	TotalSupply    decimal.Decimal  `json:"total_supply"`
	BurnRate       decimal.Decimal  `json:"burn_rate"`
	AirdropAmount  decimal.Decimal  `json:"airdrop_amount"`
	MaxHolding     *decimal.Decimal `json:"max_holding,omitempty"` // nil = unlimited
	StakingEnabled bool             `json:"staking_enabled"`
	Description    string           `json:"description,omitempty"`
}

// Validate checks every policy parameter against the registry's bounds.
func (s *Spec) Validate() error {
	if !symbolRegex.MatchString(s.Symbol) {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, s.Symbol)
	}
	if s.Name == "" || len(s.Name) > 40 {
		return ErrInvalidName
	}
	if s.TotalSupply.LessThanOrEqual(decimal.Zero) || s.TotalSupply.GreaterThan(MaxSupply) {
		return fmt.Errorf("%w: %s", ErrInvalidSupply, s.TotalSupply)
	}
	if s.BurnRate.IsNegative() || s.BurnRate.GreaterThan(MaxBurnRate) {
		return fmt.Errorf("%w: %s", ErrInvalidBurnRate, s.BurnRate)
	}
	if s.AirdropAmount.IsNegative() {
		return fmt.Errorf("%w: airdrop amount must be >= 0", ErrInvalidPolicy)
	}
	if s.MaxHolding != nil && s.MaxHolding.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: max holding must be positive when set", ErrInvalidPolicy)
	}
	return nil
}
