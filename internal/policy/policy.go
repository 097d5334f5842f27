// Package policy implements the per-token transfer rules: burn arithmetic,
// the anti-whale holding cap, and staking eligibility checks.
//
// The anti-whale check runs against the post-burn received amount, not the
// gross amount, since that is what actually lands in the recipient's
// balance. It is checked before the sender's funds so a capacity violation
// is reported even when the sender would also fail.
package policy

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/classex/ledger-engine/internal/model"
)

var (
	// ErrHoldingCapExceeded is returned when a credit would push the
	// recipient's balance past the token's max_holding.
	ErrHoldingCapExceeded = errors.New("policy: anti-whale holding cap exceeded")

	// ErrStakingDisabled is returned for stake operations on a token
	// whose policy does not enable staking.
	ErrStakingDisabled = errors.New("policy: token does not support staking")
)

// Scale is the number of decimal places every balance and burn amount is
// rounded to before it is written.
const Scale int32 = 4

// Round normalizes a monetary value to the ledger's 4-decimal scale.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// ApplyBurn splits a gross transfer amount into the burned slice and the
// amount the recipient actually receives. Only ordinary transfers burn;
// system-issued kinds (airdrop, stake_reward, welcome) pass through whole.
func ApplyBurn(tok *model.Token, amount decimal.Decimal, kind string) (burned, received decimal.Decimal) {
	if kind == model.KindTransfer {
		burned = Round(amount.Mul(tok.BurnRate))
	} else {
		burned = decimal.Zero
	}
	received = Round(amount.Sub(burned))
	return burned, received
}

// CheckHoldingCap validates the anti-whale cap for a prospective credit.
// current is the recipient's existing amount; received is the post-burn
// credit. Tokens without a cap always pass.
func CheckHoldingCap(tok *model.Token, current, received decimal.Decimal) error {
	if tok.MaxHolding == nil {
		return nil
	}
	if current.Add(received).GreaterThan(*tok.MaxHolding) {
		return ErrHoldingCapExceeded
	}
	return nil
}

// CheckStaking validates that the token's policy permits stake operations.
func CheckStaking(tok *model.Token) error {
	if !tok.StakingEnabled {
		return ErrStakingDisabled
	}
	return nil
}
