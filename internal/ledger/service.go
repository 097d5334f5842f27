// Package ledger implements the transfer engine: atomic balance mutation
// under per-token policy, the per-token audit chain, and the staking and
// airdrop mechanics built on top of it.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/classex/ledger-engine/internal/chain"
	"github.com/classex/ledger-engine/internal/metrics"
	"github.com/classex/ledger-engine/internal/model"
	"github.com/classex/ledger-engine/internal/oracle"
	"github.com/classex/ledger-engine/internal/policy"
	"github.com/classex/ledger-engine/internal/store"
	"github.com/classex/ledger-engine/internal/token"
)

// Stake actions.
const (
	ActionStake   = "stake"
	ActionUnstake = "unstake"
	ActionClaim   = "claim"
)

// Config holds the engine's operating parameters.
type Config struct {
	// ReserveSymbol is the base token every price is quoted in.
	ReserveSymbol string

	// StartingBalance is the welcome grant for newly enrolled accounts.
	StartingBalance decimal.Decimal

	// StakingRate is the reward fraction paid per claim.
	StakingRate decimal.Decimal
}

// DefaultConfig returns the standard classroom parameters.
func DefaultConfig() Config {
	return Config{
		ReserveSymbol:   "USDX",
		StartingBalance: decimal.NewFromInt(100),
		StakingRate:     decimal.NewFromFloat(0.02),
	}
}

// Service is the ledger engine. A mutex serializes every balance
// read-modify-write (single-instance discipline, like the rest of the
// engine's request-synchronous model); each store commit is additionally
// all-or-nothing, so no partial transfer is ever durable.
type Service struct {
	store  store.Store
	oracle *oracle.Oracle
	cfg    Config
	mu     sync.Mutex
	wsHub  *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new ledger service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, orc *oracle.Oracle, cfg Config, hub *WSHub) *Service {
	if cfg.ReserveSymbol == "" {
		cfg = DefaultConfig()
	}
	return &Service{
		store:  st,
		oracle: orc,
		cfg:    cfg,
		wsHub:  hub,
	}
}

// Reserve returns the reserve token symbol.
func (s *Service) Reserve() string { return s.cfg.ReserveSymbol }

// EnsureReserveToken seeds the reserve token if it does not exist yet.
func (s *Service) EnsureReserveToken(ctx context.Context) error {
	_, err := s.store.GetToken(ctx, s.cfg.ReserveSymbol)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	tok := &model.Token{
		ID:          uuid.New().String(),
		Symbol:      s.cfg.ReserveSymbol,
		Name:        "Reserve",
		TotalSupply: decimal.NewFromInt(999_999),
		BurnRate:    decimal.Zero,
		Description: "The reserve token every price is quoted in.",
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateToken(ctx, tok); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	slog.Info("reserve token seeded", "symbol", tok.Symbol)
	return nil
}

// TransferResult reports one committed transfer.
type TransferResult struct {
	TradeID   int64           `json:"trade_id"`
	Burned    decimal.Decimal `json:"burned"`
	Received  decimal.Decimal `json:"received"`
	BlockHash string          `json:"block_hash"`
}

// Transfer moves value between accounts under the token's policy rules.
// On any rejection there are zero observable side effects; on success
// exactly one balance mutation pair, one trade, and one block are
// committed together.
func (s *Service) Transfer(ctx context.Context, from model.Issuer, to, symbol string, amount decimal.Decimal, kind, note string) (*TransferResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferLocked(ctx, from, to, symbol, amount, kind, note)
}

func (s *Service) transferLocked(ctx context.Context, from model.Issuer, to, symbol string, amount decimal.Decimal, kind, note string) (*TransferResult, error) {
	amount = policy.Round(amount)
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, s.reject(ErrInvalidAmount)
	}
	if to == "" {
		return nil, s.reject(ErrAccountNotFound)
	}
	if sender, ok := from.Account(); ok && sender == to {
		return nil, s.reject(fmt.Errorf("%w: cannot transfer to yourself", ErrUnsupportedOperation))
	}

	tok, err := s.store.GetToken(ctx, symbol)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.reject(ErrTokenNotFound)
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	burned, received := policy.ApplyBurn(tok, amount, kind)

	// Anti-whale before the funds check: a capacity violation is reported
	// even when the sender would also fail. The creator's initial supply
	// mint is exempt; the cap constrains accumulation, not issuance.
	recipient, err := s.store.GetBalance(ctx, to, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if kind != model.KindWelcome {
		if err := policy.CheckHoldingCap(tok, recipient.Amount, received); err != nil {
			return nil, s.reject(fmt.Errorf("%w: %v", ErrPolicyViolation, err))
		}
	}

	writes := make([]store.BalanceWrite, 0, 2)
	if sender, ok := from.Account(); ok {
		sb, err := s.store.GetBalance(ctx, sender, symbol)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if sb.Amount.LessThan(amount) {
			return nil, s.reject(ErrInsufficientFunds)
		}
		writes = append(writes, store.BalanceWrite{
			Account: sender,
			Symbol:  symbol,
			Amount:  sb.Amount.Sub(amount), // debit the gross amount; the burn is destroyed
			Staked:  sb.Staked,
		})
	}
	writes = append(writes, store.BalanceWrite{
		Account: to,
		Symbol:  symbol,
		Amount:  recipient.Amount.Add(received),
		Staked:  recipient.Staked,
	})

	executedAt := time.Now().UTC().Truncate(time.Second)
	commit := &store.TransferCommit{
		Trade: model.Trade{
			From:       from,
			To:         to,
			Symbol:     symbol,
			Amount:     amount,
			Burned:     burned,
			Kind:       kind,
			Note:       note,
			ExecutedAt: executedAt,
		},
		Balances: writes,
		Hash: func(prevHash string, tradeID int64) string {
			return chain.Hash(prevHash, tradeID, from.ChainText(), to, symbol, amount, executedAt)
		},
	}

	trade, block, err := s.store.CommitTransfer(ctx, commit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	metrics.TransfersTotal.WithLabelValues(kind).Inc()
	if burned.IsPositive() {
		burnedF, _ := burned.Float64()
		metrics.BurnedTotal.WithLabelValues(symbol).Add(burnedF)
	}
	metrics.ChainHeight.WithLabelValues(symbol).Set(float64(block.Seq))

	slog.Info("transfer committed",
		"trade_id", trade.ID,
		"from", from.ChainText(),
		"to", to,
		"symbol", symbol,
		"kind", kind,
		"amount", amount.String(),
		"burned", burned.String(),
		"block_seq", block.Seq,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "trade_committed",
			Symbol:    symbol,
			From:      from.ChainText(),
			To:        to,
			Kind:      kind,
			Amount:    amount.String(),
			BlockSeq:  block.Seq,
			BlockHash: block.ThisHash,
		})
	}

	return &TransferResult{
		TradeID:   trade.ID,
		Burned:    burned,
		Received:  received,
		BlockHash: block.ThisHash,
	}, nil
}

// reject records a rejection metric and passes the error through.
func (s *Service) reject(err error) error {
	reason := "other"
	switch {
	case errors.Is(err, ErrInvalidAmount):
		reason = "invalid_amount"
	case errors.Is(err, ErrTokenNotFound):
		reason = "token_not_found"
	case errors.Is(err, ErrAccountNotFound):
		reason = "account_not_found"
	case errors.Is(err, ErrPolicyViolation):
		reason = "policy_violation"
	case errors.Is(err, ErrInsufficientFunds):
		reason = "insufficient_funds"
	case errors.Is(err, ErrUnsupportedOperation):
		reason = "unsupported"
	}
	metrics.TransferRejections.WithLabelValues(reason).Inc()
	return err
}

// CreateToken registers a new token and mints its full supply to the
// creator as a system welcome trade (the token's genesis block).
func (s *Service) CreateToken(ctx context.Context, creator string, spec token.Spec) (*model.Token, error) {
	if creator == "" {
		return nil, ErrAccountNotFound
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.GetToken(ctx, spec.Symbol); err == nil {
		return nil, fmt.Errorf("%w: symbol %s already taken", ErrUnsupportedOperation, spec.Symbol)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	// One token per creator.
	existing, err := s.store.ListTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	for _, t := range existing {
		if t.Creator == creator {
			return nil, fmt.Errorf("%w: account %s already created token %s", ErrUnsupportedOperation, creator, t.Symbol)
		}
	}

	tok := &model.Token{
		ID:             uuid.New().String(),
		Symbol:         spec.Symbol,
		Name:           spec.Name,
		Creator:        creator,
		TotalSupply:    spec.TotalSupply,
		BurnRate:       spec.BurnRate,
		AirdropAmount:  spec.AirdropAmount,
		MaxHolding:     spec.MaxHolding,
		StakingEnabled: spec.StakingEnabled,
		Description:    spec.Description,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if _, err := s.transferLocked(ctx, model.System(), creator, tok.Symbol, tok.TotalSupply, model.KindWelcome, "Initial token supply"); err != nil {
		return nil, err
	}

	slog.Info("token created", "symbol", tok.Symbol, "creator", creator, "supply", tok.TotalSupply.String())
	return tok, nil
}

// EnrollAccount grants a new account its starting reserve balance.
func (s *Service) EnrollAccount(ctx context.Context, account string) (*TransferResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transferLocked(ctx, model.System(), account, s.cfg.ReserveSymbol, s.cfg.StartingBalance, model.KindWelcome, "Welcome grant")
}

// AirdropResult reports one airdrop run.
type AirdropResult struct {
	Recipients   int             `json:"recipients"`
	TotalDropped decimal.Decimal `json:"total_dropped"`
}

// Airdrop pushes the token's configured airdrop amount to every holder
// except the creator. Individual credits that violate policy (a
// recipient at their cap) are skipped; the run reports how many landed.
func (s *Service) Airdrop(ctx context.Context, creator, symbol string) (*AirdropResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.store.GetToken(ctx, symbol)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if tok.Creator == "" || tok.Creator != creator {
		return nil, fmt.Errorf("%w: only the token creator can airdrop", ErrUnsupportedOperation)
	}
	if !tok.AirdropAmount.IsPositive() {
		return nil, fmt.Errorf("%w: token has no airdrop amount configured", ErrUnsupportedOperation)
	}

	holders, err := s.store.TokenHolders(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	result := &AirdropResult{TotalDropped: decimal.Zero}
	for _, h := range holders {
		if h.Account == creator {
			continue
		}
		note := fmt.Sprintf("Airdrop from %s", creator)
		if _, err := s.transferLocked(ctx, model.System(), h.Account, symbol, tok.AirdropAmount, model.KindAirdrop, note); err != nil {
			if errors.Is(err, ErrPersistence) {
				return nil, err
			}
			continue // policy rejection for one holder does not abort the run
		}
		result.Recipients++
		result.TotalDropped = result.TotalDropped.Add(tok.AirdropAmount)
	}

	if result.Recipients == 0 {
		return nil, fmt.Errorf("%w: no eligible holders", ErrUnsupportedOperation)
	}
	return result, nil
}

// StakeResult reports one stake operation. Staked is the post-operation
// staked total; Reward is only set for claims.
type StakeResult struct {
	Staked decimal.Decimal `json:"staked"`
	Reward decimal.Decimal `json:"reward,omitempty"`
}

// Stake moves balance into or out of the non-transferable staked bucket,
// or claims the staking reward. Claims mint round(staked × rate, 4) as a
// system stake_reward transfer with its own trade and block.
func (s *Service) Stake(ctx context.Context, account, symbol string, amount decimal.Decimal, action string) (*StakeResult, error) {
	if account == "" {
		return nil, ErrAccountNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.store.GetToken(ctx, symbol)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := policy.CheckStaking(tok); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedOperation, err)
	}

	bal, err := s.store.GetBalance(ctx, account, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	switch action {
	case ActionStake:
		amount = policy.Round(amount)
		if amount.LessThanOrEqual(decimal.Zero) {
			return nil, ErrInvalidAmount
		}
		if bal.Amount.LessThan(amount) {
			return nil, fmt.Errorf("%w: stake exceeds available balance", ErrUnsupportedOperation)
		}
		if err := s.store.SetBalance(ctx, account, symbol, bal.Amount.Sub(amount), bal.Staked.Add(amount)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		metrics.StakeOps.WithLabelValues(action).Inc()
		return &StakeResult{Staked: policy.Round(bal.Staked.Add(amount))}, nil

	case ActionUnstake:
		amount = policy.Round(amount)
		if amount.LessThanOrEqual(decimal.Zero) {
			return nil, ErrInvalidAmount
		}
		if bal.Staked.LessThan(amount) {
			return nil, fmt.Errorf("%w: unstake exceeds staked balance", ErrUnsupportedOperation)
		}
		if err := s.store.SetBalance(ctx, account, symbol, bal.Amount.Add(amount), bal.Staked.Sub(amount)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		metrics.StakeOps.WithLabelValues(action).Inc()
		return &StakeResult{Staked: policy.Round(bal.Staked.Sub(amount))}, nil

	case ActionClaim:
		if !bal.Staked.IsPositive() {
			return nil, fmt.Errorf("%w: nothing staked", ErrUnsupportedOperation)
		}
		reward := policy.Round(bal.Staked.Mul(s.cfg.StakingRate))
		note := fmt.Sprintf("Staking reward (%s of %s staked)", s.cfg.StakingRate.String(), bal.Staked.String())
		if _, err := s.transferLocked(ctx, model.System(), account, symbol, reward, model.KindStakeReward, note); err != nil {
			return nil, err
		}
		metrics.StakeOps.WithLabelValues(action).Inc()
		return &StakeResult{Staked: bal.Staked, Reward: reward}, nil

	default:
		return nil, fmt.Errorf("%w: unknown stake action %q", ErrUnsupportedOperation, action)
	}
}

// VerifyChain replays a token's block chain and reports the first
// integrity failure, if any.
func (s *Service) VerifyChain(ctx context.Context, symbol string) (chain.Report, error) {
	if _, err := s.store.GetToken(ctx, symbol); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return chain.Report{}, ErrTokenNotFound
		}
		return chain.Report{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	blocks, err := s.store.TokenBlocks(ctx, symbol)
	if err != nil {
		return chain.Report{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	report := chain.Verify(blocks)
	result := "valid"
	if !report.Valid {
		result = report.Reason
	}
	metrics.ChainVerifications.WithLabelValues(result).Inc()

	if !report.Valid {
		slog.Warn("chain verification failed",
			"symbol", symbol,
			"first_bad_block", *report.FirstBadBlock,
			"reason", report.Reason,
		)
	}
	return report, nil
}
