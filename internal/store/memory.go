package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/classex/ledger-engine/internal/chain"
	"github.com/classex/ledger-engine/internal/model"
	"github.com/classex/ledger-engine/internal/policy"
)

type balanceKey struct {
	account string
	symbol  string
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	tokens      map[string]*model.Token
	balances    map[balanceKey]*model.Balance
	trades      []model.Trade
	blocks      map[string][]model.Block
	prices      map[string]model.ReferencePrice
	nextTradeID int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens:      make(map[string]*model.Token),
		balances:    make(map[balanceKey]*model.Balance),
		blocks:      make(map[string][]model.Block),
		prices:      make(map[string]model.ReferencePrice),
		nextTradeID: 1,
	}
}

func (s *MemoryStore) CreateToken(_ context.Context, t *model.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[t.Symbol]; ok {
		return fmt.Errorf("token %s already exists", t.Symbol)
	}

	// Store a copy to avoid external mutation.
	cp := *t
	if t.MaxHolding != nil {
		mh := *t.MaxHolding
		cp.MaxHolding = &mh
	}
	s.tokens[t.Symbol] = &cp
	return nil
}

func (s *MemoryStore) GetToken(_ context.Context, symbol string) (*model.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[symbol]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", symbol, ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTokens(_ context.Context) ([]model.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := make([]model.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		tokens = append(tokens, *t)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Symbol < tokens[j].Symbol })
	return tokens, nil
}

func (s *MemoryStore) GetBalance(_ context.Context, account, symbol string) (model.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.balanceLocked(account, symbol), nil
}

// balanceLocked returns a copy of the balance row, zero-valued if absent.
// Caller must hold at least a read lock.
func (s *MemoryStore) balanceLocked(account, symbol string) model.Balance {
	if b, ok := s.balances[balanceKey{account, symbol}]; ok {
		return *b
	}
	return model.Balance{
		Account: account,
		Symbol:  symbol,
		Amount:  decimal.Zero,
		Staked:  decimal.Zero,
	}
}

func (s *MemoryStore) AccountBalances(_ context.Context, account string) ([]model.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Balance
	for k, b := range s.balances {
		if k.account == account {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryStore) TokenHolders(_ context.Context, symbol string) ([]model.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Balance
	for k, b := range s.balances {
		if k.symbol == symbol && b.Amount.IsPositive() {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out, nil
}

func (s *MemoryStore) SetBalance(_ context.Context, account, symbol string, amount, staked decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setBalanceLocked(account, symbol, amount, staked)
	return nil
}

func (s *MemoryStore) setBalanceLocked(account, symbol string, amount, staked decimal.Decimal) {
	s.balances[balanceKey{account, symbol}] = &model.Balance{
		Account: account,
		Symbol:  symbol,
		Amount:  policy.Round(amount),
		Staked:  policy.Round(staked),
	}
}

// CommitTransfer applies balance upserts, the trade insert, and the block
// append under one lock. The single mutex gives the all-or-nothing and
// serializable properties the persistent stores get from a transaction.
func (s *MemoryStore) CommitTransfer(_ context.Context, c *TransferCommit) (*model.Trade, *model.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range c.Balances {
		s.setBalanceLocked(w.Account, w.Symbol, w.Amount, w.Staked)
	}

	trade := c.Trade
	trade.ID = s.nextTradeID
	s.nextTradeID++
	s.trades = append(s.trades, trade)

	prev := chain.GenesisHash
	tokenBlocks := s.blocks[trade.Symbol]
	if n := len(tokenBlocks); n > 0 {
		prev = tokenBlocks[n-1].ThisHash
	}

	block := model.Block{
		Seq:        int64(len(tokenBlocks) + 1),
		Symbol:     trade.Symbol,
		TradeID:    trade.ID,
		PrevHash:   prev,
		ThisHash:   c.Hash(prev, trade.ID),
		From:       trade.From.ChainText(),
		To:         trade.To,
		Amount:     trade.Amount,
		ExecutedAt: trade.ExecutedAt,
	}
	s.blocks[trade.Symbol] = append(tokenBlocks, block)

	return &trade, &block, nil
}

func (s *MemoryStore) ListTrades(_ context.Context) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Trade, len(s.trades))
	copy(out, s.trades)
	return out, nil
}

func (s *MemoryStore) AccountTrades(_ context.Context, account string, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for i := len(s.trades) - 1; i >= 0; i-- {
		t := s.trades[i]
		from, _ := t.From.Account()
		if from == account || t.To == account {
			out = append(out, t)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) TokenBlocks(_ context.Context, symbol string) ([]model.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blocks := s.blocks[symbol]
	out := make([]model.Block, len(blocks))
	copy(out, blocks)
	return out, nil
}

func (s *MemoryStore) SetReferencePrice(_ context.Context, symbol string, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prices[symbol] = model.ReferencePrice{
		Symbol:    symbol,
		Price:     price,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) ReferencePrices(_ context.Context) (map[string]model.ReferencePrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.ReferencePrice, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out, nil
}

// CorruptBlock mutates one stored block in place and reports whether it
// was found. Exists so integrity-check demos and tests can simulate
// tampering with recorded history; never called by the engine.
func (s *MemoryStore) CorruptBlock(symbol string, seq int64, fn func(*model.Block)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocks := s.blocks[symbol]
	for i := range blocks {
		if blocks[i].Seq == seq {
			fn(&blocks[i])
			return true
		}
	}
	return false
}
