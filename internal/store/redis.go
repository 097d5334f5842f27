package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/classex/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Token rows are effectively immutable and cache cleanly; wallet
// balance lists are cached and invalidated on every write touching the
// account. Trades and blocks are never cached — integrity verification
// must always read committed truth.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Token registry (read-through; tokens are immutable once created) ---

func (s *CachedStore) CreateToken(ctx context.Context, t *model.Token) error {
	if err := s.primary.CreateToken(ctx, t); err != nil {
		return err
	}
	s.cacheToken(ctx, t)
	return nil
}

func (s *CachedStore) GetToken(ctx context.Context, symbol string) (*model.Token, error) {
	data, err := s.rdb.Get(ctx, tokenKey(symbol)).Bytes()
	if err == nil {
		var t model.Token
		if json.Unmarshal(data, &t) == nil {
			return &t, nil
		}
	}

	t, err := s.primary.GetToken(ctx, symbol)
	if err != nil {
		return nil, err
	}

	s.cacheToken(ctx, t)
	return t, nil
}

func (s *CachedStore) ListTokens(ctx context.Context) ([]model.Token, error) {
	return s.primary.ListTokens(ctx)
}

// --- Balances ---

// GetBalance always reads the primary: the engine's read-modify-write
// path must never see a stale amount.
func (s *CachedStore) GetBalance(ctx context.Context, account, symbol string) (model.Balance, error) {
	return s.primary.GetBalance(ctx, account, symbol)
}

func (s *CachedStore) AccountBalances(ctx context.Context, account string) ([]model.Balance, error) {
	data, err := s.rdb.Get(ctx, balancesKey(account)).Bytes()
	if err == nil {
		var balances []model.Balance
		if json.Unmarshal(data, &balances) == nil {
			return balances, nil
		}
	}

	balances, err := s.primary.AccountBalances(ctx, account)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(balances); err == nil {
		s.rdb.Set(ctx, balancesKey(account), data, s.ttl)
	}
	return balances, nil
}

func (s *CachedStore) TokenHolders(ctx context.Context, symbol string) ([]model.Balance, error) {
	return s.primary.TokenHolders(ctx, symbol)
}

func (s *CachedStore) SetBalance(ctx context.Context, account, symbol string, amount, staked decimal.Decimal) error {
	if err := s.primary.SetBalance(ctx, account, symbol, amount, staked); err != nil {
		return err
	}
	s.rdb.Del(ctx, balancesKey(account))
	return nil
}

// --- Atomic transfer commit (write to primary, invalidate both parties) ---

func (s *CachedStore) CommitTransfer(ctx context.Context, c *TransferCommit) (*model.Trade, *model.Block, error) {
	trade, block, err := s.primary.CommitTransfer(ctx, c)
	if err != nil {
		return nil, nil, err
	}

	keys := []string{balancesKey(trade.To)}
	if from, ok := trade.From.Account(); ok {
		keys = append(keys, balancesKey(from))
	}
	s.rdb.Del(ctx, keys...)
	return trade, block, nil
}

// --- Passthrough (append-only history, not cached) ---

func (s *CachedStore) ListTrades(ctx context.Context) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx)
}

func (s *CachedStore) AccountTrades(ctx context.Context, account string, limit int) ([]model.Trade, error) {
	return s.primary.AccountTrades(ctx, account, limit)
}

func (s *CachedStore) TokenBlocks(ctx context.Context, symbol string) ([]model.Block, error) {
	return s.primary.TokenBlocks(ctx, symbol)
}

// --- Reference prices ---

func (s *CachedStore) SetReferencePrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	if err := s.primary.SetReferencePrice(ctx, symbol, price); err != nil {
		return err
	}
	s.rdb.Del(ctx, refPricesKey)
	return nil
}

func (s *CachedStore) ReferencePrices(ctx context.Context) (map[string]model.ReferencePrice, error) {
	data, err := s.rdb.Get(ctx, refPricesKey).Bytes()
	if err == nil {
		var prices map[string]model.ReferencePrice
		if json.Unmarshal(data, &prices) == nil {
			return prices, nil
		}
	}

	prices, err := s.primary.ReferencePrices(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(prices); err == nil {
		s.rdb.Set(ctx, refPricesKey, data, s.ttl)
	}
	return prices, nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheToken(ctx context.Context, t *model.Token) {
	if data, err := json.Marshal(t); err == nil {
		s.rdb.Set(ctx, tokenKey(t.Symbol), data, s.ttl)
	}
}

const refPricesKey = "refprices"

func tokenKey(symbol string) string     { return fmt.Sprintf("token:%s", symbol) }
func balancesKey(account string) string { return fmt.Sprintf("balances:%s", account) }
