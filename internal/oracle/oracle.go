// Package oracle derives market prices from observed trade pairs.
//
// A token's implied price is inferred from matched pairs of trades: one
// non-reserve trade and one reserve trade between the same two accounts
// (either direction) executed close together in time. Two students who
// swap 20 GOLD one way and 100 reserve the other within the window have,
// in effect, priced GOLD at 5 reserve units.
package oracle

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/classex/ledger-engine/internal/model"
)

// DefaultWindow is the default pairing window for implied prices.
const DefaultWindow = 60 * time.Second

// Source is the read-side slice of the store the oracle consumes.
type Source interface {
	ListTokens(ctx context.Context) ([]model.Token, error)
	ListTrades(ctx context.Context) ([]model.Trade, error)
	AccountBalances(ctx context.Context, account string) ([]model.Balance, error)
	ReferencePrices(ctx context.Context) (map[string]model.ReferencePrice, error)
}

// Oracle computes implied prices and portfolio valuations against one
// reserve token. It holds no state of its own.
type Oracle struct {
	src     Source
	reserve string
}

// New creates an oracle valuing tokens in units of reserveSymbol.
func New(src Source, reserveSymbol string) *Oracle {
	return &Oracle{src: src, reserve: reserveSymbol}
}

// candidate is one potential (non-reserve trade, reserve trade) pairing.
type candidate struct {
	coinTradeID int64
	cashTradeID int64
	symbol      string
	coinAmount  decimal.Decimal
	cashAmount  decimal.Decimal
	gap         time.Duration
	matchedAt   time.Time
}

// tokenStats accumulates matched volume for one token.
type tokenStats struct {
	sumCoin   decimal.Decimal
	sumCash   decimal.Decimal
	matches   int
	updatedAt time.Time
}

// ImpliedPrices returns a price observation for every token.
//
// Matching is greedy and one-to-one: candidate pairs are ordered by
// ascending time gap (ties broken by descending non-reserve trade id,
// then descending reserve trade id) and selected in that order, each
// individual trade consumed at most once across all selections.
func (o *Oracle) ImpliedPrices(ctx context.Context, window time.Duration) ([]model.PriceObservation, error) {
	if window <= 0 {
		window = DefaultWindow
	}

	trades, err := o.src.ListTrades(ctx)
	if err != nil {
		return nil, err
	}

	// Only ordinary transfers between two real accounts participate.
	var coinTrades, cashTrades []model.Trade
	for _, t := range trades {
		if t.Kind != model.KindTransfer {
			continue
		}
		if _, ok := t.From.Account(); !ok {
			continue
		}
		if t.Symbol == o.reserve {
			cashTrades = append(cashTrades, t)
		} else {
			coinTrades = append(coinTrades, t)
		}
	}

	var candidates []candidate
	for _, ct := range coinTrades {
		cf, _ := ct.From.Account()
		for _, rt := range cashTrades {
			rf, _ := rt.From.Account()
			sameParties := (cf == rf && ct.To == rt.To) || (cf == rt.To && ct.To == rf)
			if !sameParties {
				continue
			}
			gap := ct.ExecutedAt.Sub(rt.ExecutedAt)
			if gap < 0 {
				gap = -gap
			}
			if gap > window {
				continue
			}
			matchedAt := ct.ExecutedAt
			if rt.ExecutedAt.After(matchedAt) {
				matchedAt = rt.ExecutedAt
			}
			candidates = append(candidates, candidate{
				coinTradeID: ct.ID,
				cashTradeID: rt.ID,
				symbol:      ct.Symbol,
				coinAmount:  ct.Amount,
				cashAmount:  rt.Amount,
				gap:         gap,
				matchedAt:   matchedAt,
			})
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.gap != b.gap {
			return a.gap < b.gap
		}
		if a.coinTradeID != b.coinTradeID {
			return a.coinTradeID > b.coinTradeID
		}
		return a.cashTradeID > b.cashTradeID
	})

	usedCoin := make(map[int64]bool)
	usedCash := make(map[int64]bool)
	statsBySymbol := make(map[string]*tokenStats)

	for _, c := range candidates {
		if usedCoin[c.coinTradeID] || usedCash[c.cashTradeID] {
			continue
		}
		usedCoin[c.coinTradeID] = true
		usedCash[c.cashTradeID] = true

		st, ok := statsBySymbol[c.symbol]
		if !ok {
			st = &tokenStats{sumCoin: decimal.Zero, sumCash: decimal.Zero}
			statsBySymbol[c.symbol] = st
		}
		st.sumCoin = st.sumCoin.Add(c.coinAmount)
		st.sumCash = st.sumCash.Add(c.cashAmount)
		st.matches++
		if c.matchedAt.After(st.updatedAt) {
			st.updatedAt = c.matchedAt
		}
	}

	tokens, err := o.src.ListTokens(ctx)
	if err != nil {
		return nil, err
	}
	refPrices, err := o.src.ReferencePrices(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]model.PriceObservation, 0, len(tokens))
	for _, tok := range tokens {
		obs := model.PriceObservation{Symbol: tok.Symbol, Name: tok.Name}

		switch {
		case tok.Symbol == o.reserve:
			obs.Price = decimal.NewFromInt(1)
			obs.Method = model.MethodReserve
			obs.UpdatedAt = time.Now().UTC()

		default:
			st := statsBySymbol[tok.Symbol]
			if st != nil && st.matches > 0 && st.sumCoin.IsPositive() {
				obs.Price = st.sumCash.Div(st.sumCoin)
				obs.Method = model.MethodImplied
				obs.Matches = st.matches
				obs.UpdatedAt = st.updatedAt
			} else {
				obs.Method = model.MethodFallback
				obs.Price = decimal.Zero
				if rp, ok := refPrices[tok.Symbol]; ok {
					obs.Price = rp.Price
					obs.UpdatedAt = rp.UpdatedAt
				}
			}
		}
		out = append(out, obs)
	}
	return out, nil
}

// PortfolioValue values an account's holdings (amount + staked) in
// reserve units using the same price resolution as ImpliedPrices, with
// the reserve token counted 1:1.
func (o *Oracle) PortfolioValue(ctx context.Context, account string) (*model.PortfolioValue, error) {
	prices, err := o.ImpliedPrices(ctx, DefaultWindow)
	if err != nil {
		return nil, err
	}
	priceBySymbol := make(map[string]decimal.Decimal, len(prices))
	for _, p := range prices {
		priceBySymbol[p.Symbol] = p.Price
	}

	balances, err := o.src.AccountBalances(ctx, account)
	if err != nil {
		return nil, err
	}

	cash := decimal.Zero
	total := decimal.Zero
	for _, b := range balances {
		units := b.Amount.Add(b.Staked)
		if b.Symbol == o.reserve {
			cash = cash.Add(units)
			total = total.Add(units)
			continue
		}
		total = total.Add(units.Mul(priceBySymbol[b.Symbol]))
	}

	return &model.PortfolioValue{Account: account, Cash: cash, Total: total}, nil
}
