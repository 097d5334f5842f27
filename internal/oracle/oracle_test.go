package oracle_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/classex/ledger-engine/internal/model"
	"github.com/classex/ledger-engine/internal/oracle"
	"github.com/classex/ledger-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var t0 = time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

// newTestOracle seeds a store with a reserve token and one coin token.
func newTestOracle(t *testing.T) (*oracle.Oracle, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	ctx := context.Background()

	for _, tok := range []model.Token{
		{ID: "r", Symbol: "USDX", Name: "Reserve", TotalSupply: d(999999)},
		{ID: "g", Symbol: "GOLD", Name: "Gold", Creator: "alice", TotalSupply: d(1000)},
	} {
		tok := tok
		if err := ms.CreateToken(ctx, &tok); err != nil {
			t.Fatalf("seed token: %v", err)
		}
	}
	return oracle.New(ms, "USDX"), ms
}

// seedTrade records one committed trade with a controlled timestamp.
func seedTrade(t *testing.T, ms *store.MemoryStore, from model.Issuer, to, symbol string, amount decimal.Decimal, at time.Time) int64 {
	t.Helper()
	trade, _, err := ms.CommitTransfer(context.Background(), &store.TransferCommit{
		Trade: model.Trade{
			From:       from,
			To:         to,
			Symbol:     symbol,
			Amount:     amount,
			Kind:       model.KindTransfer,
			ExecutedAt: at,
		},
		Hash: func(prev string, id int64) string { return "h" },
	})
	if err != nil {
		t.Fatalf("seed trade: %v", err)
	}
	return trade.ID
}

func priceOf(t *testing.T, obs []model.PriceObservation, symbol string) model.PriceObservation {
	t.Helper()
	for _, o := range obs {
		if o.Symbol == symbol {
			return o
		}
	}
	t.Fatalf("no observation for %s", symbol)
	return model.PriceObservation{}
}

func TestImpliedPrice_FromMatchedPair(t *testing.T) {
	orc, ms := newTestOracle(t)

	// alice sends 20 GOLD, bob sends back 100 USDX ten seconds later.
	seedTrade(t, ms, model.AccountIssuer("alice"), "bob", "GOLD", d(20), t0)
	seedTrade(t, ms, model.AccountIssuer("bob"), "alice", "USDX", d(100), t0.Add(10*time.Second))

	obs, err := orc.ImpliedPrices(context.Background(), 60*time.Second)
	if err != nil {
		t.Fatalf("implied prices failed: %v", err)
	}

	gold := priceOf(t, obs, "GOLD")
	if gold.Method != model.MethodImplied {
		t.Fatalf("expected implied method, got %s", gold.Method)
	}
	if !gold.Price.Equal(d(5)) {
		t.Errorf("expected price 5, got %s", gold.Price)
	}
	if gold.Matches != 1 {
		t.Errorf("expected 1 match, got %d", gold.Matches)
	}

	usdx := priceOf(t, obs, "USDX")
	if usdx.Method != model.MethodReserve || !usdx.Price.Equal(d(1)) {
		t.Errorf("reserve should always price at 1, got %+v", usdx)
	}
}

func TestImpliedPrice_DirectionAgnostic(t *testing.T) {
	orc, ms := newTestOracle(t)

	// Both legs flow the same way; the parties still match.
	seedTrade(t, ms, model.AccountIssuer("alice"), "bob", "GOLD", d(10), t0)
	seedTrade(t, ms, model.AccountIssuer("alice"), "bob", "USDX", d(40), t0.Add(5*time.Second))

	obs, err := orc.ImpliedPrices(context.Background(), 60*time.Second)
	if err != nil {
		t.Fatalf("implied prices failed: %v", err)
	}

	gold := priceOf(t, obs, "GOLD")
	if gold.Method != model.MethodImplied || !gold.Price.Equal(d(4)) {
		t.Errorf("expected implied price 4, got %+v", gold)
	}
}

func TestImpliedPrice_WindowExcludesDistantPairs(t *testing.T) {
	orc, ms := newTestOracle(t)

	seedTrade(t, ms, model.AccountIssuer("alice"), "bob", "GOLD", d(20), t0)
	seedTrade(t, ms, model.AccountIssuer("bob"), "alice", "USDX", d(100), t0.Add(2*time.Minute))

	obs, err := orc.ImpliedPrices(context.Background(), 60*time.Second)
	if err != nil {
		t.Fatalf("implied prices failed: %v", err)
	}

	gold := priceOf(t, obs, "GOLD")
	if gold.Method != model.MethodFallback || !gold.Price.IsZero() {
		t.Errorf("pair outside the window should fall back to zero, got %+v", gold)
	}
}

func TestImpliedPrice_OneToOneConsumption(t *testing.T) {
	orc, ms := newTestOracle(t)

	// Two GOLD legs compete for a single USDX leg. The closer one (5s
	// later, 1s gap) wins; the other goes unmatched.
	seedTrade(t, ms, model.AccountIssuer("alice"), "bob", "GOLD", d(20), t0)
	seedTrade(t, ms, model.AccountIssuer("alice"), "bob", "GOLD", d(10), t0.Add(5*time.Second))
	seedTrade(t, ms, model.AccountIssuer("bob"), "alice", "USDX", d(40), t0.Add(6*time.Second))

	obs, err := orc.ImpliedPrices(context.Background(), 60*time.Second)
	if err != nil {
		t.Fatalf("implied prices failed: %v", err)
	}

	gold := priceOf(t, obs, "GOLD")
	if gold.Matches != 1 {
		t.Fatalf("cash leg must be consumed once, got %d matches", gold.Matches)
	}
	if !gold.Price.Equal(d(4)) { // 40 / 10
		t.Errorf("expected price from the closest pair (4), got %s", gold.Price)
	}
}

func TestImpliedPrice_IgnoresSystemAndNonTransferTrades(t *testing.T) {
	orc, ms := newTestOracle(t)

	// System mint and airdrop kinds never participate in pricing.
	ms.CommitTransfer(context.Background(), &store.TransferCommit{
		Trade: model.Trade{
			From: model.System(), To: "alice", Symbol: "GOLD",
			Amount: d(1000), Kind: model.KindWelcome, ExecutedAt: t0,
		},
		Hash: func(prev string, id int64) string { return "h" },
	})
	ms.CommitTransfer(context.Background(), &store.TransferCommit{
		Trade: model.Trade{
			From: model.AccountIssuer("alice"), To: "bob", Symbol: "USDX",
			Amount: d(50), Kind: model.KindAirdrop, ExecutedAt: t0,
		},
		Hash: func(prev string, id int64) string { return "h" },
	})

	obs, err := orc.ImpliedPrices(context.Background(), 60*time.Second)
	if err != nil {
		t.Fatalf("implied prices failed: %v", err)
	}

	gold := priceOf(t, obs, "GOLD")
	if gold.Method != model.MethodFallback {
		t.Errorf("system trades must not imply a price, got %+v", gold)
	}
}

func TestImpliedPrice_FallbackToReferencePrice(t *testing.T) {
	orc, ms := newTestOracle(t)
	ctx := context.Background()

	if err := ms.SetReferencePrice(ctx, "GOLD", d(2.5)); err != nil {
		t.Fatalf("set reference price: %v", err)
	}

	obs, err := orc.ImpliedPrices(ctx, 60*time.Second)
	if err != nil {
		t.Fatalf("implied prices failed: %v", err)
	}

	gold := priceOf(t, obs, "GOLD")
	if gold.Method != model.MethodFallback || !gold.Price.Equal(d(2.5)) {
		t.Errorf("expected fallback 2.5, got %+v", gold)
	}
}

func TestPortfolioValue(t *testing.T) {
	orc, ms := newTestOracle(t)
	ctx := context.Background()

	// GOLD implied at 5 via a matched pair between two other accounts.
	seedTrade(t, ms, model.AccountIssuer("bob"), "carol", "GOLD", d(20), t0)
	seedTrade(t, ms, model.AccountIssuer("carol"), "bob", "USDX", d(100), t0.Add(10*time.Second))

	// alice: 100 USDX cash, 6 GOLD liquid + 4 GOLD staked.
	ms.SetBalance(ctx, "alice", "USDX", d(100), decimal.Zero)
	ms.SetBalance(ctx, "alice", "GOLD", d(6), d(4))

	pv, err := orc.PortfolioValue(ctx, "alice")
	if err != nil {
		t.Fatalf("portfolio value failed: %v", err)
	}

	if !pv.Cash.Equal(d(100)) {
		t.Errorf("expected cash 100, got %s", pv.Cash)
	}
	if !pv.Total.Equal(d(150)) { // 100 + (6+4) × 5
		t.Errorf("expected total 150, got %s", pv.Total)
	}
}
