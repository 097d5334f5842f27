package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/classex/ledger-engine/internal/chain"
	"github.com/classex/ledger-engine/internal/model"
	"github.com/classex/ledger-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// commit pushes one trade through the store with a recognizable fake hash.
func commit(t *testing.T, ms *store.MemoryStore, from model.Issuer, to, symbol string, amount decimal.Decimal) (*model.Trade, *model.Block) {
	t.Helper()
	trade, block, err := ms.CommitTransfer(context.Background(), &store.TransferCommit{
		Trade: model.Trade{
			From:       from,
			To:         to,
			Symbol:     symbol,
			Amount:     amount,
			Kind:       model.KindTransfer,
			ExecutedAt: time.Now().UTC().Truncate(time.Second),
		},
		Hash: func(prevHash string, tradeID int64) string {
			return fmt.Sprintf("hash-%d-%s", tradeID, prevHash[:4])
		},
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	return trade, block
}

func TestGetBalance_ZeroDefault(t *testing.T) {
	ms := store.NewMemoryStore()

	b, err := ms.GetBalance(context.Background(), "alice", "GOLD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !b.Amount.IsZero() || !b.Staked.IsZero() {
		t.Errorf("missing balance should be zero-valued, got %s / %s", b.Amount, b.Staked)
	}
	if b.Account != "alice" || b.Symbol != "GOLD" {
		t.Errorf("zero balance should carry the requested keys, got %+v", b)
	}
}

func TestSetBalance_RoundsToFourDecimals(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if err := ms.SetBalance(ctx, "alice", "GOLD", d(10.12345), d(0.99999)); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	b, _ := ms.GetBalance(ctx, "alice", "GOLD")
	if !b.Amount.Equal(d(10.1235)) {
		t.Errorf("amount should round to 10.1235, got %s", b.Amount)
	}
	if !b.Staked.Equal(d(1)) {
		t.Errorf("staked should round to 1, got %s", b.Staked)
	}
}

func TestCommitTransfer_AssignsIDsAndChains(t *testing.T) {
	ms := store.NewMemoryStore()

	tr1, b1 := commit(t, ms, model.AccountIssuer("alice"), "bob", "GOLD", d(10))
	tr2, b2 := commit(t, ms, model.AccountIssuer("bob"), "alice", "GOLD", d(5))

	if tr1.ID != 1 || tr2.ID != 2 {
		t.Errorf("trade ids should be 1, 2; got %d, %d", tr1.ID, tr2.ID)
	}
	if b1.Seq != 1 || b2.Seq != 2 {
		t.Errorf("block seqs should be 1, 2; got %d, %d", b1.Seq, b2.Seq)
	}
	if b1.PrevHash != chain.GenesisHash {
		t.Errorf("first block should link to genesis, got %s", b1.PrevHash)
	}
	if b2.PrevHash != b1.ThisHash {
		t.Errorf("second block should link to first: %s != %s", b2.PrevHash, b1.ThisHash)
	}
	if b1.From != "alice" || b1.To != "bob" {
		t.Errorf("block should snapshot the parties, got %s -> %s", b1.From, b1.To)
	}
}

func TestCommitTransfer_PerTokenChains(t *testing.T) {
	ms := store.NewMemoryStore()

	_, g1 := commit(t, ms, model.System(), "alice", "GOLD", d(100))
	_, s1 := commit(t, ms, model.System(), "alice", "SILVER", d(100))
	_, g2 := commit(t, ms, model.AccountIssuer("alice"), "bob", "GOLD", d(10))

	if g1.Seq != 1 || s1.Seq != 1 || g2.Seq != 2 {
		t.Errorf("chains must be independent per token: got GOLD %d,%d SILVER %d", g1.Seq, g2.Seq, s1.Seq)
	}
	if s1.PrevHash != chain.GenesisHash {
		t.Errorf("each token chain starts at genesis, got %s", s1.PrevHash)
	}
	if g1.From != model.SystemMarker {
		t.Errorf("system trades should snapshot the SYSTEM marker, got %s", g1.From)
	}
}

func TestCommitTransfer_AppliesBalanceWrites(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	_, _, err := ms.CommitTransfer(ctx, &store.TransferCommit{
		Trade: model.Trade{
			From:       model.AccountIssuer("alice"),
			To:         "bob",
			Symbol:     "GOLD",
			Amount:     d(10),
			Kind:       model.KindTransfer,
			ExecutedAt: time.Now().UTC(),
		},
		Balances: []store.BalanceWrite{
			{Account: "alice", Symbol: "GOLD", Amount: d(90), Staked: decimal.Zero},
			{Account: "bob", Symbol: "GOLD", Amount: d(9), Staked: decimal.Zero},
		},
		Hash: func(prev string, id int64) string { return "h" },
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	a, _ := ms.GetBalance(ctx, "alice", "GOLD")
	b, _ := ms.GetBalance(ctx, "bob", "GOLD")
	if !a.Amount.Equal(d(90)) || !b.Amount.Equal(d(9)) {
		t.Errorf("balances not applied: alice=%s bob=%s", a.Amount, b.Amount)
	}
}

func TestAccountTrades_NewestFirstWithLimit(t *testing.T) {
	ms := store.NewMemoryStore()

	commit(t, ms, model.AccountIssuer("alice"), "bob", "GOLD", d(1))
	commit(t, ms, model.AccountIssuer("alice"), "carol", "GOLD", d(2))
	commit(t, ms, model.AccountIssuer("carol"), "alice", "GOLD", d(3))
	commit(t, ms, model.AccountIssuer("bob"), "carol", "GOLD", d(4)) // not alice's

	trades, err := ms.AccountTrades(context.Background(), "alice", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].ID != 3 || trades[1].ID != 2 {
		t.Errorf("expected newest first [3, 2], got [%d, %d]", trades[0].ID, trades[1].ID)
	}
}

func TestTokenHolders_ExcludesZeroBalances(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	ms.SetBalance(ctx, "alice", "GOLD", d(10), decimal.Zero)
	ms.SetBalance(ctx, "bob", "GOLD", decimal.Zero, d(5)) // fully staked
	ms.SetBalance(ctx, "carol", "SILVER", d(3), decimal.Zero)

	holders, err := ms.TokenHolders(ctx, "GOLD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(holders) != 1 || holders[0].Account != "alice" {
		t.Errorf("expected only alice as GOLD holder, got %+v", holders)
	}
}

func TestCorruptBlock(t *testing.T) {
	ms := store.NewMemoryStore()
	commit(t, ms, model.System(), "alice", "GOLD", d(100))

	ok := ms.CorruptBlock("GOLD", 1, func(b *model.Block) {
		b.Amount = d(999)
	})
	if !ok {
		t.Fatal("expected block to be found")
	}

	blocks, _ := ms.TokenBlocks(context.Background(), "GOLD")
	if !blocks[0].Amount.Equal(d(999)) {
		t.Errorf("corruption should persist, got %s", blocks[0].Amount)
	}

	if ms.CorruptBlock("GOLD", 99, func(b *model.Block) {}) {
		t.Error("corrupting a missing seq should report false")
	}
}

func TestGetToken_NotFound(t *testing.T) {
	ms := store.NewMemoryStore()

	_, err := ms.GetToken(context.Background(), "NOPE")
	if err == nil {
		t.Fatal("expected error for missing token")
	}
}
