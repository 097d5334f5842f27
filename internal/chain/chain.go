// Package chain builds and verifies the per-token hash-chained audit log.
//
// Every committed trade appends exactly one block to its token's chain.
// Blocks link through SHA-256 over a pipe-joined textual preimage:
//
//	prev_hash|trade_id|from|to|symbol|amount|timestamp
//
// The renderings are a compatibility contract — any independent verifier
// must reproduce them byte for byte:
//   - trade_id: base-10 integer
//   - from: the sending account id, or the literal "SYSTEM" when the
//     trade was system-issued
//   - amount: shopspring decimal String() of the 4-dp-rounded value
//     (no trailing zeros, no exponent)
//   - timestamp: UTC, "2006-01-02T15:04:05"
//
// The first block of each token has prev_hash equal to GenesisHash.
// Chains for different tokens are fully independent.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/classex/ledger-engine/internal/model"
)

// GenesisHash is the prev_hash sentinel of each token's first block.
var GenesisHash = strings.Repeat("0", 64)

// TimeLayout is the canonical timestamp rendering inside preimages.
const TimeLayout = "2006-01-02T15:04:05"

// Verification failure reasons.
const (
	// ReasonLinkBreak: a block's prev_hash does not match the previous
	// block's this_hash — history was rewritten without re-chaining.
	ReasonLinkBreak = "link break"

	// ReasonTamper: a block's recorded fields no longer hash to its
	// stored this_hash — the block's own data was altered directly.
	ReasonTamper = "tamper"
)

// Preimage renders the canonical hash input for one block.
func Preimage(prevHash string, tradeID int64, from, to, symbol string, amount decimal.Decimal, executedAt time.Time) string {
	return fmt.Sprintf("%s|%d|%s|%s|%s|%s|%s",
		prevHash, tradeID, from, to, symbol,
		amount.String(), executedAt.UTC().Format(TimeLayout))
}

// Hash computes the lowercase-hex SHA-256 block hash for the given fields.
func Hash(prevHash string, tradeID int64, from, to, symbol string, amount decimal.Decimal, executedAt time.Time) string {
	sum := sha256.Sum256([]byte(Preimage(prevHash, tradeID, from, to, symbol, amount, executedAt)))
	return hex.EncodeToString(sum[:])
}

// BlockHash recomputes a block's hash from its own stored snapshot fields.
func BlockHash(b model.Block) string {
	return Hash(b.PrevHash, b.TradeID, b.From, b.To, b.Symbol, b.Amount, b.ExecutedAt)
}

// Report is the outcome of verifying one token's chain.
type Report struct {
	Valid         bool   `json:"valid"`
	FirstBadBlock *int64 `json:"first_bad_block,omitempty"` // Seq of the first failing block
	Reason        string `json:"reason,omitempty"`
}

// Verify replays a token's blocks in ascending sequence order and reports
// the first integrity failure, if any. Link breaks are checked before
// tampering so a severed chain is reported at the block whose link broke,
// not at whichever later block happens to re-hash cleanly.
func Verify(blocks []model.Block) Report {
	for i, b := range blocks {
		expectedPrev := GenesisHash
		if i > 0 {
			expectedPrev = blocks[i-1].ThisHash
		}
		if b.PrevHash != expectedPrev {
			seq := b.Seq
			return Report{FirstBadBlock: &seq, Reason: ReasonLinkBreak}
		}
		if BlockHash(b) != b.ThisHash {
			seq := b.Seq
			return Report{FirstBadBlock: &seq, Reason: ReasonTamper}
		}
	}
	return Report{Valid: true}
}
