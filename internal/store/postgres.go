package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/classex/ledger-engine/internal/chain"
	"github.com/classex/ledger-engine/internal/model"
	"github.com/classex/ledger-engine/internal/policy"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Trades and blocks are append-only; blocks carry a strictly increasing
// per-token sequence.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InitSchema creates the ledger tables if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tokens (
			id              TEXT PRIMARY KEY,
			symbol          TEXT NOT NULL UNIQUE,
			name            TEXT NOT NULL,
			creator         TEXT NOT NULL DEFAULT '',
			total_supply    NUMERIC NOT NULL,
			burn_rate       NUMERIC NOT NULL CHECK (burn_rate >= 0 AND burn_rate <= 0.5),
			airdrop_amount  NUMERIC NOT NULL DEFAULT 0,
			max_holding     NUMERIC,
			staking_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			description     TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS balances (
			account TEXT NOT NULL,
			symbol  TEXT NOT NULL REFERENCES tokens(symbol),
			amount  NUMERIC NOT NULL DEFAULT 0 CHECK (amount >= 0),
			staked  NUMERIC NOT NULL DEFAULT 0 CHECK (staked >= 0),
			PRIMARY KEY (account, symbol)
		);

		CREATE TABLE IF NOT EXISTS trades (
			trade_id      BIGSERIAL PRIMARY KEY,
			from_account  TEXT,
			to_account    TEXT NOT NULL,
			symbol        TEXT NOT NULL REFERENCES tokens(symbol),
			amount        NUMERIC NOT NULL CHECK (amount > 0),
			burned_amount NUMERIC NOT NULL DEFAULT 0,
			kind          TEXT NOT NULL DEFAULT 'transfer',
			note          TEXT NOT NULL DEFAULT '',
			executed_at   TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS blocks (
			symbol      TEXT NOT NULL REFERENCES tokens(symbol),
			seq         BIGINT NOT NULL,
			trade_id    BIGINT NOT NULL REFERENCES trades(trade_id),
			prev_hash   TEXT NOT NULL,
			this_hash   TEXT NOT NULL,
			from_text   TEXT NOT NULL,
			to_account  TEXT NOT NULL,
			amount      NUMERIC NOT NULL,
			executed_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (symbol, seq)
		);

		CREATE TABLE IF NOT EXISTS reference_prices (
			symbol     TEXT PRIMARY KEY REFERENCES tokens(symbol),
			price      NUMERIC NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateToken(ctx context.Context, t *model.Token) error {
	var maxHolding *string
	if t.MaxHolding != nil {
		v := t.MaxHolding.String()
		maxHolding = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tokens (id, symbol, name, creator, total_supply, burn_rate,
		                     airdrop_amount, max_holding, staking_enabled, description, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11)`,
		t.ID, t.Symbol, t.Name, t.Creator,
		t.TotalSupply.String(), t.BurnRate.String(), t.AirdropAmount.String(),
		maxHolding, t.StakingEnabled, t.Description, t.CreatedAt,
	)
	return err
}

const tokenColumns = `id, symbol, name, creator,
	total_supply::TEXT, burn_rate::TEXT, airdrop_amount::TEXT, max_holding::TEXT,
	staking_enabled, description, created_at`

func scanToken(row pgx.Row) (*model.Token, error) {
	var t model.Token
	var supply, burn, airdrop string
	var maxHolding *string

	err := row.Scan(&t.ID, &t.Symbol, &t.Name, &t.Creator,
		&supply, &burn, &airdrop, &maxHolding,
		&t.StakingEnabled, &t.Description, &t.CreatedAt)
	if err != nil {
		return nil, err
	}

	t.TotalSupply, _ = decimal.NewFromString(supply)
	t.BurnRate, _ = decimal.NewFromString(burn)
	t.AirdropAmount, _ = decimal.NewFromString(airdrop)
	if maxHolding != nil {
		mh, _ := decimal.NewFromString(*maxHolding)
		t.MaxHolding = &mh
	}
	return &t, nil
}

func (s *PostgresStore) GetToken(ctx context.Context, symbol string) (*model.Token, error) {
	t, err := scanToken(s.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE symbol = $1`, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("token %s: %w", symbol, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get token %s: %w", symbol, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTokens(ctx context.Context) ([]model.Token, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tokenColumns+` FROM tokens ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []model.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *t)
	}
	return tokens, rows.Err()
}

func (s *PostgresStore) GetBalance(ctx context.Context, account, symbol string) (model.Balance, error) {
	b := model.Balance{Account: account, Symbol: symbol, Amount: decimal.Zero, Staked: decimal.Zero}

	var amount, staked string
	err := s.pool.QueryRow(ctx,
		`SELECT amount::TEXT, staked::TEXT FROM balances WHERE account = $1 AND symbol = $2`,
		account, symbol).Scan(&amount, &staked)
	if errors.Is(err, pgx.ErrNoRows) {
		return b, nil // lazily created rows: absence means zero, never an error
	}
	if err != nil {
		return b, fmt.Errorf("get balance %s/%s: %w", account, symbol, err)
	}

	b.Amount, _ = decimal.NewFromString(amount)
	b.Staked, _ = decimal.NewFromString(staked)
	return b, nil
}

func (s *PostgresStore) AccountBalances(ctx context.Context, account string) ([]model.Balance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account, symbol, amount::TEXT, staked::TEXT
		 FROM balances WHERE account = $1 ORDER BY symbol`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBalances(rows)
}

func (s *PostgresStore) TokenHolders(ctx context.Context, symbol string) ([]model.Balance, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account, symbol, amount::TEXT, staked::TEXT
		 FROM balances WHERE symbol = $1 AND amount > 0 ORDER BY account`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBalances(rows)
}

func scanBalances(rows pgx.Rows) ([]model.Balance, error) {
	var out []model.Balance
	for rows.Next() {
		var b model.Balance
		var amount, staked string
		if err := rows.Scan(&b.Account, &b.Symbol, &amount, &staked); err != nil {
			return nil, err
		}
		b.Amount, _ = decimal.NewFromString(amount)
		b.Staked, _ = decimal.NewFromString(staked)
		out = append(out, b)
	}
	return out, rows.Err()
}

const upsertBalanceSQL = `
	INSERT INTO balances (account, symbol, amount, staked)
	VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC)
	ON CONFLICT (account, symbol)
	DO UPDATE SET amount = EXCLUDED.amount, staked = EXCLUDED.staked`

func (s *PostgresStore) SetBalance(ctx context.Context, account, symbol string, amount, staked decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, upsertBalanceSQL,
		account, symbol, policy.Round(amount).String(), policy.Round(staked).String())
	return err
}

// CommitTransfer runs the whole transfer — balance upserts, trade insert,
// block append — inside one serializable transaction. The previous block
// hash is read inside the transaction so the chain link always reflects
// committed history.
func (s *PostgresStore) CommitTransfer(ctx context.Context, c *TransferCommit) (*model.Trade, *model.Block, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, nil, fmt.Errorf("begin transfer tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, w := range c.Balances {
		if _, err := tx.Exec(ctx, upsertBalanceSQL,
			w.Account, w.Symbol, policy.Round(w.Amount).String(), policy.Round(w.Staked).String()); err != nil {
			return nil, nil, fmt.Errorf("upsert balance %s/%s: %w", w.Account, w.Symbol, err)
		}
	}

	trade := c.Trade
	var fromAccount *string
	if acct, ok := trade.From.Account(); ok {
		fromAccount = &acct
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO trades (from_account, to_account, symbol, amount, burned_amount, kind, note, executed_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8)
		 RETURNING trade_id`,
		fromAccount, trade.To, trade.Symbol,
		trade.Amount.String(), trade.Burned.String(),
		trade.Kind, trade.Note, trade.ExecutedAt,
	).Scan(&trade.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("insert trade: %w", err)
	}

	prev := chain.GenesisHash
	var seq int64
	err = tx.QueryRow(ctx,
		`SELECT this_hash, seq FROM blocks WHERE symbol = $1 ORDER BY seq DESC LIMIT 1`,
		trade.Symbol).Scan(&prev, &seq)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, fmt.Errorf("read chain head: %w", err)
	}

	block := model.Block{
		Seq:        seq + 1,
		Symbol:     trade.Symbol,
		TradeID:    trade.ID,
		PrevHash:   prev,
		ThisHash:   c.Hash(prev, trade.ID),
		From:       trade.From.ChainText(),
		To:         trade.To,
		Amount:     trade.Amount,
		ExecutedAt: trade.ExecutedAt,
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO blocks (symbol, seq, trade_id, prev_hash, this_hash, from_text, to_account, amount, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9)`,
		block.Symbol, block.Seq, block.TradeID, block.PrevHash, block.ThisHash,
		block.From, block.To, block.Amount.String(), block.ExecutedAt,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("append block: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit transfer: %w", err)
	}
	return &trade, &block, nil
}

const tradeColumns = `trade_id, from_account, to_account, symbol,
	amount::TEXT, burned_amount::TEXT, kind, note, executed_at`

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		var fromAccount *string
		var amount, burned string

		if err := rows.Scan(&t.ID, &fromAccount, &t.To, &t.Symbol,
			&amount, &burned, &t.Kind, &t.Note, &t.ExecutedAt); err != nil {
			return nil, err
		}

		if fromAccount != nil {
			t.From = model.AccountIssuer(*fromAccount)
		} else {
			t.From = model.System()
		}
		t.Amount, _ = decimal.NewFromString(amount)
		t.Burned, _ = decimal.NewFromString(burned)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTrades(ctx context.Context) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades ORDER BY trade_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) AccountTrades(ctx context.Context, account string, limit int) ([]model.Trade, error) {
	q := `SELECT ` + tradeColumns + ` FROM trades
	      WHERE from_account = $1 OR to_account = $1
	      ORDER BY trade_id DESC`
	args := []any{account}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) TokenBlocks(ctx context.Context, symbol string) ([]model.Block, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, seq, trade_id, prev_hash, this_hash, from_text, to_account,
		        amount::TEXT, executed_at
		 FROM blocks WHERE symbol = $1 ORDER BY seq`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Block
	for rows.Next() {
		var b model.Block
		var amount string
		if err := rows.Scan(&b.Symbol, &b.Seq, &b.TradeID, &b.PrevHash, &b.ThisHash,
			&b.From, &b.To, &amount, &b.ExecutedAt); err != nil {
			return nil, err
		}
		b.Amount, _ = decimal.NewFromString(amount)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetReferencePrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reference_prices (symbol, price, updated_at)
		 VALUES ($1, $2::NUMERIC, NOW())
		 ON CONFLICT (symbol) DO UPDATE SET price = EXCLUDED.price, updated_at = EXCLUDED.updated_at`,
		symbol, price.String())
	return err
}

func (s *PostgresStore) ReferencePrices(ctx context.Context) (map[string]model.ReferencePrice, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, price::TEXT, updated_at FROM reference_prices`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]model.ReferencePrice)
	for rows.Next() {
		var rp model.ReferencePrice
		var price string
		if err := rows.Scan(&rp.Symbol, &price, &rp.UpdatedAt); err != nil {
			return nil, err
		}
		rp.Price, _ = decimal.NewFromString(price)
		out[rp.Symbol] = rp
	}
	return out, rows.Err()
}
