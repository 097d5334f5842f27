package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/classex/ledger-engine/internal/model"
	"github.com/classex/ledger-engine/internal/store"
	"github.com/classex/ledger-engine/internal/token"
)

// --- Request/Response types ---

// TransferRequest is the JSON body for POST /transfer.
type TransferRequest struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note,omitempty"`
}

// CreateTokenRequest is the JSON body for POST /tokens.
type CreateTokenRequest struct {
	Creator        string           `json:"creator"`
	Symbol         string           `json:"symbol"`
	Name           string           `json:"name"`
	TotalSupply    decimal.Decimal  `json:"total_supply"`
	BurnRate       decimal.Decimal  `json:"burn_rate"`
	AirdropAmount  decimal.Decimal  `json:"airdrop_amount"`
	MaxHolding     *decimal.Decimal `json:"max_holding,omitempty"`
	StakingEnabled bool             `json:"staking_enabled"`
	Description    string           `json:"description,omitempty"`
}

// StakeRequest is the JSON body for POST /stake.
type StakeRequest struct {
	Account string          `json:"account"`
	Symbol  string          `json:"symbol"`
	Amount  decimal.Decimal `json:"amount"`
	Action  string          `json:"action"` // stake, unstake, or claim
}

// AirdropRequest is the JSON body for POST /tokens/{symbol}/airdrop.
type AirdropRequest struct {
	Creator string `json:"creator"`
}

// EnrollRequest is the JSON body for POST /accounts.
type EnrollRequest struct {
	Account string `json:"account"`
}

// SetPriceRequest is the JSON body for PUT /prices/{symbol}.
type SetPriceRequest struct {
	Price decimal.Decimal `json:"price"`
}

// --- HTTP Handlers ---

// HandleTransfer handles POST /api/v1/transfer
func (s *Service) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.From == "" {
		writeError(w, "from is required", http.StatusBadRequest)
		return
	}

	result, err := s.Transfer(r.Context(), model.AccountIssuer(req.From), req.To, req.Symbol, req.Amount, model.KindTransfer, req.Note)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleCreateToken handles POST /api/v1/tokens
func (s *Service) HandleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req CreateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tok, err := s.CreateToken(r.Context(), req.Creator, token.Spec{
		Symbol:         req.Symbol,
		Name:           req.Name,
		TotalSupply:    req.TotalSupply,
		BurnRate:       req.BurnRate,
		AirdropAmount:  req.AirdropAmount,
		MaxHolding:     req.MaxHolding,
		StakingEnabled: req.StakingEnabled,
		Description:    req.Description,
	})
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusCreated, tok)
}

// HandleListTokens handles GET /api/v1/tokens
func (s *Service) HandleListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := s.store.ListTokens(r.Context())
	if err != nil {
		writeError(w, "failed to list tokens", http.StatusInternalServerError)
		return
	}
	if tokens == nil {
		tokens = []model.Token{}
	}
	writeJSON(w, http.StatusOK, tokens)
}

// HandleGetToken handles GET /api/v1/tokens/{symbol}
func (s *Service) HandleGetToken(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	tok, err := s.store.GetToken(r.Context(), symbol)
	if err != nil {
		writeError(w, "token not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

// HandleAirdrop handles POST /api/v1/tokens/{symbol}/airdrop
func (s *Service) HandleAirdrop(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	var req AirdropRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.Airdrop(r.Context(), req.Creator, symbol)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleStake handles POST /api/v1/stake
func (s *Service) HandleStake(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.Stake(r.Context(), req.Account, req.Symbol, req.Amount, req.Action)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleEnroll handles POST /api/v1/accounts
// Grants the welcome reserve balance to a new account.
func (s *Service) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}

	result, err := s.EnrollAccount(r.Context(), req.Account)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// HandleWallet handles GET /api/v1/wallet/{account}
func (s *Service) HandleWallet(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	balances, err := s.store.AccountBalances(r.Context(), account)
	if err != nil {
		writeError(w, "failed to load wallet", http.StatusInternalServerError)
		return
	}
	if balances == nil {
		balances = []model.Balance{}
	}
	writeJSON(w, http.StatusOK, balances)
}

// HandleLedger handles GET /api/v1/ledger/{account}
// Returns the account's trades, newest first, optionally ?limit=N.
func (s *Service) HandleLedger(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	trades, err := s.store.AccountTrades(r.Context(), account, limit)
	if err != nil {
		writeError(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// HandleChain handles GET /api/v1/chain/{symbol}
// Returns the token's full block chain in sequence order.
func (s *Service) HandleChain(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	if _, err := s.store.GetToken(r.Context(), symbol); err != nil {
		writeError(w, "token not found", http.StatusNotFound)
		return
	}

	blocks, err := s.store.TokenBlocks(r.Context(), symbol)
	if err != nil {
		writeError(w, "failed to load chain", http.StatusInternalServerError)
		return
	}
	if blocks == nil {
		blocks = []model.Block{}
	}
	writeJSON(w, http.StatusOK, blocks)
}

// HandleVerifyChain handles GET /api/v1/chain/{symbol}/verify
func (s *Service) HandleVerifyChain(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	report, err := s.VerifyChain(r.Context(), symbol)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandlePrices handles GET /api/v1/prices
// Returns a price observation per token, optionally ?window=<seconds>.
func (s *Service) HandlePrices(w http.ResponseWriter, r *http.Request) {
	window := time.Duration(0)
	if v := r.URL.Query().Get("window"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			writeError(w, "window must be a positive number of seconds", http.StatusBadRequest)
			return
		}
		window = time.Duration(secs) * time.Second
	}

	prices, err := s.oracle.ImpliedPrices(r.Context(), window)
	if err != nil {
		writeError(w, "failed to compute prices", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

// HandleSetPrice handles PUT /api/v1/prices/{symbol}
// Sets the operator reference price used as the oracle fallback.
func (s *Service) HandleSetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	var req SetPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Price.IsNegative() {
		writeError(w, "price must be non-negative", http.StatusBadRequest)
		return
	}

	if _, err := s.store.GetToken(r.Context(), symbol); err != nil {
		writeError(w, "token not found", http.StatusNotFound)
		return
	}

	if err := s.store.SetReferencePrice(r.Context(), symbol, req.Price); err != nil {
		writeError(w, "failed to set reference price", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"symbol": symbol, "price": req.Price.String()})
}

// HandlePortfolio handles GET /api/v1/portfolio/{account}
// Values the account's holdings in reserve units.
func (s *Service) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")

	value, err := s.oracle.PortfolioValue(r.Context(), account)
	if err != nil {
		writeError(w, "failed to value portfolio", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

// statusForError maps engine errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrUnsupportedOperation):
		return http.StatusBadRequest
	case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrAccountNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPolicyViolation), errors.Is(err, ErrInsufficientFunds):
		return http.StatusConflict
	case errors.Is(err, ErrPersistence):
		return http.StatusInternalServerError
	default:
		// Token spec validation errors and other client mistakes.
		return http.StatusBadRequest
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
