package trade

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/atmx/cfd-pool/internal/contract"
	"github.com/atmx/cfd-pool/internal/ledger"
	"github.com/atmx/cfd-pool/internal/model"
	"github.com/atmx/cfd-pool/internal/oracle"
	"github.com/atmx/cfd-pool/internal/pool"
	"github.com/atmx/cfd-pool/internal/risk"
)

// EntryRequest is the body of init, enter and preview.
type EntryRequest struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
	Side    string          `json:"side"`
}

// RebalanceRequest is the body of rebalance.
type RebalanceRequest struct {
	Account string `json:"account"`
}

// PriceRequest is the body of a manual price update.
type PriceRequest struct {
	Account string          `json:"account"`
	Price   decimal.Decimal `json:"price"`
}

// ApproveRequest lets asset's pool pull Amount from Account.
type ApproveRequest struct {
	Account string          `json:"account"`
	Asset   string          `json:"asset"`
	Amount  decimal.Decimal `json:"amount"`
}

// FaucetRequest mints test settlement units. The same body approves,
// mints and exchanges the reserve coin.
type FaucetRequest struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
}

// Routes mounts the pool API on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/pools", s.ListPools)
	r.Get("/pools/{asset}", s.GetPool)
	r.Get("/pools/{asset}/history", s.GetPoolHistory)
	r.Post("/pools/{asset}/init", s.InitPool)
	r.Post("/pools/{asset}/enter", s.EnterPool)
	r.Post("/pools/{asset}/preview", s.PreviewEntry)
	r.Post("/pools/{asset}/rebalance", s.RebalancePool)
	r.Post("/pools/{asset}/price", s.SetPoolPrice)
	r.Get("/pools/{asset}/balance/{account}", s.GetUserBalance)
	r.Get("/claims/{ticker}/{account}", s.GetClaimBalance)
	r.Get("/accounts/{account}/events", s.GetAccountEvents)
	r.Post("/settlement/approve", s.ApproveSettlement)
	r.Post("/settlement/faucet", s.Faucet)
	r.Post("/settlement/exchange", s.ExchangeReserve)
	r.Get("/settlement/{account}", s.GetSettlementBalance)
	r.Post("/reserve/approve", s.ApproveReserveSpend)
	r.Post("/reserve/faucet", s.ReserveFaucet)
	r.Get("/reserve/{account}", s.GetReserveBalance)
}

// ListPools handles GET /api/v1/pools
func (s *Service) ListPools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.PoolStates())
}

// GetPool handles GET /api/v1/pools/{asset}
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	ps, err := s.PoolState(chi.URLParam(r, "asset"))
	if err != nil {
		if errors.Is(err, ErrUnknownPool) {
			writeError(w, "pool not found", http.StatusNotFound)
			return
		}
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// GetPoolHistory handles GET /api/v1/pools/{asset}/history
func (s *Service) GetPoolHistory(w http.ResponseWriter, r *http.Request) {
	asset, err := contract.ValidateAsset(chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	events, err := s.cfg.Store.ListEventsByPool(r.Context(), asset)
	if err != nil {
		s.log.Error().Err(err).Str("asset", asset).Msg("pool history failed")
		writeError(w, "failed to get pool history", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.PoolEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GetAccountEvents handles GET /api/v1/accounts/{account}/events
func (s *Service) GetAccountEvents(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	events, err := s.cfg.Store.ListEventsByAccount(r.Context(), account)
	if err != nil {
		s.log.Error().Err(err).Str("account", account).Msg("account events failed")
		writeError(w, "failed to get account events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.PoolEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// InitPool handles POST /api/v1/pools/{asset}/init
func (s *Service) InitPool(w http.ResponseWriter, r *http.Request) {
	req, amount, side, ok := decodeEntry(w, r, true)
	if !ok {
		return
	}
	res, err := s.Init(r.Context(), chi.URLParam(r, "asset"), req.Account, amount, side)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// EnterPool handles POST /api/v1/pools/{asset}/enter
func (s *Service) EnterPool(w http.ResponseWriter, r *http.Request) {
	req, amount, side, ok := decodeEntry(w, r, true)
	if !ok {
		return
	}
	res, err := s.Enter(r.Context(), chi.URLParam(r, "asset"), req.Account, amount, side)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PreviewEntry handles POST /api/v1/pools/{asset}/preview
func (s *Service) PreviewEntry(w http.ResponseWriter, r *http.Request) {
	_, amount, side, ok := decodeEntry(w, r, false)
	if !ok {
		return
	}
	res, err := s.Preview(r.Context(), chi.URLParam(r, "asset"), amount, side)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RebalancePool handles POST /api/v1/pools/{asset}/rebalance
func (s *Service) RebalancePool(w http.ResponseWriter, r *http.Request) {
	var req RebalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	res, err := s.Rebalance(r.Context(), chi.URLParam(r, "asset"), req.Account)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SetPoolPrice handles POST /api/v1/pools/{asset}/price
func (s *Service) SetPoolPrice(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	price, ok := model.Uint(req.Price)
	if !ok || price.IsZero() {
		writeError(w, "price must be a positive integer", http.StatusBadRequest)
		return
	}
	asset := chi.URLParam(r, "asset")
	if err := s.SetPrice(r.Context(), asset, req.Account, price); err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": asset, "price": price.Dec()})
}

// GetUserBalance handles GET /api/v1/pools/{asset}/balance/{account}?side=LONG
func (s *Service) GetUserBalance(w http.ResponseWriter, r *http.Request) {
	side, err := pool.ParseSide(r.URL.Query().Get("side"))
	if err != nil {
		writeError(w, "side must be LONG or SHORT", http.StatusBadRequest)
		return
	}
	asset := chi.URLParam(r, "asset")
	account := chi.URLParam(r, "account")

	claims, value, err := s.UserBalance(r.Context(), asset, account, side)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	ticker, err := contract.Ticker(asset, side)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Balance{
		Account: account,
		Ledger:  ticker,
		Amount:  model.Dec(claims),
		Value:   model.Dec(value),
	})
}

// GetClaimBalance handles GET /api/v1/claims/{ticker}/{account}
func (s *Service) GetClaimBalance(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	account := chi.URLParam(r, "account")

	bal, err := s.ClaimBalance(r.Context(), ticker, account)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	c, _ := contract.ParseTicker(ticker)
	writeJSON(w, http.StatusOK, model.Balance{
		Account: account,
		Ledger:  c.Ticker,
		Amount:  model.Dec(bal),
	})
}

// ApproveSettlement handles POST /api/v1/settlement/approve
func (s *Service) ApproveSettlement(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	amount, ok := model.Uint(req.Amount)
	if !ok {
		writeError(w, ErrInvalidAmount.Error(), http.StatusBadRequest)
		return
	}
	spender, err := s.Approve(r.Context(), req.Asset, req.Account, amount)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": req.Account,
		"spender": spender,
		"amount":  amount.Dec(),
	})
}

// Faucet handles POST /api/v1/settlement/faucet
func (s *Service) Faucet(w http.ResponseWriter, r *http.Request) {
	req, amount, ok := decodeFunds(w, r)
	if !ok {
		return
	}
	if err := s.MintTestFunds(r.Context(), req.Account, amount); err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeSettlementBalance(w, r, req.Account)
}

// ExchangeReserve handles POST /api/v1/settlement/exchange
func (s *Service) ExchangeReserve(w http.ResponseWriter, r *http.Request) {
	req, amount, ok := decodeFunds(w, r)
	if !ok {
		return
	}
	if err := s.Exchange(r.Context(), req.Account, amount); err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeSettlementBalance(w, r, req.Account)
}

// ApproveReserveSpend handles POST /api/v1/reserve/approve
func (s *Service) ApproveReserveSpend(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return
	}
	amount, ok := model.Uint(req.Amount)
	if !ok {
		writeError(w, ErrInvalidAmount.Error(), http.StatusBadRequest)
		return
	}
	spender, err := s.ApproveReserve(r.Context(), req.Account, amount)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"account": req.Account,
		"spender": spender,
		"amount":  amount.Dec(),
	})
}

// ReserveFaucet handles POST /api/v1/reserve/faucet
func (s *Service) ReserveFaucet(w http.ResponseWriter, r *http.Request) {
	req, amount, ok := decodeFunds(w, r)
	if !ok {
		return
	}
	if err := s.MintTestReserve(r.Context(), req.Account, amount); err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeReserveBalance(w, r, req.Account)
}

// GetReserveBalance handles GET /api/v1/reserve/{account}
func (s *Service) GetReserveBalance(w http.ResponseWriter, r *http.Request) {
	s.writeReserveBalance(w, r, chi.URLParam(r, "account"))
}

func (s *Service) writeReserveBalance(w http.ResponseWriter, r *http.Request, account string) {
	if s.cfg.Reserve == nil {
		s.writeOpError(w, ErrExchangeOff)
		return
	}
	bal, err := s.cfg.Reserve.BalanceOf(r.Context(), account)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Balance{
		Account: account,
		Ledger:  s.cfg.Reserve.Symbol(),
		Amount:  model.Dec(bal),
	})
}

// GetSettlementBalance handles GET /api/v1/settlement/{account}
func (s *Service) GetSettlementBalance(w http.ResponseWriter, r *http.Request) {
	s.writeSettlementBalance(w, r, chi.URLParam(r, "account"))
}

func (s *Service) writeSettlementBalance(w http.ResponseWriter, r *http.Request, account string) {
	bal, err := s.cfg.Settlement.BalanceOf(r.Context(), account)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Balance{
		Account: account,
		Ledger:  s.cfg.Settlement.Symbol(),
		Amount:  model.Dec(bal),
	})
}

// decodeEntry reads an EntryRequest and writes a 400 on bad input.
func decodeEntry(w http.ResponseWriter, r *http.Request, requireAccount bool) (EntryRequest, *uint256.Int, pool.Side, bool) {
	var req EntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return req, nil, 0, false
	}
	if req.Account == "" && requireAccount {
		writeError(w, "account is required", http.StatusBadRequest)
		return req, nil, 0, false
	}
	side, err := pool.ParseSide(req.Side)
	if err != nil {
		writeError(w, "side must be LONG or SHORT", http.StatusBadRequest)
		return req, nil, 0, false
	}
	amount, ok := model.Uint(req.Amount)
	if !ok {
		writeError(w, ErrInvalidAmount.Error(), http.StatusBadRequest)
		return req, nil, 0, false
	}
	return req, amount, side, true
}

// decodeFunds reads a FaucetRequest with a positive amount and writes a
// 400 on bad input.
func decodeFunds(w http.ResponseWriter, r *http.Request) (FaucetRequest, *uint256.Int, bool) {
	var req FaucetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return req, nil, false
	}
	if req.Account == "" {
		writeError(w, "account is required", http.StatusBadRequest)
		return req, nil, false
	}
	amount, ok := model.Uint(req.Amount)
	if !ok || amount.IsZero() {
		writeError(w, ErrInvalidAmount.Error(), http.StatusBadRequest)
		return req, nil, false
	}
	return req, amount, true
}

// statusOf maps an operation error to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrUnknownPool):
		return http.StatusNotFound
	case errors.Is(err, ErrFaucetOff), errors.Is(err, ErrExchangeOff), errors.Is(err, ledger.ErrNoReserve):
		return http.StatusForbidden
	case errors.Is(err, pool.ErrUnauthorized), errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, pool.ErrAlreadyInitialized), errors.Is(err, pool.ErrCalledBeforeInit):
		return http.StatusConflict
	case errors.Is(err, risk.ErrEntryLimitExceeded),
		errors.Is(err, risk.ErrPoolExposureExceeded),
		errors.Is(err, risk.ErrAggregateExposureExceeded):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrInsufficientAllowance):
		return http.StatusPaymentRequired
	case errors.Is(err, pool.ErrZeroAmount),
		errors.Is(err, pool.ErrDustAmount),
		errors.Is(err, pool.ErrAmountTooLarge),
		errors.Is(err, pool.ErrInvalidSide),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAccount),
		errors.Is(err, oracle.ErrInvalidPrice),
		errors.Is(err, contract.ErrInvalidTicker),
		errors.Is(err, contract.ErrInvalidAsset):
		return http.StatusBadRequest
	case errors.Is(err, oracle.ErrNoPrice), errors.Is(err, pool.ErrInvalidPrice):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Service) writeOpError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("pool operation failed")
		msg = "internal error"
	}
	writeError(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
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
