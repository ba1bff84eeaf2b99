// Package trade provides the HTTP handlers and business logic for
// creating markets, placing orders, and running the settlement lifecycle.
//
// All integer amounts are uint64 base units; derived analytics use
// shopspring/decimal — never float64 for money.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stanx/market-engine/internal/contract"
	"github.com/stanx/market-engine/internal/correlation"
	"github.com/stanx/market-engine/internal/custody"
	"github.com/stanx/market-engine/internal/engine"
	"github.com/stanx/market-engine/internal/metrics"
	"github.com/stanx/market-engine/internal/model"
	"github.com/stanx/market-engine/internal/quote"
	"github.com/stanx/market-engine/internal/store"
)

// defaultMaxIterations caps the number of trade steps a single order may
// execute before the remainder rests or converts.
const defaultMaxIterations = 50

// Service handles market operations. Uses a mutex for serialized order
// execution (single-instance). For horizontal scaling, replace with
// distributed locking or database-level optimistic concurrency.
type Service struct {
	store   store.Store
	vault   *custody.MemoryVault
	limiter *correlation.PositionLimiter
	quoter  *quote.Quoter

	mu      sync.Mutex
	engines map[string]*engine.Market

	wsHub *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, vault *custody.MemoryVault, limiter *correlation.PositionLimiter, quoter *quote.Quoter, hub *WSHub) *Service {
	return &Service{
		store:   st,
		vault:   vault,
		limiter: limiter,
		quoter:  quoter,
		engines: make(map[string]*engine.Market),
		wsHub:   hub,
	}
}

// engineFor returns the live engine for a market, rehydrating its config
// and ledger entries from the store on first access. Resting orders are
// not persisted; a restarted instance starts with empty books.
// Caller must hold s.mu.
func (s *Service) engineFor(r *http.Request, marketID string) (*engine.Market, error) {
	if eng, ok := s.engines[marketID]; ok {
		return eng, nil
	}

	ctx := r.Context()
	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}

	ledgers := engine.NewLedgerSet(m.ID)
	entries, err := s.store.ListLedgerEntries(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		ledgers.Restore(e)
	}

	eng := engine.NewMarket(*m, ledgers, s.vault)
	s.engines[marketID] = eng
	return eng, nil
}

// syncState persists the engine's market config and the given users'
// ledger entries after a successful operation.
func (s *Service) syncState(r *http.Request, eng *engine.Market, users ...string) {
	ctx := r.Context()
	cfg := eng.Config()
	if err := s.store.UpdateMarketState(ctx, &cfg); err != nil {
		slog.Error("failed to persist market state", "market", cfg.ID, "err", err)
	}
	for _, user := range users {
		entry, ok := eng.Ledgers().Lookup(user)
		if !ok {
			continue
		}
		if err := s.store.SaveLedgerEntry(ctx, entry); err != nil {
			slog.Error("failed to persist ledger entry", "market", cfg.ID, "user", user, "err", err)
		}
	}
}

// recordFills writes one immutable trade row per fill and updates
// volume metrics.
func (s *Service) recordFills(r *http.Request, marketID, taker string, side model.Side, outcome model.Outcome, fills []engine.Fill) {
	now := time.Now().UTC()
	for _, f := range fills {
		t := &model.Trade{
			ID:        uuid.New().String(),
			MarketID:  marketID,
			OrderID:   f.MakerOrderID,
			Taker:     taker,
			Maker:     f.Maker,
			TakerSide: side,
			Outcome:   outcome,
			Price:     f.Price,
			Quantity:  f.Quantity,
			Timestamp: now,
		}
		if err := s.store.InsertTrade(r.Context(), t); err != nil {
			slog.Error("failed to record trade", "market", marketID, "order", f.MakerOrderID, "err", err)
			continue
		}
		metrics.FillsTotal.WithLabelValues(side.String()).Inc()
		metrics.MarketVolume.WithLabelValues(marketID, side.String()).Add(float64(f.Quantity))
	}
}

// makers extracts the distinct counterparty users from a fill list.
func makers(fills []engine.Fill) []string {
	seen := make(map[string]bool, len(fills))
	var out []string
	for _, f := range fills {
		if !seen[f.Maker] {
			seen[f.Maker] = true
			out = append(out, f.Maker)
		}
	}
	return out
}

// exposureDelta maps an order to its signed net-YES exposure change.
// Buying YES or selling NO increases it; the mirror trades decrease it.
func exposureDelta(side model.Side, outcome model.Outcome, quantity uint64) decimal.Decimal {
	d := decimal.NewFromUint64(quantity)
	if (side == model.SideBuy) != (outcome == model.OutcomeYes) {
		return d.Neg()
	}
	return d
}

// checkPositionLimit enforces per-market and correlated exposure caps
// before an order reaches the matching engine.
func (s *Service) checkPositionLimit(r *http.Request, user string, m model.Market, delta decimal.Decimal) error {
	parsed, err := contract.ParseTicker(m.Ticker)
	if err != nil {
		return err
	}

	raw, err := s.store.GetUserExposures(r.Context(), user)
	if err != nil {
		return err
	}

	existing := make(map[string]correlation.Exposure, len(raw))
	for id, e := range raw {
		c, err := contract.ParseTicker(e.Ticker)
		if err != nil {
			continue
		}
		existing[id] = correlation.Exposure{CorrelationKey: c.CorrelationKey(), Net: e.Net}
	}

	if err := s.limiter.CheckLimit(m.ID, parsed.CorrelationKey(), delta, existing); err != nil {
		metrics.PositionLimitRejections.Inc()
		return err
	}
	return nil
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Ticker      string `json:"ticker"` // STX-{category}-{slug}-{YYYYMMDD}
	Authority   string `json:"authority"`
	MetadataURL string `json:"metadata_url"`
}

// LimitOrderRequest is the JSON body for POST /orders.
type LimitOrderRequest struct {
	UserID        string `json:"user_id"`
	Side          string `json:"side"`    // "BUY" or "SELL"
	Outcome       string `json:"outcome"` // "YES" or "NO"
	Price         uint64 `json:"price"`
	Quantity      uint64 `json:"quantity"`
	MaxIterations uint64 `json:"max_iterations,omitempty"`
}

// MarketOrderRequest is the JSON body for POST /orders/market.
// For buys Amount is collateral to spend; for sells it is tokens to sell.
type MarketOrderRequest struct {
	UserID        string `json:"user_id"`
	Side          string `json:"side"`
	Outcome       string `json:"outcome"`
	Amount        uint64 `json:"amount"`
	MaxIterations uint64 `json:"max_iterations,omitempty"`
}

// AmountRequest is the JSON body for split/merge/deposit operations.
type AmountRequest struct {
	UserID string `json:"user_id"`
	Amount uint64 `json:"amount"`
}

// UserRequest is the JSON body for claim operations.
type UserRequest struct {
	UserID string `json:"user_id"`
}

// SettleRequest is the JSON body for POST /settle.
type SettleRequest struct {
	Authority string `json:"authority"`
	Winner    string `json:"winner"` // "YES", "NO", or "NEITHER"
}

// AuthorityRequest is the JSON body for authority-only operations.
type AuthorityRequest struct {
	Authority string `json:"authority"`
}

// MetadataRequest is the JSON body for PATCH /metadata.
type MetadataRequest struct {
	Authority   string `json:"authority"`
	MetadataURL string `json:"metadata_url"`
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Authority == "" {
		writeError(w, "authority is required", http.StatusBadRequest)
		return
	}
	if len(req.MetadataURL) > engine.MaxMetadataLen {
		writeError(w, "metadata_url exceeds maximum length", http.StatusBadRequest)
		return
	}

	parsed, err := contract.ParseTicker(req.Ticker)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	market := &model.Market{
		ID:                 uuid.New().String(),
		Ticker:             req.Ticker,
		SettlementDeadline: parsed.SettlementDeadline,
		Winner:             model.WinnerNone,
		Authority:          req.Authority,
		MetadataURL:        req.MetadataURL,
		CreatedAt:          time.Now().UTC(),
	}

	if err := s.store.CreateMarket(r.Context(), market); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	s.mu.Lock()
	s.engines[market.ID] = engine.NewMarket(*market, engine.NewLedgerSet(market.ID), s.vault)
	s.mu.Unlock()

	metrics.ActiveMarkets.Inc()
	slog.Info("market created",
		"id", market.ID,
		"ticker", market.Ticker,
		"deadline", market.SettlementDeadline,
		"authority", market.Authority,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(market)
}

// ListMarkets handles GET /api/v1/markets
// Returns all markets, optionally filtered by ?category=<category>.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	if category := r.URL.Query().Get("category"); category != "" {
		filtered := []model.Market{}
		for _, m := range markets {
			c, err := contract.ParseTicker(m.Ticker)
			if err == nil && c.Category == category {
				filtered = append(filtered, m)
			}
		}
		markets = filtered
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	s.mu.Lock()
	eng, ok := s.engines[marketID]
	var cfg model.Market
	if ok {
		cfg = eng.Config()
	}
	s.mu.Unlock()

	if !ok {
		market, err := s.store.GetMarket(r.Context(), marketID)
		if err != nil {
			writeError(w, "market not found", http.StatusNotFound)
			return
		}
		cfg = *market
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

// GetOrderBook handles GET /api/v1/markets/{marketID}/book
// Returns quote summaries for both outcomes plus the resting orders.
func (s *Service) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	s.mu.Lock()
	defer s.mu.Unlock()

	eng, err := s.engineFor(r, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	b := eng.Book()
	resp := map[string]any{
		"market_id": marketID,
		"yes":       s.quoter.Summarize(b, model.OutcomeYes),
		"no":        s.quoter.Summarize(b, model.OutcomeNo),
		"orders": map[string][]model.Order{
			"yes_bids": b.Orders(model.OutcomeYes, model.SideBuy),
			"yes_asks": b.Orders(model.OutcomeYes, model.SideSell),
			"no_bids":  b.Orders(model.OutcomeNo, model.SideBuy),
			"no_asks":  b.Orders(model.OutcomeNo, model.SideSell),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// PlaceLimitOrder handles POST /api/v1/markets/{marketID}/orders
func (s *Service) PlaceLimitOrder(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req LimitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	side, err := model.ParseSide(req.Side)
	if err != nil {
		writeError(w, "side must be BUY or SELL", http.StatusBadRequest)
		return
	}
	outcome, err := model.ParseOutcome(req.Outcome)
	if err != nil {
		writeError(w, "outcome must be YES or NO", http.StatusBadRequest)
		return
	}
	maxIter := req.MaxIterations
	if maxIter == 0 {
		maxIter = defaultMaxIterations
	}

	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	eng, err := s.engineFor(r, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	if err := s.checkPositionLimit(r, req.UserID, eng.Config(), exposureDelta(side, outcome, req.Quantity)); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	res, err := eng.PlaceLimitOrder(r.Context(), req.UserID, side, outcome, req.Price, req.Quantity, maxIter)
	if err != nil {
		metrics.OrdersRejected.WithLabelValues(rejectionReason(err)).Inc()
		writeEngineError(w, err)
		return
	}

	metrics.OrdersTotal.WithLabelValues("limit", side.String()).Inc()
	metrics.OrderLatency.WithLabelValues("limit").Observe(time.Since(start).Seconds())
	if res.Rested {
		metrics.RestingOrders.Inc()
	}
	cfg := eng.Config()
	metrics.CollateralLocked.WithLabelValues(marketID).Set(float64(cfg.TotalCollateralLocked))

	s.recordFills(r, marketID, req.UserID, side, outcome, res.Fills)
	s.syncState(r, eng, append(makers(res.Fills), req.UserID)...)

	slog.Info("limit order placed",
		"market", marketID,
		"user", req.UserID,
		"side", side.String(),
		"outcome", outcome.String(),
		"price", req.Price,
		"quantity", req.Quantity,
		"fills", len(res.Fills),
		"rested", res.Rested,
		"converted", res.Converted,
	)

	s.broadcastOrder(cfg, eng, "limit_order", side, outcome, req.Price, req.Quantity)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// PlaceMarketOrder handles POST /api/v1/markets/{marketID}/orders/market
func (s *Service) PlaceMarketOrder(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req MarketOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	side, err := model.ParseSide(req.Side)
	if err != nil {
		writeError(w, "side must be BUY or SELL", http.StatusBadRequest)
		return
	}
	outcome, err := model.ParseOutcome(req.Outcome)
	if err != nil {
		writeError(w, "outcome must be YES or NO", http.StatusBadRequest)
		return
	}
	maxIter := req.MaxIterations
	if maxIter == 0 {
		maxIter = defaultMaxIterations
	}

	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	eng, err := s.engineFor(r, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	// A sell's amount is a token count; a buy's collateral amount is
	// bounded by the tokens acquirable at the best opposite price.
	estimated := req.Amount
	if side == model.SideBuy {
		if best := eng.Book().Best(outcome, model.SideSell); best != nil && best.Price > 0 {
			estimated = req.Amount / best.Price
		} else {
			estimated = 0
		}
	}
	if err := s.checkPositionLimit(r, req.UserID, eng.Config(), exposureDelta(side, outcome, estimated)); err != nil {
		writeError(w, err.Error(), http.StatusConflict)
		return
	}

	res, err := eng.PlaceMarketOrder(r.Context(), req.UserID, side, outcome, req.Amount, maxIter)
	if err != nil {
		metrics.OrdersRejected.WithLabelValues(rejectionReason(err)).Inc()
		writeEngineError(w, err)
		return
	}

	metrics.OrdersTotal.WithLabelValues("market", side.String()).Inc()
	metrics.OrderLatency.WithLabelValues("market").Observe(time.Since(start).Seconds())
	cfg := eng.Config()
	metrics.CollateralLocked.WithLabelValues(marketID).Set(float64(cfg.TotalCollateralLocked))

	s.recordFills(r, marketID, req.UserID, side, outcome, res.Fills)
	s.syncState(r, eng, append(makers(res.Fills), req.UserID)...)

	slog.Info("market order executed",
		"market", marketID,
		"user", req.UserID,
		"side", side.String(),
		"outcome", outcome.String(),
		"amount", req.Amount,
		"spent", res.Spent,
		"received", res.Received,
		"returned", res.Returned,
		"fills", len(res.Fills),
	)

	s.broadcastOrder(cfg, eng, "market_order", side, outcome, 0, req.Amount)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// CancelOrder handles DELETE /api/v1/markets/{marketID}/orders/{orderID}
// The requesting user is passed as ?user_id=.
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	user := r.URL.Query().Get("user_id")
	if user == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	orderID, err := strconv.ParseUint(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil {
		writeError(w, "invalid order id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	eng, err := s.engineFor(r, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	ord, err := eng.CancelOrder(r.Context(), user, orderID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	metrics.RestingOrders.Dec()
	cfg := eng.Config()
	metrics.CollateralLocked.WithLabelValues(marketID).Set(float64(cfg.TotalCollateralLocked))
	s.syncState(r, eng, user)

	slog.Info("order cancelled",
		"market", marketID,
		"user", user,
		"order", orderID,
		"unfilled", ord.Remaining(),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ord)
}

// SplitTokens handles POST /api/v1/markets/{marketID}/split
func (s *Service) SplitTokens(w http.ResponseWriter, r *http.Request) {
	s.lifecycleAmountOp(w, r, "split", func(eng *engine.Market, req AmountRequest, r *http.Request) error {
		return eng.SplitTokens(r.Context(), req.UserID, req.Amount)
	})
}

// MergeTokens handles POST /api/v1/markets/{marketID}/merge
func (s *Service) MergeTokens(w http.ResponseWriter, r *http.Request) {
	s.lifecycleAmountOp(w, r, "merge", func(eng *engine.Market, req AmountRequest, r *http.Request) error {
		return eng.MergeTokens(r.Context(), req.UserID, req.Amount)
	})
}

// lifecycleAmountOp factors the shared decode/lock/persist path of the
// split and merge handlers.
func (s *Service) lifecycleAmountOp(w http.ResponseWriter, r *http.Request, name string, op func(*engine.Market, AmountRequest, *http.Request) error) {
	marketID := chi.URLParam(r, "marketID")

	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	eng, err := s.engineFor(r, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	if err := op(eng, req, r); err != nil {
		writeEngineError(w, err)
		return
	}

	cfg := eng.Config()
	metrics.CollateralLocked.WithLabelValues(marketID).Set(float64(cfg.TotalCollateralLocked))
	s.syncState(r, eng, req.UserID)

	slog.Info("tokens "+name, "market", marketID, "user", req.UserID, "amount", req.Amount)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"market_id":               marketID,
		"user_id":                 req.UserID,
		"amount":                  req.Amount,
		"total_collateral_locked": cfg.TotalCollateralLocked,
	})
}

// ClaimFunds handles POST /api/v1/markets/{marketID}/claim
func (s *Service) ClaimFunds(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	eng, err := s.engineFor(r, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	claimed, err := eng.ClaimFunds(r.Context(), req.UserID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.syncState(r, eng, req.UserID)
	slog.Info("funds claimed",
		"market", marketID,
		"user", req.UserID,
		"collateral", claimed.Collateral,
		"yes", claimed.Yes,
		"no", claimed.No,
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(claimed)
}

// SetWinner handles POST /api/v1/markets/{marketID}/settle
func (s *Service) SetWinner(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req SettleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	winner, err := model.ParseWinningOutcome(req.Winner)
	if err != nil {
		writeError(w, "winner must be YES, NO, or NEITHER", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	eng, err := s.engineFor(r, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	if err := eng.SetWinner(r.Context(), req.Authority, winner); err != nil {
		writeEngineError(w, err)
		return
	}

	cfg := eng.Config()
	metrics.ActiveMarkets.Dec()
	s.syncState(r, eng)

	slog.Info("market settled", "market", marketID, "winner", winner.String())

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "market_settled",
			MarketID: marketID,
			Ticker:   cfg.Ticker,
			Winner:   winner.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cfg)
}

// ClaimRewards handles POST /api/v1/markets/{marketID}/claim-rewards
func (s *Service) ClaimRewards(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req UserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	eng, err := s.engineFor(r, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	paid, err := eng.ClaimRewards(r.Context(), req.UserID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	cfg := eng.Config()
	metrics.CollateralLocked.WithLabelValues(marketID).Set(float64(cfg.TotalCollateralLocked))
	s.syncState(r, eng, req.UserID)

	slog.Info("rewards claimed", "market", marketID, "user", req.UserID, "paid", paid)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]uint64{"paid": paid})
}

// CloseMarket handles POST /api/v1/markets/{marketID}/close
func (s *Service) CloseMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req AuthorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	eng, err := s.engineFor(r, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	if err := eng.CloseMarket(r.Context(), req.Authority); err != nil {
		writeEngineError(w, err)
		return
	}

	delete(s.engines, marketID)
	metrics.CollateralLocked.DeleteLabelValues(marketID)

	slog.Info("market closed", "market", marketID)

	w.WriteHeader(http.StatusNoContent)
}

// UpdateMetadata handles PATCH /api/v1/markets/{marketID}/metadata
func (s *Service) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req MetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	eng, err := s.engineFor(r, marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	if err := eng.UpdateMetadata(r.Context(), req.Authority, req.MetadataURL); err != nil {
		writeEngineError(w, err)
		return
	}

	s.syncState(r, eng)
	slog.Info("metadata updated", "market", marketID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(eng.Config())
}

// GetLedger handles GET /api/v1/markets/{marketID}/ledger/{userID}
func (s *Service) GetLedger(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")
	userID := chi.URLParam(r, "userID")

	s.mu.Lock()
	eng, ok := s.engines[marketID]
	var entry *model.LedgerEntry
	if ok {
		if e, found := eng.Ledgers().Lookup(userID); found {
			copied := *e
			entry = &copied
		}
	}
	s.mu.Unlock()

	if entry == nil {
		e, err := s.store.GetLedgerEntry(r.Context(), marketID, userID)
		if err != nil {
			writeError(w, "ledger entry not found", http.StatusNotFound)
			return
		}
		entry = e
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

// GetMarketTrades handles GET /api/v1/markets/{marketID}/trades
func (s *Service) GetMarketTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.GetTradesByMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, "failed to get trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// GetUserTrades handles GET /api/v1/users/{userID}/trades
func (s *Service) GetUserTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.GetTradesByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to get trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// Deposit handles POST /api/v1/users/{userID}/deposit
// Credits collateral to a user's wallet. Stands in for an external
// payments integration.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Amount == 0 {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	s.vault.Fund(userID, model.AssetCollateral, req.Amount)
	slog.Info("deposit credited", "user", userID, "amount", req.Amount)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"user_id": userID, "amount": req.Amount})
}

// GetBalances handles GET /api/v1/users/{userID}/balances
func (s *Service) GetBalances(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ctx := r.Context()

	collateral, err := s.vault.Balance(ctx, userID, model.AssetCollateral)
	if err != nil {
		writeError(w, "failed to load balances", http.StatusInternalServerError)
		return
	}
	yes, _ := s.vault.Balance(ctx, userID, model.AssetYes)
	no, _ := s.vault.Balance(ctx, userID, model.AssetNo)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]uint64{
		"collateral": collateral,
		"yes":        yes,
		"no":         no,
	})
}

// GetExposures handles GET /api/v1/users/{userID}/exposures
func (s *Service) GetExposures(w http.ResponseWriter, r *http.Request) {
	exposures, err := s.store.GetUserExposures(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to load exposures", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(exposures)
}

// broadcastOrder pushes a book update to WebSocket clients after an order
// executes. Caller must hold s.mu.
func (s *Service) broadcastOrder(cfg model.Market, eng *engine.Market, event string, side model.Side, outcome model.Outcome, price, quantity uint64) {
	if s.wsHub == nil {
		return
	}
	summary := s.quoter.Summarize(eng.Book(), outcome)
	s.wsHub.Broadcast(WSMessage{
		Type:               event,
		MarketID:           cfg.ID,
		Ticker:             cfg.Ticker,
		Side:               side.String(),
		Outcome:            outcome.String(),
		Price:              strconv.FormatUint(price, 10),
		Quantity:           strconv.FormatUint(quantity, 10),
		ImpliedProbability: summary.ImpliedProbability.String(),
	})
}

// writeEngineError maps engine sentinel errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), statusForError(err))
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidOrderQuantity),
		errors.Is(err, engine.ErrInvalidOrderPrice),
		errors.Is(err, engine.ErrInvalidIterationLimit),
		errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrInvalidWinningOutcome),
		errors.Is(err, engine.ErrInvalidMetadata):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrOrderNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNotEnoughBalance),
		errors.Is(err, engine.ErrMarketExpired),
		errors.Is(err, engine.ErrMarketAlreadySettled),
		errors.Is(err, engine.ErrMarketNotSettled),
		errors.Is(err, engine.ErrWinningOutcomeNotSet),
		errors.Is(err, engine.ErrSettlementDeadlineNotReached),
		errors.Is(err, engine.ErrCollateralNotFullyClaimed),
		errors.Is(err, engine.ErrOrdersStillPending),
		errors.Is(err, engine.ErrNothingToClaim),
		errors.Is(err, engine.ErrRewardAlreadyClaimed),
		errors.Is(err, engine.ErrOrderBookFull),
		errors.Is(err, engine.ErrCounterpartyLedgerMissing),
		errors.Is(err, engine.ErrMathOverflow):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// rejectionReason labels an engine error for the rejection counter.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrNotEnoughBalance):
		return "insufficient_balance"
	case errors.Is(err, engine.ErrMarketExpired):
		return "market_expired"
	case errors.Is(err, engine.ErrMarketAlreadySettled):
		return "market_settled"
	case errors.Is(err, engine.ErrOrderBookFull):
		return "book_full"
	case errors.Is(err, engine.ErrMathOverflow):
		return "math_overflow"
	case errors.Is(err, engine.ErrInvalidOrderQuantity),
		errors.Is(err, engine.ErrInvalidOrderPrice),
		errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrInvalidIterationLimit):
		return "invalid_input"
	}
	return "other"
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
