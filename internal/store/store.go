// Package store defines the persistence interface for the market engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/stanx/market-engine/internal/model"
)

// ErrNotFound is wrapped by every lookup miss.
var ErrNotFound = errors.New("store: not found")

// Exposure is a user's net directional position in one market, derived
// from ledger balances: YES holdings count positive, NO holdings negative.
type Exposure struct {
	MarketID string          `json:"market_id"`
	Ticker   string          `json:"ticker"`
	Net      decimal.Decimal `json:"net"`
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. The matching engine runs
// in memory; the store records markets, ledgers, and the immutable trade
// log for recovery and querying.
type Store interface {
	// --- Market operations ---

	// CreateMarket persists a new market. Tickers are unique.
	CreateMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// GetMarketByTicker retrieves a market by its ticker.
	GetMarketByTicker(ctx context.Context, ticker string) (*model.Market, error)

	// ListMarkets returns all markets, newest first.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateMarketState persists settlement state, the collateral total,
	// and the metadata URL after an engine operation.
	UpdateMarketState(ctx context.Context, market *model.Market) error

	// --- Immutable trade log ---

	// InsertTrade appends an immutable fill record.
	InsertTrade(ctx context.Context, trade *model.Trade) error

	// GetTradesByMarket returns all fills for a market, oldest first.
	GetTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error)

	// GetTradesByUser returns all fills a user took part in, either side.
	GetTradesByUser(ctx context.Context, user string) ([]model.Trade, error)

	// --- Ledger entries ---

	// SaveLedgerEntry upserts a user's per-market balance snapshot.
	SaveLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error

	// GetLedgerEntry retrieves one user's balances in one market.
	GetLedgerEntry(ctx context.Context, marketID, user string) (*model.LedgerEntry, error)

	// ListLedgerEntries returns every user's balances in one market.
	ListLedgerEntries(ctx context.Context, marketID string) ([]model.LedgerEntry, error)

	// --- Position queries ---

	// GetUserExposures returns the user's net directional exposure per
	// market, for position-limit checks.
	GetUserExposures(ctx context.Context, user string) (map[string]Exposure, error)
}

// netExposure computes a signed position from ledger balances.
func netExposure(e *model.LedgerEntry) decimal.Decimal {
	yes := decimal.NewFromUint64(e.LockedYes + e.ClaimableYes)
	no := decimal.NewFromUint64(e.LockedNo + e.ClaimableNo)
	return yes.Sub(no)
}
