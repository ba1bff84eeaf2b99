package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/stanx/market-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	markets map[string]*model.Market
	trades  []model.Trade
	ledgers map[string]map[string]*model.LedgerEntry // marketID -> user
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[string]*model.Market),
		ledgers: make(map[string]map[string]*model.LedgerEntry),
	}
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.markets {
		if existing.Ticker == m.Ticker {
			return fmt.Errorf("market for ticker %s already exists", m.Ticker)
		}
	}

	// Store a copy to avoid external mutation.
	copied := *m
	s.markets[m.ID] = &copied
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	copied := *m
	return &copied, nil
}

func (s *MemoryStore) GetMarketByTicker(_ context.Context, ticker string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.markets {
		if m.Ticker == ticker {
			copied := *m
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("market for ticker %s: %w", ticker, ErrNotFound)
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	return markets, nil
}

func (s *MemoryStore) UpdateMarketState(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.markets[m.ID]
	if !ok {
		return fmt.Errorf("market %s: %w", m.ID, ErrNotFound)
	}
	existing.Settled = m.Settled
	existing.Winner = m.Winner
	existing.TotalCollateralLocked = m.TotalCollateralLocked
	existing.MetadataURL = m.MetadataURL
	return nil
}

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trades = append(s.trades, *t)
	return nil
}

func (s *MemoryStore) GetTradesByMarket(_ context.Context, marketID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.MarketID == marketID {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetTradesByUser(_ context.Context, user string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.Taker == user || t.Maker == user {
			result = append(result, t)
		}
	}
	return result, nil
}

func (s *MemoryStore) SaveLedgerEntry(_ context.Context, e *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser, ok := s.ledgers[e.MarketID]
	if !ok {
		byUser = make(map[string]*model.LedgerEntry)
		s.ledgers[e.MarketID] = byUser
	}
	copied := *e
	byUser[e.User] = &copied
	return nil
}

func (s *MemoryStore) GetLedgerEntry(_ context.Context, marketID, user string) (*model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.ledgers[marketID][user]
	if !ok {
		return nil, fmt.Errorf("ledger %s/%s: %w", marketID, user, ErrNotFound)
	}
	copied := *e
	return &copied, nil
}

func (s *MemoryStore) ListLedgerEntries(_ context.Context, marketID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.ledgers[marketID] {
		result = append(result, *e)
	}
	return result, nil
}

func (s *MemoryStore) GetUserExposures(_ context.Context, user string) (map[string]Exposure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exposures := make(map[string]Exposure)
	for marketID, byUser := range s.ledgers {
		e, ok := byUser[user]
		if !ok {
			continue
		}
		var ticker string
		if m, ok := s.markets[marketID]; ok {
			ticker = m.Ticker
		}
		exposures[marketID] = Exposure{
			MarketID: marketID,
			Ticker:   ticker,
			Net:      netExposure(e),
		}
	}
	return exposures, nil
}
