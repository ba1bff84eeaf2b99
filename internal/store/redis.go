package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stanx/market-engine/internal/model"
)

// CachedStore wraps a Store with a Redis read-through cache for market
// lookups. Writes go to the primary store and invalidate the cache; cache
// failures are ignored so Redis outages degrade to primary-only reads.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a caching layer over the given store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

func marketKey(id string) string     { return "market:" + id }
func tickerKey(ticker string) string { return "market:ticker:" + ticker }

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	s.rdb.Set(ctx, tickerKey(m.Ticker), data, s.ttl)
}

func (s *CachedStore) invalidateMarket(ctx context.Context, m *model.Market) {
	s.rdb.Del(ctx, marketKey(m.ID), tickerKey(m.Ticker))
}

func (s *CachedStore) cachedMarket(ctx context.Context, key string) *model.Market {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil
	}
	var m model.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return &m
}

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	return nil
}

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	if m := s.cachedMarket(ctx, marketKey(id)); m != nil {
		return m, nil
	}
	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetMarketByTicker(ctx context.Context, ticker string) (*model.Market, error) {
	if m := s.cachedMarket(ctx, tickerKey(ticker)); m != nil {
		return m, nil
	}
	m, err := s.primary.GetMarketByTicker(ctx, ticker)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) UpdateMarketState(ctx context.Context, m *model.Market) error {
	if err := s.primary.UpdateMarketState(ctx, m); err != nil {
		return err
	}
	s.invalidateMarket(ctx, m)
	return nil
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) GetTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	return s.primary.GetTradesByMarket(ctx, marketID)
}

func (s *CachedStore) GetTradesByUser(ctx context.Context, user string) ([]model.Trade, error) {
	return s.primary.GetTradesByUser(ctx, user)
}

func (s *CachedStore) SaveLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	return s.primary.SaveLedgerEntry(ctx, e)
}

func (s *CachedStore) GetLedgerEntry(ctx context.Context, marketID, user string) (*model.LedgerEntry, error) {
	return s.primary.GetLedgerEntry(ctx, marketID, user)
}

func (s *CachedStore) ListLedgerEntries(ctx context.Context, marketID string) ([]model.LedgerEntry, error) {
	return s.primary.ListLedgerEntries(ctx, marketID)
}

func (s *CachedStore) GetUserExposures(ctx context.Context, user string) (map[string]Exposure, error) {
	return s.primary.GetUserExposures(ctx, user)
}
