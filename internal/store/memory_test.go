package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stanx/market-engine/internal/model"
	"github.com/stanx/market-engine/internal/store"
)

func seedMarket(t *testing.T, ms *store.MemoryStore, id, ticker string) *model.Market {
	t.Helper()
	m := &model.Market{
		ID:                 id,
		Ticker:             ticker,
		SettlementDeadline: time.Now().Add(24 * time.Hour).UTC(),
		Authority:          "admin",
		CreatedAt:          time.Now().UTC(),
	}
	if err := ms.CreateMarket(context.Background(), m); err != nil {
		t.Fatalf("failed to seed market: %v", err)
	}
	return m
}

func TestCreateMarket_RejectsDuplicateTicker(t *testing.T) {
	ms := store.NewMemoryStore()
	seedMarket(t, ms, "m1", "STX-CRYPTO-BTC100K-20261231")

	err := ms.CreateMarket(context.Background(), &model.Market{
		ID:     "m2",
		Ticker: "STX-CRYPTO-BTC100K-20261231",
	})
	if err == nil {
		t.Fatal("expected duplicate ticker to be rejected")
	}
}

func TestGetMarketByTicker(t *testing.T) {
	ms := store.NewMemoryStore()
	m := seedMarket(t, ms, "m1", "STX-CRYPTO-BTC100K-20261231")

	got, err := ms.GetMarketByTicker(context.Background(), m.Ticker)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if got.ID != m.ID {
		t.Errorf("expected id %s, got %s", m.ID, got.ID)
	}

	_, err = ms.GetMarketByTicker(context.Background(), "STX-CRYPTO-NOPE-20261231")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateMarketState(t *testing.T) {
	ms := store.NewMemoryStore()
	m := seedMarket(t, ms, "m1", "STX-CRYPTO-BTC100K-20261231")

	m.Settled = true
	m.Winner = model.WinnerYes
	m.TotalCollateralLocked = 777
	if err := ms.UpdateMarketState(context.Background(), m); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err := ms.GetMarket(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.Settled || got.Winner != model.WinnerYes || got.TotalCollateralLocked != 777 {
		t.Errorf("state not persisted: %+v", got)
	}
}

func TestSaveLedgerEntry_Upserts(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	e := &model.LedgerEntry{MarketID: "m1", User: "alice", LockedCollateral: 10}
	if err := ms.SaveLedgerEntry(ctx, e); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	e.LockedCollateral = 25
	if err := ms.SaveLedgerEntry(ctx, e); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	got, err := ms.GetLedgerEntry(ctx, "m1", "alice")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.LockedCollateral != 25 {
		t.Errorf("expected upserted value 25, got %d", got.LockedCollateral)
	}
}

func TestGetTradesByUser_MatchesBothSides(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	ms.InsertTrade(ctx, &model.Trade{ID: "t1", MarketID: "m1", Taker: "alice", Maker: "bob"})
	ms.InsertTrade(ctx, &model.Trade{ID: "t2", MarketID: "m1", Taker: "carol", Maker: "alice"})
	ms.InsertTrade(ctx, &model.Trade{ID: "t3", MarketID: "m1", Taker: "carol", Maker: "bob"})

	trades, err := ms.GetTradesByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("get trades failed: %v", err)
	}
	if len(trades) != 2 {
		t.Errorf("expected 2 trades for alice, got %d", len(trades))
	}
}

func TestGetUserExposures_NetsTokenBalances(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedMarket(t, ms, "m1", "STX-CRYPTO-BTC100K-20261231")

	ms.SaveLedgerEntry(ctx, &model.LedgerEntry{
		MarketID:     "m1",
		User:         "alice",
		LockedYes:    30,
		ClaimableYes: 20,
		LockedNo:     5,
		ClaimableNo:  15,
	})

	exposures, err := ms.GetUserExposures(ctx, "alice")
	if err != nil {
		t.Fatalf("get exposures failed: %v", err)
	}
	exp, ok := exposures["m1"]
	if !ok {
		t.Fatal("expected exposure for m1")
	}
	// (30+20) - (5+15) = 30 net YES.
	if !exp.Net.Equal(decimal.NewFromInt(30)) {
		t.Errorf("expected net 30, got %s", exp.Net)
	}
	if exp.Ticker != "STX-CRYPTO-BTC100K-20261231" {
		t.Errorf("exposure should carry the market ticker, got %s", exp.Ticker)
	}
}
