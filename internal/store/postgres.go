package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stanx/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Integer amounts are stored as BIGINT; exposure aggregation runs as
// NUMERIC to avoid overflow on sums.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (id, ticker, settlement_deadline, settled, winner, total_collateral_locked, authority, metadata_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.Ticker, m.SettlementDeadline, m.Settled, m.Winner.String(),
		int64(m.TotalCollateralLocked), m.Authority, m.MetadataURL, m.CreatedAt,
	)
	return err
}

const marketColumns = `id, ticker, settlement_deadline, settled, winner, total_collateral_locked, authority, metadata_url, created_at`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var winner string
	var total int64

	err := row.Scan(&m.ID, &m.Ticker, &m.SettlementDeadline, &m.Settled,
		&winner, &total, &m.Authority, &m.MetadataURL, &m.CreatedAt)
	if err != nil {
		return nil, err
	}

	if winner != "NONE" {
		m.Winner, err = model.ParseWinningOutcome(winner)
		if err != nil {
			return nil, err
		}
	}
	m.TotalCollateralLocked = uint64(total)
	return &m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) GetMarketByTicker(ctx context.Context, ticker string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE ticker = $1`, ticker))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market for ticker %s: %w", ticker, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market by ticker %s: %w", ticker, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateMarketState(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE markets
		 SET settled = $2, winner = $3, total_collateral_locked = $4, metadata_url = $5
		 WHERE id = $1`,
		m.ID, m.Settled, m.Winner.String(), int64(m.TotalCollateralLocked), m.MetadataURL,
	)
	return err
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, market_id, order_id, taker, maker, taker_side, outcome, price, quantity, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.MarketID, int64(t.OrderID), t.Taker, t.Maker,
		t.TakerSide.String(), t.Outcome.String(), int64(t.Price), int64(t.Quantity), t.Timestamp,
	)
	return err
}

const tradeColumns = `id, market_id, order_id, taker, maker, taker_side, outcome, price, quantity, timestamp`

func scanTrades(rows pgx.Rows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var side, outcome string
		var orderID, price, quantity int64

		if err := rows.Scan(&t.ID, &t.MarketID, &orderID, &t.Taker, &t.Maker,
			&side, &outcome, &price, &quantity, &t.Timestamp); err != nil {
			return nil, err
		}

		var err error
		if t.TakerSide, err = model.ParseSide(side); err != nil {
			return nil, err
		}
		if t.Outcome, err = model.ParseOutcome(outcome); err != nil {
			return nil, err
		}
		t.OrderID = uint64(orderID)
		t.Price = uint64(price)
		t.Quantity = uint64(quantity)

		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) GetTradesByMarket(ctx context.Context, marketID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE market_id = $1 ORDER BY timestamp`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) GetTradesByUser(ctx context.Context, user string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE taker = $1 OR maker = $1 ORDER BY timestamp`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) SaveLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledgers (market_id, user_id, locked_collateral, claimable_collateral,
		                      locked_yes, claimable_yes, locked_no, claimable_no, reward_claimed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (market_id, user_id) DO UPDATE SET
		   locked_collateral = EXCLUDED.locked_collateral,
		   claimable_collateral = EXCLUDED.claimable_collateral,
		   locked_yes = EXCLUDED.locked_yes,
		   claimable_yes = EXCLUDED.claimable_yes,
		   locked_no = EXCLUDED.locked_no,
		   claimable_no = EXCLUDED.claimable_no,
		   reward_claimed = EXCLUDED.reward_claimed`,
		e.MarketID, e.User,
		int64(e.LockedCollateral), int64(e.ClaimableCollateral),
		int64(e.LockedYes), int64(e.ClaimableYes),
		int64(e.LockedNo), int64(e.ClaimableNo),
		e.RewardClaimed,
	)
	return err
}

func scanLedgerEntry(row pgx.Row) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	var lc, cc, ly, cy, ln, cn int64

	err := row.Scan(&e.MarketID, &e.User, &lc, &cc, &ly, &cy, &ln, &cn, &e.RewardClaimed)
	if err != nil {
		return nil, err
	}

	e.LockedCollateral = uint64(lc)
	e.ClaimableCollateral = uint64(cc)
	e.LockedYes = uint64(ly)
	e.ClaimableYes = uint64(cy)
	e.LockedNo = uint64(ln)
	e.ClaimableNo = uint64(cn)
	return &e, nil
}

const ledgerColumns = `market_id, user_id, locked_collateral, claimable_collateral, locked_yes, claimable_yes, locked_no, claimable_no, reward_claimed`

func (s *PostgresStore) GetLedgerEntry(ctx context.Context, marketID, user string) (*model.LedgerEntry, error) {
	e, err := scanLedgerEntry(s.pool.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM ledgers WHERE market_id = $1 AND user_id = $2`,
		marketID, user))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ledger %s/%s: %w", marketID, user, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger %s/%s: %w", marketID, user, err)
	}
	return e, nil
}

func (s *PostgresStore) ListLedgerEntries(ctx context.Context, marketID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerColumns+` FROM ledgers WHERE market_id = $1`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) GetUserExposures(ctx context.Context, user string) (map[string]Exposure, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT l.market_id, m.ticker,
		        (l.locked_yes::NUMERIC + l.claimable_yes::NUMERIC
		         - l.locked_no::NUMERIC - l.claimable_no::NUMERIC)::TEXT AS net
		 FROM ledgers l
		 JOIN markets m ON m.id = l.market_id
		 WHERE l.user_id = $1`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exposures := make(map[string]Exposure)
	for rows.Next() {
		var exp Exposure
		var netStr string
		if err := rows.Scan(&exp.MarketID, &exp.Ticker, &netStr); err != nil {
			return nil, err
		}
		exp.Net, _ = decimal.NewFromString(netStr)
		exposures[exp.MarketID] = exp
	}
	return exposures, rows.Err()
}
