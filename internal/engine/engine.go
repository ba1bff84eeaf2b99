// Package engine implements the order-matching engine and the per-user
// settlement ledger for one binary-outcome prediction market.
//
// The engine is single-writer per market: one place/cancel/settlement call
// runs to completion before the next begins, and every call is
// all-or-nothing — state is snapshotted before mutation and restored on any
// error, with completed custody moves reversed, so no partial trade is ever
// visible.
//
// All arithmetic is checked uint64; any overflow or underflow aborts the
// whole operation with ErrMathOverflow.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stanx/market-engine/internal/book"
	"github.com/stanx/market-engine/internal/model"
)

// MaxMetadataLen bounds the market metadata URL.
const MaxMetadataLen = 200

var (
	// Validation errors.
	ErrInvalidOrderQuantity  = errors.New("engine: order quantity must be positive")
	ErrInvalidOrderPrice     = errors.New("engine: order price must be positive")
	ErrInvalidIterationLimit = errors.New("engine: iteration limit must be positive")
	ErrInvalidAmount         = errors.New("engine: amount must be positive")
	ErrInvalidWinningOutcome = errors.New("engine: invalid winning outcome")
	ErrInvalidMetadata       = errors.New("engine: metadata URL exceeds maximum length")

	// State guards.
	ErrMarketExpired                = errors.New("engine: market has expired")
	ErrMarketAlreadySettled         = errors.New("engine: market already settled")
	ErrMarketNotSettled             = errors.New("engine: market is not settled yet")
	ErrWinningOutcomeNotSet         = errors.New("engine: winning outcome is not set")
	ErrSettlementDeadlineNotReached = errors.New("engine: settlement deadline not reached")
	ErrCollateralNotFullyClaimed    = errors.New("engine: collateral not fully claimed")
	ErrOrdersStillPending           = errors.New("engine: orders still resting on the book")

	// Resource / not-found / authorization.
	ErrNotEnoughBalance          = errors.New("engine: not enough balance")
	ErrOrderNotFound             = errors.New("engine: order not found")
	ErrCounterpartyLedgerMissing = errors.New("engine: counterparty ledger not found")
	ErrNotAuthorized             = errors.New("engine: not authorized")
	ErrNothingToClaim            = errors.New("engine: nothing to claim")
	ErrRewardAlreadyClaimed      = errors.New("engine: reward already claimed")

	// Capacity and arithmetic.
	ErrOrderBookFull = errors.New("engine: order book side is full")
	ErrMathOverflow  = errors.New("engine: math overflow")
)

// Custodian moves assets between user-controlled wallets and the market's
// escrow, and mints/burns outcome tokens. The engine decides amounts and
// directions; the implementation owns the movement. Each call is
// all-or-nothing.
type Custodian interface {
	// TransferIn moves amount from the user's wallet into market escrow.
	// Fails with ErrNotEnoughBalance when the wallet cannot cover it.
	TransferIn(ctx context.Context, user string, asset model.Asset, amount uint64) error

	// TransferOut moves amount from market escrow back to the user's wallet.
	TransferOut(ctx context.Context, user string, asset model.Asset, amount uint64) error

	// Mint creates amount new units of an outcome token in the user's wallet.
	Mint(ctx context.Context, user string, asset model.Asset, amount uint64) error

	// Burn destroys amount units of an outcome token held in the user's
	// wallet. Fails with ErrNotEnoughBalance when the wallet cannot cover it.
	Burn(ctx context.Context, user string, asset model.Asset, amount uint64) error

	// Balance returns the user's wallet balance for an asset.
	Balance(ctx context.Context, user string, asset model.Asset) (uint64, error)
}

// LedgerSet is the registry of per-user ledger entries for one market.
// Counterparty ledgers are resolved through Lookup; an entry is created
// only by its owner's own trading action.
type LedgerSet struct {
	marketID string
	entries  map[string]*model.LedgerEntry
}

// NewLedgerSet creates an empty ledger registry for a market.
func NewLedgerSet(marketID string) *LedgerSet {
	return &LedgerSet{
		marketID: marketID,
		entries:  make(map[string]*model.LedgerEntry),
	}
}

// Lookup resolves a user's ledger entry if it exists.
func (s *LedgerSet) Lookup(user string) (*model.LedgerEntry, bool) {
	e, ok := s.entries[user]
	return e, ok
}

// getOrCreate lazily creates the requester's own entry with zero balances.
func (s *LedgerSet) getOrCreate(user string) *model.LedgerEntry {
	if e, ok := s.entries[user]; ok {
		return e
	}
	e := &model.LedgerEntry{User: user, MarketID: s.marketID}
	s.entries[user] = e
	return e
}

// Restore seeds an entry from persisted state. Used when rehydrating a
// market's ledger registry from the store; overwrites any existing entry
// for the same user.
func (s *LedgerSet) Restore(e model.LedgerEntry) {
	copied := e
	s.entries[e.User] = &copied
}

// Entries returns a copy of every ledger entry.
func (s *LedgerSet) Entries() []model.LedgerEntry {
	out := make([]model.LedgerEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

func (s *LedgerSet) clone() *LedgerSet {
	c := NewLedgerSet(s.marketID)
	for user, e := range s.entries {
		copied := *e
		c.entries[user] = &copied
	}
	return c
}

// Market owns one market's order book, ledger set, and running totals.
// It is not safe for concurrent use; callers serialize access per market.
type Market struct {
	cfg     model.Market
	book    *book.Book
	ledgers *LedgerSet
	custody Custodian

	nextOrderID uint64
}

// NewMarket wires a market engine over the caller-supplied ledger registry
// and custodian.
func NewMarket(cfg model.Market, ledgers *LedgerSet, custody Custodian) *Market {
	return &Market{
		cfg:         cfg,
		book:        book.New(),
		ledgers:     ledgers,
		custody:     custody,
		nextOrderID: 1,
	}
}

// Config returns a copy of the market state.
func (m *Market) Config() model.Market {
	return m.cfg
}

// Book exposes the order book for read-only queries.
func (m *Market) Book() *book.Book {
	return m.book
}

// Ledgers exposes the ledger registry for read-only queries.
func (m *Market) Ledgers() *LedgerSet {
	return m.ledgers
}

// --- guards ---

func (m *Market) guardOpen() error {
	if !time.Now().Before(m.cfg.SettlementDeadline) {
		return ErrMarketExpired
	}
	if m.cfg.Settled {
		return ErrMarketAlreadySettled
	}
	return nil
}

// --- transactional wrapper ---

type snapshot struct {
	cfg         model.Market
	book        *book.Book
	ledgers     *LedgerSet
	nextOrderID uint64
}

func (m *Market) snapshot() snapshot {
	return snapshot{
		cfg:         m.cfg,
		book:        m.book.Clone(),
		ledgers:     m.ledgers.clone(),
		nextOrderID: m.nextOrderID,
	}
}

func (m *Market) restore(s snapshot) {
	m.cfg = s.cfg
	m.book = s.book
	// Restore in place so the caller-supplied registry pointer stays valid.
	m.ledgers.entries = s.ledgers.entries
	m.nextOrderID = s.nextOrderID
}

// custodyMove records one completed custody call for reversal.
type custodyMove struct {
	user   string
	asset  model.Asset
	amount uint64
	kind   uint8 // 0 transferIn, 1 transferOut, 2 mint, 3 burn
}

// custodyLog wraps the Custodian, recording completed moves so that a
// failed multi-step operation can reverse them.
type custodyLog struct {
	c     Custodian
	moves []custodyMove
}

func (l *custodyLog) transferIn(ctx context.Context, user string, asset model.Asset, amount uint64) error {
	if err := l.c.TransferIn(ctx, user, asset, amount); err != nil {
		return err
	}
	l.moves = append(l.moves, custodyMove{user, asset, amount, 0})
	return nil
}

func (l *custodyLog) transferOut(ctx context.Context, user string, asset model.Asset, amount uint64) error {
	if err := l.c.TransferOut(ctx, user, asset, amount); err != nil {
		return err
	}
	l.moves = append(l.moves, custodyMove{user, asset, amount, 1})
	return nil
}

func (l *custodyLog) mint(ctx context.Context, user string, asset model.Asset, amount uint64) error {
	if err := l.c.Mint(ctx, user, asset, amount); err != nil {
		return err
	}
	l.moves = append(l.moves, custodyMove{user, asset, amount, 2})
	return nil
}

func (l *custodyLog) burn(ctx context.Context, user string, asset model.Asset, amount uint64) error {
	if err := l.c.Burn(ctx, user, asset, amount); err != nil {
		return err
	}
	l.moves = append(l.moves, custodyMove{user, asset, amount, 3})
	return nil
}

// reverse undoes completed moves in reverse order.
func (l *custodyLog) reverse(ctx context.Context) error {
	for i := len(l.moves) - 1; i >= 0; i-- {
		mv := l.moves[i]
		var err error
		switch mv.kind {
		case 0:
			err = l.c.TransferOut(ctx, mv.user, mv.asset, mv.amount)
		case 1:
			err = l.c.TransferIn(ctx, mv.user, mv.asset, mv.amount)
		case 2:
			err = l.c.Burn(ctx, mv.user, mv.asset, mv.amount)
		case 3:
			err = l.c.Mint(ctx, mv.user, mv.asset, mv.amount)
		}
		if err != nil {
			return fmt.Errorf("engine: custody rollback failed: %w", err)
		}
	}
	return nil
}

// atomically runs op against a state snapshot; on error it restores the
// snapshot and reverses any custody moves the op completed.
func (m *Market) atomically(ctx context.Context, op func(*custodyLog) error) error {
	snap := m.snapshot()
	log := &custodyLog{c: m.custody}
	if err := op(log); err != nil {
		m.restore(snap)
		if rbErr := log.reverse(ctx); rbErr != nil {
			return fmt.Errorf("%w (%v)", err, rbErr)
		}
		return err
	}
	return nil
}
