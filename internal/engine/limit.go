package engine

import (
	"context"
	"time"

	"github.com/stanx/market-engine/internal/model"
)

// Fill describes one trade step against a resting order.
type Fill struct {
	MakerOrderID uint64 `json:"maker_order_id"`
	Maker        string `json:"maker"`
	Price        uint64 `json:"price"` // execution price = maker's limit price
	Quantity     uint64 `json:"quantity"`
}

// PlaceResult reports the outcome of a limit-order placement.
type PlaceResult struct {
	Order     model.Order `json:"order"`
	Fills     []Fill      `json:"fills"`
	Rested    bool        `json:"rested"`    // remainder placed on the book
	Converted bool        `json:"converted"` // remainder IOC-converted to claimable
}

func lockedOutcome(e *model.LedgerEntry, o model.Outcome) *uint64 {
	if o == model.OutcomeYes {
		return &e.LockedYes
	}
	return &e.LockedNo
}

func claimableOutcome(e *model.LedgerEntry, o model.Outcome) *uint64 {
	if o == model.OutcomeYes {
		return &e.ClaimableYes
	}
	return &e.ClaimableNo
}

func opposite(s model.Side) model.Side {
	if s == model.SideBuy {
		return model.SideSell
	}
	return model.SideBuy
}

// PlaceLimitOrder reserves the requester's funds, matches against the
// opposite queue for at most maxIterations trade steps, and rests or
// IOC-converts any remainder.
//
// Sequence:
//  1. Reserve unconditionally: a sell locks quantity outcome tokens, a buy
//     locks quantity*price collateral, moved from the wallet into escrow.
//  2. Walk the opposite queue from the best price. Stop on price mismatch,
//     exhaustion, full fill, or the iteration cap. Self-trade entries are
//     skipped in place without charging an iteration.
//  3. Each fill executes at the resting order's price; a buyer's
//     price-improvement surplus is credited back as claimable collateral.
//  4. An unfilled remainder rests on the book, or converts straight to
//     claimable balance when the target queue is at capacity.
func (m *Market) PlaceLimitOrder(ctx context.Context, user string, side model.Side, outcome model.Outcome, price, quantity, maxIterations uint64) (*PlaceResult, error) {
	if err := m.guardOpen(); err != nil {
		return nil, err
	}
	if maxIterations == 0 {
		return nil, ErrInvalidIterationLimit
	}
	if quantity == 0 {
		return nil, ErrInvalidOrderQuantity
	}
	if price == 0 {
		return nil, ErrInvalidOrderPrice
	}

	var res *PlaceResult
	err := m.atomically(ctx, func(log *custodyLog) error {
		var err error
		res, err = m.placeLimit(ctx, log, user, side, outcome, price, quantity, maxIterations)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (m *Market) placeLimit(ctx context.Context, log *custodyLog, user string, side model.Side, outcome model.Outcome, price, quantity, maxIterations uint64) (*PlaceResult, error) {
	entry := m.ledgers.getOrCreate(user)

	amount, err := mulU64(quantity, price)
	if err != nil {
		return nil, err
	}

	// Step 1: reserve funds up front, independent of matching.
	if side == model.SideSell {
		if err := log.transferIn(ctx, user, model.OutcomeAsset(outcome), quantity); err != nil {
			return nil, err
		}
		locked := lockedOutcome(entry, outcome)
		if *locked, err = addU64(*locked, quantity); err != nil {
			return nil, err
		}
	} else {
		if err := log.transferIn(ctx, user, model.AssetCollateral, amount); err != nil {
			return nil, err
		}
		if entry.LockedCollateral, err = addU64(entry.LockedCollateral, amount); err != nil {
			return nil, err
		}
		if m.cfg.TotalCollateralLocked, err = addU64(m.cfg.TotalCollateralLocked, amount); err != nil {
			return nil, err
		}
	}

	order := model.Order{
		ID:       m.nextOrderID,
		MarketID: m.cfg.ID,
		User:     user,
		Side:     side,
		Outcome:  outcome,
		Price:    price,
		Quantity: quantity,
		PlacedAt: time.Now().UTC(),
	}
	if m.nextOrderID, err = addU64(m.nextOrderID, 1); err != nil {
		return nil, err
	}

	res := &PlaceResult{}

	// Step 2: walk the opposite queue.
	oppSide := opposite(side)
	idx := 0
	var iteration uint64

	for idx < m.book.Len(outcome, oppSide) && iteration < maxIterations {
		resting := m.book.At(outcome, oppSide, idx)

		// The queue is price-sorted; the first incompatible price ends
		// the walk for good.
		priceMatches := (side == model.SideBuy && order.Price >= resting.Price) ||
			(side == model.SideSell && order.Price <= resting.Price)
		if !priceMatches {
			break
		}

		// No self-trade: leave the order in place, uncharged.
		if resting.User == user {
			idx++
			continue
		}

		if order.Remaining() == 0 {
			break
		}

		// Defensive cleanup of zero-remainder entries, uncharged.
		if resting.Remaining() == 0 {
			m.book.RemoveAt(outcome, oppSide, idx)
			continue
		}

		fill := order.Remaining()
		if resting.Remaining() < fill {
			fill = resting.Remaining()
		}

		maker, ok := m.ledgers.Lookup(resting.User)
		if !ok {
			return nil, ErrCounterpartyLedgerMissing
		}

		// Step 3: settle at the resting order's price.
		tradeValue, err := mulU64(fill, resting.Price)
		if err != nil {
			return nil, err
		}

		if side == model.SideBuy {
			// What the buyer originally locked for this quantity, at
			// their own limit price.
			lockedAtOwnPrice, err := mulU64(fill, order.Price)
			if err != nil {
				return nil, err
			}
			surplus, err := subU64(lockedAtOwnPrice, tradeValue)
			if err != nil {
				return nil, err
			}

			claimable := claimableOutcome(entry, outcome)
			if *claimable, err = addU64(*claimable, fill); err != nil {
				return nil, err
			}
			if entry.LockedCollateral, err = subU64(entry.LockedCollateral, lockedAtOwnPrice); err != nil {
				return nil, err
			}
			if surplus > 0 {
				if entry.ClaimableCollateral, err = addU64(entry.ClaimableCollateral, surplus); err != nil {
					return nil, err
				}
				// The surplus no longer encumbers the vault.
				if m.cfg.TotalCollateralLocked, err = subU64(m.cfg.TotalCollateralLocked, surplus); err != nil {
					return nil, err
				}
			}

			if maker.ClaimableCollateral, err = addU64(maker.ClaimableCollateral, tradeValue); err != nil {
				return nil, err
			}
			makerLocked := lockedOutcome(maker, outcome)
			if *makerLocked, err = subU64(*makerLocked, fill); err != nil {
				return nil, err
			}
			if m.cfg.TotalCollateralLocked, err = subU64(m.cfg.TotalCollateralLocked, tradeValue); err != nil {
				return nil, err
			}
		} else {
			if entry.ClaimableCollateral, err = addU64(entry.ClaimableCollateral, tradeValue); err != nil {
				return nil, err
			}
			locked := lockedOutcome(entry, outcome)
			if *locked, err = subU64(*locked, fill); err != nil {
				return nil, err
			}

			makerClaimable := claimableOutcome(maker, outcome)
			if *makerClaimable, err = addU64(*makerClaimable, fill); err != nil {
				return nil, err
			}
			if maker.LockedCollateral, err = subU64(maker.LockedCollateral, tradeValue); err != nil {
				return nil, err
			}
			if m.cfg.TotalCollateralLocked, err = subU64(m.cfg.TotalCollateralLocked, tradeValue); err != nil {
				return nil, err
			}
		}

		if resting.Filled, err = addU64(resting.Filled, fill); err != nil {
			return nil, err
		}
		if order.Filled, err = addU64(order.Filled, fill); err != nil {
			return nil, err
		}

		res.Fills = append(res.Fills, Fill{
			MakerOrderID: resting.ID,
			Maker:        resting.User,
			Price:        resting.Price,
			Quantity:     fill,
		})

		if resting.Filled >= resting.Quantity {
			m.book.RemoveAt(outcome, oppSide, idx)
		} else {
			idx++
		}
		iteration++
	}

	// Step 4: rest or IOC-convert the remainder.
	if order.Filled < order.Quantity {
		unfilled := order.Remaining()

		if m.book.IsFull(outcome, side) {
			if side == model.SideBuy {
				unfilledCollateral, err := mulU64(unfilled, order.Price)
				if err != nil {
					return nil, err
				}
				if entry.LockedCollateral, err = subU64(entry.LockedCollateral, unfilledCollateral); err != nil {
					return nil, err
				}
				if entry.ClaimableCollateral, err = addU64(entry.ClaimableCollateral, unfilledCollateral); err != nil {
					return nil, err
				}
				if m.cfg.TotalCollateralLocked, err = subU64(m.cfg.TotalCollateralLocked, unfilledCollateral); err != nil {
					return nil, err
				}
			} else {
				locked := lockedOutcome(entry, outcome)
				if *locked, err = subU64(*locked, unfilled); err != nil {
					return nil, err
				}
				claimable := claimableOutcome(entry, outcome)
				if *claimable, err = addU64(*claimable, unfilled); err != nil {
					return nil, err
				}
			}
			res.Converted = true
		} else {
			m.book.Insert(order)
			res.Rested = true
		}
	}

	res.Order = order
	return res, nil
}
