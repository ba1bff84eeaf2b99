package engine

import (
	"context"

	"github.com/stanx/market-engine/internal/model"
)

// MarketResult reports the outcome of a market-order execution.
//
// For a buy, Spent is collateral consumed and Received is tokens bought;
// for a sell, Spent is tokens sold and Received is collateral collected.
// Returned is the untouched part of the stated amount, already back in the
// requester's wallet.
type MarketResult struct {
	Fills    []Fill `json:"fills"`
	Spent    uint64 `json:"spent"`
	Received uint64 `json:"received"`
	Returned uint64 `json:"returned"`
	Matched  uint64 `json:"matched"` // trade steps consumed
}

// PlaceMarketOrder executes an immediate order for a total amount —
// collateral to spend for a buy, token quantity to sell for a sell — at any
// resting price, bounded by maxIterations. Market orders never rest:
// whatever the walk could not consume is returned to the wallet, and the
// matched proceeds are paid out directly rather than becoming claimable.
func (m *Market) PlaceMarketOrder(ctx context.Context, user string, side model.Side, outcome model.Outcome, amount, maxIterations uint64) (*MarketResult, error) {
	if err := m.guardOpen(); err != nil {
		return nil, err
	}
	if maxIterations == 0 {
		return nil, ErrInvalidIterationLimit
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	var res *MarketResult
	err := m.atomically(ctx, func(log *custodyLog) error {
		var err error
		res, err = m.placeMarket(ctx, log, user, side, outcome, amount, maxIterations)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (m *Market) placeMarket(ctx context.Context, log *custodyLog, user string, side model.Side, outcome model.Outcome, amount, maxIterations uint64) (*MarketResult, error) {
	entry := m.ledgers.getOrCreate(user)

	// Reserve the full stated amount as an upper bound, exactly like a
	// limit placement; the unmatched part is unwound at the end.
	var err error
	if side == model.SideBuy {
		if err = log.transferIn(ctx, user, model.AssetCollateral, amount); err != nil {
			return nil, err
		}
		if entry.LockedCollateral, err = addU64(entry.LockedCollateral, amount); err != nil {
			return nil, err
		}
		if m.cfg.TotalCollateralLocked, err = addU64(m.cfg.TotalCollateralLocked, amount); err != nil {
			return nil, err
		}
	} else {
		if err = log.transferIn(ctx, user, model.OutcomeAsset(outcome), amount); err != nil {
			return nil, err
		}
		locked := lockedOutcome(entry, outcome)
		if *locked, err = addU64(*locked, amount); err != nil {
			return nil, err
		}
	}

	res := &MarketResult{}
	oppSide := opposite(side)
	idx := 0
	remaining := amount
	var fulfilled uint64 // tokens for a buy, collateral for a sell

	for idx < m.book.Len(outcome, oppSide) && res.Matched < maxIterations && remaining > 0 {
		resting := m.book.At(outcome, oppSide, idx)

		if resting.Remaining() == 0 {
			m.book.RemoveAt(outcome, oppSide, idx)
			continue
		}

		if resting.User == user {
			idx++
			continue
		}

		var fill uint64
		if side == model.SideBuy {
			// Tokens affordable with the remaining collateral at this
			// resting price.
			affordable := remaining / resting.Price
			fill = affordable
			if resting.Remaining() < fill {
				fill = resting.Remaining()
			}
			if fill == 0 {
				// Cannot afford a single token at the best remaining
				// price; later prices are no better.
				break
			}
		} else {
			fill = remaining
			if resting.Remaining() < fill {
				fill = resting.Remaining()
			}
		}

		tradeValue, err := mulU64(fill, resting.Price)
		if err != nil {
			return nil, err
		}

		maker, ok := m.ledgers.Lookup(resting.User)
		if !ok {
			return nil, ErrCounterpartyLedgerMissing
		}

		if side == model.SideBuy {
			if remaining, err = subU64(remaining, tradeValue); err != nil {
				return nil, err
			}
			if fulfilled, err = addU64(fulfilled, fill); err != nil {
				return nil, err
			}

			if maker.ClaimableCollateral, err = addU64(maker.ClaimableCollateral, tradeValue); err != nil {
				return nil, err
			}
			makerLocked := lockedOutcome(maker, outcome)
			if *makerLocked, err = subU64(*makerLocked, fill); err != nil {
				return nil, err
			}
		} else {
			if remaining, err = subU64(remaining, fill); err != nil {
				return nil, err
			}
			if fulfilled, err = addU64(fulfilled, tradeValue); err != nil {
				return nil, err
			}

			makerClaimable := claimableOutcome(maker, outcome)
			if *makerClaimable, err = addU64(*makerClaimable, fill); err != nil {
				return nil, err
			}
			if maker.LockedCollateral, err = subU64(maker.LockedCollateral, tradeValue); err != nil {
				return nil, err
			}
		}

		if resting.Filled, err = addU64(resting.Filled, fill); err != nil {
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
		res.Matched++
	}

	// Unwind the reservation: the matched part is released permanently,
	// the untouched remainder goes straight back to the wallet.
	if side == model.SideBuy {
		if fulfilled > 0 {
			if err = log.transferOut(ctx, user, model.OutcomeAsset(outcome), fulfilled); err != nil {
				return nil, err
			}
		}

		spent, err := subU64(amount, remaining)
		if err != nil {
			return nil, err
		}
		if entry.LockedCollateral, err = subU64(entry.LockedCollateral, spent); err != nil {
			return nil, err
		}
		if m.cfg.TotalCollateralLocked, err = subU64(m.cfg.TotalCollateralLocked, spent); err != nil {
			return nil, err
		}

		if remaining > 0 {
			if err = log.transferOut(ctx, user, model.AssetCollateral, remaining); err != nil {
				return nil, err
			}
			if entry.LockedCollateral, err = subU64(entry.LockedCollateral, remaining); err != nil {
				return nil, err
			}
			if m.cfg.TotalCollateralLocked, err = subU64(m.cfg.TotalCollateralLocked, remaining); err != nil {
				return nil, err
			}
		}

		res.Spent = spent
		res.Received = fulfilled
	} else {
		if fulfilled > 0 {
			if err = log.transferOut(ctx, user, model.AssetCollateral, fulfilled); err != nil {
				return nil, err
			}
			// The collateral paid to the seller leaves the vault now.
			if m.cfg.TotalCollateralLocked, err = subU64(m.cfg.TotalCollateralLocked, fulfilled); err != nil {
				return nil, err
			}
		}

		sold, err := subU64(amount, remaining)
		if err != nil {
			return nil, err
		}
		locked := lockedOutcome(entry, outcome)
		if *locked, err = subU64(*locked, sold); err != nil {
			return nil, err
		}

		if remaining > 0 {
			if err = log.transferOut(ctx, user, model.OutcomeAsset(outcome), remaining); err != nil {
				return nil, err
			}
			if *locked, err = subU64(*locked, remaining); err != nil {
				return nil, err
			}
		}

		res.Spent = sold
		res.Received = fulfilled
	}

	res.Returned = remaining
	return res, nil
}
