package engine

import (
	"context"

	"github.com/stanx/market-engine/internal/model"
)

// CancelOrder removes a resting order by id and releases the unfilled part
// of its reservation back to the owner's wallet. Only the order's owner may
// cancel it; a fully filled order is already gone from the book and cancels
// with ErrOrderNotFound.
func (m *Market) CancelOrder(ctx context.Context, user string, orderID uint64) (*model.Order, error) {
	if err := m.guardOpen(); err != nil {
		return nil, err
	}

	var cancelled *model.Order
	err := m.atomically(ctx, func(log *custodyLog) error {
		ord, err := m.book.RemoveByID(orderID)
		if err != nil {
			return ErrOrderNotFound
		}
		if ord.User != user {
			return ErrNotAuthorized
		}

		entry, ok := m.ledgers.Lookup(user)
		if !ok {
			return ErrCounterpartyLedgerMissing
		}

		unfilled := ord.Remaining()
		if ord.Side == model.SideBuy {
			refund, err := mulU64(unfilled, ord.Price)
			if err != nil {
				return err
			}
			if err = log.transferOut(ctx, user, model.AssetCollateral, refund); err != nil {
				return err
			}
			if entry.LockedCollateral, err = subU64(entry.LockedCollateral, refund); err != nil {
				return err
			}
			if m.cfg.TotalCollateralLocked, err = subU64(m.cfg.TotalCollateralLocked, refund); err != nil {
				return err
			}
		} else {
			if err = log.transferOut(ctx, user, model.OutcomeAsset(ord.Outcome), unfilled); err != nil {
				return err
			}
			locked := lockedOutcome(entry, ord.Outcome)
			if *locked, err = subU64(*locked, unfilled); err != nil {
				return err
			}
		}

		cancelled = &ord
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}
