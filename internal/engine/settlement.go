package engine

import (
	"context"
	"time"

	"github.com/stanx/market-engine/internal/model"
)

// SplitTokens deposits amount collateral into escrow and mints amount YES
// plus amount NO tokens into the user's wallet. A minted pair is always
// fully backed: TotalCollateralLocked grows by the deposit.
func (m *Market) SplitTokens(ctx context.Context, user string, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if err := m.guardOpen(); err != nil {
		return err
	}

	return m.atomically(ctx, func(log *custodyLog) error {
		m.ledgers.getOrCreate(user)

		if err := log.transferIn(ctx, user, model.AssetCollateral, amount); err != nil {
			return err
		}
		if err := log.mint(ctx, user, model.AssetYes, amount); err != nil {
			return err
		}
		if err := log.mint(ctx, user, model.AssetNo, amount); err != nil {
			return err
		}

		var err error
		m.cfg.TotalCollateralLocked, err = addU64(m.cfg.TotalCollateralLocked, amount)
		return err
	})
}

// MergeTokens burns amount YES plus amount NO from the user's wallet and
// returns amount collateral. The inverse of SplitTokens.
func (m *Market) MergeTokens(ctx context.Context, user string, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if err := m.guardOpen(); err != nil {
		return err
	}

	return m.atomically(ctx, func(log *custodyLog) error {
		for _, asset := range []model.Asset{model.AssetYes, model.AssetNo} {
			bal, err := m.custody.Balance(ctx, user, asset)
			if err != nil {
				return err
			}
			if bal < amount {
				return ErrNotEnoughBalance
			}
		}

		if err := log.burn(ctx, user, model.AssetYes, amount); err != nil {
			return err
		}
		if err := log.burn(ctx, user, model.AssetNo, amount); err != nil {
			return err
		}
		if err := log.transferOut(ctx, user, model.AssetCollateral, amount); err != nil {
			return err
		}

		var err error
		m.cfg.TotalCollateralLocked, err = subU64(m.cfg.TotalCollateralLocked, amount)
		return err
	})
}

// ClaimAmounts reports what a ClaimFunds call paid out.
type ClaimAmounts struct {
	Collateral uint64 `json:"collateral"`
	Yes        uint64 `json:"yes"`
	No         uint64 `json:"no"`
}

// ClaimFunds moves every claimable balance on the user's ledger entry back
// to their wallet. Usable at any point in the market's life, settled or not.
func (m *Market) ClaimFunds(ctx context.Context, user string) (*ClaimAmounts, error) {
	entry, ok := m.ledgers.Lookup(user)
	if !ok {
		return nil, ErrNothingToClaim
	}
	if entry.ClaimableCollateral == 0 && entry.ClaimableYes == 0 && entry.ClaimableNo == 0 {
		return nil, ErrNothingToClaim
	}

	claimed := &ClaimAmounts{
		Collateral: entry.ClaimableCollateral,
		Yes:        entry.ClaimableYes,
		No:         entry.ClaimableNo,
	}
	err := m.atomically(ctx, func(log *custodyLog) error {
		if claimed.Collateral > 0 {
			if err := log.transferOut(ctx, user, model.AssetCollateral, claimed.Collateral); err != nil {
				return err
			}
			entry.ClaimableCollateral = 0
		}
		if claimed.Yes > 0 {
			if err := log.transferOut(ctx, user, model.AssetYes, claimed.Yes); err != nil {
				return err
			}
			entry.ClaimableYes = 0
		}
		if claimed.No > 0 {
			if err := log.transferOut(ctx, user, model.AssetNo, claimed.No); err != nil {
				return err
			}
			entry.ClaimableNo = 0
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// SetWinner settles the market: records the winning outcome and flips the
// settled flag. Authority-only, once, and only after the settlement
// deadline has passed.
func (m *Market) SetWinner(ctx context.Context, authority string, winner model.WinningOutcome) error {
	if authority != m.cfg.Authority {
		return ErrNotAuthorized
	}
	switch winner {
	case model.WinnerYes, model.WinnerNo, model.WinnerNeither:
	default:
		return ErrInvalidWinningOutcome
	}
	if m.cfg.Settled {
		return ErrMarketAlreadySettled
	}
	if time.Now().Before(m.cfg.SettlementDeadline) {
		return ErrSettlementDeadlineNotReached
	}

	m.cfg.Settled = true
	m.cfg.Winner = winner
	return nil
}

// ClaimRewards burns the user's entire wallet balance of the winning
// outcome token and pays out collateral 1:1. One claim per user; when the
// market settled as Neither there is nothing to redeem.
func (m *Market) ClaimRewards(ctx context.Context, user string) (uint64, error) {
	if !m.cfg.Settled {
		return 0, ErrMarketNotSettled
	}
	switch m.cfg.Winner {
	case model.WinnerYes, model.WinnerNo:
	case model.WinnerNeither:
		return 0, ErrNothingToClaim
	default:
		return 0, ErrWinningOutcomeNotSet
	}

	entry := m.ledgers.getOrCreate(user)
	if entry.RewardClaimed {
		return 0, ErrRewardAlreadyClaimed
	}

	winnerAsset := model.AssetYes
	if m.cfg.Winner == model.WinnerNo {
		winnerAsset = model.AssetNo
	}

	amount, err := m.custody.Balance(ctx, user, winnerAsset)
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, ErrNothingToClaim
	}

	err = m.atomically(ctx, func(log *custodyLog) error {
		if err := log.burn(ctx, user, winnerAsset, amount); err != nil {
			return err
		}
		if err := log.transferOut(ctx, user, model.AssetCollateral, amount); err != nil {
			return err
		}
		var err error
		if m.cfg.TotalCollateralLocked, err = subU64(m.cfg.TotalCollateralLocked, amount); err != nil {
			return err
		}
		entry.RewardClaimed = true
		return nil
	})
	if err != nil {
		return 0, err
	}
	return amount, nil
}

// CloseMarket retires a fully drained market. Every unit of collateral must
// have been claimed and every resting order cancelled or filled first.
func (m *Market) CloseMarket(ctx context.Context, authority string) error {
	if authority != m.cfg.Authority {
		return ErrNotAuthorized
	}
	if !m.cfg.Settled {
		return ErrMarketNotSettled
	}
	if m.cfg.TotalCollateralLocked != 0 {
		return ErrCollateralNotFullyClaimed
	}
	if !m.book.Empty() {
		return ErrOrdersStillPending
	}
	return nil
}

// UpdateMetadata replaces the market's metadata URL.
func (m *Market) UpdateMetadata(ctx context.Context, authority, url string) error {
	if authority != m.cfg.Authority {
		return ErrNotAuthorized
	}
	if len(url) > MaxMetadataLen {
		return ErrInvalidMetadata
	}
	m.cfg.MetadataURL = url
	return nil
}
