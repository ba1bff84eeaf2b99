// Package correlation implements position limits that account for
// correlated markets.
//
// Several markets about the same subject (e.g. BTC above 90K, 100K and
// 110K by year end) resolve off the same underlying event. A user buying
// YES across all of them carries concentrated risk, so exposure is pooled
// per correlation key (category + subject, see contract.CorrelationKey)
// and limited in aggregate, on top of a per-market cap.
package correlation

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPerMarketLimitExceeded is returned when a trade would push a
	// single market's position beyond the per-market maximum.
	ErrPerMarketLimitExceeded = errors.New("correlation: per-market position limit exceeded")

	// ErrCorrelatedLimitExceeded is returned when a trade would push the
	// aggregate exposure across correlated markets beyond the pooled
	// maximum.
	ErrCorrelatedLimitExceeded = errors.New("correlation: correlated exposure limit exceeded")
)

// Exposure is a user's current net directional position in one market,
// keyed for pooling.
type Exposure struct {
	CorrelationKey string
	Net            decimal.Decimal // positive = net YES, negative = net NO
}

// PositionLimiter enforces per-market and pooled correlated limits.
type PositionLimiter struct {
	// MaxPerMarket is the maximum absolute net position in any single
	// market.
	MaxPerMarket decimal.Decimal

	// MaxCorrelated is the maximum aggregate absolute exposure across all
	// markets sharing one correlation key.
	MaxCorrelated decimal.Decimal
}

// NewPositionLimiter creates a limiter with the given per-market and
// pooled exposure limits.
func NewPositionLimiter(maxPerMarket, maxCorrelated decimal.Decimal) *PositionLimiter {
	return &PositionLimiter{
		MaxPerMarket:  maxPerMarket,
		MaxCorrelated: maxCorrelated,
	}
}

// CheckLimit validates whether a trade respects position limits.
//
// Parameters:
//   - targetMarket: the market being traded
//   - targetKey: that market's correlation key
//   - exposureDelta: signed change in exposure (+YES / -NO direction)
//   - existing: current net exposure per market for this user
//
// Returns nil if the trade is within limits.
func (l *PositionLimiter) CheckLimit(
	targetMarket, targetKey string,
	exposureDelta decimal.Decimal,
	existing map[string]Exposure,
) error {
	newPosition := existing[targetMarket].Net.Add(exposureDelta)
	if newPosition.Abs().GreaterThan(l.MaxPerMarket) {
		return ErrPerMarketLimitExceeded
	}

	// Pooled exposure: sum |net| across markets sharing the key.
	totalCorrelated := newPosition.Abs()
	for marketID, exp := range existing {
		if marketID == targetMarket {
			continue // already counted via newPosition above
		}
		if exp.CorrelationKey == targetKey {
			totalCorrelated = totalCorrelated.Add(exp.Net.Abs())
		}
	}

	if totalCorrelated.GreaterThan(l.MaxCorrelated) {
		return ErrCorrelatedLimitExceeded
	}
	return nil
}
