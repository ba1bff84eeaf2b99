// Package quote derives decimal price analytics from the integer order
// book: best bid/ask, mid, spread, implied probability, and depth
// notionals.
//
// The matching engine settles in unsigned integer units; everything here
// is presentation-layer math and uses shopspring/decimal — never float64
// for money.
package quote

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/stanx/market-engine/internal/book"
	"github.com/stanx/market-engine/internal/model"
)

var (
	// ErrInvalidPayout is returned when the per-token payout is zero.
	ErrInvalidPayout = errors.New("quote: payout per token must be positive")

	// MinProbability is the implied-probability floor. Prevents quoting a
	// market as impossible while orders still rest on it.
	MinProbability = decimal.NewFromFloat(0.001)

	// MaxProbability is the implied-probability ceiling.
	MaxProbability = decimal.NewFromFloat(0.999)

	// ProbScale is the number of decimal places for probability rounding.
	ProbScale int32 = 8

	half = decimal.NewFromFloat(0.5)
)

// Quoter converts integer book prices into probabilities and notionals.
// It is stateless; book state is passed per call.
type Quoter struct {
	payout decimal.Decimal // collateral units a winning token redeems for
}

// NewQuoter creates a quoter for a market whose winning tokens redeem for
// payoutPerToken collateral units. A price equal to the payout implies
// certainty.
func NewQuoter(payoutPerToken uint64) (*Quoter, error) {
	if payoutPerToken == 0 {
		return nil, ErrInvalidPayout
	}
	return &Quoter{payout: decimal.NewFromUint64(payoutPerToken)}, nil
}

// Payout returns the per-token redemption value.
func (q *Quoter) Payout() decimal.Decimal {
	return q.payout
}

// Summary is a point-in-time view of one outcome's two queues.
type Summary struct {
	Outcome            model.Outcome   `json:"outcome"`
	BestBid            uint64          `json:"best_bid"` // zero when HasBid is false
	BestAsk            uint64          `json:"best_ask"` // zero when HasAsk is false
	HasBid             bool            `json:"has_bid"`
	HasAsk             bool            `json:"has_ask"`
	Mid                decimal.Decimal `json:"mid"`
	Spread             decimal.Decimal `json:"spread"`
	ImpliedProbability decimal.Decimal `json:"implied_probability"`
	BidDepth           uint64          `json:"bid_depth"` // unfilled tokens across the buy queue
	AskDepth           uint64          `json:"ask_depth"`
	BidNotional        decimal.Decimal `json:"bid_notional"` // Σ remaining * price
	AskNotional        decimal.Decimal `json:"ask_notional"`
}

// Summarize computes the analytics for one outcome of a book.
// An empty book quotes an implied probability of 0.5.
func (q *Quoter) Summarize(b *book.Book, outcome model.Outcome) Summary {
	s := Summary{Outcome: outcome}

	if best := b.Best(outcome, model.SideBuy); best != nil {
		s.BestBid = best.Price
		s.HasBid = true
	}
	if best := b.Best(outcome, model.SideSell); best != nil {
		s.BestAsk = best.Price
		s.HasAsk = true
	}

	s.BidDepth, s.BidNotional = q.depth(b, outcome, model.SideBuy)
	s.AskDepth, s.AskNotional = q.depth(b, outcome, model.SideSell)

	bid := decimal.NewFromUint64(s.BestBid)
	ask := decimal.NewFromUint64(s.BestAsk)
	switch {
	case s.HasBid && s.HasAsk:
		s.Mid = bid.Add(ask).DivRound(decimal.NewFromInt(2), ProbScale)
		s.Spread = ask.Sub(bid)
	case s.HasBid:
		s.Mid = bid
	case s.HasAsk:
		s.Mid = ask
	}

	s.ImpliedProbability = q.impliedProbability(s)
	return s
}

func (q *Quoter) depth(b *book.Book, outcome model.Outcome, side model.Side) (uint64, decimal.Decimal) {
	var tokens uint64
	notional := decimal.Zero
	for _, o := range b.Orders(outcome, side) {
		rem := o.Remaining()
		tokens += rem
		notional = notional.Add(
			decimal.NewFromUint64(rem).Mul(decimal.NewFromUint64(o.Price)))
	}
	return tokens, notional
}

func (q *Quoter) impliedProbability(s Summary) decimal.Decimal {
	if !s.HasBid && !s.HasAsk {
		return half
	}
	return clampProbability(s.Mid.DivRound(q.payout, ProbScale))
}

// MarkValue prices a token holding at the given probability:
// tokens * probability * payout.
func (q *Quoter) MarkValue(tokens uint64, probability decimal.Decimal) decimal.Decimal {
	return decimal.NewFromUint64(tokens).Mul(probability).Mul(q.payout).Round(ProbScale)
}

func clampProbability(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(MinProbability) {
		return MinProbability
	}
	if p.GreaterThan(MaxProbability) {
		return MaxProbability
	}
	return p
}
