package quote

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/stanx/market-engine/internal/book"
	"github.com/stanx/market-engine/internal/model"
)

func mustQuoter(t *testing.T, payout uint64) *Quoter {
	t.Helper()
	q, err := NewQuoter(payout)
	if err != nil {
		t.Fatalf("new quoter: %v", err)
	}
	return q
}

func order(id uint64, side model.Side, price, qty, filled uint64) model.Order {
	return model.Order{
		ID:       id,
		User:     "u",
		Side:     side,
		Outcome:  model.OutcomeYes,
		Price:    price,
		Quantity: qty,
		Filled:   filled,
	}
}

func TestNewQuoterRejectsZeroPayout(t *testing.T) {
	if _, err := NewQuoter(0); err != ErrInvalidPayout {
		t.Fatalf("err = %v, want ErrInvalidPayout", err)
	}
}

func TestSummarizeEmptyBook(t *testing.T) {
	q := mustQuoter(t, 100)
	s := q.Summarize(book.New(), model.OutcomeYes)

	if s.HasBid || s.HasAsk {
		t.Fatalf("empty book reports quotes: %+v", s)
	}
	if !s.ImpliedProbability.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("implied probability = %s, want 0.5", s.ImpliedProbability)
	}
}

func TestSummarizeTwoSided(t *testing.T) {
	q := mustQuoter(t, 100)
	b := book.New()
	b.Insert(order(1, model.SideBuy, 40, 10, 0))
	b.Insert(order(2, model.SideBuy, 35, 20, 5))
	b.Insert(order(3, model.SideSell, 50, 8, 0))

	s := q.Summarize(b, model.OutcomeYes)
	if s.BestBid != 40 || s.BestAsk != 50 {
		t.Fatalf("best bid/ask = %d/%d, want 40/50", s.BestBid, s.BestAsk)
	}
	if !s.Mid.Equal(decimal.NewFromInt(45)) {
		t.Errorf("mid = %s, want 45", s.Mid)
	}
	if !s.Spread.Equal(decimal.NewFromInt(10)) {
		t.Errorf("spread = %s, want 10", s.Spread)
	}
	if !s.ImpliedProbability.Equal(decimal.NewFromFloat(0.45)) {
		t.Errorf("implied probability = %s, want 0.45", s.ImpliedProbability)
	}
	// Depth counts only unfilled quantity.
	if s.BidDepth != 25 || s.AskDepth != 8 {
		t.Errorf("depth = %d/%d, want 25/8", s.BidDepth, s.AskDepth)
	}
	// 10*40 + 15*35 = 925 bid notional.
	if !s.BidNotional.Equal(decimal.NewFromInt(925)) {
		t.Errorf("bid notional = %s, want 925", s.BidNotional)
	}
	if !s.AskNotional.Equal(decimal.NewFromInt(400)) {
		t.Errorf("ask notional = %s, want 400", s.AskNotional)
	}
}

func TestSummarizeOneSided(t *testing.T) {
	q := mustQuoter(t, 100)
	b := book.New()
	b.Insert(order(1, model.SideSell, 70, 5, 0))

	s := q.Summarize(b, model.OutcomeYes)
	if s.HasBid || !s.HasAsk {
		t.Fatalf("want ask-only book, got %+v", s)
	}
	if !s.ImpliedProbability.Equal(decimal.NewFromFloat(0.7)) {
		t.Errorf("implied probability = %s, want 0.7", s.ImpliedProbability)
	}
}

func TestImpliedProbabilityClamped(t *testing.T) {
	q := mustQuoter(t, 100)
	b := book.New()
	// A bid far above the payout cannot imply more-than-certain.
	b.Insert(order(1, model.SideBuy, 5000, 1, 0))

	s := q.Summarize(b, model.OutcomeYes)
	if !s.ImpliedProbability.Equal(MaxProbability) {
		t.Errorf("implied probability = %s, want clamped to %s", s.ImpliedProbability, MaxProbability)
	}
}

func TestMarkValue(t *testing.T) {
	q := mustQuoter(t, 100)
	got := q.MarkValue(30, decimal.NewFromFloat(0.45))
	if !got.Equal(decimal.NewFromInt(1350)) {
		t.Errorf("mark value = %s, want 1350", got)
	}
}
