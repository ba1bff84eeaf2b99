package book_test

import (
	"testing"

	"github.com/stanx/market-engine/internal/book"
	"github.com/stanx/market-engine/internal/model"
)

func buyAt(id, price uint64) model.Order {
	return model.Order{
		ID:       id,
		User:     "user1",
		Side:     model.SideBuy,
		Outcome:  model.OutcomeYes,
		Price:    price,
		Quantity: 10,
	}
}

func sellAt(id, price uint64) model.Order {
	o := buyAt(id, price)
	o.Side = model.SideSell
	return o
}

func queuePrices(b *book.Book, outcome model.Outcome, side model.Side) []uint64 {
	orders := b.Orders(outcome, side)
	prices := make([]uint64, len(orders))
	for i, o := range orders {
		prices[i] = o.Price
	}
	return prices
}

func TestInsert_BuyDescending(t *testing.T) {
	b := book.New()
	b.Insert(buyAt(1, 10))
	b.Insert(buyAt(2, 12))
	b.Insert(buyAt(3, 11))

	got := queuePrices(b, model.OutcomeYes, model.SideBuy)
	want := []uint64{12, 11, 10}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("buy queue order = %v, want %v", got, want)
		}
	}
}

func TestInsert_SellAscending(t *testing.T) {
	b := book.New()
	b.Insert(sellAt(1, 10))
	b.Insert(sellAt(2, 7))
	b.Insert(sellAt(3, 9))

	got := queuePrices(b, model.OutcomeYes, model.SideSell)
	want := []uint64{7, 9, 10}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sell queue order = %v, want %v", got, want)
		}
	}
}

func TestInsert_EqualPricesPreserveInsertionOrder(t *testing.T) {
	// Buys at [10, 12, 12] must rest as [12(first), 12(second), 10].
	b := book.New()
	b.Insert(buyAt(1, 10))
	b.Insert(buyAt(2, 12))
	b.Insert(buyAt(3, 12))

	orders := b.Orders(model.OutcomeYes, model.SideBuy)
	wantIDs := []uint64{2, 3, 1}
	for i := range wantIDs {
		if orders[i].ID != wantIDs[i] {
			t.Fatalf("queue ids = %v, want %v",
				[]uint64{orders[0].ID, orders[1].ID, orders[2].ID}, wantIDs)
		}
	}
}

func TestInsert_TieOrderSurvivesRemoval(t *testing.T) {
	b := book.New()
	b.Insert(buyAt(1, 12))
	b.Insert(buyAt(2, 12))
	if _, err := b.RemoveByID(1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	b.Insert(buyAt(3, 12))

	orders := b.Orders(model.OutcomeYes, model.SideBuy)
	if orders[0].ID != 2 || orders[1].ID != 3 {
		t.Fatalf("expected [2 3], got [%d %d]", orders[0].ID, orders[1].ID)
	}
}

func TestBest(t *testing.T) {
	b := book.New()
	if best := b.Best(model.OutcomeYes, model.SideSell); best != nil {
		t.Fatalf("expected nil best on empty queue, got %+v", best)
	}

	b.Insert(sellAt(1, 9))
	b.Insert(sellAt(2, 5))

	best := b.Best(model.OutcomeYes, model.SideSell)
	if best == nil || best.Price != 5 {
		t.Fatalf("best ask should be 5, got %+v", best)
	}
}

func TestRemoveByID_NotFound(t *testing.T) {
	b := book.New()
	b.Insert(buyAt(1, 10))

	if _, err := b.RemoveByID(99); err != book.ErrOrderNotFound {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestRemoveByID_ScansAllQueues(t *testing.T) {
	b := book.New()
	no := buyAt(7, 10)
	no.Outcome = model.OutcomeNo
	no.Side = model.SideSell
	b.Insert(no)

	got, err := b.RemoveByID(7)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got.Outcome != model.OutcomeNo || got.Side != model.SideSell {
		t.Fatalf("removed wrong order: %+v", got)
	}
	if !b.Empty() {
		t.Error("book should be empty after removal")
	}
}

func TestIsFull(t *testing.T) {
	b := book.New()
	for i := 0; i < book.MaxOrdersPerSide; i++ {
		b.Insert(buyAt(uint64(i+1), uint64(i+1)))
	}
	if !b.IsFull(model.OutcomeYes, model.SideBuy) {
		t.Error("queue with MaxOrdersPerSide entries should be full")
	}
	if b.IsFull(model.OutcomeYes, model.SideSell) {
		t.Error("other queues should be unaffected")
	}
	if b.Len(model.OutcomeYes, model.SideBuy) != book.MaxOrdersPerSide {
		t.Errorf("len = %d, want %d",
			b.Len(model.OutcomeYes, model.SideBuy), book.MaxOrdersPerSide)
	}
}

func TestQueuesAreIndependent(t *testing.T) {
	b := book.New()
	b.Insert(buyAt(1, 10))
	yesSell := sellAt(2, 20)
	b.Insert(yesSell)
	noBuy := buyAt(3, 30)
	noBuy.Outcome = model.OutcomeNo
	b.Insert(noBuy)

	if b.Len(model.OutcomeYes, model.SideBuy) != 1 ||
		b.Len(model.OutcomeYes, model.SideSell) != 1 ||
		b.Len(model.OutcomeNo, model.SideBuy) != 1 ||
		b.Len(model.OutcomeNo, model.SideSell) != 0 {
		t.Error("orders landed on the wrong queues")
	}
	if b.TotalOrders() != 3 {
		t.Errorf("total orders = %d, want 3", b.TotalOrders())
	}
}

func TestClone_Isolated(t *testing.T) {
	b := book.New()
	b.Insert(buyAt(1, 10))

	c := b.Clone()
	c.Insert(buyAt(2, 11))

	if b.Len(model.OutcomeYes, model.SideBuy) != 1 {
		t.Error("mutating the clone should not affect the original")
	}
	if c.Len(model.OutcomeYes, model.SideBuy) != 2 {
		t.Error("clone should carry its own state")
	}

	// Tie priority must survive cloning.
	c2 := b.Clone()
	c2.Insert(buyAt(3, 10))
	orders := c2.Orders(model.OutcomeYes, model.SideBuy)
	if orders[0].ID != 1 || orders[1].ID != 3 {
		t.Fatalf("clone lost insertion sequencing: [%d %d]", orders[0].ID, orders[1].ID)
	}
}
