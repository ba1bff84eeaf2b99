// Package book implements the per-market order book: four independent
// price/time-priority queues, one per (outcome, side) pair, each bounded
// by MaxOrdersPerSide resting orders.
//
// Buy queues are sorted descending by price (best bid first), sell queues
// ascending (best ask first). Equal prices keep insertion order, tracked
// by a per-book insertion sequence so ordering stays deterministic across
// removals and re-sorts.
package book

import (
	"errors"

	"github.com/stanx/market-engine/internal/model"
)

// MaxOrdersPerSide is the hard capacity of each of the four queues.
const MaxOrdersPerSide = 100

// growBatch is the backing-slice growth increment. Growth is purely a
// storage concern and never changes matching order.
const growBatch = 10

// ErrOrderNotFound is returned when an order id is not resting on any queue.
var ErrOrderNotFound = errors.New("book: order not found")

type entry struct {
	order model.Order
	seq   uint64 // insertion sequence, breaks price ties
}

// Book holds the four resting-order queues for one market.
type Book struct {
	queues  [2][2][]entry // [outcome][side]
	nextSeq uint64
}

// New creates an empty order book.
func New() *Book {
	return &Book{}
}

func (b *Book) queue(outcome model.Outcome, side model.Side) *[]entry {
	return &b.queues[outcome][side]
}

// Len returns the number of resting orders on one queue.
func (b *Book) Len(outcome model.Outcome, side model.Side) int {
	return len(*b.queue(outcome, side))
}

// IsFull reports whether the (outcome, side) queue is at capacity.
func (b *Book) IsFull(outcome model.Outcome, side model.Side) bool {
	return b.Len(outcome, side) >= MaxOrdersPerSide
}

// Insert places an order on its queue, maintaining price-time priority.
// Binary search finds the insertion point; among equal prices the new
// order goes last, preserving earlier orders' priority.
func (b *Book) Insert(o model.Order) {
	q := b.queue(o.Outcome, o.Side)
	e := entry{order: o, seq: b.nextSeq}
	b.nextSeq++

	lo, hi := 0, len(*q)
	for lo < hi {
		mid := (lo + hi) / 2
		if before(e, (*q)[mid], o.Side) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}

	if len(*q) == cap(*q) {
		grown := make([]entry, len(*q), grownCap(len(*q)+1))
		copy(grown, *q)
		*q = grown
	}
	*q = append(*q, entry{})
	copy((*q)[lo+1:], (*q)[lo:])
	(*q)[lo] = e
}

// before reports whether a has strictly higher priority than c.
func before(a, c entry, side model.Side) bool {
	if a.order.Price != c.order.Price {
		if side == model.SideBuy {
			return a.order.Price > c.order.Price
		}
		return a.order.Price < c.order.Price
	}
	return a.seq < c.seq
}

// grownCap rounds need up to the next growth batch, capped at the
// per-side ceiling.
func grownCap(need int) int {
	c := ((need-1)/growBatch + 1) * growBatch
	if c > MaxOrdersPerSide {
		c = MaxOrdersPerSide
	}
	if c < need {
		c = need
	}
	return c
}

// Best returns the highest-priority resting order on one queue, or nil
// when the queue is empty. The returned pointer stays valid until the
// next mutation of the book.
func (b *Book) Best(outcome model.Outcome, side model.Side) *model.Order {
	q := b.queue(outcome, side)
	if len(*q) == 0 {
		return nil
	}
	return &(*q)[0].order
}

// At returns the resting order at queue position i. Matching walks the
// queue by index so skipped (self-trade) entries stay in place.
func (b *Book) At(outcome model.Outcome, side model.Side, i int) *model.Order {
	q := b.queue(outcome, side)
	return &(*q)[i].order
}

// RemoveAt drops the order at queue position i and returns it.
func (b *Book) RemoveAt(outcome model.Outcome, side model.Side, i int) model.Order {
	q := b.queue(outcome, side)
	o := (*q)[i].order
	*q = append((*q)[:i], (*q)[i+1:]...)
	return o
}

// RemoveByID scans all four queues for the order id (ids are unique
// market-wide) and removes it. Returns ErrOrderNotFound if absent.
func (b *Book) RemoveByID(id uint64) (model.Order, error) {
	for _, outcome := range []model.Outcome{model.OutcomeYes, model.OutcomeNo} {
		for _, side := range []model.Side{model.SideBuy, model.SideSell} {
			q := b.queue(outcome, side)
			for i := range *q {
				if (*q)[i].order.ID == id {
					return b.RemoveAt(outcome, side, i), nil
				}
			}
		}
	}
	return model.Order{}, ErrOrderNotFound
}

// Orders returns a copy of one queue in priority order.
func (b *Book) Orders(outcome model.Outcome, side model.Side) []model.Order {
	q := b.queue(outcome, side)
	out := make([]model.Order, len(*q))
	for i := range *q {
		out[i] = (*q)[i].order
	}
	return out
}

// Empty reports whether no orders rest on any of the four queues.
func (b *Book) Empty() bool {
	for outcome := range b.queues {
		for side := range b.queues[outcome] {
			if len(b.queues[outcome][side]) > 0 {
				return false
			}
		}
	}
	return true
}

// TotalOrders returns the number of resting orders across all queues.
func (b *Book) TotalOrders() int {
	n := 0
	for outcome := range b.queues {
		for side := range b.queues[outcome] {
			n += len(b.queues[outcome][side])
		}
	}
	return n
}

// Clone deep-copies the book, including insertion sequencing, for
// snapshot/rollback.
func (b *Book) Clone() *Book {
	c := &Book{nextSeq: b.nextSeq}
	for outcome := range b.queues {
		for side := range b.queues[outcome] {
			src := b.queues[outcome][side]
			if len(src) == 0 {
				continue
			}
			dst := make([]entry, len(src), cap(src))
			copy(dst, src)
			c.queues[outcome][side] = dst
		}
	}
	return c
}
