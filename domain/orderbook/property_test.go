package orderbook_test

import (
	"context"
	"testing"

	"dex/domain/orderbook"

	"pgregory.net/rapid"
)

var traders = []orderbook.Identity{alice, bob, carol}

const startBalance = 10_000

// bookModel drives random admit/cancel/match sequences and checks the book
// invariants after every step.
type bookModel struct {
	book    *orderbook.OrderBook
	escrow  *memEscrow
	issued  []orderbook.OrderID
	fills   map[orderbook.OrderID]uint64
	settled map[orderbook.Asset]uint64
}

func newBookModel(t *rapid.T) *bookModel {
	b, err := orderbook.NewOrderBook(authority, 64)
	if err != nil {
		t.Fatalf("new book: %v", err)
	}
	e := newMemEscrow()
	for _, tr := range traders {
		e.fund(tr, orderbook.Base, startBalance)
		e.fund(tr, orderbook.Quote, startBalance)
	}
	return &bookModel{
		book:    b,
		escrow:  e,
		fills:   make(map[orderbook.OrderID]uint64),
		settled: make(map[orderbook.Asset]uint64),
	}
}

func (m *bookModel) place(t *rapid.T) {
	owner := rapid.SampledFrom(traders).Draw(t, "owner")
	side := orderbook.Side(rapid.IntRange(0, 1).Draw(t, "side"))
	amount := rapid.Uint64Range(1, 500).Draw(t, "amount")
	price := rapid.Uint64Range(1, 20).Draw(t, "price")

	id, err := m.book.Place(context.Background(), owner, side, amount, price, m.escrow)
	if err != nil {
		return // insufficient funds or capacity
	}
	if len(m.issued) > 0 && id <= m.issued[len(m.issued)-1] {
		t.Fatalf("id %d not above previous %d", id, m.issued[len(m.issued)-1])
	}
	m.issued = append(m.issued, id)
}

func (m *bookModel) cancel(t *rapid.T) {
	live := m.book.Orders()
	if len(live) == 0 {
		return
	}
	o := rapid.SampledFrom(live).Draw(t, "order")
	caller := rapid.SampledFrom(traders).Draw(t, "caller")
	_, err := m.book.Cancel(context.Background(), caller, o.ID, m.escrow)
	if caller != o.Owner && err == nil {
		t.Fatalf("%s cancelled %s's order %d", caller, o.Owner, o.ID)
	}
	if caller != o.Owner {
		if after, ok := m.book.Order(o.ID); !ok || after != o {
			t.Fatalf("foreign cancel touched order %d", o.ID)
		}
	}
}

func (m *bookModel) match(t *rapid.T) {
	res, err := m.book.Match(context.Background(), authority, m.escrow)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	for _, f := range res.Fills {
		m.settled[orderbook.Quote] += f.Quantity
		m.settled[orderbook.Base] += f.Quantity
	}

	again, err := m.book.Match(context.Background(), authority, m.escrow)
	if err != nil {
		t.Fatalf("second match: %v", err)
	}
	if len(again.Fills) != 0 {
		t.Fatalf("second pass produced %d fills", len(again.Fills))
	}
}

func (m *bookModel) check(t *rapid.T) {
	if err := m.book.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	var locked [2]uint64
	for _, o := range m.book.Orders() {
		if o.Fulfilled > o.Amount {
			t.Fatalf("order %d overfilled", o.ID)
		}
		if prev := m.fills[o.ID]; o.Fulfilled < prev {
			t.Fatalf("order %d fulfilled went from %d to %d", o.ID, prev, o.Fulfilled)
		}
		m.fills[o.ID] = o.Fulfilled
		locked[o.Side.Asset()] += o.Remaining()
	}

	for _, asset := range []orderbook.Asset{orderbook.Base, orderbook.Quote} {
		custody := m.escrow.balance(orderbook.CustodyIdentity, asset)
		if custody != locked[asset] {
			t.Fatalf("%s custody %d != live remaining %d", asset, custody, locked[asset])
		}
		if total := m.escrow.total(asset); total != uint64(len(traders))*startBalance {
			t.Fatalf("%s total %d changed", asset, total)
		}
	}
}

func TestBookProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := newBookModel(t)
		t.Repeat(map[string]func(*rapid.T){
			"place":  m.place,
			"cancel": m.cancel,
			"match":  m.match,
			"":       m.check,
		})
	})
}
