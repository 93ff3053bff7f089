package snapshot

import (
	"time"

	"dex/domain/orderbook"
)

const fileName = "snapshot.bin"

type Snapshot struct {
	Seq       uint64
	Created   time.Time
	Authority string
	NextID    uint64
	Orders    []OrderEntry
}

type OrderEntry struct {
	ID        uint64
	Owner     string
	Side      uint8
	Amount    uint64
	Price     uint64
	Fulfilled uint64
}

// Capture copies the live state of book. The caller must hold whatever lock
// serialises writes to book.
func Capture(seq uint64, book *orderbook.OrderBook) *Snapshot {
	orders := book.Orders()
	s := &Snapshot{
		Seq:       seq,
		Created:   time.Now().UTC(),
		Authority: string(book.Authority()),
		NextID:    book.NextID(),
		Orders:    make([]OrderEntry, 0, len(orders)),
	}
	for _, o := range orders {
		s.Orders = append(s.Orders, OrderEntry{
			ID:        o.ID,
			Owner:     string(o.Owner),
			Side:      uint8(o.Side),
			Amount:    o.Amount,
			Price:     o.Price,
			Fulfilled: o.Fulfilled,
		})
	}
	return s
}

// Book rebuilds an order book from the snapshot, checking every invariant.
func (s *Snapshot) Book(maxOrders int) (*orderbook.OrderBook, error) {
	orders := make([]orderbook.Order, 0, len(s.Orders))
	for _, e := range s.Orders {
		orders = append(orders, orderbook.Order{
			ID:        e.ID,
			Owner:     orderbook.Identity(e.Owner),
			Side:      orderbook.Side(e.Side),
			Amount:    e.Amount,
			Price:     e.Price,
			Fulfilled: e.Fulfilled,
		})
	}
	return orderbook.Restore(orderbook.Identity(s.Authority), s.NextID, maxOrders, orders)
}
