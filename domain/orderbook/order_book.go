package orderbook

import (
	"cmp"
	"context"
	"math"
	"slices"

	"github.com/pkg/errors"
)

// DefaultMaxOrders caps the live-order collection when no explicit capacity is given.
const DefaultMaxOrders = 1024

// OrderBook is single-writer and deterministic.
//
// The caller owns exclusive access for the full duration of every mutating
// call; nothing in here locks.
type OrderBook struct {
	authority Identity
	nextID    OrderID
	maxOrders int
	orders    map[OrderID]*Order
}

func NewOrderBook(authority Identity, maxOrders int) (*OrderBook, error) {
	if err := CheckIdentity(authority); err != nil {
		return nil, err
	}
	if maxOrders <= 0 {
		maxOrders = DefaultMaxOrders
	}
	return &OrderBook{
		authority: authority,
		maxOrders: maxOrders,
		orders:    make(map[OrderID]*Order),
	}, nil
}

// Restore rebuilds a book from persisted state and rejects anything that
// breaks the book invariants.
func Restore(authority Identity, nextID OrderID, maxOrders int, orders []Order) (*OrderBook, error) {
	b, err := NewOrderBook(authority, maxOrders)
	if err != nil {
		return nil, err
	}
	if len(orders) > b.maxOrders {
		return nil, errors.Wrapf(ErrCorruptBook, "%d orders exceed capacity %d", len(orders), b.maxOrders)
	}
	b.nextID = nextID
	for i := range orders {
		o := orders[i]
		if err := b.checkRestored(&o); err != nil {
			return nil, err
		}
		b.orders[o.ID] = &o
	}
	return b, nil
}

func (b *OrderBook) checkRestored(o *Order) error {
	switch {
	case o.ID >= b.nextID:
		return errors.Wrapf(ErrCorruptBook, "order %d not below next id %d", o.ID, b.nextID)
	case b.orders[o.ID] != nil:
		return errors.Wrapf(ErrCorruptBook, "duplicate order %d", o.ID)
	case o.Fulfilled > o.Amount:
		return errors.Wrapf(ErrCorruptBook, "order %d fulfilled %d > amount %d", o.ID, o.Fulfilled, o.Amount)
	case !o.Side.Valid() || o.Amount == 0 || o.Price == 0:
		return errors.Wrapf(ErrCorruptBook, "order %d has invalid parameters", o.ID)
	case CheckIdentity(o.Owner) != nil:
		return errors.Wrapf(ErrCorruptBook, "order %d has invalid owner %q", o.ID, o.Owner)
	}
	return nil
}

// Validate re-checks the id and fill invariants on the live book.
func (b *OrderBook) Validate() error {
	seen := make(map[OrderID]struct{}, len(b.orders))
	for id, o := range b.orders {
		if id != o.ID {
			return errors.Wrapf(ErrCorruptBook, "order %d stored under id %d", o.ID, id)
		}
		if o.ID >= b.nextID {
			return errors.Wrapf(ErrCorruptBook, "order %d not below next id %d", o.ID, b.nextID)
		}
		if _, dup := seen[o.ID]; dup {
			return errors.Wrapf(ErrCorruptBook, "duplicate order %d", o.ID)
		}
		seen[o.ID] = struct{}{}
		if o.Fulfilled > o.Amount {
			return errors.Wrapf(ErrCorruptBook, "order %d overfilled", o.ID)
		}
	}
	if len(b.orders) > b.maxOrders {
		return errors.Wrapf(ErrCorruptBook, "%d orders exceed capacity %d", len(b.orders), b.maxOrders)
	}
	return nil
}

// ---- accessors ----

func (b *OrderBook) Authority() Identity { return b.authority }
func (b *OrderBook) NextID() OrderID     { return b.nextID }
func (b *OrderBook) MaxOrders() int      { return b.maxOrders }
func (b *OrderBook) Len() int            { return len(b.orders) }

// Order returns a copy of the live order with the given id.
func (b *OrderBook) Order(id OrderID) (Order, bool) {
	o, ok := b.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// Orders returns copies of all live orders in ascending id order.
func (b *OrderBook) Orders() []Order {
	out := make([]Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, *o)
	}
	slices.SortFunc(out, func(a, b Order) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// ---- admission ----

// Place validates a new order, escrows its collateral and inserts it.
// Nothing is inserted and no id is consumed unless the escrow leg succeeds.
func (b *OrderBook) Place(
	ctx context.Context,
	caller Identity,
	side Side,
	amount uint64,
	price uint64,
	escrow Escrow,
) (OrderID, error) {
	if err := CheckIdentity(caller); err != nil {
		return 0, err
	}
	if !side.Valid() || amount == 0 || price == 0 {
		return 0, errors.Wrapf(ErrInvalidOrderParameters, "side=%s amount=%d price=%d", side, amount, price)
	}
	if len(b.orders) >= b.maxOrders {
		return 0, errors.Wrapf(ErrCapacityExceeded, "%d live orders", len(b.orders))
	}
	if b.nextID == math.MaxUint64 {
		return 0, errors.Wrap(ErrArithmeticOverflow, "order id space exhausted")
	}

	asset := side.Asset()
	leg := Transfer{
		From:   Account{Owner: caller, Asset: asset},
		To:     CustodyAccount(asset),
		Amount: amount,
	}
	if err := escrow.Transfer(ctx, leg); err != nil {
		return 0, transferFailed(err, "escrow %d %s from %s", amount, asset, caller)
	}

	id := b.nextID
	b.nextID++
	b.orders[id] = &Order{
		ID:     id,
		Owner:  caller,
		Side:   side,
		Amount: amount,
		Price:  price,
	}
	return id, nil
}

// ---- cancellation ----

// Cancel refunds the unfilled part of a caller-owned order and retires it.
// If the refund fails the order stays in the book untouched.
func (b *OrderBook) Cancel(ctx context.Context, caller Identity, id OrderID, escrow Escrow) (Order, error) {
	o, ok := b.orders[id]
	if !ok || o.Owner != caller {
		return Order{}, errors.Wrapf(ErrOrderNotFound, "order %d", id)
	}

	if rem := o.Remaining(); rem > 0 {
		asset := o.Side.Asset()
		leg := Transfer{
			From:   CustodyAccount(asset),
			To:     Account{Owner: o.Owner, Asset: asset},
			Amount: rem,
		}
		if err := escrow.Transfer(ctx, leg); err != nil {
			return Order{}, transferFailed(err, "refund %d %s to %s", rem, asset, o.Owner)
		}
	}

	delete(b.orders, id)
	return *o, nil
}

